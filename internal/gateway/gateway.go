// Package gateway is the REST client for the remote contact collection.
// Every failure it returns is classified (see internal/errors) so the sync
// queue can decide between retry, token refresh, back-off and rejection.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	cerrors "github.com/lendbridge/contactsync/internal/errors"
)

const defaultPageSize = 100

// Client talks to the remote collection.
type Client struct {
	http     *resty.Client
	tokens   TokenProvider
	limiter  *rate.Limiter
	schemas  *validator
	log      zerolog.Logger
	pageSize int
	debug    bool
}

// Option configures a Client.
type Option func(*Client) error

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) error {
		if d <= 0 {
			return fmt.Errorf("timeout must be positive")
		}
		c.http.SetTimeout(d)
		return nil
	}
}

// WithRateLimit paces outgoing requests with a token bucket.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) error {
		if rps <= 0 {
			c.limiter = nil
			return nil
		}
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) error {
		c.log = l.With().Str("component", "gateway").Logger()
		return nil
	}
}

// WithHTTPClient replaces the underlying transport, e.g. an httptest client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		if hc == nil {
			return fmt.Errorf("http client cannot be nil")
		}
		if hc.Transport != nil {
			c.http.SetTransport(hc.Transport)
		}
		if hc.Timeout > 0 {
			c.http.SetTimeout(hc.Timeout)
		}
		return nil
	}
}

// WithPageSize sets the page size used by GetMyContacts.
func WithPageSize(n int) Option {
	return func(c *Client) error {
		if n <= 0 {
			return fmt.Errorf("page size must be positive")
		}
		c.pageSize = n
		return nil
	}
}

// WithDebugLogging dumps HTTP traffic at debug level.
func WithDebugLogging(enabled bool) Option {
	return func(c *Client) error {
		c.debug = enabled
		return nil
	}
}

// New builds a client for baseURL. tokens supplies the bearer token for every request.
func New(baseURL string, tokens TokenProvider, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("baseURL cannot be empty")
	}
	if tokens == nil {
		return nil, fmt.Errorf("token provider cannot be nil")
	}
	schemas, err := newValidator()
	if err != nil {
		return nil, fmt.Errorf("compile payload schemas: %w", err)
	}

	c := &Client{
		http: resty.New().
			SetBaseURL(baseURL).
			SetHeader("Content-Type", "application/json").
			SetHeader("Accept", "application/json").
			SetTimeout(15 * time.Second),
		tokens:   tokens,
		schemas:  schemas,
		log:      zerolog.Nop(),
		pageSize: defaultPageSize,
		debug:    debugLoggingRequested(),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}

	if c.debug {
		base := c.http.GetClient().Transport
		if base == nil {
			base = http.DefaultTransport
		}
		c.http.SetTransport(&debugTransport{base: base, log: c.log})
	}
	c.http.OnBeforeRequest(func(_ *resty.Client, r *resty.Request) error {
		if c.limiter == nil {
			return nil
		}
		return c.limiter.Wait(r.Context())
	})
	return c, nil
}

// request prepares a request carrying the current bearer token.
func (c *Client) request(ctx context.Context, op string) (*resty.Request, error) {
	tok, err := c.tokens.Token(ctx)
	if err != nil {
		if !errors.Is(err, ErrNoToken) {
			err = errors.Join(ErrNoToken, err)
		}
		requestsTotal.WithLabelValues(op, "no_token").Inc()
		return nil, &cerrors.ClassifiedError{Category: cerrors.AuthExpired, Underlying: fmt.Errorf("%s: %w", op, err)}
	}
	return c.http.R().SetContext(ctx).SetAuthToken(tok), nil
}

// send executes req and decodes a JSON body into out when out is non-nil.
// Non-2xx answers come back as *errors.ClassifiedError.
func (c *Client) send(op string, req *resty.Request, method, path string, out any) error {
	resp, err := req.Execute(method, path)
	if err != nil {
		requestsTotal.WithLabelValues(op, "network").Inc()
		return cerrors.NewNetworkError(op, err)
	}
	if resp.IsError() {
		ce := cerrors.NewHTTPError(resp.StatusCode(), resp.String(), op).
			WithRetryAfter(resp.Header().Get("Retry-After"), time.Now())
		requestsTotal.WithLabelValues(op, ce.Category.String()).Inc()
		c.log.Debug().Str("operation", op).Int("status", resp.StatusCode()).Str("category", ce.Category.String()).Msg("remote call failed")
		return ce
	}
	requestsTotal.WithLabelValues(op, "ok").Inc()
	if out == nil || len(resp.Body()) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}

// Refresh asks the token provider for a new token. It is the sync queue's
// hook after a 401.
func (c *Client) Refresh(ctx context.Context) error {
	return c.tokens.Refresh(ctx)
}

// Ping checks that the remote answers and accepts our token.
func (c *Client) Ping(ctx context.Context) error {
	req, err := c.request(ctx, "ping")
	if err != nil {
		return err
	}
	return c.send("ping", req, http.MethodGet, "/healthz", nil)
}
