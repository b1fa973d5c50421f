// Package client is the engine's single entry point for the UI layer. A
// Client owns the repertoire, the invitation book, the device snapshot, the
// sync queue and the importer; every screen talks to one instance built at
// startup.
package client

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/lendbridge/contactsync/internal/config"
	"github.com/lendbridge/contactsync/internal/device"
	"github.com/lendbridge/contactsync/internal/gateway"
	"github.com/lendbridge/contactsync/internal/importer"
	"github.com/lendbridge/contactsync/internal/model"
	"github.com/lendbridge/contactsync/internal/phone"
	"github.com/lendbridge/contactsync/internal/repertoire"
	"github.com/lendbridge/contactsync/internal/stats"
	"github.com/lendbridge/contactsync/internal/store"
	"github.com/lendbridge/contactsync/internal/syncqueue"
)

// Remote is the remote contact collection as the engine uses it.
// *gateway.Client implements it.
type Remote interface {
	importer.Remote
	GetMyContacts(ctx context.Context) ([]model.ContactPayload, error)
	UpdateContact(ctx context.Context, id string, p model.ContactPayload) (model.ContactPayload, error)
	DeleteContact(ctx context.Context, id string) error
	CreateInvitation(ctx context.Context, p model.InvitationPayload) (model.InvitationPayload, error)
	UpdateInvitation(ctx context.Context, id string, p model.InvitationPayload) (model.InvitationPayload, error)
}

// --------------------------------------------------------------------
// Client core
// --------------------------------------------------------------------

type Client struct {
	remote     Remote
	tokens     gateway.TokenProvider
	log        zerolog.Logger
	store      store.Store
	ownsStore  bool
	source     device.Source
	normalizer phone.Normalizer
	policy     syncqueue.RetryPolicy
	importCfg  importer.Config
	now        func() time.Time

	rep      *repertoire.Repertoire
	inv      *repertoire.Invitations
	queue    *syncqueue.Queue
	importer *importer.Importer
	stats    *stats.Cache

	snapMu      sync.RWMutex
	snapshot    []model.Contact
	snapVersion uint64
	lastScan    time.Time

	// remote ids learned by the reconciler, by contact phone
	idMu     sync.Mutex
	resolved map[string]string

	closedOnce uint32 // ensures Close is idempotent
}

// New builds a Client on top of remote. tokens supplies the bearer token and
// is refreshed after a 401. Persisted state is migrated and restored, and any
// operations left in the sync queue by a previous run resume immediately.
func New(ctx context.Context, remote Remote, tokens gateway.TokenProvider, opts ...Option) (*Client, error) {
	if remote == nil {
		return nil, fmt.Errorf("remote cannot be nil")
	}
	if tokens == nil {
		return nil, fmt.Errorf("token provider cannot be nil")
	}

	c := &Client{
		remote:     remote,
		tokens:     tokens,
		log:        zerolog.Nop(),
		normalizer: phone.Default,
		policy:     syncqueue.DefaultRetryPolicy(),
		now:        func() time.Time { return time.Now().UTC() },
		rep:        repertoire.New(),
		inv:        repertoire.NewInvitations(),
		stats:      &stats.Cache{TTL: 3 * time.Second},
		resolved:   make(map[string]string),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	if c.store == nil {
		c.store = store.NewMemory()
	}

	if _, err := store.Migrate(ctx, c.store, c.normalizer, c.log); err != nil {
		return nil, fmt.Errorf("migrate local store: %w", err)
	}
	if err := c.load(ctx); err != nil {
		return nil, err
	}

	rec := &reconciler{c: c, ready: make(chan struct{})}
	c.queue = syncqueue.New(ctx, rec, syncqueue.Config{
		Policy:        c.policy,
		Store:         c.store,
		AuthRefresher: tokens.Refresh,
		Logger:        c.log,
		Now:           c.now,
	})
	c.importer = importer.New(remote, tokens, c.queue, c.importCfg, c.log,
		importer.WithOrphanHandler(c.importOrphaned))
	close(rec.ready)

	c.log.Info().
		Int("repertoire", c.rep.Len()).
		Int("invitations", len(c.inv.List())).
		Int("snapshot", len(c.snapshot)).
		Int("queued", c.queue.State().Outstanding()).
		Msg("contact sync engine ready")
	return c, nil
}

// NewFromConfig wires the store, the gateway and the device source described
// by cfg. The returned Client owns the store and closes it on Close.
func NewFromConfig(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*Client, error) {
	st, err := store.Open(ctx, cfg, log.With().Str("component", "store").Logger())
	if err != nil {
		return nil, err
	}

	var tokens gateway.TokenProvider = gateway.StaticToken(cfg.APIToken)
	if cfg.DevMode {
		tokens = gateway.DevToken()
	}
	gw, err := gateway.New(cfg.APIBaseURL, tokens,
		gateway.WithTimeout(cfg.HTTPTimeout),
		gateway.WithRateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst),
		gateway.WithLogger(log),
	)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("build gateway: %w", err)
	}

	opts := []Option{
		WithLogger(log),
		WithStore(st),
		WithNormalizer(phone.Normalizer{CountryCode: cfg.DefaultCountryCode, MinDigits: cfg.MinPhoneDigits}),
		WithRetryPolicy(syncqueue.RetryPolicy{
			BaseDelay:      cfg.RetryBaseDelay,
			MaxDelay:       cfg.RetryMaxDelay,
			MaxAttempts:    cfg.RetryMaxAttempts,
			RateLimitDelay: cfg.RateLimitDelay,
		}),
		WithImportConfig(importer.Config{
			LocalBatchSize:  cfg.LocalBatchSize,
			RemoteBatchSize: cfg.RemoteBatchSize,
			FallbackFanout:  cfg.FallbackFanout,
			VerifyBatchSize: cfg.VerifyBatchSize,
			BatchPause:      cfg.BatchPause,
			RateLimitDelay:  cfg.RateLimitDelay,
		}),
	}
	if cfg.StatsTTL > 0 {
		opts = append(opts, WithStatsTTL(cfg.StatsTTL))
	}
	if cfg.DeviceExportPath != "" {
		opts = append(opts, WithSource(device.FileSource{Path: cfg.DeviceExportPath}))
	}

	c, err := New(ctx, gw, tokens, opts...)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	c.ownsStore = true
	return c, nil
}

// Close stops the importer and the sync queue, persists local state and
// closes the store when the Client opened it. Safe to call multiple times.
// Operations still queued are picked up by the next Client on the same store.
func (c *Client) Close() error {
	if !atomic.CompareAndSwapUint32(&c.closedOnce, 0, 1) {
		return nil
	}
	c.importer.Stop()
	c.queue.Stop()
	c.persist(context.Background())
	if c.ownsStore {
		return c.store.Close()
	}
	return nil
}

func (c *Client) closed() bool {
	return atomic.LoadUint32(&c.closedOnce) == 1
}

// Repertoire returns the curated contacts in insertion order.
func (c *Client) Repertoire() []model.RepertoireEntry {
	return c.rep.List()
}

// Invitations returns every invitation, active or not.
func (c *Client) Invitations() []model.Invitation {
	return c.inv.List()
}

// Snapshot returns the contacts of the last device scan.
func (c *Client) Snapshot() []model.Contact {
	c.snapMu.RLock()
	defer c.snapMu.RUnlock()
	out := make([]model.Contact, len(c.snapshot))
	copy(out, c.snapshot)
	return out
}

// LastScan is when the device was last scanned; zero if never.
func (c *Client) LastScan() time.Time {
	c.snapMu.RLock()
	defer c.snapMu.RUnlock()
	return c.lastScan
}
