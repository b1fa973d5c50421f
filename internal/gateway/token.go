package gateway

import (
	"context"
	"errors"
	"sync"

	"github.com/lendbridge/contactsync/internal/devmode"
)

// ErrNoToken is returned when the token provider cannot supply a token.
var ErrNoToken = errors.New("gateway: no auth token available")

// TokenProvider supplies the bearer token. Authentication itself happens
// elsewhere; the engine only reads and refreshes.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
	Refresh(ctx context.Context) error
}

// StaticToken always returns the same token.
type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) {
	if t == "" {
		return "", ErrNoToken
	}
	return string(t), nil
}

func (t StaticToken) Refresh(context.Context) error { return nil }

// DevToken is the token accepted by the development remote.
func DevToken() StaticToken { return StaticToken(devmode.Token) }

// RefreshingToken caches the token returned by Fetch and fetches again on Refresh.
type RefreshingToken struct {
	Fetch func(ctx context.Context) (string, error)

	mu    sync.Mutex
	token string
}

func (t *RefreshingToken) Token(ctx context.Context) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.token != "" {
		return t.token, nil
	}
	return t.fetchLocked(ctx)
}

func (t *RefreshingToken) Refresh(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.token = ""
	_, err := t.fetchLocked(ctx)
	return err
}

func (t *RefreshingToken) fetchLocked(ctx context.Context) (string, error) {
	if t.Fetch == nil {
		return "", ErrNoToken
	}
	tok, err := t.Fetch(ctx)
	if err != nil {
		return "", errors.Join(ErrNoToken, err)
	}
	if tok == "" {
		return "", ErrNoToken
	}
	t.token = tok
	return tok, nil
}
