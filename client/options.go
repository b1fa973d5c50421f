package client

// This file defines functional options that configure the Client during
// construction.

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/lendbridge/contactsync/internal/device"
	"github.com/lendbridge/contactsync/internal/importer"
	"github.com/lendbridge/contactsync/internal/phone"
	"github.com/lendbridge/contactsync/internal/store"
	"github.com/lendbridge/contactsync/internal/syncqueue"
)

// Option configures a Client during construction in New.
type Option func(*Client) error

// WithLogger sets the logger shared by every component.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) error {
		c.log = l
		return nil
	}
}

// WithStore persists state in s instead of memory. The caller keeps
// ownership: Close does not close s.
func WithStore(s store.Store) Option {
	return func(c *Client) error {
		if s == nil {
			return fmt.Errorf("store cannot be nil")
		}
		c.store = s
		return nil
	}
}

// WithSource sets where ScanDeviceContacts reads the address book from.
func WithSource(src device.Source) Option {
	return func(c *Client) error {
		c.source = src
		return nil
	}
}

// WithNormalizer sets the country code and minimum length used for phones.
func WithNormalizer(n phone.Normalizer) Option {
	return func(c *Client) error {
		c.normalizer = n
		return nil
	}
}

// WithRetryPolicy sets the sync queue retry policy.
func WithRetryPolicy(p syncqueue.RetryPolicy) Option {
	return func(c *Client) error {
		c.policy = p
		return nil
	}
}

// WithImportConfig sets bulk import batching.
func WithImportConfig(cfg importer.Config) Option {
	return func(c *Client) error {
		c.importCfg = cfg
		return nil
	}
}

// WithStatsTTL bounds how long GetStats may serve a cached value.
// The value must be greater than zero.
func WithStatsTTL(d time.Duration) Option {
	return func(c *Client) error {
		if d <= 0 {
			return fmt.Errorf("stats ttl must be > 0")
		}
		c.stats.TTL = d
		return nil
	}
}

// WithClock replaces time.Now; tests use it to pin timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Client) error {
		if now == nil {
			return fmt.Errorf("clock cannot be nil")
		}
		c.now = now
		return nil
	}
}
