// Package store persists engine state as JSON blobs in a small key/value
// table. Backends are interchangeable; callers only ever see the Store
// interface.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNotFound is returned by Get when the key has never been set.
var ErrNotFound = errors.New("store: key not found")

// Keys written by the engine.
const (
	KeyDeviceSnapshot = "device_snapshot"
	KeyRepertoire     = "repertoire"
	KeyInvitations    = "invitations"
	KeyLastScan       = "last_scan"
	KeyScanMeta       = "scan_meta"
	KeySyncQueue      = "sync_queue"
	KeySchemaVersion  = "schema_version"
)

// Store is an async-style key/value store of opaque values.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Remove(ctx context.Context, key string) error
	Close() error
}

// GetJSON decodes the value under key into v. It returns ErrNotFound
// unchanged so callers can tell a fresh install from a corrupt value.
func GetJSON(ctx context.Context, s Store, key string, v any) error {
	raw, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

// SetJSON encodes v and stores it under key.
func SetJSON(ctx context.Context, s Store, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.Set(ctx, key, raw)
}
