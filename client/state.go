package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lendbridge/contactsync/internal/model"
	"github.com/lendbridge/contactsync/internal/store"
)

// scanMeta is stored next to the snapshot.
type scanMeta struct {
	Records   int       `json:"records"`
	Contacts  int       `json:"contacts"`
	ScannedAt time.Time `json:"scannedAt"`
}

// load restores the snapshot, the repertoire and the invitation book.
// Missing keys mean a fresh install.
func (c *Client) load(ctx context.Context) error {
	var entries []model.RepertoireEntry
	if err := getOptional(ctx, c.store, store.KeyRepertoire, &entries); err != nil {
		return err
	}
	c.rep.Restore(entries)

	var invitations []model.Invitation
	if err := getOptional(ctx, c.store, store.KeyInvitations, &invitations); err != nil {
		return err
	}
	c.inv.Restore(invitations)

	var snapshot []model.Contact
	if err := getOptional(ctx, c.store, store.KeyDeviceSnapshot, &snapshot); err != nil {
		return err
	}
	var last time.Time
	if err := getOptional(ctx, c.store, store.KeyLastScan, &last); err != nil {
		return err
	}
	c.snapMu.Lock()
	c.snapshot, c.lastScan = snapshot, last
	c.snapVersion++
	c.snapMu.Unlock()

	for _, e := range entries {
		if e.RemoteID != "" {
			c.resolved[e.Phone] = e.RemoteID
		}
	}
	return nil
}

func getOptional(ctx context.Context, s store.Store, key string, v any) error {
	err := store.GetJSON(ctx, s, key, v)
	if err == nil || errors.Is(err, store.ErrNotFound) {
		return nil
	}
	return fmt.Errorf("load %s: %w", key, err)
}

// persist writes the repertoire and the invitation book. Failures are logged
// and counted; in-memory state stays authoritative.
func (c *Client) persist(ctx context.Context) {
	c.save(ctx, store.KeyRepertoire, c.rep.List())
	c.save(ctx, store.KeyInvitations, c.inv.List())
}

func (c *Client) persistSnapshot(ctx context.Context, snapshot []model.Contact, meta scanMeta) {
	c.save(ctx, store.KeyDeviceSnapshot, snapshot)
	c.save(ctx, store.KeyLastScan, meta.ScannedAt)
	c.save(ctx, store.KeyScanMeta, meta)
}

func (c *Client) save(ctx context.Context, key string, v any) {
	// a cancelled caller must not lose the write
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := store.SetJSON(ctx, c.store, key, v); err != nil {
		persistFailuresTotal.WithLabelValues(key).Inc()
		c.log.Warn().Err(err).Str("key", key).Msg("persist local state failed")
	}
}
