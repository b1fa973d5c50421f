package client

import (
	"context"
	"fmt"
	"strings"

	"github.com/lendbridge/contactsync/internal/dedup"
	"github.com/lendbridge/contactsync/internal/model"
	"github.com/lendbridge/contactsync/internal/syncqueue"
)

// --------------------------------------------------------------------
// Repertoire operations - local first, remote write queued
// --------------------------------------------------------------------

// AddContact curates one contact by hand. The entry is visible in Repertoire
// before AddContact returns; its remote create runs in the background.
func (c *Client) AddContact(ctx context.Context, name, rawPhone, email string) (model.RepertoireEntry, error) {
	if c.closed() {
		return model.RepertoireEntry{}, ErrClosed
	}
	p := c.normalizer.Normalize(rawPhone)
	if p == "" {
		return model.RepertoireEntry{}, fmt.Errorf("%w: %q", ErrInvalidPhone, rawPhone)
	}
	contact := dedup.Classify(model.Contact{
		Name:  dedup.CanonicalName(name),
		Phone: p,
		Email: strings.TrimSpace(email),
	})
	entry := model.ToEntry(contact, model.SourceManual, c.now())

	op, err := syncqueue.NewOperation(syncqueue.KindCreate, syncqueue.TableContacts, p, entry.Payload())
	if err != nil {
		return model.RepertoireEntry{}, err
	}
	if _, err := syncqueue.Do(c.queue, op, func() (struct{}, error) {
		return struct{}{}, c.rep.Add(entry)
	}); err != nil {
		return model.RepertoireEntry{}, err
	}
	c.persist(ctx)
	c.log.Info().Str("phone", p).Msg("contact added")
	return entry, nil
}

// RemoveContact drops the entry matching phoneOrID, which may be a raw phone,
// a local id or a remote id.
func (c *Client) RemoveContact(ctx context.Context, phoneOrID string) error {
	if c.closed() {
		return ErrClosed
	}
	key, err := c.lookupPhone(phoneOrID)
	if err != nil {
		return err
	}
	_, err = syncqueue.DoBuild(c.queue,
		func() (model.RepertoireEntry, error) { return c.rep.Remove(key) },
		func(e model.RepertoireEntry) ([]syncqueue.Operation, error) {
			op, err := syncqueue.NewOperation(syncqueue.KindDelete, syncqueue.TableContacts, key,
				model.ContactPayload{ID: e.RemoteID, Name: e.Name, Phone: e.Phone})
			if err != nil {
				return nil, err
			}
			return []syncqueue.Operation{op}, nil
		})
	if err != nil {
		return err
	}
	c.persist(ctx)
	c.log.Info().Str("phone", key).Msg("contact removed")
	return nil
}

func (c *Client) lookupPhone(phoneOrID string) (string, error) {
	if e, ok := c.rep.FindByID(phoneOrID); ok {
		return e.Phone, nil
	}
	if p := c.normalizer.Normalize(phoneOrID); p != "" {
		if _, ok := c.rep.Get(p); ok {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrNotFound, phoneOrID)
}

// PullRemote merges the remote collection into the repertoire. Unknown
// contacts are added; known ones gain their remote id and bridged status.
func (c *Client) PullRemote(ctx context.Context) (added, updated int, err error) {
	if c.closed() {
		return 0, 0, ErrClosed
	}
	remote, err := c.remote.GetMyContacts(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("pull remote contacts: %w", err)
	}
	now := c.now()
	entries := make([]model.RepertoireEntry, 0, len(remote))
	for _, p := range remote {
		p.Phone = c.normalizer.Normalize(p.Phone)
		if p.Phone == "" {
			continue
		}
		entries = append(entries, model.FromPayload(p, now))
	}

	_ = c.queue.Local(func() error {
		added, updated = c.rep.Merge(entries, now)
		return nil
	})
	c.idMu.Lock()
	for _, e := range entries {
		if e.RemoteID != "" {
			c.resolved[e.Phone] = e.RemoteID
		}
	}
	c.idMu.Unlock()

	c.persist(ctx)
	c.log.Info().Int("remote", len(remote)).Int("added", added).Int("updated", updated).Msg("remote contacts pulled")
	return added, updated, nil
}

// RefreshBridged asks the remote which repertoire phones belong to platform
// accounts and flags them. It never clears the flag: a failed lookup is not
// an answer. It returns how many entries were newly flagged.
func (c *Client) RefreshBridged(ctx context.Context) (int, error) {
	if c.closed() {
		return 0, ErrClosed
	}
	var phones []string
	for _, e := range c.rep.List() {
		if !e.IsBridgedUser {
			phones = append(phones, e.Phone)
		}
	}
	if len(phones) == 0 {
		return 0, nil
	}

	bridged, err := dedup.DetectBridged(ctx, c.remote, phones, c.importCfg.VerifyBatchSize, c.log)
	var marked int
	_ = c.queue.Local(func() error {
		marked = c.rep.MarkBridged(bridged, c.now())
		return nil
	})
	if marked > 0 {
		c.persist(ctx)
	}
	c.log.Info().Int("checked", len(phones)).Int("marked", marked).Msg("bridged users refreshed")
	return marked, err
}
