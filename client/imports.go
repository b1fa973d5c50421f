package client

import (
	"context"
	"fmt"

	"github.com/lendbridge/contactsync/internal/dedup"
	"github.com/lendbridge/contactsync/internal/device"
	"github.com/lendbridge/contactsync/internal/importer"
	"github.com/lendbridge/contactsync/internal/model"
	"github.com/lendbridge/contactsync/internal/stats"
	"github.com/lendbridge/contactsync/internal/syncqueue"
)

// --------------------------------------------------------------------
// Device snapshot, bulk import and stats
// --------------------------------------------------------------------

// ScanDeviceContacts reads the address book, normalizes and classifies it and
// replaces the stored snapshot.
func (c *Client) ScanDeviceContacts(ctx context.Context) ([]model.Contact, error) {
	if c.closed() {
		return nil, ErrClosed
	}
	if c.source == nil {
		scansTotal.WithLabelValues("no_source").Inc()
		return nil, device.ErrNoSource
	}
	records, err := c.source.Scan(ctx)
	if err != nil {
		scansTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("scan device contacts: %w", err)
	}
	snapshot := dedup.Prepare(records, c.normalizer)
	meta := scanMeta{Records: len(records), Contacts: len(snapshot), ScannedAt: c.now()}

	c.snapMu.Lock()
	c.snapshot = snapshot
	c.lastScan = meta.ScannedAt
	c.snapVersion++
	c.snapMu.Unlock()

	c.persistSnapshot(ctx, snapshot, meta)
	scansTotal.WithLabelValues("ok").Inc()
	c.log.Info().Int("records", meta.Records).Int("contacts", meta.Contacts).Msg("device contacts scanned")
	return c.Snapshot(), nil
}

// ImportAll imports every snapshot contact not yet in the repertoire. The
// device is scanned first when no snapshot exists.
func (c *Client) ImportAll(ctx context.Context, onProgress func(importer.Progress)) (*importer.Report, error) {
	snapshot, err := c.snapshotOrScan(ctx)
	if err != nil {
		return nil, err
	}
	return c.runImport(ctx, snapshot, onProgress)
}

// ImportSelected imports the snapshot contacts whose device id is in ids.
func (c *Client) ImportSelected(ctx context.Context, ids []string, onProgress func(importer.Progress)) (*importer.Report, error) {
	snapshot, err := c.snapshotOrScan(ctx)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return &importer.Report{Success: true, Errors: []importer.ItemError{}}, nil
	}
	selected := dedup.Filter{DeviceIDs: ids}.Apply(snapshot)
	return c.runImport(ctx, selected, onProgress)
}

func (c *Client) snapshotOrScan(ctx context.Context) ([]model.Contact, error) {
	if c.closed() {
		return nil, ErrClosed
	}
	if snapshot := c.Snapshot(); len(snapshot) > 0 {
		return snapshot, nil
	}
	if c.source == nil {
		return nil, ErrNoSnapshot
	}
	return c.ScanDeviceContacts(ctx)
}

func (c *Client) runImport(ctx context.Context, contacts []model.Contact, onProgress func(importer.Progress)) (*importer.Report, error) {
	report, err := c.importer.Import(ctx, contacts, c.rep, onProgress)
	if err != nil {
		return nil, err
	}
	c.idMu.Lock()
	for _, e := range c.rep.List() {
		if e.RemoteID != "" {
			c.resolved[e.Phone] = e.RemoteID
		}
	}
	c.idMu.Unlock()
	c.persist(ctx)
	return report, nil
}

// importOrphaned handles a bulk create that landed after its entry was
// removed. A re-added entry adopts the remote id; otherwise the remote copy is
// queued for deletion.
func (c *Client) importOrphaned(phone string, created model.ContactPayload) {
	if created.ID == "" {
		return
	}
	present, err := syncqueue.DoBuild(c.queue,
		func() (bool, error) {
			if _, err := c.rep.Update(phone, func(e *model.RepertoireEntry) {
				if e.RemoteID == "" || model.IsLocalID(e.ID) {
					e.ID = created.ID
					e.RemoteID = created.ID
				}
			}); err != nil {
				return false, nil
			}
			return true, nil
		},
		func(present bool) ([]syncqueue.Operation, error) {
			if present {
				return nil, nil
			}
			op, err := syncqueue.NewOperation(syncqueue.KindDelete, syncqueue.TableContacts, phone,
				model.ContactPayload{ID: created.ID, Name: created.Name, Phone: phone})
			if err != nil {
				return nil, err
			}
			return []syncqueue.Operation{op}, nil
		})
	if err != nil {
		c.log.Warn().Err(err).Str("phone", phone).Str("remote_id", created.ID).Msg("queue delete of orphaned import failed")
		return
	}
	if present {
		c.idMu.Lock()
		c.resolved[phone] = created.ID
		c.idMu.Unlock()
		return
	}
	c.log.Info().Str("phone", phone).Str("remote_id", created.ID).Msg("contact removed during import; remote copy queued for deletion")
}

// EmergencyStop halts the running import after its current chunk and pauses
// the sync queue. Local mutations keep working; Resume restarts the queue.
func (c *Client) EmergencyStop() {
	c.importer.Stop()
	c.queue.Pause()
	c.log.Warn().Msg("emergency stop")
}

// Resume restarts remote reconciliation after EmergencyStop.
func (c *Client) Resume() {
	c.queue.Resume()
	c.log.Info().Msg("sync resumed")
}

// ImportRunning reports whether a bulk import is in progress.
func (c *Client) ImportRunning() bool {
	return c.importer.Running()
}

// GetStats returns dashboard counts. The value is cached until the snapshot,
// the repertoire or the invitations change, and for at most the stats TTL.
func (c *Client) GetStats() stats.Stats {
	c.snapMu.RLock()
	snapVersion := c.snapVersion
	c.snapMu.RUnlock()

	v := stats.Version{Snapshot: snapVersion, Repertoire: c.rep.Version(), Invitations: c.inv.Version()}
	return c.stats.Get(v, func() stats.Stats {
		return stats.Compute(c.Snapshot(), c.rep.List(), c.inv.List())
	})
}
