package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/lendbridge/contactsync/internal/dedup"
	"github.com/lendbridge/contactsync/internal/model"
	"github.com/lendbridge/contactsync/internal/phone"
)

// SchemaVersion is the layout written by this build.
const SchemaVersion = 2

// Keys used by the first release, before phones were normalized.
const (
	legacyKeyRepertoire  = "contacts_repertoire"
	legacyKeyCache       = "contacts_cache"
	legacyKeyInvitations = "invitations_v1"
)

type legacyEntry struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Phone          string `json:"phone"`
	Email          string `json:"email"`
	IsPlatformUser bool   `json:"isPlatformUser"`
	Invited        bool   `json:"invited"`
}

type legacyInvitation struct {
	ID      string    `json:"id"`
	Name    string    `json:"name"`
	Phone   string    `json:"phone"`
	Channel string    `json:"channel"`
	SentAt  time.Time `json:"sentAt"`
}

// MigrationResult summarizes what Migrate moved.
type MigrationResult struct {
	From        int
	To          int
	Entries     int
	Snapshot    int
	Invitations int
}

// Migrate brings the store to SchemaVersion. Legacy values are rewritten with
// normalized phones and duplicates collapsed onto their first occurrence;
// legacy keys are removed once the new ones are written.
func Migrate(ctx context.Context, s Store, n phone.Normalizer, log zerolog.Logger) (MigrationResult, error) {
	res := MigrationResult{To: SchemaVersion}
	from, err := readVersion(ctx, s)
	if err != nil {
		return res, err
	}
	res.From = from
	if from >= SchemaVersion {
		return res, nil
	}

	now := time.Now().UTC()

	var oldEntries []legacyEntry
	switch err := GetJSON(ctx, s, legacyKeyRepertoire, &oldEntries); {
	case err == nil:
		entries := migrateEntries(oldEntries, n, now)
		if err := SetJSON(ctx, s, KeyRepertoire, entries); err != nil {
			return res, err
		}
		res.Entries = len(entries)
	case !errors.Is(err, ErrNotFound):
		return res, err
	}

	var oldCache []legacyEntry
	switch err := GetJSON(ctx, s, legacyKeyCache, &oldCache); {
	case err == nil:
		records := make([]model.DeviceRecord, 0, len(oldCache))
		for _, e := range oldCache {
			r := model.DeviceRecord{ID: e.ID, Name: e.Name, Phones: []string{e.Phone}}
			if e.Email != "" {
				r.Emails = []string{e.Email}
			}
			records = append(records, r)
		}
		snapshot := dedup.Prepare(records, n)
		if err := SetJSON(ctx, s, KeyDeviceSnapshot, snapshot); err != nil {
			return res, err
		}
		res.Snapshot = len(snapshot)
	case !errors.Is(err, ErrNotFound):
		return res, err
	}

	var oldInv []legacyInvitation
	switch err := GetJSON(ctx, s, legacyKeyInvitations, &oldInv); {
	case err == nil:
		invs := migrateInvitations(oldInv, n)
		if err := SetJSON(ctx, s, KeyInvitations, invs); err != nil {
			return res, err
		}
		res.Invitations = len(invs)
	case !errors.Is(err, ErrNotFound):
		return res, err
	}

	for _, k := range []string{legacyKeyRepertoire, legacyKeyCache, legacyKeyInvitations} {
		if err := s.Remove(ctx, k); err != nil {
			return res, err
		}
	}
	if err := s.Set(ctx, KeySchemaVersion, []byte(strconv.Itoa(SchemaVersion))); err != nil {
		return res, err
	}
	log.Info().Int("from", res.From).Int("to", res.To).
		Int("entries", res.Entries).Int("snapshot", res.Snapshot).Int("invitations", res.Invitations).
		Msg("store migrated")
	return res, nil
}

func readVersion(ctx context.Context, s Store) (int, error) {
	raw, err := s.Get(ctx, KeySchemaVersion)
	if errors.Is(err, ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	v, err := strconv.Atoi(string(raw))
	if err != nil {
		return 0, fmt.Errorf("bad schema_version %q: %w", raw, err)
	}
	return v, nil
}

func migrateEntries(old []legacyEntry, n phone.Normalizer, now time.Time) []model.RepertoireEntry {
	seen := make(map[string]struct{}, len(old))
	out := make([]model.RepertoireEntry, 0, len(old))
	for _, e := range old {
		p := n.Normalize(e.Phone)
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		entry := model.ToEntry(model.Contact{Name: dedup.CanonicalName(e.Name), Phone: p, Email: e.Email}, model.SourceManual, now)
		if e.ID != "" {
			entry.ID = e.ID
			if !model.IsLocalID(e.ID) {
				entry.RemoteID = e.ID
			}
		}
		entry.IsBridgedUser = e.IsPlatformUser
		entry.IsInvited = e.Invited
		out = append(out, entry)
	}
	return out
}

func migrateInvitations(old []legacyInvitation, n phone.Normalizer) []model.Invitation {
	type key struct {
		phone string
		ch    model.Channel
	}
	seen := make(map[key]struct{}, len(old))
	out := make([]model.Invitation, 0, len(old))
	for _, i := range old {
		p := n.Normalize(i.Phone)
		if p == "" {
			continue
		}
		ch := model.Channel(i.Channel)
		if !ch.Valid() {
			ch = model.ChannelSMS
		}
		k := key{p, ch}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		inv := model.Invitation{
			ID:      i.ID,
			Phone:   p,
			Name:    i.Name,
			Channel: ch,
			Status:  model.InvitationSent,
			SentAt:  i.SentAt,
		}
		if inv.ID == "" {
			inv.ID = model.NewLocalID()
		} else if !model.IsLocalID(inv.ID) {
			inv.RemoteID = inv.ID
		}
		out = append(out, inv)
	}
	return out
}
