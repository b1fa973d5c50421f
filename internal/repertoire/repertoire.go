// Package repertoire holds the user's curated contacts and invitations in
// memory. It is the one mutable shared resource of the engine; writers go
// through the sync queue's chokepoint, readers may call in at any time.
package repertoire

import (
	"errors"
	"sync"
	"time"

	"github.com/lendbridge/contactsync/internal/model"
)

var (
	// ErrDuplicatePhone is returned when an entry's phone is already present.
	ErrDuplicatePhone = errors.New("repertoire: phone already present")
	// ErrNotFound is returned when no entry matches.
	ErrNotFound = errors.New("repertoire: entry not found")
	// ErrNoPhone is returned for entries without a normalized phone.
	ErrNoPhone = errors.New("repertoire: entry has no phone")
)

// Repertoire is keyed by normalized phone and keeps insertion order.
type Repertoire struct {
	mu      sync.RWMutex
	byPhone map[string]*model.RepertoireEntry
	order   []string
	version uint64
}

// New returns an empty repertoire.
func New() *Repertoire {
	return &Repertoire{byPhone: make(map[string]*model.RepertoireEntry)}
}

// Version increases on every successful mutation.
func (r *Repertoire) Version() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.version
}

// Len returns the number of entries.
func (r *Repertoire) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Get returns a copy of the entry for phone.
func (r *Repertoire) Get(phone string) (model.RepertoireEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byPhone[phone]
	if !ok {
		return model.RepertoireEntry{}, false
	}
	return *e, true
}

// FindByID returns the entry whose local or remote id is id.
func (r *Repertoire) FindByID(id string) (model.RepertoireEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.order {
		e := r.byPhone[p]
		if e.ID == id || (e.RemoteID != "" && e.RemoteID == id) {
			return *e, true
		}
	}
	return model.RepertoireEntry{}, false
}

// List returns copies of all entries in insertion order.
func (r *Repertoire) List() []model.RepertoireEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.RepertoireEntry, 0, len(r.order))
	for _, p := range r.order {
		out = append(out, *r.byPhone[p])
	}
	return out
}

// Phones returns the set of phones currently present.
func (r *Repertoire) Phones() map[string]struct{} {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := make(map[string]struct{}, len(r.byPhone))
	for p := range r.byPhone {
		set[p] = struct{}{}
	}
	return set
}

// Add inserts e. It fails with ErrDuplicatePhone if the phone is taken.
func (r *Repertoire) Add(e model.RepertoireEntry) error {
	if e.Phone == "" {
		return ErrNoPhone
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byPhone[e.Phone]; ok {
		return ErrDuplicatePhone
	}
	r.insertLocked(e)
	r.version++
	return nil
}

// AddBatch inserts every entry whose phone is free and returns the inserted ones.
func (r *Repertoire) AddBatch(entries []model.RepertoireEntry) []model.RepertoireEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	added := make([]model.RepertoireEntry, 0, len(entries))
	for _, e := range entries {
		if e.Phone == "" {
			continue
		}
		if _, ok := r.byPhone[e.Phone]; ok {
			continue
		}
		r.insertLocked(e)
		added = append(added, e)
	}
	if len(added) > 0 {
		r.version++
	}
	return added
}

// Update applies fn to the entry for phone. fn must not change the phone.
func (r *Repertoire) Update(phone string, fn func(*model.RepertoireEntry)) (model.RepertoireEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byPhone[phone]
	if !ok {
		return model.RepertoireEntry{}, ErrNotFound
	}
	cp := *e
	fn(&cp)
	cp.Phone = phone
	*e = cp
	r.version++
	return cp, nil
}

// Remove deletes the entry for phone and returns it.
func (r *Repertoire) Remove(phone string) (model.RepertoireEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byPhone[phone]
	if !ok {
		return model.RepertoireEntry{}, ErrNotFound
	}
	removed := *e
	r.removeLocked(phone)
	r.version++
	return removed, nil
}

// RemoveBatch deletes the entries for phones; unknown phones are ignored.
func (r *Repertoire) RemoveBatch(phones []string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, p := range phones {
		if _, ok := r.byPhone[p]; ok {
			delete(r.byPhone, p)
			n++
		}
	}
	if n == 0 {
		return 0
	}
	kept := r.order[:0]
	for _, p := range r.order {
		if _, ok := r.byPhone[p]; ok {
			kept = append(kept, p)
		}
	}
	r.order = kept
	r.version++
	return n
}

// MarkBridged sets IsBridgedUser on the listed phones. It never clears the flag.
func (r *Repertoire) MarkBridged(bridged map[string]bool, now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for p, ok := range bridged {
		if !ok {
			continue
		}
		if e, exists := r.byPhone[p]; exists && !e.IsBridgedUser {
			e.IsBridgedUser = true
			e.UpdatedAt = now
			n++
		}
	}
	if n > 0 {
		r.version++
	}
	return n
}

// Merge folds remote entries in: unknown phones are added, known phones gain
// the remote id, missing fields, and bridged status. Local edits win otherwise.
func (r *Repertoire) Merge(remote []model.RepertoireEntry, now time.Time) (added, updated int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, in := range remote {
		if in.Phone == "" {
			continue
		}
		e, ok := r.byPhone[in.Phone]
		if !ok {
			in.UpdatedAt = now
			r.insertLocked(in)
			added++
			continue
		}
		changed := false
		if e.RemoteID == "" && in.RemoteID != "" {
			e.RemoteID = in.RemoteID
			if model.IsLocalID(e.ID) {
				e.ID = in.RemoteID
			}
			changed = true
		}
		if e.Name == "" && in.Name != "" {
			e.Name = in.Name
			changed = true
		}
		if e.Email == "" && in.Email != "" {
			e.Email = in.Email
			changed = true
		}
		if in.IsBridgedUser && !e.IsBridgedUser {
			e.IsBridgedUser = true
			changed = true
		}
		if changed {
			e.UpdatedAt = now
			updated++
		}
	}
	if added+updated > 0 {
		r.version++
	}
	return added, updated
}

// Reset drops every entry.
func (r *Repertoire) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byPhone = make(map[string]*model.RepertoireEntry)
	r.order = nil
	r.version++
}

// Restore replaces the contents with entries, skipping duplicate phones.
func (r *Repertoire) Restore(entries []model.RepertoireEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byPhone = make(map[string]*model.RepertoireEntry, len(entries))
	r.order = r.order[:0]
	for _, e := range entries {
		if e.Phone == "" {
			continue
		}
		if _, ok := r.byPhone[e.Phone]; ok {
			continue
		}
		r.insertLocked(e)
	}
	r.version++
}

func (r *Repertoire) insertLocked(e model.RepertoireEntry) {
	cp := e
	r.byPhone[e.Phone] = &cp
	r.order = append(r.order, e.Phone)
}

func (r *Repertoire) removeLocked(phone string) {
	delete(r.byPhone, phone)
	for i, p := range r.order {
		if p == phone {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}
