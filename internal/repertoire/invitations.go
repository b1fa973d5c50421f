package repertoire

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lendbridge/contactsync/internal/model"
)

// ErrInvitationNotFound is returned when no invitation matches.
var ErrInvitationNotFound = errors.New("repertoire: invitation not found")

// Invitations keeps at most one active invitation per phone per channel.
type Invitations struct {
	mu      sync.RWMutex
	items   []*model.Invitation
	version uint64
}

// NewInvitations returns an empty book.
func NewInvitations() *Invitations {
	return &Invitations{}
}

// Version increases on every mutation.
func (b *Invitations) Version() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.version
}

// List returns copies of all invitations in send order.
func (b *Invitations) List() []model.Invitation {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]model.Invitation, 0, len(b.items))
	for _, inv := range b.items {
		out = append(out, *inv)
	}
	return out
}

// Active returns the active invitation for phone on channel.
func (b *Invitations) Active(phone string, ch model.Channel) (model.Invitation, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if inv := b.activeLocked(phone, ch); inv != nil {
		return *inv, true
	}
	return model.Invitation{}, false
}

// Get returns the invitation with local or remote id.
func (b *Invitations) Get(id string) (model.Invitation, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, inv := range b.items {
		if inv.ID == id || (inv.RemoteID != "" && inv.RemoteID == id) {
			return *inv, true
		}
	}
	return model.Invitation{}, false
}

// Send records an invitation. When one is already active for the phone and
// channel it is relaunched: RetryCount grows and RetriedAt is stamped, no new
// invitation is created. relaunched reports which path was taken.
func (b *Invitations) Send(phone, name string, ch model.Channel, now time.Time) (inv model.Invitation, relaunched bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.version++
	if cur := b.activeLocked(phone, ch); cur != nil {
		t := now
		cur.RetryCount++
		cur.RetriedAt = &t
		if name != "" {
			cur.Name = name
		}
		return *cur, true
	}
	created := &model.Invitation{
		ID:           model.NewLocalID(),
		Phone:        phone,
		Name:         name,
		Channel:      ch,
		Status:       model.InvitationSent,
		SentAt:       now,
		ReferralCode: NewReferralCode(),
	}
	b.items = append(b.items, created)
	return *created, false
}

// SetStatus moves the invitation with id to status.
func (b *Invitations) SetStatus(id string, status model.InvitationStatus) (model.Invitation, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, inv := range b.items {
		if inv.ID == id || (inv.RemoteID != "" && inv.RemoteID == id) {
			inv.Status = status
			b.version++
			return *inv, nil
		}
	}
	return model.Invitation{}, ErrInvitationNotFound
}

// SetRemoteID records the id assigned remotely to a local invitation.
func (b *Invitations) SetRemoteID(localID, remoteID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, inv := range b.items {
		if inv.ID == localID {
			inv.RemoteID = remoteID
			b.version++
			return true
		}
	}
	return false
}

// Restore replaces the contents.
func (b *Invitations) Restore(items []model.Invitation) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.items = make([]*model.Invitation, 0, len(items))
	for i := range items {
		cp := items[i]
		b.items = append(b.items, &cp)
	}
	b.version++
}

// Reset drops every invitation.
func (b *Invitations) Reset() {
	b.Restore(nil)
}

func (b *Invitations) activeLocked(phone string, ch model.Channel) *model.Invitation {
	for _, inv := range b.items {
		if inv.Phone == phone && inv.Channel == ch && inv.Active() {
			return inv
		}
	}
	return nil
}

// NewReferralCode returns an 8 character upper-case code.
func NewReferralCode() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}
