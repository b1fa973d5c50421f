package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// ContactPayload is the wire shape of a contact in the remote collection.
type ContactPayload struct {
	ID            string `json:"id,omitempty"`
	LocalID       string `json:"localId,omitempty"`
	Name          string `json:"name"`
	Phone         string `json:"phone"`
	Email         string `json:"email,omitempty"`
	IsBridgedUser bool   `json:"isBridgedUser,omitempty"`
	IsInvited     bool   `json:"isInvited,omitempty"`
	Source        Source `json:"source,omitempty"`
}

// InvitationPayload is the wire shape of an invitation.
type InvitationPayload struct {
	ID           string           `json:"id,omitempty"`
	LocalID      string           `json:"localId,omitempty"`
	Phone        string           `json:"phone"`
	Name         string           `json:"name"`
	Channel      Channel          `json:"channel"`
	Status       InvitationStatus `json:"status"`
	RetryCount   int              `json:"retryCount"`
	ReferralCode string           `json:"referralCode,omitempty"`
}

const localIDPrefix = "local-"

// NewLocalID returns a temporary id for an entity not yet known remotely.
func NewLocalID() string {
	return localIDPrefix + uuid.NewString()
}

// IsLocalID reports whether id was minted on the device.
func IsLocalID(id string) bool {
	return strings.HasPrefix(id, localIDPrefix)
}

// ToEntry maps a snapshot contact onto a repertoire entry. Every code path that
// turns a contact-like record into an entry goes through here.
func ToEntry(c Contact, src Source, now time.Time) RepertoireEntry {
	return RepertoireEntry{
		ID:        NewLocalID(),
		Name:      c.Name,
		Phone:     c.Phone,
		Email:     c.Email,
		UpdatedAt: now,
		Source:    src,
		DeviceID:  c.DeviceID,
	}
}

// FromPayload maps a remote contact onto a repertoire entry.
func FromPayload(p ContactPayload, now time.Time) RepertoireEntry {
	return RepertoireEntry{
		ID:            p.ID,
		RemoteID:      p.ID,
		Name:          p.Name,
		Phone:         p.Phone,
		Email:         p.Email,
		IsBridgedUser: p.IsBridgedUser,
		IsInvited:     p.IsInvited,
		UpdatedAt:     now,
		Source:        SourceRemotePull,
	}
}

// Payload is the wire representation of e.
func (e RepertoireEntry) Payload() ContactPayload {
	p := ContactPayload{
		ID:            e.RemoteID,
		Name:          e.Name,
		Phone:         e.Phone,
		Email:         e.Email,
		IsBridgedUser: e.IsBridgedUser,
		IsInvited:     e.IsInvited,
		Source:        e.Source,
	}
	if IsLocalID(e.ID) {
		p.LocalID = e.ID
	}
	return p
}

// Payload is the wire representation of i.
func (i Invitation) Payload() InvitationPayload {
	p := InvitationPayload{
		ID:           i.RemoteID,
		Phone:        i.Phone,
		Name:         i.Name,
		Channel:      i.Channel,
		Status:       i.Status,
		RetryCount:   i.RetryCount,
		ReferralCode: i.ReferralCode,
	}
	if IsLocalID(i.ID) {
		p.LocalID = i.ID
	}
	return p
}
