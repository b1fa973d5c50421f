package model

import "time"

// Source records how a repertoire entry came to exist.
type Source string

const (
	SourceManual     Source = "manual"
	SourceBulkImport Source = "bulk_import"
	SourceRemotePull Source = "remote_pull"
)

// Channel is the transport an invitation was sent over.
type Channel string

const (
	ChannelSMS      Channel = "sms"
	ChannelWhatsApp Channel = "whatsapp"
)

// Valid reports whether c is a known channel.
func (c Channel) Valid() bool {
	return c == ChannelSMS || c == ChannelWhatsApp
}

// InvitationStatus is the lifecycle state of an invitation.
type InvitationStatus string

const (
	InvitationSent      InvitationStatus = "sent"
	InvitationAccepted  InvitationStatus = "accepted"
	InvitationDeclined  InvitationStatus = "declined"
	InvitationExpired   InvitationStatus = "expired"
	InvitationCancelled InvitationStatus = "cancelled"
)

// DeviceRecord is a contact exactly as the device address book exposes it.
type DeviceRecord struct {
	ID     string   `json:"id"`
	Name   string   `json:"name"`
	Phones []string `json:"phones"`
	Emails []string `json:"emails,omitempty"`
}

// Contact is one entry of an immutable device snapshot. Phone is already normalized.
type Contact struct {
	DeviceID   string `json:"deviceId"`
	Name       string `json:"name"`
	Phone      string `json:"phone"`
	RawPhone   string `json:"rawPhone,omitempty"`
	Email      string `json:"email,omitempty"`
	HasEmail   bool   `json:"hasEmail"`
	IsComplete bool   `json:"isComplete"`
}

// RepertoireEntry is a contact the user curated into the app.
// Phone is the unique key within a repertoire.
type RepertoireEntry struct {
	ID              string     `json:"id"`
	RemoteID        string     `json:"remoteId,omitempty"`
	Name            string     `json:"name"`
	Phone           string     `json:"phone"`
	Email           string     `json:"email,omitempty"`
	IsBridgedUser   bool       `json:"isBridgedUser"`
	IsInvited       bool       `json:"isInvited"`
	InvitedAt       *time.Time `json:"invitedAt,omitempty"`
	InvitationCount int        `json:"invitationCount"`
	UpdatedAt       time.Time  `json:"updatedAt"`
	Source          Source     `json:"source"`
	DeviceID        string     `json:"deviceId,omitempty"`
}

// Invitation is a referral sent to a phone over a channel.
type Invitation struct {
	ID           string           `json:"id"`
	RemoteID     string           `json:"remoteId,omitempty"`
	Phone        string           `json:"phone"`
	Name         string           `json:"name"`
	Channel      Channel          `json:"channel"`
	Status       InvitationStatus `json:"status"`
	SentAt       time.Time        `json:"sentAt"`
	RetriedAt    *time.Time       `json:"retriedAt,omitempty"`
	RetryCount   int              `json:"retryCount"`
	ReferralCode string           `json:"referralCode"`
}

// Active reports whether the invitation still awaits an answer.
func (i Invitation) Active() bool {
	return i.Status == InvitationSent
}
