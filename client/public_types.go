package client

import (
	"github.com/lendbridge/contactsync/internal/importer"
	"github.com/lendbridge/contactsync/internal/model"
	"github.com/lendbridge/contactsync/internal/stats"
	"github.com/lendbridge/contactsync/internal/syncqueue"
)

// Public type aliases so UI code can import only the client package.
type (
	// Domain entities
	Contact         = model.Contact
	DeviceRecord    = model.DeviceRecord
	RepertoireEntry = model.RepertoireEntry
	Invitation      = model.Invitation
	Channel         = model.Channel

	// Results
	Stats          = stats.Stats
	ImportReport   = importer.Report
	ImportProgress = importer.Progress
	SyncState      = syncqueue.SyncState
	Operation      = syncqueue.Operation
)

const (
	ChannelSMS      = model.ChannelSMS
	ChannelWhatsApp = model.ChannelWhatsApp
)
