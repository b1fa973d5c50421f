package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestToEntry(t *testing.T) {
	now := time.Now()
	e := ToEntry(Contact{DeviceID: "d1", Name: "Ana", Phone: "+33612345678", Email: "ana@example.com"}, SourceBulkImport, now)

	assert.True(t, IsLocalID(e.ID))
	assert.Empty(t, e.RemoteID)
	assert.Equal(t, "+33612345678", e.Phone)
	assert.Equal(t, SourceBulkImport, e.Source)
	assert.Equal(t, "d1", e.DeviceID)
	assert.Equal(t, now, e.UpdatedAt)
}

func TestEntryPayload_LocalAndRemote(t *testing.T) {
	local := RepertoireEntry{ID: NewLocalID(), Name: "A", Phone: "+33600000001"}
	p := local.Payload()
	assert.Equal(t, local.ID, p.LocalID)
	assert.Empty(t, p.ID)

	remote := RepertoireEntry{ID: "r-1", RemoteID: "r-1", Name: "B", Phone: "+33600000002"}
	p = remote.Payload()
	assert.Empty(t, p.LocalID)
	assert.Equal(t, "r-1", p.ID)
}

func TestFromPayload(t *testing.T) {
	e := FromPayload(ContactPayload{ID: "r-9", Name: "C", Phone: "+33600000003", IsBridgedUser: true}, time.Now())
	assert.Equal(t, "r-9", e.ID)
	assert.Equal(t, "r-9", e.RemoteID)
	assert.True(t, e.IsBridgedUser)
	assert.Equal(t, SourceRemotePull, e.Source)
}

func TestChannelValid(t *testing.T) {
	assert.True(t, ChannelSMS.Valid())
	assert.True(t, ChannelWhatsApp.Valid())
	assert.False(t, Channel("email").Valid())
}
