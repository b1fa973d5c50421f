package stats

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lendbridge/contactsync/internal/model"
)

func phoneN(i int) string { return fmt.Sprintf("+336%08d", i) }

func TestCompute_AvailableToImport(t *testing.T) {
	var snapshot []model.Contact
	for i := 0; i < 1421; i++ {
		snapshot = append(snapshot, model.Contact{DeviceID: fmt.Sprint(i), Phone: phoneN(i)})
	}
	var entries []model.RepertoireEntry
	for i := 0; i < 1200; i++ {
		entries = append(entries, model.RepertoireEntry{Phone: phoneN(i)})
	}

	s := Compute(snapshot, entries, nil)
	assert.Equal(t, 1421, s.TotalContacts)
	assert.Equal(t, 1200, s.RepertoireSize)
	assert.Equal(t, 221, s.AvailableToImport)
}

func TestCompute_AvailableToImportMatchesByPhone(t *testing.T) {
	var snapshot []model.Contact
	for i := 0; i < 1421; i++ {
		snapshot = append(snapshot, model.Contact{DeviceID: fmt.Sprint(i), Phone: phoneN(i)})
	}
	// 50 manual entries are not on the device, so they free up nothing
	var entries []model.RepertoireEntry
	for i := 0; i < 50; i++ {
		entries = append(entries, model.RepertoireEntry{Phone: phoneN(5000 + i)})
	}
	for i := 0; i < 1150; i++ {
		entries = append(entries, model.RepertoireEntry{Phone: phoneN(i)})
	}

	s := Compute(snapshot, entries, nil)
	assert.Equal(t, 1200, s.RepertoireSize)
	assert.Equal(t, 271, s.AvailableToImport)
}

func TestCompute_DuplicatesAndMissingPhones(t *testing.T) {
	snapshot := []model.Contact{
		{Phone: phoneN(1)},
		{Phone: phoneN(1)},
		{Phone: ""},
		{Phone: phoneN(2)},
	}
	s := Compute(snapshot, []model.RepertoireEntry{{Phone: phoneN(2)}}, nil)
	assert.Equal(t, 4, s.TotalContacts)
	assert.Equal(t, 1, s.AvailableToImport)
}

func TestCompute_Counts(t *testing.T) {
	snapshot := []model.Contact{
		{Phone: phoneN(1), HasEmail: true, IsComplete: true},
		{Phone: phoneN(2), HasEmail: true},
		{Phone: phoneN(3)},
		{Phone: phoneN(4)},
	}
	entries := []model.RepertoireEntry{
		{Phone: phoneN(1), IsBridgedUser: true},
		{Phone: phoneN(2), IsInvited: true},
		{Phone: phoneN(3), IsInvited: true, IsBridgedUser: true},
	}
	invitations := []model.Invitation{
		{Status: model.InvitationSent},
		{Status: model.InvitationAccepted},
		{Status: model.InvitationCancelled},
	}
	s := Compute(snapshot, entries, invitations)
	assert.Equal(t, Stats{
		TotalContacts:       4,
		WithEmail:           2,
		Complete:            1,
		RepertoireSize:      3,
		BridgedUsers:        2,
		NeverInvited:        1,
		InvitedNotBridged:   1,
		BridgedPercent:      66.7,
		CurationRate:        75,
		AvailableToImport:   1,
		ActiveInvitations:   1,
		AcceptedInvitations: 1,
	}, s)
}

func TestCompute_Empty(t *testing.T) {
	s := Compute(nil, nil, nil)
	assert.Zero(t, s.BridgedPercent)
	assert.Zero(t, s.CurationRate)
}

func TestCache(t *testing.T) {
	now := time.Unix(0, 0)
	c := &Cache{TTL: 3 * time.Second, Now: func() time.Time { return now }}
	calls := 0
	compute := func() Stats {
		calls++
		return Stats{RepertoireSize: calls}
	}

	v := Version{Repertoire: 1}
	require.Equal(t, 1, c.Get(v, compute).RepertoireSize)
	require.Equal(t, 1, c.Get(v, compute).RepertoireSize)

	// any mutation bumps the version and invalidates
	v.Repertoire++
	assert.Equal(t, 2, c.Get(v, compute).RepertoireSize)

	now = now.Add(3 * time.Second)
	assert.Equal(t, 3, c.Get(v, compute).RepertoireSize, "TTL expired")

	c.Invalidate()
	assert.Equal(t, 4, c.Get(v, compute).RepertoireSize)
}
