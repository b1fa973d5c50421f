// Package stats derives read-side counts from the snapshot, the repertoire
// and the invitation book. Compute is pure and O(N); Cache only spares the
// UI from recomputing on every frame.
package stats

import (
	"math"

	"github.com/lendbridge/contactsync/internal/model"
)

// Stats is what the dashboard shows.
type Stats struct {
	TotalContacts       int     `json:"totalContacts"`
	WithEmail           int     `json:"withEmail"`
	Complete            int     `json:"complete"`
	RepertoireSize      int     `json:"repertoireSize"`
	BridgedUsers        int     `json:"bridgedUsers"`
	NeverInvited        int     `json:"neverInvited"`
	InvitedNotBridged   int     `json:"invitedNotBridged"`
	BridgedPercent      float64 `json:"bridgedPercent"`
	CurationRate        float64 `json:"curationRate"`
	AvailableToImport   int     `json:"availableToImport"`
	ActiveInvitations   int     `json:"activeInvitations"`
	AcceptedInvitations int     `json:"acceptedInvitations"`
}

// Compute derives Stats. AvailableToImport counts distinct snapshot phones
// absent from the repertoire; contacts without a usable phone are excluded.
func Compute(snapshot []model.Contact, entries []model.RepertoireEntry, invitations []model.Invitation) Stats {
	s := Stats{TotalContacts: len(snapshot), RepertoireSize: len(entries)}

	known := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		known[e.Phone] = struct{}{}
		if e.IsBridgedUser {
			s.BridgedUsers++
		}
		if !e.IsInvited {
			s.NeverInvited++
		} else if !e.IsBridgedUser {
			s.InvitedNotBridged++
		}
	}

	available := make(map[string]struct{})
	for _, c := range snapshot {
		if c.HasEmail {
			s.WithEmail++
		}
		if c.IsComplete {
			s.Complete++
		}
		if c.Phone == "" {
			continue
		}
		if _, ok := known[c.Phone]; !ok {
			available[c.Phone] = struct{}{}
		}
	}
	s.AvailableToImport = len(available)

	for _, inv := range invitations {
		switch inv.Status {
		case model.InvitationSent:
			s.ActiveInvitations++
		case model.InvitationAccepted:
			s.AcceptedInvitations++
		}
	}

	s.BridgedPercent = percent(s.BridgedUsers, s.RepertoireSize)
	s.CurationRate = percent(s.RepertoireSize, s.TotalContacts)
	return s
}

// percent returns part/whole*100 rounded to one decimal, 0 for an empty whole.
func percent(part, whole int) float64 {
	if whole == 0 {
		return 0
	}
	return math.Round(float64(part)*1000/float64(whole)) / 10
}
