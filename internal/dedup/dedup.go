// Package dedup computes which device contacts are not yet in the user's
// repertoire and classifies each one by completeness. Everything here is a
// pure function of its inputs; nothing consults remote state.
package dedup

import (
	"strings"
	"unicode"

	"github.com/go-openapi/strfmt"
	"golang.org/x/text/unicode/norm"

	"github.com/lendbridge/contactsync/internal/model"
	"github.com/lendbridge/contactsync/internal/phone"
)

// CanonicalName folds a display name to NFC with single inner spaces.
func CanonicalName(s string) string {
	return strings.Join(strings.FieldsFunc(norm.NFC.String(s), unicode.IsSpace), " ")
}

// Classify sets the completeness flags of c from c alone.
func Classify(c model.Contact) model.Contact {
	c.Email = strings.TrimSpace(c.Email)
	c.HasEmail = c.Email != "" && strfmt.IsEmail(c.Email)
	c.IsComplete = c.Name != "" && c.Phone != "" && c.HasEmail
	return c
}

// Prepare turns raw device records into classified snapshot contacts. Each
// record contributes its first phone that normalizes to a usable number and
// its first valid email; records without a usable phone are kept with an
// empty Phone so snapshot totals stay faithful to the device.
func Prepare(records []model.DeviceRecord, n phone.Normalizer) []model.Contact {
	out := make([]model.Contact, 0, len(records))
	for _, r := range records {
		c := model.Contact{DeviceID: r.ID, Name: CanonicalName(r.Name)}
		for _, raw := range r.Phones {
			if p := n.Normalize(raw); p != "" {
				c.Phone = p
				c.RawPhone = raw
				break
			}
		}
		for _, e := range r.Emails {
			e = strings.TrimSpace(e)
			if strfmt.IsEmail(e) {
				c.Email = e
				break
			}
		}
		if c.Email == "" && len(r.Emails) > 0 {
			c.Email = strings.TrimSpace(r.Emails[0])
		}
		out = append(out, Classify(c))
	}
	return out
}

// PhoneSet collects the non-empty phones of entries.
func PhoneSet(entries []model.RepertoireEntry) map[string]struct{} {
	set := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		if e.Phone != "" {
			set[e.Phone] = struct{}{}
		}
	}
	return set
}

// Candidates returns the snapshot contacts whose phone is absent from known.
// Contacts without a phone are skipped and duplicates within the snapshot
// collapse onto their first occurrence.
func Candidates(snapshot []model.Contact, known map[string]struct{}) []model.Contact {
	seen := make(map[string]struct{}, len(snapshot))
	out := make([]model.Contact, 0)
	for _, c := range snapshot {
		if c.Phone == "" {
			continue
		}
		if _, ok := known[c.Phone]; ok {
			continue
		}
		if _, ok := seen[c.Phone]; ok {
			continue
		}
		seen[c.Phone] = struct{}{}
		out = append(out, Classify(c))
	}
	return out
}

// Filter narrows contacts for UI lists.
type Filter struct {
	OnlyComplete  bool
	OnlyWithEmail bool
	DeviceIDs     []string
}

// Apply returns the contacts matching f.
func (f Filter) Apply(contacts []model.Contact) []model.Contact {
	var ids map[string]struct{}
	if len(f.DeviceIDs) > 0 {
		ids = make(map[string]struct{}, len(f.DeviceIDs))
		for _, id := range f.DeviceIDs {
			ids[id] = struct{}{}
		}
	}
	out := make([]model.Contact, 0, len(contacts))
	for _, c := range contacts {
		if f.OnlyComplete && !c.IsComplete {
			continue
		}
		if f.OnlyWithEmail && !c.HasEmail {
			continue
		}
		if ids != nil {
			if _, ok := ids[c.DeviceID]; !ok {
				continue
			}
		}
		out = append(out, c)
	}
	return out
}
