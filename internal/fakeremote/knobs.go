package fakeremote

import "github.com/lendbridge/contactsync/internal/model"

// SetFailBulk makes every bulk create answer 500.
func (s *Server) SetFailBulk(fail bool) {
	s.mu.Lock()
	s.failBulk = fail
	s.mu.Unlock()
}

// RejectPhones makes creates for phones answer 422.
func (s *Server) RejectPhones(phones ...string) {
	s.mu.Lock()
	for _, p := range phones {
		s.rejected[p] = true
	}
	s.mu.Unlock()
}

// SetBridged marks phones as registered platform accounts.
func (s *Server) SetBridged(phones ...string) {
	s.mu.Lock()
	for _, p := range phones {
		s.bridged[p] = true
	}
	s.mu.Unlock()
}

// UnauthorizedNext answers the next n requests with 401.
func (s *Server) UnauthorizedNext(n int) {
	s.mu.Lock()
	s.unauthorizedNext = n
	s.mu.Unlock()
}

// RateLimitNext answers the next n requests with 429 and Retry-After.
func (s *Server) RateLimitNext(n int, retryAfter string) {
	s.mu.Lock()
	s.rateLimitNext, s.retryAfter = n, retryAfter
	s.mu.Unlock()
}

// UnavailableNext answers the next n requests with 503.
func (s *Server) UnavailableNext(n int) {
	s.mu.Lock()
	s.unavailableNext = n
	s.mu.Unlock()
}

// SetToken changes the required bearer token; empty disables the check.
func (s *Server) SetToken(token string) {
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
}

// Seed inserts contacts directly, bypassing the HTTP layer.
func (s *Server) Seed(contacts ...model.ContactPayload) []model.ContactPayload {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.ContactPayload, 0, len(contacts))
	for _, c := range contacts {
		created, _, _ := s.insertLocked(c)
		out = append(out, created)
	}
	return out
}

// Contacts returns the stored contacts in creation order.
func (s *Server) Contacts() []model.ContactPayload {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.ContactPayload, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.contacts[id])
	}
	return out
}

// Invitations returns the stored invitations.
func (s *Server) Invitations() []model.InvitationPayload {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.InvitationPayload, 0, len(s.invitations))
	for _, inv := range s.invitations {
		out = append(out, inv)
	}
	return out
}

// Calls returns how many requests hit route, e.g. "POST /contacts/bulk".
func (s *Server) Calls(route string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[route]
}

// BulkSizes returns the item count of every bulk create received.
func (s *Server) BulkSizes() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.bulkSizes...)
}
