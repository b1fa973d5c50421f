// Package fakeremote is an in-process stand-in for the remote contact
// collection. It speaks the same REST dialect as the real service and has
// knobs to inject the failures the sync engine must survive. Tests mount it
// with httptest; cmd/devremote serves it on a port.
package fakeremote

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/lendbridge/contactsync/internal/model"
)

// Server holds the remote collection in memory.
type Server struct {
	log    zerolog.Logger
	router *mux.Router

	mu          sync.Mutex
	contacts    map[string]model.ContactPayload
	order       []string
	invitations map[string]model.InvitationPayload
	nextID      int

	token            string
	bridged          map[string]bool
	rejected         map[string]bool
	failBulk         bool
	unauthorizedNext int
	rateLimitNext    int
	retryAfter       string
	unavailableNext  int
	calls            map[string]int
	bulkSizes        []int
}

// Option configures a Server.
type Option func(*Server)

// WithToken makes every request require "Authorization: Bearer <token>".
func WithToken(token string) Option {
	return func(s *Server) { s.token = token }
}

// WithLogger sets the server logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Server) { s.log = l }
}

// WithBridged marks phones as registered platform accounts.
func WithBridged(phones ...string) Option {
	return func(s *Server) {
		for _, p := range phones {
			s.bridged[p] = true
		}
	}
}

// New returns an empty collection.
func New(opts ...Option) *Server {
	s := &Server{
		log:         zerolog.Nop(),
		contacts:    make(map[string]model.ContactPayload),
		invitations: make(map[string]model.InvitationPayload),
		bridged:     make(map[string]bool),
		rejected:    make(map[string]bool),
		calls:       make(map[string]int),
	}
	for _, o := range opts {
		o(s)
	}
	s.router = s.routes()
	return s
}

// ServeHTTP lets Server be mounted directly.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.recoverMiddleware)
	r.Use(s.faultMiddleware)

	r.HandleFunc("/healthz", s.health).Methods(http.MethodGet)
	r.HandleFunc("/contacts", s.createContact).Methods(http.MethodPost)
	r.HandleFunc("/contacts", s.listContacts).Methods(http.MethodGet)
	r.HandleFunc("/contacts/bulk", s.createContactsBulk).Methods(http.MethodPost)
	r.HandleFunc("/contacts/verify-phones", s.verifyPhones).Methods(http.MethodPost)
	r.HandleFunc("/contacts/{id}", s.updateContact).Methods(http.MethodPatch)
	r.HandleFunc("/contacts/{id}", s.deleteContact).Methods(http.MethodDelete)
	r.HandleFunc("/invitations", s.createInvitation).Methods(http.MethodPost)
	r.HandleFunc("/invitations", s.listInvitations).Methods(http.MethodGet)
	r.HandleFunc("/invitations/{id}", s.updateInvitation).Methods(http.MethodPatch)
	return r
}

// faultMiddleware counts calls, checks the token and injects scripted failures.
func (s *Server) faultMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := r.Method + " " + routeName(r)

		s.mu.Lock()
		s.calls[route]++
		status, retryAfter := 0, ""
		switch {
		case r.URL.Path == "/healthz":
		case s.unauthorizedNext > 0:
			s.unauthorizedNext--
			status = http.StatusUnauthorized
		case s.token != "" && r.Header.Get("Authorization") != "Bearer "+s.token:
			status = http.StatusUnauthorized
		case s.rateLimitNext > 0:
			s.rateLimitNext--
			status, retryAfter = http.StatusTooManyRequests, s.retryAfter
		case s.unavailableNext > 0:
			s.unavailableNext--
			status = http.StatusServiceUnavailable
		}
		s.mu.Unlock()

		if status != 0 {
			if retryAfter != "" {
				w.Header().Set("Retry-After", retryAfter)
			}
			s.writeError(w, status, "injected")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func routeName(r *http.Request) string {
	if cur := mux.CurrentRoute(r); cur != nil {
		if tpl, err := cur.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return r.URL.Path
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type bulkRequest struct {
	Contacts []model.ContactPayload `json:"contacts"`
}

type bulkResponse struct {
	Contacts []model.ContactPayload `json:"contacts"`
}

type verifyRequest struct {
	Phones []string `json:"phones"`
}

type verifyResponse struct {
	Results map[string]bool `json:"results"`
}

type listResponse struct {
	Contacts []model.ContactPayload `json:"contacts"`
	Page     int                    `json:"page"`
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	return dec.Decode(v)
}

func (s *Server) createContact(w http.ResponseWriter, r *http.Request) {
	var in model.ContactPayload
	if err := decode(r, &in); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.mu.Lock()
	out, status, msg := s.insertLocked(in)
	s.mu.Unlock()
	if msg != "" {
		s.writeError(w, status, msg)
		return
	}
	s.writeJSON(w, status, out)
}

// insertLocked creates a contact. A phone already present returns the
// existing record with 200 so retried creates never duplicate.
func (s *Server) insertLocked(in model.ContactPayload) (model.ContactPayload, int, string) {
	if in.Phone == "" || !strings.HasPrefix(in.Phone, "+") {
		return model.ContactPayload{}, http.StatusUnprocessableEntity, "phone must be normalized"
	}
	if s.rejected[in.Phone] {
		return model.ContactPayload{}, http.StatusUnprocessableEntity, "phone rejected: " + in.Phone
	}
	for _, id := range s.order {
		if c := s.contacts[id]; c.Phone == in.Phone {
			return c, http.StatusOK, ""
		}
	}
	s.nextID++
	in.ID = fmt.Sprintf("srv-%d", s.nextID)
	in.IsBridgedUser = in.IsBridgedUser || s.bridged[in.Phone]
	s.contacts[in.ID] = in
	s.order = append(s.order, in.ID)
	return in, http.StatusCreated, ""
}

func (s *Server) createContactsBulk(w http.ResponseWriter, r *http.Request) {
	var in bulkRequest
	if err := decode(r, &in); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bulkSizes = append(s.bulkSizes, len(in.Contacts))
	if s.failBulk {
		s.writeError(w, http.StatusInternalServerError, "bulk create unavailable")
		return
	}
	// all or nothing: validate before inserting anything
	for _, c := range in.Contacts {
		if s.rejected[c.Phone] || c.Phone == "" {
			s.writeError(w, http.StatusUnprocessableEntity, "phone rejected: "+c.Phone)
			return
		}
	}
	out := bulkResponse{Contacts: make([]model.ContactPayload, 0, len(in.Contacts))}
	for _, c := range in.Contacts {
		created, _, _ := s.insertLocked(c)
		out.Contacts = append(out.Contacts, created)
	}
	s.writeJSON(w, http.StatusCreated, out)
}

func (s *Server) listContacts(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = 50
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := listResponse{Page: page, Contacts: []model.ContactPayload{}}
	start := (page - 1) * limit
	for i := start; i < len(s.order) && i < start+limit; i++ {
		out.Contacts = append(out.Contacts, s.contacts[s.order[i]])
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) updateContact(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var patch map[string]json.RawMessage
	if err := decode(r, &patch); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.contacts[id]
	if !ok {
		s.writeError(w, http.StatusNotFound, "contact not found")
		return
	}
	raw, _ := json.Marshal(cur)
	var merged map[string]json.RawMessage
	_ = json.Unmarshal(raw, &merged)
	for k, v := range patch {
		if k == "id" || k == "phone" {
			continue
		}
		merged[k] = v
	}
	raw, _ = json.Marshal(merged)
	var next model.ContactPayload
	if err := json.Unmarshal(raw, &next); err != nil {
		s.writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	next.ID, next.Phone = cur.ID, cur.Phone
	s.contacts[id] = next
	s.writeJSON(w, http.StatusOK, next)
}

func (s *Server) deleteContact(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.contacts[id]; !ok {
		s.writeError(w, http.StatusNotFound, "contact not found")
		return
	}
	delete(s.contacts, id)
	for i, o := range s.order {
		if o == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) verifyPhones(w http.ResponseWriter, r *http.Request) {
	var in verifyRequest
	if err := decode(r, &in); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := verifyResponse{Results: make(map[string]bool, len(in.Phones))}
	for _, p := range in.Phones {
		out.Results[p] = s.bridged[p]
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) createInvitation(w http.ResponseWriter, r *http.Request) {
	var in model.InvitationPayload
	if err := decode(r, &in); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !in.Channel.Valid() {
		s.writeError(w, http.StatusUnprocessableEntity, "unknown channel")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	in.ID = fmt.Sprintf("inv-%d", s.nextID)
	if in.Status == "" {
		in.Status = model.InvitationSent
	}
	s.invitations[in.ID] = in
	s.writeJSON(w, http.StatusCreated, in)
}

func (s *Server) listInvitations(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.InvitationPayload, 0, len(s.invitations))
	for _, inv := range s.invitations {
		out = append(out, inv)
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"invitations": out})
}

func (s *Server) updateInvitation(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var in model.InvitationPayload
	if err := decode(r, &in); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.invitations[id]
	if !ok {
		s.writeError(w, http.StatusNotFound, "invitation not found")
		return
	}
	if in.Status != "" {
		cur.Status = in.Status
	}
	if in.RetryCount > cur.RetryCount {
		cur.RetryCount = in.RetryCount
	}
	s.invitations[id] = cur
	s.writeJSON(w, http.StatusOK, cur)
}
