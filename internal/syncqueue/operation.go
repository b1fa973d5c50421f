package syncqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind is the remote mutation an operation performs.
type Kind string

const (
	KindCreate Kind = "create"
	KindUpdate Kind = "update"
	KindDelete Kind = "delete"
)

// Table names the remote collection an operation targets.
type Table string

const (
	TableContacts    Table = "contacts"
	TableInvitations Table = "invitations"
)

// Operation is one queued remote mutation. It is plain data so that it can
// be persisted across restarts and merged with later operations on the same
// entity.
type Operation struct {
	ID            string          `json:"id"`
	Kind          Kind            `json:"kind"`
	Table         Table           `json:"table"`
	EntityKey     string          `json:"entityKey"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	EnqueuedAt    time.Time       `json:"enqueuedAt"`
	Attempts      int             `json:"attempts"`
	LastError     string          `json:"lastError,omitempty"`
	NextAttemptAt time.Time       `json:"nextAttemptAt,omitzero"`
}

// NewOperation builds an operation with a fresh id and payload encoded as JSON.
// entityKey is the local identity of the entity: the normalized phone for
// contacts, the local id for invitations.
func NewOperation(kind Kind, table Table, entityKey string, payload any) (Operation, error) {
	op := Operation{
		ID:         uuid.NewString(),
		Kind:       kind,
		Table:      table,
		EntityKey:  entityKey,
		EnqueuedAt: time.Now().UTC(),
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return Operation{}, fmt.Errorf("encode %s %s payload: %w", table, kind, err)
		}
		op.Payload = raw
	}
	return op, nil
}

// Decode unmarshals the payload into v.
func (op Operation) Decode(v any) error {
	if len(op.Payload) == 0 {
		return fmt.Errorf("operation %s has no payload", op.ID)
	}
	return json.Unmarshal(op.Payload, v)
}

func (op Operation) sameEntity(other *Operation) bool {
	return op.Table == other.Table && op.EntityKey == other.EntityKey
}

// mergePayload overlays the top level fields of next onto base. Non-object
// payloads are replaced wholesale.
func mergePayload(base, next json.RawMessage) json.RawMessage {
	if len(base) == 0 {
		return next
	}
	if len(next) == 0 {
		return base
	}
	var b, n map[string]json.RawMessage
	if json.Unmarshal(base, &b) != nil || json.Unmarshal(next, &n) != nil {
		return next
	}
	for k, v := range n {
		b[k] = v
	}
	out, err := json.Marshal(b)
	if err != nil {
		return next
	}
	return out
}

// Reconciler performs an operation against the remote system of record.
type Reconciler interface {
	Reconcile(ctx context.Context, op Operation) error
}

// ReconcilerFunc adapts a function to a Reconciler.
type ReconcilerFunc func(ctx context.Context, op Operation) error

// Reconcile implements Reconciler.
func (f ReconcilerFunc) Reconcile(ctx context.Context, op Operation) error { return f(ctx, op) }
