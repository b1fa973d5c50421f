package syncqueue

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/lendbridge/contactsync/internal/store"
)

// SyncState is a point-in-time copy of the queue's buckets.
type SyncState struct {
	Pending    []Operation `json:"pending"`
	InProgress []Operation `json:"inProgress"`
	Failed     []Operation `json:"failed"`
	Rejected   []Operation `json:"rejected"`
	LastSyncAt time.Time   `json:"lastSyncAt,omitzero"`
	Paused     bool        `json:"paused"`
}

// Idle reports whether nothing is pending, running, or waiting to retry.
func (s SyncState) Idle() bool {
	return len(s.Pending) == 0 && len(s.InProgress) == 0 && len(s.Failed) == 0
}

// Outstanding counts operations that will still reach the remote.
func (s SyncState) Outstanding() int {
	return len(s.Pending) + len(s.InProgress) + len(s.Failed)
}

// Touches reports whether an unfinished operation targets the entity.
func (s SyncState) Touches(table Table, entityKey string) bool {
	for _, b := range [][]Operation{s.Pending, s.InProgress, s.Failed} {
		for _, op := range b {
			if op.Table == table && op.EntityKey == entityKey {
				return true
			}
		}
	}
	return false
}

func (q *Queue) stateLocked() SyncState {
	st := SyncState{
		Pending:    copyOps(q.pending),
		InProgress: []Operation{},
		Failed:     copyOps(q.failed),
		Rejected:   copyOps(q.rejected),
		LastSyncAt: q.lastSyncAt,
		Paused:     q.paused,
	}
	if q.inProgress != nil {
		st.InProgress = append(st.InProgress, *q.inProgress)
	}
	return st
}

func copyOps(ops []*Operation) []Operation {
	out := make([]Operation, len(ops))
	for i, op := range ops {
		out[i] = *op
	}
	return out
}

// notice is one transition waiting to be published.
type notice struct {
	seq      uint64
	state    SyncState
	subs     []func(SyncState)
	flushers []chan struct{}
	persist  bool
}

// noticeLocked captures the current state and reserves its publication slot.
func (q *Queue) noticeLocked() notice {
	n := notice{seq: q.seq, state: q.stateLocked(), persist: true}
	q.seq++

	ids := make([]int, 0, len(q.subs))
	for id := range q.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		n.subs = append(n.subs, q.subs[id])
	}
	if q.settledLocked() {
		n.flushers = q.flushers
		q.flushers = nil
	}
	return n
}

// commitLocked kicks the drain loop if needed, releases q.mu and publishes
// the transition. Must be called with q.mu held.
func (q *Queue) commitLocked() {
	q.startDrainLocked()
	n := q.noticeLocked()
	q.mu.Unlock()
	q.deliver(n)
}

// deliver publishes notices strictly in the order they were captured.
func (q *Queue) deliver(n notice) {
	q.turnMu.Lock()
	for q.turn != n.seq {
		q.turnCond.Wait()
	}
	q.turnMu.Unlock()

	n.state.observe()
	if n.persist {
		q.persist(n.state)
	}
	for _, fn := range n.subs {
		q.safeNotify(fn, n.state)
	}
	for _, ch := range n.flushers {
		close(ch)
	}

	q.turnMu.Lock()
	q.turn++
	q.turnCond.Broadcast()
	q.turnMu.Unlock()
}

func (q *Queue) safeNotify(fn func(SyncState), st SyncState) {
	// Guard against panics in the user-supplied subscriber.
	defer func() {
		if r := recover(); r != nil {
			q.log.Error().Interface("panic", r).Msg("sync state subscriber panic")
		}
	}()
	fn(st)
}

func (q *Queue) persist(st SyncState) {
	if q.cfg.Store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := store.SetJSON(ctx, q.cfg.Store, store.KeySyncQueue, st); err != nil {
		q.log.Warn().Err(err).Msg("persist sync queue failed")
	}
}

// restore reloads a persisted queue. In-progress operations go back to the
// head of pending; failed ones keep their remaining retry delay.
func (q *Queue) restore(ctx context.Context) {
	if q.cfg.Store == nil {
		return
	}
	var st SyncState
	if err := store.GetJSON(ctx, q.cfg.Store, store.KeySyncQueue, &st); err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			q.log.Warn().Err(err).Msg("load sync queue failed; starting empty")
		}
		return
	}

	q.mu.Lock()
	for _, op := range append(st.InProgress, st.Pending...) {
		cp := op
		q.pending = append(q.pending, &cp)
	}
	now := q.cfg.Now()
	for _, op := range st.Failed {
		cp := op
		q.failed = append(q.failed, &cp)
		q.scheduleLocked(&cp, max(0, cp.NextAttemptAt.Sub(now)))
	}
	for _, op := range st.Rejected {
		cp := op
		q.rejected = append(q.rejected, &cp)
	}
	q.lastSyncAt = st.LastSyncAt
	q.log.Info().Int("pending", len(q.pending)).Int("failed", len(q.failed)).Int("rejected", len(q.rejected)).
		Msg("sync queue restored")
	q.commitLocked()
}
