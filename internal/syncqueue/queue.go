// Package syncqueue is the write-behind half of the engine: local state is
// mutated synchronously and the matching remote write is queued here, then
// reconciled in the background one operation at a time.
//
// Every local mutation goes through Do or Local. Both take the same
// chokepoint lock, so no two mutations interleave.
package syncqueue

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	cerrors "github.com/lendbridge/contactsync/internal/errors"
	"github.com/lendbridge/contactsync/internal/store"
)

var (
	// ErrQueueStopped is returned by Do after Stop.
	ErrQueueStopped = errors.New("syncqueue: stopped")
	// ErrOperationNotFound is returned by Retry and Discard for unknown ids.
	ErrOperationNotFound = errors.New("syncqueue: operation not found")
)

// Config controls a Queue. Zero values fall back to sane defaults.
type Config struct {
	Policy RetryPolicy
	// Store persists the queue under store.KeySyncQueue; nil keeps it in memory only.
	Store store.Store
	// AuthRefresher runs after a 401, before the retry is scheduled.
	AuthRefresher func(ctx context.Context) error
	// ReconcileTimeout bounds a single Reconcile call.
	ReconcileTimeout time.Duration
	Logger           zerolog.Logger
	// Now is the clock; tests replace it.
	Now func() time.Time
}

// Queue serializes local mutations and reconciles their remote counterparts
// strictly one at a time.
type Queue struct {
	cfg Config
	rec Reconciler
	log zerolog.Logger

	chokepoint sync.Mutex

	mu         sync.Mutex
	pending    []*Operation
	inProgress *Operation
	failed     []*Operation
	rejected   []*Operation
	timers     map[string]*time.Timer
	lastSyncAt time.Time
	draining   bool
	paused     bool
	stopped    bool
	subs       map[int]func(SyncState)
	nextSub    int
	flushers   []chan struct{}
	seq        uint64

	turnMu   sync.Mutex
	turnCond *sync.Cond
	turn     uint64

	wg sync.WaitGroup
}

// New builds a queue, restores any persisted operations and starts draining
// them. Operations that were in progress when the process died run again.
func New(ctx context.Context, rec Reconciler, cfg Config) *Queue {
	cfg.Policy = cfg.Policy.withDefaults()
	if cfg.ReconcileTimeout <= 0 {
		cfg.ReconcileTimeout = 30 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	q := &Queue{
		cfg:    cfg,
		rec:    rec,
		log:    cfg.Logger.With().Str("component", "syncqueue").Logger(),
		timers: make(map[string]*time.Timer),
		subs:   make(map[int]func(SyncState)),
	}
	q.turnCond = sync.NewCond(&q.turnMu)
	q.restore(ctx)
	return q
}

// Do runs mutate under the chokepoint and, when it succeeds, queues op.
// The local effect is visible to readers before Do returns, independent of
// whether the remote write ever succeeds. A mutate error aborts: nothing is
// queued.
func Do[T any](q *Queue, op Operation, mutate func() (T, error)) (T, error) {
	return DoBuild(q, mutate, func(T) ([]Operation, error) { return []Operation{op}, nil })
}

// DoBuild is Do for operations that depend on the mutation's result.
// build may return no operations when there is nothing to reconcile.
func DoBuild[T any](q *Queue, mutate func() (T, error), build func(T) ([]Operation, error)) (T, error) {
	q.chokepoint.Lock()
	defer q.chokepoint.Unlock()

	var zero T
	if q.isStopped() {
		return zero, ErrQueueStopped
	}
	v, err := mutate()
	if err != nil {
		return v, err
	}
	ops, err := build(v)
	if err != nil {
		return v, fmt.Errorf("build sync operation: %w", err)
	}
	for _, op := range ops {
		q.enqueue(op)
	}
	return v, nil
}

// Local runs a local-only mutation under the chokepoint.
func (q *Queue) Local(mutate func() error) error {
	q.chokepoint.Lock()
	defer q.chokepoint.Unlock()
	return mutate()
}

// Subscribe registers fn for every state transition and calls it once with
// the current state. Calls are synchronous and ordered. fn may read the queue
// but must not mutate through it. The returned func unsubscribes.
func (q *Queue) Subscribe(fn func(SyncState)) (unsubscribe func()) {
	q.mu.Lock()
	id := q.nextSub
	q.nextSub++
	q.subs[id] = fn
	n := q.noticeLocked()
	n.subs = []func(SyncState){fn}
	n.persist = false
	q.mu.Unlock()
	q.deliver(n)

	return func() {
		q.mu.Lock()
		delete(q.subs, id)
		q.mu.Unlock()
	}
}

// State returns a copy of the current buckets.
func (q *Queue) State() SyncState {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stateLocked()
}

// Retry moves a rejected operation back to pending with a fresh attempt count.
func (q *Queue) Retry(id string) error {
	q.mu.Lock()
	idx := indexOf(q.rejected, id)
	if idx < 0 {
		q.mu.Unlock()
		return ErrOperationNotFound
	}
	op := q.rejected[idx]
	q.rejected = append(q.rejected[:idx], q.rejected[idx+1:]...)
	op.Attempts = 0
	op.NextAttemptAt = time.Time{}
	q.pending = append(q.pending, op)
	q.log.Info().Str("op_id", op.ID).Str("table", string(op.Table)).Msg("rejected operation retried")
	q.commitLocked()
	return nil
}

// RetryRejected moves every rejected operation back to pending.
func (q *Queue) RetryRejected() int {
	q.mu.Lock()
	n := len(q.rejected)
	for _, op := range q.rejected {
		op.Attempts = 0
		op.NextAttemptAt = time.Time{}
		q.pending = append(q.pending, op)
	}
	q.rejected = nil
	if n == 0 {
		q.mu.Unlock()
		return 0
	}
	q.commitLocked()
	return n
}

// Discard drops a rejected operation for good.
func (q *Queue) Discard(id string) error {
	q.mu.Lock()
	idx := indexOf(q.rejected, id)
	if idx < 0 {
		q.mu.Unlock()
		return ErrOperationNotFound
	}
	q.rejected = append(q.rejected[:idx], q.rejected[idx+1:]...)
	q.commitLocked()
	return nil
}

// Pause stops dispatching after the operation in flight, if any.
func (q *Queue) Pause() {
	q.mu.Lock()
	if q.paused {
		q.mu.Unlock()
		return
	}
	q.paused = true
	q.log.Info().Msg("sync queue paused")
	q.commitLocked()
}

// Resume restarts dispatching.
func (q *Queue) Resume() {
	q.mu.Lock()
	if !q.paused {
		q.mu.Unlock()
		return
	}
	q.paused = false
	q.log.Info().Msg("sync queue resumed")
	q.commitLocked()
}

// Flush blocks until nothing runnable is pending or in progress. Failed
// operations waiting on a retry timer do not hold it up, nor do later
// operations on the same entity held behind them.
func (q *Queue) Flush(ctx context.Context) error {
	q.mu.Lock()
	if q.settledLocked() {
		q.mu.Unlock()
		return nil
	}
	if q.stopped {
		q.mu.Unlock()
		return ErrQueueStopped
	}
	ch := make(chan struct{})
	q.flushers = append(q.flushers, ch)
	q.mu.Unlock()

	select {
	case <-ch:
		q.mu.Lock()
		leftover := q.stopped && q.nextRunnableLocked() >= 0
		q.mu.Unlock()
		if leftover {
			// woken by Stop with work left over
			return ErrQueueStopped
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop waits for the operation in flight, cancels retry timers and persists
// the queue. Remaining operations are picked up by the next New. It is
// idempotent.
func (q *Queue) Stop() {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	q.stopped = true
	for id, t := range q.timers {
		t.Stop()
		delete(q.timers, id)
	}
	pending := len(q.pending)
	q.mu.Unlock()

	q.wg.Wait()

	q.mu.Lock()
	flushers := q.flushers
	q.flushers = nil
	q.commitLocked()
	for _, ch := range flushers {
		close(ch)
	}
	q.log.Info().Int("pending", pending).Msg("sync queue stopped")
}

// Close lets Queue satisfy io.Closer.
func (q *Queue) Close() error {
	q.Stop()
	return nil
}

// ------------------------- internals -------------------------

func (q *Queue) isStopped() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stopped
}

func (q *Queue) enqueue(op Operation) {
	if op.ID == "" {
		op.ID = uuid.NewString()
	}
	if op.EnqueuedAt.IsZero() {
		op.EnqueuedAt = q.cfg.Now()
	}
	q.mu.Lock()
	if q.coalesceLocked(&op) {
		opsTotal.WithLabelValues(string(op.Table), "coalesced").Inc()
		q.commitLocked()
		return
	}
	cp := op
	q.pending = append(q.pending, &cp)
	opsTotal.WithLabelValues(string(op.Table), "enqueued").Inc()
	q.log.Debug().Str("op_id", op.ID).Str("kind", string(op.Kind)).Str("table", string(op.Table)).
		Str("entity", op.EntityKey).Msg("operation queued")
	q.commitLocked()
}

// coalesceLocked folds op into a queued, not yet running operation on the
// same entity. It reports whether op was absorbed.
func (q *Queue) coalesceLocked(op *Operation) bool {
	if op.Kind == KindCreate {
		return false
	}
	if q.inProgress != nil && op.sameEntity(q.inProgress) {
		return false
	}
	bucket, idx := q.lastForEntityLocked(op)
	if idx < 0 {
		return false
	}
	prev := (*bucket)[idx]
	switch {
	case op.Kind == KindUpdate && (prev.Kind == KindCreate || prev.Kind == KindUpdate):
		prev.Payload = mergePayload(prev.Payload, op.Payload)
		return true
	case op.Kind == KindDelete && prev.Kind == KindCreate:
		// never reached the remote: both sides vanish
		q.dropLocked(bucket, idx)
		return true
	case op.Kind == KindDelete && prev.Kind == KindUpdate:
		prev.Kind = KindDelete
		prev.Payload = op.Payload
		return true
	}
	return false
}

func (q *Queue) lastForEntityLocked(op *Operation) (*[]*Operation, int) {
	for i := len(q.pending) - 1; i >= 0; i-- {
		if op.sameEntity(q.pending[i]) {
			return &q.pending, i
		}
	}
	for i := len(q.failed) - 1; i >= 0; i-- {
		if op.sameEntity(q.failed[i]) {
			return &q.failed, i
		}
	}
	return nil, -1
}

func (q *Queue) dropLocked(bucket *[]*Operation, idx int) {
	op := (*bucket)[idx]
	if t, ok := q.timers[op.ID]; ok {
		t.Stop()
		delete(q.timers, op.ID)
	}
	*bucket = append((*bucket)[:idx], (*bucket)[idx+1:]...)
}

// nextRunnableLocked returns the index of the oldest pending operation whose
// entity has no earlier write waiting in failed, or -1.
func (q *Queue) nextRunnableLocked() int {
	for i, op := range q.pending {
		if !q.heldLocked(op) {
			return i
		}
	}
	return -1
}

// heldLocked reports whether op must wait for a failed operation on the same
// entity to be retried first.
func (q *Queue) heldLocked(op *Operation) bool {
	for _, f := range q.failed {
		if op.sameEntity(f) {
			return true
		}
	}
	return false
}

func (q *Queue) settledLocked() bool {
	return q.inProgress == nil && q.nextRunnableLocked() < 0
}

func (q *Queue) startDrainLocked() {
	if q.draining || q.paused || q.stopped || q.nextRunnableLocked() < 0 {
		return
	}
	q.draining = true
	q.wg.Add(1)
	go q.drain()
}

func (q *Queue) drain() {
	defer q.wg.Done()
	for {
		q.mu.Lock()
		idx := q.nextRunnableLocked()
		if q.stopped || q.paused || idx < 0 {
			q.draining = false
			q.commitLocked()
			return
		}
		op := q.pending[idx]
		q.pending = slices.Delete(q.pending, idx, idx+1)
		op.Attempts++
		q.inProgress = op
		q.commitLocked()

		err := q.reconcile(*op)

		if err != nil && cerrors.IsAuthExpired(err) && q.cfg.AuthRefresher != nil {
			rctx, cancel := context.WithTimeout(context.Background(), q.cfg.ReconcileTimeout)
			if rerr := q.cfg.AuthRefresher(rctx); rerr != nil {
				q.log.Warn().Err(rerr).Msg("token refresh failed")
			}
			cancel()
		}

		q.mu.Lock()
		q.inProgress = nil
		if err == nil {
			q.lastSyncAt = q.cfg.Now()
			opsTotal.WithLabelValues(string(op.Table), "succeeded").Inc()
			q.commitLocked()
			continue
		}
		q.failLocked(op, err)
		q.commitLocked()
	}
}

func (q *Queue) reconcile(op Operation) (err error) {
	ctx, cancel := context.WithTimeout(context.Background(), q.cfg.ReconcileTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			q.log.Error().Interface("panic", r).Str("op_id", op.ID).Msg("reconciler panic")
			err = fmt.Errorf("reconciler panic: %v", r)
		}
	}()

	start := time.Now()
	err = q.rec.Reconcile(ctx, op)
	reconcileDuration.WithLabelValues(string(op.Table), string(op.Kind)).Observe(time.Since(start).Seconds())
	return err
}

func (q *Queue) failLocked(op *Operation, err error) {
	op.LastError = err.Error()
	wait, reject := q.cfg.Policy.decide(err, op.Attempts)
	if reject || q.stopped {
		if !reject {
			// stopped mid-flight: keep it for the next run
			op.NextAttemptAt = time.Time{}
			q.pending = append([]*Operation{op}, q.pending...)
			return
		}
		q.rejected = append(q.rejected, op)
		opsTotal.WithLabelValues(string(op.Table), "rejected").Inc()
		q.log.Error().Err(err).Str("op_id", op.ID).Str("kind", string(op.Kind)).Str("table", string(op.Table)).
			Int("attempts", op.Attempts).Msg("operation rejected")
		return
	}

	op.NextAttemptAt = q.cfg.Now().Add(wait)
	q.failed = append(q.failed, op)
	q.scheduleLocked(op, wait)
	opsTotal.WithLabelValues(string(op.Table), "failed").Inc()
	q.log.Warn().Err(err).Str("op_id", op.ID).Str("category", cerrors.CategoryOf(err).String()).
		Int("attempts", op.Attempts).Dur("retry_in", wait).Msg("operation failed; retry scheduled")
}

func (q *Queue) scheduleLocked(op *Operation, wait time.Duration) {
	id := op.ID
	q.timers[id] = time.AfterFunc(wait, func() { q.requeue(id) })
}

// requeue moves a failed operation back to pending, ahead of any operation on
// the same entity that was queued while it waited, else at the tail.
func (q *Queue) requeue(id string) {
	q.mu.Lock()
	delete(q.timers, id)
	if q.stopped {
		q.mu.Unlock()
		return
	}
	idx := indexOf(q.failed, id)
	if idx < 0 {
		q.mu.Unlock()
		return
	}
	op := q.failed[idx]
	q.failed = append(q.failed[:idx], q.failed[idx+1:]...)
	op.NextAttemptAt = time.Time{}
	at := slices.IndexFunc(q.pending, op.sameEntity)
	if at < 0 {
		at = len(q.pending)
	}
	q.pending = slices.Insert(q.pending, at, op)
	q.commitLocked()
}

func indexOf(ops []*Operation, id string) int {
	for i, op := range ops {
		if op.ID == id {
			return i
		}
	}
	return -1
}
