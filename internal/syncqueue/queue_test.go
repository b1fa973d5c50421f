package syncqueue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	cerrors "github.com/lendbridge/contactsync/internal/errors"
	"github.com/lendbridge/contactsync/internal/store"
)

func fastPolicy() RetryPolicy {
	return RetryPolicy{BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, RateLimitDelay: 5 * time.Millisecond}
}

func newQueue(t *testing.T, rec Reconciler, mod ...func(*Config)) *Queue {
	t.Helper()
	cfg := Config{Policy: fastPolicy(), Logger: zerolog.Nop()}
	for _, m := range mod {
		m(&cfg)
	}
	q := New(context.Background(), rec, cfg)
	t.Cleanup(q.Stop)
	return q
}

func mustOperation(kind Kind, table Table, key string, payload any) Operation {
	o, err := NewOperation(kind, table, key, payload)
	if err != nil {
		panic(err)
	}
	return o
}

func op(kind Kind, key string, payload any) Operation {
	return mustOperation(kind, TableContacts, key, payload)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

type recorder struct {
	mu   sync.Mutex
	keys []string
}

func (r *recorder) Reconcile(_ context.Context, op Operation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys = append(r.keys, op.EntityKey)
	return nil
}

func (r *recorder) seen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.keys...)
}

func TestDo_OptimisticVisibility(t *testing.T) {
	release := make(chan struct{})
	rec := ReconcilerFunc(func(ctx context.Context, _ Operation) error {
		<-release
		return nil
	})
	q := newQueue(t, rec)
	t.Cleanup(func() { close(release) })

	local := map[string]string{}
	got, err := Do(q, op(KindCreate, "local-1", map[string]string{"name": "A"}), func() (string, error) {
		local["+33600000001"] = "A"
		return "local-1", nil
	})
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	if got != "local-1" {
		t.Fatalf("unexpected result %q", got)
	}
	// remote never answers, yet the local effect is already there
	if local["+33600000001"] != "A" {
		t.Fatal("local mutation not visible after Do returned")
	}
	if n := q.State().Outstanding(); n != 1 {
		t.Fatalf("expected 1 outstanding op, got %d", n)
	}
}

func TestDo_MutatorErrorEnqueuesNothing(t *testing.T) {
	q := newQueue(t, &recorder{})
	boom := errors.New("duplicate")
	_, err := Do(q, op(KindCreate, "local-1", nil), func() (int, error) { return 0, boom })
	if !errors.Is(err, boom) {
		t.Fatalf("expected mutator error, got %v", err)
	}
	if st := q.State(); st.Outstanding() != 0 {
		t.Fatalf("nothing should be queued, got %+v", st)
	}
}

func TestDrain_FIFO(t *testing.T) {
	rec := &recorder{}
	q := newQueue(t, rec)
	q.Pause()

	var want []string
	for i := 0; i < 20; i++ {
		key := string(rune('a' + i))
		want = append(want, key)
		if _, err := Do(q, op(KindCreate, key, nil), func() (struct{}, error) { return struct{}{}, nil }); err != nil {
			t.Fatalf("do: %v", err)
		}
	}
	q.Resume()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := q.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
	got := rec.seen()
	if len(got) != len(want) {
		t.Fatalf("expected %d reconciles, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order mismatch at %d: %v", i, got)
		}
	}
}

func TestDrain_HoldsEntityBehindFailedOperation(t *testing.T) {
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	var failedOnce atomic.Bool
	var mu sync.Mutex
	var order []string
	rec := ReconcilerFunc(func(_ context.Context, o Operation) error {
		var p struct {
			Count int `json:"count"`
		}
		if err := o.Decode(&p); err != nil {
			return err
		}
		mu.Lock()
		order = append(order, o.EntityKey+":"+string(rune('0'+p.Count)))
		mu.Unlock()
		if o.EntityKey == "a" && p.Count == 1 && failedOnce.CompareAndSwap(false, true) {
			started <- struct{}{}
			<-release
			return cerrors.NewNetworkError("update contact", errors.New("connection reset"))
		}
		return nil
	})
	q := newQueue(t, rec, func(c *Config) {
		c.Policy = RetryPolicy{BaseDelay: 30 * time.Millisecond, MaxDelay: 30 * time.Millisecond, RateLimitDelay: 30 * time.Millisecond}
	})
	nop := func() (int, error) { return 0, nil }

	if _, err := Do(q, op(KindUpdate, "a", map[string]int{"count": 1}), nop); err != nil {
		t.Fatal(err)
	}
	<-started
	// queued while the first update is running, so neither coalesces into it
	if _, err := Do(q, op(KindUpdate, "a", map[string]int{"count": 2}), nop); err != nil {
		t.Fatal(err)
	}
	if _, err := Do(q, op(KindUpdate, "b", map[string]int{"count": 0}), nop); err != nil {
		t.Fatal(err)
	}
	close(release)

	waitFor(t, "queue to drain", func() bool {
		st := q.State()
		return st.Idle() && st.Outstanding() == 0
	})

	mu.Lock()
	got := append([]string(nil), order...)
	mu.Unlock()
	want := []string{"a:1", "b:0", "a:1", "a:2"}
	if len(got) != len(want) {
		t.Fatalf("expected reconciles %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected reconciles %v, got %v", want, got)
		}
	}
}

func TestFlush_IgnoresOperationsHeldBehindFailure(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	rec := ReconcilerFunc(func(context.Context, Operation) error {
		if fail.Load() {
			return cerrors.NewNetworkError("sync contact", errors.New("offline"))
		}
		return nil
	})
	q := newQueue(t, rec, func(c *Config) {
		c.Policy = RetryPolicy{BaseDelay: time.Hour, MaxDelay: time.Hour, RateLimitDelay: time.Hour}
	})
	nop := func() (int, error) { return 0, nil }
	if _, err := Do(q, op(KindDelete, "a", map[string]string{"id": "r-1"}), nop); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "first attempt to fail", func() bool { return len(q.State().Failed) == 1 })
	// re-added before the delete reached the remote; must wait for it
	if _, err := Do(q, op(KindCreate, "a", map[string]string{"name": "A"}), nop); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := q.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
	st := q.State()
	if len(st.Failed) != 1 || len(st.Pending) != 1 || len(st.InProgress) != 0 {
		t.Fatalf("create should be held behind the failed delete, got %+v", st)
	}
}

func TestDrain_SerialExecution(t *testing.T) {
	var running, maxRunning int32
	rec := ReconcilerFunc(func(context.Context, Operation) error {
		n := atomic.AddInt32(&running, 1)
		for {
			m := atomic.LoadInt32(&maxRunning)
			if n <= m || atomic.CompareAndSwapInt32(&maxRunning, m, n) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		atomic.AddInt32(&running, -1)
		return nil
	})
	q := newQueue(t, rec)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = Do(q, op(KindCreate, string(rune('a'+i)), nil), func() (int, error) { return i, nil })
		}(i)
	}
	wg.Wait()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := q.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if m := atomic.LoadInt32(&maxRunning); m != 1 {
		t.Fatalf("expected serial reconciles, saw %d concurrent", m)
	}
}

func TestRetry_EventuallyResolves(t *testing.T) {
	var calls int32
	rec := ReconcilerFunc(func(context.Context, Operation) error {
		if atomic.AddInt32(&calls, 1) <= 3 {
			return cerrors.NewNetworkError("create contact", errors.New("connection reset"))
		}
		return nil
	})
	q := newQueue(t, rec)
	if _, err := Do(q, op(KindCreate, "local-1", nil), func() (bool, error) { return true, nil }); err != nil {
		t.Fatalf("do: %v", err)
	}

	waitFor(t, "queue to drain", func() bool {
		st := q.State()
		return st.Idle() && !st.LastSyncAt.IsZero()
	})
	if n := atomic.LoadInt32(&calls); n != 4 {
		t.Fatalf("expected 4 attempts, got %d", n)
	}
}

func TestPermanent_RejectedThenRetried(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	rec := ReconcilerFunc(func(context.Context, Operation) error {
		if fail.Load() {
			return cerrors.NewHTTPError(422, `{"error":"bad phone"}`, "create contact")
		}
		return nil
	})
	q := newQueue(t, rec)
	if _, err := Do(q, op(KindCreate, "local-1", nil), func() (int, error) { return 1, nil }); err != nil {
		t.Fatalf("do: %v", err)
	}
	waitFor(t, "rejection", func() bool { return len(q.State().Rejected) == 1 })

	st := q.State()
	if st.Rejected[0].Attempts != 1 {
		t.Fatalf("permanent errors must not be retried, attempts=%d", st.Rejected[0].Attempts)
	}
	if st.Rejected[0].LastError == "" {
		t.Fatal("rejected op should carry its error")
	}

	fail.Store(false)
	if err := q.Retry(st.Rejected[0].ID); err != nil {
		t.Fatalf("retry: %v", err)
	}
	waitFor(t, "retried op to succeed", func() bool {
		st := q.State()
		return st.Idle() && len(st.Rejected) == 0
	})
	if err := q.Retry("nope"); !errors.Is(err, ErrOperationNotFound) {
		t.Fatalf("expected ErrOperationNotFound, got %v", err)
	}
}

func TestMaxAttempts_Rejects(t *testing.T) {
	var calls int32
	rec := ReconcilerFunc(func(context.Context, Operation) error {
		atomic.AddInt32(&calls, 1)
		return errors.New("still down")
	})
	q := newQueue(t, rec, func(c *Config) { c.Policy.MaxAttempts = 2 })
	if _, err := Do(q, op(KindUpdate, "srv-1", nil), func() (int, error) { return 1, nil }); err != nil {
		t.Fatalf("do: %v", err)
	}
	waitFor(t, "rejection", func() bool { return len(q.State().Rejected) == 1 })
	if n := atomic.LoadInt32(&calls); n != 2 {
		t.Fatalf("expected 2 attempts, got %d", n)
	}
}

func TestAuthExpired_RefreshesToken(t *testing.T) {
	var refreshed, calls int32
	rec := ReconcilerFunc(func(context.Context, Operation) error {
		if atomic.AddInt32(&calls, 1) == 1 {
			return cerrors.NewHTTPError(401, "", "create contact")
		}
		if atomic.LoadInt32(&refreshed) == 0 {
			return errors.New("token was not refreshed")
		}
		return nil
	})
	q := newQueue(t, rec, func(c *Config) {
		c.AuthRefresher = func(context.Context) error {
			atomic.AddInt32(&refreshed, 1)
			return nil
		}
	})
	if _, err := Do(q, op(KindCreate, "local-1", nil), func() (int, error) { return 1, nil }); err != nil {
		t.Fatalf("do: %v", err)
	}
	waitFor(t, "drain", func() bool { return q.State().Idle() && atomic.LoadInt32(&calls) >= 2 })
	if atomic.LoadInt32(&refreshed) != 1 {
		t.Fatalf("expected one refresh, got %d", refreshed)
	}
	if st := q.State(); len(st.Rejected) != 0 {
		t.Fatal("401 must never reject an operation")
	}
}

func TestRateLimited_HonoursRetryAfter(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rec := ReconcilerFunc(func(context.Context, Operation) error {
		return cerrors.NewHTTPError(429, "", "create contact").WithRetryAfter("2", t0)
	})
	q := newQueue(t, rec, func(c *Config) { c.Now = func() time.Time { return t0 } })
	if _, err := Do(q, op(KindCreate, "local-1", nil), func() (int, error) { return 1, nil }); err != nil {
		t.Fatalf("do: %v", err)
	}
	waitFor(t, "failure", func() bool { return len(q.State().Failed) == 1 })
	failed := q.State().Failed[0]
	if got := failed.NextAttemptAt.Sub(t0); got != 2*time.Second {
		t.Fatalf("expected Retry-After of 2s to win over the 5ms floor, got %v", got)
	}
}

func TestCoalescing(t *testing.T) {
	q := newQueue(t, &recorder{})
	q.Pause()
	nop := func() (int, error) { return 0, nil }

	mustDo := func(o Operation) {
		t.Helper()
		if _, err := Do(q, o, nop); err != nil {
			t.Fatalf("do: %v", err)
		}
	}

	t.Run("update merges into queued create", func(t *testing.T) {
		mustDo(op(KindCreate, "local-a", map[string]any{"name": "A", "phone": "+33600000001"}))
		mustDo(op(KindUpdate, "local-a", map[string]any{"name": "A2"}))
		st := q.State()
		if len(st.Pending) != 1 || st.Pending[0].Kind != KindCreate {
			t.Fatalf("expected a single create, got %+v", st.Pending)
		}
		var p map[string]string
		if err := json.Unmarshal(st.Pending[0].Payload, &p); err != nil {
			t.Fatal(err)
		}
		if p["name"] != "A2" || p["phone"] != "+33600000001" {
			t.Fatalf("payload not merged: %v", p)
		}
	})

	t.Run("delete after queued create drops both", func(t *testing.T) {
		mustDo(op(KindDelete, "local-a", nil))
		if n := len(q.State().Pending); n != 0 {
			t.Fatalf("expected nothing pending, got %d", n)
		}
	})

	t.Run("delete replaces queued update", func(t *testing.T) {
		mustDo(op(KindUpdate, "srv-b", map[string]any{"name": "B"}))
		mustDo(op(KindDelete, "srv-b", map[string]any{"id": "srv-b"}))
		st := q.State()
		if len(st.Pending) != 1 || st.Pending[0].Kind != KindDelete {
			t.Fatalf("expected a single delete, got %+v", st.Pending)
		}
	})

	t.Run("create is never coalesced", func(t *testing.T) {
		mustDo(op(KindCreate, "local-c", nil))
		mustDo(op(KindCreate, "local-d", nil))
		if n := len(q.State().Pending); n != 3 {
			t.Fatalf("expected 3 pending, got %d", n)
		}
	})
}

func TestCoalescing_SkipsInProgress(t *testing.T) {
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	rec := ReconcilerFunc(func(_ context.Context, o Operation) error {
		if o.Kind == KindCreate {
			started <- struct{}{}
			<-release
		}
		return nil
	})
	q := newQueue(t, rec)
	nop := func() (int, error) { return 0, nil }
	if _, err := Do(q, op(KindCreate, "local-a", map[string]any{"name": "A"}), nop); err != nil {
		t.Fatal(err)
	}
	<-started
	if _, err := Do(q, op(KindDelete, "local-a", nil), nop); err != nil {
		t.Fatal(err)
	}
	st := q.State()
	if len(st.InProgress) != 1 || len(st.Pending) != 1 || st.Pending[0].Kind != KindDelete {
		t.Fatalf("delete must queue behind the running create, got %+v", st)
	}
	close(release)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := q.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
}

func TestPersistence_RestoresAcrossRestart(t *testing.T) {
	mem := store.NewMemory()
	first := New(context.Background(), &recorder{}, Config{Policy: fastPolicy(), Store: mem, Logger: zerolog.Nop()})
	first.Pause()
	for _, k := range []string{"a", "b", "c"} {
		if _, err := Do(first, op(KindCreate, k, nil), func() (int, error) { return 0, nil }); err != nil {
			t.Fatal(err)
		}
	}
	first.Stop()

	rec := &recorder{}
	second := newQueue(t, rec, func(c *Config) { c.Store = mem })
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := second.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
	got := rec.seen()
	if len(got) != 3 || got[0] != "a" || got[2] != "c" {
		t.Fatalf("restored ops not replayed in order: %v", got)
	}

	var persisted SyncState
	if err := store.GetJSON(ctx, mem, store.KeySyncQueue, &persisted); err != nil {
		t.Fatalf("load persisted: %v", err)
	}
	if persisted.Outstanding() != 0 {
		t.Fatalf("persisted queue should be empty after drain, got %+v", persisted)
	}
}

func TestSubscribe_OrderedTransitions(t *testing.T) {
	q := newQueue(t, &recorder{})
	var mu sync.Mutex
	var seen []string
	unsubscribe := q.Subscribe(func(st SyncState) {
		mu.Lock()
		defer mu.Unlock()
		switch {
		case len(st.InProgress) == 1:
			seen = append(seen, "running")
		case len(st.Pending) == 1:
			seen = append(seen, "pending")
		case st.Idle():
			seen = append(seen, "idle")
		default:
			seen = append(seen, "other")
		}
	})
	defer unsubscribe()

	if _, err := Do(q, op(KindCreate, "a", nil), func() (int, error) { return 0, nil }); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := q.Flush(ctx); err != nil {
		t.Fatal(err)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{"idle", "pending", "running", "idle"}
	if len(seen) < len(want) {
		t.Fatalf("too few notifications: %v", seen)
	}
	for i, w := range want {
		if seen[i] != w {
			t.Fatalf("transition %d: want %s, got %v", i, w, seen)
		}
	}
}

func TestSubscriberPanicDoesNotBreakQueue(t *testing.T) {
	q := newQueue(t, &recorder{})
	q.Subscribe(func(SyncState) { panic("ui bug") })
	if _, err := Do(q, op(KindCreate, "a", nil), func() (int, error) { return 0, nil }); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := q.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
}

func TestStop_Idempotent(t *testing.T) {
	q := New(context.Background(), &recorder{}, Config{Logger: zerolog.Nop()})
	q.Stop()
	q.Stop()
	_, err := Do(q, op(KindCreate, "a", nil), func() (int, error) { return 0, nil })
	if !errors.Is(err, ErrQueueStopped) {
		t.Fatalf("expected ErrQueueStopped, got %v", err)
	}
}

func TestFlush_HonoursContextWhilePaused(t *testing.T) {
	q := newQueue(t, &recorder{})
	q.Pause()
	if _, err := Do(q, op(KindCreate, "a", nil), func() (int, error) { return 0, nil }); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := q.Flush(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestReconcilerPanicIsRetried(t *testing.T) {
	var calls int32
	rec := ReconcilerFunc(func(context.Context, Operation) error {
		if atomic.AddInt32(&calls, 1) == 1 {
			panic("nil map")
		}
		return nil
	})
	q := newQueue(t, rec)
	if _, err := Do(q, op(KindCreate, "a", nil), func() (int, error) { return 0, nil }); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "recovery", func() bool { return q.State().Idle() && atomic.LoadInt32(&calls) == 2 })
}
