package importer

import (
	"context"
	"errors"
	"fmt"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lendbridge/contactsync/internal/fakeremote"
	"github.com/lendbridge/contactsync/internal/gateway"
	"github.com/lendbridge/contactsync/internal/model"
	"github.com/lendbridge/contactsync/internal/repertoire"
)

// direct applies local mutations in place.
type direct struct{ mu sync.Mutex }

func (d *direct) Local(fn func() error) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return fn()
}

type noToken struct{}

func (noToken) Token(context.Context) (string, error) { return "", gateway.ErrNoToken }
func (noToken) Refresh(context.Context) error          { return nil }

// countingTokens counts refreshes.
type countingTokens struct{ refreshes atomic.Int32 }

func (*countingTokens) Token(context.Context) (string, error) { return "tok", nil }
func (c *countingTokens) Refresh(context.Context) error {
	c.refreshes.Add(1)
	return nil
}

func newGateway(t *testing.T) (*gateway.Client, *fakeremote.Server) {
	t.Helper()
	remote := fakeremote.New(fakeremote.WithToken("tok"))
	srv := httptest.NewServer(remote)
	t.Cleanup(srv.Close)
	gw, err := gateway.New(srv.URL, gateway.StaticToken("tok"), gateway.WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	return gw, remote
}

func setup(t *testing.T, cfg Config) (*Importer, *fakeremote.Server) {
	t.Helper()
	gw, remote := newGateway(t)
	return New(gw, gateway.StaticToken("tok"), &direct{}, cfg, zerolog.Nop()), remote
}

func snapshot(n int) []model.Contact {
	out := make([]model.Contact, n)
	for i := range out {
		out[i] = model.Contact{
			DeviceID: fmt.Sprintf("dev-%d", i),
			Name:     fmt.Sprintf("Contact %d", i),
			Phone:    fmt.Sprintf("+336%08d", i),
		}
	}
	return out
}

func TestImport_AllSucceed(t *testing.T) {
	im, remote := setup(t, Config{LocalBatchSize: 4, RemoteBatchSize: 2})
	rep := repertoire.New()

	report, err := im.Import(context.Background(), snapshot(9), rep, nil)
	require.NoError(t, err)
	assert.True(t, report.Success)
	assert.Equal(t, 9, report.Total)
	assert.Equal(t, 9, report.Succeeded)
	assert.Empty(t, report.Errors)
	assert.Equal(t, 9, rep.Len())
	assert.Len(t, remote.Contacts(), 9)
	assert.Equal(t, []int{2, 2, 2, 2, 1}, remote.BulkSizes())

	for _, e := range rep.List() {
		assert.NotEmpty(t, e.RemoteID)
		assert.Equal(t, model.SourceBulkImport, e.Source)
		assert.False(t, model.IsLocalID(e.ID))
	}
}

func TestImport_PartialBatch(t *testing.T) {
	im, remote := setup(t, Config{LocalBatchSize: 10, RemoteBatchSize: 10, FallbackFanout: 3})
	remote.SetFailBulk(true)
	contacts := snapshot(10)
	remote.RejectPhones(contacts[1].Phone, contacts[4].Phone, contacts[8].Phone)
	rep := repertoire.New()

	report, err := im.Import(context.Background(), contacts, rep, nil)
	require.NoError(t, err)
	assert.False(t, report.Success)
	assert.Equal(t, 10, report.Total)
	assert.Equal(t, 7, report.Succeeded)
	require.Len(t, report.Errors, 3)
	assert.Equal(t, 7, rep.Len())
	assert.Equal(t, 10, remote.Calls("POST /contacts"))

	failed := map[string]bool{}
	for _, e := range report.Errors {
		failed[e.Phone] = true
		assert.NotEmpty(t, e.Message)
		assert.Error(t, e.Err)
	}
	for i, c := range contacts {
		_, ok := rep.Get(c.Phone)
		assert.Equal(t, !failed[c.Phone], ok, "contact %d", i)
	}
}

func TestImport_Idempotent(t *testing.T) {
	im, remote := setup(t, Config{})
	rep := repertoire.New()
	contacts := snapshot(5)

	_, err := im.Import(context.Background(), contacts, rep, nil)
	require.NoError(t, err)

	report, err := im.Import(context.Background(), contacts, rep, nil)
	require.NoError(t, err)
	assert.True(t, report.Success)
	assert.Equal(t, 0, report.Total)
	assert.Equal(t, 5, rep.Len())
	assert.Len(t, remote.Contacts(), 5)
	assert.Len(t, remote.BulkSizes(), 1)
}

func TestImport_DuplicatesInSnapshot(t *testing.T) {
	im, _ := setup(t, Config{})
	rep := repertoire.New()
	contacts := snapshot(3)
	contacts = append(contacts, model.Contact{DeviceID: "dup", Name: "Again", Phone: contacts[0].Phone})

	report, err := im.Import(context.Background(), contacts, rep, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Total)
	assert.Equal(t, 3, rep.Len())
	e, ok := rep.Get(contacts[0].Phone)
	require.True(t, ok)
	assert.Equal(t, "Contact 0", e.Name)
}

func TestImport_ProgressIsMonotonic(t *testing.T) {
	im, _ := setup(t, Config{LocalBatchSize: 5, RemoteBatchSize: 2})
	rep := repertoire.New()

	var seen []Progress
	_, err := im.Import(context.Background(), snapshot(11), rep, func(p Progress) {
		seen = append(seen, p)
	})
	require.NoError(t, err)
	require.NotEmpty(t, seen)
	for i := 1; i < len(seen); i++ {
		assert.GreaterOrEqual(t, seen[i].Processed, seen[i-1].Processed)
	}
	last := seen[len(seen)-1]
	assert.Equal(t, 11, last.Processed)
	assert.Equal(t, 11, last.Total)
}

func TestImport_StopAfterChunk(t *testing.T) {
	im, remote := setup(t, Config{LocalBatchSize: 4, RemoteBatchSize: 2})
	rep := repertoire.New()

	report, err := im.Import(context.Background(), snapshot(8), rep, func(p Progress) {
		if p.Processed == 2 {
			im.Stop()
		}
	})
	require.NoError(t, err)
	assert.True(t, report.Cancelled)
	assert.False(t, report.Success)
	assert.Equal(t, 2, report.Succeeded)
	// unsent items of the interrupted batch are rolled back
	assert.Equal(t, 2, rep.Len())
	assert.Len(t, remote.Contacts(), 2)
}

func TestImport_ContextCancelled(t *testing.T) {
	im, remote := setup(t, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := im.Import(ctx, snapshot(3), repertoire.New(), nil)
	require.NoError(t, err)
	assert.True(t, report.Cancelled)
	assert.Equal(t, 0, report.Succeeded)
	assert.Empty(t, remote.Contacts())
}

func TestImport_NoToken(t *testing.T) {
	gw, err := gateway.New("http://127.0.0.1:1", noToken{})
	require.NoError(t, err)
	im := New(gw, noToken{}, &direct{}, Config{}, zerolog.Nop())

	_, err = im.Import(context.Background(), snapshot(1), repertoire.New(), nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, gateway.ErrNoToken))
}

func TestImport_RejectsConcurrentRun(t *testing.T) {
	im, _ := setup(t, Config{LocalBatchSize: 1, RemoteBatchSize: 1})
	rep := repertoire.New()

	var inner error
	_, err := im.Import(context.Background(), snapshot(2), rep, func(Progress) {
		if inner == nil {
			_, inner = im.Import(context.Background(), snapshot(2), rep, nil)
		}
	})
	require.NoError(t, err)
	assert.ErrorIs(t, inner, ErrImportInProgress)
	assert.False(t, im.Running())
}

func TestImport_MarksBridged(t *testing.T) {
	im, remote := setup(t, Config{})
	contacts := snapshot(4)
	remote.SetBridged(contacts[2].Phone)
	rep := repertoire.New()

	report, err := im.Import(context.Background(), contacts, rep, nil)
	require.NoError(t, err)
	e, ok := rep.Get(contacts[2].Phone)
	require.True(t, ok)
	assert.True(t, e.IsBridgedUser)
	assert.GreaterOrEqual(t, report.Bridged, 0)

	other, _ := rep.Get(contacts[0].Phone)
	assert.False(t, other.IsBridgedUser)
}

func TestImport_RefreshesTokenOnUnauthorizedBulk(t *testing.T) {
	gw, remote := newGateway(t)
	tokens := &countingTokens{}
	im := New(gw, tokens, &direct{}, Config{}, zerolog.Nop())
	remote.UnauthorizedNext(1)
	rep := repertoire.New()

	report, err := im.Import(context.Background(), snapshot(5), rep, nil)
	require.NoError(t, err)
	assert.True(t, report.Success)
	assert.Equal(t, 5, report.Succeeded)
	assert.Equal(t, int32(1), tokens.refreshes.Load())
	assert.Equal(t, 2, remote.Calls("POST /contacts/bulk"))
	assert.Equal(t, 0, remote.Calls("POST /contacts"), "no single creates with a stale token")
	assert.Len(t, remote.Contacts(), 5)
}

func TestImport_WaitsOutRateLimitedBulk(t *testing.T) {
	gw, remote := newGateway(t)
	im := New(gw, &countingTokens{}, &direct{}, Config{RateLimitDelay: 20 * time.Millisecond}, zerolog.Nop())
	remote.RateLimitNext(1, "")
	rep := repertoire.New()

	start := time.Now()
	report, err := im.Import(context.Background(), snapshot(4), rep, nil)
	require.NoError(t, err)
	assert.True(t, report.Success)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	assert.Equal(t, 2, remote.Calls("POST /contacts/bulk"))
	assert.Equal(t, 0, remote.Calls("POST /contacts"))
	assert.Equal(t, 4, rep.Len())
}

func TestImport_FallsBackWhenRetriedBulkFails(t *testing.T) {
	gw, remote := newGateway(t)
	tokens := &countingTokens{}
	im := New(gw, tokens, &direct{}, Config{FallbackFanout: 2}, zerolog.Nop())
	remote.UnauthorizedNext(2)
	rep := repertoire.New()

	report, err := im.Import(context.Background(), snapshot(3), rep, nil)
	require.NoError(t, err)
	assert.True(t, report.Success)
	assert.Equal(t, int32(1), tokens.refreshes.Load())
	assert.Equal(t, 2, remote.Calls("POST /contacts/bulk"))
	assert.Equal(t, 3, remote.Calls("POST /contacts"))
	assert.Equal(t, 3, rep.Len())
}

// shortRemote drops the last bulk result.
type shortRemote struct{ *gateway.Client }

func (s shortRemote) CreateContactsBulk(ctx context.Context, ps []model.ContactPayload) ([]model.ContactPayload, error) {
	res, err := s.Client.CreateContactsBulk(ctx, ps)
	if err != nil || len(res) == 0 {
		return res, err
	}
	return res[:len(res)-1], nil
}

func TestImport_ShortBulkResultFallsBack(t *testing.T) {
	gw, remote := newGateway(t)
	im := New(shortRemote{gw}, &countingTokens{}, &direct{}, Config{}, zerolog.Nop())
	rep := repertoire.New()

	report, err := im.Import(context.Background(), snapshot(4), rep, nil)
	require.NoError(t, err)
	assert.True(t, report.Success)
	assert.Equal(t, 4, report.Succeeded)
	assert.Equal(t, 4, remote.Calls("POST /contacts"))
	for _, e := range rep.List() {
		assert.NotEmpty(t, e.RemoteID)
	}
}

// gatedRemote holds bulk creates until release is closed.
type gatedRemote struct {
	*gateway.Client
	entered chan struct{}
	release chan struct{}
}

func (g gatedRemote) CreateContactsBulk(ctx context.Context, ps []model.ContactPayload) ([]model.ContactPayload, error) {
	g.entered <- struct{}{}
	<-g.release
	return g.Client.CreateContactsBulk(ctx, ps)
}

func TestImport_EntryRemovedDuringBulkIsOrphaned(t *testing.T) {
	gw, remote := newGateway(t)
	gated := gatedRemote{Client: gw, entered: make(chan struct{}, 1), release: make(chan struct{})}
	local := &direct{}

	var mu sync.Mutex
	orphans := map[string]string{}
	im := New(gated, &countingTokens{}, local, Config{}, zerolog.Nop(),
		WithOrphanHandler(func(phone string, p model.ContactPayload) {
			mu.Lock()
			orphans[phone] = p.ID
			mu.Unlock()
		}))
	rep := repertoire.New()
	contacts := snapshot(3)

	type result struct {
		report *Report
		err    error
	}
	done := make(chan result, 1)
	go func() {
		report, err := im.Import(context.Background(), contacts, rep, nil)
		done <- result{report, err}
	}()

	<-gated.entered
	require.NoError(t, local.Local(func() error {
		_, err := rep.Remove(contacts[0].Phone)
		return err
	}))
	close(gated.release)
	res := <-done

	require.NoError(t, res.err)
	assert.Equal(t, 2, res.report.Succeeded)
	assert.Equal(t, 2, rep.Len())
	_, ok := rep.Get(contacts[0].Phone)
	assert.False(t, ok)
	assert.Len(t, remote.Contacts(), 3)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, orphans, 1)
	assert.NotEmpty(t, orphans[contacts[0].Phone])
}
