// Package importer moves device contacts into the repertoire and the remote
// collection in batches. Partial failure never loses the successes of
// sibling items, and a re-run over the same snapshot creates nothing twice
// because candidates are always computed against the current repertoire.
package importer

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/lendbridge/contactsync/internal/dedup"
	cerrors "github.com/lendbridge/contactsync/internal/errors"
	"github.com/lendbridge/contactsync/internal/gateway"
	"github.com/lendbridge/contactsync/internal/model"
	"github.com/lendbridge/contactsync/internal/repertoire"
)

// ErrImportInProgress is returned when Import is called while a run is active.
var ErrImportInProgress = errors.New("importer: import already in progress")

// Remote is the part of the gateway the importer needs.
type Remote interface {
	CreateContactsBulk(ctx context.Context, ps []model.ContactPayload) ([]model.ContactPayload, error)
	CreateContact(ctx context.Context, p model.ContactPayload) (model.ContactPayload, error)
	dedup.PhoneVerifier
}

// Tokens supplies the bearer token; an import refuses to start without one.
// Refresh runs once when a bulk create comes back 401.
type Tokens interface {
	Token(ctx context.Context) (string, error)
	Refresh(ctx context.Context) error
}

// Mutator funnels local writes through the engine's chokepoint.
type Mutator interface {
	Local(mutate func() error) error
}

// Config tunes batching.
type Config struct {
	LocalBatchSize  int
	RemoteBatchSize int
	FallbackFanout  int
	VerifyBatchSize int
	BatchPause      time.Duration
	// RateLimitDelay is the minimum wait before retrying a bulk create
	// that was answered 429.
	RateLimitDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.LocalBatchSize <= 0 {
		c.LocalBatchSize = 500
	}
	if c.RemoteBatchSize <= 0 {
		c.RemoteBatchSize = 100
	}
	if c.RemoteBatchSize > c.LocalBatchSize {
		c.RemoteBatchSize = c.LocalBatchSize
	}
	if c.FallbackFanout <= 0 {
		c.FallbackFanout = 8
	}
	if c.VerifyBatchSize <= 0 {
		c.VerifyBatchSize = 200
	}
	if c.RateLimitDelay <= 0 {
		c.RateLimitDelay = 30 * time.Second
	}
	return c
}

// Progress is reported after every remote chunk.
type Progress struct {
	Processed int
	Total     int
}

// ItemError describes one contact that could not be imported.
type ItemError struct {
	DeviceID string `json:"deviceId"`
	Name     string `json:"name"`
	Phone    string `json:"phone"`
	Message  string `json:"message"`
	Err      error  `json:"-"`
}

// Report summarizes a run.
type Report struct {
	Success   bool        `json:"success"`
	Total     int         `json:"total"`
	Succeeded int         `json:"succeeded"`
	Skipped   int         `json:"skipped"`
	Bridged   int         `json:"bridged"`
	Errors    []ItemError `json:"errors"`
	Cancelled bool        `json:"cancelled"`
}

// OrphanFunc receives a contact the remote created after its local entry
// was removed while the request was in flight. It runs outside the
// chokepoint.
type OrphanFunc func(phone string, remote model.ContactPayload)

// Option configures an Importer.
type Option func(*Importer)

// WithOrphanHandler sets the callback for contacts removed mid-import.
func WithOrphanHandler(fn OrphanFunc) Option {
	return func(im *Importer) { im.orphaned = fn }
}

// Importer runs one import at a time.
type Importer struct {
	cfg      Config
	remote   Remote
	tokens   Tokens
	local    Mutator
	log      zerolog.Logger
	now      func() time.Time
	orphaned OrphanFunc

	running atomic.Bool
	stop    atomic.Bool
}

// New builds an importer.
func New(remote Remote, tokens Tokens, local Mutator, cfg Config, log zerolog.Logger, opts ...Option) *Importer {
	im := &Importer{
		cfg:    cfg.withDefaults(),
		remote: remote,
		tokens: tokens,
		local:  local,
		log:    log.With().Str("component", "importer").Logger(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(im)
	}
	if im.orphaned == nil {
		im.orphaned = func(phone string, remote model.ContactPayload) {
			im.log.Warn().Str("phone", phone).Str("remote_id", remote.ID).
				Msg("contact removed during import still exists remotely")
		}
	}
	return im
}

// Running reports whether an import is active.
func (im *Importer) Running() bool { return im.running.Load() }

// Stop asks the active run to end after its current chunk.
func (im *Importer) Stop() {
	if im.running.Load() {
		im.stop.Store(true)
		im.log.Warn().Msg("import stop requested")
	}
}

// Import creates every snapshot contact missing from rep. It only fails when
// a run is already active or no token is available; everything else ends up
// in the report.
func (im *Importer) Import(ctx context.Context, snapshot []model.Contact, rep *repertoire.Repertoire, onProgress func(Progress)) (*Report, error) {
	if !im.running.CompareAndSwap(false, true) {
		return nil, ErrImportInProgress
	}
	defer im.running.Store(false)
	im.stop.Store(false)

	if _, err := im.tokens.Token(ctx); err != nil {
		if !errors.Is(err, gateway.ErrNoToken) {
			err = errors.Join(gateway.ErrNoToken, err)
		}
		return nil, fmt.Errorf("import: %w", err)
	}

	candidates := dedup.Candidates(snapshot, rep.Phones())
	report := &Report{Total: len(candidates), Errors: []ItemError{}}
	im.log.Info().Int("snapshot", len(snapshot)).Int("candidates", len(candidates)).Msg("import started")

	var imported []string
	processed := 0
	progress := func() {
		if onProgress != nil {
			onProgress(Progress{Processed: processed, Total: report.Total})
		}
	}

	for start := 0; start < len(candidates) && !report.Cancelled; start += im.cfg.LocalBatchSize {
		if im.cancelled(ctx) {
			report.Cancelled = true
			break
		}
		batch := candidates[start:min(start+im.cfg.LocalBatchSize, len(candidates))]
		entries := make([]model.RepertoireEntry, 0, len(batch))
		for _, c := range batch {
			entries = append(entries, model.ToEntry(c, model.SourceBulkImport, im.now()))
		}

		// the batch shows up locally before any network call
		var added []model.RepertoireEntry
		_ = im.local.Local(func() error {
			added = rep.AddBatch(entries)
			return nil
		})
		skipped := len(entries) - len(added)
		report.Skipped += skipped
		processed += skipped

		for cs := 0; cs < len(added); cs += im.cfg.RemoteBatchSize {
			chunk := added[cs:min(cs+im.cfg.RemoteBatchSize, len(added))]
			if cs > 0 && im.cfg.BatchPause > 0 {
				im.pause(ctx)
			}
			if im.cancelled(ctx) {
				// never sent: take the rest of this batch back out
				im.rollback(rep, added[cs:])
				report.Cancelled = true
				break
			}

			ok, failed := im.pushChunk(ctx, chunk)
			kept := im.commit(rep, ok, failed)
			for _, e := range kept {
				imported = append(imported, e.local.Phone)
			}
			report.Succeeded += len(kept)
			report.Errors = append(report.Errors, failed...)
			contactsImported.Add(float64(len(kept)))
			contactsFailed.Add(float64(len(failed)))

			processed += len(chunk)
			progress()
		}
		if len(added) == 0 {
			progress()
		}
	}

	if len(imported) > 0 && ctx.Err() == nil {
		bridged, err := dedup.DetectBridged(ctx, im.remote, imported, im.cfg.VerifyBatchSize, im.log)
		if err != nil {
			im.log.Warn().Err(err).Msg("bridged-user verification interrupted")
		}
		_ = im.local.Local(func() error {
			report.Bridged = rep.MarkBridged(bridged, im.now())
			return nil
		})
	}

	report.Success = len(report.Errors) == 0 && !report.Cancelled
	im.log.Info().
		Int("total", report.Total).
		Int("succeeded", report.Succeeded).
		Int("failed", len(report.Errors)).
		Int("bridged", report.Bridged).
		Bool("cancelled", report.Cancelled).
		Msg("import finished")
	return report, nil
}

func (im *Importer) cancelled(ctx context.Context) bool {
	return im.stop.Load() || ctx.Err() != nil
}

func (im *Importer) pause(ctx context.Context) {
	t := time.NewTimer(im.cfg.BatchPause)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

// created pairs a local entry with its remote counterpart.
type created struct {
	local  model.RepertoireEntry
	remote model.ContactPayload
}

// pushChunk tries one bulk create and falls back to concurrent single
// creates when the bulk call fails as a whole.
func (im *Importer) pushChunk(ctx context.Context, chunk []model.RepertoireEntry) ([]created, []ItemError) {
	payloads := make([]model.ContactPayload, len(chunk))
	for i, e := range chunk {
		payloads[i] = e.Payload()
	}

	res, err := im.createBulk(ctx, payloads)
	if err == nil {
		out := make([]created, len(chunk))
		for i := range chunk {
			out[i] = created{local: chunk[i], remote: res[i]}
		}
		return out, nil
	}

	bulkFallbacks.Inc()
	im.log.Warn().Err(err).Int("chunk_size", len(chunk)).Str("category", cerrors.CategoryOf(err).String()).
		Msg("bulk create failed; falling back to single creates")

	results := make([]model.ContactPayload, len(chunk))
	errs := make([]error, len(chunk))
	var g errgroup.Group
	g.SetLimit(im.cfg.FallbackFanout)
	for i := range chunk {
		i := i
		g.Go(func() error {
			results[i], errs[i] = im.remote.CreateContact(ctx, payloads[i])
			// siblings keep going whatever happens here
			return nil
		})
	}
	_ = g.Wait()

	var ok []created
	var failed []ItemError
	for i, e := range chunk {
		if errs[i] != nil {
			failed = append(failed, ItemError{
				DeviceID: e.DeviceID,
				Name:     e.Name,
				Phone:    e.Phone,
				Message:  errs[i].Error(),
				Err:      errs[i],
			})
			continue
		}
		ok = append(ok, created{local: e, remote: results[i]})
	}
	return ok, failed
}

// createBulk sends one bulk create. A 401 refreshes the token and a 429
// waits out the rate limit, each followed by a single retry.
func (im *Importer) createBulk(ctx context.Context, payloads []model.ContactPayload) ([]model.ContactPayload, error) {
	res, err := im.bulkOnce(ctx, payloads)
	switch {
	case err == nil:
		return res, nil
	case cerrors.IsAuthExpired(err):
		im.log.Warn().Err(err).Msg("bulk create unauthorized; refreshing token")
		if rerr := im.tokens.Refresh(ctx); rerr != nil {
			return nil, errors.Join(err, rerr)
		}
	case cerrors.IsRateLimited(err):
		wait := max(im.cfg.RateLimitDelay, cerrors.RetryAfterOf(err))
		im.log.Warn().Err(err).Dur("wait", wait).Msg("bulk create rate limited")
		t := time.NewTimer(wait)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return nil, err
		}
	default:
		return nil, err
	}
	return im.bulkOnce(ctx, payloads)
}

func (im *Importer) bulkOnce(ctx context.Context, payloads []model.ContactPayload) ([]model.ContactPayload, error) {
	res, err := im.remote.CreateContactsBulk(ctx, payloads)
	if err != nil {
		return nil, err
	}
	if len(res) != len(payloads) {
		return nil, cerrors.NewValidationError("bulk create contacts",
			fmt.Errorf("got %d results for %d contacts", len(res), len(payloads)))
	}
	return res, nil
}

// commit records remote ids for ok items and rolls failed ones back. Items
// whose local entry was removed while the request was in flight go to the
// orphan handler; the rest are returned.
func (im *Importer) commit(rep *repertoire.Repertoire, ok []created, failed []ItemError) []created {
	now := im.now()
	kept := make([]created, 0, len(ok))
	var orphans []created
	_ = im.local.Local(func() error {
		for _, c := range ok {
			remote := c.remote
			_, err := rep.Update(c.local.Phone, func(e *model.RepertoireEntry) {
				if remote.ID != "" {
					e.ID = remote.ID
					e.RemoteID = remote.ID
				}
				e.IsBridgedUser = e.IsBridgedUser || remote.IsBridgedUser
				e.UpdatedAt = now
			})
			if errors.Is(err, repertoire.ErrNotFound) {
				orphans = append(orphans, c)
				continue
			}
			kept = append(kept, c)
		}
		if len(failed) > 0 {
			phones := make([]string, len(failed))
			for i, f := range failed {
				phones[i] = f.Phone
			}
			rep.RemoveBatch(phones)
		}
		return nil
	})
	for _, c := range orphans {
		im.orphaned(c.local.Phone, c.remote)
	}
	return kept
}

func (im *Importer) rollback(rep *repertoire.Repertoire, entries []model.RepertoireEntry) {
	phones := make([]string, len(entries))
	for i, e := range entries {
		phones[i] = e.Phone
	}
	_ = im.local.Local(func() error {
		rep.RemoveBatch(phones)
		return nil
	})
}
