// Package scraper runs source scans: fetch, normalize, estimate duplicates,
// upsert, then record health and history. One scan per source at a time;
// different sources scan concurrently.
package scraper

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"jobmate/recommender-service/internal/model"
	"jobmate/recommender-service/internal/normalize"
	"jobmate/recommender-service/internal/registry"
	"jobmate/recommender-service/internal/store"
)

const (
	defaultScanTimeout = 60 * time.Second
	defaultConcurrency = 4
)

// Store is the persistence a scan writes to.
type Store interface {
	UpsertPostings(ctx context.Context, postings []model.Posting) (store.UpsertResult, error)
	ListPostings(ctx context.Context, filter model.PostingFilter) ([]model.Posting, error)
	AppendScanRecord(ctx context.Context, rec model.ScanRecord) (model.ScanRecord, error)
}

// Indexer receives every successfully upserted batch.
type Indexer interface {
	IndexPostings(ctx context.Context, postings []model.Posting) error
}

// Orchestrator runs scans against registered sources.
type Orchestrator struct {
	registry    *registry.Registry
	store       Store
	fetcher     Fetcher
	estimator   DuplicateEstimator
	inflight    InFlight
	events      EventPublisher
	indexer     Indexer
	now         func() time.Time
	scanTimeout time.Duration
	concurrency int
	log         *zap.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

func WithEstimator(e DuplicateEstimator) Option { return func(o *Orchestrator) { o.estimator = e } }
func WithInFlight(f InFlight) Option           { return func(o *Orchestrator) { o.inflight = f } }
func WithEvents(p EventPublisher) Option       { return func(o *Orchestrator) { o.events = p } }
func WithIndexer(i Indexer) Option             { return func(o *Orchestrator) { o.indexer = i } }
func WithClock(now func() time.Time) Option    { return func(o *Orchestrator) { o.now = now } }

// WithScanTimeout bounds a whole attempt, fetch included.
func WithScanTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.scanTimeout = d
		}
	}
}

// WithConcurrency sets how many sources ScanAll scans at once.
func WithConcurrency(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.concurrency = n
		}
	}
}

// New returns an Orchestrator with the token duplicate estimator, a
// process-local in-flight marker and no event publishing.
func New(reg *registry.Registry, st Store, fetcher Fetcher, logger *zap.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		registry:    reg,
		store:       st,
		fetcher:     fetcher,
		estimator:   TokenEstimator{Threshold: DefaultDuplicateThreshold},
		inflight:    NewLocalInFlight(),
		events:      nopEvents{},
		now:         time.Now,
		scanTimeout: defaultScanTimeout,
		concurrency: defaultConcurrency,
		log:         logger.Named("scraper"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// ScanSource runs one attempt for sourceID. Fetch and payload failures end in
// a FAILED record and a nil error; the returned error is reserved for unknown
// sources, storage failures and a cancelled ctx. Skipped and cancelled
// attempts are returned but not persisted.
func (o *Orchestrator) ScanSource(
	ctx context.Context,
	sourceID string,
	trigger model.Trigger,
	respectBackoff bool,
) (model.ScanRecord, error) {
	started := o.now().UTC()
	rec := model.ScanRecord{SourceID: sourceID, Trigger: trigger, StartedAt: started}
	at := newAttempt()

	src, err := o.registry.Get(ctx, sourceID)
	if err != nil {
		return model.ScanRecord{}, err
	}
	switch {
	case !src.Enabled:
		return o.skip(rec, at, "source disabled"), nil
	case !o.registry.Eligible(src, respectBackoff):
		return o.skip(rec, at, fmt.Sprintf("backoff until %s", src.NextEligibleScanAt.Format(time.RFC3339))), nil
	}

	release, ok, err := o.inflight.TryAcquire(ctx, sourceID)
	if err != nil {
		return model.ScanRecord{}, err
	}
	if !ok {
		return o.skip(rec, at, "scan already in flight"), nil
	}
	defer release()

	scanCtx, cancel := context.WithTimeout(ctx, o.scanTimeout)
	upserted, runErr := o.run(scanCtx, src, &rec, at)
	cancel()

	// A caller that went away (shutdown) says nothing about the source's
	// health: leave its counters and history untouched.
	if runErr != nil && errors.Is(ctx.Err(), context.Canceled) {
		_ = at.advance(model.ScanFailed)
		rec.Status, rec.Stage = at.state, at.stage
		rec.FinishedAt = o.now().UTC()
		rec.Error = "scan cancelled"
		o.log.Warn("scan cancelled",
			zap.String("source_id", sourceID), zap.String("stage", string(rec.Stage)))
		return rec, fmt.Errorf("scan %s: %w", sourceID, ctx.Err())
	}

	// The attempt is over; bookkeeping must land even if the caller gave up.
	bctx := context.WithoutCancel(ctx)
	rec.FinishedAt = o.now().UTC()

	var (
		fetchErr *model.FetchError
		retErr   error
	)
	outcome := model.SourceSuccess
	switch {
	case runErr == nil:
		_ = at.advance(model.ScanSucceeded)
	case errors.As(runErr, &fetchErr):
		_ = at.advance(model.ScanFailed)
		outcome, rec.Error = model.SourceFailure, fetchErr.Err.Error()
	default:
		_ = at.advance(model.ScanFailed)
		outcome, rec.Error = model.SourceFailure, runErr.Error()
		retErr = runErr
	}
	rec.Status, rec.Stage = at.state, at.stage

	if _, err := o.registry.RecordOutcome(bctx, sourceID, outcome, rec.Error, rec.FinishedAt.Sub(started)); err != nil {
		o.log.Error("record outcome failed", zap.String("source_id", sourceID), zap.Error(err))
		retErr = cmp.Or(retErr, err)
	}
	if stored, err := o.store.AppendScanRecord(bctx, rec); err != nil {
		o.log.Error("append scan record failed", zap.String("source_id", sourceID), zap.Error(err))
		retErr = cmp.Or(retErr, err)
	} else {
		rec = stored
		if err := o.events.PublishScan(bctx, rec); err != nil {
			o.log.Warn("publish "+EventSourceScanned+" failed", zap.String("source_id", sourceID), zap.Error(err))
		}
	}

	if rec.Status == model.ScanSucceeded && o.indexer != nil && len(upserted) > 0 {
		if err := o.indexer.IndexPostings(bctx, upserted); err != nil {
			o.log.Warn("index postings failed", zap.String("source_id", sourceID), zap.Error(err))
		}
	}

	o.log.Info("scan finished",
		zap.String("source_id", sourceID),
		zap.String("trigger", string(trigger)),
		zap.String("status", string(rec.Status)),
		zap.String("stage", string(rec.Stage)),
		zap.Int("seen", rec.PostingsSeen),
		zap.Int("upserted", rec.PostingsUpserted),
		zap.Int("skipped", rec.PostingsSkipped),
		zap.Int("possible_duplicates", rec.PossibleDuplicates),
		zap.Duration("took", rec.FinishedAt.Sub(started)),
	)
	return rec, retErr
}

// run walks FETCHING → NORMALIZING → UPSERTING. Remote and payload problems
// come back as *model.FetchError.
func (o *Orchestrator) run(ctx context.Context, src model.JobSource, rec *model.ScanRecord, at *attempt) ([]model.Posting, error) {
	fail := func(err error) error {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("scan timed out after %s", o.scanTimeout)
		}
		return &model.FetchError{SourceID: src.SourceID, Stage: at.stage, Err: err}
	}

	if err := at.advance(model.ScanFetching); err != nil {
		return nil, err
	}
	items, err := o.fetcher.Fetch(ctx, src)
	if err != nil {
		return nil, fail(err)
	}
	rec.PostingsSeen = len(items)

	if err := at.advance(model.ScanNormalizing); err != nil {
		return nil, err
	}
	batch := o.normalizeBatch(src.SourceID, items, rec)
	if err := ctx.Err(); err != nil {
		return nil, fail(err)
	}

	if len(batch) > 0 {
		ref, err := o.reference(ctx, batch)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fail(err)
			}
			return nil, err
		}
		for i := range batch {
			n, err := o.estimator.EstimatePossibleDuplicates(ctx, batch[i], ref)
			if err != nil {
				o.log.Warn("duplicate estimate failed", zap.String("posting_id", batch[i].ID), zap.Error(err))
				continue
			}
			batch[i].DuplicateHintCount = n
			if n > 0 {
				rec.PossibleDuplicates++
			}
		}
	}

	if err := at.advance(model.ScanUpserting); err != nil {
		return nil, err
	}
	res, err := o.store.UpsertPostings(ctx, batch)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fail(err)
		}
		return nil, err
	}
	rec.PostingsUpserted = res.Upserted()
	return res.Postings, nil
}

// reference loads the stored postings the batch is compared against, limited
// to the batch's companies. Estimators with their own reference get nil.
func (o *Orchestrator) reference(ctx context.Context, batch []model.Posting) (*Reference, error) {
	if owner, ok := o.estimator.(referenceOwner); ok && owner.OwnsReference() {
		return nil, nil
	}
	stored, err := o.store.ListPostings(ctx, model.PostingFilter{})
	if err != nil {
		return nil, err
	}
	wanted := make(map[string]bool, len(batch))
	for _, p := range batch {
		wanted[normalize.Fold(p.Company)] = true
	}
	return NewReference(stored, wanted), nil
}

// normalizeBatch decodes and normalizes every item independently. Ids are
// derived from the dedup key and repeated keys keep the last occurrence at
// the position of the first.
func (o *Orchestrator) normalizeBatch(sourceID string, items []any, rec *model.ScanRecord) []model.Posting {
	now := o.now().UTC()
	batch := make([]model.Posting, 0, len(items))
	index := make(map[string]int, len(items))

	for i, item := range items {
		raw, err := normalize.Decode(item)
		if err == nil {
			raw.ID = ""
			raw.SourceID = sourceID
			var p model.Posting
			if p, err = normalize.Normalize(raw, now); err == nil {
				if at, seen := index[p.DedupKey]; seen {
					batch[at] = p
				} else {
					index[p.DedupKey] = len(batch)
					batch = append(batch, p)
				}
				continue
			}
		}
		rec.PostingsSkipped++
		o.log.Debug("posting skipped",
			zap.String("source_id", sourceID), zap.Int("index", i), zap.Error(err))
	}
	return batch
}

func (o *Orchestrator) skip(rec model.ScanRecord, at *attempt, reason string) model.ScanRecord {
	_ = at.advance(model.ScanSkipped)
	rec.Status, rec.Stage = at.state, at.stage
	rec.FinishedAt = rec.StartedAt
	rec.Error = reason
	o.log.Debug("scan skipped", zap.String("source_id", rec.SourceID), zap.String("reason", reason))
	return rec
}

// ScanAll scans every listed source with bounded concurrency. Records come
// back ordered by source_id; a failing source never aborts the others.
func (o *Orchestrator) ScanAll(
	ctx context.Context,
	enabledOnly bool,
	trigger model.Trigger,
	respectBackoff bool,
) (model.ScanSummary, error) {
	sources, err := o.registry.List(ctx, enabledOnly)
	if err != nil {
		return model.ScanSummary{}, err
	}

	records := make([]model.ScanRecord, len(sources))
	sem := make(chan struct{}, o.concurrency)
	var wg sync.WaitGroup
	for i, src := range sources {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, sourceID string) {
			defer wg.Done()
			defer func() { <-sem }()

			rec, err := o.ScanSource(ctx, sourceID, trigger, respectBackoff)
			if err != nil {
				o.log.Error("scan failed", zap.String("source_id", sourceID), zap.Error(err))
				if rec.SourceID == "" {
					now := o.now().UTC()
					rec = model.ScanRecord{SourceID: sourceID, Trigger: trigger, StartedAt: now, FinishedAt: now, Stage: model.ScanPending}
				}
				rec.Status = model.ScanFailed
				rec.Error = err.Error()
			}
			records[i] = rec
		}(i, src.SourceID)
	}
	wg.Wait()

	summary := model.ScanSummary{RequestedSources: len(sources), Records: records}
	for _, rec := range records {
		switch rec.Status {
		case model.ScanSucceeded:
			summary.SuccessfulSources++
			summary.TotalIngested += rec.PostingsUpserted
		case model.ScanSkipped:
			summary.SkippedSources++
		default:
			summary.FailedSources++
		}
	}
	return summary, nil
}

// ScanAllScheduled is the timer entry point: enabled sources only, backoff
// respected.
func (o *Orchestrator) ScanAllScheduled(ctx context.Context) (model.ScanSummary, error) {
	return o.ScanAll(ctx, true, model.TriggerScheduled, true)
}
