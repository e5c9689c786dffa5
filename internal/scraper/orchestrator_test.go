package scraper_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"jobmate/recommender-service/internal/model"
	"jobmate/recommender-service/internal/registry"
	"jobmate/recommender-service/internal/scraper"
	"jobmate/recommender-service/internal/store/sqlite"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingEvents struct {
	mu   sync.Mutex
	recs []model.ScanRecord
}

func (r *recordingEvents) PublishScan(_ context.Context, rec model.ScanRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recs = append(r.recs, rec)
	return nil
}

type recordingIndexer struct {
	mu       sync.Mutex
	postings []model.Posting
}

func (r *recordingIndexer) IndexPostings(_ context.Context, postings []model.Posting) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.postings = append(r.postings, postings...)
	return nil
}

type harness struct {
	store    *sqlite.Store
	registry *registry.Registry
	orch     *scraper.Orchestrator
	clock    *clock
	events   *recordingEvents
	indexer  *recordingIndexer
}

func newHarness(t *testing.T, opts ...scraper.Option) *harness {
	t.Helper()
	ctx := context.Background()
	st, err := sqlite.Open(ctx, filepath.Join(t.TempDir(), "scan.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	h := &harness{
		store:   st,
		clock:   &clock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)},
		events:  &recordingEvents{},
		indexer: &recordingIndexer{},
	}
	h.registry = registry.New(st, registry.DefaultBackoff(), zap.NewNop())
	h.registry.SetClock(h.clock.Now)

	opts = append([]scraper.Option{
		scraper.WithClock(h.clock.Now),
		scraper.WithEvents(h.events),
		scraper.WithIndexer(h.indexer),
	}, opts...)
	h.orch = scraper.New(h.registry, st, scraper.NewSourceFetcher(2*time.Second), zap.NewNop(), opts...)
	return h
}

func (h *harness) register(t *testing.T, id string, typ model.SourceType, config string, enabled bool) {
	t.Helper()
	_, err := h.registry.Register(context.Background(), model.JobSource{
		SourceID: id, SourceType: typ, Config: config, Enabled: enabled,
	})
	require.NoError(t, err)
}

func (h *harness) scanRecords(t *testing.T, sourceID string) []model.ScanRecord {
	t.Helper()
	recs, err := h.store.ListScanRecords(context.Background(), model.ScanHistoryFilter{SourceID: sourceID})
	require.NoError(t, err)
	return recs
}

func TestScanSource_MalformedPostingIsSkipped(t *testing.T) {
	h := newHarness(t)
	h.register(t, "builtin_demo", model.SourceTypeInlineJSON, `[
		{"title": "Backend Engineer", "description": "Build Python APIs"},
		{"title": "   ", "description": "No title"},
		{"title": "ML Engineer", "description": "Train and deploy ML models"}
	]`, true)

	rec, err := h.orch.ScanSource(context.Background(), "builtin_demo", model.TriggerManual, false)
	require.NoError(t, err)
	assert.Equal(t, model.ScanSucceeded, rec.Status)
	assert.Equal(t, model.ScanUpserting, rec.Stage)
	assert.Equal(t, 3, rec.PostingsSeen)
	assert.Equal(t, 2, rec.PostingsUpserted)
	assert.Equal(t, 1, rec.PostingsSkipped)
	assert.NotZero(t, rec.ID)

	src, err := h.registry.Get(context.Background(), "builtin_demo")
	require.NoError(t, err)
	assert.Equal(t, model.SourceSuccess, src.LastStatus)
	assert.Zero(t, src.ConsecutiveFailures)
	require.NotNil(t, src.LastScanAt)

	postings, err := h.store.ListPostings(context.Background(), model.PostingFilter{SourceID: "builtin_demo"})
	require.NoError(t, err)
	assert.Len(t, postings, 2)
	assert.Len(t, h.events.recs, 1)
	assert.Len(t, h.indexer.postings, 2)
}

func TestScanSource_ChangedDescriptionUpdatesOnRescan(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.register(t, "stable_external", model.SourceTypeInlineJSON,
		`[{"external_id": "abc-1", "title": "Backend Engineer", "description": "Build APIs v1"}]`, true)

	_, err := h.orch.ScanSource(ctx, "stable_external", model.TriggerManual, false)
	require.NoError(t, err)

	src, err := h.registry.Get(ctx, "stable_external")
	require.NoError(t, err)
	src.Config = `{"postings": [{"external_id": "abc-1", "title": "Backend Engineer", "description": "Build APIs v2"}]}`
	_, err = h.registry.Update(ctx, src)
	require.NoError(t, err)

	h.clock.Advance(time.Hour)
	rec, err := h.orch.ScanSource(ctx, "stable_external", model.TriggerManual, false)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.PostingsUpserted)

	postings, err := h.store.ListPostings(ctx, model.PostingFilter{SourceID: "stable_external"})
	require.NoError(t, err)
	require.Len(t, postings, 1)
	assert.Equal(t, "Build APIs v2", postings[0].Description)
	assert.True(t, postings[0].LastSeenAt.After(postings[0].FirstSeenAt))
}

func TestScanSource_RepeatedKeysCollapseToLast(t *testing.T) {
	h := newHarness(t)
	h.register(t, "repeats", model.SourceTypeInlineJSON, `[
		{"external_id": 7, "title": "Backend Engineer", "description": "first"},
		{"external_id": "7", "title": "Backend Engineer", "description": "second"}
	]`, true)

	rec, err := h.orch.ScanSource(context.Background(), "repeats", model.TriggerManual, false)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.PostingsUpserted)

	postings, err := h.store.ListPostings(context.Background(), model.PostingFilter{SourceID: "repeats"})
	require.NoError(t, err)
	require.Len(t, postings, 1)
	assert.Equal(t, "second", postings[0].Description)
}

func TestScanSource_FailureBackoffAndScheduledSkip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "upstream down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	h := newHarness(t)
	ctx := context.Background()
	h.register(t, "flaky", model.SourceTypeJSONURL, srv.URL+"/postings.json", true)
	start := h.clock.Now()

	rec, err := h.orch.ScanSource(ctx, "flaky", model.TriggerManual, false)
	require.NoError(t, err, "fetch failures are recorded, not returned")
	assert.Equal(t, model.ScanFailed, rec.Status)
	assert.Equal(t, model.ScanFetching, rec.Stage)
	assert.Contains(t, rec.Error, "503")

	src, err := h.registry.Get(ctx, "flaky")
	require.NoError(t, err)
	assert.Equal(t, 1, src.ConsecutiveFailures)
	require.NotNil(t, src.NextEligibleScanAt)
	assert.True(t, src.NextEligibleScanAt.Equal(start.Add(5*time.Minute)))

	skipped, err := h.orch.ScanSource(ctx, "flaky", model.TriggerScheduled, true)
	require.NoError(t, err)
	assert.Equal(t, model.ScanSkipped, skipped.Status)
	assert.Len(t, h.scanRecords(t, "flaky"), 1, "skips are not persisted")
	src, err = h.registry.Get(ctx, "flaky")
	require.NoError(t, err)
	assert.Equal(t, 1, src.ConsecutiveFailures, "skips do not count as failures")

	h.clock.Advance(5 * time.Minute)
	_, err = h.orch.ScanSource(ctx, "flaky", model.TriggerScheduled, true)
	require.NoError(t, err)
	src, err = h.registry.Get(ctx, "flaky")
	require.NoError(t, err)
	assert.Equal(t, 2, src.ConsecutiveFailures)
	assert.True(t, src.NextEligibleScanAt.Equal(h.clock.Now().Add(10*time.Minute)))
	assert.Len(t, h.scanRecords(t, "flaky"), 2)
}

func TestScanSource_WrongShapeFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"items": []}`))
	}))
	defer srv.Close()

	h := newHarness(t)
	h.register(t, "shape", model.SourceTypeJSONURL, srv.URL, true)

	rec, err := h.orch.ScanSource(context.Background(), "shape", model.TriggerManual, false)
	require.NoError(t, err)
	assert.Equal(t, model.ScanFailed, rec.Status)
	assert.Contains(t, rec.Error, "invalid postings payload")
}

func TestScanSource_RemotePayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		_, _ = w.Write([]byte(`{"postings": [{"title": "Platform Engineer", "description": "Own CI tooling"}]}`))
	}))
	defer srv.Close()

	h := newHarness(t)
	h.register(t, "remote_demo", model.SourceTypeJSONURL, srv.URL+"/postings.json", true)

	rec, err := h.orch.ScanSource(context.Background(), "remote_demo", model.TriggerManual, false)
	require.NoError(t, err)
	assert.Equal(t, model.ScanSucceeded, rec.Status)
	assert.Equal(t, 1, rec.PostingsUpserted)
}

func TestScanSource_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	h := newHarness(t, scraper.WithScanTimeout(50*time.Millisecond))
	h.register(t, "slow", model.SourceTypeJSONURL, srv.URL, true)

	rec, err := h.orch.ScanSource(context.Background(), "slow", model.TriggerManual, false)
	require.NoError(t, err)
	assert.Equal(t, model.ScanFailed, rec.Status)
	assert.Contains(t, rec.Error, "timed out")
	assert.Len(t, h.scanRecords(t, "slow"), 1)
}

func TestScanSource_CallerCancelLeavesHealthAlone(t *testing.T) {
	fetching := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		close(fetching)
		<-r.Context().Done()
	}))
	defer srv.Close()

	h := newHarness(t)
	h.register(t, "slow", model.SourceTypeJSONURL, srv.URL, true)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-fetching
		cancel()
	}()
	rec, err := h.orch.ScanSource(ctx, "slow", model.TriggerScheduled, true)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, model.ScanFailed, rec.Status)
	assert.Equal(t, model.ScanFetching, rec.Stage)

	src, err := h.registry.Get(context.Background(), "slow")
	require.NoError(t, err)
	assert.Equal(t, 0, src.ConsecutiveFailures)
	assert.Nil(t, src.NextEligibleScanAt)
	assert.Equal(t, model.SourceNeverRun, src.LastStatus)
	assert.Empty(t, h.scanRecords(t, "slow"))
	assert.Empty(t, h.events.recs)
}

func TestScanSource_DisabledIsSkipped(t *testing.T) {
	h := newHarness(t)
	h.register(t, "off", model.SourceTypeInlineJSON, `[]`, false)

	rec, err := h.orch.ScanSource(context.Background(), "off", model.TriggerManual, false)
	require.NoError(t, err)
	assert.Equal(t, model.ScanSkipped, rec.Status)
	assert.Equal(t, model.ScanPending, rec.Stage)
	assert.Equal(t, "source disabled", rec.Error)
	assert.Empty(t, h.scanRecords(t, "off"))
	assert.Empty(t, h.events.recs)
}

func TestScanSource_InFlightIsSkipped(t *testing.T) {
	inflight := scraper.NewLocalInFlight()
	h := newHarness(t, scraper.WithInFlight(inflight))
	h.register(t, "busy", model.SourceTypeInlineJSON, `[{"title": "Backend Engineer", "description": "Go"}]`, true)
	ctx := context.Background()

	release, ok, err := inflight.TryAcquire(ctx, "busy")
	require.NoError(t, err)
	require.True(t, ok)

	rec, err := h.orch.ScanSource(ctx, "busy", model.TriggerManual, false)
	require.NoError(t, err)
	assert.Equal(t, model.ScanSkipped, rec.Status)
	assert.Equal(t, "scan already in flight", rec.Error)

	release()
	rec, err = h.orch.ScanSource(ctx, "busy", model.TriggerManual, false)
	require.NoError(t, err)
	assert.Equal(t, model.ScanSucceeded, rec.Status)

	_, ok, err = inflight.TryAcquire(ctx, "busy")
	require.NoError(t, err)
	assert.True(t, ok, "marker must be cleared after the scan")
}

func TestScanSource_UnknownSource(t *testing.T) {
	h := newHarness(t)
	_, err := h.orch.ScanSource(context.Background(), "nope", model.TriggerManual, false)
	assert.True(t, errors.Is(err, model.ErrNotFound))
}

func TestScanSource_FlagsPossibleDuplicates(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.register(t, "board_a", model.SourceTypeInlineJSON,
		`[{"title": "Senior Backend Engineer", "company": "Acme", "description": "Go services"}]`, true)
	h.register(t, "board_b", model.SourceTypeInlineJSON,
		`[{"title": "Backend Engineer, Senior", "company": "ACME", "description": "Go services at scale"},
		  {"title": "Designer", "company": "Acme", "description": "Figma"}]`, true)

	_, err := h.orch.ScanSource(ctx, "board_a", model.TriggerManual, false)
	require.NoError(t, err)
	rec, err := h.orch.ScanSource(ctx, "board_b", model.TriggerManual, false)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.PossibleDuplicates)

	postings, err := h.store.ListPostings(ctx, model.PostingFilter{SourceID: "board_b"})
	require.NoError(t, err)
	require.Len(t, postings, 2)
	hints := map[string]int{}
	for _, p := range postings {
		hints[p.Title] = p.DuplicateHintCount
	}
	assert.Equal(t, 1, hints["Backend Engineer, Senior"])
	assert.Equal(t, 0, hints["Designer"])

	all, err := h.store.ListPostings(ctx, model.PostingFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3, "duplicates are flagged, never merged")
}

// countingStore counts full posting loads made by the orchestrator.
type countingStore struct {
	scraper.Store
	mu    sync.Mutex
	lists int
}

func (c *countingStore) ListPostings(ctx context.Context, f model.PostingFilter) ([]model.Posting, error) {
	c.mu.Lock()
	c.lists++
	c.mu.Unlock()
	return c.Store.ListPostings(ctx, f)
}

type selfReferencedEstimator struct{ calls int }

func (e *selfReferencedEstimator) EstimatePossibleDuplicates(_ context.Context, _ model.Posting, ref *scraper.Reference) (int, error) {
	e.calls++
	if ref != nil {
		return 0, errors.New("reference should not be loaded")
	}
	return 1, nil
}

func (e *selfReferencedEstimator) OwnsReference() bool { return true }

func TestScanSource_ReferenceLoadedOncePerScan(t *testing.T) {
	ctx := context.Background()
	st, err := sqlite.Open(ctx, filepath.Join(t.TempDir(), "ref.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	reg := registry.New(st, registry.DefaultBackoff(), zap.NewNop())
	_, err = reg.Register(ctx, model.JobSource{SourceID: "board", SourceType: model.SourceTypeInlineJSON, Enabled: true, Config: `[
		{"title": "Backend Engineer", "company": "Acme", "description": "Go"},
		{"title": "Frontend Engineer", "company": "Acme", "description": "React"},
		{"title": "Data Engineer", "company": "Globex", "description": "Spark"}
	]`})
	require.NoError(t, err)

	counting := &countingStore{Store: st}
	orch := scraper.New(reg, counting, scraper.NewSourceFetcher(time.Second), zap.NewNop())
	rec, err := orch.ScanSource(ctx, "board", model.TriggerManual, false)
	require.NoError(t, err)
	assert.Equal(t, model.ScanSucceeded, rec.Status)
	assert.Equal(t, 1, counting.lists, "stored postings are loaded once for the whole batch")

	est := &selfReferencedEstimator{}
	counting = &countingStore{Store: st}
	orch = scraper.New(reg, counting, scraper.NewSourceFetcher(time.Second), zap.NewNop(), scraper.WithEstimator(est))
	rec, err = orch.ScanSource(ctx, "board", model.TriggerManual, false)
	require.NoError(t, err)
	assert.Equal(t, 0, counting.lists)
	assert.Equal(t, 3, est.calls)
	assert.Equal(t, 3, rec.PossibleDuplicates)
}

func TestScanAll_IsolatesFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	h := newHarness(t, scraper.WithConcurrency(2))
	h.register(t, "a_inline", model.SourceTypeInlineJSON, `[
		{"title": "Backend Engineer", "description": "Build Python APIs"},
		{"title": "ML Engineer", "description": "Train models"}
	]`, true)
	h.register(t, "b_remote", model.SourceTypeJSONURL, srv.URL, true)
	h.register(t, "c_disabled", model.SourceTypeInlineJSON, `[]`, false)

	summary, err := h.orch.ScanAll(context.Background(), false, model.TriggerManual, false)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.RequestedSources)
	assert.Equal(t, 1, summary.SuccessfulSources)
	assert.Equal(t, 1, summary.FailedSources)
	assert.Equal(t, 1, summary.SkippedSources)
	assert.Equal(t, 2, summary.TotalIngested)
	require.Len(t, summary.Records, 3)
	assert.Equal(t, "a_inline", summary.Records[0].SourceID)
	assert.Equal(t, "b_remote", summary.Records[1].SourceID)
	assert.Equal(t, "c_disabled", summary.Records[2].SourceID)

	enabledOnly, err := h.orch.ScanAllScheduled(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, enabledOnly.RequestedSources)
	assert.Equal(t, 1, enabledOnly.SkippedSources, "failed remote is inside its backoff window")
}
