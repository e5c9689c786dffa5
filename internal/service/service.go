// Package service is the transport-agnostic facade over the recommender core.
// The HTTP adapter and the CLI both call it; it has no dependency on net/http.
package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"jobmate/recommender-service/internal/auth"
	"jobmate/recommender-service/internal/model"
	"jobmate/recommender-service/internal/normalize"
	"jobmate/recommender-service/internal/recommend"
	"jobmate/recommender-service/internal/registry"
	"jobmate/recommender-service/internal/scraper"
	"jobmate/recommender-service/internal/store"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
	searchCandidates    = 1000
)

// Searcher is the optional full-text index behind list_postings queries.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]string, error)
	IndexPostings(ctx context.Context, postings []model.Posting) error
}

// ─── Service ─────────────────────────────────────────────────────────────────

// Service wires the registry, orchestrator, recommender and store together.
type Service struct {
	store       store.Store
	registry    *registry.Registry
	scans       *scraper.Orchestrator
	recommender *recommend.Recommender
	search      Searcher
	auth        *auth.Authenticator
	now         func() time.Time
	log         *zap.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithSearch routes posting queries through idx and feeds it ad-hoc upserts.
func WithSearch(idx Searcher) Option { return func(s *Service) { s.search = idx } }

// WithAuthenticator sets the key checker behind Authorize and the token
// operations. The default has no static tokens and leaves every call open.
func WithAuthenticator(a *auth.Authenticator) Option { return func(s *Service) { s.auth = a } }

// WithClock replaces the time source. Tests only.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// New returns a configured Service.
func New(
	st store.Store,
	reg *registry.Registry,
	scans *scraper.Orchestrator,
	rec *recommend.Recommender,
	logger *zap.Logger,
	opts ...Option,
) *Service {
	s := &Service{
		store:       st,
		registry:    reg,
		scans:       scans,
		recommender: rec,
		now:         time.Now,
		log:         logger.Named("service"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.auth == nil {
		s.auth = auth.New(st, nil, logger)
	}
	return s
}

// Health pings the store.
func (s *Service) Health(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// ─── Sources ─────────────────────────────────────────────────────────────────

func (s *Service) RegisterSource(ctx context.Context, src model.JobSource) (model.JobSource, error) {
	return s.registry.Register(ctx, src)
}

func (s *Service) UpdateSource(ctx context.Context, src model.JobSource) (model.JobSource, error) {
	return s.registry.Update(ctx, src)
}

func (s *Service) GetSource(ctx context.Context, sourceID string) (model.JobSource, error) {
	return s.registry.Get(ctx, sourceID)
}

func (s *Service) ListSources(ctx context.Context, enabledOnly bool) ([]model.JobSource, error) {
	return s.registry.List(ctx, enabledOnly)
}

// ─── Scans ───────────────────────────────────────────────────────────────────

// ScanSource runs one attempt. Scheduled triggers always respect backoff.
func (s *Service) ScanSource(ctx context.Context, sourceID string, trigger model.Trigger, respectBackoff bool) (model.ScanRecord, error) {
	if strings.TrimSpace(sourceID) == "" {
		return model.ScanRecord{}, model.Invalidf("source_id is required")
	}
	if trigger == model.TriggerScheduled {
		respectBackoff = true
	}
	return s.scans.ScanSource(ctx, sourceID, trigger, respectBackoff)
}

func (s *Service) ScanAll(ctx context.Context, enabledOnly bool, trigger model.Trigger, respectBackoff bool) (model.ScanSummary, error) {
	if trigger == model.TriggerScheduled {
		respectBackoff = true
	}
	return s.scans.ScanAll(ctx, enabledOnly, trigger, respectBackoff)
}

func (s *Service) ScanAllScheduled(ctx context.Context) (model.ScanSummary, error) {
	return s.scans.ScanAllScheduled(ctx)
}

// ListScanHistory returns scan records newest first.
func (s *Service) ListScanHistory(ctx context.Context, filter model.ScanHistoryFilter) ([]model.ScanRecord, error) {
	limit, err := historyLimit(filter.Limit)
	if err != nil {
		return nil, err
	}
	filter.Limit = limit
	return s.store.ListScanRecords(ctx, filter)
}

// ─── Postings ────────────────────────────────────────────────────────────────

// UpsertPostings normalizes and stores an ad-hoc batch. Caller ids are kept;
// a posting without one gets the id derived from its dedup key. The batch is
// rejected whole when any posting is invalid.
func (s *Service) UpsertPostings(ctx context.Context, raws []model.RawPosting) (store.UpsertResult, error) {
	if len(raws) == 0 {
		return store.UpsertResult{}, model.Invalidf("postings must not be empty")
	}

	now := s.now().UTC()
	postings := make([]model.Posting, 0, len(raws))
	for i, raw := range raws {
		p, err := normalize.Normalize(raw, now)
		if err != nil {
			return store.UpsertResult{}, model.Invalidf("postings[%d]: %v", i, err)
		}
		postings = append(postings, p)
	}

	res, err := s.store.UpsertPostings(ctx, postings)
	if err != nil {
		return store.UpsertResult{}, err
	}
	if s.search != nil {
		if err := s.search.IndexPostings(ctx, res.Postings); err != nil {
			s.log.Warn("index postings failed", zap.Int("count", len(res.Postings)), zap.Error(err))
		}
	}
	s.log.Info("postings upserted", zap.Int("inserted", res.Inserted), zap.Int("updated", res.Updated))
	return res, nil
}

// ListPostings returns postings newest first. A text query goes through the
// search index when one is configured and falls back to a substring match in
// the store otherwise.
func (s *Service) ListPostings(ctx context.Context, filter model.PostingFilter) ([]model.Posting, error) {
	if filter.Limit < 0 {
		return nil, model.Invalidf("limit must not be negative")
	}
	filter.Query = strings.TrimSpace(filter.Query)
	if filter.Query == "" || s.search == nil {
		return s.store.ListPostings(ctx, filter)
	}

	ids, err := s.search.Search(ctx, filter.Query, searchCandidates)
	if err != nil {
		return nil, fmt.Errorf("search postings: %w", err)
	}
	filter.Query = ""
	filter.IDs = ids
	return s.store.ListPostings(ctx, filter)
}

// ─── Recommendations ─────────────────────────────────────────────────────────

func (s *Service) Recommend(ctx context.Context, req recommend.Request) (recommend.Response, error) {
	return s.recommender.Recommend(ctx, req)
}

func (s *Service) ListRecommendationHistory(ctx context.Context, limit int) ([]model.RecommendationHistory, error) {
	limit, err := historyLimit(limit)
	if err != nil {
		return nil, err
	}
	return s.store.ListRecommendationHistory(ctx, limit)
}

// ─── Profiles ────────────────────────────────────────────────────────────────

// UpsertProfile creates or replaces a profile. Name defaults to the id.
func (s *Service) UpsertProfile(ctx context.Context, p model.Profile) (model.Profile, error) {
	p.ProfileID = strings.TrimSpace(p.ProfileID)
	if p.ProfileID == "" {
		return model.Profile{}, model.Invalidf("profile_id is required")
	}
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		p.Name = p.ProfileID
	}
	p.Keywords = cleanList(p.Keywords)
	p.Locations = cleanList(p.Locations)
	p.Companies = cleanList(p.Companies)
	p.UpdatedAt = s.now().UTC()
	return s.store.UpsertProfile(ctx, p)
}

func (s *Service) GetProfile(ctx context.Context, profileID string) (model.Profile, error) {
	return s.store.GetProfile(ctx, profileID)
}

func (s *Service) ListProfiles(ctx context.Context) ([]model.Profile, error) {
	return s.store.ListProfiles(ctx)
}

func (s *Service) DeleteProfile(ctx context.Context, profileID string) error {
	if err := s.store.DeleteProfile(ctx, profileID); err != nil {
		return err
	}
	s.log.Info("profile deleted", zap.String("profile_id", profileID))
	return nil
}

// ─── Access control ──────────────────────────────────────────────────────────

// Authorize resolves key and checks it carries the scope op requires.
// Failures wrap auth.ErrUnauthenticated or auth.ErrForbidden.
func (s *Service) Authorize(ctx context.Context, key string, op Operation) (auth.Principal, error) {
	return s.auth.Authorize(ctx, key, string(RequiredScope(op)))
}

// RecordAudit stores ev, filling in the id and timestamp when missing. A
// failed write is logged and does not fail the request it describes.
func (s *Service) RecordAudit(ctx context.Context, ev model.AuditEvent) model.AuditEvent {
	if ev.EventID == "" {
		ev.EventID = uuid.NewString()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = s.now().UTC()
	}
	if err := s.store.AppendAuditEvent(ctx, ev); err != nil {
		s.log.Warn("audit write failed",
			zap.String("event_id", ev.EventID),
			zap.String("action", ev.Action),
			zap.Error(err))
	}
	return ev
}

// ListAuditEvents returns audit events newest first.
func (s *Service) ListAuditEvents(ctx context.Context, filter model.AuditFilter) ([]model.AuditEvent, error) {
	limit, err := historyLimit(filter.Limit)
	if err != nil {
		return nil, err
	}
	filter.Limit = limit
	return s.store.ListAuditEvents(ctx, filter)
}

func (s *Service) IssueToken(ctx context.Context, req auth.IssueRequest) (auth.Issued, error) {
	return s.auth.Issue(ctx, req)
}

func (s *Service) ListTokens(ctx context.Context) ([]model.APIToken, error) {
	return s.auth.List(ctx)
}

func (s *Service) RevokeToken(ctx context.Context, tokenID string) (model.APIToken, error) {
	return s.auth.Revoke(ctx, tokenID)
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

func historyLimit(limit int) (int, error) {
	switch {
	case limit < 0:
		return 0, model.Invalidf("limit must not be negative")
	case limit == 0:
		return defaultHistoryLimit, nil
	case limit > maxHistoryLimit:
		return maxHistoryLimit, nil
	}
	return limit, nil
}

// cleanList trims entries and drops blanks and case-insensitive repeats.
func cleanList(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		k := normalize.Fold(v)
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, v)
	}
	return out
}
