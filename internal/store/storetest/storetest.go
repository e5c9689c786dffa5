// Package storetest is a conformance suite every store.Store backend must pass.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobmate/recommender-service/internal/model"
	"jobmate/recommender-service/internal/normalize"
	"jobmate/recommender-service/internal/store"
)

// Factory returns an empty, migrated store. The suite closes it.
type Factory func(t *testing.T) store.Store

var base = time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)

// Run executes the whole suite against newStore.
func Run(t *testing.T, newStore Factory) {
	cases := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"sources", testSources},
		{"source health", testSourceHealth},
		{"upsert idempotent", testUpsertIdempotent},
		{"upsert refreshes fields", testUpsertRefreshesFields},
		{"upsert by id re-keys edited posting", testUpsertByIDRekeys},
		{"upsert id conflict rolls back batch", testUpsertRollsBack},
		{"list postings filters", testListPostings},
		{"scan records", testScanRecords},
		{"recommendation history", testRecommendationHistory},
		{"profiles", testProfiles},
		{"audit events", testAuditEvents},
		{"api tokens", testAPITokens},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			s := newStore(t)
			t.Cleanup(func() { _ = s.Close() })
			c.fn(t, s)
		})
	}
}

func posting(t *testing.T, raw model.RawPosting, at time.Time) model.Posting {
	t.Helper()
	p, err := normalize.Normalize(raw, at)
	require.NoError(t, err)
	return p
}

func source(id string, enabled bool) model.JobSource {
	return model.JobSource{
		SourceID:   id,
		Name:       "Source " + id,
		SourceType: model.SourceTypeInlineJSON,
		Config:     `[]`,
		Enabled:    enabled,
		LastStatus: model.SourceNeverRun,
		CreatedAt:  base,
		UpdatedAt:  base,
	}
}

func testSources(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.CreateSource(ctx, source("b", true)))
	require.NoError(t, s.CreateSource(ctx, source("a", false)))

	err := s.CreateSource(ctx, source("a", true))
	assert.True(t, model.IsConflict(err), "duplicate source_id must be a ConflictError, got %v", err)

	all, err := s.ListSources(ctx, false)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "a", all[0].SourceID)
	assert.Equal(t, "b", all[1].SourceID)

	enabled, err := s.ListSources(ctx, true)
	require.NoError(t, err)
	require.Len(t, enabled, 1)
	assert.Equal(t, "b", enabled[0].SourceID)

	upd := all[0]
	upd.Config = `[{"title":"x","description":"y"}]`
	upd.Enabled = true
	upd.UpdatedAt = base.Add(time.Minute)
	require.NoError(t, s.UpdateSource(ctx, upd))
	got, err := s.GetSource(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, upd.Config, got.Config)
	assert.True(t, got.Enabled)

	_, err = s.GetSource(ctx, "missing")
	assert.True(t, errors.Is(err, model.ErrNotFound))
	err = s.UpdateSource(ctx, source("missing", true))
	assert.True(t, errors.Is(err, model.ErrNotFound))
}

func testSourceHealth(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.CreateSource(ctx, source("h", true)))

	src, err := s.GetSource(ctx, "h")
	require.NoError(t, err)
	assert.Nil(t, src.LastScanAt)
	assert.Nil(t, src.NextEligibleScanAt)
	assert.Equal(t, model.SourceNeverRun, src.LastStatus)

	scanned := base.Add(time.Hour)
	next := scanned.Add(10 * time.Minute)
	src.LastScanAt = &scanned
	src.NextEligibleScanAt = &next
	src.LastStatus = model.SourceFailure
	src.LastError = "remote returned 503"
	src.ConsecutiveFailures = 2
	src.LastDurationMS = 1500
	src.UpdatedAt = scanned
	require.NoError(t, s.UpdateSourceHealth(ctx, src))

	got, err := s.GetSource(ctx, "h")
	require.NoError(t, err)
	require.NotNil(t, got.LastScanAt)
	require.NotNil(t, got.NextEligibleScanAt)
	assert.True(t, got.LastScanAt.Equal(scanned))
	assert.True(t, got.NextEligibleScanAt.Equal(next))
	assert.Equal(t, model.SourceFailure, got.LastStatus)
	assert.Equal(t, 2, got.ConsecutiveFailures)
	assert.Equal(t, int64(1500), got.LastDurationMS)

	got.NextEligibleScanAt = nil
	got.ConsecutiveFailures = 0
	got.LastStatus = model.SourceSuccess
	require.NoError(t, s.UpdateSourceHealth(ctx, got))
	cleared, err := s.GetSource(ctx, "h")
	require.NoError(t, err)
	assert.Nil(t, cleared.NextEligibleScanAt)
}

func testUpsertIdempotent(t *testing.T, s store.Store) {
	ctx := context.Background()
	raw := model.RawPosting{SourceID: "src", ExternalID: "abc-1", Title: "Backend Engineer", Description: "Build APIs v1"}

	first := posting(t, raw, base)
	res, err := s.UpsertPostings(ctx, []model.Posting{first})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Inserted)
	assert.Equal(t, 0, res.Updated)

	second := posting(t, raw, base.Add(2*time.Hour))
	res, err = s.UpsertPostings(ctx, []model.Posting{second})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Inserted)
	assert.Equal(t, 1, res.Updated)
	require.Len(t, res.Postings, 1)
	assert.Equal(t, first.ID, res.Postings[0].ID)

	all, err := s.ListPostings(ctx, model.PostingFilter{})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, first.DedupKey, all[0].DedupKey)
	assert.True(t, all[0].FirstSeenAt.Equal(base), "first_seen_at must be kept, got %v", all[0].FirstSeenAt)
	assert.True(t, all[0].LastSeenAt.Equal(base.Add(2*time.Hour)), "last_seen_at must advance, got %v", all[0].LastSeenAt)
}

func testUpsertRefreshesFields(t *testing.T, s store.Store) {
	ctx := context.Background()
	v1 := posting(t, model.RawPosting{SourceID: "stable", ExternalID: "abc-1", Title: "Backend Engineer", Description: "Build APIs v1"}, base)
	_, err := s.UpsertPostings(ctx, []model.Posting{v1})
	require.NoError(t, err)

	v2 := posting(t, model.RawPosting{SourceID: "stable", ExternalID: "abc-1", Title: "Backend Engineer", Description: "Build APIs v2", Location: "Remote"}, base.Add(time.Hour))
	v2.DuplicateHintCount = 2
	_, err = s.UpsertPostings(ctx, []model.Posting{v2})
	require.NoError(t, err)

	all, err := s.ListPostings(ctx, model.PostingFilter{SourceID: "stable"})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "Build APIs v2", all[0].Description)
	assert.Equal(t, "Remote", all[0].Location)
	assert.Equal(t, 2, all[0].DuplicateHintCount)
	assert.Equal(t, "abc-1", all[0].ExternalID)
}

func testUpsertByIDRekeys(t *testing.T, s store.Store) {
	ctx := context.Background()
	v1 := posting(t, model.RawPosting{ID: "job-7", Title: "Backend Engineer", Description: "Build Python APIs"}, base)
	_, err := s.UpsertPostings(ctx, []model.Posting{v1})
	require.NoError(t, err)

	v2 := posting(t, model.RawPosting{ID: "job-7", Title: "Backend Engineer", Description: "Build Go APIs"}, base.Add(time.Hour))
	require.NotEqual(t, v1.DedupKey, v2.DedupKey)
	res, err := s.UpsertPostings(ctx, []model.Posting{v2})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Inserted)
	assert.Equal(t, 1, res.Updated)
	require.Len(t, res.Postings, 1)
	assert.True(t, res.Postings[0].FirstSeenAt.Equal(base))

	all, err := s.ListPostings(ctx, model.PostingFilter{})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "job-7", all[0].ID)
	assert.Equal(t, "Build Go APIs", all[0].Description)
	assert.Equal(t, v2.DedupKey, all[0].DedupKey)
	assert.True(t, all[0].FirstSeenAt.Equal(base), "first_seen_at must be kept, got %v", all[0].FirstSeenAt)
	assert.True(t, all[0].LastSeenAt.Equal(base.Add(time.Hour)), "last_seen_at must advance, got %v", all[0].LastSeenAt)
}

func testUpsertRollsBack(t *testing.T, s store.Store) {
	ctx := context.Background()
	first := posting(t, model.RawPosting{ID: "job-1", Title: "Backend Engineer", Description: "Build Python APIs"}, base)
	second := posting(t, model.RawPosting{ID: "job-2", Title: "ML Engineer", Description: "Train models"}, base)
	_, err := s.UpsertPostings(ctx, []model.Posting{first, second})
	require.NoError(t, err)

	// job-1 with job-2's content names two different rows.
	fresh := posting(t, model.RawPosting{Title: "Data Engineer", Description: "Build ETL pipelines"}, base)
	clash := posting(t, model.RawPosting{ID: "job-1", Title: "ML Engineer", Description: "Train models"}, base)
	_, err = s.UpsertPostings(ctx, []model.Posting{fresh, clash})
	require.Error(t, err)
	assert.True(t, model.IsConflict(err), "ambiguous id must be a ConflictError, got %v", err)

	all, err := s.ListPostings(ctx, model.PostingFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2, "failed batch must not leave partial rows")
	assert.ElementsMatch(t, []string{"job-1", "job-2"}, []string{all[0].ID, all[1].ID})
}

func testListPostings(t *testing.T, s store.Store) {
	ctx := context.Background()
	older := posting(t, model.RawPosting{SourceID: "a", ExternalID: "1", Title: "Backend Engineer", Company: "Acme", Description: "Go services"}, base)
	newer := posting(t, model.RawPosting{SourceID: "b", ExternalID: "2", Title: "Data Engineer", Company: "Globex", Description: "ETL_pipelines 100%"}, base.Add(time.Hour))
	tieA := posting(t, model.RawPosting{ID: "tie-a", Title: "Tie A", Description: "same time"}, base.Add(30*time.Minute))
	tieB := posting(t, model.RawPosting{ID: "tie-b", Title: "Tie B", Description: "same time"}, base.Add(30*time.Minute))
	_, err := s.UpsertPostings(ctx, []model.Posting{older, newer, tieB, tieA})
	require.NoError(t, err)

	all, err := s.ListPostings(ctx, model.PostingFilter{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, []string{newer.ID, "tie-a", "tie-b", older.ID}, []string{all[0].ID, all[1].ID, all[2].ID, all[3].ID})

	limited, err := s.ListPostings(ctx, model.PostingFilter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	bySource, err := s.ListPostings(ctx, model.PostingFilter{SourceID: "a"})
	require.NoError(t, err)
	require.Len(t, bySource, 1)
	assert.Equal(t, older.ID, bySource[0].ID)

	byQuery, err := s.ListPostings(ctx, model.PostingFilter{Query: "acme"})
	require.NoError(t, err)
	require.Len(t, byQuery, 1)
	assert.Equal(t, older.ID, byQuery[0].ID)

	literal, err := s.ListPostings(ctx, model.PostingFilter{Query: "100%"})
	require.NoError(t, err)
	require.Len(t, literal, 1)
	assert.Equal(t, newer.ID, literal[0].ID)

	byIDs, err := s.ListPostings(ctx, model.PostingFilter{IDs: []string{"tie-b", older.ID}})
	require.NoError(t, err)
	assert.Len(t, byIDs, 2)

	none, err := s.ListPostings(ctx, model.PostingFilter{IDs: []string{}})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func testScanRecords(t *testing.T, s store.Store) {
	ctx := context.Background()
	recs := []model.ScanRecord{
		{SourceID: "a", Trigger: model.TriggerManual, Status: model.ScanSucceeded, Stage: model.ScanUpserting, StartedAt: base, FinishedAt: base.Add(time.Second), PostingsSeen: 3, PostingsUpserted: 2, PostingsSkipped: 1},
		{SourceID: "b", Trigger: model.TriggerScheduled, Status: model.ScanFailed, Stage: model.ScanFetching, StartedAt: base.Add(time.Minute), FinishedAt: base.Add(time.Minute), Error: "remote returned 500"},
		{SourceID: "a", Trigger: model.TriggerScheduled, Status: model.ScanSucceeded, Stage: model.ScanUpserting, StartedAt: base.Add(2 * time.Minute), FinishedAt: base.Add(2 * time.Minute)},
	}
	for _, r := range recs {
		stored, err := s.AppendScanRecord(ctx, r)
		require.NoError(t, err)
		assert.NotZero(t, stored.ID)
	}

	all, err := s.ListScanRecords(ctx, model.ScanHistoryFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.True(t, all[0].StartedAt.Equal(base.Add(2*time.Minute)), "newest first")

	scheduled, err := s.ListScanRecords(ctx, model.ScanHistoryFilter{Trigger: model.TriggerScheduled})
	require.NoError(t, err)
	assert.Len(t, scheduled, 2)

	onlyA, err := s.ListScanRecords(ctx, model.ScanHistoryFilter{SourceID: "a", Limit: 1})
	require.NoError(t, err)
	require.Len(t, onlyA, 1)
	assert.Equal(t, model.TriggerScheduled, onlyA[0].Trigger)

	failed := all[1]
	assert.Equal(t, model.ScanFailed, failed.Status)
	assert.Equal(t, model.ScanFetching, failed.Stage)
	assert.Equal(t, "remote returned 500", failed.Error)
}

func testRecommendationHistory(t *testing.T, s store.Store) {
	ctx := context.Background()
	first, err := s.AppendRecommendationHistory(ctx, model.RecommendationHistory{
		CreatedAt: base, ResumeSnippet: "Python backend", Source: "stored", ResultCount: 2,
		TopPostingIDs: []string{"p1", "p2"},
	})
	require.NoError(t, err)
	assert.NotZero(t, first.ID)

	_, err = s.AppendRecommendationHistory(ctx, model.RecommendationHistory{
		CreatedAt: base.Add(time.Minute), ResumeSnippet: "Go engineer", ProfileID: "remote", Source: "adhoc",
	})
	require.NoError(t, err)

	runs, err := s.ListRecommendationHistory(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "remote", runs[0].ProfileID)
	assert.Empty(t, runs[0].TopPostingIDs)
	assert.Equal(t, []string{"p1", "p2"}, runs[1].TopPostingIDs)

	limited, err := s.ListRecommendationHistory(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func testProfiles(t *testing.T, s store.Store) {
	ctx := context.Background()
	p := model.Profile{
		ProfileID: "wesley_remote",
		Name:      "Remote Python",
		Preferences: model.Preferences{
			Keywords:   []string{"python", "api"},
			Locations:  []string{"Remote"},
			RemoteOnly: true,
		},
		CreatedAt: base,
		UpdatedAt: base,
	}
	stored, err := s.UpsertProfile(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, []string{"python", "api"}, stored.Keywords)
	assert.Empty(t, stored.Companies)

	p.Name = "Renamed"
	p.Companies = []string{"Acme Labs"}
	p.UpdatedAt = base.Add(time.Hour)
	updated, err := s.UpsertProfile(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", updated.Name)
	assert.Equal(t, []string{"Acme Labs"}, updated.Companies)
	assert.True(t, updated.CreatedAt.Equal(base), "created_at must survive an update")

	got, err := s.GetProfile(ctx, "wesley_remote")
	require.NoError(t, err)
	assert.True(t, got.RemoteOnly)

	list, err := s.ListProfiles(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, s.DeleteProfile(ctx, "wesley_remote"))
	_, err = s.GetProfile(ctx, "wesley_remote")
	assert.True(t, errors.Is(err, model.ErrNotFound))
	assert.True(t, errors.Is(s.DeleteProfile(ctx, "wesley_remote"), model.ErrNotFound))
}

func testAuditEvents(t *testing.T, s store.Store) {
	ctx := context.Background()
	events := []model.AuditEvent{
		{EventID: "ev-1", CreatedAt: base, RequestID: "req-1", Action: "scan_all", Status: model.AuditOK,
			Actor: "ops", Transport: "http", Method: "POST", Path: "/job-sources/scan", StatusCode: 200},
		{EventID: "ev-2", CreatedAt: base, RequestID: "req-2", Action: "upsert_postings",
			Status: model.AuditUnauthorized, Transport: "http", Method: "POST", Path: "/postings", StatusCode: 401},
		{EventID: "ev-3", CreatedAt: base, RequestID: "req-3", Action: "upsert_postings", Status: model.AuditOK,
			Actor: "ci", Transport: "grpc", Method: "UpsertPostings", StatusCode: 0},
	}
	for _, ev := range events {
		require.NoError(t, s.AppendAuditEvent(ctx, ev))
	}
	assert.True(t, model.IsConflict(s.AppendAuditEvent(ctx, events[0])), "event_id must be unique")

	// Same created_at everywhere: order falls back to insertion.
	all, err := s.ListAuditEvents(ctx, model.AuditFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"ev-3", "ev-2", "ev-1"}, []string{all[0].EventID, all[1].EventID, all[2].EventID})
	assert.Equal(t, events[1].Path, all[1].Path)
	assert.Equal(t, 401, all[1].StatusCode)
	assert.True(t, all[2].CreatedAt.Equal(base))

	upserts, err := s.ListAuditEvents(ctx, model.AuditFilter{Action: "upsert_postings"})
	require.NoError(t, err)
	assert.Len(t, upserts, 2)

	denied, err := s.ListAuditEvents(ctx, model.AuditFilter{Action: "upsert_postings", Status: model.AuditUnauthorized})
	require.NoError(t, err)
	require.Len(t, denied, 1)
	assert.Equal(t, "req-2", denied[0].RequestID)

	limited, err := s.ListAuditEvents(ctx, model.AuditFilter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "ev-3", limited[0].EventID)
}

func testAPITokens(t *testing.T, s store.Store) {
	ctx := context.Background()
	expires := base.Add(30 * 24 * time.Hour)
	ci := model.APIToken{
		TokenID: "tok-ci", Name: "ci", Scopes: []string{"write", "scan"}, Notes: "pipeline",
		CreatedAt: base, ExpiresAt: &expires, SecretHash: "hash-ci",
	}
	require.NoError(t, s.CreateAPIToken(ctx, ci))
	require.NoError(t, s.CreateAPIToken(ctx, model.APIToken{
		TokenID: "tok-ops", Name: "ops", Scopes: []string{"*"}, CreatedAt: base.Add(time.Minute), SecretHash: "hash-ops",
	}))
	assert.True(t, model.IsConflict(s.CreateAPIToken(ctx, ci)))

	got, err := s.GetAPIToken(ctx, "tok-ci")
	require.NoError(t, err)
	assert.Equal(t, []string{"write", "scan"}, got.Scopes)
	assert.Equal(t, "hash-ci", got.SecretHash)
	require.NotNil(t, got.ExpiresAt)
	assert.True(t, got.ExpiresAt.Equal(expires))
	assert.Nil(t, got.RevokedAt)

	_, err = s.GetAPIToken(ctx, "ghost")
	assert.True(t, errors.Is(err, model.ErrNotFound))

	list, err := s.ListAPITokens(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "tok-ci", list[0].TokenID)
	assert.Nil(t, list[1].ExpiresAt)

	revokedAt := base.Add(time.Hour)
	revoked, err := s.RevokeAPIToken(ctx, "tok-ci", revokedAt)
	require.NoError(t, err)
	require.NotNil(t, revoked.RevokedAt)
	assert.True(t, revoked.RevokedAt.Equal(revokedAt))

	again, err := s.RevokeAPIToken(ctx, "tok-ci", revokedAt.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, again.RevokedAt.Equal(revokedAt), "second revoke keeps the first timestamp")

	_, err = s.RevokeAPIToken(ctx, "ghost", revokedAt)
	assert.True(t, errors.Is(err, model.ErrNotFound))
}
