package service_test

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"jobmate/recommender-service/internal/auth"
	"jobmate/recommender-service/internal/model"
	"jobmate/recommender-service/internal/recommend"
	"jobmate/recommender-service/internal/registry"
	"jobmate/recommender-service/internal/scraper"
	"jobmate/recommender-service/internal/search"
	"jobmate/recommender-service/internal/service"
	"jobmate/recommender-service/internal/store/sqlite"
)

var now = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func clock() time.Time { return now }

func newService(t *testing.T, withSearch bool) *service.Service {
	t.Helper()
	ctx := context.Background()
	log := zap.NewNop()

	st, err := sqlite.Open(ctx, filepath.Join(t.TempDir(), "svc.db"), log)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	reg := registry.New(st, registry.DefaultBackoff(), log)
	reg.SetClock(clock)

	scorer := recommend.NewScorer(recommend.DefaultWeights())
	rec := recommend.NewRecommender(st, scorer, recommend.Config{}, log)
	rec.SetClock(clock)
	t.Cleanup(rec.Wait)

	scanOpts := []scraper.Option{scraper.WithClock(clock)}
	svcOpts := []service.Option{service.WithClock(clock)}
	if withSearch {
		idx, err := search.Open("", log)
		require.NoError(t, err)
		t.Cleanup(func() { _ = idx.Close() })
		scanOpts = append(scanOpts, scraper.WithIndexer(idx))
		svcOpts = append(svcOpts, service.WithSearch(idx))
	}
	orch := scraper.New(reg, st, scraper.NewSourceFetcher(time.Second), log, scanOpts...)

	return service.New(st, reg, orch, rec, log, svcOpts...)
}

const inlineFeed = `{"postings":[
 {"external_id":"a1","title":"Backend Engineer","company":"Acme","location":"Remote","description":"Go services and PostgreSQL"},
 {"external_id":"a2","title":"Data Analyst","company":"Acme","location":"Berlin","description":"SQL dashboards and reporting"}
]}`

func TestRequiredScope(t *testing.T) {
	cases := map[service.Operation]service.Scope{
		service.OpRegisterSource:   service.ScopeWrite,
		service.OpUpdateSource:     service.ScopeWrite,
		service.OpUpsertPostings:   service.ScopeWrite,
		service.OpUpsertProfile:    service.ScopeWrite,
		service.OpDeleteProfile:    service.ScopeWrite,
		service.OpScanSource:       service.ScopeScan,
		service.OpScanAll:          service.ScopeScan,
		service.OpScanAllScheduled: service.ScopeScan,
		service.OpListSources:      service.ScopeNone,
		service.OpListPostings:     service.ScopeNone,
		service.OpRecommend:        service.ScopeNone,
		service.OpListScanHistory:  service.ScopeNone,
		service.OpGetProfile:       service.ScopeNone,
		service.OpIssueToken:       service.ScopeAdmin,
		service.OpListTokens:       service.ScopeAdmin,
		service.OpRevokeToken:      service.ScopeAdmin,
		service.OpListAuditEvents:  service.ScopeAudit,
	}
	for op, want := range cases {
		assert.Equal(t, want, service.RequiredScope(op), op)
		assert.Equal(t, want != service.ScopeNone, service.Audited(op), op)
	}
}

func TestService_ScanThenRecommend(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, false)

	_, err := svc.RegisterSource(ctx, model.JobSource{
		SourceID: "acme", Name: "Acme", SourceType: model.SourceTypeInlineJSON, Config: inlineFeed, Enabled: true,
	})
	require.NoError(t, err)

	rec, err := svc.ScanSource(ctx, "acme", model.TriggerManual, false)
	require.NoError(t, err)
	assert.Equal(t, model.ScanSucceeded, rec.Status)
	assert.Equal(t, 2, rec.PostingsUpserted)

	resp, err := svc.Recommend(ctx, recommend.Request{ResumeText: "Backend engineer writing Go services on PostgreSQL"})
	require.NoError(t, err)
	require.Len(t, resp.Recommendations, 2)
	assert.Equal(t, "Backend Engineer", resp.Recommendations[0].Title)

	history, err := svc.ListScanHistory(ctx, model.ScanHistoryFilter{Trigger: model.TriggerManual})
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "acme", history[0].SourceID)
}

func TestService_ScanSourceRequiresID(t *testing.T) {
	_, err := newService(t, false).ScanSource(context.Background(), " ", model.TriggerManual, false)
	assert.True(t, model.IsValidation(err))
}

func TestService_UpsertPostings(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, false)

	res, err := svc.UpsertPostings(ctx, []model.RawPosting{
		{ID: "custom-1", Title: "SRE", Company: "Globex", Description: "Kubernetes on call"},
		{Title: "QA Engineer", Company: "Globex", Description: "Test automation"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Inserted)
	assert.Equal(t, "custom-1", res.Postings[0].ID)
	assert.NotEmpty(t, res.Postings[1].ID)

	res, err = svc.UpsertPostings(ctx, []model.RawPosting{
		{Title: "SRE", Company: "Globex", Description: "Kubernetes on call"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Updated)
	assert.Equal(t, "custom-1", res.Postings[0].ID, "existing id is kept")

	_, err = svc.UpsertPostings(ctx, []model.RawPosting{{Title: "No description"}})
	assert.True(t, model.IsValidation(err))
	assert.ErrorContains(t, err, "postings[0]")

	_, err = svc.UpsertPostings(ctx, nil)
	assert.True(t, model.IsValidation(err))
}

func TestService_UpsertPostingsEditByID(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, true)

	_, err := svc.UpsertPostings(ctx, []model.RawPosting{
		{ID: "custom-9", Title: "SRE", Company: "Globex", Description: "Kubernetes on call"},
	})
	require.NoError(t, err)

	res, err := svc.UpsertPostings(ctx, []model.RawPosting{
		{ID: "custom-9", Title: "SRE", Company: "Globex", Description: "Kubernetes and Terraform on call"},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Inserted)
	assert.Equal(t, 1, res.Updated)

	all, err := svc.ListPostings(ctx, model.PostingFilter{})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "custom-9", all[0].ID)
	assert.Equal(t, "Kubernetes and Terraform on call", all[0].Description)

	got, err := svc.ListPostings(ctx, model.PostingFilter{Query: "terraform"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "custom-9", got[0].ID)
}

func TestService_ListPostingsQuery(t *testing.T) {
	for _, withSearch := range []bool{false, true} {
		t.Run(map[bool]string{false: "store", true: "search"}[withSearch], func(t *testing.T) {
			ctx := context.Background()
			svc := newService(t, withSearch)

			_, err := svc.UpsertPostings(ctx, []model.RawPosting{
				{Title: "Platform Engineer", Company: "Initech", Description: "Terraform and Kubernetes"},
				{Title: "Product Designer", Company: "Initech", Description: "Figma prototypes"},
			})
			require.NoError(t, err)

			got, err := svc.ListPostings(ctx, model.PostingFilter{Query: "kubernetes"})
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.Equal(t, "Platform Engineer", got[0].Title)

			got, err = svc.ListPostings(ctx, model.PostingFilter{Query: "blockchain"})
			require.NoError(t, err)
			assert.Empty(t, got)

			all, err := svc.ListPostings(ctx, model.PostingFilter{})
			require.NoError(t, err)
			assert.Len(t, all, 2)

			_, err = svc.ListPostings(ctx, model.PostingFilter{Limit: -1})
			assert.True(t, model.IsValidation(err))

			if withSearch {
				_, err = svc.ListPostings(ctx, model.PostingFilter{Query: "title::platform"})
				assert.True(t, model.IsValidation(err), "got %v", err)
			}
		})
	}
}

func TestService_ScanFeedsSearch(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, true)

	_, err := svc.RegisterSource(ctx, model.JobSource{
		SourceID: "acme", Name: "Acme", SourceType: model.SourceTypeInlineJSON, Config: inlineFeed, Enabled: true,
	})
	require.NoError(t, err)
	_, err = svc.ScanAll(ctx, true, model.TriggerManual, false)
	require.NoError(t, err)

	got, err := svc.ListPostings(ctx, model.PostingFilter{Query: "dashboards"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Data Analyst", got[0].Title)
}

func TestService_Profiles(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, false)

	p, err := svc.UpsertProfile(ctx, model.Profile{
		ProfileID:   " remote-go ",
		Preferences: model.Preferences{Keywords: []string{"Go", " go ", "", "Kubernetes"}, RemoteOnly: true},
	})
	require.NoError(t, err)
	assert.Equal(t, "remote-go", p.ProfileID)
	assert.Equal(t, "remote-go", p.Name)
	assert.Equal(t, []string{"Go", "Kubernetes"}, p.Keywords)

	list, err := svc.ListProfiles(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, svc.DeleteProfile(ctx, "remote-go"))
	_, err = svc.GetProfile(ctx, "remote-go")
	assert.ErrorIs(t, err, model.ErrNotFound)
	assert.ErrorIs(t, svc.DeleteProfile(ctx, "remote-go"), model.ErrNotFound)

	_, err = svc.UpsertProfile(ctx, model.Profile{})
	assert.True(t, model.IsValidation(err))
}

func TestService_HistoryLimits(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, false)

	_, err := svc.ListRecommendationHistory(ctx, -1)
	assert.True(t, model.IsValidation(err))

	runs, err := svc.ListRecommendationHistory(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, runs)

	require.NoError(t, svc.Health(ctx))
}

func TestService_AuditEvents(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, false)

	first := svc.RecordAudit(ctx, model.AuditEvent{
		Action: string(service.OpScanAll), Status: model.AuditOK, Actor: "ops", RequestID: "r-1",
	})
	assert.NotEmpty(t, first.EventID)
	assert.True(t, first.CreatedAt.Equal(now))

	svc.RecordAudit(ctx, model.AuditEvent{
		EventID: "fixed", Action: string(service.OpUpsertPostings), Status: model.AuditForbidden, RequestID: "r-2",
	})
	// duplicate id is logged and dropped, not returned
	svc.RecordAudit(ctx, model.AuditEvent{EventID: "fixed", Action: string(service.OpUpsertPostings)})

	events, err := svc.ListAuditEvents(ctx, model.AuditFilter{})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "fixed", events[0].EventID)
	assert.Equal(t, first.EventID, events[1].EventID)

	denied, err := svc.ListAuditEvents(ctx, model.AuditFilter{Status: model.AuditForbidden})
	require.NoError(t, err)
	require.Len(t, denied, 1)
	assert.Equal(t, "r-2", denied[0].RequestID)

	_, err = svc.ListAuditEvents(ctx, model.AuditFilter{Limit: -1})
	assert.True(t, model.IsValidation(err))
}

// Without static tokens every key is anonymous, but tokens can still be
// issued ahead of switching authentication on.
func TestService_TokensInOpenMode(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, false)

	p, err := svc.Authorize(ctx, "", service.OpIssueToken)
	require.NoError(t, err)
	assert.Equal(t, "anonymous", p.Name)

	issued, err := svc.IssueToken(ctx, auth.IssueRequest{Name: "ci", Scopes: []string{"write"}})
	require.NoError(t, err)
	assert.NotEmpty(t, issued.Token)

	tokens, err := svc.ListTokens(ctx)
	require.NoError(t, err)
	require.Len(t, tokens, 1)
	assert.NotEmpty(t, tokens[0].SecretHash)
	b, err := json.Marshal(tokens[0])
	require.NoError(t, err)
	assert.NotContains(t, string(b), tokens[0].SecretHash)

	revoked, err := svc.RevokeToken(ctx, issued.Metadata.TokenID)
	require.NoError(t, err)
	assert.NotNil(t, revoked.RevokedAt)
}
