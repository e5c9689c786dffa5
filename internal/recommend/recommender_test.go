package recommend_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"jobmate/recommender-service/internal/model"
	"jobmate/recommender-service/internal/normalize"
	"jobmate/recommender-service/internal/recommend"
)

var now = time.Date(2026, 4, 10, 12, 0, 0, 0, time.UTC)

type fakeStore struct {
	mu         sync.Mutex
	postings   []model.Posting
	profiles   map[string]model.Profile
	history    []model.RecommendationHistory
	historyErr error
}

func (f *fakeStore) ListPostings(context.Context, model.PostingFilter) ([]model.Posting, error) {
	return f.postings, nil
}

func (f *fakeStore) GetProfile(_ context.Context, id string) (model.Profile, error) {
	p, ok := f.profiles[id]
	if !ok {
		return model.Profile{}, fmt.Errorf("profile %q: %w", id, model.ErrNotFound)
	}
	return p, nil
}

func (f *fakeStore) AppendRecommendationHistory(_ context.Context, h model.RecommendationHistory) (model.RecommendationHistory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.historyErr != nil {
		return model.RecommendationHistory{}, f.historyErr
	}
	f.history = append(f.history, h)
	return h, nil
}

func newRecommender(st *fakeStore, logger *zap.Logger) *recommend.Recommender {
	r := recommend.NewRecommender(st, recommend.NewScorer(recommend.DefaultWeights()), recommend.Config{}, logger)
	r.SetClock(func() time.Time { return now })
	return r
}

func stored(t *testing.T, raw model.RawPosting) model.Posting {
	t.Helper()
	p, err := normalize.Normalize(raw, now)
	require.NoError(t, err)
	return p
}

func TestRecommend_StoredPostings(t *testing.T) {
	st := &fakeStore{postings: []model.Posting{
		stored(t, model.RawPosting{Title: "ML Engineer", Description: "Train and deploy ML models"}),
		stored(t, model.RawPosting{Title: "Backend Engineer", Description: "Build Python APIs"}),
	}}
	r := newRecommender(st, zap.NewNop())

	resp, err := r.Recommend(context.Background(), recommend.Request{
		ResumeText: "Python backend engineer building APIs and services.",
	})
	require.NoError(t, err)
	r.Wait()

	assert.Equal(t, recommend.SourceStored, resp.Source)
	assert.Equal(t, now, resp.GeneratedAt)
	require.Len(t, resp.Recommendations, 2)
	assert.Equal(t, "Backend Engineer", resp.Recommendations[0].Title)

	require.Len(t, st.history, 1)
	h := st.history[0]
	assert.Equal(t, recommend.SourceStored, h.Source)
	assert.Equal(t, 2, h.ResultCount)
	assert.Equal(t, resp.Recommendations[0].PostingID, h.TopPostingIDs[0])
}

func TestRecommend_RejectsShortResume(t *testing.T) {
	st := &fakeStore{}
	r := newRecommender(st, zap.NewNop())

	for _, resume := range []string{"", "too short", "   python          "} {
		_, err := r.Recommend(context.Background(), recommend.Request{ResumeText: resume})
		assert.True(t, model.IsValidation(err), "resume %q should be rejected, got %v", resume, err)
	}
	r.Wait()
	assert.Empty(t, st.history)
}

func TestRecommend_AdhocPostingsAreValidated(t *testing.T) {
	r := newRecommender(&fakeStore{}, zap.NewNop())
	_, err := r.Recommend(context.Background(), recommend.Request{
		ResumeText: "Backend engineer building Python API services.",
		Postings: []model.RawPosting{
			{ID: "job-1", Title: "Backend Engineer", Description: "Build Python API services"},
			{ID: "job-2", Title: "", Description: "No title"},
		},
	})
	require.Error(t, err)
	assert.True(t, model.IsValidation(err))
	assert.Contains(t, err.Error(), "postings[1]")
}

func TestRecommend_ProfileDrivesPreferences(t *testing.T) {
	st := &fakeStore{profiles: map[string]model.Profile{
		"wesley_remote": {ProfileID: "wesley_remote", Preferences: model.Preferences{
			Keywords:   []string{"python", "api", "backend"},
			Locations:  []string{"Remote"},
			Companies:  []string{"Acme Labs"},
			RemoteOnly: true,
		}},
	}}
	r := newRecommender(st, zap.NewNop())

	resp, err := r.Recommend(context.Background(), recommend.Request{
		ResumeText: "Backend engineer building Python API services and tooling.",
		ProfileID:  "wesley_remote",
		Postings: []model.RawPosting{
			{ID: "job-1", Title: "Backend Engineer", Description: "Build Python API services", Company: "Acme Labs", Location: "Remote"},
			{ID: "job-2", Title: "Backend Engineer", Description: "Build Java services", Company: "Other Corp", Location: "Onsite"},
		},
	})
	require.NoError(t, err)
	r.Wait()

	assert.Equal(t, "wesley_remote", resp.AppliedProfileID)
	assert.Equal(t, recommend.SourceAdhoc, resp.Source)
	assert.Equal(t, "job-1", resp.Recommendations[0].PostingID)
	assert.Equal(t, 20.0, resp.Recommendations[0].Breakdown.PreferenceBonus)
	assert.Negative(t, resp.Recommendations[1].Breakdown.PreferenceBonus)
	assert.Equal(t, "wesley_remote", st.history[0].ProfileID)
}

func TestRecommend_RequestOverridesProfile(t *testing.T) {
	st := &fakeStore{profiles: map[string]model.Profile{
		"company_pref": {ProfileID: "company_pref", Preferences: model.Preferences{
			Companies:  []string{"Acme Labs"},
			RemoteOnly: true,
		}},
	}}
	r := newRecommender(st, zap.NewNop())
	remote := false

	resp, err := r.Recommend(context.Background(), recommend.Request{
		ResumeText:         "Backend engineer building Python API services.",
		ProfileID:          "company_pref",
		PreferredCompanies: []string{"Other Corp"},
		RemoteOnly:         &remote,
		Postings: []model.RawPosting{
			{ID: "job-1", Title: "Backend Engineer", Description: "Build Python API services", Company: "Acme Labs", Location: "Remote"},
			{ID: "job-2", Title: "Backend Engineer", Description: "Build Python API services", Company: "Other Corp", Location: "Onsite"},
		},
	})
	require.NoError(t, err)
	r.Wait()
	assert.Equal(t, "job-2", resp.Recommendations[0].PostingID)
}

func TestRecommend_UnknownProfile(t *testing.T) {
	r := newRecommender(&fakeStore{}, zap.NewNop())
	_, err := r.Recommend(context.Background(), recommend.Request{
		ResumeText: "Backend engineer building Python API services.",
		ProfileID:  "ghost",
	})
	assert.True(t, errors.Is(err, model.ErrNotFound))
}

func TestRecommend_LimitAndSnippet(t *testing.T) {
	var postings []model.Posting
	for i := 0; i < 15; i++ {
		postings = append(postings, stored(t, model.RawPosting{
			ID: fmt.Sprintf("job-%02d", i), Title: "Backend Engineer", Description: fmt.Sprintf("Build service %d", i),
		}))
	}
	st := &fakeStore{postings: postings}
	r := newRecommender(st, zap.NewNop())

	resume := "Backend engineer " + strings.Repeat("é", 300)
	resp, err := r.Recommend(context.Background(), recommend.Request{ResumeText: resume, Limit: 12})
	require.NoError(t, err)
	r.Wait()

	assert.Len(t, resp.Recommendations, 12)
	require.Len(t, st.history, 1)
	assert.Equal(t, 12, st.history[0].ResultCount)
	assert.Len(t, st.history[0].TopPostingIDs, 10)
	assert.Equal(t, 200, len([]rune(st.history[0].ResumeSnippet)))
}

func TestRecommend_HistoryFailureIsLogged(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	st := &fakeStore{
		postings:   []model.Posting{stored(t, model.RawPosting{Title: "Backend Engineer", Description: "Build Python APIs"})},
		historyErr: &model.StorageError{Op: "append recommendation history", Err: errors.New("disk full")},
	}
	r := newRecommender(st, zap.New(core))

	resp, err := r.Recommend(context.Background(), recommend.Request{ResumeText: "Python backend engineer building API systems"})
	require.NoError(t, err)
	r.Wait()

	assert.Len(t, resp.Recommendations, 1)
	assert.Equal(t, 1, logs.FilterMessage("append recommendation history failed").Len())
}
