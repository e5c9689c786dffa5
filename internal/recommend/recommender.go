package recommend

import (
	"context"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"jobmate/recommender-service/internal/model"
	"jobmate/recommender-service/internal/normalize"
)

const (
	SourceStored = "stored"
	SourceAdhoc  = "adhoc"

	defaultMinResumeLength = 20
	defaultHistoryTopN     = 10
	resumeSnippetRunes     = 200
	historyWriteTimeout    = 5 * time.Second
)

// Store is the persistence a recommendation reads from and audits to.
type Store interface {
	ListPostings(ctx context.Context, filter model.PostingFilter) ([]model.Posting, error)
	GetProfile(ctx context.Context, profileID string) (model.Profile, error)
	AppendRecommendationHistory(ctx context.Context, h model.RecommendationHistory) (model.RecommendationHistory, error)
}

// Request is one recommend call. Empty Postings means "score the stored
// postings". Preference fields override the profile's value when set: a
// non-nil slice (even empty) or a non-nil RemoteOnly.
type Request struct {
	ResumeText         string             `json:"resume_text"`
	Postings           []model.RawPosting `json:"postings"`
	ProfileID          string             `json:"profile_id,omitempty"`
	PreferredKeywords  []string           `json:"preferred_keywords,omitempty"`
	PreferredLocations []string           `json:"preferred_locations,omitempty"`
	PreferredCompanies []string           `json:"preferred_companies,omitempty"`
	RemoteOnly         *bool              `json:"remote_only,omitempty"`
	Limit              int                `json:"limit,omitempty"`
}

// Response is the ranked result set.
type Response struct {
	GeneratedAt      time.Time              `json:"generated_at"`
	Source           string                 `json:"source"`
	AppliedProfileID string                 `json:"applied_profile_id,omitempty"`
	Recommendations  []model.Recommendation `json:"recommendations"`
}

// Config holds the request policy.
type Config struct {
	MinResumeLength int
	HistoryTopN     int
}

// Recommender validates requests, resolves preferences and postings, ranks
// them and records history in the background.
type Recommender struct {
	store  Store
	scorer *Scorer
	cfg    Config
	now    func() time.Time
	log    *zap.Logger
	wg     sync.WaitGroup
}

func NewRecommender(st Store, scorer *Scorer, cfg Config, logger *zap.Logger) *Recommender {
	if cfg.MinResumeLength <= 0 {
		cfg.MinResumeLength = defaultMinResumeLength
	}
	if cfg.HistoryTopN <= 0 {
		cfg.HistoryTopN = defaultHistoryTopN
	}
	return &Recommender{store: st, scorer: scorer, cfg: cfg, now: time.Now, log: logger.Named("recommend")}
}

// SetClock replaces the time source of the recommender and its scorer. Tests only.
func (r *Recommender) SetClock(now func() time.Time) {
	r.now = now
	r.scorer.SetClock(now)
}

// Recommend ranks postings for req.
func (r *Recommender) Recommend(ctx context.Context, req Request) (Response, error) {
	resume := strings.TrimSpace(req.ResumeText)
	if utf8.RuneCountInString(resume) < r.cfg.MinResumeLength {
		return Response{}, model.Invalidf("resume_text must be at least %d characters", r.cfg.MinResumeLength)
	}
	if req.Limit < 0 {
		return Response{}, model.Invalidf("limit must not be negative")
	}

	prefs, err := r.preferences(ctx, req)
	if err != nil {
		return Response{}, err
	}

	now := r.now().UTC()
	source := SourceStored
	var postings []model.Posting
	if len(req.Postings) > 0 {
		source = SourceAdhoc
		postings = make([]model.Posting, 0, len(req.Postings))
		for i, raw := range req.Postings {
			p, err := normalize.Normalize(raw, now)
			if err != nil {
				return Response{}, model.Invalidf("postings[%d]: %v", i, err)
			}
			postings = append(postings, p)
		}
	} else if postings, err = r.store.ListPostings(ctx, model.PostingFilter{}); err != nil {
		return Response{}, err
	}

	ranked := r.scorer.Rank(resume, postings, prefs)
	if req.Limit > 0 && len(ranked) > req.Limit {
		ranked = ranked[:req.Limit]
	}

	r.recordHistory(ctx, model.RecommendationHistory{
		CreatedAt:     now,
		ResumeSnippet: snippet(resume),
		ProfileID:     req.ProfileID,
		Source:        source,
		ResultCount:   len(ranked),
		TopPostingIDs: topIDs(ranked, r.cfg.HistoryTopN),
	})

	return Response{
		GeneratedAt:      now,
		Source:           source,
		AppliedProfileID: req.ProfileID,
		Recommendations:  ranked,
	}, nil
}

// preferences starts from the stored profile, if any, and applies the
// request's field-level overrides.
func (r *Recommender) preferences(ctx context.Context, req Request) (model.Preferences, error) {
	var prefs model.Preferences
	if req.ProfileID != "" {
		profile, err := r.store.GetProfile(ctx, req.ProfileID)
		if err != nil {
			return model.Preferences{}, err
		}
		prefs = profile.Preferences
	}
	if req.PreferredKeywords != nil {
		prefs.Keywords = req.PreferredKeywords
	}
	if req.PreferredLocations != nil {
		prefs.Locations = req.PreferredLocations
	}
	if req.PreferredCompanies != nil {
		prefs.Companies = req.PreferredCompanies
	}
	if req.RemoteOnly != nil {
		prefs.RemoteOnly = *req.RemoteOnly
	}
	return prefs, nil
}

func (r *Recommender) recordHistory(ctx context.Context, h model.RecommendationHistory) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), historyWriteTimeout)
		defer cancel()
		if _, err := r.store.AppendRecommendationHistory(ctx, h); err != nil {
			r.log.Warn("append recommendation history failed", zap.Error(err))
		}
	}()
}

// Wait blocks until pending history writes finish.
func (r *Recommender) Wait() { r.wg.Wait() }

func snippet(s string) string {
	if utf8.RuneCountInString(s) <= resumeSnippetRunes {
		return s
	}
	return string([]rune(s)[:resumeSnippetRunes])
}

func topIDs(recs []model.Recommendation, n int) []string {
	if len(recs) < n {
		n = len(recs)
	}
	ids := make([]string, n)
	for i := range ids {
		ids[i] = recs[i].PostingID
	}
	return ids
}

