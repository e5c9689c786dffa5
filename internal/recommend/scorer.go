// Package recommend scores postings against resume text and preferences and
// ranks them with an auditable per-component breakdown.
package recommend

import (
	"math"
	"sort"
	"time"

	"jobmate/recommender-service/internal/model"
	"jobmate/recommender-service/internal/normalize"
)

// Weights are the scoring policy. Component maxima are Title, Description,
// PreferenceCap and Freshness; with the defaults they sum to 100.
type Weights struct {
	Title         float64
	Description   float64
	PreferenceCap float64
	Freshness     float64

	KeywordBonus  float64
	LocationBonus float64
	CompanyBonus  float64
	RemoteBonus   float64
	RemotePenalty float64

	FreshnessWindow time.Duration

	DuplicatePenalty    float64
	DuplicatePenaltyCap float64
}

// DefaultWeights returns the stock policy.
func DefaultWeights() Weights {
	return Weights{
		Title:               40,
		Description:         30,
		PreferenceCap:       20,
		Freshness:           10,
		KeywordBonus:        4,
		LocationBonus:       5,
		CompanyBonus:        5,
		RemoteBonus:         6,
		RemotePenalty:       10,
		FreshnessWindow:     30 * 24 * time.Hour,
		DuplicatePenalty:    5,
		DuplicatePenaltyCap: 20,
	}
}

// Scorer applies Weights. It is safe for concurrent use.
type Scorer struct {
	w   Weights
	now func() time.Time
}

func NewScorer(w Weights) *Scorer {
	return &Scorer{w: w, now: time.Now}
}

// SetClock replaces the time source used for freshness. Tests only.
func (s *Scorer) SetClock(now func() time.Time) { s.now = now }

// Weights returns the active policy.
func (s *Scorer) Weights() Weights { return s.w }

// Rank scores every posting and returns them best first. Ties fall back to
// last_seen_at (newest first) and then posting id, so the order is total.
func (s *Scorer) Rank(resumeText string, postings []model.Posting, prefs model.Preferences) []model.Recommendation {
	resume := normalize.TokenSet(resumeText)
	now := s.now()

	recs := make([]model.Recommendation, 0, len(postings))
	for _, p := range postings {
		recs = append(recs, s.score(resume, p, prefs, now))
	}
	sort.SliceStable(recs, func(i, j int) bool { return less(recs[i], recs[j]) })
	return recs
}

func less(a, b model.Recommendation) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if !a.LastSeenAt.Equal(b.LastSeenAt) {
		return a.LastSeenAt.After(b.LastSeenAt)
	}
	return a.PostingID < b.PostingID
}

func (s *Scorer) score(resume map[string]bool, p model.Posting, prefs model.Preferences, now time.Time) model.Recommendation {
	title := normalize.Tokens(p.Title)
	description := normalize.Tokens(p.Description)

	b := model.ScoreBreakdown{
		TitleOverlap:       round4(overlap(resume, title) * s.w.Title),
		DescriptionOverlap: round4(overlap(resume, description) * s.w.Description),
		PreferenceBonus:    round4(s.preferenceBonus(p, prefs)),
		Freshness:          round4(s.freshness(p.LastSeenAt, now)),
		DuplicatePenalty:   round4(-math.Min(s.w.DuplicatePenalty*float64(p.DuplicateHintCount), s.w.DuplicatePenaltyCap)),
	}
	total := b.TitleOverlap + b.DescriptionOverlap + b.PreferenceBonus + b.Freshness + b.DuplicatePenalty

	return model.Recommendation{
		PostingID:    p.ID,
		Title:        p.Title,
		Company:      p.Company,
		Location:     p.Location,
		URL:          p.URL,
		Score:        round4(total),
		Breakdown:    b,
		MatchedTerms: matchedTerms(resume, title, description),
		LastSeenAt:   p.LastSeenAt,
	}
}

// overlap is |resume ∩ tokens| / |tokens|.
func overlap(resume map[string]bool, tokens []string) float64 {
	if len(tokens) == 0 {
		return 0
	}
	hit := 0
	for _, t := range tokens {
		if resume[t] {
			hit++
		}
	}
	return float64(hit) / float64(len(tokens))
}

func (s *Scorer) preferenceBonus(p model.Posting, prefs model.Preferences) float64 {
	text := p.Title + " " + p.Description
	bonus := float64(len(normalize.MatchingTerms(text, prefs.Keywords)))*s.w.KeywordBonus +
		float64(len(normalize.MatchingTerms(p.Location, prefs.Locations)))*s.w.LocationBonus +
		float64(len(normalize.MatchingTerms(p.Company, prefs.Companies)))*s.w.CompanyBonus

	remote := normalize.IsRemote(p.Location)
	if prefs.RemoteOnly && remote {
		bonus += s.w.RemoteBonus
	}
	bonus = math.Min(bonus, s.w.PreferenceCap)
	if prefs.RemoteOnly && !remote {
		bonus -= s.w.RemotePenalty
	}
	return bonus
}

func (s *Scorer) freshness(lastSeen, now time.Time) float64 {
	if s.w.FreshnessWindow <= 0 {
		return 0
	}
	age := now.Sub(lastSeen)
	if age < 0 {
		age = 0
	}
	return s.w.Freshness * math.Max(0, 1-float64(age)/float64(s.w.FreshnessWindow))
}

// matchedTerms keeps title order, then description order.
func matchedTerms(resume map[string]bool, title, description []string) []string {
	seen := make(map[string]bool)
	out := make([]string, 0)
	for _, toks := range [][]string{title, description} {
		for _, t := range toks {
			if resume[t] && !seen[t] {
				seen[t] = true
				out = append(out, t)
			}
		}
	}
	return out
}

func round4(x float64) float64 {
	r := math.Round(x*1e4) / 1e4
	if r == 0 {
		return 0 // no -0 in JSON
	}
	return r
}
