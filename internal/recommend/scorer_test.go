package recommend

import (
	"reflect"
	"testing"
	"time"

	"jobmate/recommender-service/internal/model"
	"jobmate/recommender-service/internal/normalize"
)

var testNow = time.Date(2026, 4, 10, 12, 0, 0, 0, time.UTC)

func newTestScorer() *Scorer {
	s := NewScorer(DefaultWeights())
	s.SetClock(func() time.Time { return testNow })
	return s
}

func posting(t *testing.T, id, title, description string) model.Posting {
	t.Helper()
	p, err := normalize.Normalize(model.RawPosting{ID: id, Title: title, Description: description}, testNow)
	if err != nil {
		t.Fatalf("Normalize(%q): %v", id, err)
	}
	return p
}

func ids(recs []model.Recommendation) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.PostingID
	}
	return out
}

// ── Ranking scenarios ──────────────────────────────────────────────────────

func TestRank_BackendEngineerWins(t *testing.T) {
	recs := newTestScorer().Rank("Python backend engineer building API systems", []model.Posting{
		posting(t, "data", "Data Engineer", "Build ETL pipelines"),
		posting(t, "backend", "Backend Engineer", "Build Python APIs"),
	}, model.Preferences{})

	if recs[0].Title != "Backend Engineer" {
		t.Fatalf("top result = %q, want Backend Engineer", recs[0].Title)
	}
	b := recs[0].Breakdown
	if b.TitleOverlap != 40 || b.DescriptionOverlap != 20 || b.Freshness != 10 {
		t.Errorf("breakdown = %+v, want title 40, description 20, freshness 10", b)
	}
	if recs[0].Score != 70 {
		t.Errorf("score = %v, want 70", recs[0].Score)
	}
	if want := []string{"backend", "engineer", "python", "api"}; !reflect.DeepEqual(recs[0].MatchedTerms, want) {
		t.Errorf("matched terms = %v, want %v", recs[0].MatchedTerms, want)
	}
}

func TestRank_OrdersByOverlap(t *testing.T) {
	recs := newTestScorer().Rank("Experienced backend python developer building API systems and tooling.", []model.Posting{
		posting(t, "job-1", "Backend Engineer", "Build Python API services"),
		posting(t, "job-2", "Data Scientist", "Train machine learning models"),
		posting(t, "job-3", "Platform Engineer", "Own developer tooling and CI pipelines"),
	}, model.Preferences{})

	if got, want := ids(recs), []string{"job-1", "job-3", "job-2"}; !reflect.DeepEqual(got, want) {
		t.Errorf("order = %v, want %v", got, want)
	}
}

// ── Tie-breaking ───────────────────────────────────────────────────────────

func TestRank_TieBreakIsTotal(t *testing.T) {
	older := posting(t, "b-old", "Go Developer", "Write Go")
	older.LastSeenAt = testNow.Add(-time.Minute)
	a := posting(t, "a", "Go Developer", "Write Go")
	c := posting(t, "c", "Go Developer", "Write Go")
	s := newTestScorer()
	s.w.Freshness = 0 // isolate the tie-break from freshness

	for i := 0; i < 5; i++ {
		recs := s.Rank("Go developer writing services", []model.Posting{c, older, a}, model.Preferences{})
		if got, want := ids(recs), []string{"a", "c", "b-old"}; !reflect.DeepEqual(got, want) {
			t.Fatalf("run %d: order = %v, want %v", i, got, want)
		}
	}
}

// ── Components ─────────────────────────────────────────────────────────────

func TestScore_Freshness(t *testing.T) {
	s := newTestScorer()
	cases := []struct {
		age  time.Duration
		want float64
	}{
		{0, 10},
		{15 * 24 * time.Hour, 5},
		{30 * 24 * time.Hour, 0},
		{90 * 24 * time.Hour, 0},
		{-time.Hour, 10},
	}
	for _, c := range cases {
		if got := round4(s.freshness(testNow.Add(-c.age), testNow)); got != c.want {
			t.Errorf("freshness(age=%s) = %v, want %v", c.age, got, c.want)
		}
	}
}

func TestScore_DuplicatePenaltyIsCapped(t *testing.T) {
	s := newTestScorer()
	cases := []struct {
		hints int
		want  float64
	}{
		{0, 0}, {1, -5}, {3, -15}, {4, -20}, {9, -20},
	}
	for _, c := range cases {
		p := posting(t, "p", "Go Developer", "Write Go")
		p.DuplicateHintCount = c.hints
		recs := s.Rank("Go developer writing services", []model.Posting{p}, model.Preferences{})
		if got := recs[0].Breakdown.DuplicatePenalty; got != c.want {
			t.Errorf("hints=%d: penalty = %v, want %v", c.hints, got, c.want)
		}
	}
}

func TestScore_PreferenceBonus(t *testing.T) {
	s := newTestScorer()
	p := posting(t, "p", "Backend Engineer", "Build Python API services")
	p.Company, p.Location = "Acme Labs", "Remote"
	onsite := p
	onsite.Location = "Paris"

	cases := []struct {
		name  string
		p     model.Posting
		prefs model.Preferences
		want  float64
	}{
		{"none", p, model.Preferences{}, 0},
		{"keywords", p, model.Preferences{Keywords: []string{"python", "Python", "rust"}}, 4},
		{"company and location", p, model.Preferences{Companies: []string{"acme labs"}, Locations: []string{"remote"}}, 10},
		{"capped", p, model.Preferences{Keywords: []string{"python", "api", "backend"}, Locations: []string{"Remote"}, Companies: []string{"Acme Labs"}, RemoteOnly: true}, 20},
		{"remote penalty", onsite, model.Preferences{Keywords: []string{"python"}, RemoteOnly: true}, -6},
	}
	for _, c := range cases {
		if got := round4(s.preferenceBonus(c.p, c.prefs)); got != c.want {
			t.Errorf("%s: bonus = %v, want %v", c.name, got, c.want)
		}
	}
}

func TestScore_ComponentsSumToTotal(t *testing.T) {
	p := posting(t, "p", "Senior Platform Engineer", "Kubernetes, Terraform and Go tooling")
	p.LastSeenAt = testNow.Add(-7 * 24 * time.Hour)
	p.DuplicateHintCount = 1
	recs := newTestScorer().Rank("Platform engineer with Go and Terraform experience", []model.Posting{p}, model.Preferences{Keywords: []string{"go"}})

	b := recs[0].Breakdown
	sum := round4(b.TitleOverlap + b.DescriptionOverlap + b.PreferenceBonus + b.Freshness + b.DuplicatePenalty)
	if sum != recs[0].Score {
		t.Errorf("components sum to %v, score is %v", sum, recs[0].Score)
	}
}

func TestOverlap_EmptyTokens(t *testing.T) {
	if got := overlap(map[string]bool{"go": true}, nil); got != 0 {
		t.Errorf("overlap with no tokens = %v, want 0", got)
	}
}
