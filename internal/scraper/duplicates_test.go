package scraper_test

import (
	"context"
	"testing"
	"time"

	"jobmate/recommender-service/internal/model"
	"jobmate/recommender-service/internal/normalize"
	"jobmate/recommender-service/internal/scraper"
)

func mustNormalize(t *testing.T, raw model.RawPosting) model.Posting {
	t.Helper()
	p, err := normalize.Normalize(raw, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("Normalize(%+v): %v", raw, err)
	}
	return p
}

func TestTokenEstimator(t *testing.T) {
	stored := []model.Posting{
		mustNormalize(t, model.RawPosting{Title: "Senior Backend Engineer", Company: "Acme", Description: "Go"}),
		mustNormalize(t, model.RawPosting{Title: "Backend Engineer Senior", Company: "  ACME ", Description: "Go and SQL"}),
		mustNormalize(t, model.RawPosting{Title: "Senior Backend Engineer", Company: "Globex", Description: "Go"}),
		mustNormalize(t, model.RawPosting{Title: "Product Designer", Company: "Acme", Description: "Figma"}),
	}
	ref := scraper.NewReference(stored, nil)
	est := scraper.TokenEstimator{Threshold: 0.8}

	tests := []struct {
		name      string
		candidate model.Posting
		want      int
	}{
		{"same company twins", mustNormalize(t, model.RawPosting{Title: "Senior backend engineers", Company: "acme", Description: "Rust"}), 2},
		{"own dedup key is excluded", stored[0], 1},
		{"other company", mustNormalize(t, model.RawPosting{Title: "Senior Backend Engineer", Company: "Initech", Description: "Go"}), 0},
		{"dissimilar title", mustNormalize(t, model.RawPosting{Title: "Data Analyst", Company: "Acme", Description: "SQL"}), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := est.EstimatePossibleDuplicates(context.Background(), tt.candidate, ref)
			if err != nil {
				t.Fatalf("EstimatePossibleDuplicates: %v", err)
			}
			if got != tt.want {
				t.Errorf("EstimatePossibleDuplicates = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestNewReference_KeepsWantedCompaniesOnly(t *testing.T) {
	stored := []model.Posting{
		mustNormalize(t, model.RawPosting{Title: "Senior Backend Engineer", Company: "Acme", Description: "Go"}),
		mustNormalize(t, model.RawPosting{Title: "Senior Backend Engineer", Company: "Globex", Description: "Go"}),
	}
	ref := scraper.NewReference(stored, map[string]bool{"globex": true})
	est := scraper.TokenEstimator{}

	acme := mustNormalize(t, model.RawPosting{Title: "Senior Backend Engineer", Company: "Acme", Description: "Rust"})
	if got, _ := est.EstimatePossibleDuplicates(context.Background(), acme, ref); got != 0 {
		t.Errorf("acme candidate against globex-only reference = %d, want 0", got)
	}
	globex := mustNormalize(t, model.RawPosting{Title: "Senior Backend Engineer", Company: "Globex", Description: "Rust"})
	if got, _ := est.EstimatePossibleDuplicates(context.Background(), globex, ref); got != 1 {
		t.Errorf("globex candidate = %d, want 1", got)
	}
}

func TestTokenEstimator_NilReference(t *testing.T) {
	p := mustNormalize(t, model.RawPosting{Title: "Backend Engineer", Company: "Acme", Description: "Go"})
	got, err := scraper.TokenEstimator{}.EstimatePossibleDuplicates(context.Background(), p, nil)
	if err != nil || got != 0 {
		t.Errorf("EstimatePossibleDuplicates(nil ref) = %d, %v; want 0, nil", got, err)
	}
}

func TestJaccard(t *testing.T) {
	set := func(toks ...string) map[string]bool {
		m := map[string]bool{}
		for _, tok := range toks {
			m[tok] = true
		}
		return m
	}
	tests := []struct {
		a, b map[string]bool
		want float64
	}{
		{set(), set(), 0},
		{set("go"), set("go"), 1},
		{set("go", "backend"), set("go"), 0.5},
		{set("a", "b"), set("c", "d"), 0},
	}
	for _, tt := range tests {
		if got := scraper.Jaccard(tt.a, tt.b); got != tt.want {
			t.Errorf("Jaccard(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}
