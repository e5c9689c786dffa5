package scraper

import (
	"context"

	"jobmate/recommender-service/internal/model"
	"jobmate/recommender-service/internal/normalize"
)

// DefaultDuplicateThreshold is the title-token Jaccard similarity above which
// two postings from the same company are flagged as possible duplicates.
const DefaultDuplicateThreshold = 0.8

// DuplicateEstimator counts stored postings that look like candidate under a
// different dedup key. Nothing is merged; the count only becomes a hint.
type DuplicateEstimator interface {
	EstimatePossibleDuplicates(ctx context.Context, candidate model.Posting, ref *Reference) (int, error)
}

// referenceOwner is implemented by estimators that keep their own reference
// set, such as the search index. The orchestrator then skips loading stored
// postings and passes a nil *Reference.
type referenceOwner interface {
	OwnsReference() bool
}

type refEntry struct {
	dedupKey string
	title    map[string]bool
}

// Reference is the stored side of duplicate estimation for one scan: stored
// postings grouped by folded company, each with its title token set. It is
// built once per batch.
type Reference struct {
	byCompany map[string][]refEntry
}

// NewReference indexes stored for lookups by company. Only the companies in
// wanted are kept; a nil wanted keeps all of them.
func NewReference(stored []model.Posting, wanted map[string]bool) *Reference {
	r := &Reference{byCompany: make(map[string][]refEntry)}
	for _, p := range stored {
		company := normalize.Fold(p.Company)
		if wanted != nil && !wanted[company] {
			continue
		}
		r.byCompany[company] = append(r.byCompany[company], refEntry{
			dedupKey: p.DedupKey,
			title:    normalize.TokenSet(p.Title),
		})
	}
	return r
}

func (r *Reference) company(folded string) []refEntry {
	if r == nil {
		return nil
	}
	return r.byCompany[folded]
}

// TokenEstimator compares title token sets of postings from the same company.
type TokenEstimator struct {
	Threshold float64
}

func (e TokenEstimator) EstimatePossibleDuplicates(_ context.Context, candidate model.Posting, ref *Reference) (int, error) {
	threshold := e.Threshold
	if threshold <= 0 {
		threshold = DefaultDuplicateThreshold
	}

	title := normalize.TokenSet(candidate.Title)
	n := 0
	for _, other := range ref.company(normalize.Fold(candidate.Company)) {
		if other.dedupKey == candidate.DedupKey {
			continue
		}
		if Jaccard(title, other.title) >= threshold {
			n++
		}
	}
	return n, nil
}

// Jaccard is |a ∩ b| / |a ∪ b|; two empty sets score 0.
func Jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	inter := 0
	for tok := range a {
		if b[tok] {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}
