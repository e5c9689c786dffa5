// Package search keeps a bleve index of stored postings. It answers free-text
// posting queries and estimates fuzzy duplicates for the scan orchestrator.
package search

import (
	"context"
	"errors"
	"fmt"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"
	"go.uber.org/zap"

	"jobmate/recommender-service/internal/model"
	"jobmate/recommender-service/internal/scraper"
)

// duplicateTitleFuzziness is the edit distance tolerated per title term.
const duplicateTitleFuzziness = 1

// Index wraps a bleve index of postings keyed by posting id.
type Index struct {
	index bleve.Index
	log   *zap.Logger
}

type postingDoc struct {
	Title       string
	Company     string
	Location    string
	Description string
	SourceID    string
	DedupKey    string
}

// Open opens or creates the index at path. An empty path keeps the index in
// memory; callers then rebuild it from the store at startup.
func Open(path string, logger *zap.Logger) (*Index, error) {
	logger = logger.Named("search")
	if path == "" {
		idx, err := bleve.NewMemOnly(buildIndexMapping())
		if err != nil {
			return nil, fmt.Errorf("create memory index: %w", err)
		}
		return &Index{index: idx, log: logger}, nil
	}

	idx, err := bleve.Open(path)
	if errors.Is(err, bleve.ErrorIndexPathDoesNotExist) {
		idx, err = bleve.New(path, buildIndexMapping())
		if err != nil {
			return nil, fmt.Errorf("create index: %w", err)
		}
		logger.Info("search index created", zap.String("path", path))
	} else if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}
	return &Index{index: idx, log: logger}, nil
}

func buildIndexMapping() mapping.IndexMapping {
	text := bleve.NewTextFieldMapping()
	text.Analyzer = "standard"

	keyword := bleve.NewKeywordFieldMapping()
	keyword.IncludeInAll = false

	doc := bleve.NewDocumentMapping()
	doc.AddFieldMappingsAt("Title", text)
	doc.AddFieldMappingsAt("Company", text)
	doc.AddFieldMappingsAt("Location", text)
	doc.AddFieldMappingsAt("Description", text)
	doc.AddFieldMappingsAt("SourceID", keyword)
	doc.AddFieldMappingsAt("DedupKey", keyword)

	m := bleve.NewIndexMapping()
	m.DefaultMapping = doc
	return m
}

// OwnsReference reports that the index is its own duplicate reference set.
func (i *Index) OwnsReference() bool { return true }

// Close closes the index.
func (i *Index) Close() error { return i.index.Close() }

// Count returns the number of indexed postings.
func (i *Index) Count() (uint64, error) { return i.index.DocCount() }

// IndexPostings adds or replaces postings in one batch.
func (i *Index) IndexPostings(_ context.Context, postings []model.Posting) error {
	if len(postings) == 0 {
		return nil
	}
	batch := i.index.NewBatch()
	for _, p := range postings {
		if err := batch.Index(p.ID, postingDoc{
			Title:       p.Title,
			Company:     p.Company,
			Location:    p.Location,
			Description: p.Description,
			SourceID:    p.SourceID,
			DedupKey:    p.DedupKey,
		}); err != nil {
			return fmt.Errorf("batch index %s: %w", p.ID, err)
		}
	}
	if err := i.index.Batch(batch); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

// Search runs a query-string search (fuzzy "term~", phrases, +/- operators)
// and returns matching posting ids, best first. A query that does not parse
// is a *model.ValidationError.
func (i *Index) Search(ctx context.Context, queryStr string, limit int) ([]string, error) {
	q := bleve.NewQueryStringQuery(queryStr)
	if _, err := q.Parse(); err != nil {
		return nil, model.Invalidf("query %q: %v", queryStr, err)
	}
	req := bleve.NewSearchRequestOptions(q, limit, 0, false)
	res, err := i.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	ids := make([]string, 0, len(res.Hits))
	for _, hit := range res.Hits {
		ids = append(ids, hit.ID)
	}
	return ids, nil
}

// EstimatePossibleDuplicates counts indexed postings whose title fuzzily
// contains every candidate title term, at the same company, under a different
// dedup key. The index is the reference set, so ref is ignored.
func (i *Index) EstimatePossibleDuplicates(ctx context.Context, candidate model.Posting, _ *scraper.Reference) (int, error) {
	title := bleve.NewMatchQuery(candidate.Title)
	title.SetField("Title")
	title.SetFuzziness(duplicateTitleFuzziness)
	title.SetOperator(query.MatchQueryOperatorAnd)

	sameKey := bleve.NewTermQuery(candidate.DedupKey)
	sameKey.SetField("DedupKey")

	q := bleve.NewBooleanQuery()
	q.AddMust(title)
	if candidate.Company != "" {
		company := bleve.NewMatchQuery(candidate.Company)
		company.SetField("Company")
		company.SetOperator(query.MatchQueryOperatorAnd)
		q.AddMust(company)
	}
	q.AddMustNot(sameKey)

	res, err := i.index.SearchInContext(ctx, bleve.NewSearchRequestOptions(q, 0, 0, false))
	if err != nil {
		return 0, fmt.Errorf("duplicate search: %w", err)
	}
	return int(res.Total), nil
}
