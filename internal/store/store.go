// Package store defines the persistence contract shared by the PostgreSQL and
// SQLite backends.
package store

import (
	"context"
	"time"

	"jobmate/recommender-service/internal/model"
)

// UpsertResult reports what a batch upsert did. Postings holds the stored
// state (id, first_seen_at) in input order.
type UpsertResult struct {
	Inserted int
	Updated  int
	Postings []model.Posting
}

// Upserted is Inserted + Updated.
func (r UpsertResult) Upserted() int { return r.Inserted + r.Updated }

// Store is implemented by postgres.Store and sqlite.Store.
//
// UpsertPostings is atomic: the whole batch commits or none of it does. Rows
// are matched on dedup_key; a match refreshes display fields, last_seen_at
// and duplicate_hint_count and keeps id and first_seen_at. A posting whose
// dedup_key is new but whose id is stored updates that row and takes the new
// dedup_key. An id and a dedup_key naming two different rows is a
// *model.ConflictError.
type Store interface {
	CreateSource(ctx context.Context, src model.JobSource) error
	GetSource(ctx context.Context, sourceID string) (model.JobSource, error)
	ListSources(ctx context.Context, enabledOnly bool) ([]model.JobSource, error)
	UpdateSource(ctx context.Context, src model.JobSource) error
	UpdateSourceHealth(ctx context.Context, src model.JobSource) error

	UpsertPostings(ctx context.Context, postings []model.Posting) (UpsertResult, error)
	ListPostings(ctx context.Context, filter model.PostingFilter) ([]model.Posting, error)

	AppendScanRecord(ctx context.Context, rec model.ScanRecord) (model.ScanRecord, error)
	ListScanRecords(ctx context.Context, filter model.ScanHistoryFilter) ([]model.ScanRecord, error)

	AppendRecommendationHistory(ctx context.Context, h model.RecommendationHistory) (model.RecommendationHistory, error)
	ListRecommendationHistory(ctx context.Context, limit int) ([]model.RecommendationHistory, error)

	UpsertProfile(ctx context.Context, p model.Profile) (model.Profile, error)
	GetProfile(ctx context.Context, profileID string) (model.Profile, error)
	ListProfiles(ctx context.Context) ([]model.Profile, error)
	DeleteProfile(ctx context.Context, profileID string) error

	AppendAuditEvent(ctx context.Context, ev model.AuditEvent) error
	ListAuditEvents(ctx context.Context, filter model.AuditFilter) ([]model.AuditEvent, error)

	// RevokeAPIToken stamps revoked_at once; revoking again keeps the first
	// timestamp.
	CreateAPIToken(ctx context.Context, tok model.APIToken) error
	GetAPIToken(ctx context.Context, tokenID string) (model.APIToken, error)
	ListAPITokens(ctx context.Context) ([]model.APIToken, error)
	RevokeAPIToken(ctx context.Context, tokenID string, at time.Time) (model.APIToken, error)

	Ping(ctx context.Context) error
	Close() error
}
