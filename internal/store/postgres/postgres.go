// Package postgres implements store.Store on a pgx connection pool.
package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"

	"jobmate/recommender-service/internal/model"
	"jobmate/recommender-service/internal/store"
)

//go:embed migrations/*.sql
var migrations embed.FS

const uniqueViolation = "23505"

// Store is the PostgreSQL backend.
type Store struct {
	pool *pgxpool.Pool
	log  *zap.Logger
}

var _ store.Store = (*Store)(nil)

// New migrates the schema and returns a Store that owns pool.
func New(ctx context.Context, pool *pgxpool.Pool, logger *zap.Logger) (*Store, error) {
	logger = logger.Named("postgres")
	sub, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx, goose.DialectPostgres, stdlib.OpenDBFromPool(pool), sub, logger); err != nil {
		return nil, err
	}
	return &Store{pool: pool, log: logger}, nil
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

// Close releases the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// ─── Sources ─────────────────────────────────────────────────────────────────

const sourceColumns = `source_id, name, source_type, config, enabled, last_scan_at, last_status,
	last_error, consecutive_failures, next_eligible_scan_at, last_duration_ms, created_at, updated_at`

func (s *Store) CreateSource(ctx context.Context, src model.JobSource) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO job_sources (`+sourceColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		src.SourceID, src.Name, string(src.SourceType), src.Config, src.Enabled,
		src.LastScanAt, string(src.LastStatus), src.LastError, src.ConsecutiveFailures,
		src.NextEligibleScanAt, src.LastDurationMS, src.CreatedAt, src.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return &model.ConflictError{Resource: "source", Key: src.SourceID}
	}
	if err != nil {
		return &model.StorageError{Op: "create source", Err: err}
	}
	return nil
}

func (s *Store) GetSource(ctx context.Context, sourceID string) (model.JobSource, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+sourceColumns+` FROM job_sources WHERE source_id = $1`, sourceID)
	src, err := scanSource(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.JobSource{}, fmt.Errorf("source %q: %w", sourceID, model.ErrNotFound)
	}
	if err != nil {
		return model.JobSource{}, &model.StorageError{Op: "get source", Err: err}
	}
	return src, nil
}

func (s *Store) ListSources(ctx context.Context, enabledOnly bool) ([]model.JobSource, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+sourceColumns+` FROM job_sources
		 WHERE ($1 = false OR enabled)
		 ORDER BY source_id`,
		enabledOnly,
	)
	if err != nil {
		return nil, &model.StorageError{Op: "list sources", Err: err}
	}
	defer rows.Close()

	sources := make([]model.JobSource, 0)
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, &model.StorageError{Op: "list sources", Err: err}
		}
		sources = append(sources, src)
	}
	if err := rows.Err(); err != nil {
		return nil, &model.StorageError{Op: "list sources", Err: err}
	}
	return sources, nil
}

func (s *Store) UpdateSource(ctx context.Context, src model.JobSource) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE job_sources
		 SET name = $2, source_type = $3, config = $4, enabled = $5, updated_at = $6
		 WHERE source_id = $1`,
		src.SourceID, src.Name, string(src.SourceType), src.Config, src.Enabled, src.UpdatedAt,
	)
	return s.checkSourceUpdate(tag, err, src.SourceID, "update source")
}

func (s *Store) UpdateSourceHealth(ctx context.Context, src model.JobSource) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE job_sources
		 SET last_scan_at = $2, last_status = $3, last_error = $4, consecutive_failures = $5,
		     next_eligible_scan_at = $6, last_duration_ms = $7, updated_at = $8
		 WHERE source_id = $1`,
		src.SourceID, src.LastScanAt, string(src.LastStatus), src.LastError, src.ConsecutiveFailures,
		src.NextEligibleScanAt, src.LastDurationMS, src.UpdatedAt,
	)
	return s.checkSourceUpdate(tag, err, src.SourceID, "update source health")
}

func (s *Store) checkSourceUpdate(tag pgconn.CommandTag, err error, sourceID, op string) error {
	if err != nil {
		return &model.StorageError{Op: op, Err: err}
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("source %q: %w", sourceID, model.ErrNotFound)
	}
	return nil
}

func scanSource(row pgx.Row) (model.JobSource, error) {
	var (
		src                    model.JobSource
		sourceType, lastStatus string
	)
	err := row.Scan(
		&src.SourceID, &src.Name, &sourceType, &src.Config, &src.Enabled,
		&src.LastScanAt, &lastStatus, &src.LastError, &src.ConsecutiveFailures,
		&src.NextEligibleScanAt, &src.LastDurationMS, &src.CreatedAt, &src.UpdatedAt,
	)
	src.SourceType = model.SourceType(sourceType)
	src.LastStatus = model.SourceStatus(lastStatus)
	return src, err
}

// ─── Postings ────────────────────────────────────────────────────────────────

const postingColumns = `id, COALESCE(source_id, ''), COALESCE(external_id, ''), title, company, location,
	description, url, dedup_key, first_seen_at, last_seen_at, duplicate_hint_count`

func (s *Store) UpsertPostings(ctx context.Context, postings []model.Posting) (store.UpsertResult, error) {
	res := store.UpsertResult{Postings: make([]model.Posting, 0, len(postings))}
	if len(postings) == 0 {
		return res, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return store.UpsertResult{}, &model.StorageError{Op: "upsert postings", Err: err}
	}
	defer tx.Rollback(ctx)

	for _, p := range postings {
		var keyOwner string
		err := tx.QueryRow(ctx, `SELECT id FROM postings WHERE dedup_key = $1`, p.DedupKey).Scan(&keyOwner)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return store.UpsertResult{}, &model.StorageError{Op: "upsert postings", Err: err}
		}
		keyTaken := err == nil

		var idFirst time.Time
		err = tx.QueryRow(ctx, `SELECT first_seen_at FROM postings WHERE id = $1`, p.ID).Scan(&idFirst)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return store.UpsertResult{}, &model.StorageError{Op: "upsert postings", Err: err}
		}
		idTaken := err == nil

		switch {
		case keyTaken && idTaken && keyOwner != p.ID:
			return store.UpsertResult{}, &model.ConflictError{Resource: "posting id", Key: p.ID}
		case !keyTaken && idTaken:
			// The id names a stored posting whose content changed: re-key it.
			if err := updatePostingByID(ctx, tx, p); err != nil {
				return store.UpsertResult{}, err
			}
			p.FirstSeenAt = idFirst
			res.Updated++
			res.Postings = append(res.Postings, p)
			continue
		}

		var inserted bool
		err = tx.QueryRow(ctx,
			`INSERT INTO postings (id, source_id, external_id, title, company, location, description,
			                       url, dedup_key, first_seen_at, last_seen_at, duplicate_hint_count)
			 VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), $4, $5, $6, $7, $8, $9, $10, $11, $12)
			 ON CONFLICT (dedup_key) DO UPDATE SET
			   source_id            = EXCLUDED.source_id,
			   external_id          = EXCLUDED.external_id,
			   title                = EXCLUDED.title,
			   company              = EXCLUDED.company,
			   location             = EXCLUDED.location,
			   description          = EXCLUDED.description,
			   url                  = EXCLUDED.url,
			   last_seen_at         = EXCLUDED.last_seen_at,
			   duplicate_hint_count = EXCLUDED.duplicate_hint_count
			 RETURNING id, first_seen_at, (xmax = 0)`,
			p.ID, p.SourceID, p.ExternalID, p.Title, p.Company, p.Location, p.Description,
			p.URL, p.DedupKey, p.FirstSeenAt, p.LastSeenAt, p.DuplicateHintCount,
		).Scan(&p.ID, &p.FirstSeenAt, &inserted)
		if isUniqueViolation(err) {
			return store.UpsertResult{}, &model.ConflictError{Resource: "posting id", Key: p.ID}
		}
		if err != nil {
			return store.UpsertResult{}, &model.StorageError{Op: "upsert postings", Err: err}
		}

		if inserted {
			res.Inserted++
		} else {
			res.Updated++
		}
		res.Postings = append(res.Postings, p)
	}

	if err := tx.Commit(ctx); err != nil {
		return store.UpsertResult{}, &model.StorageError{Op: "upsert postings commit", Err: err}
	}
	return res, nil
}

func updatePostingByID(ctx context.Context, tx pgx.Tx, p model.Posting) error {
	_, err := tx.Exec(ctx,
		`UPDATE postings SET
		   source_id            = NULLIF($2, ''),
		   external_id          = NULLIF($3, ''),
		   title                = $4,
		   company              = $5,
		   location             = $6,
		   description          = $7,
		   url                  = $8,
		   dedup_key            = $9,
		   last_seen_at         = $10,
		   duplicate_hint_count = $11
		 WHERE id = $1`,
		p.ID, p.SourceID, p.ExternalID, p.Title, p.Company, p.Location, p.Description,
		p.URL, p.DedupKey, p.LastSeenAt, p.DuplicateHintCount,
	)
	if isUniqueViolation(err) {
		return &model.ConflictError{Resource: "posting dedup_key", Key: p.DedupKey}
	}
	if err != nil {
		return &model.StorageError{Op: "upsert postings", Err: err}
	}
	return nil
}

func (s *Store) ListPostings(ctx context.Context, filter model.PostingFilter) ([]model.Posting, error) {
	var (
		conds []string
		args  []any
	)
	if filter.SourceID != "" {
		args = append(args, filter.SourceID)
		conds = append(conds, fmt.Sprintf("source_id = $%d", len(args)))
	}
	if filter.IDs != nil {
		args = append(args, filter.IDs)
		conds = append(conds, fmt.Sprintf("id = ANY($%d)", len(args)))
	}
	if q := strings.TrimSpace(filter.Query); q != "" {
		args = append(args, "%"+likeEscaper.Replace(q)+"%")
		n := len(args)
		conds = append(conds, fmt.Sprintf("(title ILIKE $%d OR company ILIKE $%d OR description ILIKE $%d)", n, n, n))
	}

	query := `SELECT ` + postingColumns + ` FROM postings`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY last_seen_at DESC, id ASC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, &model.StorageError{Op: "list postings", Err: err}
	}
	defer rows.Close()

	postings := make([]model.Posting, 0)
	for rows.Next() {
		var p model.Posting
		if err := rows.Scan(
			&p.ID, &p.SourceID, &p.ExternalID, &p.Title, &p.Company, &p.Location,
			&p.Description, &p.URL, &p.DedupKey, &p.FirstSeenAt, &p.LastSeenAt, &p.DuplicateHintCount,
		); err != nil {
			return nil, &model.StorageError{Op: "list postings", Err: err}
		}
		postings = append(postings, p)
	}
	if err := rows.Err(); err != nil {
		return nil, &model.StorageError{Op: "list postings", Err: err}
	}
	return postings, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// ─── Scan records ────────────────────────────────────────────────────────────

func (s *Store) AppendScanRecord(ctx context.Context, rec model.ScanRecord) (model.ScanRecord, error) {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO scan_records (source_id, scan_trigger, status, stage, started_at, finished_at,
		                           postings_seen, postings_upserted, postings_skipped,
		                           possible_duplicates, error)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 RETURNING id`,
		rec.SourceID, string(rec.Trigger), string(rec.Status), string(rec.Stage), rec.StartedAt, rec.FinishedAt,
		rec.PostingsSeen, rec.PostingsUpserted, rec.PostingsSkipped, rec.PossibleDuplicates, rec.Error,
	).Scan(&rec.ID)
	if err != nil {
		return model.ScanRecord{}, &model.StorageError{Op: "append scan record", Err: err}
	}
	return rec, nil
}

func (s *Store) ListScanRecords(ctx context.Context, filter model.ScanHistoryFilter) ([]model.ScanRecord, error) {
	var (
		conds []string
		args  []any
	)
	if filter.SourceID != "" {
		args = append(args, filter.SourceID)
		conds = append(conds, fmt.Sprintf("source_id = $%d", len(args)))
	}
	if filter.Trigger != "" {
		args = append(args, string(filter.Trigger))
		conds = append(conds, fmt.Sprintf("scan_trigger = $%d", len(args)))
	}

	query := `SELECT id, source_id, scan_trigger, status, stage, started_at, finished_at, postings_seen,
	                 postings_upserted, postings_skipped, possible_duplicates, error
	          FROM scan_records`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY started_at DESC, id DESC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, &model.StorageError{Op: "list scan records", Err: err}
	}
	defer rows.Close()

	records := make([]model.ScanRecord, 0)
	for rows.Next() {
		var (
			rec                   model.ScanRecord
			trigger, status, stage string
		)
		if err := rows.Scan(
			&rec.ID, &rec.SourceID, &trigger, &status, &stage, &rec.StartedAt, &rec.FinishedAt,
			&rec.PostingsSeen, &rec.PostingsUpserted, &rec.PostingsSkipped, &rec.PossibleDuplicates, &rec.Error,
		); err != nil {
			return nil, &model.StorageError{Op: "list scan records", Err: err}
		}
		rec.Trigger = model.Trigger(trigger)
		rec.Status = model.ScanState(status)
		rec.Stage = model.ScanState(stage)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, &model.StorageError{Op: "list scan records", Err: err}
	}
	return records, nil
}

// ─── Recommendation history ──────────────────────────────────────────────────

func (s *Store) AppendRecommendationHistory(ctx context.Context, h model.RecommendationHistory) (model.RecommendationHistory, error) {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO recommendation_history (created_at, resume_snippet, profile_id, source,
		                                     result_count, top_posting_ids)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id`,
		h.CreatedAt, h.ResumeSnippet, h.ProfileID, h.Source, h.ResultCount, nonNil(h.TopPostingIDs),
	).Scan(&h.ID)
	if err != nil {
		return model.RecommendationHistory{}, &model.StorageError{Op: "append recommendation history", Err: err}
	}
	return h, nil
}

func (s *Store) ListRecommendationHistory(ctx context.Context, limit int) ([]model.RecommendationHistory, error) {
	query := `SELECT id, created_at, resume_snippet, profile_id, source, result_count, top_posting_ids
	          FROM recommendation_history
	          ORDER BY created_at DESC, id DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, &model.StorageError{Op: "list recommendation history", Err: err}
	}
	defer rows.Close()

	runs := make([]model.RecommendationHistory, 0)
	for rows.Next() {
		var h model.RecommendationHistory
		if err := rows.Scan(&h.ID, &h.CreatedAt, &h.ResumeSnippet, &h.ProfileID, &h.Source,
			&h.ResultCount, &h.TopPostingIDs); err != nil {
			return nil, &model.StorageError{Op: "list recommendation history", Err: err}
		}
		runs = append(runs, h)
	}
	if err := rows.Err(); err != nil {
		return nil, &model.StorageError{Op: "list recommendation history", Err: err}
	}
	return runs, nil
}

// ─── Profiles ────────────────────────────────────────────────────────────────

const profileColumns = `profile_id, name, preferred_keywords, preferred_locations, preferred_companies,
	remote_only, created_at, updated_at`

func (s *Store) UpsertProfile(ctx context.Context, p model.Profile) (model.Profile, error) {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO profiles (`+profileColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		 ON CONFLICT (profile_id) DO UPDATE SET
		   name                = EXCLUDED.name,
		   preferred_keywords  = EXCLUDED.preferred_keywords,
		   preferred_locations = EXCLUDED.preferred_locations,
		   preferred_companies = EXCLUDED.preferred_companies,
		   remote_only         = EXCLUDED.remote_only,
		   updated_at          = EXCLUDED.updated_at
		 RETURNING `+profileColumns,
		p.ProfileID, p.Name, nonNil(p.Keywords), nonNil(p.Locations), nonNil(p.Companies),
		p.RemoteOnly, p.UpdatedAt,
	)
	out, err := scanProfile(row)
	if err != nil {
		return model.Profile{}, &model.StorageError{Op: "upsert profile", Err: err}
	}
	return out, nil
}

func (s *Store) GetProfile(ctx context.Context, profileID string) (model.Profile, error) {
	p, err := scanProfile(s.pool.QueryRow(ctx,
		`SELECT `+profileColumns+` FROM profiles WHERE profile_id = $1`, profileID))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Profile{}, fmt.Errorf("profile %q: %w", profileID, model.ErrNotFound)
	}
	if err != nil {
		return model.Profile{}, &model.StorageError{Op: "get profile", Err: err}
	}
	return p, nil
}

func (s *Store) ListProfiles(ctx context.Context) ([]model.Profile, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+profileColumns+` FROM profiles ORDER BY profile_id`)
	if err != nil {
		return nil, &model.StorageError{Op: "list profiles", Err: err}
	}
	defer rows.Close()

	profiles := make([]model.Profile, 0)
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, &model.StorageError{Op: "list profiles", Err: err}
		}
		profiles = append(profiles, p)
	}
	if err := rows.Err(); err != nil {
		return nil, &model.StorageError{Op: "list profiles", Err: err}
	}
	return profiles, nil
}

func (s *Store) DeleteProfile(ctx context.Context, profileID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM profiles WHERE profile_id = $1`, profileID)
	if err != nil {
		return &model.StorageError{Op: "delete profile", Err: err}
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("profile %q: %w", profileID, model.ErrNotFound)
	}
	return nil
}

func scanProfile(row pgx.Row) (model.Profile, error) {
	var p model.Profile
	err := row.Scan(&p.ProfileID, &p.Name, &p.Keywords, &p.Locations, &p.Companies,
		&p.RemoteOnly, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

// ─── Audit events ────────────────────────────────────────────────────────────

func (s *Store) AppendAuditEvent(ctx context.Context, ev model.AuditEvent) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO audit_events (event_id, created_at, request_id, action, status, actor,
		                           transport, method, path, status_code)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		ev.EventID, ev.CreatedAt, ev.RequestID, ev.Action, string(ev.Status), ev.Actor,
		ev.Transport, ev.Method, ev.Path, ev.StatusCode,
	)
	if isUniqueViolation(err) {
		return &model.ConflictError{Resource: "audit event", Key: ev.EventID}
	}
	if err != nil {
		return &model.StorageError{Op: "append audit event", Err: err}
	}
	return nil
}

// ListAuditEvents returns the newest events first.
func (s *Store) ListAuditEvents(ctx context.Context, filter model.AuditFilter) ([]model.AuditEvent, error) {
	query := `SELECT event_id, created_at, request_id, action, status, actor, transport, method,
	                 path, status_code
	          FROM audit_events`
	var (
		where []string
		args  []any
	)
	if filter.Action != "" {
		args = append(args, filter.Action)
		where = append(where, fmt.Sprintf("action = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY seq DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, &model.StorageError{Op: "list audit events", Err: err}
	}
	defer rows.Close()

	events := make([]model.AuditEvent, 0)
	for rows.Next() {
		var (
			ev     model.AuditEvent
			status string
		)
		if err := rows.Scan(&ev.EventID, &ev.CreatedAt, &ev.RequestID, &ev.Action, &status, &ev.Actor,
			&ev.Transport, &ev.Method, &ev.Path, &ev.StatusCode); err != nil {
			return nil, &model.StorageError{Op: "list audit events", Err: err}
		}
		ev.Status = model.AuditStatus(status)
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, &model.StorageError{Op: "list audit events", Err: err}
	}
	return events, nil
}

// ─── API tokens ──────────────────────────────────────────────────────────────

const tokenColumns = `token_id, name, scopes, notes, secret_hash, created_at, expires_at, revoked_at`

func (s *Store) CreateAPIToken(ctx context.Context, tok model.APIToken) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO api_tokens (`+tokenColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		tok.TokenID, tok.Name, nonNil(tok.Scopes), tok.Notes, tok.SecretHash, tok.CreatedAt,
		tok.ExpiresAt, tok.RevokedAt,
	)
	if isUniqueViolation(err) {
		return &model.ConflictError{Resource: "api token", Key: tok.TokenID}
	}
	if err != nil {
		return &model.StorageError{Op: "create api token", Err: err}
	}
	return nil
}

func (s *Store) GetAPIToken(ctx context.Context, tokenID string) (model.APIToken, error) {
	tok, err := scanToken(s.pool.QueryRow(ctx,
		`SELECT `+tokenColumns+` FROM api_tokens WHERE token_id = $1`, tokenID))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.APIToken{}, fmt.Errorf("api token %q: %w", tokenID, model.ErrNotFound)
	}
	if err != nil {
		return model.APIToken{}, &model.StorageError{Op: "get api token", Err: err}
	}
	return tok, nil
}

func (s *Store) ListAPITokens(ctx context.Context) ([]model.APIToken, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tokenColumns+` FROM api_tokens ORDER BY created_at, token_id`)
	if err != nil {
		return nil, &model.StorageError{Op: "list api tokens", Err: err}
	}
	defer rows.Close()

	tokens := make([]model.APIToken, 0)
	for rows.Next() {
		tok, err := scanToken(rows)
		if err != nil {
			return nil, &model.StorageError{Op: "list api tokens", Err: err}
		}
		tokens = append(tokens, tok)
	}
	if err := rows.Err(); err != nil {
		return nil, &model.StorageError{Op: "list api tokens", Err: err}
	}
	return tokens, nil
}

func (s *Store) RevokeAPIToken(ctx context.Context, tokenID string, at time.Time) (model.APIToken, error) {
	tok, err := scanToken(s.pool.QueryRow(ctx,
		`UPDATE api_tokens SET revoked_at = COALESCE(revoked_at, $2)
		 WHERE token_id = $1
		 RETURNING `+tokenColumns,
		tokenID, at))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.APIToken{}, fmt.Errorf("api token %q: %w", tokenID, model.ErrNotFound)
	}
	if err != nil {
		return model.APIToken{}, &model.StorageError{Op: "revoke api token", Err: err}
	}
	return tok, nil
}

func scanToken(row pgx.Row) (model.APIToken, error) {
	var tok model.APIToken
	err := row.Scan(&tok.TokenID, &tok.Name, &tok.Scopes, &tok.Notes, &tok.SecretHash,
		&tok.CreatedAt, &tok.ExpiresAt, &tok.RevokedAt)
	return tok, err
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
