// Package sqlite implements store.Store on a local SQLite database. It backs
// single-node runs and the test suites.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"

	"jobmate/recommender-service/internal/model"
	"jobmate/recommender-service/internal/store"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Store is the SQLite backend.
type Store struct {
	db  *sql.DB
	log *zap.Logger
}

var _ store.Store = (*Store)(nil)

// Open opens or creates the database at path and migrates it. Writes take the
// lock at BEGIN so concurrent scans queue on the busy timeout instead of
// failing on lock upgrade.
func Open(ctx context.Context, path string, logger *zap.Logger) (*Store, error) {
	logger = logger.Named("sqlite")
	dsn := path + "?_busy_timeout=5000&_foreign_keys=on&_journal_mode=WAL&_txlock=immediate"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	sub, err := fs.Sub(migrations, "migrations")
	if err != nil {
		db.Close()
		return nil, err
	}
	if err := store.Migrate(ctx, goose.DialectSQLite3, db, sub, logger); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db, log: logger}, nil
}

// Ping checks the database handle.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// ─── Sources ─────────────────────────────────────────────────────────────────

const sourceColumns = `source_id, name, source_type, config, enabled, last_scan_at, last_status,
	last_error, consecutive_failures, next_eligible_scan_at, last_duration_ms, created_at, updated_at`

func (s *Store) CreateSource(ctx context.Context, src model.JobSource) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO job_sources (`+sourceColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		src.SourceID, src.Name, string(src.SourceType), src.Config, src.Enabled,
		nullTime(src.LastScanAt), string(src.LastStatus), src.LastError, src.ConsecutiveFailures,
		nullTime(src.NextEligibleScanAt), src.LastDurationMS, src.CreatedAt.UTC(), src.UpdatedAt.UTC(),
	)
	if isConstraint(err) {
		return &model.ConflictError{Resource: "source", Key: src.SourceID}
	}
	if err != nil {
		return &model.StorageError{Op: "create source", Err: err}
	}
	return nil
}

func (s *Store) GetSource(ctx context.Context, sourceID string) (model.JobSource, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sourceColumns+` FROM job_sources WHERE source_id = ?`, sourceID)
	src, err := scanSource(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.JobSource{}, fmt.Errorf("source %q: %w", sourceID, model.ErrNotFound)
	}
	if err != nil {
		return model.JobSource{}, &model.StorageError{Op: "get source", Err: err}
	}
	return src, nil
}

func (s *Store) ListSources(ctx context.Context, enabledOnly bool) ([]model.JobSource, error) {
	query := `SELECT ` + sourceColumns + ` FROM job_sources`
	if enabledOnly {
		query += ` WHERE enabled = 1`
	}
	query += ` ORDER BY source_id`

	rows, err := s.db.QueryContext(ctx, query)
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
	res, err := s.db.ExecContext(ctx,
		`UPDATE job_sources
		 SET name = ?, source_type = ?, config = ?, enabled = ?, updated_at = ?
		 WHERE source_id = ?`,
		src.Name, string(src.SourceType), src.Config, src.Enabled, src.UpdatedAt.UTC(), src.SourceID,
	)
	return checkAffected(res, err, "update source", "source", src.SourceID)
}

func (s *Store) UpdateSourceHealth(ctx context.Context, src model.JobSource) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE job_sources
		 SET last_scan_at = ?, last_status = ?, last_error = ?, consecutive_failures = ?,
		     next_eligible_scan_at = ?, last_duration_ms = ?, updated_at = ?
		 WHERE source_id = ?`,
		nullTime(src.LastScanAt), string(src.LastStatus), src.LastError, src.ConsecutiveFailures,
		nullTime(src.NextEligibleScanAt), src.LastDurationMS, src.UpdatedAt.UTC(), src.SourceID,
	)
	return checkAffected(res, err, "update source health", "source", src.SourceID)
}

func scanSource(row interface{ Scan(...any) error }) (model.JobSource, error) {
	var (
		src                    model.JobSource
		sourceType, lastStatus string
		lastScan, nextEligible sql.NullTime
	)
	if err := row.Scan(
		&src.SourceID, &src.Name, &sourceType, &src.Config, &src.Enabled,
		&lastScan, &lastStatus, &src.LastError, &src.ConsecutiveFailures,
		&nextEligible, &src.LastDurationMS, &src.CreatedAt, &src.UpdatedAt,
	); err != nil {
		return model.JobSource{}, err
	}
	src.SourceType = model.SourceType(sourceType)
	src.LastStatus = model.SourceStatus(lastStatus)
	src.LastScanAt = timePtr(lastScan)
	src.NextEligibleScanAt = timePtr(nextEligible)
	return src, nil
}

// ─── Postings ────────────────────────────────────────────────────────────────

const postingColumns = `id, COALESCE(source_id, ''), COALESCE(external_id, ''), title, company, location,
	description, url, dedup_key, first_seen_at, last_seen_at, duplicate_hint_count`

func (s *Store) UpsertPostings(ctx context.Context, postings []model.Posting) (store.UpsertResult, error) {
	res := store.UpsertResult{Postings: make([]model.Posting, 0, len(postings))}
	if len(postings) == 0 {
		return res, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return store.UpsertResult{}, &model.StorageError{Op: "upsert postings", Err: err}
	}
	defer tx.Rollback()

	for _, p := range postings {
		var (
			existingID    string
			existingFirst time.Time
		)
		err := tx.QueryRowContext(ctx,
			`SELECT id, first_seen_at FROM postings WHERE dedup_key = ?`, p.DedupKey,
		).Scan(&existingID, &existingFirst)
		exists := err == nil
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return store.UpsertResult{}, &model.StorageError{Op: "upsert postings", Err: err}
		}

		var idFirst time.Time
		err = tx.QueryRowContext(ctx,
			`SELECT first_seen_at FROM postings WHERE id = ?`, p.ID,
		).Scan(&idFirst)
		idTaken := err == nil
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return store.UpsertResult{}, &model.StorageError{Op: "upsert postings", Err: err}
		}

		switch {
		case exists && idTaken && existingID != p.ID:
			return store.UpsertResult{}, &model.ConflictError{Resource: "posting id", Key: p.ID}
		case !exists && idTaken:
			// The id names a stored posting whose content changed: re-key it.
			if err := updatePostingByID(ctx, tx, p); err != nil {
				return store.UpsertResult{}, err
			}
			p.FirstSeenAt = idFirst
			p.LastSeenAt = p.LastSeenAt.UTC()
			res.Updated++
			res.Postings = append(res.Postings, p)
			continue
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO postings (id, source_id, external_id, title, company, location, description,
			                       url, dedup_key, first_seen_at, last_seen_at, duplicate_hint_count)
			 VALUES (?, NULLIF(?, ''), NULLIF(?, ''), ?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT (dedup_key) DO UPDATE SET
			   source_id            = excluded.source_id,
			   external_id          = excluded.external_id,
			   title                = excluded.title,
			   company              = excluded.company,
			   location             = excluded.location,
			   description          = excluded.description,
			   url                  = excluded.url,
			   last_seen_at         = excluded.last_seen_at,
			   duplicate_hint_count = excluded.duplicate_hint_count`,
			p.ID, p.SourceID, p.ExternalID, p.Title, p.Company, p.Location, p.Description,
			p.URL, p.DedupKey, p.FirstSeenAt.UTC(), p.LastSeenAt.UTC(), p.DuplicateHintCount,
		)
		if isConstraint(err) {
			return store.UpsertResult{}, &model.ConflictError{Resource: "posting id", Key: p.ID}
		}
		if err != nil {
			return store.UpsertResult{}, &model.StorageError{Op: "upsert postings", Err: err}
		}

		if exists {
			p.ID, p.FirstSeenAt = existingID, existingFirst
			res.Updated++
		} else {
			res.Inserted++
		}
		p.LastSeenAt = p.LastSeenAt.UTC()
		res.Postings = append(res.Postings, p)
	}

	if err := tx.Commit(); err != nil {
		return store.UpsertResult{}, &model.StorageError{Op: "upsert postings commit", Err: err}
	}
	return res, nil
}

func updatePostingByID(ctx context.Context, tx *sql.Tx, p model.Posting) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE postings SET
		   source_id            = NULLIF(?, ''),
		   external_id          = NULLIF(?, ''),
		   title                = ?,
		   company              = ?,
		   location             = ?,
		   description          = ?,
		   url                  = ?,
		   dedup_key            = ?,
		   last_seen_at         = ?,
		   duplicate_hint_count = ?
		 WHERE id = ?`,
		p.SourceID, p.ExternalID, p.Title, p.Company, p.Location, p.Description,
		p.URL, p.DedupKey, p.LastSeenAt.UTC(), p.DuplicateHintCount, p.ID,
	)
	if isConstraint(err) {
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
		conds = append(conds, "source_id = ?")
		args = append(args, filter.SourceID)
	}
	if filter.IDs != nil {
		if len(filter.IDs) == 0 {
			return []model.Posting{}, nil
		}
		conds = append(conds, "id IN (?"+strings.Repeat(", ?", len(filter.IDs)-1)+")")
		for _, id := range filter.IDs {
			args = append(args, id)
		}
	}
	if q := strings.TrimSpace(filter.Query); q != "" {
		like := "%" + likeEscaper.Replace(q) + "%"
		conds = append(conds, `(title LIKE ? ESCAPE '\' OR company LIKE ? ESCAPE '\' OR description LIKE ? ESCAPE '\')`)
		args = append(args, like, like, like)
	}

	query := `SELECT ` + postingColumns + ` FROM postings`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY last_seen_at DESC, id ASC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
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
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO scan_records (source_id, scan_trigger, status, stage, started_at, finished_at,
		                           postings_seen, postings_upserted, postings_skipped,
		                           possible_duplicates, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.SourceID, string(rec.Trigger), string(rec.Status), string(rec.Stage),
		rec.StartedAt.UTC(), rec.FinishedAt.UTC(),
		rec.PostingsSeen, rec.PostingsUpserted, rec.PostingsSkipped, rec.PossibleDuplicates, rec.Error,
	)
	if err != nil {
		return model.ScanRecord{}, &model.StorageError{Op: "append scan record", Err: err}
	}
	if rec.ID, err = res.LastInsertId(); err != nil {
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
		conds = append(conds, "source_id = ?")
		args = append(args, filter.SourceID)
	}
	if filter.Trigger != "" {
		conds = append(conds, "scan_trigger = ?")
		args = append(args, string(filter.Trigger))
	}

	query := `SELECT id, source_id, scan_trigger, status, stage, started_at, finished_at, postings_seen,
	                 postings_upserted, postings_skipped, possible_duplicates, error
	          FROM scan_records`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY started_at DESC, id DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &model.StorageError{Op: "list scan records", Err: err}
	}
	defer rows.Close()

	records := make([]model.ScanRecord, 0)
	for rows.Next() {
		var (
			rec                    model.ScanRecord
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
	ids, err := encodeList(h.TopPostingIDs)
	if err != nil {
		return model.RecommendationHistory{}, &model.StorageError{Op: "append recommendation history", Err: err}
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO recommendation_history (created_at, resume_snippet, profile_id, source,
		                                     result_count, top_posting_ids)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		h.CreatedAt.UTC(), h.ResumeSnippet, h.ProfileID, h.Source, h.ResultCount, ids,
	)
	if err != nil {
		return model.RecommendationHistory{}, &model.StorageError{Op: "append recommendation history", Err: err}
	}
	if h.ID, err = res.LastInsertId(); err != nil {
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
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &model.StorageError{Op: "list recommendation history", Err: err}
	}
	defer rows.Close()

	runs := make([]model.RecommendationHistory, 0)
	for rows.Next() {
		var (
			h   model.RecommendationHistory
			ids string
		)
		if err := rows.Scan(&h.ID, &h.CreatedAt, &h.ResumeSnippet, &h.ProfileID, &h.Source,
			&h.ResultCount, &ids); err != nil {
			return nil, &model.StorageError{Op: "list recommendation history", Err: err}
		}
		if h.TopPostingIDs, err = decodeList(ids); err != nil {
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
	var lists [3]string
	for i, l := range [][]string{p.Keywords, p.Locations, p.Companies} {
		enc, err := encodeList(l)
		if err != nil {
			return model.Profile{}, &model.StorageError{Op: "upsert profile", Err: err}
		}
		lists[i] = enc
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO profiles (`+profileColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (profile_id) DO UPDATE SET
		   name                = excluded.name,
		   preferred_keywords  = excluded.preferred_keywords,
		   preferred_locations = excluded.preferred_locations,
		   preferred_companies = excluded.preferred_companies,
		   remote_only         = excluded.remote_only,
		   updated_at          = excluded.updated_at`,
		p.ProfileID, p.Name, lists[0], lists[1], lists[2], p.RemoteOnly,
		p.UpdatedAt.UTC(), p.UpdatedAt.UTC(),
	)
	if err != nil {
		return model.Profile{}, &model.StorageError{Op: "upsert profile", Err: err}
	}
	return s.GetProfile(ctx, p.ProfileID)
}

func (s *Store) GetProfile(ctx context.Context, profileID string) (model.Profile, error) {
	p, err := scanProfile(s.db.QueryRowContext(ctx,
		`SELECT `+profileColumns+` FROM profiles WHERE profile_id = ?`, profileID))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Profile{}, fmt.Errorf("profile %q: %w", profileID, model.ErrNotFound)
	}
	if err != nil {
		return model.Profile{}, &model.StorageError{Op: "get profile", Err: err}
	}
	return p, nil
}

func (s *Store) ListProfiles(ctx context.Context) ([]model.Profile, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+profileColumns+` FROM profiles ORDER BY profile_id`)
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
	res, err := s.db.ExecContext(ctx, `DELETE FROM profiles WHERE profile_id = ?`, profileID)
	return checkAffected(res, err, "delete profile", "profile", profileID)
}

func scanProfile(row interface{ Scan(...any) error }) (model.Profile, error) {
	var (
		p                               model.Profile
		keywords, locations, companies string
	)
	if err := row.Scan(&p.ProfileID, &p.Name, &keywords, &locations, &companies,
		&p.RemoteOnly, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return model.Profile{}, err
	}
	var err error
	if p.Keywords, err = decodeList(keywords); err != nil {
		return model.Profile{}, err
	}
	if p.Locations, err = decodeList(locations); err != nil {
		return model.Profile{}, err
	}
	if p.Companies, err = decodeList(companies); err != nil {
		return model.Profile{}, err
	}
	return p, nil
}

// ─── Audit events ────────────────────────────────────────────────────────────

func (s *Store) AppendAuditEvent(ctx context.Context, ev model.AuditEvent) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_events (event_id, created_at, request_id, action, status, actor,
		                           transport, method, path, status_code)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.EventID, ev.CreatedAt.UTC(), ev.RequestID, ev.Action, string(ev.Status), ev.Actor,
		ev.Transport, ev.Method, ev.Path, ev.StatusCode,
	)
	if isConstraint(err) {
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
		where = append(where, "action = ?")
		args = append(args, filter.Action)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY seq DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
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
	scopes, err := encodeList(tok.Scopes)
	if err != nil {
		return &model.StorageError{Op: "create api token", Err: err}
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO api_tokens (`+tokenColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		tok.TokenID, tok.Name, scopes, tok.Notes, tok.SecretHash, tok.CreatedAt.UTC(),
		nullTime(tok.ExpiresAt), nullTime(tok.RevokedAt),
	)
	if isConstraint(err) {
		return &model.ConflictError{Resource: "api token", Key: tok.TokenID}
	}
	if err != nil {
		return &model.StorageError{Op: "create api token", Err: err}
	}
	return nil
}

func (s *Store) GetAPIToken(ctx context.Context, tokenID string) (model.APIToken, error) {
	tok, err := scanToken(s.db.QueryRowContext(ctx,
		`SELECT `+tokenColumns+` FROM api_tokens WHERE token_id = ?`, tokenID))
	if errors.Is(err, sql.ErrNoRows) {
		return model.APIToken{}, fmt.Errorf("api token %q: %w", tokenID, model.ErrNotFound)
	}
	if err != nil {
		return model.APIToken{}, &model.StorageError{Op: "get api token", Err: err}
	}
	return tok, nil
}

func (s *Store) ListAPITokens(ctx context.Context) ([]model.APIToken, error) {
	rows, err := s.db.QueryContext(ctx,
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
	res, err := s.db.ExecContext(ctx,
		`UPDATE api_tokens SET revoked_at = COALESCE(revoked_at, ?) WHERE token_id = ?`,
		at.UTC(), tokenID)
	if err := checkAffected(res, err, "revoke api token", "api token", tokenID); err != nil {
		return model.APIToken{}, err
	}
	return s.GetAPIToken(ctx, tokenID)
}

func scanToken(row interface{ Scan(...any) error }) (model.APIToken, error) {
	var (
		tok              model.APIToken
		scopes           string
		expires, revoked sql.NullTime
	)
	if err := row.Scan(&tok.TokenID, &tok.Name, &scopes, &tok.Notes, &tok.SecretHash,
		&tok.CreatedAt, &expires, &revoked); err != nil {
		return model.APIToken{}, err
	}
	var err error
	if tok.Scopes, err = decodeList(scopes); err != nil {
		return model.APIToken{}, err
	}
	tok.ExpiresAt = timePtr(expires)
	tok.RevokedAt = timePtr(revoked)
	return tok, nil
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

func isConstraint(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}

func checkAffected(res sql.Result, err error, op, resource, key string) error {
	if err != nil {
		return &model.StorageError{Op: op, Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return &model.StorageError{Op: op, Err: err}
	}
	if n == 0 {
		return fmt.Errorf("%s %q: %w", resource, key, model.ErrNotFound)
	}
	return nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

func encodeList(l []string) (string, error) {
	if l == nil {
		l = []string{}
	}
	b, err := json.Marshal(l)
	return string(b), err
}

func decodeList(s string) ([]string, error) {
	out := []string{}
	if s == "" {
		return out, nil
	}
	err := json.Unmarshal([]byte(s), &out)
	return out, err
}
