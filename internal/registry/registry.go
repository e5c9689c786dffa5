// Package registry owns job source definitions and their scan health:
// last outcome, consecutive failures and backoff eligibility.
package registry

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"jobmate/recommender-service/internal/feed"
	"jobmate/recommender-service/internal/model"
)

var sourceIDPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]{1,64}$`)

// Store is the persistence the registry needs.
type Store interface {
	CreateSource(ctx context.Context, src model.JobSource) error
	GetSource(ctx context.Context, sourceID string) (model.JobSource, error)
	ListSources(ctx context.Context, enabledOnly bool) ([]model.JobSource, error)
	UpdateSource(ctx context.Context, src model.JobSource) error
	UpdateSourceHealth(ctx context.Context, src model.JobSource) error
}

// Registry registers sources and tracks their health.
type Registry struct {
	store   Store
	backoff BackoffPolicy
	now     func() time.Time
	log     *zap.Logger
}

// New returns a Registry using policy for failure backoff.
func New(store Store, policy BackoffPolicy, logger *zap.Logger) *Registry {
	return &Registry{
		store:   store,
		backoff: policy,
		now:     time.Now,
		log:     logger.Named("registry"),
	}
}

// SetClock replaces the time source. Tests only.
func (r *Registry) SetClock(now func() time.Time) { r.now = now }

// Register validates and stores a new source with last_status=never_run.
// A duplicate source_id is a *model.ConflictError.
func (r *Registry) Register(ctx context.Context, src model.JobSource) (model.JobSource, error) {
	src, err := validate(src)
	if err != nil {
		return model.JobSource{}, err
	}

	now := r.now().UTC()
	src.LastStatus = model.SourceNeverRun
	src.LastScanAt = nil
	src.LastError = ""
	src.ConsecutiveFailures = 0
	src.NextEligibleScanAt = nil
	src.LastDurationMS = 0
	src.CreatedAt = now
	src.UpdatedAt = now

	if err := r.store.CreateSource(ctx, src); err != nil {
		return model.JobSource{}, err
	}
	r.log.Info("source registered",
		zap.String("source_id", src.SourceID),
		zap.String("source_type", string(src.SourceType)))
	return src, nil
}

// Update replaces the definition of an existing source (name, type, config,
// enabled). Health fields are left untouched.
func (r *Registry) Update(ctx context.Context, src model.JobSource) (model.JobSource, error) {
	src, err := validate(src)
	if err != nil {
		return model.JobSource{}, err
	}

	current, err := r.store.GetSource(ctx, src.SourceID)
	if err != nil {
		return model.JobSource{}, err
	}
	current.Name = src.Name
	current.SourceType = src.SourceType
	current.Config = src.Config
	current.Enabled = src.Enabled
	current.UpdatedAt = r.now().UTC()

	if err := r.store.UpdateSource(ctx, current); err != nil {
		return model.JobSource{}, err
	}
	return current, nil
}

// Get returns one source or an error wrapping model.ErrNotFound.
func (r *Registry) Get(ctx context.Context, sourceID string) (model.JobSource, error) {
	return r.store.GetSource(ctx, sourceID)
}

// List returns sources ordered by source_id.
func (r *Registry) List(ctx context.Context, enabledOnly bool) ([]model.JobSource, error) {
	return r.store.ListSources(ctx, enabledOnly)
}

// RecordOutcome stores the result of a scan attempt. A failure increments
// consecutive_failures and pushes next_eligible_scan_at out by the backoff
// delay; a success resets both.
func (r *Registry) RecordOutcome(
	ctx context.Context,
	sourceID string,
	status model.SourceStatus,
	errMsg string,
	duration time.Duration,
) (model.JobSource, error) {
	if status != model.SourceSuccess && status != model.SourceFailure {
		return model.JobSource{}, model.Invalidf("outcome status must be success or failure, got %q", status)
	}

	src, err := r.store.GetSource(ctx, sourceID)
	if err != nil {
		return model.JobSource{}, err
	}

	now := r.now().UTC()
	src.LastScanAt = &now
	src.LastStatus = status
	src.LastDurationMS = duration.Milliseconds()
	src.UpdatedAt = now

	if status == model.SourceFailure {
		src.ConsecutiveFailures++
		src.LastError = errMsg
		next := now.Add(r.backoff.Delay(src.ConsecutiveFailures))
		src.NextEligibleScanAt = &next
		r.log.Warn("source scan failed",
			zap.String("source_id", sourceID),
			zap.Int("consecutive_failures", src.ConsecutiveFailures),
			zap.Time("next_eligible_scan_at", next),
			zap.String("err", errMsg))
	} else {
		src.ConsecutiveFailures = 0
		src.LastError = ""
		src.NextEligibleScanAt = nil
	}

	if err := r.store.UpdateSourceHealth(ctx, src); err != nil {
		return model.JobSource{}, err
	}
	return src, nil
}

// IsEligible loads the source and applies Eligible.
func (r *Registry) IsEligible(ctx context.Context, sourceID string, respectBackoff bool) (bool, error) {
	src, err := r.store.GetSource(ctx, sourceID)
	if err != nil {
		return false, err
	}
	return r.Eligible(src, respectBackoff), nil
}

// Eligible is false only when respectBackoff is set and the source is still
// inside its backoff window.
func (r *Registry) Eligible(src model.JobSource, respectBackoff bool) bool {
	if !respectBackoff || src.NextEligibleScanAt == nil {
		return true
	}
	return !r.now().Before(*src.NextEligibleScanAt)
}

func validate(src model.JobSource) (model.JobSource, error) {
	src.SourceID = strings.TrimSpace(src.SourceID)
	if !sourceIDPattern.MatchString(src.SourceID) {
		return src, model.Invalidf("source_id must match %s", sourceIDPattern)
	}
	src.Name = strings.TrimSpace(src.Name)
	if src.Name == "" {
		src.Name = src.SourceID
	}

	st, err := model.ParseSourceType(string(src.SourceType))
	if err != nil {
		return src, &model.ValidationError{Msg: err.Error()}
	}
	src.SourceType = st

	switch st {
	case model.SourceTypeInlineJSON:
		if _, err := feed.Parse([]byte(src.Config)); err != nil {
			return src, model.Invalidf("inline payload: %v", err)
		}
	case model.SourceTypeJSONURL:
		src.Config = strings.TrimSpace(src.Config)
		u, err := url.Parse(src.Config)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return src, model.Invalidf("json_url source needs an absolute http(s) url, got %q", src.Config)
		}
	default:
		return src, fmt.Errorf("unhandled source type %q", st)
	}
	return src, nil
}
