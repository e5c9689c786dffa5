// Package model defines shared data structures for the recommender service.
package model

import (
	"fmt"
	"time"
)

// SourceType selects how a JobSource is fetched.
type SourceType string

const (
	SourceTypeInlineJSON SourceType = "inline_json"
	SourceTypeJSONURL    SourceType = "json_url"
)

// ParseSourceType converts a raw string to a SourceType, returning an error for
// unknown values.
func ParseSourceType(s string) (SourceType, error) {
	st := SourceType(s)
	switch st {
	case SourceTypeInlineJSON, SourceTypeJSONURL:
		return st, nil
	}
	return "", fmt.Errorf("unknown source type %q", s)
}

// SourceStatus is the outcome of the most recent scan of a source.
type SourceStatus string

const (
	SourceNeverRun SourceStatus = "never_run"
	SourceSuccess  SourceStatus = "success"
	SourceFailure  SourceStatus = "failure"
)

// Trigger records who started a scan.
type Trigger string

const (
	TriggerManual    Trigger = "manual"
	TriggerScheduled Trigger = "scheduled"
)

// ParseTrigger converts a raw string to a Trigger. The empty string is rejected.
func ParseTrigger(s string) (Trigger, error) {
	t := Trigger(s)
	switch t {
	case TriggerManual, TriggerScheduled:
		return t, nil
	}
	return "", fmt.Errorf("unknown scan trigger %q", s)
}

// ScanState is a step of the per-attempt scan state machine. Terminal states
// are also the persisted ScanRecord status.
type ScanState string

const (
	ScanPending     ScanState = "PENDING"
	ScanFetching    ScanState = "FETCHING"
	ScanNormalizing ScanState = "NORMALIZING"
	ScanUpserting   ScanState = "UPSERTING"
	ScanSucceeded   ScanState = "SUCCEEDED"
	ScanFailed      ScanState = "FAILED"
	ScanSkipped     ScanState = "SKIPPED"
)

// RawPosting is a posting as it arrives from a source payload or an ad-hoc
// request, before normalization.
type RawPosting struct {
	ID          string `json:"id,omitempty" mapstructure:"id"`
	SourceID    string `json:"source_id,omitempty" mapstructure:"source_id"`
	ExternalID  string `json:"external_id,omitempty" mapstructure:"external_id"`
	Title       string `json:"title" mapstructure:"title"`
	Company     string `json:"company,omitempty" mapstructure:"company"`
	Location    string `json:"location,omitempty" mapstructure:"location"`
	Description string `json:"description" mapstructure:"description"`
	URL         string `json:"url,omitempty" mapstructure:"url"`
}

// Posting is a normalised, stored job posting.
type Posting struct {
	ID                 string    `json:"id"`
	SourceID           string    `json:"source_id,omitempty"`
	ExternalID         string    `json:"external_id,omitempty"`
	Title              string    `json:"title"`
	Company            string    `json:"company"`
	Location           string    `json:"location"`
	Description        string    `json:"description"`
	URL                string    `json:"url"`
	DedupKey           string    `json:"dedup_key"`
	FirstSeenAt        time.Time `json:"first_seen_at"`
	LastSeenAt         time.Time `json:"last_seen_at"`
	DuplicateHintCount int       `json:"duplicate_hint_count"`
}

// JobSource mirrors a job_sources row: the source definition plus the health
// state maintained by the registry.
type JobSource struct {
	SourceID   string     `json:"source_id"`
	Name       string     `json:"name"`
	SourceType SourceType `json:"source_type"`
	Config     string     `json:"config"` // inline payload or URL
	Enabled    bool       `json:"enabled"`

	LastScanAt          *time.Time   `json:"last_scan_at,omitempty"`
	LastStatus          SourceStatus `json:"last_status"`
	LastError           string       `json:"last_error,omitempty"`
	ConsecutiveFailures int          `json:"consecutive_failures"`
	NextEligibleScanAt  *time.Time   `json:"next_eligible_scan_at,omitempty"`
	LastDurationMS      int64        `json:"last_duration_ms"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ScanRecord is one entry of the append-only scan audit log.
type ScanRecord struct {
	ID                 int64     `json:"id,omitempty"`
	SourceID           string    `json:"source_id"`
	Trigger            Trigger   `json:"trigger"`
	StartedAt          time.Time `json:"started_at"`
	FinishedAt         time.Time `json:"finished_at"`
	Status             ScanState `json:"status"`
	Stage              ScanState `json:"stage"` // last state reached before the terminal one
	PostingsSeen       int       `json:"postings_seen"`
	PostingsUpserted   int       `json:"postings_upserted"`
	PostingsSkipped    int       `json:"postings_skipped"`
	PossibleDuplicates int       `json:"possible_duplicates"`
	Error              string    `json:"error,omitempty"`
}

// ScanSummary aggregates a scan_all run.
type ScanSummary struct {
	RequestedSources  int          `json:"requested_sources"`
	SuccessfulSources int          `json:"successful_sources"`
	FailedSources     int          `json:"failed_sources"`
	SkippedSources    int          `json:"skipped_sources"`
	TotalIngested     int          `json:"total_ingested"`
	Records           []ScanRecord `json:"records"`
}

// Preferences steer the preference bonus of the scorer.
type Preferences struct {
	Keywords   []string `json:"preferred_keywords"`
	Locations  []string `json:"preferred_locations"`
	Companies  []string `json:"preferred_companies"`
	RemoteOnly bool     `json:"remote_only"`
}

// Profile is a named, stored set of preferences.
type Profile struct {
	ProfileID string `json:"profile_id"`
	Name      string `json:"name"`
	Preferences
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ScoreBreakdown itemizes a recommendation score. The components sum to the
// total score.
type ScoreBreakdown struct {
	TitleOverlap       float64 `json:"title_overlap"`
	DescriptionOverlap float64 `json:"description_overlap"`
	PreferenceBonus    float64 `json:"preference_bonus"`
	Freshness          float64 `json:"freshness"`
	DuplicatePenalty   float64 `json:"duplicate_penalty"`
}

// Recommendation is one ranked result.
type Recommendation struct {
	PostingID    string         `json:"posting_id"`
	Title        string         `json:"title"`
	Company      string         `json:"company,omitempty"`
	Location     string         `json:"location,omitempty"`
	URL          string         `json:"url,omitempty"`
	Score        float64        `json:"score"`
	Breakdown    ScoreBreakdown `json:"score_breakdown"`
	MatchedTerms []string       `json:"matched_terms"`
	LastSeenAt   time.Time      `json:"last_seen_at"`
}

// RecommendationHistory is the audit copy of one recommend request.
type RecommendationHistory struct {
	ID            int64     `json:"id"`
	CreatedAt     time.Time `json:"created_at"`
	ResumeSnippet string    `json:"resume_snippet"`
	ProfileID     string    `json:"profile_id,omitempty"`
	Source        string    `json:"source"`
	ResultCount   int       `json:"result_count"`
	TopPostingIDs []string  `json:"top_posting_ids"`
}

// PostingFilter narrows ListPostings. Zero values mean "no constraint".
type PostingFilter struct {
	SourceID string
	Query    string
	IDs      []string
	Limit    int
}

// ScanHistoryFilter narrows ListScanRecords.
type ScanHistoryFilter struct {
	SourceID string
	Trigger  Trigger
	Limit    int
}

// ─── Access control ──────────────────────────────────────────────────────────

// APIToken is the stored metadata of an issued token. The secret itself is
// only returned once, at issue time.
type APIToken struct {
	TokenID    string     `json:"token_id"`
	Name       string     `json:"name"`
	Scopes     []string   `json:"scopes"`
	Notes      string     `json:"notes,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	ExpiresAt  *time.Time `json:"expires_at"`
	RevokedAt  *time.Time `json:"revoked_at"`
	SecretHash string     `json:"-"`
}

// Active reports whether t can still authenticate at now.
func (t APIToken) Active(now time.Time) bool {
	if t.RevokedAt != nil {
		return false
	}
	return t.ExpiresAt == nil || now.Before(*t.ExpiresAt)
}

// AuditStatus is the outcome recorded for a guarded request.
type AuditStatus string

const (
	AuditOK           AuditStatus = "ok"
	AuditUnauthorized AuditStatus = "unauthorized"
	AuditForbidden    AuditStatus = "forbidden"
	AuditRejected     AuditStatus = "rejected"
	AuditError        AuditStatus = "error"
)

// AuditStatusFor classifies a response code.
func AuditStatusFor(code int) AuditStatus {
	switch {
	case code == 401:
		return AuditUnauthorized
	case code == 403:
		return AuditForbidden
	case code >= 500:
		return AuditError
	case code >= 400:
		return AuditRejected
	default:
		return AuditOK
	}
}

// AuditEvent records one call to a scoped operation, allowed or not.
type AuditEvent struct {
	EventID    string      `json:"event_id"`
	CreatedAt  time.Time   `json:"created_at"`
	RequestID  string      `json:"request_id"`
	Action     string      `json:"action"`
	Status     AuditStatus `json:"status"`
	Actor      string      `json:"actor"`
	Transport  string      `json:"transport"`
	Method     string      `json:"method"`
	Path       string      `json:"path"`
	StatusCode int         `json:"status_code"`
}

// AuditFilter narrows ListAuditEvents.
type AuditFilter struct {
	Action string
	Status AuditStatus
	Limit  int
}
