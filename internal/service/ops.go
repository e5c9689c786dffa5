package service

import "jobmate/recommender-service/internal/auth"

// Operation names a core operation exposed to transports.
type Operation string

const (
	OpRegisterSource     Operation = "register_source"
	OpUpdateSource       Operation = "update_source"
	OpGetSource          Operation = "get_source"
	OpListSources        Operation = "list_sources"
	OpScanSource         Operation = "scan_source"
	OpScanAll            Operation = "scan_all"
	OpScanAllScheduled   Operation = "scan_all_scheduled"
	OpUpsertPostings     Operation = "upsert_postings"
	OpListPostings       Operation = "list_postings"
	OpRecommend          Operation = "recommend"
	OpListRecommendation Operation = "list_recommendation_history"
	OpListScanHistory    Operation = "list_scan_history"
	OpUpsertProfile      Operation = "upsert_profile"
	OpGetProfile         Operation = "get_profile"
	OpListProfiles       Operation = "list_profiles"
	OpDeleteProfile      Operation = "delete_profile"
	OpIssueToken         Operation = "issue_token"
	OpListTokens         Operation = "list_tokens"
	OpRevokeToken        Operation = "revoke_token"
	OpListAuditEvents    Operation = "list_audit_events"
)

// Scope is a permission a caller token must carry. ScopeNone marks a
// read-only operation.
type Scope string

const (
	ScopeNone  Scope = ""
	ScopeWrite Scope = auth.ScopeWrite
	ScopeScan  Scope = auth.ScopeScan
	ScopeAdmin Scope = auth.ScopeAdmin
	ScopeAudit Scope = auth.ScopeAudit
)

var requiredScopes = map[Operation]Scope{
	OpRegisterSource:   ScopeWrite,
	OpUpdateSource:     ScopeWrite,
	OpUpsertPostings:   ScopeWrite,
	OpUpsertProfile:    ScopeWrite,
	OpDeleteProfile:    ScopeWrite,
	OpScanSource:       ScopeScan,
	OpScanAll:          ScopeScan,
	OpScanAllScheduled: ScopeScan,
	OpIssueToken:       ScopeAdmin,
	OpListTokens:       ScopeAdmin,
	OpRevokeToken:      ScopeAdmin,
	OpListAuditEvents:  ScopeAudit,
}

// RequiredScope returns the scope a transport must check before running op.
// The core itself does not authenticate.
func RequiredScope(op Operation) Scope {
	return requiredScopes[op]
}

// Audited reports whether calls to op are written to the audit log. Every
// scoped operation is, whether the call was allowed or not.
func Audited(op Operation) bool {
	return RequiredScope(op) != ScopeNone
}
