// Package httpapi exposes the recommender service over HTTP.
//
// Scoped routes check the x-api-key header when authentication is on and
// write an audit event either way; the event id comes back in the
// x-audit-event-id header. Every response carries an x-request-id.
//
// Routes:
//
//	GET    /health                      → storage ping
//	GET    /metrics                     → request counters per route
//	GET    /job-sources                 → list sources (?enabled_only=true)
//	POST   /job-sources                 → register a source
//	GET    /job-sources/{id}            → one source with health
//	PUT    /job-sources/{id}            → replace a source definition
//	POST   /job-sources/{id}/scan       → scan one source (?respect_backoff=true)
//	POST   /job-sources/scan            → scan all sources
//	GET    /postings                    → list postings (?source_id, q, limit)
//	POST   /postings                    → upsert an ad-hoc batch
//	POST   /recommend                   → ranked recommendations
//	GET    /recommendations/history     → recent recommend calls (?limit)
//	GET    /scans                       → scan history (?trigger, source_id, limit)
//	GET    /profiles                    → list profiles
//	POST   /profiles                    → create or replace a profile
//	GET    /profiles/{id}               → one profile
//	PUT    /profiles/{id}               → create or replace a profile
//	DELETE /profiles/{id}               → delete a profile
//	GET    /audit-events                → audit log (?action, status, limit)
//	POST   /auth/tokens                 → issue a token, returned once
//	GET    /auth/tokens                 → list issued tokens
//	POST   /auth/tokens/{id}/revoke     → revoke a token
package httpapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"jobmate/recommender-service/internal/auth"
	"jobmate/recommender-service/internal/model"
	"jobmate/recommender-service/internal/service"
)

const apiKeyHeader = "x-api-key"

// ─── Handler ─────────────────────────────────────────────────────────────────

// Handler holds shared dependencies.
type Handler struct {
	svc     *service.Service
	metrics *Metrics
	version string
	log     *zap.Logger
}

// NewHandler returns a configured Handler. Serve it wrapped in Middleware so
// requests get ids and show up in /metrics.
func NewHandler(svc *service.Service, version string, logger *zap.Logger) *Handler {
	return &Handler{svc: svc, metrics: NewMetrics(), version: version, log: logger.Named("http")}
}

// RegisterRoutes mounts all recommender routes on mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.health)
	mux.HandleFunc("GET /metrics", h.metricsSnapshot)

	mux.HandleFunc("GET /job-sources", h.guard(service.OpListSources, h.listSources))
	mux.HandleFunc("POST /job-sources", h.guard(service.OpRegisterSource, h.registerSource))
	mux.HandleFunc("GET /job-sources/{id}", h.guard(service.OpGetSource, h.getSource))
	mux.HandleFunc("PUT /job-sources/{id}", h.guard(service.OpUpdateSource, h.updateSource))
	mux.HandleFunc("POST /job-sources/{id}/scan", h.guard(service.OpScanSource, h.scanSource))
	mux.HandleFunc("POST /job-sources/scan", h.guard(service.OpScanAll, h.scanAll))

	mux.HandleFunc("GET /postings", h.guard(service.OpListPostings, h.listPostings))
	mux.HandleFunc("POST /postings", h.guard(service.OpUpsertPostings, h.upsertPostings))

	mux.HandleFunc("POST /recommend", h.guard(service.OpRecommend, h.recommend))
	mux.HandleFunc("GET /recommendations/history", h.guard(service.OpListRecommendation, h.recommendationHistory))
	mux.HandleFunc("GET /scans", h.guard(service.OpListScanHistory, h.scanHistory))

	mux.HandleFunc("GET /profiles", h.guard(service.OpListProfiles, h.listProfiles))
	mux.HandleFunc("POST /profiles", h.guard(service.OpUpsertProfile, h.upsertProfile))
	mux.HandleFunc("GET /profiles/{id}", h.guard(service.OpGetProfile, h.getProfile))
	mux.HandleFunc("PUT /profiles/{id}", h.guard(service.OpUpsertProfile, h.upsertProfile))
	mux.HandleFunc("DELETE /profiles/{id}", h.guard(service.OpDeleteProfile, h.deleteProfile))

	mux.HandleFunc("GET /audit-events", h.guard(service.OpListAuditEvents, h.listAuditEvents))
	mux.HandleFunc("POST /auth/tokens", h.guard(service.OpIssueToken, h.issueToken))
	mux.HandleFunc("GET /auth/tokens", h.guard(service.OpListTokens, h.listTokens))
	mux.HandleFunc("POST /auth/tokens/{id}/revoke", h.guard(service.OpRevokeToken, h.revokeToken))
}

// guard enforces the scope op requires and audits the call, including
// rejected ones.
func (h *Handler) guard(op service.Operation, next http.HandlerFunc) http.HandlerFunc {
	if !service.Audited(op) {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		eventID := uuid.NewString()
		w.Header().Set(auditEventHeader, eventID)
		rec := &statusRecorder{ResponseWriter: w}

		p, err := h.svc.Authorize(r.Context(), r.Header.Get(apiKeyHeader), op)
		switch {
		case errors.Is(err, auth.ErrUnauthenticated):
			jsonError(rec, err.Error(), http.StatusUnauthorized)
		case errors.Is(err, auth.ErrForbidden):
			jsonError(rec, err.Error(), http.StatusForbidden)
		case err != nil:
			h.fail(rec, r, err)
		default:
			next(rec, r)
		}

		// the request context may already be cancelled by a client hangup
		h.svc.RecordAudit(context.WithoutCancel(r.Context()), model.AuditEvent{
			EventID:    eventID,
			RequestID:  RequestID(r.Context()),
			Action:     string(op),
			Status:     model.AuditStatusFor(rec.code()),
			Actor:      p.Name,
			Transport:  "http",
			Method:     r.Method,
			Path:       r.URL.Path,
			StatusCode: rec.code(),
		})
	}
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	status, code := "ok", http.StatusOK
	if err := h.svc.Health(r.Context()); err != nil {
		h.log.Warn("health check failed", zap.Error(err))
		status, code = "degraded", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]string{
		"status":  status,
		"service": "recommender-service",
		"version": h.version,
	})
}

func (h *Handler) metricsSnapshot(w http.ResponseWriter, _ *http.Request) {
	jsonOK(w, h.metrics.Snapshot())
}
