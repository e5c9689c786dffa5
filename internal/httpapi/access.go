package httpapi

import (
	"net/http"

	"jobmate/recommender-service/internal/auth"
	"jobmate/recommender-service/internal/model"
)

func (h *Handler) listAuditEvents(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	q := r.URL.Query()
	events, err := h.svc.ListAuditEvents(r.Context(), model.AuditFilter{
		Action: q.Get("action"),
		Status: model.AuditStatus(q.Get("status")),
		Limit:  limit,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	jsonOK(w, map[string]any{"events": events})
}

func (h *Handler) issueToken(w http.ResponseWriter, r *http.Request) {
	var req auth.IssueRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	issued, err := h.svc.IssueToken(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, issued)
}

func (h *Handler) listTokens(w http.ResponseWriter, r *http.Request) {
	tokens, err := h.svc.ListTokens(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	jsonOK(w, map[string]any{"tokens": tokens})
}

func (h *Handler) revokeToken(w http.ResponseWriter, r *http.Request) {
	tok, err := h.svc.RevokeToken(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	jsonOK(w, map[string]any{"revoked": true, "metadata": tok})
}
