package httpapi

import (
	"encoding/json"
	"net/http"

	"jobmate/recommender-service/internal/model"
)

// sourceBody is the register/update payload. config may be a string (a URL or
// an inline payload) or, for inline_json sources, the payload itself.
type sourceBody struct {
	SourceID   string          `json:"source_id"`
	Name       string          `json:"name"`
	SourceType string          `json:"source_type"`
	Config     json.RawMessage `json:"config"`
	Enabled    *bool           `json:"enabled"`
}

func (b sourceBody) toSource() (model.JobSource, error) {
	st, err := model.ParseSourceType(b.SourceType)
	if err != nil {
		return model.JobSource{}, model.Invalidf("%v", err)
	}

	var config string
	if len(b.Config) > 0 && b.Config[0] == '"' {
		if err := json.Unmarshal(b.Config, &config); err != nil {
			return model.JobSource{}, model.Invalidf("config: %v", err)
		}
	} else if len(b.Config) > 0 && string(b.Config) != "null" {
		config = string(b.Config)
	}

	enabled := true
	if b.Enabled != nil {
		enabled = *b.Enabled
	}
	return model.JobSource{
		SourceID:   b.SourceID,
		Name:       b.Name,
		SourceType: st,
		Config:     config,
		Enabled:    enabled,
	}, nil
}

func (h *Handler) listSources(w http.ResponseWriter, r *http.Request) {
	enabledOnly, err := queryBool(r, "enabled_only", false)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	sources, err := h.svc.ListSources(r.Context(), enabledOnly)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	jsonOK(w, sources)
}

func (h *Handler) registerSource(w http.ResponseWriter, r *http.Request) {
	var body sourceBody
	if err := decodeBody(w, r, &body); err != nil {
		h.fail(w, r, err)
		return
	}
	src, err := body.toSource()
	if err != nil {
		h.fail(w, r, err)
		return
	}
	created, err := h.svc.RegisterSource(r.Context(), src)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) getSource(w http.ResponseWriter, r *http.Request) {
	src, err := h.svc.GetSource(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	jsonOK(w, src)
}

func (h *Handler) updateSource(w http.ResponseWriter, r *http.Request) {
	var body sourceBody
	if err := decodeBody(w, r, &body); err != nil {
		h.fail(w, r, err)
		return
	}
	id := r.PathValue("id")
	if body.SourceID != "" && body.SourceID != id {
		jsonError(w, "source_id in body does not match path", http.StatusBadRequest)
		return
	}
	body.SourceID = id

	src, err := body.toSource()
	if err != nil {
		h.fail(w, r, err)
		return
	}
	updated, err := h.svc.UpdateSource(r.Context(), src)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	jsonOK(w, updated)
}

// scanSource handles POST /job-sources/{id}/scan. Manual scans ignore backoff
// unless ?respect_backoff=true.
func (h *Handler) scanSource(w http.ResponseWriter, r *http.Request) {
	trigger, err := parseTrigger(r.URL.Query().Get("trigger"), model.TriggerManual)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respect, err := queryBool(r, "respect_backoff", false)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	rec, err := h.svc.ScanSource(r.Context(), r.PathValue("id"), trigger, respect)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	jsonOK(w, rec)
}

// scanAll handles POST /job-sources/scan. An optional body selects
// enabled_only, trigger and respect_backoff; a scheduled trigger behaves like
// the timer.
func (h *Handler) scanAll(w http.ResponseWriter, r *http.Request) {
	body := struct {
		EnabledOnly    *bool  `json:"enabled_only"`
		Trigger        string `json:"trigger"`
		RespectBackoff bool   `json:"respect_backoff"`
	}{}
	if r.ContentLength != 0 {
		if err := decodeBody(w, r, &body); err != nil {
			h.fail(w, r, err)
			return
		}
	}
	trigger, err := parseTrigger(body.Trigger, model.TriggerManual)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	var summary model.ScanSummary
	if trigger == model.TriggerScheduled {
		summary, err = h.svc.ScanAllScheduled(r.Context())
	} else {
		enabledOnly := body.EnabledOnly == nil || *body.EnabledOnly
		summary, err = h.svc.ScanAll(r.Context(), enabledOnly, trigger, body.RespectBackoff)
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	jsonOK(w, summary)
}

func (h *Handler) scanHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	trigger, err := parseTrigger(q.Get("trigger"), "")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	recs, err := h.svc.ListScanHistory(r.Context(), model.ScanHistoryFilter{
		SourceID: q.Get("source_id"),
		Trigger:  trigger,
		Limit:    limit,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	jsonOK(w, recs)
}
