package httpapi

import (
	"net/http"

	"jobmate/recommender-service/internal/model"
	"jobmate/recommender-service/internal/recommend"
)

func (h *Handler) listPostings(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	q := r.URL.Query()
	postings, err := h.svc.ListPostings(r.Context(), model.PostingFilter{
		SourceID: q.Get("source_id"),
		Query:    q.Get("q"),
		Limit:    limit,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	jsonOK(w, postings)
}

func (h *Handler) upsertPostings(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Postings []any `json:"postings"`
	}
	if err := decodeBody(w, r, &body); err != nil {
		h.fail(w, r, err)
		return
	}
	raws, err := decodeRawPostings(body.Postings)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := h.svc.UpsertPostings(r.Context(), raws)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	jsonOK(w, map[string]any{
		"inserted": res.Inserted,
		"updated":  res.Updated,
		"postings": res.Postings,
	})
}

// recommendBody mirrors recommend.Request with loosely typed postings. An
// absent preference list leaves the profile's value; an empty one clears it.
type recommendBody struct {
	ResumeText         string   `json:"resume_text"`
	Postings           []any    `json:"postings"`
	ProfileID          string   `json:"profile_id"`
	PreferredKeywords  []string `json:"preferred_keywords"`
	PreferredLocations []string `json:"preferred_locations"`
	PreferredCompanies []string `json:"preferred_companies"`
	RemoteOnly         *bool    `json:"remote_only"`
	Limit              int      `json:"limit"`
}

func (h *Handler) recommend(w http.ResponseWriter, r *http.Request) {
	var body recommendBody
	if err := decodeBody(w, r, &body); err != nil {
		h.fail(w, r, err)
		return
	}
	raws, err := decodeRawPostings(body.Postings)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	resp, err := h.svc.Recommend(r.Context(), recommend.Request{
		ResumeText:         body.ResumeText,
		Postings:           raws,
		ProfileID:          body.ProfileID,
		PreferredKeywords:  body.PreferredKeywords,
		PreferredLocations: body.PreferredLocations,
		PreferredCompanies: body.PreferredCompanies,
		RemoteOnly:         body.RemoteOnly,
		Limit:              body.Limit,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	jsonOK(w, resp)
}

func (h *Handler) recommendationHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	runs, err := h.svc.ListRecommendationHistory(r.Context(), limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	jsonOK(w, runs)
}
