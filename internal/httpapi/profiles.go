package httpapi

import (
	"net/http"

	"jobmate/recommender-service/internal/model"
)

func (h *Handler) listProfiles(w http.ResponseWriter, r *http.Request) {
	profiles, err := h.svc.ListProfiles(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	jsonOK(w, profiles)
}

// upsertProfile serves both POST /profiles and PUT /profiles/{id}.
func (h *Handler) upsertProfile(w http.ResponseWriter, r *http.Request) {
	var p model.Profile
	if err := decodeBody(w, r, &p); err != nil {
		h.fail(w, r, err)
		return
	}
	if id := r.PathValue("id"); id != "" {
		if p.ProfileID != "" && p.ProfileID != id {
			jsonError(w, "profile_id in body does not match path", http.StatusBadRequest)
			return
		}
		p.ProfileID = id
	}
	saved, err := h.svc.UpsertProfile(r.Context(), p)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	jsonOK(w, saved)
}

func (h *Handler) getProfile(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.GetProfile(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	jsonOK(w, p)
}

func (h *Handler) deleteProfile(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteProfile(r.Context(), r.PathValue("id")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
