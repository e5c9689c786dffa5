package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"jobmate/recommender-service/internal/model"
	"jobmate/recommender-service/internal/normalize"
)

const maxBodyBytes = 10 << 20

// ─── Helpers ─────────────────────────────────────────────────────────────────

func jsonOK(w http.ResponseWriter, v any) {
	writeJSON(w, http.StatusOK, v)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// fail maps a core error onto a status code. Unexpected errors are logged and
// reported without detail.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	var (
		conflict *model.ConflictError
		fetch    *model.FetchError
	)
	switch {
	case model.IsValidation(err):
		jsonError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, model.ErrNotFound):
		jsonError(w, err.Error(), http.StatusNotFound)
	case errors.As(err, &conflict):
		jsonError(w, err.Error(), http.StatusConflict)
	case errors.As(err, &fetch):
		jsonError(w, err.Error(), http.StatusBadGateway)
	default:
		h.log.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		jsonError(w, "internal error", http.StatusInternalServerError)
	}
}

// decodeBody reads a JSON body into v. Malformed input is a ValidationError.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return model.Invalidf("request body is required")
		}
		return model.Invalidf("invalid JSON body: %v", err)
	}
	return nil
}

func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, model.Invalidf("%s must be an integer", name)
	}
	return n, nil
}

func queryBool(r *http.Request, name string, def bool) (bool, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, model.Invalidf("%s must be a boolean", name)
	}
	return b, nil
}

func parseTrigger(raw string, def model.Trigger) (model.Trigger, error) {
	if raw == "" {
		return def, nil
	}
	t, err := model.ParseTrigger(raw)
	if err != nil {
		return "", model.Invalidf("%v", err)
	}
	return t, nil
}

// decodeRawPostings turns loosely typed JSON items into RawPostings.
func decodeRawPostings(items []any) ([]model.RawPosting, error) {
	raws := make([]model.RawPosting, 0, len(items))
	for i, item := range items {
		raw, err := normalize.Decode(item)
		if err != nil {
			return nil, model.Invalidf("postings[%d]: %v", i, err)
		}
		raws = append(raws, raw)
	}
	return raws, nil
}
