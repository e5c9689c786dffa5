package httpapi_test

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobmate/recommender-service/internal/auth"
	"jobmate/recommender-service/internal/httpapi"
	"jobmate/recommender-service/internal/model"
)

func TestRequestID(t *testing.T) {
	srv := newServer(t, nil)

	first, _ := do(t, srv, http.MethodGet, "/health", "", nil)
	second, _ := do(t, srv, http.MethodGet, "/health", "", nil)
	require.NotEmpty(t, first.Header.Get("x-request-id"))
	assert.NotEqual(t, first.Header.Get("x-request-id"), second.Header.Get("x-request-id"))

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/health", nil)
	require.NoError(t, err)
	req.Header.Set("x-request-id", "trace-abc-123")
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "trace-abc-123", resp.Header.Get("x-request-id"))

	// read-only routes are not audited
	assert.Empty(t, first.Header.Get("x-audit-event-id"))
}

func TestMetrics(t *testing.T) {
	srv := newServer(t, nil)

	do(t, srv, http.MethodGet, "/health", "", nil)
	do(t, srv, http.MethodGet, "/health", "", nil)
	do(t, srv, http.MethodGet, "/job-sources/ghost", "", nil)
	do(t, srv, http.MethodGet, "/no-such-route", "", nil)

	resp, body := do(t, srv, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var snap httpapi.MetricsSnapshot
	require.NoError(t, json.Unmarshal(body, &snap))
	// the /metrics call itself is counted after the snapshot is taken
	assert.Equal(t, int64(4), snap.Totals.Requests)
	assert.Equal(t, int64(2), snap.Totals.Errors)
	assert.Equal(t, int64(2), snap.Endpoints["GET /health"].Count)
	assert.Equal(t, int64(1), snap.Endpoints["GET /job-sources/{id}"].Errors)
	assert.Equal(t, int64(1), snap.Endpoints["GET <unmatched>"].Count)
}

func TestTokenLifecycle(t *testing.T) {
	srv := newServer(t, map[string][]string{"bootstrap": {"admin", "audit"}})

	resp, body := do(t, srv, http.MethodPost, "/auth/tokens", "bootstrap", map[string]any{
		"name": "ci-writer", "scopes": []string{"write"}, "expires_in_days": 7, "notes": "pipeline",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	assert.NotEmpty(t, resp.Header.Get("x-audit-event-id"))

	var issued auth.Issued
	require.NoError(t, json.Unmarshal(body, &issued))
	require.NotEmpty(t, issued.Token)
	assert.NotContains(t, string(body), "secret_hash")

	postings := map[string]any{"postings": []map[string]any{
		{"id": "tok-1", "title": "Platform Engineer", "company": "Acme", "description": "Go and Kubernetes"},
	}}
	resp, body = do(t, srv, http.MethodPost, "/postings", issued.Token, postings)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	resp, _ = do(t, srv, http.MethodGet, "/auth/tokens", issued.Token, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, body = do(t, srv, http.MethodGet, "/auth/tokens", "bootstrap", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list struct {
		Tokens []model.APIToken `json:"tokens"`
	}
	require.NoError(t, json.Unmarshal(body, &list))
	require.Len(t, list.Tokens, 1)
	assert.Equal(t, "ci-writer", list.Tokens[0].Name)

	resp, body = do(t, srv, http.MethodPost, "/auth/tokens/"+issued.Metadata.TokenID+"/revoke", "bootstrap", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"revoked":true`)

	resp, _ = do(t, srv, http.MethodPost, "/postings", issued.Token, postings)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = do(t, srv, http.MethodPost, "/auth/tokens/ghost/revoke", "bootstrap", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = do(t, srv, http.MethodPost, "/auth/tokens", "bootstrap", map[string]any{
		"name": "bad", "scopes": []string{"postings:write"},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAuditEvents(t *testing.T) {
	srv := newServer(t, map[string][]string{
		"ops":     {"*"},
		"scanner": {"scan"},
	})

	resp, _ := do(t, srv, http.MethodPost, "/job-sources/scan", "ops", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	okRequestID := resp.Header.Get("x-request-id")
	okEventID := resp.Header.Get("x-audit-event-id")
	require.NotEmpty(t, okEventID)

	resp, _ = do(t, srv, http.MethodPost, "/postings", "", map[string]any{"postings": []any{}})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("x-audit-event-id"), "rejected calls are audited too")

	resp, _ = do(t, srv, http.MethodPost, "/postings", "scanner", map[string]any{"postings": []any{}})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = do(t, srv, http.MethodGet, "/audit-events?limit=20", "scanner", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, body := do(t, srv, http.MethodGet, "/audit-events?limit=20", "ops", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.NotEmpty(t, resp.Header.Get("x-audit-event-id"))

	var out struct {
		Events []model.AuditEvent `json:"events"`
	}
	require.NoError(t, json.Unmarshal(body, &out))
	// the listing call is written after its own response
	require.Len(t, out.Events, 4)

	byStatus := map[model.AuditStatus]model.AuditEvent{}
	for _, ev := range out.Events {
		byStatus[ev.Status] = ev
		assert.Equal(t, "http", ev.Transport)
	}
	assert.Equal(t, "scan_all", byStatus[model.AuditOK].Action)
	assert.Equal(t, okEventID, byStatus[model.AuditOK].EventID)
	assert.Equal(t, okRequestID, byStatus[model.AuditOK].RequestID)
	assert.Equal(t, "static", byStatus[model.AuditOK].Actor)
	assert.Equal(t, "upsert_postings", byStatus[model.AuditUnauthorized].Action)
	assert.Equal(t, "/postings", byStatus[model.AuditUnauthorized].Path)
	assert.Equal(t, http.StatusForbidden, byStatus[model.AuditForbidden].StatusCode)

	resp, body = do(t, srv, http.MethodGet, "/audit-events?action=upsert_postings&status=unauthorized", "ops", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Len(t, out.Events, 1)
}
