package httpapi

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	requestIDHeader  = "x-request-id"
	auditEventHeader = "x-audit-event-id"
	maxRequestIDLen  = 128
	unmatchedRoute   = "<unmatched>"
)

type requestIDKey struct{}

// RequestID returns the id the middleware attached to ctx.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// statusRecorder remembers the status code written through it.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

func (r *statusRecorder) code() int {
	if r.status == 0 {
		return http.StatusOK
	}
	return r.status
}

// Middleware tags every request with an x-request-id (kept when the caller
// sends a sane one), counts it in the /metrics snapshot and logs it.
func (h *Handler) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		id := r.Header.Get(requestIDHeader)
		if id == "" || len(id) > maxRequestIDLen {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		r = r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id))

		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)

		// ServeMux stores the matched pattern on the request it was given.
		route := r.Pattern
		if route == "" {
			route = r.Method + " " + unmatchedRoute
		}
		elapsed := time.Since(start)
		h.metrics.observe(route, rec.code(), elapsed)

		h.log.Debug("request",
			zap.String("request_id", id),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("route", route),
			zap.Int("status", rec.code()),
			zap.Duration("duration", elapsed))
	})
}

// ─── Metrics ─────────────────────────────────────────────────────────────────

// Metrics counts requests per route pattern since startup.
type Metrics struct {
	mu        sync.Mutex
	startedAt time.Time
	requests  int64
	errors    int64
	endpoints map[string]*endpointStats
}

type endpointStats struct {
	count   int64
	errors  int64
	totalMS float64
}

// MetricsSnapshot is the GET /metrics body.
type MetricsSnapshot struct {
	StartedAt     time.Time                   `json:"started_at"`
	UptimeSeconds float64                     `json:"uptime_seconds"`
	Totals        CounterTotals               `json:"totals"`
	Endpoints     map[string]EndpointSnapshot `json:"endpoints"`
}

type CounterTotals struct {
	Requests int64 `json:"requests"`
	Errors   int64 `json:"errors"`
}

type EndpointSnapshot struct {
	Count  int64   `json:"count"`
	Errors int64   `json:"errors"`
	AvgMS  float64 `json:"avg_ms"`
}

// NewMetrics returns empty counters.
func NewMetrics() *Metrics {
	return &Metrics{startedAt: time.Now().UTC(), endpoints: make(map[string]*endpointStats)}
}

// observe counts one response. Any status >= 400 is an error.
func (m *Metrics) observe(route string, status int, elapsed time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.endpoints[route]
	if !ok {
		e = &endpointStats{}
		m.endpoints[route] = e
	}
	m.requests++
	e.count++
	e.totalMS += float64(elapsed) / float64(time.Millisecond)
	if status >= http.StatusBadRequest {
		m.errors++
		e.errors++
	}
}

// Snapshot copies the counters.
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := MetricsSnapshot{
		StartedAt:     m.startedAt,
		UptimeSeconds: time.Since(m.startedAt).Seconds(),
		Totals:        CounterTotals{Requests: m.requests, Errors: m.errors},
		Endpoints:     make(map[string]EndpointSnapshot, len(m.endpoints)),
	}
	for route, e := range m.endpoints {
		snap.Endpoints[route] = EndpointSnapshot{
			Count:  e.count,
			Errors: e.errors,
			AvgMS:  e.totalMS / float64(e.count),
		}
	}
	return snap
}
