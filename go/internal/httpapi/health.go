package httpapi

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"
)

// HealthProbe checks one dependency. A nil error means healthy.
type HealthProbe func(ctx context.Context) error

// healthChecks runs registered probes with a shared deadline.
type healthChecks struct {
	mu     sync.RWMutex
	checks map[string]HealthProbe
}

func (h *healthChecks) add(name string, check HealthProbe) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.checks == nil {
		h.checks = make(map[string]HealthProbe)
	}
	h.checks[name] = check
}

// run returns each check's status ("ok" or the error text) and whether all passed.
func (h *healthChecks) run(ctx context.Context, timeout time.Duration) (map[string]string, bool) {
	h.mu.RLock()
	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	checks := make([]HealthProbe, len(names))
	for i, name := range names {
		checks[i] = h.checks[name]
	}
	h.mu.RUnlock()

	if len(names) == 0 {
		return nil, true
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	results := make(map[string]string, len(names))
	healthy := true
	for i, name := range names {
		if err := checks[i](ctx); err != nil {
			results[name] = err.Error()
			healthy = false
			continue
		}
		results[name] = "ok"
	}
	return results, healthy
}

// AddHealthCheck registers a dependency probe reported by GET /health.
func (h *Handler) AddHealthCheck(name string, check HealthProbe) {
	h.health.add(name, check)
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status      string            `json:"status"`
	Timestamp   string            `json:"timestamp"`
	Connections int               `json:"connections"`
	Checks      map[string]string `json:"checks,omitempty"`
}

// HealthCheck returns service health status. Any failing probe turns the
// response into a 503.
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	checks, healthy := h.health.run(r.Context(), 2*time.Second)

	resp := HealthResponse{
		Status:      "healthy",
		Timestamp:   h.oracle.Snapshot().Timestamp,
		Connections: h.connections(),
		Checks:      checks,
	}
	status := http.StatusOK
	if !healthy {
		resp.Status = "unhealthy"
		status = http.StatusServiceUnavailable
	}
	respondJSON(w, status, resp)
}
