package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/luis12duboqwe/inventario-sub008/internal/platform/httpx"
)

var startTime = time.Now()

// ReadinessCheck probes one dependency. A non-nil error marks the agent not ready.
type ReadinessCheck struct {
	Name  string
	Probe func(ctx context.Context) error
}

// HealthHandlers serves liveness and readiness endpoints.
type HealthHandlers struct {
	checks []ReadinessCheck
}

// NewHealthHandlers constructs health handlers with optional readiness checks.
func NewHealthHandlers(checks ...ReadinessCheck) *HealthHandlers {
	return &HealthHandlers{checks: checks}
}

// Healthz responds with a simple status payload for liveness monitoring.
func (h *HealthHandlers) Healthz(w http.ResponseWriter, _ *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"uptime":    time.Since(startTime).String(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// Readyz runs the configured probes. The agent stays ready while its local
// storage works; backend reachability is reported but never fails readiness,
// because operating without the backend is the whole point of the agent.
func (h *HealthHandlers) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	results := make(map[string]string, len(h.checks))
	ready := true
	for _, check := range h.checks {
		if check.Probe == nil {
			continue
		}
		if err := check.Probe(ctx); err != nil {
			results[check.Name] = err.Error()
			if check.Name != "backend" {
				ready = false
			}
			continue
		}
		results[check.Name] = "ok"
	}

	status := http.StatusOK
	state := "ready"
	if !ready {
		status = http.StatusServiceUnavailable
		state = "not_ready"
	}
	httpx.WriteJSON(w, status, map[string]any{
		"status": state,
		"checks": results,
	})
}
