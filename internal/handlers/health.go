package handlers

import (
	"net/http"
	"time"

	"github.com/clovermart/api/internal/services"
)

// HealthHandlers serves liveness and readiness probes.
type HealthHandlers struct {
	system    services.SystemService
	startedAt time.Time
}

// NewHealthHandlers constructs probe handlers. A nil system service keeps
// /readyz permissive for routers that only need liveness.
func NewHealthHandlers(opts ...HealthOption) *HealthHandlers {
	h := &HealthHandlers{startedAt: time.Now()}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// HealthOption customises the health handlers.
type HealthOption func(*HealthHandlers)

// WithSystemService wires the dependency probe used by /readyz.
func WithSystemService(system services.SystemService) HealthOption {
	return func(h *HealthHandlers) {
		h.system = system
	}
}

// Healthz reports process liveness.
func (h *HealthHandlers) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": time.Since(h.startedAt).String(),
	})
}

// Readyz reports readiness by probing downstream dependencies.
func (h *HealthHandlers) Readyz(w http.ResponseWriter, r *http.Request) {
	if h.system == nil {
		writeJSONResponse(w, http.StatusOK, map[string]any{"status": "ok"})
		return
	}

	report, err := h.system.HealthReport(r.Context())
	if err != nil {
		writeJSONResponse(w, http.StatusServiceUnavailable, map[string]any{
			"status": "error",
			"error":  "health collection failed",
		})
		return
	}

	components := make([]map[string]string, 0, len(report.Components))
	for _, c := range report.Components {
		entry := map[string]string{"name": c.Name, "status": c.Status}
		if c.Detail != "" {
			entry["detail"] = c.Detail
		}
		components = append(components, entry)
	}

	status := http.StatusOK
	state := "ok"
	if !report.Healthy() {
		status = http.StatusServiceUnavailable
		state = "degraded"
	}
	writeJSONResponse(w, status, map[string]any{
		"status":     state,
		"components": components,
		"checked_at": formatTime(report.CheckedAt),
	})
}
