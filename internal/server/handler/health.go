package handler

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"time"
)

// HealthChecker is implemented by every backend client that can be pinged.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// HealthHandler serves the health-check endpoint.
type HealthHandler struct {
	checks map[string]HealthChecker
	logger *slog.Logger
}

// NewHealthHandler creates a HealthHandler that pings each named backend.
// checks may be empty when everything runs in-process.
func NewHealthHandler(checks map[string]HealthChecker, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{checks: checks, logger: logHandler(logger, "health")}
}

// HealthCheck reports "ok" when every backend answers and 503 otherwise.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status := http.StatusOK
	overall := "ok"
	backends := make(map[string]string, len(names))
	for _, name := range names {
		if err := h.checks[name].Health(ctx); err != nil {
			h.logger.WarnContext(ctx, "handler: backend unhealthy",
				slog.String("backend", name),
				slog.String("error", err.Error()),
			)
			backends[name] = "error: " + err.Error()
			status = http.StatusServiceUnavailable
			overall = "degraded"
			continue
		}
		backends[name] = "ok"
	}

	writeJSON(w, status, map[string]any{
		"status":    overall,
		"backends":  backends,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
