package handlers

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/drfirst/go-facilityops/internal/domain/triage"
	"github.com/drfirst/go-facilityops/internal/domain/wayfinding"
)

// ReadinessCheck reports whether a dependency can serve traffic
type ReadinessCheck func(ctx context.Context) error

// HealthHandler serves liveness and readiness probes
type HealthHandler struct {
	service string
	queue   *triage.Queue
	graph   *wayfinding.Graph
	checks  map[string]ReadinessCheck
	logger  *zap.Logger
}

// NewHealthHandler creates a new handler
func NewHealthHandler(service string, queue *triage.Queue, graph *wayfinding.Graph, logger *zap.Logger) *HealthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthHandler{
		service: service,
		queue:   queue,
		graph:   graph,
		checks:  make(map[string]ReadinessCheck),
		logger:  logger,
	}
}

// AddCheck registers a named readiness check. Not safe to call once serving.
func (h *HealthHandler) AddCheck(name string, check ReadinessCheck) {
	h.checks[name] = check
}

// Health handles GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"service":   h.service,
		"queue":     h.queue.Len(),
		"arrivals":  h.queue.Arrivals(),
		"locations": h.graph.Len(),
	})
}

// Ready handles GET /ready
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	results := make(map[string]string, len(h.checks))
	ready := true
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			h.logger.Warn("readiness check failed", zap.String("check", name), zap.Error(err))
			results[name] = err.Error()
			ready = false
			continue
		}
		results[name] = "ok"
	}

	code := http.StatusOK
	status := "ready"
	if !ready {
		code = http.StatusServiceUnavailable
		status = "not ready"
	}
	writeJSON(w, code, map[string]interface{}{
		"status": status,
		"checks": results,
	})
}
