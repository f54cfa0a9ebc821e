package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/drfirst/go-facilityops/internal/domain/wayfinding"
	"github.com/drfirst/go-facilityops/internal/observability/metrics"
)

// NavigationHandler handles wayfinding endpoints
type NavigationHandler struct {
	graph   *wayfinding.Graph
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewNavigationHandler creates a new handler
func NewNavigationHandler(graph *wayfinding.Graph, m *metrics.Metrics, logger *zap.Logger) *NavigationHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NavigationHandler{
		graph:   graph,
		metrics: m,
		logger:  logger,
	}
}

// Routes returns the handler routes
func (h *NavigationHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/locations", h.Locations)
	r.Post("/path", h.Path)
	return r
}

// PathRequest is the request body for a route query
type PathRequest struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// PathResponse describes a computed route
type PathResponse struct {
	Distance      float64  `json:"distance"`
	Path          []string `json:"path"`
	PathNames     []string `json:"path_names"`
	Valid         bool     `json:"valid"`
	EstimatedTime int      `json:"estimated_time"`
}

// Locations handles GET /locations
func (h *NavigationHandler) Locations(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.graph.ListLocations())
}

// Path handles POST /path
func (h *NavigationHandler) Path(w http.ResponseWriter, r *http.Request) {
	_, span := otel.Tracer("navigation-handler").Start(r.Context(), "find_path")
	defer span.End()

	var req PathRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.count("invalid")
		h.jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	start := strings.ToUpper(strings.TrimSpace(req.Start))
	end := strings.ToUpper(strings.TrimSpace(req.End))
	span.SetAttributes(
		attribute.String("route.start", start),
		attribute.String("route.end", end),
	)

	switch {
	case !h.graph.Has(start):
		h.count("invalid")
		h.jsonError(w, fmt.Sprintf("Invalid start location: %s", req.Start), http.StatusBadRequest)
		return
	case !h.graph.Has(end):
		h.count("invalid")
		h.jsonError(w, fmt.Sprintf("Invalid end location: %s", req.End), http.StatusBadRequest)
		return
	}

	began := time.Now()
	route, err := wayfinding.FindPath(h.graph, start, end)
	if h.metrics != nil {
		h.metrics.RouteDuration.Observe(time.Since(began).Seconds())
	}
	if errors.Is(err, wayfinding.ErrInvalidLocation) {
		h.count("invalid")
		h.jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err != nil {
		span.RecordError(err)
		h.logger.Error("route query failed", zap.Error(err))
		h.jsonError(w, "failed to compute route", http.StatusInternalServerError)
		return
	}

	if route.Reachable {
		h.count("ok")
	} else {
		h.count("unreachable")
		h.logger.Warn("destination unreachable",
			zap.String("start", start),
			zap.String("end", end))
	}
	span.SetAttributes(attribute.Bool("route.reachable", route.Reachable))

	names := make([]string, len(route.Path))
	for i, code := range route.Path {
		loc, _ := h.graph.Location(code)
		names[i] = loc.Name
	}
	writeJSON(w, http.StatusOK, PathResponse{
		Distance:      math.Round(route.Distance*100) / 100,
		Path:          route.Path,
		PathNames:     names,
		Valid:         route.Reachable,
		EstimatedTime: route.EstimatedTime,
	})
}

func (h *NavigationHandler) count(outcome string) {
	if h.metrics != nil {
		h.metrics.RouteQueries.WithLabelValues(outcome).Inc()
	}
}

func (h *NavigationHandler) jsonError(w http.ResponseWriter, message string, code int) {
	writeJSON(w, code, map[string]string{"error": message})
}
