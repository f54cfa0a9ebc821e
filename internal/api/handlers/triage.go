// Package handlers provides HTTP handlers for the facility API.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/drfirst/go-facilityops/internal/api/middleware"
	"github.com/drfirst/go-facilityops/internal/domain/triage"
	"github.com/drfirst/go-facilityops/internal/observability/metrics"
)

// AuditSink records triage audit events. It is called after the queue
// operation has completed, never while the queue is locked.
type AuditSink interface {
	Record(ctx context.Context, event *triage.Event) error
}

// TriageHandler handles emergency triage endpoints
type TriageHandler struct {
	queue   *triage.Queue
	audit   AuditSink
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewTriageHandler creates a new handler. audit may be nil.
func NewTriageHandler(queue *triage.Queue, audit AuditSink, m *metrics.Metrics, logger *zap.Logger) *TriageHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TriageHandler{
		queue:   queue,
		audit:   audit,
		metrics: m,
		logger:  logger,
	}
}

// Routes returns the handler routes
func (h *TriageHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/patients", h.List)
	r.Post("/patients", h.Admit)
	r.Post("/patients/treat", h.Treat)
	r.Delete("/patients", h.Clear)
	r.Get("/stats", h.Stats)
	r.Get("/symptoms", h.Symptoms)
	return r
}

// AdmitRequest is the request body for admitting a patient
type AdmitRequest struct {
	Name    string `json:"name"`
	Age     *int   `json:"age"`
	Symptom string `json:"symptom"`
}

// PatientResponse describes a patient waiting in the queue
type PatientResponse struct {
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	Age           int    `json:"age"`
	Severity      string `json:"severity"`
	Symptom       string `json:"symptom"`
	WaitTime      string `json:"wait_time"`
	Doctor        string `json:"doctor"`
	QueuePosition int    `json:"queue_position"`
}

// TreatedPatient describes a dispatched patient
type TreatedPatient struct {
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	Severity      string `json:"severity"`
	Doctor        string `json:"doctor"`
	WaitedMinutes int    `json:"waited_minutes"`
	Remaining     int    `json:"remaining"`
}

// MessageResponse wraps a patient payload with a human readable message
type MessageResponse struct {
	Message string      `json:"message"`
	Patient interface{} `json:"patient"`
}

// StatsResponse holds pending counts per severity
type StatsResponse struct {
	Critical int `json:"critical"`
	Serious  int `json:"serious"`
	Moderate int `json:"moderate"`
	Normal   int `json:"normal"`
	Total    int `json:"total"`
}

// SymptomInfo is one entry of the symptom catalogue
type SymptomInfo struct {
	Name     string `json:"name"`
	Severity string `json:"severity"`
}

// Admit handles POST /patients
func (h *TriageHandler) Admit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req AdmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.reject(w, "malformed", "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Age == nil {
		h.reject(w, "invalid", "age is required", http.StatusBadRequest)
		return
	}

	view, err := h.AdmitPatient(ctx, req.Name, *req.Age, req.Symptom)
	if err != nil {
		switch {
		case errors.Is(err, triage.ErrUnknownSymptom):
			h.jsonError(w, fmt.Sprintf("Unknown symptom '%s'. Please select a valid symptom.", req.Symptom), http.StatusBadRequest)
		case errors.Is(err, triage.ErrInvalidAdmission):
			h.jsonError(w, err.Error(), http.StatusBadRequest)
		default:
			h.logger.Error("admit failed", zap.Error(err))
			h.jsonError(w, "failed to admit patient", http.StatusInternalServerError)
		}
		return
	}

	h.writeJSON(w, http.StatusCreated, MessageResponse{
		Message: fmt.Sprintf("Patient '%s' registered successfully", view.Name),
		Patient: h.patientResponse(view),
	})
}

// AdmitPatient admits a patient and records metrics and the audit event.
// It is shared by the HTTP endpoint and the kiosk intake consumer.
func (h *TriageHandler) AdmitPatient(ctx context.Context, name string, age int, symptom string) (*triage.AdmissionView, error) {
	ctx, span := otel.Tracer("triage-handler").Start(ctx, "admit_patient")
	defer span.End()

	view, err := h.queue.Admit(name, age, symptom)
	if err != nil {
		span.RecordError(err)
		switch {
		case errors.Is(err, triage.ErrUnknownSymptom):
			h.countRejected("unknown_symptom")
		case errors.Is(err, triage.ErrInvalidAdmission):
			h.countRejected("invalid")
		default:
			span.SetStatus(codes.Error, "admit failed")
		}
		return nil, err
	}

	span.SetAttributes(
		attribute.Int64("admission.sequence", view.Sequence),
		attribute.String("admission.severity", view.Tier.String()),
	)
	if h.metrics != nil {
		h.metrics.AdmissionsTotal.WithLabelValues(view.Tier.String()).Inc()
	}
	h.refreshPending()

	if ev, err := triage.AdmittedEvent(view); err == nil {
		h.record(ctx, ev)
	}
	return view, nil
}

// List handles GET /patients
func (h *TriageHandler) List(w http.ResponseWriter, r *http.Request) {
	views := h.queue.ListAdmissions()
	out := make([]PatientResponse, len(views))
	for i := range views {
		out[i] = h.patientResponse(&views[i])
	}
	h.writeJSON(w, http.StatusOK, out)
}

// Treat handles POST /patients/treat
func (h *TriageHandler) Treat(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("triage-handler").Start(r.Context(), "treat_patient")
	defer span.End()

	d, err := h.queue.DispatchNext()
	if errors.Is(err, triage.ErrEmptyQueue) {
		span.SetAttributes(attribute.Bool("queue.empty", true))
		h.jsonError(w, err.Error(), http.StatusConflict)
		return
	}
	if err != nil {
		span.RecordError(err)
		h.logger.Error("dispatch failed", zap.Error(err))
		h.jsonError(w, "failed to dispatch patient", http.StatusInternalServerError)
		return
	}

	span.SetAttributes(attribute.Int64("admission.sequence", d.Sequence))
	if h.metrics != nil {
		h.metrics.DispatchesTotal.WithLabelValues(d.Tier.String()).Inc()
		h.metrics.DispatchWaitMinutes.Observe(float64(d.WaitedMinutes))
	}
	h.refreshPending()

	if ev, err := triage.DispatchedEvent(d); err == nil {
		h.record(ctx, ev)
	}

	h.writeJSON(w, http.StatusOK, MessageResponse{
		Message: fmt.Sprintf("Patient '%s' is being treated", d.Name),
		Patient: TreatedPatient{
			ID:            d.Sequence,
			Name:          d.Name,
			Severity:      d.Tier.String(),
			Doctor:        d.Resource,
			WaitedMinutes: d.WaitedMinutes,
			Remaining:     d.Remaining,
		},
	})
}

// Clear handles DELETE /patients
func (h *TriageHandler) Clear(w http.ResponseWriter, r *http.Request) {
	n := h.queue.ClearAll()
	h.logger.Warn("emergency queue cleared",
		zap.Int("patients_cleared", n),
		zap.String("request_id", middleware.GetRequestID(r.Context())))

	if h.metrics != nil {
		h.metrics.QueueClears.Inc()
	}
	h.refreshPending()

	if ev, err := triage.ClearedEvent(n); err == nil {
		h.record(r.Context(), ev)
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":          "Emergency queue cleared successfully",
		"patients_cleared": n,
	})
}

// Stats handles GET /stats
func (h *TriageHandler) Stats(w http.ResponseWriter, r *http.Request) {
	s := h.queue.Stats()
	h.writeJSON(w, http.StatusOK, StatsResponse{
		Critical: s.Critical,
		Serious:  s.Serious,
		Moderate: s.Moderate,
		Normal:   s.Normal,
		Total:    s.Total(),
	})
}

// Symptoms handles GET /symptoms
func (h *TriageHandler) Symptoms(w http.ResponseWriter, r *http.Request) {
	symptoms := triage.Symptoms()
	out := make([]SymptomInfo, len(symptoms))
	for i, s := range symptoms {
		out[i] = SymptomInfo{Name: title(s.Name), Severity: s.Tier.String()}
	}
	h.writeJSON(w, http.StatusOK, out)
}

func (h *TriageHandler) patientResponse(v *triage.AdmissionView) PatientResponse {
	return PatientResponse{
		ID:            v.Sequence,
		Name:          v.Name,
		Age:           v.Age,
		Severity:      v.Tier.String(),
		Symptom:       title(v.Symptom),
		WaitTime:      v.WaitTime,
		Doctor:        v.Resource,
		QueuePosition: v.Position,
	}
}

func (h *TriageHandler) refreshPending() {
	if h.metrics == nil {
		return
	}
	stats := h.queue.Stats()
	for _, tier := range triage.Tiers {
		h.metrics.PendingAdmissions.WithLabelValues(tier.String()).Set(float64(stats.Get(tier)))
	}
}

// record forwards an audit event. Failures are logged and do not fail the
// request because the queue change has already been applied.
func (h *TriageHandler) record(ctx context.Context, ev *triage.Event) {
	if h.audit == nil {
		return
	}
	ev.WithCorrelationID(middleware.GetRequestID(ctx))
	if err := h.audit.Record(ctx, ev); err != nil {
		h.logger.Error("audit record failed",
			zap.String("event_type", string(ev.EventType)),
			zap.String("aggregate_id", ev.AggregateID),
			zap.Error(err))
	}
}

func (h *TriageHandler) reject(w http.ResponseWriter, reason, message string, code int) {
	h.countRejected(reason)
	h.jsonError(w, message, code)
}

func (h *TriageHandler) countRejected(reason string) {
	if h.metrics != nil {
		h.metrics.AdmissionsRejected.WithLabelValues(reason).Inc()
	}
}

func (h *TriageHandler) writeJSON(w http.ResponseWriter, code int, v interface{}) {
	writeJSON(w, code, v)
}

func (h *TriageHandler) jsonError(w http.ResponseWriter, message string, code int) {
	writeJSON(w, code, map[string]string{"error": message})
}

// title formats vocabulary entries for display. Casers are not safe for
// concurrent use, so one is built per call.
func title(s string) string {
	return cases.Title(language.English).String(s)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
