// Package intake admits kiosk registrations consumed from Redpanda.
//
// Each message is decoded, handed to a bounded worker pool and admitted
// through the idempotency inbox, so a kiosk that resubmits within the same
// minute does not queue the patient twice.
package intake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/drfirst/go-facilityops/internal/domain/triage"
	"github.com/drfirst/go-facilityops/internal/infrastructure/redpanda"
	"github.com/drfirst/go-facilityops/internal/observability/metrics"
	"github.com/drfirst/go-facilityops/pkg/idempotency"
	"github.com/drfirst/go-facilityops/pkg/workerpool"
)

const defaultSubmitWait = 5 * time.Second

// HandlerName identifies intake rows in the inbox table
const HandlerName = "kiosk-intake"

// Outcome labels for the intake_messages_total metric
const (
	OutcomeAdmitted  = "admitted"
	OutcomeDuplicate = "duplicate"
	OutcomeRejected  = "rejected"
	OutcomeMalformed = "malformed"
	OutcomeFailed    = "failed"
)

// Registration is a kiosk submission on the triage.intake topic
type Registration struct {
	Name        string    `json:"name"`
	Age         *int      `json:"age"`
	Symptom     string    `json:"symptom"`
	KioskID     string    `json:"kiosk_id,omitempty"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// Admitter admits a patient into the triage queue
type Admitter interface {
	AdmitPatient(ctx context.Context, name string, age int, symptom string) (*triage.AdmissionView, error)
}

// Deduper runs fn at most once per key. *idempotency.Inbox satisfies it.
type Deduper interface {
	Process(ctx context.Context, key, handlerName string, payload json.RawMessage, fn idempotency.ProcessFunc) (*idempotency.ProcessResult, error)
}

// admitted is the result stored in the inbox for a finished registration
type admitted struct {
	Sequence int64 `json:"sequence"`
	Position int   `json:"queue_position"`
}

// Intake consumes registrations and admits them
type Intake struct {
	admitter Admitter
	inbox    Deduper
	pool     *workerpool.Pool
	metrics  *metrics.Metrics
	logger   *zap.Logger

	// submitWait bounds how long HandleMessage blocks on a full pool
	submitWait time.Duration
}

// New creates an intake. inbox may be nil, in which case registrations are
// admitted without deduplication.
func New(admitter Admitter, inbox Deduper, cfg workerpool.Config, m *metrics.Metrics, logger *zap.Logger) (*Intake, error) {
	if admitter == nil {
		return nil, errors.New("admitter is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	in := &Intake{
		admitter: admitter,
		inbox:    inbox,
		metrics:  m,
		logger:   logger,

		submitWait: defaultSubmitWait,
	}

	cfg.Retryable = retryable
	cfg.OnResult = in.onResult
	pool, err := workerpool.New(cfg, in.work, logger.Named("intake-pool"))
	if err != nil {
		return nil, err
	}
	in.pool = pool
	return in, nil
}

// Start launches the worker pool
func (in *Intake) Start() { in.pool.Start() }

// Stop drains queued registrations
func (in *Intake) Stop() error { return in.pool.Stop() }

// Healthy reports whether the intake backlog is under control
func (in *Intake) Healthy() bool { return in.pool.IsHealthy() }

// HandleMessage is the consumer callback. Malformed messages are dropped so
// they do not block the partition. A pool that stays full for the submit
// wait fails the message, and the consumer redelivers it.
func (in *Intake) HandleMessage(ctx context.Context, msg *redpanda.ConsumedMessage) error {
	var reg Registration
	if err := json.Unmarshal(msg.Value, &reg); err != nil {
		in.logger.Warn("dropping malformed registration",
			zap.Int32("partition", msg.Partition),
			zap.Int64("offset", msg.Offset),
			zap.Error(err))
		in.count(OutcomeMalformed)
		return nil
	}
	if reg.SubmittedAt.IsZero() {
		reg.SubmittedAt = msg.Timestamp
	}

	ctx, cancel := context.WithTimeout(ctx, in.submitWait)
	defer cancel()

	taskID := msg.Topic + "/" + strconv.Itoa(int(msg.Partition)) + "/" + strconv.FormatInt(msg.Offset, 10)
	if err := in.pool.SubmitWait(ctx, &workerpool.Task{ID: taskID, Payload: reg}); err != nil {
		return fmt.Errorf("submit registration: %w", err)
	}
	return nil
}

func (in *Intake) work(ctx context.Context, task *workerpool.Task) *workerpool.Result {
	reg, ok := task.Payload.(Registration)
	if !ok {
		return &workerpool.Result{TaskID: task.ID, Error: idempotency.Permanent(fmt.Errorf("unexpected payload %T", task.Payload))}
	}
	outcome, err := in.Admit(ctx, reg)
	if err != nil {
		return &workerpool.Result{TaskID: task.ID, Error: err}
	}
	return &workerpool.Result{TaskID: task.ID, Success: true, Data: outcome}
}

// Admit admits one registration and reports OutcomeAdmitted or
// OutcomeDuplicate. Invalid registrations fail with a Permanent error.
func (in *Intake) Admit(ctx context.Context, reg Registration) (string, error) {
	if reg.Age == nil {
		return "", idempotency.Permanent(fmt.Errorf("%w: age is required", triage.ErrInvalidAdmission))
	}

	admit := func(ctx context.Context, _ json.RawMessage) (json.RawMessage, error) {
		view, err := in.admitter.AdmitPatient(ctx, reg.Name, *reg.Age, reg.Symptom)
		if errors.Is(err, triage.ErrUnknownSymptom) || errors.Is(err, triage.ErrInvalidAdmission) {
			return nil, idempotency.Permanent(err)
		}
		if err != nil {
			return nil, err
		}
		in.logger.Info("kiosk registration admitted",
			zap.String("kiosk_id", reg.KioskID),
			zap.Int64("sequence", view.Sequence),
			zap.String("severity", view.Tier.String()))
		return json.Marshal(admitted{Sequence: view.Sequence, Position: view.Position})
	}

	if in.inbox == nil {
		if _, err := admit(ctx, nil); err != nil {
			return "", err
		}
		return OutcomeAdmitted, nil
	}

	payload, err := json.Marshal(reg)
	if err != nil {
		return "", idempotency.Permanent(err)
	}
	key := idempotency.GenerateKey(reg.Name, *reg.Age, reg.Symptom, reg.SubmittedAt)

	res, err := in.inbox.Process(ctx, key, HandlerName, payload, admit)
	switch {
	case errors.Is(err, idempotency.ErrDuplicateMessage):
		return OutcomeDuplicate, nil
	case errors.Is(err, idempotency.ErrPreviouslyFailed):
		return "", idempotency.Permanent(err)
	case err != nil:
		return "", err
	case res.Duplicate:
		in.logger.Debug("duplicate registration ignored", zap.String("kiosk_id", reg.KioskID))
		return OutcomeDuplicate, nil
	}
	return OutcomeAdmitted, nil
}

func (in *Intake) onResult(r *workerpool.Result) {
	switch {
	case r.Success:
		outcome, _ := r.Data.(string)
		in.count(outcome)
	case idempotency.IsPermanent(r.Error):
		in.count(OutcomeRejected)
	default:
		in.count(OutcomeFailed)
	}
}

func (in *Intake) count(outcome string) {
	if in.metrics != nil && outcome != "" {
		in.metrics.IntakeMessages.WithLabelValues(outcome).Inc()
	}
}

func retryable(err error) bool {
	return !idempotency.IsPermanent(err)
}
