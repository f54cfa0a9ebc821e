package intake

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drfirst/go-facilityops/internal/domain/triage"
	"github.com/drfirst/go-facilityops/internal/infrastructure/redpanda"
	"github.com/drfirst/go-facilityops/internal/observability/metrics"
	"github.com/drfirst/go-facilityops/pkg/idempotency"
	"github.com/drfirst/go-facilityops/pkg/workerpool"
)

type queueAdmitter struct {
	queue *triage.Queue
}

func (a queueAdmitter) AdmitPatient(_ context.Context, name string, age int, symptom string) (*triage.AdmissionView, error) {
	return a.queue.Admit(name, age, symptom)
}

// memInbox is an in-memory Deduper with FINISHED/FAILED semantics
type memInbox struct {
	mu     sync.Mutex
	done   map[string]json.RawMessage
	failed map[string]bool
}

func newMemInbox() *memInbox {
	return &memInbox{done: make(map[string]json.RawMessage), failed: make(map[string]bool)}
}

func (m *memInbox) Process(ctx context.Context, key, _ string, payload json.RawMessage, fn idempotency.ProcessFunc) (*idempotency.ProcessResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if res, ok := m.done[key]; ok {
		return &idempotency.ProcessResult{Duplicate: true, Result: res}, nil
	}
	if m.failed[key] {
		return nil, idempotency.ErrPreviouslyFailed
	}
	res, err := fn(ctx, payload)
	if err != nil {
		if idempotency.IsPermanent(err) {
			m.failed[key] = true
		}
		return nil, err
	}
	m.done[key] = res
	return &idempotency.ProcessResult{IsNew: true, Result: res}, nil
}

func age(n int) *int { return &n }

func newIntake(t *testing.T, inbox Deduper) (*Intake, *triage.Queue, *metrics.Metrics) {
	t.Helper()
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg, reg)
	queue := triage.NewQueue(triage.Config{}, nil)
	cfg := workerpool.Config{Workers: 2, QueueSize: 8, MaxRetries: 1, RetryDelay: time.Millisecond}
	in, err := New(queueAdmitter{queue}, inbox, cfg, m, nil)
	require.NoError(t, err)
	return in, queue, m
}

func TestNew_RequiresAdmitter(t *testing.T) {
	_, err := New(nil, nil, workerpool.DefaultConfig(), nil, nil)
	assert.Error(t, err)
}

func TestAdmit_WithoutInbox(t *testing.T) {
	in, queue, _ := newIntake(t, nil)

	outcome, err := in.Admit(context.Background(), Registration{Name: "Ada", Age: age(30), Symptom: "stroke"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeAdmitted, outcome)
	assert.Equal(t, 1, queue.Len())
}

func TestAdmit_InvalidIsPermanent(t *testing.T) {
	in, queue, _ := newIntake(t, newMemInbox())
	ctx := context.Background()

	_, err := in.Admit(ctx, Registration{Name: "Ada", Symptom: "cold"})
	assert.True(t, idempotency.IsPermanent(err))
	assert.ErrorIs(t, err, triage.ErrInvalidAdmission)

	_, err = in.Admit(ctx, Registration{Name: "Ada", Age: age(30), Symptom: "hiccups"})
	assert.True(t, idempotency.IsPermanent(err))
	assert.ErrorIs(t, err, triage.ErrUnknownSymptom)

	_, err = in.Admit(ctx, Registration{Name: "Ada", Age: age(30), Symptom: "hiccups"})
	assert.True(t, idempotency.IsPermanent(err))
	assert.ErrorIs(t, err, idempotency.ErrPreviouslyFailed)

	assert.Zero(t, queue.Len())
}

func TestAdmit_DeduplicatesResubmission(t *testing.T) {
	in, queue, _ := newIntake(t, newMemInbox())
	ctx := context.Background()
	at := time.Date(2024, 3, 1, 8, 15, 5, 0, time.UTC)

	outcome, err := in.Admit(ctx, Registration{Name: "Ada", Age: age(30), Symptom: "Fracture", SubmittedAt: at})
	require.NoError(t, err)
	assert.Equal(t, OutcomeAdmitted, outcome)

	outcome, err = in.Admit(ctx, Registration{Name: "ada", Age: age(30), Symptom: "fracture", SubmittedAt: at.Add(20 * time.Second)})
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, outcome)

	outcome, err = in.Admit(ctx, Registration{Name: "Ada", Age: age(30), Symptom: "Fracture", SubmittedAt: at.Add(time.Minute)})
	require.NoError(t, err)
	assert.Equal(t, OutcomeAdmitted, outcome)

	assert.Equal(t, 2, queue.Len())
}

type flakyAdmitter struct {
	mu    sync.Mutex
	fails int
	inner Admitter
}

func (a *flakyAdmitter) AdmitPatient(ctx context.Context, name string, age int, symptom string) (*triage.AdmissionView, error) {
	a.mu.Lock()
	if a.fails > 0 {
		a.fails--
		a.mu.Unlock()
		return nil, errors.New("transient")
	}
	a.mu.Unlock()
	return a.inner.AdmitPatient(ctx, name, age, symptom)
}

func TestHandleMessage_EndToEnd(t *testing.T) {
	in, queue, m := newIntake(t, newMemInbox())
	in.Start()

	msg := func(offset int64, v string) *redpanda.ConsumedMessage {
		return &redpanda.ConsumedMessage{
			Topic:     redpanda.TopicTriageIntake,
			Offset:    offset,
			Value:     []byte(v),
			Timestamp: time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC),
		}
	}
	ctx := context.Background()
	require.NoError(t, in.HandleMessage(ctx, msg(1, `{"name":"Ada","age":30,"symptom":"stroke","kiosk_id":"k1"}`)))
	require.NoError(t, in.HandleMessage(ctx, msg(2, `{"name":"Ada","age":30,"symptom":"stroke","kiosk_id":"k1"}`)))
	require.NoError(t, in.HandleMessage(ctx, msg(3, `{"name":"Bob","age":40,"symptom":"hiccups"}`)))
	require.NoError(t, in.HandleMessage(ctx, msg(4, `not json`)))

	require.NoError(t, in.Stop())

	assert.Equal(t, 1, queue.Len())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.IntakeMessages.WithLabelValues(OutcomeAdmitted)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.IntakeMessages.WithLabelValues(OutcomeDuplicate)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.IntakeMessages.WithLabelValues(OutcomeRejected)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.IntakeMessages.WithLabelValues(OutcomeMalformed)))
}

func TestHandleMessage_RetriesTransientFailure(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg, reg)
	queue := triage.NewQueue(triage.Config{}, nil)
	admitter := &flakyAdmitter{fails: 1, inner: queueAdmitter{queue}}
	in, err := New(admitter, nil, workerpool.Config{Workers: 1, QueueSize: 4, MaxRetries: 2, RetryDelay: time.Millisecond}, m, nil)
	require.NoError(t, err)
	in.Start()

	require.NoError(t, in.HandleMessage(context.Background(), &redpanda.ConsumedMessage{
		Value: []byte(`{"name":"Ada","age":30,"symptom":"cold"}`),
	}))
	require.NoError(t, in.Stop())

	assert.Equal(t, 1, queue.Len())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.IntakeMessages.WithLabelValues(OutcomeAdmitted)))
}

func TestHandleMessage_FullPoolFailsForRedelivery(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg, reg)
	queue := triage.NewQueue(triage.Config{}, nil)
	in, err := New(queueAdmitter{queue}, nil, workerpool.Config{Workers: 1, QueueSize: 1, RetryDelay: time.Millisecond}, m, nil)
	require.NoError(t, err)
	in.submitWait = 10 * time.Millisecond

	msg := &redpanda.ConsumedMessage{Value: []byte(`{"name":"Ada","age":30,"symptom":"cold"}`)}

	// Workers are not running, so the single slot stays taken
	require.NoError(t, in.HandleMessage(context.Background(), msg))
	err = in.HandleMessage(context.Background(), msg)
	assert.ErrorIs(t, err, workerpool.ErrQueueFull)

	in.Start()
	require.NoError(t, in.Stop())
	assert.Equal(t, 1, queue.Len())
}
