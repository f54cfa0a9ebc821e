package redpanda

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/drfirst/go-facilityops/internal/domain/triage"
	"github.com/drfirst/go-facilityops/pkg/circuitbreaker"
)

func TestEventTopic(t *testing.T) {
	cleared, err := triage.ClearedEvent(2)
	require.NoError(t, err)
	assert.Equal(t, TopicAuditTrail, EventTopic(cleared))

	q := triage.NewQueue(triage.Config{}, nil)
	view, err := q.Admit("Ada", 30, "cold")
	require.NoError(t, err)
	admitted, err := triage.AdmittedEvent(view)
	require.NoError(t, err)
	assert.Equal(t, TopicTriageEvents, EventTopic(admitted))
}

func TestHandlePartition_StopsAtFirstFailure(t *testing.T) {
	records := make([]*kgo.Record, 5)
	for i := range records {
		records[i] = &kgo.Record{Topic: TopicTriageIntake, Offset: int64(i)}
	}

	var handled []int64
	done, failed := handlePartition(records, func(r *kgo.Record) error {
		handled = append(handled, r.Offset)
		if r.Offset == 2 {
			return errors.New("task queue is full")
		}
		return nil
	})

	require.NotNil(t, failed)
	assert.Equal(t, int64(2), failed.Offset)
	assert.Equal(t, []int64{0, 1, 2}, handled)
	require.Len(t, done, 2)
	for _, r := range done {
		assert.Less(t, r.Offset, failed.Offset, "a mark past the failed record would commit over it")
	}

	done, failed = handlePartition(records, func(*kgo.Record) error { return nil })
	assert.Nil(t, failed)
	assert.Len(t, done, 5)
}

func TestMissingTopics(t *testing.T) {
	got := missing([]string{TopicTriageEvents, "other", TopicDeadLetter}, DefaultTopicConfigs())
	assert.Equal(t, []string{TopicTriageIntake, TopicAuditTrail}, got)
	assert.Empty(t, missing([]string{TopicTriageIntake, TopicTriageEvents, TopicAuditTrail, TopicDeadLetter}, DefaultTopicConfigs()))
}

func TestTraceHeadersRoundTrip(t *testing.T) {
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() { otel.SetTextMapPropagator(prev) })

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	record := &kgo.Record{Headers: []kgo.RecordHeader{{Key: "source", Value: []byte("kiosk-3")}}}
	injectTraceHeaders(ctx, record)
	injectTraceHeaders(ctx, record)

	carrier := recordCarrier{record: record}
	assert.Equal(t, "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01", carrier.Get("traceparent"))
	assert.ElementsMatch(t, []string{"source", "traceparent"}, carrier.Keys())

	got := trace.SpanContextFromContext(extractTraceContext(context.Background(), record))
	assert.Equal(t, traceID, got.TraceID())
	assert.True(t, got.IsRemote())
}

type fakeProducer struct {
	mu    sync.Mutex
	err   error
	calls map[string]int
}

func (p *fakeProducer) ProduceMessage(_ context.Context, topic, _ string, _ []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.calls == nil {
		p.calls = make(map[string]int)
	}
	p.calls[topic]++
	if topic == TopicTriageEvents {
		return p.err
	}
	return nil
}

func TestGuardedPublisher_IsolatesTopics(t *testing.T) {
	producer := &fakeProducer{err: errors.New("not leader for partition")}
	cfg := circuitbreaker.DefaultConfig("")
	cfg.FailureThreshold = 2
	breakers := circuitbreaker.NewManager(nil)
	pub := NewGuardedPublisher(producer, breakers, cfg, nil)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		assert.Error(t, pub.Publish(ctx, TopicTriageEvents, "admission-1", []byte(`{}`)))
	}
	err := pub.Publish(ctx, TopicTriageEvents, "admission-1", []byte(`{}`))
	assert.True(t, circuitbreaker.ErrOpen(err))
	assert.Equal(t, 2, producer.calls[TopicTriageEvents])

	require.NoError(t, pub.Publish(ctx, TopicAuditTrail, "queue", []byte(`{}`)))
	statuses := breakers.GetHealthStatus()
	require.Len(t, statuses, 2)
	assert.Equal(t, TopicAuditTrail, statuses[0].Name)
	assert.True(t, statuses[0].Healthy)
	assert.False(t, statuses[1].Healthy)
}
