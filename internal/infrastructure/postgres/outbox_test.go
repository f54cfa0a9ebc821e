package postgres

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubPublisher struct {
	err    error
	topics []string
}

func (p *stubPublisher) Publish(_ context.Context, topic, _ string, _ []byte) error {
	p.topics = append(p.topics, topic)
	return p.err
}

func outboxEntry() *OutboxEntry {
	return &OutboxEntry{
		ID:          7,
		AggregateID: "TRG-000001",
		EventType:   "AdmissionCreated",
		Payload:     []byte(`{}`),
		KafkaTopic:  "triage.events",
		KafkaKey:    "TRG-000001",
	}
}

func TestProcessEntry_MarksProcessed(t *testing.T) {
	pub := &stubPublisher{}
	o := NewOutbox(nil, pub, DefaultOutboxConfig(), nil)
	tx := &fakeTx{}

	require.NoError(t, o.processEntry(context.Background(), tx, outboxEntry()))

	assert.Equal(t, []string{"triage.events"}, pub.topics)
	require.Len(t, tx.execs, 1)
	assert.Contains(t, tx.execs[0], "processed_at = NOW()")
}

func TestProcessEntry_CountsFailedAttempt(t *testing.T) {
	pub := &stubPublisher{err: errors.New("broker unreachable")}
	o := NewOutbox(nil, pub, DefaultOutboxConfig(), nil)
	tx := &fakeTx{}

	err := o.processEntry(context.Background(), tx, outboxEntry())
	require.Error(t, err)

	require.Len(t, tx.execs, 1)
	assert.Contains(t, tx.execs[0], "retry_count = retry_count + 1")
}

func TestProcessEntry_OpenCircuitIsNotAnAttempt(t *testing.T) {
	pub := &stubPublisher{err: fmt.Errorf("publish: %w", gobreaker.ErrOpenState)}
	o := NewOutbox(nil, pub, DefaultOutboxConfig(), nil)
	tx := &fakeTx{}

	err := o.processEntry(context.Background(), tx, outboxEntry())
	require.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Empty(t, tx.execs)
}

func TestNewOutbox_DefaultsDeadLetterTopic(t *testing.T) {
	o := NewOutbox(nil, &stubPublisher{}, OutboxConfig{BatchSize: 10}, nil)
	assert.Equal(t, "dead.letter", o.config.DeadLetterTopic)
}
