package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/drfirst/go-facilityops/internal/domain/triage"
)

// TxBeginner is satisfied by *pgxpool.Pool
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// TopicRouter picks the destination topic for an event
type TopicRouter func(ev *triage.Event) string

// Recorder writes triage audit events to the outbox
type Recorder struct {
	db     TxBeginner
	route  TopicRouter
	logger *zap.Logger
}

// NewRecorder creates a recorder whose entries the relay publishes to the
// topic chosen by route
func NewRecorder(db TxBeginner, route TopicRouter, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{db: db, route: route, logger: logger}
}

// Record stores the event in its own transaction
func (r *Recorder) Record(ctx context.Context, ev *triage.Event) error {
	entry, err := EntryFromEvent(ev, r.route(ev))
	if err != nil {
		return err
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := WriteEntry(ctx, tx, entry); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	r.logger.Debug("audit event recorded",
		zap.Int64("outbox_id", entry.ID),
		zap.String("event_type", entry.EventType),
		zap.String("aggregate_id", entry.AggregateID))
	return nil
}

// EntryFromEvent builds the outbox row for an event. The whole event is the
// payload and the aggregate ID is the partition key.
func EntryFromEvent(ev *triage.Event, topic string) (*OutboxEntry, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	return &OutboxEntry{
		AggregateID:   ev.AggregateID,
		AggregateType: ev.AggregateType,
		EventType:     string(ev.EventType),
		Payload:       payload,
		KafkaTopic:    topic,
		KafkaKey:      ev.AggregateID,
	}, nil
}
