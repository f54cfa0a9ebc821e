package triage

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of triage audit event
type EventType string

const (
	EventAdmissionCreated    EventType = "AdmissionCreated"
	EventAdmissionDispatched EventType = "AdmissionDispatched"
	EventQueueCleared        EventType = "QueueCleared"
)

// AggregateType is the aggregate name carried by every triage event
const AggregateType = "TriageQueue"

// Event represents a triage audit event
type Event struct {
	ID            string          `json:"id"`
	AggregateID   string          `json:"aggregate_id"`
	AggregateType string          `json:"aggregate_type"`
	EventType     EventType       `json:"event_type"`
	EventData     json.RawMessage `json:"event_data"`
	Timestamp     time.Time       `json:"timestamp"`
	CorrelationID string          `json:"correlation_id,omitempty"`
}

// NewEvent creates a new event
func NewEvent(aggregateID string, eventType EventType, data interface{}) (*Event, error) {
	eventData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &Event{
		ID:            uuid.New().String(),
		AggregateID:   aggregateID,
		AggregateType: AggregateType,
		EventType:     eventType,
		EventData:     eventData,
		Timestamp:     time.Now().UTC(),
	}, nil
}

// WithCorrelationID sets the request correlation id
func (e *Event) WithCorrelationID(id string) *Event {
	e.CorrelationID = id
	return e
}

// AdmissionCreatedData contains admission details
type AdmissionCreatedData struct {
	Sequence      int64     `json:"sequence"`
	Severity      string    `json:"severity"`
	Symptom       string    `json:"symptom"`
	Age           int       `json:"age"`
	Resource      string    `json:"resource"`
	QueuePosition int       `json:"queue_position"`
	AdmittedAt    time.Time `json:"admitted_at"`
}

// AdmissionDispatchedData contains dispatch details
type AdmissionDispatchedData struct {
	Sequence      int64     `json:"sequence"`
	Severity      string    `json:"severity"`
	Resource      string    `json:"resource"`
	WaitedMinutes int       `json:"waited_minutes"`
	Remaining     int       `json:"remaining"`
	DispatchedAt  time.Time `json:"dispatched_at"`
}

// QueueClearedData contains clear details
type QueueClearedData struct {
	Discarded int       `json:"discarded"`
	ClearedAt time.Time `json:"cleared_at"`
}

// AdmittedEvent builds the audit event for an admission.
// Patient names stay out of the audit stream.
func AdmittedEvent(v *AdmissionView) (*Event, error) {
	return NewEvent(sequenceID(v.Sequence), EventAdmissionCreated, &AdmissionCreatedData{
		Sequence:      v.Sequence,
		Severity:      v.Tier.String(),
		Symptom:       v.Symptom,
		Age:           v.Age,
		Resource:      v.Resource,
		QueuePosition: v.Position,
		AdmittedAt:    v.AdmittedAt.UTC(),
	})
}

// DispatchedEvent builds the audit event for a dispatch
func DispatchedEvent(d *Dispatch) (*Event, error) {
	return NewEvent(sequenceID(d.Sequence), EventAdmissionDispatched, &AdmissionDispatchedData{
		Sequence:      d.Sequence,
		Severity:      d.Tier.String(),
		Resource:      d.Resource,
		WaitedMinutes: d.WaitedMinutes,
		Remaining:     d.Remaining,
		DispatchedAt:  time.Now().UTC(),
	})
}

// ClearedEvent builds the audit event for a queue clear
func ClearedEvent(discarded int) (*Event, error) {
	return NewEvent("queue", EventQueueCleared, &QueueClearedData{
		Discarded: discarded,
		ClearedAt: time.Now().UTC(),
	})
}

func sequenceID(seq int64) string {
	return "admission-" + strconv.FormatInt(seq, 10)
}
