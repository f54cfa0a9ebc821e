package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drfirst/go-facilityops/internal/domain/triage"
)

type fakeRow struct {
	id  int64
	err error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*dest[0].(*int64) = r.id
	*dest[1].(*time.Time) = time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	return nil
}

// fakeTx implements the parts of pgx.Tx the recorder touches
type fakeTx struct {
	pgx.Tx
	insertErr  error
	args       []any
	execs      []string
	committed  bool
	rolledBack bool
}

func (t *fakeTx) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	t.execs = append(t.execs, sql)
	return pgconn.NewCommandTag("UPDATE 1"), nil
}

func (t *fakeTx) QueryRow(_ context.Context, _ string, args ...any) pgx.Row {
	t.args = args
	return fakeRow{id: 42, err: t.insertErr}
}

func (t *fakeTx) Commit(context.Context) error {
	t.committed = true
	return nil
}

func (t *fakeTx) Rollback(context.Context) error {
	if !t.committed {
		t.rolledBack = true
	}
	return nil
}

type fakeDB struct {
	tx  *fakeTx
	err error
}

func (d *fakeDB) Begin(context.Context) (pgx.Tx, error) {
	if d.err != nil {
		return nil, d.err
	}
	return d.tx, nil
}

func toEvents(*triage.Event) string { return "triage.events" }

func admittedEvent(t *testing.T) *triage.Event {
	t.Helper()
	q := triage.NewQueue(triage.Config{}, nil)
	view, err := q.Admit("Ada", 34, "stroke")
	require.NoError(t, err)
	ev, err := triage.AdmittedEvent(view)
	require.NoError(t, err)
	return ev
}

func TestEntryFromEvent(t *testing.T) {
	ev := admittedEvent(t)
	entry, err := EntryFromEvent(ev, "triage.events")
	require.NoError(t, err)

	assert.Equal(t, "admission-1", entry.AggregateID)
	assert.Equal(t, triage.AggregateType, entry.AggregateType)
	assert.Equal(t, string(triage.EventAdmissionCreated), entry.EventType)
	assert.Equal(t, "triage.events", entry.KafkaTopic)
	assert.Equal(t, entry.AggregateID, entry.KafkaKey)

	var decoded triage.Event
	require.NoError(t, json.Unmarshal(entry.Payload, &decoded))
	assert.Equal(t, ev.ID, decoded.ID)
	assert.NotContains(t, string(entry.Payload), "Ada")
}

func TestRecorder_Record(t *testing.T) {
	tx := &fakeTx{}
	r := NewRecorder(&fakeDB{tx: tx}, toEvents, nil)

	require.NoError(t, r.Record(context.Background(), admittedEvent(t)))
	assert.True(t, tx.committed)
	assert.False(t, tx.rolledBack)
	require.Len(t, tx.args, 6)
	assert.Equal(t, "admission-1", tx.args[0])
	assert.Equal(t, "triage.events", tx.args[4])
}

func TestRecorder_RecordRollsBackOnInsertError(t *testing.T) {
	tx := &fakeTx{insertErr: errors.New("relation \"outbox\" does not exist")}
	r := NewRecorder(&fakeDB{tx: tx}, toEvents, nil)

	err := r.Record(context.Background(), admittedEvent(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to write outbox entry")
	assert.False(t, tx.committed)
	assert.True(t, tx.rolledBack)
}

func TestRecorder_RecordBeginError(t *testing.T) {
	r := NewRecorder(&fakeDB{err: errors.New("pool closed")}, toEvents, nil)
	assert.ErrorContains(t, r.Record(context.Background(), admittedEvent(t)), "begin")
}

func TestNewDeadLetter(t *testing.T) {
	lastErr := "broker unavailable"
	entry := &OutboxEntry{
		ID:          7,
		AggregateID: "queue",
		EventType:   string(triage.EventQueueCleared),
		Payload:     json.RawMessage(`{"discarded":3}`),
		KafkaTopic:  "triage.events",
		RetryCount:  5,
		LastError:   &lastErr,
	}
	b, err := json.Marshal(NewDeadLetter(entry))
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"original_topic":"triage.events",
		"event_type":"QueueCleared",
		"aggregate_id":"queue",
		"payload":{"discarded":3},
		"retry_count":5,
		"last_error":"broker unavailable",
		"created_at":"0001-01-01T00:00:00Z"
	}`, string(b))
}

type fakeExecer struct {
	sql string
	err error
}

func (e *fakeExecer) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	e.sql = sql
	return pgconn.CommandTag{}, e.err
}

func TestEnsureSchema(t *testing.T) {
	db := &fakeExecer{}
	require.NoError(t, EnsureSchema(context.Background(), db))
	assert.Contains(t, db.sql, "CREATE TABLE IF NOT EXISTS outbox")
	assert.Contains(t, db.sql, "CREATE TABLE IF NOT EXISTS inbox")

	db.err = errors.New("permission denied")
	assert.ErrorContains(t, EnsureSchema(context.Background(), db), "apply schema")
}
