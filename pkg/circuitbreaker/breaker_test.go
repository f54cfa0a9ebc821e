package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBroker = errors.New("broker unavailable")

func fail() (interface{}, error) { return nil, errBroker }
func ok() (interface{}, error)   { return "ok", nil }

func TestCircuitBreaker_TripsAfterConsecutiveFailures(t *testing.T) {
	var mu sync.Mutex
	var transitions []State

	cfg := DefaultConfig("triage.events")
	cfg.FailureThreshold = 3
	cfg.Timeout = 20 * time.Millisecond
	cfg.OnStateChange = func(name string, to State) {
		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, "triage.events", name)
		transitions = append(transitions, to)
	}
	cb, err := New(cfg, nil)
	require.NoError(t, err)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := cb.Execute(ctx, fail)
		require.ErrorIs(t, err, errBroker)
	}
	assert.True(t, cb.IsOpen())

	_, err = cb.Execute(ctx, ok)
	assert.True(t, ErrOpen(err))

	time.Sleep(30 * time.Millisecond)
	res, err := cb.Execute(ctx, ok)
	require.NoError(t, err)
	assert.Equal(t, "ok", res)
	assert.True(t, cb.IsClosed())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []State{StateOpen, StateHalfOpen, StateClosed}, transitions)
}

func TestCircuitBreaker_CancellationIsNotAFailure(t *testing.T) {
	cfg := DefaultConfig("audit.trail")
	cfg.FailureThreshold = 1
	cb, err := New(cfg, nil)
	require.NoError(t, err)

	_, err = cb.Execute(context.Background(), func() (interface{}, error) {
		return nil, context.Canceled
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, cb.IsClosed())
}

func TestStateValue(t *testing.T) {
	assert.Equal(t, 0.0, StateClosed.Value())
	assert.Equal(t, 1.0, StateOpen.Value())
	assert.Equal(t, 2.0, StateHalfOpen.Value())
}

func TestManager(t *testing.T) {
	m := NewManager(nil)
	a, err := m.GetOrCreate("triage.events", DefaultConfig(""))
	require.NoError(t, err)
	again, err := m.GetOrCreate("triage.events", DefaultConfig(""))
	require.NoError(t, err)
	assert.Same(t, a, again)

	cfg := DefaultConfig("")
	cfg.FailureThreshold = 1
	dlq, err := m.GetOrCreate("dead.letter", cfg)
	require.NoError(t, err)
	_, _ = dlq.Execute(context.Background(), fail)

	statuses := m.GetHealthStatus()
	require.Len(t, statuses, 2)
	assert.Equal(t, "dead.letter", statuses[0].Name)
	assert.Equal(t, StateOpen, statuses[0].State)
	assert.False(t, statuses[0].Healthy)
	assert.Equal(t, "triage.events", statuses[1].Name)
	assert.True(t, statuses[1].Healthy)
}
