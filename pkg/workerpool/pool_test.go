package workerpool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errFatal = errors.New("fatal")

type collector struct {
	mu      sync.Mutex
	results []*Result
	wg      sync.WaitGroup
}

func (c *collector) onResult(r *Result) {
	c.mu.Lock()
	c.results = append(c.results, r)
	c.mu.Unlock()
	c.wg.Done()
}

func testConfig(c *collector) Config {
	return Config{
		Workers:    4,
		QueueSize:  16,
		MaxRetries: 2,
		RetryDelay: time.Millisecond,
		Retryable:  func(err error) bool { return !errors.Is(err, errFatal) },
		OnResult:   c.onResult,
	}
}

func TestNew_RequiresWorkerFunc(t *testing.T) {
	_, err := New(DefaultConfig(), nil, nil)
	assert.Error(t, err)
}

func TestPool_ProcessesTasks(t *testing.T) {
	c := &collector{}
	var processed int64
	p, err := New(testConfig(c), func(ctx context.Context, task *Task) *Result {
		atomic.AddInt64(&processed, 1)
		return &Result{TaskID: task.ID, Success: true, Data: task.Payload}
	}, nil)
	require.NoError(t, err)
	p.Start()

	c.wg.Add(10)
	for i := 0; i < 10; i++ {
		require.NoError(t, p.Submit(&Task{ID: fmt.Sprint(i), Payload: i}))
	}
	c.wg.Wait()
	require.NoError(t, p.Stop())

	assert.Equal(t, int64(10), atomic.LoadInt64(&processed))
	stats := p.Stats()
	assert.Equal(t, int64(10), stats.TasksSubmitted)
	assert.Equal(t, int64(10), stats.TasksCompleted)
	assert.Zero(t, stats.TasksFailed)
	assert.Len(t, c.results, 10)
}

func TestPool_RetriesTransientFailures(t *testing.T) {
	c := &collector{}
	var calls int64
	p, err := New(testConfig(c), func(ctx context.Context, task *Task) *Result {
		if atomic.AddInt64(&calls, 1) < 3 {
			return &Result{TaskID: task.ID, Error: errors.New("busy")}
		}
		return &Result{TaskID: task.ID, Success: true}
	}, nil)
	require.NoError(t, err)
	p.Start()
	defer p.Stop()

	c.wg.Add(1)
	require.NoError(t, p.Submit(&Task{ID: "t"}))
	c.wg.Wait()

	require.Len(t, c.results, 1)
	assert.True(t, c.results[0].Success)
	assert.Equal(t, 3, c.results[0].Attempts)
	assert.Equal(t, int64(2), p.Stats().TasksRetried)
}

func TestPool_GivesUpAfterMaxRetries(t *testing.T) {
	c := &collector{}
	p, err := New(testConfig(c), func(ctx context.Context, task *Task) *Result {
		return &Result{TaskID: task.ID, Error: errors.New("busy")}
	}, nil)
	require.NoError(t, err)
	p.Start()
	defer p.Stop()

	c.wg.Add(1)
	require.NoError(t, p.Submit(&Task{ID: "t"}))
	c.wg.Wait()

	require.Len(t, c.results, 1)
	assert.False(t, c.results[0].Success)
	assert.Equal(t, 3, c.results[0].Attempts)
	assert.Equal(t, int64(1), p.Stats().TasksFailed)
}

func TestPool_DoesNotRetryNonRetryable(t *testing.T) {
	c := &collector{}
	var calls int64
	p, err := New(testConfig(c), func(ctx context.Context, task *Task) *Result {
		atomic.AddInt64(&calls, 1)
		return &Result{TaskID: task.ID, Error: fmt.Errorf("admit: %w", errFatal)}
	}, nil)
	require.NoError(t, err)
	p.Start()
	defer p.Stop()

	c.wg.Add(1)
	require.NoError(t, p.Submit(&Task{ID: "t"}))
	c.wg.Wait()

	assert.Equal(t, int64(1), atomic.LoadInt64(&calls))
	assert.ErrorIs(t, c.results[0].Error, errFatal)
	assert.Equal(t, 1, c.results[0].Attempts)
}

func TestPool_QueueFull(t *testing.T) {
	release := make(chan struct{})
	p, err := New(Config{Workers: 1, QueueSize: 1}, func(ctx context.Context, task *Task) *Result {
		<-release
		return &Result{TaskID: task.ID, Success: true}
	}, nil)
	require.NoError(t, err)

	// Not started, so the single slot fills immediately
	require.NoError(t, p.Submit(&Task{ID: "a"}))
	assert.ErrorIs(t, p.Submit(&Task{ID: "b"}), ErrQueueFull)
	assert.False(t, p.IsHealthy())

	p.Start()
	close(release)
	require.NoError(t, p.Stop())
}

func TestPool_SubmitWait(t *testing.T) {
	release := make(chan struct{})
	c := &collector{}
	cfg := testConfig(c)
	cfg.Workers, cfg.QueueSize = 1, 1
	p, err := New(cfg, func(ctx context.Context, task *Task) *Result {
		<-release
		return &Result{TaskID: task.ID, Success: true}
	}, nil)
	require.NoError(t, err)

	require.NoError(t, p.Submit(&Task{ID: "a"}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = p.SubmitWait(ctx, &Task{ID: "b"})
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// Space frees up once the worker takes "a"
	c.wg.Add(2)
	p.Start()
	require.NoError(t, p.SubmitWait(context.Background(), &Task{ID: "b"}))
	close(release)
	c.wg.Wait()
	require.NoError(t, p.Stop())
	assert.Len(t, c.results, 2)
}

func TestPool_SubmitAfterStop(t *testing.T) {
	p, err := New(DefaultConfig(), func(ctx context.Context, task *Task) *Result { return nil }, nil)
	require.NoError(t, err)
	p.Start()
	require.NoError(t, p.Stop())
	require.NoError(t, p.Stop())

	assert.ErrorIs(t, p.Submit(&Task{ID: "late"}), ErrPoolClosed)
}
