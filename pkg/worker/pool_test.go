package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/chatsession/metric"
)

type testWork struct {
	id   int
	fail bool
}

func TestNewPool_Defaults(t *testing.T) {
	pool := NewPool(0, 0, func(context.Context, testWork) error { return nil })
	assert.Equal(t, 1, pool.workers)
	assert.Equal(t, 16, pool.queueSize)
}

func TestNewPool_NilProcessor(t *testing.T) {
	assert.PanicsWithValue(t, ErrNilProcessor, func() {
		NewPool[testWork](1, 1, nil)
	})
}

func TestPool_Lifecycle(t *testing.T) {
	var processed atomic.Int64
	pool := NewPool(2, 10, func(_ context.Context, _ testWork) error {
		processed.Add(1)
		return nil
	})

	assert.ErrorIs(t, pool.Submit(testWork{id: 1}), ErrPoolNotStarted)

	require.NoError(t, pool.Start(context.Background()))
	assert.ErrorIs(t, pool.Start(context.Background()), ErrPoolAlreadyStarted)

	for i := 0; i < 5; i++ {
		require.NoError(t, pool.Submit(testWork{id: i}))
	}

	require.NoError(t, pool.Stop(time.Second))
	assert.Equal(t, int64(5), processed.Load())
	assert.ErrorIs(t, pool.Submit(testWork{id: 6}), ErrPoolStopped)
	assert.NoError(t, pool.Stop(time.Second), "second stop is a no-op")
}

func TestPool_QueueFull(t *testing.T) {
	release := make(chan struct{})
	pool := NewPool(1, 1, func(ctx context.Context, _ testWork) error {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	})
	require.NoError(t, pool.Start(context.Background()))
	defer func() {
		close(release)
		_ = pool.Stop(time.Second)
	}()

	require.NoError(t, pool.Submit(testWork{id: 1}))
	// Wait until the worker has taken the first item so the queue slot is free.
	require.Eventually(t, func() bool { return pool.Stats().QueueDepth == 0 }, time.Second, time.Millisecond)
	require.NoError(t, pool.Submit(testWork{id: 2}))

	assert.ErrorIs(t, pool.Submit(testWork{id: 3}), ErrQueueFull)
	assert.Equal(t, int64(1), pool.Stats().Dropped)
}

func TestPool_ErrorHandler(t *testing.T) {
	var mu sync.Mutex
	var failedIDs []int

	pool := NewPool(1, 10, func(_ context.Context, w testWork) error {
		if w.fail {
			return errors.New("boom")
		}
		return nil
	}, WithErrorHandler(func(w testWork, err error) {
		mu.Lock()
		defer mu.Unlock()
		failedIDs = append(failedIDs, w.id)
	}))

	require.NoError(t, pool.Start(context.Background()))
	require.NoError(t, pool.Submit(testWork{id: 1}))
	require.NoError(t, pool.Submit(testWork{id: 2, fail: true}))
	require.NoError(t, pool.Stop(time.Second))

	stats := pool.Stats()
	assert.Equal(t, int64(2), stats.Processed)
	assert.Equal(t, int64(1), stats.Failed)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{2}, failedIDs)
}

func TestPool_Metrics(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	pool := NewPool(1, 4, func(_ context.Context, w testWork) error {
		if w.fail {
			return errors.New("boom")
		}
		return nil
	}, WithMetricsRegistry[testWork](registry, "test_pool"))

	require.NoError(t, pool.Start(context.Background()))
	require.NoError(t, pool.Submit(testWork{id: 1}))
	require.NoError(t, pool.Submit(testWork{id: 2, fail: true}))
	require.NoError(t, pool.Stop(time.Second))

	families, err := registry.PrometheusRegistry().Gather()
	require.NoError(t, err)

	names := map[string]bool{}
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	assert.True(t, names["test_pool_tasks_total"])
	assert.True(t, names["test_pool_queue_depth"])
	assert.True(t, names["test_pool_task_duration_seconds"])

	tasks := pool.metrics.tasks
	assert.Equal(t, 2.0, promtest.ToFloat64(tasks.WithLabelValues("submitted")))
	assert.Equal(t, 1.0, promtest.ToFloat64(tasks.WithLabelValues("succeeded")))
	assert.Equal(t, 1.0, promtest.ToFloat64(tasks.WithLabelValues("failed")))
	assert.Equal(t, 0.0, promtest.ToFloat64(pool.metrics.queueDepth))
}

func TestPool_StopBeforeStart(t *testing.T) {
	pool := NewPool(1, 1, func(context.Context, testWork) error { return nil })
	require.NoError(t, pool.Stop(time.Second))
	assert.ErrorIs(t, pool.Start(context.Background()), ErrPoolStopped)
	assert.ErrorIs(t, pool.Submit(testWork{}), ErrPoolStopped)
}
