package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/chatsession/metric"
)

type poolState int

const (
	poolIdle poolState = iota
	poolRunning
	poolStopped
)

// Pool runs a fixed number of workers over a bounded queue of items of
// type T. Submit never blocks.
type Pool[T any] struct {
	workers   int
	queueSize int
	processor func(context.Context, T) error
	onError   func(T, error)

	queue chan T
	wg    sync.WaitGroup

	mu    sync.Mutex
	state poolState

	submitted atomic.Int64
	processed atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64

	registry *metric.MetricsRegistry
	prefix   string
	metrics  *poolMetrics
}

// Option configures a Pool
type Option[T any] func(*Pool[T])

// WithMetricsRegistry exports the pool's metrics under prefix
func WithMetricsRegistry[T any](registry *metric.MetricsRegistry, prefix string) Option[T] {
	return func(p *Pool[T]) {
		p.registry = registry
		p.prefix = prefix
	}
}

// WithErrorHandler sets a function called with every item whose processing failed
func WithErrorHandler[T any](fn func(T, error)) Option[T] {
	return func(p *Pool[T]) {
		p.onError = fn
	}
}

// NewPool creates a pool of workers processing up to queueSize queued items.
// Non-positive sizes default to one worker and sixteen slots. It panics if
// processor is nil.
func NewPool[T any](workers, queueSize int, processor func(context.Context, T) error, opts ...Option[T]) *Pool[T] {
	if processor == nil {
		panic(ErrNilProcessor)
	}
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 16
	}

	p := &Pool[T]{
		workers:   workers,
		queueSize: queueSize,
		processor: processor,
		queue:     make(chan T, queueSize),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.registry != nil && p.prefix != "" {
		p.metrics = newPoolMetrics(p.registry, p.prefix)
	}
	return p
}

// Start launches the workers. Cancelling ctx makes workers exit after their
// current item.
func (p *Pool[T]) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.state {
	case poolRunning:
		return ErrPoolAlreadyStarted
	case poolStopped:
		return ErrPoolStopped
	}
	p.wg.Add(p.workers)
	for i := 0; i < p.workers; i++ {
		go p.work(ctx)
	}
	p.state = poolRunning
	return nil
}

// Submit queues item, or returns ErrQueueFull when there is no room.
func (p *Pool[T]) Submit(item T) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.state {
	case poolIdle:
		return ErrPoolNotStarted
	case poolStopped:
		return ErrPoolStopped
	}

	select {
	case p.queue <- item:
		p.submitted.Add(1)
		p.metrics.record("submitted", len(p.queue))
		return nil
	default:
		p.dropped.Add(1)
		p.metrics.record("dropped", len(p.queue))
		return ErrQueueFull
	}
}

// Stop closes the queue and waits up to timeout for queued items to drain.
// Stopping an idle or stopped pool is a no-op.
func (p *Pool[T]) Stop(timeout time.Duration) error {
	p.mu.Lock()
	if p.state != poolRunning {
		p.state = poolStopped
		p.mu.Unlock()
		return nil
	}
	p.state = poolStopped
	close(p.queue)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return ErrStopTimeout
	}
}

// PoolStats is a snapshot of a pool's counters
type PoolStats struct {
	Workers    int   `json:"workers"`
	QueueSize  int   `json:"queue_size"`
	QueueDepth int   `json:"queue_depth"`
	Submitted  int64 `json:"submitted"`
	Processed  int64 `json:"processed"`
	Failed     int64 `json:"failed"`
	Dropped    int64 `json:"dropped"`
}

// Stats returns current pool statistics
func (p *Pool[T]) Stats() PoolStats {
	return PoolStats{
		Workers:    p.workers,
		QueueSize:  p.queueSize,
		QueueDepth: len(p.queue),
		Submitted:  p.submitted.Load(),
		Processed:  p.processed.Load(),
		Failed:     p.failed.Load(),
		Dropped:    p.dropped.Load(),
	}
}

func (p *Pool[T]) work(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case item, ok := <-p.queue:
			if !ok {
				return
			}
			p.process(ctx, item)
		}
	}
}

func (p *Pool[T]) process(ctx context.Context, item T) {
	start := time.Now()
	err := p.processor(ctx, item)
	p.processed.Add(1)

	result := "succeeded"
	if err != nil {
		result = "failed"
		p.failed.Add(1)
		if p.onError != nil {
			p.onError(item, err)
		}
	}
	p.metrics.record(result, len(p.queue))
	p.metrics.observe(result, time.Since(start))
}

// poolMetrics is nil when the pool exports no metrics; its methods accept that.
type poolMetrics struct {
	queueDepth prometheus.Gauge
	tasks      *prometheus.CounterVec
	duration   *prometheus.HistogramVec
}

func newPoolMetrics(registry *metric.MetricsRegistry, prefix string) *poolMetrics {
	m := &poolMetrics{
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: prefix + "_queue_depth",
			Help: "Items waiting in the worker pool queue",
		}),
		tasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: prefix + "_tasks_total",
			Help: "Worker pool items by result: submitted, dropped, succeeded, failed",
		}, []string{"result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    prefix + "_task_duration_seconds",
			Help:    "Time spent processing an item",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 30, 60},
		}, []string{"result"}),
	}

	// A conflicting registration leaves the metric usable but unexported.
	const owner = "worker_pool"
	_ = registry.RegisterGauge(owner, prefix+"_queue_depth", m.queueDepth)
	_ = registry.RegisterCounterVec(owner, prefix+"_tasks_total", m.tasks)
	_ = registry.RegisterHistogramVec(owner, prefix+"_task_duration_seconds", m.duration)
	return m
}

func (m *poolMetrics) record(result string, depth int) {
	if m == nil {
		return
	}
	m.tasks.WithLabelValues(result).Inc()
	m.queueDepth.Set(float64(depth))
}

func (m *poolMetrics) observe(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.duration.WithLabelValues(result).Observe(d.Seconds())
}
