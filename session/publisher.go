package session

import (
	"context"
	stderrors "errors"
	"log/slog"
	"sync"
	"time"

	"github.com/c360/chatsession/pkg/worker"
)

// Keys of the values a Session publishes.
const (
	KeyStatus  = "status"
	KeyHelp    = "help"
	KeyVersion = "version"
	KeyAbout   = "about"
	KeyError   = "error"
)

const (
	sinkTimeout = 5 * time.Second
	// sinkQueue bounds the publications waiting for slow sinks.
	sinkQueue = 256
	// drainTimeout bounds how long Close waits for queued deliveries.
	drainTimeout = 10 * time.Second
)

// Sink receives every published value, e.g. to mirror it into a store.
type Sink interface {
	Publish(ctx context.Context, key string, value any) error
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(ctx context.Context, key string, value any) error

// Publish calls f.
func (f SinkFunc) Publish(ctx context.Context, key string, value any) error {
	return f(ctx, key, value)
}

// Record is a publication as sinks store it.
type Record struct {
	Key   string    `json:"key"`
	Value any       `json:"value"`
	Time  time.Time `json:"time"`
}

// NewRecord builds the Record for a publication. Error values are stored as
// their message.
func NewRecord(key string, value any, at time.Time) Record {
	if err, ok := value.(error); ok {
		value = err.Error()
	}
	return Record{Key: key, Value: value, Time: at}
}

type subscriber struct {
	id int
	fn func(value any)
}

type delivery struct {
	key   string
	value any
	sinks []Sink
}

// Publisher holds the latest value per key and notifies subscribers and
// sinks when one changes. Subscribers run on the publishing goroutine; sinks
// are fed in publication order by one background worker, so a slow store
// never holds up the caller.
type Publisher struct {
	logger *slog.Logger
	queue  *worker.Pool[delivery]

	mu     sync.RWMutex
	values map[string]any
	subs   map[string][]subscriber
	sinks  []Sink
	nextID int

	onPublish func(key string)
}

// NewPublisher creates an empty publisher. Close releases its sink worker.
func NewPublisher(logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Publisher{
		logger: logger,
		values: make(map[string]any),
		subs:   make(map[string][]subscriber),
	}
	p.queue = worker.NewPool(1, sinkQueue, p.deliver,
		worker.WithErrorHandler(func(d delivery, err error) {
			p.logger.Warn("Sink publish failed", "key", d.key, "error", err)
		}))
	_ = p.queue.Start(context.Background())
	return p
}

// Publish stores value under key, calls the key's subscribers and queues the
// value for every sink. When the sink queue is full the value is not mirrored.
func (p *Publisher) Publish(key string, value any) {
	p.mu.Lock()
	p.values[key] = value
	subs := make([]subscriber, len(p.subs[key]))
	copy(subs, p.subs[key])
	sinks := make([]Sink, len(p.sinks))
	copy(sinks, p.sinks)
	onPublish := p.onPublish
	p.mu.Unlock()

	if onPublish != nil {
		onPublish(key)
	}
	for _, s := range subs {
		s.fn(value)
	}
	if len(sinks) == 0 {
		return
	}
	if err := p.queue.Submit(delivery{key: key, value: value, sinks: sinks}); err != nil {
		p.logger.Warn("Value not sent to sinks", "key", key, "error", err)
	}
}

// Close waits for queued sink deliveries and stops the sink worker. Later
// publications still reach subscribers but no sink.
func (p *Publisher) Close() error {
	return p.queue.Stop(drainTimeout)
}

// deliver hands one publication to every sink, each under its own timeout.
func (p *Publisher) deliver(_ context.Context, d delivery) error {
	var errs []error
	for _, sink := range d.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
		errs = append(errs, sink.Publish(ctx, d.key, d.value))
		cancel()
	}
	return stderrors.Join(errs...)
}

// Subscribe calls fn with every value published under key.
func (p *Publisher) Subscribe(key string, fn func(value any)) (cancel func()) {
	p.mu.Lock()
	p.nextID++
	id := p.nextID
	p.subs[key] = append(p.subs[key], subscriber{id: id, fn: fn})
	p.mu.Unlock()

	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		subs := p.subs[key]
		for i, s := range subs {
			if s.id == id {
				p.subs[key] = append(subs[:i], subs[i+1:]...)
				return
			}
		}
	}
}

// Value returns the latest value published under key.
func (p *Publisher) Value(key string) (any, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	v, ok := p.values[key]
	return v, ok
}

// AddSink registers a sink for every later publication.
func (p *Publisher) AddSink(s Sink) {
	if s == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sinks = append(p.sinks, s)
}
