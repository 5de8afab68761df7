package session

import (
	"sync"
	"time"
)

// Watchdog runs a tick function periodically. Each tick returns the delay
// until the next one. Stop cancels the next scheduled tick; a tick already
// running completes but does not re-arm.
type Watchdog struct {
	tick func() time.Duration

	mu         sync.Mutex
	timer      *time.Timer
	generation uint64
	running    bool
	startedAt  time.Time
}

// NewWatchdog creates a stopped watchdog.
func NewWatchdog(tick func() time.Duration) *Watchdog {
	return &Watchdog{tick: tick}
}

// Start schedules the first tick after delay. It is a no-op while running.
func (w *Watchdog) Start(delay time.Duration) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return false
	}
	w.running = true
	w.generation++
	w.startedAt = time.Now()
	w.schedule(w.generation, delay)
	return true
}

// Stop cancels the next tick.
func (w *Watchdog) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.running = false
	w.generation++
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}

// Restart stops the watchdog and starts it again after delay.
func (w *Watchdog) Restart(delay time.Duration) {
	w.Stop()
	w.Start(delay)
}

// Running reports whether a tick is scheduled.
func (w *Watchdog) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// StartedAt returns when the watchdog was last started.
func (w *Watchdog) StartedAt() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.startedAt
}

// schedule must be called with w.mu held.
func (w *Watchdog) schedule(gen uint64, delay time.Duration) {
	w.timer = time.AfterFunc(delay, func() { w.fire(gen) })
}

func (w *Watchdog) fire(gen uint64) {
	w.mu.Lock()
	if !w.running || w.generation != gen {
		w.mu.Unlock()
		return
	}
	w.mu.Unlock()

	next := w.tick()

	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running || w.generation != gen || next <= 0 {
		if w.generation == gen {
			w.running = false
		}
		return
	}
	w.schedule(gen, next)
}
