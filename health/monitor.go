package health

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Monitor keeps the latest Status reported by each session
type Monitor struct {
	mu       sync.RWMutex
	statuses map[string]Status
	now      func() time.Time
}

// NewMonitor creates a new health monitor
func NewMonitor() *Monitor {
	return &Monitor{
		statuses: make(map[string]Status),
		now:      time.Now,
	}
}

// Update stores status under name. The status takes name as its component
// and gets a timestamp if it has none.
func (m *Monitor) Update(name string, status Status) {
	m.mu.Lock()
	defer m.mu.Unlock()

	status.Component = name
	if status.Timestamp.IsZero() {
		status.Timestamp = m.now()
	}
	m.statuses[name] = status
}

// Get returns the status stored under name
func (m *Monitor) Get(name string) (Status, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status, ok := m.statuses[name]
	return status, ok
}

// Remove forgets name, e.g. when its session closes
func (m *Monitor) Remove(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.statuses, name)
}

// Names returns the monitored names in order
func (m *Monitor) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.statuses))
	for name := range m.statuses {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

var states = [...]State{StateHealthy, StateDegraded, StateUnhealthy}

// AggregateHealth returns the worst state among the monitored sessions,
// with each session's status attached in name order. No sessions is healthy.
func (m *Monitor) AggregateHealth(systemName string) Status {
	m.mu.RLock()
	subs := make([]Status, 0, len(m.statuses))
	for _, status := range m.statuses {
		subs = append(subs, status)
	}
	m.mu.RUnlock()

	sort.Slice(subs, func(i, j int) bool { return subs[i].Component < subs[j].Component })

	worst := StateHealthy
	healthy := 0
	for _, sub := range subs {
		if r := sub.Status.rank(); r > worst.rank() {
			worst = states[r]
		}
		if sub.IsHealthy() {
			healthy++
		}
	}

	message := "No sessions"
	if len(subs) > 0 {
		message = fmt.Sprintf("%d of %d sessions healthy", healthy, len(subs))
	}

	status := Status{
		Component: systemName,
		Healthy:   worst == StateHealthy,
		Status:    worst,
		Message:   message,
		Timestamp: m.now(),
	}
	if len(subs) > 0 {
		status.SubStatuses = subs
	}
	return status
}
