package health

import (
	"sort"
	"sync"
	"time"
)

// Check produces a point-in-time status for one component. Checks run on
// every Overall call, so they must be cheap.
type Check func() Status

// Monitor holds the registered checks and the last pushed statuses.
type Monitor struct {
	mu       sync.RWMutex
	checks   map[string]Check
	statuses map[string]Status
}

// NewMonitor creates an empty monitor.
func NewMonitor() *Monitor {
	return &Monitor{
		checks:   make(map[string]Check),
		statuses: make(map[string]Status),
	}
}

// RegisterCheck adds a pull-style check evaluated on every Overall call.
func (m *Monitor) RegisterCheck(name string, check Check) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks[name] = check
}

// Update pushes a status for a named component.
func (m *Monitor) Update(name string, status Status) {
	m.mu.Lock()
	defer m.mu.Unlock()

	status.Component = name
	if status.Timestamp.IsZero() {
		status.Timestamp = time.Now()
	}
	m.statuses[name] = status
}

// Get retrieves the last pushed status for a component.
func (m *Monitor) Get(name string) (Status, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	status, exists := m.statuses[name]
	return status, exists
}

// Overall evaluates every check, merges in pushed statuses, and aggregates.
// Output order is deterministic by component name.
func (m *Monitor) Overall() Status {
	m.mu.RLock()
	subs := make(map[string]Status, len(m.checks)+len(m.statuses))
	for name, status := range m.statuses {
		subs[name] = status
	}
	checks := make(map[string]Check, len(m.checks))
	for name, check := range m.checks {
		checks[name] = check
	}
	m.mu.RUnlock()

	for name, check := range checks {
		status := check()
		status.Component = name
		subs[name] = status
	}

	names := make([]string, 0, len(subs))
	for name := range subs {
		names = append(names, name)
	}
	sort.Strings(names)

	ordered := make([]Status, 0, len(names))
	for _, name := range names {
		ordered = append(ordered, subs[name])
	}
	return Aggregate("edgesync", ordered)
}
