// Package health tracks the liveness of the sync engine's moving parts and
// serves the aggregate over HTTP. Each part (NATS connection, worker pool,
// drainer) reports its own status; the endpoint aggregates them.
package health

import (
	"encoding/json"
	"net/http"
	"time"
)

// Status states.
const (
	StateHealthy   = "healthy"
	StateDegraded  = "degraded"
	StateUnhealthy = "unhealthy"
)

// Status is the health state of one component or the whole service.
type Status struct {
	Component   string         `json:"component"`
	Healthy     bool           `json:"healthy"`
	Status      string         `json:"status"`
	Message     string         `json:"message"`
	Timestamp   time.Time      `json:"timestamp"`
	SubStatuses []Status       `json:"sub_statuses,omitempty"`
	Details     map[string]any `json:"details,omitempty"`
}

// IsHealthy reports whether the status is healthy.
func (s Status) IsHealthy() bool { return s.Status == StateHealthy }

// IsDegraded reports whether the status is degraded.
func (s Status) IsDegraded() bool { return s.Status == StateDegraded }

// IsUnhealthy reports whether the status is unhealthy.
func (s Status) IsUnhealthy() bool { return s.Status == StateUnhealthy }

// WithDetails returns a copy with diagnostic details attached.
func (s Status) WithDetails(details map[string]any) Status {
	s.Details = details
	return s
}

// Healthy creates a healthy status.
func Healthy(component, message string) Status {
	return newStatus(component, StateHealthy, message)
}

// Unhealthy creates an unhealthy status.
func Unhealthy(component, message string) Status {
	return newStatus(component, StateUnhealthy, message)
}

// Degraded creates a degraded status.
func Degraded(component, message string) Status {
	return newStatus(component, StateDegraded, message)
}

func newStatus(component, state, message string) Status {
	return Status{
		Component: component,
		Healthy:   state == StateHealthy,
		Status:    state,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// Aggregate folds sub-statuses into one: any unhealthy part makes the whole
// unhealthy, otherwise any degraded part makes it degraded.
func Aggregate(component string, subStatuses []Status) Status {
	hasUnhealthy := false
	hasDegraded := false
	for _, sub := range subStatuses {
		switch {
		case sub.IsUnhealthy():
			hasUnhealthy = true
		case sub.IsDegraded():
			hasDegraded = true
		}
	}

	var status Status
	switch {
	case hasUnhealthy:
		status = Unhealthy(component, "one or more components are unhealthy")
	case hasDegraded:
		status = Degraded(component, "one or more components are degraded")
	default:
		status = Healthy(component, "all components are healthy")
	}
	status.SubStatuses = append([]Status(nil), subStatuses...)
	return status
}

// Handler serves the monitor's aggregate as JSON. Unhealthy aggregates get
// 503 so orchestrator probes can act on the status code alone.
func Handler(m *Monitor) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		status := m.Overall()

		w.Header().Set("Content-Type", "application/json")
		if status.IsUnhealthy() {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(status)
	}
}
