package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

// SyncMetrics contains the core synchronization metrics shared by uplink and
// downlink paths.
type SyncMetrics struct {
	UplinkApplied    *prometheus.CounterVec // entity_type, outcome
	UplinkRenames    *prometheus.CounterVec // entity_type
	FanoutEntries    *prometheus.CounterVec // entity_type, action
	DownlinkMessages *prometheus.CounterVec // entity_type, action
	DownlinkStale    *prometheus.CounterVec // entity_type
	EventLogDepth    *prometheus.GaugeVec   // edge
	ApplyDuration    *prometheus.HistogramVec
}

// NewSyncMetrics creates the core sync metrics.
func NewSyncMetrics() *SyncMetrics {
	return &SyncMetrics{
		UplinkApplied: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "edgesync",
				Subsystem: "uplink",
				Name:      "applied_total",
				Help:      "Uplink messages applied, by entity type and outcome (created, updated, deleted, noop, error)",
			},
			[]string{"entity_type", "outcome"},
		),
		UplinkRenames: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "edgesync",
				Subsystem: "uplink",
				Name:      "renames_total",
				Help:      "Name collisions resolved by suffixing during uplink apply",
			},
			[]string{"entity_type"},
		),
		FanoutEntries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "edgesync",
				Subsystem: "fanout",
				Name:      "entries_total",
				Help:      "Event log entries appended by the fan-out dispatcher",
			},
			[]string{"entity_type", "action"},
		),
		DownlinkMessages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "edgesync",
				Subsystem: "downlink",
				Name:      "messages_total",
				Help:      "Downlink wire messages produced from event log entries",
			},
			[]string{"entity_type", "action"},
		),
		DownlinkStale: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "edgesync",
				Subsystem: "downlink",
				Name:      "stale_total",
				Help:      "Event log entries dropped because the entity no longer exists or is gated",
			},
			[]string{"entity_type"},
		),
		EventLogDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "edgesync",
				Subsystem: "eventlog",
				Name:      "pending",
				Help:      "Pending event log entries awaiting downlink delivery",
			},
			[]string{"edge"},
		),
		ApplyDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "edgesync",
				Subsystem: "uplink",
				Name:      "apply_duration_seconds",
				Help:      "Time spent applying an uplink message",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
			},
			[]string{"entity_type"},
		),
	}
}

func (m *SyncMetrics) register(registry *prometheus.Registry) {
	registry.MustRegister(
		m.UplinkApplied,
		m.UplinkRenames,
		m.FanoutEntries,
		m.DownlinkMessages,
		m.DownlinkStale,
		m.EventLogDepth,
		m.ApplyDuration,
	)
}
