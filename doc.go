// Package edgesync keeps entity definitions consistent between a central
// platform instance and a fleet of edge gateways connected over NATS.
//
// # Architecture
//
// Edges push their local changes upstream; the central instance applies
// them, resolves conflicts, and fans the accepted state back out to every
// other edge that references the same entity.
//
//	┌─────────────────────────────────────┐
//	│           Sync Engine               │  Uplink dispatch,
//	│   (workers, registry, drainer)      │  downlink drain loop
//	└─────────────────────────────────────┘
//	           ↓ orchestrates
//	┌──────────────────┬──────────────────┐
//	│     Uplink       │     Downlink     │  Processors apply
//	│   processors     │    converters    │  edge changes;
//	│ (apply + fanout) │ (rebuild + send) │  converters rebuild
//	└──────────────────┴──────────────────┘  fresh wire messages
//	           ↓ persist via
//	┌─────────────────────────────────────┐
//	│         NATS JetStream              │  KV entity stores,
//	│   (KV buckets, event log stream)    │  durable event log
//	└─────────────────────────────────────┘
//
// # Sync Model
//
// Uplink: each edge publishes entity messages on edge.uplink.>. The engine
// routes them to the processor registered for the entity type. Applying is
// idempotent; redelivered messages converge to the same state. Conflicting
// names are renamed with a random suffix and the originating edge is told
// the final name through the event log.
//
// Downlink: accepted changes are fanned out as compact event log entries,
// one per affected edge. The drainer pulls each edge's queue, asks the
// matching converter to rebuild a full message from current store state,
// and publishes it on edge.downlink.<edge>. Entries are acknowledged only
// after a successful publish, so delivery is at least once. Entries whose
// entity has since been deleted are dropped as stale.
//
// # Packages
//
// Sync core:
//   - uplink: per-entity-type processors applying edge changes
//   - downlink: converters and the per-edge drain loop
//   - fanout: event log dispatch to related edges
//   - registry: processor and converter lookup by entity type
//   - engine: worker pool, transport wiring, lifecycle
//
// State and wire:
//   - store: NATS KV entity stores plus in-memory test doubles
//   - eventlog: durable per-edge downlink queues on JetStream
//   - wire: uplink/downlink message codec and protocol versions
//   - types: entity ids, kinds, and actions
//   - syncctx: loop-guard markers carried on context
//
// Infrastructure:
//   - natsclient: NATS connection management
//   - config: configuration loading and validation
//   - metric: Prometheus metrics
//   - errors: classified error handling
//   - health: component health aggregation
//   - notify: rule engine lifecycle notifications
//   - naming: conflict suffix generation
//   - pkg/retry: retry policies
//   - pkg/worker: worker pools
//
// # Binary
//
// cmd/edgesync runs the engine:
//
//	# Run with defaults against a local NATS server
//	./bin/edgesync
//
//	# Run with a config file
//	./bin/edgesync --config configs/edgesync.yaml
package edgesync
