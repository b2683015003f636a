// Package eventlog is the durable queue between entity changes and edge
// delivery. Every change that must reach an edge is appended as an entry;
// the downlink drainer fetches entries per edge and acknowledges them only
// after the converted message is published, giving at-least-once delivery.
package eventlog

import (
	"encoding/json"
	"time"

	"github.com/c360/edgesync/types"
)

// Entry is one queued change for one edge.
type Entry struct {
	TenantID   types.TenantID    `json:"tenant_id"`
	EdgeID     types.EdgeID      `json:"edge_id"`
	EntityType types.EntityType  `json:"entity_type"`
	Action     types.EventAction `json:"action"`
	EntityID   types.EntityID    `json:"entity_id"`
	// Body carries optional action context, such as the conflicting name of
	// a rename or a root chain flag. Nil for most entries.
	Body      json.RawMessage `json:"body,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Pending is a fetched entry awaiting acknowledgement. Ack removes the entry
// from the log; Nak makes it eligible for redelivery.
type Pending struct {
	Entry
	Ack func() error
	Nak func() error
}
