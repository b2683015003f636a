// Package notify publishes entity lifecycle notifications to the rule
// engine's message bus. Publishing is fire-and-forget from the sync engine's
// point of view: failures are logged, never propagated, so a slow or absent
// rule engine cannot fail an uplink apply.
package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/c360/edgesync/types"
)

// Subject is the rule engine lifecycle subject.
const Subject = "events.entity.lifecycle"

// Lifecycle event kinds.
const (
	KindCreated = "ENTITY_CREATED"
	KindUpdated = "ENTITY_UPDATED"
	KindDeleted = "ENTITY_DELETED"
)

// Event is one lifecycle notification.
type Event struct {
	TenantID   types.TenantID    `json:"tenant_id"`
	EntityID   types.EntityID    `json:"entity_id"`
	OwnerID    types.EntityID    `json:"owner_id,omitempty"`
	EntityType types.EntityType  `json:"entity_type"`
	Kind       string            `json:"kind"`
	Payload    json.RawMessage   `json:"payload,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// Publisher is the transport the notifier publishes through.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// Notifier publishes lifecycle events to the rule engine bus.
type Notifier struct {
	pub    Publisher
	logger *slog.Logger
}

// New creates a notifier over the given publisher.
func New(pub Publisher, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{pub: pub, logger: logger}
}

// Publish sends one lifecycle event. Errors are logged and swallowed.
func (n *Notifier) Publish(ctx context.Context, ev Event) {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}

	data, err := json.Marshal(ev)
	if err != nil {
		n.logger.Error("marshal lifecycle event",
			"entity_id", ev.EntityID,
			"kind", ev.Kind,
			"error", err)
		return
	}

	if err := n.pub.Publish(ctx, Subject, data); err != nil {
		n.logger.Warn("publish lifecycle event failed",
			"entity_id", ev.EntityID,
			"entity_type", ev.EntityType,
			"kind", ev.Kind,
			"error", err)
	}
}
