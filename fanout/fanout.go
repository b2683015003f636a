// Package fanout queues event log entries for the edges that must learn
// about an entity change. The dispatcher walks edges with a paged cursor so
// at most one page is resident at a time, appends sequentially, and skips
// the edge whose own uplink caused the change.
package fanout

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/c360/edgesync/eventlog"
	"github.com/c360/edgesync/metric"
	"github.com/c360/edgesync/syncctx"
	"github.com/c360/edgesync/types"
)

// Log receives the queued entries.
type Log interface {
	Append(ctx context.Context, entry eventlog.Entry) error
}

// RelatedEdges lists edges managing a given entity, one page at a time.
type RelatedEdges interface {
	EdgesFor(ctx context.Context, entity types.EntityID, link types.PageLink) (types.PageData[types.EdgeID], error)
}

// TenantEdges lists all edges of a tenant, one page at a time.
type TenantEdges interface {
	ListPage(ctx context.Context, tenant types.TenantID, link types.PageLink) (types.PageData[*types.Edge], error)
}

// Dispatcher appends event log entries for interested edges.
type Dispatcher struct {
	log      Log
	related  RelatedEdges
	tenant   TenantEdges
	pageSize int
	metrics  *metric.SyncMetrics
	logger   *slog.Logger
}

// New creates a dispatcher. A nil metrics handle disables counters.
func New(log Log, related RelatedEdges, tenant TenantEdges, pageSize int,
	metrics *metric.SyncMetrics, logger *slog.Logger) *Dispatcher {

	if pageSize <= 0 {
		pageSize = types.DefaultPageSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		log:      log,
		related:  related,
		tenant:   tenant,
		pageSize: pageSize,
		metrics:  metrics,
		logger:   logger,
	}
}

// ToRelated queues one entry per edge that manages the entity, except the
// origin edge of the in-flight apply. Delivery of already appended entries
// is not rolled back on a later page failure, so edges may see an entry
// more than once; entry application is idempotent by entity id.
func (d *Dispatcher) ToRelated(ctx context.Context, tenant types.TenantID,
	entityType types.EntityType, entityID types.EntityID,
	action types.EventAction, body json.RawMessage) error {

	link := types.NewPageLink(d.pageSize)
	for {
		page, err := d.related.EdgesFor(ctx, entityID, link)
		if err != nil {
			return err
		}
		for _, edge := range page.Data {
			if err := d.append(ctx, tenant, edge, entityType, entityID, action, body); err != nil {
				return err
			}
		}
		if !page.HasNext {
			return nil
		}
		link = link.Next()
	}
}

// ToAll queues one entry per edge of the tenant, except the origin edge.
// Used for tenant-wide broadcast entities such as edge metadata.
func (d *Dispatcher) ToAll(ctx context.Context, tenant types.TenantID,
	entityType types.EntityType, entityID types.EntityID,
	action types.EventAction, body json.RawMessage) error {

	link := types.NewPageLink(d.pageSize)
	for {
		page, err := d.tenant.ListPage(ctx, tenant, link)
		if err != nil {
			return err
		}
		for _, edge := range page.Data {
			if err := d.append(ctx, tenant, edge.ID, entityType, entityID, action, body); err != nil {
				return err
			}
		}
		if !page.HasNext {
			return nil
		}
		link = link.Next()
	}
}

// ToEdge queues one entry for a single edge regardless of origin. Used for
// rename push-back, where the origin edge is exactly the target.
func (d *Dispatcher) ToEdge(ctx context.Context, tenant types.TenantID, edge types.EdgeID,
	entityType types.EntityType, entityID types.EntityID,
	action types.EventAction, body json.RawMessage) error {

	return d.appendEntry(ctx, tenant, edge, entityType, entityID, action, body)
}

func (d *Dispatcher) append(ctx context.Context, tenant types.TenantID, edge types.EdgeID,
	entityType types.EntityType, entityID types.EntityID,
	action types.EventAction, body json.RawMessage) error {

	if syncctx.IsOrigin(ctx, edge) {
		d.logger.Debug("skipping origin edge", "edge_id", edge, "entity_id", entityID)
		return nil
	}
	return d.appendEntry(ctx, tenant, edge, entityType, entityID, action, body)
}

func (d *Dispatcher) appendEntry(ctx context.Context, tenant types.TenantID, edge types.EdgeID,
	entityType types.EntityType, entityID types.EntityID,
	action types.EventAction, body json.RawMessage) error {

	err := d.log.Append(ctx, eventlog.Entry{
		TenantID:   tenant,
		EdgeID:     edge,
		EntityType: entityType,
		Action:     action,
		EntityID:   entityID,
		Body:       body,
	})
	if err != nil {
		return err
	}
	if d.metrics != nil {
		d.metrics.FanoutEntries.WithLabelValues(string(entityType), string(action)).Inc()
	}
	return nil
}
