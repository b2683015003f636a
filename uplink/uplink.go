// Package uplink applies inbound edge messages to the central stores. One
// processor per entity kind shares the same skeleton: mark the origin edge
// on the context, decode the versioned payload, resolve name collisions,
// persist, then run side effects (lifecycle notification, relation
// registration, rename push-back, fan-out to other interested edges).
package uplink

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/c360/edgesync/errors"
	"github.com/c360/edgesync/fanout"
	"github.com/c360/edgesync/metric"
	"github.com/c360/edgesync/naming"
	"github.com/c360/edgesync/notify"
	"github.com/c360/edgesync/pkg/retry"
	"github.com/c360/edgesync/types"
	"github.com/c360/edgesync/wire"
)

// Result classifies how an apply concluded.
type Result string

// Apply results.
const (
	ResultCreated      Result = "created"
	ResultUpdated      Result = "updated"
	ResultDeleted      Result = "deleted"
	ResultUnassigned   Result = "unassigned"
	ResultUnsupported  Result = "unsupported"
	ResultLimitReached Result = "limit_reached"
)

// Outcome reports what an apply did. A limit-reached apply is a successful
// Outcome with no store effect.
type Outcome struct {
	Result    Result
	Renamed   bool
	FinalName string
}

// Processor applies uplink messages for one entity kind.
type Processor interface {
	EntityType() types.EntityType
	Apply(ctx context.Context, tenant types.TenantID, edge types.EdgeID, msg *wire.UplinkMsg) (Outcome, error)
}

// Relations is the relation store surface processors need.
type Relations interface {
	Link(ctx context.Context, edge types.EdgeID, entityType types.EntityType, entity types.EntityID) error
	Unlink(ctx context.Context, edge types.EdgeID, entity types.EntityID) error
	UnlinkEntity(ctx context.Context, entity types.EntityID) error
}

// RefChecker reports whether a referenced entity exists. Used to validate
// owning-entity and target references before persisting.
type RefChecker interface {
	Exists(ctx context.Context, tenant types.TenantID, id types.EntityID) (bool, error)
}

// requireName rejects entities arriving without a display name. The name is
// the uniqueness key, so an empty one can never be claimed.
func requireName(component, name string) error {
	if name == "" {
		return errors.WrapInvalid(errors.ErrInvalidEntity, component, "upsert", "entity name is empty")
	}
	return nil
}

// counter is the slice of a store the tenant limit check needs.
type counter interface {
	Count(ctx context.Context, tenant types.TenantID) (int, error)
}

// checkTenantLimit returns ErrEntityLimitReached once the tenant holds limit
// or more entities of the processor's kind. A non-positive limit disables
// the check. Callers detect the sentinel with errors.IsLimitReached and
// swallow it; the edge keeps its local copy and must not redeliver forever.
func checkTenantLimit(ctx context.Context, store counter, tenant types.TenantID, limit int) error {
	if limit <= 0 {
		return nil
	}
	count, err := store.Count(ctx, tenant)
	if err != nil {
		return err
	}
	if count >= limit {
		return errors.ErrEntityLimitReached
	}
	return nil
}

// Deps are the collaborators shared by every processor.
type Deps struct {
	Resolver   *naming.Resolver
	Dispatcher *fanout.Dispatcher
	Notifier   *notify.Notifier
	Relations  Relations
	Metrics    *metric.SyncMetrics
	Logger     *slog.Logger
}

func (d *Deps) logger() *slog.Logger {
	if d.Logger == nil {
		return slog.Default()
	}
	return d.Logger
}

func (d *Deps) observe(entityType types.EntityType, outcome Outcome, start time.Time) {
	if d.Metrics == nil {
		return
	}
	d.Metrics.UplinkApplied.WithLabelValues(string(entityType), string(outcome.Result)).Inc()
	if outcome.Renamed {
		d.Metrics.UplinkRenames.WithLabelValues(string(entityType)).Inc()
	}
	d.Metrics.ApplyDuration.WithLabelValues(string(entityType)).Observe(time.Since(start).Seconds())
}

// persistWithNameRetry resolves the candidate name and runs save, retrying
// exactly once when the store surfaces a late name conflict. The second
// attempt re-resolves against current state, so it sees the holder the first
// check missed. A conflict on the retry surfaces as the final error.
func (d *Deps) persistWithNameRetry(ctx context.Context, candidate string, id types.EntityID,
	lookup naming.Lookup, save func(finalName string) error) (string, bool, error) {

	var finalName string
	var renamed bool

	err := retry.Do(ctx, retry.NameResolution(), func() error {
		name, r, err := d.Resolver.Resolve(ctx, candidate, id, lookup)
		if err != nil {
			return retry.NonRetryable(err)
		}
		finalName = name
		renamed = renamed || r

		if err := save(name); err != nil {
			if errors.IsNameConflict(err) {
				return err
			}
			return retry.NonRetryable(err)
		}
		return nil
	})
	return finalName, renamed, err
}

// conflictBody carries the colliding name back to the origin edge so it can
// display why the server renamed its entity.
func conflictBody(name string) json.RawMessage {
	body, _ := json.Marshal(map[string]string{"conflictName": name})
	return body
}

// creationTime derives the creation timestamp from the time component of a
// v7 id, preserving cross-system creation ordering. Non-v7 ids fall back to
// the apply's wall clock.
func creationTime(id types.EntityID) time.Time {
	if t := id.CreatedTime(); !t.IsZero() {
		return t
	}
	return time.Now().UTC()
}

// pushRename queues exactly one UPDATED entry for the origin edge.
func (d *Deps) pushRename(ctx context.Context, tenant types.TenantID, edge types.EdgeID,
	entityType types.EntityType, id types.EntityID, conflictName string) error {
	return d.Dispatcher.ToEdge(ctx, tenant, edge, entityType, id, types.ActionUpdated, conflictBody(conflictName))
}
