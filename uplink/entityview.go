package uplink

import (
	"context"
	"time"

	"github.com/c360/edgesync/errors"
	"github.com/c360/edgesync/notify"
	"github.com/c360/edgesync/syncctx"
	"github.com/c360/edgesync/types"
	"github.com/c360/edgesync/wire"
)

// EntityViewStore is the store surface the entity view processor needs.
type EntityViewStore interface {
	Get(ctx context.Context, tenant types.TenantID, id types.EntityID) (*types.EntityView, error)
	Save(ctx context.Context, ev *types.EntityView) error
	FindByName(ctx context.Context, tenant types.TenantID, name string) (types.EntityID, error)
	Delete(ctx context.Context, tenant types.TenantID, id types.EntityID) error
	Count(ctx context.Context, tenant types.TenantID) (int, error)
}

// EntityViewProcessor applies entity view uplinks. Names resolve tenant-wide
// and the target reference must exist. A DELETE from an edge unassigns the
// view from that edge only; the view projects a target that lives on.
type EntityViewProcessor struct {
	deps    *Deps
	store   EntityViewStore
	targets RefChecker
	limit   int
}

// NewEntityViewProcessor creates the entity view processor.
func NewEntityViewProcessor(deps *Deps, store EntityViewStore, targets RefChecker, limit int) *EntityViewProcessor {
	return &EntityViewProcessor{deps: deps, store: store, targets: targets, limit: limit}
}

// EntityType implements Processor.
func (p *EntityViewProcessor) EntityType() types.EntityType {
	return types.EntityTypeEntityView
}

// Apply implements Processor.
func (p *EntityViewProcessor) Apply(ctx context.Context, tenant types.TenantID,
	edge types.EdgeID, msg *wire.UplinkMsg) (Outcome, error) {

	start := time.Now()
	ctx = syncctx.With(ctx, edge)

	outcome, err := p.apply(ctx, tenant, edge, msg)
	if err == nil {
		p.deps.observe(types.EntityTypeEntityView, outcome, start)
	}
	return outcome, err
}

func (p *EntityViewProcessor) apply(ctx context.Context, tenant types.TenantID,
	edge types.EdgeID, msg *wire.UplinkMsg) (Outcome, error) {

	switch msg.MsgType {
	case wire.MsgTypeEntityCreated, wire.MsgTypeEntityUpdated:
		return p.upsert(ctx, tenant, edge, msg)
	case wire.MsgTypeEntityDeleted:
		return p.unassign(ctx, tenant, edge, msg.EntityID)
	default:
		return Outcome{Result: ResultUnsupported}, nil
	}
}

func (p *EntityViewProcessor) upsert(ctx context.Context, tenant types.TenantID,
	edge types.EdgeID, msg *wire.UplinkMsg) (Outcome, error) {

	candidate, err := wire.DecodeEntityView(msg.Version, msg.Payload)
	if err != nil {
		return Outcome{}, err
	}
	candidate.ID = msg.EntityID
	candidate.TenantID = tenant
	if err := requireName("EntityViewProcessor", candidate.Name); err != nil {
		return Outcome{}, err
	}

	existing, err := p.store.Get(ctx, tenant, msg.EntityID)
	creating := false
	switch {
	case err == nil:
		candidate.CreatedAt = existing.CreatedAt
		candidate.CustomerID = existing.CustomerID
		// The target binding is immutable after creation.
		candidate.TargetID = existing.TargetID
	case errors.IsNotFound(err):
		creating = true
		candidate.CreatedAt = creationTime(msg.EntityID)
	default:
		return Outcome{}, err
	}

	if candidate.TargetID.IsNil() {
		return Outcome{}, errors.WrapInvalid(errors.ErrOwnerNotFound,
			"EntityViewProcessor", "upsert", "target reference missing")
	}
	ok, err := p.targets.Exists(ctx, tenant, candidate.TargetID)
	if err != nil {
		return Outcome{}, err
	}
	if !ok {
		return Outcome{}, errors.WrapInvalid(errors.ErrOwnerNotFound,
			"EntityViewProcessor", "upsert", "target reference check")
	}

	if creating {
		if err := checkTenantLimit(ctx, p.store, tenant, p.limit); err != nil {
			if !errors.IsLimitReached(err) {
				return Outcome{}, err
			}
			p.deps.logger().Warn("tenant entity view limit reached, uplink ignored",
				"tenant_id", tenant, "edge_id", edge, "entity_id", msg.EntityID, "limit", p.limit)
			return Outcome{Result: ResultLimitReached}, nil
		}
	}

	requestedName := candidate.Name
	lookup := func(ctx context.Context, name string) (types.EntityID, error) {
		return p.store.FindByName(ctx, tenant, name)
	}
	finalName, renamed, err := p.deps.persistWithNameRetry(ctx, requestedName, candidate.ID, lookup,
		func(name string) error {
			candidate.Name = name
			return p.store.Save(ctx, candidate)
		})
	if err != nil {
		return Outcome{}, err
	}

	kind := notify.KindUpdated
	if creating {
		kind = notify.KindCreated
		if err := p.deps.Relations.Link(ctx, edge, types.EntityTypeEntityView, candidate.ID); err != nil {
			return Outcome{}, err
		}
	}
	p.deps.Notifier.Publish(ctx, notify.Event{
		TenantID:   tenant,
		EntityID:   candidate.ID,
		OwnerID:    candidate.TargetID,
		EntityType: types.EntityTypeEntityView,
		Kind:       kind,
		Payload:    msg.Payload,
	})

	if renamed {
		if err := p.deps.pushRename(ctx, tenant, edge, types.EntityTypeEntityView,
			candidate.ID, requestedName); err != nil {
			return Outcome{}, err
		}
	}

	if !creating {
		if err := p.deps.Dispatcher.ToRelated(ctx, tenant, types.EntityTypeEntityView,
			candidate.ID, types.ActionUpdated, nil); err != nil {
			return Outcome{}, err
		}
	}

	result := ResultUpdated
	if creating {
		result = ResultCreated
	}
	return Outcome{Result: result, Renamed: renamed, FinalName: finalName}, nil
}

func (p *EntityViewProcessor) unassign(ctx context.Context, tenant types.TenantID,
	edge types.EdgeID, id types.EntityID) (Outcome, error) {

	if _, err := p.store.Get(ctx, tenant, id); err != nil {
		if errors.IsNotFound(err) {
			return Outcome{Result: ResultUnassigned}, nil
		}
		return Outcome{}, err
	}

	if err := p.deps.Relations.Unlink(ctx, edge, id); err != nil {
		return Outcome{}, err
	}
	return Outcome{Result: ResultUnassigned}, nil
}
