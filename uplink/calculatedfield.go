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

// CalculatedFieldStore is the store surface the calculated field processor
// needs. Save claims the field's name under scopeOwner and FindByName resolves
// within an owner; a nil owner means the tenant-wide scope in both.
type CalculatedFieldStore interface {
	Get(ctx context.Context, tenant types.TenantID, id types.EntityID) (*types.CalculatedField, error)
	Save(ctx context.Context, cf *types.CalculatedField, scopeOwner types.EntityID) error
	FindByName(ctx context.Context, tenant types.TenantID, owner types.EntityID, name string) (types.EntityID, error)
	Delete(ctx context.Context, tenant types.TenantID, id types.EntityID) error
	Count(ctx context.Context, tenant types.TenantID) (int, error)
}

// FieldScopeStrategy captures how one schema generation scopes calculated
// field names and merges the owner reference. Two generations coexist and
// both stay as explicit strategies selected by protocol version.
type FieldScopeStrategy interface {
	// Scope names the strategy for logs and tests.
	Scope() string
	// NamingOwner returns the owner id the name must be unique under; nil
	// means tenant-wide.
	NamingOwner(cf *types.CalculatedField) types.EntityID
	// ResolveOwner merges the owner reference of the incoming candidate with
	// the stored entity's reference. existing is nil on creation.
	ResolveOwner(existing, incoming *types.CalculatedField) types.EntityID
}

// TenantScopeStrategy is the earlier generation: names are unique
// tenant-wide and an update keeps the stored owner reference.
type TenantScopeStrategy struct{}

func (TenantScopeStrategy) Scope() string { return "tenant" }

func (TenantScopeStrategy) NamingOwner(*types.CalculatedField) types.EntityID {
	return types.NilEntityID
}

func (TenantScopeStrategy) ResolveOwner(existing, incoming *types.CalculatedField) types.EntityID {
	if existing != nil {
		return existing.OwnerID
	}
	return incoming.OwnerID
}

// OwnerScopeStrategy is the later generation: names are unique within the
// owning entity and the wire payload's owner reference wins.
type OwnerScopeStrategy struct{}

func (OwnerScopeStrategy) Scope() string { return "owner" }

func (OwnerScopeStrategy) NamingOwner(cf *types.CalculatedField) types.EntityID {
	return cf.OwnerID
}

func (OwnerScopeStrategy) ResolveOwner(existing, incoming *types.CalculatedField) types.EntityID {
	if !incoming.OwnerID.IsNil() {
		return incoming.OwnerID
	}
	if existing != nil {
		return existing.OwnerID
	}
	return types.NilEntityID
}

// CalculatedFieldProcessor applies calculated field uplinks. A DELETE from
// an edge removes the field entirely; fields do not exist independently of
// their definition.
type CalculatedFieldProcessor struct {
	deps       *Deps
	store      CalculatedFieldStore
	owners     RefChecker
	strategies map[wire.ProtoVersion]FieldScopeStrategy
	limit      int
}

// NewCalculatedFieldProcessor creates the processor with both scope
// strategies wired to their protocol generations.
func NewCalculatedFieldProcessor(deps *Deps, store CalculatedFieldStore,
	owners RefChecker, limit int) *CalculatedFieldProcessor {

	return &CalculatedFieldProcessor{
		deps:   deps,
		store:  store,
		owners: owners,
		strategies: map[wire.ProtoVersion]FieldScopeStrategy{
			wire.V1: TenantScopeStrategy{},
			wire.V2: OwnerScopeStrategy{},
		},
		limit: limit,
	}
}

// EntityType implements Processor.
func (p *CalculatedFieldProcessor) EntityType() types.EntityType {
	return types.EntityTypeCalculatedField
}

// Apply implements Processor.
func (p *CalculatedFieldProcessor) Apply(ctx context.Context, tenant types.TenantID,
	edge types.EdgeID, msg *wire.UplinkMsg) (Outcome, error) {

	start := time.Now()
	ctx = syncctx.With(ctx, edge)

	outcome, err := p.apply(ctx, tenant, edge, msg)
	if err == nil {
		p.deps.observe(types.EntityTypeCalculatedField, outcome, start)
	}
	return outcome, err
}

func (p *CalculatedFieldProcessor) apply(ctx context.Context, tenant types.TenantID,
	edge types.EdgeID, msg *wire.UplinkMsg) (Outcome, error) {

	switch msg.MsgType {
	case wire.MsgTypeEntityCreated, wire.MsgTypeEntityUpdated:
		return p.upsert(ctx, tenant, edge, msg)
	case wire.MsgTypeEntityDeleted:
		return p.remove(ctx, tenant, msg.EntityID)
	default:
		return Outcome{Result: ResultUnsupported}, nil
	}
}

func (p *CalculatedFieldProcessor) upsert(ctx context.Context, tenant types.TenantID,
	edge types.EdgeID, msg *wire.UplinkMsg) (Outcome, error) {

	strategy, ok := p.strategies[msg.Version]
	if !ok {
		return Outcome{}, errors.WrapInvalid(errors.ErrUnsupportedVersion,
			"CalculatedFieldProcessor", "upsert", "strategy selection")
	}

	candidate, err := wire.DecodeCalculatedField(msg.Version, msg.Payload)
	if err != nil {
		return Outcome{}, err
	}
	candidate.ID = msg.EntityID
	candidate.TenantID = tenant
	if err := requireName("CalculatedFieldProcessor", candidate.Name); err != nil {
		return Outcome{}, err
	}

	existing, err := p.store.Get(ctx, tenant, msg.EntityID)
	creating := false
	switch {
	case err == nil:
		candidate.CreatedAt = existing.CreatedAt
	case errors.IsNotFound(err):
		creating = true
		existing = nil
		candidate.CreatedAt = creationTime(msg.EntityID)
	default:
		return Outcome{}, err
	}

	candidate.OwnerID = strategy.ResolveOwner(existing, candidate)
	if !candidate.OwnerID.IsNil() {
		ok, err := p.owners.Exists(ctx, tenant, candidate.OwnerID)
		if err != nil {
			return Outcome{}, err
		}
		if !ok {
			return Outcome{}, errors.WrapInvalid(errors.ErrOwnerNotFound,
				"CalculatedFieldProcessor", "upsert", "owner reference check")
		}
	}

	if creating {
		if err := checkTenantLimit(ctx, p.store, tenant, p.limit); err != nil {
			if !errors.IsLimitReached(err) {
				return Outcome{}, err
			}
			p.deps.logger().Warn("tenant calculated field limit reached, uplink ignored",
				"tenant_id", tenant, "edge_id", edge, "entity_id", msg.EntityID,
				"scope", strategy.Scope(), "limit", p.limit)
			return Outcome{Result: ResultLimitReached}, nil
		}
	}

	// The save claim and the uniqueness pre-check must use the same scope,
	// otherwise a field created by the other generation can make the rename
	// retry chase a claim the lookup never sees.
	requestedName := candidate.Name
	scopeOwner := strategy.NamingOwner(candidate)
	lookup := func(ctx context.Context, name string) (types.EntityID, error) {
		return p.store.FindByName(ctx, tenant, scopeOwner, name)
	}
	finalName, renamed, err := p.deps.persistWithNameRetry(ctx, requestedName, candidate.ID, lookup,
		func(name string) error {
			candidate.Name = name
			return p.store.Save(ctx, candidate, scopeOwner)
		})
	if err != nil {
		return Outcome{}, err
	}

	kind := notify.KindUpdated
	if creating {
		kind = notify.KindCreated
		if err := p.deps.Relations.Link(ctx, edge, types.EntityTypeCalculatedField, candidate.ID); err != nil {
			return Outcome{}, err
		}
	}
	p.deps.Notifier.Publish(ctx, notify.Event{
		TenantID:   tenant,
		EntityID:   candidate.ID,
		OwnerID:    candidate.OwnerID,
		EntityType: types.EntityTypeCalculatedField,
		Kind:       kind,
		Payload:    msg.Payload,
	})

	if renamed {
		if err := p.deps.pushRename(ctx, tenant, edge, types.EntityTypeCalculatedField,
			candidate.ID, requestedName); err != nil {
			return Outcome{}, err
		}
	}

	if !creating {
		if err := p.deps.Dispatcher.ToRelated(ctx, tenant, types.EntityTypeCalculatedField,
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

func (p *CalculatedFieldProcessor) remove(ctx context.Context, tenant types.TenantID,
	id types.EntityID) (Outcome, error) {

	existing, err := p.store.Get(ctx, tenant, id)
	if err != nil {
		if errors.IsNotFound(err) {
			return Outcome{Result: ResultDeleted}, nil
		}
		return Outcome{}, err
	}

	if err := p.store.Delete(ctx, tenant, id); err != nil {
		return Outcome{}, err
	}

	// Other edges holding the field learn about the delete before the
	// relation set is torn down.
	if err := p.deps.Dispatcher.ToRelated(ctx, tenant, types.EntityTypeCalculatedField,
		id, types.ActionDeleted, nil); err != nil {
		return Outcome{}, err
	}

	p.deps.Notifier.Publish(ctx, notify.Event{
		TenantID:   tenant,
		EntityID:   id,
		OwnerID:    existing.OwnerID,
		EntityType: types.EntityTypeCalculatedField,
		Kind:       notify.KindDeleted,
	})

	if err := p.deps.Relations.UnlinkEntity(ctx, id); err != nil {
		return Outcome{}, err
	}
	return Outcome{Result: ResultDeleted}, nil
}
