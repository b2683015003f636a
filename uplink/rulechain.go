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

// RuleChainStore is the store surface the rule chain processor needs.
type RuleChainStore interface {
	Get(ctx context.Context, tenant types.TenantID, id types.EntityID) (*types.RuleChain, error)
	Save(ctx context.Context, rc *types.RuleChain) error
	FindByName(ctx context.Context, tenant types.TenantID, name string) (types.EntityID, error)
	Delete(ctx context.Context, tenant types.TenantID, id types.EntityID) error
	Count(ctx context.Context, tenant types.TenantID) (int, error)
	ListPage(ctx context.Context, tenant types.TenantID, link types.PageLink) (types.PageData[*types.RuleChain], error)
}

// RuleChainProcessor applies rule chain uplinks. Names resolve tenant-wide.
// A DELETE from an edge unassigns the chain from that edge; the chain itself
// survives, it exists independently of any one edge.
type RuleChainProcessor struct {
	deps  *Deps
	store RuleChainStore
	// limit caps the tenant's chain count; zero means unlimited.
	limit int
}

// NewRuleChainProcessor creates the rule chain processor.
func NewRuleChainProcessor(deps *Deps, store RuleChainStore, limit int) *RuleChainProcessor {
	return &RuleChainProcessor{deps: deps, store: store, limit: limit}
}

// EntityType implements Processor.
func (p *RuleChainProcessor) EntityType() types.EntityType {
	return types.EntityTypeRuleChain
}

// Apply implements Processor.
func (p *RuleChainProcessor) Apply(ctx context.Context, tenant types.TenantID,
	edge types.EdgeID, msg *wire.UplinkMsg) (Outcome, error) {

	start := time.Now()
	ctx = syncctx.With(ctx, edge)

	outcome, err := p.apply(ctx, tenant, edge, msg)
	if err == nil {
		p.deps.observe(types.EntityTypeRuleChain, outcome, start)
	}
	return outcome, err
}

func (p *RuleChainProcessor) apply(ctx context.Context, tenant types.TenantID,
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

func (p *RuleChainProcessor) upsert(ctx context.Context, tenant types.TenantID,
	edge types.EdgeID, msg *wire.UplinkMsg) (Outcome, error) {

	candidate, err := wire.DecodeRuleChain(msg.Version, msg.Payload)
	if err != nil {
		return Outcome{}, err
	}
	candidate.ID = msg.EntityID
	candidate.TenantID = tenant
	if err := requireName("RuleChainProcessor", candidate.Name); err != nil {
		return Outcome{}, err
	}

	existing, err := p.store.Get(ctx, tenant, msg.EntityID)
	creating := false
	switch {
	case err == nil:
		candidate.CreatedAt = existing.CreatedAt
		// An edge cannot flip root state; the reference lives on the edge.
		candidate.Root = existing.Root
	case errors.IsNotFound(err):
		creating = true
		candidate.CreatedAt = creationTime(msg.EntityID)
		candidate.Root = false
	default:
		return Outcome{}, err
	}

	if creating {
		if err := checkTenantLimit(ctx, p.store, tenant, p.limit); err != nil {
			if !errors.IsLimitReached(err) {
				return Outcome{}, err
			}
			p.deps.logger().Warn("tenant rule chain limit reached, uplink ignored",
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

	if creating {
		p.deps.Notifier.Publish(ctx, notify.Event{
			TenantID:   tenant,
			EntityID:   candidate.ID,
			EntityType: types.EntityTypeRuleChain,
			Kind:       notify.KindCreated,
			Payload:    msg.Payload,
		})
		if err := p.deps.Relations.Link(ctx, edge, types.EntityTypeRuleChain, candidate.ID); err != nil {
			return Outcome{}, err
		}
	} else {
		p.deps.Notifier.Publish(ctx, notify.Event{
			TenantID:   tenant,
			EntityID:   candidate.ID,
			EntityType: types.EntityTypeRuleChain,
			Kind:       notify.KindUpdated,
			Payload:    msg.Payload,
		})
	}

	if renamed {
		if err := p.deps.pushRename(ctx, tenant, edge, types.EntityTypeRuleChain,
			candidate.ID, requestedName); err != nil {
			return Outcome{}, err
		}
	}

	if !creating {
		if err := p.deps.Dispatcher.ToRelated(ctx, tenant, types.EntityTypeRuleChain,
			candidate.ID, types.ActionUpdated, nil); err != nil {
			return Outcome{}, err
		}
	}

	if err := p.refreshDependents(ctx, tenant, candidate.ID); err != nil {
		return Outcome{}, err
	}

	result := ResultUpdated
	if creating {
		result = ResultCreated
	}
	return Outcome{Result: result, Renamed: renamed, FinalName: finalName}, nil
}

// refreshDependents queues UPDATED entries for every chain that forwards
// into the changed chain, so edges holding a dependent chain reload it and
// see consistent cross-chain references.
func (p *RuleChainProcessor) refreshDependents(ctx context.Context, tenant types.TenantID,
	changed types.EntityID) error {

	link := types.NewPageLink(types.DefaultPageSize)
	for {
		page, err := p.store.ListPage(ctx, tenant, link)
		if err != nil {
			return err
		}
		for _, rc := range page.Data {
			if rc.ID == changed {
				continue
			}
			for _, conn := range rc.Connections {
				if conn == changed {
					if err := p.deps.Dispatcher.ToRelated(ctx, tenant, types.EntityTypeRuleChain,
						rc.ID, types.ActionUpdated, nil); err != nil {
						return err
					}
					break
				}
			}
		}
		if !page.HasNext {
			return nil
		}
		link = link.Next()
	}
}

// unassign detaches the chain from the edge that no longer wants it. Missing
// chains make the unassign a no-op so deletes stay idempotent.
func (p *RuleChainProcessor) unassign(ctx context.Context, tenant types.TenantID,
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

	// Chains forwarding into the unassigned one still reference it; edges
	// holding a dependent chain reload it just as they do on an update.
	if err := p.refreshDependents(ctx, tenant, id); err != nil {
		return Outcome{}, err
	}
	return Outcome{Result: ResultUnassigned}, nil
}
