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

// EdgeStore is the store surface the edge metadata processor needs.
type EdgeStore interface {
	Get(ctx context.Context, tenant types.TenantID, id types.EdgeID) (*types.Edge, error)
	Save(ctx context.Context, e *types.Edge) error
	FindByName(ctx context.Context, tenant types.TenantID, name string) (types.EdgeID, error)
}

// EdgeProcessor applies edge metadata uplinks. Edges are registered by
// administrative action, so only updates are accepted; a metadata change is
// broadcast to every edge of the tenant. Edges are never deleted through
// sync, a DELETE is answered as unsupported.
type EdgeProcessor struct {
	deps  *Deps
	store EdgeStore
}

// NewEdgeProcessor creates the edge metadata processor.
func NewEdgeProcessor(deps *Deps, store EdgeStore) *EdgeProcessor {
	return &EdgeProcessor{deps: deps, store: store}
}

// EntityType implements Processor.
func (p *EdgeProcessor) EntityType() types.EntityType {
	return types.EntityTypeEdge
}

// Apply implements Processor.
func (p *EdgeProcessor) Apply(ctx context.Context, tenant types.TenantID,
	edge types.EdgeID, msg *wire.UplinkMsg) (Outcome, error) {

	start := time.Now()
	ctx = syncctx.With(ctx, edge)

	outcome, err := p.apply(ctx, tenant, edge, msg)
	if err == nil {
		p.deps.observe(types.EntityTypeEdge, outcome, start)
	}
	return outcome, err
}

func (p *EdgeProcessor) apply(ctx context.Context, tenant types.TenantID,
	edge types.EdgeID, msg *wire.UplinkMsg) (Outcome, error) {

	switch msg.MsgType {
	case wire.MsgTypeEntityCreated, wire.MsgTypeEntityUpdated:
		return p.update(ctx, tenant, edge, msg)
	default:
		return Outcome{Result: ResultUnsupported}, nil
	}
}

func (p *EdgeProcessor) update(ctx context.Context, tenant types.TenantID,
	edge types.EdgeID, msg *wire.UplinkMsg) (Outcome, error) {

	payload, err := wire.DecodeEdge(msg.Version, msg.Payload)
	if err != nil {
		return Outcome{}, err
	}

	target := payload.ID
	if target.IsNil() {
		target = types.EdgeID{UUID: msg.EntityID.UUID}
	}

	existing, err := p.store.Get(ctx, tenant, target)
	if err != nil {
		if errors.IsNotFound(err) {
			return Outcome{}, errors.WrapInvalid(errors.ErrEdgeNotFound,
				"EdgeProcessor", "update", "edge registration check")
		}
		return Outcome{}, err
	}

	if err := requireName("EdgeProcessor", payload.Name); err != nil {
		return Outcome{}, err
	}

	updated := *existing
	updated.Name = payload.Name
	if !payload.RootChainID.IsNil() {
		updated.RootChainID = payload.RootChainID
	}

	requestedName := updated.Name
	lookup := func(ctx context.Context, name string) (types.EntityID, error) {
		id, err := p.store.FindByName(ctx, tenant, name)
		if err != nil {
			return types.NilEntityID, err
		}
		return types.EntityID{UUID: id.UUID}, nil
	}
	finalName, renamed, err := p.deps.persistWithNameRetry(ctx, requestedName, updated.EntityID(), lookup,
		func(name string) error {
			updated.Name = name
			return p.store.Save(ctx, &updated)
		})
	if err != nil {
		return Outcome{}, err
	}

	p.deps.Notifier.Publish(ctx, notify.Event{
		TenantID:   tenant,
		EntityID:   updated.EntityID(),
		EntityType: types.EntityTypeEdge,
		Kind:       notify.KindUpdated,
		Payload:    msg.Payload,
	})

	if renamed {
		if err := p.deps.pushRename(ctx, tenant, edge, types.EntityTypeEdge,
			updated.EntityID(), requestedName); err != nil {
			return Outcome{}, err
		}
	}

	// Edge metadata is a tenant-wide broadcast entity: every other edge of
	// the tenant gets the change.
	if err := p.deps.Dispatcher.ToAll(ctx, tenant, types.EntityTypeEdge,
		updated.EntityID(), types.ActionUpdated, nil); err != nil {
		return Outcome{}, err
	}

	return Outcome{Result: ResultUpdated, Renamed: renamed, FinalName: finalName}, nil
}
