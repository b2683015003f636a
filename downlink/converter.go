// Package downlink turns event log entries back into wire messages for edge
// delivery. One converter per entity kind reloads current state at conversion
// time, so an entry queued before a later change or delete never ships stale
// data: a missing entity converts to nil and the entry is dropped.
package downlink

import (
	"context"
	"encoding/json"

	"github.com/c360/edgesync/errors"
	"github.com/c360/edgesync/eventlog"
	"github.com/c360/edgesync/types"
	"github.com/c360/edgesync/wire"
)

// Converter produces the downlink message for one entry. A nil message with a
// nil error means the entry is stale and must be acknowledged without
// delivery.
type Converter interface {
	EntityType() types.EntityType
	Convert(ctx context.Context, entry eventlog.Entry, version wire.ProtoVersion) (*wire.DownlinkMsg, error)
}

// RuleChainReader is the store surface the rule chain converter needs.
type RuleChainReader interface {
	Get(ctx context.Context, tenant types.TenantID, id types.EntityID) (*types.RuleChain, error)
}

// CalculatedFieldReader is the store surface the calculated field converter needs.
type CalculatedFieldReader interface {
	Get(ctx context.Context, tenant types.TenantID, id types.EntityID) (*types.CalculatedField, error)
}

// EntityViewReader is the store surface the entity view converter needs.
type EntityViewReader interface {
	Get(ctx context.Context, tenant types.TenantID, id types.EntityID) (*types.EntityView, error)
}

// EdgeReader resolves edge metadata, used both for the edge converter and for
// the root-chain comparison of the rule chain converter.
type EdgeReader interface {
	Get(ctx context.Context, tenant types.TenantID, id types.EdgeID) (*types.Edge, error)
}

// RelationChecker gates entity view delivery on current reachability.
type RelationChecker interface {
	Exists(ctx context.Context, edge types.EdgeID, entity types.EntityID) (bool, error)
}

func msgTypeFor(action types.EventAction) wire.MsgType {
	if action == types.ActionAdded || action == types.ActionAssignedToEdge {
		return wire.MsgTypeEntityCreated
	}
	return wire.MsgTypeEntityUpdated
}

// mergeBody folds entry body keys into the encoded payload so context such as
// a rename's conflictName reaches the edge alongside the entity itself.
// Payload keys win on collision.
func mergeBody(payload, body json.RawMessage) json.RawMessage {
	if len(body) == 0 {
		return payload
	}
	var merged map[string]json.RawMessage
	if err := json.Unmarshal(body, &merged); err != nil {
		return payload
	}
	var entity map[string]json.RawMessage
	if err := json.Unmarshal(payload, &entity); err != nil {
		return payload
	}
	for k, v := range entity {
		merged[k] = v
	}
	out, err := json.Marshal(merged)
	if err != nil {
		return payload
	}
	return out
}

// RuleChainConverter converts rule chain entries. The root flag is computed
// at conversion time: an explicit flag in the entry body wins, otherwise the
// chain is root when the receiving edge's root chain reference names it.
type RuleChainConverter struct {
	chains RuleChainReader
	edges  EdgeReader
}

// NewRuleChainConverter creates the rule chain converter.
func NewRuleChainConverter(chains RuleChainReader, edges EdgeReader) *RuleChainConverter {
	return &RuleChainConverter{chains: chains, edges: edges}
}

// EntityType implements Converter.
func (c *RuleChainConverter) EntityType() types.EntityType {
	return types.EntityTypeRuleChain
}

// Convert implements Converter.
func (c *RuleChainConverter) Convert(ctx context.Context, entry eventlog.Entry,
	version wire.ProtoVersion) (*wire.DownlinkMsg, error) {

	if entry.Action.IsDelete() {
		return wire.NewDeleteDownlink(types.EntityTypeRuleChain, entry.EntityID, version), nil
	}

	rc, err := c.chains.Get(ctx, entry.TenantID, entry.EntityID)
	if err != nil {
		if errors.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}

	out := *rc
	root, err := c.rootFlag(ctx, entry)
	if err != nil {
		return nil, err
	}
	out.Root = root

	payload, err := wire.EncodeRuleChain(version, &out)
	if err != nil {
		return nil, err
	}
	return wire.NewDownlink(msgTypeFor(entry.Action), types.EntityTypeRuleChain,
		entry.EntityID, version, mergeBody(payload, entry.Body)), nil
}

func (c *RuleChainConverter) rootFlag(ctx context.Context, entry eventlog.Entry) (bool, error) {
	if len(entry.Body) > 0 {
		var body struct {
			Root *bool `json:"root"`
		}
		if err := json.Unmarshal(entry.Body, &body); err == nil && body.Root != nil {
			return *body.Root, nil
		}
	}

	edge, err := c.edges.Get(ctx, entry.TenantID, entry.EdgeID)
	if err != nil {
		if errors.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return edge.RootChainID == entry.EntityID, nil
}

// CalculatedFieldConverter converts calculated field entries. The owner
// reference only exists on the later wire shape; encoding through the version
// table drops it for legacy edges.
type CalculatedFieldConverter struct {
	fields CalculatedFieldReader
}

// NewCalculatedFieldConverter creates the calculated field converter.
func NewCalculatedFieldConverter(fields CalculatedFieldReader) *CalculatedFieldConverter {
	return &CalculatedFieldConverter{fields: fields}
}

// EntityType implements Converter.
func (c *CalculatedFieldConverter) EntityType() types.EntityType {
	return types.EntityTypeCalculatedField
}

// Convert implements Converter.
func (c *CalculatedFieldConverter) Convert(ctx context.Context, entry eventlog.Entry,
	version wire.ProtoVersion) (*wire.DownlinkMsg, error) {

	if entry.Action.IsDelete() {
		return wire.NewDeleteDownlink(types.EntityTypeCalculatedField, entry.EntityID, version), nil
	}

	cf, err := c.fields.Get(ctx, entry.TenantID, entry.EntityID)
	if err != nil {
		if errors.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}

	payload, err := wire.EncodeCalculatedField(version, cf)
	if err != nil {
		return nil, err
	}
	return wire.NewDownlink(msgTypeFor(entry.Action), types.EntityTypeCalculatedField,
		entry.EntityID, version, mergeBody(payload, entry.Body)), nil
}

// EntityViewConverter converts entity view entries. Delivery is access-gated:
// the view must currently be reachable from the receiving edge, through the
// managed-by relation or through a shared customer. A view that lost its
// reachability between queue and drain converts to nil.
type EntityViewConverter struct {
	views     EntityViewReader
	edges     EdgeReader
	relations RelationChecker
}

// NewEntityViewConverter creates the entity view converter.
func NewEntityViewConverter(views EntityViewReader, edges EdgeReader,
	relations RelationChecker) *EntityViewConverter {
	return &EntityViewConverter{views: views, edges: edges, relations: relations}
}

// EntityType implements Converter.
func (c *EntityViewConverter) EntityType() types.EntityType {
	return types.EntityTypeEntityView
}

// Convert implements Converter.
func (c *EntityViewConverter) Convert(ctx context.Context, entry eventlog.Entry,
	version wire.ProtoVersion) (*wire.DownlinkMsg, error) {

	if entry.Action.IsDelete() {
		return wire.NewDeleteDownlink(types.EntityTypeEntityView, entry.EntityID, version), nil
	}

	ev, err := c.views.Get(ctx, entry.TenantID, entry.EntityID)
	if err != nil {
		if errors.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}

	ok, err := c.accessible(ctx, entry, ev)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	payload, err := wire.EncodeEntityView(version, ev)
	if err != nil {
		return nil, err
	}
	return wire.NewDownlink(msgTypeFor(entry.Action), types.EntityTypeEntityView,
		entry.EntityID, version, mergeBody(payload, entry.Body)), nil
}

func (c *EntityViewConverter) accessible(ctx context.Context, entry eventlog.Entry,
	ev *types.EntityView) (bool, error) {

	linked, err := c.relations.Exists(ctx, entry.EdgeID, entry.EntityID)
	if err != nil {
		return false, err
	}
	if linked {
		return true, nil
	}

	if ev.CustomerID.IsNil() {
		return false, nil
	}
	edge, err := c.edges.Get(ctx, entry.TenantID, entry.EdgeID)
	if err != nil {
		if errors.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return edge.CustomerID == ev.CustomerID, nil
}

// EdgeConverter converts edge metadata entries, produced by tenant-wide
// broadcast when any edge of the tenant changes.
type EdgeConverter struct {
	edges EdgeReader
}

// NewEdgeConverter creates the edge metadata converter.
func NewEdgeConverter(edges EdgeReader) *EdgeConverter {
	return &EdgeConverter{edges: edges}
}

// EntityType implements Converter.
func (c *EdgeConverter) EntityType() types.EntityType {
	return types.EntityTypeEdge
}

// Convert implements Converter.
func (c *EdgeConverter) Convert(ctx context.Context, entry eventlog.Entry,
	version wire.ProtoVersion) (*wire.DownlinkMsg, error) {

	if entry.Action.IsDelete() {
		return wire.NewDeleteDownlink(types.EntityTypeEdge, entry.EntityID, version), nil
	}

	e, err := c.edges.Get(ctx, entry.TenantID, types.EdgeID{UUID: entry.EntityID.UUID})
	if err != nil {
		if errors.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}

	payload, err := wire.EncodeEdge(version, e)
	if err != nil {
		return nil, err
	}
	return wire.NewDownlink(msgTypeFor(entry.Action), types.EntityTypeEdge,
		entry.EntityID, version, mergeBody(payload, entry.Body)), nil
}
