package downlink

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/edgesync/eventlog"
	"github.com/c360/edgesync/store"
	"github.com/c360/edgesync/types"
	"github.com/c360/edgesync/wire"
)

func entryFor(tenant types.TenantID, edge types.EdgeID, entityType types.EntityType,
	id types.EntityID, action types.EventAction) eventlog.Entry {
	return eventlog.Entry{
		TenantID:   tenant,
		EdgeID:     edge,
		EntityType: entityType,
		Action:     action,
		EntityID:   id,
	}
}

func TestRuleChainConverter_StaleEntryDropped(t *testing.T) {
	chains := store.NewMemoryRuleChains()
	edges := store.NewMemoryEdges()
	c := NewRuleChainConverter(chains, edges)

	entry := entryFor(types.NewTenantID(), types.NewEdgeID(),
		types.EntityTypeRuleChain, types.NewEntityID(), types.ActionUpdated)
	msg, err := c.Convert(context.Background(), entry, wire.Latest)
	require.NoError(t, err)
	assert.Nil(t, msg)
}

func TestRuleChainConverter_DeleteShapedFromIDAlone(t *testing.T) {
	c := NewRuleChainConverter(store.NewMemoryRuleChains(), store.NewMemoryEdges())

	id := types.NewEntityID()
	actions := []types.EventAction{
		types.ActionDeleted,
		types.ActionUnassignedFromEdge,
		types.ActionUnassignedFromCustomer,
	}
	for _, action := range actions {
		entry := entryFor(types.NewTenantID(), types.NewEdgeID(),
			types.EntityTypeRuleChain, id, action)
		msg, err := c.Convert(context.Background(), entry, wire.Latest)
		require.NoError(t, err)
		require.NotNil(t, msg)
		assert.Equal(t, wire.MsgTypeEntityDeleted, msg.MsgType)
		assert.Equal(t, id, msg.EntityID)
		assert.Empty(t, msg.Payload)
		assert.Positive(t, msg.MsgID)
	}
}

func TestEntityViewConverter_CustomerUnassignmentDeletesWithoutReload(t *testing.T) {
	// No view is stored: the unassignment must still reach the edge as a
	// delete built from the id alone, never vanish as a stale drop.
	c := NewEntityViewConverter(store.NewMemoryEntityViews(),
		store.NewMemoryEdges(), store.NewMemoryRelations())

	id := types.NewEntityID()
	entry := entryFor(types.NewTenantID(), types.NewEdgeID(),
		types.EntityTypeEntityView, id, types.ActionUnassignedFromCustomer)
	msg, err := c.Convert(context.Background(), entry, wire.Latest)
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, wire.MsgTypeEntityDeleted, msg.MsgType)
	assert.Equal(t, id, msg.EntityID)
}

func TestRuleChainConverter_RootFlagFromBody(t *testing.T) {
	ctx := context.Background()
	tenant := types.NewTenantID()
	chains := store.NewMemoryRuleChains()
	edges := store.NewMemoryEdges()
	c := NewRuleChainConverter(chains, edges)

	id := types.NewEntityID()
	require.NoError(t, chains.Save(ctx, &types.RuleChain{
		ID: id, TenantID: tenant, Name: "flagged",
	}))

	entry := entryFor(tenant, types.NewEdgeID(), types.EntityTypeRuleChain, id, types.ActionUpdated)
	entry.Body = json.RawMessage(`{"root":true}`)

	msg, err := c.Convert(ctx, entry, wire.Latest)
	require.NoError(t, err)
	require.NotNil(t, msg)

	rc, err := wire.DecodeRuleChain(wire.Latest, msg.Payload)
	require.NoError(t, err)
	assert.True(t, rc.Root)
}

func TestRuleChainConverter_RootFlagFallsBackToEdgeReference(t *testing.T) {
	ctx := context.Background()
	tenant := types.NewTenantID()
	chains := store.NewMemoryRuleChains()
	edges := store.NewMemoryEdges()
	c := NewRuleChainConverter(chains, edges)

	rootID := types.NewEntityID()
	plainID := types.NewEntityID()
	require.NoError(t, chains.Save(ctx, &types.RuleChain{ID: rootID, TenantID: tenant, Name: "root"}))
	require.NoError(t, chains.Save(ctx, &types.RuleChain{ID: plainID, TenantID: tenant, Name: "plain"}))

	edge := types.NewEdgeID()
	require.NoError(t, edges.Save(ctx, &types.Edge{
		ID: edge, TenantID: tenant, Name: "gateway", RootChainID: rootID,
	}))

	msg, err := c.Convert(ctx, entryFor(tenant, edge, types.EntityTypeRuleChain, rootID, types.ActionUpdated), wire.Latest)
	require.NoError(t, err)
	rc, err := wire.DecodeRuleChain(wire.Latest, msg.Payload)
	require.NoError(t, err)
	assert.True(t, rc.Root)

	msg, err = c.Convert(ctx, entryFor(tenant, edge, types.EntityTypeRuleChain, plainID, types.ActionUpdated), wire.Latest)
	require.NoError(t, err)
	rc, err = wire.DecodeRuleChain(wire.Latest, msg.Payload)
	require.NoError(t, err)
	assert.False(t, rc.Root)
}

func TestRuleChainConverter_ConflictNameReachesPayload(t *testing.T) {
	ctx := context.Background()
	tenant := types.NewTenantID()
	chains := store.NewMemoryRuleChains()
	c := NewRuleChainConverter(chains, store.NewMemoryEdges())

	id := types.NewEntityID()
	require.NoError(t, chains.Save(ctx, &types.RuleChain{
		ID: id, TenantID: tenant, Name: "flow_x7Kp2mQ9rT4wZn8",
	}))

	entry := entryFor(tenant, types.NewEdgeID(), types.EntityTypeRuleChain, id, types.ActionUpdated)
	entry.Body = json.RawMessage(`{"conflictName":"flow"}`)

	msg, err := c.Convert(ctx, entry, wire.Latest)
	require.NoError(t, err)
	require.NotNil(t, msg)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(msg.Payload, &payload))
	assert.Equal(t, "flow", payload["conflictName"])
	assert.Equal(t, "flow_x7Kp2mQ9rT4wZn8", payload["name"])
}

func TestCalculatedFieldConverter_LegacyShapeDropsOwner(t *testing.T) {
	ctx := context.Background()
	tenant := types.NewTenantID()
	fields := store.NewMemoryCalculatedFields()
	c := NewCalculatedFieldConverter(fields)

	id := types.NewEntityID()
	owner := types.NewEntityID()
	require.NoError(t, fields.Save(ctx, &types.CalculatedField{
		ID: id, TenantID: tenant, OwnerID: owner, Name: "delta", Expression: "a - b",
	}, owner))

	entry := entryFor(tenant, types.NewEdgeID(), types.EntityTypeCalculatedField, id, types.ActionAdded)

	msg, err := c.Convert(ctx, entry, wire.V1)
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, wire.MsgTypeEntityCreated, msg.MsgType)
	assert.NotContains(t, string(msg.Payload), "owner_id")

	msg, err = c.Convert(ctx, entry, wire.V2)
	require.NoError(t, err)
	cf, err := wire.DecodeCalculatedField(wire.V2, msg.Payload)
	require.NoError(t, err)
	assert.Equal(t, owner, cf.OwnerID)
}

func TestEntityViewConverter_AccessGate(t *testing.T) {
	ctx := context.Background()
	tenant := types.NewTenantID()
	views := store.NewMemoryEntityViews()
	edges := store.NewMemoryEdges()
	relations := store.NewMemoryRelations()
	c := NewEntityViewConverter(views, edges, relations)

	customer := types.NewEntityID()
	id := types.NewEntityID()
	require.NoError(t, views.Save(ctx, &types.EntityView{
		ID: id, TenantID: tenant, Name: "gated", TargetID: types.NewEntityID(), CustomerID: customer,
	}))

	linked := types.NewEdgeID()
	require.NoError(t, edges.Save(ctx, &types.Edge{ID: linked, TenantID: tenant, Name: "linked"}))
	require.NoError(t, relations.Link(ctx, linked, types.EntityTypeEntityView, id))

	sameCustomer := types.NewEdgeID()
	require.NoError(t, edges.Save(ctx, &types.Edge{
		ID: sameCustomer, TenantID: tenant, Name: "same-customer", CustomerID: customer,
	}))

	stranger := types.NewEdgeID()
	require.NoError(t, edges.Save(ctx, &types.Edge{ID: stranger, TenantID: tenant, Name: "stranger"}))

	msg, err := c.Convert(ctx, entryFor(tenant, linked, types.EntityTypeEntityView, id, types.ActionUpdated), wire.Latest)
	require.NoError(t, err)
	assert.NotNil(t, msg, "relation-linked edge must receive the view")

	msg, err = c.Convert(ctx, entryFor(tenant, sameCustomer, types.EntityTypeEntityView, id, types.ActionUpdated), wire.Latest)
	require.NoError(t, err)
	assert.NotNil(t, msg, "customer-matching edge must receive the view")

	msg, err = c.Convert(ctx, entryFor(tenant, stranger, types.EntityTypeEntityView, id, types.ActionUpdated), wire.Latest)
	require.NoError(t, err)
	assert.Nil(t, msg, "unreachable view must be dropped")
}

func TestEntityViewConverter_LegacyTargetShape(t *testing.T) {
	ctx := context.Background()
	tenant := types.NewTenantID()
	views := store.NewMemoryEntityViews()
	relations := store.NewMemoryRelations()
	c := NewEntityViewConverter(views, store.NewMemoryEdges(), relations)

	target := types.NewEntityID()
	id := types.NewEntityID()
	require.NoError(t, views.Save(ctx, &types.EntityView{
		ID: id, TenantID: tenant, Name: "legacy", TargetID: target,
	}))
	edge := types.NewEdgeID()
	require.NoError(t, relations.Link(ctx, edge, types.EntityTypeEntityView, id))

	msg, err := c.Convert(ctx, entryFor(tenant, edge, types.EntityTypeEntityView, id, types.ActionAdded), wire.V1)
	require.NoError(t, err)
	require.NotNil(t, msg)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(msg.Payload, &payload))
	assert.Equal(t, target.String(), payload["target_uuid"])
}

func TestEdgeConverter_ReloadsMetadata(t *testing.T) {
	ctx := context.Background()
	tenant := types.NewTenantID()
	edges := store.NewMemoryEdges()
	c := NewEdgeConverter(edges)

	changed := types.NewEdgeID()
	rootChain := types.NewEntityID()
	require.NoError(t, edges.Save(ctx, &types.Edge{
		ID: changed, TenantID: tenant, Name: "renamed-edge", RootChainID: rootChain,
	}))

	entry := entryFor(tenant, types.NewEdgeID(), types.EntityTypeEdge,
		types.EntityID{UUID: changed.UUID}, types.ActionUpdated)
	msg, err := c.Convert(ctx, entry, wire.Latest)
	require.NoError(t, err)
	require.NotNil(t, msg)

	e, err := wire.DecodeEdge(wire.Latest, msg.Payload)
	require.NoError(t, err)
	assert.Equal(t, "renamed-edge", e.Name)
	assert.Equal(t, rootChain, e.RootChainID)

	// An edge deleted by the administrator between queue and drain is stale.
	gone := entryFor(tenant, types.NewEdgeID(), types.EntityTypeEdge,
		types.NewEntityID(), types.ActionUpdated)
	msg, err = c.Convert(ctx, gone, wire.Latest)
	require.NoError(t, err)
	assert.Nil(t, msg)
}
