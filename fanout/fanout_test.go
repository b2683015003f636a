package fanout

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/edgesync/eventlog"
	"github.com/c360/edgesync/store"
	"github.com/c360/edgesync/syncctx"
	"github.com/c360/edgesync/types"
)

func setup(t *testing.T) (*Dispatcher, *eventlog.MemoryLog, *store.MemoryRelations, *store.MemoryEdges) {
	t.Helper()
	log := eventlog.NewMemoryLog()
	relations := store.NewMemoryRelations()
	edges := store.NewMemoryEdges()
	d := New(log, relations, edges, 2, nil, nil)
	return d, log, relations, edges
}

func TestToRelatedQueuesForEveryManagingEdge(t *testing.T) {
	ctx := context.Background()
	d, log, relations, _ := setup(t)
	tenant := types.NewTenantID()
	entity := types.NewEntityID()

	var managing []types.EdgeID
	for i := 0; i < 5; i++ {
		edge := types.NewEdgeID()
		managing = append(managing, edge)
		require.NoError(t, relations.Link(ctx, edge, types.EntityTypeRuleChain, entity))
	}

	err := d.ToRelated(ctx, tenant, types.EntityTypeRuleChain, entity, types.ActionUpdated, nil)
	require.NoError(t, err)

	total := 0
	for _, edge := range managing {
		entries := log.Entries(edge)
		total += len(entries)
		for _, e := range entries {
			assert.Equal(t, entity, e.EntityID)
			assert.Equal(t, types.ActionUpdated, e.Action)
			assert.Equal(t, tenant, e.TenantID)
		}
	}
	// Page size 2 across 5 edges exercises the cursor; each edge exactly once.
	assert.Equal(t, 5, total)
}

func TestToRelatedSkipsOriginEdge(t *testing.T) {
	ctx := context.Background()
	d, log, relations, _ := setup(t)
	tenant := types.NewTenantID()
	entity := types.NewEntityID()

	origin := types.NewEdgeID()
	other := types.NewEdgeID()
	require.NoError(t, relations.Link(ctx, origin, types.EntityTypeRuleChain, entity))
	require.NoError(t, relations.Link(ctx, other, types.EntityTypeRuleChain, entity))

	applyCtx := syncctx.With(ctx, origin)
	require.NoError(t, d.ToRelated(applyCtx, tenant, types.EntityTypeRuleChain, entity, types.ActionUpdated, nil))

	assert.Empty(t, log.Entries(origin), "the change came from this edge")
	assert.Len(t, log.Entries(other), 1)
}

func TestToAllBroadcastsTenantWide(t *testing.T) {
	ctx := context.Background()
	d, log, _, edges := setup(t)
	tenant := types.NewTenantID()
	otherTenant := types.NewTenantID()
	entity := types.NewEntityID()

	var tenantEdges []types.EdgeID
	for i := 0; i < 3; i++ {
		e := &types.Edge{ID: types.NewEdgeID(), TenantID: tenant, Name: types.NewEntityID().String()}
		tenantEdges = append(tenantEdges, e.ID)
		require.NoError(t, edges.Save(ctx, e))
	}
	foreign := &types.Edge{ID: types.NewEdgeID(), TenantID: otherTenant, Name: "foreign"}
	require.NoError(t, edges.Save(ctx, foreign))

	require.NoError(t, d.ToAll(ctx, tenant, types.EntityTypeEdge, entity, types.ActionUpdated, nil))

	for _, edge := range tenantEdges {
		assert.Len(t, log.Entries(edge), 1)
	}
	assert.Empty(t, log.Entries(foreign.ID), "other tenants are untouched")
}

func TestToEdgeIgnoresOriginSuppression(t *testing.T) {
	ctx := context.Background()
	d, log, _, _ := setup(t)
	tenant := types.NewTenantID()
	entity := types.NewEntityID()
	origin := types.NewEdgeID()

	// Rename push-back targets exactly the origin edge.
	applyCtx := syncctx.With(ctx, origin)
	require.NoError(t, d.ToEdge(applyCtx, tenant, origin, types.EntityTypeRuleChain,
		entity, types.ActionUpdated, []byte(`{"conflictName":"Billing"}`)))

	entries := log.Entries(origin)
	require.Len(t, entries, 1)
	assert.JSONEq(t, `{"conflictName":"Billing"}`, string(entries[0].Body))
}
