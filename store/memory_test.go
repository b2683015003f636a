package store

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/edgesync/errors"
	"github.com/c360/edgesync/types"
)

func TestMemoryRuleChainsSaveAndGet(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryRuleChains()
	tenant := types.NewTenantID()

	rc := &types.RuleChain{ID: types.NewEntityID(), TenantID: tenant, Name: "Root Chain"}
	require.NoError(t, s.Save(ctx, rc))

	got, err := s.Get(ctx, tenant, rc.ID)
	require.NoError(t, err)
	assert.Equal(t, "Root Chain", got.Name)

	id, err := s.FindByName(ctx, tenant, "Root Chain")
	require.NoError(t, err)
	assert.Equal(t, rc.ID, id)
}

func TestMemoryRuleChainsNameConflict(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryRuleChains()
	tenant := types.NewTenantID()

	first := &types.RuleChain{ID: types.NewEntityID(), TenantID: tenant, Name: "Flow"}
	require.NoError(t, s.Save(ctx, first))

	// Same name, different id.
	second := &types.RuleChain{ID: types.NewEntityID(), TenantID: tenant, Name: "Flow"}
	err := s.Save(ctx, second)
	assert.ErrorIs(t, err, errors.ErrNameConflict)

	// Same id saving again is idempotent.
	require.NoError(t, s.Save(ctx, first))
}

func TestMemoryRuleChainsRenameReleasesClaim(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryRuleChains()
	tenant := types.NewTenantID()

	rc := &types.RuleChain{ID: types.NewEntityID(), TenantID: tenant, Name: "Before"}
	require.NoError(t, s.Save(ctx, rc))

	rc.Name = "After"
	require.NoError(t, s.Save(ctx, rc))

	_, err := s.FindByName(ctx, tenant, "Before")
	assert.ErrorIs(t, err, errors.ErrEntityNotFound)

	other := &types.RuleChain{ID: types.NewEntityID(), TenantID: tenant, Name: "Before"}
	assert.NoError(t, s.Save(ctx, other), "released name is claimable again")
}

func TestMemoryRuleChainsDeleteIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryRuleChains()
	tenant := types.NewTenantID()

	rc := &types.RuleChain{ID: types.NewEntityID(), TenantID: tenant, Name: "Gone"}
	require.NoError(t, s.Save(ctx, rc))
	require.NoError(t, s.Delete(ctx, tenant, rc.ID))
	require.NoError(t, s.Delete(ctx, tenant, rc.ID))

	_, err := s.Get(ctx, tenant, rc.ID)
	assert.ErrorIs(t, err, errors.ErrEntityNotFound)
	_, err = s.FindByName(ctx, tenant, "Gone")
	assert.ErrorIs(t, err, errors.ErrEntityNotFound)
}

func TestMemoryCalculatedFieldsScopes(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryCalculatedFields()
	tenant := types.NewTenantID()
	ownerA := types.NewEntityID()
	ownerB := types.NewEntityID()

	// Same name under different owners does not conflict.
	a := &types.CalculatedField{ID: types.NewEntityID(), TenantID: tenant, OwnerID: ownerA, Name: "deltaT"}
	b := &types.CalculatedField{ID: types.NewEntityID(), TenantID: tenant, OwnerID: ownerB, Name: "deltaT"}
	require.NoError(t, s.Save(ctx, a, ownerA))
	require.NoError(t, s.Save(ctx, b, ownerB))

	// Tenant-wide scope is independent of owner scopes.
	c := &types.CalculatedField{ID: types.NewEntityID(), TenantID: tenant, Name: "deltaT"}
	require.NoError(t, s.Save(ctx, c, types.NilEntityID))

	d := &types.CalculatedField{ID: types.NewEntityID(), TenantID: tenant, Name: "deltaT"}
	assert.ErrorIs(t, s.Save(ctx, d, types.NilEntityID), errors.ErrNameConflict)

	id, err := s.FindByName(ctx, tenant, ownerA, "deltaT")
	require.NoError(t, err)
	assert.Equal(t, a.ID, id)

	id, err = s.FindByName(ctx, tenant, types.NilEntityID, "deltaT")
	require.NoError(t, err)
	assert.Equal(t, c.ID, id)

	// Re-saving under a different scope releases the claim held before.
	b.Name = "theta"
	require.NoError(t, s.Save(ctx, b, types.NilEntityID))
	_, err = s.FindByName(ctx, tenant, ownerB, "deltaT")
	assert.ErrorIs(t, err, errors.ErrEntityNotFound)
	id, err = s.FindByName(ctx, tenant, types.NilEntityID, "theta")
	require.NoError(t, err)
	assert.Equal(t, b.ID, id)
}

func TestMemoryEdgesListPage(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryEdges()
	tenant := types.NewTenantID()

	for i := 0; i < 7; i++ {
		require.NoError(t, s.Save(ctx, &types.Edge{
			ID:       types.NewEdgeID(),
			TenantID: tenant,
			Name:     fmt.Sprintf("edge-%d", i),
		}))
	}

	link := types.NewPageLink(3)
	seen := 0
	pages := 0
	for {
		page, err := s.ListPage(ctx, tenant, link)
		require.NoError(t, err)
		seen += len(page.Data)
		pages++
		if !page.HasNext {
			break
		}
		link = link.Next()
	}
	assert.Equal(t, 7, seen)
	assert.Equal(t, 3, pages)
}

func TestMemoryRelations(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryRelations()
	entity := types.NewEntityID()
	edgeA := types.NewEdgeID()
	edgeB := types.NewEdgeID()

	require.NoError(t, s.Link(ctx, edgeA, types.EntityTypeRuleChain, entity))
	require.NoError(t, s.Link(ctx, edgeB, types.EntityTypeRuleChain, entity))
	// Re-linking is a no-op.
	require.NoError(t, s.Link(ctx, edgeA, types.EntityTypeRuleChain, entity))

	ok, err := s.Exists(ctx, edgeA, entity)
	require.NoError(t, err)
	assert.True(t, ok)

	page, err := s.EdgesFor(ctx, entity, types.NewPageLink(10))
	require.NoError(t, err)
	assert.Len(t, page.Data, 2)
	assert.False(t, page.HasNext)

	require.NoError(t, s.Unlink(ctx, edgeA, entity))
	ok, err = s.Exists(ctx, edgeA, entity)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.UnlinkEntity(ctx, entity))
	page, err = s.EdgesFor(ctx, entity, types.NewPageLink(10))
	require.NoError(t, err)
	assert.Empty(t, page.Data)
}

func TestFieldNameScope(t *testing.T) {
	owner := types.NewEntityID()
	assert.Equal(t, "x", fieldNameScope(types.NilEntityID, "x"))
	assert.Equal(t, owner.String()+"/x", fieldNameScope(owner, "x"))
}
