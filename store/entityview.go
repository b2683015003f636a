package store

import (
	"context"
	"encoding/json"

	"github.com/c360/edgesync/natsclient"
	"github.com/c360/edgesync/types"
)

// EntityViews persists entity view projections. Names are unique tenant-wide
// and every view must reference an existing target entity.
type EntityViews struct {
	b *bucket[*types.EntityView]
}

// NewEntityViews creates the entity view store over its KV bucket.
func NewEntityViews(ctx context.Context, client *natsclient.Client) (*EntityViews, error) {
	b, err := newBucket(ctx, client, "edgesync_entity_views",
		"Entity view projections and name claims", "EntityViews",
		func(data []byte) (*types.EntityView, error) {
			var ev types.EntityView
			if err := json.Unmarshal(data, &ev); err != nil {
				return nil, err
			}
			return &ev, nil
		})
	if err != nil {
		return nil, err
	}
	return &EntityViews{b: b}, nil
}

// Get retrieves an entity view by id.
func (s *EntityViews) Get(ctx context.Context, tenant types.TenantID, id types.EntityID) (*types.EntityView, error) {
	return s.b.get(ctx, tenant, id)
}

// Save upserts an entity view, claiming its tenant-wide name.
func (s *EntityViews) Save(ctx context.Context, ev *types.EntityView) error {
	return s.b.save(ctx, ev, ev.Name)
}

// FindByName resolves a tenant-wide name claim to a view id.
func (s *EntityViews) FindByName(ctx context.Context, tenant types.TenantID, name string) (types.EntityID, error) {
	return s.b.findIDByName(ctx, tenant, name)
}

// Delete removes an entity view and releases its name claim.
func (s *EntityViews) Delete(ctx context.Context, tenant types.TenantID, id types.EntityID) error {
	return s.b.delete(ctx, tenant, id)
}

// Count returns the tenant's entity view count, used for limit checks.
func (s *EntityViews) Count(ctx context.Context, tenant types.TenantID) (int, error) {
	return s.b.count(ctx, tenant)
}
