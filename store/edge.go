package store

import (
	"context"
	"encoding/json"

	"github.com/c360/edgesync/errors"
	"github.com/c360/edgesync/natsclient"
	"github.com/c360/edgesync/types"
)

// Edges persists registered edge gateways. Edge names are unique tenant-wide.
type Edges struct {
	b *bucket[*types.Edge]
}

// NewEdges creates the edge store over its KV bucket.
func NewEdges(ctx context.Context, client *natsclient.Client) (*Edges, error) {
	b, err := newBucket(ctx, client, "edgesync_edges",
		"Registered edge gateways", "Edges",
		func(data []byte) (*types.Edge, error) {
			var e types.Edge
			if err := json.Unmarshal(data, &e); err != nil {
				return nil, err
			}
			return &e, nil
		})
	if err != nil {
		return nil, err
	}
	return &Edges{b: b}, nil
}

// Get retrieves an edge by id.
func (s *Edges) Get(ctx context.Context, tenant types.TenantID, id types.EdgeID) (*types.Edge, error) {
	e, err := s.b.get(ctx, tenant, types.EntityID{UUID: id.UUID})
	if err != nil {
		if errors.IsNotFound(err) {
			return nil, errors.ErrEdgeNotFound
		}
		return nil, err
	}
	return e, nil
}

// Save upserts an edge, claiming its tenant-wide name.
func (s *Edges) Save(ctx context.Context, e *types.Edge) error {
	return s.b.save(ctx, e, e.Name)
}

// FindByName resolves a tenant-wide edge name to its id.
func (s *Edges) FindByName(ctx context.Context, tenant types.TenantID, name string) (types.EdgeID, error) {
	id, err := s.b.findIDByName(ctx, tenant, name)
	if err != nil {
		return types.EdgeID{}, err
	}
	return types.EdgeID{UUID: id.UUID}, nil
}

// ListPage returns one page of a tenant's edges in key order.
func (s *Edges) ListPage(ctx context.Context, tenant types.TenantID,
	link types.PageLink) (types.PageData[*types.Edge], error) {
	return s.b.listPage(ctx, tenant, link)
}
