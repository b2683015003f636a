package store

import (
	"context"
	"encoding/json"

	"github.com/c360/edgesync/natsclient"
	"github.com/c360/edgesync/types"
)

// RuleChains persists rule chain definitions. Names are unique tenant-wide.
type RuleChains struct {
	b *bucket[*types.RuleChain]
}

// NewRuleChains creates the rule chain store over its KV bucket.
func NewRuleChains(ctx context.Context, client *natsclient.Client) (*RuleChains, error) {
	b, err := newBucket(ctx, client, "edgesync_rule_chains",
		"Rule chain definitions and name claims", "RuleChains",
		func(data []byte) (*types.RuleChain, error) {
			var rc types.RuleChain
			if err := json.Unmarshal(data, &rc); err != nil {
				return nil, err
			}
			return &rc, nil
		})
	if err != nil {
		return nil, err
	}
	return &RuleChains{b: b}, nil
}

// Get retrieves a rule chain by id.
func (s *RuleChains) Get(ctx context.Context, tenant types.TenantID, id types.EntityID) (*types.RuleChain, error) {
	return s.b.get(ctx, tenant, id)
}

// Save upserts a rule chain, claiming its name. A claim held by another
// chain surfaces as ErrNameConflict.
func (s *RuleChains) Save(ctx context.Context, rc *types.RuleChain) error {
	return s.b.save(ctx, rc, rc.Name)
}

// FindByName resolves a tenant-wide name claim to a chain id.
func (s *RuleChains) FindByName(ctx context.Context, tenant types.TenantID, name string) (types.EntityID, error) {
	return s.b.findIDByName(ctx, tenant, name)
}

// Delete removes a rule chain and releases its name claim.
func (s *RuleChains) Delete(ctx context.Context, tenant types.TenantID, id types.EntityID) error {
	return s.b.delete(ctx, tenant, id)
}

// Count returns the tenant's rule chain count, used for limit checks.
func (s *RuleChains) Count(ctx context.Context, tenant types.TenantID) (int, error) {
	return s.b.count(ctx, tenant)
}

// ListPage returns one page of a tenant's rule chains.
func (s *RuleChains) ListPage(ctx context.Context, tenant types.TenantID,
	link types.PageLink) (types.PageData[*types.RuleChain], error) {
	return s.b.listPage(ctx, tenant, link)
}
