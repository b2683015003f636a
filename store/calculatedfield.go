package store

import (
	"context"
	"encoding/json"

	"github.com/c360/edgesync/natsclient"
	"github.com/c360/edgesync/types"
)

// CalculatedFields persists calculated field definitions. The name claim
// scope depends on the field's generation: fields without an owner claim
// tenant-wide, fields with an owner claim within that owner.
type CalculatedFields struct {
	b *bucket[*types.CalculatedField]
}

// NewCalculatedFields creates the calculated field store over its KV bucket.
func NewCalculatedFields(ctx context.Context, client *natsclient.Client) (*CalculatedFields, error) {
	b, err := newBucket(ctx, client, "edgesync_calculated_fields",
		"Calculated field definitions and name claims", "CalculatedFields",
		func(data []byte) (*types.CalculatedField, error) {
			var cf types.CalculatedField
			if err := json.Unmarshal(data, &cf); err != nil {
				return nil, err
			}
			return &cf, nil
		})
	if err != nil {
		return nil, err
	}
	return &CalculatedFields{b: b}, nil
}

func fieldNameScope(owner types.EntityID, name string) string {
	if owner.IsNil() {
		return name
	}
	return owner.String() + "/" + name
}

// Get retrieves a calculated field by id.
func (s *CalculatedFields) Get(ctx context.Context, tenant types.TenantID,
	id types.EntityID) (*types.CalculatedField, error) {
	return s.b.get(ctx, tenant, id)
}

// Save upserts a calculated field, claiming its name under scopeOwner. The
// caller picks the scope so the claim agrees with whatever uniqueness check
// preceded it; a nil scopeOwner claims tenant-wide. The scope the field held
// before, possibly under a different owner, is released.
func (s *CalculatedFields) Save(ctx context.Context, cf *types.CalculatedField,
	scopeOwner types.EntityID) error {
	return s.b.save(ctx, cf, fieldNameScope(scopeOwner, cf.Name))
}

// FindByName resolves a name claim to a field id. A nil owner resolves the
// tenant-wide scope.
func (s *CalculatedFields) FindByName(ctx context.Context, tenant types.TenantID,
	owner types.EntityID, name string) (types.EntityID, error) {
	return s.b.findIDByName(ctx, tenant, fieldNameScope(owner, name))
}

// Delete removes a calculated field and releases its name claim.
func (s *CalculatedFields) Delete(ctx context.Context, tenant types.TenantID, id types.EntityID) error {
	return s.b.delete(ctx, tenant, id)
}

// Count returns the tenant's calculated field count, used for limit checks.
func (s *CalculatedFields) Count(ctx context.Context, tenant types.TenantID) (int, error) {
	return s.b.count(ctx, tenant)
}
