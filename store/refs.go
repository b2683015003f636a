package store

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/edgesync/errors"
	"github.com/c360/edgesync/natsclient"
	"github.com/c360/edgesync/types"
)

const refsBucket = "edgesync_entity_refs"

// Refs is the registry of platform entity ids that uplink payloads may
// reference as owners or targets. The platform's entity services register
// ids here when entities are created and remove them on delete; the sync
// engine only reads it to validate incoming references.
type Refs struct {
	kv *natsclient.KVStore
}

// NewRefs opens the reference registry bucket.
func NewRefs(ctx context.Context, client *natsclient.Client) (*Refs, error) {
	if client == nil {
		return nil, errors.WrapInvalid(errors.ErrNoConnection, "Refs", "NewRefs", "nats client cannot be nil")
	}

	kvBucket, err := client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{
		Bucket:      refsBucket,
		Description: "Platform entity ids referenced by synchronized entities",
		History:     1,
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "Refs", "NewRefs", "create KV bucket")
	}
	return &Refs{kv: client.NewKVStore(kvBucket)}, nil
}

func refKey(tenant types.TenantID, id types.EntityID) string {
	return fmt.Sprintf("ref.%s.%s", tenant, id)
}

// Register records an entity id as referenceable. Idempotent.
func (r *Refs) Register(ctx context.Context, tenant types.TenantID, id types.EntityID) error {
	if _, err := r.kv.Put(ctx, refKey(tenant, id), nil); err != nil {
		return errors.WrapTransient(err, "Refs", "Register", "put")
	}
	return nil
}

// Unregister removes an entity id. Idempotent.
func (r *Refs) Unregister(ctx context.Context, tenant types.TenantID, id types.EntityID) error {
	if err := r.kv.Delete(ctx, refKey(tenant, id)); err != nil && !natsclient.IsKVNotFoundError(err) {
		return errors.WrapTransient(err, "Refs", "Unregister", "delete")
	}
	return nil
}

// Exists reports whether the id is registered for the tenant.
func (r *Refs) Exists(ctx context.Context, tenant types.TenantID, id types.EntityID) (bool, error) {
	_, err := r.kv.Get(ctx, refKey(tenant, id))
	if err != nil {
		if natsclient.IsKVNotFoundError(err) {
			return false, nil
		}
		return false, errors.WrapTransient(err, "Refs", "Exists", "get")
	}
	return true, nil
}
