// Package store persists synchronized entities in NATS KV buckets. Each
// entity kind gets its own bucket holding two key families: entity records
// keyed by tenant and id, and a unique-name index that makes name claims
// atomic through KV create semantics.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/edgesync/errors"
	"github.com/c360/edgesync/natsclient"
	"github.com/c360/edgesync/pkg/retry"
	"github.com/c360/edgesync/types"
)

// entKey addresses an entity record.
func entKey(tenant types.TenantID, id types.EntityID) string {
	return fmt.Sprintf("ent.%s.%s", tenant, id)
}

// entPrefix filters all entity records of a tenant.
func entPrefix(tenant types.TenantID) string {
	return fmt.Sprintf("ent.%s.*", tenant)
}

// nameKey addresses a name claim. The scope string is hex encoded because
// entity names may contain characters KV keys do not allow.
func nameKey(tenant types.TenantID, scope string) string {
	return fmt.Sprintf("name.%s.%x", tenant, scope)
}

// claimKey records which name scope an entity currently holds. Releases read
// this record instead of recomputing the scope from the stored entity, which
// would go wrong when saves claim under changing scopes.
func claimKey(tenant types.TenantID, id types.EntityID) string {
	return fmt.Sprintf("claim.%s.%s", tenant, id)
}

// bucket is the shared persistence core for one entity kind.
type bucket[T types.Entity] struct {
	kv        *natsclient.KVStore
	component string
	decode    func([]byte) (T, error)
}

func newBucket[T types.Entity](ctx context.Context, client *natsclient.Client,
	name, description, component string, decode func([]byte) (T, error)) (*bucket[T], error) {

	if client == nil {
		return nil, errors.WrapInvalid(errors.ErrNoConnection, component, "newBucket", "nats client cannot be nil")
	}

	kvBucket, err := retry.DoWithResult(ctx, retry.Registration(), func() (jetstream.KeyValue, error) {
		return client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{
			Bucket:      name,
			Description: description,
			History:     5,
		})
	})
	if err != nil {
		return nil, errors.WrapTransient(err, component, "newBucket", "create KV bucket")
	}

	return &bucket[T]{
		kv:        client.NewKVStore(kvBucket),
		component: component,
		decode:    decode,
	}, nil
}

func (b *bucket[T]) get(ctx context.Context, tenant types.TenantID, id types.EntityID) (T, error) {
	var zero T

	entry, err := b.kv.Get(ctx, entKey(tenant, id))
	if err != nil {
		if natsclient.IsKVNotFoundError(err) {
			return zero, errors.ErrEntityNotFound
		}
		return zero, errors.WrapTransient(err, b.component, "get", "get from KV")
	}

	e, err := b.decode(entry.Value)
	if err != nil {
		return zero, errors.WrapFatal(err, b.component, "get", "unmarshal entity")
	}
	return e, nil
}

// save upserts the entity record and maintains the name claim for nameScope.
// A claim held by a different entity surfaces as ErrNameConflict; a rename or
// a scope change gets the previously held claim released automatically.
func (b *bucket[T]) save(ctx context.Context, e T, nameScope string) error {
	tenant := e.Tenant()
	id := e.EntityID()

	prior, err := b.heldScope(ctx, tenant, id)
	if err != nil {
		return err
	}

	if nameScope != "" {
		key := nameKey(tenant, nameScope)
		if err := b.claimName(ctx, key, id); err != nil {
			return err
		}
	}

	data, err := json.Marshal(e)
	if err != nil {
		return errors.WrapFatal(err, b.component, "save", "marshal entity")
	}
	if _, err := b.kv.Put(ctx, entKey(tenant, id), data); err != nil {
		return errors.WrapTransient(err, b.component, "save", "put in KV")
	}

	if prior == nameScope {
		return nil
	}
	if prior != "" {
		if err := b.kv.Delete(ctx, nameKey(tenant, prior)); err != nil &&
			!natsclient.IsKVNotFoundError(err) {
			return errors.WrapTransient(err, b.component, "save", "release old name claim")
		}
	}
	return b.recordScope(ctx, tenant, id, nameScope)
}

// heldScope returns the name scope the entity claimed on its last save, or
// empty when none is held.
func (b *bucket[T]) heldScope(ctx context.Context, tenant types.TenantID, id types.EntityID) (string, error) {
	entry, err := b.kv.Get(ctx, claimKey(tenant, id))
	if err != nil {
		if natsclient.IsKVNotFoundError(err) {
			return "", nil
		}
		return "", errors.WrapTransient(err, b.component, "heldScope", "get claim record")
	}
	return string(entry.Value), nil
}

func (b *bucket[T]) recordScope(ctx context.Context, tenant types.TenantID,
	id types.EntityID, nameScope string) error {

	if nameScope == "" {
		if err := b.kv.Delete(ctx, claimKey(tenant, id)); err != nil &&
			!natsclient.IsKVNotFoundError(err) {
			return errors.WrapTransient(err, b.component, "recordScope", "delete claim record")
		}
		return nil
	}
	if _, err := b.kv.Put(ctx, claimKey(tenant, id), []byte(nameScope)); err != nil {
		return errors.WrapTransient(err, b.component, "recordScope", "put claim record")
	}
	return nil
}

func (b *bucket[T]) claimName(ctx context.Context, key string, id types.EntityID) error {
	_, err := b.kv.Create(ctx, key, []byte(id.String()))
	if err == nil {
		return nil
	}
	if !natsclient.IsKVConflictError(err) {
		return errors.WrapTransient(err, b.component, "claimName", "create name claim")
	}

	entry, getErr := b.kv.Get(ctx, key)
	if getErr != nil {
		return errors.WrapTransient(getErr, b.component, "claimName", "read existing claim")
	}
	if string(entry.Value) != id.String() {
		return errors.ErrNameConflict
	}
	return nil
}

func (b *bucket[T]) findIDByName(ctx context.Context, tenant types.TenantID, nameScope string) (types.EntityID, error) {
	entry, err := b.kv.Get(ctx, nameKey(tenant, nameScope))
	if err != nil {
		if natsclient.IsKVNotFoundError(err) {
			return types.NilEntityID, errors.ErrEntityNotFound
		}
		return types.NilEntityID, errors.WrapTransient(err, b.component, "findIDByName", "get name claim")
	}

	id, err := types.ParseEntityID(string(entry.Value))
	if err != nil {
		return types.NilEntityID, errors.WrapFatal(err, b.component, "findIDByName", "parse claim value")
	}
	return id, nil
}

// delete removes the entity record, its claim record, and the name claim it
// held. Deleting an absent entity is a no-op so deletes stay idempotent.
func (b *bucket[T]) delete(ctx context.Context, tenant types.TenantID, id types.EntityID) error {
	prior, err := b.heldScope(ctx, tenant, id)
	if err != nil {
		return err
	}
	if prior != "" {
		if err := b.kv.Delete(ctx, nameKey(tenant, prior)); err != nil &&
			!natsclient.IsKVNotFoundError(err) {
			return errors.WrapTransient(err, b.component, "delete", "release name claim")
		}
	}
	if err := b.kv.Delete(ctx, claimKey(tenant, id)); err != nil &&
		!natsclient.IsKVNotFoundError(err) {
		return errors.WrapTransient(err, b.component, "delete", "delete claim record")
	}
	if err := b.kv.Delete(ctx, entKey(tenant, id)); err != nil &&
		!natsclient.IsKVNotFoundError(err) {
		return errors.WrapTransient(err, b.component, "delete", "delete from KV")
	}
	return nil
}

func (b *bucket[T]) count(ctx context.Context, tenant types.TenantID) (int, error) {
	keys, err := b.kv.Keys(ctx, entPrefix(tenant))
	if err != nil {
		return 0, errors.WrapTransient(err, b.component, "count", "list keys")
	}
	return len(keys), nil
}

// listPage returns one page of a tenant's entities in key order. Only the
// requested page is loaded.
func (b *bucket[T]) listPage(ctx context.Context, tenant types.TenantID,
	link types.PageLink) (types.PageData[T], error) {

	var page types.PageData[T]

	keys, err := b.kv.Keys(ctx, entPrefix(tenant))
	if err != nil {
		return page, errors.WrapTransient(err, b.component, "listPage", "list keys")
	}
	sort.Strings(keys)

	start := link.Offset()
	if start >= len(keys) {
		return page, nil
	}
	end := start + link.PageSize
	if end > len(keys) {
		end = len(keys)
	}

	page.Data = make([]T, 0, end-start)
	for _, key := range keys[start:end] {
		entry, err := b.kv.Get(ctx, key)
		if err != nil {
			if natsclient.IsKVNotFoundError(err) {
				// Deleted between listing and load.
				continue
			}
			return types.PageData[T]{}, errors.WrapTransient(err, b.component, "listPage", "get entity")
		}
		e, err := b.decode(entry.Value)
		if err != nil {
			return types.PageData[T]{}, errors.WrapFatal(err, b.component, "listPage", "unmarshal entity")
		}
		page.Data = append(page.Data, e)
	}
	page.HasNext = end < len(keys)
	return page, nil
}
