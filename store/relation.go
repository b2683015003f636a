package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/edgesync/errors"
	"github.com/c360/edgesync/natsclient"
	"github.com/c360/edgesync/types"
)

// RelationManagedByEdge marks an entity as managed by an edge. It is created
// when an uplink apply succeeds so later fan-out knows which edges hold a
// copy of the entity.
const RelationManagedByEdge = "ManagedByEdge"

// Relation links an edge to an entity it manages.
type Relation struct {
	EdgeID     types.EdgeID     `json:"edge_id"`
	EntityID   types.EntityID   `json:"entity_id"`
	EntityType types.EntityType `json:"entity_type"`
	Type       string           `json:"type"`
}

// Relations persists edge-to-entity links. Each relation is stored under two
// keys so both directions list without scanning.
type Relations struct {
	kv *natsclient.KVStore
}

// NewRelations creates the relation store over its KV bucket.
func NewRelations(ctx context.Context, client *natsclient.Client) (*Relations, error) {
	if client == nil {
		return nil, errors.WrapInvalid(errors.ErrNoConnection, "Relations", "NewRelations", "nats client cannot be nil")
	}

	bucket, err := client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{
		Bucket:      "edgesync_relations",
		Description: "Edge to entity management relations",
		History:     1,
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "Relations", "NewRelations", "create KV bucket")
	}

	return &Relations{kv: client.NewKVStore(bucket)}, nil
}

func relByEdgeKey(edge types.EdgeID, entity types.EntityID) string {
	return fmt.Sprintf("edge.%s.%s", edge, entity)
}

func relByEntityKey(entity types.EntityID, edge types.EdgeID) string {
	return fmt.Sprintf("ent.%s.%s", entity, edge)
}

// Link records that edge manages entity. Linking twice is a no-op.
func (s *Relations) Link(ctx context.Context, edge types.EdgeID,
	entityType types.EntityType, entity types.EntityID) error {

	rel := Relation{
		EdgeID:     edge,
		EntityID:   entity,
		EntityType: entityType,
		Type:       RelationManagedByEdge,
	}
	data, err := json.Marshal(rel)
	if err != nil {
		return errors.WrapFatal(err, "Relations", "Link", "marshal relation")
	}

	if _, err := s.kv.Put(ctx, relByEdgeKey(edge, entity), data); err != nil {
		return errors.WrapTransient(err, "Relations", "Link", "put edge key")
	}
	if _, err := s.kv.Put(ctx, relByEntityKey(entity, edge), data); err != nil {
		return errors.WrapTransient(err, "Relations", "Link", "put entity key")
	}
	return nil
}

// Unlink removes the relation between edge and entity. Missing relations are
// ignored so unlink stays idempotent.
func (s *Relations) Unlink(ctx context.Context, edge types.EdgeID, entity types.EntityID) error {
	if err := s.kv.Delete(ctx, relByEdgeKey(edge, entity)); err != nil &&
		!natsclient.IsKVNotFoundError(err) {
		return errors.WrapTransient(err, "Relations", "Unlink", "delete edge key")
	}
	if err := s.kv.Delete(ctx, relByEntityKey(entity, edge)); err != nil &&
		!natsclient.IsKVNotFoundError(err) {
		return errors.WrapTransient(err, "Relations", "Unlink", "delete entity key")
	}
	return nil
}

// Exists reports whether edge manages entity.
func (s *Relations) Exists(ctx context.Context, edge types.EdgeID, entity types.EntityID) (bool, error) {
	_, err := s.kv.Get(ctx, relByEdgeKey(edge, entity))
	if err != nil {
		if natsclient.IsKVNotFoundError(err) {
			return false, nil
		}
		return false, errors.WrapTransient(err, "Relations", "Exists", "get relation")
	}
	return true, nil
}

// EdgesFor returns one page of edges managing the given entity, in stable
// key order so a paged cursor sees each edge once.
func (s *Relations) EdgesFor(ctx context.Context, entity types.EntityID,
	link types.PageLink) (types.PageData[types.EdgeID], error) {

	var page types.PageData[types.EdgeID]

	keys, err := s.kv.Keys(ctx, fmt.Sprintf("ent.%s.*", entity))
	if err != nil {
		return page, errors.WrapTransient(err, "Relations", "EdgesFor", "list keys")
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

	page.Data = make([]types.EdgeID, 0, end-start)
	for _, key := range keys[start:end] {
		entry, err := s.kv.Get(ctx, key)
		if err != nil {
			if natsclient.IsKVNotFoundError(err) {
				continue
			}
			return types.PageData[types.EdgeID]{}, errors.WrapTransient(err, "Relations", "EdgesFor", "get relation")
		}
		var rel Relation
		if err := json.Unmarshal(entry.Value, &rel); err != nil {
			return types.PageData[types.EdgeID]{}, errors.WrapFatal(err, "Relations", "EdgesFor", "unmarshal relation")
		}
		page.Data = append(page.Data, rel.EdgeID)
	}
	page.HasNext = end < len(keys)
	return page, nil
}

// UnlinkEntity removes every relation the entity participates in, used when
// the entity is deleted.
func (s *Relations) UnlinkEntity(ctx context.Context, entity types.EntityID) error {
	keys, err := s.kv.Keys(ctx, fmt.Sprintf("ent.%s.*", entity))
	if err != nil {
		return errors.WrapTransient(err, "Relations", "UnlinkEntity", "list keys")
	}

	for _, key := range keys {
		entry, err := s.kv.Get(ctx, key)
		if err != nil {
			if natsclient.IsKVNotFoundError(err) {
				continue
			}
			return errors.WrapTransient(err, "Relations", "UnlinkEntity", "get relation")
		}
		var rel Relation
		if err := json.Unmarshal(entry.Value, &rel); err != nil {
			return errors.WrapFatal(err, "Relations", "UnlinkEntity", "unmarshal relation")
		}
		if err := s.Unlink(ctx, rel.EdgeID, entity); err != nil {
			return err
		}
	}
	return nil
}
