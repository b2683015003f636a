package store

import (
	"context"
	"sort"
	"sync"

	"github.com/c360/edgesync/errors"
	"github.com/c360/edgesync/types"
)

// The Memory* stores mirror the KV-backed semantics over plain maps. They
// back unit tests of processors, converters, and the fan-out dispatcher, and
// work for single-process development runs without a NATS server.

type memEntities[T types.Entity] struct {
	mu      sync.RWMutex
	byID    map[string]T      // tenant/id
	byName  map[string]string // tenant/scope -> id
	claimed map[string]string // tenant/id -> held tenant/scope
}

func newMemEntities[T types.Entity]() *memEntities[T] {
	return &memEntities[T]{
		byID:    make(map[string]T),
		byName:  make(map[string]string),
		claimed: make(map[string]string),
	}
}

func memIDKey(tenant types.TenantID, id types.EntityID) string {
	return tenant.String() + "/" + id.String()
}

func memNameKey(tenant types.TenantID, scope string) string {
	return tenant.String() + "/" + scope
}

func (m *memEntities[T]) get(tenant types.TenantID, id types.EntityID) (T, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.byID[memIDKey(tenant, id)]
	if !ok {
		var zero T
		return zero, errors.ErrEntityNotFound
	}
	return e, nil
}

// save upserts the entity and claims its name scope. The scope the entity
// held on its last save is tracked per id, so renames release the old claim
// even when the caller mutated the stored value in place.
func (m *memEntities[T]) save(e T, scope string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tenant := e.Tenant()
	id := e.EntityID().String()
	idKey := memIDKey(tenant, e.EntityID())

	var key string
	if scope != "" {
		key = memNameKey(tenant, scope)
		if owner, ok := m.byName[key]; ok && owner != id {
			return errors.ErrNameConflict
		}
	}
	if prior, ok := m.claimed[idKey]; ok && prior != key {
		delete(m.byName, prior)
	}
	if key != "" {
		m.byName[key] = id
		m.claimed[idKey] = key
	} else {
		delete(m.claimed, idKey)
	}
	m.byID[idKey] = e
	return nil
}

func (m *memEntities[T]) findIDByName(tenant types.TenantID, scope string) (types.EntityID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byName[memNameKey(tenant, scope)]
	if !ok {
		return types.NilEntityID, errors.ErrEntityNotFound
	}
	return types.ParseEntityID(id)
}

func (m *memEntities[T]) delete(tenant types.TenantID, id types.EntityID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	idKey := memIDKey(tenant, id)
	if key, ok := m.claimed[idKey]; ok {
		delete(m.byName, key)
		delete(m.claimed, idKey)
	}
	delete(m.byID, idKey)
}

func (m *memEntities[T]) count(tenant types.TenantID) int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	prefix := tenant.String() + "/"
	n := 0
	for key := range m.byID {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			n++
		}
	}
	return n
}

func (m *memEntities[T]) listPage(tenant types.TenantID, link types.PageLink) types.PageData[T] {
	m.mu.RLock()
	defer m.mu.RUnlock()

	prefix := tenant.String() + "/"
	var keys []string
	for key := range m.byID {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	var page types.PageData[T]
	start := link.Offset()
	if start >= len(keys) {
		return page
	}
	end := start + link.PageSize
	if end > len(keys) {
		end = len(keys)
	}
	for _, key := range keys[start:end] {
		page.Data = append(page.Data, m.byID[key])
	}
	page.HasNext = end < len(keys)
	return page
}

// MemoryRuleChains is an in-memory RuleChains equivalent.
type MemoryRuleChains struct {
	m *memEntities[*types.RuleChain]
}

// NewMemoryRuleChains creates an empty in-memory rule chain store.
func NewMemoryRuleChains() *MemoryRuleChains {
	return &MemoryRuleChains{m: newMemEntities[*types.RuleChain]()}
}

func (s *MemoryRuleChains) Get(_ context.Context, tenant types.TenantID,
	id types.EntityID) (*types.RuleChain, error) {
	return s.m.get(tenant, id)
}

func (s *MemoryRuleChains) Save(_ context.Context, rc *types.RuleChain) error {
	return s.m.save(rc, rc.Name)
}

func (s *MemoryRuleChains) FindByName(_ context.Context, tenant types.TenantID,
	name string) (types.EntityID, error) {
	return s.m.findIDByName(tenant, name)
}

func (s *MemoryRuleChains) Delete(_ context.Context, tenant types.TenantID, id types.EntityID) error {
	s.m.delete(tenant, id)
	return nil
}

func (s *MemoryRuleChains) Count(_ context.Context, tenant types.TenantID) (int, error) {
	return s.m.count(tenant), nil
}

func (s *MemoryRuleChains) ListPage(_ context.Context, tenant types.TenantID,
	link types.PageLink) (types.PageData[*types.RuleChain], error) {
	return s.m.listPage(tenant, link), nil
}

// MemoryCalculatedFields is an in-memory CalculatedFields equivalent.
type MemoryCalculatedFields struct {
	m *memEntities[*types.CalculatedField]
}

// NewMemoryCalculatedFields creates an empty in-memory calculated field store.
func NewMemoryCalculatedFields() *MemoryCalculatedFields {
	return &MemoryCalculatedFields{m: newMemEntities[*types.CalculatedField]()}
}

func (s *MemoryCalculatedFields) Get(_ context.Context, tenant types.TenantID,
	id types.EntityID) (*types.CalculatedField, error) {
	return s.m.get(tenant, id)
}

func (s *MemoryCalculatedFields) Save(_ context.Context, cf *types.CalculatedField,
	scopeOwner types.EntityID) error {
	return s.m.save(cf, fieldNameScope(scopeOwner, cf.Name))
}

func (s *MemoryCalculatedFields) FindByName(_ context.Context, tenant types.TenantID,
	owner types.EntityID, name string) (types.EntityID, error) {
	return s.m.findIDByName(tenant, fieldNameScope(owner, name))
}

func (s *MemoryCalculatedFields) Delete(_ context.Context, tenant types.TenantID, id types.EntityID) error {
	s.m.delete(tenant, id)
	return nil
}

func (s *MemoryCalculatedFields) Count(_ context.Context, tenant types.TenantID) (int, error) {
	return s.m.count(tenant), nil
}

// MemoryEntityViews is an in-memory EntityViews equivalent.
type MemoryEntityViews struct {
	m *memEntities[*types.EntityView]
}

// NewMemoryEntityViews creates an empty in-memory entity view store.
func NewMemoryEntityViews() *MemoryEntityViews {
	return &MemoryEntityViews{m: newMemEntities[*types.EntityView]()}
}

func (s *MemoryEntityViews) Get(_ context.Context, tenant types.TenantID,
	id types.EntityID) (*types.EntityView, error) {
	return s.m.get(tenant, id)
}

func (s *MemoryEntityViews) Save(_ context.Context, ev *types.EntityView) error {
	return s.m.save(ev, ev.Name)
}

func (s *MemoryEntityViews) FindByName(_ context.Context, tenant types.TenantID,
	name string) (types.EntityID, error) {
	return s.m.findIDByName(tenant, name)
}

func (s *MemoryEntityViews) Delete(_ context.Context, tenant types.TenantID, id types.EntityID) error {
	s.m.delete(tenant, id)
	return nil
}

func (s *MemoryEntityViews) Count(_ context.Context, tenant types.TenantID) (int, error) {
	return s.m.count(tenant), nil
}

// MemoryEdges is an in-memory Edges equivalent.
type MemoryEdges struct {
	m *memEntities[*types.Edge]
}

// NewMemoryEdges creates an empty in-memory edge store.
func NewMemoryEdges() *MemoryEdges {
	return &MemoryEdges{m: newMemEntities[*types.Edge]()}
}

func (s *MemoryEdges) Get(_ context.Context, tenant types.TenantID, id types.EdgeID) (*types.Edge, error) {
	e, err := s.m.get(tenant, types.EntityID{UUID: id.UUID})
	if err != nil {
		return nil, errors.ErrEdgeNotFound
	}
	return e, nil
}

func (s *MemoryEdges) Save(_ context.Context, e *types.Edge) error {
	return s.m.save(e, e.Name)
}

func (s *MemoryEdges) FindByName(_ context.Context, tenant types.TenantID,
	name string) (types.EdgeID, error) {
	id, err := s.m.findIDByName(tenant, name)
	if err != nil {
		return types.EdgeID{}, err
	}
	return types.EdgeID{UUID: id.UUID}, nil
}

func (s *MemoryEdges) ListPage(_ context.Context, tenant types.TenantID,
	link types.PageLink) (types.PageData[*types.Edge], error) {
	return s.m.listPage(tenant, link), nil
}

// MemoryRelations is an in-memory Relations equivalent.
type MemoryRelations struct {
	mu   sync.RWMutex
	rels map[string]Relation // entity/edge
}

// NewMemoryRelations creates an empty in-memory relation store.
func NewMemoryRelations() *MemoryRelations {
	return &MemoryRelations{rels: make(map[string]Relation)}
}

func memRelKey(entity types.EntityID, edge types.EdgeID) string {
	return entity.String() + "/" + edge.String()
}

func (s *MemoryRelations) Link(_ context.Context, edge types.EdgeID,
	entityType types.EntityType, entity types.EntityID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rels[memRelKey(entity, edge)] = Relation{
		EdgeID:     edge,
		EntityID:   entity,
		EntityType: entityType,
		Type:       RelationManagedByEdge,
	}
	return nil
}

func (s *MemoryRelations) Unlink(_ context.Context, edge types.EdgeID, entity types.EntityID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rels, memRelKey(entity, edge))
	return nil
}

func (s *MemoryRelations) Exists(_ context.Context, edge types.EdgeID, entity types.EntityID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.rels[memRelKey(entity, edge)]
	return ok, nil
}

func (s *MemoryRelations) EdgesFor(_ context.Context, entity types.EntityID,
	link types.PageLink) (types.PageData[types.EdgeID], error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	prefix := entity.String() + "/"
	var keys []string
	for key := range s.rels {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	var page types.PageData[types.EdgeID]
	start := link.Offset()
	if start >= len(keys) {
		return page, nil
	}
	end := start + link.PageSize
	if end > len(keys) {
		end = len(keys)
	}
	for _, key := range keys[start:end] {
		page.Data = append(page.Data, s.rels[key].EdgeID)
	}
	page.HasNext = end < len(keys)
	return page, nil
}

func (s *MemoryRelations) UnlinkEntity(_ context.Context, entity types.EntityID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prefix := entity.String() + "/"
	for key := range s.rels {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			delete(s.rels, key)
		}
	}
	return nil
}
