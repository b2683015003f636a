// Package types contains the shared domain types used across the sync
// engine: entity ids, kinds, event actions, and paging cursors.
package types

import (
	"encoding/json"
	"time"
)

// EntityType enumerates the entity kinds the sync engine propagates between
// the central instance and edges.
type EntityType string

// Synchronized entity kinds.
const (
	EntityTypeRuleChain       EntityType = "RULE_CHAIN"
	EntityTypeCalculatedField EntityType = "CALCULATED_FIELD"
	EntityTypeEntityView      EntityType = "ENTITY_VIEW"
	EntityTypeEdge            EntityType = "EDGE"
)

// Valid reports whether t is a known entity type.
func (t EntityType) Valid() bool {
	switch t {
	case EntityTypeRuleChain, EntityTypeCalculatedField, EntityTypeEntityView, EntityTypeEdge:
		return true
	}
	return false
}

// Entity is the behavior shared by every synchronized variant. Stores and the
// conflict resolver operate on this interface; processors work with the
// concrete structs.
type Entity interface {
	EntityID() EntityID
	Tenant() TenantID
	EntityName() string
	Kind() EntityType
}

// Edge is a gateway instance registered with the central service. Edges are
// created by administrative action and referenced by event log entries; the
// sync engine never deletes an edge.
type Edge struct {
	ID          EdgeID    `json:"id"`
	TenantID    TenantID  `json:"tenant_id"`
	Name        string    `json:"name"`
	RootChainID EntityID  `json:"root_chain_id,omitempty"`
	CustomerID  EntityID  `json:"customer_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// EntityID returns the edge id widened to an entity id, for the paths where
// edge metadata itself is the synchronized entity.
func (e *Edge) EntityID() EntityID { return EntityID{e.ID.UUID} }
func (e *Edge) Tenant() TenantID   { return e.TenantID }
func (e *Edge) EntityName() string { return e.Name }
func (e *Edge) Kind() EntityType   { return EntityTypeEdge }

// RuleChain is a tenant-scoped processing pipeline definition. Name is unique
// tenant-wide. Configuration holds the node graph as opaque JSON; the sync
// engine moves it around without interpreting it.
type RuleChain struct {
	ID            EntityID        `json:"id"`
	TenantID      TenantID        `json:"tenant_id"`
	Name          string          `json:"name"`
	Root          bool            `json:"root"`
	Configuration json.RawMessage `json:"configuration,omitempty"`
	// Connections lists ids of rule chains this chain forwards into. Used to
	// refresh dependent chains when an assignment changes.
	Connections []EntityID `json:"connections,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

func (r *RuleChain) EntityID() EntityID { return r.ID }
func (r *RuleChain) Tenant() TenantID   { return r.TenantID }
func (r *RuleChain) EntityName() string { return r.Name }
func (r *RuleChain) Kind() EntityType   { return EntityTypeRuleChain }

// CalculatedField derives a value from other telemetry. Two schema
// generations exist: the earlier one resolves name uniqueness tenant-wide,
// the later one within the owning entity. Both are kept as explicit uplink
// strategies; OwnerID is the owning entity for the later generation.
type CalculatedField struct {
	ID            EntityID        `json:"id"`
	TenantID      TenantID        `json:"tenant_id"`
	OwnerID       EntityID        `json:"owner_id,omitempty"`
	Name          string          `json:"name"`
	Expression    string          `json:"expression"`
	Configuration json.RawMessage `json:"configuration,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

func (c *CalculatedField) EntityID() EntityID { return c.ID }
func (c *CalculatedField) Tenant() TenantID   { return c.TenantID }
func (c *CalculatedField) EntityName() string { return c.Name }
func (c *CalculatedField) Kind() EntityType   { return EntityTypeCalculatedField }

// EntityView exposes a filtered projection of a target entity. The target
// reference must exist or an uplink apply is rejected. Downlink delivery is
// access-gated: the view must currently be reachable from the edge.
type EntityView struct {
	ID         EntityID        `json:"id"`
	TenantID   TenantID        `json:"tenant_id"`
	TargetID   EntityID        `json:"target_id"`
	CustomerID EntityID        `json:"customer_id,omitempty"`
	Name       string          `json:"name"`
	Keys       json.RawMessage `json:"keys,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

func (v *EntityView) EntityID() EntityID { return v.ID }
func (v *EntityView) Tenant() TenantID   { return v.TenantID }
func (v *EntityView) EntityName() string { return v.Name }
func (v *EntityView) Kind() EntityType   { return EntityTypeEntityView }
