package types

import (
	"time"

	"github.com/google/uuid"
)

// TenantID identifies a tenant.
type TenantID struct {
	uuid.UUID
}

// EdgeID identifies an edge gateway instance.
type EdgeID struct {
	uuid.UUID
}

// EntityID identifies a synchronized entity. EntityIDs are UUIDv7, so the id
// itself carries the entity's creation time.
type EntityID struct {
	uuid.UUID
}

// NilEntityID is the zero entity id, used for "no reference" fields.
var NilEntityID = EntityID{}

// NewTenantID mints a new random tenant id.
func NewTenantID() TenantID {
	return TenantID{uuid.Must(uuid.NewV7())}
}

// NewEdgeID mints a new time-ordered edge id.
func NewEdgeID() EdgeID {
	return EdgeID{uuid.Must(uuid.NewV7())}
}

// NewEntityID mints a new time-ordered entity id.
func NewEntityID() EntityID {
	return EntityID{uuid.Must(uuid.NewV7())}
}

// ParseEntityID parses the canonical string form of an entity id.
func ParseEntityID(s string) (EntityID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return EntityID{}, err
	}
	return EntityID{u}, nil
}

// ParseTenantID parses the canonical string form of a tenant id.
func ParseTenantID(s string) (TenantID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return TenantID{}, err
	}
	return TenantID{u}, nil
}

// ParseEdgeID parses the canonical string form of an edge id.
func ParseEdgeID(s string) (EdgeID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return EdgeID{}, err
	}
	return EdgeID{u}, nil
}

// IsNil reports whether the id is the zero value.
func (id EntityID) IsNil() bool { return id.UUID == uuid.Nil }

// IsNil reports whether the id is the zero value.
func (id EdgeID) IsNil() bool { return id.UUID == uuid.Nil }

// IsNil reports whether the id is the zero value.
func (id TenantID) IsNil() bool { return id.UUID == uuid.Nil }

// CreatedTime extracts the millisecond timestamp embedded in a UUIDv7 id.
// For non-v7 ids (legacy imports) it returns the zero time; callers fall back
// to wall-clock time in that case.
func (id EntityID) CreatedTime() time.Time {
	if id.Version() != 7 {
		return time.Time{}
	}
	b := id.UUID
	ms := int64(b[0])<<40 | int64(b[1])<<32 | int64(b[2])<<24 |
		int64(b[3])<<16 | int64(b[4])<<8 | int64(b[5])
	return time.UnixMilli(ms).UTC()
}
