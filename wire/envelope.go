// Package wire defines the versioned message envelopes exchanged with edges
// and the per-entity-kind payload codecs. The envelope identifies a message
// kind and an entity; the payload shape depends on the protocol version the
// edge negotiated, selected through a codec table rather than runtime type
// inspection.
package wire

import (
	"encoding/json"
	"math/rand"

	"github.com/c360/edgesync/errors"
	"github.com/c360/edgesync/types"
)

// MsgType is the envelope-level message kind.
type MsgType string

// Envelope message kinds. Anything else decodes as MsgTypeUnrecognized and
// is handled as a no-op unsupported outcome, never a transport failure.
const (
	MsgTypeEntityCreated MsgType = "ENTITY_CREATED_MSG"
	MsgTypeEntityUpdated MsgType = "ENTITY_UPDATED_MSG"
	MsgTypeEntityDeleted MsgType = "ENTITY_DELETED_MSG"
	MsgTypeUnrecognized  MsgType = "UNRECOGNIZED"
)

// Normalize maps unknown kinds to MsgTypeUnrecognized.
func (m MsgType) Normalize() MsgType {
	switch m {
	case MsgTypeEntityCreated, MsgTypeEntityUpdated, MsgTypeEntityDeleted:
		return m
	}
	return MsgTypeUnrecognized
}

// ProtoVersion tags which wire shape an edge speaks. Converters support the
// two most recent shapes for entities whose schema changed.
type ProtoVersion int

// Known protocol versions.
const (
	V1 ProtoVersion = 1
	V2 ProtoVersion = 2

	Latest = V2
)

// Valid reports whether v is a version this build can speak.
func (v ProtoVersion) Valid() bool {
	return v == V1 || v == V2
}

// UplinkMsg is a message received from an edge.
type UplinkMsg struct {
	MsgType    MsgType          `json:"msg_type"`
	EntityType types.EntityType `json:"entity_type"`
	EntityID   types.EntityID   `json:"entity_id"`
	Version    ProtoVersion     `json:"version"`
	Payload    json.RawMessage  `json:"payload,omitempty"`
}

// DownlinkMsg is a message queued for delivery to an edge.
type DownlinkMsg struct {
	MsgID      int32            `json:"msg_id"`
	MsgType    MsgType          `json:"msg_type"`
	EntityType types.EntityType `json:"entity_type"`
	EntityID   types.EntityID   `json:"entity_id"`
	Version    ProtoVersion     `json:"version"`
	Payload    json.RawMessage  `json:"payload,omitempty"`
}

// NewDownlink builds a downlink envelope with a fresh positive message id.
func NewDownlink(msgType MsgType, entityType types.EntityType, id types.EntityID,
	version ProtoVersion, payload json.RawMessage) *DownlinkMsg {
	return &DownlinkMsg{
		MsgID:      nextPositiveInt(),
		MsgType:    msgType,
		EntityType: entityType,
		EntityID:   id,
		Version:    version,
		Payload:    payload,
	}
}

// NewDeleteDownlink builds a delete-shaped downlink from the entity id alone;
// the entity may already be gone so no payload is carried.
func NewDeleteDownlink(entityType types.EntityType, id types.EntityID, version ProtoVersion) *DownlinkMsg {
	return NewDownlink(MsgTypeEntityDeleted, entityType, id, version, nil)
}

// ParseUplink decodes an uplink envelope. The envelope itself must be valid
// JSON with a known entity type; an unknown msg_type is normalized, not
// rejected, so the processor can answer "unsupported".
func ParseUplink(data []byte) (*UplinkMsg, error) {
	var msg UplinkMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, errors.WrapInvalid(errors.ErrMalformedPayload, "wire", "ParseUplink", "envelope decode")
	}
	if !msg.EntityType.Valid() {
		return nil, errors.WrapInvalid(errors.ErrUnknownEntityType, "wire", "ParseUplink", "entity type check")
	}
	if msg.Version == 0 {
		msg.Version = V1
	}
	if !msg.Version.Valid() {
		return nil, errors.WrapInvalid(errors.ErrUnsupportedVersion, "wire", "ParseUplink", "version check")
	}
	msg.MsgType = msg.MsgType.Normalize()
	return &msg, nil
}

func nextPositiveInt() int32 {
	return rand.Int31n(1<<31-2) + 1
}
