package wire

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/edgesync/errors"
	"github.com/c360/edgesync/types"
)

func TestMsgTypeNormalize(t *testing.T) {
	tests := []struct {
		in   MsgType
		want MsgType
	}{
		{MsgTypeEntityCreated, MsgTypeEntityCreated},
		{MsgTypeEntityUpdated, MsgTypeEntityUpdated},
		{MsgTypeEntityDeleted, MsgTypeEntityDeleted},
		{MsgType("ENTITY_MERGED_MSG"), MsgTypeUnrecognized},
		{MsgType(""), MsgTypeUnrecognized},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.in.Normalize(), "normalize %q", tt.in)
	}
}

func TestParseUplink(t *testing.T) {
	id := types.NewEntityID()

	raw := fmt.Sprintf(`{"msg_type":"ENTITY_CREATED_MSG","entity_type":"RULE_CHAIN","entity_id":%q,"version":2,"payload":{"name":"x"}}`, id)
	msg, err := ParseUplink([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, MsgTypeEntityCreated, msg.MsgType)
	assert.Equal(t, types.EntityTypeRuleChain, msg.EntityType)
	assert.Equal(t, id, msg.EntityID)
	assert.Equal(t, V2, msg.Version)
}

func TestParseUplinkDefaultsVersion(t *testing.T) {
	id := types.NewEntityID()

	raw := fmt.Sprintf(`{"msg_type":"ENTITY_UPDATED_MSG","entity_type":"EDGE","entity_id":%q}`, id)
	msg, err := ParseUplink([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, V1, msg.Version)
}

func TestParseUplinkUnknownMsgType(t *testing.T) {
	id := types.NewEntityID()

	raw := fmt.Sprintf(`{"msg_type":"SOMETHING_NEW","entity_type":"EDGE","entity_id":%q,"version":1}`, id)
	msg, err := ParseUplink([]byte(raw))
	require.NoError(t, err, "unknown kinds are normalized, not rejected")
	assert.Equal(t, MsgTypeUnrecognized, msg.MsgType)
}

func TestParseUplinkErrors(t *testing.T) {
	id := types.NewEntityID()

	tests := []struct {
		name string
		raw  string
		want error
	}{
		{"malformed json", `{"msg_type":`, errors.ErrMalformedPayload},
		{"unknown entity type", fmt.Sprintf(`{"msg_type":"ENTITY_CREATED_MSG","entity_type":"DASHBOARD","entity_id":%q,"version":1}`, id), errors.ErrUnknownEntityType},
		{"unsupported version", fmt.Sprintf(`{"msg_type":"ENTITY_CREATED_MSG","entity_type":"EDGE","entity_id":%q,"version":9}`, id), errors.ErrUnsupportedVersion},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseUplink([]byte(tt.raw))
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestNewDownlinkMsgID(t *testing.T) {
	for i := 0; i < 100; i++ {
		msg := NewDownlink(MsgTypeEntityUpdated, types.EntityTypeEdge, types.NewEntityID(), Latest, nil)
		assert.Positive(t, msg.MsgID)
	}
}

func TestNewDeleteDownlink(t *testing.T) {
	id := types.NewEntityID()
	msg := NewDeleteDownlink(types.EntityTypeRuleChain, id, V2)

	assert.Equal(t, MsgTypeEntityDeleted, msg.MsgType)
	assert.Equal(t, id, msg.EntityID)
	assert.Nil(t, msg.Payload)

	// Delete envelopes must serialize without a payload field.
	data, err := json.Marshal(msg)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "payload")
}
