package wire

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/edgesync/errors"
	"github.com/c360/edgesync/types"
)

func TestRuleChainCodecV2CarriesConnections(t *testing.T) {
	rc := &types.RuleChain{
		ID:            types.NewEntityID(),
		Name:          "Thermostat Flow",
		Root:          true,
		Configuration: json.RawMessage(`{"nodes":[]}`),
		Connections:   []types.EntityID{types.NewEntityID(), types.NewEntityID()},
	}

	data, err := EncodeRuleChain(V2, rc)
	require.NoError(t, err)

	got, err := DecodeRuleChain(V2, data)
	require.NoError(t, err)
	assert.Equal(t, rc.ID, got.ID)
	assert.Equal(t, rc.Name, got.Name)
	assert.True(t, got.Root)
	assert.Equal(t, rc.Connections, got.Connections)
}

func TestRuleChainCodecV1DropsConnections(t *testing.T) {
	rc := &types.RuleChain{
		ID:          types.NewEntityID(),
		Name:        "Legacy Flow",
		Connections: []types.EntityID{types.NewEntityID()},
	}

	data, err := EncodeRuleChain(V1, rc)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "connections")

	got, err := DecodeRuleChain(V1, data)
	require.NoError(t, err)
	assert.Empty(t, got.Connections)
}

func TestCalculatedFieldCodecOwnerByVersion(t *testing.T) {
	cf := &types.CalculatedField{
		ID:         types.NewEntityID(),
		OwnerID:    types.NewEntityID(),
		Name:       "deltaT",
		Expression: "inlet - outlet",
	}

	v1, err := EncodeCalculatedField(V1, cf)
	require.NoError(t, err)
	assert.NotContains(t, string(v1), "owner_id")

	got1, err := DecodeCalculatedField(V1, v1)
	require.NoError(t, err)
	assert.True(t, got1.OwnerID.IsNil(), "owner is not on the wire before V2")

	v2, err := EncodeCalculatedField(V2, cf)
	require.NoError(t, err)
	got2, err := DecodeCalculatedField(V2, v2)
	require.NoError(t, err)
	assert.Equal(t, cf.OwnerID, got2.OwnerID)
	assert.Equal(t, cf.Expression, got2.Expression)
}

func TestEntityViewCodecTargetShapes(t *testing.T) {
	ev := &types.EntityView{
		ID:       types.NewEntityID(),
		TargetID: types.NewEntityID(),
		Name:     "floor-3-view",
		Keys:     json.RawMessage(`{"timeseries":["temp"]}`),
	}

	v1, err := EncodeEntityView(V1, ev)
	require.NoError(t, err)
	assert.Contains(t, string(v1), "target_uuid")

	got1, err := DecodeEntityView(V1, v1)
	require.NoError(t, err)
	assert.Equal(t, ev.TargetID, got1.TargetID)

	v2, err := EncodeEntityView(V2, ev)
	require.NoError(t, err)
	assert.Contains(t, string(v2), "target_id")
	assert.NotContains(t, string(v2), "target_uuid")

	got2, err := DecodeEntityView(V2, v2)
	require.NoError(t, err)
	assert.Equal(t, ev.TargetID, got2.TargetID)
	assert.Equal(t, ev.Keys, got2.Keys)
}

func TestEntityViewCodecV1BadTarget(t *testing.T) {
	_, err := DecodeEntityView(V1, json.RawMessage(`{"name":"v","target_type":"ENTITY","target_uuid":"not-a-uuid"}`))
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrMalformedPayload)
}

func TestEdgeCodecRoundTrip(t *testing.T) {
	e := &types.Edge{
		ID:          types.NewEdgeID(),
		Name:        "factory-7",
		RootChainID: types.NewEntityID(),
	}

	data, err := EncodeEdge(Latest, e)
	require.NoError(t, err)

	got, err := DecodeEdge(Latest, data)
	require.NoError(t, err)
	assert.Equal(t, e.ID, got.ID)
	assert.Equal(t, e.Name, got.Name)
	assert.Equal(t, e.RootChainID, got.RootChainID)
}

func TestCodecUnsupportedVersion(t *testing.T) {
	_, err := EncodeRuleChain(ProtoVersion(7), &types.RuleChain{})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrUnsupportedVersion)

	_, err = DecodeCalculatedField(ProtoVersion(0), json.RawMessage(`{}`))
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrUnsupportedVersion)
}

func TestDecodeMalformed(t *testing.T) {
	for _, v := range []ProtoVersion{V1, V2} {
		_, err := DecodeRuleChain(v, json.RawMessage(`[1,2`))
		assert.ErrorIs(t, err, errors.ErrMalformedPayload)
		_, err = DecodeCalculatedField(v, json.RawMessage(`"nope`))
		assert.ErrorIs(t, err, errors.ErrMalformedPayload)
		_, err = DecodeEntityView(v, json.RawMessage(`{`))
		assert.ErrorIs(t, err, errors.ErrMalformedPayload)
	}
}
