package wire

import (
	"encoding/json"

	"github.com/c360/edgesync/errors"
	"github.com/c360/edgesync/types"
)

// codec is one protocol generation's payload shape for one entity kind.
type codec[T any] struct {
	encode func(*T) (json.RawMessage, error)
	decode func(json.RawMessage) (*T, error)
}

func lookup[T any](table map[ProtoVersion]codec[T], v ProtoVersion, component string) (codec[T], error) {
	c, ok := table[v]
	if !ok {
		return codec[T]{}, errors.WrapInvalid(errors.ErrUnsupportedVersion, component, "lookup", "codec selection")
	}
	return c, nil
}

// --- Rule chain ---------------------------------------------------------

// ruleChainV1 is the legacy shape: no cross-chain connection list.
type ruleChainV1 struct {
	ID            types.EntityID  `json:"id"`
	Name          string          `json:"name"`
	Root          bool            `json:"root"`
	Configuration json.RawMessage `json:"configuration,omitempty"`
}

// ruleChainV2 adds the connection list used for dependent-chain refresh.
type ruleChainV2 struct {
	ruleChainV1
	Connections []types.EntityID `json:"connections,omitempty"`
}

var ruleChainCodecs = map[ProtoVersion]codec[types.RuleChain]{
	V1: {
		encode: func(rc *types.RuleChain) (json.RawMessage, error) {
			return json.Marshal(ruleChainV1{
				ID: rc.ID, Name: rc.Name, Root: rc.Root, Configuration: rc.Configuration,
			})
		},
		decode: func(data json.RawMessage) (*types.RuleChain, error) {
			var p ruleChainV1
			if err := json.Unmarshal(data, &p); err != nil {
				return nil, errors.ErrMalformedPayload
			}
			return &types.RuleChain{
				ID: p.ID, Name: p.Name, Root: p.Root, Configuration: p.Configuration,
			}, nil
		},
	},
	V2: {
		encode: func(rc *types.RuleChain) (json.RawMessage, error) {
			return json.Marshal(ruleChainV2{
				ruleChainV1: ruleChainV1{
					ID: rc.ID, Name: rc.Name, Root: rc.Root, Configuration: rc.Configuration,
				},
				Connections: rc.Connections,
			})
		},
		decode: func(data json.RawMessage) (*types.RuleChain, error) {
			var p ruleChainV2
			if err := json.Unmarshal(data, &p); err != nil {
				return nil, errors.ErrMalformedPayload
			}
			return &types.RuleChain{
				ID: p.ID, Name: p.Name, Root: p.Root,
				Configuration: p.Configuration, Connections: p.Connections,
			}, nil
		},
	},
}

// EncodeRuleChain serializes a rule chain in the given protocol shape.
func EncodeRuleChain(v ProtoVersion, rc *types.RuleChain) (json.RawMessage, error) {
	c, err := lookup(ruleChainCodecs, v, "RuleChainCodec")
	if err != nil {
		return nil, err
	}
	return c.encode(rc)
}

// DecodeRuleChain deserializes a rule chain payload.
func DecodeRuleChain(v ProtoVersion, data json.RawMessage) (*types.RuleChain, error) {
	c, err := lookup(ruleChainCodecs, v, "RuleChainCodec")
	if err != nil {
		return nil, err
	}
	return c.decode(data)
}

// --- Calculated field ---------------------------------------------------

// calculatedFieldV1 is the tenant-scoped generation: no owning entity on the
// wire, names resolve tenant-wide.
type calculatedFieldV1 struct {
	ID            types.EntityID  `json:"id"`
	Name          string          `json:"name"`
	Expression    string          `json:"expression"`
	Configuration json.RawMessage `json:"configuration,omitempty"`
}

// calculatedFieldV2 is the owner-scoped generation.
type calculatedFieldV2 struct {
	calculatedFieldV1
	OwnerID types.EntityID `json:"owner_id"`
}

var calculatedFieldCodecs = map[ProtoVersion]codec[types.CalculatedField]{
	V1: {
		encode: func(cf *types.CalculatedField) (json.RawMessage, error) {
			return json.Marshal(calculatedFieldV1{
				ID: cf.ID, Name: cf.Name, Expression: cf.Expression, Configuration: cf.Configuration,
			})
		},
		decode: func(data json.RawMessage) (*types.CalculatedField, error) {
			var p calculatedFieldV1
			if err := json.Unmarshal(data, &p); err != nil {
				return nil, errors.ErrMalformedPayload
			}
			return &types.CalculatedField{
				ID: p.ID, Name: p.Name, Expression: p.Expression, Configuration: p.Configuration,
			}, nil
		},
	},
	V2: {
		encode: func(cf *types.CalculatedField) (json.RawMessage, error) {
			return json.Marshal(calculatedFieldV2{
				calculatedFieldV1: calculatedFieldV1{
					ID: cf.ID, Name: cf.Name, Expression: cf.Expression, Configuration: cf.Configuration,
				},
				OwnerID: cf.OwnerID,
			})
		},
		decode: func(data json.RawMessage) (*types.CalculatedField, error) {
			var p calculatedFieldV2
			if err := json.Unmarshal(data, &p); err != nil {
				return nil, errors.ErrMalformedPayload
			}
			return &types.CalculatedField{
				ID: p.ID, Name: p.Name, Expression: p.Expression,
				Configuration: p.Configuration, OwnerID: p.OwnerID,
			}, nil
		},
	},
}

// EncodeCalculatedField serializes a calculated field in the given shape.
func EncodeCalculatedField(v ProtoVersion, cf *types.CalculatedField) (json.RawMessage, error) {
	c, err := lookup(calculatedFieldCodecs, v, "CalculatedFieldCodec")
	if err != nil {
		return nil, err
	}
	return c.encode(cf)
}

// DecodeCalculatedField deserializes a calculated field payload.
func DecodeCalculatedField(v ProtoVersion, data json.RawMessage) (*types.CalculatedField, error) {
	c, err := lookup(calculatedFieldCodecs, v, "CalculatedFieldCodec")
	if err != nil {
		return nil, err
	}
	return c.decode(data)
}

// --- Entity view --------------------------------------------------------

// entityViewV1 carries the target as legacy split fields.
type entityViewV1 struct {
	ID         types.EntityID  `json:"id"`
	Name       string          `json:"name"`
	TargetType string          `json:"target_type"`
	TargetUUID string          `json:"target_uuid"`
	Keys       json.RawMessage `json:"keys,omitempty"`
}

// entityViewV2 carries the target as a single reference.
type entityViewV2 struct {
	ID       types.EntityID  `json:"id"`
	Name     string          `json:"name"`
	TargetID types.EntityID  `json:"target_id"`
	Keys     json.RawMessage `json:"keys,omitempty"`
}

var entityViewCodecs = map[ProtoVersion]codec[types.EntityView]{
	V1: {
		encode: func(ev *types.EntityView) (json.RawMessage, error) {
			return json.Marshal(entityViewV1{
				ID: ev.ID, Name: ev.Name,
				TargetType: "ENTITY", TargetUUID: ev.TargetID.String(),
				Keys: ev.Keys,
			})
		},
		decode: func(data json.RawMessage) (*types.EntityView, error) {
			var p entityViewV1
			if err := json.Unmarshal(data, &p); err != nil {
				return nil, errors.ErrMalformedPayload
			}
			target, err := types.ParseEntityID(p.TargetUUID)
			if err != nil {
				return nil, errors.ErrMalformedPayload
			}
			return &types.EntityView{ID: p.ID, Name: p.Name, TargetID: target, Keys: p.Keys}, nil
		},
	},
	V2: {
		encode: func(ev *types.EntityView) (json.RawMessage, error) {
			return json.Marshal(entityViewV2{
				ID: ev.ID, Name: ev.Name, TargetID: ev.TargetID, Keys: ev.Keys,
			})
		},
		decode: func(data json.RawMessage) (*types.EntityView, error) {
			var p entityViewV2
			if err := json.Unmarshal(data, &p); err != nil {
				return nil, errors.ErrMalformedPayload
			}
			return &types.EntityView{ID: p.ID, Name: p.Name, TargetID: p.TargetID, Keys: p.Keys}, nil
		},
	},
}

// EncodeEntityView serializes an entity view in the given shape.
func EncodeEntityView(v ProtoVersion, ev *types.EntityView) (json.RawMessage, error) {
	c, err := lookup(entityViewCodecs, v, "EntityViewCodec")
	if err != nil {
		return nil, err
	}
	return c.encode(ev)
}

// DecodeEntityView deserializes an entity view payload.
func DecodeEntityView(v ProtoVersion, data json.RawMessage) (*types.EntityView, error) {
	c, err := lookup(entityViewCodecs, v, "EntityViewCodec")
	if err != nil {
		return nil, err
	}
	return c.decode(data)
}

// --- Edge metadata ------------------------------------------------------

// edgePayload is version-stable: edge metadata has not changed shape.
type edgePayload struct {
	ID          types.EdgeID   `json:"id"`
	Name        string         `json:"name"`
	RootChainID types.EntityID `json:"root_chain_id,omitempty"`
	CustomerID  types.EntityID `json:"customer_id,omitempty"`
}

// EncodeEdge serializes edge metadata.
func EncodeEdge(_ ProtoVersion, e *types.Edge) (json.RawMessage, error) {
	return json.Marshal(edgePayload{
		ID: e.ID, Name: e.Name, RootChainID: e.RootChainID, CustomerID: e.CustomerID,
	})
}

// DecodeEdge deserializes edge metadata.
func DecodeEdge(_ ProtoVersion, data json.RawMessage) (*types.Edge, error) {
	var p edgePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, errors.ErrMalformedPayload
	}
	return &types.Edge{ID: p.ID, Name: p.Name, RootChainID: p.RootChainID, CustomerID: p.CustomerID}, nil
}
