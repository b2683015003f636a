// Package registry maps entity kinds to their uplink processor and downlink
// converter. The engine builds one registry at startup; lookups during
// message handling are read-only and lock-free.
package registry

import (
	"fmt"

	"github.com/c360/edgesync/downlink"
	"github.com/c360/edgesync/errors"
	"github.com/c360/edgesync/types"
	"github.com/c360/edgesync/uplink"
)

// Registry resolves the handlers for an entity kind.
type Registry struct {
	processors map[types.EntityType]uplink.Processor
	converters map[types.EntityType]downlink.Converter
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		processors: make(map[types.EntityType]uplink.Processor),
		converters: make(map[types.EntityType]downlink.Converter),
	}
}

// RegisterProcessor adds the uplink processor for its entity kind. A second
// registration for the same kind is a wiring bug and fails.
func (r *Registry) RegisterProcessor(p uplink.Processor) error {
	kind := p.EntityType()
	if _, exists := r.processors[kind]; exists {
		return fmt.Errorf("uplink processor for %s already registered", kind)
	}
	r.processors[kind] = p
	return nil
}

// RegisterConverter adds the downlink converter for its entity kind.
func (r *Registry) RegisterConverter(c downlink.Converter) error {
	kind := c.EntityType()
	if _, exists := r.converters[kind]; exists {
		return fmt.Errorf("downlink converter for %s already registered", kind)
	}
	r.converters[kind] = c
	return nil
}

// Processor returns the uplink processor for the entity kind.
func (r *Registry) Processor(kind types.EntityType) (uplink.Processor, error) {
	p, ok := r.processors[kind]
	if !ok {
		return nil, errors.WrapInvalid(errors.ErrProcessorNotRegistered,
			"Registry", "Processor", string(kind))
	}
	return p, nil
}

// Converter returns the downlink converter for the entity kind.
func (r *Registry) Converter(kind types.EntityType) (downlink.Converter, error) {
	c, ok := r.converters[kind]
	if !ok {
		return nil, errors.WrapInvalid(errors.ErrProcessorNotRegistered,
			"Registry", "Converter", string(kind))
	}
	return c, nil
}

// EntityTypes lists the kinds with a registered processor.
func (r *Registry) EntityTypes() []types.EntityType {
	out := make([]types.EntityType, 0, len(r.processors))
	for kind := range r.processors {
		out = append(out, kind)
	}
	return out
}
