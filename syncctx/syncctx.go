// Package syncctx carries the synchronization loop-guard: the id of the edge
// whose uplink message is being applied. Downstream logic (fan-out, relation
// side effects) consults it to avoid queuing the change back to the edge that
// sent it.
//
// The marker rides on the context.Context of the apply call graph rather than
// ambient mutable state. Release is automatic with the call tree, so there is
// no clear-on-every-exit-path obligation and no leakage across pooled worker
// goroutines.
package syncctx

import (
	"context"

	"github.com/c360/edgesync/types"
)

type originKey struct{}

// With returns a context marked as originating from the given edge. Uplink
// processors call this once at the start of an apply and thread the returned
// context through every persistence and side-effect call.
func With(ctx context.Context, edgeID types.EdgeID) context.Context {
	return context.WithValue(ctx, originKey{}, edgeID)
}

// Origin returns the edge that originated the in-flight apply, if any.
func Origin(ctx context.Context) (types.EdgeID, bool) {
	id, ok := ctx.Value(originKey{}).(types.EdgeID)
	return id, ok
}

// IsOrigin reports whether edgeID is the origin of the in-flight apply.
// Locally initiated changes have no origin, so every edge is a valid target.
func IsOrigin(ctx context.Context, edgeID types.EdgeID) bool {
	origin, ok := Origin(ctx)
	return ok && origin == edgeID
}
