// Package naming disambiguates entity names inside a uniqueness scope. The
// resolver is a best-effort pre-check; the store's unique-name claim is the
// real guarantee, and a claim rejection after a clean resolve means the
// collision appeared late and resolution should run once more.
package naming

import (
	"context"
	"math/rand"

	"github.com/c360/edgesync/errors"
	"github.com/c360/edgesync/types"
)

const alphanumeric = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// DefaultSuffixLength is the rename suffix length unless configured otherwise.
const DefaultSuffixLength = 15

// Lookup resolves a candidate name to the id currently holding it within the
// caller's scope, or ErrEntityNotFound if the name is free.
type Lookup func(ctx context.Context, name string) (types.EntityID, error)

// Resolver produces collision-free names.
type Resolver struct {
	suffixLen int
}

// NewResolver creates a resolver with the given suffix length. Non-positive
// lengths fall back to DefaultSuffixLength.
func NewResolver(suffixLen int) *Resolver {
	if suffixLen <= 0 {
		suffixLen = DefaultSuffixLength
	}
	return &Resolver{suffixLen: suffixLen}
}

// Resolve returns the name the entity should be stored under and whether a
// rename occurred. The candidate survives unchanged when the name is free or
// already held by the same entity; any other holder forces a suffixed rename.
func (r *Resolver) Resolve(ctx context.Context, candidate string, id types.EntityID,
	lookup Lookup) (string, bool, error) {

	holder, err := lookup(ctx, candidate)
	if err != nil {
		if errors.IsNotFound(err) {
			return candidate, false, nil
		}
		return "", false, errors.WrapTransient(err, "Resolver", "Resolve", "name lookup")
	}
	if holder == id {
		return candidate, false, nil
	}
	return candidate + "_" + RandomAlphanumeric(r.suffixLen), true, nil
}

// RandomAlphanumeric returns a random string of n letters and digits.
func RandomAlphanumeric(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = alphanumeric[rand.Intn(len(alphanumeric))]
	}
	return string(b)
}
