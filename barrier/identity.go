package barrier

import (
	"sync/atomic"

	"grindstone.dev/grindstone/proto"
)

// LocalScope is the identity scope used when barriers never leave the
// process.
const LocalScope = "LOCAL"

// Identity is the token for one waiting call. Two identities are equal iff
// their scope and sequence are equal.
type Identity = proto.BarrierIdentity

// IdentityGenerator hands out identities that are unique within its scope.
// Scopes must be unique per process incarnation: a restarted process that
// reuses a scope starts counting from zero again.
type IdentityGenerator struct {
	scope string
	next  atomic.Uint64
}

func NewIdentityGenerator(scope string) *IdentityGenerator {
	return &IdentityGenerator{scope: scope}
}

func (g *IdentityGenerator) Next() Identity {
	return Identity{
		Scope:    g.scope,
		Sequence: g.next.Add(1) - 1,
	}
}

func (g *IdentityGenerator) Scope() string {
	return g.scope
}
