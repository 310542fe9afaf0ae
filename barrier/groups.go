package barrier

// Groups hands out the barrier groups of one process.
type Groups interface {
	Group(name string) Group
	IdentityGenerator() *IdentityGenerator
	// Snapshot returns the status of every live group ordered by name.
	Snapshot() []GroupStatus
}
