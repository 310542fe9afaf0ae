package barrier

// LocalGroups are barrier groups that never leave the process. A mutation and
// the fire check happen under one lock acquisition and listeners are
// notified directly once the lock is released.
type LocalGroups struct {
	groups     *registry
	identities *IdentityGenerator
}

func NewLocalGroups() *LocalGroups {
	return &LocalGroups{
		groups: newRegistry(func(string) groupParams {
			return groupParams{releaseOnMutation: true}
		}),
		identities: NewIdentityGenerator(LocalScope),
	}
}

func (l *LocalGroups) Group(name string) Group {
	return l.groups.Group(name)
}

func (l *LocalGroups) IdentityGenerator() *IdentityGenerator {
	return l.identities
}

func (l *LocalGroups) Snapshot() []GroupStatus {
	return l.groups.Snapshot()
}

var _ Groups = (*LocalGroups)(nil)
