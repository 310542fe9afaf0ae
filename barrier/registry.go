package barrier

import (
	"sync"

	"github.com/google/btree"
)

// registry maps group names to live groups. A group is created on first
// reference and forgotten when it is destroyed; a later reference to the same
// name gets a new, independent group.
type registry struct {
	mu     sync.Mutex
	groups map[string]*group
	create func(name string) *group
}

// newRegistry builds a registry whose groups are made from params. The
// registry installs its own onDestroy hook.
func newRegistry(params func(name string) groupParams) *registry {
	r := &registry{
		groups: make(map[string]*group),
	}
	r.create = func(name string) *group {
		p := params(name)
		p.onDestroy = r.remove
		return newGroup(name, p)
	}
	return r
}

// Group returns the live group for name, creating it if needed.
func (r *registry) Group(name string) *group {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.groups[name]; ok {
		return existing
	}

	g := r.create(name)
	r.groups[name] = g
	return g
}

// existingGroup looks name up without creating a group.
func (r *registry) existingGroup(name string) *group {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.groups[name]
}

// remove is only called from a group's destruction path.
func (r *registry) remove(g *group) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.groups[g.name] == g {
		delete(r.groups, g.name)
		groupsDestroyed.Inc()
	}
}

func (r *registry) all() []*group {
	r.mu.Lock()
	defer r.mu.Unlock()

	groups := make([]*group, 0, len(r.groups))
	for _, g := range r.groups {
		groups = append(groups, g)
	}
	return groups
}

func (r *registry) size() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.groups)
}

// Snapshot returns the status of every live group ordered by name.
func (r *registry) Snapshot() []GroupStatus {
	tree := btree.NewG(2, func(a, b GroupStatus) bool {
		return a.Name < b.Name
	})
	for _, g := range r.all() {
		if s := g.status(); s.Barriers >= 0 {
			tree.ReplaceOrInsert(s)
		}
	}

	statuses := make([]GroupStatus, 0, tree.Len())
	tree.Ascend(func(s GroupStatus) bool {
		statuses = append(statuses, s)
		return true
	})
	return statuses
}
