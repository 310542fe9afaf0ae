package barrier

import (
	"fmt"
	"maps"
	"slices"
	"sync"

	"grindstone.dev/grindstone/proto"
)

// Group is a named barrier group. N counts the registered barriers and W the
// identities currently waiting. Whenever a mutation leaves N > 0 and |W| = N
// the group fires: W is emptied and every listener is notified once.
type Group interface {
	Name() string

	// Listeners must be comparable; pointers are the usual choice.
	AddListener(listener Listener)
	RemoveListener(listener Listener)

	AddBarrier() error
	RemoveBarriers(n int64) error
	AddWaiter(id Identity) error
	// CancelWaiter withdraws id if it is still waiting. Unknown or already
	// released identities are ignored.
	CancelWaiter(id Identity) error
}

// GroupStatus is a point in time view of a group.
type GroupStatus struct {
	Name     string `json:"name"`
	Barriers int64  `json:"barriers"`
	Waiters  int    `json:"waiters"`
}

type groupParams struct {
	// Fire when a mutation fills the group. Mirrors leave this unset and only
	// release on an explicit fireAwaken.
	releaseOnMutation bool

	// Called with the group lock held, before the mutation is applied. An
	// error aborts the mutation.
	forward func(msg proto.Message) error

	// Called after a firing, outside the lock, with the identities released.
	onRelease func(name string, released []Identity)

	// Called with the group lock held when N reaches zero.
	onDestroy func(g *group)
}

// group is the state machine behind every variant.
type group struct {
	name      string
	params    groupParams
	listeners listenerList

	mu       sync.Mutex
	barriers int64 // Negative once the group is destroyed
	waiters  map[Identity]struct{}
}

func newGroup(name string, params groupParams) *group {
	return &group{
		name:    name,
		params:  params,
		waiters: make(map[Identity]struct{}),
	}
}

func (g *group) Name() string {
	return g.name
}

func (g *group) AddListener(listener Listener) {
	g.listeners.add(listener)
}

func (g *group) RemoveListener(listener Listener) {
	g.listeners.remove(listener)
}

func (g *group) AddBarrier() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.checkValidLocked(); err != nil {
		return err
	}
	if err := g.forwardLocked(proto.AddBarrier{Group: g.name}); err != nil {
		return err
	}

	g.barriers++
	return nil
}

func (g *group) RemoveBarriers(n int64) error {
	released, err := g.removeBarriers(n)
	if err != nil {
		return err
	}
	g.release(released)
	return nil
}

func (g *group) removeBarriers(n int64) ([]Identity, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.checkValidLocked(); err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, fmt.Errorf("group %q: can't remove %d barriers: %w", g.name, n, ErrCapacityViolation)
	}
	if free := g.barriers - int64(len(g.waiters)); n > free {
		return nil, fmt.Errorf("group %q: can't remove %d barriers from %d barriers, %d waiters: %w",
			g.name, n, g.barriers, len(g.waiters), ErrCapacityViolation)
	}
	if n == 0 {
		return nil, nil
	}
	if err := g.forwardLocked(proto.RemoveBarriers{Group: g.name, N: n}); err != nil {
		return nil, err
	}

	g.barriers -= n

	if g.barriers == 0 {
		g.barriers = -1
		if g.params.onDestroy != nil {
			g.params.onDestroy(g)
		}
		return nil, nil
	}

	return g.checkConditionLocked(), nil
}

func (g *group) AddWaiter(id Identity) error {
	released, err := g.addWaiter(id)
	if err != nil {
		return err
	}
	g.release(released)
	return nil
}

func (g *group) addWaiter(id Identity) ([]Identity, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.checkValidLocked(); err != nil {
		return nil, err
	}
	if g.barriers == 0 {
		return nil, fmt.Errorf("group %q: can't add waiter %s, no barriers: %w: %w",
			g.name, id, ErrCapacityViolation, ErrInvalidGroupState)
	}
	if _, ok := g.waiters[id]; !ok && int64(len(g.waiters)) >= g.barriers {
		return nil, fmt.Errorf("group %q: can't add waiter %s, all %d barriers waiting: %w",
			g.name, id, g.barriers, ErrCapacityViolation)
	}
	if err := g.forwardLocked(proto.AddWaiter{Group: g.name, Identity: id}); err != nil {
		return nil, err
	}

	g.waiters[id] = struct{}{}

	return g.checkConditionLocked(), nil
}

func (g *group) CancelWaiter(id Identity) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.forwardLocked(proto.CancelWaiter{Group: g.name, Identity: id}); err != nil {
		return err
	}

	delete(g.waiters, id)
	return nil
}

// fireAwaken releases every current waiter and notifies the listeners
// regardless of the counts. Mirrors use it when the coordinator opens the
// group.
func (g *group) fireAwaken() {
	g.mu.Lock()
	released := g.clearWaitersLocked()
	g.mu.Unlock()

	g.notify(released)
}

// releaseWaiters drops the given identities without notifying listeners.
func (g *group) releaseWaiters(ids []Identity) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, id := range ids {
		delete(g.waiters, id)
	}
}

func (g *group) status() GroupStatus {
	g.mu.Lock()
	defer g.mu.Unlock()

	return GroupStatus{
		Name:     g.name,
		Barriers: g.barriers,
		Waiters:  len(g.waiters),
	}
}

// Returns the barrier count and a copy of the waiters.
func (g *group) snapshot() (int64, []Identity) {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.barriers, slices.Collect(maps.Keys(g.waiters))
}

func (g *group) checkValidLocked() error {
	if g.barriers < 0 {
		return fmt.Errorf("group %q is destroyed: %w", g.name, ErrInvalidGroupState)
	}
	return nil
}

func (g *group) forwardLocked(msg proto.Message) error {
	if g.params.forward == nil {
		return nil
	}
	return g.params.forward(msg)
}

// checkConditionLocked empties W when the group is full and returns the
// released identities. The caller notifies listeners after unlocking so the
// lock is never held while the notification fans out to remote peers.
func (g *group) checkConditionLocked() []Identity {
	if !g.params.releaseOnMutation {
		return nil
	}
	if g.barriers > 0 && int64(len(g.waiters)) == g.barriers {
		return g.clearWaitersLocked()
	}
	return nil
}

func (g *group) clearWaitersLocked() []Identity {
	released := slices.Collect(maps.Keys(g.waiters))
	clear(g.waiters)
	if released == nil {
		released = []Identity{}
	}
	return released
}

// release notifies when released is non-nil, i.e. the group fired.
func (g *group) release(released []Identity) {
	if released == nil {
		return
	}
	groupsFired.Inc()
	g.notify(released)
}

func (g *group) notify(released []Identity) {
	if g.params.onRelease != nil {
		g.params.onRelease(g.name, released)
	}
	g.listeners.notify()
}

var _ Group = (*group)(nil)
