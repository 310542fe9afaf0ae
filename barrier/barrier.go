package barrier

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"grindstone.dev/grindstone/util/ds"
)

const maxCreateAttempts = 3

// Barriers creates Barrier handles backed by one Groups implementation.
// Handles with the same name share a single ManyListenersGroup so one firing
// wakes all of them. The shared group is forgotten when its last handle is
// cancelled.
type Barriers struct {
	groups Groups
	shared *ds.LockingMap[string, *sharedGroup]
}

type sharedGroup struct {
	group   *ManyListenersGroup
	handles int
}

func NewBarriers(groups Groups) *Barriers {
	return &Barriers{
		groups: groups,
		shared: ds.NewLockingMap[string, *sharedGroup](),
	}
}

// New creates a Barrier for name and adds its barrier to the group.
func (b *Barriers) New(name string) (*Barrier, error) {
	var err error
	for range maxCreateAttempts {
		group := b.acquire(name)

		// The group may be destroyed between lookup and AddBarrier, in which
		// case the next lookup returns a new group.
		err = group.AddBarrier()
		if err != nil {
			b.release(name, group)
		}
		if errors.Is(err, ErrInvalidGroupState) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return newBarrier(group, b.groups.IdentityGenerator(), func() { b.release(name, group) }), nil
	}
	return nil, fmt.Errorf("creating barrier %q: %w", name, err)
}

// Snapshot returns the status of the underlying groups.
func (b *Barriers) Snapshot() []GroupStatus {
	return b.groups.Snapshot()
}

// acquire returns the shared group for name, counting one more handle. A
// shared group whose delegate was destroyed is replaced.
func (b *Barriers) acquire(name string) *ManyListenersGroup {
	delegate := b.groups.Group(name)
	return b.shared.Compute(name, func(s *sharedGroup, ok bool) *sharedGroup {
		if ok && s.group.Delegate() == delegate {
			s.handles++
			return s
		}
		return &sharedGroup{group: NewManyListenersGroup(delegate), handles: 1}
	}).group
}

func (b *Barriers) release(name string, group *ManyListenersGroup) {
	var unused bool
	b.shared.Update(name, func(s *sharedGroup, ok bool) (*sharedGroup, bool) {
		if !ok || s.group != group {
			return s, ok
		}
		s.handles--
		unused = s.handles == 0
		return s, !unused
	})
	if unused {
		group.Delegate().RemoveListener(group)
	}
}

// Barrier is one participant in a named barrier group. Only one goroutine
// may Await at a time; Cancel may be called from any goroutine.
type Barrier struct {
	group      *ManyListenersGroup
	identities *IdentityGenerator
	listener   Listener
	release    func() // Drops the handle's reference to the shared group

	opMu sync.Mutex // Serializes this handle's group mutations

	mu        sync.Mutex
	wake      chan struct{} // Non-nil while waiting
	waitID    Identity
	cancelled chan struct{}
	done      bool
}

func newBarrier(group *ManyListenersGroup, identities *IdentityGenerator, release func()) *Barrier {
	b := &Barrier{
		group:      group,
		identities: identities,
		release:    release,
		cancelled:  make(chan struct{}),
	}
	b.listener = NewListener(b.awaken)
	group.AddListener(b.listener)
	return b
}

func (b *Barrier) Name() string {
	return b.group.Name()
}

// Await blocks until every barrier in the group is waiting. It returns
// true when released. If ctx ends first the barrier is cancelled and Await
// returns false with a nil error. Awaiting a cancelled barrier, or being
// cancelled while waiting, returns ErrCancelledBarrier.
func (b *Barrier) Await(ctx context.Context) (bool, error) {
	wake, err := b.startWaiting()
	if err != nil {
		return false, err
	}

	select {
	case <-wake:
		return true, nil
	case <-b.cancelled:
		return false, ErrCancelledBarrier
	case <-ctx.Done():
		select {
		case <-wake:
			return true, nil
		default:
		}
		if err := b.Cancel(); err != nil {
			return false, err
		}
		return false, nil
	}
}

func (b *Barrier) startWaiting() (chan struct{}, error) {
	b.opMu.Lock()
	defer b.opMu.Unlock()

	b.mu.Lock()
	if b.done {
		b.mu.Unlock()
		return nil, ErrCancelledBarrier
	}
	if b.wake != nil {
		b.mu.Unlock()
		return nil, ErrAwaitInProgress
	}
	id := b.identities.Next()
	wake := make(chan struct{})
	b.wake, b.waitID = wake, id
	b.mu.Unlock()

	// A local group may fire inside AddWaiter, closing wake before it returns.
	if err := b.group.AddWaiter(id); err != nil {
		b.mu.Lock()
		if b.wake == wake {
			b.wake = nil
		}
		b.mu.Unlock()
		return nil, err
	}
	return wake, nil
}

// Cancel withdraws the barrier from its group. A goroutine blocked in Await
// returns ErrCancelledBarrier. If this barrier was the only one not waiting,
// the others are released. Cancel is idempotent.
func (b *Barrier) Cancel() error {
	b.opMu.Lock()
	defer b.opMu.Unlock()

	b.mu.Lock()
	if b.done {
		b.mu.Unlock()
		return nil
	}
	b.done = true
	close(b.cancelled)
	waiting := b.wake != nil
	id := b.waitID
	b.wake = nil
	b.mu.Unlock()

	var errs []error
	if waiting {
		if err := b.group.CancelWaiter(id); err != nil {
			errs = append(errs, err)
		}
	}
	if err := b.group.RemoveBarriers(1); err != nil {
		errs = append(errs, err)
	}
	b.group.RemoveListener(b.listener)
	b.release()

	return errors.Join(errs...)
}

func (b *Barrier) awaken() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.wake != nil {
		close(b.wake)
		b.wake = nil
	}
}
