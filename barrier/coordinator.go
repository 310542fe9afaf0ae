package barrier

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"grindstone.dev/grindstone/comm"
	"grindstone.dev/grindstone/proto"
)

// Broadcaster sends a message to every connected worker.
type Broadcaster interface {
	Broadcast(msg proto.Message)
}

type BroadcasterFunc func(msg proto.Message)

func (f BroadcasterFunc) Broadcast(msg proto.Message) { f(msg) }

// CoordinatorGroups hold the authoritative state of every distributed
// barrier group. Mutations arrive as messages from workers and are first
// checked against a per-worker partition that mirrors what that worker has
// contributed, then applied to the authoritative group. Only the
// authoritative group fires, and each firing is broadcast to all workers as
// an OpenBarrier message.
type CoordinatorGroups struct {
	authoritative *registry
	broadcaster   Broadcaster

	mu         sync.Mutex
	partitions map[string]*registry // Keyed by worker ID
}

func NewCoordinatorGroups(broadcaster Broadcaster) *CoordinatorGroups {
	c := &CoordinatorGroups{
		broadcaster: broadcaster,
		partitions:  make(map[string]*registry),
	}
	c.authoritative = newRegistry(func(string) groupParams {
		return groupParams{
			releaseOnMutation: true,
			onRelease:         c.onRelease,
		}
	})
	return c
}

// RegisterHandlers routes the worker mutation messages on dispatch to these
// groups.
func (c *CoordinatorGroups) RegisterHandlers(dispatch *comm.DispatchRegistry) {
	comm.Set(dispatch, func(ctx context.Context, sender proto.WorkerIdentity, msg proto.AddBarrier) error {
		return c.Apply(sender.ID, msg)
	})
	comm.Set(dispatch, func(ctx context.Context, sender proto.WorkerIdentity, msg proto.RemoveBarriers) error {
		return c.Apply(sender.ID, msg)
	})
	comm.Set(dispatch, func(ctx context.Context, sender proto.WorkerIdentity, msg proto.AddWaiter) error {
		return c.Apply(sender.ID, msg)
	})
	comm.Set(dispatch, func(ctx context.Context, sender proto.WorkerIdentity, msg proto.CancelWaiter) error {
		return c.Apply(sender.ID, msg)
	})
}

// Group returns the authoritative group for name.
func (c *CoordinatorGroups) Group(name string) Group {
	return c.authoritative.Group(name)
}

// Apply performs one mutation message sent by worker.
func (c *CoordinatorGroups) Apply(worker string, msg proto.Message) error {
	partition := c.partition(worker)

	switch m := msg.(type) {
	case proto.AddBarrier:
		if err := partition.Group(m.Group).AddBarrier(); err != nil {
			return err
		}
		return c.diverged(worker, msg, c.authoritative.Group(m.Group).AddBarrier())

	case proto.RemoveBarriers:
		if err := partition.Group(m.Group).RemoveBarriers(m.N); err != nil {
			return err
		}
		return c.diverged(worker, msg, c.authoritative.Group(m.Group).RemoveBarriers(m.N))

	case proto.AddWaiter:
		if err := partition.Group(m.Group).AddWaiter(m.Identity); err != nil {
			return err
		}
		return c.diverged(worker, msg, c.authoritative.Group(m.Group).AddWaiter(m.Identity))

	case proto.CancelWaiter:
		if g := partition.existingGroup(m.Group); g != nil {
			if err := g.CancelWaiter(m.Identity); err != nil {
				return err
			}
		}
		if g := c.authoritative.existingGroup(m.Group); g != nil {
			return g.CancelWaiter(m.Identity)
		}
		return nil

	default:
		return fmt.Errorf("%w: %q", comm.ErrUnknownMessageType, msg.MessageType())
	}
}

// CancelAll withdraws everything worker contributed: its waiters are
// cancelled and its barriers removed. Removing barriers can fire groups that
// were only waiting on the departed worker.
func (c *CoordinatorGroups) CancelAll(worker string) error {
	c.mu.Lock()
	partition, ok := c.partitions[worker]
	delete(c.partitions, worker)
	c.mu.Unlock()

	if !ok {
		return nil
	}

	var errs []error
	for _, pg := range partition.all() {
		barriers, waiters := pg.snapshot()

		g := c.authoritative.existingGroup(pg.name)
		if g == nil {
			continue
		}
		for _, id := range waiters {
			if err := g.CancelWaiter(id); err != nil {
				errs = append(errs, err)
			}
		}
		if barriers > 0 {
			if err := g.RemoveBarriers(barriers); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// Snapshot returns the authoritative status of every live group.
func (c *CoordinatorGroups) Snapshot() []GroupStatus {
	return c.authoritative.Snapshot()
}

// PartitionSnapshot returns what worker currently contributes to each group.
func (c *CoordinatorGroups) PartitionSnapshot(worker string) []GroupStatus {
	c.mu.Lock()
	partition, ok := c.partitions[worker]
	c.mu.Unlock()

	if !ok {
		return nil
	}
	return partition.Snapshot()
}

func (c *CoordinatorGroups) partition(worker string) *registry {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.partitions[worker]
	if !ok {
		p = newRegistry(func(string) groupParams {
			return groupParams{}
		})
		c.partitions[worker] = p
	}
	return p
}

// onRelease runs after an authoritative group fires.
func (c *CoordinatorGroups) onRelease(name string, released []Identity) {
	c.mu.Lock()
	partitions := make([]*registry, 0, len(c.partitions))
	for _, p := range c.partitions {
		partitions = append(partitions, p)
	}
	c.mu.Unlock()

	for _, p := range partitions {
		if g := p.existingGroup(name); g != nil {
			g.releaseWaiters(released)
		}
	}

	opensBroadcast.Inc()
	c.broadcaster.Broadcast(proto.OpenBarrier{Group: name})
}

func (c *CoordinatorGroups) diverged(worker string, msg proto.Message, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("applying %s from worker %s to authoritative group: %w", msg.MessageType(), worker, err)
}
