package coordinator_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"grindstone.dev/grindstone/barrier"
	"grindstone.dev/grindstone/clocks"
	"grindstone.dev/grindstone/coordinator"
	"grindstone.dev/grindstone/proto"
	"grindstone.dev/grindstone/rpc/batching"
)

type WorkerStub struct {
	id   string
	host string

	mu       sync.Mutex
	types    []string
	failures int // Deliveries to fail before accepting any
}

func (w *WorkerStub) ID() string   { return w.id }
func (w *WorkerStub) Host() string { return w.host }

func (w *WorkerStub) Deliver(ctx context.Context, batch *proto.Batch) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.failures > 0 {
		w.failures--
		return errors.New("connection reset")
	}
	for _, env := range batch.Envelopes {
		w.types = append(w.types, env.Type)
	}
	return nil
}

func (w *WorkerStub) Received() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.types...)
}

func newCoordinator(t *testing.T, clock clocks.Clock) *coordinator.Coordinator {
	c := coordinator.New(&coordinator.NewParams{
		Clock:             clock,
		HeartbeatDeadline: 10 * time.Second,
		Batching:          batching.EventBatcherParams{MaxSize: 1},
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		c.Stop(ctx)
	})
	return c
}

func deliver(t *testing.T, c *coordinator.Coordinator, worker *WorkerStub, msgs ...proto.Message) {
	t.Helper()
	batch := &proto.Batch{Sender: proto.WorkerIdentity{ID: worker.id, Host: worker.host}}
	for _, msg := range msgs {
		env, err := proto.NewEnvelope(msg)
		require.NoError(t, err)
		batch.Envelopes = append(batch.Envelopes, env)
	}
	require.NoError(t, c.HandleDeliver(context.Background(), worker, batch))
}

func TestCoordinator_BroadcastsOpenToAllWorkers(t *testing.T) {
	c := newCoordinator(t, clocks.NewFrozenClock())
	w1 := &WorkerStub{id: "w1", host: "host1"}
	w2 := &WorkerStub{id: "w2", host: "host2"}
	require.NoError(t, c.HandleRegister(w1))
	require.NoError(t, c.HandleRegister(w2))

	deliver(t, c, w1, proto.AddBarrier{Group: "g"})
	deliver(t, c, w2, proto.AddBarrier{Group: "g"})
	deliver(t, c, w1, proto.AddWaiter{Group: "g", Identity: barrier.Identity{Scope: "w1"}})
	deliver(t, c, w2, proto.AddWaiter{Group: "g", Identity: barrier.Identity{Scope: "w2"}})

	assert.EventuallyWithT(t, func(t *assert.CollectT) {
		assert.Equal(t, []string{"OpenBarrier"}, w1.Received())
		assert.Equal(t, []string{"OpenBarrier"}, w2.Received())
	}, time.Second, time.Millisecond)
}

func TestCoordinator_PurgedWorkerReleasesOthers(t *testing.T) {
	clock := clocks.NewFrozenClock()
	c := newCoordinator(t, clock)
	dead := &WorkerStub{id: "dead", host: "host1"}
	alive := &WorkerStub{id: "alive", host: "host2"}
	require.NoError(t, c.HandleRegister(dead))
	require.NoError(t, c.HandleRegister(alive))

	deliver(t, c, dead, proto.AddBarrier{Group: "g"})
	deliver(t, c, alive, proto.AddBarrier{Group: "g"})

	clock.Advance(6 * time.Second)
	deliver(t, c, alive, proto.AddWaiter{Group: "g", Identity: barrier.Identity{Scope: "alive"}})

	clock.Advance(6 * time.Second)
	clock.TickEvery("purge")

	assert.EventuallyWithT(t, func(t *assert.CollectT) {
		assert.Equal(t, []string{"OpenBarrier"}, alive.Received())
	}, time.Second, time.Millisecond)

	status, err := c.Snapshot(context.Background())
	require.NoError(t, err)
	require.Len(t, status.Workers, 1)
	assert.Equal(t, "alive", status.Workers[0].ID)
	assert.Equal(t, []barrier.GroupStatus{{Name: "g", Barriers: 1, Waiters: 0}}, status.Groups)
}

func TestCoordinator_DeregisteredWorkerCannotRejoin(t *testing.T) {
	c := newCoordinator(t, clocks.NewFrozenClock())
	w := &WorkerStub{id: "w1", host: "host1"}
	require.NoError(t, c.HandleRegister(w))
	deliver(t, c, w, proto.AddBarrier{Group: "g"})

	require.NoError(t, c.HandleDeregister(&proto.WorkerIdentity{ID: "w1", Host: "host1"}))

	status, err := c.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Empty(t, status.Groups, "the worker's only barrier was removed")

	assert.ErrorIs(t, c.HandleRegister(w), coordinator.ErrWorkerDeparted)
	err = c.HandleDeliver(context.Background(), w, &proto.Batch{Sender: proto.WorkerIdentity{ID: "w1", Host: "host1"}})
	assert.ErrorIs(t, err, coordinator.ErrWorkerDeparted)
}

func TestCoordinator_DeliverRegistersUnknownWorker(t *testing.T) {
	c := newCoordinator(t, clocks.NewFrozenClock())
	w := &WorkerStub{id: "w1", host: "host1"}

	deliver(t, c, w, proto.AddBarrier{Group: "g"})

	status, err := c.Snapshot(context.Background())
	require.NoError(t, err)
	require.Len(t, status.Workers, 1)
	assert.Equal(t, []barrier.GroupStatus{{Name: "g", Barriers: 1, Waiters: 0}}, status.Workers[0].Groups)
}

func TestCoordinator_DeliverWithoutRegistration(t *testing.T) {
	c := newCoordinator(t, clocks.NewFrozenClock())

	err := c.HandleDeliver(context.Background(), nil, &proto.Batch{Sender: proto.WorkerIdentity{ID: "ghost"}})
	assert.Error(t, err)
}

func TestCoordinator_InvalidMessagesDoNotFailDelivery(t *testing.T) {
	c := newCoordinator(t, clocks.NewFrozenClock())
	w := &WorkerStub{id: "w1", host: "host1"}
	require.NoError(t, c.HandleRegister(w))

	// Removing a barrier the worker never added is rejected but the rest of
	// the batch still applies.
	deliver(t, c, w, proto.RemoveBarriers{Group: "g", N: 1}, proto.AddBarrier{Group: "h"})

	status, err := c.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []barrier.GroupStatus{{Name: "h", Barriers: 1, Waiters: 0}}, status.Groups)
}

func TestCoordinator_StoppedCoordinatorRejectsCalls(t *testing.T) {
	c := coordinator.New(&coordinator.NewParams{Clock: clocks.NewFrozenClock()})
	require.NoError(t, c.Stop(context.Background()))

	assert.ErrorIs(t, c.HandleRegister(&WorkerStub{id: "w1", host: "host1"}), coordinator.ErrStopped)
}

func TestCoordinator_UnreachableWorkerIsDropped(t *testing.T) {
	c := newCoordinator(t, clocks.NewFrozenClock())
	broken := &WorkerStub{id: "broken", host: "host1", failures: 1}
	healthy := &WorkerStub{id: "healthy", host: "host2"}
	require.NoError(t, c.HandleRegister(broken))
	require.NoError(t, c.HandleRegister(healthy))

	deliver(t, c, broken, proto.AddBarrier{Group: "g"})
	deliver(t, c, healthy, proto.AddBarrier{Group: "g"})
	deliver(t, c, broken, proto.AddWaiter{Group: "g", Identity: barrier.Identity{Scope: "broken"}})
	deliver(t, c, healthy, proto.AddWaiter{Group: "g", Identity: barrier.Identity{Scope: "healthy"}})

	// The open can't reach the broken worker, so it is dropped along with
	// its barrier.
	assert.EventuallyWithT(t, func(t *assert.CollectT) {
		status, err := c.Snapshot(context.Background())
		require.NoError(t, err)
		require.Len(t, status.Workers, 1)
		assert.Equal(t, "healthy", status.Workers[0].ID)
		assert.Equal(t, []barrier.GroupStatus{{Name: "g", Barriers: 1, Waiters: 0}}, status.Groups)
	}, time.Second, time.Millisecond)

	assert.ErrorIs(t, c.HandleRegister(broken), coordinator.ErrWorkerDeparted)

	// The next round only needs the healthy worker.
	deliver(t, c, healthy, proto.AddWaiter{Group: "g", Identity: barrier.Identity{Scope: "healthy", Sequence: 1}})
	assert.EventuallyWithT(t, func(t *assert.CollectT) {
		assert.Equal(t, []string{"OpenBarrier", "OpenBarrier"}, healthy.Received())
	}, time.Second, time.Millisecond)
	assert.Empty(t, broken.Received())
}
