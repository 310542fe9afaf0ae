package workers_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
	"grindstone.dev/grindstone/barrier"
	"grindstone.dev/grindstone/clocks"
	"grindstone.dev/grindstone/coordinator"
	"grindstone.dev/grindstone/proto"
	"grindstone.dev/grindstone/rpc"
	"grindstone.dev/grindstone/rpc/batching"
	"grindstone.dev/grindstone/util/ds"
	"grindstone.dev/grindstone/workers"
	"grindstone.dev/grindstone/workers/workerstest"
)

type cluster struct {
	coordinator *coordinator.Coordinator
	client      proto.Coordinator
	workers     *ds.LockingMap[string, *workers.Worker]
}

func newCluster(t *testing.T) *cluster {
	c := &cluster{
		coordinator: coordinator.New(&coordinator.NewParams{
			Clock:    clocks.NewFrozenClock(),
			Batching: batching.EventBatcherParams{MaxSize: 1},
		}),
		workers: ds.NewLockingMap[string, *workers.Worker](),
	}
	c.client = rpc.NewCoordinatorEmbeddedClient(c.coordinator, func(identity *proto.WorkerIdentity) proto.Worker {
		w, ok := c.workers.Get(identity.ID)
		if !ok {
			return nil
		}
		return rpc.NewWorkerEmbeddedClient(w)
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		c.coordinator.Stop(ctx)
	})
	return c
}

func (c *cluster) startWorker(t *testing.T, id string) *workers.Worker {
	w := workers.New(workers.NewParams{
		ID:          id,
		Host:        id + ".local",
		Coordinator: c.client,
		Clock:       clocks.NewFrozenClock(),
		Batching:    batching.EventBatcherParams{MaxSize: 1},
	})
	c.workers.Put(id, w)

	done := make(chan error, 1)
	go func() { done <- w.Start(context.Background()) }()
	t.Cleanup(func() {
		require.NoError(t, w.Stop())
		require.NoError(t, <-done)
	})

	require.EventuallyWithT(t, func(t *assert.CollectT) {
		status, err := c.coordinator.Snapshot(context.Background())
		if !assert.NoError(t, err) {
			return
		}
		ids := make([]string, 0, len(status.Workers))
		for _, ws := range status.Workers {
			ids = append(ids, ws.ID)
		}
		assert.Contains(t, ids, id)
	}, time.Second, time.Millisecond)
	return w
}

func TestWorker_GlobalBarrierSpansWorkers(t *testing.T) {
	c := newCluster(t)
	w1 := c.startWorker(t, "w1")
	w2 := c.startWorker(t, "w2")

	b1, err := w1.GlobalBarriers().New("phase")
	require.NoError(t, err)
	b2, err := w2.GlobalBarriers().New("phase")
	require.NoError(t, err)

	// The coordinator must know about both barriers before either waits,
	// otherwise the first waiter would be released alone.
	require.EventuallyWithT(t, func(t *assert.CollectT) {
		status, err := c.coordinator.Snapshot(context.Background())
		if !assert.NoError(t, err) {
			return
		}
		assert.Equal(t, []barrier.GroupStatus{{Name: "phase", Barriers: 2, Waiters: 0}}, status.Groups)
	}, time.Second, time.Millisecond)

	first := make(chan bool, 1)
	go func() {
		released, _ := b1.Await(context.Background())
		first <- released
	}()

	select {
	case <-first:
		t.Fatal("released before the second worker waited")
	case <-time.After(20 * time.Millisecond):
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	released, err := b2.Await(ctx)
	require.NoError(t, err)
	assert.True(t, released)
	assert.True(t, <-first)
}

func TestWorker_LocalBarriersStayInProcess(t *testing.T) {
	c := newCluster(t)
	w := c.startWorker(t, "w1")

	g, ctx := errgroup.WithContext(context.Background())
	for range 3 {
		b, err := w.LocalBarriers().New("local")
		require.NoError(t, err)
		g.Go(func() error {
			_, err := b.Await(ctx)
			return err
		})
	}
	require.NoError(t, g.Wait())

	status, err := c.coordinator.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Empty(t, status.Groups, "local groups are never forwarded")
	assert.Len(t, w.LocalGroups().Snapshot(), 1)
}

func TestWorker_GeneratesUniqueIDs(t *testing.T) {
	a := workers.New(workers.NewParams{Coordinator: proto.NoopCoordinator{}})
	b := workers.New(workers.NewParams{Coordinator: proto.NoopCoordinator{}})

	assert.NotEqual(t, a.ID(), b.ID())
	assert.Equal(t, a.ID(), a.GlobalGroups().IdentityGenerator().Scope())
}

func TestWorker_RegistersAndDeregisters(t *testing.T) {
	coordinator := &workerstest.RecordingCoordinator{}
	w := workers.New(workers.NewParams{
		ID:          "w1",
		Host:        "w1.local",
		Coordinator: coordinator,
		Clock:       clocks.NewFrozenClock(),
	})

	done := make(chan error, 1)
	go func() { done <- w.Start(context.Background()) }()

	assert.EventuallyWithT(t, func(t *assert.CollectT) {
		assert.Equal(t, []string{"w1"}, coordinator.Registered())
	}, time.Second, time.Millisecond)

	b, err := w.GlobalBarriers().New("g")
	require.NoError(t, err)
	require.NoError(t, b.Cancel())

	require.NoError(t, w.Stop())
	require.NoError(t, <-done)

	assert.Equal(t, []string{"AddBarrier", "RemoveBarriers"}, coordinator.MessageTypes(),
		"queued messages are flushed before deregistering")
	assert.Equal(t, []string{"w1"}, coordinator.Deregistered())
}

func TestWorker_HaltSkipsDeregistration(t *testing.T) {
	coordinator := &workerstest.RecordingCoordinator{}
	w := workers.New(workers.NewParams{
		Coordinator: coordinator,
		Clock:       clocks.NewFrozenClock(),
	})

	done := make(chan error, 1)
	go func() { done <- w.Start(context.Background()) }()

	w.Halt()
	require.NoError(t, <-done)
	assert.Empty(t, coordinator.Deregistered())
}
