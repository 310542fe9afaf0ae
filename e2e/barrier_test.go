package e2e_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
	"grindstone.dev/grindstone/barrier"
	"grindstone.dev/grindstone/coordinator/coordinatortest"
	"grindstone.dev/grindstone/rpc"
	"grindstone.dev/grindstone/workers/workerstest"
)

func TestGlobalBarrierOpensAcrossWorkers(t *testing.T) {
	t.Parallel()

	coord, stop := coordinatortest.Run(t)
	defer stop()

	w1, stop := workerstest.Run(t, workerstest.NewServerParams{CoordinatorAddr: coord.RPCAddr(), LogPrefix: "w1"})
	defer stop()
	w2, stop := workerstest.Run(t, workerstest.NewServerParams{CoordinatorAddr: coord.RPCAddr(), LogPrefix: "w2"})
	defer stop()

	b1, err := w1.Worker.GlobalBarriers().New("start")
	require.NoError(t, err)
	b2, err := w2.Worker.GlobalBarriers().New("start")
	require.NoError(t, err)

	// Both barriers must be counted before anyone waits, otherwise the first
	// waiter alone would satisfy the group.
	waitForGroup(t, coord, barrier.GroupStatus{Name: "start", Barriers: 2})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	for _, b := range []*barrier.Barrier{b1, b2} {
		g.Go(func() error {
			opened, err := b.Await(gctx)
			assert.True(t, opened, "barrier %s did not open", b.Name())
			return err
		})
	}
	require.NoError(t, g.Wait())

	// The admin service reports the group with no waiters after firing.
	status, err := rpc.NewCoordinatorUIConnectClient(coord.AdminAddr()).GetStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, []barrier.GroupStatus{{Name: "start", Barriers: 2, Waiters: 0}}, status.Groups)
	assert.Len(t, status.Workers, 2)
}

func TestOpenReleasesPartialMirror(t *testing.T) {
	t.Parallel()

	coord, stop := coordinatortest.Run(t)
	defer stop()

	w1, stop := workerstest.Run(t, workerstest.NewServerParams{CoordinatorAddr: coord.RPCAddr(), LogPrefix: "w1"})
	defer stop()
	w2, stop := workerstest.Run(t, workerstest.NewServerParams{CoordinatorAddr: coord.RPCAddr(), LogPrefix: "w2"})
	defer stop()

	// w1 holds two barriers and w2 one. Neither mirror can ever see its own
	// waiters reach the cluster-wide count.
	b1a, err := w1.Worker.GlobalBarriers().New("phase")
	require.NoError(t, err)
	b1b, err := w1.Worker.GlobalBarriers().New("phase")
	require.NoError(t, err)
	b2, err := w2.Worker.GlobalBarriers().New("phase")
	require.NoError(t, err)
	waitForGroup(t, coord, barrier.GroupStatus{Name: "phase", Barriers: 3})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	for _, b := range []*barrier.Barrier{b1a, b1b, b2} {
		g.Go(func() error {
			opened, err := b.Await(gctx)
			assert.True(t, opened)
			return err
		})
	}
	require.NoError(t, g.Wait())
}

func TestStoppedWorkerReleasesRemainingWaiters(t *testing.T) {
	t.Parallel()

	coord, stop := coordinatortest.Run(t)
	defer stop()

	w1, stop := workerstest.Run(t, workerstest.NewServerParams{CoordinatorAddr: coord.RPCAddr(), LogPrefix: "w1"})
	defer stop()
	w2, stopW2 := workerstest.Run(t, workerstest.NewServerParams{CoordinatorAddr: coord.RPCAddr(), LogPrefix: "w2"})

	b1, err := w1.Worker.GlobalBarriers().New("g")
	require.NoError(t, err)
	_, err = w2.Worker.GlobalBarriers().New("g")
	require.NoError(t, err)
	waitForGroup(t, coord, barrier.GroupStatus{Name: "g", Barriers: 2})

	// Deregistering w2 withdraws its barrier, leaving w1 alone in the group.
	stopW2()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	opened, err := b1.Await(ctx)
	require.NoError(t, err)
	assert.True(t, opened)
}

func TestHaltedWorkerIsPurged(t *testing.T) {
	t.Parallel()

	coord, stop := coordinatortest.Run(t, coordinatortest.WithHeartbeatDeadline(500*time.Millisecond))
	defer stop()

	w1, stop := workerstest.Run(t, workerstest.NewServerParams{CoordinatorAddr: coord.RPCAddr(), LogPrefix: "w1"})
	defer stop()
	w2, _ := workerstest.Run(t, workerstest.NewServerParams{CoordinatorAddr: coord.RPCAddr(), LogPrefix: "w2"})

	b1, err := w1.Worker.GlobalBarriers().New("g")
	require.NoError(t, err)
	_, err = w2.Worker.GlobalBarriers().New("g")
	require.NoError(t, err)
	waitForGroup(t, coord, barrier.GroupStatus{Name: "g", Barriers: 2})

	// w2 stops heartbeating without deregistering.
	w2.Halt()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	opened, err := b1.Await(ctx)
	require.NoError(t, err)
	assert.True(t, opened)

	status, err := coord.Coordinator.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, status.Workers, 1)
	assert.Equal(t, w1.Worker.ID(), status.Workers[0].ID)
}

func TestAwaitTimeoutCancelsWaiter(t *testing.T) {
	t.Parallel()

	coord, stop := coordinatortest.Run(t)
	defer stop()

	w1, stop := workerstest.Run(t, workerstest.NewServerParams{CoordinatorAddr: coord.RPCAddr(), LogPrefix: "w1"})
	defer stop()
	w2, stop := workerstest.Run(t, workerstest.NewServerParams{CoordinatorAddr: coord.RPCAddr(), LogPrefix: "w2"})
	defer stop()

	b1, err := w1.Worker.GlobalBarriers().New("g")
	require.NoError(t, err)
	_, err = w2.Worker.GlobalBarriers().New("g")
	require.NoError(t, err)
	waitForGroup(t, coord, barrier.GroupStatus{Name: "g", Barriers: 2})

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	opened, err := b1.Await(ctx)
	require.NoError(t, err)
	assert.False(t, opened)

	// The timed out handle is cancelled, removing its barrier and waiter.
	waitForGroup(t, coord, barrier.GroupStatus{Name: "g", Barriers: 1})
}

func waitForGroup(t *testing.T, coord *coordinatortest.Server, want barrier.GroupStatus) {
	t.Helper()
	assert.EventuallyWithT(t, func(t *assert.CollectT) {
		status, err := coord.Coordinator.Snapshot(context.Background())
		if !assert.NoError(t, err) {
			return
		}
		assert.Contains(t, status.Groups, want)
	}, 2*time.Second, 10*time.Millisecond)
}
