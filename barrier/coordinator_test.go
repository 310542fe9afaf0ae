package barrier_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"grindstone.dev/grindstone/barrier"
	"grindstone.dev/grindstone/comm"
	"grindstone.dev/grindstone/proto"
)

type recordingBroadcaster struct {
	mu       sync.Mutex
	messages []proto.Message
}

func (b *recordingBroadcaster) Broadcast(msg proto.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages = append(b.messages, msg)
}

func (b *recordingBroadcaster) Take() []proto.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	msgs := b.messages
	b.messages = nil
	return msgs
}

func TestCoordinatorGroups_FiresAcrossWorkers(t *testing.T) {
	broadcaster := &recordingBroadcaster{}
	groups := barrier.NewCoordinatorGroups(broadcaster)

	x := barrier.Identity{Scope: "w1", Sequence: 0}
	y := barrier.Identity{Scope: "w2", Sequence: 0}

	require.NoError(t, groups.Apply("w1", proto.AddBarrier{Group: "g"}))
	require.NoError(t, groups.Apply("w2", proto.AddBarrier{Group: "g"}))
	require.NoError(t, groups.Apply("w1", proto.AddWaiter{Group: "g", Identity: x}))
	assert.Empty(t, broadcaster.Take())

	require.NoError(t, groups.Apply("w2", proto.AddWaiter{Group: "g", Identity: y}))
	assert.Equal(t, []proto.Message{proto.OpenBarrier{Group: "g"}}, broadcaster.Take())

	assert.Equal(t, []barrier.GroupStatus{{Name: "g", Barriers: 2, Waiters: 0}}, groups.Snapshot())
	assert.Equal(t, []barrier.GroupStatus{{Name: "g", Barriers: 1, Waiters: 0}}, groups.PartitionSnapshot("w1"),
		"released identities are cleared from partitions")
	assert.Equal(t, []barrier.GroupStatus{{Name: "g", Barriers: 1, Waiters: 0}}, groups.PartitionSnapshot("w2"))
}

func TestCoordinatorGroups_RejectsMoreThanWorkerContributed(t *testing.T) {
	groups := barrier.NewCoordinatorGroups(&recordingBroadcaster{})

	require.NoError(t, groups.Apply("w1", proto.AddBarrier{Group: "g"}))
	require.NoError(t, groups.Apply("w2", proto.AddBarrier{Group: "g"}))

	err := groups.Apply("w1", proto.RemoveBarriers{Group: "g", N: 2})
	assert.ErrorIs(t, err, barrier.ErrCapacityViolation, "w1 only owns one barrier")

	assert.Equal(t, []barrier.GroupStatus{{Name: "g", Barriers: 2, Waiters: 0}}, groups.Snapshot())
}

func TestCoordinatorGroups_CancelAllReleasesRemainingWorkers(t *testing.T) {
	broadcaster := &recordingBroadcaster{}
	groups := barrier.NewCoordinatorGroups(broadcaster)

	require.NoError(t, groups.Apply("w1", proto.AddBarrier{Group: "g"}))
	require.NoError(t, groups.Apply("w2", proto.AddBarrier{Group: "g"}))
	require.NoError(t, groups.Apply("w2", proto.AddBarrier{Group: "g"}))
	require.NoError(t, groups.Apply("w1", proto.AddWaiter{Group: "g", Identity: barrier.Identity{Scope: "w1"}}))
	require.NoError(t, groups.Apply("w2", proto.AddWaiter{Group: "g", Identity: barrier.Identity{Scope: "w2"}}))

	require.NoError(t, groups.CancelAll("w1"))
	assert.Empty(t, broadcaster.Take(), "w2 still has a free barrier")
	assert.Equal(t, []barrier.GroupStatus{{Name: "g", Barriers: 2, Waiters: 1}}, groups.Snapshot())
	assert.Nil(t, groups.PartitionSnapshot("w1"))

	require.NoError(t, groups.Apply("w3", proto.AddBarrier{Group: "h"}))
	require.NoError(t, groups.Apply("w2", proto.AddBarrier{Group: "h"}))
	require.NoError(t, groups.Apply("w2", proto.AddWaiter{Group: "h", Identity: barrier.Identity{Scope: "w2", Sequence: 1}}))

	require.NoError(t, groups.CancelAll("w3"))
	assert.Equal(t, []proto.Message{proto.OpenBarrier{Group: "h"}}, broadcaster.Take(),
		"removing the dead worker's barrier fires the group")
}

func TestCoordinatorGroups_CancelAllDestroysAbandonedGroups(t *testing.T) {
	groups := barrier.NewCoordinatorGroups(&recordingBroadcaster{})

	require.NoError(t, groups.Apply("w1", proto.AddBarrier{Group: "g"}))
	require.NoError(t, groups.Apply("w1", proto.AddBarrier{Group: "g"}))
	require.NoError(t, groups.CancelAll("w1"))

	assert.Empty(t, groups.Snapshot())
	assert.NoError(t, groups.CancelAll("w1"), "unknown workers are ignored")
}

func TestCoordinatorGroups_CancelWaiterForUnknownGroup(t *testing.T) {
	groups := barrier.NewCoordinatorGroups(&recordingBroadcaster{})

	err := groups.Apply("w1", proto.CancelWaiter{Group: "g", Identity: barrier.Identity{Scope: "w1"}})
	assert.NoError(t, err)
	assert.Empty(t, groups.Snapshot(), "cancel does not create groups")
}

func TestCoordinatorGroups_DispatchesWorkerMessages(t *testing.T) {
	broadcaster := &recordingBroadcaster{}
	groups := barrier.NewCoordinatorGroups(broadcaster)
	dispatch := comm.NewDispatchRegistry()
	groups.RegisterHandlers(dispatch)

	batch := &proto.Batch{Sender: proto.WorkerIdentity{ID: "w1"}}
	for _, msg := range []proto.Message{
		proto.AddBarrier{Group: "g"},
		proto.AddWaiter{Group: "g", Identity: barrier.Identity{Scope: "w1"}},
	} {
		env, err := proto.NewEnvelope(msg)
		require.NoError(t, err)
		batch.Envelopes = append(batch.Envelopes, env)
	}

	require.NoError(t, dispatch.DispatchBatch(context.Background(), batch))
	assert.Equal(t, []proto.Message{proto.OpenBarrier{Group: "g"}}, broadcaster.Take())
}

// A tiny in-memory network: worker mirrors forward to the coordinator and the
// coordinator's broadcasts reach every worker, both delivered when pumped.
type loopback struct {
	t           *testing.T
	coordinator *barrier.CoordinatorGroups
	mu          sync.Mutex
	inbound     []workerMessage
	outbound    []proto.Message
	workers     map[string]*comm.DispatchRegistry
}

type workerMessage struct {
	worker string
	msg    proto.Message
}

type loopbackSender struct {
	l      *loopback
	worker string
}

func (s *loopbackSender) Queue(msg proto.Message) error {
	s.l.mu.Lock()
	defer s.l.mu.Unlock()
	s.l.inbound = append(s.l.inbound, workerMessage{s.worker, msg})
	return nil
}

func newLoopback(t *testing.T) *loopback {
	l := &loopback{t: t, workers: make(map[string]*comm.DispatchRegistry)}
	l.coordinator = barrier.NewCoordinatorGroups(barrier.BroadcasterFunc(func(msg proto.Message) {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.outbound = append(l.outbound, msg)
	}))
	return l
}

func (l *loopback) worker(id string) *barrier.ClientGroups {
	dispatch := comm.NewDispatchRegistry()
	l.workers[id] = dispatch
	return barrier.NewClientGroups(&loopbackSender{l: l, worker: id}, dispatch, id)
}

// pump delivers queued messages until the network is quiet.
func (l *loopback) pump() {
	for {
		l.mu.Lock()
		inbound, outbound := l.inbound, l.outbound
		l.inbound, l.outbound = nil, nil
		l.mu.Unlock()

		if len(inbound) == 0 && len(outbound) == 0 {
			return
		}
		for _, m := range inbound {
			require.NoError(l.t, l.coordinator.Apply(m.worker, m.msg))
		}
		for _, msg := range outbound {
			for _, dispatch := range l.workers {
				openGroup(l.t, dispatch, msg.(proto.OpenBarrier).Group)
			}
		}
	}
}

func TestDistributedGroup_OpenReachesEveryWorker(t *testing.T) {
	net := newLoopback(t)
	w1, w2 := net.worker("w1"), net.worker("w2")
	l1, l2 := &countingListener{}, &countingListener{}
	w1.Group("g").AddListener(l1)
	w2.Group("g").AddListener(l2)

	require.NoError(t, w1.Group("g").AddBarrier())
	require.NoError(t, w2.Group("g").AddBarrier())
	require.NoError(t, w2.Group("g").AddBarrier())
	net.pump()

	require.NoError(t, w1.Group("g").AddWaiter(w1.IdentityGenerator().Next()))
	require.NoError(t, w2.Group("g").AddWaiter(w2.IdentityGenerator().Next()))
	net.pump()
	assert.Equal(t, 0, l1.Count())
	assert.Equal(t, 0, l2.Count())

	require.NoError(t, w2.Group("g").AddWaiter(w2.IdentityGenerator().Next()))
	net.pump()
	assert.Equal(t, 1, l1.Count())
	assert.Equal(t, 1, l2.Count())

	for _, groups := range []*barrier.ClientGroups{w1, w2} {
		status, _ := statusOf(t, groups, "g")
		assert.Equal(t, 0, status.Waiters)
	}
	assert.Equal(t, []barrier.GroupStatus{{Name: "g", Barriers: 3, Waiters: 0}}, net.coordinator.Snapshot())
}
