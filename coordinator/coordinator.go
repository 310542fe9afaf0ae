package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
	"grindstone.dev/grindstone/barrier"
	"grindstone.dev/grindstone/clocks"
	"grindstone.dev/grindstone/comm"
	"grindstone.dev/grindstone/proto"
	"grindstone.dev/grindstone/rpc/batching"
)

// ErrStopped is returned for calls made after Stop.
var ErrStopped = errors.New("coordinator stopped")

// Identity is the sender of every batch the coordinator pushes to workers.
var Identity = proto.WorkerIdentity{ID: "coordinator"}

// Coordinator owns the authoritative barrier groups. Worker registration,
// inbound messages and liveness purges are applied one at a time on a single
// goroutine, so group firings and their broadcasts happen in message order.
type Coordinator struct {
	log          *slog.Logger
	stateUpdates chan func()
	done         chan struct{}
	stop         context.CancelFunc
	ctx          context.Context
	registry     *Registry
	groups       *barrier.CoordinatorGroups
	dispatch     *comm.DispatchRegistry
	purgeTicker  *clocks.Ticker
	batching     batching.EventBatcherParams
}

type NewParams struct {
	Clock             clocks.Clock
	HeartbeatDeadline time.Duration // Workers silent for longer are purged
	Batching          batching.EventBatcherParams
	Logger            *slog.Logger
}

func New(params *NewParams) *Coordinator {
	// Default Heartbeat deadline to 10s
	if params.HeartbeatDeadline == 0 {
		params.HeartbeatDeadline = 10 * time.Second
	}

	// Default to system clock
	if params.Clock == nil {
		params.Clock = clocks.NewSystemClock()
	}

	// Provide default logger
	if params.Logger == nil {
		params.Logger = slog.With("instanceID", "coordinator")
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		log:          params.Logger,
		stateUpdates: make(chan func()),
		done:         make(chan struct{}),
		stop:         cancel,
		ctx:          ctx,
		registry:     NewRegistry(NewLivenessTracker(params.Clock, params.HeartbeatDeadline)),
		dispatch:     comm.NewDispatchRegistry(),
		batching:     params.Batching,
	}
	c.groups = barrier.NewCoordinatorGroups(barrier.BroadcasterFunc(c.broadcast))
	c.groups.RegisterHandlers(c.dispatch)

	go c.processStateUpdates()

	// Purge on a schedule so a dead worker is noticed even when nothing else
	// is happening.
	c.purgeTicker = params.Clock.Every(params.HeartbeatDeadline/2, func(*clocks.EveryContext) {
		_ = c.update(context.Background(), func() error { return nil })
	}, "purge")

	return c
}

func (c *Coordinator) HandleRegister(worker proto.Worker) error {
	return c.update(context.Background(), func() error {
		c.log.Debug("registering worker", "id", worker.ID(), "host", worker.Host())
		return c.registry.Register(worker, c.newConn)
	})
}

func (c *Coordinator) HandleDeregister(identity *proto.WorkerIdentity) error {
	return c.update(context.Background(), func() error {
		c.log.Debug("deregistering worker", "id", identity.ID, "host", identity.Host)
		if conn, ok := c.registry.Deregister(identity.ID); ok {
			c.disconnect(conn)
		}
		return nil
	})
}

// HandleDeliver applies a batch of barrier messages from a worker. worker is
// used to register the sender if this batch arrives before its registration;
// it may be nil. Messages that fail to apply are logged and skipped: the
// sending worker's own mirror already rejects invalid mutations, so a failure
// here means the two sides diverged and failing the RPC would not fix it.
func (c *Coordinator) HandleDeliver(ctx context.Context, worker proto.Worker, batch *proto.Batch) error {
	return c.update(ctx, func() error {
		id := batch.Sender.ID
		if worker != nil && !c.registry.Has(id) {
			if err := c.registry.Register(worker, c.newConn); err != nil {
				return err
			}
		} else if err := c.registry.Heartbeat(id); err != nil {
			return err
		}

		if err := c.dispatch.DispatchBatch(ctx, batch); err != nil {
			messagesRejected.Inc()
			c.log.Error("rejected worker messages", "worker", id, "err", err)
		}
		return nil
	})
}

// Groups returns the authoritative barrier groups. Mutations made through
// them outside the state update loop race with worker messages.
func (c *Coordinator) Groups() *barrier.CoordinatorGroups {
	return c.groups
}

// Snapshot returns the registered workers and the state of every group.
func (c *Coordinator) Snapshot(ctx context.Context) (*Status, error) {
	var status *Status
	err := c.update(ctx, func() error {
		status = &Status{Groups: c.groups.Snapshot()}
		for _, conn := range c.registry.Workers() {
			status.Workers = append(status.Workers, WorkerStatus{
				ID:     conn.worker.ID(),
				Host:   conn.worker.Host(),
				Groups: c.groups.PartitionSnapshot(conn.worker.ID()),
			})
		}
		return nil
	})
	return status, err
}

// Stop flushes pending messages to workers and ends the state update loop.
func (c *Coordinator) Stop(ctx context.Context) error {
	c.purgeTicker.Stop()

	var conns []*workerConn
	if err := c.update(ctx, func() error {
		conns = c.registry.Workers()
		return nil
	}); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, conn := range conns {
		g.Go(func() error {
			if err := conn.sender.Close(gctx); err != nil {
				return fmt.Errorf("closing sender for worker %s: %w", conn.worker.ID(), err)
			}
			return nil
		})
	}
	err := g.Wait()

	c.stop()
	<-c.done
	return err
}

// Evaluate the cluster state after every update. This method and others that
// modify the cluster state are invoked serially.
func (c *Coordinator) processStateUpdates() {
	defer close(c.done)

	for {
		select {
		case update := <-c.stateUpdates:
			update()
		case <-c.ctx.Done():
			return
		}

		for _, conn := range c.registry.Purge() {
			c.log.Info("purged unresponsive worker", "id", conn.worker.ID())
			workersPurged.Inc()
			c.disconnect(conn)
		}

		if c.registry.HasChanges() {
			c.log.Info("registry updated", c.registry.Diagnostics()...)
			c.registry.AcknowledgeChanges()
		}
	}
}

// update runs fn on the state update loop and returns its error.
func (c *Coordinator) update(ctx context.Context, fn func() error) error {
	errCh := make(chan error, 1)
	select {
	case c.stateUpdates <- func() { errCh <- fn() }:
	case <-c.ctx.Done():
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// disconnect withdraws everything the worker contributed to barrier groups
// and stops sending to it.
func (c *Coordinator) disconnect(conn *workerConn) {
	if err := c.groups.CancelAll(conn.worker.ID()); err != nil {
		c.log.Error("cancelling barriers of departed worker", "id", conn.worker.ID(), "err", err)
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := conn.sender.Close(ctx); err != nil {
			c.log.Debug("closing sender of departed worker", "id", conn.worker.ID(), "err", err)
		}
	}()
}

// broadcast is called from the state update loop whenever an authoritative
// group fires.
func (c *Coordinator) broadcast(msg proto.Message) {
	for _, conn := range c.registry.Workers() {
		if err := conn.sender.Queue(msg); err != nil {
			c.log.Error("failed to queue message for worker", "id", conn.worker.ID(), "type", msg.MessageType(), "err", err)
		}
	}
}

func (c *Coordinator) newConn(worker proto.Worker) *workerConn {
	conn := &workerConn{worker: worker}
	conn.sender = comm.NewQueuedSender(c.ctx, comm.QueuedSenderParams{
		Transport: comm.TransportFunc(func(ctx context.Context, envelopes []proto.Envelope) error {
			return worker.Deliver(ctx, &proto.Batch{Sender: Identity, Envelopes: envelopes})
		}),
		Batching:  c.batching,
		Logger:    c.log.With("worker", worker.ID()),
		OnFailure: func(err error) { go c.dropUnreachable(conn, err) },
	})
	return conn
}

// dropUnreachable removes a worker whose sender broke as if it had
// deregistered. Its barrier contributions are cancelled and its next call is
// rejected with ErrWorkerDeparted.
func (c *Coordinator) dropUnreachable(conn *workerConn, cause error) {
	err := c.update(context.Background(), func() error {
		id := conn.worker.ID()
		if current, ok := c.registry.Conn(id); !ok || current != conn {
			return nil
		}
		c.registry.Deregister(id)
		c.log.Warn("dropping unreachable worker", "id", id, "err", cause)
		workersUnreachable.Inc()
		c.disconnect(conn)
		return nil
	})
	if err != nil && !errors.Is(err, ErrStopped) {
		c.log.Error("dropping unreachable worker", "id", conn.worker.ID(), "err", err)
	}
}
