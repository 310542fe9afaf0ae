package workers

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/segmentio/ksuid"
	"grindstone.dev/grindstone/barrier"
	"grindstone.dev/grindstone/clocks"
	"grindstone.dev/grindstone/comm"
	"grindstone.dev/grindstone/proto"
	"grindstone.dev/grindstone/rpc/batching"
)

type NewParams struct {
	ID               string // Optional ID to override ID generation
	Host             string
	Coordinator      proto.Coordinator
	Diagnostics      []any // Debug arguments logged when starting the worker
	Clock            clocks.Clock
	LogPrefix        string // Optional log value to differentiate worker logs
	RegisterInterval time.Duration
	Batching         batching.EventBatcherParams
}

// Worker hosts the barriers of one process. Local barriers never leave the
// process; global barriers are mirrored on the coordinator, which decides
// when they open.
type Worker struct {
	id          string
	host        string
	coordinator proto.Coordinator
	diagnostics []any // List of arguments for logging
	log         *slog.Logger
	clock       clocks.Clock
	interval    time.Duration

	dispatch       *comm.DispatchRegistry
	sender         *comm.QueuedSender
	globalGroups   *barrier.ClientGroups
	localGroups    *barrier.LocalGroups
	globalBarriers *barrier.Barriers
	localBarriers  *barrier.Barriers

	registerPoller *clocks.Ticker
	ctx            context.Context
	stop           context.CancelFunc
	stopSender     context.CancelFunc
	isHalting      atomic.Bool
}

func New(params NewParams) *Worker {
	// The ID doubles as the identity scope for global barriers so it must be
	// new for every process incarnation.
	if params.ID == "" {
		params.ID = ksuid.New().String()
	}

	if params.Clock == nil {
		params.Clock = clocks.NewSystemClock()
	}

	if params.RegisterInterval == 0 {
		params.RegisterInterval = 3 * time.Second
	}

	if params.LogPrefix == "" {
		shortID := params.ID
		if len(params.ID) > 4 {
			shortID = params.ID[len(params.ID)-4:]
		}
		params.LogPrefix = "worker-" + shortID
	}

	log := slog.With("instanceID", params.LogPrefix)
	ctx, cancel := context.WithCancel(context.Background())
	senderCtx, senderCancel := context.WithCancel(context.Background())
	identity := proto.WorkerIdentity{ID: params.ID, Host: params.Host}

	w := &Worker{
		id:          params.ID,
		host:        params.Host,
		coordinator: params.Coordinator,
		diagnostics: params.Diagnostics,
		log:         log,
		clock:       params.Clock,
		interval:    params.RegisterInterval,
		dispatch:    comm.NewDispatchRegistry(),
		ctx:         ctx,
		stop:        cancel,
		stopSender:  senderCancel,
	}
	w.sender = comm.NewQueuedSender(senderCtx, comm.QueuedSenderParams{
		Transport: comm.TransportFunc(func(ctx context.Context, envelopes []proto.Envelope) error {
			return params.Coordinator.Deliver(ctx, &proto.Batch{Sender: identity, Envelopes: envelopes})
		}),
		Batching: params.Batching,
		Logger:   log,
	})
	w.globalGroups = barrier.NewClientGroups(w.sender, w.dispatch, params.ID)
	w.localGroups = barrier.NewLocalGroups()
	w.globalBarriers = barrier.NewBarriers(w.globalGroups)
	w.localBarriers = barrier.NewBarriers(w.localGroups)

	return w
}

func (w *Worker) ID() string {
	return w.id
}

func (w *Worker) Host() string {
	return w.host
}

// GlobalBarriers creates barriers shared with every worker of the cluster.
func (w *Worker) GlobalBarriers() *barrier.Barriers {
	return w.globalBarriers
}

// LocalBarriers creates barriers shared only within this worker.
func (w *Worker) LocalBarriers() *barrier.Barriers {
	return w.localBarriers
}

func (w *Worker) GlobalGroups() *barrier.ClientGroups {
	return w.globalGroups
}

func (w *Worker) LocalGroups() *barrier.LocalGroups {
	return w.localGroups
}

// HandleDeliver applies a batch pushed by the coordinator.
func (w *Worker) HandleDeliver(ctx context.Context, batch *proto.Batch) error {
	return w.dispatch.DispatchBatch(ctx, batch)
}

// Start registers with the coordinator and keeps re-registering as a
// heartbeat until ctx is cancelled or Stop is called.
func (w *Worker) Start(ctx context.Context) error {
	w.log.Info("starting worker", w.diagnostics...)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-w.ctx.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	w.registerPoller = w.clock.Every(w.interval, func(ec *clocks.EveryContext) {
		if err := w.coordinator.Register(ctx, &proto.WorkerIdentity{ID: w.id, Host: w.host}); err != nil {
			w.log.Error("failed to register with coordinator, will retry", "err", err)
			ec.RetryIn(w.interval / 3)
		}
	}, "register")
	w.registerPoller.Trigger() // Try to register immediately

	<-ctx.Done() // Afterward, begin shutdown

	w.log.Info("stopping")
	w.registerPoller.Stop()

	if w.isHalting.Load() {
		w.stopSender()
		return nil
	}

	closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer closeCancel()
	if err := w.sender.Close(closeCtx); err != nil {
		w.log.Warn("pending barrier messages were not delivered", "err", err)
	}
	w.stopSender()

	if err := w.coordinator.Deregister(closeCtx, &proto.WorkerIdentity{ID: w.id, Host: w.host}); err != nil {
		return fmt.Errorf("deregister: %w", err)
	}
	w.log.Info("stopped")
	return nil
}

// Stop is called externally to gracefully stop the worker.
func (w *Worker) Stop() error {
	w.stop()
	return nil
}

// Halt is called to immediately terminate the worker without giving it a
// chance to deregister.
func (w *Worker) Halt() {
	w.isHalting.Store(true)
	w.stop()
	w.stopSender()
}
