package rundev

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"grindstone.dev/grindstone/config"
	"grindstone.dev/grindstone/coordinator/coordinatorserver"
	"grindstone.dev/grindstone/workers/workerserver"
)

type RunParams struct {
	Workers   int    // Number of worker servers to start
	Rounds    int    // Times every worker passes the barrier before exiting, 0 runs until interrupted
	Barrier   string // Name of the global barrier the workers share
	AdminAddr string
}

// Run starts a local cluster of one coordinator and several workers that
// repeatedly meet at a global barrier.
func Run(params RunParams) error {
	if params.Workers <= 0 {
		return fmt.Errorf("at least one worker is required")
	}
	if params.Barrier == "" {
		params.Barrier = "round"
	}

	// Stop everything on ctrl-c
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Start the coordinator on a random RPC port
	coordConfig := config.DefaultCoordinatorConfig()
	coordConfig.RPCAddr = "127.0.0.1:0"
	if params.AdminAddr != "" {
		coordConfig.AdminAddr = params.AdminAddr
	}
	coord, err := coordinatorserver.NewServer(coordConfig)
	if err != nil {
		return err
	}

	coordGroup, gctx := errgroup.WithContext(ctx)
	coordGroup.Go(func() error {
		return coord.Start(gctx)
	})
	if err := waitUntilHealthy(gctx, coord.AdminListener.Addr().String(), 100*time.Millisecond, 2*time.Second); err != nil {
		return err
	}

	workerConfig := config.DefaultWorkerConfig()
	workerConfig.Host = "127.0.0.1"
	workerConfig.Addr = "127.0.0.1:0"
	workerConfig.CoordinatorAddr = coord.RPCListener.Addr().String()
	workerConfig.RegisterInterval = config.Duration(time.Second)

	workerGroup, wctx := errgroup.WithContext(gctx)
	servers := make([]*workerserver.Server, params.Workers)
	for i := range servers {
		servers[i], err = workerserver.NewServer(workerConfig)
		if err != nil {
			return err
		}
		server := servers[i]
		workerGroup.Go(func() error {
			return server.Start(wctx)
		})
	}

	// Every worker adds its barrier before the first round, otherwise early
	// workers could open the barrier among themselves.
	handles := make([]*roundRunner, len(servers))
	for i, server := range servers {
		b, err := server.Worker.GlobalBarriers().New(params.Barrier)
		if err != nil {
			return err
		}
		handles[i] = &roundRunner{barrier: b, log: slog.With("instanceID", fmt.Sprintf("worker-%d", i))}
	}
	if err := waitForBarriers(wctx, coord, params.Barrier, int64(len(servers))); err != nil {
		return err
	}

	rounds, roundsCtx := errgroup.WithContext(wctx)
	for _, h := range handles {
		rounds.Go(func() error {
			return h.run(roundsCtx, params.Rounds)
		})
	}
	roundsErr := rounds.Wait()

	// Workers must finish deregistering before the coordinator goes away.
	for _, server := range servers {
		if err := server.Stop(); err != nil {
			slog.Warn("stopping worker", "err", err)
		}
	}
	workersErr := workerGroup.Wait()

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	coordErr := errors.Join(coord.Stop(stopCtx), coordGroup.Wait())

	return errors.Join(roundsErr, workersErr, coordErr)
}
