package rundev

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"grindstone.dev/grindstone/barrier"
	"grindstone.dev/grindstone/coordinator/coordinatorserver"
)

type roundRunner struct {
	barrier *barrier.Barrier
	log     *slog.Logger
}

// Wait at the barrier until rounds have completed or ctx ends. Zero rounds
// means no limit.
func (r *roundRunner) run(ctx context.Context, rounds int) error {
	for i := 1; rounds == 0 || i <= rounds; i++ {
		start := time.Now()
		opened, err := r.barrier.Await(ctx)
		if err != nil {
			return fmt.Errorf("round %d: %w", i, err)
		}
		if !opened {
			r.log.Info("stopped waiting", "round", i)
			return nil
		}
		r.log.Info("barrier opened", "round", i, "waited", time.Since(start))
	}
	return r.barrier.Cancel()
}

func waitForBarriers(ctx context.Context, coord *coordinatorserver.Server, name string, n int64) error {
	for {
		status, err := coord.Coordinator.Snapshot(ctx)
		if err != nil {
			return err
		}
		for _, g := range status.Groups {
			if g.Name == name && g.Barriers == n {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return context.Cause(ctx)
		case <-time.After(10 * time.Millisecond):
		}
	}
}
