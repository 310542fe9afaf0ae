package workerstest

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"
	"grindstone.dev/grindstone/clocks"
	"grindstone.dev/grindstone/rpc"
	"grindstone.dev/grindstone/rpc/batching"
	"grindstone.dev/grindstone/workers"
)

type server struct {
	Worker     *workers.Worker
	httpServer *http.Server
	log        *slog.Logger
	listener   net.Listener
}

type NewServerParams struct {
	CoordinatorAddr string       // The address used to reach the coordinator
	Clock           clocks.Clock // An optional clock used for testing
	LogPrefix       string       // Optional log prefix for differentiating different worker logs
}

func NewServer(t *testing.T, params NewServerParams) *server {
	coordinator := rpc.NewCoordinatorConnectClient(params.CoordinatorAddr)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen on address: %v", err)
	}

	worker := workers.New(workers.NewParams{
		Host:             listener.Addr().String(),
		Coordinator:      coordinator,
		Diagnostics:      []any{"coordinator", params.CoordinatorAddr},
		Clock:            params.Clock,
		LogPrefix:        params.LogPrefix,
		RegisterInterval: 100 * time.Millisecond,
		Batching: batching.EventBatcherParams{
			MaxSize:  2,
			MaxDelay: 5 * time.Millisecond,
		},
	})

	logger := slog.With("instanceID", "worker")
	mux := http.NewServeMux()
	mux.Handle(rpc.NewWorkerConnectHandler(worker, logger))

	return &server{
		Worker:     worker,
		listener:   listener,
		httpServer: &http.Server{Handler: mux},
		log:        logger,
	}
}

// Create and run a test server. Any errors fail the test.
func Run(t *testing.T, params NewServerParams) (server *server, stop func()) {
	server = NewServer(t, params)
	go func() {
		err := server.Start(context.Background())
		if err != nil {
			t.Errorf("server.Start error: %v", err)
		}
	}()
	return server, func() {
		err := server.Stop()
		if err != nil {
			t.Fatalf("server.Stop error: %v", err)
		}
	}
}

func (s *server) Start(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	// Start the worker loop
	g.Go(func() error {
		if err := s.Worker.Start(ctx); err != nil {
			return fmt.Errorf("worker loop failed: %v", err)
		}
		return nil
	})

	// Start the http server
	g.Go(func() error {
		// Shutdown the server when context canceled
		go func() {
			<-ctx.Done()
			s.httpServer.Shutdown(context.Background())
		}()

		s.log.Info("starting worker server", "addr", s.listener.Addr().String())
		if err := s.httpServer.Serve(s.listener); err != http.ErrServerClosed {
			return fmt.Errorf("failed to start http server: %w", err)
		}
		return nil
	})

	return g.Wait()
}

func (s *server) Addr() string {
	return s.listener.Addr().String()
}

func (s *server) Stop() error {
	s.log.Info("worker server shutdown", "addr", s.Addr())
	if err := s.Worker.Stop(); err != nil {
		return fmt.Errorf("worker server stopped: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.log.Error("requestListener.Stop error", "err", err)
	}

	return nil
}

// Immediately stop the server, preventing graceful shutdown.
func (s *server) Halt() {
	s.log.Info("Halt")
	s.httpServer.Close()
	s.Worker.Halt()
}
