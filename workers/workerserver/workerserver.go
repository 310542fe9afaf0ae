package workerserver

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/pprof"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"grindstone.dev/grindstone/config"
	"grindstone.dev/grindstone/diagnostics"
	"grindstone.dev/grindstone/rpc"
	"grindstone.dev/grindstone/telemetry"
	"grindstone.dev/grindstone/util/httpu"
	"grindstone.dev/grindstone/util/netu"
	"grindstone.dev/grindstone/workers"

	"connectrpc.com/connect"
)

type Server struct {
	Worker      *workers.Worker
	httpServer  *httpu.Server
	log         *slog.Logger
	listener    net.Listener
	diagnostics []any
}

func NewServer(c *config.WorkerConfig) (*Server, error) {
	logger := slog.With("instanceID", "worker")

	coordinator := rpc.NewCoordinatorConnectClient(c.CoordinatorAddr,
		connect.WithInterceptors(telemetry.NewRPCInterceptor("coordinator")))

	diags := []any{}

	// Resolve the address the coordinator can reach this node at.
	host := c.Host
	if host == "" {
		host = netu.NodeAddress()
	}
	diags = append(diags, "nodeHost", host)

	// Create a listener so that the final port is known if 0 is passed.
	listener, err := net.Listen("tcp", c.Addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on address: %w", err)
	}
	diags = append(diags, "listeningAddr", listener.Addr().String())

	// Get the port used by the listener
	_, port, err := net.SplitHostPort(listener.Addr().String())
	if err != nil {
		return nil, fmt.Errorf("failed to get port from listener address: %w", err)
	}

	worker := workers.New(workers.NewParams{
		Host:             net.JoinHostPort(host, port),
		Coordinator:      coordinator,
		Diagnostics:      []any{"coordinator", c.CoordinatorAddr},
		RegisterInterval: c.RegisterInterval.Std(),
		Batching:         c.Batching.Params(),
	})

	mux := http.NewServeMux()

	// Register pprof handlers
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	// Prometheus metrics
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/metrics/barriers", diagnostics.WriteBarrierMetrics)

	// Barrier group state
	mux.Handle("/barriers", diagnostics.NewWorkerHandler(worker))

	mux.Handle(rpc.NewWorkerConnectHandler(worker, logger))

	return &Server{
		listener:    listener,
		Worker:      worker,
		httpServer:  httpu.NewServer(mux),
		log:         logger,
		diagnostics: diags,
	}, nil
}

// Create and run a worker server. Blocks.
func Run(c *config.WorkerConfig) error {
	server, err := NewServer(c)
	if err != nil {
		return err
	}
	return server.Start(context.Background())
}

func (s *Server) Start(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	// Start the worker loop
	g.Go(func() error {
		if err := s.Worker.Start(gctx); err != nil {
			return fmt.Errorf("worker loop failed: %v", err)
		}
		return nil
	})

	// Start the http server
	g.Go(func() error {
		s.log.Info("starting worker server", s.diagnostics...)

		if err := s.httpServer.Serve(gctx, s.listener); err != http.ErrServerClosed {
			return fmt.Errorf("failed to start http server: %w", err)
		}
		return nil
	})

	return g.Wait()
}

func (s *Server) Stop() error {
	s.log.Info("worker server shutdown", "addr", s.listener.Addr())
	if err := s.httpServer.Shutdown(context.Background()); err != nil {
		s.log.Error("requestListener.Stop error", "err", err)
	}
	return s.Worker.Stop()
}
