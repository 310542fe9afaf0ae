package coordinatorserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"grindstone.dev/grindstone/config"
	"grindstone.dev/grindstone/coordinator"
	"grindstone.dev/grindstone/diagnostics"
	"grindstone.dev/grindstone/logging"
	"grindstone.dev/grindstone/rpc"
	"grindstone.dev/grindstone/util/httpu"
)

type Server struct {
	Coordinator   *coordinator.Coordinator
	adminServer   *httpu.Server
	AdminListener net.Listener
	rpcServer     *httpu.Server
	RPCListener   net.Listener
	log           *slog.Logger
}

// Create a coordinator server listening on the configured RPC and admin
// addresses.
func NewServer(c *config.CoordinatorConfig) (*Server, error) {
	logger := slog.With("instanceID", "coordinator")
	coord := coordinator.New(&coordinator.NewParams{
		HeartbeatDeadline: c.HeartbeatDeadline.Std(),
		Batching:          c.Batching.Params(),
		Logger:            logger,
	})

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/metrics/barriers", diagnostics.WriteBarrierMetrics)
	mux.Handle("/barriers", diagnostics.NewCoordinatorHandler(coord))
	mux.Handle(rpc.NewCoordinatorUIConnectHandler(coord))
	adminServer := httpu.NewServer(logging.NewHTTPHandler(mux, logger))
	adminListener, err := net.Listen("tcp", c.AdminAddr)
	if err != nil {
		coord.Stop(context.Background())
		return nil, fmt.Errorf("admin listener: %w", err)
	}

	mux = http.NewServeMux()
	mux.Handle(rpc.NewCoordinatorConnectHandler(coord))
	rpcServer := httpu.NewServer(mux)
	rpcListener, err := net.Listen("tcp", c.RPCAddr)
	if err != nil {
		adminListener.Close()
		coord.Stop(context.Background())
		return nil, fmt.Errorf("rpc listener: %w", err)
	}

	return &Server{
		Coordinator:   coord,
		adminServer:   adminServer,
		AdminListener: adminListener,
		rpcServer:     rpcServer,
		RPCListener:   rpcListener,
		log:           logger,
	}, nil
}

// Create and run a coordinator server. Blocks.
func Run(c *config.CoordinatorConfig) error {
	server, err := NewServer(c)
	if err != nil {
		return err
	}
	return server.Start(context.Background())
}

func (s *Server) Start(ctx context.Context) error {
	s.log.Info("starting coordinator server",
		"rpcAddr", s.RPCListener.Addr().String(),
		"adminAddr", s.AdminListener.Addr().String())

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := s.adminServer.Serve(gctx, s.AdminListener); err != http.ErrServerClosed {
			return fmt.Errorf("coordinator admin server stopped: %v", err)
		}
		return nil
	})

	g.Go(func() error {
		if err := s.rpcServer.Serve(gctx, s.RPCListener); err != http.ErrServerClosed {
			return fmt.Errorf("coordinator RPC server stopped: %w", err)
		}
		return nil
	})

	return g.Wait()
}

// Stop flushes pending broadcasts before closing the listeners.
func (s *Server) Stop(ctx context.Context) error {
	s.log.Info("stopping coordinator server")
	err := s.Coordinator.Stop(ctx)
	if s.rpcServer != nil {
		err = errors.Join(err, s.rpcServer.Shutdown(ctx))
	}
	if s.adminServer != nil {
		err = errors.Join(err, s.adminServer.Shutdown(ctx))
	}
	return err
}
