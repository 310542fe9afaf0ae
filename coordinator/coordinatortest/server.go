package coordinatortest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"
	"grindstone.dev/grindstone/clocks"
	"grindstone.dev/grindstone/coordinator"
	"grindstone.dev/grindstone/diagnostics"
	"grindstone.dev/grindstone/rpc"
	"grindstone.dev/grindstone/rpc/batching"
)

// Create a coordinator server for testing on the given listeners.
func NewServer(rpcListener, adminListener net.Listener, options ...func(*coordinator.NewParams)) *Server {
	logger := slog.With("instanceID", "coordinator")
	params := &coordinator.NewParams{
		Clock:  clocks.NewSystemClock(),
		Logger: logger,
		Batching: batching.EventBatcherParams{
			MaxSize:  2,
			MaxDelay: 5 * time.Millisecond,
		},
	}
	for _, o := range options {
		o(params)
	}
	coord := coordinator.New(params)

	mux := http.NewServeMux()
	mux.Handle("/barriers", diagnostics.NewCoordinatorHandler(coord))
	mux.Handle(rpc.NewCoordinatorUIConnectHandler(coord))
	adminServer := &http.Server{Handler: mux}

	mux = http.NewServeMux()
	mux.Handle(rpc.NewCoordinatorConnectHandler(coord))
	rpcServer := &http.Server{Handler: mux}

	return &Server{
		Coordinator:   coord,
		adminServer:   adminServer,
		adminListener: adminListener,
		rpcServer:     rpcServer,
		rpcListener:   rpcListener,
		log:           logger,
	}
}

// Create and run a coordinator server without blocking. Any errors fail the
// test.
func Run(t *testing.T, options ...func(*coordinator.NewParams)) (server *Server, stop func()) {
	rpcListener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen on rpc address: %v", err)
	}
	adminListener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen on admin address: %v", err)
	}

	server = NewServer(rpcListener, adminListener, options...)
	go func() {
		if err := server.Start(); err != nil {
			t.Errorf("server.Start error: %v", err)
		}
	}()
	return server, func() {
		if err := server.Stop(); err != nil {
			t.Errorf("server.Stop error: %v", err)
		}
	}
}

func WithHeartbeatDeadline(d time.Duration) func(*coordinator.NewParams) {
	return func(p *coordinator.NewParams) {
		p.HeartbeatDeadline = d
	}
}

func WithClock(clock clocks.Clock) func(*coordinator.NewParams) {
	return func(p *coordinator.NewParams) {
		p.Clock = clock
	}
}

type Server struct {
	Coordinator   *coordinator.Coordinator
	adminServer   *http.Server
	adminListener net.Listener
	rpcServer     *http.Server
	rpcListener   net.Listener
	log           *slog.Logger
}

func (s *Server) Start() error {
	s.log.Info("starting server",
		"rpcAddr", s.RPCAddr(),
		"adminAddr", s.AdminAddr())

	g, ctx := errgroup.WithContext(context.Background())

	g.Go(func() error {
		go func() {
			<-ctx.Done()
			s.adminServer.Shutdown(context.Background())
		}()

		if err := s.adminServer.Serve(s.adminListener); err != http.ErrServerClosed {
			return fmt.Errorf("admin server stopped: %v", err)
		}
		return nil
	})

	g.Go(func() error {
		go func() {
			<-ctx.Done()
			s.rpcListener.Close()
		}()

		if err := s.rpcServer.Serve(s.rpcListener); err != http.ErrServerClosed {
			return fmt.Errorf("coordinator RPC server stopped: %v", err)
		}
		return nil
	})

	return g.Wait()
}

func (s *Server) RPCAddr() string {
	return s.rpcListener.Addr().String()
}

func (s *Server) AdminAddr() string {
	return s.adminListener.Addr().String()
}

func (s *Server) Stop() error {
	s.log.Info("stopping server")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := s.Coordinator.Stop(ctx)
	err = errors.Join(err, s.rpcServer.Shutdown(ctx))
	return errors.Join(err, s.adminServer.Shutdown(ctx))
}
