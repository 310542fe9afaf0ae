package rpc

import (
	"context"
	"log/slog"
	"net/http"

	"connectrpc.com/connect"
	"grindstone.dev/grindstone/coordinator"
	"grindstone.dev/grindstone/proto"
	"grindstone.dev/grindstone/telemetry"
)

type CoordinatorConnectAdapter struct {
	coordinator *coordinator.Coordinator
	clientOpts  []connect.ClientOption
}

// NewCoordinatorConnectHandler serves the coordinator RPCs. Registering
// workers get a WorkerConnectClient built with clientOpts.
func NewCoordinatorConnectHandler(c *coordinator.Coordinator, clientOpts ...connect.ClientOption) (path string, handler http.Handler) {
	adapter := &CoordinatorConnectAdapter{coordinator: c, clientOpts: clientOpts}
	logger := slog.With("instanceID", "coordinator")
	opts := []connect.HandlerOption{
		withJSON,
		connect.WithInterceptors(NewLoggingInterceptor(logger, slog.LevelDebug)),
	}

	mux := http.NewServeMux()
	mux.Handle(coordinatorRegisterProcedure, connect.NewUnaryHandler(coordinatorRegisterProcedure, adapter.Register, opts...))
	mux.Handle(coordinatorDeregisterProcedure, connect.NewUnaryHandler(coordinatorDeregisterProcedure, adapter.Deregister, opts...))
	mux.Handle(coordinatorDeliverProcedure, connect.NewUnaryHandler(coordinatorDeliverProcedure, adapter.Deliver, opts...))
	return "/" + CoordinatorServiceName + "/", mux
}

func (a *CoordinatorConnectAdapter) Register(ctx context.Context, req *connect.Request[proto.WorkerIdentity]) (*connect.Response[proto.Empty], error) {
	if req.Msg.Host == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, errMissingHost)
	}
	if err := a.coordinator.HandleRegister(a.newWorkerClient(req.Msg)); err != nil {
		return nil, connect.NewError(connect.CodeFailedPrecondition, err)
	}
	return connect.NewResponse(&proto.Empty{}), nil
}

func (a *CoordinatorConnectAdapter) Deregister(ctx context.Context, req *connect.Request[proto.WorkerIdentity]) (*connect.Response[proto.Empty], error) {
	if err := a.coordinator.HandleDeregister(req.Msg); err != nil {
		return nil, connect.NewError(connect.CodeFailedPrecondition, err)
	}
	return connect.NewResponse(&proto.Empty{}), nil
}

func (a *CoordinatorConnectAdapter) Deliver(ctx context.Context, req *connect.Request[proto.Batch]) (*connect.Response[proto.Empty], error) {
	var worker proto.Worker
	if req.Msg.Sender.Host != "" {
		worker = a.newWorkerClient(&req.Msg.Sender)
	}
	// Batches are not idempotent so a failure must not look retryable.
	if err := a.coordinator.HandleDeliver(ctx, worker, req.Msg); err != nil {
		return nil, connect.NewError(connect.CodeAborted, err)
	}
	return connect.NewResponse(&proto.Empty{}), nil
}

func (a *CoordinatorConnectAdapter) newWorkerClient(identity *proto.WorkerIdentity) proto.Worker {
	opts := append([]connect.ClientOption{connect.WithInterceptors(telemetry.NewRPCInterceptor("worker"))}, a.clientOpts...)
	return NewWorkerConnectClient(identity, opts...)
}
