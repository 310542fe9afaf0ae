package rpc

import (
	"context"
	"log/slog"
	"net/http"

	"connectrpc.com/connect"
	"grindstone.dev/grindstone/proto"
)

// BatchHandler receives batches pushed by the coordinator.
type BatchHandler interface {
	HandleDeliver(ctx context.Context, batch *proto.Batch) error
}

type WorkerConnectAdapter struct {
	handler BatchHandler
}

func NewWorkerConnectHandler(handler BatchHandler, logger *slog.Logger) (path string, h http.Handler) {
	adapter := &WorkerConnectAdapter{handler: handler}
	return workerDeliverProcedure, connect.NewUnaryHandler(workerDeliverProcedure, adapter.Deliver,
		withJSON,
		connect.WithInterceptors(NewLoggingInterceptor(logger, slog.LevelDebug)),
	)
}

func (a *WorkerConnectAdapter) Deliver(ctx context.Context, req *connect.Request[proto.Batch]) (*connect.Response[proto.Empty], error) {
	if err := a.handler.HandleDeliver(ctx, req.Msg); err != nil {
		return nil, connect.NewError(connect.CodeAborted, err)
	}
	return connect.NewResponse(&proto.Empty{}), nil
}
