package rpc

import (
	"context"
	"net/http"

	"connectrpc.com/connect"
	"grindstone.dev/grindstone/coordinator"
	"grindstone.dev/grindstone/proto"
)

type CoordinatorUIConnectHandler struct {
	coordinator *coordinator.Coordinator
}

// NewCoordinatorUIConnectHandler serves read-only views of the coordinator
// for operators.
func NewCoordinatorUIConnectHandler(c *coordinator.Coordinator) (path string, handler http.Handler) {
	h := &CoordinatorUIConnectHandler{c}
	mux := http.NewServeMux()
	mux.Handle(coordinatorUIGetStatusProcedure, connect.NewUnaryHandler(coordinatorUIGetStatusProcedure, h.GetStatus, withJSON))
	return "/" + CoordinatorUIServiceName + "/", mux
}

func (h *CoordinatorUIConnectHandler) GetStatus(ctx context.Context, req *connect.Request[proto.Empty]) (*connect.Response[coordinator.Status], error) {
	status, err := h.coordinator.Snapshot(ctx)
	if err != nil {
		return nil, connect.NewError(connect.CodeUnavailable, err)
	}
	return connect.NewResponse(status), nil
}
