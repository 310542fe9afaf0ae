package rpc

import (
	"context"

	"connectrpc.com/connect"
	"grindstone.dev/grindstone/proto"
)

type CoordinatorConnectClient struct {
	register   *connect.Client[proto.WorkerIdentity, proto.Empty]
	deregister *connect.Client[proto.WorkerIdentity, proto.Empty]
	deliver    *connect.Client[proto.Batch, proto.Empty]
}

func NewCoordinatorConnectClient(host string, opts ...connect.ClientOption) *CoordinatorConnectClient {
	httpClient := NewHTTPClient("coordinator")
	baseURL := "http://" + host
	opts = append([]connect.ClientOption{withJSON}, opts...)
	return &CoordinatorConnectClient{
		register:   connect.NewClient[proto.WorkerIdentity, proto.Empty](httpClient, baseURL+coordinatorRegisterProcedure, opts...),
		deregister: connect.NewClient[proto.WorkerIdentity, proto.Empty](httpClient, baseURL+coordinatorDeregisterProcedure, opts...),
		deliver:    connect.NewClient[proto.Batch, proto.Empty](httpClient, baseURL+coordinatorDeliverProcedure, opts...),
	}
}

func (c *CoordinatorConnectClient) Register(ctx context.Context, identity *proto.WorkerIdentity) error {
	_, err := c.register.CallUnary(ctx, connect.NewRequest(identity))
	return err
}

func (c *CoordinatorConnectClient) Deregister(ctx context.Context, identity *proto.WorkerIdentity) error {
	_, err := c.deregister.CallUnary(ctx, connect.NewRequest(identity))
	return err
}

func (c *CoordinatorConnectClient) Deliver(ctx context.Context, batch *proto.Batch) error {
	_, err := c.deliver.CallUnary(ctx, connect.NewRequest(batch))
	return err
}

var _ proto.Coordinator = (*CoordinatorConnectClient)(nil)
