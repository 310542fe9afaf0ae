package rpc

import (
	"context"

	"connectrpc.com/connect"
	"grindstone.dev/grindstone/proto"
)

type WorkerConnectClient struct {
	id      string
	host    string
	deliver *connect.Client[proto.Batch, proto.Empty]
}

func NewWorkerConnectClient(identity *proto.WorkerIdentity, opts ...connect.ClientOption) *WorkerConnectClient {
	if identity.Host == "" {
		panic("missing host")
	}
	opts = append([]connect.ClientOption{withJSON}, opts...)
	return &WorkerConnectClient{
		id:      identity.ID,
		host:    identity.Host,
		deliver: connect.NewClient[proto.Batch, proto.Empty](NewHTTPClient("worker"), "http://"+identity.Host+workerDeliverProcedure, opts...),
	}
}

func (c *WorkerConnectClient) Deliver(ctx context.Context, batch *proto.Batch) error {
	_, err := c.deliver.CallUnary(ctx, connect.NewRequest(batch))
	return err
}

func (c *WorkerConnectClient) ID() string {
	return c.id
}

func (c *WorkerConnectClient) Host() string {
	return c.host
}

var _ proto.Worker = (*WorkerConnectClient)(nil)
