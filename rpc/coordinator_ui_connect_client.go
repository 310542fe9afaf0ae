package rpc

import (
	"context"

	"connectrpc.com/connect"
	"grindstone.dev/grindstone/coordinator"
	"grindstone.dev/grindstone/proto"
)

type CoordinatorUIConnectClient struct {
	getStatus *connect.Client[proto.Empty, coordinator.Status]
}

func NewCoordinatorUIConnectClient(host string, opts ...connect.ClientOption) *CoordinatorUIConnectClient {
	opts = append([]connect.ClientOption{withJSON}, opts...)
	return &CoordinatorUIConnectClient{
		getStatus: connect.NewClient[proto.Empty, coordinator.Status](NewHTTPClient("coordinator-ui"), "http://"+host+coordinatorUIGetStatusProcedure, opts...),
	}
}

func (c *CoordinatorUIConnectClient) GetStatus(ctx context.Context) (*coordinator.Status, error) {
	resp, err := c.getStatus.CallUnary(ctx, connect.NewRequest(&proto.Empty{}))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}
