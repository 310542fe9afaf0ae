package rpc

import (
	"context"

	"grindstone.dev/grindstone/coordinator"
	"grindstone.dev/grindstone/proto"
	"grindstone.dev/grindstone/workers"
)

// CoordinatorEmbeddedClient directly invokes methods on a coordinator running
// in the same process.
type CoordinatorEmbeddedClient struct {
	coordinator *coordinator.Coordinator
	workers     proto.WorkerFactory
}

// NewCoordinatorEmbeddedClient resolves registering workers with factory,
// typically returning WorkerEmbeddedClients.
func NewCoordinatorEmbeddedClient(c *coordinator.Coordinator, factory proto.WorkerFactory) *CoordinatorEmbeddedClient {
	return &CoordinatorEmbeddedClient{coordinator: c, workers: factory}
}

func (c *CoordinatorEmbeddedClient) Register(ctx context.Context, identity *proto.WorkerIdentity) error {
	return c.coordinator.HandleRegister(c.workers(identity))
}

func (c *CoordinatorEmbeddedClient) Deregister(ctx context.Context, identity *proto.WorkerIdentity) error {
	return c.coordinator.HandleDeregister(identity)
}

func (c *CoordinatorEmbeddedClient) Deliver(ctx context.Context, batch *proto.Batch) error {
	return c.coordinator.HandleDeliver(ctx, c.workers(&batch.Sender), batch)
}

var _ proto.Coordinator = (*CoordinatorEmbeddedClient)(nil)

// WorkerEmbeddedClient directly invokes methods on a worker running in the
// same process.
type WorkerEmbeddedClient struct {
	worker *workers.Worker
}

func NewWorkerEmbeddedClient(w *workers.Worker) *WorkerEmbeddedClient {
	return &WorkerEmbeddedClient{worker: w}
}

func (c *WorkerEmbeddedClient) ID() string {
	return c.worker.ID()
}

func (c *WorkerEmbeddedClient) Host() string {
	return c.worker.Host()
}

func (c *WorkerEmbeddedClient) Deliver(ctx context.Context, batch *proto.Batch) error {
	return c.worker.HandleDeliver(ctx, batch)
}

var _ proto.Worker = (*WorkerEmbeddedClient)(nil)
