package proto

import "context"

// The RPC methods for the coordinator
type Coordinator interface {
	Register(ctx context.Context, identity *WorkerIdentity) error
	Deregister(ctx context.Context, identity *WorkerIdentity) error
	Deliver(ctx context.Context, batch *Batch) error
}

type UnimplementedCoordinator struct{}

func (u UnimplementedCoordinator) Register(context.Context, *WorkerIdentity) error {
	panic("unimplemented")
}

func (u UnimplementedCoordinator) Deregister(context.Context, *WorkerIdentity) error {
	panic("unimplemented")
}

func (u UnimplementedCoordinator) Deliver(context.Context, *Batch) error {
	panic("unimplemented")
}

var _ Coordinator = UnimplementedCoordinator{}

type NoopCoordinator struct{}

func (n NoopCoordinator) Register(ctx context.Context, identity *WorkerIdentity) error {
	return nil
}

func (n NoopCoordinator) Deregister(ctx context.Context, identity *WorkerIdentity) error {
	return nil
}

func (n NoopCoordinator) Deliver(ctx context.Context, batch *Batch) error {
	return nil
}

var _ Coordinator = NoopCoordinator{}
