package proto

import "context"

// Worker is the coordinator's view of a connected worker process.
type Worker interface {
	ID() string
	Host() string
	Deliver(ctx context.Context, batch *Batch) error
}

type WorkerFactory func(identity *WorkerIdentity) Worker
