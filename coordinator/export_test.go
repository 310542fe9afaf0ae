package coordinator

import (
	"context"

	"grindstone.dev/grindstone/comm"
	"grindstone.dev/grindstone/proto"
)

// NewTestConn builds a connection whose sender discards every message.
func NewTestConn(worker proto.Worker) *workerConn {
	return &workerConn{
		worker: worker,
		sender: comm.NewQueuedSender(context.Background(), comm.QueuedSenderParams{
			Transport: comm.TransportFunc(func(context.Context, []proto.Envelope) error { return nil }),
		}),
	}
}
