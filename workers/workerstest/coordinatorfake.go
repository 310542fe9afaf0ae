package workerstest

import (
	"context"
	"slices"
	"sync"

	"grindstone.dev/grindstone/proto"
)

// RecordingCoordinator accepts every call and records what it was sent.
type RecordingCoordinator struct {
	mu           sync.Mutex
	registered   []string
	deregistered []string
	messages     []string
}

func (c *RecordingCoordinator) Register(ctx context.Context, identity *proto.WorkerIdentity) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.registered = append(c.registered, identity.ID)
	return nil
}

func (c *RecordingCoordinator) Deregister(ctx context.Context, identity *proto.WorkerIdentity) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deregistered = append(c.deregistered, identity.ID)
	return nil
}

func (c *RecordingCoordinator) Deliver(ctx context.Context, batch *proto.Batch) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, env := range batch.Envelopes {
		c.messages = append(c.messages, env.Type)
	}
	return nil
}

func (c *RecordingCoordinator) Registered() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.registered)
}

func (c *RecordingCoordinator) Deregistered() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.deregistered)
}

// MessageTypes returns the type of every delivered message in order.
func (c *RecordingCoordinator) MessageTypes() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.messages)
}

var _ proto.Coordinator = (*RecordingCoordinator)(nil)
