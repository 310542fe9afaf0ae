package comm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"grindstone.dev/grindstone/proto"
)

type handlerFunc func(ctx context.Context, sender proto.WorkerIdentity, payload json.RawMessage) error

// DispatchRegistry routes inbound envelopes to the handler set for their
// message type.
type DispatchRegistry struct {
	mu       sync.RWMutex
	handlers map[string]handlerFunc
}

func NewDispatchRegistry() *DispatchRegistry {
	return &DispatchRegistry{
		handlers: make(map[string]handlerFunc),
	}
}

// Set installs the handler for messages of type M, replacing any handler
// previously set for that type.
func Set[M proto.Message](r *DispatchRegistry, handler func(ctx context.Context, sender proto.WorkerIdentity, msg M) error) {
	var zero M
	messageType := zero.MessageType()

	r.mu.Lock()
	defer r.mu.Unlock()

	r.handlers[messageType] = func(ctx context.Context, sender proto.WorkerIdentity, payload json.RawMessage) error {
		var msg M
		if err := json.Unmarshal(payload, &msg); err != nil {
			return fmt.Errorf("decoding %s: %w", messageType, err)
		}
		return handler(ctx, sender, msg)
	}
}

// Dispatch decodes one envelope and calls its handler.
func (r *DispatchRegistry) Dispatch(ctx context.Context, sender proto.WorkerIdentity, env proto.Envelope) error {
	r.mu.RLock()
	handler, ok := r.handlers[env.Type]
	r.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownMessageType, env.Type)
	}
	return handler(ctx, sender, env.Payload)
}

// DispatchBatch handles every envelope of the batch in order. A failing
// message does not stop the rest of the batch; all errors are returned
// joined.
func (r *DispatchRegistry) DispatchBatch(ctx context.Context, batch *proto.Batch) error {
	var errs []error
	for _, env := range batch.Envelopes {
		if err := r.Dispatch(ctx, batch.Sender, env); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
