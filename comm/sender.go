package comm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"grindstone.dev/grindstone/proto"
	"grindstone.dev/grindstone/rpc/batching"
)

// Sender queues a message for delivery to the remote side. Queue does not
// wait for delivery.
type Sender interface {
	Queue(msg proto.Message) error
}

// Transport delivers an ordered batch of envelopes.
type Transport interface {
	Deliver(ctx context.Context, envelopes []proto.Envelope) error
}

type TransportFunc func(ctx context.Context, envelopes []proto.Envelope) error

func (f TransportFunc) Deliver(ctx context.Context, envelopes []proto.Envelope) error {
	return f(ctx, envelopes)
}

var errSenderClosed = errors.New("sender closed")

type QueuedSenderParams struct {
	Transport Transport
	Batching  batching.EventBatcherParams
	Logger    *slog.Logger
	// Called once from the delivery goroutine when a delivery fails and the
	// sender breaks. Optional.
	OnFailure func(err error)
}

// QueuedSender batches messages and delivers the batches in order from a
// single goroutine. After a failed delivery, or after Close, every call to
// Queue fails with ErrCommunicationFailure.
type QueuedSender struct {
	transport Transport
	onFailure func(err error)
	batcher   *batching.EventBatcher[proto.Envelope]
	log       *slog.Logger
	cancel    context.CancelFunc
	ready     chan struct{} // Signals the delivery loop, buffered 1
	done      chan struct{}

	closeMu sync.RWMutex // Held for reading while adding to the batcher
	closed  bool

	mu      sync.Mutex // Guards pending and err
	pending [][]proto.Envelope
	err     error
}

func NewQueuedSender(ctx context.Context, params QueuedSenderParams) *QueuedSender {
	if params.Logger == nil {
		params.Logger = slog.With("instanceID", "sender")
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &QueuedSender{
		transport: params.Transport,
		onFailure: params.OnFailure,
		batcher:   batching.NewEventBatcher[proto.Envelope](ctx, params.Batching),
		log:       params.Logger,
		cancel:    cancel,
		ready:     make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
	s.batcher.OnBatchReady(s.enqueueBatch)

	go s.deliverLoop(ctx)

	return s
}

func (s *QueuedSender) Queue(msg proto.Message) error {
	s.closeMu.RLock()
	defer s.closeMu.RUnlock()

	if s.closed {
		return fmt.Errorf("queue %s: %w: %w", msg.MessageType(), ErrCommunicationFailure, errSenderClosed)
	}
	if err := s.Err(); err != nil {
		return fmt.Errorf("queue %s: %w", msg.MessageType(), err)
	}

	env, err := proto.NewEnvelope(msg)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCommunicationFailure, err)
	}
	s.batcher.Add(env)
	return nil
}

// Flush hands any partially filled batch to the delivery loop.
func (s *QueuedSender) Flush() {
	s.batcher.Flush()
}

// Err returns the delivery failure that broke the sender, if any.
func (s *QueuedSender) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close stops accepting messages, delivers what is already queued and waits
// for the delivery loop to finish or ctx to end.
func (s *QueuedSender) Close(ctx context.Context) error {
	s.closeMu.Lock()
	if s.closed {
		s.closeMu.Unlock()
		return s.Err()
	}
	s.closed = true
	s.closeMu.Unlock()

	s.batcher.Flush()
	close(s.ready)

	select {
	case <-s.done:
	case <-ctx.Done():
		s.cancel()
		return ctx.Err()
	}
	s.cancel()
	return s.Err()
}

// Called by the batcher with its lock held.
func (s *QueuedSender) enqueueBatch(envelopes []proto.Envelope) {
	s.mu.Lock()
	s.pending = append(s.pending, envelopes)
	s.mu.Unlock()

	select {
	case s.ready <- struct{}{}:
	default:
	}
}

func (s *QueuedSender) takePending() [][]proto.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()

	pending := s.pending
	s.pending = nil
	return pending
}

func (s *QueuedSender) deliverLoop(ctx context.Context) {
	defer close(s.done)

	for {
		var open bool
		select {
		case _, open = <-s.ready:
		case <-ctx.Done():
			return
		}

		for _, batch := range s.takePending() {
			if s.Err() != nil {
				break // Drop everything after a failure
			}
			if err := s.transport.Deliver(ctx, batch); err != nil {
				s.log.Error("delivery failed, sender is now broken", "err", err, "messages", len(batch))
				s.mu.Lock()
				s.err = fmt.Errorf("%w: %w", ErrCommunicationFailure, err)
				s.mu.Unlock()
				if s.onFailure != nil {
					s.onFailure(s.Err())
				}
			}
		}

		if !open {
			return
		}
	}
}

var _ Sender = (*QueuedSender)(nil)
