package batching

import (
	"context"
	"sync"
	"time"

	"grindstone.dev/grindstone/clocks"
)

type EventBatcherParams struct {
	MaxDelay time.Duration
	MaxSize  int
	Timer    clocks.Timer
}

// EventBatcher groups items into batches that are handed to the OnBatchReady
// callback in the order they were added. A batch is flushed when it reaches
// MaxSize, when MaxDelay has passed since its first item, or on Flush.
type EventBatcher[T any] struct {
	onBatchReady func([]T)
	maxSize      int           // Max number of batched events before flushing
	maxDelay     time.Duration // Max time to wait before flushing
	timer        clocks.Timer
	mu           sync.Mutex // Guard batch
	batch        []T
	generation   uint64 // Incremented on every flush so stale timers can be ignored
}

func NewEventBatcher[T any](ctx context.Context, params EventBatcherParams) *EventBatcher[T] {
	if params.Timer == nil {
		params.Timer = &clocks.SystemTimer{}
	}

	if params.MaxSize == 0 {
		params.MaxSize = 1
	}

	batcher := &EventBatcher[T]{
		onBatchReady: func([]T) {}, // no-op by default
		timer:        params.Timer,
		maxSize:      params.MaxSize,
		maxDelay:     params.MaxDelay,
	}

	go func() {
		<-ctx.Done()
		batcher.mu.Lock()
		defer batcher.mu.Unlock()
		batcher.generation++
		batcher.timer.Stop()
	}()

	return batcher
}

// OnBatchReady sets the callback. It is called with the batcher lock held so
// consecutive batches are never delivered out of order.
func (b *EventBatcher[T]) OnBatchReady(fn func([]T)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onBatchReady = fn
}

func (b *EventBatcher[T]) Add(event T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	// Set the timer when starting a new batch
	if len(b.batch) == 0 && b.maxSize > 1 {
		generation := b.generation
		b.timer.Set(b.maxDelay, func() {
			b.mu.Lock()
			defer b.mu.Unlock()

			// Skip flushing if the batch was flushed before the timer acquired the lock
			if generation != b.generation || len(b.batch) == 0 {
				return
			}

			b.flushLocked()
		})
	}

	b.batch = append(b.batch, event)
	if len(b.batch) >= b.maxSize {
		b.flushLocked()
	}
}

// Flush yields the pending batch immediately, if there is one.
func (b *EventBatcher[T]) Flush() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.batch) > 0 {
		b.flushLocked()
	}
}

// Caller must hold the mutex lock
func (b *EventBatcher[T]) flushLocked() {
	// Yield the current batch and start a new one
	flushingBatch := b.batch
	b.batch = make([]T, 0, len(flushingBatch))
	b.generation++
	b.onBatchReady(flushingBatch)
}
