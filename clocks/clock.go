package clocks

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type Clock interface {
	Now() time.Time
	Every(d time.Duration, fn func(*EveryContext), label string) *Ticker
}

type Ticker struct {
	cancel  context.CancelFunc
	trigger func()
}

func (t *Ticker) Stop() {
	t.cancel()
}

// Trigger runs the function as soon as possible and restarts the period.
func (t *Ticker) Trigger() {
	t.trigger()
}

// EveryContext lets a periodic function ask to run again sooner than its
// period, for example after a failed call.
type EveryContext struct {
	retryIn time.Duration
}

func (tc *EveryContext) RetryIn(d time.Duration) {
	tc.retryIn = d
}

type SystemClock struct{}

// Every runs fn every d on its own goroutine. Calls never overlap, including
// calls made by Trigger.
func (c *SystemClock) Every(d time.Duration, fn func(*EveryContext), _label string) *Ticker {
	ctx, cancel := context.WithCancel(context.Background())
	trigger := make(chan struct{}, 1)

	go func() {
		timer := time.NewTimer(d)
		defer timer.Stop()

		ec := &EveryContext{}
		for {
			select {
			case <-ctx.Done():
				return
			case <-timer.C:
			case <-trigger:
			}

			ec.retryIn = 0
			fn(ec)

			next := d
			if ec.retryIn > 0 {
				next = ec.retryIn
			}
			timer.Reset(next)
		}
	}()

	return &Ticker{
		cancel: cancel,
		trigger: func() {
			select {
			case trigger <- struct{}{}:
			default: // A trigger is already pending
			}
		},
	}
}

func NewSystemClock() *SystemClock {
	return &SystemClock{}
}

func (c *SystemClock) Now() time.Time {
	return time.Now()
}

var _ Clock = (*SystemClock)(nil)

type FrozenClock struct {
	now        time.Time
	everyFuncs map[string]func()
	mu         *sync.Mutex
}

// Every for FrozenClock never fires on its own. Tests call TickEvery with
// the label to run the registered function.
func (c *FrozenClock) Every(d time.Duration, fn func(*EveryContext), label string) *Ticker {
	c.mu.Lock()
	defer c.mu.Unlock()

	ctx := &EveryContext{}
	c.everyFuncs[label] = func() {
		fn(ctx)
	}

	return &Ticker{
		cancel:  func() {},
		trigger: c.everyFuncs[label],
	}
}

func NewFrozenClock() *FrozenClock {
	return &FrozenClock{
		now:        time.Unix(0, 0),
		everyFuncs: make(map[string]func()),
		mu:         &sync.Mutex{},
	}
}

func (c *FrozenClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *FrozenClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *FrozenClock) TickEvery(label string) {
	c.mu.Lock()
	fn := c.everyFuncs[label]
	c.mu.Unlock()

	if fn == nil {
		panic(fmt.Sprintf("FrozenClock has no `every` func registered for label %s", label))
	}
	fn()
}

var _ Clock = (*FrozenClock)(nil)
