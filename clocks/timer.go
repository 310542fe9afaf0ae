package clocks

import (
	"sync"
	"time"
)

type Timer interface {
	Set(d time.Duration, do func())
	Stop()
}

// FakeTimer only fires when a test calls Trigger.
type FakeTimer struct {
	mu sync.Mutex
	do func()
}

func (t *FakeTimer) Set(d time.Duration, do func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.do = do
}

// Trigger runs the most recently set function, if the timer is still armed.
func (t *FakeTimer) Trigger() {
	t.mu.Lock()
	do := t.do
	t.mu.Unlock()

	if do != nil {
		do()
	}
}

func (t *FakeTimer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.do = nil
}

type SystemTimer struct {
	mu    sync.Mutex
	timer *time.Timer
}

func (t *SystemTimer) Set(d time.Duration, do func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.timer != nil {
		t.timer.Stop()
	}
	t.timer = time.AfterFunc(d, do)
}

func (t *SystemTimer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.timer != nil {
		t.timer.Stop()
	}
}
