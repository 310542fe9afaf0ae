package barrier

import (
	"slices"
	"sync"
)

// Listener is notified each time a group fires.
type Listener interface {
	Awaken()
}

type funcListener struct {
	fn func()
}

func (l *funcListener) Awaken() { l.fn() }

// NewListener adapts a function to a Listener. Each call returns a distinct
// Listener that can later be passed to RemoveListener.
func NewListener(fn func()) Listener {
	return &funcListener{fn: fn}
}

// listenerList is a concurrency safe set of listeners. Notification runs on a
// snapshot so listeners may add or remove listeners while being notified.
type listenerList struct {
	mu        sync.Mutex
	listeners []Listener
}

func (l *listenerList) add(listener Listener) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !slices.Contains(l.listeners, listener) {
		l.listeners = append(l.listeners, listener)
	}
}

func (l *listenerList) remove(listener Listener) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.listeners = slices.DeleteFunc(l.listeners, func(el Listener) bool {
		return el == listener
	})
}

func (l *listenerList) notify() {
	l.mu.Lock()
	snapshot := slices.Clone(l.listeners)
	l.mu.Unlock()

	for _, listener := range snapshot {
		listener.Awaken()
	}
}
