package coordinator

import (
	"errors"
	"fmt"
	"log/slog"

	"grindstone.dev/grindstone/comm"
	"grindstone.dev/grindstone/proto"
	"grindstone.dev/grindstone/util/ds"
)

// ErrWorkerDeparted is returned for calls from a worker that deregistered or
// was purged. Its barrier contributions were cancelled so it can't rejoin
// under the same ID.
var ErrWorkerDeparted = errors.New("worker departed")

// workerConn is a registered worker and the queue of messages bound for it.
type workerConn struct {
	worker proto.Worker
	sender *comm.QueuedSender
}

// Registry tracks the connected workers. It is only used from the
// coordinator's state update loop.
type Registry struct {
	workers  *ds.SortedMap[string, *workerConn]
	departed *ds.Set[string]
	liveness *LivenessTracker
	changed  bool
}

func NewRegistry(liveness *LivenessTracker) *Registry {
	return &Registry{
		workers:  ds.NewSortedMap[string, *workerConn](),
		departed: ds.NewSet[string](0),
		liveness: liveness,
	}
}

// Register adds the worker, or records a heartbeat if it is already known.
// newConn is only called for new workers.
func (r *Registry) Register(worker proto.Worker, newConn func(proto.Worker) *workerConn) error {
	if r.departed.Has(worker.ID()) {
		return fmt.Errorf("register %s: %w", worker.ID(), ErrWorkerDeparted)
	}

	r.liveness.Heartbeat(worker.ID())
	if !r.workers.Has(worker.ID()) {
		r.workers.Set(worker.ID(), newConn(worker))
		r.changed = true
	}
	return nil
}

// Heartbeat records that the worker is alive. Unknown workers are an error.
func (r *Registry) Heartbeat(id string) error {
	if r.departed.Has(id) {
		return fmt.Errorf("worker %s: %w", id, ErrWorkerDeparted)
	}
	if !r.workers.Has(id) {
		return fmt.Errorf("worker %s is not registered", id)
	}
	r.liveness.Heartbeat(id)
	return nil
}

// Conn returns the connection of a registered worker.
func (r *Registry) Conn(id string) (*workerConn, bool) {
	return r.workers.Get(id)
}

func (r *Registry) Has(id string) bool {
	return r.workers.Has(id)
}

// Deregister removes the worker and returns its connection, if any.
func (r *Registry) Deregister(id string) (*workerConn, bool) {
	conn, ok := r.workers.Get(id)
	if !ok {
		return nil, false
	}
	r.remove(id)
	return conn, true
}

// Get rid of any dead workers
func (r *Registry) Purge() []*workerConn {
	var purged []*workerConn
	for _, id := range r.liveness.Purge() {
		if conn, ok := r.workers.Get(id); ok {
			purged = append(purged, conn)
			r.remove(id)
		}
	}
	return purged
}

func (r *Registry) Workers() []*workerConn {
	return r.workers.Values()
}

func (r *Registry) HasChanges() bool {
	return r.changed
}

func (r *Registry) AcknowledgeChanges() {
	r.changed = false
}

func (r *Registry) Diagnostics() []any {
	return []any{
		slog.Int("workerCount", r.workers.Size()),
		slog.Int("departedCount", r.departed.Size()),
	}
}

func (r *Registry) remove(id string) {
	r.workers.Delete(id)
	r.liveness.Forget(id)
	r.departed.Add(id)
	r.changed = true
}
