package coordinator

import (
	"time"

	"grindstone.dev/grindstone/clocks"
)

type LivenessTracker struct {
	m        map[string]time.Time
	clock    clocks.Clock
	deadline time.Duration
}

func NewLivenessTracker(clock clocks.Clock, deadline time.Duration) *LivenessTracker {
	return &LivenessTracker{
		m:        make(map[string]time.Time, 0),
		clock:    clock,
		deadline: deadline,
	}
}

func (lt *LivenessTracker) Heartbeat(id string) {
	lt.m[id] = lt.clock.Now()
}

// Forget stops tracking id without reporting it as missing.
func (lt *LivenessTracker) Forget(id string) {
	delete(lt.m, id)
}

// Purge returns the IDs whose last heartbeat is older than the deadline and
// stops tracking them.
func (lt *LivenessTracker) Purge() []string {
	var missing []string
	cutoff := lt.clock.Now().Add(-lt.deadline)
	for id, hb := range lt.m {
		if hb.Before(cutoff) {
			missing = append(missing, id)
			delete(lt.m, id)
		}
	}
	return missing
}
