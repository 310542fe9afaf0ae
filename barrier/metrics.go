package barrier

import "github.com/VictoriaMetrics/metrics"

var (
	groupsFired     = metrics.NewCounter("barrier_groups_fired_total")
	groupsDestroyed = metrics.NewCounter("barrier_groups_destroyed_total")
	opensReceived   = metrics.NewCounter("barrier_open_received_total")
	opensDropped    = metrics.NewCounter("barrier_open_dropped_total")
	opensBroadcast  = metrics.NewCounter("barrier_open_broadcast_total")
)
