package coordinator

import "github.com/VictoriaMetrics/metrics"

var (
	messagesRejected   = metrics.NewCounter("coordinator_rejected_batches_total")
	workersPurged      = metrics.NewCounter("coordinator_purged_workers_total")
	workersUnreachable = metrics.NewCounter("coordinator_unreachable_workers_total")
)
