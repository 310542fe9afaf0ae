// Package diagnostics serves read-only views of barrier state over HTTP.
package diagnostics

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/VictoriaMetrics/metrics"
	"grindstone.dev/grindstone/barrier"
	"grindstone.dev/grindstone/coordinator"
	"grindstone.dev/grindstone/workers"
)

// WriteBarrierMetrics exposes the barrier counters in Prometheus text format.
func WriteBarrierMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	metrics.WritePrometheus(w, false)
}

type WorkerStatus struct {
	ID     string                `json:"id"`
	Host   string                `json:"host"`
	Global []barrier.GroupStatus `json:"global"`
	Local  []barrier.GroupStatus `json:"local"`
}

func NewWorkerHandler(worker *workers.Worker) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, WorkerStatus{
			ID:     worker.ID(),
			Host:   worker.Host(),
			Global: worker.GlobalGroups().Snapshot(),
			Local:  worker.LocalGroups().Snapshot(),
		})
	})
}

func NewCoordinatorHandler(c *coordinator.Coordinator) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		status, err := c.Snapshot(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, status)
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("writing diagnostics response", "err", err)
	}
}
