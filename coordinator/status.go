package coordinator

import "grindstone.dev/grindstone/barrier"

type Status struct {
	Workers []WorkerStatus        `json:"workers"`
	Groups  []barrier.GroupStatus `json:"groups"`
}

type WorkerStatus struct {
	ID     string                `json:"id"`
	Host   string                `json:"host"`
	Groups []barrier.GroupStatus `json:"groups"`
}
