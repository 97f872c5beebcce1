package scenario

import "time"

// Run records one solve of a scenario.
type Run struct {
	ID         string    `json:"id"`
	Kind       string    `json:"kind"`
	Solver     string    `json:"solver"`
	Status     string    `json:"status"`
	Feasible   bool      `json:"feasible"`
	Objective  float64   `json:"objective"`
	Target     float64   `json:"target"`
	ResultFile string    `json:"result_file"`
	Message    string    `json:"message,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	Duration   string    `json:"duration"`
}

// Run kinds.
const (
	KindSingle = "run"
	KindSweep  = "sweep"
)
