// Package solver runs compiled programs. Any implementation of Solver can be
// substituted: the built-in sequential LP solver, or a remote solve service.
package solver

import (
	"context"
	"errors"

	"github.com/KaramelBytes/bmpopt/internal/model"
)

// Status is the termination class of a solve.
type Status string

const (
	StatusOptimal    Status = "optimal"
	StatusInfeasible Status = "infeasible"
	StatusOther      Status = "other"
)

// ErrNoSolution is returned when a solver produced no variable values at all.
var ErrNoSolution = errors.New("solver returned no solution")

// Result is the solver half of the call/response contract.
type Result struct {
	Solver     string             `json:"solver"`
	Status     Status             `json:"status"`
	Values     []float64          `json:"values"`
	Objective  float64            `json:"objective"`
	Duals      map[string]float64 `json:"duals,omitempty"`
	Iterations int                `json:"iterations,omitempty"`
	Message    string             `json:"message,omitempty"`
}

// Solver solves a compiled program. Solve must not mutate the program.
type Solver interface {
	Name() string
	Solve(ctx context.Context, p *model.Program) (*Result, error)
}
