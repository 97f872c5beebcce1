// Package pipeline wires assembly, compilation, solving and extraction into
// one batch run, and re-solves a compiled program over a sweep of targets.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/KaramelBytes/bmpopt/internal/dataset"
	"github.com/KaramelBytes/bmpopt/internal/model"
	"github.com/KaramelBytes/bmpopt/internal/solution"
	"github.com/KaramelBytes/bmpopt/internal/solver"
)

// Inputs is everything one run needs.
type Inputs struct {
	Tables          dataset.Tables
	Request         dataset.Request
	Spec            model.Spec
	TargetPollutant string
	Params          map[string]float64
	Solver          solver.Solver
	ExcludedBMPs    []string
	Materiality     float64
	Logger          *zap.Logger
}

// Output carries the artifacts of every stage.
type Output struct {
	Dataset *dataset.Dataset
	Program *model.Program
	Result  *solution.Result
	Elapsed time.Duration
}

// Compile assembles the data set of a request and compiles it into a program
// without solving it.
func Compile(in Inputs) (*dataset.Dataset, *model.Program, error) {
	log := in.Logger
	if log == nil {
		log = zap.NewNop()
	}
	asm, err := dataset.NewAssembler(in.Tables, dataset.WithExcludedBMPs(in.ExcludedBMPs...), dataset.WithLogger(log))
	if err != nil {
		return nil, nil, err
	}
	ds, err := asm.Assemble(in.Request)
	if err != nil {
		return nil, nil, fmt.Errorf("assemble: %w", err)
	}
	prog, err := model.Compile(ds, in.Spec, model.Options{TargetPollutant: in.TargetPollutant, Params: in.Params, Logger: log})
	if err != nil {
		return nil, nil, fmt.Errorf("compile: %w", err)
	}
	return ds, prog, nil
}

// Run assembles, compiles, solves and extracts. Data and compilation errors
// abort the run; a non-optimal solve is a result with Feasible false.
func Run(ctx context.Context, in Inputs) (*Output, error) {
	log := in.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if in.Solver == nil {
		return nil, errors.New("pipeline: no solver")
	}
	start := time.Now()

	ds, prog, err := Compile(in)
	if err != nil {
		return nil, err
	}
	res, err := solveAndExtract(ctx, prog, in.Solver, in.Materiality, log)
	if err != nil {
		return nil, err
	}
	out := &Output{Dataset: ds, Program: prog, Result: res, Elapsed: time.Since(start)}
	log.Info("run finished",
		zap.String("solver", in.Solver.Name()),
		zap.Bool("feasible", res.Feasible),
		zap.Float64("objective", res.Objective),
		zap.Int("allocations", len(res.Allocations)),
		zap.Duration("elapsed", out.Elapsed),
	)
	return out, nil
}

func solveAndExtract(ctx context.Context, p *model.Program, s solver.Solver, materiality float64, log *zap.Logger) (*solution.Result, error) {
	sr, err := s.Solve(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("solve (%s): %w", s.Name(), err)
	}
	res, err := solution.Extract(p, sr, solution.WithMateriality(materiality), solution.WithLogger(log))
	if err != nil {
		return nil, fmt.Errorf("extract: %w", err)
	}
	return res, nil
}

// Point is one solved value of a sweep.
type Point struct {
	Value  float64          `json:"value"`
	Result *solution.Result `json:"result"`
}

// SweepOptions tunes Sweep.
type SweepOptions struct {
	Materiality float64
	Logger      *zap.Logger
}

// Sweep re-solves p once per value of its target parameter, strictly in
// order. Each update happens only after the previous solve has returned.
// Any error discards the whole sweep. The parameter is restored afterwards.
func Sweep(ctx context.Context, p *model.Program, s solver.Solver, values []float64, opts SweepOptions) ([]Point, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if p.TargetParam == "" {
		return nil, fmt.Errorf("sweep: %w: program has no target parameter", model.ErrUnknownParameter)
	}
	prev := p.Params[p.TargetParam]
	defer func() { p.Params[p.TargetParam] = prev }()

	out := make([]Point, 0, len(values))
	for i, v := range values {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := p.UpdateTargetParameter(v); err != nil {
			return nil, fmt.Errorf("sweep point %d: %w", i, err)
		}
		res, err := solveAndExtract(ctx, p, s, opts.Materiality, log)
		if err != nil {
			return nil, fmt.Errorf("sweep point %d (%s=%v): %w", i, p.TargetParam, v, err)
		}
		log.Info("sweep point",
			zap.String("param", p.TargetParam),
			zap.Float64("value", v),
			zap.Bool("feasible", res.Feasible),
			zap.Float64("objective", res.Objective),
		)
		out = append(out, Point{Value: v, Result: res})
	}
	return out, nil
}
