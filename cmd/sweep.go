package cmd

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/KaramelBytes/bmpopt/internal/pipeline"
	"github.com/KaramelBytes/bmpopt/internal/scenario"
	"github.com/KaramelBytes/bmpopt/internal/table"
)

var (
	sweepValues  []float64
	sweepFrom    float64
	sweepTo      float64
	sweepStep    float64
	sweepSummary string
)

var sweepCmd = &cobra.Command{
	Use:   "sweep <scenario-name>",
	Short: "Re-solve a scenario over a series of targets",
	Long: `Compile the scenario once, then solve it at each target value in order.
Values come from --values, or from --from/--to/--step. Every point is recorded
as a run of the scenario; any solver error discards the whole sweep.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		values, err := sweepSeries(cmd)
		if err != nil {
			return err
		}
		s, err := loadScenarioByName(args[0])
		if err != nil {
			return err
		}
		in, err := scenarioInputs(cmd, s)
		if err != nil {
			return err
		}
		repo, err := openRepository(cmd.Context())
		if err != nil {
			return err
		}
		defer repo.Close()
		in.Tables = repo

		_, prog, err := pipeline.Compile(in)
		if err != nil {
			return err
		}
		ctx, cancel := solveContext(cmd.Context())
		defer cancel()
		started := time.Now()
		points, err := pipeline.Sweep(ctx, prog, in.Solver, values, pipeline.SweepOptions{Materiality: in.Materiality, Logger: logger})
		if err != nil {
			return err
		}
		elapsed := time.Since(started)

		summary := table.New("sweep", "target", "status", "feasible", "objective", "total_cost", "percent_reduction", "allocations", "run_id")
		for _, pt := range points {
			run := newRun(scenario.KindSweep, in.Solver.Name(), pt.Value, pt.Result, started, elapsed/time.Duration(len(points)))
			if err := s.RecordRun(run, pt.Result.Frame()); err != nil {
				return err
			}
			pct := math.NaN()
			if l, ok := pt.Result.Load(pt.Result.TargetPollutant); ok {
				pct = l.PercentReduction
			}
			if err := summary.Append(
				strconv.FormatFloat(pt.Value, 'g', -1, 64),
				string(pt.Result.Status),
				strconv.FormatBool(pt.Result.Feasible),
				strconv.FormatFloat(pt.Result.Objective, 'g', -1, 64),
				strconv.FormatFloat(pt.Result.TotalCost, 'g', -1, 64),
				strconv.FormatFloat(pct, 'g', -1, 64),
				strconv.Itoa(len(pt.Result.Allocations)),
				run.ID,
			); err != nil {
				return err
			}
			fmt.Printf("- %s=%v: %s objective=%s cost=%s reduction=%.2f%%\n",
				prog.TargetParam, pt.Value, pt.Result.Status, formatFloat(pt.Result.Objective), formatFloat(pt.Result.TotalCost), pct)
		}
		if err := s.Save(); err != nil {
			return err
		}
		if sweepSummary != "" {
			if err := table.WriteCSV(sweepSummary, summary); err != nil {
				return fmt.Errorf("write sweep summary: %w", err)
			}
			fmt.Printf("✓ Sweep summary written: %s\n", sweepSummary)
		}
		fmt.Printf("✓ Sweep of %d points recorded for %s\n", len(points), s.Name)
		return nil
	},
}

// sweepSeries returns --values, or the closed range --from..--to by --step.
func sweepSeries(cmd *cobra.Command) ([]float64, error) {
	f := cmd.Flags()
	if f.Changed("values") {
		if f.Changed("from") || f.Changed("to") || f.Changed("step") {
			return nil, errors.New("use either --values or --from/--to/--step")
		}
		if len(sweepValues) == 0 {
			return nil, errors.New("--values is empty")
		}
		return sweepValues, nil
	}
	if !f.Changed("to") {
		return nil, errors.New("specify --values or --to (with optional --from and --step)")
	}
	if sweepStep <= 0 {
		return nil, fmt.Errorf("invalid --step: %v", sweepStep)
	}
	if sweepTo < sweepFrom {
		return nil, fmt.Errorf("--to (%v) is below --from (%v)", sweepTo, sweepFrom)
	}
	n := int(math.Floor((sweepTo-sweepFrom)/sweepStep+1e-9)) + 1
	out := make([]float64, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, sweepFrom+float64(i)*sweepStep)
	}
	return out, nil
}

func init() {
	rootCmd.AddCommand(sweepCmd)
	f := sweepCmd.Flags()
	f.Float64SliceVar(&sweepValues, "values", nil, "comma-separated target values")
	f.Float64Var(&sweepFrom, "from", 0, "first target value")
	f.Float64Var(&sweepTo, "to", 0, "last target value")
	f.Float64Var(&sweepStep, "step", 5, "target increment")
	f.StringVar(&sweepSummary, "summary", "", "write a CSV summary of the sweep to this path")
}
