package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/KaramelBytes/bmpopt/internal/pipeline"
	"github.com/KaramelBytes/bmpopt/internal/scenario"
	"github.com/KaramelBytes/bmpopt/internal/solution"
	"github.com/KaramelBytes/bmpopt/internal/utils"
)

var (
	runTarget        float64
	runExportDataset string
	runProgramOut    string
	runShowAll       bool
)

var runCmd = &cobra.Command{
	Use:   "run <scenario-name>",
	Short: "Assemble, compile and solve a scenario, and record the result",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := loadScenarioByName(args[0])
		if err != nil {
			return err
		}
		saved := s.Target
		if cmd.Flags().Changed("target") {
			s.Target = runTarget
		}
		in, err := scenarioInputs(cmd, s)
		target := s.Target
		s.Target = saved
		if err != nil {
			return err
		}
		repo, err := openRepository(cmd.Context())
		if err != nil {
			return err
		}
		defer repo.Close()
		in.Tables = repo

		ctx, cancel := solveContext(cmd.Context())
		defer cancel()
		started := time.Now()
		out, err := pipeline.Run(ctx, in)
		if err != nil {
			return err
		}

		if runExportDataset != "" {
			if err := out.Dataset.Export(runExportDataset); err != nil {
				return fmt.Errorf("export dataset: %w", err)
			}
			fmt.Printf("✓ Dataset exported: %s\n", runExportDataset)
		}
		if runProgramOut != "" {
			b, err := out.Program.MarshalIndent()
			if err != nil {
				return err
			}
			if err := utils.SafeWriteFile(runProgramOut, b); err != nil {
				return err
			}
			fmt.Printf("✓ Program written: %s\n", runProgramOut)
		}

		run := newRun(scenario.KindSingle, in.Solver.Name(), target, out.Result, started, out.Elapsed)
		if err := s.RecordRun(run, out.Result.Frame()); err != nil {
			return err
		}
		if err := s.Save(); err != nil {
			return err
		}
		printResult(out.Result, runShowAll)
		fmt.Printf("✓ Run %s recorded: %s\n", run.ID, s.ResultPath(run.ID))
		return nil
	},
}

// scenarioInputs builds pipeline inputs for s, without tables.
func scenarioInputs(cmd *cobra.Command, s *scenario.Scenario) (pipeline.Inputs, error) {
	if err := s.Validate(); err != nil {
		return pipeline.Inputs{}, err
	}
	spec, err := s.Spec()
	if err != nil {
		return pipeline.Inputs{}, err
	}
	sv, err := newSolver(solverName(s))
	if err != nil {
		return pipeline.Inputs{}, err
	}
	c, err := currentConfig()
	if err != nil {
		return pipeline.Inputs{}, err
	}
	logger.Debug("scenario inputs",
		zap.String("scenario", s.Name),
		zap.String("command", cmd.Name()),
		zap.String("solver", sv.Name()),
		zap.String("target_param", s.TargetParam()),
		zap.Float64("target", s.Target),
	)
	return pipeline.Inputs{
		Request:         s.Request,
		Spec:            spec,
		TargetPollutant: s.TargetPollutant,
		Params:          s.Params(),
		Solver:          sv,
		ExcludedBMPs:    c.ExcludedBMPs,
		Materiality:     c.MaterialityTolerance,
		Logger:          logger,
	}, nil
}

func newRun(kind, solverName string, target float64, res *solution.Result, started time.Time, elapsed time.Duration) *scenario.Run {
	return &scenario.Run{
		Kind:      kind,
		Solver:    solverName,
		Status:    string(res.Status),
		Feasible:  res.Feasible,
		Objective: finite(res.Objective),
		Target:    target,
		Message:   res.Message,
		StartedAt: started,
		Duration:  elapsed.Round(time.Millisecond).String(),
	}
}

func printResult(res *solution.Result, all bool) {
	if res.Feasible {
		fmt.Printf("✓ %s: %s = %s, total cost %s\n", res.Status, res.ObjectiveName, formatFloat(res.Objective), formatFloat(res.TotalCost))
	} else {
		fmt.Printf("✗ %s: %s\n", res.Status, res.Message)
		for _, v := range res.Violations {
			fmt.Printf("  violated %s\n", v)
		}
	}
	for _, l := range res.Loads {
		marker := " "
		if l.Pollutant == res.TargetPollutant {
			marker = "*"
		}
		fmt.Printf(" %s %s: %s -> %s (%.2f%%)\n", marker, l.Pollutant, formatFloat(l.OriginalLoad), formatFloat(l.NewLoad), l.PercentReduction)
	}
	const preview = 10
	n := len(res.Allocations)
	fmt.Printf("  %d allocations\n", n)
	shown := res.Allocations
	if !all && n > preview {
		shown = shown[:preview]
	}
	for _, a := range shown {
		fmt.Printf("  - %s on %s/%s/%s: %s ac, $%s\n", a.BMP, a.Parcel.Segment, a.Parcel.LoadSource, a.Parcel.Agency, formatFloat(a.Acres), formatFloat(a.TotalCost))
	}
	if len(shown) < n {
		fmt.Printf("  ... %d more (use --all)\n", n-len(shown))
	}
	for _, an := range res.Anomalies {
		fmt.Printf("  ⚠ %s\n", an)
	}
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().Float64VarP(&runTarget, "target", "t", 0, "target for this run only (percent reduction or cost bound)")
	runCmd.Flags().StringVar(&runExportDataset, "export-dataset", "", "write the assembled data set as CSV tables to this directory")
	runCmd.Flags().StringVar(&runProgramOut, "program", "", "write the compiled program as JSON to this path")
	runCmd.Flags().BoolVar(&runShowAll, "all", false, "print every allocation")
}
