package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/KaramelBytes/bmpopt/internal/model"
	"github.com/KaramelBytes/bmpopt/internal/scenario"
	"github.com/KaramelBytes/bmpopt/internal/utils"
)

var (
	initDescription string
	initScale       string
	initEntities    []string
	initYear        int
	initAgencies    []string
	initObjective   string
	initAggregation string
	initVariant     string
	initPollutant   string
	initTarget      float64
	initSpecFile    string
	initSolver      string
)

var initCmd = &cobra.Command{
	Use:   "init <scenario-name>",
	Short: "Initialize a new optimization scenario",
	Long: `Create a scenario: the geography, baseline year and agencies whose data set is
assembled, the objective (costmin or loadmax) and the target it is run at.
For costmin the target is a percent reduction of the target pollutant;
for loadmax it is the cost upper bound.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		dir, err := resolveScenarioDirByName(name)
		if err != nil {
			return err
		}
		// Refuse to overwrite an existing scenario.
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			if _, err := os.Stat(filepath.Join(dir, utils.ScenarioFile)); err == nil {
				return fmt.Errorf("scenario already exists at %s", dir)
			}
			entries, err := os.ReadDir(dir)
			if err != nil {
				return fmt.Errorf("inspect scenario directory: %w", err)
			}
			if len(entries) > 0 {
				return fmt.Errorf("directory %s already exists and is not empty; refusing to initialize scenario", dir)
			}
		} else if err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("stat scenario directory: %w", err)
		}

		s := scenario.New(name, initDescription, dir)
		s.Request.Scale = initScale
		s.Request.Entities = initEntities
		s.Request.BaselineYear = initYear
		s.Request.Agencies = initAgencies
		s.Objective = initObjective
		s.Aggregation = initAggregation
		s.Variant = model.Variant(initVariant)
		s.TargetPollutant = initPollutant
		s.Target = initTarget
		if initSpecFile != "" {
			abs, err := filepath.Abs(initSpecFile)
			if err != nil {
				return fmt.Errorf("resolve spec path: %w", err)
			}
			s.SpecFile = abs
		}
		s.Solver = initSolver
		if err := s.Validate(); err != nil {
			return err
		}
		if _, err := s.Spec(); err != nil {
			return err
		}
		if err := s.Save(); err != nil {
			return err
		}
		fmt.Printf("✓ Scenario initialized: %s\n", dir)
		fmt.Printf("  %s target %s=%v on %s %v (baseline %d)\n",
			s.Objective, s.TargetParam(), s.Target, s.Request.Scale, s.Request.Entities, s.Request.BaselineYear)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
	f := initCmd.Flags()
	f.StringVarP(&initDescription, "desc", "d", "", "scenario description")
	f.StringVar(&initScale, "scale", "county", "geography scale: county|segment")
	f.StringArrayVarP(&initEntities, "entities", "e", nil, `geography entity, repeatable ("County, ST" for county scale; segment name for segment scale)`)
	f.IntVar(&initYear, "year", 2010, "baseline year of loading rates")
	f.StringSliceVar(&initAgencies, "agencies", nil, "agency codes to include (default: all)")
	f.StringVar(&initObjective, "objective", model.CostMin.String(), "objective: costmin|loadmax")
	f.StringVar(&initAggregation, "aggregation", model.Aggregate.String(), "reduction constraint aggregation: total|segment")
	f.StringVar(&initVariant, "variant", string(model.VariantNLP), "load model: nlp (multiplicative) | lp (additive)")
	f.StringVarP(&initPollutant, "pollutant", "p", "N", "target pollutant: N|P|S")
	f.Float64VarP(&initTarget, "target", "t", 5, "percent reduction (costmin) or cost upper bound (loadmax)")
	f.StringVar(&initSpecFile, "spec", "", "model spec YAML (overrides --objective/--aggregation/--variant)")
	f.StringVar(&initSolver, "solver-name", "", "solver for this scenario (default: config solver)")
}
