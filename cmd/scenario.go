package cmd

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/KaramelBytes/bmpopt/internal/model"
)

var scenarioCmd = &cobra.Command{
	Use:   "scenario",
	Short: "Inspect or change a scenario's settings",
}

var scenarioShowCmd = &cobra.Command{
	Use:   "show <scenario-name>",
	Short: "Show scenario settings and run history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := loadScenarioByName(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("name: %s\n", s.Name)
		if s.Description != "" {
			fmt.Printf("description: %s\n", s.Description)
		}
		fmt.Printf("id: %s\n", s.ID)
		fmt.Printf("geography: %s %s\n", s.Request.Scale, strings.Join(s.Request.Entities, "; "))
		fmt.Printf("baseline_year: %d\n", s.Request.BaselineYear)
		if len(s.Request.Agencies) > 0 {
			fmt.Printf("agencies: %s\n", strings.Join(s.Request.Agencies, ", "))
		}
		if s.SpecFile != "" {
			fmt.Printf("spec: %s\n", s.SpecFile)
		} else {
			fmt.Printf("objective: %s (%s, %s)\n", s.Objective, s.Aggregation, s.Variant)
		}
		fmt.Printf("target: %s %s=%v\n", s.TargetPollutant, s.TargetParam(), s.Target)
		fmt.Printf("solver: %s\n", solverName(s))
		if len(s.Runs) == 0 {
			fmt.Println("runs: (none)")
			return nil
		}
		fmt.Println("runs:")
		for _, r := range s.Runs {
			fmt.Printf("- %s %s %s target=%v %s objective=%s feasible=%t (%s, %s)\n",
				r.StartedAt.Format("2006-01-02 15:04:05"), r.Kind, r.Solver, r.Target, r.Status,
				formatFloat(r.Objective), r.Feasible, r.Duration, r.ResultFile)
			if r.Message != "" && !r.Feasible {
				fmt.Printf("    %s\n", r.Message)
			}
		}
		return nil
	},
}

var scenarioSetCmd = &cobra.Command{
	Use:   "set <scenario-name> <key> <value>",
	Short: "Set a scenario setting (target, pollutant, objective, aggregation, variant, solver, spec, year, entities, agencies, description)",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := loadScenarioByName(args[0])
		if err != nil {
			return err
		}
		key, val := args[1], args[2]
		switch key {
		case "target":
			f, err := strconv.ParseFloat(val, 64)
			if err != nil {
				return fmt.Errorf("invalid float for target: %v", val)
			}
			s.Target = f
		case "pollutant":
			s.TargetPollutant = strings.ToUpper(strings.TrimSpace(val))
		case "objective":
			obj, err := model.ParseObjectiveVariant(val)
			if err != nil {
				return err
			}
			s.Objective = obj.String()
		case "aggregation":
			agg, err := model.ParseAggregation(val)
			if err != nil {
				return err
			}
			s.Aggregation = agg.String()
		case "variant":
			v, err := model.ParseVariant(val)
			if err != nil {
				return err
			}
			s.Variant = v
		case "solver":
			s.Solver = val
		case "spec":
			if val == "" {
				s.SpecFile = ""
				break
			}
			abs, err := filepath.Abs(val)
			if err != nil {
				return fmt.Errorf("resolve spec path: %w", err)
			}
			s.SpecFile = abs
		case "year":
			y, err := strconv.Atoi(val)
			if err != nil || y <= 0 {
				return fmt.Errorf("invalid year: %v", val)
			}
			s.Request.BaselineYear = y
		case "entities":
			s.Request.Entities = splitList(val, ";")
		case "agencies":
			s.Request.Agencies = splitList(val, ",")
		case "description":
			s.Description = val
		default:
			return fmt.Errorf("unknown key: %s", key)
		}
		if err := s.Validate(); err != nil {
			return err
		}
		if _, err := s.Spec(); err != nil {
			return err
		}
		if err := s.Save(); err != nil {
			return err
		}
		fmt.Printf("✓ Set %s for %s\n", key, s.Name)
		return nil
	},
}

func splitList(v, sep string) []string {
	var out []string
	for _, p := range strings.Split(v, sep) {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func init() {
	rootCmd.AddCommand(scenarioCmd)
	scenarioCmd.AddCommand(scenarioShowCmd)
	scenarioCmd.AddCommand(scenarioSetCmd)
}
