package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/KaramelBytes/bmpopt/internal/solver"
)

var solversCmd = &cobra.Command{
	Use:   "solvers",
	Short: "List available solvers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		current := solverName(nil)
		for _, name := range solver.Names() {
			marker := " "
			if name == current {
				marker = "*"
			}
			desc := ""
			switch name {
			case solver.NameSLP:
				desc = "built-in sequential linear programming (simplex subproblems)"
			case solver.NameRemote:
				desc = "HTTP solve service"
				if cfg != nil && cfg.SolverURL != "" {
					desc += " at " + cfg.SolverURL
				}
			}
			fmt.Printf("%s %s\t%s\n", marker, name, desc)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(solversCmd)
}
