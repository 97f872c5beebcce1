package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/KaramelBytes/bmpopt/internal/scenario"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List scenarios and their latest run",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := defaultScenariosDir()
		if err != nil {
			return err
		}
		all, err := scenario.List(root)
		if err != nil {
			return err
		}
		if len(all) == 0 {
			fmt.Println("(no scenarios)")
			return nil
		}
		for _, s := range all {
			last := "never run"
			if r := s.LastRun(); r != nil {
				last = fmt.Sprintf("%s %s, objective %s (%s)", r.Kind, r.Status, formatFloat(r.Objective), r.StartedAt.Format("2006-01-02 15:04"))
			}
			fmt.Printf("- %s: %s %s=%v [%s]\n", s.Name, s.Objective, s.TargetParam(), s.Target, last)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}
