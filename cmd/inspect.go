package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/KaramelBytes/bmpopt/internal/dataset"
	"github.com/KaramelBytes/bmpopt/internal/table"
	"github.com/KaramelBytes/bmpopt/internal/utils"
)

var (
	inspectTable  string
	inspectRows   int
	inspectOutput string
	inspectNames  bool
)

var inspectCmd = &cobra.Command{
	Use:   "inspect [file]",
	Short: "Profile a CSV/TSV/XLSX file or a reference table",
	Long: `Print a Markdown profile of a table: row count, per-column kind, missing
values, numeric statistics and frequent values. Pass a file path, or
--table <name> to profile a table of the configured reference repository.
With --names, reference id columns of a --table profile are replaced by names.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var f *table.Frame
		switch {
		case len(args) == 1 && inspectTable != "":
			return fmt.Errorf("pass either a file or --table, not both")
		case len(args) == 1:
			var err error
			if f, err = table.ReadFile(args[0]); err != nil {
				return err
			}
		case inspectTable != "":
			repo, err := openRepository(cmd.Context())
			if err != nil {
				return err
			}
			defer repo.Close()
			if f, err = repo.Table(inspectTable); err != nil {
				return err
			}
			if inspectNames {
				if f, err = dataset.LabelIDs(repo, f); err != nil {
					return err
				}
			}
		default:
			return fmt.Errorf("a file or --table is required")
		}
		md := table.Summarize(f, inspectRows).Markdown()
		if inspectOutput == "" {
			fmt.Print(md)
			return nil
		}
		if err := utils.SafeWriteFile(inspectOutput, []byte(md)); err != nil {
			return err
		}
		fmt.Printf("✓ Summary written: %s\n", inspectOutput)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(inspectCmd)
	inspectCmd.Flags().StringVar(&inspectTable, "table", "", "reference table name to profile")
	inspectCmd.Flags().IntVar(&inspectRows, "sample-rows", 5, "number of sample rows to include (0 to omit)")
	inspectCmd.Flags().BoolVar(&inspectNames, "names", false, "replace reference id columns with names (--table only)")
	inspectCmd.Flags().StringVarP(&inspectOutput, "output", "o", "", "write the summary to this file")
}
