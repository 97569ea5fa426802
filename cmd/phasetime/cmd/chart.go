package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/psantana5/phasetime/internal/report"
)

var (
	chartRun string
	chartOut string
)

var chartCmd = &cobra.Command{
	Use:   "chart [file.jsonl | run-id]",
	Short: "Render per-epoch phase time as an HTML chart",
	Long: `Render one stacked bar chart per run, with a bar per epoch split into phases
and the unaccounted remainder of the epoch wall time.

Examples:
  phasetime chart phasetime.jsonl --out timing.html`,
	Args: cobra.MaximumNArgs(1),
	RunE: runChart,
}

func init() {
	rootCmd.AddCommand(chartCmd)

	chartCmd.Flags().StringVar(&chartRun, "run", "", "only chart this run")
	chartCmd.Flags().StringVar(&chartOut, "out", "phasetime.html", "output HTML file, - for stdout")
}

func runChart(cmd *cobra.Command, args []string) error {
	source := ""
	if len(args) == 1 {
		source = args[0]
	}

	summaries, windows, err := loadSummaries(cmd.Context(), source, chartRun, "")
	if err != nil {
		return err
	}

	if chartOut == "-" {
		return report.WriteChart(cmd.OutOrStdout(), summaries, windows)
	}

	f, err := os.Create(chartOut)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", chartOut, err)
	}
	if err := report.WriteChart(f, summaries, windows); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d chart(s) to %s\n", len(summaries), chartOut)
	return nil
}
