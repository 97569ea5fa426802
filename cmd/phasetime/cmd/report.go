package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/psantana5/phasetime/internal/report"
)

var (
	reportRun       string
	reportOutput    string
	reportWallPhase string
)

var reportCmd = &cobra.Command{
	Use:   "report [file.jsonl | run-id]",
	Short: "Summarize recorded runs",
	Long: `Summarize the per-phase timing of recorded runs. The source is a JSON lines
file, or a run ID looked up in the configured sink. Without an argument every
run in the configured sink is summarized.

Examples:
  phasetime report phasetime.jsonl
  phasetime report --run 1f0e... --output json
  phasetime report 1f0e... --config sqlite.yaml`,
	Args: cobra.MaximumNArgs(1),
	RunE: runReport,
}

func init() {
	rootCmd.AddCommand(reportCmd)

	reportCmd.Flags().StringVar(&reportRun, "run", "", "only summarize this run")
	reportCmd.Flags().StringVarP(&reportOutput, "output", "o", "table", "output format: table, json, yaml")
	reportCmd.Flags().StringVar(&reportWallPhase, "wall-phase", "", "phase holding the per-epoch wall time (default epoch_wall)")
}

func runReport(cmd *cobra.Command, args []string) error {
	source := ""
	if len(args) == 1 {
		source = args[0]
	}

	summaries, _, err := loadSummaries(cmd.Context(), source, reportRun, reportWallPhase)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	if reportOutput != "table" {
		return report.Encode(w, reportOutput, summaries)
	}
	for i, s := range summaries {
		if i > 0 {
			fmt.Fprintln(w)
		}
		if err := report.WriteTable(w, s); err != nil {
			return err
		}
	}
	return nil
}
