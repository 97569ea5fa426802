package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/psantana5/phasetime/internal/report"
)

var (
	compareThreshold float64
	compareFail      bool
	compareOutput    string
	compareWallPhase string
)

var compareCmd = &cobra.Command{
	Use:   "compare <baseline> <candidate>",
	Short: "Compare per-window phase time between two runs",
	Long: `Compare the mean per-window seconds of every phase between a baseline and a
candidate run. Each argument is a JSON lines file (its first run is used) or a
run ID in the configured sink.

Examples:
  phasetime compare base.jsonl candidate.jsonl
  phasetime compare --threshold 0.05 --fail-on-regression base.jsonl candidate.jsonl`,
	Args: cobra.ExactArgs(2),
	RunE: runCompare,
}

func init() {
	rootCmd.AddCommand(compareCmd)

	compareCmd.Flags().Float64Var(&compareThreshold, "threshold", 0.10, "relative slowdown reported as a regression")
	compareCmd.Flags().BoolVar(&compareFail, "fail-on-regression", false, "exit non-zero when any phase regressed")
	compareCmd.Flags().StringVarP(&compareOutput, "output", "o", "table", "output format: table, json, yaml")
	compareCmd.Flags().StringVar(&compareWallPhase, "wall-phase", "", "phase holding the per-epoch wall time (default epoch_wall)")
}

func runCompare(cmd *cobra.Command, args []string) error {
	if compareThreshold < 0 {
		return fmt.Errorf("threshold must not be negative")
	}

	base, err := firstSummary(cmd, args[0])
	if err != nil {
		return fmt.Errorf("baseline: %w", err)
	}
	candidate, err := firstSummary(cmd, args[1])
	if err != nil {
		return fmt.Errorf("candidate: %w", err)
	}

	deltas := report.Compare(base, candidate, compareThreshold)
	regressions := report.Regressions(deltas)

	w := cmd.OutOrStdout()
	if compareOutput != "table" {
		err = report.Encode(w, compareOutput, map[string]interface{}{
			"baseline":    base.RunID,
			"candidate":   candidate.RunID,
			"threshold":   compareThreshold,
			"deltas":      deltas,
			"regressions": len(regressions),
		})
	} else {
		err = report.WriteComparison(w, base.RunID, candidate.RunID, deltas)
	}
	if err != nil {
		return err
	}

	if compareFail && len(regressions) > 0 {
		return fmt.Errorf("%d phase(s) regressed beyond %.0f%%", len(regressions), compareThreshold*100)
	}
	return nil
}

func firstSummary(cmd *cobra.Command, source string) (*report.Summary, error) {
	summaries, _, err := loadSummaries(cmd.Context(), source, "", compareWallPhase)
	if err != nil {
		return nil, err
	}
	return summaries[0], nil
}
