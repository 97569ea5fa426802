package cmd

import (
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/psantana5/phasetime/internal/report"
	"github.com/psantana5/phasetime/pkg/timing"
)

var keysOutput string

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "List record keys for the configured or canonical phases",
	Long: `List phases and the record keys they produce under the configured prefix.
With tracker.keys or PHASETIME_TRACKER_KEYS set, those phases are listed and
they are what run exports. Without a selection the canonical phase vocabulary
is listed; run then exports every phase it records, which may include phases
outside this list.`,
	Args: cobra.NoArgs,
	RunE: runKeys,
}

func init() {
	rootCmd.AddCommand(keysCmd)

	keysCmd.Flags().StringVarP(&keysOutput, "output", "o", "table", "output format: table, json, yaml")
}

type keyRow struct {
	Phase   string `json:"phase" yaml:"phase"`
	Seconds string `json:"seconds_key" yaml:"seconds_key"`
	Count   string `json:"count_key" yaml:"count_key"`
	Builtin bool   `json:"builtin" yaml:"builtin"`
}

func runKeys(cmd *cobra.Command, args []string) error {
	prefix := cfg.Tracker.Prefix
	var rows []keyRow
	for _, phase := range cfg.ExportKeys() {
		rows = append(rows, keyRow{
			Phase:   phase,
			Seconds: timing.SecondsKey(prefix, phase),
			Count:   timing.CountKey(prefix, phase),
			Builtin: timing.IsDefaultKey(phase),
		})
	}

	w := cmd.OutOrStdout()
	if keysOutput != "table" {
		return report.Encode(w, keysOutput, rows)
	}

	table := tablewriter.NewWriter(w)
	table.Header("Phase", "Seconds Key", "Count Key", "Builtin")
	for _, r := range rows {
		builtin := "no"
		if r.Builtin {
			builtin = "yes"
		}
		table.Append([]string{r.Phase, r.Seconds, r.Count, builtin})
	}
	return table.Render()
}
