package cmd

import (
	"fmt"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/psantana5/phasetime/internal/report"
	"github.com/psantana5/phasetime/pkg/accel"
)

var probeOutput string

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Show the accelerators visible to this process",
	Long: `Probe for accelerators. Device synchronization is only meaningful when one is
available; otherwise timestamps are taken without waiting.`,
	Args: cobra.NoArgs,
	RunE: runProbe,
}

func init() {
	rootCmd.AddCommand(probeCmd)

	probeCmd.Flags().StringVarP(&probeOutput, "output", "o", "table", "output format: table, json, yaml")
}

func runProbe(cmd *cobra.Command, args []string) error {
	caps := accel.Detect()

	w := cmd.OutOrStdout()
	if probeOutput != "table" {
		return report.Encode(w, probeOutput, caps)
	}

	devices := "-"
	if caps.Count() > 0 {
		devices = strings.Join(caps.Devices, ", ")
	}
	driver := caps.Driver
	if driver == "" {
		driver = "-"
	}

	table := tablewriter.NewWriter(w)
	table.Header("Property", "Value")
	table.Append([]string{"Available", fmt.Sprintf("%t", caps.Available)})
	table.Append([]string{"Devices", fmt.Sprintf("%d", caps.Count())})
	table.Append([]string{"Names", devices})
	table.Append([]string{"Driver", driver})
	return table.Render()
}
