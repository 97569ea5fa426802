package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/olekukonko/tablewriter"
	"gopkg.in/yaml.v3"
)

// UnaccountedPhase labels wall time not attributed to any phase
const UnaccountedPhase = "unaccounted"

// WriteTable renders s as a table, one row per phase plus the residual
func WriteTable(w io.Writer, s *Summary) error {
	fmt.Fprintf(w, "Run %s: %d window(s), wall %.3fs", s.RunID, s.Windows, s.Wall)
	if s.Cumulative {
		fmt.Fprint(w, " (cumulative records)")
	}
	fmt.Fprintln(w)

	table := tablewriter.NewWriter(w)
	table.Header("Phase", "Seconds", "Calls", "Mean/Call", "Per Window", "Share")
	for _, p := range s.Phases {
		table.Append([]string{
			p.Phase,
			fmt.Sprintf("%.3f", p.Seconds),
			fmt.Sprintf("%d", p.Count),
			formatSeconds(p.MeanSeconds),
			fmt.Sprintf("%.3f", p.PerWindow),
			formatShare(p.Share, s.Wall),
		})
	}
	if s.Wall > 0 {
		table.Append([]string{
			UnaccountedPhase,
			fmt.Sprintf("%.3f", s.Unaccounted),
			"-",
			"-",
			fmt.Sprintf("%.3f", s.Unaccounted/float64(max(s.Windows, 1))),
			formatShare(s.Unaccounted/s.Wall, s.Wall),
		})
	}
	return table.Render()
}

// WriteComparison renders deltas as a table
func WriteComparison(w io.Writer, base, candidate string, deltas []Delta) error {
	fmt.Fprintf(w, "Baseline %s vs candidate %s (seconds per window)\n", base, candidate)

	table := tablewriter.NewWriter(w)
	table.Header("Phase", "Base", "Candidate", "Change", "Status")
	for _, d := range deltas {
		table.Append([]string{
			d.Phase,
			fmt.Sprintf("%.4f", d.Base),
			fmt.Sprintf("%.4f", d.Candidate),
			formatChange(d),
			status(d),
		})
	}
	return table.Render()
}

// Encode writes v as json or yaml
func Encode(w io.Writer, format string, v interface{}) error {
	switch strings.ToLower(format) {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml", "yml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unsupported output format: %s", format)
	}
}

func formatSeconds(sec float64) string {
	switch {
	case sec == 0:
		return "0"
	case sec < 1e-3:
		return fmt.Sprintf("%.1fµs", sec*1e6)
	case sec < 1:
		return fmt.Sprintf("%.2fms", sec*1e3)
	default:
		return fmt.Sprintf("%.3fs", sec)
	}
}

func formatShare(share, wall float64) string {
	if wall <= 0 {
		return "-"
	}
	return fmt.Sprintf("%.1f%%", share*100)
}

func formatChange(d Delta) string {
	if d.Base == 0 {
		return "-"
	}
	return fmt.Sprintf("%+.1f%%", d.Change*100)
}

func status(d Delta) string {
	switch {
	case d.Missing:
		return "missing"
	case d.New:
		return "new"
	case d.Regressed:
		return "REGRESSED"
	default:
		return "ok"
	}
}
