package report

import (
	"fmt"
	"io"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
)

const stackName = "phases"

// newPhaseChart builds a stacked bar per window for one run. The wall phase
// itself is not stacked; its residual is shown as UnaccountedPhase.
func newPhaseChart(s *Summary, windows []Window) *charts.Bar {
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "phasetime " + s.RunID, Width: "1200px", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Run " + s.RunID,
			Subtitle: fmt.Sprintf("%d window(s), wall %.2fs, unaccounted %.2fs", s.Windows, s.Wall, s.Unaccounted),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Top: "bottom"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "seconds"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "epoch"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "inside"}, opts.DataZoom{Type: "slider"}),
	)

	labels := make([]string, len(windows))
	for i, w := range windows {
		labels[i] = strconv.Itoa(w.Epoch)
	}
	bar.SetXAxis(labels)

	stacked := charts.WithBarChartOpts(opts.BarChart{Stack: stackName})
	for _, p := range s.Phases {
		if p.Phase == s.WallPhase {
			continue
		}
		bar.AddSeries(p.Phase, barData(windows, func(w Window) float64 { return w.Seconds(p.Phase) }), stacked)
	}
	if s.Wall > 0 {
		bar.AddSeries(UnaccountedPhase, barData(windows, func(w Window) float64 {
			rest := w.Seconds(s.WallPhase)
			for phase, st := range w.Stats {
				if phase != s.WallPhase {
					rest -= st.Seconds
				}
			}
			return rest
		}), stacked)
	}
	return bar
}

func barData(windows []Window, value func(Window) float64) []opts.BarData {
	out := make([]opts.BarData, len(windows))
	for i, w := range windows {
		out[i] = opts.BarData{Value: value(w)}
	}
	return out
}

// WriteChart renders an HTML page with one stacked phase chart per run.
// windows holds the per-window statistics of each summary, by run ID.
func WriteChart(w io.Writer, summaries []*Summary, windows map[string][]Window) error {
	page := components.NewPage()
	for _, s := range summaries {
		page.AddCharts(newPhaseChart(s, windows[s.RunID]))
	}
	return page.Render(w)
}
