// Package report turns stored timing records back into per-run summaries,
// run-to-run comparisons, tables and charts.
package report

import (
	"sort"
	"time"

	"github.com/psantana5/phasetime/internal/logging"
	"github.com/psantana5/phasetime/internal/sink"
	"github.com/psantana5/phasetime/pkg/timing"
)

// Window is the per-phase time spent in a single export window. For
// cumulative records it is the difference to the previous record.
type Window struct {
	Epoch     int                         `json:"epoch" yaml:"epoch"`
	Timestamp time.Time                   `json:"timestamp" yaml:"timestamp"`
	Stats     map[string]timing.PhaseStat `json:"stats" yaml:"stats"`
}

// Seconds returns the time spent in phase during the window
func (w Window) Seconds(phase string) float64 {
	return w.Stats[phase].Seconds
}

// PhaseSummary is the total of one phase over a run
type PhaseSummary struct {
	Phase       string  `json:"phase" yaml:"phase"`
	Seconds     float64 `json:"seconds" yaml:"seconds"`
	Count       uint64  `json:"count" yaml:"count"`
	MeanSeconds float64 `json:"mean_seconds" yaml:"mean_seconds"`
	PerWindow   float64 `json:"per_window_seconds" yaml:"per_window_seconds"`
	Share       float64 `json:"share" yaml:"share"`
}

// Summary is the total of a run across all of its windows.
// Unaccounted is wall time not attributed to any other phase; it goes
// negative when phases overlap.
type Summary struct {
	RunID       string         `json:"run_id" yaml:"run_id"`
	Windows     int            `json:"windows" yaml:"windows"`
	First       time.Time      `json:"first" yaml:"first"`
	Last        time.Time      `json:"last" yaml:"last"`
	Cumulative  bool           `json:"cumulative" yaml:"cumulative"`
	WallPhase   string         `json:"wall_phase" yaml:"wall_phase"`
	Wall        float64        `json:"wall_seconds" yaml:"wall_seconds"`
	Accounted   float64        `json:"accounted_seconds" yaml:"accounted_seconds"`
	Unaccounted float64        `json:"unaccounted_seconds" yaml:"unaccounted_seconds"`
	Phases      []PhaseSummary `json:"phases" yaml:"phases"`
}

// Phase returns the summary of phase, if the run recorded it
func (s *Summary) Phase(phase string) (PhaseSummary, bool) {
	for _, p := range s.Phases {
		if p.Phase == phase {
			return p, true
		}
	}
	return PhaseSummary{}, false
}

// Windows converts the records of one run into per-window statistics,
// ordered by epoch
func Windows(records []sink.Record) []Window {
	sorted := make([]sink.Record, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Epoch < sorted[j].Epoch })

	windows := make([]Window, 0, len(sorted))
	var prev map[string]timing.PhaseStat
	for _, r := range sorted {
		stats := make(map[string]timing.PhaseStat)
		for _, st := range r.Stats() {
			stats[st.Phase] = st
		}

		if r.Cumulative {
			current := stats
			stats = make(map[string]timing.PhaseStat, len(current))
			for phase, st := range current {
				before := prev[phase]
				st.Seconds -= before.Seconds
				if st.Count >= before.Count {
					st.Count -= before.Count
				} else {
					st.Count = 0
				}
				stats[phase] = st
			}
			prev = current
		}

		windows = append(windows, Window{Epoch: r.Epoch, Timestamp: r.Timestamp, Stats: stats})
	}
	return windows
}

// Summarize totals records per run, in order of each run's first record.
// wallPhase names the phase that encloses all others, usually
// timing.EpochWall.
func Summarize(records []sink.Record, wallPhase string) []*Summary {
	byRun := make(map[string][]sink.Record)
	var order []string
	for _, r := range records {
		if _, ok := byRun[r.RunID]; !ok {
			order = append(order, r.RunID)
		}
		byRun[r.RunID] = append(byRun[r.RunID], r)
	}

	out := make([]*Summary, 0, len(order))
	for _, id := range order {
		out = append(out, summarizeRun(id, byRun[id], wallPhase))
	}
	return out
}

func summarizeRun(runID string, records []sink.Record, wallPhase string) *Summary {
	s := &Summary{RunID: runID, WallPhase: wallPhase}

	totals := make(map[string]*PhaseSummary)
	for _, w := range Windows(records) {
		s.Windows++
		if s.First.IsZero() || w.Timestamp.Before(s.First) {
			s.First = w.Timestamp
		}
		if w.Timestamp.After(s.Last) {
			s.Last = w.Timestamp
		}
		for phase, st := range w.Stats {
			p, ok := totals[phase]
			if !ok {
				p = &PhaseSummary{Phase: phase}
				totals[phase] = p
			}
			p.Seconds += st.Seconds
			p.Count += st.Count
		}
	}
	for _, r := range records {
		if r.Cumulative {
			s.Cumulative = true
			break
		}
	}

	if wall, ok := totals[wallPhase]; ok {
		s.Wall = wall.Seconds
	}

	phases := make([]string, 0, len(totals))
	for phase := range totals {
		phases = append(phases, phase)
	}
	for _, phase := range orderPhases(phases) {
		p := totals[phase]
		if p.Count > 0 {
			p.MeanSeconds = p.Seconds / float64(p.Count)
		}
		if s.Windows > 0 {
			p.PerWindow = p.Seconds / float64(s.Windows)
		}
		if s.Wall > 0 {
			p.Share = p.Seconds / s.Wall
		}
		if phase != wallPhase {
			s.Accounted += p.Seconds
		}
		s.Phases = append(s.Phases, *p)
	}
	s.Unaccounted = s.Wall - s.Accounted
	return s
}

// orderPhases puts the canonical vocabulary first, in its own order, then
// everything else alphabetically
func orderPhases(phases []string) []string {
	rank := make(map[string]int)
	for i, k := range timing.DefaultKeys() {
		rank[k] = i
	}

	out := make([]string, len(phases))
	copy(out, phases)
	sort.Slice(out, func(i, j int) bool {
		ri, iok := rank[out[i]]
		rj, jok := rank[out[j]]
		switch {
		case iok && jok:
			return ri < rj
		case iok != jok:
			return iok
		default:
			return out[i] < out[j]
		}
	})
	return out
}

// LogSummary writes a one-line summary of s
func LogSummary(logger *logging.Logger, s *Summary) {
	fields := map[string]interface{}{
		"run_id":              s.RunID,
		"windows":             s.Windows,
		"wall_seconds":        s.Wall,
		"unaccounted_seconds": s.Unaccounted,
	}
	if len(s.Phases) > 0 {
		top := s.Phases[0]
		for _, p := range s.Phases {
			if p.Phase != s.WallPhase && (top.Phase == s.WallPhase || p.Seconds > top.Seconds) {
				top = p
			}
		}
		if top.Phase != s.WallPhase {
			fields["top_phase"] = top.Phase
			fields["top_phase_share"] = top.Share
		}
	}
	logger.Info("run summary", fields)
}
