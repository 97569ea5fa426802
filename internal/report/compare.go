package report

// Delta is the change of one phase between a baseline and a candidate run,
// in seconds per window
type Delta struct {
	Phase     string  `json:"phase" yaml:"phase"`
	Base      float64 `json:"base_seconds" yaml:"base_seconds"`
	Candidate float64 `json:"candidate_seconds" yaml:"candidate_seconds"`
	Change    float64 `json:"change" yaml:"change"`
	Regressed bool    `json:"regressed" yaml:"regressed"`
	New       bool    `json:"new,omitempty" yaml:"new,omitempty"`
	Missing   bool    `json:"missing,omitempty" yaml:"missing,omitempty"`
}

// Compare reports the per-window change of every phase seen in either run.
// Change is relative to the baseline and zero when the baseline spent no
// time in the phase. A phase regressed when it grew by more than threshold
// (0.1 is 10%), or when it takes time in the candidate but none in the base.
func Compare(base, candidate *Summary, threshold float64) []Delta {
	seen := make(map[string]bool)
	var phases []string
	for _, s := range []*Summary{base, candidate} {
		for _, p := range s.Phases {
			if !seen[p.Phase] {
				seen[p.Phase] = true
				phases = append(phases, p.Phase)
			}
		}
	}

	deltas := make([]Delta, 0, len(phases))
	for _, phase := range orderPhases(phases) {
		b, inBase := base.Phase(phase)
		c, inCand := candidate.Phase(phase)

		d := Delta{
			Phase:     phase,
			Base:      b.PerWindow,
			Candidate: c.PerWindow,
			New:       !inBase,
			Missing:   !inCand,
		}
		switch {
		case d.Base > 0:
			d.Change = (d.Candidate - d.Base) / d.Base
			d.Regressed = d.Change > threshold
		case d.Candidate > 0:
			// no baseline to be relative to
			d.Regressed = true
		}
		deltas = append(deltas, d)
	}
	return deltas
}

// Regressions returns the deltas flagged as regressed
func Regressions(deltas []Delta) []Delta {
	var out []Delta
	for _, d := range deltas {
		if d.Regressed {
			out = append(out, d)
		}
	}
	return out
}
