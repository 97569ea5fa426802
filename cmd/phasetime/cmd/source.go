package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/psantana5/phasetime/internal/report"
	"github.com/psantana5/phasetime/internal/sink"
	"github.com/psantana5/phasetime/pkg/timing"
)

// openReader returns a reader for source: an existing JSON lines file, or the
// configured sink when source is empty or not a file. The returned run filter
// is source itself when it names a run in the configured store.
func openReader(source string) (sink.Reader, string, error) {
	if source != "" {
		if info, err := os.Stat(source); err == nil && !info.IsDir() {
			return sink.JSONLFile(source), "", nil
		}
	}
	r, err := sink.NewReader(sinkConfig(cfg))
	if err != nil {
		return nil, "", err
	}
	return r, source, nil
}

func closeReader(r sink.Reader) {
	if c, ok := r.(io.Closer); ok {
		c.Close()
	}
}

// loadSummaries reads records from source and summarizes them per run.
// runID, when set, restricts the result to one run.
func loadSummaries(ctx context.Context, source, runID, wallPhase string) ([]*report.Summary, map[string][]report.Window, error) {
	r, implied, err := openReader(source)
	if err != nil {
		return nil, nil, err
	}
	defer closeReader(r)

	if runID == "" {
		runID = implied
	}
	records, err := r.Records(ctx, runID)
	if err != nil {
		return nil, nil, err
	}
	if len(records) == 0 {
		if runID != "" {
			return nil, nil, fmt.Errorf("no records for run %q", runID)
		}
		return nil, nil, fmt.Errorf("no records found")
	}
	if wallPhase == "" {
		wallPhase = timing.EpochWall
	}

	byRun := make(map[string][]sink.Record)
	for _, rec := range records {
		byRun[rec.RunID] = append(byRun[rec.RunID], rec)
	}
	windows := make(map[string][]report.Window, len(byRun))
	for id, recs := range byRun {
		windows[id] = report.Windows(recs)
	}
	return report.Summarize(records, wallPhase), windows, nil
}
