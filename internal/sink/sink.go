// Package sink persists timing export records. A record is the flat
// key/value export of a tracker for one window, tagged with the run and
// epoch it belongs to.
package sink

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/psantana5/phasetime/pkg/timing"
)

var (
	// ErrUnsupportedSink is returned by New for an unknown sink type
	ErrUnsupportedSink = errors.New("unsupported sink type")
	// ErrClosed is returned when writing to a closed sink
	ErrClosed = errors.New("sink closed")
)

// Record is one exported window
type Record struct {
	RunID      string             `json:"run_id" yaml:"run_id"`
	Epoch      int                `json:"epoch" yaml:"epoch"`
	Timestamp  time.Time          `json:"timestamp" yaml:"timestamp"`
	Prefix     string             `json:"prefix" yaml:"prefix"`
	Cumulative bool               `json:"cumulative,omitempty" yaml:"cumulative,omitempty"`
	Values     map[string]float64 `json:"values" yaml:"values"`
}

// Stats decodes Values back into per-phase statistics, sorted by phase.
// Keys that do not carry the record's prefix are ignored.
func (r Record) Stats() []timing.PhaseStat {
	byPhase := make(map[string]*timing.PhaseStat)
	for k, v := range r.Values {
		phase, field, ok := timing.ParseKey(r.Prefix, k)
		if !ok {
			continue
		}
		st, exists := byPhase[phase]
		if !exists {
			st = &timing.PhaseStat{Phase: phase}
			byPhase[phase] = st
		}
		switch field {
		case timing.FieldSeconds:
			st.Seconds = v
		case timing.FieldCount:
			st.Count = uint64(v)
		}
	}

	out := make([]timing.PhaseStat, 0, len(byPhase))
	for _, st := range byPhase {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Phase < out[j].Phase })
	return out
}

func (r Record) clone() Record {
	c := r
	c.Values = make(map[string]float64, len(r.Values))
	for k, v := range r.Values {
		c.Values[k] = v
	}
	return c
}

// Sink accepts export records
type Sink interface {
	Write(ctx context.Context, r Record) error
	Close() error
}

// Reader reads records back. An empty runID selects every run.
type Reader interface {
	Records(ctx context.Context, runID string) ([]Record, error)
	Runs(ctx context.Context) ([]string, error)
}

// Config selects and configures a sink
type Config struct {
	Type            string        // jsonl, sqlite, postgres, memory, none
	Path            string        // file path for jsonl and sqlite
	DSN             string        // connection string for postgres
	MaxOpenConns    int           // postgres pool size, 0 for the default
	ConnMaxLifetime time.Duration // postgres connection lifetime, 0 for the default
}

// New creates the sink described by cfg
func New(cfg Config) (Sink, error) {
	switch strings.ToLower(cfg.Type) {
	case "jsonl", "":
		path := cfg.Path
		if path == "" {
			path = "phasetime.jsonl"
		}
		return NewJSONLSink(path)
	case "sqlite":
		path := cfg.Path
		if path == "" {
			path = cfg.DSN
		}
		if path == "" {
			path = "phasetime.db"
		}
		return NewSQLiteSink(path)
	case "postgres", "postgresql":
		return NewPostgresSink(cfg)
	case "memory":
		return NewMemorySink(), nil
	case "none":
		return Discard{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedSink, cfg.Type)
	}
}

// NewReader opens the store described by cfg for reading
func NewReader(cfg Config) (Reader, error) {
	switch strings.ToLower(cfg.Type) {
	case "memory", "none":
		return nil, fmt.Errorf("%w: %q cannot be read back", ErrUnsupportedSink, cfg.Type)
	case "jsonl", "":
		return JSONLFile(cfg.Path), nil
	}
	s, err := New(cfg)
	if err != nil {
		return nil, err
	}
	r, ok := s.(Reader)
	if !ok {
		s.Close()
		return nil, fmt.Errorf("%w: %q cannot be read back", ErrUnsupportedSink, cfg.Type)
	}
	return r, nil
}

// Discard drops every record
type Discard struct{}

// Write does nothing
func (Discard) Write(context.Context, Record) error { return nil }

// Close does nothing
func (Discard) Close() error { return nil }

// runsOf returns the distinct run IDs in order of first appearance
func runsOf(records []Record) []string {
	seen := make(map[string]bool)
	var runs []string
	for _, r := range records {
		if !seen[r.RunID] {
			seen[r.RunID] = true
			runs = append(runs, r.RunID)
		}
	}
	return runs
}

func filterRun(records []Record, runID string) []Record {
	if runID == "" {
		return records
	}
	out := make([]Record, 0, len(records))
	for _, r := range records {
		if r.RunID == runID {
			out = append(out, r)
		}
	}
	return out
}
