package sink

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/psantana5/phasetime/internal/logging"
)

// Fanout writes every record to all of its sinks. A failing sink does not
// stop the others.
type Fanout struct {
	sinks  []Sink
	logger *logging.Logger

	written atomic.Uint64
	failed  atomic.Uint64
}

// FanoutStats counts records by outcome. A record is failed if any sink
// rejected it.
type FanoutStats struct {
	Written uint64 `json:"written" yaml:"written"`
	Failed  uint64 `json:"failed" yaml:"failed"`
}

// NewFanout creates a fanout over sinks; nil entries are skipped
func NewFanout(logger *logging.Logger, sinks ...Sink) *Fanout {
	f := &Fanout{logger: logger}
	for _, s := range sinks {
		if s != nil {
			f.sinks = append(f.sinks, s)
		}
	}
	return f
}

// Write writes r to every sink and joins their errors
func (f *Fanout) Write(ctx context.Context, r Record) error {
	var errs []error
	for i, s := range f.sinks {
		if err := s.Write(ctx, r); err != nil {
			errs = append(errs, fmt.Errorf("sink %d (%T): %w", i, s, err))
		}
	}

	if len(errs) > 0 {
		f.failed.Add(1)
		err := errors.Join(errs...)
		f.logger.Error("failed to write timing record", map[string]interface{}{
			"run_id": r.RunID,
			"epoch":  r.Epoch,
			"error":  err.Error(),
		})
		return err
	}
	f.written.Add(1)
	return nil
}

// Close closes every sink
func (f *Fanout) Close() error {
	var errs []error
	for _, s := range f.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Stats returns the current counters
func (f *Fanout) Stats() FanoutStats {
	return FanoutStats{
		Written: f.written.Load(),
		Failed:  f.failed.Load(),
	}
}
