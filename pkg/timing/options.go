package timing

import (
	"context"
	"time"

	"github.com/psantana5/phasetime/internal/logging"
)

// Option configures a Tracker at construction
type Option func(*Tracker)

// WithSync sets the default for waiting on device work before every
// timestamp. Individual spans may override it with Sync.
func WithSync(enabled bool) Option {
	return func(t *Tracker) {
		t.syncDefault = enabled
	}
}

// WithSynchronizer sets the device barrier. Without it the tracker uses
// accel.Default, resolved on first use.
func WithSynchronizer(s Synchronizer) Option {
	return func(t *Tracker) {
		t.syncer = s
	}
}

// WithClock replaces the timestamp source
func WithClock(c Clock) Option {
	return func(t *Tracker) {
		t.clock = c
	}
}

// WithObserver registers observers notified of every accepted sample
func WithObserver(observers ...Observer) Option {
	return func(t *Tracker) {
		t.observers = append(t.observers, observers...)
	}
}

// WithLogger sets the logger used for dropped samples and sync failures
func WithLogger(l *logging.Logger) Option {
	return func(t *Tracker) {
		t.logger = l
	}
}

type spanConfig struct {
	sync bool
}

// SpanOption configures a single measurement
type SpanOption func(*spanConfig)

// Sync overrides the tracker's device synchronization default for one span
func Sync(enabled bool) SpanOption {
	return func(c *spanConfig) {
		c.sync = enabled
	}
}

type exportConfig struct {
	prefix   string
	keys     []string
	selected bool
}

// ExportOption configures ToLog
type ExportOption func(*exportConfig)

// Keys restricts the export to the given phases. Calling it with no phases
// selects nothing.
func Keys(phases ...string) ExportOption {
	return func(c *exportConfig) {
		c.keys = phases
		c.selected = true
	}
}

// Prefix replaces DefaultPrefix on every exported key
func Prefix(prefix string) ExportOption {
	return func(c *exportConfig) {
		c.prefix = prefix
	}
}

// Sample is a single accepted measurement. Start and End are zero for
// samples added directly through Add.
type Sample struct {
	Phase   string
	Seconds float64
	Start   time.Time
	End     time.Time
	Err     error
}

// Duration returns Seconds as a time.Duration
func (s Sample) Duration() time.Duration {
	return time.Duration(s.Seconds * float64(time.Second))
}

// Timed reports whether the sample came from a span
func (s Sample) Timed() bool {
	return !s.Start.IsZero()
}

// Observer receives every sample the tracker accepts, after it has been
// accumulated. Observers run on the caller's goroutine.
type Observer interface {
	ObservePhase(ctx context.Context, s Sample)
}

// ObserverFunc adapts a function to Observer
type ObserverFunc func(ctx context.Context, s Sample)

// ObservePhase calls f
func (f ObserverFunc) ObservePhase(ctx context.Context, s Sample) {
	f(ctx, s)
}
