package timing

import (
	"context"
	"sync"
	"time"
)

// Span is a measurement in progress. Stop records it exactly once.
//
//	defer tr.Start(timing.EnvInteraction).Stop()
type Span struct {
	t     *Tracker
	ctx   context.Context
	phase string
	sync  bool
	start time.Time

	mu      sync.Mutex
	err     error
	stopped bool
	elapsed time.Duration
}

// Start begins measuring phase
func (t *Tracker) Start(phase string, opts ...SpanOption) *Span {
	return t.StartContext(context.Background(), phase, opts...)
}

// StartContext begins measuring phase; ctx is handed to observers on Stop
func (t *Tracker) StartContext(ctx context.Context, phase string, opts ...SpanOption) *Span {
	cfg := spanConfig{sync: t.syncDefault}
	for _, opt := range opts {
		opt(&cfg)
	}

	s := &Span{t: t, ctx: ctx, phase: phase, sync: cfg.sync}
	s.start = t.now(s.sync)
	return s
}

// Phase returns the phase being measured
func (s *Span) Phase() string {
	return s.phase
}

// Fail attaches err to the span. The first non-nil error wins.
func (s *Span) Fail(err error) {
	if err == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

// Stop takes the end timestamp and records the elapsed time. Later calls
// return the first measurement without recording again.
func (s *Span) Stop() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return s.elapsed
	}
	s.stopped = true

	end := s.t.now(s.sync)
	s.elapsed = end.Sub(s.start)
	s.t.record(s.ctx, Sample{
		Phase:   s.phase,
		Seconds: s.elapsed.Seconds(),
		Start:   s.start,
		End:     end,
		Err:     s.err,
	})
	return s.elapsed
}

// Time runs fn inside a span for phase. The sample is recorded on every exit
// path, including a returned error or a panic; both reach the caller unchanged.
func (t *Tracker) Time(phase string, fn func() error, opts ...SpanOption) error {
	return t.TimeContext(context.Background(), phase, func(context.Context) error {
		return fn()
	}, opts...)
}

// TimeContext is Time with a context passed through to fn and observers.
// It does not impose deadlines of its own.
func (t *Tracker) TimeContext(ctx context.Context, phase string, fn func(context.Context) error, opts ...SpanOption) error {
	s := t.StartContext(ctx, phase, opts...)

	returned := false
	defer func() {
		if !returned {
			s.Fail(ErrAborted)
		}
		s.Stop()
	}()

	err := fn(ctx)
	returned = true
	s.Fail(err)
	return err
}
