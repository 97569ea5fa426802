package sink

import (
	"context"
	"errors"
	"time"

	"github.com/psantana5/phasetime/internal/logging"
)

// Backoff computes exponential retry delays
type Backoff struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// DefaultBackoff starts at 100ms and doubles up to 5s
func DefaultBackoff() Backoff {
	return Backoff{
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
	}
}

// Delay returns the wait before retry number attempt (0-based)
func (b Backoff) Delay(attempt int) time.Duration {
	delay := float64(b.InitialDelay)
	for i := 0; i < attempt; i++ {
		delay *= b.Multiplier
	}
	d := time.Duration(delay)
	if b.MaxDelay > 0 && d > b.MaxDelay {
		d = b.MaxDelay
	}
	return d
}

// Retrying retries failed writes to a sink
type Retrying struct {
	Sink
	attempts int
	backoff  Backoff
	logger   *logging.Logger
}

// NewRetrying wraps s so each write is tried up to attempts times
func NewRetrying(s Sink, attempts int, backoff Backoff, logger *logging.Logger) *Retrying {
	if attempts <= 0 {
		attempts = 3
	}
	return &Retrying{Sink: s, attempts: attempts, backoff: backoff, logger: logger}
}

// Write writes r, backing off between failed attempts. Closed sinks and
// cancelled contexts are not retried.
func (s *Retrying) Write(ctx context.Context, r Record) error {
	var err error
	for attempt := 0; attempt < s.attempts; attempt++ {
		if err = s.Sink.Write(ctx, r); err == nil || errors.Is(err, ErrClosed) {
			return err
		}
		if attempt == s.attempts-1 {
			break
		}

		delay := s.backoff.Delay(attempt)
		s.logger.Warn("sink write failed, retrying", map[string]interface{}{
			"run_id":  r.RunID,
			"epoch":   r.Epoch,
			"attempt": attempt + 1,
			"delay":   delay.String(),
			"error":   err.Error(),
		})

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}
