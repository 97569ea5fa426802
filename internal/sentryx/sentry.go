// Package sentryx reports failures to Sentry when a DSN is configured and
// does nothing otherwise.
package sentryx

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/psantana5/phasetime/pkg/timing"
)

var enabled atomic.Bool

// Options configures the Sentry client
type Options struct {
	DSN         string
	Environment string
	Service     string
	Release     string
	// BeforeSend may inspect or drop events before they leave the process
	BeforeSend func(*sentry.Event, *sentry.EventHint) *sentry.Event
}

// Init configures the global Sentry client. It reports whether reporting is
// enabled; an empty DSN disables it.
func Init(opts Options) (bool, error) {
	if opts.DSN == "" {
		enabled.Store(false)
		return false, nil
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              opts.DSN,
		Environment:      opts.Environment,
		ServerName:       opts.Service,
		Release:          opts.Release,
		AttachStacktrace: true,
		BeforeSend:       opts.BeforeSend,
	})
	if err != nil {
		enabled.Store(false)
		return false, fmt.Errorf("failed to initialize sentry: %w", err)
	}
	enabled.Store(true)
	return true, nil
}

// Enabled reports whether Init configured a client
func Enabled() bool {
	return enabled.Load()
}

// CaptureError reports err with an optional formatted message tag
func CaptureError(err error, message string, args ...any) {
	if !enabled.Load() || err == nil {
		return
	}

	msg := message
	if len(args) > 0 {
		msg = fmt.Sprintf(message, args...)
	}

	sentry.WithScope(func(scope *sentry.Scope) {
		if msg != "" {
			scope.SetTag("log_message", msg)
		}
		sentry.CaptureException(err)
	})
}

// Flush waits up to timeout for buffered events to be delivered
func Flush(timeout time.Duration) {
	if !enabled.Load() {
		return
	}
	sentry.Flush(timeout)
}

// PhaseObserver reports every failed phase. Aborted phases are reported
// too; the panic itself is left to the caller.
type PhaseObserver struct {
	runID string
}

// NewPhaseObserver creates an observer that tags events with runID
func NewPhaseObserver(runID string) *PhaseObserver {
	return &PhaseObserver{runID: runID}
}

// ObservePhase implements timing.Observer
func (o *PhaseObserver) ObservePhase(_ context.Context, s timing.Sample) {
	if s.Err == nil || !enabled.Load() {
		return
	}

	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("phase", s.Phase)
		if o.runID != "" {
			scope.SetTag("run_id", o.runID)
		}
		scope.SetContext("phase", sentry.Context{
			"seconds": s.Seconds,
			"aborted": errors.Is(s.Err, timing.ErrAborted),
		})
		sentry.CaptureException(s.Err)
	})
}
