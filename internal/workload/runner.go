package workload

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/psantana5/phasetime/internal/logging"
	"github.com/psantana5/phasetime/internal/sentryx"
	"github.com/psantana5/phasetime/internal/sink"
	"github.com/psantana5/phasetime/internal/tracing"
	"github.com/psantana5/phasetime/pkg/accel"
	"github.com/psantana5/phasetime/pkg/timing"
)

// ErrInjectedFailure marks failures requested by a profile's fail_every
var ErrInjectedFailure = errors.New("injected failure")

// Options configures a Runner
type Options struct {
	RunID  string // generated when empty
	Prefix string // empty selects timing.DefaultPrefix
	Keys   []string // empty exports every recorded phase
	Sink   sink.Sink
	// Stream receives device phases; without one they run inline
	Stream *accel.Stream
	// SyncDevice waits for the stream before every timestamp
	SyncDevice bool
	// Observers are attached to the tracker the runner creates
	Observers []timing.Observer
	Tracing   *tracing.Provider
	Logger    *logging.Logger
	// ProgressEvery throttles step progress logs; zero disables them
	ProgressEvery time.Duration
	Seed          int64
	// OnEpoch runs after each epoch is exported and before the tracker is
	// reset, e.g. to write a metrics textfile
	OnEpoch func(epoch int)
}

// Result summarizes a finished run
type Result struct {
	RunID      string         `json:"run_id" yaml:"run_id"`
	Epochs     int            `json:"epochs" yaml:"epochs"`
	Steps      int            `json:"steps" yaml:"steps"`
	Records    int            `json:"records" yaml:"records"`
	SinkErrors int            `json:"sink_errors" yaml:"sink_errors"`
	Failures   map[string]int `json:"failures" yaml:"failures"`
	Rejected   uint64         `json:"rejected" yaml:"rejected"`
	Elapsed    time.Duration  `json:"elapsed" yaml:"elapsed"`
	Cancelled  bool           `json:"cancelled" yaml:"cancelled"`
}

// Runner executes a profile
type Runner struct {
	profile Profile
	opts    Options
	tracker *timing.Tracker
	rng     *rand.Rand
	limiter *rate.Limiter
	calls   map[string]int
}

// NewRunner validates p and prepares a tracker for it
func NewRunner(p Profile, opts Options) (*Runner, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}
	if opts.Prefix == "" {
		opts.Prefix = timing.DefaultPrefix
	}
	if opts.Sink == nil {
		opts.Sink = sink.Discard{}
	}
	if opts.Seed == 0 {
		opts.Seed = time.Now().UnixNano()
	}

	trackerOpts := []timing.Option{
		timing.WithSync(opts.SyncDevice),
		timing.WithLogger(opts.Logger),
		timing.WithObserver(opts.Observers...),
	}
	if opts.Stream != nil {
		trackerOpts = append(trackerOpts, timing.WithSynchronizer(opts.Stream))
	}

	r := &Runner{
		profile: p,
		opts:    opts,
		tracker: timing.New(trackerOpts...),
		rng:     rand.New(rand.NewSource(opts.Seed)),
		calls:   make(map[string]int),
	}
	if opts.ProgressEvery > 0 {
		r.limiter = rate.NewLimiter(rate.Every(opts.ProgressEvery), 1)
	}
	return r, nil
}

// RunID returns the identifier records are written under
func (r *Runner) RunID() string {
	return r.opts.RunID
}

// Tracker returns the tracker the runner records into
func (r *Runner) Tracker() *timing.Tracker {
	return r.tracker
}

// Run executes every epoch. Cancelling ctx stops the run after the current
// phase; the interrupted epoch is still exported.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	res := &Result{RunID: r.opts.RunID, Failures: make(map[string]int)}
	started := time.Now()
	log := r.opts.Logger.WithField("run_id", r.opts.RunID)

	log.Info("starting run", map[string]interface{}{
		"profile":    r.profile.Name,
		"epochs":     r.profile.Epochs,
		"steps":      r.profile.StepsPerEpoch,
		"cumulative": r.profile.Cumulative,
	})

	for epoch := 0; epoch < r.profile.Epochs; epoch++ {
		if ctx.Err() != nil {
			res.Cancelled = true
			break
		}

		err := r.runEpoch(ctx, epoch, res)
		res.Epochs++
		if r.profile.Cumulative {
			res.Rejected = r.tracker.Rejected()
		} else {
			res.Rejected += r.tracker.Rejected()
		}

		if werr := r.export(ctx, epoch); werr != nil {
			res.SinkErrors++
			log.Error("failed to export epoch", map[string]interface{}{"epoch": epoch, "error": werr.Error()})
			sentryx.CaptureError(werr, "exporting epoch %d of run %s", epoch, r.opts.RunID)
		} else {
			res.Records++
		}

		wall := r.tracker.Stat(timing.EpochWall)
		log.Info("epoch complete", map[string]interface{}{
			"epoch":        epoch,
			"wall_seconds": wall.Seconds,
		})

		if r.opts.OnEpoch != nil {
			r.opts.OnEpoch(epoch)
		}
		if !r.profile.Cumulative {
			r.tracker.Reset()
		}

		if err != nil {
			if ctx.Err() != nil {
				res.Cancelled = true
				break
			}
			res.Elapsed = time.Since(started)
			return res, err
		}
	}

	res.Elapsed = time.Since(started)
	log.Info("run finished", map[string]interface{}{
		"epochs":    res.Epochs,
		"records":   res.Records,
		"cancelled": res.Cancelled,
		"elapsed":   res.Elapsed.String(),
	})
	return res, nil
}

func (r *Runner) runEpoch(ctx context.Context, epoch int, res *Result) error {
	if r.opts.Tracing != nil {
		var span trace.Span
		ctx, span = r.opts.Tracing.StartSpan(ctx, "epoch",
			attribute.String("phasetime.run_id", r.opts.RunID),
			attribute.Int("phasetime.epoch", epoch),
		)
		defer span.End()
	}

	return r.tracker.TimeContext(ctx, timing.EpochWall, func(ctx context.Context) error {
		for step := 0; step < r.profile.StepsPerEpoch; step++ {
			for _, ph := range r.profile.Phases {
				for c := 0; c < ph.calls(); c++ {
					err := r.runPhase(ctx, ph)
					switch {
					case err == nil:
					case errors.Is(err, ErrInjectedFailure):
						res.Failures[ph.Name]++
					default:
						return err
					}
				}
			}
			res.Steps++
			r.progress(epoch, step)
		}
		// device work dispatched in this epoch belongs to its wall time
		if r.opts.Stream != nil {
			return r.opts.Stream.Synchronize()
		}
		return nil
	})
}

func (r *Runner) runPhase(ctx context.Context, ph PhaseSpec) error {
	r.calls[ph.Name]++
	n := r.calls[ph.Name]
	d := r.duration(ph)

	var opts []timing.SpanOption
	if ph.Sync != nil {
		opts = append(opts, timing.Sync(*ph.Sync))
	}

	return r.tracker.TimeContext(ctx, ph.Name, func(ctx context.Context) error {
		if ph.Device && r.opts.Stream != nil {
			if err := r.opts.Stream.Submit(func() { time.Sleep(d) }); err != nil {
				return err
			}
		} else if err := sleep(ctx, d); err != nil {
			return err
		}

		if ph.FailEvery > 0 && n%ph.FailEvery == 0 {
			return fmt.Errorf("%w: %s call %d", ErrInjectedFailure, ph.Name, n)
		}
		return nil
	}, opts...)
}

func (r *Runner) duration(ph PhaseSpec) time.Duration {
	if ph.Jitter == 0 || ph.Duration == 0 {
		return ph.Duration
	}
	f := 1 + ph.Jitter*(2*r.rng.Float64()-1)
	return time.Duration(float64(ph.Duration) * f)
}

func (r *Runner) export(ctx context.Context, epoch int) error {
	opts := []timing.ExportOption{timing.Prefix(r.opts.Prefix)}
	if len(r.opts.Keys) > 0 {
		opts = append(opts, timing.Keys(r.opts.Keys...))
	}

	rec := sink.Record{
		RunID:      r.opts.RunID,
		Epoch:      epoch,
		Timestamp:  time.Now().UTC(),
		Prefix:     r.opts.Prefix,
		Cumulative: r.profile.Cumulative,
		Values:     r.tracker.ToLog(opts...),
	}
	// an interrupted epoch is still written
	return r.opts.Sink.Write(context.WithoutCancel(ctx), rec)
}

func (r *Runner) progress(epoch, step int) {
	if r.limiter == nil || !r.limiter.Allow() {
		return
	}
	r.opts.Logger.Info("progress", map[string]interface{}{
		"run_id": r.opts.RunID,
		"epoch":  epoch,
		"step":   step + 1,
		"of":     r.profile.StepsPerEpoch,
	})
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
