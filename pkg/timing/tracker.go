// Package timing accumulates wall-clock time and invocation counts per named
// phase of an iterative workload, and exports them as a flat record for a
// metrics or logging sink.
//
// A Tracker is safe for concurrent use. It never persists anything itself:
// callers decide when to export and where to send the record.
package timing

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/psantana5/phasetime/internal/logging"
	"github.com/psantana5/phasetime/pkg/accel"
)

// ErrAborted is reported to observers for work that panicked or called
// runtime.Goexit inside Time or TimeContext.
var ErrAborted = errors.New("timing: phase aborted")

// Clock supplies timestamps. The default reads time.Now, which carries a
// monotonic reading.
type Clock interface {
	Now() time.Time
}

// Synchronizer blocks until outstanding device work has completed
type Synchronizer = accel.Synchronizer

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// PhaseStat is the accumulated state of a single phase
type PhaseStat struct {
	Phase   string  `json:"phase" yaml:"phase"`
	Seconds float64 `json:"seconds" yaml:"seconds"`
	Count   uint64  `json:"count" yaml:"count"`
}

// Tracker accumulates per-phase durations and invocation counts
type Tracker struct {
	mu        sync.Mutex
	durations map[string]float64
	counts    map[string]uint64
	rejected  uint64

	syncDefault bool
	syncer      Synchronizer
	syncInit    sync.Once
	syncWarned  atomic.Bool

	clock     Clock
	observers []Observer
	logger    *logging.Logger
}

// New creates an empty tracker
func New(opts ...Option) *Tracker {
	t := &Tracker{
		durations: make(map[string]float64),
		counts:    make(map[string]uint64),
		clock:     systemClock{},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Reset clears all accumulated durations, counts and rejected samples
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	clear(t.durations)
	clear(t.counts)
	t.rejected = 0
}

// Add adds seconds to phase and increments its invocation count.
// Negative, NaN and infinite values are dropped and counted as rejected.
func (t *Tracker) Add(phase string, seconds float64) {
	t.record(context.Background(), Sample{Phase: phase, Seconds: seconds})
}

// AddDuration is Add for a time.Duration
func (t *Tracker) AddDuration(phase string, d time.Duration) {
	t.Add(phase, d.Seconds())
}

func (t *Tracker) record(ctx context.Context, s Sample) {
	if s.Seconds < 0 || math.IsNaN(s.Seconds) || math.IsInf(s.Seconds, 0) {
		t.mu.Lock()
		t.rejected++
		t.mu.Unlock()
		t.logger.Warn("dropping invalid phase duration", map[string]interface{}{
			"phase":   s.Phase,
			"seconds": s.Seconds,
		})
		return
	}

	t.mu.Lock()
	t.durations[s.Phase] += s.Seconds
	t.counts[s.Phase]++
	t.mu.Unlock()

	for _, o := range t.observers {
		o.ObservePhase(ctx, s)
	}
}

// now returns a timestamp, first waiting for device work when sync is set
func (t *Tracker) now(withSync bool) time.Time {
	if withSync {
		t.synchronize()
	}
	return t.clock.Now()
}

func (t *Tracker) synchronize() {
	t.syncInit.Do(func() {
		if t.syncer == nil {
			t.syncer = accel.Default()
		}
	})
	if err := t.syncer.Synchronize(); err != nil && t.syncWarned.CompareAndSwap(false, true) {
		t.logger.Warn("device synchronization failed, using host timestamps", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

// ToLog renders the accumulated state as a flat export record. Without Keys
// every phase currently known is included; selected phases that were never
// recorded export as zero.
func (t *Tracker) ToLog(opts ...ExportOption) map[string]float64 {
	cfg := exportConfig{prefix: DefaultPrefix}
	for _, opt := range opts {
		opt(&cfg)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	keys := cfg.keys
	if !cfg.selected {
		keys = make([]string, 0, len(t.durations))
		for k := range t.durations {
			keys = append(keys, k)
		}
	}

	log := make(map[string]float64, 2*len(keys))
	for _, k := range keys {
		log[SecondsKey(cfg.prefix, k)] = t.durations[k]
		log[CountKey(cfg.prefix, k)] = float64(t.counts[k])
	}
	return log
}

// Stat returns the accumulated state of phase; unknown phases are zero
func (t *Tracker) Stat(phase string) PhaseStat {
	t.mu.Lock()
	defer t.mu.Unlock()
	return PhaseStat{Phase: phase, Seconds: t.durations[phase], Count: t.counts[phase]}
}

// Snapshot returns every known phase sorted by name
func (t *Tracker) Snapshot() []PhaseStat {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]PhaseStat, 0, len(t.durations))
	for k, d := range t.durations {
		out = append(out, PhaseStat{Phase: k, Seconds: d, Count: t.counts[k]})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Phase < out[j].Phase })
	return out
}

// Phases returns the known phase names sorted
func (t *Tracker) Phases() []string {
	stats := t.Snapshot()
	out := make([]string, len(stats))
	for i, s := range stats {
		out[i] = s.Phase
	}
	return out
}

// Rejected returns how many invalid samples were dropped since the last Reset
func (t *Tracker) Rejected() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rejected
}
