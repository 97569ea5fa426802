package timing

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psantana5/phasetime/pkg/accel"
)

// stepClock advances by step on every read
type stepClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func newStepClock(step time.Duration) *stepClock {
	return &stepClock{now: time.Unix(1700000000, 0), step: step}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(c.step)
	return c.now
}

// countingSync counts barrier calls and optionally fails
type countingSync struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (s *countingSync) Synchronize() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.err
}

func (s *countingSync) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func TestAddIsAdditive(t *testing.T) {
	tests := []struct {
		name   string
		values []float64
		want   float64
	}{
		{"single", []float64{0.5}, 0.5},
		{"several", []float64{0.5, 0.25, 1.25}, 2.0},
		{"zeros count", []float64{0, 0, 0}, 0},
		{"many small", []float64{0.001, 0.002, 0.003, 0.004}, 0.010},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := New()
			for _, v := range tt.values {
				tr.Add(EnvInteraction, v)
			}

			stat := tr.Stat(EnvInteraction)
			assert.InDelta(t, tt.want, stat.Seconds, 1e-9)
			assert.Equal(t, uint64(len(tt.values)), stat.Count)
		})
	}
}

func TestCounts(t *testing.T) {
	tr := New()
	tr.Add(EnvInteraction, 0.5)
	tr.Add(EnvInteraction, 0.25)

	log := tr.ToLog(Keys(EnvInteraction))
	assert.Equal(t, 2.0, log["timing/env_interaction_count"])
	assert.Equal(t, 0.75, log["timing/env_interaction_sec"])
}

func TestAddDuration(t *testing.T) {
	tr := New()
	tr.AddDuration(WorldModelUpdate, 1500*time.Millisecond)

	assert.InDelta(t, 1.5, tr.Stat(WorldModelUpdate).Seconds, 1e-9)
}

func TestUnrecordedPhaseExportsZero(t *testing.T) {
	tr := New()
	tr.Add(EnvInteraction, 1)

	log := tr.ToLog(Keys(DistillationOracleQuery))
	require.Len(t, log, 2)
	assert.Equal(t, 0.0, log["timing/distillation_oracle_query_sec"])
	assert.Equal(t, 0.0, log["timing/distillation_oracle_query_count"])

	assert.Equal(t, PhaseStat{Phase: "never"}, tr.Stat("never"))
}

func TestToLogDefaultsToKnownPhases(t *testing.T) {
	tr := New()
	tr.Add("custom_phase", 2)
	tr.Add(EnvInteraction, 1)

	log := tr.ToLog()
	assert.Equal(t, map[string]float64{
		"timing/custom_phase_sec":      2,
		"timing/custom_phase_count":    1,
		"timing/env_interaction_sec":   1,
		"timing/env_interaction_count": 1,
	}, log)
}

func TestToLogEmptySelection(t *testing.T) {
	tr := New()
	tr.Add(EnvInteraction, 1)

	assert.Empty(t, tr.ToLog(Keys()))
}

func TestToLogReturnsCopy(t *testing.T) {
	tr := New()
	tr.Add(EnvInteraction, 1)

	log := tr.ToLog()
	log["timing/env_interaction_sec"] = 99

	assert.Equal(t, 1.0, tr.Stat(EnvInteraction).Seconds)
}

func TestResetClearsEverything(t *testing.T) {
	tr := New()
	tr.Add(EnvInteraction, 1)
	tr.Add(PolicyValueUpdate, 2)
	tr.Add(PolicyValueUpdate, -1)

	tr.Reset()
	assert.Empty(t, tr.ToLog())
	assert.Empty(t, tr.Snapshot())
	assert.Zero(t, tr.Rejected())

	tr.Reset()
	assert.Empty(t, tr.ToLog())
}

func TestPrefix(t *testing.T) {
	tr := New()
	tr.Add(EnvInteraction, 1)
	tr.Add(EpochWall, 2)

	for _, prefix := range []string{"x/", ""} {
		log := tr.ToLog(Prefix(prefix))
		require.Len(t, log, 4)
		for k := range log {
			assert.True(t, strings.HasPrefix(k, prefix), "key %q lacks prefix %q", k, prefix)
		}
	}
	assert.Contains(t, tr.ToLog(Prefix("x/")), "x/epoch_wall_sec")
	assert.Contains(t, tr.ToLog(Prefix("")), "epoch_wall_count")
}

func TestEpochWallResidual(t *testing.T) {
	tr := New()
	tr.Add(EpochWall, 10.0)
	tr.Add(EnvInteraction, 3.0)
	tr.Add(ImaginationRollout, 2.0)
	tr.Add(DiffusionSamplingTeacher, 4.0)
	tr.Add(PolicyValueUpdate, 1.0)

	log := tr.ToLog(Keys(DefaultKeys()...))
	require.Len(t, log, 2*len(DefaultKeys()))

	var accounted float64
	for _, k := range DefaultKeys() {
		if k == EpochWall {
			continue
		}
		accounted += log[SecondsKey(DefaultPrefix, k)]
	}
	residual := log["timing/epoch_wall_sec"] - accounted
	assert.InDelta(t, 0.0, residual, 1e-6)
}

func TestInvalidSamplesAreRejected(t *testing.T) {
	tr := New()
	tr.Add(EnvInteraction, 1)

	for _, v := range []float64{-0.5, math.NaN(), math.Inf(1), math.Inf(-1)} {
		tr.Add(EnvInteraction, v)
	}

	stat := tr.Stat(EnvInteraction)
	assert.Equal(t, 1.0, stat.Seconds)
	assert.Equal(t, uint64(1), stat.Count)
	assert.Equal(t, uint64(4), tr.Rejected())
}

func TestSpanRecordsElapsed(t *testing.T) {
	clock := newStepClock(250 * time.Millisecond)
	tr := New(WithClock(clock))

	span := tr.Start(ImaginationRollout)
	assert.Equal(t, ImaginationRollout, span.Phase())
	elapsed := span.Stop()

	assert.Equal(t, 250*time.Millisecond, elapsed)
	assert.Equal(t, PhaseStat{Phase: ImaginationRollout, Seconds: 0.25, Count: 1}, tr.Stat(ImaginationRollout))
}

func TestSpanStopIsIdempotent(t *testing.T) {
	tr := New(WithClock(newStepClock(time.Second)))

	span := tr.Start(EnvInteraction)
	first := span.Stop()
	second := span.Stop()

	assert.Equal(t, first, second)
	assert.Equal(t, uint64(1), tr.Stat(EnvInteraction).Count)
}

func TestDeferredSpan(t *testing.T) {
	tr := New(WithClock(newStepClock(time.Second)))

	func() {
		defer tr.Start(WorldModelUpdate).Stop()
	}()

	assert.Equal(t, PhaseStat{Phase: WorldModelUpdate, Seconds: 1, Count: 1}, tr.Stat(WorldModelUpdate))
}

func TestTimeRecordsOnSuccess(t *testing.T) {
	tr := New()
	const d = 50 * time.Millisecond

	err := tr.Time(EnvInteraction, func() error {
		time.Sleep(d)
		return nil
	})
	require.NoError(t, err)

	stat := tr.Stat(EnvInteraction)
	assert.Equal(t, uint64(1), stat.Count)
	assert.GreaterOrEqual(t, stat.Seconds, d.Seconds())
	assert.Less(t, stat.Seconds, d.Seconds()+0.1)
}

func TestTimeRecordsOnFailure(t *testing.T) {
	tr := New()
	boom := errors.New("env crashed")
	const d = 20 * time.Millisecond

	err := tr.Time(EnvInteraction, func() error {
		time.Sleep(d)
		return boom
	})

	assert.Same(t, boom, err)
	stat := tr.Stat(EnvInteraction)
	assert.Equal(t, uint64(1), stat.Count)
	assert.GreaterOrEqual(t, stat.Seconds, d.Seconds())
}

func TestTimeRecordsOnPanic(t *testing.T) {
	var seen []Sample
	tr := New(
		WithClock(newStepClock(time.Second)),
		WithObserver(ObserverFunc(func(_ context.Context, s Sample) { seen = append(seen, s) })),
	)

	assert.PanicsWithValue(t, "rollout diverged", func() {
		_ = tr.Time(ImaginationRollout, func() error {
			panic("rollout diverged")
		})
	})

	assert.Equal(t, uint64(1), tr.Stat(ImaginationRollout).Count)
	require.Len(t, seen, 1)
	assert.ErrorIs(t, seen[0].Err, ErrAborted)
}

func TestTimeContextPassesContext(t *testing.T) {
	type key struct{}
	ctx := context.WithValue(context.Background(), key{}, "v")

	var observed context.Context
	tr := New(WithObserver(ObserverFunc(func(ctx context.Context, _ Sample) { observed = ctx })))

	err := tr.TimeContext(ctx, PolicyValueUpdate, func(inner context.Context) error {
		assert.Equal(t, "v", inner.Value(key{}))
		return nil
	})
	require.NoError(t, err)
	require.NotNil(t, observed)
	assert.Equal(t, "v", observed.Value(key{}))
}

func TestObserversReceiveSamples(t *testing.T) {
	var mu sync.Mutex
	var samples []Sample
	obs := ObserverFunc(func(_ context.Context, s Sample) {
		mu.Lock()
		samples = append(samples, s)
		mu.Unlock()
	})
	tr := New(WithClock(newStepClock(time.Second)), WithObserver(obs))

	tr.Add(EnvInteraction, 0.5)
	tr.Add(EnvInteraction, -1)
	boom := errors.New("boom")
	_ = tr.Time(PolicyValueUpdate, func() error { return boom })

	require.Len(t, samples, 2)
	assert.False(t, samples[0].Timed())
	assert.Equal(t, 500*time.Millisecond, samples[0].Duration())
	assert.True(t, samples[1].Timed())
	assert.Equal(t, PolicyValueUpdate, samples[1].Phase)
	assert.Equal(t, time.Second, samples[1].End.Sub(samples[1].Start))
	assert.Same(t, boom, samples[1].Err)
}

func TestSyncDefaultAndOverride(t *testing.T) {
	tests := []struct {
		name      string
		def       bool
		opts      []SpanOption
		wantCalls int
	}{
		{"default off", false, nil, 0},
		{"default on", true, nil, 2},
		{"override on", false, []SpanOption{Sync(true)}, 2},
		{"override off", true, []SpanOption{Sync(false)}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			syncer := &countingSync{}
			tr := New(WithSync(tt.def), WithSynchronizer(syncer))

			tr.Start(EnvInteraction, tt.opts...).Stop()
			assert.Equal(t, tt.wantCalls, syncer.Calls())
		})
	}
}

func TestSyncCapturesAsyncDeviceWork(t *testing.T) {
	stream := accel.NewStream()
	defer stream.Close()
	const work = 30 * time.Millisecond

	dispatch := func() error {
		return stream.Submit(func() { time.Sleep(work) })
	}

	host := New(WithSynchronizer(stream))
	require.NoError(t, host.Time(DiffusionSamplingTeacher, dispatch))
	require.NoError(t, stream.Synchronize())

	synced := New(WithSync(true), WithSynchronizer(stream))
	require.NoError(t, synced.Time(DiffusionSamplingTeacher, dispatch))

	assert.Less(t, host.Stat(DiffusionSamplingTeacher).Seconds, work.Seconds())
	assert.GreaterOrEqual(t, synced.Stat(DiffusionSamplingTeacher).Seconds, work.Seconds())
}

func TestSyncFailureFallsBackToHostTime(t *testing.T) {
	syncer := &countingSync{err: errors.New("no device")}
	tr := New(WithSync(true), WithSynchronizer(syncer), WithClock(newStepClock(time.Second)))

	assert.NotPanics(t, func() {
		tr.Start(EnvInteraction).Stop()
		tr.Start(EnvInteraction).Stop()
	})
	assert.Equal(t, PhaseStat{Phase: EnvInteraction, Seconds: 2, Count: 2}, tr.Stat(EnvInteraction))
	assert.Equal(t, 4, syncer.Calls())
}

func TestSyncWithoutAcceleratorIsHarmless(t *testing.T) {
	accel.RegisterSyncHook(nil)
	tr := New(WithSync(true))

	require.NoError(t, tr.Time(EnvInteraction, func() error { return nil }))
	assert.Equal(t, uint64(1), tr.Stat(EnvInteraction).Count)
}

func TestConcurrentAdd(t *testing.T) {
	const (
		workers = 16
		perWork = 500
	)
	tr := New()

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWork; j++ {
				tr.Add(EnvInteraction, 1.0)
			}
		}()
	}
	wg.Wait()

	stat := tr.Stat(EnvInteraction)
	assert.Equal(t, uint64(workers*perWork), stat.Count)
	assert.Equal(t, float64(workers*perWork), stat.Seconds)
}

func TestConcurrentSpansAndExport(t *testing.T) {
	tr := New()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				tr.Start(WorldModelUpdate).Stop()
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = tr.ToLog(Keys(DefaultKeys()...))
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, uint64(800), tr.Stat(WorldModelUpdate).Count)
}

func TestSnapshotAndPhasesSorted(t *testing.T) {
	tr := New()
	tr.Add(WorldModelUpdate, 1)
	tr.Add(EnvInteraction, 2)
	tr.Add(EpochWall, 3)

	assert.Equal(t, []string{EnvInteraction, EpochWall, WorldModelUpdate}, tr.Phases())
	snap := tr.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, PhaseStat{Phase: EnvInteraction, Seconds: 2, Count: 1}, snap[0])
}
