package sentryx

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/getsentry/sentry-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psantana5/phasetime/pkg/timing"
)

type captured struct {
	mu     sync.Mutex
	events []*sentry.Event
}

func (c *captured) beforeSend(e *sentry.Event, _ *sentry.EventHint) *sentry.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
	return nil
}

func (c *captured) all() []*sentry.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*sentry.Event(nil), c.events...)
}

func initCapturing(t *testing.T) *captured {
	t.Helper()
	c := &captured{}
	ok, err := Init(Options{
		DSN:         "https://public@sentry.example.invalid/1",
		Environment: "test",
		Service:     "phasetime",
		BeforeSend:  c.beforeSend,
	})
	require.NoError(t, err)
	require.True(t, ok)
	t.Cleanup(func() { Init(Options{}) })
	return c
}

func TestInitWithoutDSN(t *testing.T) {
	ok, err := Init(Options{})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, Enabled())

	assert.NotPanics(t, func() {
		CaptureError(errors.New("ignored"), "nothing configured")
		NewPhaseObserver("r").ObservePhase(context.Background(), timing.Sample{Phase: "p", Err: errors.New("x")})
		Flush(0)
	})
}

func TestInitInvalidDSN(t *testing.T) {
	ok, err := Init(Options{DSN: "not a dsn"})
	assert.Error(t, err)
	assert.False(t, ok)
	assert.False(t, Enabled())
}

func TestCaptureError(t *testing.T) {
	c := initCapturing(t)

	CaptureError(errors.New("sink unavailable"), "writing epoch %d", 3)
	CaptureError(nil, "dropped")

	events := c.all()
	require.Len(t, events, 1)
	assert.Equal(t, "writing epoch 3", events[0].Tags["log_message"])
	require.NotEmpty(t, events[0].Exception)
	assert.Equal(t, "sink unavailable", events[0].Exception[0].Value)
}

func TestPhaseObserverReportsFailures(t *testing.T) {
	c := initCapturing(t)
	tr := timing.New(timing.WithObserver(NewPhaseObserver("run-7")))

	tr.Add(timing.EnvInteraction, 1)
	_ = tr.Time(timing.EnvInteraction, func() error { return nil })
	_ = tr.Time(timing.DistillationOracleQuery, func() error { return errors.New("oracle timeout") })

	events := c.all()
	require.Len(t, events, 1)
	assert.Equal(t, timing.DistillationOracleQuery, events[0].Tags["phase"])
	assert.Equal(t, "run-7", events[0].Tags["run_id"])
	assert.Equal(t, false, events[0].Contexts["phase"]["aborted"])
}
