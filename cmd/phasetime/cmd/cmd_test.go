package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psantana5/phasetime/internal/sink"
	"github.com/psantana5/phasetime/pkg/timing"
)

// execute runs the root command with fresh flag values and an empty HOME
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	resetFlags(rootCmd)

	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func resetFlags(c *cobra.Command) {
	for _, fs := range []*pflag.FlagSet{c.Flags(), c.PersistentFlags()} {
		fs.VisitAll(func(f *pflag.Flag) {
			_ = f.Value.Set(f.DefValue)
			f.Changed = false
		})
	}
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

// recordRun runs a short workload into a JSON lines file and returns its path
func recordRun(t *testing.T, dir, runID string) string {
	t.Helper()
	path := filepath.Join(dir, runID+".jsonl")
	_, err := execute(t, "run",
		"--run-id", runID,
		"--epochs", "2",
		"--steps", "1",
		"--seed", "7",
		"--progress", "0",
		"--sink", "jsonl",
		"--sink-path", path,
		"--output", "json",
	)
	require.NoError(t, err)
	return path
}

func TestRunCommand(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "run.jsonl")
	textfile := filepath.Join(dir, "metrics.prom")

	out, err := execute(t, "run",
		"--run-id", "run-a",
		"--epochs", "2",
		"--steps", "1",
		"--progress", "0",
		"--sink-path", path,
		"--textfile", textfile,
		"--output", "json",
	)
	require.NoError(t, err)

	var got struct {
		Result struct {
			RunID   string `json:"run_id"`
			Epochs  int    `json:"epochs"`
			Records int    `json:"records"`
		} `json:"result"`
		Sinks struct {
			Written uint64 `json:"written"`
			Failed  uint64 `json:"failed"`
		} `json:"sinks"`
		Summary struct {
			Windows int     `json:"windows"`
			Wall    float64 `json:"wall_seconds"`
		} `json:"summary"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, "run-a", got.Result.RunID)
	assert.Equal(t, 2, got.Result.Epochs)
	assert.Equal(t, 2, got.Result.Records)
	assert.Equal(t, uint64(2), got.Sinks.Written)
	assert.Zero(t, got.Sinks.Failed)
	assert.Equal(t, 2, got.Summary.Windows)
	assert.Greater(t, got.Summary.Wall, 0.0)

	records, err := sink.JSONLFile(path).Records(context.Background(), "run-a")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Contains(t, records[0].Values, timing.SecondsKey(timing.DefaultPrefix, timing.EpochWall))

	metrics, err := os.ReadFile(textfile)
	require.NoError(t, err)
	assert.Contains(t, string(metrics), "phasetime_phase_duration_seconds")
	assert.Contains(t, string(metrics), `run_id="run-a"`)
}

func TestRunCommandTable(t *testing.T) {
	out, err := execute(t, "run",
		"--run-id", "run-table",
		"--epochs", "1",
		"--steps", "1",
		"--progress", "0",
		"--sink", "none",
	)
	require.NoError(t, err)
	assert.Contains(t, out, "Run run-table: 1 window(s)")
	assert.Contains(t, out, timing.EnvInteraction)
	assert.Contains(t, out, "1 epoch(s)")
}

func TestRunCommandSelectedKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys.jsonl")
	_, err := execute(t, "run",
		"--run-id", "run-keys",
		"--epochs", "1",
		"--steps", "1",
		"--progress", "0",
		"--sink-path", path,
		"--keys", "epoch_wall, env_interaction",
		"--output", "json",
	)
	require.NoError(t, err)

	records, err := sink.JSONLFile(path).Records(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Len(t, records[0].Values, 4)
}

func TestRunCommandInvalid(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"unknown sink", []string{"run", "--sink", "kafka"}, "sink"},
		{"zero epochs", []string{"run", "--epochs", "0", "--sink", "none"}, "epochs"},
		{"missing profile", []string{"run", "--profile", "does-not-exist.yaml", "--sink", "none"}, "does-not-exist.yaml"},
		{"bad log level", []string{"run", "--log-level", "loud"}, "log level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestRunCommandProfileFile(t *testing.T) {
	dir := t.TempDir()
	profile := filepath.Join(dir, "profile.yaml")
	require.NoError(t, os.WriteFile(profile, []byte(`
name: tiny
epochs: 1
steps_per_epoch: 2
phases:
  - name: rollout
    duration: 1ms
  - name: update
    duration: 1ms
    fail_every: 2
`), 0o644))

	out, err := execute(t, "run",
		"--profile", profile,
		"--run-id", "run-profile",
		"--progress", "0",
		"--sink", "memory",
	)
	require.NoError(t, err)
	assert.Contains(t, out, "rollout")
	assert.Contains(t, out, "update: 1 injected failure(s)")
}

func TestConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "from-config.jsonl")
	config := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(config, []byte("sink:\n  type: jsonl\n  path: "+path+"\ntracker:\n  prefix: perf/\n"), 0o644))

	_, err := execute(t, "--config", config, "run",
		"--run-id", "run-config",
		"--epochs", "1",
		"--steps", "1",
		"--progress", "0",
		"--output", "json",
	)
	require.NoError(t, err)

	records, err := sink.JSONLFile(path).Records(context.Background(), "run-config")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "perf/", records[0].Prefix)
	assert.Contains(t, records[0].Values, "perf/epoch_wall_sec")

	_, err = execute(t, "--config", filepath.Join(dir, "missing.yaml"), "keys")
	assert.Error(t, err)
}

func TestReportCommand(t *testing.T) {
	path := recordRun(t, t.TempDir(), "run-report")

	out, err := execute(t, "report", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Run run-report: 2 window(s)")
	assert.Contains(t, out, "unaccounted")

	out, err = execute(t, "report", path, "--output", "json")
	require.NoError(t, err)
	var summaries []map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &summaries))
	require.Len(t, summaries, 1)
	assert.Equal(t, "run-report", summaries[0]["run_id"])

	_, err = execute(t, "report", path, "--run", "other")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no records")
}

func TestReportFromConfiguredSink(t *testing.T) {
	dir := t.TempDir()
	path := recordRun(t, dir, "run-store")

	out, err := execute(t, "report", "run-store")
	require.Error(t, err, "default sink path does not exist in the working directory")
	assert.Empty(t, out)

	t.Setenv("PHASETIME_SINK_PATH", path)
	out, err = execute(t, "report", "run-store")
	require.NoError(t, err)
	assert.Contains(t, out, "Run run-store")
}

func TestCompareCommand(t *testing.T) {
	dir := t.TempDir()
	base := recordRun(t, dir, "base")

	out, err := execute(t, "compare", base, base)
	require.NoError(t, err)
	assert.Contains(t, out, "Baseline base vs candidate base")
	assert.NotContains(t, out, "REGRESSED")

	// A candidate that spends far longer in one phase.
	slow := filepath.Join(dir, "slow.jsonl")
	records, err := sink.JSONLFile(base).Records(context.Background(), "")
	require.NoError(t, err)
	s, err := sink.NewJSONLSink(slow)
	require.NoError(t, err)
	key := timing.SecondsKey(timing.DefaultPrefix, timing.EnvInteraction)
	for _, r := range records {
		r.RunID = "slow"
		r.Values[key] = r.Values[key]*10 + 1
		require.NoError(t, s.Write(context.Background(), r))
	}
	require.NoError(t, s.Close())

	out, err = execute(t, "compare", base, slow)
	require.NoError(t, err)
	assert.Contains(t, out, "REGRESSED")

	_, err = execute(t, "compare", base, slow, "--fail-on-regression")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "regressed")

	_, err = execute(t, "compare", base)
	assert.Error(t, err)
}

func TestChartCommand(t *testing.T) {
	dir := t.TempDir()
	path := recordRun(t, dir, "run-chart")
	html := filepath.Join(dir, "chart.html")

	out, err := execute(t, "chart", path, "--out", html)
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote 1 chart(s)")

	data, err := os.ReadFile(html)
	require.NoError(t, err)
	assert.Contains(t, string(data), "run-chart")
}

func TestKeysCommand(t *testing.T) {
	out, err := execute(t, "keys")
	require.NoError(t, err)
	for _, k := range timing.DefaultKeys() {
		assert.Contains(t, out, timing.SecondsKey(timing.DefaultPrefix, k))
	}

	t.Setenv("PHASETIME_TRACKER_KEYS", "custom,epoch_wall")
	t.Setenv("PHASETIME_TRACKER_PREFIX", "x/")
	out, err = execute(t, "keys", "--output", "json")
	require.NoError(t, err)

	var rows []keyRow
	require.NoError(t, json.Unmarshal([]byte(out), &rows))
	require.Len(t, rows, 2)
	assert.Equal(t, keyRow{Phase: "custom", Seconds: "x/custom_sec", Count: "x/custom_count"}, rows[0])
	assert.True(t, rows[1].Builtin)
}

func TestProbeCommand(t *testing.T) {
	out, err := execute(t, "probe", "--output", "yaml")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "available:"))

	out, err = execute(t, "probe")
	require.NoError(t, err)
	assert.Contains(t, out, "Driver")
}

func TestKeysHelpDescribesRunSelection(t *testing.T) {
	out, err := execute(t, "keys", "--help")
	if err != nil {
		t.Fatalf("keys --help: %v", err)
	}
	if strings.Contains(out, "exported by default") {
		t.Errorf("help implies run exports only the canonical phases:\n%s", out)
	}
	if !strings.Contains(out, "every phase it records") {
		t.Errorf("help does not describe what run exports without a selection:\n%s", out)
	}
}
