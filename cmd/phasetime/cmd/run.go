package cmd

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/psantana5/phasetime/internal/exporter"
	"github.com/psantana5/phasetime/internal/report"
	"github.com/psantana5/phasetime/internal/sentryx"
	"github.com/psantana5/phasetime/internal/shutdown"
	"github.com/psantana5/phasetime/internal/sink"
	"github.com/psantana5/phasetime/internal/tracing"
	"github.com/psantana5/phasetime/internal/workload"
	"github.com/psantana5/phasetime/pkg/accel"
	"github.com/psantana5/phasetime/pkg/timing"
)

var (
	runProfile     string
	runID          string
	runEpochs      int
	runSteps       int
	runCumulative  bool
	runSync        bool
	runSeed        int64
	runExportKeys  string
	runSinkType    string
	runSinkPath    string
	runSinkDSN     string
	runMetricsAddr string
	runTextfile    string
	runTracing     bool
	runProgress    time.Duration
	runRetries     int
	runOutput      string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a synthetic workload and record per-phase timing",
	Long: `Run a workload profile epoch by epoch. Every phase is timed by a tracker,
each epoch is exported as one record to the configured sink, and a summary is
printed when the run ends or is interrupted.

Examples:
  phasetime run --epochs 5 --steps 20
  phasetime run --profile profile.yaml --sink sqlite --sink-path runs.db
  phasetime run --metrics-addr :9108 --sync`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runProfile, "profile", "p", "", "workload profile file (YAML or JSON); built-in profile when empty")
	runCmd.Flags().StringVar(&runID, "run-id", "", "run identifier (generated when empty)")
	runCmd.Flags().IntVarP(&runEpochs, "epochs", "e", 0, "override the profile's epoch count")
	runCmd.Flags().IntVarP(&runSteps, "steps", "s", 0, "override the profile's steps per epoch")
	runCmd.Flags().BoolVar(&runCumulative, "cumulative", false, "keep accumulating across epochs instead of resetting")
	runCmd.Flags().BoolVar(&runSync, "sync", false, "wait for device work before every timestamp")
	runCmd.Flags().Int64Var(&runSeed, "seed", 0, "jitter seed (time based when zero)")
	runCmd.Flags().StringVar(&runExportKeys, "keys", "", "comma separated phases to export (all recorded phases when empty)")
	runCmd.Flags().StringVar(&runSinkType, "sink", "", "sink type: jsonl, sqlite, postgres, memory, none")
	runCmd.Flags().StringVar(&runSinkPath, "sink-path", "", "file path for jsonl and sqlite sinks")
	runCmd.Flags().StringVar(&runSinkDSN, "sink-dsn", "", "connection string for the postgres sink")
	runCmd.Flags().StringVar(&runMetricsAddr, "metrics-addr", "", "serve /metrics, /health and /timing on this address")
	runCmd.Flags().StringVar(&runTextfile, "textfile", "", "write Prometheus text metrics to this file after every epoch")
	runCmd.Flags().BoolVar(&runTracing, "tracing", false, "export phase spans over OTLP")
	runCmd.Flags().DurationVar(&runProgress, "progress", 10*time.Second, "minimum interval between progress logs, 0 to disable")
	runCmd.Flags().IntVar(&runRetries, "retries", 3, "write attempts per record for the configured sink")
	runCmd.Flags().StringVarP(&runOutput, "output", "o", "table", "summary format: table, json, yaml")
}

// applyRunFlags overlays explicitly set flags on the loaded configuration
func applyRunFlags(cmd *cobra.Command) error {
	flags := cmd.Flags()
	if flags.Changed("sync") {
		cfg.Tracker.SyncDevice = runSync
	}
	if flags.Changed("keys") {
		cfg.Tracker.Keys = splitList(runExportKeys)
	}
	if flags.Changed("sink") {
		cfg.Sink.Type = runSinkType
	}
	if flags.Changed("sink-path") {
		cfg.Sink.Path = runSinkPath
	}
	if flags.Changed("sink-dsn") {
		cfg.Sink.DSN = runSinkDSN
	}
	if flags.Changed("metrics-addr") {
		cfg.Metrics.Addr = runMetricsAddr
	}
	if flags.Changed("textfile") {
		cfg.Metrics.Textfile = runTextfile
	}
	if flags.Changed("tracing") {
		cfg.Tracing.Enabled = runTracing
	}
	return cfg.Validate()
}

func loadRunProfile(cmd *cobra.Command) (workload.Profile, error) {
	profile := workload.DefaultProfile()
	if runProfile != "" {
		p, err := workload.LoadProfile(runProfile)
		if err != nil {
			return workload.Profile{}, err
		}
		profile = p
	}

	flags := cmd.Flags()
	if flags.Changed("epochs") {
		profile.Epochs = runEpochs
	}
	if flags.Changed("steps") {
		profile.StepsPerEpoch = runSteps
	}
	if flags.Changed("cumulative") {
		profile.Cumulative = runCumulative
	}
	return profile, profile.Validate()
}

type runOutcome struct {
	Result  *workload.Result `json:"result" yaml:"result"`
	Sinks   sink.FanoutStats `json:"sinks" yaml:"sinks"`
	Summary *report.Summary  `json:"summary,omitempty" yaml:"summary,omitempty"`
}

func runRun(cmd *cobra.Command, args []string) error {
	if err := applyRunFlags(cmd); err != nil {
		return err
	}
	profile, err := loadRunProfile(cmd)
	if err != nil {
		return err
	}

	id := runID
	if id == "" {
		id = uuid.NewString()
	}

	ctx, stop := shutdown.NotifyContext(cmd.Context())
	defer stop()

	mgr := shutdown.New(cfg.ShutdownTimeout, logger)
	defer func() {
		if err := mgr.Shutdown(); err != nil {
			logger.Error("shutdown incomplete", map[string]interface{}{"error": err.Error()})
		}
	}()

	ok, err := sentryx.Init(sentryx.Options{
		DSN:         cfg.Sentry.DSN,
		Environment: cfg.Sentry.Environment,
		Service:     cfg.Tracing.Service,
		Release:     version,
	})
	if err != nil {
		logger.Warn("sentry disabled", map[string]interface{}{"error": err.Error()})
	} else if ok {
		mgr.Register("sentry", func(context.Context) error {
			sentryx.Flush(2 * time.Second)
			return nil
		})
	}

	provider, err := tracing.InitTracer(tracing.Config{
		ServiceName:    cfg.Tracing.Service,
		ServiceVersion: version,
		Environment:    cfg.Sentry.Environment,
		OTLPEndpoint:   cfg.Tracing.Endpoint,
		Enabled:        cfg.Tracing.Enabled,
		Logger:         logger,
	})
	if err != nil {
		return err
	}
	mgr.Register("tracer", provider.Shutdown)

	primary, err := sink.New(sinkConfig(cfg))
	if err != nil {
		return fmt.Errorf("failed to open %s sink: %w", cfg.Sink.Type, err)
	}
	memory := sink.NewMemorySink()
	fanout := sink.NewFanout(logger, memory, sink.NewRetrying(primary, runRetries, sink.DefaultBackoff(), logger))
	mgr.Register("sinks", shutdown.CloseResource(fanout))

	stream := accel.NewStream()
	mgr.Register("device stream", shutdown.CloseResource(stream))

	histogram := exporter.NewPhaseHistogram(nil)
	observers := []timing.Observer{histogram}
	if sentryx.Enabled() {
		observers = append(observers, sentryx.NewPhaseObserver(id))
	}
	if cfg.Tracing.Enabled {
		observers = append(observers, tracing.NewPhaseObserver(provider.Tracer()))
	}

	var registry *prometheus.Registry
	writeTextfile := func() {
		if cfg.Metrics.Textfile == "" || registry == nil {
			return
		}
		if err := exporter.WriteTextfile(cfg.Metrics.Textfile, registry); err != nil {
			logger.Warn("failed to write metrics textfile", map[string]interface{}{
				"path":  cfg.Metrics.Textfile,
				"error": err.Error(),
			})
		}
	}

	runner, err := workload.NewRunner(profile, workload.Options{
		RunID:         id,
		Prefix:        cfg.Tracker.Prefix,
		Keys:          cfg.Tracker.Keys,
		Sink:          fanout,
		Stream:        stream,
		SyncDevice:    cfg.Tracker.SyncDevice,
		Observers:     observers,
		Tracing:       provider,
		Logger:        logger,
		ProgressEvery: runProgress,
		Seed:          runSeed,
		OnEpoch:       func(int) { writeTextfile() },
	})
	if err != nil {
		return err
	}

	collectors := []prometheus.Collector{
		exporter.NewTrackerCollector(runner.Tracker(), prometheus.Labels{"run_id": id}),
		histogram,
	}
	if cfg.Metrics.Host {
		collectors = append(collectors, exporter.NewHostCollector())
	}
	registry, err = exporter.NewRegistry(collectors...)
	if err != nil {
		return err
	}

	if cfg.Metrics.Addr != "" {
		var tlsConfig *tls.Config
		if cfg.Metrics.TLSCert != "" {
			if tlsConfig, err = exporter.LoadServerTLS(cfg.Metrics.TLSCert, cfg.Metrics.TLSKey, cfg.Metrics.ClientCA); err != nil {
				return err
			}
		}
		srv := exporter.NewServer(exporter.ServerConfig{
			Addr:     cfg.Metrics.Addr,
			Gatherer: registry,
			Tracker:  runner.Tracker(),
			Keys:     cfg.Tracker.Keys,
			Prefix:   cfg.Tracker.Prefix,
			TLS:      tlsConfig,
			Logger:   logger,
		})
		if err := srv.Start(); err != nil {
			return err
		}
		mgr.Register("metrics server", srv.Shutdown)
	}

	res, err := runner.Run(ctx)
	if err != nil {
		return err
	}

	records, err := memory.Records(context.Background(), id)
	if err != nil {
		return err
	}
	out := runOutcome{Result: res, Sinks: fanout.Stats()}
	if summaries := report.Summarize(records, timing.EpochWall); len(summaries) > 0 {
		out.Summary = summaries[0]
		report.LogSummary(logger, out.Summary)
	}

	if err := writeRunOutput(cmd, out); err != nil {
		return err
	}
	if res.Cancelled {
		return context.Canceled
	}
	return nil
}

func writeRunOutput(cmd *cobra.Command, out runOutcome) error {
	w := cmd.OutOrStdout()
	if runOutput != "table" {
		return report.Encode(w, runOutput, out)
	}
	if out.Summary != nil {
		if err := report.WriteTable(w, out.Summary); err != nil {
			return err
		}
	}
	fmt.Fprintf(w, "\nRun %s: %d epoch(s), %d record(s) written, %d sink error(s), elapsed %s\n",
		out.Result.RunID, out.Result.Epochs, out.Sinks.Written, out.Result.SinkErrors, out.Result.Elapsed.Round(time.Millisecond))
	for phase, n := range out.Result.Failures {
		fmt.Fprintf(w, "  %s: %d injected failure(s)\n", phase, n)
	}
	return nil
}
