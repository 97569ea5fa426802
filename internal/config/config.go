// Package config holds the runtime configuration shared by the phasetime
// commands. Values come from defaults and PHASETIME_* environment variables
// first, then from an optional YAML config file, then from explicit flags.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/spf13/viper"

	"github.com/psantana5/phasetime/internal/logging"
	"github.com/psantana5/phasetime/pkg/timing"
)

// EnvPrefix is prepended to every environment variable
const EnvPrefix = "PHASETIME_"

// Config is the full runtime configuration
type Config struct {
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info" mapstructure:"log_level" yaml:"log_level"`
	LogJSON         bool          `env:"LOG_JSON" mapstructure:"log_json" yaml:"log_json"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s" mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`

	Tracker TrackerConfig `envPrefix:"TRACKER_" mapstructure:"tracker" yaml:"tracker"`
	Sink    SinkConfig    `envPrefix:"SINK_" mapstructure:"sink" yaml:"sink"`
	Metrics MetricsConfig `envPrefix:"METRICS_" mapstructure:"metrics" yaml:"metrics"`
	Tracing TracingConfig `envPrefix:"TRACING_" mapstructure:"tracing" yaml:"tracing"`
	Sentry  SentryConfig  `envPrefix:"SENTRY_" mapstructure:"sentry" yaml:"sentry"`
}

// TrackerConfig controls how phases are measured and exported
type TrackerConfig struct {
	SyncDevice bool     `env:"SYNC_DEVICE" mapstructure:"sync_device" yaml:"sync_device"`
	Prefix     string   `env:"PREFIX" envDefault:"timing/" mapstructure:"prefix" yaml:"prefix"`
	Keys       []string `env:"KEYS" envSeparator:"," mapstructure:"keys" yaml:"keys"`
}

// SinkConfig selects where export records go
type SinkConfig struct {
	Type string `env:"TYPE" envDefault:"jsonl" mapstructure:"type" yaml:"type"`
	Path string `env:"PATH" envDefault:"phasetime.jsonl" mapstructure:"path" yaml:"path"`
	DSN  string `env:"DSN" mapstructure:"dsn" yaml:"dsn"`
}

// MetricsConfig controls the Prometheus surface
type MetricsConfig struct {
	Addr     string `env:"ADDR" mapstructure:"addr" yaml:"addr"`
	Textfile string `env:"TEXTFILE" mapstructure:"textfile" yaml:"textfile"`
	Host     bool   `env:"HOST" envDefault:"true" mapstructure:"host" yaml:"host"`
	TLSCert  string `env:"TLS_CERT" mapstructure:"tls_cert" yaml:"tls_cert"`
	TLSKey   string `env:"TLS_KEY" mapstructure:"tls_key" yaml:"tls_key"`
	ClientCA string `env:"CLIENT_CA" mapstructure:"client_ca" yaml:"client_ca"`
}

// TracingConfig controls OpenTelemetry span export
type TracingConfig struct {
	Enabled  bool   `env:"ENABLED" mapstructure:"enabled" yaml:"enabled"`
	Endpoint string `env:"ENDPOINT" envDefault:"localhost:4318" mapstructure:"endpoint" yaml:"endpoint"`
	Service  string `env:"SERVICE" envDefault:"phasetime" mapstructure:"service" yaml:"service"`
}

// SentryConfig controls error reporting
type SentryConfig struct {
	DSN         string `env:"DSN" mapstructure:"dsn" yaml:"dsn"`
	Environment string `env:"ENVIRONMENT" envDefault:"development" mapstructure:"environment" yaml:"environment"`
}

var sinkTypes = []string{"jsonl", "sqlite", "postgres", "memory", "none"}

// Load builds a Config from defaults and the process environment, then
// overlays whatever v has read from a config file. v may be nil.
func Load(v *viper.Viper) (*Config, error) {
	return LoadFrom(v, nil)
}

// LoadFrom is Load with an explicit environment. A nil environ reads the
// process environment.
func LoadFrom(v *viper.Viper, environ map[string]string) (*Config, error) {
	cfg := &Config{}
	opts := env.Options{Prefix: EnvPrefix}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	if v != nil {
		if err := v.Unmarshal(cfg); err != nil {
			return nil, fmt.Errorf("failed to decode config file: %w", err)
		}
	}
	cfg.Tracker.Keys = normalizeKeys(cfg.Tracker.Keys)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the values that cannot be caught by decoding
func (c *Config) Validate() error {
	var errs []error

	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "warning", "error", "fatal":
	default:
		errs = append(errs, fmt.Errorf("unknown log level %q", c.LogLevel))
	}

	known := false
	for _, t := range sinkTypes {
		if strings.EqualFold(c.Sink.Type, t) {
			known = true
			break
		}
	}
	if !known {
		errs = append(errs, fmt.Errorf("unknown sink type %q (want one of %s)", c.Sink.Type, strings.Join(sinkTypes, ", ")))
	}

	switch strings.ToLower(c.Sink.Type) {
	case "jsonl", "sqlite":
		if c.Sink.Path == "" {
			errs = append(errs, fmt.Errorf("sink type %s requires a path", c.Sink.Type))
		}
	case "postgres":
		if c.Sink.DSN == "" {
			errs = append(errs, errors.New("sink type postgres requires a dsn"))
		}
	}

	if (c.Metrics.TLSCert == "") != (c.Metrics.TLSKey == "") {
		errs = append(errs, errors.New("metrics tls_cert and tls_key must be set together"))
	}
	if c.Metrics.ClientCA != "" && c.Metrics.TLSCert == "" {
		errs = append(errs, errors.New("metrics client_ca requires tls_cert and tls_key"))
	}

	if c.ShutdownTimeout <= 0 {
		errs = append(errs, fmt.Errorf("shutdown timeout must be positive, got %s", c.ShutdownTimeout))
	}

	return errors.Join(errs...)
}

// Level returns the parsed log level
func (c *Config) Level() logging.Level {
	return logging.ParseLevel(c.LogLevel)
}

// ExportKeys returns the configured phase selection, or the canonical
// vocabulary when none is configured.
func (c *Config) ExportKeys() []string {
	if keys := normalizeKeys(c.Tracker.Keys); keys != nil {
		return keys
	}
	return timing.DefaultKeys()
}

// normalizeKeys trims entries and drops blanks; an empty selection is nil,
// which exports every recorded phase
func normalizeKeys(keys []string) []string {
	var out []string
	for _, k := range keys {
		if k = strings.TrimSpace(k); k != "" {
			out = append(out, k)
		}
	}
	return out
}
