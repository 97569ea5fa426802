package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/psantana5/phasetime/internal/config"
	"github.com/psantana5/phasetime/internal/logging"
	"github.com/psantana5/phasetime/internal/sink"
)

var version = "dev"

var (
	cfgFile  string
	logLevel string
	logJSON  bool

	cfg    *config.Config
	logger *logging.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "phasetime",
	Short: "Per-phase timing for iterative workloads",
	Long: `phasetime accumulates wall-clock time and call counts per named phase of an
iterative workload, exports them once per epoch to a sink, and summarizes,
compares and charts the stored records.`,
	Version:           version,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

// Execute adds all child commands to the root command and sets flags appropriately
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.phasetime/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "emit JSON logs")
}

// loadConfig reads environment, config file and global flags, in that order
func loadConfig(cmd *cobra.Command, args []string) error {
	v := viper.New()
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".phasetime"))
		}
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("failed to read config: %w", err)
		}
	}

	c, err := config.Load(v)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("log-level") {
		c.LogLevel = logLevel
	}
	if cmd.Flags().Changed("log-json") {
		c.LogJSON = logJSON
	}
	if err := c.Validate(); err != nil {
		return err
	}

	cfg = c
	logger = logging.New(cmd.ErrOrStderr(), cfg.Level(), cfg.LogJSON)
	logger.Debug("configuration loaded", map[string]interface{}{"config_file": v.ConfigFileUsed()})
	return nil
}

func sinkConfig(c *config.Config) sink.Config {
	return sink.Config{Type: c.Sink.Type, Path: c.Sink.Path, DSN: c.Sink.DSN}
}

func splitList(raw string) []string {
	var out []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
