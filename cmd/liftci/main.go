package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/liftci/liftci/internal/buildinfo"
	"github.com/liftci/liftci/internal/config"
)

var cfgPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "liftci",
	Short: "CI orchestration for binary-lifting tool runs",
	Long: `liftci drives continuous-integration runs of binary-lifting tools
(decompilers and lifters) against large test corpora.

It launches one-shot cloud instances that destroy themselves when their
workload finishes, fetches pre-built corpora from object storage, and
runs a lifting tool over every file in a corpus with failure
classification and run statistics.`,
	Version:      buildinfo.Version,
	SilenceUsage: true,
}

var (
	flagLogLevel  string
	flagLogFormat string
)

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgPath, "config", "liftci.yaml", "Path to YAML configuration file")
	pf.StringVar(&flagLogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	pf.StringVar(&flagLogFormat, "log-format", "", "Log format (text, json)")

	rootCmd.AddCommand(launchCmd, runCmd, fetchCmd, fetchSourcesCmd, liftCmd)
}

// loadConfig loads the YAML config, merges logging flag overrides, and
// validates the shared invariants.
func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}

	if flagLogLevel != "" {
		cfg.Logging.Level = flagLogLevel
	}
	if flagLogFormat != "" {
		cfg.Logging.Format = flagLogFormat
	}

	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger := cfg.NewLogger()
	logger.Debug("configuration loaded",
		slog.String("configFile", cfgPath),
		slog.String("provider", cfg.Cloud.Provider),
	)

	return cfg, logger, nil
}
