package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/fulcrumlabs/conductor/pkg/jinja2"
	"github.com/fulcrumlabs/conductor/pkg/starlark"
	"github.com/fulcrumlabs/conductor/pkg/templating"
)

var version = "dev"

var (
	rootConfigPath string
	logLevel       string
	logFormat      string

	cfg    = defaultConfig()
	logger = slog.Default()
)

var rootCmd = cobra.Command{
	Use:           "conductor",
	Short:         "Run playbooks of templated tasks through external modules",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg = defaultConfig()
		if err := cfg.loadConfig(rootConfigPath); err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		if logLevel != "" {
			cfg.LogLevel = logLevel
		}
		if logFormat != "" {
			cfg.LogFormat = logFormat
		}
		l, err := newLogger(cfg.LogLevel, cfg.LogFormat, os.Stderr)
		if err != nil {
			return err
		}
		logger = l
		slog.SetDefault(l)
		return nil
	},
}

// newExpander builds the template expander, with the Starlark filters
// script loaded when one is configured.
func newExpander(filtersScript string) (*templating.Expander, error) {
	filters := jinja2.DefaultFilters()
	if filtersScript != "" {
		if _, err := starlark.LoadFilters(filtersScript, filters, logger); err != nil {
			return nil, fmt.Errorf("loading filters: %w", err)
		}
	}
	return templating.New(filters), nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&rootConfigPath, "config", defaultConfigPath, "Path to conductor configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format (text or json)")

	rootCmd.AddCommand(&runCmd)
	rootCmd.AddCommand(&renderCmd)
	rootCmd.AddCommand(&checkCmd)
	rootCmd.AddCommand(&modulesCmd)
	rootCmd.AddCommand(&versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}
