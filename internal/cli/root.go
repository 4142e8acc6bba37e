// Package cli provides the operator command-line interface for the raster
// pipeline: running stages locally, inspecting jobsets and planning preflight.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/podaac/swodlr-raster-create/internal/app"
	"github.com/podaac/swodlr-raster-create/internal/config"
	"github.com/podaac/swodlr-raster-create/internal/metrics"
	"github.com/podaac/swodlr-raster-create/internal/params"
	"github.com/spf13/cobra"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	verbose    bool
	paramsFile string

	// Global config and app
	cfg       config.Config
	logger    *slog.Logger
	collector *metrics.Collector
	stages    *app.App

	closeLog = func() error { return nil }
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "swodlr",
	Short: "Operate the SWOT raster-create pipeline",
	Long: `swodlr runs and inspects the stages of the SWOT on-demand raster pipeline.

Parameters are read from SSM when SWODLR_ENV is prod (the default), otherwise
from SWODLR_<name> environment variables and an optional .env file. A YAML
file given with --params takes precedence over both.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip parameter loading for version, help and offline commands
		if cmd.Name() == "version" || cmd.Name() == "help" || cmd.Annotations["offline"] == "true" {
			cfg = config.Load(params.Map{})
			logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
			return nil
		}

		store, err := loadParams(cmd.Context())
		if err != nil {
			return err
		}
		cfg = config.Load(store)

		level := cfg.LogLevel
		if verbose {
			level = slog.LevelDebug
		}
		logger, closeLog = config.SetupLogger(cfg.LogFile, level)
		slog.SetDefault(logger)

		collector = metrics.NewCollector()
		stages = app.New(cfg, logger, collector)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if verbose {
			collector.Log(logger)
		}
		if err := closeLog(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close log file: %v\n", err)
		}
	},
}

// loadParams layers the --params file over the process parameter store.
func loadParams(ctx context.Context) (params.Store, error) {
	base, err := params.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load parameters: %w", err)
	}
	if paramsFile == "" {
		return base, nil
	}
	file, err := params.LoadFile(paramsFile)
	if err != nil {
		return nil, err
	}
	return params.Layered(file, base), nil
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.ExecuteContext(context.Background())
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output and metrics summary")
	rootCmd.PersistentFlags().StringVar(&paramsFile, "params", "", "YAML file of parameters")

	// Add subcommands
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(stagesCmd)
	rootCmd.AddCommand(injectCmd)
	rootCmd.AddCommand(diffCmd)
	rootCmd.AddCommand(jobsCmd)
	rootCmd.AddCommand(watchCmd)
}

// offline marks a command that needs no parameters or clients.
func offline() map[string]string {
	return map[string]string{"offline": "true"}
}
