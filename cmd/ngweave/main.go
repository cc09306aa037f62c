package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"ngweave/internal/config"
	"ngweave/internal/logging"
)

var (
	// Global flags
	verbose    bool
	configPath string
	workspace  string

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "ngweave",
	Short: "Incremental Angular compilation for esbuild",
	Long: `ngweave compiles an Angular TypeScript project incrementally and feeds
the output to esbuild.

Sources are read through an in-memory overlay, so edits reach the bundler
without touching disk. Lazy routes found in the sources are collected into
a context module the bundler can split on.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		logger, err = logging.NewZap(verbose, false)
		if err != nil {
			return err
		}
		logging.Init(logger)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Project descriptor (default: <workspace>/"+config.DefaultFileName+")")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "Workspace directory (default: current)")

	buildCmd.Flags().BoolVar(&minifyFlag, "minify", false, "Minify the bundle (overrides bundle.minify)")

	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(workerCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads and validates the project descriptor named by the flags.
// The logger is rebuilt when the descriptor asks for debug or JSON output.
func loadConfig() (*config.Config, error) {
	ws := workspace
	if ws == "" {
		var err error
		if ws, err = os.Getwd(); err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
	}
	path := configPath
	if path == "" {
		path = filepath.Join(ws, config.DefaultFileName)
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}

	if cfg.IsVerbose() != verbose || cfg.Logging.JSON {
		l, err := logging.NewZap(cfg.IsVerbose(), cfg.Logging.JSON)
		if err != nil {
			return nil, err
		}
		logger = l
		logging.Init(l)
	}
	logging.Boot("loaded %s (base %s, %d roots)", path, cfg.BasePath, len(cfg.RootModules))
	return cfg, nil
}
