package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"forgecore/internal/config"
	"forgecore/internal/logging"
)

var (
	// Global flags, mirroring the teacher's workspace/verbose/timeout trio.
	verbose   bool
	workspace string
	timeout   time.Duration
	cfgPath   string

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "forge",
	Short: "forgecore - a self-improving code-generation engine",
	Long: `forge classifies a task description, decides whether a prior artifact
can be reused or mutated, and otherwise plans, generates, validates, runs,
and tests a fresh implementation, escalating model tier on repeated
failure. Generated artifacts are persisted and ranked for later reuse.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		ws := workspace
		if ws == "" {
			ws, _ = os.Getwd()
		}
		if err := logging.Initialize(ws); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to initialize file logging: %v\n", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
		logging.CloseAll()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "workspace directory (default: current)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 5*time.Minute, "operation timeout")
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "path to a forgecore YAML config (default: <workspace>/forge.yaml)")

	rootCmd.AddCommand(classifyCmd, generateCmd, runCmd, listCmd, evaluateCmd)
}

// loadConfig resolves the workspace directory, chdirs into it (matching the
// teacher's root RunE convention so relative store paths in config resolve
// against --workspace rather than the process's original cwd), and loads
// config from --config or the workspace default.
func loadConfig() (*config.Config, error) {
	ws := workspace
	if ws == "" {
		ws, _ = os.Getwd()
	} else if abs, err := filepath.Abs(ws); err == nil {
		ws = abs
	}
	if ws != "" {
		if err := os.Chdir(ws); err != nil {
			return nil, fmt.Errorf("chdir workspace: %w", err)
		}
	}

	path := cfgPath
	if path == "" {
		path = "forge.yaml"
	}
	return config.Load(path)
}
