// Package cmd wires the upmirror command-line interface: build, check, watch,
// publish, and package-list management over one shared configuration set.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/upmirror/upmirror/internal/config"
	"github.com/upmirror/upmirror/internal/state"
	"github.com/upmirror/upmirror/internal/syncer"
)

var (
	configDir string
	outputDir string
	verbose   bool

	logger *zap.Logger
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configDir, "config", "c", ".", "Configuration directory (packages.yaml, settings.yaml)")
	rootCmd.PersistentFlags().StringVarP(&outputDir, "output", "o", "", "Output directory for generated packages (overrides settings)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
}

var rootCmd = &cobra.Command{
	Use:   "upmirror",
	Short: "Mirror git repositories as deterministic UPM packages",
	Long: `upmirror extracts subtrees from upstream git repositories and regenerates
them as Unity-package trees with stable, digest-derived asset identities.
Rebuilding the same source always yields byte-identical output.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		zcfg.Encoding = "console"
		zcfg.DisableCaller = true
		zcfg.DisableStacktrace = true
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// Execute runs the root command. Interrupts cancel the command context so
// in-flight syncs stop at their next checkpoint.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// loadConfig reads the configuration set from --config.
func loadConfig() (*config.Config, error) {
	return config.Load(configDir)
}

// newEngine builds a sync engine from the loaded configuration. The caller
// owns closing the returned store.
func newEngine(cfg *config.Config) (*syncer.Engine, *state.Store, error) {
	store, err := state.Open(cfg.StatePath())
	if err != nil {
		return nil, nil, err
	}
	eng := syncer.New(cfg.OutputDir(outputDir), store, logger)
	if b := cfg.Settings.Build.StripProjectFiles; b != nil {
		eng.Policy.StripProjectFiles = *b
	}
	if b := cfg.Settings.Build.NestRuntime; b != nil {
		eng.Policy.NestRuntime = *b
	}
	if b := cfg.Settings.Build.SkipMeta; b != nil {
		eng.Policy.SkipMeta = *b
	}
	return eng, store, nil
}
