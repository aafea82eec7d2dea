package cmd

import (
	"context"
	"errors"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/upmirror/upmirror/internal/syncer"
	"github.com/upmirror/upmirror/internal/watch"
)

var (
	watchDebounce time.Duration
	watchInterval time.Duration
)

func init() {
	watchCmd.Flags().DurationVar(&watchDebounce, "debounce", 500*time.Millisecond, "Quiet period before reacting to configuration edits")
	watchCmd.Flags().DurationVar(&watchInterval, "interval", 0, "Also resync every interval (0 disables periodic resync)")
	rootCmd.AddCommand(watchCmd)
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch the configuration directory and resync on changes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		w, err := watch.New(configDir, watchDebounce, logger)
		if err != nil {
			return err
		}
		defer func() { _ = w.Close() }()

		ctx := cmd.Context()
		go func() { _ = w.Run(ctx) }()

		// Initial pass so the output tree reflects the config at startup.
		if err := watchSync(ctx); err != nil {
			logger.Warn("Initial sync incomplete", zap.Error(err))
		}

		var tick <-chan time.Time
		if watchInterval > 0 {
			t := time.NewTicker(watchInterval)
			defer t.Stop()
			tick = t.C
		}
		for {
			select {
			case <-ctx.Done():
				return nil
			case batch := <-w.Events:
				logger.Info("Configuration changed", zap.Strings("files", batch))
				if err := watchSync(ctx); err != nil {
					logger.Warn("Resync incomplete", zap.Error(err))
				}
			case <-tick:
				if err := watchSync(ctx); err != nil {
					logger.Warn("Periodic resync incomplete", zap.Error(err))
				}
			}
		}
	},
}

// watchSync reloads the configuration and syncs every package. Config errors
// are reported but do not stop watching; the operator fixes the file and the
// next batch retries.
func watchSync(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	eng, store, err := newEngine(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	results := eng.SyncAll(ctx, cfg.Packages)
	if n := syncer.FailedCount(results); n > 0 {
		return errors.New("some packages failed to sync")
	}
	return nil
}
