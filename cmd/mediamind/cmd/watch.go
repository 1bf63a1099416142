package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/mediamind/mediamind/internal/index"
	"github.com/mediamind/mediamind/internal/watcher"
)

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch [paths...]",
		Short: "Watch media directories and index changes as they happen",
		Long: `Watch the configured media directories (or the given paths) and run an
incremental index pass whenever files change. Rapid change bursts are
debounced into a single pass.

Runs until interrupted (Ctrl-C).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd.Context(), cmd, args)
		},
	}
	return cmd
}

func runWatch(ctx context.Context, cmd *cobra.Command, paths []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	roots := paths
	if len(roots) == 0 {
		roots = a.cfg.Paths.Scan
	}
	if len(roots) == 0 {
		return fmt.Errorf("no paths to watch: pass paths or set paths.scan in the config")
	}

	if err := a.withAnalyzer(ctx); err != nil {
		return err
	}

	updater, err := a.newUpdater()
	if err != nil {
		return err
	}

	// Initial pass so the watcher starts from a consistent index.
	summary, err := updater.ScanAndIndex(ctx, roots)
	if err != nil {
		if errors.Is(err, index.ErrLocked) {
			return fmt.Errorf("another mediamind indexer is already running against %s", a.cfg.Storage.DataDir)
		}
		return err
	}
	cmd.Printf("Initial scan: %s\n", summary)

	w, err := watcher.NewFSWatcher(watcher.Options{
		DebounceWindow: a.cfg.Indexer.WatchDebounce,
		ExcludeDirs:    a.cfg.Paths.Exclude,
	})
	if err != nil {
		return err
	}
	defer func() { _ = w.Stop() }()

	// Drain event batches; each batch triggers one incremental pass over
	// the full root set, so the fingerprint diff decides the actual work.
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case batch, ok := <-w.Events():
				if !ok {
					return
				}
				slog.Info("change_batch",
					slog.Int("events", len(batch)))
				summary, err := updater.ScanAndIndex(ctx, roots)
				if err != nil {
					if errors.Is(err, context.Canceled) {
						return
					}
					slog.Error("incremental index failed",
						slog.String("error", err.Error()))
					continue
				}
				if summary.Added+summary.Updated+summary.Removed+summary.Failed > 0 {
					cmd.Printf("%s\n", summary)
				}
			case err, ok := <-w.Errors():
				if !ok {
					return
				}
				slog.Warn("watcher error", slog.String("error", err.Error()))
			}
		}
	}()

	cmd.Printf("Watching %d directories (Ctrl-C to stop)\n", len(roots))
	err = w.Start(ctx, roots...)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
