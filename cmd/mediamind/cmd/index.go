package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mediamind/mediamind/internal/index"
)

func newIndexCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index [paths...]",
		Short: "Scan media directories and index changes",
		Long: `Scan the configured media directories (or the given paths), detect
added, modified and deleted files, and index the changes.

Unchanged files are skipped; interrupted or failed files are retried on
the next run.

Examples:
  mediamind index
  mediamind index ~/Pictures ~/Videos`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIndex(cmd.Context(), cmd, args)
		},
	}
	return cmd
}

func runIndex(ctx context.Context, cmd *cobra.Command, paths []string) error {
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
		return fmt.Errorf("no paths to index: pass paths or set paths.scan in the config")
	}

	if err := a.withAnalyzer(ctx); err != nil {
		return err
	}

	// Reconcile the stores before applying changes, in case a previous run
	// was interrupted between the metadata write and the vector write.
	checker, err := index.NewConsistencyChecker(a.meta, a.meta, a.vectors)
	if err != nil {
		return err
	}
	report, err := checker.Repair(ctx)
	if err != nil {
		return fmt.Errorf("consistency repair failed: %w", err)
	}
	if !report.Consistent() {
		cmd.Printf("Repaired index: %d vectors restored, %d records queued for re-analysis, %d stale fingerprints removed\n",
			report.Restored, report.Demoted, report.ForgottenFingerprints)
	}

	updater, err := a.newUpdater()
	if err != nil {
		return err
	}

	summary, err := updater.ScanAndIndex(ctx, roots)
	if err != nil {
		if errors.Is(err, index.ErrLocked) {
			return fmt.Errorf("another mediamind indexer is already running against %s", a.cfg.Storage.DataDir)
		}
		return err
	}

	cmd.Printf("Indexed: %d added, %d updated, %d removed, %d failed\n",
		summary.Added, summary.Updated, summary.Removed, summary.Failed)
	for _, f := range summary.Failures {
		cmd.Printf("  failed: %s (%s)\n", f.Path, f.Reason)
	}
	return nil
}
