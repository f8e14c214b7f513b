package cli

import (
	"context"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"time"

	"harnesseval/internal/ledger"
	"harnesseval/internal/state"
)

// Batches prints the recorded batches, or the failures of one batch when
// batchID is set. Failures that can be retried are printed with the target
// directory to pass to "evaluate".
func (a *App) Batches(ctx context.Context, batchID string) error {
	store, err := state.NewStore(a.Config.Paths.StateDir)
	if err != nil {
		return configErrorf("state dir: %v", err)
	}
	if batchID != "" {
		return a.printFailures(store, batchID)
	}

	ids, err := store.ListBatchIDs()
	if err != nil {
		return fmt.Errorf("list batches: %w", err)
	}
	for _, id := range ids {
		b, err := store.LoadBatch(id)
		if err != nil {
			fmt.Fprintf(a.Stdout, "%s unreadable: %v\n", id, err)
			continue
		}
		fmt.Fprintf(a.Stdout, "%s %s %-10s %-9s %d targets, %d failed\n",
			b.BatchID, b.StartTime.Format(time.RFC3339), b.Mode, b.Status, b.Targets, b.Failed)
	}

	path := a.Config.Ledger.Path
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	l, err := ledger.Open(path)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer l.Close()
	counts, err := l.FailureCounts(ctx)
	if err != nil {
		return err
	}
	for _, variant := range slices.Sorted(maps.Keys(counts)) {
		fmt.Fprintf(a.Stdout, "failures %s: %d\n", variant, counts[variant])
	}
	return nil
}

func (a *App) printFailures(store *state.Store, batchID string) error {
	b, err := store.LoadBatch(batchID)
	if err != nil {
		return invalidInvocationf("batch %s: %v", batchID, err)
	}
	failures, err := store.LoadFailures(batchID)
	if err != nil {
		return fmt.Errorf("load failures: %w", err)
	}
	fmt.Fprintf(a.Stdout, "batch %s: %s, %d targets, %d failed, journal %s\n",
		b.BatchID, b.Status, b.Targets, b.Failed, b.JournalHash)
	for _, f := range failures {
		line := fmt.Sprintf("%s [%s] %s %s", f.Target, f.Stage, f.ErrorCode, firstLine(f.ErrorMessage))
		if f.Reexecutable {
			line += " retry: " + filepath.Join(a.Config.Paths.TargetsDir, f.Target)
		}
		fmt.Fprintln(a.Stdout, line)
	}
	return nil
}
