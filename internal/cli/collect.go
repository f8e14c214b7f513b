package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"harnesseval/internal/core"
	"harnesseval/internal/logging"
)

// CollectResult lists what collect gathered and which targets had no log.
type CollectResult struct {
	Harvested []core.HarvestedLog
	Missing   []string
	Pruned    int
}

// Collect copies the largest run log of every participant x variant into the
// results tree. A target without logs is reported and skipped; it later
// scores as missing. With prune, the smaller leftover logs are deleted from
// each target's logs directory.
func (a *App) Collect(ctx context.Context, prune bool) (CollectResult, error) {
	ids, err := ReadIDs(a.Config.Paths.IDsFile)
	if err != nil {
		return CollectResult{}, err
	}
	h := core.NewHarvester(a.Config.Paths.ResultsDir)

	var res CollectResult
	for _, participant := range ids {
		for _, v := range a.Catalog.Variants() {
			if err := ctx.Err(); err != nil {
				return res, err
			}
			t := core.BuildTarget{
				Participant: participant,
				Variant:     v.Name,
				OutputDir:   filepath.Join(a.Config.Paths.OutputDir, participant, v.Name),
			}
			got, err := h.Harvest(t)
			if err != nil {
				a.Logger.Warn("no run log", append(logging.Target(participant, v.Name), zap.Error(err))...)
				res.Missing = append(res.Missing, t.ID())
				continue
			}
			res.Harvested = append(res.Harvested, got)
			if prune {
				n, err := pruneLogs(t.LogsDir(), got.Source)
				if err != nil {
					return res, fmt.Errorf("prune %s: %w", t.ID(), err)
				}
				res.Pruned += n
			}
		}
	}

	fmt.Fprintf(a.Stdout, "collected %d logs into %s\n", len(res.Harvested), a.Config.Paths.ResultsDir)
	for _, id := range res.Missing {
		fmt.Fprintf(a.Stdout, "MISSING %s\n", id)
	}
	if prune {
		fmt.Fprintf(a.Stdout, "pruned %d stale logs\n", res.Pruned)
	}
	return res, nil
}

// pruneLogs removes every regular file in dir except keep.
func pruneLogs(dir, keep string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, e := range entries {
		p := filepath.Join(dir, e.Name())
		if !e.Type().IsRegular() || p == keep {
			continue
		}
		if err := os.Remove(p); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}
