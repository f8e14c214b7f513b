package core

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// Harvester collects the run log of each evaluated target into a flat
// results tree: <ResultsDir>/<participant>/<variant>.log.
//
// The evaluated program may leave several files in its logs directory
// (aborted attempts, rotated files). The largest one is the complete run.
type Harvester struct {
	ResultsDir string
}

// NewHarvester creates a Harvester writing under resultsDir.
func NewHarvester(resultsDir string) *Harvester {
	return &Harvester{ResultsDir: resultsDir}
}

// HarvestedLog describes one collected log.
type HarvestedLog struct {
	Participant string
	Variant     string
	Source      string
	Dest        string
	Size        int64
}

// LargestFile returns the largest regular file directly inside dir.
// Ties are broken by name so the result is stable.
func LargestFile(dir string) (string, int64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", 0, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	best := ""
	var bestSize int64 = -1
	for _, name := range names {
		info, err := os.Stat(filepath.Join(dir, name))
		if err != nil {
			return "", 0, err
		}
		if info.Size() > bestSize {
			best, bestSize = name, info.Size()
		}
	}
	if best == "" {
		return "", 0, fmt.Errorf("no log files in %s", dir)
	}
	return filepath.Join(dir, best), bestSize, nil
}

// Harvest copies the largest log of target into the results tree.
func (h *Harvester) Harvest(target BuildTarget) (HarvestedLog, error) {
	src, size, err := LargestFile(target.LogsDir())
	if err != nil {
		return HarvestedLog{}, fmt.Errorf("harvest %s: %w", target.ID(), err)
	}
	dest := h.Path(target.Participant, target.Variant)
	if err := CopyFile(src, dest); err != nil {
		return HarvestedLog{}, fmt.Errorf("harvest %s: %w", target.ID(), err)
	}
	return HarvestedLog{
		Participant: target.Participant,
		Variant:     target.Variant,
		Source:      src,
		Dest:        dest,
		Size:        size,
	}, nil
}

// Path is where the log for (participant, variant) is stored.
func (h *Harvester) Path(participant, variant string) string {
	return filepath.Join(h.ResultsDir, participant, variant+".log")
}
