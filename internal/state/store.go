// Package state persists batch metadata, failure records and the event
// journal under:
//
//	<baseDir>/.harnesseval/batches/<batch-id>/
//
// All writes are atomic and durable (file sync, atomic rename, dir sync).
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"harnesseval/internal/core"
	"harnesseval/internal/trace"
)

// Store reads and writes batch state files.
type Store struct {
	baseDir string
}

func NewStore(baseDir string) (*Store, error) {
	if strings.TrimSpace(baseDir) == "" {
		return nil, errors.New("baseDir is required")
	}
	return &Store{baseDir: baseDir}, nil
}

func (s *Store) batchesRootDir() string {
	return filepath.Join(s.baseDir, ".harnesseval", "batches")
}

// BatchDir is the directory holding one batch's files.
func (s *Store) BatchDir(batchID string) string {
	return filepath.Join(s.batchesRootDir(), batchID)
}

func (s *Store) batchPath(id string) string   { return filepath.Join(s.BatchDir(id), "batch.json") }
func (s *Store) failurePath(id string) string { return filepath.Join(s.BatchDir(id), "failures.json") }
func (s *Store) journalPath(id string) string { return filepath.Join(s.BatchDir(id), "journal.json") }

// ListBatchIDs returns the ids of all batches on disk, sorted.
func (s *Store) ListBatchIDs() ([]string, error) {
	entries, err := os.ReadDir(s.batchesRootDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() && strings.TrimSpace(e.Name()) != "" {
			ids = append(ids, e.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *Store) SaveBatch(b Batch) error {
	if err := b.Validate(); err != nil {
		return fmt.Errorf("invalid batch: %w", err)
	}
	return s.writeJSON(b.BatchID, s.batchPath(b.BatchID), b)
}

func (s *Store) LoadBatch(batchID string) (Batch, error) {
	var b Batch
	if strings.TrimSpace(batchID) == "" {
		return Batch{}, errors.New("batchID is required")
	}
	if err := readJSONStrict(s.batchPath(batchID), &b); err != nil {
		return Batch{}, err
	}
	if err := b.Validate(); err != nil {
		return Batch{}, fmt.Errorf("invalid batch on disk: %w", err)
	}
	return b, nil
}

// SaveFailures writes the failure list, sorted by target. An empty list is
// written as [].
func (s *Store) SaveFailures(batchID string, failures []Failure) error {
	if strings.TrimSpace(batchID) == "" {
		return errors.New("batchID is required")
	}
	var errs []error
	for i, f := range failures {
		if err := f.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("failures[%d]: %w", i, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid failures: %w", err)
	}
	out := append([]Failure{}, failures...)
	sort.Slice(out, func(i, j int) bool { return out[i].Target < out[j].Target })
	return s.writeJSON(batchID, s.failurePath(batchID), out)
}

func (s *Store) LoadFailures(batchID string) ([]Failure, error) {
	var out []Failure
	if strings.TrimSpace(batchID) == "" {
		return nil, errors.New("batchID is required")
	}
	if err := readJSONStrict(s.failurePath(batchID), &out); err != nil {
		return nil, err
	}
	if out == nil {
		return nil, errors.New("invalid failures on disk: must be an array (not null)")
	}
	for i, f := range out {
		if err := f.Validate(); err != nil {
			return nil, fmt.Errorf("invalid failures[%d] on disk: %w", i, err)
		}
	}
	return out, nil
}

// SaveJournal writes the canonical journal bytes and returns its hash.
func (s *Store) SaveJournal(j trace.Journal) (string, error) {
	if err := j.Validate(); err != nil {
		return "", fmt.Errorf("invalid journal: %w", err)
	}
	data, err := j.CanonicalJSON()
	if err != nil {
		return "", fmt.Errorf("canonicalize journal: %w", err)
	}
	if err := core.EnsureDir(s.BatchDir(j.BatchID), 0o755); err != nil {
		return "", fmt.Errorf("ensure batch dir: %w", err)
	}
	if err := core.WriteFileAtomic(s.journalPath(j.BatchID), data, 0o644); err != nil {
		return "", fmt.Errorf("write journal: %w", err)
	}
	return trace.ComputeHash(data), nil
}

func (s *Store) writeJSON(batchID, path string, v any) error {
	if err := core.EnsureDir(s.BatchDir(batchID), 0o755); err != nil {
		return fmt.Errorf("ensure batch dir: %w", err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	if err := core.WriteFileAtomic(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}

func readJSONStrict(path string, dst any) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("invalid JSON: trailing content")
	}
	return nil
}
