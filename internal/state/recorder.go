package state

import (
	"errors"
	"fmt"
	"time"

	"harnesseval/internal/pipeline"
	"harnesseval/internal/trace"
)

// Recorder writes the state files of one batch as it progresses.
type Recorder struct {
	Store *Store

	// Now is overridable in tests.
	Now func() time.Time
}

func (r *Recorder) now() time.Time {
	if r.Now != nil {
		return r.Now().UTC()
	}
	return time.Now().UTC()
}

// Start persists a new running batch with a fresh id.
func (r *Recorder) Start(mode Mode) (Batch, error) {
	if r == nil || r.Store == nil {
		return Batch{}, errors.New("Store is required")
	}
	b := Batch{
		BatchID:   NewBatchID(),
		StartTime: r.now(),
		Mode:      mode,
		Status:    StatusRunning,
	}
	if err := r.Store.SaveBatch(b); err != nil {
		return Batch{}, err
	}
	return b, nil
}

// Finish writes the failure list and the journal, then marks the batch as
// completed or failed. The returned Batch is what was persisted.
func (r *Recorder) Finish(b Batch, outcomes []pipeline.Outcome, journal trace.Journal) (Batch, error) {
	if r == nil || r.Store == nil {
		return Batch{}, errors.New("Store is required")
	}
	failures := make([]Failure, 0)
	for _, o := range outcomes {
		if !o.Failed() {
			continue
		}
		f, err := FailureFromOutcome(o)
		if err != nil {
			return Batch{}, fmt.Errorf("failure record for %s: %w", o.ID(), err)
		}
		failures = append(failures, f)
	}
	if err := r.Store.SaveFailures(b.BatchID, failures); err != nil {
		return Batch{}, err
	}

	journal.BatchID = b.BatchID
	hash, err := r.Store.SaveJournal(journal)
	if err != nil {
		return Batch{}, err
	}

	end := r.now()
	b.EndTime = &end
	b.Targets = len(outcomes)
	b.Failed = len(failures)
	b.JournalHash = hash
	b.Status = StatusCompleted
	if len(failures) > 0 {
		b.Status = StatusFailed
	}
	if err := r.Store.SaveBatch(b); err != nil {
		return Batch{}, err
	}
	return b, nil
}
