package pipeline

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"harnesseval/internal/core"
)

// Outcome is the final result for one target. It is written exactly once.
type Outcome struct {
	Participant string
	Variant     string
	State       TargetState
	Stage       Stage

	// Code is the failure kind identifier (failure.Code); empty on success.
	Code   string
	Reason string

	// OutputPath points at the captured process output of the deciding step.
	OutputPath string

	CompileDuration time.Duration
	RunDuration     time.Duration

	// Fingerprint is the tree hash of the sources that were compiled.
	Fingerprint string

	Warnings []string
}

// ID is the "<participant>_<variant>" identity.
func (o Outcome) ID() string { return core.TargetID(o.Participant, o.Variant) }

// Failed reports whether the outcome is a failure.
func (o Outcome) Failed() bool { return o.State == TargetFailed }

// Registry collects live target states and final outcomes for a batch.
//
// It is the only state shared between workers; every access goes through mu.
type Registry struct {
	mu       sync.Mutex
	state    ExecutionState
	outcomes map[string]Outcome
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		state:    make(ExecutionState),
		outcomes: make(map[string]Outcome),
	}
}

// Begin registers an assembled target. Registering the same ID twice is an error.
func (r *Registry) Begin(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.state[id]; ok {
		return fmt.Errorf("target %q already registered", id)
	}
	if _, ok := r.outcomes[id]; ok {
		return fmt.Errorf("target %q already has an outcome", id)
	}
	r.state[id] = TargetAssembled
	return nil
}

// Advance moves a registered target from one state to another.
func (r *Registry) Advance(id string, from, to TargetState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Transition(r.state, id, from, to)
}

// State returns the live state of id.
func (r *Registry) State(id string) (TargetState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.state[id]
	return st, ok
}

// Record stores the final outcome for a target. The outcome state must be
// terminal and, for registered targets, match the live state.
func (r *Registry) Record(o Outcome) error {
	if !IsTerminal(o.State) {
		return fmt.Errorf("outcome for %q has non-terminal state %s", o.ID(), o.State)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	id := o.ID()
	if _, ok := r.outcomes[id]; ok {
		return fmt.Errorf("outcome for %q already recorded", id)
	}
	if cur, ok := r.state[id]; ok && cur != o.State {
		return fmt.Errorf("outcome for %q is %s but target is %s", id, o.State, cur)
	}
	r.state[id] = o.State
	o.Warnings = append([]string(nil), o.Warnings...)
	r.outcomes[id] = o
	return nil
}

// Outcomes returns every recorded outcome sorted by ID.
func (r *Registry) Outcomes() []Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Outcome, 0, len(r.outcomes))
	for _, o := range r.outcomes {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Failures returns the failed outcomes sorted by ID.
func (r *Registry) Failures() []Outcome {
	var out []Outcome
	for _, o := range r.Outcomes() {
		if o.Failed() {
			out = append(out, o)
		}
	}
	return out
}

// Pending returns the registered targets without an outcome, sorted.
func (r *Registry) Pending() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []string
	for id := range r.state {
		if _, ok := r.outcomes[id]; !ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}
