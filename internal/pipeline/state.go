package pipeline

import "fmt"

// TargetState is the lifecycle state of a build target inside a batch.
type TargetState string

const (
	TargetAssembled TargetState = "ASSEMBLED"
	TargetCompiling TargetState = "COMPILING"
	TargetCompiled  TargetState = "COMPILED"
	TargetRunning   TargetState = "RUNNING"
	TargetSucceeded TargetState = "SUCCEEDED"
	TargetFailed    TargetState = "FAILED"
)

// ExecutionState holds per-target state keyed by target ID.
type ExecutionState map[string]TargetState

// IsTerminal reports whether the state is final.
func IsTerminal(s TargetState) bool {
	return s == TargetSucceeded || s == TargetFailed
}

// Transition performs a validated transition for a single target.
//
// The caller supplies the expected prior state (from) so races are observable.
// state is mutated if and only if the transition is valid.
func Transition(state ExecutionState, id string, from, to TargetState) error {
	cur, ok := state[id]
	if !ok {
		return fmt.Errorf("unknown target in state: %q", id)
	}
	if cur != from {
		return fmt.Errorf("invalid transition for %q: expected %s, got %s", id, from, cur)
	}
	if !isAllowedTransition(from, to) {
		return fmt.Errorf("disallowed transition for %q: %s -> %s", id, from, to)
	}
	state[id] = to
	return nil
}

func isAllowedTransition(from, to TargetState) bool {
	switch from {
	case TargetAssembled:
		return to == TargetCompiling
	case TargetCompiling:
		return to == TargetCompiled || to == TargetFailed
	case TargetCompiled:
		return to == TargetRunning
	case TargetRunning:
		return to == TargetSucceeded || to == TargetFailed
	default:
		return false
	}
}

// Stage names the step an outcome was decided in.
type Stage string

const (
	StageAssemble Stage = "assemble"
	StageCompile  Stage = "compile"
	StageRun      Stage = "run"
)
