package pipeline

import (
	"testing"
)

func TestStateMachine_Transitions_ValidAndInvalid(t *testing.T) {
	state := ExecutionState{"u1_a": TargetAssembled}

	for _, step := range [][2]TargetState{
		{TargetAssembled, TargetCompiling},
		{TargetCompiling, TargetCompiled},
		{TargetCompiled, TargetRunning},
		{TargetRunning, TargetSucceeded},
	} {
		if err := Transition(state, "u1_a", step[0], step[1]); err != nil {
			t.Fatalf("expected valid transition %s -> %s, got %v", step[0], step[1], err)
		}
	}

	// Terminal -> anything is forbidden.
	if err := Transition(state, "u1_a", TargetSucceeded, TargetRunning); err == nil {
		t.Fatalf("expected error")
	}

	// Skipping the compile step is forbidden.
	state["u1_b"] = TargetAssembled
	if err := Transition(state, "u1_b", TargetAssembled, TargetRunning); err == nil {
		t.Fatalf("expected error")
	}

	// Wrong expected prior state is observable.
	if err := Transition(state, "u1_b", TargetCompiling, TargetFailed); err == nil {
		t.Fatalf("expected error")
	}

	if err := Transition(state, "missing", TargetAssembled, TargetCompiling); err == nil {
		t.Fatalf("expected error for unknown target")
	}
}

func TestStateMachine_FailureFromCompileAndRun(t *testing.T) {
	state := ExecutionState{"c": TargetCompiling, "r": TargetRunning}
	if err := Transition(state, "c", TargetCompiling, TargetFailed); err != nil {
		t.Fatalf("compile failure transition: %v", err)
	}
	if err := Transition(state, "r", TargetRunning, TargetFailed); err != nil {
		t.Fatalf("run failure transition: %v", err)
	}
	if !IsTerminal(state["c"]) || !IsTerminal(state["r"]) {
		t.Fatalf("FAILED must be terminal")
	}
}

func TestRegistry_RecordOnce(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Begin("u1_a"); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := reg.Begin("u1_a"); err == nil {
		t.Fatal("expected duplicate begin error")
	}

	o := Outcome{Participant: "u1", Variant: "a", State: TargetFailed}
	if err := reg.Record(o); err == nil {
		t.Fatal("expected mismatch: live state is ASSEMBLED")
	}

	for _, s := range [][2]TargetState{{TargetAssembled, TargetCompiling}, {TargetCompiling, TargetFailed}} {
		if err := reg.Advance("u1_a", s[0], s[1]); err != nil {
			t.Fatalf("advance: %v", err)
		}
	}
	if err := reg.Record(o); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := reg.Record(o); err == nil {
		t.Fatal("expected second record to fail")
	}
}

func TestRegistry_AssemblyFailureWithoutBegin(t *testing.T) {
	reg := NewRegistry()
	err := reg.Record(Outcome{Participant: "u2", Variant: "b", State: TargetFailed, Stage: StageAssemble, Code: "BranchNotFound"})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := reg.Record(Outcome{Participant: "u3", Variant: "b", State: TargetRunning}); err == nil {
		t.Fatal("expected non-terminal outcome to be rejected")
	}
	if err := reg.Begin("u2_b"); err == nil {
		t.Fatal("expected begin after outcome to fail")
	}
	if got := len(reg.Failures()); got != 1 {
		t.Fatalf("expected 1 failure, got %d", got)
	}
}
