package core

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Submission is one participant's work for one variant: the branch holding
// their override files and the checkout they are read from.
type Submission struct {
	Participant string
	Variant     string

	// Branch is "<participant>_<variant>".
	Branch string

	// CheckoutDir is the participant repository working tree.
	CheckoutDir string
}

// NewSubmission derives the branch name from participant and variant.
func NewSubmission(participant, variant, checkoutDir string) Submission {
	return Submission{
		Participant: participant,
		Variant:     variant,
		Branch:      TargetID(participant, variant),
		CheckoutDir: checkoutDir,
	}
}

// BuildTarget is an assembled source tree ready to be compiled and run.
//
// A BuildTarget either is fully assembled (base tree, overrides, configuration
// selector applied) or does not exist on disk.
type BuildTarget struct {
	Participant string
	Variant     string

	// Dir is the assembled source tree.
	Dir string

	// OutputDir holds everything produced for this target: compiled classes,
	// captured process output and the run logs written by the program.
	OutputDir string

	// Warnings are non-fatal notes from assembly (e.g. a correction whose
	// literal was not present).
	Warnings []string
}

// TargetID is the stable "<participant>_<variant>" identity.
func TargetID(participant, variant string) string {
	return participant + "_" + variant
}

// ID returns the target identity.
func (t BuildTarget) ID() string { return TargetID(t.Participant, t.Variant) }

// ClassesDir is where compiled classes and copied resources go.
func (t BuildTarget) ClassesDir() string { return filepath.Join(t.OutputDir, "compiled_code") }

// LogsDir is where the evaluated program writes its own logs.
func (t BuildTarget) LogsDir() string { return filepath.Join(t.OutputDir, "logs") }

// CompileLogPath holds the captured compiler output.
func (t BuildTarget) CompileLogPath() string { return filepath.Join(t.OutputDir, "compile.log") }

// RunLogPath holds the captured runtime output.
func (t BuildTarget) RunLogPath() string { return filepath.Join(t.OutputDir, "run.log") }

// SplitTargetID splits "<participant>_<variant>" using the known variant
// names, preferring the longest match so "u1_similarities_on_reward_shaping"
// does not resolve to "similarities".
func SplitTargetID(id string, variants []string) (participant, variant string, err error) {
	best := ""
	for _, v := range variants {
		suffix := "_" + v
		if strings.HasSuffix(id, suffix) && len(id) > len(suffix) && len(v) > len(best) {
			best = v
		}
	}
	if best == "" {
		return "", "", fmt.Errorf("cannot derive participant and variant from %q", id)
	}
	return strings.TrimSuffix(id, "_"+best), best, nil
}
