package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"harnesseval/internal/core"
	"harnesseval/internal/failure"
)

const (
	ExitSuccess = 0
	// ExitTargetFailures means the command finished but at least one target
	// failed, or a log is malformed.
	ExitTargetFailures    = 1
	ExitInvalidInvocation = 2
	ExitConfigError       = 3
	ExitInternalError     = 4
)

type InvocationError struct {
	ExitCode int
	Message  string
}

func (e *InvocationError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

func invalidInvocationf(format string, args ...any) error {
	return &InvocationError{ExitCode: ExitInvalidInvocation, Message: fmt.Sprintf(format, args...)}
}

func configErrorf(format string, args ...any) error {
	return &InvocationError{ExitCode: ExitConfigError, Message: fmt.Sprintf(format, args...)}
}

// TargetFailuresError reports a batch that completed with failed targets.
type TargetFailuresError struct {
	Failed int
	Total  int
}

func (e *TargetFailuresError) Error() string {
	return fmt.Sprintf("%d of %d targets failed", e.Failed, e.Total)
}

// ExitCode maps an error returned by a command to a semantic exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var invErr *InvocationError
	if errors.As(err, &invErr) && invErr != nil {
		if invErr.ExitCode != 0 {
			return invErr.ExitCode
		}
		return ExitInvalidInvocation
	}
	var tfErr *TargetFailuresError
	if errors.As(err, &tfErr) || errors.Is(err, failure.LogFormatError) {
		return ExitTargetFailures
	}
	return ExitInternalError
}

// ReadIDs reads the participant id list: one id per line, CR characters
// ignored, blank lines dropped. Duplicates are an error.
func ReadIDs(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, configErrorf("read ids file: %v", err)
	}
	seen := make(map[string]bool)
	var ids []string
	for i, line := range core.NewLineNormalizer().Lines(data) {
		id := strings.TrimSpace(line)
		if id == "" {
			continue
		}
		if strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
			return nil, configErrorf("ids file line %d: invalid participant id %q", i+1, id)
		}
		if seen[id] {
			return nil, configErrorf("ids file line %d: duplicate participant id %q", i+1, id)
		}
		seen[id] = true
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, configErrorf("ids file %s lists no participants", path)
	}
	return ids, nil
}

// ParseTargetDirs turns re-execute arguments into targets. Each directory name
// must be "<participant>_<variant>" for a known variant; outputs go to
// <outputDir>/<participant>/<variant> as for a full batch.
func ParseTargetDirs(args, variants []string, outputDir string) ([]core.BuildTarget, error) {
	seen := make(map[string]bool, len(args))
	targets := make([]core.BuildTarget, 0, len(args))
	for _, arg := range args {
		if strings.TrimSpace(arg) == "" {
			return nil, invalidInvocationf("target directory must not be empty")
		}
		dir, err := filepath.Abs(filepath.Clean(arg))
		if err != nil {
			return nil, invalidInvocationf("resolve %q: %v", arg, err)
		}
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			return nil, invalidInvocationf("target %q is not a directory", arg)
		}
		participant, variant, err := core.SplitTargetID(filepath.Base(dir), variants)
		if err != nil {
			return nil, invalidInvocationf("%v", err)
		}
		t := core.BuildTarget{
			Participant: participant,
			Variant:     variant,
			Dir:         dir,
			OutputDir:   filepath.Join(outputDir, participant, variant),
		}
		if seen[t.ID()] {
			return nil, invalidInvocationf("target %s given twice", t.ID())
		}
		seen[t.ID()] = true
		targets = append(targets, t)
	}
	return targets, nil
}
