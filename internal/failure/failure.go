// Package failure defines the per-target error taxonomy shared by assembly,
// build/run coordination and log parsing.
package failure

import (
	"errors"
	"fmt"
	"strings"
)

// Kinds. Every Error unwraps to exactly one of these so callers can use errors.Is.
var (
	BranchNotFound             = errors.New("branch not found")
	OtherGitFailure            = errors.New("git failure")
	ConfigPatchNotFound        = errors.New("configuration patch not found")
	CopyFailure                = errors.New("copy failure")
	CompileFailure             = errors.New("compile failure")
	RuntimeFailure             = errors.New("runtime failure")
	LogFormatError             = errors.New("log format error")
	CompositeDependencyMissing = errors.New("composite dependency missing")
)

var kinds = []error{
	BranchNotFound,
	OtherGitFailure,
	ConfigPatchNotFound,
	CopyFailure,
	CompileFailure,
	RuntimeFailure,
	LogFormatError,
	CompositeDependencyMissing,
}

// Error is a classified failure for a single target (or a single log file).
//
// Target is the "<participant>_<variant>" identity when known. OutputPath points
// at the captured process output (compile.log, run.log) or the offending file.
type Error struct {
	Kind       error
	Target     string
	Msg        string
	OutputPath string
	Cause      error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString(e.Kind.Error())
	if e.Target != "" {
		fmt.Fprintf(&b, " [%s]", e.Target)
	}
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

// Unwrap exposes both the kind sentinel and the underlying cause.
func (e *Error) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Cause}
}

// New builds an Error of the given kind.
func New(kind error, target, format string, args ...any) *Error {
	return &Error{Kind: kind, Target: target, Msg: fmt.Sprintf(format, args...)}
}

// Wrap builds an Error of the given kind around cause.
func Wrap(kind error, target string, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Target: target, Msg: fmt.Sprintf(format, args...), Cause: cause}
}

// WithOutput sets OutputPath and returns e for chaining.
func (e *Error) WithOutput(path string) *Error {
	e.OutputPath = path
	return e
}

// KindOf returns the kind sentinel of err, or nil when err is not classified.
func KindOf(err error) error {
	if err == nil {
		return nil
	}
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// Code returns a stable CamelCase identifier for the kind of err, suitable for
// persisted records. Unclassified errors map to "InternalError".
func Code(err error) string {
	switch KindOf(err) {
	case BranchNotFound:
		return "BranchNotFound"
	case OtherGitFailure:
		return "OtherGitFailure"
	case ConfigPatchNotFound:
		return "ConfigPatchNotFound"
	case CopyFailure:
		return "CopyFailure"
	case CompileFailure:
		return "CompileFailure"
	case RuntimeFailure:
		return "RuntimeFailure"
	case LogFormatError:
		return "LogFormatError"
	case CompositeDependencyMissing:
		return "CompositeDependencyMissing"
	default:
		return "InternalError"
	}
}

// OutputOf returns the OutputPath carried by err, if any.
func OutputOf(err error) string {
	var fe *Error
	if errors.As(err, &fe) && fe != nil {
		return fe.OutputPath
	}
	return ""
}
