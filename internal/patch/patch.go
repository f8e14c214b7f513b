// Package patch performs exact-literal edits on assembled source files: the
// single configuration selector that picks the variant to run, the guard
// conditions of composite variants and mechanical per-variant corrections.
//
// Every edit requires its literal to occur exactly once. A second occurrence
// is an ambiguity, never silently resolved by picking one.
package patch

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"harnesseval/internal/catalog"
	"harnesseval/internal/core"
)

var (
	// ErrAmbiguousMatch is returned when a literal occurs more than once.
	ErrAmbiguousMatch = errors.New("literal occurs more than once")

	// ErrLiteralNotFound is returned by ApplyCorrections when a correction's
	// literal is absent.
	ErrLiteralNotFound = errors.New("literal not found")
)

// Error carries the file and literal an edit failed on.
type Error struct {
	Kind    error
	Path    string
	Literal string
	Count   int
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Count > 0 {
		return fmt.Sprintf("%s: %s: %q (%d occurrences)", e.Kind.Error(), e.Path, e.Literal, e.Count)
	}
	return fmt.Sprintf("%s: %s: %q", e.Kind.Error(), e.Path, e.Literal)
}

func (e *Error) Unwrap() error { return e.Kind }

// Render replaces catalog.KeyPlaceholder in template with key.
func Render(template, key string) string {
	return strings.ReplaceAll(template, catalog.KeyPlaceholder, key)
}

// SelectVariant rewrites the selector in the file at path so it names target.
//
// Candidate keys are checked in the given order and the first whose rendered
// literal is present is replaced by the target literal. It returns false with
// a nil error, leaving the file untouched, if no candidate is present. When
// the file already selects target the write is a no-op.
func SelectVariant(path string, candidates []string, target, template string) (bool, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return false, err
	}
	text := string(content)

	for _, key := range candidates {
		literal := Render(template, key)
		n := strings.Count(text, literal)
		if n == 0 {
			continue
		}
		if n > 1 {
			return false, &Error{Kind: ErrAmbiguousMatch, Path: path, Literal: literal, Count: n}
		}
		updated := strings.Replace(text, literal, Render(template, target), 1)
		if updated == text {
			return true, nil
		}
		return true, writeBack(path, updated)
	}
	return false, nil
}

// ApplyLiteralPatch replaces the single occurrence of old with replacement.
// Zero occurrences returns false and leaves the file untouched.
func ApplyLiteralPatch(path, old, replacement string) (bool, error) {
	if old == "" {
		return false, fmt.Errorf("empty literal for %s", path)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return false, err
	}
	text := string(content)

	n := strings.Count(text, old)
	switch {
	case n == 0:
		return false, nil
	case n > 1:
		return false, &Error{Kind: ErrAmbiguousMatch, Path: path, Literal: old, Count: n}
	}
	updated := strings.Replace(text, old, replacement, 1)
	if updated == text {
		return true, nil
	}
	return true, writeBack(path, updated)
}

// CorrectionError reports which correction stopped ApplyCorrections.
type CorrectionError struct {
	Index int
	Err   error
}

func (e *CorrectionError) Error() string {
	return fmt.Sprintf("correction %d: %v", e.Index, e.Err)
}

func (e *CorrectionError) Unwrap() error { return e.Err }

// ApplyCorrections applies literal patches to the tree rooted at root in
// order. The first failing patch aborts the rest; patches already applied
// stay applied.
func ApplyCorrections(root string, patches []catalog.LiteralPatch) error {
	for i, p := range patches {
		path := core.JoinSlash(root, p.File)
		ok, err := ApplyLiteralPatch(path, p.Old, p.New)
		if err != nil {
			return &CorrectionError{Index: i, Err: err}
		}
		if !ok {
			return &CorrectionError{Index: i, Err: &Error{Kind: ErrLiteralNotFound, Path: path, Literal: p.Old}}
		}
	}
	return nil
}

func writeBack(path, content string) error {
	return core.WriteFileAtomic(path, []byte(content), core.FileMode(path, 0o644))
}
