// Package logparse turns the text log of one evaluated run into numeric
// episode series.
//
// Two modes exist. ParseStrict walks every structured training and
// evaluation line and enforces episode ordering; it is used to diagnose
// malformed logs. ParseSummary only picks up the per-round evaluation means
// and the single training-means list, and is the mode scoring relies on.
package logparse

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"harnesseval/internal/core"
	"harnesseval/internal/failure"
)

const (
	// TimestampLayout is the layout of the bracketed timestamp, dd/mm/yyyy HH:MM:SS.
	TimestampLayout = "02/01/2006 15:04:05"

	// DefaultHeaderLines is the number of fixed header lines at the top of a log.
	DefaultHeaderLines = 4

	separator   = " >> "
	roundMarker = "=== Experiment #"
)

var bracketToken = regexp.MustCompile(`\[([^\]]*)\]`)

// Line is one log line split into its timestamp and content.
type Line struct {
	// Number is 1-based and counts header lines.
	Number int

	// Structured is true when the line has a bracketed prefix and a " >> "
	// separator. Free-form lines carry their raw text in Content.
	Structured bool

	// Time is the parsed timestamp; zero when the prefix has none.
	Time    time.Time
	Content string
}

// HasTime reports whether a timestamp was parsed.
func (l Line) HasTime() bool { return !l.Time.IsZero() }

// SplitLine parses one raw line.
//
// The prefix before " >> " may hold several bracketed tokens (for example
// "[id] [timestamp]"); the last one that parses as a timestamp is used.
func SplitLine(number int, raw string) Line {
	line := Line{Number: number, Content: raw}
	idx := strings.Index(raw, separator)
	if idx < 0 {
		return line
	}
	prefix := strings.TrimSpace(raw[:idx])
	if !strings.HasPrefix(prefix, "[") || !strings.HasSuffix(prefix, "]") {
		return line
	}
	line.Structured = true
	line.Content = strings.TrimSpace(raw[idx+len(separator):])

	tokens := bracketToken.FindAllStringSubmatch(prefix, -1)
	for i := len(tokens) - 1; i >= 0; i-- {
		if ts, err := time.Parse(TimestampLayout, strings.TrimSpace(tokens[i][1])); err == nil {
			line.Time = ts
			break
		}
	}
	return line
}

// Options configures both parse modes.
type Options struct {
	// HeaderLines are skipped before parsing.
	HeaderLines int

	// TrainStride is the fixed episode increment between training lines of a
	// round in strict mode.
	TrainStride int
}

// DefaultOptions returns the standard log layout.
func DefaultOptions() Options {
	return Options{HeaderLines: DefaultHeaderLines, TrainStride: 100}
}

// lines normalizes line endings, drops the header and splits every line.
func lines(content []byte, headerLines int) []Line {
	raw := core.NewLineNormalizer().Lines(content)
	if headerLines < 0 {
		headerLines = 0
	}
	if headerLines > len(raw) {
		headerLines = len(raw)
	}
	out := make([]Line, 0, len(raw)-headerLines)
	for i := headerLines; i < len(raw); i++ {
		out = append(out, SplitLine(i+1, raw[i]))
	}
	return out
}

// FormatError is a LogFormatError at a specific line.
type FormatError struct {
	Line int
	Msg  string
}

func (e *FormatError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("line %d: %s", e.Line, e.Msg)
	}
	return e.Msg
}

// Unwrap classifies every FormatError as failure.LogFormatError.
func (e *FormatError) Unwrap() error { return failure.LogFormatError }

func formatErrorf(line int, format string, args ...any) error {
	return &FormatError{Line: line, Msg: fmt.Sprintf(format, args...)}
}

// LineOf returns the line number carried by a FormatError, or 0.
func LineOf(err error) int {
	var fe *FormatError
	if errors.As(err, &fe) {
		return fe.Line
	}
	return 0
}

// clock tracks elapsed training and evaluation time across marker lines and
// rejects timestamps that go backwards.
type clock struct {
	phase     phase
	last      time.Time
	seen      time.Time
	trainTime time.Duration
	evalTime  time.Duration
}

type phase int

const (
	phaseNone phase = iota
	phaseTrain
	phaseEval
	phaseIdle
)

// observe enforces non-decreasing timestamps over every timestamped line.
func (c *clock) observe(l Line) error {
	if !l.HasTime() {
		return nil
	}
	if !c.seen.IsZero() && l.Time.Before(c.seen) {
		return formatErrorf(l.Number, "timestamp %s is earlier than %s",
			l.Time.Format(TimestampLayout), c.seen.Format(TimestampLayout))
	}
	c.seen = l.Time
	return nil
}

func (c *clock) close(t time.Time) {
	switch c.phase {
	case phaseTrain:
		c.trainTime += t.Sub(c.last)
	case phaseEval:
		c.evalTime += t.Sub(c.last)
	}
}

// roundStart closes whatever window is open and starts a training window.
func (c *clock) roundStart(l Line) error {
	if !l.HasTime() {
		return formatErrorf(l.Number, "round marker without timestamp")
	}
	c.close(l.Time)
	c.phase, c.last = phaseTrain, l.Time
	return nil
}

// evalStart closes the training window and opens the evaluation window.
func (c *clock) evalStart(l Line) error {
	if c.phase == phaseEval {
		return nil
	}
	if !l.HasTime() {
		return formatErrorf(l.Number, "evaluation line without timestamp")
	}
	c.close(l.Time)
	c.phase, c.last = phaseEval, l.Time
	return nil
}

// evalEnd closes the evaluation window, if one is open.
func (c *clock) evalEnd(l Line) {
	if c.phase != phaseEval || !l.HasTime() {
		return
	}
	c.close(l.Time)
	c.phase, c.last = phaseIdle, l.Time
}
