// Package trace records the logical per-target transitions of a batch as a
// canonical journal. Two batches that made the same decisions produce
// byte-identical journals, whatever order the workers finished in.
package trace

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// Journal is the canonical record of a batch.
//
// Events carry logical facts only: no timestamps, durations, absolute paths
// or error strings. Ordering is computed by Canonicalize, never taken from
// arrival order.
type Journal struct {
	BatchID string
	Events  []Event
}

// EventKind is the stable discriminator for Event. The string values are part
// of the canonical bytes; do not rename.
type EventKind string

const (
	EventTargetAssembled  EventKind = "TargetAssembled"
	EventAssemblyFailed   EventKind = "AssemblyFailed"
	EventCompositeSkipped EventKind = "CompositeSkipped"
	EventTargetCompiled   EventKind = "TargetCompiled"
	EventCompileFailed    EventKind = "CompileFailed"
	EventTargetSucceeded  EventKind = "TargetSucceeded"
	EventRunFailed        EventKind = "RunFailed"
)

// Event is a single logical transition.
type Event struct {
	Kind EventKind

	// TargetID is "<participant>_<variant>".
	TargetID string

	// Reason is a stable failure code (e.g. "CompileFailure").
	Reason string

	// Causes lists related targets, e.g. the constituents a composite was
	// missing.
	Causes []string
}

// Validate checks basic invariants.
func (j *Journal) Validate() error {
	if j == nil {
		return errors.New("journal is nil")
	}
	if j.BatchID == "" {
		return errors.New("batchId is required")
	}
	for i, e := range j.Events {
		if e.Kind == "" {
			return fmt.Errorf("events[%d].kind is required", i)
		}
		if e.TargetID == "" {
			return fmt.Errorf("events[%d].targetId is required for kind %q", i, e.Kind)
		}
		for k, c := range e.Causes {
			if c == "" {
				return fmt.Errorf("events[%d].causes[%d] is empty", i, k)
			}
		}
	}
	return nil
}

// Canonicalize sorts causes and orders events by (targetId, kind order,
// reason, causes).
func (j *Journal) Canonicalize() {
	if j == nil {
		return
	}
	for i := range j.Events {
		if len(j.Events[i].Causes) == 0 {
			j.Events[i].Causes = nil
			continue
		}
		causes := append([]string(nil), j.Events[i].Causes...)
		sort.Strings(causes)
		j.Events[i].Causes = causes
	}

	sort.SliceStable(j.Events, func(a, b int) bool {
		x, y := j.Events[a], j.Events[b]
		if x.TargetID != y.TargetID {
			return x.TargetID < y.TargetID
		}
		if kindOrder(x.Kind) != kindOrder(y.Kind) {
			return kindOrder(x.Kind) < kindOrder(y.Kind)
		}
		if x.Reason != y.Reason {
			return x.Reason < y.Reason
		}
		return lessStrings(x.Causes, y.Causes)
	})
}

// kindOrder follows the lifecycle of a target.
func kindOrder(k EventKind) int {
	switch k {
	case EventTargetAssembled:
		return 10
	case EventAssemblyFailed:
		return 20
	case EventCompositeSkipped:
		return 30
	case EventTargetCompiled:
		return 40
	case EventCompileFailed:
		return 50
	case EventTargetSucceeded:
		return 60
	case EventRunFailed:
		return 70
	default:
		return 1000
	}
}

func lessStrings(a, b []string) bool {
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}

// CanonicalJSON returns the canonical encoding without mutating j.
func (j Journal) CanonicalJSON() ([]byte, error) {
	cp := Journal{BatchID: j.BatchID, Events: append([]Event(nil), j.Events...)}
	cp.Canonicalize()
	if err := cp.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(&cp)
}

// Hash returns the sha256 hex of the canonical encoding.
func (j Journal) Hash() (string, error) {
	b, err := j.CanonicalJSON()
	if err != nil {
		return "", err
	}
	return ComputeHash(b), nil
}

// MarshalJSON fixes field order.
func (j Journal) MarshalJSON() ([]byte, error) {
	if j.BatchID == "" {
		return nil, errors.New("batchId is required")
	}
	var buf bytes.Buffer
	buf.WriteString(`{"batchId":`)
	id, _ := json.Marshal(j.BatchID)
	buf.Write(id)
	buf.WriteString(`,"events":[`)
	for i := range j.Events {
		if i > 0 {
			buf.WriteByte(',')
		}
		eb, err := json.Marshal(j.Events[i])
		if err != nil {
			return nil, err
		}
		buf.Write(eb)
	}
	buf.WriteString("]}")
	return buf.Bytes(), nil
}

// MarshalJSON fixes field order and omits empty optional fields.
func (e Event) MarshalJSON() ([]byte, error) {
	if e.Kind == "" {
		return nil, errors.New("kind is required")
	}
	var buf bytes.Buffer
	buf.WriteString(`{"kind":`)
	kb, _ := json.Marshal(string(e.Kind))
	buf.Write(kb)

	if e.TargetID != "" {
		buf.WriteString(`,"targetId":`)
		tb, _ := json.Marshal(e.TargetID)
		buf.Write(tb)
	}
	if e.Reason != "" {
		buf.WriteString(`,"reason":`)
		rb, _ := json.Marshal(e.Reason)
		buf.Write(rb)
	}
	if len(e.Causes) > 0 {
		causes := append([]string(nil), e.Causes...)
		sort.Strings(causes)
		cb, _ := json.Marshal(causes)
		buf.WriteString(`,"causes":`)
		buf.Write(cb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
