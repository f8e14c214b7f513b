// Package score reduces parsed episode series into comparable per-variant
// scores.
//
// Every metric is normalized against the other participants of the same
// variant, so a Record can only be finalized once every series of that
// variant is known. Aggregate therefore takes the whole batch at once.
package score

import (
	"math"
	"sort"
	"time"

	"harnesseval/internal/logparse"
)

// Percentiles are the convergence thresholds reported for every record.
var Percentiles = []int{1, 10, 50, 90, 99}

// Sentinel is written for metrics of a row whose log is missing or unparseable.
const Sentinel = -1.0

// Status says whether a row carries real metrics.
type Status string

const (
	StatusOK          Status = "ok"
	StatusMissing     Status = "missing"
	StatusUnparseable Status = "unparseable"
)

// Input is one participant/variant log after parsing.
//
// Series is nil unless Status is StatusOK.
type Input struct {
	Participant string
	Variant     string
	Status      Status
	Reason      string
	Series      *logparse.EpisodeSeries
}

// Metric is a normalized value that may be undefined when every participant
// of the variant shares the same raw value.
type Metric struct {
	Value   float64
	Defined bool
}

func undefined() Metric { return Metric{Value: math.NaN()} }

// Record is one row of the score report.
type Record struct {
	Participant string
	Variant     string
	Status      Status
	Reason      string

	TrainMean float64
	TrainTime time.Duration
	Eval      float64
	EvalTime  time.Duration

	EvalScore Metric

	// ConvergenceRaw and Convergence are indexed like Percentiles.
	ConvergenceRaw []float64
	Convergence    []Metric

	// Curve holds the learning-curve segment means.
	Curve []float64
}

// Options tunes the aggregation.
type Options struct {
	// FirstSegment is the number of leading training entries averaged into
	// the convergence baseline.
	FirstSegment int

	// CurveMarks is the number of learning-curve segments.
	CurveMarks int
}

// DefaultOptions returns the standard aggregation settings.
func DefaultOptions() Options {
	return Options{FirstSegment: 10, CurveMarks: 10}
}

// Aggregate scores every input. Rows are sorted by variant then participant.
// Rows without a parsed series keep sentinel values and never take part in
// another row's normalization.
func Aggregate(inputs []Input, opts Options) []Record {
	if opts.FirstSegment <= 0 {
		opts.FirstSegment = DefaultOptions().FirstSegment
	}
	if opts.CurveMarks < 0 {
		opts.CurveMarks = 0
	}

	records := make([]Record, len(inputs))
	byVariant := make(map[string][]int)
	for i, in := range inputs {
		records[i] = raw(in, opts)
		if records[i].Status == StatusOK {
			byVariant[in.Variant] = append(byVariant[in.Variant], i)
		}
	}

	for _, idx := range byVariant {
		evals := make([]float64, len(idx))
		for j, i := range idx {
			evals[j] = records[i].Eval
		}
		for j, m := range Normalize(evals) {
			records[idx[j]].EvalScore = m
		}
		for k := range Percentiles {
			col := make([]float64, len(idx))
			for j, i := range idx {
				col[j] = records[i].ConvergenceRaw[k]
			}
			for j, m := range Normalize(col) {
				records[idx[j]].Convergence[k] = m
			}
		}
	}

	sort.SliceStable(records, func(a, b int) bool {
		if records[a].Variant != records[b].Variant {
			return records[a].Variant < records[b].Variant
		}
		return records[a].Participant < records[b].Participant
	})
	return records
}

// raw fills the per-row metrics that need no other participant.
func raw(in Input, opts Options) Record {
	r := Record{
		Participant: in.Participant,
		Variant:     in.Variant,
		Status:      in.Status,
		Reason:      in.Reason,
		EvalScore:   undefined(),
		Convergence: make([]Metric, len(Percentiles)),
	}
	for k := range r.Convergence {
		r.Convergence[k] = undefined()
	}
	if in.Status == "" {
		r.Status = StatusOK
	}
	if r.Status == StatusOK && in.Series == nil {
		r.Status, r.Reason = StatusMissing, "no series"
	}
	if r.Status != StatusOK {
		r.TrainMean, r.Eval = Sentinel, Sentinel
		r.ConvergenceRaw = make([]float64, len(Percentiles))
		for k := range r.ConvergenceRaw {
			r.ConvergenceRaw[k] = Sentinel
		}
		return r
	}

	s := in.Series
	r.TrainMean = logparse.Mean(s.Train)
	r.TrainTime = s.TrainTime
	r.Eval = s.EvalMean()
	r.EvalTime = s.EvalTime
	r.ConvergenceRaw = make([]float64, len(Percentiles))
	for k, p := range Percentiles {
		r.ConvergenceRaw[k] = Convergence(s.Train, r.Eval, p, opts.FirstSegment)
	}
	r.Curve = Curve(s.Train, opts.CurveMarks)
	return r
}

// Normalize maps each value to (max - v) / (max - min), so the lowest raw
// value scores 1 and the highest 0. All results are undefined when max equals
// min.
func Normalize(values []float64) []Metric {
	out := make([]Metric, len(values))
	if len(values) == 0 {
		return out
	}
	lo, hi := values[0], values[0]
	for _, v := range values[1:] {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	for i, v := range values {
		if hi == lo {
			out[i] = undefined()
			continue
		}
		out[i] = Metric{Value: (hi - v) / (hi - lo), Defined: true}
	}
	return out
}

// Convergence returns the position, as a fraction of the series length, of
// the first training entry that covers pct percent of the distance between
// the mean of the first segment and eval. It is 1 when the series never gets
// there.
func Convergence(train []float64, eval float64, pct, firstSegment int) float64 {
	if len(train) == 0 {
		return 1
	}
	n := min(firstSegment, len(train))
	fsm := logparse.Mean(train[:n])
	threshold := fsm - (fsm-eval)*float64(pct)/100
	rising := eval >= fsm
	for i, v := range train {
		if (rising && v >= threshold) || (!rising && v <= threshold) {
			return float64(i) / float64(len(train))
		}
	}
	return 1
}

// Curve splits train into marks contiguous segments and returns each
// segment's mean. Segments that would be empty are NaN.
func Curve(train []float64, marks int) []float64 {
	out := make([]float64, marks)
	for i := range out {
		lo := i * len(train) / marks
		hi := (i + 1) * len(train) / marks
		if lo == hi {
			out[i] = math.NaN()
			continue
		}
		out[i] = logparse.Mean(train[lo:hi])
	}
	return out
}
