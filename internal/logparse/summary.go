package logparse

import (
	"strconv"
	"strings"
	"time"
)

const (
	evalMeanPrefix  = "ex_eval_mean:"
	trainListPrefix = "Train episodes mean:"
	evalEpisodeTag  = "eval_ep"
)

// EpisodeSeries is what scoring needs from one log.
type EpisodeSeries struct {
	// Train is the per-episode-block training mean, in log order.
	Train []float64

	// Eval holds one evaluation mean per round.
	Eval []float64

	TrainTime time.Duration
	EvalTime  time.Duration
}

// EvalMean is the arithmetic mean of Eval. It is zero for an empty series.
func (s EpisodeSeries) EvalMean() float64 {
	return Mean(s.Eval)
}

// Mean returns the arithmetic mean of xs, or zero when xs is empty.
func Mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// ParseSummary reads only the lines scoring needs and ignores the rest.
//
// Training time runs from each round marker to the round's first evaluation
// line; evaluation time runs from there to the round's "ex_eval_mean:" line or
// the next round marker. Exactly one "Train episodes mean: [...]" line and at
// least one evaluation mean are required.
func ParseSummary(content []byte, opts Options) (*EpisodeSeries, error) {
	var (
		out      EpisodeSeries
		clk      clock
		haveList bool
	)
	for _, l := range lines(content, opts.HeaderLines) {
		if err := clk.observe(l); err != nil {
			return nil, err
		}
		switch {
		case strings.Contains(l.Content, roundMarker):
			if err := clk.roundStart(l); err != nil {
				return nil, err
			}

		case strings.Contains(l.Content, evalMeanPrefix):
			v, err := valueAfter(l, evalMeanPrefix)
			if err != nil {
				return nil, err
			}
			out.Eval = append(out.Eval, v)
			clk.evalEnd(l)

		case strings.Contains(l.Content, evalEpisodeTag):
			if err := clk.evalStart(l); err != nil {
				return nil, err
			}

		case strings.Contains(l.Content, trainListPrefix):
			if haveList {
				return nil, formatErrorf(l.Number, "duplicate training means list")
			}
			list, err := floatList(l, trainListPrefix)
			if err != nil {
				return nil, err
			}
			out.Train, haveList = list, true
		}
	}
	if !haveList {
		return nil, formatErrorf(0, "no training means list")
	}
	if len(out.Train) == 0 {
		return nil, formatErrorf(0, "empty training means list")
	}
	if len(out.Eval) == 0 {
		return nil, formatErrorf(0, "no evaluation means")
	}
	out.TrainTime, out.EvalTime = clk.trainTime, clk.evalTime
	return &out, nil
}

func valueAfter(l Line, prefix string) (float64, error) {
	_, rest, _ := strings.Cut(l.Content, prefix)
	rest = strings.TrimSpace(rest)
	v, err := strconv.ParseFloat(rest, 64)
	if err != nil {
		return 0, formatErrorf(l.Number, "invalid value %q after %q", rest, prefix)
	}
	return v, nil
}

// floatList parses "[a, b, c]" following prefix.
func floatList(l Line, prefix string) ([]float64, error) {
	_, rest, _ := strings.Cut(l.Content, prefix)
	rest = strings.TrimSpace(rest)
	if !strings.HasPrefix(rest, "[") || !strings.HasSuffix(rest, "]") {
		return nil, formatErrorf(l.Number, "training means are not a bracketed list")
	}
	body := strings.TrimSpace(rest[1 : len(rest)-1])
	if body == "" {
		return nil, nil
	}
	fields := strings.Split(body, ",")
	out := make([]float64, 0, len(fields))
	for _, f := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return nil, formatErrorf(l.Number, "invalid training mean %q", strings.TrimSpace(f))
		}
		out = append(out, v)
	}
	return out, nil
}
