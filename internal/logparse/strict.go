package logparse

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	roundLine = regexp.MustCompile(`^=== Experiment #(\d+)`)
	trainLine = regexp.MustCompile(`^ex(\d+)ep(\d+) mean: (\S+)`)
	evalLine  = regexp.MustCompile(`^ex(\d+)eval_ep(\d+): (\S+)`)
)

// Round holds the series of one experiment round.
type Round struct {
	ID    int
	Train []float64
	Eval  []float64
}

// StrictLog is the result of ParseStrict.
type StrictLog struct {
	Rounds    []Round
	TrainTime time.Duration
	EvalTime  time.Duration
}

// Train concatenates the training series of every round.
func (s *StrictLog) Train() []float64 {
	var out []float64
	for _, r := range s.Rounds {
		out = append(out, r.Train...)
	}
	return out
}

// Eval concatenates the evaluation series of every round.
func (s *StrictLog) Eval() []float64 {
	var out []float64
	for _, r := range s.Rounds {
		out = append(out, r.Eval...)
	}
	return out
}

// ParseStrict parses every structured line and fails on the first violation.
//
// Within a round the training episode numbers advance by opts.TrainStride
// starting from whatever the first training line reports. An evaluation line
// with episode 0 switches the round to evaluation; evaluation episodes then
// advance by one. Lines whose content is only a marker (for example "Logger
// created" or a variant key) are skipped, and so is free-form text.
func ParseStrict(content []byte, opts Options, skip ...string) (*StrictLog, error) {
	if opts.TrainStride <= 0 {
		opts.TrainStride = DefaultOptions().TrainStride
	}
	skipped := map[string]bool{"Logger created": true}
	for _, s := range skip {
		skipped[s] = true
	}

	var (
		out     StrictLog
		clk     clock
		cur     *Round
		inEval  bool
		lastEp  int
		started bool
	)
	for _, l := range lines(content, opts.HeaderLines) {
		if !l.Structured {
			continue
		}
		if !l.HasTime() {
			return nil, formatErrorf(l.Number, "structured line without a valid timestamp")
		}
		if err := clk.observe(l); err != nil {
			return nil, err
		}
		if skipped[l.Content] {
			continue
		}

		if m := roundLine.FindStringSubmatch(l.Content); m != nil {
			id, _ := strconv.Atoi(m[1])
			if err := clk.roundStart(l); err != nil {
				return nil, err
			}
			out.Rounds = append(out.Rounds, Round{ID: id})
			cur = &out.Rounds[len(out.Rounds)-1]
			inEval, started, lastEp = false, false, 0
			continue
		}

		if m := evalLine.FindStringSubmatch(l.Content); m != nil {
			ep, score, err := episode(l, cur, m)
			if err != nil {
				return nil, err
			}
			switch {
			case ep == 0:
				if err := clk.evalStart(l); err != nil {
					return nil, err
				}
				inEval = true
			case !inEval:
				return nil, formatErrorf(l.Number, "evaluation episode %d before episode 0", ep)
			case ep != lastEp+1:
				return nil, formatErrorf(l.Number, "evaluation episode %d does not follow %d", ep, lastEp)
			}
			lastEp = ep
			cur.Eval = append(cur.Eval, score)
			continue
		}

		if m := trainLine.FindStringSubmatch(l.Content); m != nil {
			ep, score, err := episode(l, cur, m)
			if err != nil {
				return nil, err
			}
			if inEval {
				return nil, formatErrorf(l.Number, "training episode %d after evaluation started", ep)
			}
			if started && ep != lastEp+opts.TrainStride {
				return nil, formatErrorf(l.Number, "training episode %d does not follow %d by %d", ep, lastEp, opts.TrainStride)
			}
			started, lastEp = true, ep
			cur.Train = append(cur.Train, score)
			continue
		}

		if strings.HasPrefix(l.Content, evalMeanPrefix) {
			clk.evalEnd(l)
		}
	}
	out.TrainTime, out.EvalTime = clk.trainTime, clk.evalTime
	return &out, nil
}

// episode validates the round id of a train or eval match and parses its
// episode number and score.
func episode(l Line, cur *Round, m []string) (int, float64, error) {
	if cur == nil {
		return 0, 0, formatErrorf(l.Number, "episode line outside an experiment round")
	}
	if id, _ := strconv.Atoi(m[1]); id != cur.ID {
		return 0, 0, formatErrorf(l.Number, "episode belongs to round %d, current round is %d", id, cur.ID)
	}
	ep, err := strconv.Atoi(m[2])
	if err != nil {
		return 0, 0, formatErrorf(l.Number, "invalid episode %q", m[2])
	}
	score, err := strconv.ParseFloat(strings.TrimSpace(m[3]), 64)
	if err != nil {
		return 0, 0, formatErrorf(l.Number, "invalid score %q", m[3])
	}
	return ep, score, nil
}
