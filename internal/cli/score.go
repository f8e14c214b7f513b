package cli

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"harnesseval/internal/core"
	"harnesseval/internal/ledger"
	"harnesseval/internal/logging"
	"harnesseval/internal/logparse"
	"harnesseval/internal/score"
)

// ScoreResult is the written report.
type ScoreResult struct {
	ReportID string
	Path     string
	Records  []score.Record
}

// Score parses every collected log in tolerant mode, aggregates the scores
// and writes the CSV report. Missing or unparseable logs become sentinel rows;
// they never abort the report.
func (a *App) Score(ctx context.Context) (ScoreResult, error) {
	ids, err := ReadIDs(a.Config.Paths.IDsFile)
	if err != nil {
		return ScoreResult{}, err
	}
	h := core.NewHarvester(a.Config.Paths.ResultsDir)
	opts := a.Config.ParseOptions()

	var inputs []score.Input
	for _, participant := range ids {
		for _, v := range a.Catalog.Variants() {
			in := score.Input{Participant: participant, Variant: v.Name, Status: score.StatusOK}
			data, err := os.ReadFile(h.Path(participant, v.Name))
			switch {
			case errors.Is(err, fs.ErrNotExist):
				in.Status, in.Reason = score.StatusMissing, "no collected log"
			case err != nil:
				return ScoreResult{}, fmt.Errorf("read log: %w", err)
			default:
				series, perr := logparse.ParseSummary(data, opts)
				if perr != nil {
					in.Status, in.Reason = score.StatusUnparseable, perr.Error()
				} else {
					in.Series = series
				}
			}
			if in.Status != score.StatusOK {
				a.Logger.Warn("log not scored",
					append(logging.Target(participant, v.Name),
						zap.String("status", string(in.Status)),
						zap.String("reason", in.Reason))...)
			}
			inputs = append(inputs, in)
		}
	}

	sopts := a.Config.ScoreOptions()
	res := ScoreResult{
		ReportID: uuid.NewString(),
		Path:     a.Config.Scoring.Report,
		Records:  score.Aggregate(inputs, sopts),
	}
	if err := score.WriteReport(res.Path, res.Records, sopts.CurveMarks); err != nil {
		return ScoreResult{}, err
	}
	if path := a.Config.Ledger.Path; path != "" {
		l, err := ledger.Open(path)
		if err != nil {
			return ScoreResult{}, fmt.Errorf("open ledger: %w", err)
		}
		defer l.Close()
		if err := l.RecordScores(ctx, res.ReportID, res.Records); err != nil {
			return ScoreResult{}, fmt.Errorf("record scores: %w", err)
		}
	}

	scored := 0
	for _, r := range res.Records {
		if r.Status == score.StatusOK {
			scored++
		}
	}
	fmt.Fprintf(a.Stdout, "report %s: %d rows, %d scored, written to %s\n", res.ReportID, len(res.Records), scored, res.Path)
	for _, variant := range undefinedEvalScores(res.Records) {
		a.Logger.Warn("eval score undefined",
			zap.String("variant", variant),
			zap.String("reason", "every scored participant has the same evaluation value"))
		fmt.Fprintf(a.Stdout, "UNDEFINED eval score for %s\n", variant)
	}
	return res, nil
}

// undefinedEvalScores returns, in first-seen order, the variants whose scored
// rows carry no eval score.
func undefinedEvalScores(records []score.Record) []string {
	var out []string
	seen := make(map[string]bool)
	for _, r := range records {
		if r.Status != score.StatusOK || r.EvalScore.Defined || seen[r.Variant] {
			continue
		}
		seen[r.Variant] = true
		out = append(out, r.Variant)
	}
	return out
}

// CheckLog validates a single log in strict mode and prints its shape. A
// malformed log is an error classified as failure.LogFormatError.
func (a *App) CheckLog(path string) (*logparse.StrictLog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, invalidInvocationf("read log: %v", err)
	}
	parsed, err := logparse.ParseStrict(data, a.Config.ParseOptions(), a.Catalog.CandidateKeys()...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	fmt.Fprintf(a.Stdout, "%s: %d rounds, %d training entries, %d evaluation entries, train %s, eval %s\n",
		path, len(parsed.Rounds), len(parsed.Train()), len(parsed.Eval()), parsed.TrainTime, parsed.EvalTime)
	return parsed, nil
}
