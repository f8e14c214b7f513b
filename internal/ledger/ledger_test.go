package ledger

import (
	"context"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"harnesseval/internal/logparse"
	"harnesseval/internal/pipeline"
	"harnesseval/internal/score"
)

func open(t *testing.T) *Ledger {
	t.Helper()
	l, err := Open(filepath.Join(t.TempDir(), "nested", "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestLedger_Outcomes(t *testing.T) {
	ctx := context.Background()
	l := open(t)

	outcomes := []pipeline.Outcome{
		{Participant: "u2", Variant: "abstraction", State: pipeline.TargetFailed, Stage: pipeline.StageCompile, Code: "CompileFailure", Reason: "exit 1", OutputPath: "/o/compile.log", CompileDuration: 1500 * time.Millisecond},
		{Participant: "u1", Variant: "abstraction", State: pipeline.TargetSucceeded, Stage: pipeline.StageRun, RunDuration: 2 * time.Second, Fingerprint: "ab12"},
	}
	require.NoError(t, l.RecordOutcomes(ctx, "b1", outcomes))
	// Re-recording a batch replaces rows rather than duplicating them.
	require.NoError(t, l.RecordOutcomes(ctx, "b1", outcomes))
	require.NoError(t, l.RecordOutcomes(ctx, "b2", outcomes[:1]))

	got, err := l.Outcomes(ctx, "b1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "u1", got[0].Participant)
	assert.Equal(t, pipeline.TargetSucceeded, got[0].State)
	assert.Equal(t, 2*time.Second, got[0].RunDuration)
	assert.Equal(t, "ab12", got[0].Fingerprint)
	assert.Equal(t, "CompileFailure", got[1].Code)
	assert.Equal(t, "/o/compile.log", got[1].OutputPath)
	assert.Equal(t, 1500*time.Millisecond, got[1].CompileDuration)

	counts, err := l.FailureCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"abstraction": 2}, counts)

	none, err := l.Outcomes(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestLedger_Scores(t *testing.T) {
	ctx := context.Background()
	l := open(t)

	records := score.Aggregate([]score.Input{
		{Participant: "a", Variant: "v", Series: &logparse.EpisodeSeries{Train: []float64{1, 2}, Eval: []float64{10}}},
		{Participant: "b", Variant: "v", Series: &logparse.EpisodeSeries{Train: []float64{1, 2}, Eval: []float64{20}}},
		{Participant: "c", Variant: "w", Series: &logparse.EpisodeSeries{Train: []float64{3}, Eval: []float64{5}}},
		{Participant: "d", Variant: "v", Status: score.StatusMissing, Reason: "no log"},
	}, score.DefaultOptions())
	require.NoError(t, l.RecordScores(ctx, "r1", records))

	rows, err := l.Scores(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, rows, 4)

	assert.Equal(t, "a", rows[0].Participant)
	assert.Equal(t, 1.0, rows[0].EvalScore)
	assert.Equal(t, 0.0, rows[1].EvalScore)

	assert.Equal(t, "d", rows[2].Participant)
	assert.Equal(t, score.StatusMissing, rows[2].Status)
	assert.Equal(t, -1.0, rows[2].Eval)
	assert.True(t, math.IsNaN(rows[2].EvalScore))

	// single participant: undefined score stored as NULL
	assert.Equal(t, "w", rows[3].Variant)
	assert.True(t, math.IsNaN(rows[3].EvalScore))
	assert.Equal(t, 1.5, rows[0].TrainMean)
}
