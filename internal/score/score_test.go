package score

import (
	"bytes"
	"encoding/csv"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"harnesseval/internal/logparse"
)

func series(eval float64, train ...float64) *logparse.EpisodeSeries {
	return &logparse.EpisodeSeries{
		Train:     train,
		Eval:      []float64{eval},
		TrainTime: 90 * time.Second,
		EvalTime:  30 * time.Second,
	}
}

func TestAggregate_RelativeEvalScore(t *testing.T) {
	records := Aggregate([]Input{
		{Participant: "p3", Variant: "abstraction", Series: series(30, 1)},
		{Participant: "p1", Variant: "abstraction", Series: series(10, 1)},
		{Participant: "p2", Variant: "abstraction", Series: series(20, 1)},
	}, DefaultOptions())

	got := map[string]Metric{}
	for _, r := range records {
		got[r.Participant] = r.EvalScore
	}
	want := map[string]Metric{
		"p1": {Value: 1, Defined: true},
		"p2": {Value: 0.5, Defined: true},
		"p3": {Value: 0, Defined: true},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("eval scores (-want +got):\n%s", diff)
	}
	assert.Equal(t, []string{"p1", "p2", "p3"}, []string{records[0].Participant, records[1].Participant, records[2].Participant})
}

func TestAggregate_UndefinedWhenAllEqual(t *testing.T) {
	records := Aggregate([]Input{
		{Participant: "a", Variant: "v", Series: series(5, 1, 2)},
		{Participant: "b", Variant: "v", Series: series(5, 1, 2)},
	}, DefaultOptions())
	for _, r := range records {
		assert.False(t, r.EvalScore.Defined)
		assert.True(t, math.IsNaN(r.EvalScore.Value))
	}
}

func TestAggregate_VariantsNormalizedSeparately(t *testing.T) {
	records := Aggregate([]Input{
		{Participant: "a", Variant: "x", Series: series(1, 0)},
		{Participant: "b", Variant: "x", Series: series(3, 0)},
		{Participant: "a", Variant: "y", Series: series(100, 0)},
		{Participant: "b", Variant: "y", Series: series(50, 0)},
	}, DefaultOptions())
	require.Len(t, records, 4)
	assert.Equal(t, "x", records[0].Variant)
	assert.Equal(t, 1.0, records[0].EvalScore.Value)
	assert.Equal(t, 0.0, records[1].EvalScore.Value)
	assert.Equal(t, "y", records[2].Variant)
	assert.Equal(t, 0.0, records[2].EvalScore.Value)
	assert.Equal(t, 1.0, records[3].EvalScore.Value)
}

func TestAggregate_SentinelRowsExcluded(t *testing.T) {
	records := Aggregate([]Input{
		{Participant: "a", Variant: "v", Series: series(10, 1)},
		{Participant: "b", Variant: "v", Series: series(20, 1)},
		{Participant: "c", Variant: "v", Status: StatusMissing, Reason: "no log"},
		{Participant: "d", Variant: "v", Status: StatusUnparseable, Reason: "line 9: bad"},
	}, DefaultOptions())
	require.Len(t, records, 4)

	a, b, c, d := records[0], records[1], records[2], records[3]
	assert.Equal(t, 1.0, a.EvalScore.Value)
	assert.Equal(t, 0.0, b.EvalScore.Value)

	for _, r := range []Record{c, d} {
		assert.Equal(t, Sentinel, r.TrainMean)
		assert.Equal(t, Sentinel, r.Eval)
		assert.False(t, r.EvalScore.Defined)
		assert.Equal(t, []float64{-1, -1, -1, -1, -1}, r.ConvergenceRaw)
		assert.Empty(t, r.Curve)
	}
	assert.Equal(t, StatusUnparseable, d.Status)
	assert.Equal(t, "line 9: bad", d.Reason)
}

func TestConvergence(t *testing.T) {
	// first segment mean 0, eval 10: thresholds 0.1, 1, 5, 9, 9.9
	train := []float64{0, 0, 2, 4, 6, 8, 10, 10, 10, 10}
	tests := []struct {
		pct  int
		want float64
	}{
		{1, 0.2},
		{10, 0.2},
		{50, 0.4},
		{90, 0.6},
		{99, 0.6},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, Convergence(train, 10, tt.pct, 2), 1e-9, "p%d", tt.pct)
	}

	// falling series
	assert.InDelta(t, 0.5, Convergence([]float64{10, 10, 8, 6, 4, 2}, 4, 50, 2), 1e-9)

	// never reaches the target
	assert.Equal(t, 1.0, Convergence([]float64{0, 0, 0}, 10, 50, 2))
	assert.Equal(t, 1.0, Convergence(nil, 10, 50, 2))
}

func TestCurve(t *testing.T) {
	got := Curve([]float64{1, 2, 3, 4, 5, 6}, 3)
	assert.Equal(t, []float64{1.5, 3.5, 5.5}, got)

	sparse := Curve([]float64{4}, 2)
	if diff := cmp.Diff([]float64{math.NaN(), 4}, sparse, cmpopts.EquateNaNs()); diff != "" {
		t.Fatalf("curve (-want +got):\n%s", diff)
	}
}

func TestWriteReport(t *testing.T) {
	records := Aggregate([]Input{
		{Participant: "a", Variant: "v", Series: series(10, 1, 2, 3, 4)},
		{Participant: "b", Variant: "v", Series: series(20, 4, 3, 2, 1)},
		{Participant: "c", Variant: "v", Status: StatusMissing, Reason: "no log"},
	}, Options{FirstSegment: 2, CurveMarks: 2})

	path := filepath.Join(t.TempDir(), "out", "scores.csv")
	require.NoError(t, WriteReport(path, records, 2))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	rows, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 4)

	assert.Equal(t, Header(2), rows[0])
	assert.Len(t, rows[0], 9+5+5+2)

	col := func(name string) int {
		for i, h := range rows[0] {
			if h == name {
				return i
			}
		}
		t.Fatalf("no column %s", name)
		return -1
	}
	assert.Equal(t, "a", rows[1][col("participant")])
	assert.Equal(t, "1", rows[1][col("eval_score")])
	assert.Equal(t, "2.5", rows[1][col("train_mean")])
	assert.Equal(t, "90", rows[1][col("train_time_s")])
	assert.Equal(t, "1.5", rows[1][col("curve_1")])

	assert.Equal(t, "missing", rows[3][col("status")])
	assert.Equal(t, "-1", rows[3][col("eval")])
	assert.Equal(t, "", rows[3][col("eval_score")])
	assert.Equal(t, "", rows[3][col("curve_2")])
}
