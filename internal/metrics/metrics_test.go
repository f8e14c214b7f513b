package metrics

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"harnesseval/internal/core"
	"harnesseval/internal/failure"
	"harnesseval/internal/pipeline"
)

func TestMetrics_ObserveAndExport(t *testing.T) {
	m := New()
	tg := core.BuildTarget{Participant: "u1", Variant: "abstraction"}

	m.ObserveCompile(tg, 3*time.Second, nil)
	m.ObserveRun(tg, 90*time.Second, errors.New("boom"))
	m.ObserveOutcome(pipeline.Outcome{Participant: "u1", Variant: "abstraction", State: pipeline.TargetFailed, Code: "RuntimeFailure"})
	m.ObserveOutcome(pipeline.Outcome{Participant: "u2", Variant: "abstraction", State: pipeline.TargetSucceeded})
	m.ObserveAssemblyFailure("similarities", failure.New(failure.BranchNotFound, "u3_similarities", "missing"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.targets.WithLabelValues("abstraction", "FAILED", "RuntimeFailure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.targets.WithLabelValues("abstraction", "SUCCEEDED", "")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.assemblyFailures.WithLabelValues("similarities", "BranchNotFound")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.compileSeconds))
	assert.Equal(t, 1, testutil.CollectAndCount(m.runSeconds))

	path := filepath.Join(t.TempDir(), "batch.prom")
	require.NoError(t, m.WriteTextfile(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `harnesseval_targets_total{code="RuntimeFailure",state="FAILED",variant="abstraction"} 1`)
	assert.Contains(t, string(data), "harnesseval_run_duration_seconds_bucket")
}

func TestMetrics_IndependentRegistries(t *testing.T) {
	a, b := New(), New()
	a.ObserveOutcome(pipeline.Outcome{Variant: "v", State: pipeline.TargetSucceeded})
	assert.Equal(t, 0, testutil.CollectAndCount(b.targets))
	assert.Equal(t, 1, testutil.CollectAndCount(a.targets))
}
