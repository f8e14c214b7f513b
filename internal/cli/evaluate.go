package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"harnesseval/internal/assemble"
	"harnesseval/internal/catalog"
	"harnesseval/internal/core"
	"harnesseval/internal/failure"
	"harnesseval/internal/ledger"
	"harnesseval/internal/logging"
	"harnesseval/internal/metrics"
	"harnesseval/internal/pipeline"
	"harnesseval/internal/state"
	"harnesseval/internal/trace"
)

// BatchResult is what an evaluate invocation produced.
type BatchResult struct {
	Batch    state.Batch
	Outcomes []pipeline.Outcome
}

// Failures returns the failed outcomes, sorted by target.
func (r BatchResult) Failures() []pipeline.Outcome {
	var out []pipeline.Outcome
	for _, o := range r.Outcomes {
		if o.Failed() {
			out = append(out, o)
		}
	}
	return out
}

// batch carries the per-invocation collaborators.
type batch struct {
	app      *App
	registry *pipeline.Registry
	journal  *trace.Recorder
	metrics  *metrics.Metrics
}

// Evaluate runs one batch. Without dirs it assembles the full participant x
// variant matrix from the ids file; with dirs it compiles and runs those
// already-assembled targets only.
//
// A batch in which some targets failed returns a *TargetFailuresError after
// everything has been recorded.
func (a *App) Evaluate(ctx context.Context, dirs []string) (BatchResult, error) {
	mode := state.ModeMatrix
	if len(dirs) > 0 {
		mode = state.ModeReexecute
	}

	var (
		targets []core.BuildTarget
		ids     []string
		err     error
	)
	if mode == state.ModeReexecute {
		targets, err = ParseTargetDirs(dirs, a.variantNames(), a.Config.Paths.OutputDir)
	} else {
		ids, err = ReadIDs(a.Config.Paths.IDsFile)
	}
	if err != nil {
		return BatchResult{}, err
	}

	store, err := state.NewStore(a.Config.Paths.StateDir)
	if err != nil {
		return BatchResult{}, configErrorf("state dir: %v", err)
	}
	recorder := &state.Recorder{Store: store}
	started, err := recorder.Start(mode)
	if err != nil {
		return BatchResult{}, fmt.Errorf("start batch: %w", err)
	}
	log := a.Logger.With(zap.String("batch", started.BatchID), zap.String("mode", string(mode)))
	log.Info("batch started")

	b := &batch{
		app:      a,
		registry: pipeline.NewRegistry(),
		journal:  trace.NewRecorder(),
		metrics:  metrics.New(),
	}

	if mode == state.ModeMatrix {
		targets, err = b.assembleMatrix(ctx, ids, log)
		if err != nil {
			return BatchResult{}, err
		}
	}

	coordinator := pipeline.NewCoordinator(a.Config.Toolchain(), a.Runner, log)
	driver := pipeline.NewDriver(coordinator, a.Config.Build.Workers, log)
	driver.Sink = b.journal
	driver.Observer = b.metrics
	if err := driver.EvaluateAll(ctx, b.registry, targets); err != nil {
		return BatchResult{}, fmt.Errorf("evaluate: %w", err)
	}

	outcomes := b.registry.Outcomes()
	finished, err := recorder.Finish(started, outcomes, b.journal.Journal(started.BatchID))
	if err != nil {
		return BatchResult{}, fmt.Errorf("record batch: %w", err)
	}
	if err := a.persist(ctx, finished.BatchID, outcomes, b.metrics); err != nil {
		return BatchResult{}, err
	}

	res := BatchResult{Batch: finished, Outcomes: outcomes}
	a.printBatch(res)
	log.Info("batch finished",
		zap.Int("targets", finished.Targets),
		zap.Int("failed", finished.Failed),
		zap.String("journal", finished.JournalHash))
	if finished.Failed > 0 {
		return res, &TargetFailuresError{Failed: finished.Failed, Total: finished.Targets}
	}
	return res, nil
}

// assembleMatrix builds every simple variant for each participant, then the
// composites from those. Assembly is sequential: the participant checkout is
// one shared working tree.
func (b *batch) assembleMatrix(ctx context.Context, ids []string, log *zap.Logger) ([]core.BuildTarget, error) {
	a := b.app
	cfg := a.Config

	builder := &assemble.Builder{
		Catalog:    a.Catalog,
		BaseDir:    cfg.Paths.BaseDir,
		TargetsDir: cfg.Paths.TargetsDir,
		OutputDir:  cfg.Paths.OutputDir,
		Logger:     log,
	}
	if git := a.checkouter(); git != nil {
		builder.Git = git
		if branch := cfg.Git.EvaluationBranch; branch != "" {
			if err := git.Checkout(ctx, branch, cfg.Paths.BaseDir); err != nil {
				return nil, fmt.Errorf("check out evaluation branch: %w", err)
			}
		}
	}

	var targets []core.BuildTarget
	for _, participant := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		built := make(map[string]core.BuildTarget)
		for _, v := range a.Catalog.Simple() {
			sub := core.NewSubmission(participant, v.Name, cfg.Paths.CheckoutDir)
			t, err := builder.Build(ctx, sub)
			if err != nil {
				if err := b.assemblyFailed(participant, v, err, log); err != nil {
					return nil, err
				}
				continue
			}
			built[v.Name] = t
			targets = append(targets, t)
			trace.SafeRecord(b.journal, trace.Event{Kind: trace.EventTargetAssembled, TargetID: t.ID()})
		}
		for _, v := range a.Catalog.Composites() {
			t, err := builder.BuildComposite(participant, v, built)
			if err != nil {
				if err := b.assemblyFailed(participant, v, err, log); err != nil {
					return nil, err
				}
				continue
			}
			targets = append(targets, t)
			trace.SafeRecord(b.journal, trace.Event{Kind: trace.EventTargetAssembled, TargetID: t.ID()})
		}
	}
	return targets, nil
}

// assemblyFailed records the outcome of a target that never reached the pool.
// Only unclassified errors (bugs, cancelled context) abort the batch.
func (b *batch) assemblyFailed(participant string, v catalog.Variant, err error, log *zap.Logger) error {
	if failure.KindOf(err) == nil {
		return err
	}
	o := pipeline.Outcome{
		Participant: participant,
		Variant:     v.Name,
		State:       pipeline.TargetFailed,
		Stage:       pipeline.StageAssemble,
		Code:        failure.Code(err),
		Reason:      err.Error(),
		OutputPath:  failure.OutputOf(err),
	}
	if rerr := b.registry.Record(o); rerr != nil {
		return rerr
	}

	ev := trace.Event{Kind: trace.EventAssemblyFailed, TargetID: o.ID(), Reason: o.Code}
	if errors.Is(err, failure.CompositeDependencyMissing) {
		ev.Kind = trace.EventCompositeSkipped
		for _, name := range []string{v.Composite.Base, v.Composite.Overlay} {
			ev.Causes = append(ev.Causes, core.TargetID(participant, name))
		}
	}
	trace.SafeRecord(b.journal, ev)
	b.metrics.ObserveAssemblyFailure(v.Name, err)
	b.metrics.ObserveOutcome(o)

	log.Warn("target not assembled",
		append(logging.Target(participant, v.Name),
			zap.String("code", o.Code),
			zap.Error(err))...)
	return nil
}

// persist writes the optional ledger and metrics outputs.
func (a *App) persist(ctx context.Context, batchID string, outcomes []pipeline.Outcome, m *metrics.Metrics) error {
	if path := a.Config.Ledger.Path; path != "" {
		l, err := ledger.Open(path)
		if err != nil {
			return fmt.Errorf("open ledger: %w", err)
		}
		defer l.Close()
		if err := l.RecordOutcomes(ctx, batchID, outcomes); err != nil {
			return fmt.Errorf("record outcomes: %w", err)
		}
	}
	if path := a.Config.Metrics.Textfile; path != "" {
		if err := m.WriteTextfile(path); err != nil {
			return fmt.Errorf("write metrics: %w", err)
		}
	}
	return nil
}

func (a *App) printBatch(res BatchResult) {
	fmt.Fprintf(a.Stdout, "batch %s: %d targets, %d failed\n", res.Batch.BatchID, res.Batch.Targets, res.Batch.Failed)
	for _, o := range res.Failures() {
		line := fmt.Sprintf("FAILED %s [%s] %s", o.ID(), o.Stage, firstLine(o.Reason))
		if o.OutputPath != "" {
			line += " (output: " + o.OutputPath + ")"
		}
		fmt.Fprintln(a.Stdout, line)
	}
	for _, o := range res.Outcomes {
		for _, w := range o.Warnings {
			fmt.Fprintf(a.Stdout, "WARNING %s: %s\n", o.ID(), w)
		}
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
