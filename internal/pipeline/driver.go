package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"harnesseval/internal/core"
	"harnesseval/internal/failure"
	"harnesseval/internal/trace"
)

// DefaultWorkers is the batch concurrency when none is configured.
const DefaultWorkers = 3

// Observer receives per-step measurements. Implementations must be safe for
// concurrent use.
type Observer interface {
	ObserveCompile(target core.BuildTarget, d time.Duration, err error)
	ObserveRun(target core.BuildTarget, d time.Duration, err error)
	ObserveOutcome(o Outcome)
}

// NopObserver discards measurements.
type NopObserver struct{}

func (NopObserver) ObserveCompile(core.BuildTarget, time.Duration, error) {}
func (NopObserver) ObserveRun(core.BuildTarget, time.Duration, error)     {}
func (NopObserver) ObserveOutcome(Outcome)                                {}

// Stepper compiles and runs a target. *Coordinator satisfies it.
type Stepper interface {
	Compile(ctx context.Context, target core.BuildTarget) error
	Run(ctx context.Context, target core.BuildTarget) error
}

// Driver evaluates assembled targets with a fixed pool of workers.
//
// Each worker pulls a target, compiles it (serialized by the Stepper), runs it
// and records exactly one outcome. A failing target never stops the others.
type Driver struct {
	Steps    Stepper
	Workers  int
	Sink     trace.Sink
	Observer Observer
	Logger   *zap.Logger
}

// NewDriver creates a Driver with no-op sink and observer.
func NewDriver(steps Stepper, workers int, logger *zap.Logger) *Driver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Driver{
		Steps:    steps,
		Workers:  workers,
		Sink:     trace.NopSink{},
		Observer: NopObserver{},
		Logger:   logger,
	}
}

// EvaluateAll compiles and runs every target and records their outcomes in
// reg. It blocks until each target has an outcome.
//
// An error is returned only for invalid input (nil registry, duplicate
// targets); in that case no target is started.
func (d *Driver) EvaluateAll(ctx context.Context, reg *Registry, targets []core.BuildTarget) error {
	if reg == nil {
		return errors.New("nil registry")
	}
	if d.Steps == nil {
		return errors.New("nil stepper")
	}
	seen := make(map[string]bool, len(targets))
	for _, t := range targets {
		if seen[t.ID()] {
			return fmt.Errorf("duplicate target %q", t.ID())
		}
		seen[t.ID()] = true
	}
	for _, t := range targets {
		if err := reg.Begin(t.ID()); err != nil {
			return err
		}
	}

	workers := d.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if workers > len(targets) && len(targets) > 0 {
		workers = len(targets)
	}

	work := make(chan core.BuildTarget)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(work)
		for _, t := range targets {
			work <- t
		}
		return nil
	})
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			for t := range work {
				o := d.evaluate(gctx, reg, t)
				if err := reg.Record(o); err != nil {
					d.Logger.Error("record outcome", zap.String("target", t.ID()), zap.Error(err))
				}
				d.observer().ObserveOutcome(o)
			}
			return nil
		})
	}
	return g.Wait()
}

func (d *Driver) observer() Observer {
	if d.Observer == nil {
		return NopObserver{}
	}
	return d.Observer
}

// evaluate drives one target through compile and run. It never returns an
// error; every failure becomes a FAILED outcome.
func (d *Driver) evaluate(ctx context.Context, reg *Registry, t core.BuildTarget) Outcome {
	id := t.ID()
	log := d.Logger.With(zap.String("participant", t.Participant), zap.String("variant", t.Variant))
	o := Outcome{
		Participant: t.Participant,
		Variant:     t.Variant,
		Warnings:    t.Warnings,
	}
	fail := func(stage Stage, err error) Outcome {
		o.State = TargetFailed
		o.Stage = stage
		o.Code = failure.Code(err)
		o.Reason = err.Error()
		o.OutputPath = failure.OutputOf(err)
		log.Warn("target failed",
			zap.String("stage", string(stage)),
			zap.String("reason", o.Reason))
		return o
	}

	// advance logs a transition the registry rejects; the outcome recorded
	// later then disagrees with the live state and Record refuses it.
	advance := func(from, to TargetState) error {
		err := reg.Advance(id, from, to)
		if err != nil {
			log.Error("state transition rejected",
				zap.String("from", string(from)),
				zap.String("to", string(to)),
				zap.Error(err))
		}
		return err
	}

	if err := advance(TargetAssembled, TargetCompiling); err != nil {
		_ = advance(TargetCompiling, TargetFailed)
		return fail(StageCompile, err)
	}

	if fp, err := core.NewTreeHasher().Hash(t.Dir); err == nil {
		o.Fingerprint = fp.String()
	} else {
		log.Debug("fingerprint", zap.Error(err))
	}

	start := time.Now()
	err := d.Steps.Compile(ctx, t)
	o.CompileDuration = time.Since(start)
	d.observer().ObserveCompile(t, o.CompileDuration, err)
	if err != nil {
		_ = advance(TargetCompiling, TargetFailed)
		trace.SafeRecord(d.Sink, trace.Event{Kind: trace.EventCompileFailed, TargetID: id, Reason: failure.Code(err)})
		return fail(StageCompile, err)
	}
	_ = advance(TargetCompiling, TargetCompiled)
	trace.SafeRecord(d.Sink, trace.Event{Kind: trace.EventTargetCompiled, TargetID: id})

	_ = advance(TargetCompiled, TargetRunning)
	start = time.Now()
	err = d.Steps.Run(ctx, t)
	o.RunDuration = time.Since(start)
	d.observer().ObserveRun(t, o.RunDuration, err)
	if err != nil {
		_ = advance(TargetRunning, TargetFailed)
		trace.SafeRecord(d.Sink, trace.Event{Kind: trace.EventRunFailed, TargetID: id, Reason: failure.Code(err)})
		return fail(StageRun, err)
	}
	_ = advance(TargetRunning, TargetSucceeded)
	trace.SafeRecord(d.Sink, trace.Event{Kind: trace.EventTargetSucceeded, TargetID: id})

	o.State = TargetSucceeded
	o.Stage = StageRun
	o.OutputPath = t.RunLogPath()
	log.Info("target succeeded",
		zap.Duration("compile", o.CompileDuration),
		zap.Duration("run", o.RunDuration))
	return o
}
