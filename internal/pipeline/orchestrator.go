package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Gate is the preflight hook. A failing gate moves the run straight to
// StatePreflightRejected without executing any step.
type Gate func(ctx context.Context) (pass bool, warnings []string)

// Locker guards the target environment against concurrent runs. Acquired
// after the gate passes and before the first mutating step.
type Locker interface {
	Acquire(ctx context.Context, target string) (release func(context.Context) error, err error)
}

// Recorder receives run and step observations. Implementations must
// tolerate being called from exactly one goroutine.
type Recorder interface {
	ObserveStep(name string, index int, d time.Duration, failed bool)
	ObserveRun(state TerminalState, d time.Duration)
}

// Request describes one run. Immutable once built.
type Request struct {
	RunID     string
	Target    string
	StartStep int
	Steps     []Step
	Gate      Gate
}

// Validate checks the request before anything executes.
func (r Request) Validate() error {
	if r.Target == "" {
		return fmt.Errorf("%w: no target", ErrValidation)
	}
	if r.Gate == nil {
		return fmt.Errorf("%w: no preflight gate", ErrValidation)
	}
	if err := ValidateSteps(r.Steps); err != nil {
		return err
	}
	if r.StartStep < 1 || r.StartStep > len(r.Steps) {
		return fmt.Errorf("%w: start step %d out of range 1..%d", ErrValidation, r.StartStep, len(r.Steps))
	}
	return nil
}

// Orchestrator walks a request's steps in order, honoring failure policies,
// retry budgets, the resume point, and cancellation at step boundaries.
type Orchestrator struct {
	logger  *slog.Logger
	locker  Locker
	metrics Recorder
}

// New builds an Orchestrator. metrics may be nil.
func New(logger *slog.Logger, locker Locker, metrics Recorder) *Orchestrator {
	return &Orchestrator{logger: logger, locker: locker, metrics: metrics}
}

// Run executes the request. The returned error is non-nil only for
// validation problems; every runtime outcome, including hard failures, is
// expressed through the Result.
func (o *Orchestrator) Run(ctx context.Context, req Request) (Result, error) {
	if err := req.Validate(); err != nil {
		return Result{}, err
	}
	res := Result{RunID: req.RunID}
	log := o.logger.With("run_id", req.RunID, "target", req.Target)
	started := time.Now()
	defer func() {
		if o.metrics != nil {
			o.metrics.ObserveRun(res.State, time.Since(started))
		}
	}()

	pass, warnings := req.Gate(ctx)
	res.Warnings = append(res.Warnings, warnings...)
	if !pass {
		res.State = StatePreflightRejected
		log.Error("preflight rejected, nothing executed")
		return res, nil
	}

	release, err := o.locker.Acquire(ctx, req.Target)
	if err != nil {
		res.State = StateAborted
		res.FailedStep = req.StartStep
		res.Failure = &HardFailure{Index: req.StartStep, Name: "acquire-lock", Err: err}
		log.Error("could not lock target", "error", err)
		return res, nil
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			log.Warn("lock release failed", "error", err)
		}
	}()

	for _, step := range req.Steps {
		if step.Index < req.StartStep {
			log.Info("step skipped by resume point", "step", step.Index, "name", step.Name)
			continue
		}
		// Cancellation is honored only at step boundaries; the target keeps
		// the state of the last fully completed step.
		if ctx.Err() != nil {
			res.State = StateAborted
			res.FailedStep = step.Index
			res.Failure = &HardFailure{Index: step.Index, Name: step.Name, Err: ctx.Err()}
			log.Error("run cancelled before step", "step", step.Index, "name", step.Name)
			return res, nil
		}

		stepStart := time.Now()
		err := runWithBudget(ctx, step.RetryBudget, step.Action)
		if o.metrics != nil {
			o.metrics.ObserveStep(step.Name, step.Index, time.Since(stepStart), err != nil)
		}
		if err == nil {
			log.Info("step completed", "step", step.Index, "name", step.Name, "duration", time.Since(stepStart))
			continue
		}
		if step.Policy == Soft {
			res.Warnings = append(res.Warnings, fmt.Sprintf("step %d (%s): %v", step.Index, step.Name, err))
			log.Warn("step failed, continuing", "step", step.Index, "name", step.Name, "error", err)
			continue
		}
		res.State = StateAborted
		res.FailedStep = step.Index
		res.Failure = &HardFailure{Index: step.Index, Name: step.Name, Err: err}
		log.Error("step failed, aborting", "step", step.Index, "name", step.Name, "error", err)
		return res, nil
	}

	res.State = StateCompleted
	log.Info("run completed", "warnings", len(res.Warnings), "duration", time.Since(started))
	return res, nil
}
