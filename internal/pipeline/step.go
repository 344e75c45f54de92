// Package pipeline is the resumable step orchestrator. A run walks a fixed
// ordered list of steps, each with a failure policy and an optional retry
// budget, and reports a precise resume point on failure.
package pipeline

import (
	"context"
	"fmt"
)

// FailurePolicy decides what a step failure does to the run.
type FailurePolicy int

const (
	// Hard aborts the run at the failing step.
	Hard FailurePolicy = iota
	// Soft records a warning and the run continues.
	Soft
)

func (p FailurePolicy) String() string {
	if p == Soft {
		return "soft"
	}
	return "hard"
}

// Action is the work of one step. Opaque to the executor loop.
type Action func(ctx context.Context) error

// Step is one unit of the pipeline. Indices are the public resume points:
// contiguous, starting at 1, in execution order.
type Step struct {
	Index       int
	Name        string
	Action      Action
	Policy      FailurePolicy
	RetryBudget int
}

// ValidateSteps checks the structural invariants of a step list.
func ValidateSteps(steps []Step) error {
	if len(steps) == 0 {
		return fmt.Errorf("%w: no steps", ErrValidation)
	}
	for i, step := range steps {
		if step.Index != i+1 {
			return fmt.Errorf("%w: step %q has index %d, want %d", ErrValidation, step.Name, step.Index, i+1)
		}
		if step.Name == "" {
			return fmt.Errorf("%w: step %d has no name", ErrValidation, step.Index)
		}
		if step.Action == nil {
			return fmt.Errorf("%w: step %q has no action", ErrValidation, step.Name)
		}
		if step.RetryBudget < 0 {
			return fmt.Errorf("%w: step %q has negative retry budget", ErrValidation, step.Name)
		}
	}
	return nil
}
