package pipeline

import (
	"errors"
	"fmt"
)

// ErrValidation marks malformed requests caught before anything executes.
var ErrValidation = errors.New("pipeline: invalid request")

// HardFailure is a critical step failure; it carries the resume point.
type HardFailure struct {
	Index int
	Name  string
	Err   error
}

func (e *HardFailure) Error() string {
	return fmt.Sprintf("step %d (%s) failed: %v", e.Index, e.Name, e.Err)
}

func (e *HardFailure) Unwrap() error { return e.Err }

// RetryExhausted wraps the last error of a retry-capable step whose budget
// ran out; it escalates per the step's failure policy.
type RetryExhausted struct {
	Attempts int
	Err      error
}

func (e *RetryExhausted) Error() string {
	return fmt.Sprintf("failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *RetryExhausted) Unwrap() error { return e.Err }
