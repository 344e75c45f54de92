package pipeline

import "github.com/rjzaar/nwp/internal/testsel"

// TerminalState is where a run ended up.
type TerminalState int

const (
	// StateCompleted means every hard step succeeded.
	StateCompleted TerminalState = iota
	// StateAborted means a hard step (or the lock) failed; FailedStep holds
	// the resume point.
	StateAborted
	// StatePreflightRejected means a blocking preflight check failed before
	// any step ran.
	StatePreflightRejected
)

func (s TerminalState) String() string {
	switch s {
	case StateCompleted:
		return "completed"
	case StateAborted:
		return "aborted"
	case StatePreflightRejected:
		return "preflight-rejected"
	}
	return "unknown"
}

// Result is the aggregate outcome of one run.
type Result struct {
	RunID      string
	State      TerminalState
	FailedStep int
	Failure    *HardFailure
	TestResult *testsel.RunResult
	Warnings   []string
}

// Clean reports a fully clean completion: no soft-step warnings, no test
// failures, nothing to review.
func (r Result) Clean() bool {
	return r.State == StateCompleted && len(r.Warnings) == 0
}
