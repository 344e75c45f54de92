package testsel

import (
	"context"
	"log/slog"
	"time"

	"github.com/rjzaar/nwp/internal/envreg"
	"github.com/rjzaar/nwp/internal/execx"
)

// RunResult aggregates per-type outcomes for one execution.
type RunResult struct {
	Total       int
	Passed      int
	Failed      int
	FailedTypes []Type
}

// suites maps each test type to the command run in the target's root.
var suites = map[Type][]string{
	TypeUnit:           {"vendor/bin/phpunit", "--testsuite", "unit"},
	TypeBehavioral:     {"vendor/bin/behat", "--strict"},
	TypeStaticAnalysis: {"vendor/bin/phpstan", "analyse", "--no-progress"},
	TypeStyle:          {"vendor/bin/phpcs", "-q"},
	TypeLint:           {"vendor/bin/parallel-lint", "--no-progress", "web/modules/custom", "web/themes/custom"},
	TypeSecurity:       {"composer", "audit", "--locked"},
	TypeAccessibility:  {"npx", "pa11y-ci"},
}

// Executor runs test suites inside a target environment.
type Executor struct {
	runner  execx.Runner
	logger  *slog.Logger
	timeout time.Duration
}

// NewExecutor returns a suite executor using the shared command runner.
func NewExecutor(runner execx.Runner, logger *slog.Logger, timeout time.Duration) *Executor {
	return &Executor{runner: runner, logger: logger, timeout: timeout}
}

// Execute runs each type in order and aggregates outcomes. Individual test
// failures never produce an error; a suite that cannot even start counts as
// failed the same way.
func (e *Executor) Execute(ctx context.Context, target envreg.Environment, types []Type) RunResult {
	result := RunResult{Total: len(types)}
	for _, typ := range types {
		argv := suites[typ]
		if len(argv) == 0 {
			result.Failed++
			result.FailedTypes = append(result.FailedTypes, typ)
			e.logger.Warn("no suite command registered", "type", string(typ))
			continue
		}
		started := time.Now()
		_, err := e.runner.Run(ctx, execx.Command{
			Program: argv[0],
			Args:    argv[1:],
			Dir:     target.Root,
			Timeout: e.timeout,
		})
		if err != nil {
			result.Failed++
			result.FailedTypes = append(result.FailedTypes, typ)
			e.logger.Warn("test suite failed", "type", string(typ), "duration", time.Since(started), "error", err)
			continue
		}
		result.Passed++
		e.logger.Info("test suite passed", "type", string(typ), "duration", time.Since(started))
	}
	return result
}
