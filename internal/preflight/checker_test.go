package preflight

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/rjzaar/nwp/internal/envreg"
	"github.com/rjzaar/nwp/internal/execx"
)

func newTestChecker(mutate func(*Checker)) *Checker {
	c := New(pingFn(func(context.Context) error { return nil }),
		runnerFn(func(context.Context, execx.Command) (execx.Result, error) {
			return execx.Result{}, nil
		}),
		slog.New(slog.NewTextHandler(io.Discard, nil)),
		time.Second, 1024)
	c.dialFn = func(context.Context, string, time.Duration) error { return nil }
	c.diskFn = func(string) (uint64, error) { return 1 << 30, nil }
	c.statFn = func(string) error { return nil }
	if mutate != nil {
		mutate(c)
	}
	return c
}

func TestQuickModeRunsReducedSubset(t *testing.T) {
	c := newTestChecker(nil)
	report := c.Check(context.Background(), envreg.Environment{Name: "dev", Root: "/src", LiveHost: "live.example.org"}, nil, Quick)

	if len(report.Checks) != 3 {
		t.Fatalf("expected 3 quick checks, got %d", len(report.Checks))
	}
	if !report.OverallPass() {
		t.Fatalf("expected passing report")
	}
}

func TestFullModeRunsEverything(t *testing.T) {
	c := newTestChecker(nil)
	target := envreg.Environment{Name: "stg", Root: "/stg"}
	report := c.Check(context.Background(), envreg.Environment{Name: "dev", Root: "/src", LiveHost: "live.example.org"}, &target, Full)

	if len(report.Checks) != 6 {
		t.Fatalf("expected 6 full checks, got %d", len(report.Checks))
	}
}

func TestAllChecksRunDespiteFailures(t *testing.T) {
	c := newTestChecker(func(c *Checker) {
		c.statFn = func(string) error { return errors.New("no such directory") }
		c.diskFn = func(string) (uint64, error) { return 0, nil }
	})
	report := c.Check(context.Background(), envreg.Environment{Name: "dev", Root: "/gone"}, nil, Quick)

	if len(report.Checks) != 3 {
		t.Fatalf("failing checks must not abort the battery, got %d results", len(report.Checks))
	}
	if report.OverallPass() {
		t.Fatalf("expected blocking failures to fail the report")
	}
}

func TestNonBlockingFailureOnlyWarns(t *testing.T) {
	c := newTestChecker(func(c *Checker) {
		c.runner = runnerFn(func(context.Context, execx.Command) (execx.Result, error) {
			return execx.Result{Stdout: " M web/index.php\n?? notes.txt\n"}, nil
		})
	})
	report := c.Check(context.Background(), envreg.Environment{Name: "dev", Root: "/src"}, nil, Full)

	if !report.OverallPass() {
		t.Fatalf("dirty worktree must not block: %+v", report.Checks)
	}
	warnings := report.Warnings()
	if len(warnings) != 1 {
		t.Fatalf("expected one warning, got %v", warnings)
	}
}

func TestUnreachableDaemonBlocks(t *testing.T) {
	c := newTestChecker(func(c *Checker) {
		c.runtime = pingFn(func(context.Context) error { return errors.New("connection refused") })
	})
	report := c.Check(context.Background(), envreg.Environment{Name: "dev", Root: "/src"}, nil, Quick)
	if report.OverallPass() {
		t.Fatalf("expected unreachable daemon to fail the report")
	}
}

func TestTargetOnProductionDomainBlocks(t *testing.T) {
	c := newTestChecker(nil)
	source := envreg.Environment{Name: "dev", Root: "/src", ProductionDomain: "example.org"}

	target := envreg.Environment{Name: "stg", Root: "/stg", SiteURL: "https://example.org"}
	report := c.Check(context.Background(), source, &target, Full)
	if report.OverallPass() {
		t.Fatalf("staging onto the production domain must block")
	}

	target.SiteURL = "https://stg.example.org"
	report = c.Check(context.Background(), source, &target, Full)
	if !report.OverallPass() {
		t.Fatalf("a distinct staging domain must pass: %+v", report.Checks)
	}
}

func TestUnreachableLiveHostBlocks(t *testing.T) {
	c := newTestChecker(func(c *Checker) {
		c.dialFn = func(context.Context, string, time.Duration) error { return errors.New("i/o timeout") }
	})
	report := c.Check(context.Background(), envreg.Environment{Name: "dev", Root: "/src", LiveHost: "live.example.org"}, nil, Full)
	if report.OverallPass() {
		t.Fatalf("expected unreachable live host to fail the report")
	}
}

type pingFn func(ctx context.Context) error

func (f pingFn) Ping(ctx context.Context) error { return f(ctx) }

type runnerFn func(ctx context.Context, cmd execx.Command) (execx.Result, error)

func (f runnerFn) Run(ctx context.Context, cmd execx.Command) (execx.Result, error) {
	return f(ctx, cmd)
}
