// Package preflight gates the pipeline. It runs a battery of independent
// readiness checks and reports them all; a failing blocking check keeps the
// orchestrator from executing any mutating step.
package preflight

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/rjzaar/nwp/internal/envreg"
	"github.com/rjzaar/nwp/internal/execx"
)

// Mode selects how much of the battery runs.
type Mode int

const (
	// Quick runs the reduced subset suitable for unattended execution.
	Quick Mode = iota
	// Full runs everything, used for interactive confirmation.
	Full
)

// CheckResult is one check's outcome. Non-blocking failures only produce
// warnings.
type CheckResult struct {
	Name     string
	Pass     bool
	Blocking bool
	Detail   string
}

// Report aggregates every check that ran.
type Report struct {
	Checks []CheckResult
}

// OverallPass is true iff no blocking check failed.
func (r Report) OverallPass() bool {
	for _, c := range r.Checks {
		if c.Blocking && !c.Pass {
			return false
		}
	}
	return true
}

// Warnings lists the failed non-blocking checks.
func (r Report) Warnings() []string {
	var out []string
	for _, c := range r.Checks {
		if !c.Blocking && !c.Pass {
			out = append(out, fmt.Sprintf("%s: %s", c.Name, c.Detail))
		}
	}
	return out
}

// Pinger is the slice of runtime control preflight needs.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Checker runs the battery. The dial and disk seams exist for tests.
type Checker struct {
	runtime        Pinger
	runner         execx.Runner
	logger         *slog.Logger
	connectTimeout time.Duration
	minDiskFree    uint64

	dialFn func(ctx context.Context, addr string, timeout time.Duration) error
	diskFn func(path string) (uint64, error)
	statFn func(path string) error
}

// New returns a Checker with production probes wired in.
func New(runtime Pinger, runner execx.Runner, logger *slog.Logger, connectTimeout time.Duration, minDiskFree uint64) *Checker {
	return &Checker{
		runtime:        runtime,
		runner:         runner,
		logger:         logger,
		connectTimeout: connectTimeout,
		minDiskFree:    minDiskFree,
		dialFn:         dialTCP,
		diskFn:         diskFree,
		statFn: func(path string) error {
			_, err := os.Stat(path)
			return err
		},
	}
}

// Check runs the battery against source (and target when non-nil). Every
// check runs to completion; checks never abort each other.
func (c *Checker) Check(ctx context.Context, source envreg.Environment, target *envreg.Environment, mode Mode) Report {
	var report Report
	add := func(res CheckResult) {
		report.Checks = append(report.Checks, res)
		if !res.Pass {
			c.logger.Warn("preflight check failed", "check", res.Name, "blocking", res.Blocking, "detail", res.Detail)
		}
	}

	add(c.checkSourceRoot(source))
	add(c.checkDaemon(ctx))
	add(c.checkDiskSpace(source))

	if mode == Full {
		if target != nil {
			add(c.checkTargetRoot(*target))
			if source.ProductionDomain != "" && target.SiteURL != "" {
				add(c.checkProductionCollision(source, *target))
			}
		}
		add(c.checkWorktree(ctx, source))
		if source.LiveHost != "" {
			add(c.checkLiveHost(ctx, source.LiveHost))
		}
	}
	return report
}

func (c *Checker) checkSourceRoot(source envreg.Environment) CheckResult {
	res := CheckResult{Name: "source-root", Blocking: true, Pass: true, Detail: source.Root}
	if err := c.statFn(source.Root); err != nil {
		res.Pass = false
		res.Detail = err.Error()
	}
	return res
}

func (c *Checker) checkTargetRoot(target envreg.Environment) CheckResult {
	// Not blocking: a missing target may be created per the creation policy.
	res := CheckResult{Name: "target-root", Blocking: false, Pass: true, Detail: target.Root}
	if err := c.statFn(target.Root); err != nil {
		res.Pass = false
		res.Detail = err.Error()
	}
	return res
}

func (c *Checker) checkDaemon(ctx context.Context) CheckResult {
	res := CheckResult{Name: "runtime-daemon", Blocking: true, Pass: true, Detail: "reachable"}
	pingCtx, cancel := context.WithTimeout(ctx, c.connectTimeout)
	defer cancel()
	if err := c.runtime.Ping(pingCtx); err != nil {
		res.Pass = false
		res.Detail = err.Error()
	}
	return res
}

func (c *Checker) checkDiskSpace(source envreg.Environment) CheckResult {
	res := CheckResult{Name: "disk-space", Blocking: true, Pass: true}
	free, err := c.diskFn(source.Root)
	if err != nil {
		res.Pass = false
		res.Detail = err.Error()
		return res
	}
	res.Detail = fmt.Sprintf("%d MiB free", free/(1024*1024))
	if free < c.minDiskFree {
		res.Pass = false
		res.Detail = fmt.Sprintf("%d MiB free, need %d MiB", free/(1024*1024), c.minDiskFree/(1024*1024))
	}
	return res
}

func (c *Checker) checkWorktree(ctx context.Context, source envreg.Environment) CheckResult {
	// Warn-only: uncommitted state is suspicious before promoting, but it is
	// the operator's call.
	res := CheckResult{Name: "clean-worktree", Blocking: false, Pass: true, Detail: "clean"}
	out, err := c.runner.Run(ctx, execx.Command{
		Program: "git",
		Args:    []string{"status", "--porcelain"},
		Dir:     source.Root,
		Timeout: c.connectTimeout,
	})
	if err != nil {
		res.Detail = "not a git worktree"
		return res
	}
	if dirty := strings.TrimSpace(out.Stdout); dirty != "" {
		res.Pass = false
		res.Detail = fmt.Sprintf("%d uncommitted paths", len(strings.Split(dirty, "\n")))
	}
	return res
}

// checkProductionCollision refuses to stage onto the production domain
// itself; a target whose site url resolves there would be overwritten live.
func (c *Checker) checkProductionCollision(source, target envreg.Environment) CheckResult {
	res := CheckResult{Name: "production-collision", Blocking: true, Pass: true, Detail: target.SiteURL}
	u, err := url.Parse(target.SiteURL)
	if err != nil {
		res.Pass = false
		res.Detail = err.Error()
		return res
	}
	if strings.EqualFold(u.Hostname(), source.ProductionDomain) {
		res.Pass = false
		res.Detail = fmt.Sprintf("target site url %s points at the production domain %s",
			target.SiteURL, source.ProductionDomain)
	}
	return res
}

func (c *Checker) checkLiveHost(ctx context.Context, host string) CheckResult {
	res := CheckResult{Name: "live-host", Blocking: true, Pass: true, Detail: host}
	if err := c.dialFn(ctx, host, c.connectTimeout); err != nil {
		res.Pass = false
		res.Detail = err.Error()
	}
	return res
}

func dialTCP(ctx context.Context, addr string, timeout time.Duration) error {
	if !strings.Contains(addr, ":") {
		addr = net.JoinHostPort(addr, "22")
	}
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	return conn.Close()
}
