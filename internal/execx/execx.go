// Package execx runs external tooling for the pipeline. Every invocation is
// context-bound with an explicit timeout; exceeding it is an error, never a
// hang.
package execx

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// ErrTimeout indicates the command was killed because its deadline passed.
var ErrTimeout = errors.New("execx: command timed out")

// Command describes one external invocation.
type Command struct {
	Program string
	Args    []string
	Dir     string
	Env     map[string]string
	Stdin   string
	Timeout time.Duration
}

// Result carries the captured output of a finished command.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runner executes external commands. The pipeline's collaborator adapters
// all go through this seam so tests can substitute a fake.
type Runner interface {
	Run(ctx context.Context, cmd Command) (Result, error)
}

// Local runs commands on the local machine.
type Local struct{}

// NewLocal returns a Runner backed by os/exec.
func NewLocal() *Local {
	return &Local{}
}

// Run executes cmd, capturing stdout and stderr separately.
func (l *Local) Run(ctx context.Context, cmd Command) (Result, error) {
	if cmd.Program == "" {
		return Result{}, errors.New("execx: empty program")
	}
	runCtx := ctx
	if cmd.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, cmd.Timeout)
		defer cancel()
	}

	c := exec.CommandContext(runCtx, cmd.Program, cmd.Args...)
	c.Dir = cmd.Dir
	// Never let a subcommand block on an interactive credential prompt.
	c.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	for k, v := range cmd.Env {
		c.Env = append(c.Env, k+"="+v)
	}
	if cmd.Stdin != "" {
		c.Stdin = strings.NewReader(cmd.Stdin)
	}

	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	err := c.Run()
	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if err == nil {
		return res, nil
	}
	if runCtx.Err() == context.DeadlineExceeded {
		return res, fmt.Errorf("%w: %s after %s", ErrTimeout, cmd.Program, cmd.Timeout)
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return res, fmt.Errorf("execx: %s exited %d: %s", cmd.Program, res.ExitCode, firstLine(res.Stderr))
	}
	return res, fmt.Errorf("execx: run %s: %w", cmd.Program, err)
}

// Remote runs commands on a remote host over ssh. The host's connection
// details ride on the operator's ssh configuration.
type Remote struct {
	host   string
	runner Runner
}

// NewRemote wraps runner so that commands execute on host.
func NewRemote(host string, runner Runner) *Remote {
	return &Remote{host: host, runner: runner}
}

// Run executes cmd on the remote host.
func (r *Remote) Run(ctx context.Context, cmd Command) (Result, error) {
	if r.host == "" {
		return Result{}, errors.New("execx: remote host not configured")
	}
	args := []string{"-o", "BatchMode=yes", r.host, "--", cmd.Program}
	args = append(args, cmd.Args...)
	return r.runner.Run(ctx, Command{
		Program: "ssh",
		Args:    args,
		Stdin:   cmd.Stdin,
		Timeout: cmd.Timeout,
	})
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
