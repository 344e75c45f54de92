package execx

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestRunRejectsEmptyProgram(t *testing.T) {
	_, err := NewLocal().Run(context.Background(), Command{})
	if err == nil {
		t.Fatalf("expected error for empty program")
	}
}

func TestRunCapturesStdout(t *testing.T) {
	res, err := NewLocal().Run(context.Background(), Command{
		Program: "sh",
		Args:    []string{"-c", "echo out; echo err >&2"},
		Timeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if strings.TrimSpace(res.Stdout) != "out" {
		t.Fatalf("unexpected stdout %q", res.Stdout)
	}
	if strings.TrimSpace(res.Stderr) != "err" {
		t.Fatalf("unexpected stderr %q", res.Stderr)
	}
}

func TestRunReportsExitCode(t *testing.T) {
	res, err := NewLocal().Run(context.Background(), Command{
		Program: "sh",
		Args:    []string{"-c", "echo boom >&2; exit 3"},
		Timeout: 5 * time.Second,
	})
	if err == nil {
		t.Fatalf("expected error for failing command")
	}
	if res.ExitCode != 3 {
		t.Fatalf("expected exit code 3, got %d", res.ExitCode)
	}
	if !strings.Contains(err.Error(), "boom") {
		t.Fatalf("expected stderr in error, got %v", err)
	}
}

func TestRunTimesOut(t *testing.T) {
	_, err := NewLocal().Run(context.Background(), Command{
		Program: "sleep",
		Args:    []string{"5"},
		Timeout: 50 * time.Millisecond,
	})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestRemoteWrapsCommand(t *testing.T) {
	fake := &captureRunner{}
	remote := NewRemote("live.example.org", fake)

	_, err := remote.Run(context.Background(), Command{Program: "uptime", Args: []string{"-p"}})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if fake.last.Program != "ssh" {
		t.Fatalf("expected ssh, got %q", fake.last.Program)
	}
	got := strings.Join(fake.last.Args, " ")
	if !strings.Contains(got, "live.example.org -- uptime -p") {
		t.Fatalf("unexpected ssh argv %q", got)
	}
}

func TestRemoteRequiresHost(t *testing.T) {
	remote := NewRemote("", &captureRunner{})
	if _, err := remote.Run(context.Background(), Command{Program: "true"}); err == nil {
		t.Fatalf("expected error for missing host")
	}
}

type captureRunner struct {
	last Command
}

func (c *captureRunner) Run(_ context.Context, cmd Command) (Result, error) {
	c.last = cmd
	return Result{}, nil
}
