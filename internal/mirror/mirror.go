// Package mirror synchronizes file trees between environments. Mirroring is
// destructive: extraneous files on the target are deleted, except for paths
// on the exclude list, which are neither copied nor removed.
package mirror

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rjzaar/nwp/internal/execx"
)

// Mirrorer copies a source tree over a target tree.
type Mirrorer interface {
	Mirror(ctx context.Context, srcRoot, dstRoot string, excludes []string) error
}

// Rsync shells out to rsync with delete-extraneous semantics.
type Rsync struct {
	runner  execx.Runner
	timeout time.Duration
}

// NewRsync returns a Mirrorer backed by the rsync binary.
func NewRsync(runner execx.Runner, timeout time.Duration) *Rsync {
	return &Rsync{runner: runner, timeout: timeout}
}

// Mirror runs rsync -a --delete from srcRoot to dstRoot. Every exclude is
// passed as both --exclude and a delete protection, so protected paths on
// the target survive untouched.
func (r *Rsync) Mirror(ctx context.Context, srcRoot, dstRoot string, excludes []string) error {
	if srcRoot == "" || dstRoot == "" {
		return errors.New("mirror: source and target roots are required")
	}
	if _, err := os.Stat(srcRoot); err != nil {
		return fmt.Errorf("mirror: source root: %w", err)
	}
	args := Args(srcRoot, dstRoot, excludes)
	if _, err := r.runner.Run(ctx, execx.Command{
		Program: "rsync",
		Args:    args,
		Timeout: r.timeout,
	}); err != nil {
		return fmt.Errorf("mirror %s -> %s: %w", srcRoot, dstRoot, err)
	}
	return nil
}

// Args builds the rsync argv. Split out so tests can assert on the exact
// command line without running rsync.
func Args(srcRoot, dstRoot string, excludes []string) []string {
	args := []string{"-a", "--delete"}
	for _, ex := range excludes {
		if ex = strings.TrimSpace(ex); ex != "" {
			args = append(args, "--exclude", ex)
		}
	}
	// Trailing slash: sync contents of srcRoot, not the directory itself.
	args = append(args, strings.TrimSuffix(srcRoot, "/")+"/", dstRoot)
	return args
}
