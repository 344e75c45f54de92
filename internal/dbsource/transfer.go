package dbsource

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rjzaar/nwp/internal/envreg"
	"github.com/rjzaar/nwp/internal/execx"
)

// CLITransfer implements Transfer with pg_dump/psql invocations through the
// shared command runner. Production exports run on the live host over ssh.
type CLITransfer struct {
	runner  execx.Runner
	timeout time.Duration
	now     func() time.Time
}

// NewCLITransfer returns the production Transfer adapter.
func NewCLITransfer(runner execx.Runner, timeout time.Duration) *CLITransfer {
	return &CLITransfer{runner: runner, timeout: timeout, now: time.Now}
}

// ExportProduction dumps the production database over ssh into the source
// environment's backup directory. The remote side pipes through its own
// shell; the compressed dump rides back on the ssh channel's stdout.
func (t *CLITransfer) ExportProduction(ctx context.Context, source envreg.Environment) (string, error) {
	if source.LiveHost == "" {
		return "", errors.New("dbsource: environment has no live host")
	}
	if source.BackupDir == "" {
		return "", errors.New("dbsource: environment has no backup directory")
	}
	path := filepath.Join(source.BackupDir, fmt.Sprintf("%s-%s.sql.gz", source.Name, t.stamp()))
	res, err := execx.NewRemote(source.LiveHost, t.runner).Run(ctx, execx.Command{
		Program: `pg_dump --no-owner --no-privileges "$PROD_DATABASE_URL" | gzip`,
		Timeout: t.timeout,
	})
	if err != nil {
		return "", fmt.Errorf("production export: %w", err)
	}
	if err := os.WriteFile(path, []byte(res.Stdout), 0o600); err != nil {
		return "", fmt.Errorf("write production export: %w", err)
	}
	return path, nil
}

// ExportTarget writes a safety backup of the target's current database next
// to the normal backups.
func (t *CLITransfer) ExportTarget(ctx context.Context, target envreg.Environment) (string, error) {
	if target.DatabaseURL == "" {
		return "", errors.New("dbsource: target has no database url")
	}
	dir := target.BackupDir
	if dir == "" {
		dir = os.TempDir()
	}
	path := filepath.Join(dir, fmt.Sprintf("%s-pre-deploy-%s.sql.gz", target.Name, t.stamp()))
	pipeline := fmt.Sprintf("pg_dump --no-owner --no-privileges %s | gzip > %s",
		shellQuote(target.DatabaseURL), shellQuote(path))
	if _, err := t.runner.Run(ctx, execx.Command{
		Program: "sh",
		Args:    []string{"-c", pipeline},
		Timeout: t.timeout,
	}); err != nil {
		return "", fmt.Errorf("target export: %w", err)
	}
	return path, nil
}

// Import replaces the target's schema and data with the backup at path.
func (t *CLITransfer) Import(ctx context.Context, target envreg.Environment, path string) error {
	if target.DatabaseURL == "" {
		return errors.New("dbsource: target has no database url")
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("%w: %s", ErrUnreadableBackup, path)
	}
	reader := "cat " + shellQuote(path)
	if strings.HasSuffix(path, ".gz") {
		reader = "gunzip -c " + shellQuote(path)
	}
	// Drop and recreate the public schema first: the apply is wholesale.
	pipeline := fmt.Sprintf(
		"psql %[1]s -v ON_ERROR_STOP=1 -c 'DROP SCHEMA public CASCADE; CREATE SCHEMA public' && %[2]s | psql %[1]s -v ON_ERROR_STOP=1",
		shellQuote(target.DatabaseURL), reader)
	if _, err := t.runner.Run(ctx, execx.Command{
		Program: "sh",
		Args:    []string{"-c", pipeline},
		Timeout: t.timeout,
	}); err != nil {
		return fmt.Errorf("%w: %v", ErrImportRejected, err)
	}
	return nil
}

// CloneDevelopment streams the development database straight into the
// target with no intermediate file.
func (t *CLITransfer) CloneDevelopment(ctx context.Context, source, target envreg.Environment) error {
	if source.DatabaseURL == "" || target.DatabaseURL == "" {
		return errors.New("dbsource: both environments need a database url")
	}
	pipeline := fmt.Sprintf(
		"psql %[2]s -v ON_ERROR_STOP=1 -c 'DROP SCHEMA public CASCADE; CREATE SCHEMA public' && pg_dump --no-owner --no-privileges %[1]s | psql %[2]s -v ON_ERROR_STOP=1",
		shellQuote(source.DatabaseURL), shellQuote(target.DatabaseURL))
	if _, err := t.runner.Run(ctx, execx.Command{
		Program: "sh",
		Args:    []string{"-c", pipeline},
		Timeout: t.timeout,
	}); err != nil {
		return fmt.Errorf("%w: %v", ErrImportRejected, err)
	}
	return nil
}

func (t *CLITransfer) stamp() string {
	return t.now().UTC().Format("20060102-150405")
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
