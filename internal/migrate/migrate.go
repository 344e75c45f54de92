// Package migrate applies schema migrations to a target environment's
// database as one pipeline step.
package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/rjzaar/nwp/internal/envreg"
)

// Migrator brings a target database schema up to date.
type Migrator interface {
	Ensure(ctx context.Context, target envreg.Environment) error
}

// Runner wraps goose over the pgx stdlib driver.
type Runner struct {
	logger  *slog.Logger
	timeout time.Duration
}

// New returns a migration runner.
func New(logger *slog.Logger, timeout time.Duration) *Runner {
	return &Runner{logger: logger, timeout: timeout}
}

// Ensure applies pending migrations from the target's migrations directory.
// A target with no migrations directory configured is a no-op, not an error.
func (r *Runner) Ensure(ctx context.Context, target envreg.Environment) error {
	if target.MigrationsDir == "" {
		r.logger.Info("no migrations directory configured, skipping", "target", target.Name)
		return nil
	}
	if target.DatabaseURL == "" {
		return errors.New("migrate: target has no database url")
	}
	if _, err := os.Stat(target.MigrationsDir); err != nil {
		return fmt.Errorf("locate migrations dir: %w", err)
	}

	db, err := sql.Open("pgx", target.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open target database: %w", err)
	}
	defer db.Close()

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("configure goose: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	r.logger.Info("applying migrations", "target", target.Name, "dir", target.MigrationsDir)
	if err := goose.UpContext(runCtx, db, target.MigrationsDir); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	r.logger.Info("migrations applied", "target", target.Name)
	return nil
}
