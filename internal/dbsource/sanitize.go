package dbsource

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"

	"github.com/rjzaar/nwp/internal/envreg"
)

// PgSanitizer scrubs sensitive data from a freshly applied target database:
// account emails are rewritten to a local-only pattern, every password is
// reset to one throwaway bcrypt hash, and session/audit tables are emptied.
type PgSanitizer struct {
	logger  *slog.Logger
	timeout time.Duration
}

// NewPgSanitizer returns a Sanitizer for Postgres-backed targets.
func NewPgSanitizer(logger *slog.Logger, timeout time.Duration) *PgSanitizer {
	return &PgSanitizer{logger: logger, timeout: timeout}
}

// scrubbed tables that may or may not exist depending on the installed
// modules; missing ones are skipped, not errors.
var truncateTables = []string{"sessions", "watchdog", "queue"}

// Sanitize runs the scrub statements against the target database.
func (s *PgSanitizer) Sanitize(ctx context.Context, target envreg.Environment) error {
	if target.DatabaseURL == "" {
		return errors.New("dbsource: target has no database url")
	}
	runCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	pool, err := pgxpool.New(runCtx, target.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect target database: %w", err)
	}
	defer pool.Close()

	hash, err := bcrypt.GenerateFromPassword([]byte("sanitized"), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("generate placeholder hash: %w", err)
	}

	tag, err := pool.Exec(runCtx,
		`UPDATE users_field_data
		    SET mail = concat('user+', uid, '@localhost.localdomain'),
		        init = concat('user+', uid, '@localhost.localdomain'),
		        pass = $1
		  WHERE uid > 0`, string(hash))
	if err != nil {
		return fmt.Errorf("scrub user accounts: %w", err)
	}
	s.logger.Info("user accounts scrubbed", "target", target.Name, "rows", tag.RowsAffected())

	for _, table := range truncateTables {
		if _, err := pool.Exec(runCtx, fmt.Sprintf(
			`DO $$ BEGIN
			   IF to_regclass('%[1]s') IS NOT NULL THEN EXECUTE 'TRUNCATE %[1]s'; END IF;
			 END $$`, table)); err != nil {
			return fmt.Errorf("truncate %s: %w", table, err)
		}
	}
	return nil
}
