// Package dbsource routes an abstract database-source specifier to a
// concrete, usable source and applies it to a target environment.
package dbsource

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/rjzaar/nwp/internal/envreg"
)

// SpecKind is what the caller asked for.
type SpecKind int

const (
	SpecAuto SpecKind = iota
	SpecProduction
	SpecDevelopment
	SpecBackupFile
)

// Spec is a parsed database-source specifier.
type Spec struct {
	Kind SpecKind
	Path string
}

// Kind is what resolution chose.
type Kind int

const (
	// KindBackup restores from a backup file on disk.
	KindBackup Kind = iota
	// KindProduction takes a fresh export from the production source.
	KindProduction
	// KindDevelopment clones the development database directly.
	KindDevelopment
)

func (k Kind) String() string {
	switch k {
	case KindBackup:
		return "backup"
	case KindProduction:
		return "production"
	case KindDevelopment:
		return "development"
	}
	return "unknown"
}

// Source is the resolved origin used to populate the target's data store.
// Resolved at most once per deployment run.
type Source struct {
	Kind       Kind
	Location   string
	Sanitized  bool
	ResolvedAt time.Time
}

// Errors surfaced to the orchestrator; each one is a hard failure.
var (
	ErrBadSpec          = errors.New("dbsource: unrecognized specifier")
	ErrUnreadableBackup = errors.New("dbsource: backup not readable")
	ErrImportRejected   = errors.New("dbsource: import rejected")
)

// ParseSpec interprets the command-line database-source value.
func ParseSpec(raw string) (Spec, error) {
	switch strings.TrimSpace(raw) {
	case "", "auto":
		return Spec{Kind: SpecAuto}, nil
	case "production", "prod":
		return Spec{Kind: SpecProduction}, nil
	case "development", "dev":
		return Spec{Kind: SpecDevelopment}, nil
	}
	raw = strings.TrimSpace(raw)
	if strings.ContainsAny(raw, "/.") {
		return Spec{Kind: SpecBackupFile, Path: raw}, nil
	}
	return Spec{}, fmt.Errorf("%w: %q", ErrBadSpec, raw)
}

// Transfer moves database payloads between environments. Opaque to the
// router; the production adapter shells out to the usual tooling.
type Transfer interface {
	// ExportProduction produces a fresh backup of the production database
	// into the source environment's backup directory, returning its path.
	ExportProduction(ctx context.Context, source envreg.Environment) (string, error)
	// ExportTarget writes a safety backup of the target's current database.
	ExportTarget(ctx context.Context, target envreg.Environment) (string, error)
	// Import replaces the target's schema and data with the backup at path.
	Import(ctx context.Context, target envreg.Environment, path string) error
	// CloneDevelopment copies the development database straight into the
	// target, bypassing any backup file.
	CloneDevelopment(ctx context.Context, source, target envreg.Environment) error
}

// Sanitizer scrubs sensitive data from the target database after an apply.
type Sanitizer interface {
	Sanitize(ctx context.Context, target envreg.Environment) error
}

// Router resolves and applies database sources.
type Router struct {
	transfer     Transfer
	sanitizer    Sanitizer
	logger       *slog.Logger
	safetyExport bool

	now    func() time.Time
	scanFn func(dir string) ([]BackupInfo, error)
	readFn func(path string) error
}

// NewRouter builds a Router. safetyExport controls the pre-apply export of
// the target's current database.
func NewRouter(transfer Transfer, sanitizer Sanitizer, logger *slog.Logger, safetyExport bool) *Router {
	return &Router{
		transfer:     transfer,
		sanitizer:    sanitizer,
		logger:       logger,
		safetyExport: safetyExport,
		now:          time.Now,
		scanFn:       ScanBackups,
		readFn:       probeReadable,
	}
}

// Resolve turns spec into a concrete source. It performs no mutation: only
// backup-directory metadata and file readability are consulted.
func (r *Router) Resolve(_ context.Context, source envreg.Environment, spec Spec) (Source, error) {
	resolvedAt := r.now()
	switch spec.Kind {
	case SpecProduction:
		return Source{Kind: KindProduction, ResolvedAt: resolvedAt}, nil
	case SpecDevelopment:
		return Source{Kind: KindDevelopment, Location: source.DatabaseURL, ResolvedAt: resolvedAt}, nil
	case SpecBackupFile:
		if err := r.readFn(spec.Path); err != nil {
			return Source{}, fmt.Errorf("%w: %s: %v", ErrUnreadableBackup, spec.Path, err)
		}
		return Source{Kind: KindBackup, Location: spec.Path, ResolvedAt: resolvedAt}, nil
	case SpecAuto:
		return r.resolveAuto(source, resolvedAt)
	}
	return Source{}, fmt.Errorf("%w: kind %d", ErrBadSpec, spec.Kind)
}

// resolveAuto applies the ranked preference: a fresh sanitized backup, else
// a new production export, else a direct development clone. Given identical
// backup metadata the choice is identical.
func (r *Router) resolveAuto(source envreg.Environment, resolvedAt time.Time) (Source, error) {
	var backups []BackupInfo
	if source.BackupDir != "" {
		found, err := r.scanFn(source.BackupDir)
		if err != nil {
			r.logger.Warn("backup scan failed, falling through", "dir", source.BackupDir, "error", err)
		} else {
			backups = found
		}
	}
	if best, ok := FreshestSanitized(backups, r.now(), source.BackupMaxAge); ok {
		return Source{Kind: KindBackup, Location: best.Path, Sanitized: true, ResolvedAt: resolvedAt}, nil
	}
	if source.LiveHost != "" {
		return Source{Kind: KindProduction, ResolvedAt: resolvedAt}, nil
	}
	return Source{Kind: KindDevelopment, Location: source.DatabaseURL, ResolvedAt: resolvedAt}, nil
}

// Apply replaces the target's schema and data with src, then sanitizes
// unless the payload is already sanitized or the caller disabled it. The
// import itself is not transactional; a mid-apply failure can leave the
// target inconsistent and is reported as such, never silently retried.
func (r *Router) Apply(ctx context.Context, src Source, source, target envreg.Environment, sanitize bool) error {
	if r.safetyExport {
		path, err := r.transfer.ExportTarget(ctx, target)
		if err != nil {
			return fmt.Errorf("safety export of %s: %w", target.Name, err)
		}
		r.logger.Info("target database exported", "target", target.Name, "path", path)
	}

	switch src.Kind {
	case KindBackup:
		if err := r.transfer.Import(ctx, target, src.Location); err != nil {
			return fmt.Errorf("import %s into %s (target may be inconsistent): %w", src.Location, target.Name, err)
		}
	case KindProduction:
		path, err := r.transfer.ExportProduction(ctx, source)
		if err != nil {
			return fmt.Errorf("export production database: %w", err)
		}
		if err := r.transfer.Import(ctx, target, path); err != nil {
			return fmt.Errorf("import %s into %s (target may be inconsistent): %w", path, target.Name, err)
		}
	case KindDevelopment:
		if err := r.transfer.CloneDevelopment(ctx, source, target); err != nil {
			return fmt.Errorf("clone development database into %s (target may be inconsistent): %w", target.Name, err)
		}
	default:
		return fmt.Errorf("%w: kind %d", ErrBadSpec, src.Kind)
	}
	r.logger.Info("database applied", "target", target.Name, "kind", src.Kind.String())

	if !sanitize || src.Sanitized {
		return nil
	}
	if err := r.sanitizer.Sanitize(ctx, target); err != nil {
		return fmt.Errorf("sanitize %s: %w", target.Name, err)
	}
	return nil
}

func probeReadable(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	return f.Close()
}
