package dbsource

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/rjzaar/nwp/internal/envreg"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRouter(transfer *fakeTransfer, sanitizer *fakeSanitizer, mutate func(*Router)) *Router {
	r := NewRouter(transfer, sanitizer, discardLogger(), false)
	r.readFn = func(string) error { return nil }
	r.scanFn = func(string) ([]BackupInfo, error) { return nil, nil }
	if mutate != nil {
		mutate(r)
	}
	return r
}

func TestParseSpec(t *testing.T) {
	cases := []struct {
		raw  string
		kind SpecKind
	}{
		{"auto", SpecAuto},
		{"", SpecAuto},
		{"production", SpecProduction},
		{"prod", SpecProduction},
		{"development", SpecDevelopment},
		{"dev", SpecDevelopment},
		{"/backups/site.sql.gz", SpecBackupFile},
		{"dump.sql", SpecBackupFile},
	}
	for _, tc := range cases {
		spec, err := ParseSpec(tc.raw)
		if err != nil {
			t.Fatalf("ParseSpec(%q) returned error: %v", tc.raw, err)
		}
		if spec.Kind != tc.kind {
			t.Fatalf("ParseSpec(%q) kind = %d, want %d", tc.raw, spec.Kind, tc.kind)
		}
	}
}

func TestParseSpecRejectsGarbage(t *testing.T) {
	if _, err := ParseSpec("banana"); !errors.Is(err, ErrBadSpec) {
		t.Fatalf("expected ErrBadSpec, got %v", err)
	}
}

func TestResolveExplicitPathVerifiesReadability(t *testing.T) {
	r := newTestRouter(&fakeTransfer{}, &fakeSanitizer{}, func(r *Router) {
		r.readFn = func(string) error { return errors.New("permission denied") }
	})
	_, err := r.Resolve(context.Background(), envreg.Environment{}, Spec{Kind: SpecBackupFile, Path: "/missing/file.sql"})
	if !errors.Is(err, ErrUnreadableBackup) {
		t.Fatalf("expected ErrUnreadableBackup, got %v", err)
	}
}

func TestResolveAutoPrefersFreshSanitizedBackup(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	backups := []BackupInfo{
		{Path: "/b/dev-20260801-060000.sanitized.sql.gz", ModTime: now.Add(-6 * time.Hour), Sanitized: true},
		{Path: "/b/dev-20260801-100000.sql.gz", ModTime: now.Add(-2 * time.Hour)},
	}
	r := newTestRouter(&fakeTransfer{}, &fakeSanitizer{}, func(r *Router) {
		r.now = func() time.Time { return now }
		r.scanFn = func(string) ([]BackupInfo, error) { return backups, nil }
	})
	env := envreg.Environment{Name: "dev", BackupDir: "/b", BackupMaxAge: 24 * time.Hour, LiveHost: "live.example.org"}

	src, err := r.Resolve(context.Background(), env, Spec{Kind: SpecAuto})
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if src.Kind != KindBackup {
		t.Fatalf("expected backup kind, got %s", src.Kind)
	}
	if !src.Sanitized {
		t.Fatalf("expected sanitized source")
	}
	if src.Location != "/b/dev-20260801-060000.sanitized.sql.gz" {
		t.Fatalf("unexpected location %q", src.Location)
	}
}

func TestResolveAutoFallsBackToProductionThenDevelopment(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	stale := []BackupInfo{
		{Path: "/b/dev-20260601-060000.sanitized.sql.gz", ModTime: now.Add(-60 * 24 * time.Hour), Sanitized: true},
	}
	r := newTestRouter(&fakeTransfer{}, &fakeSanitizer{}, func(r *Router) {
		r.now = func() time.Time { return now }
		r.scanFn = func(string) ([]BackupInfo, error) { return stale, nil }
	})

	withLive := envreg.Environment{Name: "dev", BackupDir: "/b", BackupMaxAge: 24 * time.Hour, LiveHost: "live.example.org"}
	src, err := r.Resolve(context.Background(), withLive, Spec{Kind: SpecAuto})
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if src.Kind != KindProduction {
		t.Fatalf("expected production fallback, got %s", src.Kind)
	}

	noLive := envreg.Environment{Name: "dev", BackupDir: "/b", BackupMaxAge: 24 * time.Hour, DatabaseURL: "postgres://dev"}
	src, err = r.Resolve(context.Background(), noLive, Spec{Kind: SpecAuto})
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if src.Kind != KindDevelopment {
		t.Fatalf("expected development fallback, got %s", src.Kind)
	}
}

func TestResolveAutoIsDeterministic(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	// Two sanitized backups with the identical timestamp: the tie must break
	// the same way every time.
	backups := []BackupInfo{
		{Path: "/b/dev-a.sanitized.sql.gz", ModTime: now.Add(-time.Hour), Sanitized: true},
		{Path: "/b/dev-b.sanitized.sql.gz", ModTime: now.Add(-time.Hour), Sanitized: true},
	}
	env := envreg.Environment{Name: "dev", BackupDir: "/b", BackupMaxAge: 24 * time.Hour}

	var first Source
	for i := 0; i < 10; i++ {
		r := newTestRouter(&fakeTransfer{}, &fakeSanitizer{}, func(r *Router) {
			r.now = func() time.Time { return now }
			r.scanFn = func(string) ([]BackupInfo, error) { return backups, nil }
		})
		src, err := r.Resolve(context.Background(), env, Spec{Kind: SpecAuto})
		if err != nil {
			t.Fatalf("Resolve returned error: %v", err)
		}
		if i == 0 {
			first = src
			continue
		}
		if src.Kind != first.Kind || src.Location != first.Location {
			t.Fatalf("resolution not deterministic: %+v vs %+v", src, first)
		}
	}
	if first.Location != "/b/dev-b.sanitized.sql.gz" {
		t.Fatalf("tie should break to lexicographically greater path, got %q", first.Location)
	}
}

func TestApplyImportsBackupAndSanitizes(t *testing.T) {
	transfer := &fakeTransfer{}
	sanitizer := &fakeSanitizer{}
	r := newTestRouter(transfer, sanitizer, nil)

	src := Source{Kind: KindBackup, Location: "/b/dump.sql.gz"}
	err := r.Apply(context.Background(), src, envreg.Environment{Name: "dev"}, envreg.Environment{Name: "stg"}, true)
	if err != nil {
		t.Fatalf("Apply returned error: %v", err)
	}
	if transfer.imports != 1 {
		t.Fatalf("expected one import, got %d", transfer.imports)
	}
	if sanitizer.calls != 1 {
		t.Fatalf("expected sanitize to run, got %d calls", sanitizer.calls)
	}
}

func TestApplySkipsSanitizeForSanitizedSource(t *testing.T) {
	transfer := &fakeTransfer{}
	sanitizer := &fakeSanitizer{}
	r := newTestRouter(transfer, sanitizer, nil)

	src := Source{Kind: KindBackup, Location: "/b/dump.sanitized.sql.gz", Sanitized: true}
	if err := r.Apply(context.Background(), src, envreg.Environment{}, envreg.Environment{Name: "stg"}, true); err != nil {
		t.Fatalf("Apply returned error: %v", err)
	}
	if sanitizer.calls != 0 {
		t.Fatalf("sanitize must be skipped for already-sanitized source, got %d calls", sanitizer.calls)
	}
}

func TestApplySkipsSanitizeWhenDisabled(t *testing.T) {
	sanitizer := &fakeSanitizer{}
	r := newTestRouter(&fakeTransfer{}, sanitizer, nil)

	src := Source{Kind: KindDevelopment}
	if err := r.Apply(context.Background(), src, envreg.Environment{}, envreg.Environment{Name: "stg"}, false); err != nil {
		t.Fatalf("Apply returned error: %v", err)
	}
	if sanitizer.calls != 0 {
		t.Fatalf("sanitize must be skipped when disabled, got %d calls", sanitizer.calls)
	}
}

func TestApplyProductionExportsThenImports(t *testing.T) {
	transfer := &fakeTransfer{exportPath: "/b/dev-now.sql.gz"}
	r := newTestRouter(transfer, &fakeSanitizer{}, nil)

	src := Source{Kind: KindProduction}
	if err := r.Apply(context.Background(), src, envreg.Environment{Name: "dev"}, envreg.Environment{Name: "stg"}, false); err != nil {
		t.Fatalf("Apply returned error: %v", err)
	}
	if transfer.prodExports != 1 || transfer.imports != 1 {
		t.Fatalf("expected export+import, got %d exports %d imports", transfer.prodExports, transfer.imports)
	}
	if transfer.lastImport != "/b/dev-now.sql.gz" {
		t.Fatalf("import must consume the fresh export, got %q", transfer.lastImport)
	}
}

func TestApplyRunsSafetyExportFirst(t *testing.T) {
	transfer := &fakeTransfer{}
	r := newTestRouter(transfer, &fakeSanitizer{}, func(r *Router) {
		r.safetyExport = true
	})
	src := Source{Kind: KindDevelopment}
	if err := r.Apply(context.Background(), src, envreg.Environment{}, envreg.Environment{Name: "stg"}, false); err != nil {
		t.Fatalf("Apply returned error: %v", err)
	}
	if transfer.targetExports != 1 {
		t.Fatalf("expected safety export, got %d", transfer.targetExports)
	}
}

func TestApplySafetyExportFailureIsHard(t *testing.T) {
	transfer := &fakeTransfer{targetExportErr: errors.New("disk full")}
	r := newTestRouter(transfer, &fakeSanitizer{}, func(r *Router) {
		r.safetyExport = true
	})
	err := r.Apply(context.Background(), Source{Kind: KindDevelopment}, envreg.Environment{}, envreg.Environment{Name: "stg"}, false)
	if err == nil {
		t.Fatalf("expected error when safety export fails")
	}
	if transfer.clones+transfer.imports != 0 {
		t.Fatalf("no apply may happen after a failed safety export")
	}
}

type fakeTransfer struct {
	exportPath      string
	targetExportErr error
	importErr       error

	prodExports   int
	targetExports int
	imports       int
	clones        int
	lastImport    string
}

func (f *fakeTransfer) ExportProduction(context.Context, envreg.Environment) (string, error) {
	f.prodExports++
	return f.exportPath, nil
}

func (f *fakeTransfer) ExportTarget(context.Context, envreg.Environment) (string, error) {
	f.targetExports++
	if f.targetExportErr != nil {
		return "", f.targetExportErr
	}
	return "/b/pre-deploy.sql.gz", nil
}

func (f *fakeTransfer) Import(_ context.Context, _ envreg.Environment, path string) error {
	f.imports++
	f.lastImport = path
	return f.importErr
}

func (f *fakeTransfer) CloneDevelopment(context.Context, envreg.Environment, envreg.Environment) error {
	f.clones++
	return nil
}

type fakeSanitizer struct {
	calls int
	err   error
}

func (f *fakeSanitizer) Sanitize(context.Context, envreg.Environment) error {
	f.calls++
	return f.err
}
