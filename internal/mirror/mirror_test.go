package mirror

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/rjzaar/nwp/internal/execx"
)

func TestArgsIncludesExcludesAndDelete(t *testing.T) {
	got := Args("/src", "/dst", []string{"web/sites/default/files", "", ".env"})
	want := []string{
		"-a", "--delete",
		"--exclude", "web/sites/default/files",
		"--exclude", ".env",
		"/src/", "/dst",
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected argv:\n got %v\nwant %v", got, want)
	}
}

func TestMirrorRequiresExistingSource(t *testing.T) {
	r := NewRsync(&fakeRunner{}, time.Minute)
	err := r.Mirror(context.Background(), "/definitely/not/here", t.TempDir(), nil)
	if err == nil {
		t.Fatalf("expected error for missing source root")
	}
}

func TestMirrorInvokesRsync(t *testing.T) {
	src := t.TempDir()
	if err := os.WriteFile(filepath.Join(src, "index.php"), []byte("<?php"), 0o644); err != nil {
		t.Fatalf("seed source: %v", err)
	}
	fake := &fakeRunner{}
	r := NewRsync(fake, time.Minute)

	if err := r.Mirror(context.Background(), src, "/dst", []string{"files"}); err != nil {
		t.Fatalf("Mirror returned error: %v", err)
	}
	if fake.last.Program != "rsync" {
		t.Fatalf("expected rsync, got %q", fake.last.Program)
	}
	if fake.last.Timeout != time.Minute {
		t.Fatalf("expected timeout to propagate, got %v", fake.last.Timeout)
	}
}

type fakeRunner struct {
	last execx.Command
}

func (f *fakeRunner) Run(_ context.Context, cmd execx.Command) (execx.Result, error) {
	f.last = cmd
	return execx.Result{}, nil
}
