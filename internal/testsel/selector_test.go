package testsel

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"reflect"
	"testing"
	"time"

	"github.com/rjzaar/nwp/internal/envreg"
	"github.com/rjzaar/nwp/internal/execx"
)

func TestResolveSkipMarker(t *testing.T) {
	sel, err := Resolve("skip")
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if !sel.Skip {
		t.Fatalf("expected skip selection")
	}
	if len(sel.Types) != 0 {
		t.Fatalf("skip must resolve zero types, got %v", sel.Types)
	}
}

func TestResolvePresets(t *testing.T) {
	sel, err := Resolve("essential")
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if !sel.IsPreset {
		t.Fatalf("expected preset selection")
	}
	want := []Type{TypeUnit, TypeStaticAnalysis, TypeStyle, TypeLint}
	if !reflect.DeepEqual(sel.Types, want) {
		t.Fatalf("essential = %v, want %v", sel.Types, want)
	}

	full, err := Resolve("full")
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if len(full.Types) != len(Registry) {
		t.Fatalf("full must cover the whole registry, got %v", full.Types)
	}
}

func TestResolveCommaListDeduplicatesAndOrders(t *testing.T) {
	sel, err := Resolve("lint, unit,lint")
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	want := []Type{TypeUnit, TypeLint}
	if !reflect.DeepEqual(sel.Types, want) {
		t.Fatalf("got %v, want registry order %v", sel.Types, want)
	}
}

func TestValidateRejectsUnknownTokens(t *testing.T) {
	for _, spec := range []string{"unit,regression", "smoke", "", "unit;lint"} {
		if err := Validate(spec); !errors.Is(err, ErrBadSpec) {
			t.Fatalf("Validate(%q) = %v, want ErrBadSpec", spec, err)
		}
	}
}

func TestValidateAcceptsValidSpecs(t *testing.T) {
	for _, spec := range []string{"skip", "quick", "essential", "full", "unit", "unit,behavioral,security"} {
		if err := Validate(spec); err != nil {
			t.Fatalf("Validate(%q) = %v, want nil", spec, err)
		}
	}
}

func TestExecuteAggregatesWithoutFailing(t *testing.T) {
	// Half the essential set passes, half fails.
	runner := runnerFn(func(_ context.Context, cmd execx.Command) (execx.Result, error) {
		switch cmd.Program {
		case "vendor/bin/phpunit", "vendor/bin/phpstan":
			return execx.Result{}, nil
		default:
			return execx.Result{ExitCode: 1}, errors.New("suite failed")
		}
	})
	e := NewExecutor(runner, slog.New(slog.NewTextHandler(io.Discard, nil)), time.Minute)

	sel, err := Resolve("essential")
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	res := e.Execute(context.Background(), envreg.Environment{Root: "/srv/stg"}, sel.Types)

	if res.Total != 4 || res.Passed != 2 || res.Failed != 2 {
		t.Fatalf("unexpected aggregate %+v", res)
	}
	if !reflect.DeepEqual(res.FailedTypes, []Type{TypeStyle, TypeLint}) {
		t.Fatalf("unexpected failed types %v", res.FailedTypes)
	}
}

func TestExecuteRunsInTargetRoot(t *testing.T) {
	var dirs []string
	runner := runnerFn(func(_ context.Context, cmd execx.Command) (execx.Result, error) {
		dirs = append(dirs, cmd.Dir)
		return execx.Result{}, nil
	})
	e := NewExecutor(runner, slog.New(slog.NewTextHandler(io.Discard, nil)), time.Minute)

	e.Execute(context.Background(), envreg.Environment{Root: "/srv/stg"}, []Type{TypeUnit, TypeStyle})
	for _, dir := range dirs {
		if dir != "/srv/stg" {
			t.Fatalf("suite must run in the target root, got %q", dir)
		}
	}
}

type runnerFn func(ctx context.Context, cmd execx.Command) (execx.Result, error)

func (f runnerFn) Run(ctx context.Context, cmd execx.Command) (execx.Result, error) {
	return f(ctx, cmd)
}
