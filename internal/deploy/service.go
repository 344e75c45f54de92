// Package deploy wires the preflight checker, database router, test
// selector, and collaborator adapters into the fixed staging-promotion
// pipeline and runs it.
package deploy

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/rjzaar/nwp/internal/dbsource"
	"github.com/rjzaar/nwp/internal/envreg"
	"github.com/rjzaar/nwp/internal/execx"
	"github.com/rjzaar/nwp/internal/migrate"
	"github.com/rjzaar/nwp/internal/mirror"
	"github.com/rjzaar/nwp/internal/pipeline"
	"github.com/rjzaar/nwp/internal/preflight"
	"github.com/rjzaar/nwp/internal/testsel"
	"github.com/rjzaar/nwp/pkg/config"
)

// CreationPolicy controls what happens when the target's tree is missing.
type CreationPolicy int

const (
	// CreatePrompt asks before creating the target tree.
	CreatePrompt CreationPolicy = iota
	// CreateAlways creates the target tree without asking.
	CreateAlways
	// CreateNever requires the target tree to exist.
	CreateNever
)

// Request is one deployment invocation. Immutable once built.
type Request struct {
	Source        string
	Target        string
	AutoConfirm   bool
	StartStep     int
	Resume        bool
	DBSource      string
	Tests         string
	Creation      CreationPolicy
	Sanitize      bool
	PreflightOnly bool
}

// Checker gates the pipeline.
type Checker interface {
	Check(ctx context.Context, source envreg.Environment, target *envreg.Environment, mode preflight.Mode) preflight.Report
}

// Router resolves and applies database sources.
type Router interface {
	Resolve(ctx context.Context, source envreg.Environment, spec dbsource.Spec) (dbsource.Source, error)
	Apply(ctx context.Context, src dbsource.Source, source, target envreg.Environment, sanitize bool) error
}

// TestRunner executes resolved test types inside the target.
type TestRunner interface {
	Execute(ctx context.Context, target envreg.Environment, types []testsel.Type) testsel.RunResult
}

// RuntimeController is the slice of runtime control the workflow needs.
type RuntimeController interface {
	Running(ctx context.Context, runtime string) (bool, error)
	Start(ctx context.Context, runtime string) error
}

// Service runs deployments.
type Service struct {
	registry *envreg.Registry
	settings config.Settings
	logger   *slog.Logger

	checker   Checker
	router    Router
	tests     TestRunner
	runtime   RuntimeController
	mirrorer  mirror.Mirrorer
	migrator  migrate.Migrator
	runner    execx.Runner
	locker    pipeline.Locker
	recorder  pipeline.Recorder
	confirmer Confirmer
	state     *StateStore

	probe    func(ctx context.Context, url string, timeout time.Duration) error
	newRunID func() string
	mkdirAll func(path string) error
}

// Deps carries the collaborators for New. Recorder may be nil.
type Deps struct {
	Registry  *envreg.Registry
	Settings  config.Settings
	Logger    *slog.Logger
	Checker   Checker
	Router    Router
	Tests     TestRunner
	Runtime   RuntimeController
	Mirrorer  mirror.Mirrorer
	Migrator  migrate.Migrator
	Runner    execx.Runner
	Locker    pipeline.Locker
	Recorder  pipeline.Recorder
	Confirmer Confirmer
	State     *StateStore
}

// New builds a Service from its collaborators.
func New(d Deps) *Service {
	return &Service{
		registry:  d.Registry,
		settings:  d.Settings,
		logger:    d.Logger,
		checker:   d.Checker,
		router:    d.Router,
		tests:     d.Tests,
		runtime:   d.Runtime,
		mirrorer:  d.Mirrorer,
		migrator:  d.Migrator,
		runner:    d.Runner,
		locker:    d.Locker,
		recorder:  d.Recorder,
		confirmer: d.Confirmer,
		state:     d.State,
		probe:     probeURL,
		newRunID:  uuid.NewString,
		mkdirAll:  func(path string) error { return osMkdirAll(path) },
	}
}

// Run validates req, runs the preflight gate, and executes the pipeline.
// The returned error is non-nil only for pre-execution validation problems;
// runtime outcomes live in the Result.
func (s *Service) Run(ctx context.Context, req Request) (pipeline.Result, error) {
	source, err := s.registry.Lookup(req.Source)
	if err != nil {
		return pipeline.Result{}, fmt.Errorf("%w: source environment: %v", pipeline.ErrValidation, err)
	}
	target, err := s.registry.Lookup(req.Target)
	if err != nil {
		return pipeline.Result{}, fmt.Errorf("%w: target environment: %v", pipeline.ErrValidation, err)
	}
	if req.Source == req.Target {
		return pipeline.Result{}, fmt.Errorf("%w: source and target are both %q", pipeline.ErrValidation, req.Target)
	}

	// Fail fast on bad specs: no partial deployment from a typo.
	selection, err := testsel.Resolve(req.Tests)
	if err != nil {
		return pipeline.Result{}, fmt.Errorf("%w: %v", pipeline.ErrValidation, err)
	}
	dbSpec, err := dbsource.ParseSpec(req.DBSource)
	if err != nil {
		return pipeline.Result{}, fmt.Errorf("%w: %v", pipeline.ErrValidation, err)
	}

	runID := s.newRunID()
	log := s.logger.With("run_id", runID, "source", source.Name, "target", target.Name)

	if req.PreflightOnly {
		return s.preflightOnly(ctx, runID, source, target, log), nil
	}

	startStep := req.StartStep
	if startStep < 1 {
		startStep = 1
	}
	if req.Resume && req.StartStep < 1 {
		if idx, ok := s.state.Load(target.Name); ok {
			startStep = idx
			log.Info("resuming from recorded failure", "start_step", startStep)
		}
	}

	var (
		resolved   *dbsource.Source
		testResult *testsel.RunResult
	)
	steps := s.buildSteps(source, target, req, selection, dbSpec, &resolved, &testResult)

	res, err := pipeline.New(s.logger, s.locker, s.recorder).Run(ctx, pipeline.Request{
		RunID:     runID,
		Target:    target.Name,
		StartStep: startStep,
		Steps:     steps,
		Gate:      s.gate(source, target, req),
	})
	if err != nil {
		return res, err
	}

	res.TestResult = testResult
	if testResult != nil && testResult.Failed > 0 {
		res.Warnings = append(res.Warnings, fmt.Sprintf(
			"%d of %d test suites failed: %v", testResult.Failed, testResult.Total, testResult.FailedTypes))
	}

	switch res.State {
	case pipeline.StateCompleted:
		if err := s.state.Clear(target.Name); err != nil {
			log.Warn("could not clear resume state", "error", err)
		}
	case pipeline.StateAborted:
		if res.FailedStep >= 1 {
			if err := s.state.Save(target.Name, res.FailedStep, runID); err != nil {
				log.Warn("could not record resume state", "error", err)
			}
		}
	}
	return res, nil
}

// gate runs preflight and, for interactive runs, asks for confirmation on a
// passing full report.
func (s *Service) gate(source, target envreg.Environment, req Request) pipeline.Gate {
	return func(ctx context.Context) (bool, []string) {
		mode := preflight.Full
		if req.AutoConfirm {
			mode = preflight.Quick
		}
		report := s.checker.Check(ctx, source, &target, mode)
		if !report.OverallPass() {
			return false, describeFailures(report)
		}
		warnings := report.Warnings()
		if !req.AutoConfirm {
			ok, err := s.confirmer.Confirm(fmt.Sprintf("Deploy %s to %s?", source.Name, target.Name))
			if err != nil {
				return false, append(warnings, fmt.Sprintf("confirmation failed: %v", err))
			}
			if !ok {
				return false, append(warnings, "deployment declined by operator")
			}
		}
		return true, warnings
	}
}

// preflightOnly runs the full battery and nothing else; no mutating
// collaborator is ever invoked.
func (s *Service) preflightOnly(ctx context.Context, runID string, source, target envreg.Environment, log *slog.Logger) pipeline.Result {
	report := s.checker.Check(ctx, source, &target, preflight.Full)
	res := pipeline.Result{RunID: runID, Warnings: report.Warnings()}
	if report.OverallPass() {
		res.State = pipeline.StateCompleted
		log.Info("preflight passed", "checks", len(report.Checks))
	} else {
		res.State = pipeline.StatePreflightRejected
		res.Warnings = append(res.Warnings, describeFailures(report)...)
		log.Error("preflight failed", "checks", len(report.Checks))
	}
	return res
}

func describeFailures(report preflight.Report) []string {
	var out []string
	for _, c := range report.Checks {
		if c.Blocking && !c.Pass {
			out = append(out, fmt.Sprintf("%s: %s", c.Name, c.Detail))
		}
	}
	return append(out, report.Warnings()...)
}

func probeURL(ctx context.Context, url string, timeout time.Duration) error {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url)
	}
	return nil
}
