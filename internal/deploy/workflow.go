package deploy

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/rjzaar/nwp/internal/dbsource"
	"github.com/rjzaar/nwp/internal/envreg"
	"github.com/rjzaar/nwp/internal/execx"
	"github.com/rjzaar/nwp/internal/pipeline"
	"github.com/rjzaar/nwp/internal/testsel"
)

// StepCount is the length of the reference workflow.
const StepCount = 11

// buildSteps assembles the fixed 11-step workflow. The resolved database
// source and the test result are written through the out-parameters so the
// service can fold them into the final Result.
func (s *Service) buildSteps(
	source, target envreg.Environment,
	req Request,
	selection testsel.Selection,
	dbSpec dbsource.Spec,
	resolved **dbsource.Source,
	testResult **testsel.RunResult,
) []pipeline.Step {
	return []pipeline.Step{
		{
			Index: 1, Name: "start-runtime", Policy: pipeline.Hard,
			Action: func(ctx context.Context) error {
				return s.startRuntime(ctx, target, req)
			},
		},
		{
			Index: 2, Name: "sync-code", Policy: pipeline.Hard,
			Action: func(ctx context.Context) error {
				return s.mirrorer.Mirror(ctx, source.Root, target.Root, protectedPaths(source, target))
			},
		},
		{
			Index: 3, Name: "install-deps", Policy: pipeline.Hard,
			Action: func(ctx context.Context) error {
				_, err := s.runner.Run(ctx, execx.Command{
					Program: "composer",
					Args:    []string{"install", "--no-interaction", "--optimize-autoloader"},
					Dir:     target.Root,
					Timeout: s.settings.CommandTimeout,
				})
				return err
			},
		},
		{
			Index: 4, Name: "apply-database", Policy: pipeline.Hard,
			Action: func(ctx context.Context) error {
				// Exactly one source is resolved per run, even on retries of
				// this step.
				if *resolved == nil {
					src, err := s.router.Resolve(ctx, source, dbSpec)
					if err != nil {
						return err
					}
					*resolved = &src
				}
				return s.router.Apply(ctx, **resolved, source, target, req.Sanitize)
			},
		},
		{
			Index: 5, Name: "run-migrations", Policy: pipeline.Hard,
			Action: func(ctx context.Context) error {
				return s.migrator.Ensure(ctx, target)
			},
		},
		{
			// Configuration items carry inter-item ordering constraints; a
			// second or third pass usually lands what the first could not.
			Index: 6, Name: "import-config", Policy: pipeline.Hard, RetryBudget: 3,
			Action: func(ctx context.Context) error {
				_, err := s.runner.Run(ctx, execx.Command{
					Program: "vendor/bin/drush",
					Args:    []string{"config:import", "-y"},
					Dir:     target.Root,
					Timeout: s.settings.CommandTimeout,
				})
				return err
			},
		},
		{
			Index: 7, Name: "sync-uploads", Policy: pipeline.Soft,
			Action: func(ctx context.Context) error {
				src := uploadsDir(source)
				if _, err := os.Stat(src); err != nil {
					return fmt.Errorf("uploads dir: %w", err)
				}
				return s.mirrorer.Mirror(ctx, src, uploadsDir(target), nil)
			},
		},
		{
			Index: 8, Name: "clear-cache", Policy: pipeline.Soft,
			Action: func(ctx context.Context) error {
				_, err := s.runner.Run(ctx, execx.Command{
					Program: "vendor/bin/drush",
					Args:    []string{"cache:rebuild", "-y"},
					Dir:     target.Root,
					Timeout: s.settings.CommandTimeout,
				})
				return err
			},
		},
		{
			Index: 9, Name: "warm-cache", Policy: pipeline.Soft,
			Action: func(ctx context.Context) error {
				if target.SiteURL == "" {
					return errors.New("no site_url configured")
				}
				return s.probe(ctx, target.SiteURL, s.settings.ConnectTimeout)
			},
		},
		{
			Index: 10, Name: "run-tests", Policy: pipeline.Soft,
			Action: func(ctx context.Context) error {
				if selection.Skip {
					return nil
				}
				res := s.tests.Execute(ctx, target, selection.Types)
				*testResult = &res
				return nil
			},
		},
		{
			Index: 11, Name: "verify-target", Policy: pipeline.Hard,
			Action: func(ctx context.Context) error {
				if target.SiteURL == "" {
					return errors.New("no site_url configured")
				}
				return s.probe(ctx, target.SiteURL, s.settings.ConnectTimeout)
			},
		},
	}
}

// startRuntime brings the target's runtime up, creating the target tree
// first when the creation policy allows it.
func (s *Service) startRuntime(ctx context.Context, target envreg.Environment, req Request) error {
	if _, err := os.Stat(target.Root); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("target root: %w", err)
		}
		switch req.Creation {
		case CreateNever:
			return fmt.Errorf("target root %s does not exist", target.Root)
		case CreatePrompt:
			ok, err := s.confirmer.Confirm(fmt.Sprintf("Target %s has no tree at %s yet, create it?", target.Name, target.Root))
			if err != nil {
				return err
			}
			if !ok {
				return errors.New("target creation declined")
			}
		}
		if err := s.mkdirAll(target.Root); err != nil {
			return fmt.Errorf("create target root: %w", err)
		}
	}

	running, err := s.runtime.Running(ctx, target.Runtime)
	if err != nil {
		return err
	}
	if running {
		return nil
	}
	return s.runtime.Start(ctx, target.Runtime)
}

// defaultProtected lists the target-local paths the code mirror must always
// leave alone, whether or not the registry entry names them: credentials,
// local settings overrides, and the uploaded-content store.
func defaultProtected(env envreg.Environment) []string {
	docroot := env.Docroot
	if docroot == "" {
		docroot = "web"
	}
	return []string{
		".env",
		path.Join(docroot, "sites", "default", "settings.local.php"),
		path.Join(docroot, "sites", "default", "files"),
		path.Join(docroot, "sites", "default", "private"),
	}
}

// protectedPaths merges the built-in protected set with both environments'
// exclude lists; target-local settings, credentials, and content stores must
// never be overwritten or deleted by the code mirror.
func protectedPaths(source, target envreg.Environment) []string {
	seen := make(map[string]bool)
	var out []string
	for _, list := range [][]string{defaultProtected(target), target.Excludes, source.Excludes} {
		for _, p := range list {
			if p != "" && !seen[p] {
				seen[p] = true
				out = append(out, p)
			}
		}
	}
	return out
}

func uploadsDir(env envreg.Environment) string {
	docroot := env.Docroot
	if docroot == "" {
		docroot = "web"
	}
	return filepath.Join(env.Root, docroot, "sites", "default", "files")
}

func osMkdirAll(path string) error {
	return os.MkdirAll(path, 0o755)
}
