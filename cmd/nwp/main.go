package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/rjzaar/nwp/internal/dbsource"
	"github.com/rjzaar/nwp/internal/deploy"
	"github.com/rjzaar/nwp/internal/envreg"
	"github.com/rjzaar/nwp/internal/execx"
	"github.com/rjzaar/nwp/internal/lock"
	"github.com/rjzaar/nwp/internal/metrics"
	"github.com/rjzaar/nwp/internal/migrate"
	"github.com/rjzaar/nwp/internal/mirror"
	"github.com/rjzaar/nwp/internal/pipeline"
	"github.com/rjzaar/nwp/internal/preflight"
	"github.com/rjzaar/nwp/internal/runtimectl"
	"github.com/rjzaar/nwp/internal/testsel"
	"github.com/rjzaar/nwp/pkg/config"
	"github.com/rjzaar/nwp/pkg/logger"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

type stageOptions struct {
	source        string
	autoConfirm   bool
	startStep     int
	resume        bool
	dbSource      string
	tests         string
	createTarget  string
	sanitize      bool
	noBackup      bool
	preflightOnly bool
	jsonLogs      bool
	verbose       bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "nwp",
		Short:         "Promote a working environment to shared staging",
		Version:       fmt.Sprintf("%s (built: %s)", version, buildTime),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(newStageCmd())
	return cmd
}

func newStageCmd() *cobra.Command {
	opts := &stageOptions{}

	cmd := &cobra.Command{
		Use:   "stage <target-env>",
		Short: "Run the resumable staging-deployment pipeline",
		Long: `stage promotes the source environment to the named target through an
11-step pipeline: runtime start, code mirror, dependency install, database
apply, migrations, configuration import, upload sync, cache handling, tests,
and a final reachability check. A failed run reports the exact step to
resume from.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStage(cmd, args[0], opts)
		},
	}

	cmd.Flags().StringVar(&opts.source, "from", "dev", "Source environment to promote")
	cmd.Flags().BoolVarP(&opts.autoConfirm, "yes", "y", false, "Skip interactive confirmation (quick preflight)")
	cmd.Flags().IntVar(&opts.startStep, "start-step", 0, "Resume from this step index (1-11)")
	cmd.Flags().BoolVar(&opts.resume, "resume", false, "Resume from the last recorded failed step")
	cmd.Flags().StringVar(&opts.dbSource, "db-source", "auto",
		"Database source: auto, production, development, or a backup file path")
	cmd.Flags().StringVar(&opts.tests, "tests", "essential",
		fmt.Sprintf("Test selection: %q, a preset (%v), or a comma list of types", testsel.SkipMarker, testsel.Presets()))
	cmd.Flags().StringVar(&opts.createTarget, "create-target", "prompt",
		"When the target tree is missing: prompt, always, or never")
	cmd.Flags().BoolVar(&opts.sanitize, "sanitize", true, "Sanitize the target database after apply")
	cmd.Flags().BoolVar(&opts.noBackup, "no-backup", false, "Skip the pre-apply safety export of the target database")
	cmd.Flags().BoolVar(&opts.preflightOnly, "preflight-only", false, "Run only the readiness checks and exit")
	cmd.Flags().BoolVar(&opts.jsonLogs, "json-logs", false, "Emit JSON logs")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "Debug logging")

	return cmd
}

func runStage(cmd *cobra.Command, target string, opts *stageOptions) error {
	level := slog.LevelInfo
	if opts.verbose {
		level = slog.LevelDebug
	}
	settings := config.Load()
	log := logger.New(level, opts.jsonLogs || settings.JSONLogs)

	creation, err := parseCreationPolicy(opts.createTarget)
	if err != nil {
		return err
	}

	registry, err := envreg.Load(settings.RegistryPath)
	if err != nil {
		return err
	}

	docker, err := runtimectl.New(settings.DockerHost)
	if err != nil {
		return err
	}
	defer docker.Close()

	// Preflight-only runs never take the lock, so skip the Redis dial.
	var locker pipeline.Locker = lock.Noop{}
	if settings.LockRedisAddr != "" && !opts.preflightOnly {
		redisLocker, err := lock.NewRedis(settings.LockRedisAddr, settings.LockRedisPass, settings.LockRedisDB, settings.LockTTL)
		if err != nil {
			return err
		}
		defer redisLocker.Close()
		locker = redisLocker
	}

	var recorder pipeline.Recorder
	if settings.Pushgateway != "" {
		recorder = metrics.New(settings.Pushgateway, target, log)
	}

	var confirmer deploy.Confirmer = deploy.AutoApprove{}
	if !opts.autoConfirm && !opts.preflightOnly {
		interactive, err := deploy.NewInteractive()
		if err != nil {
			return err
		}
		confirmer = interactive
	}

	state, err := deploy.NewStateStore(settings.StateDir)
	if err != nil {
		return err
	}

	runner := execx.NewLocal()
	svc := deploy.New(deploy.Deps{
		Registry:  registry,
		Settings:  settings,
		Logger:    log,
		Checker:   preflight.New(docker, runner, log, settings.ConnectTimeout, settings.MinDiskFreeBytes),
		Router:    dbsource.NewRouter(dbsource.NewCLITransfer(runner, settings.DBTimeout), dbsource.NewPgSanitizer(log, settings.DBTimeout), log, !opts.noBackup),
		Tests:     testsel.NewExecutor(runner, log, settings.TestTimeout),
		Runtime:   docker,
		Mirrorer:  mirror.NewRsync(runner, settings.SyncTimeout),
		Migrator:  migrate.New(log, settings.DBTimeout),
		Runner:    runner,
		Locker:    locker,
		Recorder:  recorder,
		Confirmer: confirmer,
		State:     state,
	})

	res, err := svc.Run(cmd.Context(), deploy.Request{
		Source:        opts.source,
		Target:        target,
		AutoConfirm:   opts.autoConfirm,
		StartStep:     opts.startStep,
		Resume:        opts.resume,
		DBSource:      opts.dbSource,
		Tests:         opts.tests,
		Creation:      creation,
		Sanitize:      opts.sanitize,
		PreflightOnly: opts.preflightOnly,
	})
	if err != nil {
		return err
	}
	return report(cmd, target, res, opts.preflightOnly)
}

// report prints the human summary and maps the terminal state to the exit
// code: only a completed pipeline exits zero, and test failures alone never
// change that.
func report(cmd *cobra.Command, target string, res pipeline.Result, preflightOnly bool) error {
	out := cmd.OutOrStdout()
	for _, w := range res.Warnings {
		fmt.Fprintf(out, "warning: %s\n", w)
	}
	if res.TestResult != nil {
		fmt.Fprintf(out, "tests: %d run, %d passed, %d failed\n",
			res.TestResult.Total, res.TestResult.Passed, res.TestResult.Failed)
	}

	switch res.State {
	case pipeline.StateCompleted:
		switch {
		case preflightOnly:
			fmt.Fprintf(out, "preflight checks passed for %s\n", target)
		case res.Clean():
			fmt.Fprintf(out, "deployment of %s completed\n", target)
		default:
			fmt.Fprintf(out, "deployment of %s completed with warnings\n", target)
		}
		return nil
	case pipeline.StatePreflightRejected:
		if preflightOnly {
			return fmt.Errorf("preflight checks failed for %s", target)
		}
		return fmt.Errorf("preflight rejected deployment of %s", target)
	default:
		if res.Failure != nil {
			fmt.Fprintf(out, "failed: %v\n", res.Failure)
		}
		return fmt.Errorf("deployment aborted at step %d; resume with: nwp stage %s --start-step %d",
			res.FailedStep, target, res.FailedStep)
	}
}

func parseCreationPolicy(raw string) (deploy.CreationPolicy, error) {
	switch raw {
	case "prompt":
		return deploy.CreatePrompt, nil
	case "always":
		return deploy.CreateAlways, nil
	case "never":
		return deploy.CreateNever, nil
	}
	return 0, fmt.Errorf("invalid --create-target %q (want prompt, always, or never)", raw)
}
