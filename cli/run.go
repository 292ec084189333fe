package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"

	"al.essio.dev/pkg/shellescape"
	"github.com/perfgo/apireport/config"
	"github.com/perfgo/apireport/exitcodes"
	"github.com/perfgo/apireport/host"
	"github.com/perfgo/apireport/host/gotest"
	"github.com/perfgo/apireport/model"
	"github.com/perfgo/apireport/session"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
)

func (a *App) run(ctx *cli.Context) error {
	cfg, err := config.FromContext(ctx)
	if err != nil {
		return usageError(err)
	}

	role := session.ResolveRole(a.getenv)
	if !role.IsCoordinator() {
		return usageError(fmt.Errorf("run cannot be started from worker %s", role.WorkerID))
	}

	workers := ctx.Int("workers")
	if workers < 0 {
		return usageError(fmt.Errorf("--workers must not be negative, got %d", workers))
	}

	packages, testArgs := splitTestArgs(ctx.Args().Slice())
	a.logger.Debug().Strs("packages", packages).Strs("test_args", testArgs).Msg("Parsed test arguments")

	if commit, branch, err := a.getGitInfo(ctx.Context); err == nil {
		a.logger.Info().Str("commit", commit).Str("branch", branch).Str("session", role.SessionID).Msg("Starting test session")
	} else {
		a.logger.Debug().Err(err).Msg("No git revision available")
		a.logger.Info().Str("session", role.SessionID).Msg("Starting test session")
	}

	reg := newRegistry()
	if addr := ctx.String("metrics-addr"); addr != "" {
		stop := a.serveMetrics(addr, reg)
		defer stop()
	}

	r := a.newReporting(cfg, role, reg)
	if err := r.hooks.SessionStart(ctx.Context); err != nil {
		return reportingError("failed to start the test run: %v", err)
	}

	opts := gotest.Options{
		Packages: packages,
		Args:     testArgs,
		FailFast: ctx.Bool("failfast"),
	}

	var res sessionResult
	var runErr error
	if workers == 0 {
		a.logger.Info().Str("command", gotest.BuildTestCommand(opts)).Msg("Running tests in-process")
		d := gotest.NewDriver(a.logger, r.hooks, a.stdout)
		gres, err := a.goTest(ctx.Context, a.logger, opts, d, a.stderr)
		res = sessionResult{failures: gres.HasFailures(), hookErrors: gres.HookErrors}
		runErr = err
	} else {
		res, runErr = a.runWorkers(ctx.Context, cfg, role, r.hooks, opts, workers, ctx.Bool("verbose"))
	}

	res.hookErrors += a.finishSession(ctx.Context, r, ctx.String("ledger-out"))
	if runErr != nil {
		return reportingError("%v", runErr)
	}
	return result(res.failures, res.hookErrors)
}

type sessionResult struct {
	failures   bool
	hookErrors int
}

// runWorkers spreads the packages over n worker processes and merges their
// hand-offs. Packages that fail to load are reported as collection failures
// and not scheduled.
func (a *App) runWorkers(ctx context.Context, cfg config.Config, role session.Role, hooks host.Hooks, opts gotest.Options, n int, verbose bool) (sessionResult, error) {
	var res sessionResult

	pkgs, err := a.listPackages(ctx, opts.Packages...)
	if err != nil {
		return res, err
	}

	var runnable []string
	for _, pkg := range pkgs {
		if pkg.Error == nil {
			runnable = append(runnable, pkg.ImportPath)
			continue
		}
		res.failures = true
		a.logger.Warn().Str("package", pkg.ImportPath).Str("error", pkg.Error.Err).Msg("Package failed to load")
		if err := hooks.CollectFailed(ctx, pkg.ImportPath, model.OutcomeFailed); err != nil {
			res.hookErrors++
			a.logger.Error().Err(err).Str("node_id", pkg.ImportPath).Msg("Reporting hook failed")
		}
	}

	exe, err := a.executable()
	if err != nil {
		return res, fmt.Errorf("failed to locate the apireport executable: %w", err)
	}

	stderr := &lockedWriter{w: a.stderr}
	var mu sync.Mutex
	var group errgroup.Group
	for i, shard := range partition(runnable, n) {
		workerID := fmt.Sprintf("gw%d", i)
		env := append(role.WorkerEnv(workerID), cfg.Env()...)
		args := workerArgs(verbose, opts.FailFast, shard, opts.Args)

		group.Go(func() error {
			out, code, err := a.spawnWorker(ctx, exe, workerID, args, env, stderr)
			if err != nil {
				return err
			}

			mu.Lock()
			defer mu.Unlock()
			switch code {
			case exitcodes.TestFailure:
				res.failures = true
			case exitcodes.ReportingErr:
				res.hookErrors++
			}
			if err := hooks.WorkerDown(ctx, out); err != nil {
				res.hookErrors++
				a.logger.Error().Err(err).Str("worker", workerID).Msg("Failed to merge worker hand-off")
			}
			return nil
		})
	}

	err = group.Wait()
	return res, err
}

// spawnWorker runs one worker to completion and returns its hand-off and
// exit code.
func (a *App) spawnWorker(ctx context.Context, exe, workerID string, args, env []string, stderr io.Writer) (model.WorkerOutput, int, error) {
	logger := a.logger.With().Str("worker", workerID).Logger()

	cmd := exec.CommandContext(ctx, exe, args...)
	cmd.Env = append(os.Environ(), env...)
	cmd.Stderr = stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return model.WorkerOutput{}, 0, fmt.Errorf("failed to open output of worker %s: %w", workerID, err)
	}

	logger.Debug().Str("command", shellescape.QuoteCommand(append([]string{exe}, args...))).Msg("Spawning worker")
	if err := cmd.Start(); err != nil {
		return model.WorkerOutput{}, 0, fmt.Errorf("failed to start worker %s: %w", workerID, err)
	}

	out, readErr := session.ReadHandoff(stdout)
	_, _ = io.Copy(io.Discard, stdout)

	code := exitcodes.Success
	if err := cmd.Wait(); err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return out, 0, fmt.Errorf("worker %s failed: %w", workerID, err)
		}
		code = exitErr.ExitCode()
	}

	if readErr != nil {
		return out, code, fmt.Errorf("worker %s (exit code %d): %w", workerID, code, readErr)
	}
	switch code {
	case exitcodes.Success, exitcodes.TestFailure, exitcodes.ReportingErr:
	default:
		return out, code, fmt.Errorf("worker %s exited with code %d", workerID, code)
	}

	logger.Debug().Int("exit_code", code).Int("entries", len(out.Entries)).Msg("Worker finished")
	return out, code, nil
}

// lockedWriter serializes writes from concurrent workers.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
