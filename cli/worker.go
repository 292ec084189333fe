package cli

import (
	"errors"

	"github.com/perfgo/apireport/config"
	"github.com/perfgo/apireport/host/gotest"
	"github.com/perfgo/apireport/model"
	"github.com/perfgo/apireport/session"
	"github.com/urfave/cli/v2"
)

// worker runs its share of packages and writes the hand-off to stdout. Test
// output goes to stderr.
func (a *App) worker(ctx *cli.Context) error {
	cfg, err := config.FromContext(ctx)
	if err != nil {
		return usageError(err)
	}

	role := session.ResolveRole(a.getenv)
	if role.IsCoordinator() {
		return usageError(errors.New("worker must be spawned by run"))
	}
	a.logger = a.logger.With().Str("worker", role.WorkerID).Logger()

	packages, testArgs := splitTestArgs(ctx.Args().Slice())
	opts := gotest.Options{
		Packages: packages,
		Args:     testArgs,
		FailFast: ctx.Bool("failfast"),
	}

	r := a.newReporting(cfg, role, nil)
	if err := r.hooks.SessionStart(ctx.Context); err != nil {
		return reportingError("failed to start the worker session: %v", err)
	}

	d := gotest.NewDriver(a.logger, r.hooks, a.stderr)
	res, runErr := a.goTest(ctx.Context, a.logger, opts, d, a.stderr)

	// The coordinator waits for a hand-off even when nothing was reported.
	var handoffErr error
	if r.plugin != nil {
		handoffErr = r.hooks.SessionFinish(ctx.Context, a.stdout)
	} else {
		handoffErr = session.WriteHandoff(a.stdout, model.WorkerOutput{
			SessionID: role.SessionID,
			WorkerID:  role.WorkerID,
		})
	}
	if handoffErr != nil {
		return reportingError("failed to hand off to the coordinator: %v", handoffErr)
	}

	if runErr != nil {
		return reportingError("%v", runErr)
	}
	return result(res.HasFailures(), res.HookErrors)
}
