package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/perfgo/apireport/config"
	"github.com/perfgo/apireport/host/jsonl"
	"github.com/perfgo/apireport/session"
	"github.com/urfave/cli/v2"
)

func (a *App) ingest(ctx *cli.Context) error {
	cfg, err := config.FromContext(ctx)
	if err != nil {
		return usageError(err)
	}
	if ctx.Args().Len() > 1 {
		return usageError(fmt.Errorf("ingest takes at most one file, got %d", ctx.Args().Len()))
	}

	var in io.Reader = a.stdin
	if path := ctx.Args().First(); path != "" && path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return usageError(fmt.Errorf("failed to open host events: %w", err))
		}
		defer f.Close()
		in = f
	}

	role := session.ResolveRole(a.getenv)
	if !role.IsCoordinator() {
		return usageError(fmt.Errorf("ingest cannot be started from worker %s", role.WorkerID))
	}

	r := a.newReporting(cfg, role, nil)
	if err := r.hooks.SessionStart(ctx.Context); err != nil {
		return reportingError("failed to start the test run: %v", err)
	}

	d := jsonl.NewDriver(a.logger, r.hooks)
	res, consumeErr := d.Consume(ctx.Context, in)
	a.logger.Debug().Int("events", res.Events).Int("tests", res.Tests).Msg("Host events consumed")

	hookErrors := res.HookErrors + a.finishSession(ctx.Context, r, ctx.String("ledger-out"))
	if consumeErr != nil {
		return reportingError("failed to read host events: %v", consumeErr)
	}
	return result(res.HasFailures(), hookErrors)
}
