package cli

// This file contains the session plumbing shared by the run, worker and
// ingest commands.

import (
	"context"
	"io"

	"github.com/perfgo/apireport/api"
	"github.com/perfgo/apireport/config"
	"github.com/perfgo/apireport/exitcodes"
	"github.com/perfgo/apireport/host"
	"github.com/perfgo/apireport/session"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"
)

type reporting struct {
	hooks host.Hooks
	// nil when reporting is disabled
	plugin *host.Plugin
}

func (a *App) newReporting(cfg config.Config, role session.Role, reg prometheus.Registerer) reporting {
	if !cfg.Enabled {
		a.logger.Debug().Msg("Reporting is disabled")
		return reporting{hooks: host.Nop{}}
	}

	opts := []api.Option{api.WithLogger(a.logger)}
	if reg != nil {
		opts = append(opts, api.WithMetrics(api.NewMetrics(reg)))
	}
	client := api.New(cfg.BaseURL, cfg.AuthToken, opts...)

	a.logger.Debug().Str("base_url", cfg.BaseURL).Str("role", role.String()).Msg("Reporting enabled")
	plugin := host.NewPlugin(a.logger, role, client)
	return reporting{hooks: plugin, plugin: plugin}
}

// finishSession closes the run, prints the summary and writes the ledger. It
// returns how many of these steps failed.
func (a *App) finishSession(ctx context.Context, r reporting, ledgerOut string) int {
	failed := 0
	if err := r.hooks.SessionFinish(ctx, io.Discard); err != nil {
		failed++
		a.logger.Error().Err(err).Msg("Failed to finish the session")
	}
	if err := r.hooks.TerminalSummary(a.stdout); err != nil {
		failed++
		a.logger.Error().Err(err).Msg("Failed to render the summary")
	}

	if ledgerOut == "" || r.plugin == nil {
		return failed
	}
	if err := r.plugin.Ledger().WriteFile(ledgerOut); err != nil {
		failed++
		a.logger.Error().Err(err).Str("path", ledgerOut).Msg("Failed to write the ledger")
	} else {
		a.logger.Info().Str("path", ledgerOut).Int("entries", r.plugin.Ledger().Len()).Msg("Ledger written")
	}
	return failed
}

// result turns what a session observed into the command's exit status.
// Reporting errors take precedence over test failures.
func result(failures bool, hookErrors int) error {
	if hookErrors > 0 {
		return reportingError("%d reporting calls failed", hookErrors)
	}
	if failures {
		return cli.Exit("", exitcodes.TestFailure)
	}
	return nil
}
