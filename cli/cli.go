package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	gocmd "github.com/perfgo/apireport/cli/go"
	"github.com/perfgo/apireport/config"
	"github.com/perfgo/apireport/exitcodes"
	"github.com/perfgo/apireport/host/gotest"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
)

const AppName = "apireport"

type App struct {
	logger zerolog.Logger
	cli    *cli.App

	stdin      io.Reader
	stdout     io.Writer
	stderr     io.Writer
	getenv     func(string) string
	executable func() (string, error)

	goTest       func(ctx context.Context, logger zerolog.Logger, opts gotest.Options, d *gotest.Driver, stderr io.Writer) (gotest.Result, error)
	listPackages func(ctx context.Context, patterns ...string) ([]gocmd.Package, error)
}

func New() *App {

	// Set default log level to info
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	logger :=
		log.Output(zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.RFC3339Nano,
		})

	app := &App{
		logger:     logger,
		stdin:      os.Stdin,
		stdout:     os.Stdout,
		stderr:     os.Stderr,
		getenv:     os.Getenv,
		executable: os.Executable,

		goTest:       gotest.Run,
		listPackages: gocmd.List,
	}
	app.cli = &cli.App{
		Name:  AppName,
		Usage: "Report Go test results to a collection API",
		Flags: append([]cli.Flag{
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "Enable verbose (debug) logging",
			},
		}, config.Flags()...),
		Before: func(ctx *cli.Context) error {
			if ctx.Bool("verbose") {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			}
			return nil
		},
		// Exit codes are resolved by the caller of Run.
		ExitErrHandler: func(*cli.Context, error) {},
	}
	app.cli.Commands = append(app.cli.Commands, &cli.Command{
		Name:      "run",
		Usage:     "Run Go tests and report every result",
		ArgsUsage: "[packages] [-- go test flags]",
		Action:    app.run,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "workers",
				Aliases: []string{"n"},
				Usage:   "Number of worker processes, 0 runs the tests in-process",
			},
			&cli.BoolFlag{
				Name:  "failfast",
				Usage: "Do not start new tests after the first test failure",
			},
			ledgerOutFlag(),
			&cli.StringFlag{
				Name:  "metrics-addr",
				Usage: "Serve Prometheus metrics on this address while running (e.g. :9090)",
			},
		},
		Description: `Run Go tests and report them to the collection API.

Packages default to ./... when none are given. Flags after -- are passed to
go test unchanged.

Examples:
  apireport --report-enabled run ./...
  apireport --report-enabled run -n 4 ./... -- -run TestAPI -count=1`,
	})
	app.cli.Commands = append(app.cli.Commands, &cli.Command{
		Name:      "ingest",
		Usage:     "Report a JSON-lines stream of test phases written by another host",
		ArgsUsage: "[file|-]",
		Action:    app.ingest,
		Flags: []cli.Flag{
			ledgerOutFlag(),
		},
		Description: `Read test events from a file or stdin, one JSON object per line:

  {"event":"test_start","node_id":"test_mod.py::test_a"}
  {"event":"phase","node_id":"test_mod.py::test_a","phase":"call","outcome":"passed"}
  {"event":"collect_failed","node_id":"test_broken.py","outcome":"failed"}`,
	})
	app.cli.Commands = append(app.cli.Commands, &cli.Command{
		Name:      "worker",
		Usage:     "Run a share of the session's tests, spawned by run",
		ArgsUsage: "[packages] [-- go test flags]",
		Hidden:    true,
		Action:    app.worker,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "failfast",
				Usage: "Do not start new tests after the first test failure",
			},
		},
	})
	return app
}

func ledgerOutFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  "ledger-out",
		Usage: "Write the session ledger as JSON to this file",
	}
}

func (a *App) Run(args []string) error {
	a.cli.Reader = a.stdin
	a.cli.Writer = a.stdout
	a.cli.ErrWriter = a.stderr
	return a.cli.Run(args)
}

// SetVersion sets the version information for the CLI application
func (a *App) SetVersion(version, commit, date string) {
	a.cli.Version = version
	if commit != "none" && len(commit) >= 8 {
		a.cli.Version = fmt.Sprintf("%s (commit: %s, built: %s)", version, commit[:8], date)
	}
}

// ExitCode maps an error returned by Run onto the process exit code. Errors
// that carry no code come from argument parsing.
func ExitCode(err error) int {
	if err == nil {
		return exitcodes.Success
	}
	var exitErr cli.ExitCoder
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return exitcodes.UsageErr
}

func usageError(err error) error {
	return cli.Exit(err.Error(), exitcodes.UsageErr)
}

func reportingError(format string, args ...any) error {
	return cli.Exit(fmt.Sprintf(format, args...), exitcodes.ReportingErr)
}
