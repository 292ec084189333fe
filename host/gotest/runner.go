package gotest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"al.essio.dev/pkg/shellescape"
	gocmd "github.com/perfgo/apireport/cli/go"
	"github.com/rs/zerolog"
)

// Options configures a `go test -json` invocation.
type Options struct {
	// Packages to test
	Packages []string
	// Extra flags passed to go test before the package list
	Args []string
	// Stop after the first failing test
	FailFast bool
	// Working directory, empty for the current one
	Dir string
	// Extra environment entries for the go command
	Env []string
}

// BuildTestArgs builds the arguments for the go command.
func BuildTestArgs(opts Options) []string {
	args := []string{"test", "-json"}
	if opts.FailFast {
		args = append(args, "-failfast")
	}
	args = append(args, opts.Args...)
	args = append(args, opts.Packages...)
	return args
}

// BuildTestCommand renders the go test invocation as a shell command, for
// logging.
func BuildTestCommand(opts Options) string {
	args := BuildTestArgs(opts)

	parts := make([]string, 0, len(args)+1)
	parts = append(parts, "go")
	for _, arg := range args {
		parts = append(parts, shellescape.Quote(arg))
	}
	return strings.Join(parts, " ")
}

// Run executes go test and feeds its event stream to d. Non-JSON output of
// the go command goes to stderr. A test failure is not an error; the result
// reports it.
func Run(ctx context.Context, logger zerolog.Logger, opts Options, d *Driver, stderr io.Writer) (Result, error) {
	cmd := gocmd.CommandContext(ctx, BuildTestArgs(opts)...)
	cmd.Dir = opts.Dir
	if len(opts.Env) > 0 {
		cmd.Env = append(cmd.Environ(), opts.Env...)
	}
	cmd.Stderr = stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Result{}, fmt.Errorf("failed to open go test output: %w", err)
	}

	logger.Debug().Str("command", BuildTestCommand(opts)).Msg("Executing go test")
	if err := cmd.Start(); err != nil {
		return Result{}, fmt.Errorf("failed to start go test: %w", err)
	}

	result, consumeErr := d.Consume(ctx, stdout)
	if consumeErr != nil {
		// Drain so the go command is not blocked writing to a full pipe.
		_, _ = io.Copy(io.Discard, stdout)
	}
	waitErr := cmd.Wait()
	if consumeErr != nil {
		return result, consumeErr
	}

	if waitErr != nil {
		var exitErr *exec.ExitError
		// go test exits 1 when tests or builds fail.
		if errors.As(waitErr, &exitErr) && exitErr.ExitCode() == 1 {
			logger.Debug().Int("exit_code", 1).Msg("go test reported failures")
			return result, nil
		}
		return result, fmt.Errorf("go test failed: %w", waitErr)
	}
	return result, nil
}
