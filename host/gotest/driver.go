// Package gotest drives the reporting hooks from the event stream of
// `go test -json`. Go tests have no separate setup and teardown, so a test's
// start maps to a passing setup and its result to the call outcome followed
// by a passing teardown.
package gotest

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/perfgo/apireport/host"
	"github.com/perfgo/apireport/model"
	"github.com/rs/zerolog"
)

// Actions emitted by test2json
const (
	ActionStart       = "start"
	ActionRun         = "run"
	ActionPause       = "pause"
	ActionCont        = "cont"
	ActionPass        = "pass"
	ActionFail        = "fail"
	ActionSkip        = "skip"
	ActionOutput      = "output"
	ActionBench       = "bench"
	ActionBuildOutput = "build-output"
	ActionBuildFail   = "build-fail"
)

// Event is one line of `go test -json` output.
type Event struct {
	Time        time.Time // Time the event occurred
	Action      string    // The action taken
	Package     string    // The package being tested
	Test        string    // The test name, empty for package events
	Elapsed     float64   // Seconds, for pass and fail
	Output      string    // Output text for output actions
	FailedBuild string    // Import path whose build failed, on package fail
	ImportPath  string    // Set on build-output and build-fail
}

// NodeID is the identifier a Go test is reported under.
func NodeID(pkg, test string) string {
	return pkg + "." + test
}

// Result summarizes what a driver observed.
type Result struct {
	// Tests that reached a result
	Tests int
	// Tests that failed
	Failed int
	// Tests that were skipped
	Skipped int
	// Packages that failed without running tests
	CollectFailures int
	// Packages that failed although none of their tests did, such as a
	// TestMain exiting non-zero
	PackageFailures int
	// Hook invocations that returned an error
	HookErrors int
	// Tests that started but never reported a result
	Abandoned []string
}

// HasFailures reports whether any test or package failed.
func (r Result) HasFailures() bool {
	return r.Failed > 0 || r.CollectFailures > 0 || r.PackageFailures > 0
}

// Driver turns test2json events into hook calls.
type Driver struct {
	logger  zerolog.Logger
	hooks   host.Hooks
	output  io.Writer
	// running maps started tests to whether their start was reported
	running map[string]bool
	// tests and failed tests observed per package
	tests   map[string]int
	failed  map[string]int
	result  Result
}

// NewDriver creates a driver that echoes test output to output.
func NewDriver(logger zerolog.Logger, hooks host.Hooks, output io.Writer) *Driver {
	if output == nil {
		output = io.Discard
	}
	return &Driver{
		logger:  logger,
		hooks:   hooks,
		output:  output,
		running: make(map[string]bool),
		tests:   make(map[string]int),
		failed:  make(map[string]int),
	}
}

// Consume reads events until r is exhausted. Lines that are not JSON events
// are echoed as-is. A failing hook aborts only the event that triggered it;
// it is logged and counted in the result.
func (d *Driver) Consume(ctx context.Context, r io.Reader) (Result, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}

		var ev Event
		if err := json.Unmarshal(line, &ev); err != nil || ev.Action == "" {
			fmt.Fprintf(d.output, "%s\n", line)
			continue
		}

		if err := d.Handle(ctx, ev); err != nil {
			d.result.HookErrors++
			d.logger.Error().
				Err(err).
				Str("package", ev.Package).
				Str("test", ev.Test).
				Str("action", ev.Action).
				Msg("Reporting hook failed")
		}
	}
	if err := scanner.Err(); err != nil {
		return d.Result(), fmt.Errorf("failed to read test events: %w", err)
	}
	return d.Result(), nil
}

// Handle dispatches a single event.
func (d *Driver) Handle(ctx context.Context, ev Event) error {
	switch ev.Action {
	case ActionOutput, ActionBuildOutput:
		_, _ = io.WriteString(d.output, ev.Output)
		return nil
	}

	if ev.Test == "" {
		return d.handlePackage(ctx, ev)
	}

	nodeID := NodeID(ev.Package, ev.Test)
	switch ev.Action {
	case ActionRun:
		d.running[nodeID] = false
		d.tests[ev.Package]++
		if err := d.hooks.TestStart(ctx, nodeID); err != nil {
			return err
		}
		d.running[nodeID] = true
		return d.hooks.PhaseComplete(ctx, nodeID, model.PhaseSetup, model.OutcomePassed)

	case ActionPass, ActionFail, ActionSkip:
		reported, ok := d.running[nodeID]
		if !ok {
			d.logger.Debug().Str("node_id", nodeID).Str("action", ev.Action).Msg("Result for a test that never started")
			return nil
		}
		delete(d.running, nodeID)

		outcome := outcomeOf(ev.Action)
		d.result.Tests++
		switch outcome {
		case model.OutcomeFailed:
			d.result.Failed++
			d.failed[ev.Package]++
		case model.OutcomeSkipped:
			d.result.Skipped++
		}
		if !reported {
			return nil
		}

		if err := d.hooks.PhaseComplete(ctx, nodeID, model.PhaseCall, outcome); err != nil {
			return err
		}
		return d.hooks.PhaseComplete(ctx, nodeID, model.PhaseTeardown, model.OutcomePassed)
	}
	return nil
}

func (d *Driver) handlePackage(ctx context.Context, ev Event) error {
	if ev.Action != ActionFail {
		return nil
	}
	if ev.FailedBuild == "" && d.tests[ev.Package] > 0 {
		if d.failed[ev.Package] > 0 {
			return nil
		}
		// Nothing else accounts for this failure.
		d.result.PackageFailures++
		d.logger.Warn().Str("package", ev.Package).Msg("Package failed after its tests passed")
		return d.hooks.CollectFailed(ctx, ev.Package, model.OutcomeFailed)
	}
	d.result.CollectFailures++
	d.logger.Debug().Str("package", ev.Package).Str("failed_build", ev.FailedBuild).Msg("Package failed before running tests")
	return d.hooks.CollectFailed(ctx, ev.Package, model.OutcomeFailed)
}

// Result returns what has been observed so far.
func (d *Driver) Result() Result {
	res := d.result
	res.Abandoned = make([]string, 0, len(d.running))
	for id := range d.running {
		res.Abandoned = append(res.Abandoned, id)
	}
	sort.Strings(res.Abandoned)
	return res
}

func outcomeOf(action string) model.Outcome {
	switch action {
	case ActionFail:
		return model.OutcomeFailed
	case ActionSkip:
		return model.OutcomeSkipped
	default:
		return model.OutcomePassed
	}
}
