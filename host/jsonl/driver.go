// Package jsonl drives the reporting hooks from a JSON-lines stream written
// by a host that has real setup, call and teardown phases.
package jsonl

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/perfgo/apireport/host"
	"github.com/perfgo/apireport/model"
	"github.com/rs/zerolog"
)

// Event names
const (
	EventTestStart     = "test_start"
	EventPhase         = "phase"
	EventCollectFailed = "collect_failed"
)

// Event is one line of the stream.
type Event struct {
	Event   string `json:"event"`
	NodeID  string `json:"node_id"`
	Phase   string `json:"phase,omitempty"`
	Outcome string `json:"outcome,omitempty"`
}

// SyntaxError is returned for a line that is not a valid event.
type SyntaxError struct {
	Line int
	Err  error
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e *SyntaxError) Unwrap() error {
	return e.Err
}

// Result summarizes what a driver observed.
type Result struct {
	// Events dispatched to the hooks
	Events int
	// Tests that were started
	Tests int
	// Tests with at least one failed phase
	Failed int
	// Items that failed collection
	CollectFailures int
	// Hook invocations that returned an error
	HookErrors int
}

// HasFailures reports whether any test or collection failed.
func (r Result) HasFailures() bool {
	return r.Failed > 0 || r.CollectFailures > 0
}

// Driver turns stream events into hook calls.
type Driver struct {
	logger zerolog.Logger
	hooks  host.Hooks
	failed map[string]bool
	result Result
}

// NewDriver creates a driver.
func NewDriver(logger zerolog.Logger, hooks host.Hooks) *Driver {
	return &Driver{
		logger: logger,
		hooks:  hooks,
		failed: make(map[string]bool),
	}
}

// Consume reads events until r is exhausted or a line cannot be parsed.
// Hook errors are logged and counted, the stream continues.
func (d *Driver) Consume(ctx context.Context, r io.Reader) (Result, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}

		ev, err := parse(raw)
		if err != nil {
			return d.result, &SyntaxError{Line: line, Err: err}
		}

		d.result.Events++
		if err := d.Handle(ctx, ev); err != nil {
			d.result.HookErrors++
			d.logger.Error().
				Err(err).
				Int("line", line).
				Str("event", ev.Event).
				Str("node_id", ev.NodeID).
				Msg("Reporting hook failed")
		}
	}
	if err := scanner.Err(); err != nil {
		return d.result, fmt.Errorf("failed to read host events: %w", err)
	}
	return d.result, nil
}

func parse(raw []byte) (Event, error) {
	var ev Event
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&ev); err != nil {
		return ev, fmt.Errorf("invalid event: %w", err)
	}
	if ev.NodeID == "" {
		return ev, fmt.Errorf("event %q without node_id", ev.Event)
	}

	switch ev.Event {
	case EventTestStart:
	case EventPhase:
		if _, err := model.ParsePhase(ev.Phase); err != nil {
			return ev, err
		}
		if _, err := model.ParseOutcome(ev.Outcome); err != nil {
			return ev, err
		}
	case EventCollectFailed:
		if _, err := model.ParseOutcome(ev.Outcome); err != nil {
			return ev, err
		}
	default:
		return ev, fmt.Errorf("unknown event %q", ev.Event)
	}
	return ev, nil
}

// Handle dispatches a single validated event.
func (d *Driver) Handle(ctx context.Context, ev Event) error {
	switch ev.Event {
	case EventTestStart:
		d.result.Tests++
		// A rerun of the same node starts clean.
		delete(d.failed, ev.NodeID)
		return d.hooks.TestStart(ctx, ev.NodeID)

	case EventPhase:
		phase, err := model.ParsePhase(ev.Phase)
		if err != nil {
			return err
		}
		outcome, err := model.ParseOutcome(ev.Outcome)
		if err != nil {
			return err
		}
		if outcome == model.OutcomeFailed && !d.failed[ev.NodeID] {
			d.failed[ev.NodeID] = true
			d.result.Failed++
		}
		return d.hooks.PhaseComplete(ctx, ev.NodeID, phase, outcome)

	case EventCollectFailed:
		outcome, err := model.ParseOutcome(ev.Outcome)
		if err != nil {
			return err
		}
		d.result.CollectFailures++
		return d.hooks.CollectFailed(ctx, ev.NodeID, outcome)
	}
	return fmt.Errorf("unknown event %q", ev.Event)
}
