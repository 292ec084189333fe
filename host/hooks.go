// Package host connects the reporting core to the hooks a test-execution host
// drives: session start and end, per-test phase completions, collection
// failures, worker shutdown and the end-of-session summary.
package host

import (
	"context"
	"io"

	"github.com/perfgo/apireport/model"
)

// Hooks is the surface a host driver calls into. Calls are never made
// concurrently.
type Hooks interface {
	// SessionStart is called once before any test runs.
	SessionStart(ctx context.Context) error
	// TestStart is called when a test enters its setup phase.
	TestStart(ctx context.Context, nodeID string) error
	// PhaseComplete is called after each phase of a started test.
	PhaseComplete(ctx context.Context, nodeID string, phase model.Phase, outcome model.Outcome) error
	// CollectFailed is called for an item that failed before any phase ran.
	CollectFailed(ctx context.Context, nodeID string, outcome model.Outcome) error
	// WorkerDown delivers the hand-off of a worker that has shut down.
	WorkerDown(ctx context.Context, out model.WorkerOutput) error
	// SessionFinish is called once after every test has run. Workers write
	// their hand-off to w.
	SessionFinish(ctx context.Context, w io.Writer) error
	// TerminalSummary renders the session summary to w.
	TerminalSummary(w io.Writer) error
}

// Nop is used when reporting is disabled.
type Nop struct{}

func (Nop) SessionStart(context.Context) error { return nil }

func (Nop) TestStart(context.Context, string) error { return nil }

func (Nop) PhaseComplete(context.Context, string, model.Phase, model.Outcome) error { return nil }

func (Nop) CollectFailed(context.Context, string, model.Outcome) error { return nil }

func (Nop) WorkerDown(context.Context, model.WorkerOutput) error { return nil }

func (Nop) SessionFinish(context.Context, io.Writer) error { return nil }

func (Nop) TerminalSummary(io.Writer) error { return nil }

var (
	_ Hooks = Nop{}
	_ Hooks = (*Plugin)(nil)
)
