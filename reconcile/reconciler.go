// Package reconcile folds the setup, call and teardown outcomes of a test case
// into the single status reported to the collector. A finish report is only
// sent once teardown has been observed.
package reconcile

import (
	"context"
	"fmt"
	"sort"

	"github.com/perfgo/apireport/ledger"
	"github.com/perfgo/apireport/model"
	"github.com/rs/zerolog"
)

// TestReporter is the part of the collector client the reconciler needs.
type TestReporter interface {
	StartTest(ctx context.Context, name string) (int64, error)
	FinishTest(ctx context.Context, testID int64, status model.Status) error
}

type state uint8

const (
	// started: setup entered, waiting for the setup outcome
	stateStarted state = iota
	// setup passed, waiting for the call outcome
	stateAwaitCall
	// call done or skipped by the host, waiting for teardown
	stateAwaitTeardown
)

type testCase struct {
	run   model.TestCaseRun
	state state
}

// Reconciler tracks every test case started in this process until it is
// finished. A reported test case is dropped; only its node ID stays in the
// finalized set for the rest of the session, so late phases for it remain
// no-ops. It is not safe for concurrent use; the host delivers phase events
// one at a time.
type Reconciler struct {
	logger    zerolog.Logger
	reporter  TestReporter
	ledger    *ledger.Ledger
	active    map[string]*testCase
	finalized map[string]struct{}
}

// New creates a reconciler that reports through reporter and records every
// successful report in l.
func New(logger zerolog.Logger, reporter TestReporter, l *ledger.Ledger) *Reconciler {
	return &Reconciler{
		logger:    logger,
		reporter:  reporter,
		ledger:    l,
		active:    make(map[string]*testCase),
		finalized: make(map[string]struct{}),
	}
}

// Start is called when a test enters its setup phase. It opens the test on the
// collector. Starting a node that was already finalized begins a new run of
// the same test.
func (r *Reconciler) Start(ctx context.Context, nodeID string) error {
	if _, ok := r.active[nodeID]; ok {
		return &InvariantError{NodeID: nodeID, Reason: "test started twice without finishing"}
	}

	testID, err := r.reporter.StartTest(ctx, nodeID)
	if err != nil {
		return fmt.Errorf("failed to report start of %s: %w", nodeID, err)
	}

	delete(r.finalized, nodeID)
	r.active[nodeID] = &testCase{
		run: model.TestCaseRun{
			NodeID:       nodeID,
			RemoteTestID: testID,
			Pending:      model.StatusPassed,
		},
		state: stateStarted,
	}
	r.ledger.RecordTestStart(nodeID, testID)

	r.logger.Debug().Str("node_id", nodeID).Int64("test_id", testID).Msg("Test started")
	return nil
}

// PhaseComplete consumes the outcome of one phase. It returns the final
// status and true when this call sent the finish report, which only ever
// happens on teardown. Phases for a test that was already finalized are
// ignored.
func (r *Reconciler) PhaseComplete(ctx context.Context, nodeID string, phase model.Phase, outcome model.Outcome) (model.Status, bool, error) {
	tc, ok := r.active[nodeID]
	if !ok {
		if _, done := r.finalized[nodeID]; done {
			r.logger.Debug().
				Str("node_id", nodeID).
				Str("phase", string(phase)).
				Msg("Ignoring phase for finalized test")
			return "", false, nil
		}
		return "", false, &InvariantError{NodeID: nodeID, Phase: phase, Reason: "no start report for test"}
	}

	switch phase {
	case model.PhaseSetup:
		if tc.state != stateStarted {
			return "", false, &InvariantError{NodeID: nodeID, Phase: phase, Reason: "setup observed twice"}
		}
		tc.observe(phase, outcome)
		switch outcome {
		case model.OutcomePassed:
			tc.state = stateAwaitCall
		case model.OutcomeFailed:
			// The host skips the call phase after a setup error.
			tc.run.Pending = model.StatusError
			tc.state = stateAwaitTeardown
		case model.OutcomeSkipped:
			tc.run.Pending = model.StatusSkipped
			tc.state = stateAwaitTeardown
		}
		return "", false, nil

	case model.PhaseCall:
		if tc.state != stateAwaitCall {
			return "", false, &InvariantError{NodeID: nodeID, Phase: phase, Reason: "call observed without a passing setup"}
		}
		tc.observe(phase, outcome)
		tc.run.Pending = model.StatusFromOutcome(outcome)
		tc.state = stateAwaitTeardown
		return "", false, nil

	case model.PhaseTeardown:
		if tc.state == stateStarted {
			return "", false, &InvariantError{NodeID: nodeID, Phase: phase, Reason: "teardown observed before setup"}
		}
		tc.observe(phase, outcome)
		status := resolve(tc.run.Pending, outcome)
		if err := r.finish(ctx, tc, status); err != nil {
			return "", false, err
		}
		return status, true, nil
	}

	return "", false, &InvariantError{NodeID: nodeID, Phase: phase, Reason: "unknown phase"}
}

// resolve applies the teardown outcome to the pending status. A failing
// teardown turns anything but an existing failure into an error.
func resolve(pending model.Status, teardown model.Outcome) model.Status {
	if teardown != model.OutcomeFailed {
		return pending
	}
	if pending == model.StatusFailed {
		return model.StatusFailed
	}
	return model.StatusError
}

// finish moves the test out of the active set before reporting, so a failed
// report is never retried and a repeated teardown is a no-op.
func (r *Reconciler) finish(ctx context.Context, tc *testCase, status model.Status) error {
	nodeID := tc.run.NodeID
	testID := tc.run.RemoteTestID
	delete(r.active, nodeID)
	r.finalized[nodeID] = struct{}{}

	if err := r.reporter.FinishTest(ctx, testID, status); err != nil {
		return fmt.Errorf("failed to report finish of %s: %w", nodeID, err)
	}
	r.ledger.RecordTestFinish(nodeID, testID, status)

	r.logger.Debug().
		Str("node_id", nodeID).
		Int64("test_id", testID).
		Str("status", string(status)).
		Msg("Test finished")
	return nil
}

// ReportCollectFailure reports an item that failed before any of its phases
// ran, such as a package that does not build. The start and finish reports
// are sent back to back.
func (r *Reconciler) ReportCollectFailure(ctx context.Context, nodeID string, outcome model.Outcome) error {
	testID, err := r.reporter.StartTest(ctx, nodeID)
	if err != nil {
		return fmt.Errorf("failed to report start of %s: %w", nodeID, err)
	}
	r.ledger.RecordTestStart(nodeID, testID)

	status := model.StatusFromOutcome(outcome)
	if err := r.reporter.FinishTest(ctx, testID, status); err != nil {
		return fmt.Errorf("failed to report finish of %s: %w", nodeID, err)
	}
	r.ledger.RecordTestFinish(nodeID, testID, status)

	r.logger.Debug().Str("node_id", nodeID).Str("status", string(status)).Msg("Collect failure reported")
	return nil
}

// Pending returns the node IDs of tests that were started but never reached
// teardown, sorted.
func (r *Reconciler) Pending() []string {
	ids := make([]string, 0, len(r.active))
	for id := range r.active {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (tc *testCase) observe(phase model.Phase, outcome model.Outcome) {
	tc.run.Phases = append(tc.run.Phases, model.PhaseOutcome{Phase: phase, Outcome: outcome})
}
