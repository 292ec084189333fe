package model

import (
	"fmt"
	"strings"
	"time"
)

// Phase is one sub-stage of executing a single test case.
type Phase string

const (
	PhaseSetup    Phase = "setup"
	PhaseCall     Phase = "call"
	PhaseTeardown Phase = "teardown"
)

// ParsePhase converts a host-provided phase name into a Phase.
func ParsePhase(s string) (Phase, error) {
	switch p := Phase(strings.ToLower(s)); p {
	case PhaseSetup, PhaseCall, PhaseTeardown:
		return p, nil
	}
	return "", fmt.Errorf("unknown phase %q", s)
}

// Outcome is the result the host reports for a single phase.
type Outcome string

const (
	OutcomePassed  Outcome = "passed"
	OutcomeFailed  Outcome = "failed"
	OutcomeSkipped Outcome = "skipped"
)

// ParseOutcome converts a host-provided outcome name into an Outcome.
func ParseOutcome(s string) (Outcome, error) {
	switch o := Outcome(strings.ToLower(s)); o {
	case OutcomePassed, OutcomeFailed, OutcomeSkipped:
		return o, nil
	}
	return "", fmt.Errorf("unknown outcome %q", s)
}

// Status is the single terminal status reported to the collector for a test.
type Status string

const (
	StatusPassed  Status = "PASSED"
	StatusFailed  Status = "FAILED"
	StatusSkipped Status = "SKIPPED"
	StatusError   Status = "ERROR"
)

// StatusFromOutcome maps a phase outcome verbatim onto a collector status.
func StatusFromOutcome(o Outcome) Status {
	switch o {
	case OutcomeFailed:
		return StatusFailed
	case OutcomeSkipped:
		return StatusSkipped
	default:
		return StatusPassed
	}
}

// PhaseOutcome records the outcome of one phase of a test case
type PhaseOutcome struct {
	Phase   Phase
	Outcome Outcome
}

// TestCaseRun is the in-memory state of a single test case while its phases
// are being observed. It lives only in the process executing the test.
type TestCaseRun struct {
	// Host-assigned node identifier, unique per test case within a run
	NodeID string
	// Identifier assigned by the collector when the test was started
	RemoteTestID int64
	// Phase outcomes in the order they were observed
	Phases []PhaseOutcome
	// Status the test would finish with if teardown passed now
	Pending Status
}

// RunSession is the single run bracketing a whole test session. Only the
// coordinating process owns one.
type RunSession struct {
	// Identifier assigned by the collector when the run was started
	RunID      int64
	StartedAt  time.Time
	FinishedAt time.Time
}

// EventKind identifies what a ledger entry recorded
type EventKind string

const (
	EventTestStart       EventKind = "test_start"
	EventTestFinish      EventKind = "test_finish"
	EventTestRunStarted  EventKind = "test_run_started"
	EventTestRunFinished EventKind = "test_run_finished"
)

// LedgerEntry is an immutable record of one call made to the collector.
type LedgerEntry struct {
	// When the call completed
	Timestamp time.Time `json:"timestamp"`
	// What was reported
	Event EventKind `json:"event"`
	// Node identifier for test events
	NodeID string `json:"node_id,omitempty"`
	// Collector test identifier for test events
	TestID int64 `json:"test_id,omitempty"`
	// Collector run identifier for run events
	RunID int64 `json:"run_id,omitempty"`
	// Reported status for finish events
	Status Status `json:"status,omitempty"`
	// Worker that produced the entry, empty for the coordinator
	Worker string `json:"worker,omitempty"`
}

// IsTestEvent reports whether the entry belongs to a single test case.
func (e LedgerEntry) IsTestEvent() bool {
	return e.Event == EventTestStart || e.Event == EventTestFinish
}

// CollectFailure is an item that failed before any of its phases ran.
type CollectFailure struct {
	NodeID  string  `json:"node_id"`
	Outcome Outcome `json:"outcome"`
}

// WorkerOutput is the message a worker hands to the coordinator when it shuts
// down.
type WorkerOutput struct {
	SessionID string        `json:"session_id"`
	WorkerID  string        `json:"worker_id"`
	Entries   []LedgerEntry `json:"entries"`
	// Collection failures seen by the worker, reported by the coordinator
	CollectFailures []CollectFailure `json:"collect_failures,omitempty"`
}
