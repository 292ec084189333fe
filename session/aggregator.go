package session

import (
	"context"
	"fmt"
	"time"

	"github.com/perfgo/apireport/ledger"
	"github.com/perfgo/apireport/model"
	"github.com/rs/zerolog"
)

// RunReporter is the part of the collector client the aggregator needs.
type RunReporter interface {
	StartRun(ctx context.Context) (int64, error)
	FinishRun(ctx context.Context, runID int64) error
}

// Aggregator owns the run of a session. On a worker every method that would
// touch the run is a no-op.
type Aggregator struct {
	logger   zerolog.Logger
	role     Role
	reporter RunReporter
	ledger   *ledger.Ledger
	now      func() time.Time

	run      *model.RunSession
	finished bool
}

// NewAggregator creates an aggregator for the given role.
func NewAggregator(logger zerolog.Logger, role Role, reporter RunReporter, l *ledger.Ledger) *Aggregator {
	return &Aggregator{
		logger:   logger,
		role:     role,
		reporter: reporter,
		ledger:   l,
		now:      time.Now,
	}
}

// SessionStart opens the run on the collector. Calling it again returns the
// same run ID without another request. Workers get 0.
func (a *Aggregator) SessionStart(ctx context.Context) (int64, error) {
	if !a.role.IsCoordinator() {
		return 0, nil
	}
	if a.run != nil {
		return a.run.RunID, nil
	}

	runID, err := a.reporter.StartRun(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to report run start: %w", err)
	}
	a.run = &model.RunSession{RunID: runID, StartedAt: a.now()}
	a.ledger.RecordRunStarted(runID)

	a.logger.Info().Int64("run_id", runID).Str("session", a.role.SessionID).Msg("Test run started")
	return runID, nil
}

// WorkerDown merges a worker's ledger into the coordinator's. Output from a
// different session is rejected.
func (a *Aggregator) WorkerDown(out model.WorkerOutput) error {
	if !a.role.IsCoordinator() {
		return nil
	}
	if out.SessionID != a.role.SessionID {
		return fmt.Errorf("worker %s belongs to session %q, expected %q", out.WorkerID, out.SessionID, a.role.SessionID)
	}
	a.ledger.Merge(out.Entries...)

	a.logger.Debug().Str("worker", out.WorkerID).Int("entries", len(out.Entries)).Msg("Worker ledger merged")
	return nil
}

// SessionEnd closes the run. It does nothing if the run was never started or
// has already been closed.
func (a *Aggregator) SessionEnd(ctx context.Context) error {
	if !a.role.IsCoordinator() || a.run == nil || a.finished {
		return nil
	}
	a.finished = true

	if err := a.reporter.FinishRun(ctx, a.run.RunID); err != nil {
		return fmt.Errorf("failed to report run finish: %w", err)
	}
	a.run.FinishedAt = a.now()
	a.ledger.RecordRunFinished(a.run.RunID)

	a.logger.Info().
		Int64("run_id", a.run.RunID).
		Dur("duration", a.run.FinishedAt.Sub(a.run.StartedAt)).
		Msg("Test run finished")
	return nil
}

// Run returns the current run, or nil before SessionStart.
func (a *Aggregator) Run() *model.RunSession {
	return a.run
}
