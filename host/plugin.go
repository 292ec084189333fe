package host

import (
	"context"
	"errors"
	"io"

	"github.com/perfgo/apireport/ledger"
	"github.com/perfgo/apireport/model"
	"github.com/perfgo/apireport/reconcile"
	"github.com/perfgo/apireport/session"
	"github.com/perfgo/apireport/summary"
	"github.com/rs/zerolog"
)

// Reporter is the full collector client.
type Reporter interface {
	reconcile.TestReporter
	session.RunReporter
}

// Plugin reports the session to the collector. Every process gets one;
// run-level reporting, collection failures and the summary are handled by
// the coordinator only.
type Plugin struct {
	logger     zerolog.Logger
	role       session.Role
	ledger     *ledger.Ledger
	reconciler *reconcile.Reconciler
	aggregator *session.Aggregator

	// collection failures a worker forwards in its hand-off
	collectFailures []model.CollectFailure
}

// NewPlugin wires a plugin for the given role.
func NewPlugin(logger zerolog.Logger, role session.Role, reporter Reporter, opts ...ledger.Option) *Plugin {
	logger = logger.With().Str("role", role.String()).Logger()
	if !role.IsCoordinator() {
		opts = append(opts, ledger.WithWorker(role.WorkerID))
	}
	l := ledger.New(opts...)
	return &Plugin{
		logger:     logger,
		role:       role,
		ledger:     l,
		reconciler: reconcile.New(logger, reporter, l),
		aggregator: session.NewAggregator(logger, role, reporter, l),
	}
}

// Ledger returns the plugin's ledger.
func (p *Plugin) Ledger() *ledger.Ledger {
	return p.ledger
}

func (p *Plugin) SessionStart(ctx context.Context) error {
	_, err := p.aggregator.SessionStart(ctx)
	return err
}

func (p *Plugin) TestStart(ctx context.Context, nodeID string) error {
	return p.reconciler.Start(ctx, nodeID)
}

func (p *Plugin) PhaseComplete(ctx context.Context, nodeID string, phase model.Phase, outcome model.Outcome) error {
	_, _, err := p.reconciler.PhaseComplete(ctx, nodeID, phase, outcome)
	return err
}

// CollectFailed is reported from the coordinator only. A worker keeps the
// failure and forwards it in its hand-off.
func (p *Plugin) CollectFailed(ctx context.Context, nodeID string, outcome model.Outcome) error {
	if !p.role.IsCoordinator() {
		p.collectFailures = append(p.collectFailures, model.CollectFailure{NodeID: nodeID, Outcome: outcome})
		return nil
	}
	return p.reconciler.ReportCollectFailure(ctx, nodeID, outcome)
}

// WorkerDown merges a worker's ledger and reports the collection failures it
// forwarded.
func (p *Plugin) WorkerDown(ctx context.Context, out model.WorkerOutput) error {
	if err := p.aggregator.WorkerDown(out); err != nil {
		return err
	}
	if !p.role.IsCoordinator() {
		return nil
	}

	var errs []error
	for _, f := range out.CollectFailures {
		if err := p.reconciler.ReportCollectFailure(ctx, f.NodeID, f.Outcome); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SessionFinish closes the run on the coordinator. A worker sends its ledger
// to w instead.
func (p *Plugin) SessionFinish(ctx context.Context, w io.Writer) error {
	if pending := p.reconciler.Pending(); len(pending) > 0 {
		p.logger.Warn().Strs("node_ids", pending).Msg("Tests never reached teardown and were not reported")
	}

	if !p.role.IsCoordinator() {
		return session.WriteHandoff(w, model.WorkerOutput{
			SessionID: p.role.SessionID,
			WorkerID:  p.role.WorkerID,
			Entries:   p.ledger.Entries(),

			CollectFailures: p.collectFailures,
		})
	}
	return p.aggregator.SessionEnd(ctx)
}

func (p *Plugin) TerminalSummary(w io.Writer) error {
	if !p.role.IsCoordinator() {
		return nil
	}
	return summary.Render(w, p.ledger.Sorted(), p.ledger.Stats())
}
