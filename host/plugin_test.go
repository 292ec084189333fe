package host

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/perfgo/apireport/api"
	"github.com/perfgo/apireport/model"
	"github.com/perfgo/apireport/reconcile"
	"github.com/perfgo/apireport/session"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type phaseStep struct {
	phase   model.Phase
	outcome model.Outcome
}

var (
	setupPass    = phaseStep{model.PhaseSetup, model.OutcomePassed}
	setupFail    = phaseStep{model.PhaseSetup, model.OutcomeFailed}
	callPass     = phaseStep{model.PhaseCall, model.OutcomePassed}
	callFail     = phaseStep{model.PhaseCall, model.OutcomeFailed}
	teardownPass = phaseStep{model.PhaseTeardown, model.OutcomePassed}
	teardownFail = phaseStep{model.PhaseTeardown, model.OutcomeFailed}
)

func drive(t *testing.T, ctx context.Context, h Hooks, nodeID string, steps ...phaseStep) {
	t.Helper()
	require.NoError(t, h.TestStart(ctx, nodeID))
	for _, s := range steps {
		require.NoError(t, h.PhaseComplete(ctx, nodeID, s.phase, s.outcome))
	}
}

func TestPlugin_Scenarios(t *testing.T) {
	tests := []struct {
		name  string
		steps []phaseStep
		want  model.Status
	}{
		{"A passes every phase", []phaseStep{setupPass, callPass, teardownPass}, model.StatusPassed},
		{"B fixture raises in setup", []phaseStep{setupFail, teardownPass}, model.StatusError},
		{"C fixture raises in teardown after pass", []phaseStep{setupPass, callPass, teardownFail}, model.StatusError},
		{"D fixture raises in teardown after failure", []phaseStep{setupPass, callFail, teardownFail}, model.StatusFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			collector, srv := newFakeCollector(t)
			client := api.New(srv.URL, "ABCDEF")
			p := NewPlugin(zerolog.Nop(), session.Role{SessionID: "s"}, client)
			ctx := context.Background()

			require.NoError(t, p.SessionStart(ctx))
			drive(t, ctx, p, "test_mod.py::test_case", tt.steps...)
			require.NoError(t, p.SessionFinish(ctx, nil))

			require.Equal(t, []string{"test_mod.py::test_case"}, collector.starts())
			require.Equal(t, map[string][]model.Status{"test_mod.py::test_case": {tt.want}}, collector.statuses())

			starts, ends := collector.runs()
			require.Equal(t, 1, starts)
			require.Equal(t, []int64{11}, ends)
		})
	}
}

type distributedCase struct {
	node  string
	steps []phaseStep
	want  model.Status
}

var distributedCases = []distributedCase{
	{"mod.py::test_examples[2-2]", []phaseStep{setupPass, callPass, teardownPass}, model.StatusPassed},
	{"mod.py::test_examples[3.14-5.55]", []phaseStep{{model.PhaseSetup, model.OutcomeSkipped}, teardownPass}, model.StatusSkipped},
	{"mod.py::test_examples[nan-42]", []phaseStep{setupPass, callFail, teardownPass}, model.StatusFailed},
	{"mod.py::test_properties", []phaseStep{setupPass, callFail, teardownPass}, model.StatusFailed},
	{"mod.py::test_error_at_setup", []phaseStep{setupFail, teardownPass}, model.StatusError},
	{"mod.py::test_error_at_teardown", []phaseStep{setupPass, callPass, teardownFail}, model.StatusError},
}

func TestPlugin_DistributedSession(t *testing.T) {
	tests := []struct {
		name string
		// collection failure seen by the second worker, if any
		collectFailure string
		wantWorkers    map[string]bool
	}{
		{
			name:        "two workers six tests",
			wantWorkers: map[string]bool{"gw0": true, "gw1": true},
		},
		{
			name:           "forwarded collection failure",
			collectFailure: "broken_mod.py",
			wantWorkers:    map[string]bool{"": true, "gw0": true, "gw1": true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			collector, srv := newFakeCollector(t)
			client := api.New(srv.URL, "ABCDEF")
			ctx := context.Background()

			coordRole := session.ResolveRole(func(string) string { return "" })
			coord := NewPlugin(zerolog.Nop(), coordRole, client)
			require.NoError(t, coord.SessionStart(ctx))

			var handoffs []*bytes.Buffer
			for w := 0; w < 2; w++ {
				workerID := fmt.Sprintf("gw%d", w)
				worker := NewPlugin(zerolog.Nop(), session.Role{WorkerID: workerID, SessionID: coordRole.SessionID}, client)
				require.NoError(t, worker.SessionStart(ctx))
				for i := w; i < len(distributedCases); i += 2 {
					drive(t, ctx, worker, distributedCases[i].node, distributedCases[i].steps...)
				}
				if w == 1 && tt.collectFailure != "" {
					// Forwarded to the coordinator, never reported by the worker.
					require.NoError(t, worker.CollectFailed(ctx, tt.collectFailure, model.OutcomeFailed))
				}

				var buf bytes.Buffer
				require.NoError(t, worker.SessionFinish(ctx, &buf))
				var summary bytes.Buffer
				require.NoError(t, worker.TerminalSummary(&summary))
				require.Empty(t, summary.String())
				handoffs = append(handoffs, &buf)
			}

			// Hand-offs arrive in any order.
			for i := len(handoffs) - 1; i >= 0; i-- {
				out, err := session.ReadHandoff(handoffs[i])
				require.NoError(t, err)
				require.NoError(t, coord.WorkerDown(ctx, out))
			}
			require.NoError(t, coord.SessionFinish(ctx, nil))

			starts, ends := collector.runs()
			require.Equal(t, 1, starts)
			require.Equal(t, []int64{11}, ends)

			want := make(map[string][]model.Status)
			for _, c := range distributedCases {
				want[c.node] = []model.Status{c.want}
			}
			if tt.collectFailure != "" {
				want[tt.collectFailure] = []model.Status{model.StatusFailed}
			}
			require.Equal(t, want, collector.statuses())
			cases := len(want)

			entries := coord.Ledger().Sorted()
			require.Len(t, entries, 2+2*cases)
			counts := make(map[model.EventKind]int)
			workers := make(map[string]bool)
			for i, e := range entries {
				counts[e.Event]++
				if e.IsTestEvent() {
					workers[e.Worker] = true
				}
				if i > 0 {
					require.False(t, e.Timestamp.Before(entries[i-1].Timestamp))
				}
			}
			require.Equal(t, map[model.EventKind]int{
				model.EventTestRunStarted:  1,
				model.EventTestRunFinished: 1,
				model.EventTestStart:       cases,
				model.EventTestFinish:      cases,
			}, counts)
			require.Equal(t, tt.wantWorkers, workers)
			require.Equal(t, model.EventTestRunStarted, entries[0].Event)
			require.Equal(t, model.EventTestRunFinished, entries[len(entries)-1].Event)

			stats := coord.Ledger().Stats()
			require.Equal(t, cases, stats.Cases)
			require.Equal(t, cases, stats.Finishes)

			var out bytes.Buffer
			require.NoError(t, coord.TerminalSummary(&out))
			require.Contains(t, out.String(), fmt.Sprintf("Cases reported: %d, test reports sent: %d", cases, cases))
		})
	}
}

func TestPlugin_CollectFailedOnCoordinator(t *testing.T) {
	collector, srv := newFakeCollector(t)
	p := NewPlugin(zerolog.Nop(), session.Role{SessionID: "s"}, api.New(srv.URL, "ABCDEF"))
	ctx := context.Background()

	require.NoError(t, p.SessionStart(ctx))
	require.NoError(t, p.CollectFailed(ctx, "example.com/broken", model.OutcomeFailed))
	require.NoError(t, p.SessionFinish(ctx, nil))

	require.Equal(t, map[string][]model.Status{"example.com/broken": {model.StatusFailed}}, collector.statuses())
}

func TestPlugin_TransportErrorPropagates(t *testing.T) {
	collector, srv := newFakeCollector(t)
	collector.failTests = true
	p := NewPlugin(zerolog.Nop(), session.Role{SessionID: "s"}, api.New(srv.URL, "ABCDEF"))
	ctx := context.Background()

	require.NoError(t, p.SessionStart(ctx))
	require.NoError(t, p.TestStart(ctx, "pkg.TestA"))
	require.NoError(t, p.PhaseComplete(ctx, "pkg.TestA", model.PhaseSetup, model.OutcomePassed))
	require.NoError(t, p.PhaseComplete(ctx, "pkg.TestA", model.PhaseCall, model.OutcomePassed))

	err := p.PhaseComplete(ctx, "pkg.TestA", model.PhaseTeardown, model.OutcomePassed)
	var transportErr *api.TransportError
	require.True(t, errors.As(err, &transportErr))
	require.Equal(t, 500, transportErr.StatusCode)

	// The session itself can still be closed.
	require.NoError(t, p.SessionFinish(ctx, nil))
	_, ends := collector.runs()
	require.Equal(t, []int64{11}, ends)
}

func TestPlugin_UnknownTestIsInvariantViolation(t *testing.T) {
	_, srv := newFakeCollector(t)
	p := NewPlugin(zerolog.Nop(), session.Role{SessionID: "s"}, api.New(srv.URL, "ABCDEF"))

	err := p.PhaseComplete(context.Background(), "pkg.TestGhost", model.PhaseTeardown, model.OutcomePassed)
	var invErr *reconcile.InvariantError
	require.True(t, errors.As(err, &invErr))
}

func TestNop(t *testing.T) {
	var h Hooks = Nop{}
	ctx := context.Background()
	require.NoError(t, h.SessionStart(ctx))
	drive(t, ctx, h, "pkg.TestA", setupPass, callPass, teardownPass)
	require.NoError(t, h.CollectFailed(ctx, "pkg", model.OutcomeFailed))
	require.NoError(t, h.WorkerDown(ctx, model.WorkerOutput{}))
	require.NoError(t, h.SessionFinish(ctx, nil))
	require.NoError(t, h.TerminalSummary(nil))
}
