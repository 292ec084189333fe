package ledger

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/perfgo/apireport/model"
	"github.com/stretchr/testify/require"
)

func fakeClock(start time.Time) func() time.Time {
	var (
		mu sync.Mutex
		t  = start
	)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Millisecond)
		return t
	}
}

func TestLedger_RecordAndSort(t *testing.T) {
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	l := New(WithClock(fakeClock(base)))

	l.RecordRunStarted(11)
	l.RecordTestStart("pkg.TestA", 1)

	// Entries from a worker arrive later but carry earlier timestamps.
	l.Merge(
		model.LedgerEntry{Timestamp: base.Add(-time.Second), Event: model.EventTestStart, NodeID: "pkg.TestB", TestID: 2, Worker: "gw1"},
		model.LedgerEntry{Timestamp: base.Add(-time.Second / 2), Event: model.EventTestFinish, NodeID: "pkg.TestB", TestID: 2, Status: model.StatusPassed, Worker: "gw1"},
	)
	l.RecordTestFinish("pkg.TestA", 1, model.StatusFailed)

	entries := l.Entries()
	require.Len(t, entries, 5)
	require.Equal(t, model.EventTestRunStarted, entries[0].Event)
	require.Equal(t, "pkg.TestB", entries[2].NodeID)

	sorted := l.Sorted()
	require.Equal(t, "pkg.TestB", sorted[0].NodeID)
	require.Equal(t, model.EventTestFinish, sorted[1].Event)
	require.Equal(t, model.EventTestRunStarted, sorted[2].Event)
	require.Equal(t, model.StatusFailed, sorted[4].Status)

	// Sorting is a view; stored order is untouched.
	require.Equal(t, model.EventTestRunStarted, l.Entries()[0].Event)
}

func TestLedger_Stats(t *testing.T) {
	tests := []struct {
		name    string
		entries []model.LedgerEntry
		want    Stats
		doubled bool
	}{
		{
			name: "empty",
			want: Stats{},
		},
		{
			name: "run events are not counted",
			entries: []model.LedgerEntry{
				{Event: model.EventTestRunStarted, RunID: 1},
				{Event: model.EventTestRunFinished, RunID: 1},
			},
			want: Stats{},
		},
		{
			name: "one finish per case",
			entries: []model.LedgerEntry{
				{Event: model.EventTestStart, TestID: 1},
				{Event: model.EventTestFinish, TestID: 1},
				{Event: model.EventTestStart, TestID: 2},
				{Event: model.EventTestFinish, TestID: 2},
			},
			want: Stats{Cases: 2, Starts: 2, Finishes: 2, Reports: 4},
		},
		{
			name: "double finish",
			entries: []model.LedgerEntry{
				{Event: model.EventTestStart, TestID: 1},
				{Event: model.EventTestFinish, TestID: 1},
				{Event: model.EventTestFinish, TestID: 1},
			},
			want:    Stats{Cases: 1, Starts: 1, Finishes: 2, Reports: 3},
			doubled: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := New()
			l.Merge(tt.entries...)
			got := l.Stats()
			require.Equal(t, tt.want, got)
			require.Equal(t, tt.doubled, got.DoubleReported())
		})
	}
}

func TestLedger_WorkerTag(t *testing.T) {
	l := New(WithWorker("gw0"))
	l.RecordTestStart("pkg.TestA", 7)
	require.Equal(t, "gw0", l.Entries()[0].Worker)
	require.False(t, l.Entries()[0].Timestamp.IsZero())
}

func TestLedger_ConcurrentMerge(t *testing.T) {
	l := New()
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				l.Merge(model.LedgerEntry{Event: model.EventTestStart, TestID: int64(w*100 + i)})
			}
		}(w)
	}
	wg.Wait()
	require.Equal(t, 200, l.Len())
	require.Equal(t, 200, l.Stats().Cases)
}

func TestLedger_FileRoundTrip(t *testing.T) {
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	l := New(WithClock(fakeClock(base)))
	l.RecordRunStarted(3)
	l.RecordTestStart("pkg.TestA", 1)
	l.RecordTestFinish("pkg.TestA", 1, model.StatusSkipped)
	l.RecordRunFinished(3)

	path := filepath.Join(t.TempDir(), "ledger.json")
	require.NoError(t, l.WriteFile(path))

	entries, err := ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, l.Sorted(), entries)

	_, err = ReadFile(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
}
