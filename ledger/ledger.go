// Package ledger keeps the ordered log of every call made to the collector.
// Worker ledgers are merged into the coordinator's ledger without reordering;
// entries are only sorted when they are presented.
package ledger

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/perfgo/apireport/model"
)

// Ledger is an append-only sequence of ledger entries.
type Ledger struct {
	mu      sync.Mutex
	worker  string
	now     func() time.Time
	entries []model.LedgerEntry
}

// Option is a function that configures a Ledger.
type Option func(*Ledger)

// WithClock sets the clock used to timestamp recorded entries.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		l.now = now
	}
}

// WithWorker tags every recorded entry with the worker that produced it.
func WithWorker(worker string) Option {
	return func(l *Ledger) {
		l.worker = worker
	}
}

// New creates an empty ledger.
func New(opts ...Option) *Ledger {
	l := &Ledger{now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Append adds an entry as-is.
func (l *Ledger) Append(entry model.LedgerEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry)
}

// Merge appends entries produced elsewhere, keeping their order and
// timestamps.
func (l *Ledger) Merge(entries ...model.LedgerEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entries...)
}

// RecordTestStart appends a test_start entry stamped with the ledger clock.
func (l *Ledger) RecordTestStart(nodeID string, testID int64) {
	l.record(model.LedgerEntry{Event: model.EventTestStart, NodeID: nodeID, TestID: testID})
}

// RecordTestFinish appends a test_finish entry stamped with the ledger clock.
func (l *Ledger) RecordTestFinish(nodeID string, testID int64, status model.Status) {
	l.record(model.LedgerEntry{Event: model.EventTestFinish, NodeID: nodeID, TestID: testID, Status: status})
}

// RecordRunStarted appends a test_run_started entry.
func (l *Ledger) RecordRunStarted(runID int64) {
	l.record(model.LedgerEntry{Event: model.EventTestRunStarted, RunID: runID})
}

// RecordRunFinished appends a test_run_finished entry.
func (l *Ledger) RecordRunFinished(runID int64) {
	l.record(model.LedgerEntry{Event: model.EventTestRunFinished, RunID: runID})
}

func (l *Ledger) record(entry model.LedgerEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry.Timestamp = l.now()
	entry.Worker = l.worker
	l.entries = append(l.entries, entry)
}

// Entries returns a copy of the entries in insertion order.
func (l *Ledger) Entries() []model.LedgerEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]model.LedgerEntry(nil), l.entries...)
}

// Len returns the number of entries.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Sorted returns a copy of the entries ordered by timestamp. Entries with
// equal timestamps keep their insertion order.
func (l *Ledger) Sorted() []model.LedgerEntry {
	entries := l.Entries()
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp.Before(entries[j].Timestamp)
	})
	return entries
}

// Stats summarizes the test events of a ledger.
type Stats struct {
	// Distinct collector test identifiers seen in test events
	Cases int
	// Number of test_start entries
	Starts int
	// Number of test_finish entries
	Finishes int
	// Number of test events (starts and finishes)
	Reports int
}

// DoubleReported reports whether some case was finished more than once.
func (s Stats) DoubleReported() bool {
	return s.Finishes > s.Cases
}

// Stats counts distinct cases against reported finish events.
func (l *Ledger) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	var stats Stats
	cases := make(map[int64]struct{})
	for _, e := range l.entries {
		switch e.Event {
		case model.EventTestStart:
			stats.Starts++
		case model.EventTestFinish:
			stats.Finishes++
		default:
			continue
		}
		stats.Reports++
		cases[e.TestID] = struct{}{}
	}
	stats.Cases = len(cases)
	return stats
}

// WriteFile writes the entries, sorted by timestamp, as indented JSON.
func (l *Ledger) WriteFile(path string) error {
	data, err := json.MarshalIndent(l.Sorted(), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal ledger: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write ledger: %w", err)
	}
	return nil
}

// ReadFile loads entries written by WriteFile.
func ReadFile(path string) ([]model.LedgerEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var entries []model.LedgerEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse ledger %s: %w", path, err)
	}
	return entries, nil
}
