// Package summary renders the merged ledger at the end of a session.
package summary

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/perfgo/apireport/ledger"
	"github.com/perfgo/apireport/model"
)

const title = "API report summary"

// Render writes the entries, which must already be sorted, followed by the
// case and report counts.
func Render(w io.Writer, entries []model.LedgerEntry, stats ledger.Stats) error {
	if _, err := fmt.Fprintf(w, "%s %s %s\n", rule, title, rule); err != nil {
		return err
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Date", "Event", "Run ID", "Report ID", "Worker", "Status", "Node ID"})
	table.SetAutoWrapText(false)
	table.SetBorder(false)
	for _, e := range entries {
		table.Append([]string{
			e.Timestamp.Format(time.RFC3339Nano),
			string(e.Event),
			formatID(e.RunID),
			formatID(e.TestID),
			e.Worker,
			string(e.Status),
			e.NodeID,
		})
	}
	table.Render()

	if _, err := fmt.Fprintf(w, "Cases reported: %d, test reports sent: %d\n", stats.Cases, stats.Finishes); err != nil {
		return err
	}
	if stats.DoubleReported() {
		if _, err := fmt.Fprintf(w, "WARNING: %d finish reports for %d cases, some cases were reported more than once\n", stats.Finishes, stats.Cases); err != nil {
			return err
		}
	}
	return nil
}

var rule = strings.Repeat("=", 30)

func formatID(id int64) string {
	if id == 0 {
		return ""
	}
	return strconv.FormatInt(id, 10)
}
