package reconcile

import (
	"fmt"

	"github.com/perfgo/apireport/model"
)

// InvariantError means the host delivered an event the reconciler cannot
// attribute to a test case in the right state. It signals a programming error
// in the host integration, not a recoverable condition.
type InvariantError struct {
	NodeID string
	Phase  model.Phase
	Reason string
}

func (e *InvariantError) Error() string {
	if e.Phase != "" {
		return fmt.Sprintf("reconciliation invariant violated for %s (%s): %s", e.NodeID, e.Phase, e.Reason)
	}
	return fmt.Sprintf("reconciliation invariant violated for %s: %s", e.NodeID, e.Reason)
}
