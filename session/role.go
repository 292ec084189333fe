// Package session brackets a test session with exactly one run on the
// collector, however many worker processes execute the tests.
package session

import (
	"os"

	"github.com/google/uuid"
)

const (
	// EnvWorkerID is set by the coordinator on every worker it spawns
	EnvWorkerID = "APIREPORT_WORKER_ID"
	// EnvSessionID carries the coordinator's session ID to its workers
	EnvSessionID = "APIREPORT_SESSION_ID"
)

// Role says whether this process coordinates the session or is one of its
// workers. It is resolved once at startup.
type Role struct {
	// Worker identifier, empty for the coordinator
	WorkerID string
	// Correlates a coordinator with the workers it spawned
	SessionID string
}

// IsCoordinator reports whether this process owns the run.
func (r Role) IsCoordinator() bool {
	return r.WorkerID == ""
}

// String returns "coordinator" or the worker ID.
func (r Role) String() string {
	if r.IsCoordinator() {
		return "coordinator"
	}
	return r.WorkerID
}

// ResolveRole reads the process topology from the environment. A coordinator
// without an inherited session ID gets a fresh one.
func ResolveRole(getenv func(string) string) Role {
	if getenv == nil {
		getenv = os.Getenv
	}
	role := Role{
		WorkerID:  getenv(EnvWorkerID),
		SessionID: getenv(EnvSessionID),
	}
	if role.SessionID == "" && role.IsCoordinator() {
		role.SessionID = uuid.NewString()
	}
	return role
}

// WorkerEnv returns the environment entries a spawned worker needs to
// resolve its role.
func (r Role) WorkerEnv(workerID string) []string {
	return []string{
		EnvWorkerID + "=" + workerID,
		EnvSessionID + "=" + r.SessionID,
	}
}
