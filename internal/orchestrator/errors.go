package orchestrator

import "fmt"

// AlreadyRunning is returned by Start when an execution already exists
// for the given session (spec.md §7).
type AlreadyRunning struct {
	SessionID string
}

func (e *AlreadyRunning) Error() string {
	return fmt.Sprintf("orchestrator: execution already running for session %s", e.SessionID)
}

// NotFound is returned by Status/Details/Stop for an unknown session
// (spec.md §7).
type NotFound struct {
	SessionID string
}

func (e *NotFound) Error() string {
	return fmt.Sprintf("orchestrator: no execution found for session %s", e.SessionID)
}
