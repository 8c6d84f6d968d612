package orchestrator

import (
	"sync"
	"time"
)

// IterationState is the terminal status of a single Build→Test attempt.
type IterationState string

const (
	IterationPending IterationState = "pending"
	IterationSuccess IterationState = "success"
	IterationError   IterationState = "error"
)

// Iteration is a single Build→Test attempt within an Execution
// (spec.md §3). Iterations are append-only; the list stops growing the
// moment one reaches IterationSuccess or MaxIterations is reached.
type Iteration struct {
	Ordinal     int
	StartedAt   time.Time
	State       IterationState
	BuilderCode string
	Errors      []string
	Snapshot    *SnapshotRecord
}

// SnapshotRecord mirrors internal/sandbox.Snapshot without importing the
// sandbox package's transport dependency into the orchestrator's public
// surface — Details() callers only need these three fields.
type SnapshotRecord struct {
	Name      string
	ImageID   string
	Timestamp time.Time
}

// Execution is one active autonomous run, keyed by session ID
// (spec.md §3). The Orchestrator exclusively owns it; the Execution
// exclusively owns its Iterations, plan, code, and event log.
type Execution struct {
	mu sync.Mutex

	SessionID   string
	Prompt      string
	State       State
	StartedAt   time.Time
	Iterations  []*Iteration
	CurrentIter int // 1-based
	Plan        string
	LatestCode  string
	Errors      []string
	Snapshots   []SnapshotRecord

	log    *eventLog
	cancel func() // cancels the orchestration timeout
}

// Status is the read-only projection returned by Orchestrator.Status.
type Status struct {
	SessionID      string
	State          State
	IterationCount int
	ErrorCount     int
	SnapshotCount  int
	EventCount     int
	Duration       time.Duration
}

// Details is the read-only full projection returned by
// Orchestrator.Details.
type Details struct {
	Status
	Plan       string
	LatestCode string
	Iterations []Iteration
	Snapshots  []SnapshotRecord
	Events     []Event
}

func newExecution(sessionID, prompt string, cb Callback, now func() time.Time, cancel func()) *Execution {
	return &Execution{
		SessionID: sessionID,
		Prompt:    prompt,
		State:     StateIdle,
		StartedAt: now(),
		log:       newEventLog(cb, now),
		cancel:    cancel,
	}
}

// transition moves the execution to a new state and emits both the
// specific phase event (if data is non-nil) and the generic
// state_change event required by spec.md §4.5 for every transition.
func (e *Execution) transition(to State) {
	e.mu.Lock()
	from := e.State
	e.State = to
	e.mu.Unlock()

	e.log.emit(EventStateChange, map[string]interface{}{"from": string(from), "to": string(to)})
}

func (e *Execution) emit(t EventType, data map[string]interface{}) {
	e.log.emit(t, data)
}

func (e *Execution) status(now time.Time) Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Status{
		SessionID:      e.SessionID,
		State:          e.State,
		IterationCount: len(e.Iterations),
		ErrorCount:     len(e.Errors),
		SnapshotCount:  len(e.Snapshots),
		EventCount:     e.log.count(),
		Duration:       now.Sub(e.StartedAt),
	}
}

func (e *Execution) details(now time.Time) Details {
	e.mu.Lock()
	defer e.mu.Unlock()

	iterations := make([]Iteration, len(e.Iterations))
	for i, it := range e.Iterations {
		iterations[i] = *it
	}
	snapshots := make([]SnapshotRecord, len(e.Snapshots))
	copy(snapshots, e.Snapshots)

	return Details{
		Status: Status{
			SessionID:      e.SessionID,
			State:          e.State,
			IterationCount: len(e.Iterations),
			ErrorCount:     len(e.Errors),
			SnapshotCount:  len(e.Snapshots),
			EventCount:     e.log.count(),
			Duration:       now.Sub(e.StartedAt),
		},
		Plan:       e.Plan,
		LatestCode: e.LatestCode,
		Iterations: iterations,
		Snapshots:  snapshots,
		Events:     e.log.snapshot(),
	}
}
