package orchestrator

import (
	"sync"
	"time"
)

// EventType identifies the category of an orchestration event. The set
// below is the minimum required surface named in spec.md §6.
type EventType string

const (
	EventSandboxCreating    EventType = "sandbox_creating"
	EventSandboxCreated     EventType = "sandbox_created"
	EventSandboxFailed      EventType = "sandbox_failed"
	EventPlanningStart      EventType = "planning_start"
	EventPlanningComplete   EventType = "planning_complete"
	EventPlanningFailed     EventType = "planning_failed"
	EventBuildingStart      EventType = "building_start"
	EventBuildingComplete   EventType = "building_complete"
	EventBuildingFailed     EventType = "building_failed"
	EventSnapshotCreated    EventType = "snapshot_created"
	EventInstallingDeps     EventType = "installing_dependencies"
	EventBuildErrors        EventType = "build_errors"
	EventFixingStart        EventType = "fixing_start"
	EventFixingComplete     EventType = "fixing_complete"
	EventFixingFailed       EventType = "fixing_failed"
	EventStateChange        EventType = "state_change"
	EventExecutionComplete  EventType = "execution_complete"
	EventExecutionFailed    EventType = "execution_failed"
	EventExecutionTimeout   EventType = "execution_timeout"
)

// Event is an immutable record appended to an execution's event log and
// delivered exactly once to the caller's callback, in generation order.
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp int64                  `json:"timestamp_ms"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// Callback is the caller-supplied sink for events produced by an
// execution. The Execution holds this as a borrowed reference for its
// lifetime only; Cleanup clears it.
type Callback func(Event)

// eventLog accumulates an execution's events and forwards each one to the
// registered callback synchronously, in the order it was appended. This
// makes in-order, exactly-once delivery trivial: there is no buffering or
// fan-out goroutine to reorder events across phases.
//
// Its own mutex guards the events slice and the callback reference
// independently of Execution's mu, since emit is called from the
// workflow goroutine while Status/Details read the same slice from
// whatever goroutine is polling the HTTP API — the callback itself is
// invoked outside the lock so a reentrant caller (e.g. one that calls
// back into Status) cannot deadlock against it.
type eventLog struct {
	mu     sync.Mutex
	events []Event
	cb     Callback
	now    func() time.Time
}

func newEventLog(cb Callback, now func() time.Time) *eventLog {
	if now == nil {
		now = time.Now
	}
	return &eventLog{cb: cb, now: now}
}

// emit appends an event to the log and, if a callback is registered,
// delivers it synchronously.
func (l *eventLog) emit(t EventType, data map[string]interface{}) Event {
	l.mu.Lock()
	evt := Event{
		Type:      t,
		Timestamp: l.now().UnixMilli(),
		Data:      data,
	}
	l.events = append(l.events, evt)
	cb := l.cb
	l.mu.Unlock()

	if cb != nil {
		cb(evt)
	}
	return evt
}

// clear drops the callback reference, breaking the Execution↔caller cycle
// described in spec.md §9's design notes. The accumulated event slice is
// left intact for Details() read access.
func (l *eventLog) clear() {
	l.mu.Lock()
	l.cb = nil
	l.mu.Unlock()
}

// snapshot returns a copy of the accumulated events for read-only
// projections (Details).
func (l *eventLog) snapshot() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Event, len(l.events))
	copy(out, l.events)
	return out
}

// count returns the number of accumulated events, for Status's
// lightweight EventCount field.
func (l *eventLog) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events)
}
