package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/kilnforge/orchestrator/internal/gateway"
	"github.com/kilnforge/orchestrator/internal/observability"
	"github.com/kilnforge/orchestrator/internal/provider"
	"github.com/kilnforge/orchestrator/internal/sandbox"
)

// recordingTracer counts phase starts/ends so tests can assert the
// workflow instruments the tracer without depending on a real backend.
type recordingTracer struct {
	observability.NoOpTracer
	mu          sync.Mutex
	phases      []string
	generations []string
	completed   []string
}

func (r *recordingTracer) StartPhase(trace observability.TraceContext, phase string, opts observability.SpanOptions) observability.SpanContext {
	r.mu.Lock()
	r.phases = append(r.phases, phase)
	r.mu.Unlock()
	return observability.SpanContext{PhaseName: phase}
}

func (r *recordingTracer) RecordGeneration(span observability.SpanContext, gen observability.GenerationInput) {
	r.mu.Lock()
	r.generations = append(r.generations, gen.Name)
	r.mu.Unlock()
}

func (r *recordingTracer) CompleteTrace(trace observability.TraceContext, opts observability.CompleteOptions) {
	r.mu.Lock()
	r.completed = append(r.completed, opts.Status)
	r.mu.Unlock()
}

// fakeGateway dispatches a queue of canned responses per role, in FIFO
// order, mirroring the real Gateway's Invoke signature without touching
// any provider.
type fakeGateway struct {
	mu     sync.Mutex
	queues map[string][]func() (gateway.Result, error)
	calls  []string
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{queues: make(map[string][]func() (gateway.Result, error))}
}

func (g *fakeGateway) enqueue(role string, fn func() (gateway.Result, error)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.queues[role] = append(g.queues[role], fn)
}

func (g *fakeGateway) Invoke(ctx context.Context, req gateway.Request) (gateway.Result, error) {
	g.mu.Lock()
	g.calls = append(g.calls, req.Role)
	q := g.queues[req.Role]
	var fn func() (gateway.Result, error)
	if len(q) > 0 {
		fn = q[0]
		g.queues[req.Role] = q[1:]
	}
	g.mu.Unlock()

	if fn == nil {
		return gateway.Result{}, fmt.Errorf("fakeGateway: no response queued for role %q", req.Role)
	}
	return fn()
}

func ok(content string) func() (gateway.Result, error) {
	return func() (gateway.Result, error) {
		return gateway.Result{Result: provider.Result{Content: content}}, nil
	}
}

func fails(msg string) func() (gateway.Result, error) {
	return func() (gateway.Result, error) {
		return gateway.Result{}, errors.New(msg)
	}
}

func blocked(gate chan struct{}) func() (gateway.Result, error) {
	return func() (gateway.Result, error) {
		<-gate
		return gateway.Result{Result: provider.Result{Content: "plan"}}, nil
	}
}

// fakeSandbox implements the SandboxManager interface with scripted
// responses; RunCodeTests replies from an ordered queue, one entry per
// call, repeating the last entry if the queue is exhausted.
type fakeSandbox struct {
	mu             sync.Mutex
	createErr      error
	createGate     chan struct{}
	testResults    []*sandbox.TestResult
	testCallCount  int
	destroyReasons []string
}

func (s *fakeSandbox) CreateContainer(ctx context.Context, sessionID string, opts sandbox.CreateOptions) (*sandbox.Container, error) {
	if s.createGate != nil {
		<-s.createGate
	}
	if s.createErr != nil {
		return nil, s.createErr
	}
	return &sandbox.Container{SessionID: sessionID}, nil
}

func (s *fakeSandbox) WriteFile(ctx context.Context, sessionID, path string, content []byte) error {
	return nil
}

func (s *fakeSandbox) RunCodeTests(ctx context.Context, sessionID string) (*sandbox.TestResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.testCallCount
	s.testCallCount++
	if len(s.testResults) == 0 {
		return &sandbox.TestResult{Success: true}, nil
	}
	if idx >= len(s.testResults) {
		idx = len(s.testResults) - 1
	}
	return s.testResults[idx], nil
}

func (s *fakeSandbox) CreateSnapshot(ctx context.Context, sessionID string) (*sandbox.Snapshot, error) {
	return &sandbox.Snapshot{Name: "snap-" + sessionID, ImageID: "img"}, nil
}

func (s *fakeSandbox) DestroyContainer(ctx context.Context, sessionID string, reason string) (*sandbox.DestroyResult, error) {
	s.mu.Lock()
	s.destroyReasons = append(s.destroyReasons, reason)
	s.mu.Unlock()
	return &sandbox.DestroyResult{OK: true}, nil
}

func waitForTerminal(t *testing.T, o *Orchestrator, sessionID string) Status {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		st, err := o.Status(sessionID)
		if err != nil {
			t.Fatalf("Status: %v", err)
		}
		if st.State.IsTerminal() {
			return st
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("execution for %s did not reach a terminal state in time", sessionID)
	return Status{}
}

const fileBlockBody = "```js\n// filepath: index.js\nconsole.log('ok')\n```\n"

func TestStartSucceedsOnFirstIteration(t *testing.T) {
	gw := newFakeGateway()
	gw.enqueue("planner", ok("a plan"))
	gw.enqueue("builder", ok(fileBlockBody))

	sb := &fakeSandbox{testResults: []*sandbox.TestResult{{Success: true}}}

	o := New(gw, sb, DefaultAgentSet)
	if _, err := o.Start(context.Background(), "sess-1", "build a thing", nil); err != nil {
		t.Fatalf("Start: %v", err)
	}

	st := waitForTerminal(t, o, "sess-1")
	if st.State != StateSuccess {
		t.Errorf("state = %s, want SUCCESS", st.State)
	}
	if st.IterationCount != 1 {
		t.Errorf("iteration count = %d, want 1", st.IterationCount)
	}

	sb.mu.Lock()
	defer sb.mu.Unlock()
	if len(sb.destroyReasons) != 1 || sb.destroyReasons[0] != "completed" {
		t.Errorf("destroyReasons = %v, want [completed]", sb.destroyReasons)
	}
}

func TestBuildLoopFixesAfterFailureThenSucceeds(t *testing.T) {
	gw := newFakeGateway()
	gw.enqueue("planner", ok("a plan"))
	gw.enqueue("builder", ok(fileBlockBody))
	gw.enqueue("builder", ok(fileBlockBody))
	gw.enqueue("fixer", ok("fix notes"))

	sb := &fakeSandbox{testResults: []*sandbox.TestResult{
		{Success: false, Errors: []string{"SyntaxError: unexpected token"}},
		{Success: true},
	}}

	o := New(gw, sb, DefaultAgentSet)
	if _, err := o.Start(context.Background(), "sess-2", "build a thing", nil); err != nil {
		t.Fatalf("Start: %v", err)
	}

	st := waitForTerminal(t, o, "sess-2")
	if st.State != StateSuccess {
		t.Errorf("state = %s, want SUCCESS", st.State)
	}
	if st.IterationCount != 2 {
		t.Errorf("iteration count = %d, want 2", st.IterationCount)
	}

	details, err := o.Details("sess-2")
	if err != nil {
		t.Fatalf("Details: %v", err)
	}
	if details.Iterations[0].State != IterationError {
		t.Errorf("iteration 0 state = %s, want error", details.Iterations[0].State)
	}
	if details.Iterations[1].State != IterationSuccess {
		t.Errorf("iteration 1 state = %s, want success", details.Iterations[1].State)
	}
}

func TestBuildLoopFailsAfterMaxIterations(t *testing.T) {
	gw := newFakeGateway()
	gw.enqueue("planner", ok("a plan"))
	for i := 0; i < MaxIterations; i++ {
		gw.enqueue("builder", ok(fileBlockBody))
	}
	for i := 0; i < MaxIterations-1; i++ {
		gw.enqueue("fixer", ok("fix notes"))
	}

	sb := &fakeSandbox{testResults: []*sandbox.TestResult{
		{Success: false, Errors: []string{"still broken"}},
	}}

	o := New(gw, sb, DefaultAgentSet)
	if _, err := o.Start(context.Background(), "sess-3", "build a thing", nil); err != nil {
		t.Fatalf("Start: %v", err)
	}

	st := waitForTerminal(t, o, "sess-3")
	if st.State != StateFailed {
		t.Errorf("state = %s, want FAILED", st.State)
	}
	if st.IterationCount != MaxIterations {
		t.Errorf("iteration count = %d, want %d", st.IterationCount, MaxIterations)
	}

	sb.mu.Lock()
	defer sb.mu.Unlock()
	if len(sb.destroyReasons) != 1 || sb.destroyReasons[0] != "failed" {
		t.Errorf("destroyReasons = %v, want [failed]", sb.destroyReasons)
	}
}

func TestPlanningFailureTransitionsToFailed(t *testing.T) {
	gw := newFakeGateway()
	gw.enqueue("planner", fails("provider unreachable"))

	sb := &fakeSandbox{}
	o := New(gw, sb, DefaultAgentSet)
	if _, err := o.Start(context.Background(), "sess-4", "build a thing", nil); err != nil {
		t.Fatalf("Start: %v", err)
	}

	st := waitForTerminal(t, o, "sess-4")
	if st.State != StateFailed {
		t.Errorf("state = %s, want FAILED", st.State)
	}
}

func TestStartRejectsAlreadyRunningSession(t *testing.T) {
	gate := make(chan struct{})
	gw := newFakeGateway()
	gw.enqueue("planner", blocked(gate))

	sb := &fakeSandbox{}
	o := New(gw, sb, DefaultAgentSet)

	if _, err := o.Start(context.Background(), "sess-5", "build a thing", nil); err != nil {
		t.Fatalf("first Start: %v", err)
	}

	_, err := o.Start(context.Background(), "sess-5", "build again", nil)
	var already *AlreadyRunning
	if !errors.As(err, &already) {
		t.Errorf("second Start error = %v, want *AlreadyRunning", err)
	}

	close(gate)
}

func TestStatusAndDetailsReturnNotFoundForUnknownSession(t *testing.T) {
	o := New(newFakeGateway(), &fakeSandbox{}, DefaultAgentSet)

	if _, err := o.Status("ghost"); !errors.As(err, new(*NotFound)) {
		t.Errorf("Status error = %v, want *NotFound", err)
	}
	if _, err := o.Details("ghost"); !errors.As(err, new(*NotFound)) {
		t.Errorf("Details error = %v, want *NotFound", err)
	}
}

func TestStopIsIdempotentAndDestroysSandbox(t *testing.T) {
	gate := make(chan struct{})
	gw := newFakeGateway()
	gw.enqueue("planner", blocked(gate))
	defer close(gate)

	sb := &fakeSandbox{}
	o := New(gw, sb, DefaultAgentSet)

	if _, err := o.Start(context.Background(), "sess-6", "build a thing", nil); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if _, err := o.Stop(context.Background(), "sess-6", "user_requested"); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	st, err := o.Status("sess-6")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.State != StateFailed {
		t.Errorf("state after Stop = %s, want FAILED", st.State)
	}

	if _, err := o.Stop(context.Background(), "sess-6", "user_requested"); err != nil {
		t.Fatalf("second Stop: %v", err)
	}

	sb.mu.Lock()
	defer sb.mu.Unlock()
	if len(sb.destroyReasons) != 1 || sb.destroyReasons[0] != "stopped" {
		t.Errorf("destroyReasons = %v, want [stopped]", sb.destroyReasons)
	}
}

func TestCleanupRemovesExecutionBookkeeping(t *testing.T) {
	gw := newFakeGateway()
	gw.enqueue("planner", ok("a plan"))
	gw.enqueue("builder", ok(fileBlockBody))
	sb := &fakeSandbox{testResults: []*sandbox.TestResult{{Success: true}}}

	o := New(gw, sb, DefaultAgentSet)
	if _, err := o.Start(context.Background(), "sess-7", "build a thing", nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitForTerminal(t, o, "sess-7")

	o.Cleanup("sess-7")
	if _, err := o.Status("sess-7"); !errors.As(err, new(*NotFound)) {
		t.Errorf("Status after Cleanup = %v, want *NotFound", err)
	}
}

func TestTracerRecordsPlanningAndBuildingPhases(t *testing.T) {
	gw := newFakeGateway()
	gw.enqueue("planner", ok("a plan"))
	gw.enqueue("builder", ok(fileBlockBody))
	sb := &fakeSandbox{testResults: []*sandbox.TestResult{{Success: true}}}

	tracer := &recordingTracer{}
	o := New(gw, sb, DefaultAgentSet).WithTracer(tracer)
	if _, err := o.Start(context.Background(), "sess-8", "build a thing", nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitForTerminal(t, o, "sess-8")

	tracer.mu.Lock()
	defer tracer.mu.Unlock()
	if len(tracer.phases) != 2 || tracer.phases[0] != "PLANNING" || tracer.phases[1] != "BUILDING" {
		t.Errorf("phases = %v, want [PLANNING BUILDING]", tracer.phases)
	}
	if len(tracer.generations) != 2 || tracer.generations[0] != "Planner" || tracer.generations[1] != "Builder" {
		t.Errorf("generations = %v, want [Planner Builder]", tracer.generations)
	}
	if len(tracer.completed) != 1 || tracer.completed[0] != "completed" {
		t.Errorf("completed = %v, want [completed]", tracer.completed)
	}
}
