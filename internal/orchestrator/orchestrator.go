// Package orchestrator implements the Execution Orchestrator (spec.md
// §4.1): the per-session state machine driving Planner→Builder→Test→
// Fixer iteration over a sandboxed container, via the Agent Gateway.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/kilnforge/orchestrator/internal/gateway"
	"github.com/kilnforge/orchestrator/internal/observability"
	"github.com/kilnforge/orchestrator/internal/sandbox"
)

// Orchestrator owns the process-wide map of active executions, one per
// session, guarded by a coarse mutex matching the discipline used
// elsewhere in this system (session store, sandbox container map).
type Orchestrator struct {
	mu         sync.Mutex
	executions map[string]*runningExecution

	gateway AgentGateway
	sandbox SandboxManager
	agents  AgentSet
	tracer  observability.Tracer

	now   func() time.Time
	sleep func(time.Duration)
}

// runningExecution pairs an Execution with the machinery needed to stop
// it: the context cancel func and a record of why it was cancelled, so
// the workflow goroutine can tell an explicit Stop from an orchestration
// timeout.
type runningExecution struct {
	exec   *Execution
	cancel context.CancelFunc
	trace  observability.TraceContext // set once in run(), read only by its own goroutine thereafter

	mu         sync.Mutex
	stopReason string
	done       chan struct{}
}

// New constructs an Orchestrator. agents lets a deployment rename the
// planner/builder/fixer role strings dispatched to the Gateway; pass
// DefaultAgentSet for the spec.md-literal names.
func New(g AgentGateway, s SandboxManager, agents AgentSet) *Orchestrator {
	return &Orchestrator{
		executions: make(map[string]*runningExecution),
		gateway:    g,
		sandbox:    s,
		agents:     agents,
		tracer:     &observability.NoOpTracer{},
		now:        time.Now,
		sleep:      time.Sleep,
	}
}

// WithTracer attaches an observability.Tracer; every phase of every
// execution started afterward is recorded as a trace/span/generation.
// Returns the receiver for chaining at construction time.
func (o *Orchestrator) WithTracer(t observability.Tracer) *Orchestrator {
	o.tracer = t
	return o
}

// Start begins a new execution for sessionID, running the workflow in
// the background. It fails with AlreadyRunning if one already exists.
func (o *Orchestrator) Start(ctx context.Context, sessionID, prompt string, onEvent Callback) (*Execution, error) {
	o.mu.Lock()
	if existing, ok := o.executions[sessionID]; ok && !existing.exec.State.IsTerminal() {
		o.mu.Unlock()
		return nil, &AlreadyRunning{SessionID: sessionID}
	}
	o.mu.Unlock()

	// The workflow outlives the caller's request context, so it is rooted
	// in context.Background() rather than ctx; MaxOrchestrationTime is its
	// only deadline.
	runCtx, cancel := context.WithTimeout(context.Background(), MaxOrchestrationTime)
	exec := newExecution(sessionID, prompt, onEvent, o.now, cancel)
	re := &runningExecution{exec: exec, cancel: cancel, done: make(chan struct{})}

	o.mu.Lock()
	o.executions[sessionID] = re
	o.mu.Unlock()

	go o.run(runCtx, re)

	return exec, nil
}

// Status returns a read-only projection of sessionID's execution.
func (o *Orchestrator) Status(sessionID string) (Status, error) {
	re, err := o.lookup(sessionID)
	if err != nil {
		return Status{}, err
	}
	return re.exec.status(o.now()), nil
}

// Details returns the full read-only projection of sessionID's
// execution.
func (o *Orchestrator) Details(sessionID string) (Details, error) {
	re, err := o.lookup(sessionID)
	if err != nil {
		return Details{}, err
	}
	return re.exec.details(o.now()), nil
}

// Stop cancels sessionID's execution, destroys its sandbox, and
// transitions it to FAILED. Idempotent: stopping a terminal execution
// just reports its already-settled duration.
func (o *Orchestrator) Stop(ctx context.Context, sessionID, reason string) (time.Duration, error) {
	re, err := o.lookup(sessionID)
	if err != nil {
		return 0, err
	}

	re.exec.mu.Lock()
	alreadyTerminal := re.exec.State.IsTerminal()
	re.exec.mu.Unlock()
	if alreadyTerminal {
		return o.now().Sub(re.exec.StartedAt), nil
	}

	re.mu.Lock()
	if re.stopReason == "" {
		re.stopReason = reason
	}
	re.mu.Unlock()
	re.cancel()

	_, _ = o.sandbox.DestroyContainer(ctx, sessionID, "stopped")
	re.exec.transition(StateFailed)
	re.exec.emit(EventExecutionFailed, map[string]interface{}{"reason": reason})
	o.tracer.CompleteTrace(re.trace, observability.CompleteOptions{Status: "failed"})

	return o.now().Sub(re.exec.StartedAt), nil
}

// Cleanup releases sessionID's bookkeeping. Idempotent; safe to call
// after a terminal state or after Stop.
func (o *Orchestrator) Cleanup(sessionID string) {
	o.mu.Lock()
	re, ok := o.executions[sessionID]
	if !ok {
		o.mu.Unlock()
		return
	}
	delete(o.executions, sessionID)
	o.mu.Unlock()

	re.exec.log.clear()
}

func (o *Orchestrator) lookup(sessionID string) (*runningExecution, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	re, ok := o.executions[sessionID]
	if !ok {
		return nil, &NotFound{SessionID: sessionID}
	}
	return re, nil
}

// run drives the Plan→Build→Test→Fix workflow for a single execution,
// per spec.md §4.1. It is the only goroutine that mutates exec's state
// machine; Stop only cancels the context and performs sandbox teardown.
func (o *Orchestrator) run(ctx context.Context, re *runningExecution) {
	defer close(re.done)
	exec := re.exec

	re.trace = o.tracer.StartTrace(exec.SessionID, observability.TraceOptions{
		Workflow:  "orchestration",
		SessionID: exec.SessionID,
	})

	exec.emit(EventSandboxCreating, nil)
	if _, err := o.sandbox.CreateContainer(ctx, exec.SessionID, sandbox.CreateOptions{}); err != nil {
		exec.emit(EventSandboxFailed, map[string]interface{}{"error": err.Error()})
		o.fail(ctx, re, fmt.Sprintf("sandbox creation failed: %v", err))
		return
	}
	exec.emit(EventSandboxCreated, nil)

	if o.checkCancelled(ctx, re) {
		return
	}

	exec.transition(StatePlanning)
	exec.emit(EventPlanningStart, nil)
	planningSpan := o.tracer.StartPhase(re.trace, "PLANNING", observability.SpanOptions{})
	planResult, err := o.gateway.Invoke(ctx, gateway.Request{
		SessionID: exec.SessionID,
		Role:      o.agents.Planner,
		Prompt:    exec.Prompt,
	})
	if err != nil {
		o.tracer.RecordSkipped(planningSpan, "Planner", err.Error())
		o.tracer.EndPhase(planningSpan, "error", 0)
		exec.emit(EventPlanningFailed, map[string]interface{}{"error": err.Error()})
		o.fail(ctx, re, fmt.Sprintf("planning failed: %v", err))
		return
	}
	exec.mu.Lock()
	exec.Plan = planResult.Content
	exec.mu.Unlock()
	o.tracer.RecordGeneration(planningSpan, observability.GenerationInput{
		Name:         "Planner",
		Model:        planResult.Model,
		Input:        exec.Prompt,
		Output:       planResult.Content,
		OutputTokens: planResult.TokenCount,
		Status:       "completed",
		DurationMs:   planResult.LatencyMS,
	})
	o.tracer.EndPhase(planningSpan, "completed", planResult.LatencyMS)
	exec.emit(EventPlanningComplete, map[string]interface{}{"plan_length": len(planResult.Content)})

	if o.checkCancelled(ctx, re) {
		return
	}

	o.buildLoop(ctx, re)
}

// buildLoop runs the bounded Build→Test→Fix loop, per spec.md §4.1 step
// 3.
func (o *Orchestrator) buildLoop(ctx context.Context, re *runningExecution) {
	exec := re.exec
	var lastErrors []string

	for iter := 1; iter <= MaxIterations; iter++ {
		if o.checkCancelled(ctx, re) {
			return
		}

		exec.transition(StateBuilding)
		exec.emit(EventBuildingStart, map[string]interface{}{"iteration": iter})
		buildSpan := o.tracer.StartPhase(re.trace, "BUILDING", observability.SpanOptions{
			Iteration:     iter,
			MaxIterations: MaxIterations,
		})

		builderPrompt := exec.Prompt
		if iter > 1 {
			builderPrompt = fmt.Sprintf(
				"Previous attempt had errors. Fix them and try again.\n\nErrors:\n%s\n\nOriginal request: %s",
				strings.Join(lastErrors, "\n"), exec.Prompt)
		}

		plan := exec.Plan
		builderResult, err := o.gateway.Invoke(ctx, gateway.Request{
			SessionID: exec.SessionID,
			Role:      o.agents.Builder,
			Prompt:    builderPrompt,
			Plan:      &plan,
		})

		it := &Iteration{Ordinal: iter, StartedAt: o.now(), State: IterationPending}
		exec.mu.Lock()
		exec.Iterations = append(exec.Iterations, it)
		exec.CurrentIter = iter
		exec.mu.Unlock()

		if err != nil {
			o.tracer.RecordSkipped(buildSpan, "Builder", err.Error())
			o.tracer.EndPhase(buildSpan, "error", 0)
			exec.emit(EventBuildingFailed, map[string]interface{}{"iteration": iter, "error": err.Error()})
			it.State = IterationError
			it.Errors = []string{err.Error()}
			o.fail(ctx, re, fmt.Sprintf("building failed: %v", err))
			return
		}

		it.BuilderCode = builderResult.Content
		exec.mu.Lock()
		exec.LatestCode = builderResult.Content
		exec.mu.Unlock()
		o.tracer.RecordGeneration(buildSpan, observability.GenerationInput{
			Name:         "Builder",
			Model:        builderResult.Model,
			Input:        builderPrompt,
			Output:       builderResult.Content,
			OutputTokens: builderResult.TokenCount,
			Status:       "completed",
			DurationMs:   builderResult.LatencyMS,
		})
		exec.emit(EventBuildingComplete, map[string]interface{}{"iteration": iter})

		o.writeFiles(ctx, exec, builderResult.Content)

		if o.checkCancelled(ctx, re) {
			return
		}

		if snap, err := o.sandbox.CreateSnapshot(ctx, exec.SessionID); err == nil {
			record := SnapshotRecord{Name: snap.Name, ImageID: snap.ImageID, Timestamp: snap.Timestamp}
			exec.mu.Lock()
			exec.Snapshots = append(exec.Snapshots, record)
			exec.mu.Unlock()
			it.Snapshot = &record
			exec.emit(EventSnapshotCreated, map[string]interface{}{"iteration": iter, "name": snap.Name})
		}

		exec.emit(EventInstallingDeps, map[string]interface{}{"iteration": iter})
		testResult, err := o.sandbox.RunCodeTests(ctx, exec.SessionID)
		if err != nil {
			o.tracer.EndPhase(buildSpan, "error", 0)
			exec.emit(EventBuildErrors, map[string]interface{}{"iteration": iter, "error": err.Error()})
			it.State = IterationError
			it.Errors = []string{err.Error()}
			lastErrors = it.Errors
		} else if testResult.Success {
			o.tracer.EndPhase(buildSpan, "completed", 0)
			it.State = IterationSuccess
			exec.transition(StateSuccess)
			exec.emit(EventExecutionComplete, map[string]interface{}{"iteration": iter})
			o.tracer.CompleteTrace(re.trace, observability.CompleteOptions{Status: "completed"})
			o.finish(ctx, re, "completed")
			return
		} else {
			o.tracer.EndPhase(buildSpan, "failed", 0)
			it.State = IterationError
			it.Errors = testResult.Errors
			lastErrors = testResult.Errors
			exec.mu.Lock()
			exec.Errors = append(exec.Errors, testResult.Errors...)
			exec.mu.Unlock()
			exec.emit(EventBuildErrors, map[string]interface{}{"iteration": iter, "errors": testResult.Errors})
		}

		if iter == MaxIterations {
			exec.transition(StateFailed)
			exec.emit(EventExecutionFailed, map[string]interface{}{"reason": "max_iterations"})
			o.tracer.CompleteTrace(re.trace, observability.CompleteOptions{Status: "failed"})
			o.finish(ctx, re, "failed")
			return
		}

		if o.checkCancelled(ctx, re) {
			return
		}

		exec.transition(StateFixing)
		exec.emit(EventFixingStart, map[string]interface{}{"iteration": iter})
		fixSpan := o.tracer.StartPhase(re.trace, "FIXING", observability.SpanOptions{Iteration: iter, MaxIterations: MaxIterations})
		fixerPrompt := fmt.Sprintf(
			"The code has errors. Analyze and fix them.\n\nErrors:\n%s\n\nOriginal code:\n%s",
			strings.Join(lastErrors, "\n"), it.BuilderCode)
		fixerResult, err := o.gateway.Invoke(ctx, gateway.Request{
			SessionID: exec.SessionID,
			Role:      o.agents.Fixer,
			Prompt:    fixerPrompt,
		})
		// The fixer's textual output is not applied directly — its role is
		// only to prime the next iteration's error-augmented Builder call
		// (spec.md §4.1). Its failure is logged but does not short-circuit
		// the loop.
		if err != nil {
			o.tracer.RecordSkipped(fixSpan, "Fixer", err.Error())
			o.tracer.EndPhase(fixSpan, "error", 0)
			exec.emit(EventFixingFailed, map[string]interface{}{"iteration": iter, "error": err.Error()})
		} else {
			o.tracer.RecordGeneration(fixSpan, observability.GenerationInput{
				Name:         "Fixer",
				Model:        fixerResult.Model,
				Input:        fixerPrompt,
				Output:       fixerResult.Content,
				OutputTokens: fixerResult.TokenCount,
				Status:       "completed",
				DurationMs:   fixerResult.LatencyMS,
			})
			o.tracer.EndPhase(fixSpan, "completed", fixerResult.LatencyMS)
			exec.emit(EventFixingComplete, map[string]interface{}{"iteration": iter})
		}
	}
}

// writeFiles extracts fenced file blocks from builder output and writes
// each, best-effort, per spec.md §4.1's "Writes are best-effort" rule.
func (o *Orchestrator) writeFiles(ctx context.Context, exec *Execution, code string) {
	for _, f := range extractFiles(code) {
		if err := o.sandbox.WriteFile(ctx, exec.SessionID, f.Path, []byte(f.Content)); err != nil {
			exec.emit(EventBuildErrors, map[string]interface{}{"write_failed": f.Path, "error": err.Error()})
		}
	}
}

// checkCancelled observes ctx.Done() at a suspension point and, if
// fired, finalizes the execution as either an explicit Stop (FAILED,
// already transitioned by Stop) or an orchestration timeout (TIMEOUT).
// Returns true if the workflow should return immediately.
func (o *Orchestrator) checkCancelled(ctx context.Context, re *runningExecution) bool {
	select {
	case <-ctx.Done():
	default:
		return false
	}

	re.mu.Lock()
	stopped := re.stopReason != ""
	re.mu.Unlock()
	if stopped {
		// Stop() already performed teardown and transitioned to FAILED.
		return true
	}

	exec := re.exec
	exec.mu.Lock()
	alreadyTerminal := exec.State.IsTerminal()
	exec.mu.Unlock()
	if alreadyTerminal {
		return true
	}

	exec.transition(StateTimeout)
	exec.emit(EventExecutionTimeout, nil)
	o.tracer.CompleteTrace(re.trace, observability.CompleteOptions{Status: "blocked"})
	o.sandbox.DestroyContainer(context.Background(), exec.SessionID, "timeout")
	return true
}

// fail transitions exec to FAILED, destroys its sandbox with reason
// "failed", and records the message.
func (o *Orchestrator) fail(ctx context.Context, re *runningExecution, message string) {
	exec := re.exec
	exec.mu.Lock()
	if exec.State.IsTerminal() {
		exec.mu.Unlock()
		return
	}
	exec.Errors = append(exec.Errors, message)
	exec.mu.Unlock()

	exec.transition(StateFailed)
	exec.emit(EventExecutionFailed, map[string]interface{}{"reason": message})
	o.tracer.CompleteTrace(re.trace, observability.CompleteOptions{Status: "failed"})
	o.sandbox.DestroyContainer(context.Background(), exec.SessionID, "failed")
}

// finish tears down the sandbox on natural completion (success or
// exhausted iterations), per spec.md §4.1 step 4.
func (o *Orchestrator) finish(ctx context.Context, re *runningExecution, reason string) {
	re.cancel()
	o.sandbox.DestroyContainer(context.Background(), re.exec.SessionID, reason)
}
