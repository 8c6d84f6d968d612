package orchestrator

import (
	"context"
	"time"

	"github.com/kilnforge/orchestrator/internal/gateway"
	"github.com/kilnforge/orchestrator/internal/sandbox"
)

// AgentGateway is the narrow surface the Orchestrator needs from the
// Agent Gateway, letting tests substitute a fake instead of standing up
// real providers (spec.md §6's "Agent interface (consumed)").
type AgentGateway interface {
	Invoke(ctx context.Context, req gateway.Request) (gateway.Result, error)
}

// SandboxManager is the narrow surface the Orchestrator needs from the
// Sandbox Manager (spec.md §6's "Sandbox transport (consumed)").
type SandboxManager interface {
	CreateContainer(ctx context.Context, sessionID string, opts sandbox.CreateOptions) (*sandbox.Container, error)
	WriteFile(ctx context.Context, sessionID, path string, content []byte) error
	RunCodeTests(ctx context.Context, sessionID string) (*sandbox.TestResult, error)
	CreateSnapshot(ctx context.Context, sessionID string) (*sandbox.Snapshot, error)
	DestroyContainer(ctx context.Context, sessionID string, reason string) (*sandbox.DestroyResult, error)
}

// AgentSet names the role strings the workflow dispatches to the
// Gateway for each phase, letting a deployment rename roles (e.g. to
// match a routing table it owns) without touching the orchestrator.
type AgentSet struct {
	Planner string
	Builder string
	Fixer   string
}

// DefaultAgentSet matches the roles named in spec.md §4.3's fixed
// supervisory/execution sets.
var DefaultAgentSet = AgentSet{Planner: "planner", Builder: "builder", Fixer: "fixer"}

// clock bundles the two injected time sources used throughout the
// orchestrator for deterministic testing, matching the session store
// and sandbox manager's now/sleep injection pattern.
type clock struct {
	now   func() time.Time
	sleep func(time.Duration)
}
