// Package gateway implements the Agent Gateway with Adaptive Routing
// (spec.md §4.3): role→provider resolution, prompt-intent detection,
// adaptive model selection for the chat provider, a bounded concurrency
// queue, and bounded retry for transient provider errors.
package gateway

import (
	"fmt"

	"github.com/kilnforge/orchestrator/internal/provider"
)

// ProviderKind identifies which provider adapter a role is routed to.
type ProviderKind string

const (
	ProviderBot  ProviderKind = "bot"
	ProviderChat ProviderKind = "chat"
)

// Complexity is the caller-declared difficulty of a request, feeding
// adaptive model selection for the chat provider.
type Complexity string

const (
	ComplexitySimple  Complexity = "simple"
	ComplexityMedium  Complexity = "medium"
	ComplexityComplex Complexity = "complex"
)

// Intent is the result of classifying a prompt's content.
type Intent string

const (
	IntentScaffold Intent = "SCAFFOLD"
	IntentCRUD     Intent = "CRUD"
	IntentStatic   Intent = "STATIC"
	IntentRefactor Intent = "REFACTOR"
	IntentGeneral  Intent = "GENERAL"
)

// ModelConfig names the four fixed model identifiers the decision table
// in spec.md §4.3 chooses among.
type ModelConfig struct {
	Large string
	Mid   string
	Small string
	Fixer string
}

// Request is a single Gateway invocation.
type Request struct {
	SessionID  string
	Role       string
	Prompt     string
	Plan       *string // non-nil when an approved plan exists
	Complexity Complexity
}

// Result augments a provider.Result with the routing decisions that
// produced it, for observability.
type Result struct {
	provider.Result
	ProviderKind ProviderKind
	Intent       Intent
	ModelReason  string
	QueueWaitMS  int64
}

// QueueFull is returned synchronously when the chat-provider concurrency
// queue is already at its cap (spec.md §9's bounded-queue redesign note).
type QueueFull struct {
	Cap int
}

func (e *QueueFull) Error() string {
	return fmt.Sprintf("gateway: chat queue full (cap %d)", e.Cap)
}
