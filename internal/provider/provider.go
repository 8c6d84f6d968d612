// Package provider defines the contract shared by the two LLM backend
// adapters (the polling bot service and the OpenAI-compatible
// chat-completions service) and the error taxonomy used to classify their
// failures for retry and failover decisions.
package provider

import "context"

// Kind identifies which backend a Result came from.
type Kind string

const (
	KindBot  Kind = "bot"
	KindChat Kind = "chat"
)

// Request is the input to a provider invocation: a role-scoped prompt
// plus the session identity needed for conversation/queue affinity.
type Request struct {
	SessionID string
	Role      string
	Prompt    string
	Model     string // resolved model identifier; empty lets the provider pick its default
}

// Result is the normalized output of a provider invocation, per
// spec.md §4.4 (both modes share these fields).
type Result struct {
	Content          string
	Model            string
	LatencyMS        int64
	TokenCount       int
	ExecutionKind    Kind   // which backend actually served the request
	ExecutionSubkind string // "primary"/"fallback" for chat; "bot" for the polling bot
}

// TokenFunc is invoked once per streamed token/word, in order.
type TokenFunc func(token string)

// Provider is the contract both backend adapters implement.
type Provider interface {
	// Invoke performs a synchronous, non-streaming call and returns the
	// full result.
	Invoke(ctx context.Context, req Request) (Result, error)

	// InvokeStream performs a call with incremental delivery via onToken,
	// returning the same aggregated Result as Invoke once streaming
	// completes (or the underlying provider finishes, for backends that
	// cannot truly stream).
	InvokeStream(ctx context.Context, req Request, onToken TokenFunc) (Result, error)
}
