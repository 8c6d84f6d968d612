// Package chat implements the Chat-Completions Provider adapter
// (spec.md §4.4.b): an OpenAI-compatible /v1/chat/completions endpoint
// with a primary (bearer-authenticated) and fallback (unauthenticated)
// tier, non-streaming and SSE-streaming modes.
package chat

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/kilnforge/orchestrator/internal/provider"
)

// Timeouts per spec.md §4.4.b / §5.
const (
	PrimaryTimeout        = 120 * time.Second
	FallbackTimeout       = 600 * time.Second
	FallbackStreamTimeout = 900 * time.Second
)

// Endpoint describes one of the two chat-completions tiers.
type Endpoint struct {
	URL         string
	BearerToken string // empty for the fallback endpoint
}

// Provider implements provider.Provider against a primary/fallback pair
// of OpenAI-compatible endpoints.
type Provider struct {
	Primary  Endpoint
	Fallback Endpoint
	client   *http.Client
	now      func() time.Time
}

// New constructs a chat Provider. The supplied http.Client's Timeout
// field is ignored — per-call timeouts are applied via context deadlines
// so primary and fallback can use different budgets on the same client.
func New(primary, fallback Endpoint) *Provider {
	return &Provider{
		Primary:  primary,
		Fallback: fallback,
		client:   &http.Client{},
		now:      time.Now,
	}
}

// Invoke performs a non-streaming completion, trying the primary endpoint
// first and falling back on any non-2xx response or transport error.
func (p *Provider) Invoke(ctx context.Context, req provider.Request) (provider.Result, error) {
	start := p.now()

	body := chatRequest{
		Model:       req.Model,
		Messages:    []chatMessage{{Role: "user", Content: req.Prompt}},
		Temperature: defaultTemperature,
		MaxTokens:   defaultMaxTokens,
		Stream:      false,
	}

	primaryErr := p.tryOnce(ctx, p.Primary, body, PrimaryTimeout)
	if primaryErr.err == nil {
		return p.resultFrom(primaryErr, req.Model, "primary", start), nil
	}

	fallbackErr := p.tryOnce(ctx, p.Fallback, body, FallbackTimeout)
	if fallbackErr.err == nil {
		return p.resultFrom(fallbackErr, req.Model, "fallback", start), nil
	}

	return provider.Result{}, &provider.AllProvidersFailed{Primary: primaryErr.err, Fallback: fallbackErr.err}
}

type callOutcome struct {
	resp *chatResponse
	err  error
}

func (p *Provider) tryOnce(ctx context.Context, ep Endpoint, body chatRequest, timeout time.Duration) callOutcome {
	if ep.URL == "" {
		return callOutcome{err: fmt.Errorf("endpoint not configured")}
	}

	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	payload, err := json.Marshal(body)
	if err != nil {
		return callOutcome{err: err}
	}

	httpReq, err := http.NewRequestWithContext(cctx, http.MethodPost, ep.URL+"/v1/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return callOutcome{err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if ep.BearerToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+ep.BearerToken)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return callOutcome{err: classifyTransportError(err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return callOutcome{err: provider.NewError("chat", provider.KindHTTPStatus, resp.StatusCode, "non-2xx response", nil)}
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return callOutcome{err: provider.NewError("chat", provider.KindInvalidPayload, 0, "decode response", err)}
	}
	return callOutcome{resp: &out}
}

func (p *Provider) resultFrom(o callOutcome, model, subkind string, start time.Time) provider.Result {
	content := ""
	if len(o.resp.Choices) > 0 {
		content = o.resp.Choices[0].Message.Content
	}
	return provider.Result{
		Content:          content,
		Model:            model,
		LatencyMS:        p.now().Sub(start).Milliseconds(),
		TokenCount:       o.resp.Usage.TotalTokens,
		ExecutionKind:    provider.KindChat,
		ExecutionSubkind: subkind,
	}
}

// InvokeStream performs a streaming completion, consuming SSE lines and
// invoking onToken for each delta.content chunk, per spec.md §4.4.b.
func (p *Provider) InvokeStream(ctx context.Context, req provider.Request, onToken provider.TokenFunc) (provider.Result, error) {
	start := p.now()

	body := chatRequest{
		Model:       req.Model,
		Messages:    []chatMessage{{Role: "user", Content: req.Prompt}},
		Temperature: defaultTemperature,
		MaxTokens:   defaultMaxTokens,
		Stream:      true,
	}

	content, subkind, err := p.streamFromBestEndpoint(ctx, body, onToken)
	if err != nil {
		return provider.Result{}, err
	}

	return provider.Result{
		Content:          content,
		Model:            req.Model,
		LatencyMS:        p.now().Sub(start).Milliseconds(),
		ExecutionKind:    provider.KindChat,
		ExecutionSubkind: subkind,
	}, nil
}

func (p *Provider) streamFromBestEndpoint(ctx context.Context, body chatRequest, onToken provider.TokenFunc) (string, string, error) {
	content, err := p.streamOnce(ctx, p.Primary, body, PrimaryTimeout, onToken)
	if err == nil {
		return content, "primary", nil
	}

	content, fbErr := p.streamOnce(ctx, p.Fallback, body, FallbackStreamTimeout, onToken)
	if fbErr == nil {
		return content, "fallback", nil
	}

	return "", "", &provider.AllProvidersFailed{Primary: err, Fallback: fbErr}
}

func (p *Provider) streamOnce(ctx context.Context, ep Endpoint, body chatRequest, timeout time.Duration, onToken provider.TokenFunc) (string, error) {
	if ep.URL == "" {
		return "", fmt.Errorf("endpoint not configured")
	}

	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	payload, err := json.Marshal(body)
	if err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(cctx, http.MethodPost, ep.URL+"/v1/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if ep.BearerToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+ep.BearerToken)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return "", classifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", provider.NewError("chat", provider.KindHTTPStatus, resp.StatusCode, "non-2xx stream response", nil)
	}

	var sb strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "[DONE]" {
			break
		}

		var chunk chatStreamChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			continue // malformed chunk; skip per defensive-parsing rule
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		sb.WriteString(delta)
		onToken(delta)
	}
	if err := scanner.Err(); err != nil {
		return sb.String(), classifyTransportError(err)
	}
	return sb.String(), nil
}

// classifyTransportError maps a raw net/http error into the retryable
// error-kind taxonomy spec.md §4.3/§7 require for the chat provider.
func classifyTransportError(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded"):
		return provider.NewError("chat", provider.KindTimeout, 0, "request timed out", err)
	case strings.Contains(msg, "connection refused"):
		return provider.NewError("chat", provider.KindECONNREFUSED, 0, "connection refused", err)
	case strings.Contains(msg, "connection reset") || strings.Contains(msg, "broken pipe") || strings.Contains(msg, "eof"):
		return provider.NewError("chat", provider.KindConnection, 0, "connection error", err)
	default:
		return provider.NewError("chat", provider.KindFetchFailed, 0, "fetch failed", err)
	}
}
