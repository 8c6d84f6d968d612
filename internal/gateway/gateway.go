package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/kilnforge/orchestrator/internal/provider"
)

// builderRoles get their prompt prefixed with the approved plan, per
// spec.md §4.3's prompt-composition rule.
var builderRoles = map[string]bool{"builder": true, "coder": true, "executor": true}

// Gateway routes requests to the bot or chat provider, applying intent
// detection, adaptive model selection, a bounded concurrency queue, and
// bounded retry for the chat provider only.
type Gateway struct {
	Bot    provider.Provider
	Chat   provider.Provider
	Models ModelConfig

	queue *chatQueue
	sleep func(time.Duration)
}

// New constructs a Gateway. concurrency is the chat-provider concurrency
// cap (default 2, spec.md §6). onAlert is invoked when a request's queue
// wait exceeds AlertThreshold; pass nil to ignore.
func New(bot, chat provider.Provider, models ModelConfig, concurrency int, onAlert func(time.Duration)) *Gateway {
	return &Gateway{
		Bot:    bot,
		Chat:   chat,
		Models: models,
		queue:  newChatQueue(concurrency, onAlert),
		sleep:  time.Sleep,
	}
}

// Invoke resolves the provider for req.Role, composes the final prompt,
// and — for the chat provider — applies the concurrency queue, adaptive
// model selection, and bounded retry.
func (g *Gateway) Invoke(ctx context.Context, req Request) (Result, error) {
	kind := RoleProvider(req.Role)
	prompt := composePrompt(req.Role, req.Prompt, req.Plan)

	if kind == ProviderBot {
		res, err := g.Bot.Invoke(ctx, provider.Request{
			SessionID: req.SessionID,
			Role:      req.Role,
			Prompt:    prompt,
		})
		if err != nil {
			return Result{}, err
		}
		return Result{Result: res, ProviderKind: ProviderBot}, nil
	}

	return g.invokeChat(ctx, req, prompt)
}

// InvokeStream is the streaming counterpart of Invoke. The bot provider
// emulates streaming word-by-word (see internal/provider/bot); the chat
// provider streams natively via SSE. Retry does not apply to streaming
// calls — a failure mid-stream is surfaced directly, matching the
// teacher's treatment of partial-output phases as non-retryable.
func (g *Gateway) InvokeStream(ctx context.Context, req Request, onToken provider.TokenFunc) (Result, error) {
	kind := RoleProvider(req.Role)
	prompt := composePrompt(req.Role, req.Prompt, req.Plan)

	if kind == ProviderBot {
		res, err := g.Bot.InvokeStream(ctx, provider.Request{
			SessionID: req.SessionID,
			Role:      req.Role,
			Prompt:    prompt,
		}, onToken)
		if err != nil {
			return Result{}, err
		}
		return Result{Result: res, ProviderKind: ProviderBot}, nil
	}

	queueDepth := g.queue.depth()
	waited, release, err := g.queue.acquire(ctx)
	if err != nil {
		return Result{}, err
	}
	defer release()

	intent := DetectIntent(req.Prompt)
	model, reason := SelectModel(g.Models, req.Role, req.Complexity, intent, queueDepth)

	res, err := g.Chat.InvokeStream(ctx, provider.Request{
		SessionID: req.SessionID,
		Role:      req.Role,
		Prompt:    prompt,
		Model:     model,
	}, onToken)
	if err != nil {
		return Result{}, err
	}

	return Result{
		Result:       res,
		ProviderKind: ProviderChat,
		Intent:       intent,
		ModelReason:  reason,
		QueueWaitMS:  waited.Milliseconds(),
	}, nil
}

func (g *Gateway) invokeChat(ctx context.Context, req Request, prompt string) (Result, error) {
	queueDepth := g.queue.depth()
	waited, release, err := g.queue.acquire(ctx)
	if err != nil {
		return Result{}, err
	}
	defer release()

	intent := DetectIntent(req.Prompt)
	model, reason := SelectModel(g.Models, req.Role, req.Complexity, intent, queueDepth)

	providerReq := provider.Request{
		SessionID: req.SessionID,
		Role:      req.Role,
		Prompt:    prompt,
		Model:     model,
	}

	res, err := withRetry(g.sleep, func() (provider.Result, error) {
		return g.Chat.Invoke(ctx, providerReq)
	})
	if err != nil {
		return Result{}, err
	}

	return Result{
		Result:       res,
		ProviderKind: ProviderChat,
		Intent:       intent,
		ModelReason:  reason,
		QueueWaitMS:  waited.Milliseconds(),
	}, nil
}

// composePrompt applies spec.md §4.3's plan-injection rule for execution
// roles with an approved plan.
func composePrompt(role, prompt string, plan *string) string {
	if plan == nil || !builderRoles[normalizedRole(role)] {
		return prompt
	}
	return fmt.Sprintf("APPROVED PLAN:\n%s\n\nNow implement this plan fully. Generate all files.\n\nOriginal request: %s", *plan, prompt)
}
