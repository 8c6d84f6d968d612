// Package bot implements the Polling Bot Provider adapter (spec.md
// §4.4.a): a stateful conversational service reached by posting an
// activity and polling for the assistant's reply with a watermark
// cursor. It does not support true streaming; InvokeStream emulates it by
// replaying the final response word by word.
package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kilnforge/orchestrator/internal/provider"
)

// ModelID is the bot provider's fixed model identifier — the bot provider
// has no adaptive model selection (spec.md §4.3).
const ModelID = "bot-conversational-v1"

// PollInterval is the base interval between polls.
const PollInterval = 500 * time.Millisecond

// maxPollInterval caps the exponential backoff between empty polls.
const maxPollInterval = 5 * time.Second

// PollTimeout bounds the total time spent waiting for a reply.
const PollTimeout = 60 * time.Second

// streamWordDelay is the emulated per-word delay for streaming emulation.
const streamWordDelay = 15 * time.Millisecond

// Provider implements provider.Provider against a polling bot service.
type Provider struct {
	client Client
	convos *conversationCache
	now    func() time.Time
	sleep  func(time.Duration)
}

// New constructs a bot Provider using the given Client (a real
// httpClient in production, a fake in tests).
func New(client Client) *Provider {
	return &Provider{
		client: client,
		convos: newConversationCache(),
		now:    time.Now,
		sleep:  time.Sleep,
	}
}

// Invoke posts the prompt and polls for the reply, per spec.md §4.4.a.
func (p *Provider) Invoke(ctx context.Context, req provider.Request) (provider.Result, error) {
	start := p.now()

	conv, err := p.convos.getOrCreate(req.SessionID, func() (string, error) {
		return p.client.CreateConversation(ctx)
	})
	if err != nil {
		return provider.Result{}, fmt.Errorf("bot: create conversation: %w", err)
	}

	prefixed := fmt.Sprintf("[Agent Role: %s]\n\n%s", strings.ToUpper(req.Role), req.Prompt)
	if err := p.client.PostActivity(ctx, conv.id, prefixed, ConstantUserID); err != nil {
		return provider.Result{}, fmt.Errorf("bot: post activity: %w", err)
	}

	reply, err := p.pollForReply(ctx, conv)
	if err != nil {
		return provider.Result{}, err
	}

	return provider.Result{
		Content:          reply.Text,
		Model:            ModelID,
		LatencyMS:        p.now().Sub(start).Milliseconds(),
		ExecutionKind:    provider.KindBot,
		ExecutionSubkind: "bot",
	}, nil
}

// pollForReply polls the activities endpoint with an exponential-backoff
// cursor until it finds an activity not authored by ConstantUserID, or
// PollTimeout elapses.
func (p *Provider) pollForReply(ctx context.Context, conv *cachedConversation) (activity, error) {
	deadline := p.now().Add(PollTimeout)
	interval := PollInterval
	watermark := conv.watermark

	for {
		select {
		case <-ctx.Done():
			return activity{}, fmt.Errorf("bot: poll cancelled: %w", ctx.Err())
		default:
		}

		activities, newWatermark, err := p.client.GetActivities(ctx, conv.id, watermark)
		if err != nil {
			return activity{}, fmt.Errorf("bot: poll activities: %w", err)
		}
		watermark = newWatermark
		p.convos.updateWatermark(conv.id, watermark)

		if reply, ok := lastReplyFrom(activities); ok {
			return reply, nil
		}

		if p.now().Add(interval).After(deadline) {
			return activity{}, fmt.Errorf("bot: %w", errPollTimeout)
		}

		p.sleep(interval)
		interval *= 2
		if interval > maxPollInterval {
			interval = maxPollInterval
		}
	}
}

var errPollTimeout = fmt.Errorf("timed out waiting for a reply after %s", PollTimeout)

// lastReplyFrom returns the last message-type activity not authored by
// ConstantUserID, per spec.md §4.4.a step 3.
func lastReplyFrom(activities []activity) (activity, bool) {
	for i := len(activities) - 1; i >= 0; i-- {
		a := activities[i]
		if a.Type == string(activityTypeMessage) && a.From.ID != ConstantUserID {
			return a, true
		}
	}
	return activity{}, false
}

// InvokeStream emulates streaming by invoking synchronously and then
// replaying the content word by word, honoring context cancellation
// between words (spec.md §4.4.a: "the bot provider does not support
// streaming").
func (p *Provider) InvokeStream(ctx context.Context, req provider.Request, onToken provider.TokenFunc) (provider.Result, error) {
	result, err := p.Invoke(ctx, req)
	if err != nil {
		return provider.Result{}, err
	}

	words := strings.Fields(result.Content)
	for i, w := range words {
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		default:
		}
		if i > 0 {
			onToken(" ")
		}
		onToken(w)
		p.sleep(streamWordDelay)
	}
	return result, nil
}
