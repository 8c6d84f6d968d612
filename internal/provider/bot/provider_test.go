package bot

import (
	"context"
	"testing"
	"time"

	"github.com/kilnforge/orchestrator/internal/provider"
)

type fakeClient struct {
	conversationID string
	posted         []outgoingActivity
	pollResponses  [][]activity
	pollCount      int
}

func (f *fakeClient) CreateConversation(ctx context.Context) (string, error) {
	return f.conversationID, nil
}

func (f *fakeClient) PostActivity(ctx context.Context, conversationID, text, fromID string) error {
	f.posted = append(f.posted, outgoingActivity{From: activityFrom{ID: fromID}, Text: text})
	return nil
}

func (f *fakeClient) GetActivities(ctx context.Context, conversationID, watermark string) ([]activity, string, error) {
	idx := f.pollCount
	f.pollCount++
	if idx >= len(f.pollResponses) {
		return nil, watermark, nil
	}
	return f.pollResponses[idx], "wm-" + string(rune('a'+idx)), nil
}

func newTestProvider(f *fakeClient) *Provider {
	p := New(f)
	p.sleep = func(time.Duration) {} // no real sleeping in tests
	return p
}

func TestInvokeReturnsFirstNonUserReply(t *testing.T) {
	f := &fakeClient{
		conversationID: "conv-1",
		pollResponses: [][]activity{
			{{Type: "message", From: activityFrom{ID: ConstantUserID}, Text: "echo of our own message"}},
			{{Type: "message", From: activityFrom{ID: "assistant"}, Text: "here is your plan"}},
		},
	}
	p := newTestProvider(f)

	result, err := p.Invoke(context.Background(), provider.Request{SessionID: "s1", Role: "planner", Prompt: "build a widget"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Content != "here is your plan" {
		t.Fatalf("expected assistant reply, got %q", result.Content)
	}
	if result.Model != ModelID {
		t.Fatalf("expected fixed model id, got %q", result.Model)
	}
	if len(f.posted) != 1 || f.posted[0].Text != "[Agent Role: PLANNER]\n\nbuild a widget" {
		t.Fatalf("expected role-prefixed prompt, got %+v", f.posted)
	}
}

func TestInvokeReusesConversationWithinWindow(t *testing.T) {
	f := &fakeClient{conversationID: "conv-1", pollResponses: [][]activity{
		{{Type: "message", From: activityFrom{ID: "assistant"}, Text: "ok"}},
	}}
	p := newTestProvider(f)
	created := 0
	origClient := p.client
	p.client = &countingCreateClient{Client: origClient, created: &created}

	_, err := p.Invoke(context.Background(), provider.Request{SessionID: "s1", Role: "builder", Prompt: "x"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	f.pollResponses = append(f.pollResponses, []activity{{Type: "message", From: activityFrom{ID: "assistant"}, Text: "ok2"}})
	_, err = p.Invoke(context.Background(), provider.Request{SessionID: "s1", Role: "builder", Prompt: "y"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created != 1 {
		t.Fatalf("expected conversation to be created once within reuse window, got %d", created)
	}
}

type countingCreateClient struct {
	Client
	created *int
}

func (c *countingCreateClient) CreateConversation(ctx context.Context) (string, error) {
	*c.created++
	return c.Client.CreateConversation(ctx)
}

func TestInvokeStreamEmitsWordsInOrder(t *testing.T) {
	f := &fakeClient{conversationID: "conv-1", pollResponses: [][]activity{
		{{Type: "message", From: activityFrom{ID: "assistant"}, Text: "one two three"}},
	}}
	p := newTestProvider(f)

	var got []string
	_, err := p.InvokeStream(context.Background(), provider.Request{SessionID: "s1", Role: "builder", Prompt: "x"}, func(tok string) {
		got = append(got, tok)
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	joined := ""
	for _, t := range got {
		joined += t
	}
	if joined != "one two three" {
		t.Fatalf("expected reconstructed content %q, got %q", "one two three", joined)
	}
}

func TestInvokeTimesOutWhenNoReply(t *testing.T) {
	f := &fakeClient{conversationID: "conv-1"} // no poll responses ever
	p := newTestProvider(f)
	p.now = func() time.Time { return fixedClock.next() }

	_, err := p.Invoke(context.Background(), provider.Request{SessionID: "s1", Role: "builder", Prompt: "x"})
	if err == nil {
		t.Fatalf("expected timeout error")
	}
}

// fixedClock advances past PollTimeout quickly so the timeout test doesn't
// need to sleep in real time.
var fixedClock = &clockStepper{t: time.Unix(0, 0)}

type clockStepper struct {
	t time.Time
	n int
}

func (c *clockStepper) next() time.Time {
	c.n++
	c.t = c.t.Add(10 * time.Second)
	return c.t
}
