package bot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/kilnforge/orchestrator/internal/provider"
)

// Client is the narrow transport surface the Provider needs from the bot
// service. Its own HTTP implementation is httpClient below; tests supply
// a fake.
type Client interface {
	CreateConversation(ctx context.Context) (conversationID string, err error)
	PostActivity(ctx context.Context, conversationID, text, fromID string) error
	GetActivities(ctx context.Context, conversationID, watermark string) (activities []activity, newWatermark string, err error)
}

// httpClient talks to a Bot-Framework-shaped conversational service over
// plain HTTP, the way the teacher's adapters talk to their respective
// agent CLIs: a thin wrapper translating a declared request/response
// shape, defensively decoding only the fields this system reads.
type httpClient struct {
	baseURL string
	http    *http.Client
}

// NewHTTPClient builds a Client for the given base URL.
func NewHTTPClient(baseURL string, timeout time.Duration) Client {
	return &httpClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *httpClient) CreateConversation(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v3/conversations", bytes.NewReader([]byte("{}")))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", provider.NewError("bot", provider.KindConnection, 0, "create conversation", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", provider.NewError("bot", provider.KindHTTPStatus, resp.StatusCode, "create conversation failed", nil)
	}

	var out conversationResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", provider.NewError("bot", provider.KindInvalidPayload, 0, "decode conversation response", err)
	}
	return out.ConversationID, nil
}

func (c *httpClient) PostActivity(ctx context.Context, conversationID, text, fromID string) error {
	body, err := json.Marshal(outgoingActivity{
		Type: string(activityTypeMessage),
		From: activityFrom{ID: fromID},
		Text: text,
	})
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/v3/conversations/%s/activities", c.baseURL, conversationID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return provider.NewError("bot", provider.KindConnection, 0, "post activity", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return provider.NewError("bot", provider.KindHTTPStatus, resp.StatusCode, "post activity failed", nil)
	}
	return nil
}

func (c *httpClient) GetActivities(ctx context.Context, conversationID, watermark string) ([]activity, string, error) {
	url := fmt.Sprintf("%s/v3/conversations/%s/activities", c.baseURL, conversationID)
	if watermark != "" {
		url += "?watermark=" + watermark
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, watermark, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, watermark, provider.NewError("bot", provider.KindConnection, 0, "get activities", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, watermark, provider.NewError("bot", provider.KindHTTPStatus, resp.StatusCode, "get activities failed", nil)
	}

	var out activitiesResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, watermark, provider.NewError("bot", provider.KindInvalidPayload, 0, "decode activities response", err)
	}
	return out.Activities, out.Watermark, nil
}
