package bot

import (
	"sync"
	"time"
)

// ReuseWindow is how long a conversation is reused for a given session
// before a new one is created (spec.md §4.4.a).
const ReuseWindow = 25 * time.Minute

type cachedConversation struct {
	id        string
	createdAt time.Time
	watermark string
}

// conversationCache is a process-wide map from session ID to its active
// bot-service conversation, guarded by a single mutex like the other
// shared maps in this system.
type conversationCache struct {
	mu   sync.Mutex
	byID map[string]*cachedConversation
	now  func() time.Time
}

func newConversationCache() *conversationCache {
	return &conversationCache{
		byID: make(map[string]*cachedConversation),
		now:  time.Now,
	}
}

// getOrCreate returns the cached conversation for sessionID if it was
// created within ReuseWindow, otherwise it creates a new one via create
// and caches it.
func (c *conversationCache) getOrCreate(sessionID string, create func() (string, error)) (*cachedConversation, error) {
	c.mu.Lock()
	existing, ok := c.byID[sessionID]
	c.mu.Unlock()

	if ok && c.now().Sub(existing.createdAt) < ReuseWindow {
		return existing, nil
	}

	id, err := create()
	if err != nil {
		return nil, err
	}

	conv := &cachedConversation{id: id, createdAt: c.now()}
	c.mu.Lock()
	c.byID[sessionID] = conv
	c.mu.Unlock()
	return conv, nil
}

// updateWatermark persists the latest watermark cursor for a session's
// conversation.
func (c *conversationCache) updateWatermark(sessionID, watermark string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if conv, ok := c.byID[sessionID]; ok {
		conv.watermark = watermark
	}
}
