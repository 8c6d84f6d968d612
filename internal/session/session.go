// Package session manages conversational session state: history, approved
// plans, and TTL-based eviction. Sessions are shared between the external
// HTTP layer and the orchestrator core; the orchestrator only ever reads
// them (it never mutates history on the caller's behalf).
package session

import (
	"sync"
	"time"
)

// Role identifies the speaker of a Message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single turn in a session's conversation history.
type Message struct {
	Role    Role
	Content string
}

// MaxHistory is the maximum number of messages retained in a session's
// history. When a mutation would exceed it, the history is trimmed down
// to RetainHistory before the new message is appended.
const (
	MaxHistory    = 20
	RetainHistory = 16
)

// TTL is how long a session survives after its last activity before the
// reaper evicts it.
const TTL = 30 * time.Minute

// Session holds conversation history, an optional approved plan, and
// activity timestamps for a single client-identified context.
type Session struct {
	ID           string
	History      []Message
	ApprovedPlan *string
	CreatedAt    time.Time
	LastActivity time.Time
}

// Store is a process-wide, mutex-guarded registry of sessions. All access
// is serialized through a single lock, matching the coarse-locking
// discipline used for the other shared process-wide maps in this system.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*Session
	now      func() time.Time
}

// NewStore creates an empty session store.
func NewStore() *Store {
	return &Store{
		sessions: make(map[string]*Session),
		now:      time.Now,
	}
}

// Get returns the session for id, or nil if none exists.
func (s *Store) Get(id string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[id]
}

// GetOrCreate returns the existing session for id, creating a new one if
// necessary, and touches its last-activity timestamp.
func (s *Store) GetOrCreate(id string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		now := s.now()
		sess = &Session{
			ID:           id,
			CreatedAt:    now,
			LastActivity: now,
		}
		s.sessions[id] = sess
	}
	return sess
}

// AppendHistory appends a message to the session's history, enforcing the
// MaxHistory invariant: when appending would push the history past
// MaxHistory, the oldest entries are dropped first, retaining only the
// most recent RetainHistory messages, and the new message is appended to
// that trimmed slice.
func (s *Store) AppendHistory(id string, msg Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return
	}

	if len(sess.History)+1 > MaxHistory {
		excess := len(sess.History) - RetainHistory
		if excess < 0 {
			excess = 0
		}
		sess.History = append([]Message{}, sess.History[excess:]...)
	}
	sess.History = append(sess.History, msg)
	sess.LastActivity = s.now()
}

// SetApprovedPlan promotes a plan to be the session's approved plan,
// driving subsequent execution-role prompts for this session.
func (s *Store) SetApprovedPlan(id, plan string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return
	}
	sess.ApprovedPlan = &plan
	sess.LastActivity = s.now()
}

// Touch refreshes a session's last-activity timestamp without otherwise
// mutating it.
func (s *Store) Touch(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.sessions[id]; ok {
		sess.LastActivity = s.now()
	}
}

// Delete removes a session. Deleting a session that does not exist is a
// no-op.
func (s *Store) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}

// ReapExpired evicts all sessions whose last activity is older than TTL,
// relative to now, and returns the count of evicted sessions.
func (s *Store) ReapExpired(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for id, sess := range s.sessions {
		if now.Sub(sess.LastActivity) > TTL {
			delete(s.sessions, id)
			count++
		}
	}
	return count
}

// RunReaper starts a background goroutine that calls ReapExpired every
// interval until stop is closed. Callers should arrange to close stop
// during graceful shutdown.
func (s *Store) RunReaper(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.ReapExpired(time.Now())
			case <-stop:
				return
			}
		}
	}()
}
