package store

import (
	"context"
	"sync"

	"github.com/ghiac/agentize/log"
	"github.com/ghiac/agentize/model"
)

// defaultSessionCap / defaultUserSessionCap are the per-session and
// per-user-session-count bounds from spec 4.10.
const (
	defaultSessionCap     = 30
	defaultUserSessionCap = 300
)

// HistoryFetcher loads the last topK messages for a session from the
// durable store, used by Preload.
type HistoryFetcher func(sessionID string, topK int) ([]model.ChatMessage, error)

// HistoryCache is the Chat History Cache (C10): a per-process bounded cache
// fronting the Relational Store (C4). It is an optimization only —
// correctness never depends on it (spec 4.10).
type HistoryCache struct {
	mu sync.Mutex

	sessionCap     int
	userSessionCap int

	// user_id -> session_id -> messages (acts as the bounded deque: capped
	// at sessionCap per session, oldest dropped first).
	store map[string]map[string][]model.ChatMessage
	// user_id -> insertion-ordered session_ids, for arbitrary eviction when
	// a user's session count exceeds userSessionCap.
	sessionOrder map[string][]string
}

// NewHistoryCache builds a HistoryCache with the given per-session and
// per-user-session caps; zero values fall back to spec defaults.
func NewHistoryCache(sessionCap, userSessionCap int) *HistoryCache {
	if sessionCap <= 0 {
		sessionCap = defaultSessionCap
	}
	if userSessionCap <= 0 {
		userSessionCap = defaultUserSessionCap
	}
	return &HistoryCache{
		sessionCap:     sessionCap,
		userSessionCap: userSessionCap,
		store:          make(map[string]map[string][]model.ChatMessage),
		sessionOrder:   make(map[string][]string),
	}
}

// Get returns the cached messages for (userID, sessionID), or nil if absent.
func (c *HistoryCache) Get(userID, sessionID string) []model.ChatMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	sessions, ok := c.store[userID]
	if !ok {
		return nil
	}
	msgs := sessions[sessionID]
	out := make([]model.ChatMessage, len(msgs))
	copy(out, msgs)
	return out
}

// Set replaces the cached messages for a session, capping at sessionCap
// (keeping the most recent).
func (c *HistoryCache) Set(userID, sessionID string, messages []model.ChatMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setLocked(userID, sessionID, messages)
}

func (c *HistoryCache) setLocked(userID, sessionID string, messages []model.ChatMessage) {
	if _, ok := c.store[userID]; !ok {
		c.store[userID] = make(map[string][]model.ChatMessage)
	}
	if _, existed := c.store[userID][sessionID]; !existed {
		c.sessionOrder[userID] = append(c.sessionOrder[userID], sessionID)
		c.evictIfNeededLocked(userID)
	}

	capped := messages
	if len(capped) > c.sessionCap {
		capped = capped[len(capped)-c.sessionCap:]
	}
	c.store[userID][sessionID] = capped
}

// evictIfNeededLocked drops the oldest session for userID if the cap is
// exceeded; eviction order is arbitrary (first-inserted) per spec.
func (c *HistoryCache) evictIfNeededLocked(userID string) {
	order := c.sessionOrder[userID]
	for len(order) > c.userSessionCap {
		oldest := order[0]
		order = order[1:]
		delete(c.store[userID], oldest)
	}
	c.sessionOrder[userID] = order
}

// Append adds one message to a session's cached list, capping at
// sessionCap.
func (c *HistoryCache) Append(userID, sessionID string, message model.ChatMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.store[userID]; !ok {
		c.store[userID] = make(map[string][]model.ChatMessage)
	}
	if _, existed := c.store[userID][sessionID]; !existed {
		c.sessionOrder[userID] = append(c.sessionOrder[userID], sessionID)
		c.evictIfNeededLocked(userID)
	}

	msgs := append(c.store[userID][sessionID], message)
	if len(msgs) > c.sessionCap {
		msgs = msgs[len(msgs)-c.sessionCap:]
	}
	c.store[userID][sessionID] = msgs
}

// Preload spawns a background task that calls fetcher for each session_id
// and populates the cache; failures per session are isolated (spec 4.10).
func (c *HistoryCache) Preload(ctx context.Context, userID string, sessionIDs []string, fetcher HistoryFetcher, topK int) {
	go func() {
		for _, sessionID := range sessionIDs {
			select {
			case <-ctx.Done():
				return
			default:
			}
			msgs, err := fetcher(sessionID, topK)
			if err != nil {
				log.Log.Warnf("[HistoryCache] preload failed for session %s: %v", sessionID, err)
				continue
			}
			c.Set(userID, sessionID, msgs)
		}
	}()
}
