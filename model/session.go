package model

import (
	"context"
	"time"
)

// Context key for user ID, threaded through request-scoped calls so that
// background persistence tasks can recover it without re-parsing the HTTP
// request.
type userIDKey struct{}

// WithUserID adds user_id to context.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey{}, userID)
}

// GetUserIDFromContext retrieves user_id from context.
func GetUserIDFromContext(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(userIDKey{}).(string)
	return userID, ok
}

// Session is an ordered sequence of chat messages between one user and the
// assistant. SessionID is globally unique; a user owns many sessions.
// AgentID names the Agent Registry entry (and therefore the Vector Store
// tenant_id) the session's memories belong to.
type Session struct {
	SessionID string    `json:"session_id"`
	UserID    string    `json:"user_id"`
	AgentID   string    `json:"agent_id"`
	Title     string    `json:"title"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TitleFromContent derives a session's title from the first message's
// content: the first 50 characters, per the Relational Store's
// append_message contract (spec 4.4).
func TitleFromContent(content string) string {
	runes := []rune(content)
	if len(runes) <= 50 {
		return string(runes)
	}
	return string(runes[:50])
}
