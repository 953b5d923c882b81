package store

import (
	"context"
	"testing"

	"github.com/ghiac/agentize/model"
)

func newTestRelationalStore(t *testing.T) *RelationalStore {
	t.Helper()
	s, err := NewRelationalStore(":memory:")
	if err != nil {
		t.Fatalf("NewRelationalStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRelationalStore_CreateSession(t *testing.T) {
	s := newTestRelationalStore(t)
	ctx := context.Background()

	session, err := s.CreateSession(ctx, "user-1", "agent-1")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if session.SessionID == "" {
		t.Fatal("expected a non-empty session_id")
	}
	if !session.Active {
		t.Error("a freshly created session should be active")
	}

	sessions, err := s.ListSessions(ctx, "user-1")
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(sessions) != 1 || sessions[0].SessionID != session.SessionID {
		t.Fatalf("expected the created session to be listed, got %+v", sessions)
	}
	if sessions[0].Title != "" {
		t.Errorf("expected an eagerly created session to start with an empty title, got %q", sessions[0].Title)
	}
}

func TestRelationalStore_AppendMessage_LazilyCreatesSessionWithDerivedTitle(t *testing.T) {
	s := newTestRelationalStore(t)
	ctx := context.Background()

	content := "Remind me to call the dentist about next week's appointment and also pick up the dry cleaning before five"
	if err := s.AppendMessage(ctx, "sess-1", "user-1", "agent-1", model.ChatRoleHuman, content); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}

	sess, err := s.GetSession(ctx, "sess-1")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if sess == nil {
		t.Fatal("expected AppendMessage to create the session lazily")
	}
	if sess.Title != model.TitleFromContent(content) {
		t.Errorf("expected title derived from first message, got %q", sess.Title)
	}
}

func TestRelationalStore_GetSessionMessages_UnboundedWhenTopKNonPositive(t *testing.T) {
	s := newTestRelationalStore(t)
	ctx := context.Background()

	for i := 0; i < 12; i++ {
		if err := s.AppendMessage(ctx, "sess-1", "user-1", "agent-1", model.ChatRoleHuman, "turn"); err != nil {
			t.Fatalf("AppendMessage %d: %v", i, err)
		}
	}

	all, err := s.GetSessionMessages(ctx, "user-1", "sess-1", 0)
	if err != nil {
		t.Fatalf("GetSessionMessages(topK=0): %v", err)
	}
	if len(all) != 12 {
		t.Fatalf("expected all 12 messages with topK<=0, got %d", len(all))
	}

	capped, err := s.GetSessionMessages(ctx, "user-1", "sess-1", 5)
	if err != nil {
		t.Fatalf("GetSessionMessages(topK=5): %v", err)
	}
	if len(capped) != 5 {
		t.Fatalf("expected 5 messages with topK=5, got %d", len(capped))
	}
}

func TestRelationalStore_GetSessionMessages_OrderedOldestToNewest(t *testing.T) {
	s := newTestRelationalStore(t)
	ctx := context.Background()

	contents := []string{"first", "second", "third"}
	for _, c := range contents {
		if err := s.AppendMessage(ctx, "sess-1", "user-1", "agent-1", model.ChatRoleHuman, c); err != nil {
			t.Fatalf("AppendMessage: %v", err)
		}
	}

	messages, err := s.GetSessionMessages(ctx, "user-1", "sess-1", 0)
	if err != nil {
		t.Fatalf("GetSessionMessages: %v", err)
	}
	if len(messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(messages))
	}
	for i, c := range contents {
		if messages[i].Content != c {
			t.Errorf("position %d: expected %q, got %q", i, c, messages[i].Content)
		}
	}
}

// TestRelationalStore_GetSessionMessages_TenantIsolation covers P1: a
// session's messages must never be visible to a user_id other than its own,
// even when the caller knows the exact session_id.
func TestRelationalStore_GetSessionMessages_TenantIsolation(t *testing.T) {
	s := newTestRelationalStore(t)
	ctx := context.Background()

	if err := s.AppendMessage(ctx, "sess-1", "user-1", "agent-1", model.ChatRoleHuman, "owner's secret"); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}

	intruder, err := s.GetSessionMessages(ctx, "user-2", "sess-1", 0)
	if err != nil {
		t.Fatalf("GetSessionMessages as intruder: %v", err)
	}
	if len(intruder) != 0 {
		t.Fatalf("expected another user_id to see zero messages for someone else's session, got %d", len(intruder))
	}

	owner, err := s.GetSessionMessages(ctx, "user-1", "sess-1", 0)
	if err != nil {
		t.Fatalf("GetSessionMessages as owner: %v", err)
	}
	if len(owner) != 1 {
		t.Fatalf("expected the owner to see their own message, got %d", len(owner))
	}
}

func TestRelationalStore_SetSessionActive(t *testing.T) {
	s := newTestRelationalStore(t)
	ctx := context.Background()

	session, err := s.CreateSession(ctx, "user-1", "agent-1")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	if err := s.SetSessionActive(ctx, session.SessionID, false); err != nil {
		t.Fatalf("SetSessionActive(false): %v", err)
	}
	sess, err := s.GetSession(ctx, session.SessionID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if sess.Active {
		t.Error("expected session to be inactive after SetSessionActive(false)")
	}

	if err := s.SetSessionActive(ctx, session.SessionID, true); err != nil {
		t.Fatalf("SetSessionActive(true): %v", err)
	}
	sess, err = s.GetSession(ctx, session.SessionID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if !sess.Active {
		t.Error("expected session to be active again after SetSessionActive(true)")
	}
}

func TestRelationalStore_GetSession_UnknownReturnsNilNotError(t *testing.T) {
	s := newTestRelationalStore(t)
	sess, err := s.GetSession(context.Background(), "does-not-exist")
	if err != nil {
		t.Fatalf("expected no error for an unknown session, got %v", err)
	}
	if sess != nil {
		t.Errorf("expected nil session, got %+v", sess)
	}
}

func TestRelationalStore_ListSessions_OnlyOwnedByUser(t *testing.T) {
	s := newTestRelationalStore(t)
	ctx := context.Background()

	if _, err := s.CreateSession(ctx, "user-1", "agent-1"); err != nil {
		t.Fatalf("CreateSession user-1: %v", err)
	}
	if _, err := s.CreateSession(ctx, "user-2", "agent-1"); err != nil {
		t.Fatalf("CreateSession user-2: %v", err)
	}

	sessions, err := s.ListSessions(ctx, "user-1")
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("expected user-1 to see only their own session, got %d", len(sessions))
	}
}

func TestRelationalStore_DeleteSession_RemovesMessagesToo(t *testing.T) {
	s := newTestRelationalStore(t)
	ctx := context.Background()

	if err := s.AppendMessage(ctx, "sess-1", "user-1", "agent-1", model.ChatRoleHuman, "hello"); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	if err := s.DeleteSession(ctx, "sess-1"); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}

	sess, err := s.GetSession(ctx, "sess-1")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if sess != nil {
		t.Error("expected session to be gone after DeleteSession")
	}

	messages, err := s.GetSessionMessages(ctx, "user-1", "sess-1", 0)
	if err != nil {
		t.Fatalf("GetSessionMessages: %v", err)
	}
	if len(messages) != 0 {
		t.Errorf("expected messages to be deleted along with the session, got %d", len(messages))
	}
}

func TestRelationalStore_APIKeyRoundTrip(t *testing.T) {
	s := newTestRelationalStore(t)
	ctx := context.Background()

	plaintext, key, err := model.GenerateAPIKey("user-1", model.RateLimits{RPM: 10})
	if err != nil {
		t.Fatalf("GenerateAPIKey: %v", err)
	}
	if err := s.PutAPIKey(ctx, key); err != nil {
		t.Fatalf("PutAPIKey: %v", err)
	}

	got, err := s.GetAPIKeyByHash(ctx, model.HashAPIKey(plaintext))
	if err != nil {
		t.Fatalf("GetAPIKeyByHash: %v", err)
	}
	if got == nil || got.KeyID != key.KeyID {
		t.Fatalf("expected to find the stored key, got %+v", got)
	}

	missing, err := s.GetAPIKeyByHash(ctx, "not-a-real-hash")
	if err != nil {
		t.Fatalf("GetAPIKeyByHash(unknown): %v", err)
	}
	if missing != nil {
		t.Error("expected nil for an unknown hash")
	}
}

func TestRelationalStore_AgentRegistry(t *testing.T) {
	s := newTestRelationalStore(t)
	ctx := context.Background()

	agent := model.AgentRegistryEntry{
		AgentID:   "agent-1",
		UserID:    "user-1",
		AgentName: "Research Assistant",
		AgentSlug: "research-assistant",
		Status:    model.AgentStatusActive,
	}
	if err := s.PutAgent(ctx, agent); err != nil {
		t.Fatalf("PutAgent: %v", err)
	}

	got, err := s.GetAgent(ctx, "agent-1")
	if err != nil {
		t.Fatalf("GetAgent: %v", err)
	}
	if got == nil || got.AgentSlug != "research-assistant" {
		t.Fatalf("expected to retrieve the stored agent, got %+v", got)
	}

	listed, err := s.ListAgents(ctx, "user-1")
	if err != nil {
		t.Fatalf("ListAgents: %v", err)
	}
	if len(listed) != 1 {
		t.Fatalf("expected 1 agent for user-1, got %d", len(listed))
	}

	if err := s.DeleteAgent(ctx, "agent-1"); err != nil {
		t.Fatalf("DeleteAgent: %v", err)
	}
	got, err = s.GetAgent(ctx, "agent-1")
	if err != nil {
		t.Fatalf("GetAgent after delete: %v", err)
	}
	if got != nil {
		t.Error("expected agent to be gone after DeleteAgent")
	}
}
