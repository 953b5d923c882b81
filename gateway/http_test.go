package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	llminterface "github.com/ghiac/agentize/llm-interface"
	"github.com/ghiac/agentize/model"
	"github.com/ghiac/agentize/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// fakeChatStreamer is a hand-rolled ChatStreamer: it replays a fixed set of
// token events and rag results instead of driving a real orchestrator.
type fakeChatStreamer struct {
	tokens   []llminterface.TokenEvent
	memories []model.RAGResult
	final    string
	queued   bool
	err      error
}

func (f *fakeChatStreamer) StreamTurn(ctx context.Context, sessionID, userID, agentID, message string) (*StreamResult, bool, error) {
	if f.err != nil {
		return nil, false, f.err
	}
	if f.queued {
		return nil, true, nil
	}
	ch := make(chan llminterface.TokenEvent, len(f.tokens))
	for _, ev := range f.tokens {
		ch <- ev
	}
	close(ch)
	return &StreamResult{
		Tokens:   ch,
		Memories: f.memories,
		Final:    func() string { return f.final },
	}, false, nil
}

func newTestGateway(t *testing.T, chat ChatStreamer) (*Gateway, *store.RelationalStore, string) {
	t.Helper()
	relational, err := store.NewRelationalStore(":memory:")
	if err != nil {
		t.Fatalf("NewRelationalStore: %v", err)
	}
	t.Cleanup(func() { relational.Close() })

	auth := NewAuthenticator(relational)
	limiter := NewRateLimiter()
	catalog := model.NewToolCatalog()

	plaintext, key, err := model.GenerateAPIKey("user-1", model.RateLimits{})
	if err != nil {
		t.Fatalf("GenerateAPIKey: %v", err)
	}
	if err := relational.PutAPIKey(context.Background(), key); err != nil {
		t.Fatalf("PutAPIKey: %v", err)
	}

	gw := NewGateway(catalog, auth, limiter, chat, relational)
	return gw, relational, plaintext
}

func newTestRouter(gw *Gateway) *gin.Engine {
	router := gin.New()
	gw.RegisterRoutes(router, "/ws")
	return router
}

func doRequest(router *gin.Engine, method, path, token string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHandleCreateSession(t *testing.T) {
	gw, _, token := newTestGateway(t, &fakeChatStreamer{})
	router := newTestRouter(gw)

	body, _ := json.Marshal(createSessionRequest{UserID: "user-1", AgentID: "agent-1"})
	rec := doRequest(router, http.MethodPost, "/api/v1/create_session", token, body)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		ThreadID string `json:"thread_id"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.ThreadID == "" {
		t.Error("expected a non-empty thread_id")
	}
}

func TestHandleGetSessions_ReturnsOnlyOwnedThreads(t *testing.T) {
	gw, relational, token := newTestGateway(t, &fakeChatStreamer{})
	router := newTestRouter(gw)

	session, err := relational.CreateSession(context.Background(), "user-1", "agent-1")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if _, err := relational.CreateSession(context.Background(), "user-2", "agent-1"); err != nil {
		t.Fatalf("CreateSession (other user): %v", err)
	}

	rec := doRequest(router, http.MethodGet, "/api/v1/get_sessions?id=user-1", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var threadIDs []string
	if err := json.Unmarshal(rec.Body.Bytes(), &threadIDs); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if len(threadIDs) != 1 || threadIDs[0] != session.SessionID {
		t.Errorf("expected only user-1's session, got %v", threadIDs)
	}
}

func TestHandleSessionMessages_RequiresUserID(t *testing.T) {
	gw, _, token := newTestGateway(t, &fakeChatStreamer{})
	router := newTestRouter(gw)

	rec := doRequest(router, http.MethodGet, "/api/v1/sessions/sess-1/messages", token, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 when id query parameter is missing, got %d", rec.Code)
	}
}

func TestHandleSessionMessages_ReturnsOwnerMessagesOnly(t *testing.T) {
	gw, relational, token := newTestGateway(t, &fakeChatStreamer{})
	router := newTestRouter(gw)

	if err := relational.AppendMessage(context.Background(), "sess-1", "user-1", "agent-1", model.ChatRoleHuman, "hello"); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}

	rec := doRequest(router, http.MethodGet, "/api/v1/sessions/sess-1/messages?id=user-1", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Messages []model.ChatMessage `json:"messages"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if len(resp.Messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(resp.Messages))
	}
}

func TestAuthMiddleware_RejectsMissingToken(t *testing.T) {
	gw, _, _ := newTestGateway(t, &fakeChatStreamer{})
	router := newTestRouter(gw)

	rec := doRequest(router, http.MethodGet, "/api/v1/get_sessions?id=user-1", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for a missing token, got %d", rec.Code)
	}
}

func TestAuthMiddleware_RejectsBadToken(t *testing.T) {
	gw, _, _ := newTestGateway(t, &fakeChatStreamer{})
	router := newTestRouter(gw)

	rec := doRequest(router, http.MethodGet, "/api/v1/get_sessions?id=user-1", "sk-not-a-real-key", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for an invalid token, got %d", rec.Code)
	}
}

// TestHandleChatStream_FrameOrderAndTags covers spec 6's SSE contract: a
// token frame per chunk, exactly one rag_results frame, then a terminal
// done frame, each tagged with its "type" discriminator.
func TestHandleChatStream_FrameOrderAndTags(t *testing.T) {
	chat := &fakeChatStreamer{
		tokens: []llminterface.TokenEvent{
			{Content: "Hel"},
			{Content: "lo", Done: true},
		},
		memories: []model.RAGResult{{ID: "mem_1", Text: "context"}},
		final:    "Hello",
	}
	gw, _, token := newTestGateway(t, chat)
	router := newTestRouter(gw)

	body, _ := json.Marshal(chatStreamRequest{ThreadID: "sess-1", UserID: "user-1", Message: "hi"})
	rec := doRequest(router, http.MethodPost, "/api/v1/chat", token, body)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	frames := parseSSEFrames(t, rec.Body.String())
	if len(frames) < 3 {
		t.Fatalf("expected at least 3 frames (token, rag_results, done), got %d: %v", len(frames), frames)
	}

	var sawRAG, sawDone bool
	doneIndex := -1
	ragIndex := -1
	for i, f := range frames {
		switch f["type"] {
		case "rag_results":
			sawRAG = true
			ragIndex = i
		case "done":
			sawDone = true
			doneIndex = i
			if f["full_response"] != "Hello" {
				t.Errorf("expected done frame's full_response %q, got %v", "Hello", f["full_response"])
			}
		case "token":
		default:
			t.Errorf("unexpected frame type %v", f["type"])
		}
	}
	if !sawRAG {
		t.Error("expected a rag_results frame")
	}
	if !sawDone {
		t.Error("expected a done frame")
	}
	if doneIndex != len(frames)-1 {
		t.Error("expected done to be the terminal frame")
	}
	if ragIndex > doneIndex {
		t.Error("expected rag_results to precede done")
	}
}

func TestHandleChatStream_QueuedReturns202(t *testing.T) {
	gw, _, token := newTestGateway(t, &fakeChatStreamer{queued: true})
	router := newTestRouter(gw)

	body, _ := json.Marshal(chatStreamRequest{ThreadID: "sess-1", UserID: "user-1", Message: "hi"})
	rec := doRequest(router, http.MethodPost, "/api/v1/chat", token, body)
	if rec.Code != http.StatusAccepted {
		t.Errorf("expected 202 for an already in-flight turn, got %d", rec.Code)
	}
}

// parseSSEFrames splits a `data: {...}\n\n`-delimited SSE body into decoded
// JSON frames.
func parseSSEFrames(t *testing.T, body string) []map[string]any {
	t.Helper()
	var frames []map[string]any
	for _, chunk := range strings.Split(body, "\n\n") {
		chunk = strings.TrimSpace(chunk)
		if chunk == "" {
			continue
		}
		payload := strings.TrimPrefix(chunk, "data: ")
		var frame map[string]any
		if err := json.Unmarshal([]byte(payload), &frame); err != nil {
			t.Fatalf("unmarshal SSE frame %q: %v", payload, err)
		}
		frames = append(frames, frame)
	}
	return frames
}
