package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/ghiac/agentize/model"
	"github.com/ghiac/agentize/store"
)

// Gateway bundles the pieces RegisterRoutes wires onto a gin.Engine: the
// tool catalog (C11), the auth/rate-limit gate (C12), and the orchestrator
// entry point chat streaming uses.
type Gateway struct {
	Catalog *model.ToolCatalog
	Auth    *Authenticator
	Limiter *RateLimiter

	// Chat is invoked by the SSE handler; it is an interface, not
	// *engine.ChatOrchestrator directly, so gateway never imports engine
	// (engine already imports vectorstore/store/llm-interface, and the
	// facade wires the concrete type in at startup).
	Chat ChatStreamer

	// Sessions backs the session-management JSON endpoints (spec 6):
	// create_session, get_sessions, and sessions/<thread_id>/messages. The
	// Relational Store is the source of truth for a session's existence
	// independent of whether any turn has streamed yet.
	Sessions *store.RelationalStore
}

// ChatStreamer is the subset of ChatOrchestrator's surface the gateway
// needs to open an SSE stream for one turn. agentID is only consulted for a
// session the caller hasn't seen before; an existing session keeps the
// tenant it was created with.
type ChatStreamer interface {
	StreamTurn(ctx context.Context, sessionID, userID, agentID, message string) (*StreamResult, bool, error)
}

// StreamResult is the gateway's name for model.ChatTurnResult: the live
// token channel, the memories retrieved for this turn (spec 6's
// "rag_results" frame), and a Final accessor for the "done" frame's
// full_response once the channel closes.
type StreamResult = model.ChatTurnResult

// NewGateway wires a Gateway's dependencies.
func NewGateway(catalog *model.ToolCatalog, auth *Authenticator, limiter *RateLimiter, chat ChatStreamer, sessions *store.RelationalStore) *Gateway {
	return &Gateway{Catalog: catalog, Auth: auth, Limiter: limiter, Chat: chat, Sessions: sessions}
}

// RegisterRoutes mounts the Tool Gateway's HTTP surface, the session
// management endpoints, the WebSocket RPC endpoint, and the chat SSE
// endpoint on router, under /api/v1 per spec 6.
func (g *Gateway) RegisterRoutes(router *gin.Engine, wsPath string) {
	v1 := router.Group("/api/v1")
	v1.Use(g.authMiddleware())

	v1.POST("/rpc", g.handleRPC)
	v1.GET("/tools", g.handleGetTools)
	v1.POST("/tools/:name", g.handleCallTool)
	v1.POST("/chat", g.handleChatStream)
	v1.POST("/create_session", g.handleCreateSession)
	v1.GET("/get_sessions", g.handleGetSessions)
	v1.GET("/sessions/:thread_id/messages", g.handleSessionMessages)

	router.GET(wsPath, g.handleWebSocket)
}

// authMiddleware extracts the bearer token, authenticates it, and reserves
// rate-limit capacity for the request; it releases the concurrency slot via
// a deferred call hung off the gin context.
func (g *Gateway) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		if token == "" {
			c.AbortWithStatusJSON(401, gin.H{"error": ErrUnauthorized.Error()})
			return
		}

		key, err := g.Auth.Authenticate(c.Request.Context(), token)
		if err != nil {
			c.AbortWithStatusJSON(401, gin.H{"error": ErrUnauthorized.Error()})
			return
		}

		if err := g.Limiter.Allow(key.KeyID, key.Limits, 0); err != nil {
			c.AbortWithStatusJSON(429, gin.H{"error": ErrRateLimited.Error()})
			return
		}
		defer g.Limiter.End(key.KeyID)

		c.Set("api_key", key)
		c.Next()
	}
}

func (g *Gateway) handleRPC(c *gin.Context) {
	var req JSONRPCRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(200, &JSONRPCResponse{JSONRPC: "2.0", Error: &JSONRPCError{Code: ErrParseError, Message: err.Error()}})
		return
	}
	c.JSON(200, Dispatch(c.Request.Context(), g.Catalog, &req))
}

func (g *Gateway) handleGetTools(c *gin.Context) {
	c.JSON(200, gin.H{"tools": g.Catalog.Tools()})
}

func (g *Gateway) handleCallTool(c *gin.Context) {
	name := c.Param("name")
	var args map[string]interface{}
	if err := c.ShouldBindJSON(&args); err != nil && err.Error() != "EOF" {
		c.JSON(400, gin.H{"error": fmt.Sprintf("invalid arguments: %v", err)})
		return
	}

	result, err := g.Catalog.Call(c.Request.Context(), name, args)
	if err != nil {
		switch err.(type) {
		case *model.ToolNotFoundError:
			c.JSON(404, gin.H{"error": err.Error()})
		case *model.ToolDisabledError:
			c.JSON(409, gin.H{"error": err.Error()})
		default:
			c.JSON(500, gin.H{"error": err.Error()})
		}
		return
	}
	c.JSON(200, gin.H{"result": result})
}

// chatStreamRequest is the SSE endpoint's request body (spec 6's
// `{thread_id, user_id, message, use_file_rag?, mode?}`). AgentID is
// required only when ThreadID names a session that does not exist yet — it
// selects the new session's owning tenant; use_file_rag/mode are accepted
// but not yet consulted by the orchestrator.
type chatStreamRequest struct {
	ThreadID   string `json:"thread_id" binding:"required"`
	UserID     string `json:"user_id" binding:"required"`
	AgentID    string `json:"agent_id"`
	Message    string `json:"message" binding:"required"`
	UseFileRAG bool   `json:"use_file_rag"`
	Mode       string `json:"mode"`
}

// writeSSE marshals payload and writes it as one SSE data frame, flushing
// immediately so the client sees it as soon as it's produced.
func writeSSE(c *gin.Context, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		data, _ = json.Marshal(gin.H{"type": "error", "content": err.Error()})
	}
	fmt.Fprintf(c.Writer, "data: %s\n\n", data)
	if flusher, ok := c.Writer.(http.Flusher); ok {
		flusher.Flush()
	}
}

// handleChatStream relays one turn as the four SSE frame types spec 6
// defines: zero or more "token" frames, then, once the token stream ends,
// one "rag_results" frame carrying the memories retrieved for the turn and
// a terminal "done" frame with the cleaned full response (or an "error"
// frame on failure).
func (g *Gateway) handleChatStream(c *gin.Context) {
	var req chatStreamRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(400, gin.H{"error": err.Error()})
		return
	}

	result, queued, err := g.Chat.StreamTurn(c.Request.Context(), req.ThreadID, req.UserID, req.AgentID, req.Message)
	if err != nil {
		c.JSON(500, gin.H{"error": err.Error()})
		return
	}
	if queued {
		c.JSON(202, gin.H{"status": "in_progress"})
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	c.Stream(func(w io.Writer) bool {
		ev, ok := <-result.Tokens
		if !ok {
			writeSSE(c, ragResultsFrame{Type: "rag_results", Content: result.Memories})
			writeSSE(c, doneFrame{Type: "done", FullResponse: result.Final()})
			return false
		}
		if ev.Err != nil {
			writeSSE(c, errorFrame{Type: "error", Content: ev.Err.Error()})
			return false
		}
		if ev.Content != "" {
			writeSSE(c, tokenFrame{Type: "token", Content: ev.Content})
		}
		if ev.Done {
			writeSSE(c, ragResultsFrame{Type: "rag_results", Content: result.Memories})
			writeSSE(c, doneFrame{Type: "done", FullResponse: result.Final()})
			return false
		}
		return true
	})
}

type tokenFrame struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

type ragResultsFrame struct {
	Type    string            `json:"type"`
	Content []model.RAGResult `json:"content"`
}

type doneFrame struct {
	Type         string `json:"type"`
	FullResponse string `json:"full_response"`
}

type errorFrame struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// createSessionRequest is POST /create_session's body.
type createSessionRequest struct {
	UserID  string `json:"user_id" binding:"required"`
	AgentID string `json:"agent_id"`
}

// handleCreateSession implements spec 6's `POST /create_session {user_id}
// -> {thread_id, createdAt}`: it eagerly creates the session row so
// get_sessions/sessions/<id>/messages see it even before the first turn
// streams.
func (g *Gateway) handleCreateSession(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(400, gin.H{"error": err.Error()})
		return
	}

	session, err := g.Sessions.CreateSession(c.Request.Context(), req.UserID, req.AgentID)
	if err != nil {
		c.JSON(500, gin.H{"error": err.Error()})
		return
	}
	c.JSON(200, gin.H{"thread_id": session.SessionID, "createdAt": session.CreatedAt})
}

// handleGetSessions implements spec 6's `GET /get_sessions?id=<user_id> ->
// [thread_id, ...]`.
func (g *Gateway) handleGetSessions(c *gin.Context) {
	userID := c.Query("id")
	if userID == "" {
		c.JSON(400, gin.H{"error": "id query parameter is required"})
		return
	}

	sessions, err := g.Sessions.ListSessions(c.Request.Context(), userID)
	if err != nil {
		c.JSON(500, gin.H{"error": err.Error()})
		return
	}
	threadIDs := make([]string, len(sessions))
	for i, s := range sessions {
		threadIDs[i] = s.SessionID
	}
	c.JSON(200, threadIDs)
}

// handleSessionMessages implements spec 6's `GET
// /sessions/<thread_id>/messages?id=<user_id> -> {messages:[...]}`.
func (g *Gateway) handleSessionMessages(c *gin.Context) {
	threadID := c.Param("thread_id")
	userID := c.Query("id")
	if userID == "" {
		c.JSON(400, gin.H{"error": "id query parameter is required"})
		return
	}

	messages, err := g.Sessions.GetSessionMessages(c.Request.Context(), userID, threadID, 0)
	if err != nil {
		c.JSON(500, gin.H{"error": err.Error()})
		return
	}
	c.JSON(200, gin.H{"messages": messages})
}
