// Package agentize wires the multi-tenant agent memory and retrieval
// service together: the Relational Store (C4), the Vector Store (C3), the
// LLM and Embedding clients (C1/C2), the Memory Builder/Hybrid Retriever/
// Query Rewriter/Chat Orchestrator (C6-C9), the Semantic and Chat History
// caches (C10/C13), and the Tool Gateway's HTTP+WebSocket surface (C11/C12).
package agentize

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"
	openai "github.com/sashabaranov/go-openai"

	"github.com/ghiac/agentize/config"
	"github.com/ghiac/agentize/engine"
	"github.com/ghiac/agentize/eventbus"
	"github.com/ghiac/agentize/gateway"
	llminterface "github.com/ghiac/agentize/llm-interface"
	"github.com/ghiac/agentize/log"
	"github.com/ghiac/agentize/model"
	"github.com/ghiac/agentize/store"
	"github.com/ghiac/agentize/vectorstore"
)

// Agentize bundles every wired component a running deployment needs.
// Callers reach individual pieces (ag.Relational, ag.VectorStore, ...)
// directly for admin operations (key issuance, agent registration) that
// have no HTTP surface of their own.
type Agentize struct {
	Config *config.Config

	Relational  relationalStore
	VectorStore *vectorstore.Store
	History     *store.HistoryCache
	Semantic    *store.SemanticCache

	LLM       *llminterface.StreamingClient
	Embedding *llminterface.EmbeddingService

	Builder      *engine.MemoryBuilder
	Retriever    *engine.HybridRetriever
	Rewriter     *engine.QueryRewriter
	Orchestrator *engine.ChatOrchestrator
	Writer       *engine.BackgroundWriter
	Scheduler    *engine.MemoryScheduler

	Catalog *model.ToolCatalog
	Auth    *gateway.Authenticator
	Limiter *gateway.RateLimiter
	Gateway *gateway.Gateway
	Events  *eventbus.Bus
}

// relationalStore is satisfied by *store.RelationalStore; it exists so a
// future Mongo-backed deployment (*store.MongoRelationalStore, which does
// not share the sqlite type) could be substituted without changing this
// file, though New() below always wires the sqlite variant today per spec
// 1.3's AGENTIZE_RELATIONAL_STORE_BACKEND default.
type relationalStore = *store.RelationalStore

// New loads cfg (if nil, from the environment) and wires every component.
// The caller is responsible for calling Close on shutdown.
func New(ctx context.Context, cfg *config.Config) (*Agentize, error) {
	if cfg == nil {
		var err error
		cfg, err = config.Load()
		if err != nil {
			return nil, fmt.Errorf("agentize: load config: %w", err)
		}
	}

	relational, err := store.NewRelationalStore(cfg.Relational.URL)
	if err != nil {
		return nil, fmt.Errorf("agentize: relational store: %w", err)
	}

	semanticIndex, err := vectorstore.NewSemanticIndex(ctx, cfg.VectorStore.Endpoint, cfg.Relational.FileDataCollection, cfg.Embedding.DimensionHint)
	if err != nil {
		return nil, fmt.Errorf("agentize: vector store: %w", err)
	}
	vstore := vectorstore.NewStore(semanticIndex)

	history := store.NewHistoryCache(cfg.HistoryCache.SessionCap, cfg.HistoryCache.UserSessionCap)
	semanticCache := store.NewSemanticCache(cfg.SemanticCache.MaxSize)
	vstore.SetCacheInvalidator(semanticCache)

	llm := llminterface.NewStreamingClient(cfg.LLM.APIKey, cfg.LLM.EndpointURL, cfg.LLM.Model)
	embedding := llminterface.NewEmbeddingService(cfg.Embedding.APIKey, cfg.Embedding.EndpointURL, openai.EmbeddingModel(cfg.LLM.Model))

	events := eventbus.New()

	builder := engine.NewMemoryBuilder(llm, embedding, cfg.Memory.WindowSize, cfg.Memory.ParallelWorkers)
	builder.SetEventBus(events)
	retriever := engine.NewHybridRetriever(llm, embedding, 10, 1)
	retriever.SetEventBus(events)
	rewriter := engine.NewQueryRewriter(llm)
	writer := engine.NewBackgroundWriter()
	orchestrator := engine.NewChatOrchestrator(retriever, rewriter, builder, llm, relational, history, writer, vstore)
	scheduler := engine.NewMemoryScheduler(builder, writer, cfg.Memory.WindowSize)

	catalog := model.NewToolCatalog()
	if err := engine.RegisterBuiltinTools(catalog, engine.ToolDeps{
		Relational:   relational,
		VectorStore:  vstore,
		Builder:      builder,
		Retriever:    retriever,
		Orchestrator: orchestrator,
		Scheduler:    scheduler,
		Embedding:    embedding,
	}); err != nil {
		return nil, fmt.Errorf("agentize: register tools: %w", err)
	}
	auth := gateway.NewAuthenticator(relational)
	limiter := gateway.NewRateLimiter()
	gw := gateway.NewGateway(catalog, auth, limiter, orchestrator, relational)

	return &Agentize{
		Config:       cfg,
		Relational:   relational,
		VectorStore:  vstore,
		History:      history,
		Semantic:     semanticCache,
		LLM:          llm,
		Embedding:    embedding,
		Builder:      builder,
		Retriever:    retriever,
		Rewriter:     rewriter,
		Orchestrator: orchestrator,
		Writer:       writer,
		Scheduler:    scheduler,
		Catalog:      catalog,
		Auth:         auth,
		Limiter:      limiter,
		Gateway:      gw,
		Events:       events,
	}, nil
}

// RegisterRoutes mounts the Tool Gateway's HTTP, SSE, and WebSocket routes,
// plus the Event Bus's dashboard WebSocket bridge (spec 6, spec 4.14).
func (ag *Agentize) RegisterRoutes(router *gin.Engine) {
	ag.Gateway.RegisterRoutes(router, ag.Config.Gateway.WebSocketPath)
	router.GET("/api/v1/events/ws", ag.Events.BridgeHandler())
}

// Start begins the Memory Scheduler's window/parallel build timers. Callers
// that only want immediate-mode builds (no background flushing) can skip
// Start entirely.
func (ag *Agentize) Start(ctx context.Context) {
	ag.Scheduler.Start(ctx)
	log.Log.Infof("[Agentize] memory scheduler started | window size: %d", ag.Config.Memory.WindowSize)
}

// Close stops the scheduler, drains the background writer, and closes the
// relational store's underlying connection.
func (ag *Agentize) Close(ctx context.Context) error {
	ag.Scheduler.Stop()
	ag.Writer.Wait()
	_ = ag.Events.Close()
	return ag.Relational.Close()
}
