package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/ghiac/agentize/chunker"
	llminterface "github.com/ghiac/agentize/llm-interface"
	"github.com/ghiac/agentize/model"
	"github.com/ghiac/agentize/store"
	"github.com/ghiac/agentize/vectorstore"
)

// ToolDeps bundles the components the §4.11 minimum tool catalog dispatches
// into. It is separate from ChatOrchestrator's own fields because tools run
// outside any one chat turn — a WebSocket RPC client calling search_memory
// has no session of its own.
type ToolDeps struct {
	Relational   *store.RelationalStore
	VectorStore  *vectorstore.Store
	Builder      *MemoryBuilder
	Retriever    *HybridRetriever
	Orchestrator *ChatOrchestrator
	Scheduler    *MemoryScheduler
	Embedding    *llminterface.EmbeddingService
}

// RegisterBuiltinTools registers spec 4.11's minimum tool catalog
// (create_agent, list_agents, delete_agent, search_memory,
// add_memory_direct, auto_remember, get_context_answer, session_start,
// session_end, agent_stats) plus the supplemented ingest_document tool
// (SPEC_FULL.md §3), grounded in the original's api/my_agents.py and
// api/mcp_memory_server.py tool surfaces.
func RegisterBuiltinTools(catalog *model.ToolCatalog, deps ToolDeps) error {
	tools := []struct {
		tool model.Tool
		fn   model.ToolFunction
	}{
		{createAgentTool(), deps.createAgent},
		{listAgentsTool(), deps.listAgents},
		{deleteAgentTool(), deps.deleteAgent},
		{searchMemoryTool(), deps.searchMemory},
		{addMemoryDirectTool(), deps.addMemoryDirect},
		{autoRememberTool(), deps.autoRemember},
		{getContextAnswerTool(), deps.getContextAnswer},
		{sessionStartTool(), deps.sessionStart},
		{sessionEndTool(), deps.sessionEnd},
		{agentStatsTool(), deps.agentStats},
		{ingestDocumentTool(), deps.ingestDocument},
	}
	for _, t := range tools {
		if err := catalog.Register(t.tool, t.fn); err != nil {
			return fmt.Errorf("register tool %q: %w", t.tool.Name, err)
		}
	}
	return nil
}

func schema(required []string, props map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}

func stringProp(desc string) map[string]interface{} {
	return map[string]interface{}{"type": "string", "description": desc}
}

func argString(args map[string]interface{}, key string) (string, error) {
	v, ok := args[key]
	if !ok {
		return "", fmt.Errorf("missing required argument %q", key)
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", fmt.Errorf("argument %q must be a non-empty string", key)
	}
	return s, nil
}

func argStringOptional(args map[string]interface{}, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}

func argStringSlice(args map[string]interface{}, key string) []string {
	raw, ok := args[key].([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func argIntDefault(args map[string]interface{}, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return def
	}
}

// --- create_agent ---

func createAgentTool() model.Tool {
	return model.Tool{
		Name:        "create_agent",
		Description: "Registers a new agent (Vector Store tenant) owned by a user.",
		Parameters: schema([]string{"user_id", "agent_name"}, map[string]interface{}{
			"user_id":     stringProp("owning user id"),
			"agent_name":  stringProp("human-readable agent name"),
			"description": stringProp("optional agent description"),
		}),
	}
}

func (d ToolDeps) createAgent(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	userID, err := argString(args, "user_id")
	if err != nil {
		return nil, err
	}
	name, err := argString(args, "agent_name")
	if err != nil {
		return nil, err
	}

	agentID := model.DeriveEntryID(userID+name, time.Now().UTC())
	entry := model.AgentRegistryEntry{
		AgentID:     "agent_" + agentID,
		UserID:      userID,
		AgentName:   name,
		AgentSlug:   name,
		Description: argStringOptional(args, "description"),
		Limits:      model.RateLimits{RPM: 60, TPM: 100000, Concurrency: 4},
		Status:      model.AgentStatusActive,
		CreatedAt:   time.Now().UTC(),
	}
	if err := d.Relational.PutAgent(ctx, entry); err != nil {
		return nil, fmt.Errorf("create_agent: %w", err)
	}
	if _, err := d.VectorStore.Handle(entry.AgentID); err != nil {
		return nil, fmt.Errorf("create_agent: ensure collection: %w", err)
	}
	return entry, nil
}

// --- list_agents ---

func listAgentsTool() model.Tool {
	return model.Tool{
		Name:        "list_agents",
		Description: "Lists every agent owned by a user.",
		Parameters:  schema([]string{"user_id"}, map[string]interface{}{"user_id": stringProp("owning user id")}),
	}
}

func (d ToolDeps) listAgents(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	userID, err := argString(args, "user_id")
	if err != nil {
		return nil, err
	}
	agents, err := d.Relational.ListAgents(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list_agents: %w", err)
	}
	return agents, nil
}

// --- delete_agent ---

func deleteAgentTool() model.Tool {
	return model.Tool{
		Name:        "delete_agent",
		Description: "Deletes an agent's registry entry and clears its Vector Store collection.",
		Parameters:  schema([]string{"agent_id"}, map[string]interface{}{"agent_id": stringProp("agent (tenant) id")}),
	}
}

func (d ToolDeps) deleteAgent(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	agentID, err := argString(args, "agent_id")
	if err != nil {
		return nil, err
	}
	handle, err := d.VectorStore.Handle(agentID)
	if err == nil {
		_ = handle.Clear(ctx)
	}
	if err := d.Relational.DeleteAgent(ctx, agentID); err != nil {
		return nil, fmt.Errorf("delete_agent: %w", err)
	}
	return map[string]interface{}{"deleted": agentID}, nil
}

// --- search_memory ---

func searchMemoryTool() model.Tool {
	return model.Tool{
		Name:        "search_memory",
		Description: "Runs the hybrid retriever over an agent's memories for a natural-language query.",
		Parameters: schema([]string{"agent_id", "query"}, map[string]interface{}{
			"agent_id": stringProp("agent (tenant) id"),
			"query":    stringProp("natural-language query"),
			"top_k":    map[string]interface{}{"type": "integer", "description": "max results, default 10"},
		}),
	}
}

func (d ToolDeps) searchMemory(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	agentID, err := argString(args, "agent_id")
	if err != nil {
		return nil, err
	}
	query, err := argString(args, "query")
	if err != nil {
		return nil, err
	}
	handle, err := d.VectorStore.Handle(agentID)
	if err != nil {
		return nil, fmt.Errorf("search_memory: %w", err)
	}
	entries, err := d.Retriever.Retrieve(ctx, handle, query, vectorstore.Filters{})
	if err != nil {
		return nil, fmt.Errorf("search_memory: %w", err)
	}
	if topK := argIntDefault(args, "top_k", 0); topK > 0 && topK < len(entries) {
		entries = entries[:topK]
	}
	return entries, nil
}

// --- add_memory_direct ---

func addMemoryDirectTool() model.Tool {
	return model.Tool{
		Name:        "add_memory_direct",
		Description: "Inserts a pre-formed memory entry (already lossless and pronoun-free) directly, skipping the Memory Builder's LLM rewrite.",
		Parameters: schema([]string{"agent_id", "restatement"}, map[string]interface{}{
			"agent_id":    stringProp("agent (tenant) id"),
			"restatement": stringProp("the self-contained memory statement"),
			"keywords":    map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}},
			"topic":       stringProp("optional topic"),
			"location":    stringProp("optional location"),
			"memory_type": stringProp("episodic|semantic|procedural|working"),
		}),
	}
}

func (d ToolDeps) addMemoryDirect(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	agentID, err := argString(args, "agent_id")
	if err != nil {
		return nil, err
	}
	restatement, err := argString(args, "restatement")
	if err != nil {
		return nil, err
	}
	handle, err := d.VectorStore.Handle(agentID)
	if err != nil {
		return nil, fmt.Errorf("add_memory_direct: %w", err)
	}
	vector, err := d.Embedding.Embed(ctx, restatement)
	if err != nil {
		return nil, fmt.Errorf("add_memory_direct: embed: %w", err)
	}

	memType := model.MemoryType(argStringOptional(args, "memory_type"))
	switch memType {
	case model.MemoryTypeEpisodic, model.MemoryTypeSemantic, model.MemoryTypeProcedural, model.MemoryTypeWorking:
	default:
		memType = model.MemoryTypeSemantic
	}

	now := time.Now().UTC()
	entry := &model.MemoryEntry{
		LosslessRestatement: restatement,
		Keywords:             argStringSlice(args, "keywords"),
		Topic:                argStringOptional(args, "topic"),
		Location:             argStringOptional(args, "location"),
		MemoryType:           memType,
		Timestamp:            &now,
		DenseVector:          vector,
	}
	entry.EnsureEntryID()
	if err := handle.AddEntries(ctx, []*model.MemoryEntry{entry}); err != nil {
		return nil, fmt.Errorf("add_memory_direct: %w", err)
	}
	return entry, nil
}

// --- auto_remember ---

func autoRememberTool() model.Tool {
	return model.Tool{
		Name:        "auto_remember",
		Description: "Routes raw text through the Memory Builder's immediate mode instead of taking a pre-formed entry (unlike add_memory_direct); returns once the build has run.",
		Parameters: schema([]string{"agent_id", "text"}, map[string]interface{}{
			"agent_id": stringProp("agent (tenant) id"),
			"text":     stringProp("raw text to remember"),
			"speaker":  stringProp("optional speaker label, default \"user\""),
		}),
	}
}

func (d ToolDeps) autoRemember(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	agentID, err := argString(args, "agent_id")
	if err != nil {
		return nil, err
	}
	text, err := argString(args, "text")
	if err != nil {
		return nil, err
	}
	speaker := argStringOptional(args, "speaker")
	if speaker == "" {
		speaker = "user"
	}
	handle, err := d.VectorStore.Handle(agentID)
	if err != nil {
		return nil, fmt.Errorf("auto_remember: %w", err)
	}
	dialogue := model.Dialogue{DialogueID: model.DeriveEntryID(text, time.Now().UTC()), Speaker: speaker, Content: text, Timestamp: time.Now().UTC()}
	if err := d.Builder.Build(ctx, handle, []model.Dialogue{dialogue}, BuildModeImmediate); err != nil {
		return nil, fmt.Errorf("auto_remember: %w", err)
	}
	return map[string]interface{}{"accepted": true}, nil
}

// --- get_context_answer ---

func getContextAnswerTool() model.Tool {
	return model.Tool{
		Name:        "get_context_answer",
		Description: "Non-streaming variant of the chat orchestrator: retrieves context and returns one assembled completion instead of SSE tokens.",
		Parameters: schema([]string{"agent_id", "session_id", "user_id", "query"}, map[string]interface{}{
			"agent_id":   stringProp("agent (tenant) id"),
			"session_id": stringProp("session id for history lookup"),
			"user_id":    stringProp("user id"),
			"query":      stringProp("the question to answer"),
		}),
	}
}

func (d ToolDeps) getContextAnswer(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	agentID, err := argString(args, "agent_id")
	if err != nil {
		return nil, err
	}
	sessionID, err := argString(args, "session_id")
	if err != nil {
		return nil, err
	}
	userID, err := argString(args, "user_id")
	if err != nil {
		return nil, err
	}
	query, err := argString(args, "query")
	if err != nil {
		return nil, err
	}
	handle, err := d.VectorStore.Handle(agentID)
	if err != nil {
		return nil, fmt.Errorf("get_context_answer: %w", err)
	}
	answer, err := d.Orchestrator.AnswerOnce(ctx, handle, userID, sessionID, query)
	if err != nil {
		return nil, fmt.Errorf("get_context_answer: %w", err)
	}
	return map[string]interface{}{"answer": answer}, nil
}

// --- session_start / session_end ---

func sessionStartTool() model.Tool {
	return model.Tool{
		Name:        "session_start",
		Description: "Marks the beginning of a chat session; the session row itself is created lazily on first append_message.",
		Parameters: schema([]string{"session_id", "user_id", "agent_id"}, map[string]interface{}{
			"session_id": stringProp("session id"),
			"user_id":    stringProp("user id"),
			"agent_id":   stringProp("agent (tenant) id"),
		}),
	}
}

func (d ToolDeps) sessionStart(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	sessionID, err := argString(args, "session_id")
	if err != nil {
		return nil, err
	}
	if _, err := argString(args, "user_id"); err != nil {
		return nil, err
	}
	if _, err := argString(args, "agent_id"); err != nil {
		return nil, err
	}
	return map[string]interface{}{"session_id": sessionID, "started": true}, nil
}

func sessionEndTool() model.Tool {
	return model.Tool{
		Name:        "session_end",
		Description: "Flushes any pending window-mode memory writes for a session and marks it inactive.",
		Parameters:  schema([]string{"session_id"}, map[string]interface{}{"session_id": stringProp("session id")}),
	}
}

func (d ToolDeps) sessionEnd(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	sessionID, err := argString(args, "session_id")
	if err != nil {
		return nil, err
	}
	if d.Scheduler != nil {
		d.Scheduler.FlushSession(sessionID)
	}
	if err := d.Relational.SetSessionActive(ctx, sessionID, false); err != nil {
		return nil, fmt.Errorf("session_end: %w", err)
	}
	return map[string]interface{}{"session_id": sessionID, "ended": true}, nil
}

// --- agent_stats ---

func agentStatsTool() model.Tool {
	return model.Tool{
		Name:        "agent_stats",
		Description: "Returns an agent's entry count, plus its registry created_at and status when the agent is registered, grounded in the original's api/my_agents.py stats endpoint.",
		Parameters:  schema([]string{"agent_id"}, map[string]interface{}{"agent_id": stringProp("agent (tenant) id")}),
	}
}

func (d ToolDeps) agentStats(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	agentID, err := argString(args, "agent_id")
	if err != nil {
		return nil, err
	}
	handle, err := d.VectorStore.Handle(agentID)
	if err != nil {
		return nil, fmt.Errorf("agent_stats: %w", err)
	}
	agent, err := d.Relational.GetAgent(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("agent_stats: %w", err)
	}
	stats := map[string]interface{}{
		"agent_id":    agentID,
		"entry_count": handle.Count(),
	}
	if agent != nil {
		stats["created_at"] = agent.CreatedAt
		stats["status"] = agent.Status
	}
	return stats, nil
}

// --- ingest_document (supplemented, SPEC_FULL.md §3) ---

func ingestDocumentTool() model.Tool {
	return model.Tool{
		Name:        "ingest_document",
		Description: "Chunks a raw document (PDF/DOCX/TXT/CSV) and routes the chunks through the Memory Builder's parallel mode, pairing C5 with C6.",
		Parameters: schema([]string{"agent_id", "content", "ext"}, map[string]interface{}{
			"agent_id": stringProp("agent (tenant) id"),
			"content":  stringProp("raw document text (base64 is not required; binary formats should be pre-decoded by the caller)"),
			"ext":      stringProp("file extension: pdf, docx, txt, or csv"),
		}),
	}
}

func (d ToolDeps) ingestDocument(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	agentID, err := argString(args, "agent_id")
	if err != nil {
		return nil, err
	}
	content, err := argString(args, "content")
	if err != nil {
		return nil, err
	}
	ext := argStringOptional(args, "ext")
	if ext == "" {
		ext = "txt"
	}

	chunks, err := chunker.ChunkFile([]byte(content), ext)
	if err != nil {
		return nil, fmt.Errorf("ingest_document: chunk: %w", err)
	}

	handle, err := d.VectorStore.Handle(agentID)
	if err != nil {
		return nil, fmt.Errorf("ingest_document: %w", err)
	}

	dialogues := make([]model.Dialogue, 0, len(chunks))
	now := time.Now().UTC()
	for _, c := range chunks {
		dialogues = append(dialogues, model.Dialogue{DialogueID: c.ChunkID, Speaker: "document", Content: c.Text, Timestamp: now})
	}
	if err := d.Builder.Build(ctx, handle, dialogues, BuildModeParallel); err != nil {
		return nil, fmt.Errorf("ingest_document: %w", err)
	}
	return map[string]interface{}{"chunks_ingested": len(chunks)}, nil
}
