package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	llminterface "github.com/ghiac/agentize/llm-interface"
	"github.com/ghiac/agentize/model"
	"github.com/ghiac/agentize/store"
	"github.com/ghiac/agentize/vectorstore"
)

const chatHistoryContextSize = 20

// ChatOrchestrator is C9: it runs the two-stage retrieve/rewrite/retrieve
// pipeline, streams the LLM's response token-by-token, and persists the
// turn in the background once the stream completes (spec 4.9).
type ChatOrchestrator struct {
	retriever  *HybridRetriever
	rewriter   *QueryRewriter
	builder    *MemoryBuilder
	llm        *llminterface.StreamingClient
	relational *store.RelationalStore
	history    *store.HistoryCache
	writer     *BackgroundWriter
	turnGuard  *TurnGuard
	vstore     *vectorstore.Store
}

// NewChatOrchestrator wires every component the orchestrator drives. vstore
// is used only by StreamTurn, to resolve a session's owning tenant into a
// CollectionHandle on behalf of callers (the gateway) that have no handle of
// their own — HandleMessage itself still takes one explicitly.
func NewChatOrchestrator(
	retriever *HybridRetriever,
	rewriter *QueryRewriter,
	builder *MemoryBuilder,
	llm *llminterface.StreamingClient,
	relational *store.RelationalStore,
	history *store.HistoryCache,
	writer *BackgroundWriter,
	vstore *vectorstore.Store,
) *ChatOrchestrator {
	return &ChatOrchestrator{
		retriever:  retriever,
		rewriter:   rewriter,
		builder:    builder,
		llm:        llm,
		relational: relational,
		history:    history,
		writer:     writer,
		turnGuard:  NewTurnGuard(),
		vstore:     vstore,
	}
}

// StreamTurn implements gateway.ChatStreamer: it resolves sessionID's owning
// tenant into a CollectionHandle and runs HandleMessage. agentID names the
// tenant for a brand-new session (the gateway has no session row to look up
// yet); it is ignored for a session that already exists, in which case the
// session's own recorded agent_id wins — a client cannot redirect an
// existing session's memories to a different tenant just by changing what
// it sends.
func (o *ChatOrchestrator) StreamTurn(ctx context.Context, sessionID, userID, agentID, message string) (*TurnResult, bool, error) {
	tenantID := agentID
	existing, err := o.relational.GetSession(ctx, sessionID)
	if err != nil {
		return nil, false, fmt.Errorf("chat orchestrator: resolve session: %w", err)
	}
	if existing != nil {
		tenantID = existing.AgentID
	}
	if tenantID == "" {
		return nil, false, fmt.Errorf("chat orchestrator: no agent_id for session %q", sessionID)
	}

	handle, err := o.vstore.Handle(tenantID)
	if err != nil {
		return nil, false, fmt.Errorf("chat orchestrator: resolve tenant handle: %w", err)
	}

	return o.HandleMessage(ctx, handle, sessionID, userID, message)
}

// TurnResult is the orchestrator's name for model.ChatTurnResult, the
// shape handed back once a turn finishes streaming: the retrieved memories
// (spec 6's "rag_results" frame), the final text (the "done" frame's
// full_response), and the live token channel. It is a plain alias, not a
// wrapper type, so *ChatOrchestrator still satisfies gateway.ChatStreamer
// without gateway importing this package.
type TurnResult = model.ChatTurnResult

// ragResultsFrom converts ranked memories into the wire shape spec 6's
// rag_results frame carries. Score is a simple rank-derived value taken
// from the retriever's own ordering (first-seen across its per-sub-query
// hybrid searches, spec 4.7);
// spec 4.3 leaves the exact scoring scheme an implementation choice.
func ragResultsFrom(entries []*model.MemoryEntry) []model.RAGResult {
	out := make([]model.RAGResult, 0, len(entries))
	for i, e := range entries {
		ts := e.CreatedAt
		if e.Timestamp != nil {
			ts = *e.Timestamp
		}
		out = append(out, model.RAGResult{
			ID:        e.EntryID,
			Score:     1.0 / float64(i+1),
			Text:      e.LosslessRestatement,
			Source:    "vector_store",
			Timestamp: ts,
			Matches:   e.Keywords,
		})
	}
	return out
}

// HandleMessage runs the full pipeline for one user turn and returns a
// token stream the caller relays as SSE frames (spec 6). If sessionID is
// already mid-turn, Enter reports alreadyRunning=true and the caller should
// respond with an in-progress status instead of opening a new stream.
func (o *ChatOrchestrator) HandleMessage(ctx context.Context, handle vectorstore.CollectionHandle, sessionID, userID, message string) (*TurnResult, bool, error) {
	if o.turnGuard.Enter(sessionID, message) {
		return nil, true, nil
	}

	firstPass, err := o.retriever.Retrieve(ctx, handle, message, vectorstore.Filters{})
	if err != nil {
		o.turnGuard.Leave(sessionID)
		return nil, false, fmt.Errorf("chat orchestrator: first retrieve: %w", err)
	}

	rewritten := o.rewriter.Rewrite(ctx, message)

	secondPass, err := o.retriever.Retrieve(ctx, handle, rewritten, vectorstore.Filters{})
	if err != nil {
		secondPass = firstPass
	}

	memories := mergeMemoryPasses(firstPass, secondPass)
	history := o.loadHistory(ctx, userID, sessionID)

	prompt := buildChatPrompt(history, memories, message)

	tokens := o.llm.StreamCompletion(ctx, prompt, llminterface.CompletionParams{})

	var final strings.Builder
	out := make(chan llminterface.TokenEvent)
	go func() {
		defer close(out)
		for ev := range tokens {
			if ev.Content != "" {
				final.WriteString(ev.Content)
			}
			out <- ev
			if ev.Done {
				break
			}
		}
		response := llminterface.StripMarkers(final.String())
		o.persistTurn(sessionID, userID, handle.TenantID, message, response)
		o.drainQueued(ctx, handle, sessionID, userID)
	}()

	return &TurnResult{
		Tokens:   out,
		Memories: ragResultsFrom(memories),
		Final:    func() string { return llminterface.StripMarkers(final.String()) },
	}, false, nil
}

// AnswerOnce runs the same retrieve/rewrite/retrieve pipeline as
// HandleMessage but returns a single completed answer instead of opening a
// token stream, for callers (get_context_answer) that want the assembled
// context plus one synchronous completion rather than SSE.
func (o *ChatOrchestrator) AnswerOnce(ctx context.Context, handle vectorstore.CollectionHandle, userID, sessionID, query string) (string, error) {
	firstPass, err := o.retriever.Retrieve(ctx, handle, query, vectorstore.Filters{})
	if err != nil {
		return "", fmt.Errorf("chat orchestrator: first retrieve: %w", err)
	}
	rewritten := o.rewriter.Rewrite(ctx, query)
	secondPass, err := o.retriever.Retrieve(ctx, handle, rewritten, vectorstore.Filters{})
	if err != nil {
		secondPass = firstPass
	}
	memories := mergeMemoryPasses(firstPass, secondPass)
	history := o.loadHistory(ctx, userID, sessionID)

	prompt := buildChatPrompt(history, memories, query)
	raw, err := o.llm.Complete(ctx, prompt, llminterface.CompletionParams{})
	if err != nil {
		return "", fmt.Errorf("chat orchestrator: complete: %w", err)
	}
	return llminterface.StripMarkers(raw), nil
}

// drainQueued ends the current turn and replays any messages that arrived
// while it was in flight (TurnGuard's pending queue), one at a time, once the
// turn's persistence has been handed to the BackgroundWriter. Ending the turn
// before replaying matters: HandleMessage itself calls Enter, and a replay
// that ran while still marked busy would just re-queue behind itself forever.
// A replay has no client reading its stream, so its tokens are consumed here.
func (o *ChatOrchestrator) drainQueued(ctx context.Context, handle vectorstore.CollectionHandle, sessionID, userID string) {
	queued := o.turnGuard.TakeOver(sessionID)
	for _, msg := range queued {
		res, busy, err := o.HandleMessage(ctx, handle, sessionID, userID, msg)
		if err != nil {
			break
		}
		if !busy && res != nil {
			for range res.Tokens {
			}
		}
	}
}

// persistTurn runs the durable write and the memory-build pass on the
// BackgroundWriter so the streaming response is never held up by storage
// latency (spec 4.15).
func (o *ChatOrchestrator) persistTurn(sessionID, userID, agentID, userMessage, response string) {
	now := time.Now().UTC()
	o.history.Append(userID, sessionID, model.ChatMessage{SessionID: sessionID, UserID: userID, Role: model.ChatRoleHuman, Content: userMessage, Timestamp: now})
	o.history.Append(userID, sessionID, model.ChatMessage{SessionID: sessionID, UserID: userID, Role: model.ChatRoleLLM, Content: response, Timestamp: now})

	o.writer.Submit(context.Background(), "append_turn_"+sessionID, func(ctx context.Context) error {
		if err := o.relational.AppendMessage(ctx, sessionID, userID, agentID, model.ChatRoleHuman, userMessage); err != nil {
			return err
		}
		return o.relational.AppendMessage(ctx, sessionID, userID, agentID, model.ChatRoleLLM, response)
	})
}

// BuildMemoryInBackground submits a Memory Builder pass for this turn to
// the BackgroundWriter; callers invoke this once they have a
// vectorstore.CollectionHandle for the session's owning tenant.
func (o *ChatOrchestrator) BuildMemoryInBackground(handle vectorstore.CollectionHandle, dialogues []model.Dialogue, mode BuildMode) {
	o.writer.Submit(context.Background(), "memory_build", func(ctx context.Context) error {
		return o.builder.Build(ctx, handle, dialogues, mode)
	})
}

func (o *ChatOrchestrator) loadHistory(ctx context.Context, userID, sessionID string) []model.ChatMessage {
	if cached := o.history.Get(userID, sessionID); cached != nil {
		return cached
	}
	msgs, err := o.relational.GetSessionMessages(ctx, userID, sessionID, chatHistoryContextSize)
	if err != nil {
		return nil
	}
	o.history.Set(userID, sessionID, msgs)
	return msgs
}

func mergeMemoryPasses(first, second []*model.MemoryEntry) []*model.MemoryEntry {
	seen := make(map[string]struct{}, len(first)+len(second))
	out := make([]*model.MemoryEntry, 0, len(first)+len(second))
	for _, batch := range [][]*model.MemoryEntry{first, second} {
		for _, e := range batch {
			if _, ok := seen[e.EntryID]; ok {
				continue
			}
			seen[e.EntryID] = struct{}{}
			out = append(out, e)
		}
	}
	return out
}

func buildChatPrompt(history []model.ChatMessage, memories []*model.MemoryEntry, message string) string {
	var sb strings.Builder
	sb.WriteString("Relevant memories:\n")
	for _, m := range memories {
		sb.WriteString("- ")
		sb.WriteString(m.LosslessRestatement)
		sb.WriteString("\n")
	}
	sb.WriteString("\nConversation history:\n")
	for _, h := range history {
		sb.WriteString(string(h.Role))
		sb.WriteString(": ")
		sb.WriteString(h.Content)
		sb.WriteString("\n")
	}
	sb.WriteString("\nUser: ")
	sb.WriteString(message)
	return sb.String()
}
