package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/ghiac/agentize/eventbus"
	llminterface "github.com/ghiac/agentize/llm-interface"
	"github.com/ghiac/agentize/log"
	"github.com/ghiac/agentize/model"
	"github.com/ghiac/agentize/vectorstore"
)

const (
	defaultRetrievalTopK  = 10
	defaultReflectionPass = 1
	planPrompt            = `Split the user's question into 1-3 focused search sub-queries, one per line, no numbering.

Question: %s`
)

// RetrievalPlan is the Hybrid Retriever's decomposition of one user query
// into independently searchable sub-queries (spec 4.7).
type RetrievalPlan struct {
	SubQueries []string
}

// HybridRetriever runs the plan/retrieve/merge/reflect/cap pipeline over a
// tenant's Vector Store collection.
type HybridRetriever struct {
	llm       *llminterface.StreamingClient
	embedding *llminterface.EmbeddingService
	topK      int
	reflect   int

	events *eventbus.Bus
}

// SetEventBus wires C14 so every Retrieve call emits a context.query event;
// nil (the default) disables emission.
func (r *HybridRetriever) SetEventBus(bus *eventbus.Bus) {
	r.events = bus
}

// NewHybridRetriever wires the LLM and embedding clients used for query
// planning and reflection. topK and reflectPasses fall back to spec
// defaults (10, 1) when zero.
func NewHybridRetriever(llm *llminterface.StreamingClient, embedding *llminterface.EmbeddingService, topK, reflectPasses int) *HybridRetriever {
	if topK <= 0 {
		topK = defaultRetrievalTopK
	}
	if reflectPasses <= 0 {
		reflectPasses = defaultReflectionPass
	}
	return &HybridRetriever{llm: llm, embedding: embedding, topK: topK, reflect: reflectPasses}
}

// Plan decomposes query into sub-queries. On LLM failure it degrades to the
// identity plan (the original query, unsplit) so retrieval still proceeds.
func (r *HybridRetriever) Plan(ctx context.Context, query string) RetrievalPlan {
	raw, err := r.llm.Complete(ctx, fmt.Sprintf(planPrompt, query), llminterface.CompletionParams{})
	if err != nil {
		log.Log.Warnf("[HybridRetriever] plan failed, falling back to identity plan: %v", err)
		return RetrievalPlan{SubQueries: []string{query}}
	}
	raw = llminterface.ExtractAfterThink(llminterface.StripMarkers(raw))

	var subQueries []string
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			subQueries = append(subQueries, line)
		}
	}
	if len(subQueries) == 0 {
		subQueries = []string{query}
	}
	return RetrievalPlan{SubQueries: subQueries}
}

// Retrieve runs the full pipeline: plan, multi-view search per sub-query,
// a merge across sub-queries that deduplicates by entry_id in first-seen
// order (sub-query order, then rank within each sub-query; scores are not
// summed across sub-queries), up to r.reflect reflection passes that each
// ask whether the merged set answers the query (and if not, search the
// original query again with twice topK), and a final cap.
func (r *HybridRetriever) Retrieve(ctx context.Context, handle vectorstore.CollectionHandle, query string, filters vectorstore.Filters) ([]*model.MemoryEntry, error) {
	plan := r.Plan(ctx, query)

	merged := newRankedSet()
	for _, sub := range plan.SubQueries {
		entries, err := r.searchOne(ctx, handle, sub, filters, r.topK)
		if err != nil {
			log.Log.Warnf("[HybridRetriever] sub-query %q failed: %v", sub, err)
			continue
		}
		merged.addRanked(entries)
	}

	result := merged.cap(r.topK)

	for pass := 0; pass < r.reflect; pass++ {
		if r.sufficient(ctx, query, result) {
			break
		}
		wider, err := r.searchOne(ctx, handle, query, filters, r.topK*2)
		if err != nil {
			break
		}
		merged.addRanked(wider)
		result = merged.cap(r.topK)
	}

	if r.events != nil {
		r.events.Publish(eventbus.Event{
			Type:     eventbus.EventContextQuery,
			TenantID: handle.TenantID,
			Data:     map[string]any{"query": query, "sub_queries": len(plan.SubQueries), "results": len(result)},
		})
	}

	return result, nil
}

// rankedSet deduplicates MemoryEntry values by entry_id, keeping each one at
// the position where it was first added: all of the first list's entries in
// rank order, then the new entries of each later list. An entry that ranks
// higher in a later list keeps its earlier position. The cap therefore
// follows that insertion order rather than map iteration order.
type rankedSet struct {
	order   []string
	entries map[string]*model.MemoryEntry
}

func newRankedSet() *rankedSet {
	return &rankedSet{entries: make(map[string]*model.MemoryEntry)}
}

func (s *rankedSet) addRanked(entries []*model.MemoryEntry) {
	for _, e := range entries {
		if _, seen := s.entries[e.EntryID]; seen {
			continue
		}
		s.entries[e.EntryID] = e
		s.order = append(s.order, e.EntryID)
	}
}

func (s *rankedSet) cap(topK int) []*model.MemoryEntry {
	out := make([]*model.MemoryEntry, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.entries[id])
	}
	if len(out) > topK {
		out = out[:topK]
	}
	return out
}

func (r *HybridRetriever) searchOne(ctx context.Context, handle vectorstore.CollectionHandle, query string, filters vectorstore.Filters, topK int) ([]*model.MemoryEntry, error) {
	vector, err := r.embedding.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("hybrid retriever: embed sub-query: %w", err)
	}
	keywords := strings.Fields(strings.ToLower(query))
	return handle.HybridSearch(ctx, vector, keywords, filters, topK, 0.6, 0.4)
}

// sufficient asks the LLM a yes/no question about whether entries answer
// query. On any failure it degrades to "sufficient" so reflection doesn't
// spin forever on a flaky LLM.
func (r *HybridRetriever) sufficient(ctx context.Context, query string, entries []*model.MemoryEntry) bool {
	if len(entries) == 0 {
		return false
	}
	var sb strings.Builder
	for _, e := range entries {
		sb.WriteString("- ")
		sb.WriteString(e.LosslessRestatement)
		sb.WriteString("\n")
	}
	prompt := fmt.Sprintf("Do these memories fully answer the question \"%s\"? Reply with only yes or no.\n\n%s", query, sb.String())
	raw, err := r.llm.Complete(ctx, prompt, llminterface.CompletionParams{})
	if err != nil {
		return true
	}
	raw = strings.ToLower(llminterface.StripMarkers(raw))
	return strings.Contains(raw, "yes")
}
