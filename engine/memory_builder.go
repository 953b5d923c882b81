// Package engine implements the Memory Builder (C6), the Hybrid Retriever
// (C7), the Query Rewriter (C8), the Chat Orchestrator (C9), and the
// Background Writer (C15).
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ghiac/agentize/eventbus"
	llminterface "github.com/ghiac/agentize/llm-interface"
	"github.com/ghiac/agentize/log"
	"github.com/ghiac/agentize/model"
	"github.com/ghiac/agentize/vectorstore"
)

// priorEntryContextSize caps how many already-recorded entries are listed in
// the window prompt's anti-duplication context.
const priorEntryContextSize = 10

// BuildMode selects how the Memory Builder batches dialogues before
// transforming them into atomic entries (spec 4.6).
type BuildMode string

const (
	BuildModeImmediate BuildMode = "immediate"
	BuildModeWindow    BuildMode = "window"
	BuildModeParallel  BuildMode = "parallel"
)

const memoryTransformMaxRetries = 3

// memoryTransformPrompt instructs the LLM to rewrite a raw dialogue turn
// into a lossless, pronoun-free, self-contained restatement (invariant I1).
const memoryTransformPrompt = `You rewrite a conversation turn into a self-contained memory statement.

Rules:
- Replace every pronoun (he, she, it, they, this, that) with the concrete noun it refers to.
- Replace every relative time expression (yesterday, today, tomorrow, last week, next week) with an absolute date derived from the turn's timestamp.
- Preserve every fact; do not summarize or drop detail.
- Extract keywords, persons, entities, topic, and location if present.

Respond with strict JSON: {"restatement": "...", "keywords": ["..."], "persons": ["..."], "entities": ["..."], "topic": "...", "location": "...", "memory_type": "episodic|semantic|procedural|working"}

Turn timestamp: %s
Speaker: %s
Content: %s`

// windowTransformPrompt instructs the LLM to rewrite an entire window of
// turns in one call, covering every dialogue in the window instead of one
// at a time. Batching the whole window lets the model resolve a pronoun or
// relative-time term that only becomes unambiguous once later turns in the
// window are visible, and the prior-entries list below lets it avoid
// restating something already captured.
const windowTransformPrompt = `You rewrite a window of conversation turns into self-contained memory statements, one per turn that states a fact worth remembering.

Rules:
- Replace every pronoun (he, she, it, they, this, that) with the concrete noun it refers to, resolving references across the whole window, not just within one turn.
- Replace every relative time expression (yesterday, today, tomorrow, last week, next week) with an absolute date derived from that turn's timestamp.
- Preserve every fact; do not summarize or drop detail.
- Do not restate anything already covered by the prior entries listed below.
- A turn that adds nothing new may be dropped from the output entirely.

Respond with a strict JSON array, one object per emitted entry: [{"restatement": "...", "keywords": ["..."], "persons": ["..."], "entities": ["..."], "topic": "...", "location": "...", "memory_type": "episodic|semantic|procedural|working", "timestamp": "<RFC3339, the turn it derives from>"}, ...]

Prior entries already recorded for this tenant (do not repeat these):
%s

Window turns:
%s`

// MemoryBuilder transforms raw Dialogue turns into atomic MemoryEntry
// values and writes them into a tenant's Vector Store collection.
type MemoryBuilder struct {
	llm       *llminterface.StreamingClient
	embedding *llminterface.EmbeddingService

	windowSize      int
	parallelWorkers int

	events *eventbus.Bus
}

// NewMemoryBuilder wires an LLM client and embedding service. windowSize and
// parallelWorkers configure BuildModeWindow and BuildModeParallel; zero
// values fall back to spec defaults of 5 and 4 respectively.
func NewMemoryBuilder(llm *llminterface.StreamingClient, embedding *llminterface.EmbeddingService, windowSize, parallelWorkers int) *MemoryBuilder {
	if windowSize <= 0 {
		windowSize = 5
	}
	if parallelWorkers <= 0 {
		parallelWorkers = 4
	}
	return &MemoryBuilder{llm: llm, embedding: embedding, windowSize: windowSize, parallelWorkers: parallelWorkers}
}

// SetEventBus wires C14 so every successful write emits a memory.added
// event; nil (the default) disables emission.
func (b *MemoryBuilder) SetEventBus(bus *eventbus.Bus) {
	b.events = bus
}

func (b *MemoryBuilder) publishMemoryAdded(tenantID string, count int) {
	if b.events == nil || count == 0 {
		return
	}
	b.events.Publish(eventbus.Event{
		Type:     eventbus.EventMemoryAdded,
		TenantID: tenantID,
		Data:     map[string]any{"count": count},
	})
}

// transformResult is the LLM's structured output for one dialogue turn or,
// in window mode, for one entry within a window's JSON array. Timestamp is
// only populated (and consulted) by the window path, which has no single
// turn's timestamp to fall back on.
type transformResult struct {
	Restatement string   `json:"restatement"`
	Keywords    []string `json:"keywords"`
	Persons     []string `json:"persons"`
	Entities    []string `json:"entities"`
	Topic       string   `json:"topic"`
	Location    string   `json:"location"`
	MemoryType  string   `json:"memory_type"`
	Timestamp   string   `json:"timestamp,omitempty"`
}

// Build transforms dialogues into atomic entries and writes them through
// handle, honoring mode. Containment invariant I5 (a build for one tenant
// never touches another's data) is enforced structurally: handle is bound
// to exactly one tenant.
func (b *MemoryBuilder) Build(ctx context.Context, handle vectorstore.CollectionHandle, dialogues []model.Dialogue, mode BuildMode) error {
	switch mode {
	case BuildModeWindow:
		return b.buildWindowed(ctx, handle, dialogues)
	case BuildModeParallel:
		return b.buildParallel(ctx, handle, dialogues)
	default:
		return b.buildImmediate(ctx, handle, dialogues)
	}
}

// buildImmediate transforms and writes each dialogue one at a time, as soon
// as it arrives.
func (b *MemoryBuilder) buildImmediate(ctx context.Context, handle vectorstore.CollectionHandle, dialogues []model.Dialogue) error {
	for _, d := range dialogues {
		entry, err := b.transform(ctx, d)
		if err != nil {
			log.Log.Warnf("[MemoryBuilder] dropping dialogue %s: %v", d.DialogueID, err)
			continue
		}
		if err := handle.AddEntries(ctx, []*model.MemoryEntry{entry}); err != nil {
			return fmt.Errorf("memory builder: add entry: %w", err)
		}
		b.publishMemoryAdded(handle.TenantID, 1)
	}
	return nil
}

// windows splits dialogues into consecutive, fixed-size chunks of at most
// b.windowSize turns each.
func (b *MemoryBuilder) windows(dialogues []model.Dialogue) [][]model.Dialogue {
	var out [][]model.Dialogue
	for start := 0; start < len(dialogues); start += b.windowSize {
		end := start + b.windowSize
		if end > len(dialogues) {
			end = len(dialogues)
		}
		out = append(out, dialogues[start:end])
	}
	return out
}

// buildWindowed accumulates dialogues into fixed-size windows and issues one
// LLM call per window (transformWindow), reducing LLM round trips and
// letting the model resolve references across the whole window instead of
// turn by turn, at the cost of latency.
func (b *MemoryBuilder) buildWindowed(ctx context.Context, handle vectorstore.CollectionHandle, dialogues []model.Dialogue) error {
	for _, window := range b.windows(dialogues) {
		entries, err := b.transformWindow(ctx, handle, window)
		if err != nil {
			log.Log.Warnf("[MemoryBuilder] dropping window (%d turns): %v", len(window), err)
			continue
		}
		if len(entries) == 0 {
			continue
		}
		if err := handle.AddEntries(ctx, entries); err != nil {
			return fmt.Errorf("memory builder: add window: %w", err)
		}
		b.publishMemoryAdded(handle.TenantID, len(entries))
	}
	return nil
}

// buildParallel runs transformWindow concurrently across a bounded worker
// pool, windows being the unit of parallelism (not individual dialogues —
// each window still gets one batched LLM call), then writes each window's
// successfully transformed entries as its own batch.
func (b *MemoryBuilder) buildParallel(ctx context.Context, handle vectorstore.CollectionHandle, dialogues []model.Dialogue) error {
	windows := b.windows(dialogues)

	jobs := make(chan []model.Dialogue)
	var wg sync.WaitGroup

	worker := func() {
		defer wg.Done()
		for window := range jobs {
			entries, err := b.transformWindow(ctx, handle, window)
			if err != nil {
				log.Log.Warnf("[MemoryBuilder] dropping window (%d turns): %v", len(window), err)
				continue
			}
			if len(entries) == 0 {
				continue
			}
			if err := handle.AddEntries(ctx, entries); err != nil {
				log.Log.Warnf("[MemoryBuilder] add parallel window batch: %v", err)
				continue
			}
			b.publishMemoryAdded(handle.TenantID, len(entries))
		}
	}

	workers := b.parallelWorkers
	if workers > len(windows) {
		workers = len(windows)
	}
	if workers < 1 {
		workers = 1
	}
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go worker()
	}

	for _, window := range windows {
		jobs <- window
	}
	close(jobs)
	wg.Wait()
	return nil
}

// transform runs the LLM rewrite for one dialogue turn and embeds the
// result, retrying the LLM call up to memoryTransformMaxRetries times.
func (b *MemoryBuilder) transform(ctx context.Context, d model.Dialogue) (*model.MemoryEntry, error) {
	ts := d.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	prompt := fmt.Sprintf(memoryTransformPrompt, ts.Format(time.RFC3339), d.Speaker, d.Content)

	var parsed transformResult
	var lastErr error
	for attempt := 0; attempt < memoryTransformMaxRetries; attempt++ {
		raw, err := b.llm.Complete(ctx, prompt, llminterface.CompletionParams{})
		if err != nil {
			lastErr = err
			continue
		}
		raw = llminterface.ExtractAfterThink(llminterface.StripMarkers(raw))
		if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &parsed); err != nil {
			lastErr = fmt.Errorf("transform: unmarshal llm output: %w", err)
			continue
		}
		lastErr = nil
		break
	}
	if lastErr != nil {
		return nil, fmt.Errorf("transform: llm rewrite failed after %d attempts: %w", memoryTransformMaxRetries, lastErr)
	}
	return b.materializeEntry(ctx, parsed, ts)
}

// materializeEntry validates one parsed transform result against invariant
// I1 (no unresolved pronoun/relative-time term), embeds its restatement, and
// assembles the MemoryEntry. fallbackAnchor is used when parsed carries no
// usable timestamp of its own (the single-dialogue path always relies on
// it; the window path prefers parsed.Timestamp when present).
func (b *MemoryBuilder) materializeEntry(ctx context.Context, parsed transformResult, fallbackAnchor time.Time) (*model.MemoryEntry, error) {
	if parsed.Restatement == "" {
		return nil, fmt.Errorf("transform: empty restatement")
	}
	if violatesStoplist(parsed.Restatement) {
		return nil, fmt.Errorf("transform: restatement still contains a stoplisted pronoun/relative-time term")
	}

	vector, err := b.embedding.Embed(ctx, parsed.Restatement)
	if err != nil {
		return nil, fmt.Errorf("transform: embed: %w", err)
	}

	memType := model.MemoryType(parsed.MemoryType)
	switch memType {
	case model.MemoryTypeEpisodic, model.MemoryTypeSemantic, model.MemoryTypeProcedural, model.MemoryTypeWorking:
	default:
		memType = model.MemoryTypeEpisodic
	}

	anchor := fallbackAnchor
	if parsed.Timestamp != "" {
		if ts, err := time.Parse(time.RFC3339, parsed.Timestamp); err == nil {
			anchor = ts
		}
	}

	entry := &model.MemoryEntry{
		LosslessRestatement: parsed.Restatement,
		Keywords:            parsed.Keywords,
		Timestamp:           &anchor,
		Location:            parsed.Location,
		Topic:               parsed.Topic,
		Persons:             parsed.Persons,
		Entities:            parsed.Entities,
		MemoryType:          memType,
		DenseVector:         vector,
	}
	entry.EnsureEntryID()
	return entry, nil
}

// transformWindow issues one LLM call for an entire window of dialogues,
// expecting a JSON array covering every turn in window (spec 4.6): this is
// what lets the model resolve a pronoun or relative-time term using later
// turns in the same window, and skip restating something already recorded.
// previousEntries (from handle's own collection) seeds the anti-duplication
// list the prompt shows the model.
func (b *MemoryBuilder) transformWindow(ctx context.Context, handle vectorstore.CollectionHandle, window []model.Dialogue) ([]*model.MemoryEntry, error) {
	if len(window) == 0 {
		return nil, nil
	}

	lastTS := window[len(window)-1].Timestamp
	if lastTS.IsZero() {
		lastTS = time.Now().UTC()
	}

	prior := handle.StructuredSearch(vectorstore.Filters{}, priorEntryContextSize)
	prompt := fmt.Sprintf(windowTransformPrompt, formatPriorEntries(prior), formatWindowTurns(window, lastTS))

	var parsed []transformResult
	var lastErr error
	for attempt := 0; attempt < memoryTransformMaxRetries; attempt++ {
		raw, err := b.llm.Complete(ctx, prompt, llminterface.CompletionParams{})
		if err != nil {
			lastErr = err
			continue
		}
		raw = llminterface.ExtractAfterThink(llminterface.StripMarkers(raw))
		if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &parsed); err != nil {
			lastErr = fmt.Errorf("transform window: unmarshal llm output: %w", err)
			continue
		}
		lastErr = nil
		break
	}
	if lastErr != nil {
		return nil, fmt.Errorf("transform window: llm rewrite failed after %d attempts: %w", memoryTransformMaxRetries, lastErr)
	}

	entries := make([]*model.MemoryEntry, 0, len(parsed))
	for _, p := range parsed {
		entry, err := b.materializeEntry(ctx, p, lastTS)
		if err != nil {
			log.Log.Warnf("[MemoryBuilder] dropping window entry: %v", err)
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// formatPriorEntries renders the anti-duplication context list shown to the
// window prompt.
func formatPriorEntries(entries []*model.MemoryEntry) string {
	if len(entries) == 0 {
		return "(none recorded yet)"
	}
	var sb strings.Builder
	for _, e := range entries {
		sb.WriteString("- ")
		sb.WriteString(e.LosslessRestatement)
		sb.WriteString("\n")
	}
	return sb.String()
}

// formatWindowTurns renders window as the numbered turn list the prompt
// walks the model through, each with its own timestamp.
func formatWindowTurns(window []model.Dialogue, fallback time.Time) string {
	var sb strings.Builder
	for i, d := range window {
		ts := d.Timestamp
		if ts.IsZero() {
			ts = fallback
		}
		fmt.Fprintf(&sb, "%d. [%s] %s: %s\n", i+1, ts.Format(time.RFC3339), d.Speaker, d.Content)
	}
	return sb.String()
}

// violatesStoplist reports whether restatement still contains a whole-word
// pronoun or relative-time term from model.PronounStoplist (spec P2).
func violatesStoplist(restatement string) bool {
	lower := strings.ToLower(restatement)
	for _, term := range model.PronounStoplist() {
		words := strings.Fields(lower)
		for _, w := range words {
			if strings.Trim(w, ".,!?;:\"'") == term {
				return true
			}
		}
		if strings.Contains(term, " ") && strings.Contains(lower, term) {
			return true
		}
	}
	return false
}
