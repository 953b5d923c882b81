package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"

	llminterface "github.com/ghiac/agentize/llm-interface"
	"github.com/ghiac/agentize/model"
)

// newTestEmbeddingService points an EmbeddingService at a local httptest
// server that mimics the OpenAI-compatible /embeddings endpoint, so tests
// never touch the network.
func newTestEmbeddingService(t *testing.T, vector []float32) *llminterface.EmbeddingService {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(openai.EmbeddingResponse{
			Data: []openai.Embedding{{Embedding: vector}},
		})
	}))
	t.Cleanup(server.Close)
	return llminterface.NewEmbeddingService("test-key", server.URL, openai.AdaEmbeddingV2)
}

func TestMemoryBuilder_Windows_ChunksFixedSize(t *testing.T) {
	b := NewMemoryBuilder(nil, nil, 2, 1)

	dialogues := make([]model.Dialogue, 5)
	for i := range dialogues {
		dialogues[i] = model.Dialogue{DialogueID: string(rune('a' + i))}
	}

	windows := b.windows(dialogues)
	if len(windows) != 3 {
		t.Fatalf("expected 3 windows of size 2 for 5 dialogues, got %d", len(windows))
	}
	if len(windows[0]) != 2 || len(windows[1]) != 2 || len(windows[2]) != 1 {
		t.Fatalf("expected window sizes [2,2,1], got [%d,%d,%d]", len(windows[0]), len(windows[1]), len(windows[2]))
	}
}

func TestMemoryBuilder_Windows_EmptyInput(t *testing.T) {
	b := NewMemoryBuilder(nil, nil, 5, 1)
	if windows := b.windows(nil); len(windows) != 0 {
		t.Errorf("expected no windows for empty input, got %d", len(windows))
	}
}

func TestViolatesStoplist(t *testing.T) {
	cases := []struct {
		name        string
		restatement string
		want        bool
	}{
		{"clean restatement", "Alice met Bob at the park on 2026-01-02.", false},
		{"bare pronoun", "He went to the store.", true},
		{"pronoun as substring should not match", "Theodore went to the store.", false},
		{"relative time phrase", "Alice will call last week about the invoice.", true},
		{"today alone", "Alice left today.", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := violatesStoplist(tc.restatement); got != tc.want {
				t.Errorf("violatesStoplist(%q) = %v, want %v", tc.restatement, got, tc.want)
			}
		})
	}
}

func TestMemoryBuilder_MaterializeEntry_RejectsEmptyRestatement(t *testing.T) {
	b := NewMemoryBuilder(nil, newTestEmbeddingService(t, []float32{0.1, 0.2}), 5, 1)
	_, err := b.materializeEntry(context.Background(), transformResult{}, time.Now())
	if err == nil {
		t.Fatal("expected an error for an empty restatement")
	}
}

func TestMemoryBuilder_MaterializeEntry_RejectsStoplistedRestatement(t *testing.T) {
	b := NewMemoryBuilder(nil, newTestEmbeddingService(t, []float32{0.1, 0.2}), 5, 1)
	_, err := b.materializeEntry(context.Background(), transformResult{Restatement: "She left early."}, time.Now())
	if err == nil {
		t.Fatal("expected an error for a restatement still containing a stoplisted pronoun")
	}
}

func TestMemoryBuilder_MaterializeEntry_DefaultsUnknownMemoryType(t *testing.T) {
	b := NewMemoryBuilder(nil, newTestEmbeddingService(t, []float32{0.1, 0.2, 0.3}), 5, 1)
	entry, err := b.materializeEntry(context.Background(), transformResult{
		Restatement: "Alice joined the engineering team on 2026-01-02.",
		MemoryType:  "not-a-real-type",
	}, time.Now())
	if err != nil {
		t.Fatalf("materializeEntry: %v", err)
	}
	if entry.MemoryType != model.MemoryTypeEpisodic {
		t.Errorf("expected unknown memory_type to default to episodic, got %s", entry.MemoryType)
	}
	if entry.EntryID == "" {
		t.Error("expected EnsureEntryID to have populated EntryID")
	}
}

func TestMemoryBuilder_MaterializeEntry_PrefersParsedTimestampOverFallback(t *testing.T) {
	b := NewMemoryBuilder(nil, newTestEmbeddingService(t, []float32{0.1, 0.2}), 5, 1)
	fallback := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	parsedTS := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)

	entry, err := b.materializeEntry(context.Background(), transformResult{
		Restatement: "Alice filed the report on 2026-03-04.",
		MemoryType:  string(model.MemoryTypeSemantic),
		Timestamp:   parsedTS.Format(time.RFC3339),
	}, fallback)
	if err != nil {
		t.Fatalf("materializeEntry: %v", err)
	}
	if entry.Timestamp == nil || !entry.Timestamp.Equal(parsedTS) {
		t.Errorf("expected anchor timestamp %v, got %v", parsedTS, entry.Timestamp)
	}
}

func TestMemoryBuilder_MaterializeEntry_FallsBackToFallbackAnchorWhenNoTimestamp(t *testing.T) {
	b := NewMemoryBuilder(nil, newTestEmbeddingService(t, []float32{0.1, 0.2}), 5, 1)
	fallback := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

	entry, err := b.materializeEntry(context.Background(), transformResult{
		Restatement: "Alice filed the report.",
		MemoryType:  string(model.MemoryTypeSemantic),
	}, fallback)
	if err != nil {
		t.Fatalf("materializeEntry: %v", err)
	}
	if entry.Timestamp == nil || !entry.Timestamp.Equal(fallback) {
		t.Errorf("expected fallback anchor %v, got %v", fallback, entry.Timestamp)
	}
}

func TestFormatPriorEntries(t *testing.T) {
	if got := formatPriorEntries(nil); got != "(none recorded yet)" {
		t.Errorf("expected placeholder text for no prior entries, got %q", got)
	}

	entries := []*model.MemoryEntry{{LosslessRestatement: "Alice joined the team."}}
	got := formatPriorEntries(entries)
	if got != "- Alice joined the team.\n" {
		t.Errorf("unexpected formatting: %q", got)
	}
}

func TestFormatWindowTurns_NumbersEachTurn(t *testing.T) {
	fallback := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	window := []model.Dialogue{
		{Speaker: "alice", Content: "hello"},
		{Speaker: "bob", Content: "hi there"},
	}
	got := formatWindowTurns(window, fallback)
	if got == "" {
		t.Fatal("expected non-empty formatted window")
	}
	for _, needle := range []string{"1.", "alice", "hello", "2.", "bob", "hi there"} {
		if !strings.Contains(got, needle) {
			t.Errorf("expected formatted window to contain %q, got %q", needle, got)
		}
	}
}
