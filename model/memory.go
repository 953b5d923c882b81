package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// MemoryType classifies the kind of recollection an atomic entry represents.
type MemoryType string

const (
	MemoryTypeEpisodic   MemoryType = "episodic"
	MemoryTypeSemantic   MemoryType = "semantic"
	MemoryTypeProcedural MemoryType = "procedural"
	MemoryTypeWorking    MemoryType = "working"
)

// Dialogue is a single conversational turn fed into the Memory Builder.
// It is transient: it lives only in the builder's input buffer until it is
// transformed into one or more MemoryEntry values.
type Dialogue struct {
	DialogueID string    `json:"dialogue_id"`
	Speaker    string    `json:"speaker"`
	Content    string    `json:"content"`
	Timestamp  time.Time `json:"timestamp,omitempty"`
}

// MemoryEntry is the atomic, self-contained memory unit produced by the
// Memory Builder (C6), stored by the Vector Store (C3), and surfaced by the
// Hybrid Retriever (C7).
//
// Invariants (spec I1-I3):
//   - LosslessRestatement must contain no unresolved pronoun and no relative
//     time term (checked by the Memory Builder against PronounStoplist;
//     Validate does not check it).
//   - DenseVector is L2-normalized; its dimension is fixed within a collection.
//   - Entries are immutable after creation except via explicit update/delete.
type MemoryEntry struct {
	EntryID              string     `json:"entry_id"`
	LosslessRestatement  string     `json:"lossless_restatement"`
	Keywords             []string   `json:"keywords"`
	Timestamp            *time.Time `json:"timestamp,omitempty"`
	Location             string     `json:"location,omitempty"`
	Topic                string     `json:"topic,omitempty"`
	Persons              []string   `json:"persons,omitempty"`
	Entities             []string   `json:"entities,omitempty"`
	MemoryType           MemoryType `json:"memory_type"`
	DenseVector          []float32  `json:"dense_vector"`
	TenantID             string     `json:"tenant_id"`
	CreatedAt            time.Time  `json:"created_at"`
}

// pronounStoplist backs property P2: no token from this list (case
// insensitive) may appear in a restatement.
var pronounStoplist = []string{
	"he", "she", "it", "they", "this", "that",
	"yesterday", "today", "tomorrow", "last week", "next week",
}

// PronounStoplist returns a copy of the stoplist used to validate restatements.
func PronounStoplist() []string {
	out := make([]string, len(pronounStoplist))
	copy(out, pronounStoplist)
	return out
}

// DeriveEntryID computes the stable content-derived identifier for an entry:
// a hash of the restatement plus the timestamp it refers to (or the creation
// time when no anchor timestamp is known). Used whenever add_entries is
// called without a pre-assigned entry_id.
func DeriveEntryID(restatement string, anchor time.Time) string {
	h := sha256.New()
	h.Write([]byte(restatement))
	h.Write([]byte(anchor.UTC().Format(time.RFC3339Nano)))
	return "mem_" + hex.EncodeToString(h.Sum(nil))[:24]
}

// NormalizeAnchor picks the timestamp DeriveEntryID should hash: the entry's
// own referenced instant if present, otherwise its creation time.
func (e *MemoryEntry) NormalizeAnchor() time.Time {
	if e.Timestamp != nil {
		return *e.Timestamp
	}
	return e.CreatedAt
}

// EnsureEntryID fills EntryID from content when it is empty, per add_entries'
// "generates entry_id if absent" contract.
func (e *MemoryEntry) EnsureEntryID() {
	if e.EntryID == "" {
		e.EntryID = DeriveEntryID(e.LosslessRestatement, e.NormalizeAnchor())
	}
}

// RAGResult is the wire shape spec 6's "rag_results" SSE frame carries:
// one retrieved memory plus the ranking/provenance data the Hybrid
// Retriever's caller (the Chat Orchestrator) attaches, but that
// MemoryEntry itself does not store.
type RAGResult struct {
	ID        string    `json:"id"`
	Score     float64   `json:"score"`
	Text      string    `json:"text"`
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
	Matches   []string  `json:"matches,omitempty"`
}

// Validate checks that tenant_id and lossless_restatement are set, that
// dense_vector has expectedDim elements (skipped when expectedDim <= 0), and
// that memory_type is one of the known values, returning a descriptive
// error for the first violation found. It does not check I1 (pronouns and
// relative time terms) or L2 normalization. Called by the Vector Store
// before persisting.
func (e *MemoryEntry) Validate(expectedDim int) error {
	if e.TenantID == "" {
		return fmt.Errorf("memory entry: tenant_id is required")
	}
	if e.LosslessRestatement == "" {
		return fmt.Errorf("memory entry: lossless_restatement is required")
	}
	if expectedDim > 0 && len(e.DenseVector) != expectedDim {
		return fmt.Errorf("memory entry: dense_vector dimension %d does not match collection dimension %d", len(e.DenseVector), expectedDim)
	}
	switch e.MemoryType {
	case MemoryTypeEpisodic, MemoryTypeSemantic, MemoryTypeProcedural, MemoryTypeWorking:
	default:
		return fmt.Errorf("memory entry: invalid memory_type %q", e.MemoryType)
	}
	return nil
}
