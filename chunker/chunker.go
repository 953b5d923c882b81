// Package chunker implements the Chunker (C5): it turns a raw document
// (PDF, DOCX, TXT, or CSV bytes) into an ordered list of bounded,
// semantically-coherent chunks tagged with their most salient terms, ready
// for the Memory Builder (C6) or direct ingestion into the Vector Store
// (C3).
package chunker

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	targetChunkSize = 500
	minChunkSize    = 100
	maxChunkSize    = 800
	chunkOverlap    = 50
)

// Chunk is one element of chunk_file's output.
type Chunk struct {
	ChunkID string   `json:"chunk_id"`
	Text    string   `json:"text"`
	Tags    []string `json:"tags"`
	Density float64  `json:"density"`
	Title   string   `json:"title"`
}

// ChunkFile runs the full pipeline (spec 4.5 steps 1-8) over raw file bytes
// and returns an ordered list of chunks. ext is the lowercase file
// extension without a leading dot ("pdf", "docx", "txt", "csv").
func ChunkFile(raw []byte, ext string) ([]Chunk, error) {
	text, err := extractText(raw, ext)
	if err != nil {
		return nil, fmt.Errorf("chunker: extract %s: %w", ext, err)
	}

	protected, placeholders := protectSpans(text)

	protected = normalizeWhitespace(protected)
	protected = repairPDFArtifacts(protected)

	segments := segment(protected)
	segments = refine(protected, segments)

	chunks := make([]Chunk, 0, len(segments))
	for _, seg := range segments {
		body := restoreSpans(protected[seg.start:seg.end], placeholders)
		body = strings.TrimSpace(body)
		if body == "" {
			continue
		}
		chunks = append(chunks, buildChunk(body, seg))
	}
	return chunks, nil
}

// buildChunk computes a chunk's id, tags, density, and title from its final
// restored text.
func buildChunk(body string, seg segmentSpan) Chunk {
	tags := extractTags(body, 3)
	density := technicalDensity(body)
	return Chunk{
		ChunkID: deriveChunkID(body),
		Text:    body,
		Tags:    tags,
		Density: density,
		Title:   deriveTitle(body, seg),
	}
}

// deriveChunkID hashes the chunk's final text into a stable id, mirroring
// model.DeriveEntryID's content-derived-id approach for memory entries.
func deriveChunkID(text string) string {
	h := sha256.New()
	h.Write([]byte(text))
	return "chk_" + hex.EncodeToString(h.Sum(nil))[:24]
}

// deriveTitle takes the first line of a chunk (capped) as its title, which
// is usually the heading or question that introduced it.
func deriveTitle(text string, seg segmentSpan) string {
	first := text
	if idx := strings.IndexByte(text, '\n'); idx >= 0 {
		first = text[:idx]
	}
	first = strings.TrimSpace(first)
	if len(first) > 80 {
		first = first[:80]
	}
	if first == "" {
		first = string(seg.boundaryType)
	}
	return first
}
