package chunker

import (
	"strings"
	"testing"
)

func TestChunkFile_TXTSplitsOnHeadingsAndQAMarkers(t *testing.T) {
	doc := "1. Introduction\n" +
		"This section introduces the system.\n\n" +
		"Question: What does it do?\n" +
		"Solution: It chunks documents into bounded pieces.\n"

	chunks, err := ChunkFile([]byte(doc), "txt")
	if err != nil {
		t.Fatalf("ChunkFile returned error: %v", err)
	}
	if len(chunks) < 2 {
		t.Fatalf("expected at least 2 chunks from heading+QA boundaries, got %d: %+v", len(chunks), chunks)
	}
	for _, c := range chunks {
		if c.ChunkID == "" {
			t.Fatalf("chunk missing id: %+v", c)
		}
	}
}

func TestChunkFile_CSVProducesListItems(t *testing.T) {
	doc := "name,age\nAlice,30\nBob,40\n"
	chunks, err := ChunkFile([]byte(doc), "csv")
	if err != nil {
		t.Fatalf("ChunkFile returned error: %v", err)
	}
	if len(chunks) == 0 {
		t.Fatalf("expected at least one chunk from csv input")
	}
	joined := chunks[0].Text
	for _, c := range chunks[1:] {
		joined += "\n" + c.Text
	}
	if !strings.Contains(joined, "Alice") {
		t.Fatalf("expected extracted csv text to retain row content, got %q", joined)
	}
}

func TestChunkFile_LargeSegmentIsSplitDown(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 50; i++ {
		sb.WriteString("This is a long sentence about the system. ")
	}
	chunks, err := ChunkFile([]byte(sb.String()), "txt")
	if err != nil {
		t.Fatalf("ChunkFile returned error: %v", err)
	}
	for _, c := range chunks {
		if len(c.Text) > maxChunkSize {
			t.Fatalf("expected every chunk under maxChunkSize=%d, got %d chars", maxChunkSize, len(c.Text))
		}
	}
	if len(chunks) < 2 {
		t.Fatalf("expected the oversized segment to be split into multiple chunks, got %d", len(chunks))
	}
}

func TestProtectSpans_RestoresCodeBlockVerbatim(t *testing.T) {
	doc := "Explanation.\n```go\nfunc f() { return }\n```\nMore text."
	protected, placeholders := protectSpans(doc)
	if strings.Contains(protected, "func f()") {
		t.Fatalf("expected code block to be replaced by a placeholder, got %q", protected)
	}
	restored := restoreSpans(protected, placeholders)
	if restored != doc {
		t.Fatalf("expected restoreSpans to reproduce the original text exactly,\nwant %q\ngot  %q", doc, restored)
	}
}

func TestExtractTags_RanksFrequencyAndBoostsSuffixAndCapitalization(t *testing.T) {
	text := "Migration migration migration configuration database database Database"
	tags := extractTags(text, 3)
	if len(tags) == 0 {
		t.Fatalf("expected at least one tag")
	}
	if tags[0] != "database" && tags[0] != "migration" {
		t.Fatalf("expected a high-frequency boosted term first, got %q (tags=%v)", tags[0], tags)
	}
}

func TestExtractTags_DropsStopwords(t *testing.T) {
	tags := extractTags("the and of to in on at for with by the the the", 3)
	if len(tags) != 0 {
		t.Fatalf("expected no tags from an all-stopword input, got %v", tags)
	}
}

func TestTechnicalDensity_HigherForNumericHeavyText(t *testing.T) {
	plain := "The cat sat on the mat and looked around the room quietly."
	dense := "The API returns HTTP 200 with 99.9% uptime and p95 latency = 42ms."

	if technicalDensity(dense) <= technicalDensity(plain) {
		t.Fatalf("expected dense text to score higher: dense=%f plain=%f", technicalDensity(dense), technicalDensity(plain))
	}
}
