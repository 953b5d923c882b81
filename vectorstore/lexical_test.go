package vectorstore

import (
	"testing"
	"time"

	"github.com/ghiac/agentize/model"
)

func TestLexicalIndex_ReturnsOnlyMatchingEntries(t *testing.T) {
	idx := newLexicalIndex()
	idx.Index("tenant-a", "e1", "Alice proposed a meeting at Starbucks", []string{"Alice", "Starbucks"})
	idx.Index("tenant-a", "e2", "Bob prepared some unrelated materials for a party", []string{"Bob"})

	results := idx.Search("tenant-a", []string{"Starbucks"}, 10)
	if len(results) != 1 || results[0].EntryID != "e1" {
		t.Fatalf("expected only e1 to match Starbucks, got %+v", results)
	}
}

func TestLexicalIndex_RemoveDropsFromPostings(t *testing.T) {
	idx := newLexicalIndex()
	idx.Index("t1", "e1", "the quick brown fox", nil)
	idx.Remove("t1", "e1")

	results := idx.Search("t1", []string{"fox"}, 10)
	if len(results) != 0 {
		t.Fatalf("expected no results after remove, got %+v", results)
	}
}

func TestLexicalIndex_TenantIsolation(t *testing.T) {
	idx := newLexicalIndex()
	idx.Index("tenant-a", "e1", "Starbucks meeting", []string{"Starbucks"})

	results := idx.Search("tenant-b", []string{"Starbucks"}, 10)
	if len(results) != 0 {
		t.Fatalf("expected zero cross-tenant results, got %+v", results)
	}
}

func TestSymbolicIndex_FiltersAndInsertionOrder(t *testing.T) {
	idx := newSymbolicIndex()
	now := time.Now().UTC()
	older := now.Add(-time.Hour)

	idx.Put(&model.MemoryEntry{EntryID: "e1", TenantID: "t1", Topic: "travel", Timestamp: &older, MemoryType: model.MemoryTypeEpisodic})
	idx.Put(&model.MemoryEntry{EntryID: "e2", TenantID: "t1", Topic: "food", Timestamp: &now, MemoryType: model.MemoryTypeEpisodic})

	results := idx.Search("t1", Filters{Topic: "travel"}, 0)
	if len(results) != 1 || results[0].EntryID != "e1" {
		t.Fatalf("expected only e1 for topic=travel, got %+v", results)
	}

	all := idx.All("t1")
	if len(all) != 2 || all[0].EntryID != "e1" || all[1].EntryID != "e2" {
		t.Fatalf("expected insertion order e1,e2, got %+v", all)
	}
}

func TestSymbolicIndex_DeleteAndClear(t *testing.T) {
	idx := newSymbolicIndex()
	idx.Put(&model.MemoryEntry{EntryID: "e1", TenantID: "t1"})
	idx.Put(&model.MemoryEntry{EntryID: "e2", TenantID: "t1"})

	idx.Delete("t1", []string{"e1"})
	if _, ok := idx.Get("t1", "e1"); ok {
		t.Fatal("expected e1 to be deleted")
	}
	if idx.Count("t1") != 1 {
		t.Fatalf("expected 1 remaining entry, got %d", idx.Count("t1"))
	}

	idx.Clear("t1")
	if idx.Count("t1") != 0 {
		t.Fatalf("expected 0 entries after clear, got %d", idx.Count("t1"))
	}
}
