package model

import (
	"strings"
	"testing"
	"time"
)

func TestDeriveEntryID_StableForSameInput(t *testing.T) {
	anchor := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	id1 := DeriveEntryID("Alice met Bob at the park.", anchor)
	id2 := DeriveEntryID("Alice met Bob at the park.", anchor)
	if id1 != id2 {
		t.Fatalf("expected DeriveEntryID to be deterministic, got %q and %q", id1, id2)
	}
	if !strings.HasPrefix(id1, "mem_") {
		t.Errorf("expected mem_ prefix, got %q", id1)
	}
}

func TestDeriveEntryID_DiffersOnRestatementOrAnchor(t *testing.T) {
	anchor := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	base := DeriveEntryID("Alice met Bob at the park.", anchor)

	if other := DeriveEntryID("Alice met Carol at the park.", anchor); other == base {
		t.Error("expected a different restatement to produce a different entry_id")
	}
	if other := DeriveEntryID("Alice met Bob at the park.", anchor.Add(time.Hour)); other == base {
		t.Error("expected a different anchor to produce a different entry_id")
	}
}

func TestMemoryEntry_EnsureEntryID_FillsOnlyWhenEmpty(t *testing.T) {
	ts := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	e := &MemoryEntry{LosslessRestatement: "Alice joined the team.", Timestamp: &ts}
	e.EnsureEntryID()
	if e.EntryID == "" {
		t.Fatal("expected EnsureEntryID to populate EntryID")
	}

	e.EnsureEntryID()
	second := e.EntryID
	e.LosslessRestatement = "something else entirely"
	e.EnsureEntryID()
	if e.EntryID != second {
		t.Error("EnsureEntryID should not overwrite an already-set EntryID")
	}
}

func TestMemoryEntry_NormalizeAnchor(t *testing.T) {
	created := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	withTimestamp := &MemoryEntry{CreatedAt: created}
	if got := withTimestamp.NormalizeAnchor(); !got.Equal(created) {
		t.Errorf("expected CreatedAt fallback %v, got %v", created, got)
	}

	ts := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	withTimestamp.Timestamp = &ts
	if got := withTimestamp.NormalizeAnchor(); !got.Equal(ts) {
		t.Errorf("expected Timestamp to take priority, got %v", got)
	}
}

func TestMemoryEntry_Validate(t *testing.T) {
	valid := func() *MemoryEntry {
		return &MemoryEntry{
			TenantID:            "tenant-1",
			LosslessRestatement: "Alice joined the team on 2026-01-02.",
			MemoryType:          MemoryTypeEpisodic,
			DenseVector:         []float32{0.1, 0.2, 0.3},
		}
	}

	if err := valid().Validate(3); err != nil {
		t.Fatalf("expected valid entry to pass, got %v", err)
	}

	t.Run("missing tenant", func(t *testing.T) {
		e := valid()
		e.TenantID = ""
		if err := e.Validate(3); err == nil {
			t.Error("expected error for missing tenant_id")
		}
	})

	t.Run("missing restatement", func(t *testing.T) {
		e := valid()
		e.LosslessRestatement = ""
		if err := e.Validate(3); err == nil {
			t.Error("expected error for missing lossless_restatement")
		}
	})

	t.Run("dimension mismatch", func(t *testing.T) {
		e := valid()
		if err := e.Validate(8); err == nil {
			t.Error("expected error for dense_vector dimension mismatch")
		}
	})

	t.Run("invalid memory type", func(t *testing.T) {
		e := valid()
		e.MemoryType = MemoryType("bogus")
		if err := e.Validate(3); err == nil {
			t.Error("expected error for invalid memory_type")
		}
	})

	t.Run("expectedDim zero skips dimension check", func(t *testing.T) {
		e := valid()
		e.DenseVector = nil
		if err := e.Validate(0); err != nil {
			t.Errorf("expected expectedDim<=0 to skip the dimension check, got %v", err)
		}
	})
}

func TestPronounStoplist_ReturnsIndependentCopy(t *testing.T) {
	list := PronounStoplist()
	list[0] = "mutated"
	again := PronounStoplist()
	if again[0] == "mutated" {
		t.Error("PronounStoplist should return a fresh copy each call")
	}
}
