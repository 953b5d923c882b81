package vectorstore

import (
	"sync"
	"time"

	"github.com/ghiac/agentize/model"
)

// Filters describes the predicates the symbolic/metadata view supports:
// equality on persons/entities/location/topic/memory_type, set-membership
// on persons/entities, and range predicates on timestamp (spec 4.3 view 3).
type Filters struct {
	Persons      []string
	Entities     []string
	Location     string
	Topic        string
	MemoryType   model.MemoryType
	TimestampGTE *time.Time
	TimestampLTE *time.Time
}

// Matches reports whether entry satisfies every predicate set on f. An
// unset field in f always matches.
func (f Filters) Matches(e *model.MemoryEntry) bool {
	if f.Location != "" && e.Location != f.Location {
		return false
	}
	if f.Topic != "" && e.Topic != f.Topic {
		return false
	}
	if f.MemoryType != "" && e.MemoryType != f.MemoryType {
		return false
	}
	if len(f.Persons) > 0 && !anyIntersect(f.Persons, e.Persons) {
		return false
	}
	if len(f.Entities) > 0 && !anyIntersect(f.Entities, e.Entities) {
		return false
	}
	if f.TimestampGTE != nil && (e.Timestamp == nil || e.Timestamp.Before(*f.TimestampGTE)) {
		return false
	}
	if f.TimestampLTE != nil && (e.Timestamp == nil || e.Timestamp.After(*f.TimestampLTE)) {
		return false
	}
	return true
}

func anyIntersect(want, have []string) bool {
	set := make(map[string]struct{}, len(have))
	for _, h := range have {
		set[h] = struct{}{}
	}
	for _, w := range want {
		if _, ok := set[w]; ok {
			return true
		}
	}
	return false
}

// symbolicIndex keeps a per-tenant in-memory table of full entries so
// structured_search (pure metadata filter, unranked/insertion-order per
// spec) can scan without round-tripping to Milvus or the relational store.
// This is also the source of truth get_entry/update_entry/delete_entries
// read from; the semantic and lexical views only ever hold derived
// projections (vector, tokens) keyed by the same entry_id.
type symbolicIndex struct {
	mu      sync.RWMutex
	entries map[string]map[string]*model.MemoryEntry // tenant -> entry_id -> entry
	order   map[string][]string                       // tenant -> insertion order of entry_ids
}

func newSymbolicIndex() *symbolicIndex {
	return &symbolicIndex{
		entries: make(map[string]map[string]*model.MemoryEntry),
		order:   make(map[string][]string),
	}
}

func (s *symbolicIndex) Put(e *model.MemoryEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[e.TenantID]; !ok {
		s.entries[e.TenantID] = make(map[string]*model.MemoryEntry)
	}
	if _, exists := s.entries[e.TenantID][e.EntryID]; !exists {
		s.order[e.TenantID] = append(s.order[e.TenantID], e.EntryID)
	}
	s.entries[e.TenantID][e.EntryID] = e
}

func (s *symbolicIndex) Get(tenantID, entryID string) (*model.MemoryEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[tenantID][entryID]
	return e, ok
}

func (s *symbolicIndex) Delete(tenantID string, ids []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
		delete(s.entries[tenantID], id)
	}
	kept := s.order[tenantID][:0]
	for _, id := range s.order[tenantID] {
		if _, removed := set[id]; !removed {
			kept = append(kept, id)
		}
	}
	s.order[tenantID] = kept
}

func (s *symbolicIndex) Clear(tenantID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, tenantID)
	delete(s.order, tenantID)
}

// Search returns entries matching f in insertion order, capped at topK (0
// means unbounded).
func (s *symbolicIndex) Search(tenantID string, f Filters, topK int) []*model.MemoryEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*model.MemoryEntry
	for _, id := range s.order[tenantID] {
		e := s.entries[tenantID][id]
		if e == nil {
			continue
		}
		if f.Matches(e) {
			out = append(out, e)
			if topK > 0 && len(out) >= topK {
				break
			}
		}
	}
	return out
}

func (s *symbolicIndex) All(tenantID string) []*model.MemoryEntry {
	return s.Search(tenantID, Filters{}, 0)
}

func (s *symbolicIndex) Count(tenantID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries[tenantID])
}
