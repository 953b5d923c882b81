package vectorstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/ghiac/agentize/log"
	"github.com/ghiac/agentize/model"
)

const addEntriesBatchSize = 100

// CacheInvalidator is implemented by the Semantic Cache (C13) so the Vector
// Store can invalidate it on writes and tenant switches without importing
// the store package.
type CacheInvalidator interface {
	Invalidate(tenantID string)
}

// Store is the Vector Store (C3): a set of named collections, each keyed by
// tenant_id, each holding three views over the same entries.
type Store struct {
	semantic *SemanticIndex
	lexical  *lexicalIndex
	symbolic *symbolicIndex

	entryCache *lru.Cache[string, *model.MemoryEntry]

	mu             sync.Mutex
	currentTenant  string
	frozen         bool
	knownTenants   map[string]struct{}

	cacheInvalidator CacheInvalidator
}

// NewStore builds a Store around a connected SemanticIndex.
func NewStore(semantic *SemanticIndex) *Store {
	cache, _ := lru.New[string, *model.MemoryEntry](entryCacheCap)
	return &Store{
		semantic:     semantic,
		lexical:      newLexicalIndex(),
		symbolic:     newSymbolicIndex(),
		entryCache:   cache,
		knownTenants: make(map[string]struct{}),
	}
}

// SetCacheInvalidator wires the Semantic Cache so tenant switches and writes
// invalidate it (spec 4.3 step 3, 4.13 invalidate-on-write).
func (s *Store) SetCacheInvalidator(inv CacheInvalidator) {
	s.cacheInvalidator = inv
}

// Handle returns a CollectionHandle scoped to tenantID. This is the
// preferred way to operate on the store: callers thread the handle through
// their whole request rather than relying on the mutable current-tenant
// selector.
func (s *Store) Handle(tenantID string) (CollectionHandle, error) {
	if tenantID == "" {
		return CollectionHandle{}, ErrInvalidTenant
	}
	if err := s.ensureCollectionKnown(tenantID); err != nil {
		return CollectionHandle{}, err
	}
	return CollectionHandle{TenantID: tenantID, store: s}, nil
}

// SwitchTenant implements the legacy "current tenant" selector described in
// spec 4.3 for callers that genuinely need it. It: (1) takes the store lock,
// (2) returns immediately if new==current, (3) invalidates the semantic
// cache for the old tenant, (4) clears the local entry cache, (5) ensures
// the new collection exists, (6) rolls back on failure. Internal code in
// this module never calls this — it always uses an explicit
// CollectionHandle — but it is kept as a documented, narrow escape hatch.
func (s *Store) SwitchTenant(ctx context.Context, tenantID string) (CollectionHandle, error) {
	if tenantID == "" {
		return CollectionHandle{}, ErrInvalidTenant
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.frozen {
		return CollectionHandle{}, ErrTenantFrozen
	}
	if s.currentTenant == tenantID {
		return CollectionHandle{TenantID: tenantID, store: s}, nil
	}

	previous := s.currentTenant
	if s.cacheInvalidator != nil && previous != "" {
		s.cacheInvalidator.Invalidate(previous)
	}
	s.entryCache.Purge()

	if err := s.ensureCollectionKnownLocked(tenantID); err != nil {
		s.currentTenant = previous
		return CollectionHandle{}, fmt.Errorf("vectorstore: switch tenant rolled back: %w", err)
	}
	s.currentTenant = tenantID
	log.Log.Infof("[VectorStore] switched current tenant to %q", tenantID)
	return CollectionHandle{TenantID: tenantID, store: s}, nil
}

// FreezeTenant runs fn while preventing any tenant switch; attempts to
// switch inside fn (via a different goroutine) return ErrTenantFrozen until
// fn returns.
func (s *Store) FreezeTenant(fn func() error) error {
	s.mu.Lock()
	s.frozen = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.frozen = false
		s.mu.Unlock()
	}()

	return fn()
}

func (s *Store) ensureCollectionKnown(tenantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ensureCollectionKnownLocked(tenantID)
}

// ensureCollectionKnownLocked is idempotent collection creation (spec:
// "Creating a collection is idempotent"). The symbolic/lexical views are
// plain Go maps that spring into existence on first write, so only
// bookkeeping is needed here.
func (s *Store) ensureCollectionKnownLocked(tenantID string) error {
	if _, ok := s.knownTenants[tenantID]; ok {
		return nil
	}
	s.knownTenants[tenantID] = struct{}{}
	return nil
}

// AddEntries batch-upserts entries under h.TenantID, generating entry_id
// when absent, in chunks of 100 per the batch-atomicity contract (spec
// 4.3).
func (h CollectionHandle) AddEntries(ctx context.Context, entries []*model.MemoryEntry) error {
	s := h.store
	dim := s.semantic.Dimension()

	for start := 0; start < len(entries); start += addEntriesBatchSize {
		end := start + addEntriesBatchSize
		if end > len(entries) {
			end = len(entries)
		}
		chunk := entries[start:end]

		for _, e := range chunk {
			e.TenantID = h.TenantID
			if e.CreatedAt.IsZero() {
				e.CreatedAt = time.Now().UTC()
			}
			e.EnsureEntryID()
			if err := e.Validate(dim); err != nil {
				return fmt.Errorf("vectorstore: add_entries batch [%d:%d] rejected: %w", start, end, err)
			}
		}

		if err := s.semantic.Upsert(ctx, chunk); err != nil {
			return fmt.Errorf("vectorstore: add_entries batch [%d:%d]: %w", start, end, err)
		}
		for _, e := range chunk {
			s.lexical.Index(h.TenantID, e.EntryID, e.LosslessRestatement, e.Keywords)
			s.symbolic.Put(e)
			s.entryCache.Add(e.EntryID, e)
		}
	}

	if s.cacheInvalidator != nil {
		s.cacheInvalidator.Invalidate(h.TenantID)
	}
	return nil
}

// SemanticSearch performs dense k-NN search, optionally filtered.
func (h CollectionHandle) SemanticSearch(ctx context.Context, queryVector []float32, topK int, filters Filters) ([]*model.MemoryEntry, error) {
	scored, err := h.store.semantic.Search(ctx, h.TenantID, queryVector, topK*4+topK)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: semantic_search: %w", err)
	}
	return h.materializeFiltered(scored, filters, topK), nil
}

// KeywordSearch combines the lexical view with a light semantic re-rank:
// 0.7 lexical / 0.3 semantic (spec 4.3).
func (h CollectionHandle) KeywordSearch(ctx context.Context, keywords []string, queryVector []float32, topK int, filters Filters) ([]*model.MemoryEntry, error) {
	lexResults := h.store.lexical.Search(h.TenantID, keywords, topK*4+topK)

	var semScores map[string]float64
	if len(queryVector) > 0 {
		semResults, err := h.store.semantic.Search(ctx, h.TenantID, queryVector, topK*4+topK)
		if err == nil {
			semScores = make(map[string]float64, len(semResults))
			for _, r := range semResults {
				semScores[r.EntryID] = r.Score
			}
		}
	}

	combined := make([]ScoredID, len(lexResults))
	maxLex := maxScore(lexResults)
	for i, r := range lexResults {
		lexNorm := 0.0
		if maxLex > 0 {
			lexNorm = r.Score / maxLex
		}
		combined[i] = ScoredID{EntryID: r.EntryID, Score: 0.7*lexNorm + 0.3*semScores[r.EntryID]}
	}
	sortScoredDesc(combined)
	return h.materializeFiltered(combined, filters, topK), nil
}

// StructuredSearch is a pure metadata filter, unranked (insertion order).
func (h CollectionHandle) StructuredSearch(filters Filters, topK int) []*model.MemoryEntry {
	return h.store.symbolic.Search(h.TenantID, filters, topK)
}

// HybridSearch performs weighted rank fusion over semantic and lexical
// results, deduplicating by entry_id (spec 4.3).
func (h CollectionHandle) HybridSearch(ctx context.Context, query []float32, keywords []string, filters Filters, topK int, wSem, wLex float64) ([]*model.MemoryEntry, error) {
	semResults, err := h.store.semantic.Search(ctx, h.TenantID, query, topK*4+topK)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: hybrid_search semantic leg: %w", err)
	}
	lexResults := h.store.lexical.Search(h.TenantID, keywords, topK*4+topK)

	fused := make(map[string]float64)
	maxSem := maxScore(semResults)
	maxLex := maxScore(lexResults)
	for _, r := range semResults {
		norm := 0.0
		if maxSem > 0 {
			norm = r.Score / maxSem
		}
		fused[r.EntryID] += wSem * norm
	}
	for _, r := range lexResults {
		norm := 0.0
		if maxLex > 0 {
			norm = r.Score / maxLex
		}
		fused[r.EntryID] += wLex * norm
	}

	combined := make([]ScoredID, 0, len(fused))
	for id, score := range fused {
		combined = append(combined, ScoredID{EntryID: id, Score: score})
	}
	sortScoredDesc(combined)
	return h.materializeFiltered(combined, filters, topK), nil
}

// GetEntry returns a single entry by id, via the entry cache when possible.
func (h CollectionHandle) GetEntry(entryID string) (*model.MemoryEntry, bool) {
	if e, ok := h.store.entryCache.Get(entryID); ok && e.TenantID == h.TenantID {
		return e, true
	}
	e, ok := h.store.symbolic.Get(h.TenantID, entryID)
	if ok {
		h.store.entryCache.Add(entryID, e)
	}
	return e, ok
}

// UpdateEntry replaces an existing entry's content (the one mutation path
// I3 allows post-creation).
func (h CollectionHandle) UpdateEntry(ctx context.Context, e *model.MemoryEntry) error {
	e.TenantID = h.TenantID
	if err := e.Validate(h.store.semantic.Dimension()); err != nil {
		return fmt.Errorf("vectorstore: update_entry: %w", err)
	}
	if err := h.store.semantic.Upsert(ctx, []*model.MemoryEntry{e}); err != nil {
		return fmt.Errorf("vectorstore: update_entry: %w", err)
	}
	h.store.lexical.Remove(h.TenantID, e.EntryID)
	h.store.lexical.Index(h.TenantID, e.EntryID, e.LosslessRestatement, e.Keywords)
	h.store.symbolic.Put(e)
	h.store.entryCache.Add(e.EntryID, e)
	if h.store.cacheInvalidator != nil {
		h.store.cacheInvalidator.Invalidate(h.TenantID)
	}
	return nil
}

// DeleteEntries removes entries by id from every view.
func (h CollectionHandle) DeleteEntries(ctx context.Context, ids []string) error {
	if err := h.store.semantic.Delete(ctx, ids); err != nil {
		return fmt.Errorf("vectorstore: delete_entries: %w", err)
	}
	for _, id := range ids {
		h.store.lexical.Remove(h.TenantID, id)
		h.store.entryCache.Remove(id)
	}
	h.store.symbolic.Delete(h.TenantID, ids)
	if h.store.cacheInvalidator != nil {
		h.store.cacheInvalidator.Invalidate(h.TenantID)
	}
	return nil
}

// Clear removes every entry belonging to h.TenantID from every view. It
// asks for no confirmation, and neither does its one caller in this
// module, the delete_agent tool, which clears the collection of the agent
// it deletes.
func (h CollectionHandle) Clear(ctx context.Context) error {
	if err := h.store.semantic.Clear(ctx, h.TenantID); err != nil {
		return fmt.Errorf("vectorstore: clear: %w", err)
	}
	h.store.lexical.Clear(h.TenantID)
	h.store.symbolic.Clear(h.TenantID)
	if h.store.cacheInvalidator != nil {
		h.store.cacheInvalidator.Invalidate(h.TenantID)
	}
	return nil
}

// Count returns the number of entries currently held for h.TenantID (used
// by the Tool Gateway's agent_stats tool).
func (h CollectionHandle) Count() int {
	return h.store.symbolic.Count(h.TenantID)
}

func (h CollectionHandle) materializeFiltered(scored []ScoredID, filters Filters, topK int) []*model.MemoryEntry {
	out := make([]*model.MemoryEntry, 0, len(scored))
	for _, s := range scored {
		e, ok := h.GetEntry(s.EntryID)
		if !ok || e == nil {
			continue
		}
		if !filters.Matches(e) {
			continue
		}
		out = append(out, e)
		if topK > 0 && len(out) >= topK {
			break
		}
	}
	return out
}

func maxScore(scored []ScoredID) float64 {
	max := 0.0
	for _, s := range scored {
		if s.Score > max {
			max = s.Score
		}
	}
	return max
}

func sortScoredDesc(scored []ScoredID) {
	sort.Slice(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
}
