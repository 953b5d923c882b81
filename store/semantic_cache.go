package store

import (
	"crypto/md5"
	"encoding/hex"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// defaultSemanticCacheMaxSize is C13's max_size default (spec 4.13).
const defaultSemanticCacheMaxSize = 300

// jaccardThreshold is the minimum token-set similarity for a near-duplicate
// query to be served from cache instead of re-retrieved.
const jaccardThreshold = 0.95

// SemanticCacheEntry is one cached retrieval result, keyed by the query
// that produced it.
type SemanticCacheEntry struct {
	Query  string
	Tokens map[string]struct{}
	Result interface{}
}

// SemanticCache is C13: a per-tenant cache of hybrid-retrieval results keyed
// on exact query match first, then Jaccard token-similarity. Nothing in this
// module calls Get or Put: the Hybrid Retriever does not consult it, and
// the only caller is the Vector Store, which calls Invalidate.
type SemanticCache struct {
	mu      sync.Mutex
	maxSize int
	// tenant_id -> LRU of query -> entry
	tenants map[string]*lru.Cache[string, *SemanticCacheEntry]
}

// NewSemanticCache builds a SemanticCache with the given per-tenant max
// size; a zero value falls back to the spec default.
func NewSemanticCache(maxSize int) *SemanticCache {
	if maxSize <= 0 {
		maxSize = defaultSemanticCacheMaxSize
	}
	return &SemanticCache{
		maxSize: maxSize,
		tenants: make(map[string]*lru.Cache[string, *SemanticCacheEntry]),
	}
}

func (c *SemanticCache) tenantCacheLocked(tenantID string) *lru.Cache[string, *SemanticCacheEntry] {
	tc, ok := c.tenants[tenantID]
	if !ok {
		tc, _ = lru.New[string, *SemanticCacheEntry](c.maxSize)
		c.tenants[tenantID] = tc
	}
	return tc
}

// Get looks up query for tenantID: first an exact match, then a scan for
// the highest-similarity entry at or above jaccardThreshold. Returns
// (result, true) on hit.
func (c *SemanticCache) Get(tenantID, query string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	tc, ok := c.tenants[tenantID]
	if !ok {
		return nil, false
	}

	key := cacheKey(query)
	if entry, ok := tc.Get(key); ok {
		return entry.Result, true
	}

	tokens := tokenSet(query)
	var best *SemanticCacheEntry
	bestScore := 0.0
	for _, k := range tc.Keys() {
		entry, ok := tc.Peek(k)
		if !ok {
			continue
		}
		score := jaccard(tokens, entry.Tokens)
		if score > bestScore {
			bestScore = score
			best = entry
		}
	}
	if best != nil && bestScore >= jaccardThreshold {
		return best.Result, true
	}
	return nil, false
}

// Put stores result under query for tenantID, evicting the LRU entry if
// the tenant's cache is full.
func (c *SemanticCache) Put(tenantID, query string, result interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	tc := c.tenantCacheLocked(tenantID)
	tc.Add(cacheKey(query), &SemanticCacheEntry{
		Query:  query,
		Tokens: tokenSet(query),
		Result: result,
	})
}

// Invalidate drops every cached entry for tenantID. It implements
// vectorstore.CacheInvalidator so a vectorstore.Store can wire this cache
// in via SetCacheInvalidator without either package importing the other's
// concrete types.
func (c *SemanticCache) Invalidate(tenantID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.tenants, tenantID)
}

func cacheKey(query string) string {
	sum := md5.Sum([]byte(strings.ToLower(strings.TrimSpace(query))))
	return hex.EncodeToString(sum[:])
}

func tokenSet(query string) map[string]struct{} {
	fields := strings.Fields(strings.ToLower(query))
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	intersection := 0
	for k := range a {
		if _, ok := b[k]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}
