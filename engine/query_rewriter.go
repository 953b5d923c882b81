package engine

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	llminterface "github.com/ghiac/agentize/llm-interface"
	"github.com/ghiac/agentize/log"
)

// RewriteStrategy selects how the Query Rewriter expands a query once its
// intent has been classified (spec 4.8).
type RewriteStrategy string

const (
	// RewriteStrategyRuleBased expands a query using static synonym/term
	// rules only; no LLM call. This is the canonical strategy per the Open
	// Question resolution in DESIGN.md: cheap and deterministic, used
	// whenever the query contains a term from the rule table.
	RewriteStrategyRuleBased RewriteStrategy = "rule_based"
	// RewriteStrategyLLM asks the LLM to rewrite the query when no rule
	// matches.
	RewriteStrategyLLM RewriteStrategy = "llm"
	// RewriteStrategyNone passes the query through unchanged.
	RewriteStrategyNone RewriteStrategy = "none"
)

const queryRewriteCacheSize = 1000

// synonymRules is the static term-expansion table backing
// RewriteStrategyRuleBased. Each key's expansions are appended to the query
// verbatim so downstream keyword search can match either form.
var synonymRules = map[string][]string{
	"buy":     {"purchase", "acquire"},
	"meeting": {"appointment", "call"},
	"like":    {"enjoy", "prefer"},
	"said":    {"mentioned", "stated"},
}

const rewritePrompt = `Rewrite the following search query to make it more specific and retrieval-friendly. Preserve its meaning. Respond with only the rewritten query, nothing else.

Query: %s`

// QueryRewriter preprocesses, picks a strategy, rewrites, validates, and
// caches query rewrites for the Hybrid Retriever and Chat Orchestrator. It
// does no intent classification or term scoring, and has no rewrite modes.
type QueryRewriter struct {
	llm   *llminterface.StreamingClient
	cache *lru.Cache[string, string]
}

// NewQueryRewriter wires the LLM fallback client and a bounded rewrite
// cache (spec default max 1000 entries).
func NewQueryRewriter(llm *llminterface.StreamingClient) *QueryRewriter {
	cache, _ := lru.New[string, string](queryRewriteCacheSize)
	return &QueryRewriter{llm: llm, cache: cache}
}

// Rewrite runs the pipeline: preprocess -> pick strategy -> rewrite ->
// validate -> cache. The cache key is the MD5 of the preprocessed query
// alone.
func (r *QueryRewriter) Rewrite(ctx context.Context, query string) string {
	clean := preprocess(query)
	if clean == "" {
		return query
	}

	key := cacheKeyMD5(clean)
	if cached, ok := r.cache.Get(key); ok {
		return cached
	}

	strategy := selectStrategy(clean)
	var rewritten string
	switch strategy {
	case RewriteStrategyRuleBased:
		rewritten = ruleBasedRewrite(clean)
	case RewriteStrategyLLM:
		rewritten = r.llmRewrite(ctx, clean)
	default:
		rewritten = clean
	}

	if !validateRewrite(clean, rewritten) {
		rewritten = clean
	}

	r.cache.Add(key, rewritten)
	return rewritten
}

// preprocess trims whitespace and collapses internal spacing.
func preprocess(query string) string {
	return strings.Join(strings.Fields(strings.TrimSpace(query)), " ")
}

// selectStrategy checks whether the lowercased query contains any
// synonym-rule key as a substring: if so, rule-based rewriting is the
// canonical choice (cheap, deterministic). Otherwise it falls back to the
// LLM.
func selectStrategy(query string) RewriteStrategy {
	lower := strings.ToLower(query)
	for term := range synonymRules {
		if strings.Contains(lower, term) {
			return RewriteStrategyRuleBased
		}
	}
	return RewriteStrategyLLM
}

func ruleBasedRewrite(query string) string {
	lower := strings.ToLower(query)
	var additions []string
	for term, expansions := range synonymRules {
		if strings.Contains(lower, term) {
			additions = append(additions, expansions...)
		}
	}
	if len(additions) == 0 {
		return query
	}
	return query + " " + strings.Join(additions, " ")
}

func (r *QueryRewriter) llmRewrite(ctx context.Context, query string) string {
	raw, err := r.llm.Complete(ctx, fmt.Sprintf(rewritePrompt, query), llminterface.CompletionParams{})
	if err != nil {
		log.Log.Warnf("[QueryRewriter] llm rewrite failed, using original query: %v", err)
		return query
	}
	raw = strings.TrimSpace(llminterface.ExtractAfterThink(llminterface.StripMarkers(raw)))
	if raw == "" {
		return query
	}
	return raw
}

// validateRewrite rejects a rewrite that is empty or implausibly longer
// than the original, falling back to the pre-rewrite query in those cases.
func validateRewrite(original, rewritten string) bool {
	if rewritten == "" {
		return false
	}
	return len(rewritten) <= len(original)*4+64
}

func cacheKeyMD5(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}
