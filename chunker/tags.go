package chunker

import (
	"regexp"
	"sort"
	"strings"
)

// stopwords is the fixed English stoplist generate_tags filtered on in the
// original Python chunker (nltk.corpus.stopwords's English list, trimmed to
// the high-frequency closed-class words that matter for short chunks). No
// NLTK equivalent exists anywhere in the example pack, so this one list is
// a justified standard-library-only implementation: see DESIGN.md.
var stopwords = buildStopwordSet([]string{
	"a", "an", "the", "and", "or", "but", "if", "then", "else", "of", "to", "in",
	"on", "at", "for", "with", "by", "from", "up", "down", "out", "over", "under",
	"is", "are", "was", "were", "be", "been", "being", "this", "that", "these",
	"those", "it", "its", "as", "not", "no", "so", "than", "too", "very", "can",
	"will", "just", "should", "now", "do", "does", "did", "has", "have", "had",
	"i", "you", "he", "she", "we", "they", "them", "his", "her", "their", "our",
	"your", "my", "me", "us", "about", "into", "which", "who", "what", "when",
	"where", "why", "how", "all", "any", "each", "few", "more", "most", "other",
	"some", "such", "only", "own", "same", "both", "there", "here", "also",
	"one", "two", "per",
})

func buildStopwordSet(words []string) map[string]struct{} {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

var (
	wordTokenRe     = regexp.MustCompile(`[A-Za-z][A-Za-z'-]*`)
	boostedSuffixes = []string{"tion", "ment", "ity", "ology"}
)

// tokenCount pairs a lowercased token with its frequency and whether it
// ever appeared capitalized (a proper-noun/acronym signal) in the source.
type tokenCount struct {
	token        string
	count        int
	capitalized  bool
	boostSuffix  bool
}

// extractTags tokenizes text, drops stopwords, and returns up to topN
// tokens ranked by frequency with the boosts spec 4.5 step 8 names: longer
// technical-sounding endings (-tion/-ment/-ity/-ology) and tokens that ever
// appeared capitalized in the source (proper nouns, acronyms, named
// entities). Grounded on intelligent_chunking.py's generate_tags
// (lowercase -> tokenize -> strip stopwords -> Counter.most_common), ported
// to Go with the scoring boosts the spec adds on top of raw frequency.
func extractTags(text string, topN int) []string {
	counts := make(map[string]*tokenCount)
	var order []string

	for _, raw := range wordTokenRe.FindAllString(text, -1) {
		lower := strings.ToLower(raw)
		if len(lower) < 3 {
			continue
		}
		if _, stop := stopwords[lower]; stop {
			continue
		}
		tc, ok := counts[lower]
		if !ok {
			tc = &tokenCount{token: lower, boostSuffix: hasBoostedSuffix(lower)}
			counts[lower] = tc
			order = append(order, lower)
		}
		tc.count++
		if raw[0] >= 'A' && raw[0] <= 'Z' {
			tc.capitalized = true
		}
	}

	sort.Slice(order, func(i, j int) bool {
		a, b := counts[order[i]], counts[order[j]]
		sa, sb := tagScore(a), tagScore(b)
		if sa != sb {
			return sa > sb
		}
		return a.token < b.token
	})

	if len(order) > topN {
		order = order[:topN]
	}
	return order
}

// tagScore weights raw frequency by the two boosts spec 4.5 step 8 names.
func tagScore(tc *tokenCount) float64 {
	score := float64(tc.count)
	if tc.boostSuffix {
		score *= 1.5
	}
	if tc.capitalized {
		score *= 1.25
	}
	return score
}

func hasBoostedSuffix(token string) bool {
	if len(token) < 6 {
		return false
	}
	for _, suf := range boostedSuffixes {
		if strings.HasSuffix(token, suf) {
			return true
		}
	}
	return false
}

// technicalDensityIndicatorRe matches the markers spec 4.5 step 6 treats as
// signs of technical density: numbers (including decimals and units),
// acronyms of 2+ capital letters, and common math/code symbols.
var technicalDensityIndicatorRe = regexp.MustCompile(`\d+(\.\d+)?%?|\b[A-Z]{2,}\b|[=+*/<>^]`)

// technicalDensity counts step 6's technical indicators per 100 characters
// of body, used both to decide whether a segment needs splitting and to
// report Chunk.Density.
func technicalDensity(body string) float64 {
	if len(body) == 0 {
		return 0
	}
	matches := technicalDensityIndicatorRe.FindAllString(body, -1)
	return float64(len(matches)) / float64(len(body)) * 100
}
