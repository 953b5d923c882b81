package chunker

import (
	"fmt"
	"regexp"
	"strings"
)

// normalizeWhitespace collapses runs of spaces/tabs and excess blank lines
// (spec 4.5 step 2), keeping at most one blank line between paragraphs so
// paragraph-break boundary detection (step 4) still sees a clear signal.
func normalizeWhitespace(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = spaceRunRe.ReplaceAllString(text, " ")
	text = blankLineRunRe.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

var (
	spaceRunRe     = regexp.MustCompile(`[ \t]+`)
	blankLineRunRe = regexp.MustCompile(`\n{3,}`)

	cidCodeRe       = regexp.MustCompile(`\(cid:\d+\)`)
	hyphenBreakRe   = regexp.MustCompile(`([a-zA-Z])-\n([a-zA-Z])`)
)

// ligatureReplacer repairs the common ligature glyphs PDF text extraction
// leaves behind (fi/fl/ff/ffi/ffl collapsed into a single Unicode
// codepoint), per spec 4.5 step 2's "repair ... ligatures".
var ligatureReplacer = strings.NewReplacer(
	"ﬀ", "ff",
	"ﬁ", "fi",
	"ﬂ", "fl",
	"ﬃ", "ffi",
	"ﬄ", "ffl",
	"ﬅ", "st",
	"ﬆ", "st",
)

// repairPDFArtifacts undoes the three PDF extraction artifacts spec 4.5
// step 2 names explicitly: CID placeholder codes left by fonts with no
// ToUnicode map, ligature glyphs, and words hyphenated across a line break
// by the original page layout.
func repairPDFArtifacts(text string) string {
	text = cidCodeRe.ReplaceAllString(text, "")
	text = ligatureReplacer.Replace(text)
	text = hyphenBreakRe.ReplaceAllString(text, "$1$2")
	return text
}

// placeholder is one protected span and the verbatim text it stands in for.
type placeholder struct {
	token string
	text  string
}

var (
	fencedCodeRe = regexp.MustCompile("(?s)```.*?```")
	mathBlockRe  = regexp.MustCompile(`(?s)\$\$.*?\$\$|\\\[.*?\\\]`)
	citationRe   = regexp.MustCompile(`\[\d+(?:,\s*\d+)*\]|\([A-Z][a-zA-Z]+(?:\s+(?:et al\.|and|&)\s+[A-Z][a-zA-Z]+)?,?\s+\d{4}[a-z]?\)`)
)

// protectSpans replaces math blocks, fenced code, and citation-like
// patterns with opaque placeholder tokens before any further cleanup or
// boundary detection runs over the text (spec 4.5 step 3), so normalization
// and segmentation never reach inside a code block or a citation and
// mistake its punctuation for a boundary. restoreSpans puts the originals
// back once segmentation has produced final chunk text.
func protectSpans(text string) (string, []placeholder) {
	var placeholders []placeholder

	protect := func(re *regexp.Regexp, kind string, s string) string {
		return re.ReplaceAllStringFunc(s, func(match string) string {
			token := fmt.Sprintf("\x00%s%d\x00", kind, len(placeholders))
			placeholders = append(placeholders, placeholder{token: token, text: match})
			return token
		})
	}

	text = protect(fencedCodeRe, "CODE", text)
	text = protect(mathBlockRe, "MATH", text)
	text = protect(citationRe, "CITE", text)
	return text, placeholders
}

// restoreSpans reverses protectSpans over a (possibly sliced) piece of
// protected text, substituting back only the placeholders it actually
// contains.
func restoreSpans(text string, placeholders []placeholder) string {
	for _, p := range placeholders {
		if strings.Contains(text, p.token) {
			text = strings.ReplaceAll(text, p.token, p.text)
		}
	}
	return text
}
