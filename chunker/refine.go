package chunker

import "regexp"

const densityThreshold = 3.0 // technical indicators per 100 chars, spec 4.5 step 6

// refine merges undersized segments into their neighbor and splits
// oversized or too-dense segments, per spec 4.5 step 6. text is the
// (placeholder-protected) full document text the spans index into.
func refine(text string, spans []segmentSpan) []segmentSpan {
	merged := mergeSmall(text, spans)

	var out []segmentSpan
	for _, s := range merged {
		out = append(out, splitLarge(text, s)...)
	}
	return out
}

// mergeSmall folds a segment under minChunkSize into the following segment
// when they are "semantically compatible": compatible here means neither
// a heading nor a Q/A marker, which are meant to stand apart, and the
// combined size still fits under maxChunkSize.
func mergeSmall(text string, spans []segmentSpan) []segmentSpan {
	if len(spans) == 0 {
		return spans
	}
	var out []segmentSpan
	cur := spans[0]
	for i := 1; i < len(spans); i++ {
		next := spans[i]
		curSize := cur.end - cur.start
		combinedSize := next.end - cur.start
		compatible := cur.boundaryType != boundaryHeading && cur.boundaryType != boundaryQA &&
			next.boundaryType != boundaryHeading && next.boundaryType != boundaryQA
		if curSize < minChunkSize && compatible && combinedSize <= maxChunkSize {
			cur.end = next.end
			continue
		}
		out = append(out, cur)
		cur = next
	}
	out = append(out, cur)
	return out
}

// splitLarge splits s if it is over maxChunkSize or technically dense,
// cascading from sentence to clause to a hard cut (spec 4.5 step 7), then
// returns the resulting pieces (or s unchanged, as a single-element slice,
// if it already fits). A single sentence or clause longer than the target
// stays one oversized piece; see splitDown.
func splitLarge(text string, s segmentSpan) []segmentSpan {
	body := text[s.start:s.end]
	if len(body) <= maxChunkSize && technicalDensity(body) <= densityThreshold {
		return []segmentSpan{s}
	}

	cuts := splitDown(body, targetChunkSize)
	if len(cuts) <= 1 {
		return []segmentSpan{s}
	}

	out := make([]segmentSpan, 0, len(cuts))
	pos := 0 // end of the previous piece within body
	for _, piece := range cuts {
		// A piece starts where the previous one ended, or chunkOverlap
		// bytes earlier when packUnits carried overlap into it.
		start := pos
		if end := pos + len(piece); end > len(body) || body[pos:end] != piece {
			start = pos - chunkOverlap
		}
		out = append(out, segmentSpan{
			start:        s.start + start,
			end:          s.start + start + len(piece),
			boundaryType: s.boundaryType,
			level:        s.level,
		})
		pos = start + len(piece)
	}
	return out
}

var (
	sentenceBoundaryRe = regexp.MustCompile(`[.!?]\s+`)
	clauseBoundaryRe   = regexp.MustCompile(`[,;:]\s+`)
)

// splitDown cascades through sentence boundaries, then clause boundaries,
// then a hard character cut, accumulating units into pieces no longer than
// target (spec 4.5 step 7). A unit wider than target is not cut further: it
// ends up in a piece of its own (after any carried overlap) and that piece
// is left oversized rather than cut mid-word.
func splitDown(body string, target int) []string {
	units := splitOnRegex(body, sentenceBoundaryRe)
	if len(units) <= 1 {
		units = splitOnRegex(body, clauseBoundaryRe)
	}
	if len(units) <= 1 {
		return hardCut(body, target)
	}
	return packUnits(units, target)
}

// splitOnRegex splits body at re's matches, keeping the matched separator
// attached to the preceding unit so reassembly is lossless.
func splitOnRegex(body string, re *regexp.Regexp) []string {
	locs := re.FindAllStringIndex(body, -1)
	if len(locs) == 0 {
		return []string{body}
	}
	var units []string
	prev := 0
	for _, loc := range locs {
		units = append(units, body[prev:loc[1]])
		prev = loc[1]
	}
	if prev < len(body) {
		units = append(units, body[prev:])
	}
	return units
}

// packUnits greedily accumulates units into pieces close to target size,
// the way a bin-packing pass over sentences or clauses would, preserving
// chunkOverlap characters of trailing context from each piece as the start
// of the next.
func packUnits(units []string, target int) []string {
	var pieces []string
	var cur string
	for _, u := range units {
		if len(cur)+len(u) > target && cur != "" {
			pieces = append(pieces, cur)
			if len(cur) > chunkOverlap {
				cur = cur[len(cur)-chunkOverlap:]
			} else {
				cur = ""
			}
		}
		cur += u
	}
	if cur != "" {
		pieces = append(pieces, cur)
	}
	return pieces
}

// hardCut is the last resort of the step 7 cascade: neither a sentence nor
// a clause boundary was found, so the text is cut at fixed offsets.
func hardCut(body string, target int) []string {
	var pieces []string
	for len(body) > target {
		pieces = append(pieces, body[:target])
		body = body[target:]
	}
	if len(body) > 0 {
		pieces = append(pieces, body)
	}
	return pieces
}
