// Package chunker splits extracted document text into overlapping,
// boundary-aware segments. One deterministic pass produces the chunk set an
// ingestion run embeds and indexes; the same text always chunks identically.
package chunker

import (
	"strings"
	"unicode"
)

const (
	DefaultChunkSize = 1000
	DefaultOverlap   = 200

	// boundaryRadius is how far around the naive window end we look for a
	// sentence terminator or paragraph break before accepting a hard cut.
	boundaryRadius = 100
)

// Chunk is a contiguous slice of a document's text. Offsets are rune-based
// positions into the original extracted text.
type Chunk struct {
	DocumentID string
	Index      int
	Content    string
	StartChar  int
	EndChar    int
	Metadata   map[string]any
}

var boundaryMarkers = []string{". ", "! ", "? ", "\n\n"}

// Split walks text in windows of chunkSize runes, snapping each window end to
// a nearby sentence or paragraph boundary when one exists. Consecutive chunks
// overlap by up to overlap runes; the next window start always strictly
// advances, so the pass terminates for any size/overlap combination with
// chunkSize > overlap >= 0. Callers filter empty text beforehand.
func Split(text string, metadata map[string]any, documentID string, chunkSize, overlap int) []Chunk {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if overlap < 0 || overlap >= chunkSize {
		overlap = DefaultOverlap
		if overlap >= chunkSize {
			overlap = chunkSize / 5
		}
	}

	runes := []rune(text)
	n := len(runes)

	var chunks []Chunk
	start := 0
	for start < n {
		end := start + chunkSize
		if end >= n {
			end = n
		} else {
			end = snapToBoundary(runes, start, end)
		}

		window := string(runes[start:end])
		trimmed := strings.TrimSpace(window)
		if trimmed == "" {
			// Pure-whitespace tail; nothing left worth emitting.
			break
		}

		lead := leadingSpace(window)
		startChar := start + lead
		chunks = append(chunks, Chunk{
			DocumentID: documentID,
			Index:      len(chunks),
			Content:    trimmed,
			StartChar:  startChar,
			EndChar:    startChar + len([]rune(trimmed)),
			Metadata:   metadata,
		})

		if end >= n {
			break
		}
		next := end - overlap
		if next <= start {
			next = start + 1
		}
		start = next
	}
	return chunks
}

// snapToBoundary looks within boundaryRadius runes on either side of the naive
// end for the last sentence terminator or paragraph break and cuts just after
// it. Falls back to the naive cut when the region has no boundary.
func snapToBoundary(runes []rune, start, naiveEnd int) int {
	lo := naiveEnd - boundaryRadius
	if lo <= start {
		lo = start + 1
	}
	hi := naiveEnd + boundaryRadius
	if hi > len(runes) {
		hi = len(runes)
	}
	region := string(runes[lo:hi])

	best := -1
	markerLen := 0
	for _, m := range boundaryMarkers {
		if idx := strings.LastIndex(region, m); idx >= 0 && idx > best {
			best = idx
			markerLen = len(m)
		}
	}
	if best < 0 {
		return naiveEnd
	}

	// region is sliced from a rune boundary, so byte offsets inside it need
	// converting back to rune positions before adding to lo.
	snapped := lo + len([]rune(region[:best+markerLen]))
	if snapped <= start {
		return naiveEnd
	}
	return snapped
}

// leadingSpace counts the runes TrimSpace would drop from the front, so
// StartChar stays aligned with the trimmed content.
func leadingSpace(s string) int {
	count := 0
	for _, r := range s {
		if !unicode.IsSpace(r) {
			break
		}
		count++
	}
	return count
}
