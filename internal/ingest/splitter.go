package ingest

import (
	"strings"
	"unicode/utf8"
)

// separators are tried in order when looking for a natural break point
// near the chunk boundary.
var separators = []string{"\n\n", "\n", ". ", " "}

// Splitter cuts text into chunks of roughly ChunkSize bytes with
// ChunkOverlap bytes of trailing context carried into the next chunk.
// Splits prefer paragraph, line, sentence, then word boundaries, and
// always land on rune boundaries.
type Splitter struct {
	ChunkSize    int
	ChunkOverlap int
}

// NewSplitter creates a Splitter. Non-positive values fall back to the
// 700/120 defaults.
func NewSplitter(chunkSize, chunkOverlap int) *Splitter {
	if chunkSize <= 0 {
		chunkSize = 700
	}
	if chunkOverlap < 0 || chunkOverlap >= chunkSize {
		chunkOverlap = 120
	}
	return &Splitter{ChunkSize: chunkSize, ChunkOverlap: chunkOverlap}
}

// Split cuts text into overlapping chunks. Whitespace-only chunks are
// dropped. Text at or under ChunkSize comes back as a single chunk.
func (s *Splitter) Split(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if len(text) <= s.ChunkSize {
		return []string{text}
	}

	var chunks []string
	start := 0
	for start < len(text) {
		end := start + s.ChunkSize
		if end >= len(text) {
			end = len(text)
		} else {
			end = s.breakPoint(text, start, end)
		}

		chunk := strings.TrimSpace(text[start:end])
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
		if end >= len(text) {
			break
		}

		next := end - s.ChunkOverlap
		if next > start {
			next = runeStart(text, next)
		}
		if next <= start {
			// Force progress by at least one rune.
			_, size := utf8.DecodeRuneInString(text[start:])
			next = start + size
		}
		start = next
	}
	return chunks
}

// breakPoint searches backwards from the hard limit for the best
// natural boundary. If no separator appears in the back half of the
// window, the chunk is cut at the hard limit, backed up so a multi-byte
// rune is never split.
func (s *Splitter) breakPoint(text string, start, limit int) int {
	window := text[start:limit]
	floor := len(window) / 2
	for _, sep := range separators {
		if idx := strings.LastIndex(window, sep); idx > floor {
			return start + idx + len(sep)
		}
	}
	return runeStart(text, limit)
}

// runeStart backs idx up to the nearest rune boundary at or before it.
func runeStart(s string, idx int) int {
	for idx > 0 && !utf8.RuneStart(s[idx]) {
		idx--
	}
	return idx
}
