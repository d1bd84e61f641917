// Package composer turns retrieved chunks into the prompt sent to the
// answer generator: a plain-text context block plus the fixed medical
// system prompt.
package composer

import (
	"log/slog"
	"strings"

	"github.com/kseverin/medrag/internal/retrieval"
)

// defaultMaxContextChars is roughly a 4K-token budget at 4 chars/token.
const defaultMaxContextChars = 16000

// chunkSeparator visibly delimits chunks inside the context block.
const chunkSeparator = "\n\n"

// Assembler concatenates chunk texts into a single context block within
// a character budget.
type Assembler struct {
	MaxContextChars int
}

// NewAssembler creates an Assembler with the given character budget.
// If maxChars <= 0, the default is used.
func NewAssembler(maxChars int) *Assembler {
	if maxChars <= 0 {
		maxChars = defaultMaxContextChars
	}
	return &Assembler{MaxContextChars: maxChars}
}

// Assemble joins chunk texts with a double newline in the order
// received. Chunks that would exceed the budget are dropped whole. The
// returned slice holds the chunks that made it into the context, so
// citations can be derived from what the answer is actually grounded
// on; the flag reports whether anything was dropped. Truncation is
// also logged.
func (a *Assembler) Assemble(chunks []retrieval.Chunk) (string, []retrieval.Chunk, bool) {
	var sb strings.Builder
	var used []retrieval.Chunk
	truncated := false

	for _, ch := range chunks {
		need := len(ch.Text)
		if sb.Len() > 0 {
			need += len(chunkSeparator)
		}
		if sb.Len()+need > a.MaxContextChars {
			truncated = true
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString(chunkSeparator)
		}
		sb.WriteString(ch.Text)
		used = append(used, ch)
	}

	if truncated {
		slog.Warn("context truncated to fit budget",
			"chunks", len(chunks),
			"used", len(used),
			"budget_chars", a.MaxContextChars,
		)
	}

	return sb.String(), used, truncated
}
