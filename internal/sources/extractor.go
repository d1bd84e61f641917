package sources

import (
	"fmt"
	"sort"

	"github.com/kseverin/medrag/internal/retrieval"
)

// CachedProvenance is the single citation attached to answers served
// from the answer cache, where the original chunk set is not kept.
const CachedProvenance = "Cached from answer cache"

// Extract builds the citation list for an answer from the chunks that
// fed its context. Citations are formatted as "source" or
// "source (Page N)" for 1-based pages, deduplicated, and sorted so the
// list is stable across runs.
func Extract(chunks []retrieval.Chunk) []string {
	seen := make(map[string]struct{}, len(chunks))
	out := make([]string, 0, len(chunks))
	for _, ch := range chunks {
		citation := Format(ch.Source, ch.Page)
		if _, ok := seen[citation]; ok {
			continue
		}
		seen[citation] = struct{}{}
		out = append(out, citation)
	}
	sort.Strings(out)
	return out
}

// Format renders a single citation. Page 0 means the source has no page
// structure (plain text files, URLs).
func Format(source string, page int) string {
	if page > 0 {
		return fmt.Sprintf("%s (Page %d)", source, page)
	}
	return source
}
