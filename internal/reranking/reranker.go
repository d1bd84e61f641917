package reranking

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kseverin/medrag/internal/ollama"
	"github.com/kseverin/medrag/internal/retrieval"
)

const defaultConcurrency = 3

// Scorer rates the relevance of a passage to a query. The Ollama client
// satisfies it.
type Scorer interface {
	Chat(ctx context.Context, model string, messages []ollama.Message, jsonSchema *ollama.Schema) (string, error)
}

// Reranker re-scores retrieved chunks by pairwise (query, passage)
// relevance, independent of the vector-store similarity metric.
type Reranker interface {
	// Rerank returns at most topN chunks ordered by the new scores.
	// It never fails the request: if scoring is unavailable, the
	// original ranking is passed through (cut to topN).
	Rerank(ctx context.Context, query string, chunks []retrieval.Chunk, topN int) []retrieval.Chunk
}

// NewReranker returns an LLMReranker if enabled, NoOpReranker otherwise.
func NewReranker(scorer Scorer, model string, enabled bool, timeout time.Duration) Reranker {
	if !enabled {
		return &NoOpReranker{}
	}
	return &LLMReranker{
		scorer:  scorer,
		model:   model,
		timeout: timeout,
	}
}

// LLMReranker uses a local LLM to score (query, passage) relevance
// pairs. Scoring runs concurrently (bounded to defaultConcurrency
// goroutines). Chunk metadata is never modified; only Score changes.
type LLMReranker struct {
	scorer  Scorer
	model   string
	timeout time.Duration
}

// scoredChunk pairs a chunk with its position in the original ranking,
// so degraded results can restore the retriever's order.
type scoredChunk struct {
	chunk retrieval.Chunk
	pos   int
}

// Rerank scores each chunk against the query and returns the topN by
// new score. If the timeout fires before all chunks are scored, the
// original ranking is returned unchanged (graceful degradation).
func (r *LLMReranker) Rerank(ctx context.Context, query string, chunks []retrieval.Chunk, topN int) []retrieval.Chunk {
	if len(chunks) == 0 {
		return chunks
	}
	if topN <= 0 || topN > len(chunks) {
		topN = len(chunks)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	// Buffered channel prevents goroutines from blocking on send after we stop reading.
	results := make(chan scoredChunk, len(chunks))
	sem := make(chan struct{}, defaultConcurrency)

	var wg sync.WaitGroup
	for i, ch := range chunks {
		wg.Add(1)
		go func(pos int, chunk retrieval.Chunk) {
			defer wg.Done()
			// Acquire concurrency slot or bail on cancellation.
			select {
			case sem <- struct{}{}:
			case <-timeoutCtx.Done():
				return
			}
			defer func() { <-sem }()

			score, err := r.scoreChunk(timeoutCtx, query, chunk)
			if err != nil {
				if timeoutCtx.Err() != nil {
					return // context cancelled, don't send a partial result
				}
				slog.Debug("reranker: score failed, retaining original", "error", err)
				results <- scoredChunk{chunk: chunk, pos: pos} // original score preserved
				return
			}
			chunk.Score = float32(score)
			results <- scoredChunk{chunk: chunk, pos: pos}
		}(i, ch)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	scored := make([]scoredChunk, 0, len(chunks))
collect:
	for {
		select {
		case sc, ok := <-results:
			if !ok {
				break collect // all goroutines finished
			}
			scored = append(scored, sc)
		case <-timeoutCtx.Done():
			// Hard timeout before all chunks were scored: fall back to
			// the retriever's ranking.
			slog.Warn("reranker timed out, passing original ranking through")
			return chunks[:topN]
		}
	}

	if len(scored) < len(chunks) {
		return chunks[:topN]
	}

	// Sort by new score descending, original position as tiebreaker so
	// the result is deterministic.
	sort.Slice(scored, func(i, j int) bool {
		if scored[i].chunk.Score != scored[j].chunk.Score {
			return scored[i].chunk.Score > scored[j].chunk.Score
		}
		return scored[i].pos < scored[j].pos
	})

	out := make([]retrieval.Chunk, 0, topN)
	for _, sc := range scored[:topN] {
		out = append(out, sc.chunk)
	}
	return out
}

func (r *LLMReranker) scoreChunk(ctx context.Context, query string, chunk retrieval.Chunk) (float64, error) {
	prompt := "Rate the relevance of the following passage to the medical question on a scale of 0.0 to 1.0.\n" +
		"Question: " + query + "\n" +
		"Passage: " + chunk.Text + "\n" +
		`Respond with only a JSON object: {"score": <float>}`

	schema := &ollama.Schema{
		Type: "object",
		Properties: map[string]ollama.SchemaProperty{
			"score": {Type: "number", Description: "Relevance score 0.0–1.0"},
		},
		Required: []string{"score"},
	}

	resp, err := r.scorer.Chat(ctx, r.model, []ollama.Message{
		{Role: "user", Content: prompt},
	}, schema)
	if err != nil {
		return float64(chunk.Score), err
	}

	score, parseErr := parseScore(resp, chunk.Score)
	if parseErr != nil {
		slog.Debug("reranker: parse failed, using original score", "resp", resp, "error", parseErr)
		return float64(chunk.Score), nil
	}
	return score, nil
}

// parseScore robustly extracts a relevance score float from an LLM response.
// Small local models frequently wrap JSON in markdown code fences or
// prepend conversational filler. The parser:
//  1. Strips markdown code fences if present (```json ... ```)
//  2. Finds the first { and last } to extract the JSON object
//  3. Attempts json.Unmarshal on the extracted substring
//  4. On failure: returns originalScore so the chunk is not penalised
func parseScore(resp string, originalScore float32) (float64, error) {
	s := strings.TrimSpace(resp)

	// Strip markdown code fences.
	if idx := strings.Index(s, "```"); idx != -1 {
		s = s[idx+3:]
		if strings.HasPrefix(s, "json") {
			s = s[4:]
		}
		if end := strings.Index(s, "```"); end != -1 {
			s = s[:end]
		}
	}

	// Extract JSON object by brace position.
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end <= start {
		return float64(originalScore), fmt.Errorf("no JSON object in response")
	}

	var obj struct {
		Score float64 `json:"score"`
	}
	if err := json.Unmarshal([]byte(s[start:end+1]), &obj); err != nil {
		return float64(originalScore), fmt.Errorf("unmarshal score: %w", err)
	}
	return obj.Score, nil
}

// NoOpReranker passes chunks through unchanged (cut to topN). Used when
// reranking is disabled.
type NoOpReranker struct{}

func (n *NoOpReranker) Rerank(_ context.Context, _ string, chunks []retrieval.Chunk, topN int) []retrieval.Chunk {
	if topN > 0 && topN < len(chunks) {
		return chunks[:topN]
	}
	return chunks
}
