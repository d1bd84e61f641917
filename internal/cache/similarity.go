package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/kseverin/medrag/internal/retrieval"
	"github.com/kseverin/medrag/internal/storage"
)

// SimilarityCache matches questions by embedding similarity instead of
// exact text. Question embeddings live in the question_vectors table;
// each record's Source field is the qa_cache row id holding the answer.
// A lookup hits iff the nearest stored question scores at or above the
// threshold (cosine, higher is more similar).
type SimilarityCache struct {
	embedder  *retrieval.Embedder
	vectors   retrieval.VectorStore
	store     *storage.Store
	threshold float32
}

func NewSimilarityCache(embedder *retrieval.Embedder, vectors retrieval.VectorStore, store *storage.Store, threshold float32) *SimilarityCache {
	return &SimilarityCache{
		embedder:  embedder,
		vectors:   vectors,
		store:     store,
		threshold: threshold,
	}
}

func (c *SimilarityCache) Lookup(ctx context.Context, question string) (string, bool, error) {
	vec, err := c.embedder.Embed(ctx, question)
	if err != nil {
		return "", false, fmt.Errorf("embedding cache query: %w", err)
	}

	matches, err := c.vectors.Search(retrieval.QuestionTable, vec, 1)
	if err != nil {
		return "", false, fmt.Errorf("searching question vectors: %w", err)
	}
	if len(matches) == 0 || matches[0].Score < c.threshold {
		return "", false, nil
	}

	answer, err := c.store.GetCachedAnswer(matches[0].Source)
	if errors.Is(err, storage.ErrNotFound) {
		// Orphaned vector, treat as a miss.
		slog.Warn("cached answer missing for question vector", "cache_id", matches[0].Source)
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("loading cached answer: %w", err)
	}
	return answer, true, nil
}

func (c *SimilarityCache) Store(ctx context.Context, question, answer string) error {
	vec, err := c.embedder.Embed(ctx, question)
	if err != nil {
		return fmt.Errorf("embedding cached question: %w", err)
	}

	id := uuid.NewString()
	if err := c.store.SaveCachedAnswer(id, question, answer); err != nil {
		return fmt.Errorf("saving cached answer: %w", err)
	}
	rec := retrieval.Record{
		ID:        uuid.NewString(),
		Source:    id,
		TextChunk: question,
		Embedding: vec,
	}
	if err := c.vectors.Insert(retrieval.QuestionTable, []retrieval.Record{rec}); err != nil {
		return fmt.Errorf("inserting question vector: %w", err)
	}
	return nil
}
