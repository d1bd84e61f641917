package retrieval

import (
	"context"
	"fmt"
	"time"
)

// Chunk is a retrieved context fragment with its similarity score and
// citation provenance. Page is 1-based; zero means no page metadata.
type Chunk struct {
	ID        string
	Source    string
	Page      int
	Text      string
	Score     float32
	CreatedAt time.Time
}

// Options control candidate overfetch and MMR selection.
type Options struct {
	// TopK is the number of chunks returned to the caller.
	TopK int
	// FetchFactor scales TopK into the candidate pool size requested
	// from the store before MMR selection.
	FetchFactor int
	// MMRLambda trades relevance (1.0) against diversity (0.0).
	MMRLambda float64
}

func (o Options) withDefaults() Options {
	if o.TopK <= 0 {
		o.TopK = 7
	}
	if o.FetchFactor <= 0 {
		o.FetchFactor = 4
	}
	if o.MMRLambda <= 0 || o.MMRLambda > 1 {
		o.MMRLambda = 0.5
	}
	return o
}

// Retriever combines embedding and vector search to find relevant
// corpus chunks for a question.
type Retriever struct {
	embedder *Embedder
	store    VectorStore
	opts     Options
}

// NewRetriever creates a Retriever backed by the given Embedder and VectorStore.
func NewRetriever(embedder *Embedder, store VectorStore, opts Options) *Retriever {
	return &Retriever{embedder: embedder, store: store, opts: opts.withDefaults()}
}

// Retrieve embeds the question, overfetches candidates, and selects the
// top-K via maximal marginal relevance. If the store holds fewer than K
// records, all of them are returned. Store failures wrap ErrUnavailable
// so callers can tell "search is down" apart from "nothing matched".
func (r *Retriever) Retrieve(ctx context.Context, question string) ([]Chunk, error) {
	vec, err := r.embedder.Embed(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("%w: embedding question: %v", ErrUnavailable, err)
	}

	fetchK := r.opts.TopK * r.opts.FetchFactor
	candidates, err := r.store.Search(ChunkTable, vec, fetchK)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	selected := mmrSelect(candidates, r.opts.TopK, r.opts.MMRLambda)
	return scoredToChunks(selected), nil
}

// mmrSelect picks up to topK candidates maximizing
//
//	λ·relevance(c, query) − (1−λ)·max_sim(c, selected)
//
// where relevance is the store's query similarity score and max_sim is
// the highest cosine similarity between the candidate's embedding and
// any already-selected embedding. Candidates arrive sorted by relevance,
// so the first pick is always the most relevant chunk.
func mmrSelect(candidates []ScoredRecord, topK int, lambda float64) []ScoredRecord {
	if len(candidates) <= topK {
		return candidates
	}

	selected := make([]ScoredRecord, 0, topK)
	remaining := make([]ScoredRecord, len(candidates))
	copy(remaining, candidates)

	// Precompute norms once per candidate.
	norms := make([]float32, len(remaining))
	for i, c := range remaining {
		norms[i] = norm(c.Embedding)
	}

	for len(selected) < topK && len(remaining) > 0 {
		bestIdx := 0
		bestScore := -1e9
		for i, cand := range remaining {
			redundancy := 0.0
			for _, sel := range selected {
				sim := float64(cosine(cand.Embedding, sel.Embedding, norms[i]))
				if sim > redundancy {
					redundancy = sim
				}
			}
			score := lambda*float64(cand.Score) - (1-lambda)*redundancy
			if score > bestScore {
				bestScore = score
				bestIdx = i
			}
		}

		selected = append(selected, remaining[bestIdx])
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
		norms = append(norms[:bestIdx], norms[bestIdx+1:]...)
	}

	return selected
}

func scoredToChunks(scored []ScoredRecord) []Chunk {
	chunks := make([]Chunk, len(scored))
	for i, s := range scored {
		chunks[i] = Chunk{
			ID:        s.ID,
			Source:    s.Source,
			Page:      s.Page,
			Text:      s.TextChunk,
			Score:     s.Score,
			CreatedAt: s.CreatedAt,
		}
	}
	return chunks
}
