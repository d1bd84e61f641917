package retrieval

import (
	"errors"
	"time"
)

// ErrUnavailable indicates the vector store could not be reached or
// queried. Retrieval must surface this instead of returning an empty
// result set, so the pipeline can distinguish "no matching documents"
// from "search is down".
var ErrUnavailable = errors.New("vector store unavailable")

// Table names used by this service. ChunkTable holds the ingested
// corpus; QuestionTable holds question vectors for the similarity cache.
const (
	ChunkTable    = "chunk_vectors"
	QuestionTable = "question_vectors"
)

// VectorStore is the interface for vector storage and similarity search
// backends. The current implementation uses SQLite with brute-force
// cosine similarity; an ANN-capable backend can be swapped in behind
// this interface when corpus size demands it.
type VectorStore interface {
	// Insert adds records to the given table.
	Insert(table string, records []Record) error

	// Search returns the top-K records most similar to the query
	// vector, best first. Scores are cosine similarities (higher is
	// more similar) and are comparable only within a single call.
	Search(table string, vector []float32, topK int) ([]ScoredRecord, error)

	// DeleteBySource removes all records whose source matches.
	DeleteBySource(table string, source string) error

	// Count returns the number of records in the given table.
	Count(table string) (int, error)
}

// Record represents a row in the vector store. Page is 1-based; a value
// of zero means the chunk has no page provenance (plain-text sources).
type Record struct {
	ID        string
	Source    string
	Page      int
	TextChunk string
	Embedding []float32
	CreatedAt time.Time
}

// ScoredRecord is a Record with a similarity score attached.
type ScoredRecord struct {
	Record
	Score float32
}
