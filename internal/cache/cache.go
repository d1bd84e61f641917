package cache

import (
	"context"
	"strings"

	"github.com/kseverin/medrag/internal/config"
	"github.com/kseverin/medrag/internal/retrieval"
	"github.com/kseverin/medrag/internal/storage"
)

// Cache answers repeated questions without re-running the full answer
// pipeline. A lookup miss is ("", false, nil); errors are reserved for
// infrastructure failures so callers can degrade to a normal run.
type Cache interface {
	Lookup(ctx context.Context, question string) (answer string, ok bool, err error)
	Store(ctx context.Context, question, answer string) error
}

// Normalize canonicalises a question for exact-match caching.
func Normalize(question string) string {
	return strings.ToLower(strings.TrimSpace(question))
}

// New builds the cache selected by cfg.Strategy.
func New(cfg config.CacheConfig, embedder *retrieval.Embedder, vectors retrieval.VectorStore, store *storage.Store) Cache {
	switch cfg.Strategy {
	case "similarity":
		return NewSimilarityCache(embedder, vectors, store, float32(cfg.Threshold))
	case "off":
		return &NoOpCache{}
	default:
		return NewExactCache(cfg.TTL)
	}
}

// NoOpCache never hits and never stores.
type NoOpCache struct{}

func (n *NoOpCache) Lookup(context.Context, string) (string, bool, error) { return "", false, nil }
func (n *NoOpCache) Store(context.Context, string, string) error         { return nil }
