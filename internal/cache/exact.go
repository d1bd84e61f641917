package cache

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// ExactCache stores answers in memory keyed by the normalized question
// text. Entries expire after the configured TTL; zero TTL means they
// never expire.
type ExactCache struct {
	entries *gocache.Cache
}

func NewExactCache(ttl time.Duration) *ExactCache {
	expiry := ttl
	if ttl <= 0 {
		expiry = gocache.NoExpiration
	}
	return &ExactCache{
		entries: gocache.New(expiry, 10*time.Minute),
	}
}

func (c *ExactCache) Lookup(_ context.Context, question string) (string, bool, error) {
	v, found := c.entries.Get(Normalize(question))
	if !found {
		return "", false, nil
	}
	return v.(string), true, nil
}

func (c *ExactCache) Store(_ context.Context, question, answer string) error {
	c.entries.SetDefault(Normalize(question), answer)
	return nil
}
