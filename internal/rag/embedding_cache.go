package rag

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// EmbeddingCache keeps previously computed embeddings in a local map backed
// by redis. Re-ingesting an unchanged document then costs no provider calls.
// A nil redis client degrades to the local layer only.
type EmbeddingCache struct {
	redis        *redis.Client
	localCache   sync.Map
	prefix       string
	ttl          time.Duration
	maxLocalSize int64
	localCount   int64
	mu           sync.Mutex
}

type cachedEmbedding struct {
	Vector    []float32 `json:"vector"`
	Model     string    `json:"model"`
	CreatedAt time.Time `json:"createdAt"`
}

// NewEmbeddingCache creates an embedding cache.
func NewEmbeddingCache(redisClient *redis.Client, prefix string, ttl time.Duration) *EmbeddingCache {
	if prefix == "" {
		prefix = "emb:"
	}
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &EmbeddingCache{
		redis:        redisClient,
		prefix:       prefix,
		ttl:          ttl,
		maxLocalSize: 10000,
	}
}

// Get returns the cached vector for text under the given model, if present.
func (c *EmbeddingCache) Get(ctx context.Context, text, model string) ([]float32, bool) {
	key := c.makeKey(text, model)

	if val, ok := c.localCache.Load(key); ok {
		return val.(*cachedEmbedding).Vector, true
	}

	if c.redis != nil {
		data, err := c.redis.Get(ctx, key).Bytes()
		if err == nil {
			var cached cachedEmbedding
			if json.Unmarshal(data, &cached) == nil {
				c.setLocal(key, &cached)
				return cached.Vector, true
			}
		}
	}

	return nil, false
}

// Set stores a vector in both layers.
func (c *EmbeddingCache) Set(ctx context.Context, text, model string, vector []float32) error {
	key := c.makeKey(text, model)
	cached := &cachedEmbedding{
		Vector:    vector,
		Model:     model,
		CreatedAt: time.Now(),
	}

	c.setLocal(key, cached)

	if c.redis != nil {
		data, err := json.Marshal(cached)
		if err != nil {
			return err
		}
		return c.redis.Set(ctx, key, data, c.ttl).Err()
	}

	return nil
}

// makeKey hashes the text so arbitrarily long chunks produce bounded keys.
func (c *EmbeddingCache) makeKey(text, model string) string {
	hash := sha256.Sum256([]byte(text))
	return c.prefix + model + ":" + hex.EncodeToString(hash[:16])
}

func (c *EmbeddingCache) setLocal(key string, cached *cachedEmbedding) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.localCount >= c.maxLocalSize {
		// crude full flush; the redis layer still has everything
		c.localCache = sync.Map{}
		c.localCount = 0
	}

	c.localCache.Store(key, cached)
	c.localCount++
}

// CachedEmbeddingProvider decorates an EmbeddingProvider with the cache.
// On a batch call only the misses reach the provider; results are stitched
// back together in input order.
type CachedEmbeddingProvider struct {
	provider EmbeddingProvider
	cache    *EmbeddingCache
}

// NewCachedEmbeddingProvider wraps provider with cache.
func NewCachedEmbeddingProvider(provider EmbeddingProvider, cache *EmbeddingCache) *CachedEmbeddingProvider {
	return &CachedEmbeddingProvider{provider: provider, cache: cache}
}

func (p *CachedEmbeddingProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if vec, ok := p.cache.Get(ctx, text, p.provider.Model()); ok {
		return vec, nil
	}

	vec, err := p.provider.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	_ = p.cache.Set(ctx, text, p.provider.Model(), vec)
	return vec, nil
}

func (p *CachedEmbeddingProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: no texts to embed", ErrInvalidArgument)
	}

	results := make([][]float32, len(texts))
	var missing []string
	var missingIdx []int

	for i, text := range texts {
		if vec, ok := p.cache.Get(ctx, text, p.provider.Model()); ok {
			results[i] = vec
		} else {
			missing = append(missing, text)
			missingIdx = append(missingIdx, i)
		}
	}

	if len(missing) > 0 {
		vecs, err := p.provider.EmbedBatch(ctx, missing)
		if err != nil {
			return nil, err
		}
		for j, vec := range vecs {
			results[missingIdx[j]] = vec
			_ = p.cache.Set(ctx, missing[j], p.provider.Model(), vec)
		}
	}

	return results, nil
}

func (p *CachedEmbeddingProvider) Dimensions() int {
	return p.provider.Dimensions()
}

func (p *CachedEmbeddingProvider) Model() string {
	return p.provider.Model()
}

func (p *CachedEmbeddingProvider) ProviderName() string {
	return p.provider.ProviderName()
}
