package embedding

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/kyleking/askdb/internal/cache"
	"github.com/kyleking/askdb/internal/logging"
)

// VectorCache stores vectors keyed by model and content hash
type VectorCache interface {
	Get(ctx context.Context, model, contentHash string) ([]float32, bool)
	Put(ctx context.Context, model, contentHash string, vec []float32)
}

// LRUCache keeps recent vectors in memory and, when a backing cache is set,
// persists every vector so later runs skip the provider too.
type LRUCache struct {
	front   *lru.Cache[string, []float32]
	backing cache.Cache
	logger  *logging.Logger
}

// NewLRUCache creates a cache holding up to size vectors in memory. backing
// may be nil.
func NewLRUCache(size int, backing cache.Cache) (*LRUCache, error) {
	if size <= 0 {
		size = 1024
	}

	front, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create vector cache: %w", err)
	}

	return &LRUCache{
		front:   front,
		backing: backing,
		logger:  logging.GetLogger().WithField("component", "embedding_cache"),
	}, nil
}

func cacheKey(model, contentHash string) string {
	return model + ":" + contentHash
}

func (c *LRUCache) Get(ctx context.Context, model, contentHash string) ([]float32, bool) {
	key := cacheKey(model, contentHash)

	if vec, ok := c.front.Get(key); ok {
		return clone(vec), true
	}

	if c.backing == nil {
		return nil, false
	}

	data, err := c.backing.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrMiss) {
			c.logger.WithError(err).Warn("Vector cache read failed")
		}

		return nil, false
	}

	vec, err := decodeVector(data)
	if err != nil {
		c.logger.WithError(err).Warn("Discarding corrupt cached vector")
		return nil, false
	}

	c.front.Add(key, vec)

	return clone(vec), true
}

func (c *LRUCache) Put(ctx context.Context, model, contentHash string, vec []float32) {
	key := cacheKey(model, contentHash)
	c.front.Add(key, clone(vec))

	if c.backing == nil {
		return
	}

	if err := c.backing.Set(ctx, key, encodeVector(vec), 0); err != nil {
		c.logger.WithError(err).Warn("Vector cache write failed")
	}
}

// Len reports how many vectors are held in memory
func (c *LRUCache) Len() int { return c.front.Len() }

func clone(vec []float32) []float32 {
	out := make([]float32, len(vec))
	copy(out, vec)

	return out
}

func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}

	return buf
}

func decodeVector(data []byte) ([]float32, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("vector payload length %d is not a multiple of 4", len(data))
	}

	vec := make([]float32, len(data)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[4*i:]))
	}

	return vec, nil
}
