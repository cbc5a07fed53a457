// Package embedcache wraps an embedding backend with memoisation so repeated
// alternates and evidence are embedded once per process (or once per cluster
// when backed by Redis).
package embedcache

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"
	"github.com/zeebo/xxh3"

	"github.com/danielpatrickdp/riskgate/internal/signals"
)

// #region cache-interface

// Cache stores vectors by key. Get reports a miss with ok=false and a nil error.
type Cache interface {
	Get(ctx context.Context, key string) ([]float32, bool, error)
	Set(ctx context.Context, key string, vec []float32) error
}

// #endregion cache-interface

// #region embedder

// Embedder is a signals.Embedder that consults a Cache before the backend.
// The backend is constructed by the caller and owned by it.
type Embedder struct {
	backend signals.Embedder
	cache   Cache
	model   string
	logger  *slog.Logger
}

// New wraps backend. model namespaces keys so two encoders never share entries.
func New(backend signals.Embedder, cache Cache, model string) *Embedder {
	return &Embedder{backend: backend, cache: cache, model: model, logger: slog.Default()}
}

// SetLogger replaces the logger used for cache errors.
func (e *Embedder) SetLogger(logger *slog.Logger) {
	e.logger = logger
}

// Embed returns one vector per text, embedding only cache misses.
// Cache read/write failures are logged and treated as misses; backend errors surface.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, len(texts))
	var missing []string
	var missingIdx []int

	for i, text := range texts {
		vec, ok, err := e.cache.Get(ctx, e.key(text))
		if err != nil {
			e.logger.Warn("embedding cache read failed", "error", err)
		}
		if ok {
			out[i] = vec
			continue
		}
		missing = append(missing, text)
		missingIdx = append(missingIdx, i)
	}

	if len(missing) == 0 {
		return out, nil
	}

	vecs, err := e.backend.Embed(ctx, missing)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(missing) {
		return nil, fmt.Errorf("embed backend returned %d vectors for %d texts", len(vecs), len(missing))
	}
	for i, vec := range vecs {
		out[missingIdx[i]] = vec
		if err := e.cache.Set(ctx, e.key(missing[i]), vec); err != nil {
			e.logger.Warn("embedding cache write failed", "error", err)
		}
	}
	return out, nil
}

func (e *Embedder) key(text string) string {
	return Key(e.model, text)
}

// Key derives the cache key for text under model.
func Key(model, text string) string {
	return "emb:" + model + ":" + strconv.FormatUint(xxh3.HashString(text), 16)
}

// #endregion embedder

// #region lru

// LRUCache is an in-process bounded cache.
type LRUCache struct {
	inner *lru.Cache[string, []float32]
}

// NewLRUCache creates an LRU cache holding at most size vectors.
func NewLRUCache(size int) (*LRUCache, error) {
	inner, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, fmt.Errorf("new lru cache: %w", err)
	}
	return &LRUCache{inner: inner}, nil
}

func (c *LRUCache) Get(_ context.Context, key string) ([]float32, bool, error) {
	vec, ok := c.inner.Get(key)
	return vec, ok, nil
}

func (c *LRUCache) Set(_ context.Context, key string, vec []float32) error {
	c.inner.Add(key, vec)
	return nil
}

// Len reports the number of cached vectors.
func (c *LRUCache) Len() int {
	return c.inner.Len()
}

// #endregion lru

// #region redis

// RedisCache shares vectors across processes. Values are little-endian float32 blobs.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// RedisOptions configures the Redis connection.
type RedisOptions struct {
	Address  string
	Password string
	DB       int
	TTL      time.Duration // 0 keeps entries until evicted
}

// NewRedisCache opens a client for opts. The connection is lazy; call Ping to verify.
func NewRedisCache(opts RedisOptions) *RedisCache {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Address,
		Password: opts.Password,
		DB:       opts.DB,
	})
	return &RedisCache{client: client, ttl: opts.TTL}
}

// Ping checks connectivity.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the client.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]float32, bool, error) {
	b, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	vec, err := decodeVector(b)
	if err != nil {
		return nil, false, err
	}
	return vec, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, vec []float32) error {
	if err := c.client.Set(ctx, key, encodeVector(vec), c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// #endregion redis

// #region vector-encoding

func encodeVector(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("vector blob length %d not a multiple of 4", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}

// #endregion vector-encoding
