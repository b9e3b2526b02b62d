package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"goa.design/steer/runtime/model"
	"goa.design/steer/runtime/telemetry"
)

const (
	defaultCacheTTL    = time.Hour
	defaultCachePrefix = "steer:completion:"
)

type (
	// RedisClient is the subset of the go-redis API used by the completion
	// cache. It is satisfied by *redis.Client and redis.Cmdable.
	RedisClient interface {
		Get(ctx context.Context, key string) *redis.StringCmd
		Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	}

	// CacheOptions configures the completion cache.
	CacheOptions struct {
		// TTL bounds how long completions stay cached. Defaults to one hour.
		TTL time.Duration

		// KeyPrefix namespaces cache keys. Defaults to "steer:completion:".
		KeyPrefix string

		// Logger is used for non-fatal diagnostics inside the cache. When
		// nil, defaults to a no-op logger.
		Logger telemetry.Logger
	}

	// CompletionCache memoizes Complete calls in Redis keyed by a digest of
	// the request. Completions are deterministic at temperature zero, the
	// common setting for transcript loops, so identical requests can reuse
	// the provider response. Requests with a non-zero temperature pass
	// through untouched.
	CompletionCache struct {
		rdb    RedisClient
		ttl    time.Duration
		prefix string
		logger telemetry.Logger
	}

	cachedBackend struct {
		next  model.Backend
		cache *CompletionCache
	}
)

// NewCompletionCache constructs a CompletionCache over the given Redis
// client.
func NewCompletionCache(rdb RedisClient, opts CacheOptions) (*CompletionCache, error) {
	if rdb == nil {
		return nil, errors.New("redis client is required")
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	prefix := opts.KeyPrefix
	if prefix == "" {
		prefix = defaultCachePrefix
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &CompletionCache{
		rdb:    rdb,
		ttl:    ttl,
		prefix: prefix,
		logger: logger,
	}, nil
}

// Middleware returns a model.Backend middleware that serves repeated
// deterministic completions from Redis. Token scoring passes through
// untouched: scoring is stateful stepping, not a cacheable call.
func (c *CompletionCache) Middleware() func(model.Backend) model.Backend {
	return func(next model.Backend) model.Backend {
		if next == nil {
			return nil
		}
		return &cachedBackend{
			next:  next,
			cache: c,
		}
	}
}

// Complete serves the completion from Redis when a previous identical
// request populated it, and delegates to the underlying backend otherwise.
// Cache failures fall through to the backend so a degraded Redis never
// blocks generation.
func (b *cachedBackend) Complete(ctx context.Context, req model.CompletionRequest) (model.Completion, error) {
	if req.Temperature != 0 {
		return b.next.Complete(ctx, req)
	}
	key := b.cache.key(req)
	if comp, ok := b.cache.lookup(ctx, key); ok {
		return comp, nil
	}
	comp, err := b.next.Complete(ctx, req)
	if err != nil {
		return comp, err
	}
	b.cache.store(ctx, key, comp)
	return comp, nil
}

// ScoreNext delegates to the underlying backend.
func (b *cachedBackend) ScoreNext(ctx context.Context, prefix string, admit func(model.Token) bool) (model.Token, error) {
	return b.next.ScoreNext(ctx, prefix, admit)
}

func (c *CompletionCache) key(req model.CompletionRequest) string {
	h := sha256.New()
	// CompletionRequest holds only strings and numbers; encoding cannot fail.
	_ = json.NewEncoder(h).Encode(req)
	return c.prefix + hex.EncodeToString(h.Sum(nil))
}

func (c *CompletionCache) lookup(ctx context.Context, key string) (model.Completion, bool) {
	raw, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn(ctx, "completion cache read failed", "key", key, "err", err)
		}
		return model.Completion{}, false
	}
	var comp model.Completion
	if err := json.Unmarshal(raw, &comp); err != nil {
		c.logger.Warn(ctx, "completion cache entry corrupt", "key", key, "err", err)
		return model.Completion{}, false
	}
	return comp, true
}

func (c *CompletionCache) store(ctx context.Context, key string, comp model.Completion) {
	raw, err := json.Marshal(comp)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		c.logger.Warn(ctx, "completion cache write failed", "key", key, "err", err)
	}
}
