package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	cachekey "github.com/always-cache/transcache/pkg/cache-key"
)

const redisStore = "redis"

// DefaultRedisPrefix namespaces the keys written by RedisCache.
const DefaultRedisPrefix = "transcache:"

// RedisCache stores entries in Redis. Entries with an expiry get a matching TTL.
type RedisCache struct {
	redis  redis.UniversalClient
	prefix string
	log    zerolog.Logger
}

// NewRedisCache creates a store on the given client.
// An empty prefix means DefaultRedisPrefix. If logger is nil, the global logger is used.
func NewRedisCache(client redis.UniversalClient, prefix string, logger *zerolog.Logger) *RedisCache {
	if client == nil {
		panic("redis client cannot be nil")
	}
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisCache{
		redis:  client,
		prefix: prefix,
		log:    storeLogger(logger, redisStore),
	}
}

func (r *RedisCache) Get(ctx context.Context, key cachekey.CacheKey) (*Entry, bool) {
	k := r.prefix + key.String()
	data, err := r.redis.Get(ctx, k).Bytes()
	if errors.Is(err, redis.Nil) {
		StoreLookups.WithLabelValues(redisStore, "miss").Inc()
		return nil, false
	} else if err != nil {
		StoreErrors.WithLabelValues(redisStore, "get").Inc()
		r.log.Error().Err(err).Str("key", k).Msg("Could not retrieve from cache")
		return nil, false
	}
	entry, err := unmarshalEntry(data)
	if err != nil {
		StoreErrors.WithLabelValues(redisStore, "get").Inc()
		r.log.Error().Err(err).Str("key", k).Msg("Could not read stored entry")
		return nil, false
	}
	// the TTL has a resolution of milliseconds
	if entry.Expired(time.Now()) {
		StoreLookups.WithLabelValues(redisStore, "expired").Inc()
		return nil, false
	}
	StoreLookups.WithLabelValues(redisStore, "hit").Inc()
	return entry, true
}

func (r *RedisCache) Put(ctx context.Context, key cachekey.CacheKey, entry *Entry) {
	k := r.prefix + key.String()
	var ttl time.Duration
	if !entry.Expires.IsZero() {
		ttl = time.Until(entry.Expires)
		if ttl <= 0 {
			// already expired, don't cache
			return
		}
	}
	data, err := marshalEntry(entry)
	if err != nil {
		StoreErrors.WithLabelValues(redisStore, "put").Inc()
		r.log.Error().Err(err).Str("key", k).Msg("Could not serialize entry")
		return
	}
	if err := r.redis.Set(ctx, k, data, ttl).Err(); err != nil {
		StoreErrors.WithLabelValues(redisStore, "put").Inc()
		r.log.Error().Err(err).Str("key", k).Msg("Could not write to cache")
	}
}

func (r *RedisCache) Invalidate(ctx context.Context, key cachekey.CacheKey) {
	k := r.prefix + key.String()
	if err := r.redis.Del(ctx, k).Err(); err != nil {
		StoreErrors.WithLabelValues(redisStore, "invalidate").Inc()
		r.log.Error().Err(err).Str("key", k).Msg("Could not invalidate entry")
	}
}

// InvalidateAll deletes the keys with the store prefix, leaving other keys alone.
func (r *RedisCache) InvalidateAll(ctx context.Context) {
	iter := r.redis.Scan(ctx, 0, r.prefix+"*", 500).Iterator()
	batch := make([]string, 0, 500)
	flush := func() bool {
		if len(batch) == 0 {
			return true
		}
		if err := r.redis.Del(ctx, batch...).Err(); err != nil {
			StoreErrors.WithLabelValues(redisStore, "invalidate_all").Inc()
			r.log.Error().Err(err).Msg("Could not invalidate cache")
			return false
		}
		batch = batch[:0]
		return true
	}
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == cap(batch) && !flush() {
			return
		}
	}
	if err := iter.Err(); err != nil {
		StoreErrors.WithLabelValues(redisStore, "invalidate_all").Inc()
		r.log.Error().Err(err).Msg("Could not scan cache keys")
		return
	}
	flush()
}
