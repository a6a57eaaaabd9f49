package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	errs "moonfetch/pkg/errors"
)

const defaultRedisPrefix = "moonfetch:cache:"

// RedisStore keeps entries in Redis so several processes can share one cache.
// Entry bodies live under <prefix>entry:<key> with a native expiry; a sorted
// set at <prefix>lru tracks last access so the entry bound can be enforced.
type RedisStore struct {
	client     *redis.Client
	prefix     string
	maxEntries int64
	now        func() time.Time
}

// NewRedisStore connects to redisURL and verifies the connection
func NewRedisStore(ctx context.Context, redisURL string, maxEntries int) (*RedisStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, errs.Wrap(errs.KindConfig, err, "failed to parse redis url")
	}

	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errs.Wrap(errs.KindCache, err, "failed to connect to redis")
	}

	return NewRedisStoreFromClient(client, defaultRedisPrefix, maxEntries), nil
}

// NewRedisStoreFromClient wraps an existing client
func NewRedisStoreFromClient(client *redis.Client, prefix string, maxEntries int) *RedisStore {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisStore{
		client:     client,
		prefix:     prefix,
		maxEntries: int64(maxEntries),
		now:        time.Now,
	}
}

func (r *RedisStore) entryKey(key string) string { return r.prefix + "entry:" + key }
func (r *RedisStore) indexKey() string           { return r.prefix + "lru" }

// Get fetches and decodes the entry for key
func (r *RedisStore) Get(ctx context.Context, key string) (*Entry, bool, error) {
	data, err := r.client.Get(ctx, r.entryKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		r.client.ZRem(ctx, r.indexKey(), key)
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errs.Wrap(errs.KindCache, err, "redis get %s", key)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, false, errs.Wrap(errs.KindCache, err, "corrupt cache entry %s", key)
	}
	now := r.now()
	if !entry.Live(now) {
		return nil, false, nil
	}

	// XX: a key evicted by a concurrent Put must not re-enter the index
	if err := r.client.ZAddXX(ctx, r.indexKey(), redis.Z{Score: float64(now.UnixNano()), Member: key}).Err(); err != nil {
		return nil, false, errs.Wrap(errs.KindCache, err, "redis touch %s", key)
	}
	return &entry, true, nil
}

// Put stores entry under key with its remaining TTL and trims the least
// recently used keys beyond the bound.
func (r *RedisStore) Put(ctx context.Context, key string, entry *Entry) error {
	cp := *entry
	cp.Key = key
	now := r.now()
	remaining := cp.StoredAt.Add(cp.TTL).Sub(now)
	if remaining <= 0 {
		return nil
	}

	data, err := json.Marshal(&cp)
	if err != nil {
		return errs.Wrap(errs.KindCache, err, "failed to encode entry %s", key)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.entryKey(key), data, remaining)
	pipe.ZAdd(ctx, r.indexKey(), redis.Z{Score: float64(now.UnixNano()), Member: key})
	card := pipe.ZCard(ctx, r.indexKey())
	if _, err := pipe.Exec(ctx); err != nil {
		return errs.Wrap(errs.KindCache, err, "redis put %s", key)
	}

	if r.maxEntries <= 0 {
		return nil
	}
	excess := card.Val() - r.maxEntries
	if excess <= 0 {
		return nil
	}

	evicted, err := r.client.ZPopMin(ctx, r.indexKey(), excess).Result()
	if err != nil {
		return errs.Wrap(errs.KindCache, err, "redis evict")
	}
	keys := make([]string, 0, len(evicted))
	for _, z := range evicted {
		keys = append(keys, r.entryKey(fmt.Sprint(z.Member)))
	}
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return errs.Wrap(errs.KindCache, err, "redis evict")
	}
	return nil
}

// Delete removes key
func (r *RedisStore) Delete(ctx context.Context, key string) error {
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, r.entryKey(key))
	pipe.ZRem(ctx, r.indexKey(), key)
	if _, err := pipe.Exec(ctx); err != nil {
		return errs.Wrap(errs.KindCache, err, "redis delete %s", key)
	}
	return nil
}

// Len returns the number of indexed keys
func (r *RedisStore) Len(ctx context.Context) (int, error) {
	n, err := r.client.ZCard(ctx, r.indexKey()).Result()
	if err != nil {
		return 0, errs.Wrap(errs.KindCache, err, "redis len")
	}
	return int(n), nil
}

// Close releases the client
func (r *RedisStore) Close() error {
	return r.client.Close()
}
