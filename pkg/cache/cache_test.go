package cache

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "moonfetch/pkg/errors"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newEntry(clock *fakeClock, body string, ttl time.Duration) *Entry {
	return &Entry{
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": {"text/plain"}},
		Body:       []byte(body),
		StoredAt:   clock.Now(),
		TTL:        ttl,
	}
}

func TestMemoryStoreServesUntilTTL(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	store := NewMemoryStore(8)
	store.now = clock.Now

	entry := newEntry(clock, "hello", time.Minute)
	require.NoError(t, store.Put(ctx, "k", entry))

	got, ok, err := store.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, entry.Body, got.Body)
	assert.Equal(t, entry.StatusCode, got.StatusCode)
	assert.Equal(t, entry.Header, got.Header)
	assert.Equal(t, "k", got.Key)

	clock.Advance(59 * time.Second)
	_, ok, _ = store.Get(ctx, "k")
	assert.True(t, ok)

	clock.Advance(time.Second)
	_, ok, err = store.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok, "entry must be absent once now >= stored_at+ttl")

	n, _ := store.Len(ctx)
	assert.Zero(t, n, "expired entry is dropped when touched")
}

func TestMemoryStoreEvictsLeastRecentlyUsed(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Now()}
	store := NewMemoryStore(3)
	store.now = clock.Now

	for _, k := range []string{"a", "b", "c"} {
		require.NoError(t, store.Put(ctx, k, newEntry(clock, k, time.Hour)))
	}

	// touch a so b becomes the oldest
	_, ok, _ := store.Get(ctx, "a")
	require.True(t, ok)

	require.NoError(t, store.Put(ctx, "d", newEntry(clock, "d", time.Hour)))

	n, _ := store.Len(ctx)
	assert.Equal(t, 3, n)
	_, ok, _ = store.Get(ctx, "b")
	assert.False(t, ok)
	for _, k := range []string{"a", "c", "d"} {
		_, ok, _ = store.Get(ctx, k)
		assert.True(t, ok, k)
	}
}

func TestMemoryStoreBoundUnderConcurrency(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(16)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := fmt.Sprintf("%d-%d", w, i)
				_ = store.Put(ctx, key, &Entry{Body: []byte(key), StoredAt: time.Now(), TTL: time.Hour})
				_, _, _ = store.Get(ctx, key)
				n, _ := store.Len(ctx)
				assert.LessOrEqual(t, n, 16)
			}
		}(w)
	}
	wg.Wait()

	n, _ := store.Len(ctx)
	assert.Equal(t, 16, n)
}

func TestMemoryStoreReplaceAndDelete(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Now()}
	store := NewMemoryStore(2)
	store.now = clock.Now

	require.NoError(t, store.Put(ctx, "k", newEntry(clock, "v1", time.Hour)))
	require.NoError(t, store.Put(ctx, "k", newEntry(clock, "v2", time.Hour)))

	got, ok, _ := store.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, "v2", string(got.Body))

	require.NoError(t, store.Delete(ctx, "k"))
	_, ok, _ = store.Get(ctx, "k")
	assert.False(t, ok)
}

func TestMemoryStoreSweep(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Now()}
	store := NewMemoryStore(10)
	store.now = clock.Now

	require.NoError(t, store.Put(ctx, "short", newEntry(clock, "s", time.Second)))
	require.NoError(t, store.Put(ctx, "long", newEntry(clock, "l", time.Hour)))
	clock.Advance(2 * time.Second)

	assert.Equal(t, 1, store.Sweep())
	n, _ := store.Len(ctx)
	assert.Equal(t, 1, n)
}

func TestKeyNormalization(t *testing.T) {
	base, err := Key("get", "HTTPS://Example.COM:443/a?b=2&a=1#frag", nil)
	require.NoError(t, err)

	same, err := Key("GET", "https://example.com/a?a=1&b=2", http.Header{"User-Agent": {"ignored"}})
	require.NoError(t, err)
	assert.Equal(t, base, same)

	otherMethod, _ := Key("HEAD", "https://example.com/a?a=1&b=2", nil)
	assert.NotEqual(t, base, otherMethod)

	otherLang, _ := Key("GET", "https://example.com/a?a=1&b=2", http.Header{"Accept-Language": {"de-DE"}})
	assert.NotEqual(t, base, otherLang)

	assert.Len(t, base, 32)

	_, err = Key("GET", "://bad", nil)
	assert.Error(t, err)
}

func TestRedisStoreUnreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := NewRedisStore(ctx, "redis://127.0.0.1:1/0", 10)
	require.Error(t, err)
	assert.Equal(t, errs.KindCache, errs.KindOf(err))

	_, err = NewRedisStore(ctx, "not a url", 10)
	require.Error(t, err)
	assert.Equal(t, errs.KindConfig, errs.KindOf(err))
}

func newRedisStore(t *testing.T, maxEntries int) (*RedisStore, *miniredis.Miniredis, *fakeClock) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisStoreFromClient(client, "test:", maxEntries)
	t.Cleanup(func() { _ = store.Close() })

	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	store.now = clock.Now
	return store, mr, clock
}

func TestRedisStoreServesUntilTTL(t *testing.T) {
	ctx := context.Background()
	store, mr, clock := newRedisStore(t, 8)

	entry := newEntry(clock, "hello", time.Minute)
	require.NoError(t, store.Put(ctx, "k", entry))
	assert.True(t, mr.Exists("test:entry:k"))

	got, ok, err := store.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, entry.Body, got.Body)
	assert.Equal(t, entry.Header, got.Header)
	assert.Equal(t, "k", got.Key)

	clock.Advance(time.Minute)
	_, ok, err = store.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok, "entry must be absent once now >= stored_at+ttl")

	// the native expiry removes the body and the next Get cleans the index
	mr.FastForward(time.Minute)
	assert.False(t, mr.Exists("test:entry:k"))
	_, ok, err = store.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
	n, err := store.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRedisStoreSkipsExpiredPut(t *testing.T) {
	ctx := context.Background()
	store, mr, clock := newRedisStore(t, 8)

	entry := newEntry(clock, "stale", time.Second)
	clock.Advance(2 * time.Second)
	require.NoError(t, store.Put(ctx, "k", entry))
	assert.False(t, mr.Exists("test:entry:k"))
}

func TestRedisStoreEvictsLeastRecentlyUsed(t *testing.T) {
	ctx := context.Background()
	store, mr, clock := newRedisStore(t, 2)

	require.NoError(t, store.Put(ctx, "a", newEntry(clock, "a", time.Hour)))
	clock.Advance(time.Second)
	require.NoError(t, store.Put(ctx, "b", newEntry(clock, "b", time.Hour)))
	clock.Advance(time.Second)

	// touch a so b becomes the oldest
	_, ok, err := store.Get(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)
	clock.Advance(time.Second)

	require.NoError(t, store.Put(ctx, "c", newEntry(clock, "c", time.Hour)))

	n, err := store.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.False(t, mr.Exists("test:entry:b"))

	_, ok, _ = store.Get(ctx, "b")
	assert.False(t, ok)
	for _, k := range []string{"a", "c"} {
		_, ok, _ = store.Get(ctx, k)
		assert.True(t, ok, k)
	}

	require.NoError(t, store.Delete(ctx, "a"))
	n, _ = store.Len(ctx)
	assert.Equal(t, 1, n)
	assert.False(t, mr.Exists("test:entry:a"))
}

func TestRedisStoreTouchDoesNotReindexEvictedKey(t *testing.T) {
	ctx := context.Background()
	store, mr, clock := newRedisStore(t, 4)

	require.NoError(t, store.Put(ctx, "k", newEntry(clock, "v", time.Hour)))

	// a concurrent Put already popped k from the index but has not yet
	// deleted the body
	_, err := mr.ZRem("test:lru", "k")
	require.NoError(t, err)

	_, ok, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)

	n, err := store.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}
