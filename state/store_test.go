package state

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type storeHarness struct {
	store   Store
	advance func(time.Duration)
}

func memoryHarness(t *testing.T) storeHarness {
	t.Helper()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	m := NewMemoryStore("atlas/")
	m.SetClock(func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	})
	return storeHarness{
		store: m,
		advance: func(d time.Duration) {
			mu.Lock()
			now = now.Add(d)
			mu.Unlock()
		},
	}
}

func redisHarness(t *testing.T) storeHarness {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return storeHarness{
		store:   NewRedisStoreWithClient(client, "atlas/"),
		advance: mr.FastForward,
	}
}

func TestStores(t *testing.T) {
	harnesses := map[string]func(*testing.T) storeHarness{
		"memory": memoryHarness,
		"redis":  redisHarness,
	}

	for name, newHarness := range harnesses {
		t.Run(name, func(t *testing.T) {
			t.Run("get missing", func(t *testing.T) {
				h := newHarness(t)
				_, err := h.store.Get(context.Background(), "nope")
				assert.ErrorIs(t, err, ErrNotFound)
			})

			t.Run("set and get", func(t *testing.T) {
				h := newHarness(t)
				ctx := context.Background()
				require.NoError(t, h.store.Set(ctx, "geocode:lyon", []byte(`{"country":"FRA"}`), 0))

				item, err := h.store.Get(ctx, "geocode:lyon")
				require.NoError(t, err)
				assert.Equal(t, `{"country":"FRA"}`, string(item.Value))
				assert.NotEmpty(t, item.ETag)
			})

			t.Run("ttl expiry", func(t *testing.T) {
				h := newHarness(t)
				ctx := context.Background()
				require.NoError(t, h.store.Set(ctx, "health/node-1", []byte("alive"), 90*time.Second))

				h.advance(89 * time.Second)
				_, err := h.store.Get(ctx, "health/node-1")
				require.NoError(t, err)

				h.advance(2 * time.Second)
				_, err = h.store.Get(ctx, "health/node-1")
				assert.ErrorIs(t, err, ErrNotFound)
			})

			t.Run("set if match", func(t *testing.T) {
				h := newHarness(t)
				ctx := context.Background()

				require.NoError(t, h.store.SetIfMatch(ctx, "crawl/checkpoint", []byte("v1"), ""))
				assert.ErrorIs(t, h.store.SetIfMatch(ctx, "crawl/checkpoint", []byte("again"), ""), ErrConflict)

				item, err := h.store.Get(ctx, "crawl/checkpoint")
				require.NoError(t, err)

				require.NoError(t, h.store.SetIfMatch(ctx, "crawl/checkpoint", []byte("v2"), item.ETag))
				assert.ErrorIs(t, h.store.SetIfMatch(ctx, "crawl/checkpoint", []byte("stale"), item.ETag), ErrConflict)

				latest, err := h.store.Get(ctx, "crawl/checkpoint")
				require.NoError(t, err)
				assert.Equal(t, "v2", string(latest.Value))
				assert.NotEqual(t, item.ETag, latest.ETag)
			})

			t.Run("set if match on missing key with etag", func(t *testing.T) {
				h := newHarness(t)
				err := h.store.SetIfMatch(context.Background(), "missing", []byte("x"), "7")
				assert.ErrorIs(t, err, ErrConflict)
			})

			t.Run("delete", func(t *testing.T) {
				h := newHarness(t)
				ctx := context.Background()
				require.NoError(t, h.store.Set(ctx, "k", []byte("v"), 0))
				require.NoError(t, h.store.Delete(ctx, "k"))
				_, err := h.store.Get(ctx, "k")
				assert.ErrorIs(t, err, ErrNotFound)
				require.NoError(t, h.store.Delete(ctx, "k"))
			})
		})
	}
}

func TestRedisStore_KeyPrefix(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	store := NewRedisStoreWithClient(client, "atlas/")
	require.NoError(t, store.Set(context.Background(), "geocode:paris", []byte("FRA"), time.Hour))

	assert.True(t, mr.Exists("atlas/geocode:paris"))
	assert.True(t, mr.Exists("atlas/geocode:paris#etag"))
	assert.Equal(t, time.Hour, mr.TTL("atlas/geocode:paris"))
}

func TestStoreFactory(t *testing.T) {
	f := NewStoreFactory()

	s, err := f.Create(Config{Backend: BackendMemory})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	_, err = f.Create(Config{Backend: BackendRedis})
	assert.Error(t, err)

	_, err = f.Create(Config{Backend: "etcd"})
	assert.ErrorContains(t, err, "unknown state backend")
}
