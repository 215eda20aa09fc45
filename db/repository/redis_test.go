package repository

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepository(t *testing.T) (*RedisRepository, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	repo, err := NewRedisRepository("redis://" + mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo, mr
}

func TestNewRedisRepository_Errors(t *testing.T) {
	t.Run("invalid url", func(t *testing.T) {
		_, err := NewRedisRepository("://nope")
		assert.Error(t, err)
	})

	t.Run("unreachable", func(t *testing.T) {
		mr, err := miniredis.Run()
		require.NoError(t, err)
		addr := mr.Addr()
		mr.Close()

		_, err = NewRedisRepository("redis://" + addr)
		assert.Error(t, err)
	})
}

func TestRedisRepository_Lock(t *testing.T) {
	ctx := context.Background()
	repo, mr := newTestRepository(t)

	acquired, err := repo.AcquireLock(ctx, "operation:1", 10*time.Second)
	require.NoError(t, err)
	assert.True(t, acquired)
	assert.True(t, mr.Exists("lock:operation:1"))

	t.Run("held lock is exclusive", func(t *testing.T) {
		acquired, err := repo.AcquireLock(ctx, "operation:1", 10*time.Second)
		require.NoError(t, err)
		assert.False(t, acquired)
	})

	t.Run("other resources are independent", func(t *testing.T) {
		acquired, err := repo.AcquireLock(ctx, "operation:2", 10*time.Second)
		require.NoError(t, err)
		assert.True(t, acquired)
	})

	t.Run("release frees the same key", func(t *testing.T) {
		require.NoError(t, repo.ReleaseLock(ctx, "operation:1"))
		locked, err := repo.IsLocked(ctx, "operation:1")
		require.NoError(t, err)
		assert.False(t, locked)

		acquired, err := repo.AcquireLock(ctx, "operation:1", 10*time.Second)
		require.NoError(t, err)
		assert.True(t, acquired)
	})

	t.Run("lease expires", func(t *testing.T) {
		mr.FastForward(11 * time.Second)

		locked, err := repo.IsLocked(ctx, "operation:1")
		require.NoError(t, err)
		assert.False(t, locked)

		acquired, err := repo.AcquireLock(ctx, "operation:1", 10*time.Second)
		require.NoError(t, err)
		assert.True(t, acquired)
	})

	t.Run("release of a free lock", func(t *testing.T) {
		assert.NoError(t, repo.ReleaseLock(ctx, "operation:never-held"))
	})
}

func TestRedisRepository_Cache(t *testing.T) {
	ctx := context.Background()
	repo, mr := newTestRepository(t)

	type snapshot struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}

	var got snapshot
	assert.ErrorIs(t, repo.GetCache(ctx, "operation:1", &got), ErrCacheMiss)

	require.NoError(t, repo.SetCache(ctx, "operation:1", snapshot{ID: "1", Status: "RUNNING"}, 30*time.Second))
	assert.True(t, mr.Exists("cache:operation:1"))

	require.NoError(t, repo.GetCache(ctx, "operation:1", &got))
	assert.Equal(t, snapshot{ID: "1", Status: "RUNNING"}, got)

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, repo.DeleteCache(ctx, "operation:1"))
		assert.ErrorIs(t, repo.GetCache(ctx, "operation:1", &got), ErrCacheMiss)
	})

	t.Run("ttl", func(t *testing.T) {
		require.NoError(t, repo.SetCache(ctx, "operation:2", snapshot{ID: "2"}, 30*time.Second))
		mr.FastForward(31 * time.Second)
		assert.ErrorIs(t, repo.GetCache(ctx, "operation:2", &got), ErrCacheMiss)
	})

	t.Run("lock and cache keys do not collide", func(t *testing.T) {
		acquired, err := repo.AcquireLock(ctx, "operation:3", time.Minute)
		require.NoError(t, err)
		require.True(t, acquired)
		assert.ErrorIs(t, repo.GetCache(ctx, "operation:3", &got), ErrCacheMiss)
	})
}

func TestRedisRepository_CacheGeneration(t *testing.T) {
	ctx := context.Background()
	repo, mr := newTestRepository(t)

	type snapshot struct {
		Status string `json:"status"`
	}

	gen, err := repo.CacheGeneration(ctx, "operation:1")
	require.NoError(t, err)
	assert.Zero(t, gen, "never invalidated")

	t.Run("write at current generation", func(t *testing.T) {
		written, err := repo.SetCacheIfGeneration(ctx, "operation:1", snapshot{Status: "PENDING"}, 30*time.Second, gen)
		require.NoError(t, err)
		assert.True(t, written)

		var got snapshot
		require.NoError(t, repo.GetCache(ctx, "operation:1", &got))
		assert.Equal(t, "PENDING", got.Status)
		assert.Equal(t, 30*time.Second, mr.TTL("cache:operation:1"))
	})

	t.Run("delete advances generation", func(t *testing.T) {
		require.NoError(t, repo.DeleteCache(ctx, "operation:1"))
		next, err := repo.CacheGeneration(ctx, "operation:1")
		require.NoError(t, err)
		assert.Equal(t, gen+1, next)
		assert.Positive(t, mr.TTL("cachegen:operation:1"))
	})

	t.Run("stale write is discarded", func(t *testing.T) {
		written, err := repo.SetCacheIfGeneration(ctx, "operation:1", snapshot{Status: "PENDING"}, 30*time.Second, gen)
		require.NoError(t, err)
		assert.False(t, written)
		assert.False(t, mr.Exists("cache:operation:1"))
	})

	t.Run("generations are per key", func(t *testing.T) {
		other, err := repo.CacheGeneration(ctx, "operation:2")
		require.NoError(t, err)
		assert.Zero(t, other)
	})
}

func TestRedisRepository_Unavailable(t *testing.T) {
	ctx := context.Background()
	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	repo := NewRedisRepositoryFromClient(client)
	defer repo.Close()

	require.NoError(t, repo.Ping(ctx))
	mr.Close()

	assert.Error(t, repo.Ping(ctx))
	_, err = repo.AcquireLock(ctx, "operation:1", time.Second)
	assert.Error(t, err)

	var v map[string]string
	err = repo.GetCache(ctx, "operation:1", &v)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrCacheMiss)

	_, err = repo.CacheGeneration(ctx, "operation:1")
	assert.Error(t, err)
}
