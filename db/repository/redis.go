package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrCacheMiss is returned by GetCache when the key is absent or expired
var ErrCacheMiss = errors.New("cache miss: key not found")

// RedisRepository implements LockRepository and CacheRepository using Redis/Valkey/DragonflyDB
type RedisRepository struct {
	client *redis.Client
	holder string
}

// NewRedisRepository creates a new Redis-based lock and cache repository
func NewRedisRepository(url string) (*RedisRepository, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisRepositoryFromClient(client), nil
}

// NewRedisRepositoryFromClient wraps an existing client
func NewRedisRepositoryFromClient(client *redis.Client) *RedisRepository {
	return &RedisRepository{
		client: client,
		holder: uuid.NewString(),
	}
}

// Lock operations

// lockKey is shared by acquire, release and inspection so all three always
// address the same entry.
func lockKey(name string) string {
	return "lock:" + name
}

func (r *RedisRepository) AcquireLock(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	lockData := map[string]interface{}{
		"name":     name,
		"holder":   r.holder,
		"token":    uuid.NewString(),
		"lockedAt": time.Now().UTC().Format(time.RFC3339Nano),
		"ttl":      ttl.String(),
	}

	data, err := json.Marshal(lockData)
	if err != nil {
		return false, err
	}

	// SET key value NX PX ttl
	// NX = only set if not exists
	result, err := r.client.SetNX(ctx, lockKey(name), data, ttl).Result()
	if err != nil {
		return false, err
	}

	return result, nil
}

// ReleaseLock removes the lock unconditionally.
func (r *RedisRepository) ReleaseLock(ctx context.Context, name string) error {
	return r.client.Del(ctx, lockKey(name)).Err()
}

func (r *RedisRepository) IsLocked(ctx context.Context, name string) (bool, error) {
	exists, err := r.client.Exists(ctx, lockKey(name)).Result()
	if err != nil {
		return false, err
	}
	return exists > 0, nil
}

// Cache operations

// generationTTL bounds how long an idle generation counter is kept. It only
// has to outlive one read-through populate.
const generationTTL = 24 * time.Hour

func cacheKey(key string) string {
	return "cache:" + key
}

func generationKey(key string) string {
	return "cachegen:" + key
}

// setIfGeneration writes the snapshot only while the generation counter still
// holds the value read before the store was consulted.
var setIfGeneration = redis.NewScript(`
local gen = redis.call('GET', KEYS[2])
if (gen or '0') ~= ARGV[1] then
	return 0
end
redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
return 1
`)

func (r *RedisRepository) SetCache(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}

	return r.client.Set(ctx, cacheKey(key), data, ttl).Err()
}

// CacheGeneration returns the invalidation counter for key, 0 if never invalidated.
func (r *RedisRepository) CacheGeneration(ctx context.Context, key string) (int64, error) {
	gen, err := r.client.Get(ctx, generationKey(key)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

// SetCacheIfGeneration stores value only if key has not been invalidated
// since gen was read. It reports whether the value was written.
func (r *RedisRepository) SetCacheIfGeneration(ctx context.Context, key string, value interface{}, ttl time.Duration, gen int64) (bool, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return false, fmt.Errorf("failed to marshal value: %w", err)
	}

	ms := ttl.Milliseconds()
	if ms < 1 {
		ms = 1
	}
	written, err := setIfGeneration.Run(ctx, r.client,
		[]string{cacheKey(key), generationKey(key)},
		strconv.FormatInt(gen, 10), data, ms,
	).Int()
	if err != nil {
		return false, err
	}
	return written == 1, nil
}

func (r *RedisRepository) GetCache(ctx context.Context, key string, value interface{}) error {
	data, err := r.client.Get(ctx, cacheKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrCacheMiss
	}
	if err != nil {
		return err
	}

	return json.Unmarshal(data, value)
}

// DeleteCache drops the snapshot and advances the generation in one
// transaction, so a populate that started before the delete cannot land after it.
func (r *RedisRepository) DeleteCache(ctx context.Context, key string) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, cacheKey(key))
		pipe.Incr(ctx, generationKey(key))
		pipe.Expire(ctx, generationKey(key), generationTTL)
		return nil
	})
	return err
}

// Ping checks that Redis answers
func (r *RedisRepository) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (r *RedisRepository) Close() error {
	return r.client.Close()
}
