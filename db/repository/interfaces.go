// Package repository provides the ephemeral storage used around the operation
// store: the distributed mutex and the read-through cache backend.
//
// Both live in Redis/Valkey/DragonflyDB. Neither is authoritative; losing
// every key costs latency and duplicate work, never correctness, because the
// operation store's row lock and status re-check guard every transition.
package repository

import (
	"context"
	"time"
)

// LockRepository manages TTL-bound advisory locks.
//
// Use Cases:
//   - Serialize concurrent status updates on one operation across processes
//   - Avoid duplicate execution scheduling
//
// Consistency:
//   - Acquire is an atomic set-if-absent
//   - Release is unconditional; an unreleased lock expires with its TTL
type LockRepository interface {
	AcquireLock(ctx context.Context, name string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, name string) error
	IsLocked(ctx context.Context, name string) (bool, error)
}

// CacheRepository manages JSON snapshots with a freshness window.
//
// Every DeleteCache advances a per-key generation. A read-through populate
// reads the generation before loading from the store and writes with
// SetCacheIfGeneration, so a snapshot loaded before an invalidation is
// discarded instead of overwriting it.
type CacheRepository interface {
	SetCache(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	CacheGeneration(ctx context.Context, key string) (int64, error)
	SetCacheIfGeneration(ctx context.Context, key string, value interface{}, ttl time.Duration, gen int64) (bool, error)
	GetCache(ctx context.Context, key string, value interface{}) error
	DeleteCache(ctx context.Context, key string) error
}

var (
	_ LockRepository  = (*RedisRepository)(nil)
	_ CacheRepository = (*RedisRepository)(nil)
)
