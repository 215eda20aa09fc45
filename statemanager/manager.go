package statemanager

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Store is the durable source of truth for operations
type Store interface {
	Create(ctx context.Context, opType string) (*Operation, error)
	Get(ctx context.Context, id string) (*Operation, error)

	// Transition moves the operation to status to under an exclusive row lock
	// and returns the updated operation and its prior status. When expect is
	// non-empty the current status must equal it, otherwise ErrStatusChanged.
	Transition(ctx context.Context, id string, to, expect Status) (*Operation, Status, error)

	FindStuck(ctx context.Context, olderThan time.Duration) ([]*Operation, error)
	List(ctx context.Context, filter ListFilter) ([]*Operation, error)
	Stats(ctx context.Context) (*OperationStats, error)
}

// Locker is a TTL-bound advisory lock shared across processes
type Locker interface {
	AcquireLock(ctx context.Context, name string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, name string) error
}

// CacheBackend stores JSON snapshots with a TTL. DeleteCache advances the
// key's generation; SetCacheIfGeneration writes only if it has not moved.
type CacheBackend interface {
	CacheGeneration(ctx context.Context, key string) (int64, error)
	SetCacheIfGeneration(ctx context.Context, key string, value interface{}, ttl time.Duration, gen int64) (bool, error)
	GetCache(ctx context.Context, key string, value interface{}) error
	DeleteCache(ctx context.Context, key string) error
}

// Scheduler runs tasks outside the request path
type Scheduler interface {
	Submit(name string, task func(ctx context.Context)) error
}

// Config for creating a new Manager
type Config struct {
	Store     Store
	Ledger    Ledger       // optional, disables idempotency when nil
	Locker    Locker       // optional
	Cache     CacheBackend // optional
	Scheduler Scheduler    // optional, no execution when nil
	Executor  Executor
	Observer  Observer
	Logger    logrus.FieldLogger

	LockTTL  time.Duration // default 10s
	CacheTTL time.Duration // default 30s
}

// Manager drives operations through their lifecycle
type Manager struct {
	store     Store
	ledger    Ledger
	locker    Locker
	cache     CacheBackend
	scheduler Scheduler
	executor  Executor
	observer  Observer
	log       logrus.FieldLogger

	lockTTL  time.Duration
	cacheTTL time.Duration

	mu       sync.RWMutex
	closed   bool
	inflight sync.WaitGroup
}

// New creates a new operation manager
func New(cfg Config) *Manager {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 10 * time.Second
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 30 * time.Second
	}
	if cfg.Executor == nil {
		cfg.Executor = SimulatedWork(5 * time.Second)
	}
	if cfg.Observer == nil {
		cfg.Observer = nopObserver{}
	}
	if cfg.Logger == nil {
		logger := logrus.New()
		logger.SetLevel(logrus.PanicLevel)
		cfg.Logger = logger
	}
	return &Manager{
		store:     cfg.Store,
		ledger:    cfg.Ledger,
		locker:    cfg.Locker,
		cache:     cfg.Cache,
		scheduler: cfg.Scheduler,
		executor:  cfg.Executor,
		observer:  cfg.Observer,
		log:       cfg.Logger,
		lockTTL:   cfg.LockTTL,
		cacheTTL:  cfg.CacheTTL,
	}
}

// ResourceKey is the canonical name for an operation in the lock and cache
// stores. Acquire, release, put and invalidate all go through it.
func ResourceKey(id string) string {
	return "operation:" + id
}

// UpdateRequest asks for a status change on one operation
type UpdateRequest struct {
	OperationID    string
	Status         Status
	IdempotencyKey string
	// Payload is the raw request body used for the idempotency hash. When
	// empty the hash covers {"status": Status}.
	Payload json.RawMessage
}

// UpdateResult is the outcome of UpdateStatus
type UpdateResult struct {
	// Operation is nil when the response was replayed from the ledger.
	Operation *Operation
	// Body is the serialized response, stored verbatim for replays.
	Body     []byte
	Replayed bool
}

// Create registers a new PENDING operation. New operations are refused once
// Shutdown has begun.
func (m *Manager) Create(ctx context.Context, opType string) (*Operation, error) {
	if m.shuttingDown() {
		return nil, ErrShuttingDown
	}
	op, err := m.store.Create(ctx, opType)
	if err != nil {
		return nil, err
	}
	m.observer.OperationCreated(op)
	return op, nil
}

// Get returns the current representation of an operation, read through the
// cache. The populate is skipped when a transition invalidated the key while
// the store was being read.
func (m *Manager) Get(ctx context.Context, id string) (*Operation, error) {
	key := ResourceKey(id)
	populate := false
	var gen int64
	if m.cache != nil {
		var cached Operation
		if err := m.cache.GetCache(ctx, key, &cached); err == nil {
			return &cached, nil
		}
		var err error
		gen, err = m.cache.CacheGeneration(ctx, key)
		populate = err == nil
	}

	op, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if populate {
		written, err := m.cache.SetCacheIfGeneration(ctx, key, op, m.cacheTTL, gen)
		switch {
		case err != nil:
			m.log.WithError(err).WithField("operation_id", id).Debug("cache populate failed")
		case !written:
			m.log.WithField("operation_id", id).Debug("operation changed during read, cache not populated")
		}
	}
	return op, nil
}

// List returns operations matching filter
func (m *Manager) List(ctx context.Context, filter ListFilter) ([]*Operation, error) {
	return m.store.List(ctx, filter)
}

// Stats returns per-status counts
func (m *Manager) Stats(ctx context.Context) (*OperationStats, error) {
	return m.store.Stats(ctx)
}

// UpdateStatus applies a caller-requested transition. The distributed mutex
// is held from the ledger lookup until the outcome is recorded and the cache
// invalidated; the store's row lock guards the transition itself.
func (m *Manager) UpdateStatus(ctx context.Context, req UpdateRequest) (*UpdateResult, error) {
	defer m.track()()

	hash, err := requestHash(req)
	if err != nil {
		return nil, err
	}

	release, err := m.lock(ctx, req.OperationID)
	if err != nil {
		return nil, err
	}
	defer release()

	useLedger := m.ledger != nil && req.IdempotencyKey != ""
	if useLedger {
		stored, err := m.ledger.Lookup(ctx, req.IdempotencyKey, req.OperationID, hash)
		if err != nil {
			return nil, err
		}
		if stored != nil {
			return &UpdateResult{Body: stored, Replayed: true}, nil
		}
	}

	op, err := m.commit(ctx, req.OperationID, req.Status, "")
	if err != nil {
		return nil, err
	}

	if op.Status == StatusRunning {
		m.schedule(op)
	}

	body, err := json.Marshal(op)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal operation: %w", err)
	}

	if useLedger {
		// The transition is committed; a failed record only costs replay safety
		// for this key, a retry is rejected by the state machine.
		if err := m.ledger.Record(ctx, req.IdempotencyKey, req.OperationID, hash, body); err != nil {
			m.log.WithError(err).WithFields(logrus.Fields{
				"operation_id":    req.OperationID,
				"idempotency_key": req.IdempotencyKey,
			}).Error("failed to record idempotent response")
		}
	}

	return &UpdateResult{Operation: op, Body: body}, nil
}

// BeginShutdown refuses new operations and stops scheduling executions
// without waiting. Transitions already in progress, and any arriving later,
// still commit.
func (m *Manager) BeginShutdown() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
}

// Shutdown calls BeginShutdown and waits for in-flight UpdateStatus calls to
// return or ctx to expire.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.BeginShutdown()

	done := make(chan struct{})
	go func() {
		m.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// commit runs a transition through the store and invalidates the cached
// snapshot. Every successful transition passes through here.
func (m *Manager) commit(ctx context.Context, id string, to, expect Status) (*Operation, error) {
	op, from, err := m.store.Transition(ctx, id, to, expect)
	if err != nil {
		return nil, err
	}
	m.invalidate(ctx, id)
	m.observer.OperationTransitioned(op, from)
	return op, nil
}

func (m *Manager) invalidate(ctx context.Context, id string) {
	if m.cache == nil {
		return
	}
	if err := m.cache.DeleteCache(context.WithoutCancel(ctx), ResourceKey(id)); err != nil {
		m.log.WithError(err).WithField("operation_id", id).Warn("cache invalidation failed")
	}
}

// lock takes the operation's distributed mutex. An unreachable lock store
// degrades to row-lock-only operation rather than failing the request.
func (m *Manager) lock(ctx context.Context, id string) (func(), error) {
	if m.locker == nil {
		return func() {}, nil
	}

	name := ResourceKey(id)
	ok, err := m.locker.AcquireLock(ctx, name, m.lockTTL)
	if err != nil {
		m.log.WithError(err).WithField("operation_id", id).Warn("lock store unavailable, relying on row lock")
		return func() {}, nil
	}
	if !ok {
		return nil, ErrLockContention
	}

	return func() {
		if err := m.locker.ReleaseLock(context.WithoutCancel(ctx), name); err != nil {
			m.log.WithError(err).WithField("operation_id", id).Warn("lock release failed, lease will expire")
		}
	}, nil
}

// track registers an in-flight call unless shutdown has begun.
func (m *Manager) track() func() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return func() {}
	}
	m.inflight.Add(1)
	return m.inflight.Done
}

func (m *Manager) shuttingDown() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}

func requestHash(req UpdateRequest) (string, error) {
	if len(req.Payload) > 0 {
		return HashRequest(req.Payload)
	}
	return HashRequest(map[string]interface{}{"status": req.Status})
}
