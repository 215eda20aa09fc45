// Package sweeper reclaims operations abandoned in RUNNING.
//
// The sweep runs on a fixed interval independent of request traffic. Each
// stuck operation is moved RUNNING -> FAILED with a compare-and-set through
// the store's locked transition path, so an operation that finished between
// the scan and the write keeps its terminal status.
package sweeper

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"optrack.evalgo.org/statemanager"
)

// Store is the subset of the operation store the sweeper needs
type Store interface {
	FindStuck(ctx context.Context, olderThan time.Duration) ([]*statemanager.Operation, error)
	Transition(ctx context.Context, id string, to, expect statemanager.Status) (*statemanager.Operation, statemanager.Status, error)
}

// Purger removes idempotency records past their retention window
type Purger interface {
	Purge(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Invalidator drops cached operation snapshots
type Invalidator interface {
	DeleteCache(ctx context.Context, key string) error
}

// Config configures a Sweeper
type Config struct {
	Store     Store
	Interval  time.Duration // default 10s
	Threshold time.Duration // default 30s
	Observer  statemanager.Observer
	Logger    logrus.FieldLogger

	// Cache, when set, is invalidated for every reclaimed operation.
	Cache Invalidator

	// Ledger and Retention enable idempotency record purging; zero Retention keeps records forever.
	Ledger    Purger
	Retention time.Duration
}

// Result summarizes one sweep
type Result struct {
	Examined  int
	Reclaimed int
	Skipped   int
	Failed    int
	Purged    int64
}

// Sweeper periodically fails stuck operations
type Sweeper struct {
	store     Store
	interval  time.Duration
	threshold time.Duration
	observer  statemanager.Observer
	log       logrus.FieldLogger
	cache     Invalidator
	ledger    Purger
	retention time.Duration
}

// New creates a sweeper from cfg
func New(cfg Config) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = 30 * time.Second
	}
	if cfg.Observer == nil {
		cfg.Observer = statemanager.Observers{}
	}
	if cfg.Logger == nil {
		logger := logrus.New()
		logger.SetLevel(logrus.PanicLevel)
		cfg.Logger = logger
	}
	return &Sweeper{
		store:     cfg.Store,
		interval:  cfg.Interval,
		threshold: cfg.Threshold,
		observer:  cfg.Observer,
		log:       cfg.Logger,
		cache:     cfg.Cache,
		ledger:    cfg.Ledger,
		retention: cfg.Retention,
	}
}

// Run sweeps once immediately and then every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	s.log.WithFields(logrus.Fields{
		"interval":  s.interval.String(),
		"threshold": s.threshold.String(),
	}).Info("sweeper started")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
			s.log.WithError(err).Error("sweep failed")
		}

		select {
		case <-ctx.Done():
			s.log.Info("sweeper stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Stuck lists the operations the next sweep would reclaim.
func (s *Sweeper) Stuck(ctx context.Context) ([]*statemanager.Operation, error) {
	return s.store.FindStuck(ctx, s.threshold)
}

// Sweep reclaims every stuck operation found now. A failure on one operation
// is logged and counted; only a failed scan aborts the sweep.
func (s *Sweeper) Sweep(ctx context.Context) (Result, error) {
	var res Result

	stuck, err := s.store.FindStuck(ctx, s.threshold)
	if err != nil {
		return res, err
	}

	for _, op := range stuck {
		res.Examined++
		switch err := s.reclaim(ctx, op); {
		case err == nil:
			res.Reclaimed++
		case errors.Is(err, statemanager.ErrStatusChanged), errors.Is(err, statemanager.ErrNotFound):
			res.Skipped++
			s.log.WithError(err).WithField("operation_id", op.ID).Debug("stuck operation already settled")
		default:
			res.Failed++
			s.log.WithError(err).WithField("operation_id", op.ID).Error("failed to reclaim stuck operation")
		}
	}

	if s.ledger != nil && s.retention > 0 {
		purged, err := s.ledger.Purge(ctx, s.retention)
		if err != nil {
			s.log.WithError(err).Error("failed to purge idempotency records")
		}
		res.Purged = purged
	}

	if res.Examined > 0 || res.Purged > 0 {
		s.log.WithFields(logrus.Fields{
			"examined":  res.Examined,
			"reclaimed": res.Reclaimed,
			"skipped":   res.Skipped,
			"failed":    res.Failed,
			"purged":    res.Purged,
		}).Info("sweep_completed")
	}
	return res, nil
}

func (s *Sweeper) reclaim(ctx context.Context, stuck *statemanager.Operation) error {
	op, from, err := s.store.Transition(ctx, stuck.ID, statemanager.StatusFailed, statemanager.StatusRunning)
	if err != nil {
		return err
	}

	if s.cache != nil {
		if err := s.cache.DeleteCache(ctx, statemanager.ResourceKey(op.ID)); err != nil {
			s.log.WithError(err).WithField("operation_id", op.ID).Warn("cache invalidation failed")
		}
	}
	s.observer.OperationTransitioned(op, from)
	s.observer.OperationReclaimed(op)
	return nil
}
