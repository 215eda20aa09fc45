// Package worker provides a bounded pool for fire-and-forget background tasks.
// Submitting never blocks the caller; at most Concurrency tasks run at once
// and each task runs to completion once started.
package worker

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"
)

// ErrPoolClosed is returned by Submit after Shutdown has begun
var ErrPoolClosed = errors.New("worker pool is shut down")

// Config configures the worker pool
type Config struct {
	Concurrency int // maximum tasks running at once
	Logger      logrus.FieldLogger
}

// DefaultConfig returns the default worker configuration
func DefaultConfig() Config {
	return Config{
		Concurrency: 64,
	}
}

// Pool runs submitted tasks in their own goroutines
type Pool struct {
	slots chan struct{}
	log   logrus.FieldLogger

	mu      sync.RWMutex
	closed  bool
	running sync.WaitGroup
}

// NewPool creates a new worker pool
func NewPool(config Config) *Pool {
	if config.Concurrency <= 0 {
		config.Concurrency = DefaultConfig().Concurrency
	}
	if config.Logger == nil {
		logger := logrus.New()
		logger.SetLevel(logrus.PanicLevel)
		config.Logger = logger
	}
	return &Pool{
		slots: make(chan struct{}, config.Concurrency),
		log:   config.Logger,
	}
}

// Submit schedules task and returns immediately. The task's context is
// never cancelled by the pool.
func (p *Pool) Submit(name string, task func(ctx context.Context)) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}

	p.running.Add(1)
	go func() {
		defer p.running.Done()

		p.slots <- struct{}{}
		defer func() { <-p.slots }()

		defer func() {
			if r := recover(); r != nil {
				p.log.WithFields(logrus.Fields{
					"task":  name,
					"panic": r,
				}).Error("worker task panicked")
			}
		}()

		p.log.WithField("task", name).Debug("worker task started")
		task(context.Background())
		p.log.WithField("task", name).Debug("worker task finished")
	}()
	return nil
}

// Shutdown rejects new submissions and waits for submitted tasks to finish
// or ctx to expire.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	p.log.Info("Stopping worker pool...")

	done := make(chan struct{})
	go func() {
		p.running.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.log.Info("Worker pool stopped")
		return nil
	case <-ctx.Done():
		p.log.Warn("Worker pool stop timed out with tasks still running")
		return ctx.Err()
	}
}
