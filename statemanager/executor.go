package statemanager

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// Executor performs the work of a RUNNING operation
type Executor func(ctx context.Context, op *Operation) error

// SimulatedWork returns an executor that waits d and succeeds.
func SimulatedWork(d time.Duration) Executor {
	return func(ctx context.Context, op *Operation) error {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-timer.C:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// schedule hands a freshly RUNNING operation to the scheduler. A lost
// submission leaves the operation RUNNING for the sweeper to reclaim.
func (m *Manager) schedule(op *Operation) {
	if m.scheduler == nil {
		return
	}
	logger := m.log.WithField("operation_id", op.ID)
	if m.shuttingDown() {
		logger.Warn("shutdown in progress, execution not scheduled")
		return
	}

	snapshot := *op
	if err := m.scheduler.Submit("execute:"+op.ID, func(ctx context.Context) {
		m.execute(ctx, &snapshot)
	}); err != nil {
		logger.WithError(err).Warn("execution not scheduled")
	}
}

// execute runs the executor and drives the operation to SUCCESS or FAILED
// through the regular transition path.
func (m *Manager) execute(ctx context.Context, op *Operation) {
	start := time.Now()
	target := StatusSuccess
	if err := m.runExecutor(ctx, op); err != nil {
		target = StatusFailed
		m.log.WithError(err).WithField("operation_id", op.ID).Warn("operation execution failed")
	}

	final, err := m.commit(ctx, op.ID, target, "")
	if err != nil {
		m.log.WithError(err).WithFields(logrus.Fields{
			"operation_id": op.ID,
			"to":           target,
		}).Warn("execution result not applied")
		return
	}
	m.observer.OperationExecuted(final, time.Since(start))
}

func (m *Manager) runExecutor(ctx context.Context, op *Operation) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("executor panic: %v", r)
		}
	}()
	return m.executor(ctx, op)
}
