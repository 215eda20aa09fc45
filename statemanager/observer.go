package statemanager

import (
	"time"

	"github.com/sirupsen/logrus"
)

// Observer receives lifecycle events. Implementations must not block; they
// are called synchronously after the store has committed.
type Observer interface {
	OperationCreated(op *Operation)
	OperationTransitioned(op *Operation, from Status)
	OperationReclaimed(op *Operation)
	OperationExecuted(op *Operation, d time.Duration)
}

// Observers fans one event out to every member
type Observers []Observer

func (o Observers) OperationCreated(op *Operation) {
	for _, obs := range o {
		obs.OperationCreated(op)
	}
}

func (o Observers) OperationTransitioned(op *Operation, from Status) {
	for _, obs := range o {
		obs.OperationTransitioned(op, from)
	}
}

func (o Observers) OperationReclaimed(op *Operation) {
	for _, obs := range o {
		obs.OperationReclaimed(op)
	}
}

func (o Observers) OperationExecuted(op *Operation, d time.Duration) {
	for _, obs := range o {
		obs.OperationExecuted(op, d)
	}
}

// LogObserver writes one structured entry per lifecycle event
type LogObserver struct {
	Logger logrus.FieldLogger
}

// NewLogObserver creates an observer logging through logger.
func NewLogObserver(logger logrus.FieldLogger) *LogObserver {
	return &LogObserver{Logger: logger}
}

func (l *LogObserver) OperationCreated(op *Operation) {
	l.Logger.WithFields(logrus.Fields{
		"operation_id": op.ID,
		"type":         op.Type,
	}).Info("operation_created")
}

func (l *LogObserver) OperationTransitioned(op *Operation, from Status) {
	l.Logger.WithFields(logrus.Fields{
		"operation_id": op.ID,
		"from":         from,
		"to":           op.Status,
	}).Info("operation_status_changed")
}

func (l *LogObserver) OperationReclaimed(op *Operation) {
	fields := logrus.Fields{"operation_id": op.ID}
	if op.StartedAt != nil {
		fields["started_at"] = op.StartedAt.Format(time.RFC3339Nano)
	}
	l.Logger.WithFields(fields).Warn("operation_recovered_as_failed")
}

func (l *LogObserver) OperationExecuted(op *Operation, d time.Duration) {
	l.Logger.WithFields(logrus.Fields{
		"operation_id": op.ID,
		"status":       op.Status,
		"duration":     d.String(),
	}).Info("operation_executed")
}

type nopObserver struct{}

func (nopObserver) OperationCreated(*Operation) {}
func (nopObserver) OperationTransitioned(*Operation, Status) {}
func (nopObserver) OperationReclaimed(*Operation) {}
func (nopObserver) OperationExecuted(*Operation, time.Duration) {}
