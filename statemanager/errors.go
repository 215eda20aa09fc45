package statemanager

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when an operation or record does not exist.
	ErrNotFound = errors.New("operation not found")

	// ErrInvalidTransition is returned when the requested edge is not in the lifecycle graph.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrIdempotencyKeyReuse is returned when a key is presented for a different operation or body.
	ErrIdempotencyKeyReuse = errors.New("idempotency key reused for a different request")

	// ErrLockContention is returned when another caller holds the operation's mutex.
	ErrLockContention = errors.New("operation is locked by another request")

	// ErrStorageFault is returned when the underlying persistence fails.
	ErrStorageFault = errors.New("storage fault")

	// ErrStatusChanged is returned when a conditional transition finds a different current status.
	ErrStatusChanged = errors.New("operation status changed")

	// ErrShuttingDown is returned when a new operation is submitted after shutdown began.
	ErrShuttingDown = errors.New("shutting down")
)

// TransitionError describes a rejected status change
type TransitionError struct {
	ID   string
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid transition %s -> %s for operation %s", e.From, e.To, e.ID)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// StorageError wraps a persistence failure with the operation that hit it
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage fault during %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() []error {
	return []error{ErrStorageFault, e.Err}
}

// StorageFault wraps err as a StorageError. A nil err stays nil.
func StorageFault(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}
