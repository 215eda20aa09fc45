package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"optrack.evalgo.org/statemanager"
)

// OperationStore implements statemanager.Store on top of gorm
type OperationStore struct {
	db  *gorm.DB
	now func() time.Time
}

// NewOperationStore creates a store using gdb
func NewOperationStore(gdb *gorm.DB) *OperationStore {
	return &OperationStore{
		db:  gdb,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the time source used for timestamps and stuck cutoffs.
func (s *OperationStore) WithClock(now func() time.Time) *OperationStore {
	s.now = now
	return s
}

// Create inserts a new PENDING operation
func (s *OperationStore) Create(ctx context.Context, opType string) (*statemanager.Operation, error) {
	now := s.now()
	op := &statemanager.Operation{
		ID:        uuid.NewString(),
		Type:      opType,
		Status:    statemanager.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.db.WithContext(ctx).Create(op).Error; err != nil {
		return nil, statemanager.StorageFault("create operation", err)
	}
	return op, nil
}

// Get loads an operation by id
func (s *OperationStore) Get(ctx context.Context, id string) (*statemanager.Operation, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, statemanager.ErrNotFound
	}

	var op statemanager.Operation
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&op).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, statemanager.ErrNotFound
	}
	if err != nil {
		return nil, statemanager.StorageFault("get operation", err)
	}
	return &op, nil
}

// Transition re-reads the operation under SELECT ... FOR UPDATE, validates
// the requested edge and writes it in the same transaction. Any failure
// rolls the transaction back, leaving the row untouched.
func (s *OperationStore) Transition(ctx context.Context, id string, to, expect statemanager.Status) (*statemanager.Operation, statemanager.Status, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, "", statemanager.ErrNotFound
	}

	var (
		op   statemanager.Operation
		from statemanager.Status
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id).Take(&op).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return statemanager.ErrNotFound
		}
		if err != nil {
			return statemanager.StorageFault("lock operation", err)
		}

		from = op.Status
		if expect != "" && op.Status != expect {
			return fmt.Errorf("%w: operation %s is %s, expected %s", statemanager.ErrStatusChanged, id, op.Status, expect)
		}
		if !statemanager.Allowed(op.Status, to) {
			return &statemanager.TransitionError{ID: id, From: op.Status, To: to}
		}

		now := s.now()
		updates := map[string]interface{}{
			"status":     to,
			"updated_at": now,
		}
		if to == statemanager.StatusRunning && op.StartedAt == nil {
			updates["started_at"] = now
			op.StartedAt = &now
		}
		if err := tx.Model(&statemanager.Operation{}).Where("id = ?", id).Updates(updates).Error; err != nil {
			return statemanager.StorageFault("update operation", err)
		}

		op.Status = to
		op.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, from, classify("commit transition", err)
	}
	return &op, from, nil
}

// FindStuck returns RUNNING operations started more than olderThan ago, oldest first
func (s *OperationStore) FindStuck(ctx context.Context, olderThan time.Duration) ([]*statemanager.Operation, error) {
	cutoff := s.now().Add(-olderThan)

	var ops []*statemanager.Operation
	err := s.db.WithContext(ctx).
		Where("status = ? AND started_at < ?", statemanager.StatusRunning, cutoff).
		Order("started_at").
		Find(&ops).Error
	if err != nil {
		return nil, statemanager.StorageFault("find stuck operations", err)
	}
	return ops, nil
}

// List returns operations newest first
func (s *OperationStore) List(ctx context.Context, filter statemanager.ListFilter) ([]*statemanager.Operation, error) {
	q := s.db.WithContext(ctx).Order("created_at DESC")
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}

	ops := make([]*statemanager.Operation, 0)
	if err := q.Find(&ops).Error; err != nil {
		return nil, statemanager.StorageFault("list operations", err)
	}
	return ops, nil
}

// Stats counts operations per status
func (s *OperationStore) Stats(ctx context.Context) (*statemanager.OperationStats, error) {
	var rows []struct {
		Status statemanager.Status
		Count  int
	}
	err := s.db.WithContext(ctx).
		Model(&statemanager.Operation{}).
		Select("status, count(*) as count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, statemanager.StorageFault("count operations", err)
	}

	stats := &statemanager.OperationStats{ByStatus: make(map[statemanager.Status]int)}
	for _, status := range statemanager.Statuses() {
		stats.ByStatus[status] = 0
	}
	for _, row := range rows {
		stats.ByStatus[row.Status] = row.Count
		stats.TotalOperations += row.Count
	}
	return stats, nil
}

// classify keeps lifecycle errors intact and wraps anything else as a storage fault.
func classify(op string, err error) error {
	switch {
	case errors.Is(err, statemanager.ErrNotFound),
		errors.Is(err, statemanager.ErrInvalidTransition),
		errors.Is(err, statemanager.ErrStatusChanged),
		errors.Is(err, statemanager.ErrStorageFault):
		return err
	default:
		return statemanager.StorageFault(op, err)
	}
}
