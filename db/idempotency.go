package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"optrack.evalgo.org/statemanager"
)

// IdempotencyRecord binds a caller key to the first committed response
type IdempotencyRecord struct {
	Key         string    `gorm:"column:idempotency_key;primaryKey;size:255"`
	OperationID string    `gorm:"type:uuid;not null;index"`
	RequestHash string    `gorm:"size:64;not null"`
	Response    []byte    `gorm:"not null"`
	CreatedAt   time.Time `gorm:"not null;index"`
}

// TableName implements the gorm tabler interface.
func (IdempotencyRecord) TableName() string { return "idempotency_keys" }

// IdempotencyLedger implements statemanager.Ledger on top of gorm
type IdempotencyLedger struct {
	db  *gorm.DB
	now func() time.Time
}

// NewIdempotencyLedger creates a ledger using gdb
func NewIdempotencyLedger(gdb *gorm.DB) *IdempotencyLedger {
	return &IdempotencyLedger{
		db:  gdb,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the time source used for created_at and purge cutoffs.
func (l *IdempotencyLedger) WithClock(now func() time.Time) *IdempotencyLedger {
	l.now = now
	return l
}

// Lookup returns the stored response for key, nil when key is unused
func (l *IdempotencyLedger) Lookup(ctx context.Context, key, operationID, requestHash string) ([]byte, error) {
	var rec IdempotencyRecord
	err := l.db.WithContext(ctx).Where("idempotency_key = ?", key).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, statemanager.StorageFault("lookup idempotency key", err)
	}

	if rec.OperationID != operationID || rec.RequestHash != requestHash {
		return nil, fmt.Errorf("%w: key %q", statemanager.ErrIdempotencyKeyReuse, key)
	}
	return rec.Response, nil
}

// Record stores the response for key. The first record for a key wins;
// later inserts are ignored.
func (l *IdempotencyLedger) Record(ctx context.Context, key, operationID, requestHash string, response []byte) error {
	rec := IdempotencyRecord{
		Key:         key,
		OperationID: operationID,
		RequestHash: requestHash,
		Response:    response,
		CreatedAt:   l.now(),
	}
	err := l.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "idempotency_key"}}, DoNothing: true}).
		Create(&rec).Error
	return statemanager.StorageFault("record idempotency key", err)
}

// Purge deletes records created more than olderThan ago and returns how many went.
func (l *IdempotencyLedger) Purge(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := l.now().Add(-olderThan)
	res := l.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&IdempotencyRecord{})
	if res.Error != nil {
		return 0, statemanager.StorageFault("purge idempotency keys", res.Error)
	}
	return res.RowsAffected, nil
}
