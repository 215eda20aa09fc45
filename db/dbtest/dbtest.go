// Package dbtest opens throwaway in-memory databases with the optrack schema
// for unit tests.
package dbtest

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"optrack.evalgo.org/db"
)

var seq atomic.Int64

// Open returns a migrated in-memory SQLite database private to t. The pool
// holds a single connection so transactions serialize the way row locks do.
func Open(t testing.TB) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:optrack_%d?mode=memory&cache=shared&_pragma=busy_timeout(5000)", seq.Add(1))
	gdb, err := db.Open(sqlite.Open(dsn), db.PoolConfig{MaxIdleConns: 1, MaxOpenConns: 1})
	require.NoError(t, err)
	require.NoError(t, db.Migrate(gdb))

	t.Cleanup(func() { db.Close(gdb) })
	return gdb
}

// Clock is a manually advanced time source
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock starts a clock at a fixed whole-second UTC instant.
func NewClock() *Clock {
	return &Clock{now: time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)}
}

// Now returns the current clock time
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
