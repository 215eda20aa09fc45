package db_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"optrack.evalgo.org/db"
	"optrack.evalgo.org/db/dbtest"
	"optrack.evalgo.org/statemanager"
)

func TestIdempotencyLedger_LookupRecord(t *testing.T) {
	ctx := context.Background()
	ledger := db.NewIdempotencyLedger(dbtest.Open(t))

	opID := uuid.NewString()
	hash, err := statemanager.HashRequest([]byte(`{"status":"RUNNING"}`))
	require.NoError(t, err)

	t.Run("unused key", func(t *testing.T) {
		stored, err := ledger.Lookup(ctx, "key-1", opID, hash)
		require.NoError(t, err)
		assert.Nil(t, stored)
	})

	require.NoError(t, ledger.Record(ctx, "key-1", opID, hash, []byte(`{"id":"first"}`)))

	t.Run("matching replay", func(t *testing.T) {
		stored, err := ledger.Lookup(ctx, "key-1", opID, hash)
		require.NoError(t, err)
		assert.Equal(t, []byte(`{"id":"first"}`), stored)
	})

	t.Run("different operation", func(t *testing.T) {
		_, err := ledger.Lookup(ctx, "key-1", uuid.NewString(), hash)
		assert.ErrorIs(t, err, statemanager.ErrIdempotencyKeyReuse)
	})

	t.Run("different payload", func(t *testing.T) {
		other, err := statemanager.HashRequest([]byte(`{"status":"FAILED"}`))
		require.NoError(t, err)
		_, err = ledger.Lookup(ctx, "key-1", opID, other)
		assert.ErrorIs(t, err, statemanager.ErrIdempotencyKeyReuse)
	})

	t.Run("first record wins", func(t *testing.T) {
		require.NoError(t, ledger.Record(ctx, "key-1", opID, hash, []byte(`{"id":"second"}`)))

		stored, err := ledger.Lookup(ctx, "key-1", opID, hash)
		require.NoError(t, err)
		assert.Equal(t, []byte(`{"id":"first"}`), stored)
	})
}

func TestIdempotencyLedger_Purge(t *testing.T) {
	ctx := context.Background()
	clock := dbtest.NewClock()
	ledger := db.NewIdempotencyLedger(dbtest.Open(t)).WithClock(clock.Now)

	opID := uuid.NewString()
	require.NoError(t, ledger.Record(ctx, "old", opID, "h1", []byte(`{}`)))
	clock.Advance(2 * time.Hour)
	require.NoError(t, ledger.Record(ctx, "new", opID, "h2", []byte(`{}`)))
	clock.Advance(30 * time.Minute)

	purged, err := ledger.Purge(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)

	stored, err := ledger.Lookup(ctx, "old", opID, "h1")
	require.NoError(t, err)
	assert.Nil(t, stored)

	stored, err = ledger.Lookup(ctx, "new", opID, "h2")
	require.NoError(t, err)
	assert.NotNil(t, stored)
}
