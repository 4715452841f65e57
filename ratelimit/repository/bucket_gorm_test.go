package repository

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestStore(t *testing.T) *BucketGormStore {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	store := NewBucketGormStore(db)
	require.NoError(t, store.InitSchema(context.Background()))
	return store
}

func TestBucketGormStore_AllowsUpToLimit(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		allowed, err := store.Increment(ctx, "tenant-a", "send_message", 1000, 3)
		require.NoError(t, err)
		assert.True(t, allowed, "call %d should be within the limit", i+1)
	}

	allowed, err := store.Increment(ctx, "tenant-a", "send_message", 1000, 3)
	require.NoError(t, err)
	assert.False(t, allowed, "the limit-plus-one call must be denied")
}

func TestBucketGormStore_WindowsAreIndependent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	allowed, err := store.Increment(ctx, "tenant-a", "send_message", 1000, 1)
	require.NoError(t, err)
	require.True(t, allowed)

	allowed, err = store.Increment(ctx, "tenant-a", "send_message", 1000, 1)
	require.NoError(t, err)
	require.False(t, allowed)

	allowed, err = store.Increment(ctx, "tenant-a", "send_message", 1060, 1)
	require.NoError(t, err)
	assert.True(t, allowed, "a new window starts with an empty bucket")
}

func TestBucketGormStore_ActionsAreIndependent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	allowed, err := store.Increment(ctx, "tenant-a", "send_message", 1000, 1)
	require.NoError(t, err)
	require.True(t, allowed)

	allowed, err = store.Increment(ctx, "tenant-a", "create_session", 1000, 1)
	require.NoError(t, err)
	assert.True(t, allowed, "a different action uses its own bucket")

	allowed, err = store.Increment(ctx, "tenant-b", "send_message", 1000, 1)
	require.NoError(t, err)
	assert.True(t, allowed, "a different key uses its own bucket")
}

func TestBucketGormStore_PruneBefore(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Increment(ctx, "tenant-a", "send_message", 1000, 5)
	require.NoError(t, err)
	_, err = store.Increment(ctx, "tenant-a", "send_message", 2000, 5)
	require.NoError(t, err)

	require.NoError(t, store.PruneBefore(ctx, 1500))

	var count int64
	require.NoError(t, store.db.Model(&rateLimitBucketModel{}).Count(&count).Error)
	assert.Equal(t, int64(1), count, "only buckets before the horizon are removed")
}
