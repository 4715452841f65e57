package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/flowdesk/msggate/jobqueue/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestRepo(t *testing.T) *QueueGormRepository {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	repo := NewQueueGormRepository(db)
	require.NoError(t, repo.InitSchema(context.Background()))
	return repo
}

func TestQueue_EnqueueDeduplicates(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	inserted, err := repo.Enqueue(ctx, &domain.Job{
		TenantID:    "tenant-a",
		Type:        "send_message",
		ReferenceID: "msg-1",
		Payload:     `{"to":"123"}`,
	})
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = repo.Enqueue(ctx, &domain.Job{
		TenantID:    "tenant-a",
		Type:        "send_message",
		ReferenceID: "msg-1",
		Payload:     `{"to":"123"}`,
	})
	require.NoError(t, err)
	assert.False(t, inserted, "a live job with the same reference must not be duplicated")

	counts, err := repo.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[domain.StatusPending])
}

func TestQueue_EnqueueAllowsNewJobAfterTerminal(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	job := &domain.Job{TenantID: "tenant-a", Type: "send_message", ReferenceID: "msg-1"}
	inserted, err := repo.Enqueue(ctx, job)
	require.NoError(t, err)
	require.True(t, inserted)

	reserved, err := repo.ReserveBatch(ctx, 1)
	require.NoError(t, err)
	require.Len(t, reserved, 1)
	require.NoError(t, repo.MarkSucceeded(ctx, reserved[0].ID))

	inserted, err = repo.Enqueue(ctx, &domain.Job{
		TenantID: "tenant-a", Type: "send_message", ReferenceID: "msg-1",
	})
	require.NoError(t, err)
	assert.True(t, inserted, "terminal jobs do not block a fresh enqueue")
}

func TestQueue_ReserveBatchIsDisjoint(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := repo.Enqueue(ctx, &domain.Job{
			TenantID:    "tenant-a",
			Type:        "send_message",
			ReferenceID: fmt.Sprintf("msg-%d", i),
		})
		require.NoError(t, err)
	}

	first, err := repo.ReserveBatch(ctx, 3)
	require.NoError(t, err)
	require.Len(t, first, 3)

	second, err := repo.ReserveBatch(ctx, 5)
	require.NoError(t, err)
	require.Len(t, second, 2, "already reserved jobs must not be claimed twice")

	seen := make(map[uint64]bool)
	for _, j := range append(first, second...) {
		assert.False(t, seen[j.ID])
		seen[j.ID] = true
		assert.Equal(t, domain.StatusReserved, j.Status)
	}

	third, err := repo.ReserveBatch(ctx, 5)
	require.NoError(t, err)
	assert.Empty(t, third)
}

func TestQueue_ReserveSkipsFutureAvailableAt(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	_, err := repo.Enqueue(ctx, &domain.Job{
		TenantID:    "tenant-a",
		Type:        "send_message",
		ReferenceID: "later",
		AvailableAt: time.Now().Add(time.Hour),
	})
	require.NoError(t, err)

	jobs, err := repo.ReserveBatch(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, jobs, "a backoff-delayed job is not yet claimable")
}

func TestQueue_MarkFailedBacksOffThenTerminal(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	_, err := repo.Enqueue(ctx, &domain.Job{
		TenantID: "tenant-a", Type: "send_message", ReferenceID: "msg-1",
	})
	require.NoError(t, err)

	reserved, err := repo.ReserveBatch(ctx, 1)
	require.NoError(t, err)
	require.Len(t, reserved, 1)
	id := reserved[0].ID

	require.NoError(t, repo.MarkFailed(ctx, id, "timeout", 3, time.Hour))

	counts, err := repo.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[domain.StatusPending], "below max attempts the job goes back to pending")

	jobs, err := repo.ReserveBatch(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, jobs, "backoff pushed available_at into the future")

	// Pull the retry forward and burn the remaining attempts.
	require.NoError(t, repo.db.Model(&jobModel{}).Where("id = ?", id).
		Update("available_at", time.Now().Add(-time.Second)).Error)
	reserved, err = repo.ReserveBatch(ctx, 1)
	require.NoError(t, err)
	require.Len(t, reserved, 1)
	require.NoError(t, repo.MarkFailed(ctx, id, "timeout", 2, time.Hour))

	counts, err = repo.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[domain.StatusFailed])

	failed, err := repo.ListFailed(ctx, 10)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "timeout", failed[0].LastError)
	assert.Equal(t, 2, failed[0].Attempts)
}

func TestQueue_ReleaseStale(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	_, err := repo.Enqueue(ctx, &domain.Job{
		TenantID: "tenant-a", Type: "send_message", ReferenceID: "msg-1",
	})
	require.NoError(t, err)

	reserved, err := repo.ReserveBatch(ctx, 1)
	require.NoError(t, err)
	require.Len(t, reserved, 1)

	released, err := repo.ReleaseStale(ctx, time.Minute)
	require.NoError(t, err)
	assert.Zero(t, released, "a fresh reservation is not stale")

	stale := time.Now().Add(-10 * time.Minute)
	require.NoError(t, repo.db.Model(&jobModel{}).Where("id = ?", reserved[0].ID).
		Update("reserved_at", stale).Error)

	released, err = repo.ReleaseStale(ctx, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), released)

	jobs, err := repo.ReserveBatch(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, jobs, 1, "released jobs are claimable again")
}
