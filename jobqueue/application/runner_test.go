package application

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/flowdesk/msggate/jobqueue/domain"
	"github.com/flowdesk/msggate/jobqueue/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newRunnerFixture(t *testing.T) (*Runner, domain.IQueueRepository) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	repo := repository.NewQueueGormRepository(db)
	require.NoError(t, repo.InitSchema(context.Background()))

	runner := NewRunner(repo, 10*time.Millisecond, 5, 3, time.Hour)
	return runner, repo
}

func waitForStatus(t *testing.T, repo domain.IQueueRepository, status domain.Status, want int64) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		counts, err := repo.CountByStatus(context.Background())
		require.NoError(t, err)
		if counts[status] == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("queue never reached %d jobs in status %s", want, status)
}

func TestRunner_ProcessesJobs(t *testing.T) {
	runner, repo := newRunnerFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var handled int64
	runner.RegisterHandler("ping", func(ctx context.Context, job *domain.Job) error {
		atomic.AddInt64(&handled, 1)
		return nil
	})

	for i := 0; i < 3; i++ {
		_, err := repo.Enqueue(ctx, &domain.Job{
			TenantID:    "tenant-a",
			Type:        "ping",
			ReferenceID: fmt.Sprintf("ref-%d", i),
		})
		require.NoError(t, err)
	}

	go runner.Run(ctx)
	waitForStatus(t, repo, domain.StatusCompleted, 3)
	assert.Equal(t, int64(3), atomic.LoadInt64(&handled))
}

func TestRunner_FailedJobGoesThroughBackoff(t *testing.T) {
	runner, repo := newRunnerFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runner.RegisterHandler("ping", func(ctx context.Context, job *domain.Job) error {
		return fmt.Errorf("handler exploded")
	})

	_, err := repo.Enqueue(ctx, &domain.Job{
		TenantID: "tenant-a", Type: "ping", ReferenceID: "ref-1",
	})
	require.NoError(t, err)

	go runner.Run(ctx)
	// Backoff of one hour keeps the retry out of reach, so exactly one
	// attempt lands and the job sits pending with its error recorded.
	waitForStatus(t, repo, domain.StatusPending, 1)
	cancel()

	failed, err := repo.ListFailed(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, failed, "one failure out of three attempts is not terminal")
}

func TestRunner_UnknownJobTypeFailsImmediately(t *testing.T) {
	runner, repo := newRunnerFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := repo.Enqueue(ctx, &domain.Job{
		TenantID: "tenant-a", Type: "no_such_type", ReferenceID: "ref-1",
	})
	require.NoError(t, err)

	go runner.Run(ctx)
	waitForStatus(t, repo, domain.StatusFailed, 1)

	failed, err := repo.ListFailed(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "no handler registered", failed[0].LastError)
}
