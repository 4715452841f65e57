package domain

import (
	"context"
	"time"
)

// IQueueRepository is the durable queue. Reservation must be atomic across
// competing worker processes: no two concurrent ReserveBatch callers may see
// the same job.
type IQueueRepository interface {
	InitSchema(ctx context.Context) error

	// Enqueue inserts the job unless a pending/reserved job already exists
	// for (Type, ReferenceID). Returns false when the enqueue was a no-op.
	Enqueue(ctx context.Context, job *Job) (bool, error)

	// ReserveBatch atomically claims up to limit pending jobs whose
	// AvailableAt has passed, FIFO by id.
	ReserveBatch(ctx context.Context, limit int) ([]*Job, error)

	MarkSucceeded(ctx context.Context, id uint64) error

	// MarkFailed increments attempts; at maxAttempts the job goes terminal
	// failed, otherwise back to pending with AvailableAt pushed out by
	// backoff.
	MarkFailed(ctx context.Context, id uint64, jobErr string, maxAttempts int, backoff time.Duration) error

	// ReleaseStale returns jobs reserved longer than olderThan to pending.
	// Covers workers that died mid-job.
	ReleaseStale(ctx context.Context, olderThan time.Duration) (int64, error)

	CountByStatus(ctx context.Context) (map[Status]int64, error)
	ListFailed(ctx context.Context, limit int) ([]*Job, error)
}
