package application

import (
	"context"
	"sync"
	"time"

	"github.com/flowdesk/msggate/jobqueue/domain"
	"github.com/sirupsen/logrus"
)

// Handler processes one reserved job. A nil return completes the job; an
// error sends it through backoff until maxAttempts.
type Handler func(ctx context.Context, job *domain.Job) error

// Runner polls the durable queue and dispatches reserved jobs to registered
// handlers. Any number of runners may compete over the same table.
type Runner struct {
	repo         domain.IQueueRepository
	pollInterval time.Duration
	batchSize    int
	maxAttempts  int
	backoff      time.Duration

	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewRunner(repo domain.IQueueRepository, pollInterval time.Duration, batchSize, maxAttempts int, backoff time.Duration) *Runner {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 10
	}
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &Runner{
		repo:         repo,
		pollInterval: pollInterval,
		batchSize:    batchSize,
		maxAttempts:  maxAttempts,
		backoff:      backoff,
		handlers:     make(map[string]Handler),
	}
}

// RegisterHandler binds a job type to its handler. Jobs with no handler fail
// immediately (they will never become runnable).
func (r *Runner) RegisterHandler(jobType string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[jobType] = h
}

func (r *Runner) handlerFor(jobType string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[jobType]
	return h, ok
}

// Run blocks until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) {
	logrus.Infof("[QUEUE] Runner started (poll: %v, batch: %d, max attempts: %d)",
		r.pollInterval, r.batchSize, r.maxAttempts)

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	staleTicker := time.NewTicker(time.Minute)
	defer staleTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			logrus.Info("[QUEUE] Runner stopped")
			return
		case <-staleTicker.C:
			if released, err := r.repo.ReleaseStale(ctx, 5*time.Minute); err != nil {
				logrus.WithError(err).Warn("[QUEUE] Failed to release stale reservations")
			} else if released > 0 {
				logrus.Warnf("[QUEUE] Released %d stale reservations back to pending", released)
			}
		case <-ticker.C:
			r.drainOnce(ctx)
		}
	}
}

// drainOnce keeps reserving until the queue has nothing runnable, so a burst
// does not wait out poll intervals batch by batch.
func (r *Runner) drainOnce(ctx context.Context) {
	for {
		jobs, err := r.repo.ReserveBatch(ctx, r.batchSize)
		if err != nil {
			logrus.WithError(err).Error("[QUEUE] ReserveBatch failed")
			return
		}
		if len(jobs) == 0 {
			return
		}

		for _, job := range jobs {
			r.process(ctx, job)
		}

		if len(jobs) < r.batchSize {
			return
		}
	}
}

func (r *Runner) process(ctx context.Context, job *domain.Job) {
	handler, ok := r.handlerFor(job.Type)
	if !ok {
		logrus.Errorf("[QUEUE] No handler registered for job type %q (id %d)", job.Type, job.ID)
		_ = r.repo.MarkFailed(ctx, job.ID, "no handler registered", 1, 0)
		return
	}

	if err := handler(ctx, job); err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"job_id":   job.ID,
			"job_type": job.Type,
			"attempts": job.Attempts + 1,
		}).Warn("[QUEUE] Job failed")
		if mErr := r.repo.MarkFailed(ctx, job.ID, err.Error(), r.maxAttempts, r.backoff); mErr != nil {
			logrus.WithError(mErr).Errorf("[QUEUE] Failed to mark job %d failed", job.ID)
		}
		return
	}

	if err := r.repo.MarkSucceeded(ctx, job.ID); err != nil {
		logrus.WithError(err).Errorf("[QUEUE] Failed to mark job %d succeeded", job.ID)
	}
}
