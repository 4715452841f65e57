package ratelimit

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// Store persists fixed-window counters. Implementations must make Increment
// atomic per bucket; two concurrent callers never both pass a full bucket.
type Store interface {
	// Increment creates the bucket for (key, action, windowStart) if absent
	// and increments it unless the count has already reached limit. Returns
	// whether the caller is allowed.
	Increment(ctx context.Context, key, action string, windowStart int64, limit int) (bool, error)

	// PruneBefore removes buckets whose window started before horizon.
	PruneBefore(ctx context.Context, horizon int64) error
}

// Limiter enforces per-(key,action) request ceilings over fixed windows.
//
// On storage failure the limiter fails closed in production and open
// elsewhere: production favors abuse-resistance, development favors not
// blocking local work on a missing backend.
type Limiter struct {
	store      Store
	failClosed bool
	retention  time.Duration

	pruneCount uint64
}

func NewLimiter(store Store, failClosed bool, retention time.Duration) *Limiter {
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	return &Limiter{
		store:      store,
		failClosed: failClosed,
		retention:  retention,
	}
}

// CheckAndIncrement reports whether the call identified by (key, action) is
// within limit for the current window of windowSeconds.
func (l *Limiter) CheckAndIncrement(ctx context.Context, key, action string, limit, windowSeconds int) bool {
	if limit <= 0 || windowSeconds <= 0 {
		return true
	}

	now := time.Now().Unix()
	windowStart := (now / int64(windowSeconds)) * int64(windowSeconds)

	allowed, err := l.store.Increment(ctx, key, action, windowStart, limit)
	if err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"key":    key,
			"action": action,
		}).Error("[RATELIMIT] Bucket store failure")
		return !l.failClosed
	}

	l.maybePrune(ctx, now)
	return allowed
}

// maybePrune opportunistically deletes expired buckets roughly every 100
// checks. The counter is atomic; the limiter is shared across handlers and
// dispatcher sends. Prune failures never affect the caller.
func (l *Limiter) maybePrune(ctx context.Context, now int64) {
	if atomic.AddUint64(&l.pruneCount, 1)%100 != 0 {
		return
	}

	horizon := now - int64(l.retention.Seconds())
	if err := l.store.PruneBefore(ctx, horizon); err != nil {
		logrus.WithError(err).Debug("[RATELIMIT] Bucket prune failed")
	}
}
