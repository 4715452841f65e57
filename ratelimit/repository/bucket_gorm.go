package repository

import (
	"context"
	"strings"
	"time"

	"gorm.io/gorm"
)

// --- Persistence Model ---

type rateLimitBucketModel struct {
	Key         string `gorm:"primaryKey"`
	Action      string `gorm:"primaryKey"`
	WindowStart int64  `gorm:"primaryKey;index:idx_rate_limit_window"`
	Count       int    `gorm:"not null;default:0"`
	UpdatedAt   time.Time
}

func (rateLimitBucketModel) TableName() string {
	return "rate_limit_buckets"
}

// --- Store Implementation ---

// BucketGormStore keeps one row per fixed window. The increment is a single
// guarded UPDATE (insert-on-absent) so concurrent callers serialize on the
// database, not on a check-then-write race.
type BucketGormStore struct {
	db *gorm.DB
}

func NewBucketGormStore(db *gorm.DB) *BucketGormStore {
	return &BucketGormStore{db: db}
}

func (s *BucketGormStore) InitSchema(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&rateLimitBucketModel{})
}

func (s *BucketGormStore) Increment(ctx context.Context, key, action string, windowStart int64, limit int) (bool, error) {
	result := s.db.WithContext(ctx).Model(&rateLimitBucketModel{}).
		Where("key = ? AND action = ? AND window_start = ? AND count < ?", key, action, windowStart, limit).
		Updates(map[string]any{
			"count":      gorm.Expr("count + 1"),
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	if result.RowsAffected > 0 {
		return true, nil
	}

	// Either the bucket is full or it does not exist yet.
	var count int64
	if err := s.db.WithContext(ctx).Model(&rateLimitBucketModel{}).
		Where("key = ? AND action = ? AND window_start = ?", key, action, windowStart).
		Count(&count).Error; err != nil {
		return false, err
	}
	if count > 0 {
		return false, nil
	}

	bucket := rateLimitBucketModel{
		Key:         key,
		Action:      action,
		WindowStart: windowStart,
		Count:       1,
		UpdatedAt:   time.Now(),
	}
	if err := s.db.WithContext(ctx).Create(&bucket).Error; err != nil {
		// Lost the insert race; retry the guarded update once.
		if isDuplicateErr(err) {
			retry := s.db.WithContext(ctx).Model(&rateLimitBucketModel{}).
				Where("key = ? AND action = ? AND window_start = ? AND count < ?", key, action, windowStart, limit).
				Updates(map[string]any{
					"count":      gorm.Expr("count + 1"),
					"updated_at": time.Now(),
				})
			if retry.Error != nil {
				return false, retry.Error
			}
			return retry.RowsAffected > 0, nil
		}
		return false, err
	}
	return true, nil
}

func (s *BucketGormStore) PruneBefore(ctx context.Context, horizon int64) error {
	return s.db.WithContext(ctx).
		Where("window_start < ?", horizon).
		Delete(&rateLimitBucketModel{}).Error
}

func isDuplicateErr(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key value")
}
