package repository

import (
	"context"
	"time"

	"github.com/flowdesk/msggate/jobqueue/domain"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// --- Persistence Model ---

type jobModel struct {
	ID            uint64 `gorm:"primaryKey;autoIncrement"`
	TenantID      string `gorm:"index:idx_jobs_tenant;not null"`
	Type          string `gorm:"index:idx_jobs_type_ref,priority:1;not null"`
	ReferenceID   string `gorm:"index:idx_jobs_type_ref,priority:2;not null"`
	Payload       string `gorm:"type:text"`
	Status        string `gorm:"index:idx_jobs_status;not null;default:'pending'"`
	Attempts      int    `gorm:"not null;default:0"`
	AvailableAt   time.Time
	ReservedToken string `gorm:"index:idx_jobs_reserved_token"`
	ReservedAt    *time.Time
	LastError     string `gorm:"type:text"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (jobModel) TableName() string {
	return "queue_jobs"
}

// --- Repository Implementation ---

type QueueGormRepository struct {
	db *gorm.DB
}

func NewQueueGormRepository(db *gorm.DB) *QueueGormRepository {
	return &QueueGormRepository{db: db}
}

func (r *QueueGormRepository) InitSchema(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&jobModel{})
}

// Enqueue is duplicate-safe: inside one transaction it checks for an existing
// non-terminal job with the same (type, reference_id) and inserts only when
// none exists. The surrounding transaction makes racing enqueuers serialize.
func (r *QueueGormRepository) Enqueue(ctx context.Context, job *domain.Job) (bool, error) {
	inserted := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&jobModel{}).
			Where("type = ? AND reference_id = ? AND status IN ?",
				job.Type, job.ReferenceID, []string{string(domain.StatusPending), string(domain.StatusReserved)}).
			Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return nil
		}

		now := time.Now()
		availableAt := job.AvailableAt
		if availableAt.IsZero() {
			availableAt = now
		}

		model := jobModel{
			TenantID:    job.TenantID,
			Type:        job.Type,
			ReferenceID: job.ReferenceID,
			Payload:     job.Payload,
			Status:      string(domain.StatusPending),
			AvailableAt: availableAt,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := tx.Create(&model).Error; err != nil {
			return err
		}
		job.ID = model.ID
		job.Status = domain.StatusPending
		job.AvailableAt = availableAt
		inserted = true
		return nil
	})
	return inserted, err
}

// ReserveBatch claims jobs with a token-tagged compare-and-set UPDATE. The
// status guard in the outer WHERE means a job can be won by exactly one
// caller; losers simply match zero rows. Claimed rows are then fetched by
// token.
func (r *QueueGormRepository) ReserveBatch(ctx context.Context, limit int) ([]*domain.Job, error) {
	if limit <= 0 {
		return nil, nil
	}

	token := uuid.New().String()
	now := time.Now()

	result := r.db.WithContext(ctx).Model(&jobModel{}).
		Where("status = ? AND id IN (?)", string(domain.StatusPending),
			r.db.Model(&jobModel{}).Select("id").
				Where("status = ? AND available_at <= ?", string(domain.StatusPending), now).
				Order("id ASC").Limit(limit),
		).
		Updates(map[string]any{
			"status":         string(domain.StatusReserved),
			"reserved_token": token,
			"reserved_at":    now,
			"updated_at":     now,
		})
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}

	var models []jobModel
	if err := r.db.WithContext(ctx).
		Where("reserved_token = ? AND status = ?", token, string(domain.StatusReserved)).
		Order("id ASC").Find(&models).Error; err != nil {
		return nil, err
	}

	jobs := make([]*domain.Job, 0, len(models))
	for _, m := range models {
		jobs = append(jobs, fromJobModel(m))
	}
	return jobs, nil
}

func (r *QueueGormRepository) MarkSucceeded(ctx context.Context, id uint64) error {
	return r.db.WithContext(ctx).Model(&jobModel{}).
		Where("id = ? AND status = ?", id, string(domain.StatusReserved)).
		Updates(map[string]any{
			"status":         string(domain.StatusCompleted),
			"reserved_token": "",
			"updated_at":     time.Now(),
		}).Error
}

func (r *QueueGormRepository) MarkFailed(ctx context.Context, id uint64, jobErr string, maxAttempts int, backoff time.Duration) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var m jobModel
		if err := tx.First(&m, "id = ?", id).Error; err != nil {
			return err
		}

		now := time.Now()
		m.Attempts++
		m.LastError = jobErr
		m.ReservedToken = ""
		m.UpdatedAt = now

		if m.Attempts >= maxAttempts {
			m.Status = string(domain.StatusFailed)
		} else {
			m.Status = string(domain.StatusPending)
			m.AvailableAt = now.Add(backoff)
		}

		return tx.Model(&jobModel{ID: m.ID}).Select("*").Updates(&m).Error
	})
}

func (r *QueueGormRepository) ReleaseStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	horizon := time.Now().Add(-olderThan)
	result := r.db.WithContext(ctx).Model(&jobModel{}).
		Where("status = ? AND reserved_at < ?", string(domain.StatusReserved), horizon).
		Updates(map[string]any{
			"status":         string(domain.StatusPending),
			"reserved_token": "",
			"updated_at":     time.Now(),
		})
	return result.RowsAffected, result.Error
}

func (r *QueueGormRepository) CountByStatus(ctx context.Context) (map[domain.Status]int64, error) {
	type row struct {
		Status string
		Total  int64
	}
	var rows []row
	if err := r.db.WithContext(ctx).Model(&jobModel{}).
		Select("status, COUNT(*) as total").
		Group("status").Scan(&rows).Error; err != nil {
		return nil, err
	}

	counts := make(map[domain.Status]int64, len(rows))
	for _, rw := range rows {
		counts[domain.Status(rw.Status)] = rw.Total
	}
	return counts, nil
}

func (r *QueueGormRepository) ListFailed(ctx context.Context, limit int) ([]*domain.Job, error) {
	if limit <= 0 {
		limit = 50
	}
	var models []jobModel
	if err := r.db.WithContext(ctx).
		Where("status = ?", string(domain.StatusFailed)).
		Order("updated_at DESC").Limit(limit).Find(&models).Error; err != nil {
		return nil, err
	}

	jobs := make([]*domain.Job, 0, len(models))
	for _, m := range models {
		jobs = append(jobs, fromJobModel(m))
	}
	return jobs, nil
}

// --- Mappers ---

func fromJobModel(m jobModel) *domain.Job {
	return &domain.Job{
		ID:          m.ID,
		TenantID:    m.TenantID,
		Type:        m.Type,
		ReferenceID: m.ReferenceID,
		Payload:     m.Payload,
		Status:      domain.Status(m.Status),
		Attempts:    m.Attempts,
		AvailableAt: m.AvailableAt,
		LastError:   m.LastError,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}
