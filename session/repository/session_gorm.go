package repository

import (
	"context"
	"time"

	"github.com/flowdesk/msggate/session/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// --- Persistence Model ---

type sessionModel struct {
	ID            string `gorm:"primaryKey"`
	TenantID      string `gorm:"index:idx_sessions_tenant;not null"`
	State         string `gorm:"default:'DISCONNECTED'"`
	DeviceAddress string
	LastError     string
	ConnectedAt   *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (sessionModel) TableName() string {
	return "channel_sessions"
}

// --- Repository Implementation ---

type SessionGormRepository struct {
	db *gorm.DB
}

func NewSessionGormRepository(db *gorm.DB) *SessionGormRepository {
	return &SessionGormRepository{db: db}
}

func (r *SessionGormRepository) InitSchema(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&sessionModel{})
}

// Save upserts by primary key. QR codes are ephemeral and never persisted.
func (r *SessionGormRepository) Save(ctx context.Context, session *domain.ChannelSession) error {
	session.UpdatedAt = time.Now()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = session.UpdatedAt
	}

	model := toSessionModel(session)
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"state", "device_address", "last_error", "connected_at", "updated_at",
			}),
		}).
		Create(&model).Error
}

func (r *SessionGormRepository) GetByID(ctx context.Context, tenantID, sessionID string) (*domain.ChannelSession, error) {
	var m sessionModel
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND id = ?", tenantID, sessionID).
		First(&m).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, domain.ErrSessionNotFound
		}
		return nil, err
	}
	return fromSessionModel(m), nil
}

func (r *SessionGormRepository) ListByTenant(ctx context.Context, tenantID string) ([]*domain.ChannelSession, error) {
	var models []sessionModel
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("created_at ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}

	sessions := make([]*domain.ChannelSession, 0, len(models))
	for _, m := range models {
		sessions = append(sessions, fromSessionModel(m))
	}
	return sessions, nil
}

func (r *SessionGormRepository) Delete(ctx context.Context, tenantID, sessionID string) error {
	result := r.db.WithContext(ctx).
		Where("tenant_id = ? AND id = ?", tenantID, sessionID).
		Delete(&sessionModel{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}

// --- Mappers ---

func toSessionModel(s *domain.ChannelSession) sessionModel {
	return sessionModel{
		ID:            s.ID,
		TenantID:      s.TenantID,
		State:         string(s.State),
		DeviceAddress: s.DeviceAddress,
		LastError:     s.LastError,
		ConnectedAt:   s.ConnectedAt,
		CreatedAt:     s.CreatedAt,
		UpdatedAt:     s.UpdatedAt,
	}
}

func fromSessionModel(m sessionModel) *domain.ChannelSession {
	return &domain.ChannelSession{
		ID:            m.ID,
		TenantID:      m.TenantID,
		State:         domain.SessionState(m.State),
		DeviceAddress: m.DeviceAddress,
		LastError:     m.LastError,
		ConnectedAt:   m.ConnectedAt,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}
