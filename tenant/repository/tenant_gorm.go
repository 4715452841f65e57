package repository

import (
	"context"
	"strings"
	"time"

	"github.com/flowdesk/msggate/tenant/domain"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// --- Persistence Model ---

type tenantModel struct {
	ID               string `gorm:"primaryKey"`
	Name             string `gorm:"index:idx_tenants_name;not null"`
	Plan             string `gorm:"default:'standard'"`
	Timezone         string
	MonthlyQuota     int `gorm:"default:0"`
	QuotaUsed        int `gorm:"default:0"`
	QuotaPeriodStart time.Time
	WebhookSecret    string
	PushPhoneID      string
	PushAccessToken  string
	PushEndpoint     string
	Enabled          bool      `gorm:"default:true"`
	CreatedAt        time.Time `gorm:"not null"`
	UpdatedAt        time.Time `gorm:"not null"`
}

func (tenantModel) TableName() string {
	return "tenants"
}

// --- Repository Implementation ---

type TenantGormRepository struct {
	db *gorm.DB
}

func NewTenantGormRepository(db *gorm.DB) *TenantGormRepository {
	return &TenantGormRepository{db: db}
}

func (r *TenantGormRepository) InitSchema(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&tenantModel{})
}

func (r *TenantGormRepository) Create(ctx context.Context, tenant *domain.Tenant) error {
	if tenant.ID == "" {
		tenant.ID = uuid.New().String()
	}
	now := time.Now()
	if tenant.CreatedAt.IsZero() {
		tenant.CreatedAt = now
	}
	if tenant.QuotaPeriodStart.IsZero() {
		tenant.QuotaPeriodStart = now
	}
	tenant.UpdatedAt = now

	model := toTenantModel(tenant)
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		if isDuplicateErr(err) {
			return domain.ErrDuplicateTenant
		}
		return err
	}
	return nil
}

func (r *TenantGormRepository) GetByID(ctx context.Context, tenantID string) (*domain.Tenant, error) {
	var m tenantModel
	if err := r.db.WithContext(ctx).First(&m, "id = ?", tenantID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, domain.ErrTenantNotFound
		}
		return nil, err
	}
	return fromTenantModel(m), nil
}

func (r *TenantGormRepository) Update(ctx context.Context, tenant *domain.Tenant) error {
	tenant.UpdatedAt = time.Now()
	model := toTenantModel(tenant)

	result := r.db.WithContext(ctx).Model(&tenantModel{ID: tenant.ID}).Select("*").Updates(&model)
	if result.Error != nil {
		if isDuplicateErr(result.Error) {
			return domain.ErrDuplicateTenant
		}
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrTenantNotFound
	}
	return nil
}

func (r *TenantGormRepository) List(ctx context.Context, asAdmin bool) ([]*domain.Tenant, error) {
	if !asAdmin {
		return nil, domain.ErrTenantNotFound
	}

	var models []tenantModel
	if err := r.db.WithContext(ctx).Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}

	tenants := make([]*domain.Tenant, 0, len(models))
	for _, m := range models {
		tenants = append(tenants, fromTenantModel(m))
	}
	return tenants, nil
}

// ConsumeQuota is a single guarded UPDATE so concurrent senders cannot push a
// tenant over its allowance. A monthly_quota of zero or less means unlimited;
// usage is still tracked.
func (r *TenantGormRepository) ConsumeQuota(ctx context.Context, tenantID string, n int) error {
	result := r.db.WithContext(ctx).Model(&tenantModel{}).
		Where("id = ? AND (monthly_quota <= 0 OR quota_used + ? <= monthly_quota)", tenantID, n).
		Updates(map[string]any{
			"quota_used": gorm.Expr("quota_used + ?", n),
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		// Distinguish missing tenant from exhausted quota.
		var count int64
		if err := r.db.WithContext(ctx).Model(&tenantModel{}).Where("id = ?", tenantID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return domain.ErrTenantNotFound
		}
		return domain.ErrQuotaExhausted
	}
	return nil
}

func (r *TenantGormRepository) ResetQuotaPeriod(ctx context.Context, tenantID string, periodStart time.Time) error {
	result := r.db.WithContext(ctx).Model(&tenantModel{}).
		Where("id = ?", tenantID).
		Updates(map[string]any{
			"quota_used":         0,
			"quota_period_start": periodStart,
			"updated_at":         time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrTenantNotFound
	}
	return nil
}

// --- Mappers ---

func toTenantModel(t *domain.Tenant) tenantModel {
	return tenantModel{
		ID:               t.ID,
		Name:             t.Name,
		Plan:             t.Plan,
		Timezone:         t.Timezone,
		MonthlyQuota:     t.MonthlyQuota,
		QuotaUsed:        t.QuotaUsed,
		QuotaPeriodStart: t.QuotaPeriodStart,
		WebhookSecret:    t.WebhookSecret,
		PushPhoneID:      t.PushPhoneID,
		PushAccessToken:  t.PushAccessToken,
		PushEndpoint:     t.PushEndpoint,
		Enabled:          t.Enabled,
		CreatedAt:        t.CreatedAt,
		UpdatedAt:        t.UpdatedAt,
	}
}

func fromTenantModel(m tenantModel) *domain.Tenant {
	return &domain.Tenant{
		ID:               m.ID,
		Name:             m.Name,
		Plan:             m.Plan,
		Timezone:         m.Timezone,
		MonthlyQuota:     m.MonthlyQuota,
		QuotaUsed:        m.QuotaUsed,
		QuotaPeriodStart: m.QuotaPeriodStart,
		WebhookSecret:    m.WebhookSecret,
		PushPhoneID:      m.PushPhoneID,
		PushAccessToken:  m.PushAccessToken,
		PushEndpoint:     m.PushEndpoint,
		Enabled:          m.Enabled,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
}

func isDuplicateErr(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key value")
}
