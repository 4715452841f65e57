package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/flowdesk/msggate/autoreply/domain"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// --- Persistence Model ---

type ruleModel struct {
	ID            string `gorm:"primaryKey"`
	TenantID      string `gorm:"index:idx_rules_tenant;not null"`
	Shortcuts     string `gorm:"type:text;default:'[]'"` // JSON
	MatchMode     string `gorm:"default:'any'"`
	CaseSensitive bool   `gorm:"default:false"`
	Conditions    string `gorm:"type:text;default:'[]'"` // JSON
	BusinessHours string `gorm:"type:text"`              // JSON, empty = always in scope
	ReplyText     string `gorm:"type:text"`
	Active        bool   `gorm:"index:idx_rules_active;default:true"`
	Priority      int    `gorm:"default:0"`
	UsageCount    int    `gorm:"default:0"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (ruleModel) TableName() string {
	return "auto_reply_rules"
}

// --- Repository Implementation ---

type RuleGormRepository struct {
	db *gorm.DB
}

func NewRuleGormRepository(db *gorm.DB) *RuleGormRepository {
	return &RuleGormRepository{db: db}
}

func (r *RuleGormRepository) InitSchema(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&ruleModel{})
}

func (r *RuleGormRepository) Create(ctx context.Context, rule *domain.Rule) error {
	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	now := time.Now()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	rule.UpdatedAt = now

	model, err := toRuleModel(rule)
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).Create(&model).Error
}

func (r *RuleGormRepository) GetByID(ctx context.Context, tenantID, ruleID string) (*domain.Rule, error) {
	var m ruleModel
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND id = ?", tenantID, ruleID).
		First(&m).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, domain.ErrRuleNotFound
		}
		return nil, err
	}
	return fromRuleModel(m)
}

func (r *RuleGormRepository) Update(ctx context.Context, rule *domain.Rule) error {
	rule.UpdatedAt = time.Now()
	model, err := toRuleModel(rule)
	if err != nil {
		return err
	}

	result := r.db.WithContext(ctx).Model(&ruleModel{}).
		Where("tenant_id = ? AND id = ?", rule.TenantID, rule.ID).
		Select("*").Updates(&model)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrRuleNotFound
	}
	return nil
}

func (r *RuleGormRepository) Delete(ctx context.Context, tenantID, ruleID string) error {
	result := r.db.WithContext(ctx).
		Where("tenant_id = ? AND id = ?", tenantID, ruleID).
		Delete(&ruleModel{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrRuleNotFound
	}
	return nil
}

func (r *RuleGormRepository) List(ctx context.Context, tenantID string) ([]*domain.Rule, error) {
	var models []ruleModel
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("priority DESC, created_at ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	return fromRuleModels(models)
}

func (r *RuleGormRepository) ListActive(ctx context.Context, tenantID string) ([]*domain.Rule, error) {
	var models []ruleModel
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND active = ?", tenantID, true).
		Order("priority DESC, usage_count DESC, id ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	return fromRuleModels(models)
}

func (r *RuleGormRepository) IncrementUsage(ctx context.Context, tenantID, ruleID string) error {
	return r.db.WithContext(ctx).Model(&ruleModel{}).
		Where("tenant_id = ? AND id = ?", tenantID, ruleID).
		Updates(map[string]any{
			"usage_count": gorm.Expr("usage_count + 1"),
			"updated_at":  time.Now(),
		}).Error
}

// --- Mappers ---

func toRuleModel(rule *domain.Rule) (ruleModel, error) {
	shortcuts, err := json.Marshal(rule.Shortcuts)
	if err != nil {
		return ruleModel{}, err
	}
	conditions, err := json.Marshal(rule.Conditions)
	if err != nil {
		return ruleModel{}, err
	}

	var hours string
	if rule.BusinessHours != nil {
		raw, err := json.Marshal(rule.BusinessHours)
		if err != nil {
			return ruleModel{}, err
		}
		hours = string(raw)
	}

	return ruleModel{
		ID:            rule.ID,
		TenantID:      rule.TenantID,
		Shortcuts:     string(shortcuts),
		MatchMode:     string(rule.MatchMode),
		CaseSensitive: rule.CaseSensitive,
		Conditions:    string(conditions),
		BusinessHours: hours,
		ReplyText:     rule.ReplyText,
		Active:        rule.Active,
		Priority:      rule.Priority,
		UsageCount:    rule.UsageCount,
		CreatedAt:     rule.CreatedAt,
		UpdatedAt:     rule.UpdatedAt,
	}, nil
}

func fromRuleModel(m ruleModel) (*domain.Rule, error) {
	rule := &domain.Rule{
		ID:            m.ID,
		TenantID:      m.TenantID,
		MatchMode:     domain.MatchMode(m.MatchMode),
		CaseSensitive: m.CaseSensitive,
		ReplyText:     m.ReplyText,
		Active:        m.Active,
		Priority:      m.Priority,
		UsageCount:    m.UsageCount,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}

	if m.Shortcuts != "" {
		if err := json.Unmarshal([]byte(m.Shortcuts), &rule.Shortcuts); err != nil {
			return nil, err
		}
	}
	if m.Conditions != "" {
		if err := json.Unmarshal([]byte(m.Conditions), &rule.Conditions); err != nil {
			return nil, err
		}
	}
	if m.BusinessHours != "" {
		var hours domain.BusinessHours
		if err := json.Unmarshal([]byte(m.BusinessHours), &hours); err != nil {
			return nil, err
		}
		rule.BusinessHours = &hours
	}
	return rule, nil
}

func fromRuleModels(models []ruleModel) ([]*domain.Rule, error) {
	rules := make([]*domain.Rule, 0, len(models))
	for _, m := range models {
		rule, err := fromRuleModel(m)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, nil
}
