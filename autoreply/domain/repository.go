package domain

import (
	"context"
	"errors"
)

var ErrRuleNotFound = errors.New("auto reply rule not found")

type IRuleRepository interface {
	InitSchema(ctx context.Context) error
	Create(ctx context.Context, rule *Rule) error
	GetByID(ctx context.Context, tenantID, ruleID string) (*Rule, error)
	Update(ctx context.Context, rule *Rule) error
	Delete(ctx context.Context, tenantID, ruleID string) error
	List(ctx context.Context, tenantID string) ([]*Rule, error)

	// ListActive returns active rules ordered by priority DESC then
	// usage_count DESC; this is the matcher's candidate order.
	ListActive(ctx context.Context, tenantID string) ([]*Rule, error)

	IncrementUsage(ctx context.Context, tenantID, ruleID string) error
}
