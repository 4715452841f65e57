package domain

import (
	"context"
	"time"
)

// ITenantRepository persists tenants. Listing across tenants is an admin
// operation and requires the explicit asAdmin flag; there is no implicit
// bypass.
type ITenantRepository interface {
	InitSchema(ctx context.Context) error
	Create(ctx context.Context, tenant *Tenant) error
	GetByID(ctx context.Context, tenantID string) (*Tenant, error)
	Update(ctx context.Context, tenant *Tenant) error
	List(ctx context.Context, asAdmin bool) ([]*Tenant, error)

	// ConsumeQuota atomically increments quota_used by n while the tenant is
	// still under its allowance. Returns ErrQuotaExhausted without
	// incrementing otherwise.
	ConsumeQuota(ctx context.Context, tenantID string, n int) error

	// ResetQuotaPeriod starts a fresh billing period with zero usage.
	ResetQuotaPeriod(ctx context.Context, tenantID string, periodStart time.Time) error
}
