package application

import (
	"context"
	"time"

	"github.com/flowdesk/msggate/tenant/domain"
	"github.com/sirupsen/logrus"
)

// Resolver is the lookup-or-fail entry point for tenant identity. Everything
// downstream of the inbound pipeline and the dispatcher works from the
// TenantContext it returns.
type Resolver struct {
	repo domain.ITenantRepository
}

func NewResolver(repo domain.ITenantRepository) *Resolver {
	return &Resolver{repo: repo}
}

// Resolve fetches the tenant and returns its resolved context. A missing or
// disabled tenant is an error; callers never proceed without one.
func (r *Resolver) Resolve(ctx context.Context, tenantID string) (*domain.TenantContext, error) {
	tenant, err := r.repo.GetByID(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if !tenant.Enabled {
		return nil, domain.ErrTenantDisabled
	}

	// Lazy billing-period rollover. The CRUD layer owns billing; the gateway
	// only needs usage to reset when a period has lapsed.
	if tenant.PeriodExpired(time.Now()) {
		periodStart := time.Now()
		if err := r.repo.ResetQuotaPeriod(ctx, tenant.ID, periodStart); err != nil {
			logrus.WithError(err).WithField("tenant_id", tenant.ID).
				Warn("[TENANT] Failed to roll quota period")
		} else {
			tenant.QuotaUsed = 0
			tenant.QuotaPeriodStart = periodStart
		}
	}

	return &domain.TenantContext{
		Tenant:         tenant,
		QuotaRemaining: tenant.QuotaRemaining(),
		HasPushAPI:     tenant.HasPushAPI(),
	}, nil
}

// ConsumeQuota charges n messages against the tenant's allowance.
func (r *Resolver) ConsumeQuota(ctx context.Context, tenantID string, n int) error {
	return r.repo.ConsumeQuota(ctx, tenantID, n)
}
