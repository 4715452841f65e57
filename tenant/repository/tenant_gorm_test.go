package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/flowdesk/msggate/tenant/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestRepo(t *testing.T) *TenantGormRepository {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	repo := NewTenantGormRepository(db)
	require.NoError(t, repo.InitSchema(context.Background()))
	return repo
}

func TestTenantRepo_CreateAndGet(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	tenant := &domain.Tenant{Name: "Acme", MonthlyQuota: 1000, Enabled: true}
	require.NoError(t, repo.Create(ctx, tenant))
	assert.NotEmpty(t, tenant.ID, "Create assigns an ID when absent")
	assert.False(t, tenant.QuotaPeriodStart.IsZero(), "Create opens the first billing period")

	got, err := repo.GetByID(ctx, tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, "Acme", got.Name)
	assert.Equal(t, 1000, got.MonthlyQuota)
	assert.True(t, got.Enabled)
}

func TestTenantRepo_GetMissing(t *testing.T) {
	repo := newTestRepo(t)

	_, err := repo.GetByID(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrTenantNotFound)
}

func TestTenantRepo_DuplicateID(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, &domain.Tenant{ID: "fixed", Name: "One"}))
	err := repo.Create(ctx, &domain.Tenant{ID: "fixed", Name: "Two"})
	assert.ErrorIs(t, err, domain.ErrDuplicateTenant)
}

func TestTenantRepo_UpdateMissing(t *testing.T) {
	repo := newTestRepo(t)

	err := repo.Update(context.Background(), &domain.Tenant{ID: "nope", Name: "Ghost"})
	assert.ErrorIs(t, err, domain.ErrTenantNotFound)
}

func TestTenantRepo_ListRequiresAdmin(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, &domain.Tenant{Name: "Acme"}))
	require.NoError(t, repo.Create(ctx, &domain.Tenant{Name: "Globex"}))

	_, err := repo.List(ctx, false)
	assert.ErrorIs(t, err, domain.ErrTenantNotFound)

	tenants, err := repo.List(ctx, true)
	require.NoError(t, err)
	assert.Len(t, tenants, 2)
}

func TestTenantRepo_ConsumeQuotaGuarded(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	tenant := &domain.Tenant{Name: "Acme", MonthlyQuota: 3}
	require.NoError(t, repo.Create(ctx, tenant))

	for i := 0; i < 3; i++ {
		require.NoError(t, repo.ConsumeQuota(ctx, tenant.ID, 1))
	}

	err := repo.ConsumeQuota(ctx, tenant.ID, 1)
	assert.ErrorIs(t, err, domain.ErrQuotaExhausted)

	got, err := repo.GetByID(ctx, tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.QuotaUsed, "a rejected consume must not increment usage")
	assert.Zero(t, got.QuotaRemaining())
}

func TestTenantRepo_ConsumeQuotaUnlimited(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	tenant := &domain.Tenant{Name: "Acme", MonthlyQuota: 0}
	require.NoError(t, repo.Create(ctx, tenant))

	for i := 0; i < 5; i++ {
		require.NoError(t, repo.ConsumeQuota(ctx, tenant.ID, 1))
	}

	got, err := repo.GetByID(ctx, tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, got.QuotaUsed, "unlimited tenants still track usage")
}

func TestTenantRepo_ConsumeQuotaMissingTenant(t *testing.T) {
	repo := newTestRepo(t)

	err := repo.ConsumeQuota(context.Background(), "nope", 1)
	assert.ErrorIs(t, err, domain.ErrTenantNotFound)
}

func TestTenantRepo_ResetQuotaPeriod(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	tenant := &domain.Tenant{Name: "Acme", MonthlyQuota: 2}
	require.NoError(t, repo.Create(ctx, tenant))
	require.NoError(t, repo.ConsumeQuota(ctx, tenant.ID, 2))

	periodStart := time.Now().Truncate(time.Second)
	require.NoError(t, repo.ResetQuotaPeriod(ctx, tenant.ID, periodStart))

	got, err := repo.GetByID(ctx, tenant.ID)
	require.NoError(t, err)
	assert.Zero(t, got.QuotaUsed)
	assert.Equal(t, 2, got.QuotaRemaining())
	require.NoError(t, repo.ConsumeQuota(ctx, tenant.ID, 1), "a fresh period allows sending again")
}
