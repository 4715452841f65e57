package validations

import (
	"context"

	"github.com/flowdesk/msggate/pkg/apperror"
	validation "github.com/go-ozzo/ozzo-validation/v4"

	domainTenant "github.com/flowdesk/msggate/tenant/domain"
)

func ValidateTenant(ctx context.Context, tenant *domainTenant.Tenant) error {
	err := validation.ValidateStructWithContext(ctx, tenant,
		validation.Field(&tenant.Name, validation.Required, validation.Length(1, 128)),
		validation.Field(&tenant.MonthlyQuota, validation.Min(0)),
	)

	if err != nil {
		return apperror.ValidationError(err.Error())
	}

	return nil
}
