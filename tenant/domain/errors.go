package domain

import "errors"

var (
	ErrTenantNotFound  = errors.New("tenant not found")
	ErrTenantDisabled  = errors.New("tenant is disabled")
	ErrDuplicateTenant = errors.New("tenant already exists")
	ErrQuotaExhausted  = errors.New("tenant quota exhausted")
)
