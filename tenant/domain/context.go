package domain

// TenantContext is the resolved bundle every pipeline/dispatcher call works
// against. It is always obtained through the resolver (lookup-or-fail); code
// holding a TenantContext has proven the tenant exists and is enabled.
type TenantContext struct {
	Tenant *Tenant `json:"tenant"`

	QuotaRemaining int  `json:"quota_remaining"`
	HasPushAPI     bool `json:"has_push_api"`
}
