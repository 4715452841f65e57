package domain

import "time"

// Tenant is the isolation boundary. Every record the gateway persists is
// tagged with a tenant ID and every repository method takes the tenant ID as
// its first argument; there is no ambient "current tenant".
type Tenant struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Plan     string `json:"plan"`
	Timezone string `json:"timezone,omitempty"`

	// Billing-period message allowance.
	MonthlyQuota     int       `json:"monthly_quota"`
	QuotaUsed        int       `json:"quota_used"`
	QuotaPeriodStart time.Time `json:"quota_period_start"`

	// Webhook intake verification.
	WebhookSecret string `json:"webhook_secret,omitempty"`

	// Push API credentials. When set, outbound sends prefer the push API
	// over live sessions.
	PushPhoneID     string `json:"push_phone_id,omitempty"`
	PushAccessToken string `json:"push_access_token,omitempty"`
	PushEndpoint    string `json:"push_endpoint,omitempty"`

	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasPushAPI reports whether the tenant has a usable push-API credential.
func (t *Tenant) HasPushAPI() bool {
	return t.PushPhoneID != "" && t.PushAccessToken != ""
}

// QuotaRemaining returns the messages left in the current billing period.
func (t *Tenant) QuotaRemaining() int {
	remaining := t.MonthlyQuota - t.QuotaUsed
	if remaining < 0 {
		return 0
	}
	return remaining
}

// PeriodExpired reports whether the billing period containing now has rolled
// past QuotaPeriodStart.
func (t *Tenant) PeriodExpired(now time.Time) bool {
	if t.QuotaPeriodStart.IsZero() {
		return true
	}
	return now.Sub(t.QuotaPeriodStart) >= 30*24*time.Hour
}
