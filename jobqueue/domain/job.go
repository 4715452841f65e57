package domain

import "time"

type Status string

const (
	StatusPending   Status = "pending"
	StatusReserved  Status = "reserved"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether a job can never run again.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Job is one unit of asynchronous work with at-least-once delivery. At most
// one non-terminal job exists per (Type, ReferenceID).
type Job struct {
	ID          uint64    `json:"id"`
	TenantID    string    `json:"tenant_id"`
	Type        string    `json:"type"`
	ReferenceID string    `json:"reference_id"`
	Payload     string    `json:"payload"` // JSON
	Status      Status    `json:"status"`
	Attempts    int       `json:"attempts"`
	AvailableAt time.Time `json:"available_at"`
	LastError   string    `json:"last_error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
