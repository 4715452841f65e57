package domain

import "time"

type MatchMode string

const (
	MatchAny   MatchMode = "any"
	MatchAll   MatchMode = "all"
	MatchExact MatchMode = "exact"
	MatchRegex MatchMode = "regex"
)

// Operator is a closed set; EvaluateCondition switches over it exhaustively
// so a new operator is a compile-visible change, not a silent string miss.
type Operator string

const (
	OpEquals      Operator = "equals"
	OpNotEquals   Operator = "not_equals"
	OpContains    Operator = "contains"
	OpGreaterThan Operator = "greater_than"
	OpLessThan    Operator = "less_than"
)

// Valid reports whether op is a member of the closed operator set.
func (op Operator) Valid() bool {
	switch op {
	case OpEquals, OpNotEquals, OpContains, OpGreaterThan, OpLessThan:
		return true
	}
	return false
}

// Condition is a field/operator/value triple evaluated against the sending
// contact, e.g. {Field: "stage", Op: OpEquals, Value: "customer"}.
type Condition struct {
	Field string   `json:"field"`
	Op    Operator `json:"op"`
	Value string   `json:"value"`
}

// BusinessHours restricts a rule to a daily window in a given timezone.
// Windows may wrap midnight (Start 22:00, End 06:00).
type BusinessHours struct {
	Start    string `json:"start"` // HH:MM
	End      string `json:"end"`   // HH:MM
	Timezone string `json:"timezone,omitempty"`
}

// Rule is a configured auto reply: shortcuts matched against inbound text,
// gated by conditions and business hours.
type Rule struct {
	ID            string         `json:"id"`
	TenantID      string         `json:"tenant_id"`
	Shortcuts     []string       `json:"shortcuts"`
	MatchMode     MatchMode      `json:"match_mode"`
	CaseSensitive bool           `json:"case_sensitive"`
	Conditions    []Condition    `json:"conditions,omitempty"`
	BusinessHours *BusinessHours `json:"business_hours,omitempty"`
	ReplyText     string         `json:"reply_text"`
	Active        bool           `json:"active"`
	Priority      int            `json:"priority"`
	UsageCount    int            `json:"usage_count"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// ContactFacts is the slice of contact state conditions evaluate against.
type ContactFacts struct {
	DisplayName  string
	Stage        string
	MessageCount int
}
