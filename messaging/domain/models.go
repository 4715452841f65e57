package domain

import "time"

type Direction string

const (
	DirectionIncoming Direction = "incoming"
	DirectionOutgoing Direction = "outgoing"
)

type MessageStatus string

const (
	StatusPending   MessageStatus = "pending"
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
	StatusFailed    MessageStatus = "failed"
	StatusReceived  MessageStatus = "received"
)

type MessageType string

const (
	TypeText     MessageType = "text"
	TypeImage    MessageType = "image"
	TypeAudio    MessageType = "audio"
	TypeVideo    MessageType = "video"
	TypeDocument MessageType = "document"
	TypeUnknown  MessageType = "unknown"
)

// Contact is an end customer address, unique per (tenant, external address).
type Contact struct {
	ID              string    `json:"id"`
	TenantID        string    `json:"tenant_id"`
	ExternalAddress string    `json:"external_address"`
	DisplayName     string    `json:"display_name,omitempty"`
	Stage           string    `json:"stage,omitempty"`
	MessageCount    int       `json:"message_count"`
	UnreadCount     int       `json:"unread_count"`
	LastMessageAt   time.Time `json:"last_message_at"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Conversation groups a tenant's messages with one contact. Created lazily
// alongside the first message.
type Conversation struct {
	ID            string    `json:"id"`
	TenantID      string    `json:"tenant_id"`
	ContactID     string    `json:"contact_id"`
	IsActive      bool      `json:"is_active"`
	LastMessageAt time.Time `json:"last_message_at"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Message is immutable once persisted except for Status. ExternalMessageID
// is the dedupe key, unique within a tenant when present.
type Message struct {
	ID                string        `json:"id"`
	TenantID          string        `json:"tenant_id"`
	ContactID         string        `json:"contact_id"`
	ConversationID    string        `json:"conversation_id"`
	ExternalMessageID string        `json:"external_message_id,omitempty"`
	Direction         Direction     `json:"direction"`
	Type              MessageType   `json:"type"`
	Body              string        `json:"body,omitempty"`
	MediaRef          string        `json:"media_ref,omitempty"`
	Status            MessageStatus `json:"status"`
	AutoGenerated     bool          `json:"auto_generated,omitempty"`
	Timestamp         time.Time     `json:"timestamp"`
	CreatedAt         time.Time     `json:"created_at"`
}

// IsTextBearing reports whether the reply matcher should see this message.
func (m *Message) IsTextBearing() bool {
	return m.Body != ""
}

// InboundEvent is the canonical shape both intake paths (webhook, live
// session) normalize into before the pipeline runs.
type InboundEvent struct {
	TenantID          string
	ExternalAddress   string
	ExternalMessageID string
	DisplayName       string
	Type              MessageType
	Body              string
	MediaRef          string
	Timestamp         time.Time
}

// Empty reports whether the event carries neither text nor media; such
// events are dropped, not errors.
func (e InboundEvent) Empty() bool {
	return e.Body == "" && e.MediaRef == ""
}

// StatusEvent updates an outgoing message's delivery status by external id.
type StatusEvent struct {
	TenantID          string
	ExternalMessageID string
	Status            MessageStatus
	Timestamp         time.Time
}
