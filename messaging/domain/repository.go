package domain

import (
	"context"
	"errors"
	"time"
)

var (
	ErrContactNotFound      = errors.New("contact not found")
	ErrConversationNotFound = errors.New("conversation not found")
	ErrMessageNotFound      = errors.New("message not found")
)

// IMessageStore persists contacts, conversations and messages. Every method
// takes the tenant ID first; there is no way to build an unscoped query.
type IMessageStore interface {
	InitSchema(ctx context.Context) error

	// UpsertContact finds or creates the contact for the external address.
	// The display name is only applied on create (best effort).
	UpsertContact(ctx context.Context, tenantID, externalAddress, displayName string) (*Contact, error)
	GetContactByAddress(ctx context.Context, tenantID, externalAddress string) (*Contact, error)
	ListContacts(ctx context.Context, tenantID string, limit int) ([]*Contact, error)

	// TouchContact bumps last_message_at/message_count and optionally the
	// unread counter after an incoming message.
	TouchContact(ctx context.Context, tenantID, contactID string, at time.Time, incrementUnread bool) error

	UpsertConversation(ctx context.Context, tenantID, contactID string, at time.Time) (*Conversation, error)

	// InsertIncoming persists an incoming message with at-most-once
	// semantics on (tenantID, ExternalMessageID): when another writer got
	// there first the existing row is returned with created == false.
	InsertIncoming(ctx context.Context, tenantID string, msg *Message) (persisted *Message, created bool, err error)

	// FindRecentByContent is the dedupe fallback for messages without an
	// external id.
	FindRecentByContent(ctx context.Context, tenantID, contactID, body string, direction Direction, since time.Time) (*Message, error)

	InsertOutgoing(ctx context.Context, tenantID string, msg *Message) error

	// UpdateStatusByExternalID applies a delivery receipt. Missing messages
	// are not an error (receipts may outlive retention).
	UpdateStatusByExternalID(ctx context.Context, tenantID, externalMessageID string, status MessageStatus) error

	ListMessages(ctx context.Context, tenantID, conversationID string, limit int) ([]*Message, error)
}
