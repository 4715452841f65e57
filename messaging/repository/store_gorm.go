package repository

import (
	"context"
	"time"

	"github.com/flowdesk/msggate/messaging/domain"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// --- Persistence Models ---

type contactModel struct {
	ID              string `gorm:"primaryKey"`
	TenantID        string `gorm:"uniqueIndex:idx_contacts_tenant_address;not null"`
	ExternalAddress string `gorm:"uniqueIndex:idx_contacts_tenant_address;not null"`
	DisplayName     string
	Stage           string `gorm:"default:'new'"`
	MessageCount    int    `gorm:"default:0"`
	UnreadCount     int    `gorm:"default:0"`
	LastMessageAt   time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (contactModel) TableName() string {
	return "contacts"
}

type conversationModel struct {
	ID            string `gorm:"primaryKey"`
	TenantID      string `gorm:"uniqueIndex:idx_conversations_tenant_contact;not null"`
	ContactID     string `gorm:"uniqueIndex:idx_conversations_tenant_contact;not null"`
	IsActive      bool   `gorm:"default:true"`
	LastMessageAt time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (conversationModel) TableName() string {
	return "conversations"
}

type messageModel struct {
	ID             string `gorm:"primaryKey"`
	TenantID       string `gorm:"index:idx_messages_tenant_conversation;uniqueIndex:idx_messages_tenant_external;not null"`
	ContactID      string `gorm:"index"`
	ConversationID string `gorm:"index:idx_messages_tenant_conversation"`
	// Nullable so messages without an external id (some live-session media
	// events) do not collide on the unique index.
	ExternalMessageID *string `gorm:"uniqueIndex:idx_messages_tenant_external"`
	Direction         string  `gorm:"not null"`
	Type              string  `gorm:"default:'text'"`
	Body              string  `gorm:"type:text"`
	MediaRef          string
	Status            string `gorm:"default:'received'"`
	AutoGenerated     bool   `gorm:"default:false"`
	Timestamp         time.Time
	CreatedAt         time.Time
}

func (messageModel) TableName() string {
	return "messages"
}

// --- Repository Implementation ---

type MessageStoreGorm struct {
	db *gorm.DB
}

func NewMessageStoreGorm(db *gorm.DB) *MessageStoreGorm {
	return &MessageStoreGorm{db: db}
}

func (r *MessageStoreGorm) InitSchema(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(
		&contactModel{},
		&conversationModel{},
		&messageModel{},
	)
}

func (r *MessageStoreGorm) UpsertContact(ctx context.Context, tenantID, externalAddress, displayName string) (*domain.Contact, error) {
	existing, err := r.GetContactByAddress(ctx, tenantID, externalAddress)
	if err == nil {
		return existing, nil
	}
	if err != domain.ErrContactNotFound {
		return nil, err
	}

	now := time.Now()
	model := contactModel{
		ID:              uuid.New().String(),
		TenantID:        tenantID,
		ExternalAddress: externalAddress,
		DisplayName:     displayName,
		Stage:           "new",
		LastMessageAt:   now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	err = r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&model).Error
	if err != nil {
		return nil, err
	}

	// A concurrent insert may have won the conflict; the refetch is
	// authoritative either way.
	return r.GetContactByAddress(ctx, tenantID, externalAddress)
}

func (r *MessageStoreGorm) GetContactByAddress(ctx context.Context, tenantID, externalAddress string) (*domain.Contact, error) {
	var m contactModel
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND external_address = ?", tenantID, externalAddress).
		First(&m).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, domain.ErrContactNotFound
		}
		return nil, err
	}
	return fromContactModel(m), nil
}

func (r *MessageStoreGorm) ListContacts(ctx context.Context, tenantID string, limit int) ([]*domain.Contact, error) {
	if limit <= 0 {
		limit = 100
	}
	var models []contactModel
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("last_message_at DESC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}

	contacts := make([]*domain.Contact, 0, len(models))
	for _, m := range models {
		contacts = append(contacts, fromContactModel(m))
	}
	return contacts, nil
}

func (r *MessageStoreGorm) TouchContact(ctx context.Context, tenantID, contactID string, at time.Time, incrementUnread bool) error {
	updates := map[string]any{
		"message_count":   gorm.Expr("message_count + 1"),
		"last_message_at": at,
		"updated_at":      time.Now(),
	}
	if incrementUnread {
		updates["unread_count"] = gorm.Expr("unread_count + 1")
	}

	return r.db.WithContext(ctx).Model(&contactModel{}).
		Where("tenant_id = ? AND id = ?", tenantID, contactID).
		Updates(updates).Error
}

func (r *MessageStoreGorm) UpsertConversation(ctx context.Context, tenantID, contactID string, at time.Time) (*domain.Conversation, error) {
	now := time.Now()
	model := conversationModel{
		ID:            uuid.New().String(),
		TenantID:      tenantID,
		ContactID:     contactID,
		IsActive:      true,
		LastMessageAt: at,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&model).Error
	if err != nil {
		return nil, err
	}

	var m conversationModel
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND contact_id = ?", tenantID, contactID).
		First(&m).Error; err != nil {
		return nil, err
	}

	if m.LastMessageAt.Before(at) {
		if err := r.db.WithContext(ctx).Model(&conversationModel{}).
			Where("id = ?", m.ID).
			Updates(map[string]any{
				"last_message_at": at,
				"is_active":       true,
				"updated_at":      now,
			}).Error; err != nil {
			return nil, err
		}
		m.LastMessageAt = at
		m.IsActive = true
	}
	return fromConversationModel(m), nil
}

func (r *MessageStoreGorm) InsertIncoming(ctx context.Context, tenantID string, msg *domain.Message) (*domain.Message, bool, error) {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	msg.TenantID = tenantID
	msg.Direction = domain.DirectionIncoming
	if msg.Status == "" {
		msg.Status = domain.StatusReceived
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}

	model := toMessageModel(msg)
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&model)
	if result.Error != nil {
		return nil, false, result.Error
	}
	if result.RowsAffected > 0 {
		return msg, true, nil
	}

	// Conflict on (tenant, external id): another writer persisted it first.
	var existing messageModel
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND external_message_id = ?", tenantID, msg.ExternalMessageID).
		First(&existing).Error; err != nil {
		return nil, false, err
	}
	return fromMessageModel(existing), false, nil
}

func (r *MessageStoreGorm) FindRecentByContent(ctx context.Context, tenantID, contactID, body string, direction domain.Direction, since time.Time) (*domain.Message, error) {
	var m messageModel
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND contact_id = ? AND body = ? AND direction = ? AND created_at >= ?",
			tenantID, contactID, body, string(direction), since).
		Order("created_at DESC").
		First(&m).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, domain.ErrMessageNotFound
		}
		return nil, err
	}
	return fromMessageModel(m), nil
}

func (r *MessageStoreGorm) InsertOutgoing(ctx context.Context, tenantID string, msg *domain.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	msg.TenantID = tenantID
	msg.Direction = domain.DirectionOutgoing
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}

	model := toMessageModel(msg)
	return r.db.WithContext(ctx).Create(&model).Error
}

func (r *MessageStoreGorm) UpdateStatusByExternalID(ctx context.Context, tenantID, externalMessageID string, status domain.MessageStatus) error {
	return r.db.WithContext(ctx).Model(&messageModel{}).
		Where("tenant_id = ? AND external_message_id = ? AND direction = ?",
			tenantID, externalMessageID, string(domain.DirectionOutgoing)).
		Update("status", string(status)).Error
}

func (r *MessageStoreGorm) ListMessages(ctx context.Context, tenantID, conversationID string, limit int) ([]*domain.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	var models []messageModel
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND conversation_id = ?", tenantID, conversationID).
		Order("timestamp DESC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}

	messages := make([]*domain.Message, 0, len(models))
	for _, m := range models {
		messages = append(messages, fromMessageModel(m))
	}
	return messages, nil
}

// --- Mappers ---

func fromContactModel(m contactModel) *domain.Contact {
	return &domain.Contact{
		ID:              m.ID,
		TenantID:        m.TenantID,
		ExternalAddress: m.ExternalAddress,
		DisplayName:     m.DisplayName,
		Stage:           m.Stage,
		MessageCount:    m.MessageCount,
		UnreadCount:     m.UnreadCount,
		LastMessageAt:   m.LastMessageAt,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
}

func fromConversationModel(m conversationModel) *domain.Conversation {
	return &domain.Conversation{
		ID:            m.ID,
		TenantID:      m.TenantID,
		ContactID:     m.ContactID,
		IsActive:      m.IsActive,
		LastMessageAt: m.LastMessageAt,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

func toMessageModel(msg *domain.Message) messageModel {
	model := messageModel{
		ID:             msg.ID,
		TenantID:       msg.TenantID,
		ContactID:      msg.ContactID,
		ConversationID: msg.ConversationID,
		Direction:      string(msg.Direction),
		Type:           string(msg.Type),
		Body:           msg.Body,
		MediaRef:       msg.MediaRef,
		Status:         string(msg.Status),
		AutoGenerated:  msg.AutoGenerated,
		Timestamp:      msg.Timestamp,
		CreatedAt:      msg.CreatedAt,
	}
	if msg.ExternalMessageID != "" {
		id := msg.ExternalMessageID
		model.ExternalMessageID = &id
	}
	return model
}

func fromMessageModel(m messageModel) *domain.Message {
	msg := &domain.Message{
		ID:             m.ID,
		TenantID:       m.TenantID,
		ContactID:      m.ContactID,
		ConversationID: m.ConversationID,
		Direction:      domain.Direction(m.Direction),
		Type:           domain.MessageType(m.Type),
		Body:           m.Body,
		MediaRef:       m.MediaRef,
		Status:         domain.MessageStatus(m.Status),
		AutoGenerated:  m.AutoGenerated,
		Timestamp:      m.Timestamp,
		CreatedAt:      m.CreatedAt,
	}
	if m.ExternalMessageID != nil {
		msg.ExternalMessageID = *m.ExternalMessageID
	}
	return msg
}
