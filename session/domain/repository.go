package domain

import "context"

// ISessionRepository persists session slots so state survives restarts.
// In-memory state in the manager is authoritative while a session is running;
// the table is the record of existence and last known state.
type ISessionRepository interface {
	InitSchema(ctx context.Context) error
	Save(ctx context.Context, session *ChannelSession) error
	GetByID(ctx context.Context, tenantID, sessionID string) (*ChannelSession, error)
	ListByTenant(ctx context.Context, tenantID string) ([]*ChannelSession, error)
	Delete(ctx context.Context, tenantID, sessionID string) error
}
