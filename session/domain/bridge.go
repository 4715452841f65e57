package domain

import (
	"context"
	"time"
)

type BridgeEventType string

const (
	EventQR            BridgeEventType = "qr"
	EventAuthenticated BridgeEventType = "authenticated"
	EventReady         BridgeEventType = "ready"
	EventDisconnected  BridgeEventType = "disconnected"
	EventLoggedOut     BridgeEventType = "logged_out"
	EventMessage       BridgeEventType = "message"
)

// IncomingMessage is a message received over the live connection, before the
// inbound pipeline normalizes it.
type IncomingMessage struct {
	Sender      string
	PushName    string
	MessageID   string
	Text        string
	MediaRef    string
	MessageType string
	Timestamp   time.Time
}

// BridgeEvent is one lifecycle or traffic event emitted by a bridge.
type BridgeEvent struct {
	Type    BridgeEventType
	QRCode  string
	Reason  string
	Message *IncomingMessage
}

// Bridge is the capability surface the session manager needs from a concrete
// protocol client. The manager never touches the client directly; everything
// flows through this interface so tests can substitute a fake.
type Bridge interface {
	// Connect starts the connection attempt. Lifecycle progress arrives via
	// Events, not the return value.
	Connect(ctx context.Context) error

	// Disconnect tears the connection down without clearing credentials.
	Disconnect()

	// Logout clears stored credentials so the next Connect pairs fresh.
	Logout(ctx context.Context) error

	// SendText sends a text message and returns the provider message id.
	SendText(ctx context.Context, to, body string) (string, error)

	// Events yields lifecycle and message events. Closed when the bridge
	// shuts down for good.
	Events() <-chan BridgeEvent

	// Address returns the authenticated device address, empty before login.
	Address() string
}

// BridgeFactory builds a bridge for one session slot.
type BridgeFactory func(tenantID, sessionID string) (Bridge, error)

// InboundHandler receives live messages from the manager. Wired to the
// inbound pipeline at startup.
type InboundHandler func(ctx context.Context, tenantID, sessionID string, msg IncomingMessage)
