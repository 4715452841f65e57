package domain

import (
	"errors"
	"time"
)

type SessionState string

const (
	StateInitializing  SessionState = "INITIALIZING"
	StateQRReady       SessionState = "QR_READY"
	StateAuthenticated SessionState = "AUTHENTICATED"
	StateReady         SessionState = "READY"
	StateDisconnected  SessionState = "DISCONNECTED"
)

// CanSend reports whether outbound traffic may flow through this state.
// Only READY sends; AUTHENTICATED is still syncing.
func (s SessionState) CanSend() bool {
	return s == StateReady
}

// validTransitions encodes the lifecycle. DISCONNECTED never jumps straight
// back to READY; it must re-run the connect sequence.
var validTransitions = map[SessionState][]SessionState{
	StateInitializing:  {StateQRReady, StateAuthenticated, StateDisconnected},
	StateQRReady:       {StateQRReady, StateAuthenticated, StateDisconnected},
	StateAuthenticated: {StateReady, StateDisconnected},
	StateReady:         {StateDisconnected},
	StateDisconnected:  {StateInitializing},
}

// CanTransition reports whether from -> to is a legal lifecycle step.
func CanTransition(from, to SessionState) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionNotReady = errors.New("session is not ready")
	ErrNoReadySession  = errors.New("tenant has no ready session")
)

// ChannelSession is one live connection slot for a tenant. A tenant may run
// several sessions; the dispatcher picks the most recently connected READY
// one.
type ChannelSession struct {
	ID            string       `json:"id"`
	TenantID      string       `json:"tenant_id"`
	State         SessionState `json:"state"`
	QRCode        string       `json:"qr_code,omitempty"`
	DeviceAddress string       `json:"device_address,omitempty"`
	LastError     string       `json:"last_error,omitempty"`
	ConnectedAt   *time.Time   `json:"connected_at,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}
