package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/flowdesk/msggate/pkg/apperror"
	"github.com/flowdesk/msggate/session/domain"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Notification is a lifecycle change fanned out to subscribers (websocket
// hub, tests).
type Notification struct {
	TenantID  string              `json:"tenant_id"`
	SessionID string              `json:"session_id"`
	State     domain.SessionState `json:"state"`
	QRCode    string              `json:"qr_code,omitempty"`
	Reason    string              `json:"reason,omitempty"`
}

// runningSession pairs a session record with its live bridge. The actor
// goroutine is the only writer of the session record; everyone else reads
// snapshots under stateMu.
type runningSession struct {
	stateMu sync.RWMutex
	session *domain.ChannelSession

	bridge domain.Bridge
	cancel context.CancelFunc
	done   chan struct{}
}

func (rs *runningSession) snapshot() *domain.ChannelSession {
	rs.stateMu.RLock()
	defer rs.stateMu.RUnlock()
	copied := *rs.session
	return &copied
}

// Manager supervises all live sessions in the process. Start is idempotent;
// state transitions are validated against the lifecycle and everything else
// observes sessions through snapshots or notifications.
type Manager struct {
	repo         domain.ISessionRepository
	factory      domain.BridgeFactory
	readyTimeout time.Duration

	inboundMu sync.RWMutex
	inbound   domain.InboundHandler

	mu      sync.RWMutex
	running map[string]*runningSession

	subMu       sync.RWMutex
	subscribers map[chan Notification]struct{}
}

func NewManager(repo domain.ISessionRepository, factory domain.BridgeFactory, readyTimeout time.Duration) *Manager {
	if readyTimeout <= 0 {
		readyTimeout = 3 * time.Minute
	}
	return &Manager{
		repo:         repo,
		factory:      factory,
		readyTimeout: readyTimeout,
		running:      make(map[string]*runningSession),
		subscribers:  make(map[chan Notification]struct{}),
	}
}

// SetInboundHandler wires live messages into the inbound pipeline. Set once
// at startup, before any session starts.
func (m *Manager) SetInboundHandler(h domain.InboundHandler) {
	m.inboundMu.Lock()
	defer m.inboundMu.Unlock()
	m.inbound = h
}

func sessionKey(tenantID, sessionID string) string {
	return tenantID + "|" + sessionID
}

// Start brings a session up. Calling Start on a session that is already
// running returns its current state without side effects.
func (m *Manager) Start(ctx context.Context, tenantID, sessionID string) (*domain.ChannelSession, error) {
	if sessionID == "" {
		sessionID = uuid.New().String()
	}
	key := sessionKey(tenantID, sessionID)

	m.mu.Lock()
	for {
		rs, ok := m.running[key]
		if !ok {
			break
		}
		snap := rs.snapshot()
		if snap.State != domain.StateDisconnected {
			m.mu.Unlock()
			return snap, nil
		}
		// Dead entry; clear it and start fresh. stopRunning releases the
		// lock, so loop back: a concurrent Start may have registered a new
		// entry in the window.
		delete(m.running, key)
		m.mu.Unlock()
		m.stopRunning(rs)
		m.mu.Lock()
	}

	session, err := m.repo.GetByID(ctx, tenantID, sessionID)
	if err == domain.ErrSessionNotFound {
		session = &domain.ChannelSession{
			ID:       sessionID,
			TenantID: tenantID,
		}
		err = nil
	}
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}

	session.State = domain.StateInitializing
	session.QRCode = ""
	session.LastError = ""

	bridge, err := m.factory(tenantID, sessionID)
	if err != nil {
		m.mu.Unlock()
		return nil, fmt.Errorf("create bridge: %w", err)
	}

	actorCtx, cancel := context.WithCancel(context.Background())
	rs := &runningSession{
		session: session,
		bridge:  bridge,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	m.running[key] = rs
	m.mu.Unlock()

	m.persist(session)
	m.broadcast(Notification{
		TenantID:  tenantID,
		SessionID: sessionID,
		State:     session.State,
	})

	go m.runActor(actorCtx, key, rs)

	if err := bridge.Connect(actorCtx); err != nil {
		logrus.WithError(err).WithField("session_id", sessionID).
			Error("[SESSION] Initial connect failed")
	}
	return rs.snapshot(), nil
}

// runActor is the sole writer of this session's state. It exits when the
// bridge closes its event channel, the session disconnects, or the
// supervisory ready timer fires.
func (m *Manager) runActor(ctx context.Context, key string, rs *runningSession) {
	defer close(rs.done)
	defer m.removeRunning(key, rs)

	readyTimer := time.NewTimer(m.readyTimeout)
	defer readyTimer.Stop()

	for {
		select {
		case <-ctx.Done():
			rs.bridge.Disconnect()
			m.transition(rs, domain.StateDisconnected, "stopped", nil)
			return

		case <-readyTimer.C:
			if rs.snapshot().State == domain.StateReady {
				continue
			}
			logrus.WithField("session", key).
				Warnf("[SESSION] Not ready after %v, giving up", m.readyTimeout)
			rs.bridge.Disconnect()
			m.transition(rs, domain.StateDisconnected, "ready timeout", nil)
			return

		case ev, ok := <-rs.bridge.Events():
			if !ok {
				m.transition(rs, domain.StateDisconnected, "bridge closed", nil)
				return
			}
			if done := m.handleEvent(ctx, rs, ev, readyTimer); done {
				return
			}
		}
	}
}

func (m *Manager) handleEvent(ctx context.Context, rs *runningSession, ev domain.BridgeEvent, readyTimer *time.Timer) bool {
	switch ev.Type {
	case domain.EventQR:
		m.transition(rs, domain.StateQRReady, "", func(s *domain.ChannelSession) {
			s.QRCode = ev.QRCode
		})

	case domain.EventAuthenticated:
		m.transition(rs, domain.StateAuthenticated, "", func(s *domain.ChannelSession) {
			s.QRCode = ""
			s.DeviceAddress = rs.bridge.Address()
		})

	case domain.EventReady:
		readyTimer.Stop()
		m.transition(rs, domain.StateReady, "", func(s *domain.ChannelSession) {
			now := time.Now()
			s.ConnectedAt = &now
			s.DeviceAddress = rs.bridge.Address()
		})

	case domain.EventDisconnected:
		m.transition(rs, domain.StateDisconnected, ev.Reason, nil)
		return true

	case domain.EventLoggedOut:
		m.transition(rs, domain.StateDisconnected, "logged out", func(s *domain.ChannelSession) {
			s.DeviceAddress = ""
		})
		return true

	case domain.EventMessage:
		if ev.Message != nil {
			m.forwardInbound(ctx, rs, *ev.Message)
		}
	}
	return false
}

func (m *Manager) forwardInbound(ctx context.Context, rs *runningSession, msg domain.IncomingMessage) {
	m.inboundMu.RLock()
	handler := m.inbound
	m.inboundMu.RUnlock()
	if handler == nil {
		return
	}

	snap := rs.snapshot()
	handler(ctx, snap.TenantID, snap.ID, msg)
}

// transition applies a validated state change, persists it, and notifies
// subscribers. Illegal transitions are logged and dropped.
func (m *Manager) transition(rs *runningSession, to domain.SessionState, reason string, mutate func(*domain.ChannelSession)) {
	rs.stateMu.Lock()
	from := rs.session.State
	if from != to && !domain.CanTransition(from, to) {
		rs.stateMu.Unlock()
		logrus.Warnf("[SESSION] Ignoring illegal transition %s -> %s for %s", from, to, rs.session.ID)
		return
	}

	rs.session.State = to
	if reason != "" {
		rs.session.LastError = reason
	}
	if mutate != nil {
		mutate(rs.session)
	}
	snap := *rs.session
	rs.stateMu.Unlock()

	if from != to {
		logrus.WithFields(logrus.Fields{
			"tenant_id":  snap.TenantID,
			"session_id": snap.ID,
		}).Infof("[SESSION] %s -> %s", from, to)
	}

	m.persist(&snap)
	m.broadcast(Notification{
		TenantID:  snap.TenantID,
		SessionID: snap.ID,
		State:     snap.State,
		QRCode:    snap.QRCode,
		Reason:    reason,
	})
}

func (m *Manager) persist(session *domain.ChannelSession) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.repo.Save(ctx, session); err != nil {
		logrus.WithError(err).WithField("session_id", session.ID).
			Warn("[SESSION] Failed to persist session state")
	}
}

func (m *Manager) removeRunning(key string, rs *runningSession) {
	m.mu.Lock()
	if current, ok := m.running[key]; ok && current == rs {
		delete(m.running, key)
	}
	m.mu.Unlock()
}

func (m *Manager) stopRunning(rs *runningSession) {
	rs.cancel()
	select {
	case <-rs.done:
	case <-time.After(10 * time.Second):
		logrus.Warn("[SESSION] Actor did not stop in time")
	}
}

// Status returns the live state when the session is running, the persisted
// state otherwise.
func (m *Manager) Status(ctx context.Context, tenantID, sessionID string) (*domain.ChannelSession, error) {
	m.mu.RLock()
	rs, ok := m.running[sessionKey(tenantID, sessionID)]
	m.mu.RUnlock()
	if ok {
		return rs.snapshot(), nil
	}
	return m.repo.GetByID(ctx, tenantID, sessionID)
}

// QR returns the current pairing code. Only meaningful in QR_READY.
func (m *Manager) QR(ctx context.Context, tenantID, sessionID string) (string, error) {
	session, err := m.Status(ctx, tenantID, sessionID)
	if err != nil {
		return "", err
	}
	if session.State != domain.StateQRReady || session.QRCode == "" {
		return "", apperror.SessionNotReadyError("no pairing code available in state " + string(session.State))
	}
	return session.QRCode, nil
}

// List returns the tenant's sessions, with live state overlaid on persisted
// rows for running ones.
func (m *Manager) List(ctx context.Context, tenantID string) ([]*domain.ChannelSession, error) {
	sessions, err := m.repo.ListByTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	for i, s := range sessions {
		if rs, ok := m.running[sessionKey(tenantID, s.ID)]; ok {
			sessions[i] = rs.snapshot()
		}
	}
	return sessions, nil
}

// Restart tears the session down and starts it again with fresh state.
func (m *Manager) Restart(ctx context.Context, tenantID, sessionID string) (*domain.ChannelSession, error) {
	key := sessionKey(tenantID, sessionID)

	m.mu.Lock()
	rs, ok := m.running[key]
	if ok {
		delete(m.running, key)
	}
	m.mu.Unlock()

	if ok {
		m.stopRunning(rs)
	}
	return m.Start(ctx, tenantID, sessionID)
}

// Logout clears credentials and stops the session. In-flight work is
// cancelled, not awaited.
func (m *Manager) Logout(ctx context.Context, tenantID, sessionID string) error {
	key := sessionKey(tenantID, sessionID)

	m.mu.Lock()
	rs, ok := m.running[key]
	if ok {
		delete(m.running, key)
	}
	m.mu.Unlock()

	if ok {
		if err := rs.bridge.Logout(ctx); err != nil {
			logrus.WithError(err).WithField("session_id", sessionID).
				Warn("[SESSION] Logout on live bridge failed")
		}
		m.stopRunning(rs)
		return nil
	}

	// Not running: pair a transient bridge just to clear stored credentials.
	session, err := m.repo.GetByID(ctx, tenantID, sessionID)
	if err != nil {
		return err
	}
	bridge, err := m.factory(tenantID, sessionID)
	if err != nil {
		return err
	}
	if err := bridge.Logout(ctx); err != nil {
		return err
	}

	session.State = domain.StateDisconnected
	session.DeviceAddress = ""
	session.LastError = "logged out"
	m.persist(session)
	return nil
}

// HasReadySession reports whether the tenant can send over a live channel
// right now.
func (m *Manager) HasReadySession(tenantID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, rs := range m.running {
		snap := rs.snapshot()
		if snap.TenantID == tenantID && snap.State == domain.StateReady {
			return true
		}
	}
	return false
}

// SendText sends through the tenant's preferred READY session: the one that
// connected most recently.
func (m *Manager) SendText(ctx context.Context, tenantID, to, body string) (string, error) {
	rs := m.preferredReady(tenantID)
	if rs == nil {
		return "", apperror.NoActiveChannelError("tenant has no ready session")
	}

	id, err := rs.bridge.SendText(ctx, to, body)
	if err != nil {
		return "", apperror.NewRetryableSendError(fmt.Sprintf("live send failed: %v", err))
	}
	return id, nil
}

// SendTextVia sends through one specific session, READY or not at the
// caller's risk of a 409.
func (m *Manager) SendTextVia(ctx context.Context, tenantID, sessionID, to, body string) (string, error) {
	m.mu.RLock()
	rs, ok := m.running[sessionKey(tenantID, sessionID)]
	m.mu.RUnlock()
	if !ok {
		return "", domain.ErrSessionNotFound
	}
	if !rs.snapshot().State.CanSend() {
		return "", apperror.SessionNotReadyError("session is in state " + string(rs.snapshot().State))
	}

	id, err := rs.bridge.SendText(ctx, to, body)
	if err != nil {
		return "", apperror.NewRetryableSendError(fmt.Sprintf("live send failed: %v", err))
	}
	return id, nil
}

func (m *Manager) preferredReady(tenantID string) *runningSession {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var best *runningSession
	var bestAt time.Time
	for _, rs := range m.running {
		snap := rs.snapshot()
		if snap.TenantID != tenantID || !snap.State.CanSend() {
			continue
		}
		at := snap.CreatedAt
		if snap.ConnectedAt != nil {
			at = *snap.ConnectedAt
		}
		if best == nil || at.After(bestAt) {
			best = rs
			bestAt = at
		}
	}
	return best
}

// StopAll shuts every running session down. Used on process shutdown.
func (m *Manager) StopAll() {
	m.mu.Lock()
	all := make([]*runningSession, 0, len(m.running))
	for key, rs := range m.running {
		all = append(all, rs)
		delete(m.running, key)
	}
	m.mu.Unlock()

	for _, rs := range all {
		m.stopRunning(rs)
	}
}

// Subscribe returns a channel of lifecycle notifications. Slow consumers
// drop events rather than block the actors.
func (m *Manager) Subscribe() chan Notification {
	ch := make(chan Notification, 32)
	m.subMu.Lock()
	m.subscribers[ch] = struct{}{}
	m.subMu.Unlock()
	return ch
}

func (m *Manager) Unsubscribe(ch chan Notification) {
	m.subMu.Lock()
	if _, ok := m.subscribers[ch]; ok {
		delete(m.subscribers, ch)
		close(ch)
	}
	m.subMu.Unlock()
}

func (m *Manager) broadcast(n Notification) {
	m.subMu.RLock()
	defer m.subMu.RUnlock()
	for ch := range m.subscribers {
		select {
		case ch <- n:
		default:
		}
	}
}
