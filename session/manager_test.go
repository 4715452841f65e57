package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/flowdesk/msggate/session/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Fakes ---

type memorySessionRepo struct {
	mu       sync.Mutex
	sessions map[string]*domain.ChannelSession
}

func newMemorySessionRepo() *memorySessionRepo {
	return &memorySessionRepo{sessions: make(map[string]*domain.ChannelSession)}
}

func (r *memorySessionRepo) InitSchema(ctx context.Context) error { return nil }

func (r *memorySessionRepo) Save(ctx context.Context, s *domain.ChannelSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *s
	r.sessions[s.TenantID+"|"+s.ID] = &copied
	return nil
}

func (r *memorySessionRepo) GetByID(ctx context.Context, tenantID, sessionID string) (*domain.ChannelSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[tenantID+"|"+sessionID]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	copied := *s
	return &copied, nil
}

func (r *memorySessionRepo) ListByTenant(ctx context.Context, tenantID string) ([]*domain.ChannelSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.ChannelSession
	for _, s := range r.sessions {
		if s.TenantID == tenantID {
			copied := *s
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (r *memorySessionRepo) Delete(ctx context.Context, tenantID, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, tenantID+"|"+sessionID)
	return nil
}

type fakeBridge struct {
	mu        sync.Mutex
	events    chan domain.BridgeEvent
	sent      []string
	loggedOut bool
	closed    bool
}

func newFakeBridge() *fakeBridge {
	return &fakeBridge{events: make(chan domain.BridgeEvent, 16)}
}

func (b *fakeBridge) Connect(ctx context.Context) error { return nil }

func (b *fakeBridge) Disconnect() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		close(b.events)
	}
}

func (b *fakeBridge) Logout(ctx context.Context) error {
	b.mu.Lock()
	b.loggedOut = true
	b.mu.Unlock()
	b.Disconnect()
	return nil
}

func (b *fakeBridge) SendText(ctx context.Context, to, body string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, to+":"+body)
	return "msg-id-1", nil
}

func (b *fakeBridge) Events() <-chan domain.BridgeEvent { return b.events }
func (b *fakeBridge) Address() string                   { return "123@device" }

func (b *fakeBridge) emit(ev domain.BridgeEvent) { b.events <- ev }

type fixture struct {
	manager *Manager
	repo    *memorySessionRepo
	bridges map[string]*fakeBridge
	mu      sync.Mutex
}

func newFixture(readyTimeout time.Duration) *fixture {
	f := &fixture{
		repo:    newMemorySessionRepo(),
		bridges: make(map[string]*fakeBridge),
	}
	factory := func(tenantID, sessionID string) (domain.Bridge, error) {
		b := newFakeBridge()
		f.mu.Lock()
		f.bridges[tenantID+"|"+sessionID] = b
		f.mu.Unlock()
		return b, nil
	}
	f.manager = NewManager(f.repo, factory, readyTimeout)
	return f
}

func (f *fixture) bridge(tenantID, sessionID string) *fakeBridge {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bridges[tenantID+"|"+sessionID]
}

func waitForState(t *testing.T, ch chan Notification, want domain.SessionState) Notification {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case n := <-ch:
			if n.State == want {
				return n
			}
		case <-deadline:
			t.Fatalf("never observed state %s", want)
		}
	}
}

// --- Tests ---

func TestManager_PairingFlow(t *testing.T) {
	f := newFixture(time.Minute)
	notifications := f.manager.Subscribe()
	defer f.manager.Unsubscribe(notifications)

	session, err := f.manager.Start(context.Background(), "tenant-a", "s1")
	require.NoError(t, err)
	assert.Equal(t, domain.StateInitializing, session.State)

	bridge := f.bridge("tenant-a", "s1")
	require.NotNil(t, bridge)

	bridge.emit(domain.BridgeEvent{Type: domain.EventQR, QRCode: "qr-payload"})
	n := waitForState(t, notifications, domain.StateQRReady)
	assert.Equal(t, "qr-payload", n.QRCode)

	code, err := f.manager.QR(context.Background(), "tenant-a", "s1")
	require.NoError(t, err)
	assert.Equal(t, "qr-payload", code)

	bridge.emit(domain.BridgeEvent{Type: domain.EventAuthenticated})
	waitForState(t, notifications, domain.StateAuthenticated)

	_, err = f.manager.QR(context.Background(), "tenant-a", "s1")
	assert.Error(t, err, "the QR code is cleared once pairing succeeds")

	bridge.emit(domain.BridgeEvent{Type: domain.EventReady})
	waitForState(t, notifications, domain.StateReady)

	assert.True(t, f.manager.HasReadySession("tenant-a"))
	assert.False(t, f.manager.HasReadySession("tenant-b"))

	status, err := f.manager.Status(context.Background(), "tenant-a", "s1")
	require.NoError(t, err)
	assert.Equal(t, domain.StateReady, status.State)
	assert.Equal(t, "123@device", status.DeviceAddress)
	require.NotNil(t, status.ConnectedAt)
}

func TestManager_StartIsIdempotent(t *testing.T) {
	f := newFixture(time.Minute)

	first, err := f.manager.Start(context.Background(), "tenant-a", "s1")
	require.NoError(t, err)

	second, err := f.manager.Start(context.Background(), "tenant-a", "s1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	f.mu.Lock()
	count := len(f.bridges)
	f.mu.Unlock()
	assert.Equal(t, 1, count, "a running session must not get a second bridge")
}

func TestManager_ConcurrentStartAfterDisconnect(t *testing.T) {
	repo := newMemorySessionRepo()
	var mu sync.Mutex
	var created []*fakeBridge
	factory := func(tenantID, sessionID string) (domain.Bridge, error) {
		b := newFakeBridge()
		mu.Lock()
		created = append(created, b)
		mu.Unlock()
		return b, nil
	}
	manager := NewManager(repo, factory, time.Minute)

	// A session whose actor already exited but whose entry has not been
	// reaped yet.
	dead := &runningSession{
		session: &domain.ChannelSession{ID: "s1", TenantID: "tenant-a", State: domain.StateDisconnected},
		bridge:  newFakeBridge(),
		cancel:  func() {},
		done:    make(chan struct{}),
	}
	close(dead.done)
	key := sessionKey("tenant-a", "s1")
	manager.mu.Lock()
	manager.running[key] = dead
	manager.mu.Unlock()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := manager.Start(context.Background(), "tenant-a", "s1")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	manager.mu.Lock()
	entries := len(manager.running)
	manager.mu.Unlock()
	assert.Equal(t, 1, entries, "racing restarts must share one running entry")

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, created, 1, "racing restarts must share one fresh bridge")
}

func TestManager_StartGeneratesSessionID(t *testing.T) {
	f := newFixture(time.Minute)

	session, err := f.manager.Start(context.Background(), "tenant-a", "")
	require.NoError(t, err)
	assert.NotEmpty(t, session.ID)
}

func TestManager_ReadyEventBeforeAuthIsDropped(t *testing.T) {
	f := newFixture(time.Minute)
	notifications := f.manager.Subscribe()
	defer f.manager.Unsubscribe(notifications)

	_, err := f.manager.Start(context.Background(), "tenant-a", "s1")
	require.NoError(t, err)

	bridge := f.bridge("tenant-a", "s1")
	bridge.emit(domain.BridgeEvent{Type: domain.EventReady})
	bridge.emit(domain.BridgeEvent{Type: domain.EventQR, QRCode: "qr"})
	waitForState(t, notifications, domain.StateQRReady)

	status, err := f.manager.Status(context.Background(), "tenant-a", "s1")
	require.NoError(t, err)
	assert.Equal(t, domain.StateQRReady, status.State,
		"READY without AUTHENTICATED first must be ignored")
	assert.False(t, f.manager.HasReadySession("tenant-a"))
}

func TestManager_ReadyTimeout(t *testing.T) {
	f := newFixture(50 * time.Millisecond)
	notifications := f.manager.Subscribe()
	defer f.manager.Unsubscribe(notifications)

	_, err := f.manager.Start(context.Background(), "tenant-a", "s1")
	require.NoError(t, err)

	n := waitForState(t, notifications, domain.StateDisconnected)
	assert.Equal(t, "ready timeout", n.Reason)

	status, err := f.manager.Status(context.Background(), "tenant-a", "s1")
	require.NoError(t, err)
	assert.Equal(t, domain.StateDisconnected, status.State)
}

func TestManager_DisconnectEventStopsActor(t *testing.T) {
	f := newFixture(time.Minute)
	notifications := f.manager.Subscribe()
	defer f.manager.Unsubscribe(notifications)

	_, err := f.manager.Start(context.Background(), "tenant-a", "s1")
	require.NoError(t, err)

	bridge := f.bridge("tenant-a", "s1")
	bridge.emit(domain.BridgeEvent{Type: domain.EventDisconnected, Reason: "stream replaced"})
	n := waitForState(t, notifications, domain.StateDisconnected)
	assert.Equal(t, "stream replaced", n.Reason)

	// Starting again after the drop runs a fresh connect sequence.
	session, err := f.manager.Start(context.Background(), "tenant-a", "s1")
	require.NoError(t, err)
	assert.Equal(t, domain.StateInitializing, session.State)
}

func TestManager_SendTextRequiresReadySession(t *testing.T) {
	f := newFixture(time.Minute)
	notifications := f.manager.Subscribe()
	defer f.manager.Unsubscribe(notifications)

	_, err := f.manager.SendText(context.Background(), "tenant-a", "5511999", "hi")
	assert.Error(t, err, "no session at all")

	_, err = f.manager.Start(context.Background(), "tenant-a", "s1")
	require.NoError(t, err)
	_, err = f.manager.SendText(context.Background(), "tenant-a", "5511999", "hi")
	assert.Error(t, err, "an INITIALIZING session cannot send")

	bridge := f.bridge("tenant-a", "s1")
	bridge.emit(domain.BridgeEvent{Type: domain.EventAuthenticated})
	bridge.emit(domain.BridgeEvent{Type: domain.EventReady})
	waitForState(t, notifications, domain.StateReady)

	id, err := f.manager.SendText(context.Background(), "tenant-a", "5511999", "hi")
	require.NoError(t, err)
	assert.Equal(t, "msg-id-1", id)

	bridge.mu.Lock()
	defer bridge.mu.Unlock()
	assert.Equal(t, []string{"5511999:hi"}, bridge.sent)
}

func TestManager_InboundMessagesReachHandler(t *testing.T) {
	f := newFixture(time.Minute)

	received := make(chan domain.IncomingMessage, 1)
	f.manager.SetInboundHandler(func(ctx context.Context, tenantID, sessionID string, msg domain.IncomingMessage) {
		received <- msg
	})

	_, err := f.manager.Start(context.Background(), "tenant-a", "s1")
	require.NoError(t, err)

	f.bridge("tenant-a", "s1").emit(domain.BridgeEvent{
		Type: domain.EventMessage,
		Message: &domain.IncomingMessage{
			Sender:    "5511999",
			MessageID: "wamid.1",
			Text:      "hello",
		},
	})

	select {
	case msg := <-received:
		assert.Equal(t, "hello", msg.Text)
	case <-time.After(2 * time.Second):
		t.Fatal("inbound message never reached the handler")
	}
}

func TestManager_LogoutRunningSession(t *testing.T) {
	f := newFixture(time.Minute)

	_, err := f.manager.Start(context.Background(), "tenant-a", "s1")
	require.NoError(t, err)

	bridge := f.bridge("tenant-a", "s1")
	require.NoError(t, f.manager.Logout(context.Background(), "tenant-a", "s1"))

	bridge.mu.Lock()
	loggedOut := bridge.loggedOut
	bridge.mu.Unlock()
	assert.True(t, loggedOut)
	assert.False(t, f.manager.HasReadySession("tenant-a"))
}

func TestManager_StopAll(t *testing.T) {
	f := newFixture(time.Minute)

	_, err := f.manager.Start(context.Background(), "tenant-a", "s1")
	require.NoError(t, err)
	_, err = f.manager.Start(context.Background(), "tenant-b", "s2")
	require.NoError(t, err)

	f.manager.StopAll()

	status, err := f.manager.Status(context.Background(), "tenant-a", "s1")
	require.NoError(t, err)
	assert.Equal(t, domain.StateDisconnected, status.State)
}
