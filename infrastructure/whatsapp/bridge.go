package whatsapp

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/flowdesk/msggate/core/config"
	"github.com/sirupsen/logrus"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"

	sessiondomain "github.com/flowdesk/msggate/session/domain"
)

// Bridge adapts a whatsmeow client to the session manager's capability
// surface. One bridge per session slot; credentials live in a per-session
// device store.
type Bridge struct {
	tenantID  string
	sessionID string
	cfg       *config.Config

	mu        sync.Mutex
	client    *whatsmeow.Client
	container *sqlstore.Container
	handlerID uint32

	events    chan sessiondomain.BridgeEvent
	closeOnce sync.Once
}

// NewBridgeFactory returns the factory the session manager uses to build
// bridges on demand.
func NewBridgeFactory(cfg *config.Config) sessiondomain.BridgeFactory {
	return func(tenantID, sessionID string) (sessiondomain.Bridge, error) {
		return &Bridge{
			tenantID:  tenantID,
			sessionID: sessionID,
			cfg:       cfg,
			events:    make(chan sessiondomain.BridgeEvent, 128),
		}, nil
	}
}

func (b *Bridge) Events() <-chan sessiondomain.BridgeEvent {
	return b.events
}

func (b *Bridge) Address() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.client == nil || b.client.Store.ID == nil {
		return ""
	}
	return b.client.Store.ID.User
}

// Connect initializes the device store and dials. Lifecycle progress flows
// through Events.
func (b *Bridge) Connect(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.client != nil {
		if !b.client.IsConnected() {
			return b.client.Connect()
		}
		return nil
	}

	if err := b.initClient(ctx); err != nil {
		return err
	}
	return b.client.Connect()
}

// initClient builds the whatsmeow client against this session's own device
// store. Caller holds b.mu.
func (b *Bridge) initClient(ctx context.Context) error {
	logLevel := b.cfg.Gateway.LogLevel
	if logLevel == "" {
		logLevel = "ERROR"
	}
	shortID := b.sessionID
	if len(shortID) > 8 {
		shortID = shortID[:8]
	}
	dbLog := waLog.Stdout("SessionDB-"+shortID, logLevel, true)

	dialect, dsn, err := b.deviceStoreDSN()
	if err != nil {
		return err
	}

	container, err := sqlstore.New(ctx, dialect, dsn, dbLog)
	if err != nil {
		return fmt.Errorf("init device store: %w", err)
	}

	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		return fmt.Errorf("get device: %w", err)
	}
	if device == nil {
		device = container.NewDevice()
	}

	clientLog := waLog.Stdout("Session-"+shortID, logLevel, true)
	client := whatsmeow.NewClient(device, clientLog)
	client.EnableAutoReconnect = false
	client.AutoTrustIdentity = true

	b.container = container
	b.client = client
	b.handlerID = client.AddEventHandler(b.handleEvent)
	return nil
}

func (b *Bridge) deviceStoreDSN() (string, string, error) {
	db := b.cfg.Database
	if db.Driver == "postgres" {
		dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
			db.User, db.Password, db.Host, db.Port, db.Name)
		return "postgres", dsn, nil
	}

	dir := b.cfg.Paths.Storages
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", "", fmt.Errorf("create storage dir: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("session-%s.db", b.sessionID))
	return "sqlite3", "file:" + path + "?_foreign_keys=on", nil
}

func (b *Bridge) Disconnect() {
	b.mu.Lock()
	client := b.client
	if client != nil && b.handlerID != 0 {
		client.RemoveEventHandler(b.handlerID)
		b.handlerID = 0
	}
	b.mu.Unlock()

	if client != nil {
		client.Disconnect()
	}
	b.closeOnce.Do(func() { close(b.events) })
}

// Logout clears stored credentials. Works on a cold bridge too, so a stopped
// session can still be unpaired.
func (b *Bridge) Logout(ctx context.Context) error {
	b.mu.Lock()
	if b.client == nil {
		if err := b.initClient(ctx); err != nil {
			b.mu.Unlock()
			return err
		}
	}
	client := b.client
	b.mu.Unlock()

	err := client.Logout(ctx)
	client.Disconnect()
	if err != nil {
		if strings.Contains(err.Error(), "not logged in") || strings.Contains(err.Error(), "401") {
			return nil
		}
		return err
	}
	return nil
}

func (b *Bridge) SendText(ctx context.Context, to, body string) (string, error) {
	b.mu.Lock()
	client := b.client
	b.mu.Unlock()
	if client == nil {
		return "", fmt.Errorf("client not started")
	}

	jid, err := parseRecipient(to)
	if err != nil {
		return "", err
	}

	resp, err := client.SendMessage(ctx, jid, &waE2E.Message{
		Conversation: proto.String(body),
	})
	if err != nil {
		return "", err
	}
	return resp.ID, nil
}

func parseRecipient(to string) (types.JID, error) {
	if strings.ContainsRune(to, '@') {
		return types.ParseJID(to)
	}
	return types.NewJID(to, types.DefaultUserServer), nil
}

func (b *Bridge) handleEvent(evt interface{}) {
	switch v := evt.(type) {
	case *events.QR:
		if len(v.Codes) > 0 {
			b.emit(sessiondomain.BridgeEvent{
				Type:   sessiondomain.EventQR,
				QRCode: v.Codes[0],
			})
		}

	case *events.PairSuccess:
		b.emit(sessiondomain.BridgeEvent{Type: sessiondomain.EventAuthenticated})

	case *events.Connected:
		b.mu.Lock()
		loggedIn := b.client != nil && b.client.IsLoggedIn()
		b.mu.Unlock()
		if loggedIn {
			b.emit(sessiondomain.BridgeEvent{Type: sessiondomain.EventReady})
		}

	case *events.StreamReplaced:
		b.emit(sessiondomain.BridgeEvent{
			Type:   sessiondomain.EventDisconnected,
			Reason: "stream replaced by another connection",
		})

	case *events.Disconnected:
		b.emit(sessiondomain.BridgeEvent{
			Type:   sessiondomain.EventDisconnected,
			Reason: "connection lost",
		})

	case *events.LoggedOut:
		b.emit(sessiondomain.BridgeEvent{Type: sessiondomain.EventLoggedOut})

	case *events.Message:
		b.handleMessage(v)
	}
}

func (b *Bridge) handleMessage(evt *events.Message) {
	// Status broadcasts and group traffic stay out of the gateway.
	if evt.Info.Chat.String() == "status@broadcast" || evt.Info.IsGroup || evt.Info.IsFromMe {
		return
	}

	msg := sessiondomain.IncomingMessage{
		Sender:      evt.Info.Sender.ToNonAD().User,
		PushName:    evt.Info.PushName,
		MessageID:   string(evt.Info.ID),
		MessageType: "text",
		Timestamp:   evt.Info.Timestamp,
	}

	switch {
	case evt.Message.GetConversation() != "":
		msg.Text = evt.Message.GetConversation()
	case evt.Message.GetExtendedTextMessage().GetText() != "":
		msg.Text = evt.Message.GetExtendedTextMessage().GetText()
	case evt.Message.GetImageMessage() != nil:
		msg.MessageType = "image"
		msg.Text = evt.Message.GetImageMessage().GetCaption()
		msg.MediaRef = evt.Message.GetImageMessage().GetDirectPath()
	case evt.Message.GetAudioMessage() != nil:
		msg.MessageType = "audio"
		msg.MediaRef = evt.Message.GetAudioMessage().GetDirectPath()
	case evt.Message.GetVideoMessage() != nil:
		msg.MessageType = "video"
		msg.Text = evt.Message.GetVideoMessage().GetCaption()
		msg.MediaRef = evt.Message.GetVideoMessage().GetDirectPath()
	case evt.Message.GetDocumentMessage() != nil:
		msg.MessageType = "document"
		msg.Text = evt.Message.GetDocumentMessage().GetCaption()
		msg.MediaRef = evt.Message.GetDocumentMessage().GetDirectPath()
	default:
		// Reactions, receipts-as-messages, protocol noise.
		return
	}

	b.emit(sessiondomain.BridgeEvent{
		Type:    sessiondomain.EventMessage,
		Message: &msg,
	})
}

// emit never blocks an event handler; a full buffer drops with a warning.
func (b *Bridge) emit(ev sessiondomain.BridgeEvent) {
	defer func() {
		// Sending on the closed events channel after Disconnect is a benign
		// race with whatsmeow's handler goroutines.
		if recover() != nil {
			logrus.Debugf("[WHATSAPP] Dropped %s event after bridge close", ev.Type)
		}
	}()

	select {
	case b.events <- ev:
	default:
		logrus.Warnf("[WHATSAPP] Event buffer full, dropping %s for session %s", ev.Type, b.sessionID)
	}
}
