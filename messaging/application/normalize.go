package application

import (
	"strconv"
	"strings"
	"time"

	"github.com/flowdesk/msggate/messaging/domain"
)

// WebhookPayload mirrors the provider callback envelope. Unknown fields are
// ignored on purpose; providers add fields without notice.
type WebhookPayload struct {
	Object string         `json:"object"`
	Entry  []WebhookEntry `json:"entry"`
}

type WebhookEntry struct {
	ID      string          `json:"id"`
	Changes []WebhookChange `json:"changes"`
}

type WebhookChange struct {
	Field string       `json:"field"`
	Value WebhookValue `json:"value"`
}

type WebhookValue struct {
	MessagingProduct string           `json:"messaging_product"`
	Metadata         WebhookMetadata  `json:"metadata"`
	Contacts         []WebhookContact `json:"contacts"`
	Messages         []WebhookMessage `json:"messages"`
	Statuses         []WebhookStatus  `json:"statuses"`
}

type WebhookMetadata struct {
	DisplayPhoneNumber string `json:"display_phone_number"`
	PhoneNumberID      string `json:"phone_number_id"`
}

type WebhookContact struct {
	WaID    string `json:"wa_id"`
	Profile struct {
		Name string `json:"name"`
	} `json:"profile"`
}

type WebhookMessage struct {
	From      string `json:"from"`
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"` // unix seconds as string
	Type      string `json:"type"`
	Text      *struct {
		Body string `json:"body"`
	} `json:"text"`
	Image    *WebhookMedia `json:"image"`
	Audio    *WebhookMedia `json:"audio"`
	Video    *WebhookMedia `json:"video"`
	Document *WebhookMedia `json:"document"`
}

type WebhookMedia struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type"`
	Caption  string `json:"caption"`
}

type WebhookStatus struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	Timestamp   string `json:"timestamp"`
	RecipientID string `json:"recipient_id"`
}

// LiveMessage is the shape the session bridge hands over for messages that
// arrive over a live connection instead of a webhook.
type LiveMessage struct {
	TenantID    string
	SessionID   string
	Sender      string
	PushName    string
	MessageID   string
	Text        string
	MediaRef    string
	MessageType string
	Timestamp   time.Time
}

// NormalizeWebhook flattens a callback envelope into inbound and status
// events. Malformed or empty items are skipped, never fatal: one bad entry
// must not poison the rest of the batch.
func NormalizeWebhook(tenantID string, payload *WebhookPayload) ([]domain.InboundEvent, []domain.StatusEvent) {
	var inbound []domain.InboundEvent
	var statuses []domain.StatusEvent

	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			for _, msg := range change.Value.Messages {
				ev := normalizeMessage(tenantID, change.Value, msg)
				if ev.ExternalAddress == "" || ev.Empty() {
					continue
				}
				inbound = append(inbound, ev)
			}
			for _, st := range change.Value.Statuses {
				status, ok := mapDeliveryStatus(st.Status)
				if !ok || st.ID == "" {
					continue
				}
				statuses = append(statuses, domain.StatusEvent{
					TenantID:          tenantID,
					ExternalMessageID: st.ID,
					Status:            status,
					Timestamp:         parseUnixSeconds(st.Timestamp),
				})
			}
		}
	}
	return inbound, statuses
}

// NormalizeLive converts a live-session message into the canonical event.
func NormalizeLive(msg LiveMessage) domain.InboundEvent {
	msgType := domain.MessageType(msg.MessageType)
	switch msgType {
	case domain.TypeText, domain.TypeImage, domain.TypeAudio, domain.TypeVideo, domain.TypeDocument:
	case "":
		msgType = domain.TypeText
	default:
		msgType = domain.TypeUnknown
	}

	ts := msg.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	return domain.InboundEvent{
		TenantID:          msg.TenantID,
		ExternalAddress:   msg.Sender,
		ExternalMessageID: msg.MessageID,
		DisplayName:       msg.PushName,
		Type:              msgType,
		Body:              msg.Text,
		MediaRef:          msg.MediaRef,
		Timestamp:         ts,
	}
}

func normalizeMessage(tenantID string, value WebhookValue, msg WebhookMessage) domain.InboundEvent {
	ev := domain.InboundEvent{
		TenantID:          tenantID,
		ExternalAddress:   msg.From,
		ExternalMessageID: msg.ID,
		DisplayName:       profileName(value.Contacts, msg.From),
		Timestamp:         parseUnixSeconds(msg.Timestamp),
	}

	switch msg.Type {
	case "text":
		ev.Type = domain.TypeText
		if msg.Text != nil {
			ev.Body = msg.Text.Body
		}
	case "image":
		ev.Type = domain.TypeImage
		applyMedia(&ev, msg.Image)
	case "audio":
		ev.Type = domain.TypeAudio
		applyMedia(&ev, msg.Audio)
	case "video":
		ev.Type = domain.TypeVideo
		applyMedia(&ev, msg.Video)
	case "document":
		ev.Type = domain.TypeDocument
		applyMedia(&ev, msg.Document)
	default:
		ev.Type = domain.TypeUnknown
	}
	return ev
}

func applyMedia(ev *domain.InboundEvent, media *WebhookMedia) {
	if media == nil {
		return
	}
	ev.MediaRef = media.ID
	ev.Body = media.Caption
}

func profileName(contacts []WebhookContact, waID string) string {
	for _, c := range contacts {
		if c.WaID == waID {
			return c.Profile.Name
		}
	}
	return ""
}

func mapDeliveryStatus(raw string) (domain.MessageStatus, bool) {
	switch strings.ToLower(raw) {
	case "sent":
		return domain.StatusSent, true
	case "delivered":
		return domain.StatusDelivered, true
	case "read":
		return domain.StatusRead, true
	case "failed":
		return domain.StatusFailed, true
	}
	return "", false
}

func parseUnixSeconds(raw string) time.Time {
	secs, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || secs <= 0 {
		return time.Now()
	}
	return time.Unix(secs, 0)
}
