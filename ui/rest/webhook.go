package rest

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/flowdesk/msggate/pkg/apperror"
	"github.com/flowdesk/msggate/pkg/utils"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	messagingapp "github.com/flowdesk/msggate/messaging/application"
	tenantdomain "github.com/flowdesk/msggate/tenant/domain"
)

// Webhook receives provider callbacks. The endpoint is public; per-tenant
// HMAC signatures are the only gate.
type Webhook struct {
	Pipeline   *messagingapp.Pipeline
	TenantRepo tenantdomain.ITenantRepository
}

func InitRestWebhook(app fiber.Router, handler Webhook) Webhook {
	app.Get("/webhook/:tenantId", handler.Verify)
	app.Post("/webhook/:tenantId", handler.Receive)
	return handler
}

// Verify answers the provider's subscription handshake by echoing the
// challenge when the verify token matches the tenant's webhook secret.
func (handler *Webhook) Verify(c *fiber.Ctx) error {
	tenantID := c.Params("tenantId")

	tenant, err := handler.TenantRepo.GetByID(c.UserContext(), tenantID)
	panicIfNeeded(err)

	mode := c.Query("hub.mode")
	token := c.Query("hub.verify_token")
	challenge := c.Query("hub.challenge")

	tokenOK := subtle.ConstantTimeCompare([]byte(token), []byte(tenant.WebhookSecret)) == 1
	if mode != "subscribe" || tenant.WebhookSecret == "" || !tokenOK {
		panicIfNeeded(apperror.UnauthorizedError("webhook verification failed"))
	}

	return c.SendString(challenge)
}

// Receive validates the signature and pushes the payload through the inbound
// pipeline. Always answers 200 on accepted payloads so the provider does not
// redeliver messages that already landed.
func (handler *Webhook) Receive(c *fiber.Ctx) error {
	tenantID := c.Params("tenantId")
	body := c.Body()

	tenant, err := handler.TenantRepo.GetByID(c.UserContext(), tenantID)
	panicIfNeeded(err)

	if tenant.WebhookSecret != "" {
		if !verifySignature(body, c.Get("X-Hub-Signature-256"), tenant.WebhookSecret) {
			logrus.WithField("tenant_id", tenantID).Warn("[WEBHOOK] Signature mismatch")
			panicIfNeeded(apperror.UnauthorizedError("invalid webhook signature"))
		}
	}

	var payload messagingapp.WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		panicIfNeeded(apperror.ValidationError("malformed webhook payload"))
	}

	summary, err := handler.Pipeline.IngestWebhook(c.UserContext(), tenantID, &payload)
	panicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Webhook processed",
		Results: summary,
	})
}

func verifySignature(body []byte, header, secret string) bool {
	signature := strings.TrimPrefix(header, "sha256=")
	if signature == "" {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	return subtle.ConstantTimeCompare([]byte(expected), []byte(strings.ToLower(signature))) == 1
}
