package rest

import (
	"github.com/flowdesk/msggate/pkg/utils"
	"github.com/flowdesk/msggate/session"
	"github.com/flowdesk/msggate/validations"
	"github.com/gofiber/fiber/v2"

	messagingdomain "github.com/flowdesk/msggate/messaging/domain"
)

// Session exposes session lifecycle control per tenant.
type Session struct {
	Manager *session.Manager
}

func InitRestSession(app fiber.Router, handler Session) Session {
	app.Post("/tenants/:tenantId/sessions", handler.Start)
	app.Get("/tenants/:tenantId/sessions", handler.List)
	app.Get("/tenants/:tenantId/sessions/:sessionId", handler.Status)
	app.Get("/tenants/:tenantId/sessions/:sessionId/qr", handler.QR)
	app.Post("/tenants/:tenantId/sessions/:sessionId/restart", handler.Restart)
	app.Post("/tenants/:tenantId/sessions/:sessionId/logout", handler.Logout)
	app.Post("/tenants/:tenantId/sessions/:sessionId/send", handler.Send)
	return handler
}

func (handler *Session) Start(c *fiber.Ctx) error {
	var req struct {
		SessionID string `json:"session_id"`
	}
	// Body is optional; an empty one starts a fresh session slot.
	_ = c.BodyParser(&req)

	sess, err := handler.Manager.Start(c.UserContext(), c.Params("tenantId"), req.SessionID)
	panicIfNeeded(err)

	return c.Status(201).JSON(utils.ResponseData{
		Status:  201,
		Code:    "SUCCESS",
		Message: "Session starting",
		Results: sess,
	})
}

func (handler *Session) List(c *fiber.Ctx) error {
	sessions, err := handler.Manager.List(c.UserContext(), c.Params("tenantId"))
	panicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Sessions fetched",
		Results: sessions,
	})
}

func (handler *Session) Status(c *fiber.Ctx) error {
	sess, err := handler.Manager.Status(c.UserContext(), c.Params("tenantId"), c.Params("sessionId"))
	panicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Session status fetched",
		Results: sess,
	})
}

func (handler *Session) QR(c *fiber.Ctx) error {
	code, err := handler.Manager.QR(c.UserContext(), c.Params("tenantId"), c.Params("sessionId"))
	panicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Pairing code fetched",
		Results: map[string]any{"qr_code": code},
	})
}

func (handler *Session) Restart(c *fiber.Ctx) error {
	sess, err := handler.Manager.Restart(c.UserContext(), c.Params("tenantId"), c.Params("sessionId"))
	panicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Session restarting",
		Results: sess,
	})
}

// Send pushes a text through one specific session, bypassing channel
// selection. Diagnostic surface; the regular send endpoint picks the channel.
func (handler *Session) Send(c *fiber.Ctx) error {
	var request messagingdomain.SendMessageRequest
	if err := c.BodyParser(&request); err != nil {
		panicIfNeeded(err)
	}
	panicIfNeeded(validations.ValidateSendMessage(c.UserContext(), request))

	id, err := handler.Manager.SendTextVia(c.UserContext(),
		c.Params("tenantId"), c.Params("sessionId"), request.To, request.Body)
	panicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Message sent",
		Results: map[string]any{"external_message_id": id},
	})
}

func (handler *Session) Logout(c *fiber.Ctx) error {
	err := handler.Manager.Logout(c.UserContext(), c.Params("tenantId"), c.Params("sessionId"))
	panicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Session logged out",
	})
}
