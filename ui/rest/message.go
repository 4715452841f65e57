package rest

import (
	"github.com/flowdesk/msggate/pkg/utils"
	"github.com/flowdesk/msggate/validations"
	"github.com/gofiber/fiber/v2"

	messagingapp "github.com/flowdesk/msggate/messaging/application"
	messagingdomain "github.com/flowdesk/msggate/messaging/domain"
)

// Message covers the outbound send and conversation browsing endpoints.
type Message struct {
	Dispatcher *messagingapp.Dispatcher
	Store      messagingdomain.IMessageStore
}

func InitRestMessage(app fiber.Router, handler Message) Message {
	app.Post("/tenants/:tenantId/send", handler.Send)
	app.Get("/tenants/:tenantId/contacts", handler.Contacts)
	app.Get("/tenants/:tenantId/conversations/:conversationId/messages", handler.Messages)
	return handler
}

func (handler *Message) Send(c *fiber.Ctx) error {
	var request messagingdomain.SendMessageRequest
	if err := c.BodyParser(&request); err != nil {
		panicIfNeeded(err)
	}
	panicIfNeeded(validations.ValidateSendMessage(c.UserContext(), request))

	msg, err := handler.Dispatcher.Send(c.UserContext(), c.Params("tenantId"), request.To, request.Body, false)
	panicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Message sent",
		Results: msg,
	})
}

func (handler *Message) Contacts(c *fiber.Ctx) error {
	contacts, err := handler.Store.ListContacts(c.UserContext(), c.Params("tenantId"), c.QueryInt("limit", 100))
	panicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Contacts fetched",
		Results: contacts,
	})
}

func (handler *Message) Messages(c *fiber.Ctx) error {
	messages, err := handler.Store.ListMessages(c.UserContext(),
		c.Params("tenantId"), c.Params("conversationId"), c.QueryInt("limit", 50))
	panicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Messages fetched",
		Results: messages,
	})
}
