package rest

import (
	"github.com/flowdesk/msggate/pkg/utils"
	"github.com/flowdesk/msggate/validations"
	"github.com/gofiber/fiber/v2"

	autoreplydomain "github.com/flowdesk/msggate/autoreply/domain"
)

// Rule is the auto reply rule CRUD surface, scoped per tenant.
type Rule struct {
	Repo autoreplydomain.IRuleRepository
}

func InitRestRule(app fiber.Router, handler Rule) Rule {
	app.Post("/tenants/:tenantId/rules", handler.Create)
	app.Get("/tenants/:tenantId/rules", handler.List)
	app.Get("/tenants/:tenantId/rules/:ruleId", handler.Get)
	app.Put("/tenants/:tenantId/rules/:ruleId", handler.Update)
	app.Delete("/tenants/:tenantId/rules/:ruleId", handler.Delete)
	return handler
}

func (handler *Rule) Create(c *fiber.Ctx) error {
	var rule autoreplydomain.Rule
	if err := c.BodyParser(&rule); err != nil {
		panicIfNeeded(err)
	}
	rule.TenantID = c.Params("tenantId")
	panicIfNeeded(validations.ValidateRule(c.UserContext(), &rule))

	panicIfNeeded(handler.Repo.Create(c.UserContext(), &rule))

	return c.Status(201).JSON(utils.ResponseData{
		Status:  201,
		Code:    "SUCCESS",
		Message: "Rule created",
		Results: rule,
	})
}

func (handler *Rule) List(c *fiber.Ctx) error {
	rules, err := handler.Repo.List(c.UserContext(), c.Params("tenantId"))
	panicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Rules fetched",
		Results: rules,
	})
}

func (handler *Rule) Get(c *fiber.Ctx) error {
	rule, err := handler.Repo.GetByID(c.UserContext(), c.Params("tenantId"), c.Params("ruleId"))
	panicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Rule fetched",
		Results: rule,
	})
}

func (handler *Rule) Update(c *fiber.Ctx) error {
	var rule autoreplydomain.Rule
	if err := c.BodyParser(&rule); err != nil {
		panicIfNeeded(err)
	}
	rule.ID = c.Params("ruleId")
	rule.TenantID = c.Params("tenantId")
	panicIfNeeded(validations.ValidateRule(c.UserContext(), &rule))

	panicIfNeeded(handler.Repo.Update(c.UserContext(), &rule))

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Rule updated",
		Results: rule,
	})
}

func (handler *Rule) Delete(c *fiber.Ctx) error {
	panicIfNeeded(handler.Repo.Delete(c.UserContext(), c.Params("tenantId"), c.Params("ruleId")))

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Rule deleted",
	})
}
