package rest

import (
	"github.com/flowdesk/msggate/pkg/utils"
	"github.com/flowdesk/msggate/validations"
	"github.com/gofiber/fiber/v2"

	tenantdomain "github.com/flowdesk/msggate/tenant/domain"
)

// Tenant is the admin CRUD surface. The whole REST app sits behind basic
// auth; listing across tenants is the one operation reserved to it.
type Tenant struct {
	Repo tenantdomain.ITenantRepository
}

func InitRestTenant(app fiber.Router, handler Tenant) Tenant {
	app.Post("/tenants", handler.Create)
	app.Get("/tenants", handler.List)
	app.Get("/tenants/:tenantId", handler.Get)
	app.Put("/tenants/:tenantId", handler.Update)
	return handler
}

func (handler *Tenant) Create(c *fiber.Ctx) error {
	var tenant tenantdomain.Tenant
	if err := c.BodyParser(&tenant); err != nil {
		panicIfNeeded(err)
	}
	panicIfNeeded(validations.ValidateTenant(c.UserContext(), &tenant))

	panicIfNeeded(handler.Repo.Create(c.UserContext(), &tenant))

	return c.Status(201).JSON(utils.ResponseData{
		Status:  201,
		Code:    "SUCCESS",
		Message: "Tenant created",
		Results: tenant,
	})
}

func (handler *Tenant) List(c *fiber.Ctx) error {
	tenants, err := handler.Repo.List(c.UserContext(), true)
	panicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Tenants fetched",
		Results: tenants,
	})
}

func (handler *Tenant) Get(c *fiber.Ctx) error {
	tenant, err := handler.Repo.GetByID(c.UserContext(), c.Params("tenantId"))
	panicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Tenant fetched",
		Results: tenant,
	})
}

func (handler *Tenant) Update(c *fiber.Ctx) error {
	var tenant tenantdomain.Tenant
	if err := c.BodyParser(&tenant); err != nil {
		panicIfNeeded(err)
	}
	tenant.ID = c.Params("tenantId")
	panicIfNeeded(validations.ValidateTenant(c.UserContext(), &tenant))

	panicIfNeeded(handler.Repo.Update(c.UserContext(), &tenant))

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Tenant updated",
		Results: tenant,
	})
}
