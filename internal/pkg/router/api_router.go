package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/FelixBrandt/FocusTape/app/controllers"
)

type ApiRouter struct {
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", limiter.New())
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "FocusTape API",
		})
	})

	// API v1 routes
	v1 := api.Group("/v1")

	v1.Post("/billing/stripe/webhook", controllers.HandleStripeWebhook)
	v1.Post("/billing/checkout/confirm", controllers.HandleConfirmCheckout)

	v1.Post("/entitlement/refresh", controllers.HandleRefreshEntitlement)
	v1.Get("/entitlement/status", controllers.HandleEntitlementStatus)

	// Scheduler hits this; GET and POST both accepted because cron
	// providers differ on which verb they send.
	v1.Get("/cron/entitlement-sweep", controllers.HandleEntitlementSweep)
	v1.Post("/cron/entitlement-sweep", controllers.HandleEntitlementSweep)

	v1.Post("/cassettes/views", controllers.HandleCassetteView)
	v1.Post("/cassettes/clicks", controllers.HandleCassetteClick)
}

func NewApiRouter() *ApiRouter {
	return &ApiRouter{}
}
