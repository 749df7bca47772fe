package handlers

import (
	"log/slog"

	"reward-engine/middleware"
	"reward-engine/models"
	"reward-engine/services"

	"github.com/gofiber/fiber/v2"
)

// Services bundles what the routes call into.
type Services struct {
	Users      *services.UserService
	Referrals  *services.ReferralValidator
	Tasks      *services.TaskRewardEngine
	Purchases  *services.PurchaseTransaction
	Onboarding *services.OnboardingStateMachine
}

// Setup registers every route. /healthz is open; everything else needs the
// gateway token, and /s/ routes need the gateway's user context.
func Setup(app *fiber.App, svc Services, gatewayToken string, logger *slog.Logger) {
	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	secured := app.Group("/s",
		middleware.GatewayAuthMiddleware(gatewayToken, logger),
		middleware.UserContextMiddleware(svc.Users, logger),
	)
	SetupOnboardingRoutes(secured, svc.Onboarding)
	SetupTaskRoutes(secured, svc.Tasks)
	SetupReferralRoutes(secured, svc.Referrals)
	SetupPurchaseRoutes(secured, svc.Purchases)

	admin := secured.Group("/admin", middleware.RequireRole(models.RoleAdmin))
	SetupAdminRoutes(admin, svc.Purchases)
}
