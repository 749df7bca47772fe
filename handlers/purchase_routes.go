package handlers

import (
	"fmt"

	"reward-engine/middleware"
	"reward-engine/services"

	"github.com/gofiber/fiber/v2"
)

func SetupPurchaseRoutes(r fiber.Router, purchases *services.PurchaseTransaction) {
	r.Post("/purchases", func(c *fiber.Ctx) error {
		var req services.PurchaseRequest
		if err := c.BodyParser(&req); err != nil {
			return fmt.Errorf("%w: invalid JSON", services.ErrValidation)
		}
		req.BuyerID = middleware.IdentityFrom(c).UserID
		req.Grant = false

		p, err := purchases.Purchase(c.UserContext(), req)
		if err != nil {
			return err
		}
		return c.Status(fiber.StatusCreated).JSON(p)
	})

	r.Get("/purchases", func(c *fiber.Ctx) error {
		list, err := purchases.List(c.UserContext(), middleware.IdentityFrom(c).UserID)
		if err != nil {
			return err
		}
		return c.JSON(fiber.Map{"purchases": list})
	})
}

// SetupAdminRoutes expects r to be behind RequireRole(admin).
func SetupAdminRoutes(r fiber.Router, purchases *services.PurchaseTransaction) {
	r.Post("/purchases/:id/cancel", func(c *fiber.Ctx) error {
		p, err := purchases.Cancel(c.UserContext(), c.Params("id"))
		if err != nil {
			return err
		}
		return c.JSON(p)
	})

	r.Post("/purchases/:id/sent", func(c *fiber.Ctx) error {
		p, err := purchases.MarkSent(c.UserContext(), c.Params("id"))
		if err != nil {
			return err
		}
		return c.JSON(p)
	})
}
