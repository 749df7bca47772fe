package handlers

import (
	"fmt"

	"reward-engine/middleware"
	"reward-engine/services"

	"github.com/gofiber/fiber/v2"
)

type createReferralRequest struct {
	ReferrerID string `json:"referrer_id"`
}

func SetupReferralRoutes(r fiber.Router, referrals *services.ReferralValidator) {
	// the caller is the referred user
	r.Post("/referrals", func(c *fiber.Ctx) error {
		var req createReferralRequest
		if err := c.BodyParser(&req); err != nil {
			return fmt.Errorf("%w: invalid JSON", services.ErrValidation)
		}
		ref, err := referrals.Create(c.UserContext(), req.ReferrerID, middleware.IdentityFrom(c).UserID)
		if err != nil {
			return err
		}
		return c.Status(fiber.StatusCreated).JSON(ref)
	})

	r.Get("/referrals/count", func(c *fiber.Ctx) error {
		n, err := referrals.ValidatedCount(c.UserContext(), middleware.IdentityFrom(c).UserID)
		if err != nil {
			return err
		}
		return c.JSON(fiber.Map{"validated": n})
	})
}
