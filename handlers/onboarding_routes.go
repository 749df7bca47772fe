package handlers

import (
	"reward-engine/middleware"
	"reward-engine/services"

	"github.com/gofiber/fiber/v2"
)

func SetupOnboardingRoutes(r fiber.Router, onboarding *services.OnboardingStateMachine) {
	r.Get("/onboarding", func(c *fiber.Ctx) error {
		view, err := onboarding.Get(c.UserContext(), middleware.IdentityFrom(c).UserID)
		if err != nil {
			return err
		}
		return c.JSON(view)
	})

	r.Post("/onboarding/channels", func(c *fiber.Ctx) error {
		view, err := onboarding.CompleteChannels(c.UserContext(), middleware.IdentityFrom(c).UserID)
		if err != nil {
			return err
		}
		return c.JSON(view)
	})

	r.Post("/onboarding/check", func(c *fiber.Ctx) error {
		view, err := onboarding.Check(c.UserContext(), middleware.IdentityFrom(c).UserID)
		if err != nil {
			return err
		}
		return c.JSON(view)
	})

	r.Post("/onboarding/claim", func(c *fiber.Ctx) error {
		res, err := onboarding.ClaimGift(c.UserContext(), middleware.IdentityFrom(c).UserID)
		if err != nil {
			return err
		}
		return c.JSON(res)
	})
}
