package handlers

import (
	"reward-engine/middleware"
	"reward-engine/services"

	"github.com/gofiber/fiber/v2"
)

func SetupTaskRoutes(r fiber.Router, tasks *services.TaskRewardEngine) {
	r.Get("/tasks", func(c *fiber.Ctx) error {
		list, err := tasks.List(c.UserContext(), middleware.IdentityFrom(c).UserID)
		if err != nil {
			return err
		}
		return c.JSON(fiber.Map{"tasks": list})
	})

	r.Post("/tasks/:id/start", func(c *fiber.Ctx) error {
		ut, err := tasks.Start(c.UserContext(), middleware.IdentityFrom(c).UserID, c.Params("id"))
		if err != nil {
			return err
		}
		return c.JSON(ut)
	})

	// subscription tasks are verified with the platform here
	r.Post("/tasks/:id/check", func(c *fiber.Ctx) error {
		res, err := tasks.Check(c.UserContext(), middleware.IdentityFrom(c).UserID, c.Params("id"))
		if err != nil {
			return err
		}
		return c.JSON(res)
	})

	r.Post("/tasks/:id/claim", func(c *fiber.Ctx) error {
		ut, err := tasks.Claim(c.UserContext(), middleware.IdentityFrom(c).UserID, c.Params("id"))
		if err != nil {
			return err
		}
		return c.JSON(ut)
	})
}
