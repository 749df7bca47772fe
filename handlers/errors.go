package handlers

import (
	"errors"
	"log/slog"

	"reward-engine/services"

	"github.com/gofiber/fiber/v2"
)

// ErrorHandler maps service errors to HTTP responses of the form
// {"error": ..., "code": ...}.
func ErrorHandler(logger *slog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		var (
			missing   *services.MissingChannelsError
			shortfall *services.ReferralShortfallError
			fe        *fiber.Error
		)
		switch {
		case errors.As(err, &missing):
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"error":    err.Error(),
				"code":     "channels_missing",
				"channels": missing.Channels,
			})
		case errors.As(err, &shortfall):
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"error": err.Error(),
				"code":  "referrals_short",
				"have":  shortfall.Have,
				"need":  shortfall.Need,
			})
		case errors.As(err, &fe):
			return c.Status(fe.Code).JSON(fiber.Map{"error": fe.Message, "code": "http"})
		}

		status, code := classify(err)
		if status == fiber.StatusInternalServerError {
			logger.Error("request failed", "method", c.Method(), "path", c.Path(), "error", err)
			return c.Status(status).JSON(fiber.Map{"error": "internal error", "code": code})
		}
		return c.Status(status).JSON(fiber.Map{"error": err.Error(), "code": code})
	}
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, services.ErrNotFound):
		return fiber.StatusNotFound, "not_found"
	case errors.Is(err, services.ErrValidation):
		return fiber.StatusBadRequest, "validation"
	case errors.Is(err, services.ErrInsufficientFunds):
		return fiber.StatusPaymentRequired, "insufficient_funds"
	case errors.Is(err, services.ErrInsufficientStock):
		return fiber.StatusConflict, "insufficient_stock"
	case errors.Is(err, services.ErrAlreadyClaimed):
		return fiber.StatusConflict, "already_claimed"
	case errors.Is(err, services.ErrAlreadyReferred):
		return fiber.StatusConflict, "already_referred"
	case errors.Is(err, services.ErrPoolExhausted):
		return fiber.StatusConflict, "pool_exhausted"
	case errors.Is(err, services.ErrInvalidState):
		return fiber.StatusConflict, "invalid_state"
	}
	return fiber.StatusInternalServerError, "internal"
}
