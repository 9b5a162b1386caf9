package handlers

import (
	"errors"
	"log"

	"github.com/gofiber/fiber/v2"

	"github.com/frankiekoifi/gamestake/services"
)

// fail maps service sentinels to HTTP statuses. Anything unmapped is a 500
// and gets logged; sentinel errors are the caller's fault and are not.
func fail(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	switch {
	case errors.Is(err, services.ErrInvalidAmount),
		errors.Is(err, services.ErrInvalidDistribution),
		errors.Is(err, services.ErrWrongFormat):
		status = fiber.StatusBadRequest
	case errors.Is(err, services.ErrInsufficientFunds):
		status = fiber.StatusPaymentRequired
	case errors.Is(err, services.ErrUnauthorized):
		status = fiber.StatusForbidden
	case errors.Is(err, services.ErrWalletNotFound):
		status = fiber.StatusNotFound
	case errors.Is(err, services.ErrMatchNotAvailable),
		errors.Is(err, services.ErrTournamentNotAvailable),
		errors.Is(err, services.ErrTournamentFull),
		errors.Is(err, services.ErrAlreadyJoined),
		errors.Is(err, services.ErrAlreadyResolved):
		status = fiber.StatusConflict
	}
	if status == fiber.StatusInternalServerError {
		log.Printf("❌ [HTTP] %s %s: %v", c.Method(), c.Path(), err)
		return c.Status(status).JSON(fiber.Map{"error": "internal server error"})
	}
	return c.Status(status).JSON(fiber.Map{"error": err.Error()})
}

func userID(c *fiber.Ctx) string {
	id, _ := c.Locals("user_id").(string)
	return id
}
