package handlers

import (
	"github.com/gofiber/fiber/v2"

	"postpilot/internal/repository"
)

// AccountHandler exposes read-only linked-account info to the
// dashboard. Linking and unlinking live in the account service, outside
// this pipeline.
type AccountHandler struct {
	la repository.LinkedAccountRepository
}

func NewAccountHandler(la repository.LinkedAccountRepository) *AccountHandler {
	return &AccountHandler{la: la}
}

func (h *AccountHandler) ListLinkedAccounts(c *fiber.Ctx) error {
	userID := GetUserID(c)

	accounts, err := h.la.ListInfoByUserID(c.Context(), userID)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unable to list linked accounts",
		})
	}

	return c.Status(fiber.StatusOK).JSON(accounts)
}
