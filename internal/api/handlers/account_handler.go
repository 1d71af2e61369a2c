package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/maheshrc27/postflow/internal/service"
)

type AccountHandler struct {
	s service.AccountService
}

func NewAccountHandler(s service.AccountService) *AccountHandler {
	return &AccountHandler{s: s}
}

func (h *AccountHandler) ListAccounts(c *fiber.Ctx) error {
	var active *bool
	if c.Query("active") != "" {
		v := c.QueryBool("active")
		active = &v
	}

	accounts, err := h.s.List(c.Context(), active)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Unable to list accounts",
		})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{"items": accounts})
}

func (h *AccountHandler) FreezeAccount(c *fiber.Ctx) error {
	return h.setActive(c, false)
}

func (h *AccountHandler) UnfreezeAccount(c *fiber.Ctx) error {
	return h.setActive(c, true)
}

func (h *AccountHandler) setActive(c *fiber.Ctx, active bool) error {
	accountID, err := c.ParamsInt("id")
	if err != nil || accountID == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid account id",
		})
	}

	if active {
		err = h.s.Unfreeze(c.Context(), int64(accountID))
	} else {
		err = h.s.Freeze(c.Context(), int64(accountID))
	}
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.SendStatus(fiber.StatusOK)
}
