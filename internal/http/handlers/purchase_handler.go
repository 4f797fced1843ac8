package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/energy-marketplace/backend/internal/http/dto"
	"github.com/energy-marketplace/backend/internal/services"
)

type PurchaseHandler struct {
	purchases *services.PurchaseService
	log       *zap.Logger
}

func NewPurchaseHandler(purchases *services.PurchaseService, log *zap.Logger) *PurchaseHandler {
	return &PurchaseHandler{purchases: purchases, log: log}
}

// Purchase runs the full approve + buy flow for a listing. On failure the
// terminal attempt remains readable via GetAttempt.
func (h *PurchaseHandler) Purchase(c *fiber.Ctx) error {
	attempt, err := h.purchases.Purchase(c.Context(), c.Params("id"))
	if err != nil {
		return workflowError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: attempt})
}

func (h *PurchaseHandler) GetAttempt(c *fiber.Ctx) error {
	attempt := h.purchases.Attempt(c.Params("id"))
	if attempt == nil {
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Error: "no purchase attempt for listing"})
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: attempt})
}
