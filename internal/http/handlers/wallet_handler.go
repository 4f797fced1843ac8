package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/energy-marketplace/backend/internal/http/dto"
	"github.com/energy-marketplace/backend/internal/services"
)

type WalletHandler struct {
	wallet *services.WalletService
	log    *zap.Logger
}

func NewWalletHandler(wallet *services.WalletService, log *zap.Logger) *WalletHandler {
	return &WalletHandler{wallet: wallet, log: log}
}

func (h *WalletHandler) GetWallet(c *fiber.Ctx) error {
	return c.JSON(dto.SuccessResponse{OK: true, Data: h.wallet.Snapshot()})
}

func (h *WalletHandler) Connect(c *fiber.Ctx) error {
	if _, err := h.wallet.Connect(c.Context()); err != nil {
		return workflowError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: h.wallet.Snapshot()})
}

func (h *WalletHandler) RefreshBalances(c *fiber.Ctx) error {
	if err := h.wallet.RefreshBalances(c.Context()); err != nil {
		return workflowError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: h.wallet.Snapshot()})
}

func (h *WalletHandler) Disconnect(c *fiber.Ctx) error {
	h.wallet.Disconnect(c.Context())
	return c.JSON(dto.SuccessResponse{OK: true, Data: h.wallet.Snapshot()})
}
