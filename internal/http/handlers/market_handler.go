package handlers

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/energy-marketplace/backend/internal/http/dto"
	"github.com/energy-marketplace/backend/internal/services"
)

type MarketHandler struct {
	market *services.MarketService
	log    *zap.Logger
}

func NewMarketHandler(market *services.MarketService, log *zap.Logger) *MarketHandler {
	return &MarketHandler{market: market, log: log}
}

func (h *MarketHandler) GetStats(c *fiber.Ctx) error {
	stats, err := h.market.Stats(c.Context())
	if err != nil {
		return workflowError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: stats})
}

func (h *MarketHandler) ListTransactions(c *fiber.Ctx) error {
	limit, offset := 50, 0
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	if v := c.Query("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	txs, err := h.market.Transactions(c.Context(), limit, offset)
	if err != nil {
		return workflowError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: txs})
}
