package handlers

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/energy-marketplace/backend/internal/http/dto"
	"github.com/energy-marketplace/backend/internal/models"
	"github.com/energy-marketplace/backend/internal/repositories"
	"github.com/energy-marketplace/backend/internal/services"
)

type ListingHandler struct {
	listings *services.ListingService
	log      *zap.Logger
}

func NewListingHandler(listings *services.ListingService, log *zap.Logger) *ListingHandler {
	return &ListingHandler{listings: listings, log: log}
}

func (h *ListingHandler) ListListings(c *fiber.Ctx) error {
	filter := repositories.ListingFilter{Limit: 50}

	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 100 {
			filter.Limit = n
		}
	}
	if v := c.Query("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			filter.Offset = n
		}
	}
	if v := c.Query("source"); v != "" {
		if !models.IsValidSource(v) {
			return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "unknown source filter"})
		}
		source := v
		filter.Source = &source
	}

	listings, err := h.listings.Fetch(c.Context(), filter)
	if err != nil {
		return workflowError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: listings})
}

func (h *ListingHandler) GetListing(c *fiber.Ctx) error {
	listing, err := h.listings.Get(c.Context(), c.Params("id"))
	if err != nil {
		return workflowError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: listing})
}

func (h *ListingHandler) CreateListing(c *fiber.Ctx) error {
	var req dto.CreateListingRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request body"})
	}

	listing, err := h.listings.Create(c.Context(), req.EnergyAmount, req.Price, req.Source, req.Location)
	if err != nil {
		return workflowError(c, h.log, err)
	}
	return c.Status(fiber.StatusCreated).JSON(dto.SuccessResponse{OK: true, Data: listing})
}

func (h *ListingHandler) GetMode(c *fiber.Ctx) error {
	return c.JSON(dto.ModeResponse{Live: h.listings.LiveMode(c.Context())})
}

func (h *ListingHandler) SetMode(c *fiber.Ctx) error {
	var req dto.SetModeRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request body"})
	}
	if err := h.listings.SetLiveMode(c.Context(), req.Live); err != nil {
		return workflowError(c, h.log, err)
	}
	return c.JSON(dto.ModeResponse{Live: req.Live})
}
