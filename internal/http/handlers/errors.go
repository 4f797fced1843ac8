package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/energy-marketplace/backend/internal/chain"
	"github.com/energy-marketplace/backend/internal/http/dto"
	"github.com/energy-marketplace/backend/internal/middleware"
	"github.com/energy-marketplace/backend/internal/repositories"
	"github.com/energy-marketplace/backend/internal/services"
)

// workflowError maps a service failure to an HTTP response. Known kinds get
// actionable copy; anything unrecognized is logged in full and surfaced
// generically.
func workflowError(c *fiber.Ctx, log *zap.Logger, err error) error {
	reqID := middleware.GetRequestID(c)

	switch {
	case errors.Is(err, services.ErrConnectInProgress),
		errors.Is(err, services.ErrPurchaseInProgress):
		return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{
			Error: err.Error(), RequestID: reqID,
		})
	case errors.Is(err, services.ErrNotConnected),
		errors.Is(err, services.ErrWalletRequired),
		errors.Is(err, services.ErrProviderRequired):
		return c.Status(fiber.StatusPreconditionFailed).JSON(dto.ErrorResponse{
			Error: err.Error(), RequestID: reqID,
		})
	case errors.Is(err, services.ErrInvalidListing):
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
			Error: err.Error(), RequestID: reqID,
		})
	case errors.Is(err, repositories.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{
			Error: "not found", RequestID: reqID,
		})
	}

	kind := chain.KindOf(err)
	resp := dto.ErrorResponse{Kind: string(kind), RequestID: reqID}

	switch kind {
	case chain.KindInsufficientFunds:
		resp.Error = chain.Reason(err) + ". Top up your balance and try again."
		return c.Status(fiber.StatusPaymentRequired).JSON(resp)
	case chain.KindUserRejected:
		resp.Error = "Transaction was rejected in the wallet. No funds were moved."
		return c.Status(fiber.StatusBadRequest).JSON(resp)
	case chain.KindProviderAbsent:
		resp.Error = chain.Reason(err)
		return c.Status(fiber.StatusServiceUnavailable).JSON(resp)
	case chain.KindNetworkMismatch:
		resp.Error = chain.Reason(err)
		return c.Status(fiber.StatusPreconditionFailed).JSON(resp)
	case chain.KindListingNotFound:
		resp.Error = chain.Reason(err)
		return c.Status(fiber.StatusNotFound).JSON(resp)
	case chain.KindReceiptTimeout:
		resp.Error = "Transaction sent, confirmation still pending. Check back shortly."
		return c.Status(fiber.StatusAccepted).JSON(resp)
	default:
		log.Error("unhandled workflow error", zap.String("request_id", reqID), zap.Error(err))
		resp.Error = "something went wrong, please try again"
		return c.Status(fiber.StatusInternalServerError).JSON(resp)
	}
}
