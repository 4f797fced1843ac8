package http

import (
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/energy-marketplace/backend/internal/config"
	"github.com/energy-marketplace/backend/internal/http/handlers"
	"github.com/energy-marketplace/backend/internal/middleware"
)

func SetupRouter(
	app *fiber.App,
	cfg *config.Config,
	log *zap.Logger,
	rdb *redis.Client,
	authHandler *handlers.AuthHandler,
	walletHandler *handlers.WalletHandler,
	listingHandler *handlers.ListingHandler,
	purchaseHandler *handlers.PurchaseHandler,
	marketHandler *handlers.MarketHandler,
	wsHub *handlers.WSHub,
) {
	// Global middleware
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Request-ID",
	}))
	app.Use(middleware.RequestIDMiddleware())
	app.Use(middleware.LoggerMiddleware(log))

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	// Prometheus
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	api := app.Group("/api/v1")

	// Auth (public)
	api.Post("/auth/token", authHandler.IssueToken)

	// Rate-limited endpoints
	api.Use(middleware.RateLimitMiddleware(rdb, 100, time.Minute))

	// Protected endpoints
	protected := api.Group("", middleware.AuthMiddleware(cfg, log))

	// Wallet session
	protected.Get("/wallet", walletHandler.GetWallet)
	protected.Post("/wallet/connect", walletHandler.Connect)
	protected.Post("/wallet/refresh", walletHandler.RefreshBalances)
	protected.Delete("/wallet", walletHandler.Disconnect)

	// Demo / live mode toggle
	protected.Get("/mode", listingHandler.GetMode)
	protected.Put("/mode", listingHandler.SetMode)

	// Listings
	protected.Get("/listings", listingHandler.ListListings)
	protected.Post("/listings", listingHandler.CreateListing)
	protected.Get("/listings/:id", listingHandler.GetListing)

	// Purchases
	protected.Post("/listings/:id/purchase", purchaseHandler.Purchase)
	protected.Get("/listings/:id/purchase", purchaseHandler.GetAttempt)

	// Market
	protected.Get("/transactions", marketHandler.ListTransactions)
	protected.Get("/market/stats", marketHandler.GetStats)

	// WebSocket
	app.Use("/ws", handlers.WSUpgradeMiddleware())
	app.Get("/ws", websocket.New(wsHub.HandleWS))
}
