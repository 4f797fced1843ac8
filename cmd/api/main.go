package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/energy-marketplace/backend/internal/chain"
	"github.com/energy-marketplace/backend/internal/config"
	"github.com/energy-marketplace/backend/internal/db"
	"github.com/energy-marketplace/backend/internal/demo"
	"github.com/energy-marketplace/backend/internal/events"
	apphttp "github.com/energy-marketplace/backend/internal/http"
	"github.com/energy-marketplace/backend/internal/http/handlers"
	"github.com/energy-marketplace/backend/internal/models"
	"github.com/energy-marketplace/backend/internal/repositories"
	"github.com/energy-marketplace/backend/internal/services"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	cfg.Validate(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	// Run migrations
	if err := db.RunMigrations(ctx, pool, "migrations", log); err != nil {
		log.Fatal("failed to run migrations", zap.Error(err))
	}

	// Redis
	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	// Repositories
	listingRepo := repositories.NewListingRepo(pool)
	txRepo := repositories.NewTransactionRepo(pool)
	auditRepo := repositories.NewAuditRepo(pool)
	modeRepo := repositories.NewModeRepo(rdb, cfg.LiveModeDefault)

	// Demo dataset
	if err := demo.Seed(ctx, listingRepo, txRepo, log); err != nil {
		log.Fatal("failed to seed demo dataset", zap.Error(err))
	}

	// Events
	publisher := events.NewRedisPublisher(rdb, log)
	subscriber := events.NewRedisSubscriber(rdb, log)

	// Chain provider. Demo deployments run without contracts configured, so
	// a failed init disables live mode instead of killing the process.
	var provider chain.Provider
	var walletEvents chain.EventSource
	if eth, err := chain.NewEthProvider(ctx, cfg, log); err != nil {
		log.Warn("chain provider unavailable, live mode is disabled", zap.Error(err))
	} else {
		defer eth.Close()
		provider = eth
		walletEvents = eth
	}

	// Services
	walletService := services.NewWalletService(provider, auditRepo, publisher, log)
	walletService.Start(ctx, walletEvents)
	defer walletService.Stop()

	gasReserve, err := chain.ParseWei(cfg.GasReserveWei)
	if err != nil {
		log.Fatal("invalid GAS_RESERVE_WEI", zap.Error(err))
	}
	purchaseService := services.NewPurchaseService(provider, walletService, listingRepo, txRepo, auditRepo, modeRepo, publisher, gasReserve, log)
	listingService := services.NewListingService(provider, walletService, listingRepo, auditRepo, modeRepo, publisher, log)
	marketService := services.NewMarketService(listingRepo, txRepo, rdb, log)

	// Handlers
	authHandler := handlers.NewAuthHandler(cfg, log)
	walletHandler := handlers.NewWalletHandler(walletService, log)
	listingHandler := handlers.NewListingHandler(listingService, log)
	purchaseHandler := handlers.NewPurchaseHandler(purchaseService, log)
	marketHandler := handlers.NewMarketHandler(marketService, log)
	wsHub := handlers.NewWSHub(cfg, subscriber, log)

	// Start WS hub
	wsHub.Start(ctx)

	// In-process attempts in pending_receipt and the session balances belong
	// to this process, so their upkeep runs here rather than in the worker.
	go func() {
		receiptTicker := time.NewTicker(15 * time.Second)
		balanceTicker := time.NewTicker(time.Minute)
		defer receiptTicker.Stop()
		defer balanceTicker.Stop()
		for {
			select {
			case <-receiptTicker.C:
				purchaseService.FinalizePending(ctx)
			case <-balanceTicker.C:
				if walletService.Snapshot().ConnectionState == models.ConnStateConnected {
					if err := walletService.RefreshBalances(ctx); err != nil {
						log.Warn("periodic balance refresh failed", zap.Error(err))
					}
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	// Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{"error": err.Error()})
		},
	})

	apphttp.SetupRouter(app, cfg, log, rdb, authHandler, walletHandler, listingHandler, purchaseHandler, marketHandler, wsHub)

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")
		cancel()
		_ = app.Shutdown()
	}()

	addr := fmt.Sprintf(":%s", cfg.APIPort)
	log.Info("starting API server", zap.String("addr", addr))
	if err := app.Listen(addr); err != nil {
		log.Fatal("server error", zap.Error(err))
	}
}
