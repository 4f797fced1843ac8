package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/energy-marketplace/backend/internal/chain"
	"github.com/energy-marketplace/backend/internal/config"
	"github.com/energy-marketplace/backend/internal/db"
	"github.com/energy-marketplace/backend/internal/events"
	"github.com/energy-marketplace/backend/internal/repositories"
	"github.com/energy-marketplace/backend/internal/services"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	// Repos
	listingRepo := repositories.NewListingRepo(pool)
	txRepo := repositories.NewTransactionRepo(pool)
	auditRepo := repositories.NewAuditRepo(pool)
	modeRepo := repositories.NewModeRepo(rdb, cfg.LiveModeDefault)

	publisher := events.NewRedisPublisher(rdb, log)

	// Без провайдера воркер обновляет только кэш статистики
	var provider chain.Provider
	if eth, err := chain.NewEthProvider(ctx, cfg, log); err != nil {
		log.Warn("chain provider unavailable, receipt finalization is disabled", zap.Error(err))
	} else {
		defer eth.Close()
		provider = eth
	}

	gasReserve, err := chain.ParseWei(cfg.GasReserveWei)
	if err != nil {
		log.Fatal("invalid GAS_RESERVE_WEI", zap.Error(err))
	}

	walletService := services.NewWalletService(provider, auditRepo, publisher, log)
	purchaseService := services.NewPurchaseService(provider, walletService, listingRepo, txRepo, auditRepo, modeRepo, publisher, gasReserve, log)
	marketService := services.NewMarketService(listingRepo, txRepo, rdb, log)

	log.Info("worker started")

	// Run jobs on tickers
	receiptTicker := time.NewTicker(15 * time.Second)
	statsTicker := time.NewTicker(30 * time.Second)
	defer receiptTicker.Stop()
	defer statsTicker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-receiptTicker.C:
			purchaseService.FinalizePending(ctx)
		case <-statsTicker.C:
			if err := marketService.RefreshCache(ctx); err != nil {
				log.Error("stats refresh failed", zap.Error(err))
			}
		case <-sigCh:
			log.Info("shutting down worker")
			cancel()
			return
		case <-ctx.Done():
			return
		}
	}
}
