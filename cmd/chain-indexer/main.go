package main

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/energy-marketplace/backend/internal/chain"
	"github.com/energy-marketplace/backend/internal/config"
	"github.com/energy-marketplace/backend/internal/db"
	"github.com/energy-marketplace/backend/internal/events"
	"github.com/energy-marketplace/backend/internal/metrics"
	"github.com/energy-marketplace/backend/internal/models"
	"github.com/energy-marketplace/backend/internal/repositories"
)

const (
	redisCursorBlock = "chain-indexer:cursor:block"
	redisProcessed   = "chain-indexer:log:"
	processedTTL     = 7 * 24 * time.Hour
	blockBatchSize   = 2000
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.MarketplaceContract == "" {
		log.Fatal("MARKETPLACE_CONTRACT is required")
	}

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

	listingRepo := repositories.NewListingRepo(pool)
	txRepo := repositories.NewTransactionRepo(pool)
	auditRepo := repositories.NewAuditRepo(pool)
	publisher := events.NewRedisPublisher(rdb, log)

	provider, err := chain.NewEthProvider(ctx, cfg, log)
	if err != nil {
		log.Fatal("failed to connect to chain", zap.Error(err))
	}
	defer provider.Close()

	idx := &indexer{
		provider:    provider,
		listingRepo: listingRepo,
		txRepo:      txRepo,
		auditRepo:   auditRepo,
		publisher:   publisher,
		rdb:         rdb,
		log:         log,
	}

	log.Info("chain indexer started",
		zap.String("marketplace", cfg.MarketplaceContract),
		zap.Int64("chain_id", cfg.ChainID),
	)

	idx.initCursor(ctx, cfg.IndexerStartBlock)

	ticker := time.NewTicker(cfg.IndexerPollInterval)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-ticker.C:
			if err := idx.pollAndProcess(ctx); err != nil {
				log.Error("poll cycle failed", zap.Error(err))
			}
		case <-sigCh:
			log.Info("shutting down chain indexer")
			cancel()
			return
		case <-ctx.Done():
			return
		}
	}
}

type indexer struct {
	provider    *chain.EthProvider
	listingRepo *repositories.ListingRepo
	txRepo      *repositories.TransactionRepo
	auditRepo   *repositories.AuditRepo
	publisher   events.Publisher
	rdb         *redis.Client
	log         *zap.Logger
}

// initCursor sets the starting block on first run. With no configured start
// block the head is used so only new events are processed.
func (i *indexer) initCursor(ctx context.Context, startBlock uint64) {
	existing, _ := i.rdb.Get(ctx, redisCursorBlock).Result()
	if existing != "" {
		i.log.Info("resuming from saved cursor", zap.String("block", existing))
		return
	}

	if startBlock == 0 {
		head, err := i.provider.Client().BlockNumber(ctx)
		if err != nil {
			i.log.Warn("failed to get head block for cursor init", zap.Error(err))
		} else {
			startBlock = head
		}
	}
	i.saveCursor(ctx, startBlock)
	i.log.Info("cursor initialized", zap.Uint64("block", startBlock))
}

func (i *indexer) loadCursor(ctx context.Context) uint64 {
	val, err := i.rdb.Get(ctx, redisCursorBlock).Result()
	if err != nil || val == "" {
		return 0
	}
	block, _ := strconv.ParseUint(val, 10, 64)
	return block
}

func (i *indexer) saveCursor(ctx context.Context, block uint64) {
	i.rdb.Set(ctx, redisCursorBlock, strconv.FormatUint(block, 10), 0)
}

// pollAndProcess runs a single poll cycle:
// 1. Read the chain head
// 2. Filter marketplace logs between cursor and head
// 3. Apply ListingCreated / ListingPurchased events
// 4. Advance the cursor
func (i *indexer) pollAndProcess(ctx context.Context) error {
	cursor := i.loadCursor(ctx)

	head, err := i.provider.Client().BlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("get head block: %w", err)
	}
	if head <= cursor {
		return nil
	}

	from := cursor + 1
	to := head
	if to-from > blockBatchSize {
		to = from + blockBatchSize
	}

	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{i.provider.MarketplaceAddress()},
	}
	logs, err := i.provider.Client().FilterLogs(ctx, query)
	if err != nil {
		return fmt.Errorf("filter logs %d-%d: %w", from, to, err)
	}

	if len(logs) > 0 {
		i.log.Info("found new marketplace logs", zap.Int("count", len(logs)))
		for _, lg := range logs {
			i.processLog(ctx, lg)
		}
	}

	i.saveCursor(ctx, to)
	return nil
}

func (i *indexer) processLog(ctx context.Context, lg types.Log) {
	if len(lg.Topics) == 0 {
		return
	}

	// Idempotency: skip if already processed
	logKey := fmt.Sprintf("%s%s:%d", redisProcessed, lg.TxHash.Hex(), lg.Index)
	if i.rdb.Exists(ctx, logKey).Val() > 0 {
		return
	}

	marketABI := i.provider.MarketplaceABI()
	event, err := marketABI.EventByID(lg.Topics[0])
	if err != nil {
		return
	}

	switch event.Name {
	case "ListingCreated":
		i.handleListingCreated(ctx, lg)
	case "ListingPurchased":
		i.handleListingPurchased(ctx, lg)
	default:
		return
	}

	i.rdb.Set(ctx, logKey, "done", processedTTL)
	metrics.IndexedChainEvents.WithLabelValues(event.Name).Inc()
}

func (i *indexer) handleListingCreated(ctx context.Context, lg types.Log) {
	var ev struct {
		Id           *big.Int
		Seller       common.Address
		EnergyAmount *big.Int
		Price        *big.Int
		Source       string
		Location     string
	}
	if err := i.unpack(&ev, "ListingCreated", lg.Data); err != nil {
		i.log.Error("failed to unpack ListingCreated", zap.Error(err))
		return
	}

	onChainID := ev.Id.Uint64()
	txHash := lg.TxHash.Hex()
	now := time.Now().UTC()

	listing := &models.Listing{
		ID:           "chain-" + strconv.FormatUint(onChainID, 10),
		Seller:       ev.Seller.Hex(),
		EnergyAmount: chain.FromWei(ev.EnergyAmount),
		Price:        chain.FromWei(ev.Price),
		Source:       ev.Source,
		Location:     ev.Location,
		Available:    true,
		OnChainID:    &onChainID,
		TxRef:        &txHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	// листинг, созданный через API, уже записан под tx-hash id
	if existing, err := i.listingRepo.GetByID(ctx, txHash); err == nil {
		listing.ID = existing.ID
		listing.CreatedAt = existing.CreatedAt
	} else if !errors.Is(err, repositories.ErrNotFound) {
		i.log.Error("listing lookup failed", zap.Error(err))
		return
	}

	if err := i.listingRepo.Upsert(ctx, listing); err != nil {
		i.log.Error("failed to upsert indexed listing", zap.Error(err))
		return
	}

	i.audit(ctx, "listing_indexed", listing.ID, map[string]any{
		"on_chain_id": onChainID, "tx_hash": txHash,
	})
	_ = i.publisher.Publish(ctx, events.StreamMarket, events.Event{
		Type: events.EventListingCreated,
		Payload: map[string]any{
			"listing_id":    listing.ID,
			"seller":        listing.Seller,
			"energy_amount": listing.EnergyAmount,
			"price":         listing.Price,
			"source":        listing.Source,
		},
	})
	i.log.Info("indexed listing created",
		zap.Uint64("on_chain_id", onChainID),
		zap.String("seller", listing.Seller))
}

func (i *indexer) handleListingPurchased(ctx context.Context, lg types.Log) {
	var ev struct {
		Id           *big.Int
		Buyer        common.Address
		Seller       common.Address
		EnergyAmount *big.Int
		Price        *big.Int
	}
	if err := i.unpack(&ev, "ListingPurchased", lg.Data); err != nil {
		i.log.Error("failed to unpack ListingPurchased", zap.Error(err))
		return
	}

	onChainID := ev.Id.Uint64()
	txHash := lg.TxHash.Hex()

	listing, err := i.listingRepo.GetByOnChainID(ctx, onChainID)
	if err != nil {
		if !errors.Is(err, repositories.ErrNotFound) {
			i.log.Error("listing lookup failed", zap.Error(err))
			return
		}
		i.log.Warn("purchase event for unknown listing", zap.Uint64("on_chain_id", onChainID))
	}

	listingID := "chain-" + strconv.FormatUint(onChainID, 10)
	if listing != nil {
		listingID = listing.ID
		if err := i.listingRepo.MarkUnavailable(ctx, listing.ID); err != nil && !errors.Is(err, repositories.ErrNotFound) {
			i.log.Error("failed to mark listing unavailable", zap.Error(err))
		}
	}

	tx := &models.Transaction{
		ID:           txHash,
		ListingID:    listingID,
		Seller:       ev.Seller.Hex(),
		Buyer:        ev.Buyer.Hex(),
		EnergyAmount: chain.FromWei(ev.EnergyAmount),
		Price:        chain.FromWei(ev.Price),
		Status:       models.TxStatusCompleted,
		CreatedAt:    time.Now().UTC(),
	}
	if err := i.txRepo.Create(ctx, tx); err != nil {
		i.log.Error("failed to record indexed transaction", zap.Error(err))
		return
	}
	// покупка могла пройти через API как pending
	if err := i.txRepo.UpdateStatus(ctx, txHash, models.TxStatusCompleted); err != nil {
		i.log.Error("failed to update transaction status", zap.Error(err))
	}

	i.audit(ctx, "purchase_indexed", listingID, map[string]any{
		"on_chain_id": onChainID, "tx_hash": txHash, "buyer": tx.Buyer,
	})
	_ = i.publisher.Publish(ctx, events.StreamMarket, events.Event{
		Type: events.EventListingSold,
		Payload: map[string]any{
			"listing_id": listingID,
			"buyer":      tx.Buyer,
			"tx_ref":     txHash,
		},
	})
	i.log.Info("indexed listing purchase",
		zap.Uint64("on_chain_id", onChainID),
		zap.String("buyer", tx.Buyer))
}

func (i *indexer) unpack(out any, eventName string, data []byte) error {
	marketABI := i.provider.MarketplaceABI()
	return marketABI.UnpackIntoInterface(out, eventName, data)
}

func (i *indexer) audit(ctx context.Context, action, entityID string, meta map[string]any) {
	_ = i.auditRepo.Log(ctx, models.AuditLog{
		ActorType:  "indexer",
		Action:     action,
		EntityType: "listing",
		EntityID:   &entityID,
		Meta:       meta,
	})
}
