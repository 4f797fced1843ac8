package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/energy-marketplace/backend/internal/models"
)

const (
	statsCacheKey = "marketplace:stats"
	statsCacheTTL = 60 * time.Second
)

// MarketService computes dashboard aggregates over listings and transactions,
// with a short redis cache in front so the dashboard poll does not hammer
// postgres.
type MarketService struct {
	listingRepo ListingStore
	txRepo      TransactionStore
	rdb         *redis.Client
	log         *zap.Logger
}

func NewMarketService(listingRepo ListingStore, txRepo TransactionStore, rdb *redis.Client, log *zap.Logger) *MarketService {
	return &MarketService{listingRepo: listingRepo, txRepo: txRepo, rdb: rdb, log: log}
}

func (s *MarketService) Stats(ctx context.Context) (*models.MarketStats, error) {
	if cached, err := s.rdb.Get(ctx, statsCacheKey).Bytes(); err == nil {
		var stats models.MarketStats
		if err := json.Unmarshal(cached, &stats); err == nil {
			return &stats, nil
		}
	}

	stats, err := s.compute(ctx)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(stats); err == nil {
		if err := s.rdb.Set(ctx, statsCacheKey, data, statsCacheTTL).Err(); err != nil {
			s.log.Warn("failed to cache market stats", zap.Error(err))
		}
	}
	return stats, nil
}

// RefreshCache recomputes and stores the aggregates; the worker calls this on
// a timer so most API reads hit the cache.
func (s *MarketService) RefreshCache(ctx context.Context) error {
	stats, err := s.compute(ctx)
	if err != nil {
		return err
	}
	data, err := json.Marshal(stats)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, statsCacheKey, data, statsCacheTTL).Err()
}

func (s *MarketService) compute(ctx context.Context) (*models.MarketStats, error) {
	totalEnergy, err := s.listingRepo.TotalActiveEnergy(ctx)
	if err != nil {
		return nil, err
	}
	activeListings, err := s.listingRepo.CountActive(ctx)
	if err != nil {
		return nil, err
	}
	txCount, err := s.txRepo.Count(ctx)
	if err != nil {
		return nil, err
	}
	avgPrice, err := s.txRepo.AverageCompletedPrice(ctx)
	if err != nil {
		return nil, err
	}

	return &models.MarketStats{
		TotalEnergy:       totalEnergy,
		AveragePrice:      avgPrice,
		TotalTransactions: txCount,
		ActiveListings:    activeListings,
	}, nil
}

// Transactions returns the transaction feed, newest first.
func (s *MarketService) Transactions(ctx context.Context, limit, offset int) ([]models.Transaction, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.txRepo.List(ctx, limit, offset)
}
