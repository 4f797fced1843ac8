package demo

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/energy-marketplace/backend/internal/models"
	"github.com/energy-marketplace/backend/internal/repositories"
)

type listingStore interface {
	Create(ctx context.Context, l *models.Listing) error
	GetByID(ctx context.Context, id string) (*models.Listing, error)
}

type transactionStore interface {
	Create(ctx context.Context, t *models.Transaction) error
}

// Seed loads the demo dataset into the stores on startup. Existing rows are
// left untouched so a purchased demo listing stays purchased across restarts.
func Seed(ctx context.Context, listings listingStore, txs transactionStore, log *zap.Logger) error {
	now := time.Now().UTC()

	seeded := 0
	for _, l := range Listings(now) {
		if _, err := listings.GetByID(ctx, l.ID); err == nil {
			continue
		} else if !errors.Is(err, repositories.ErrNotFound) {
			return err
		}
		l := l
		if err := listings.Create(ctx, &l); err != nil {
			return err
		}
		seeded++
	}

	for _, t := range Transactions(now) {
		t := t
		// транзакции вставляются с ON CONFLICT DO NOTHING
		if err := txs.Create(ctx, &t); err != nil {
			return err
		}
	}

	if seeded > 0 {
		log.Info("demo dataset seeded", zap.Int("listings", seeded))
	}
	return nil
}
