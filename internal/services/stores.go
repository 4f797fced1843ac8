package services

import (
	"context"

	"github.com/energy-marketplace/backend/internal/models"
	"github.com/energy-marketplace/backend/internal/repositories"
)

// Store interfaces consumed by the services. The pgx repositories satisfy
// them; tests substitute in-memory fakes.

type ListingStore interface {
	Create(ctx context.Context, l *models.Listing) error
	Upsert(ctx context.Context, l *models.Listing) error
	GetByID(ctx context.Context, id string) (*models.Listing, error)
	GetByOnChainID(ctx context.Context, onChainID uint64) (*models.Listing, error)
	List(ctx context.Context, f repositories.ListingFilter) ([]models.Listing, error)
	MarkUnavailable(ctx context.Context, id string) error
	CountActive(ctx context.Context) (int, error)
	TotalActiveEnergy(ctx context.Context) (float64, error)
}

type TransactionStore interface {
	Create(ctx context.Context, t *models.Transaction) error
	UpdateStatus(ctx context.Context, id, status string) error
	List(ctx context.Context, limit, offset int) ([]models.Transaction, error)
	ListPending(ctx context.Context, limit int) ([]models.Transaction, error)
	Count(ctx context.Context) (int, error)
	AverageCompletedPrice(ctx context.Context) (float64, error)
}

type AuditStore interface {
	Log(ctx context.Context, entry models.AuditLog) error
}

// ModeStore persists the "use real backend" toggle.
type ModeStore interface {
	LiveMode(ctx context.Context) bool
	SetLiveMode(ctx context.Context, enabled bool) error
}
