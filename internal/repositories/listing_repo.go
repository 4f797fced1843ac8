package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/energy-marketplace/backend/internal/models"
)

var ErrNotFound = errors.New("not found")

type ListingRepo struct {
	pool *pgxpool.Pool
}

func NewListingRepo(pool *pgxpool.Pool) *ListingRepo {
	return &ListingRepo{pool: pool}
}

const listingColumns = `id, seller, energy_amount, price, source, location, available, on_chain_id, tx_ref, created_at, updated_at`

func (r *ListingRepo) Create(ctx context.Context, l *models.Listing) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO listings (id, seller, energy_amount, price, source, location, available, on_chain_id, tx_ref, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
	`, l.ID, l.Seller, l.EnergyAmount, l.Price, l.Source, l.Location, l.Available, l.OnChainID, l.TxRef, l.CreatedAt)
	return err
}

// Upsert inserts a listing or refreshes the mutable fields of an existing one.
// Used by the startup seed and the chain indexer.
func (r *ListingRepo) Upsert(ctx context.Context, l *models.Listing) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO listings (id, seller, energy_amount, price, source, location, available, on_chain_id, tx_ref, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
		ON CONFLICT (id) DO UPDATE SET
			available = EXCLUDED.available,
			on_chain_id = COALESCE(EXCLUDED.on_chain_id, listings.on_chain_id),
			updated_at = now()
	`, l.ID, l.Seller, l.EnergyAmount, l.Price, l.Source, l.Location, l.Available, l.OnChainID, l.TxRef, l.CreatedAt)
	return err
}

func (r *ListingRepo) GetByID(ctx context.Context, id string) (*models.Listing, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+listingColumns+` FROM listings WHERE id = $1`, id)
	return scanListing(row)
}

func (r *ListingRepo) GetByOnChainID(ctx context.Context, onChainID uint64) (*models.Listing, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+listingColumns+` FROM listings WHERE on_chain_id = $1`, onChainID)
	return scanListing(row)
}

type ListingFilter struct {
	Source        *string
	AvailableOnly bool
	Limit         int
	Offset        int
}

// List returns listings newest-first.
func (r *ListingRepo) List(ctx context.Context, f ListingFilter) ([]models.Listing, error) {
	query := `SELECT ` + listingColumns + ` FROM listings`
	args := []any{}
	argIdx := 1
	where := []string{}

	if f.Source != nil {
		where = append(where, fmt.Sprintf("source = $%d", argIdx))
		args = append(args, *f.Source)
		argIdx++
	}
	if f.AvailableOnly {
		where = append(where, "available = true")
	}
	if len(where) > 0 {
		query += " WHERE "
		for i, w := range where {
			if i > 0 {
				query += " AND "
			}
			query += w
		}
	}

	limit := f.Limit
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", argIdx, argIdx+1)
	args = append(args, limit, f.Offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var listings []models.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, err
		}
		listings = append(listings, *l)
	}
	return listings, rows.Err()
}

// MarkUnavailable flags a listing sold. It never deletes.
func (r *ListingRepo) MarkUnavailable(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE listings SET available = false, updated_at = now() WHERE id = $1
	`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *ListingRepo) CountActive(ctx context.Context) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT count(*) FROM listings WHERE available = true`).Scan(&n)
	return n, err
}

func (r *ListingRepo) TotalActiveEnergy(ctx context.Context) (float64, error) {
	var total float64
	err := r.pool.QueryRow(ctx, `SELECT COALESCE(sum(energy_amount), 0) FROM listings WHERE available = true`).Scan(&total)
	return total, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanListing(row rowScanner) (*models.Listing, error) {
	var l models.Listing
	err := row.Scan(&l.ID, &l.Seller, &l.EnergyAmount, &l.Price, &l.Source, &l.Location,
		&l.Available, &l.OnChainID, &l.TxRef, &l.CreatedAt, &l.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}
