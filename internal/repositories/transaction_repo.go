package repositories

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/energy-marketplace/backend/internal/models"
)

type TransactionRepo struct {
	pool *pgxpool.Pool
}

func NewTransactionRepo(pool *pgxpool.Pool) *TransactionRepo {
	return &TransactionRepo{pool: pool}
}

func (r *TransactionRepo) Create(ctx context.Context, t *models.Transaction) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO transactions (id, listing_id, seller, buyer, energy_amount, price, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING
	`, t.ID, t.ListingID, t.Seller, t.Buyer, t.EnergyAmount, t.Price, t.Status, t.CreatedAt)
	return err
}

func (r *TransactionRepo) UpdateStatus(ctx context.Context, id, status string) error {
	_, err := r.pool.Exec(ctx, `UPDATE transactions SET status = $1 WHERE id = $2`, status, id)
	return err
}

// List returns transactions newest-first.
func (r *TransactionRepo) List(ctx context.Context, limit, offset int) ([]models.Transaction, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, listing_id, seller, buyer, energy_amount, price, status, created_at
		FROM transactions
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []models.Transaction
	for rows.Next() {
		var t models.Transaction
		if err := rows.Scan(&t.ID, &t.ListingID, &t.Seller, &t.Buyer, &t.EnergyAmount, &t.Price, &t.Status, &t.CreatedAt); err != nil {
			return nil, err
		}
		txs = append(txs, t)
	}
	return txs, rows.Err()
}

// ListPending returns pending transactions whose id is a tx hash, oldest
// first, for receipt finalization.
func (r *TransactionRepo) ListPending(ctx context.Context, limit int) ([]models.Transaction, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, listing_id, seller, buyer, energy_amount, price, status, created_at
		FROM transactions
		WHERE status = 'pending' AND id LIKE '0x%'
		ORDER BY created_at ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []models.Transaction
	for rows.Next() {
		var t models.Transaction
		if err := rows.Scan(&t.ID, &t.ListingID, &t.Seller, &t.Buyer, &t.EnergyAmount, &t.Price, &t.Status, &t.CreatedAt); err != nil {
			return nil, err
		}
		txs = append(txs, t)
	}
	return txs, rows.Err()
}

func (r *TransactionRepo) Count(ctx context.Context) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT count(*) FROM transactions`).Scan(&n)
	return n, err
}

func (r *TransactionRepo) AverageCompletedPrice(ctx context.Context) (float64, error) {
	var avg float64
	err := r.pool.QueryRow(ctx, `
		SELECT COALESCE(avg(price / NULLIF(energy_amount, 0)), 0)
		FROM transactions WHERE status = 'completed'
	`).Scan(&avg)
	return avg, err
}
