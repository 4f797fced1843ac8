package models

import "time"

// Transaction statuses
const (
	TxStatusPending   = "pending"
	TxStatusCompleted = "completed"
	TxStatusFailed    = "failed"
)

// Transaction is a completed (or observed) energy trade.
type Transaction struct {
	ID           string    `json:"id"` // tx hash for live trades, random id for demo trades
	ListingID    string    `json:"listing_id"`
	Seller       string    `json:"seller"`
	Buyer        string    `json:"buyer"`
	EnergyAmount float64   `json:"energy_amount"`
	Price        float64   `json:"price"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
}

// MarketStats агрегаты для дашборда.
type MarketStats struct {
	TotalEnergy       float64 `json:"total_energy"`
	AveragePrice      float64 `json:"average_price"`
	TotalTransactions int     `json:"total_transactions"`
	ActiveListings    int     `json:"active_listings"`
}
