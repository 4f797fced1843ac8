// Package demo holds the static dataset served whenever the real backend is
// not engaged or returns an empty result set.
package demo

import (
	"time"

	"github.com/energy-marketplace/backend/internal/models"
)

// Listings returns the demo listing set, newest-first.
func Listings(now time.Time) []models.Listing {
	return []models.Listing{
		{
			ID: "1", Seller: "0x2A3b4C5d6E7f8a9B0c1D2e3F4a5B6c7D8E9F0a1B",
			EnergyAmount: 10, Price: 50, Source: models.SourceSolar, Location: "California",
			Available: true, CreatedAt: now.Add(-1 * time.Hour), UpdatedAt: now.Add(-1 * time.Hour),
		},
		{
			ID: "2", Seller: "0x3a4B5C6d7e8F9A0b1c2D3E4f5A6b7C8d9e0F1A2b",
			EnergyAmount: 5, Price: 30, Source: models.SourceWind, Location: "Texas",
			Available: true, CreatedAt: now.Add(-2 * time.Hour), UpdatedAt: now.Add(-2 * time.Hour),
		},
		{
			ID: "3", Seller: "0x4A5b6C7d8e9F0A1b2C3d4E5f6a7B8C9d0e1F2a3B",
			EnergyAmount: 15, Price: 70, Source: models.SourceHydro, Location: "Washington",
			Available: true, CreatedAt: now.Add(-3 * time.Hour), UpdatedAt: now.Add(-3 * time.Hour),
		},
		{
			ID: "4", Seller: "0x5a6B7C8d9e0F1A2b3c4D5E6f7A8b9C0d1e2F3A4b",
			EnergyAmount: 8, Price: 40, Source: models.SourceBiomass, Location: "Oregon",
			Available: true, CreatedAt: now.Add(-4 * time.Hour), UpdatedAt: now.Add(-4 * time.Hour),
		},
		{
			ID: "5", Seller: "0x6A7b8C9d0e1F2A3b4c5D6E7f8A9b0C1d2e3F4a5B",
			EnergyAmount: 20, Price: 90, Source: models.SourceSolar, Location: "Arizona",
			Available: true, CreatedAt: now.Add(-5 * time.Hour), UpdatedAt: now.Add(-5 * time.Hour),
		},
	}
}

// Transactions returns the demo trade history, newest-first.
func Transactions(now time.Time) []models.Transaction {
	return []models.Transaction{
		{
			ID: "t3", ListingID: "3",
			Seller: "0x9A0b1C2d3e4F5A6b7c8D9E0f1A2b3C4d5e6F7a8B",
			Buyer:  "0x1a2B3C4d5e6F7A8b9c0D1E2f3A4b5C6d7e8F9A0b",
			EnergyAmount: 5, Price: 25, Status: models.TxStatusPending,
			CreatedAt: now.Add(-12 * time.Hour),
		},
		{
			ID: "t1", ListingID: "1",
			Seller: "0x7a8B9C0d1e2F3A4b5c6D7E8f9A0b1C2d3e4F5A6b",
			Buyer:  "0x1a2B3C4d5e6F7A8b9c0D1E2f3A4b5C6d7e8F9A0b",
			EnergyAmount: 12, Price: 60, Status: models.TxStatusCompleted,
			CreatedAt: now.Add(-24 * time.Hour),
		},
		{
			ID: "t2", ListingID: "2",
			Seller: "0x1a2B3C4d5e6F7A8b9c0D1E2f3A4b5C6d7e8F9A0b",
			Buyer:  "0x8A9b0C1d2e3F4A5b6c7D8E9f0A1b2C3d4e5F6a7B",
			EnergyAmount: 8, Price: 40, Status: models.TxStatusCompleted,
			CreatedAt: now.Add(-48 * time.Hour),
		},
	}
}
