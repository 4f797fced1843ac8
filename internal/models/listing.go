package models

import "time"

// Energy sources
const (
	SourceSolar   = "solar"
	SourceWind    = "wind"
	SourceHydro   = "hydro"
	SourceBiomass = "biomass"
)

func IsValidSource(s string) bool {
	switch s {
	case SourceSolar, SourceWind, SourceHydro, SourceBiomass:
		return true
	}
	return false
}

// Listing is a unit of energy offered for sale. Listings are never deleted,
// only flagged unavailable after a confirmed purchase.
type Listing struct {
	ID           string    `json:"id"`
	Seller       string    `json:"seller"`
	EnergyAmount float64   `json:"energy_amount"` // kWh
	Price        float64   `json:"price"`         // EnergyToken units
	Source       string    `json:"source"`        // solar / wind / hydro / biomass
	Location     string    `json:"location"`
	Available    bool      `json:"available"`
	OnChainID    *uint64   `json:"on_chain_id,omitempty"` // contract-assigned id, set for indexed listings
	TxRef        *string   `json:"tx_ref,omitempty"`      // creation tx hash for live-mode listings
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
