package dto

type AuthTokenRequest struct {
	AccessSecret string `json:"access_secret"`
	ClientID     string `json:"client_id"`
}

type CreateListingRequest struct {
	EnergyAmount float64 `json:"energy_amount"`
	Price        float64 `json:"price"`
	Source       string  `json:"source"`
	Location     string  `json:"location"`
}

type SetModeRequest struct {
	Live bool `json:"live"`
}
