package models

import "time"

// Wallet session connection states
const (
	ConnStateDisconnected = "disconnected"
	ConnStateConnecting   = "connecting"
	ConnStateConnected    = "connected"
	ConnStateError        = "error"
)

// WalletSnapshot is a read-only copy of the wallet session state. Only the
// session itself mutates the underlying fields; everything else reads copies.
type WalletSnapshot struct {
	ConnectionState string     `json:"connection_state"`
	Address         string     `json:"address,omitempty"`
	TokenBalance    float64    `json:"token_balance"`
	NativeBalance   float64    `json:"native_balance"`
	ProviderPresent bool       `json:"provider_present"`
	LastError       string     `json:"last_error,omitempty"`
	ConnectedAt     *time.Time `json:"connected_at,omitempty"`
}
