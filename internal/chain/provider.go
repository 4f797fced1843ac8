package chain

import (
	"context"
	"math/big"

	"github.com/energy-marketplace/backend/internal/models"
)

type ReceiptState int

const (
	ReceiptPending ReceiptState = iota
	ReceiptSuccess
	ReceiptFailed
)

// Wallet event types
const (
	EventAccountsChanged = "accounts_changed"
	EventChainChanged    = "chain_changed"
)

// WalletEvent is delivered when the provider's account set or chain changes.
// An empty Accounts slice on accounts_changed means the wallet was locked or
// disconnected on the provider side.
type WalletEvent struct {
	Type     string
	Accounts []string
}

// EventSource delivers wallet events. The session subscribes exactly once at
// startup; the returned func unsubscribes on teardown.
type EventSource interface {
	SubscribeWalletEvents(handler func(WalletEvent)) (unsubscribe func())
}

// Provider is the external wallet/contract runtime: account discovery,
// balance queries, and transaction submission against the EnergyToken and
// EnergyMarketplace contracts. Approve and SubmitPurchase suspend until the
// transaction is mined (bounded by the provider's receipt timeout) and
// return the transaction hash.
//
// All failures are normalized into *Error before leaving an implementation.
type Provider interface {
	// Present reports whether the provider is reachable and on the expected
	// chain. It never returns an error.
	Present(ctx context.Context) bool

	ChainID(ctx context.Context) (*big.Int, error)
	RequestAccounts(ctx context.Context) (string, error)
	NativeBalance(ctx context.Context, addr string) (*big.Int, error)
	TokenBalance(ctx context.Context, addr string) (*big.Int, error)

	// Approve grants the marketplace contract an allowance of at least amount.
	Approve(ctx context.Context, amount *big.Int) (txRef string, err error)
	SubmitPurchase(ctx context.Context, listingID uint64) (txRef string, err error)
	CreateListing(ctx context.Context, energyAmount, price *big.Int, source, location string) (txRef string, err error)

	// GetListing returns nil without error when the id is unassigned.
	GetListing(ctx context.Context, id uint64) (*models.Listing, error)
	GetListingCount(ctx context.Context) (uint64, error)

	ReceiptStatus(ctx context.Context, txRef string) (ReceiptState, error)
}
