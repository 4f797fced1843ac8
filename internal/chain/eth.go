package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"github.com/energy-marketplace/backend/internal/config"
	"github.com/energy-marketplace/backend/internal/models"
)

const chainPollInterval = 15 * time.Second

// EthProvider talks to the EnergyToken / EnergyMarketplace pair over JSON-RPC
// with a locally held operator key.
type EthProvider struct {
	client         *ethclient.Client
	chainID        *big.Int // expected chain, from config
	key            *ecdsa.PrivateKey
	from           common.Address
	marketAddr     common.Address
	token          *bind.BoundContract
	market         *bind.BoundContract
	marketABI      abi.ABI
	receiptTimeout time.Duration
	log            *zap.Logger

	mu       sync.Mutex
	handlers []func(WalletEvent)
	stopPoll chan struct{}
	pollOnce sync.Once
}

func NewEthProvider(ctx context.Context, cfg *config.Config, log *zap.Logger) (*EthProvider, error) {
	if cfg.TokenContract == "" || cfg.MarketplaceContract == "" {
		return nil, NewError(KindProviderAbsent, "contract addresses are not configured")
	}
	if cfg.OperatorKey == "" {
		return nil, NewError(KindProviderAbsent, "operator key is not configured")
	}

	client, err := ethclient.DialContext(ctx, cfg.EthRPCURL)
	if err != nil {
		return nil, Normalize(fmt.Errorf("dial %s: %w", cfg.EthRPCURL, err))
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.OperatorKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse operator key: %w", err)
	}

	tokenABI, err := abi.JSON(strings.NewReader(energyTokenABI))
	if err != nil {
		return nil, fmt.Errorf("parse token abi: %w", err)
	}
	marketABI, err := abi.JSON(strings.NewReader(energyMarketplaceABI))
	if err != nil {
		return nil, fmt.Errorf("parse marketplace abi: %w", err)
	}

	tokenAddr := common.HexToAddress(cfg.TokenContract)
	marketAddr := common.HexToAddress(cfg.MarketplaceContract)

	p := &EthProvider{
		client:         client,
		chainID:        big.NewInt(cfg.ChainID),
		key:            key,
		from:           crypto.PubkeyToAddress(key.PublicKey),
		marketAddr:     marketAddr,
		token:          bind.NewBoundContract(tokenAddr, tokenABI, client, client, client),
		market:         bind.NewBoundContract(marketAddr, marketABI, client, client, client),
		marketABI:      marketABI,
		receiptTimeout: cfg.ReceiptTimeout,
		log:            log,
		stopPoll:       make(chan struct{}),
	}
	return p, nil
}

// Client exposes the underlying RPC client for the indexer.
func (p *EthProvider) Client() *ethclient.Client { return p.client }

// MarketplaceABI exposes the parsed ABI for event decoding in the indexer.
func (p *EthProvider) MarketplaceABI() abi.ABI { return p.marketABI }

func (p *EthProvider) MarketplaceAddress() common.Address { return p.marketAddr }

func (p *EthProvider) Present(ctx context.Context) bool {
	id, err := p.client.ChainID(ctx)
	if err != nil {
		return false
	}
	return id.Cmp(p.chainID) == 0
}

func (p *EthProvider) ChainID(ctx context.Context) (*big.Int, error) {
	id, err := p.client.ChainID(ctx)
	if err != nil {
		return nil, Normalize(err)
	}
	return id, nil
}

func (p *EthProvider) RequestAccounts(ctx context.Context) (string, error) {
	id, err := p.client.ChainID(ctx)
	if err != nil {
		return "", Normalize(err)
	}
	if id.Cmp(p.chainID) != 0 {
		return "", &Error{
			Kind:   KindNetworkMismatch,
			Reason: fmt.Sprintf("wrong chain: expected %s, node reports %s", p.chainID, id),
		}
	}
	return p.from.Hex(), nil
}

func (p *EthProvider) NativeBalance(ctx context.Context, addr string) (*big.Int, error) {
	bal, err := p.client.BalanceAt(ctx, common.HexToAddress(addr), nil)
	if err != nil {
		return nil, Normalize(err)
	}
	return bal, nil
}

func (p *EthProvider) TokenBalance(ctx context.Context, addr string) (*big.Int, error) {
	var out []interface{}
	err := p.token.Call(&bind.CallOpts{Context: ctx}, &out, "balanceOf", common.HexToAddress(addr))
	if err != nil {
		return nil, Normalize(err)
	}
	bal, ok := out[0].(*big.Int)
	if !ok {
		return nil, NewError(KindUnknown, "unexpected balanceOf result")
	}
	return bal, nil
}

func (p *EthProvider) Approve(ctx context.Context, amount *big.Int) (string, error) {
	opts, err := p.transactor(ctx)
	if err != nil {
		return "", err
	}
	tx, err := p.token.Transact(opts, "approve", p.marketAddr, amount)
	if err != nil {
		return "", Normalize(err)
	}
	return p.waitMined(ctx, tx)
}

func (p *EthProvider) SubmitPurchase(ctx context.Context, listingID uint64) (string, error) {
	opts, err := p.transactor(ctx)
	if err != nil {
		return "", err
	}
	tx, err := p.market.Transact(opts, "purchaseListing", new(big.Int).SetUint64(listingID))
	if err != nil {
		return "", Normalize(err)
	}
	return p.waitMined(ctx, tx)
}

func (p *EthProvider) CreateListing(ctx context.Context, energyAmount, price *big.Int, source, location string) (string, error) {
	opts, err := p.transactor(ctx)
	if err != nil {
		return "", err
	}
	tx, err := p.market.Transact(opts, "createListing", energyAmount, price, source, location)
	if err != nil {
		return "", Normalize(err)
	}
	return p.waitMined(ctx, tx)
}

func (p *EthProvider) GetListing(ctx context.Context, id uint64) (*models.Listing, error) {
	var out []interface{}
	err := p.market.Call(&bind.CallOpts{Context: ctx}, &out, "listings", new(big.Int).SetUint64(id))
	if err != nil {
		return nil, Normalize(err)
	}
	return decodeListingSlot(id, out)
}

// decodeListingSlot maps the contract's listings(id) tuple to a model. A zero
// seller address means the slot was never assigned.
func decodeListingSlot(id uint64, out []interface{}) (*models.Listing, error) {
	if len(out) < 8 {
		return nil, NewError(KindUnknown, "unexpected listings result")
	}

	seller, _ := out[1].(common.Address)
	if seller == (common.Address{}) {
		return nil, nil
	}

	energy, okEnergy := out[2].(*big.Int)
	price, okPrice := out[3].(*big.Int)
	source, okSource := out[4].(string)
	location, okLocation := out[5].(string)
	ts, okTS := out[6].(*big.Int)
	available, okAvail := out[7].(bool)
	if !okEnergy || !okPrice || !okSource || !okLocation || !okTS || !okAvail {
		return nil, NewError(KindUnknown, "unexpected listings result")
	}

	onChainID := id
	createdAt := time.Unix(ts.Int64(), 0).UTC()

	l := &models.Listing{
		// префикс отделяет on-chain id от локальных идентификаторов
		ID:           "chain-" + strconv.FormatUint(id, 10),
		Seller:       seller.Hex(),
		EnergyAmount: FromWei(energy),
		Price:        FromWei(price),
		Source:       source,
		Location:     location,
		Available:    available,
		OnChainID:    &onChainID,
		CreatedAt:    createdAt,
		UpdatedAt:    createdAt,
	}
	return l, nil
}

func (p *EthProvider) GetListingCount(ctx context.Context) (uint64, error) {
	var out []interface{}
	err := p.market.Call(&bind.CallOpts{Context: ctx}, &out, "getListingCount")
	if err != nil {
		return 0, Normalize(err)
	}
	count, ok := out[0].(*big.Int)
	if !ok {
		return 0, NewError(KindUnknown, "unexpected getListingCount result")
	}
	return count.Uint64(), nil
}

func (p *EthProvider) ReceiptStatus(ctx context.Context, txRef string) (ReceiptState, error) {
	receipt, err := p.client.TransactionReceipt(ctx, common.HexToHash(txRef))
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return ReceiptPending, nil
		}
		return ReceiptPending, Normalize(err)
	}
	if receipt.Status == types.ReceiptStatusSuccessful {
		return ReceiptSuccess, nil
	}
	return ReceiptFailed, nil
}

// SubscribeWalletEvents starts (once) a chain-id poller and delivers a
// chain_changed event when the node reports a different chain than the one
// observed at the previous poll. Accounts are fixed for a keyed wallet, so
// accounts_changed is never emitted by this implementation.
func (p *EthProvider) SubscribeWalletEvents(handler func(WalletEvent)) func() {
	p.mu.Lock()
	p.handlers = append(p.handlers, handler)
	idx := len(p.handlers) - 1
	p.mu.Unlock()

	p.pollOnce.Do(func() { go p.pollChain() })

	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.handlers[idx] = nil
	}
}

func (p *EthProvider) Close() {
	close(p.stopPoll)
	p.client.Close()
}

func (p *EthProvider) pollChain() {
	ticker := time.NewTicker(chainPollInterval)
	defer ticker.Stop()

	var last *big.Int
	for {
		select {
		case <-p.stopPoll:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			id, err := p.client.ChainID(ctx)
			cancel()
			if err != nil {
				continue
			}
			if last != nil && id.Cmp(last) != 0 {
				p.log.Warn("chain changed", zap.String("from", last.String()), zap.String("to", id.String()))
				p.emit(WalletEvent{Type: EventChainChanged})
			}
			last = id
		}
	}
}

func (p *EthProvider) emit(ev WalletEvent) {
	p.mu.Lock()
	handlers := make([]func(WalletEvent), len(p.handlers))
	copy(handlers, p.handlers)
	p.mu.Unlock()

	for _, h := range handlers {
		if h != nil {
			h(ev)
		}
	}
}

func (p *EthProvider) transactor(ctx context.Context) (*bind.TransactOpts, error) {
	opts, err := bind.NewKeyedTransactorWithChainID(p.key, p.chainID)
	if err != nil {
		return nil, Normalize(err)
	}
	opts.Context = ctx
	return opts, nil
}

// waitMined waits for the receipt within the configured bound. On timeout the
// tx hash is still returned so the caller can track the pending transaction.
func (p *EthProvider) waitMined(ctx context.Context, tx *types.Transaction) (string, error) {
	waitCtx, cancel := context.WithTimeout(ctx, p.receiptTimeout)
	defer cancel()

	receipt, err := bind.WaitMined(waitCtx, p.client, tx)
	if err != nil {
		if errors.Is(waitCtx.Err(), context.DeadlineExceeded) {
			return tx.Hash().Hex(), &Error{
				Kind:   KindReceiptTimeout,
				Reason: "transaction broadcast, receipt still pending",
				Cause:  err,
			}
		}
		return tx.Hash().Hex(), Normalize(err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return tx.Hash().Hex(), NewError(KindUnknown, "transaction reverted")
	}
	return tx.Hash().Hex(), nil
}
