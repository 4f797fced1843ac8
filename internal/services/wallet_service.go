package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/energy-marketplace/backend/internal/chain"
	"github.com/energy-marketplace/backend/internal/events"
	"github.com/energy-marketplace/backend/internal/metrics"
	"github.com/energy-marketplace/backend/internal/models"
)

// ErrConnectInProgress is returned when Connect is called while another
// connect is in flight. Concurrent connects are rejected, not interleaved,
// so the provider is never prompted for accounts twice.
var ErrConnectInProgress = errors.New("wallet connect already in progress")

var ErrNotConnected = errors.New("wallet is not connected")

// WalletService owns the single wallet session: connection state, address and
// balances. Created at application start in the disconnected state. All
// mutation happens inside this service under its lock; everything else reads
// snapshots (single-writer discipline, so a balance refresh can never race a
// purchase precondition check).
type WalletService struct {
	provider  chain.Provider
	auditRepo AuditStore
	publisher events.Publisher
	log       *zap.Logger

	mu              sync.Mutex
	state           string
	address         string
	tokenBalance    float64
	nativeBalance   float64
	providerPresent bool
	lastError       string
	connectedAt     *time.Time
	connecting      bool

	unsubscribe func()
}

func NewWalletService(provider chain.Provider, auditRepo AuditStore, publisher events.Publisher, log *zap.Logger) *WalletService {
	return &WalletService{
		provider:  provider,
		auditRepo: auditRepo,
		publisher: publisher,
		log:       log,
		state:     models.ConnStateDisconnected,
	}
}

// Start checks provider presence and registers the wallet-event subscription.
// Called once at startup; Stop unregisters.
func (s *WalletService) Start(ctx context.Context, es chain.EventSource) {
	s.CheckProviderPresence(ctx)
	if es != nil {
		s.unsubscribe = es.SubscribeWalletEvents(s.handleWalletEvent)
	}
}

func (s *WalletService) Stop() {
	if s.unsubscribe != nil {
		s.unsubscribe()
		s.unsubscribe = nil
	}
}

// CheckProviderPresence probes the provider and records the result. It only
// touches the presence flag and never fails.
func (s *WalletService) CheckProviderPresence(ctx context.Context) bool {
	present := s.provider != nil && s.provider.Present(ctx)
	s.mu.Lock()
	s.providerPresent = present
	s.mu.Unlock()
	return present
}

// Connect requests accounts from the provider and populates address and
// balances. Idempotent: calling while already connected returns the current
// address without contacting the provider.
func (s *WalletService) Connect(ctx context.Context) (string, error) {
	s.mu.Lock()
	if s.state == models.ConnStateConnected {
		addr := s.address
		s.mu.Unlock()
		return addr, nil
	}
	if s.connecting {
		s.mu.Unlock()
		return "", ErrConnectInProgress
	}
	if !s.providerPresent {
		s.state = models.ConnStateError
		s.lastError = "wallet provider is not available"
		s.mu.Unlock()
		metrics.WalletConnects.WithLabelValues("provider_absent").Inc()
		return "", chain.NewError(chain.KindProviderAbsent, "wallet provider is not available")
	}
	s.connecting = true
	s.state = models.ConnStateConnecting
	s.mu.Unlock()

	addr, err := s.provider.RequestAccounts(ctx)
	if err != nil {
		s.failConnect(ctx, err)
		return "", err
	}

	// Два независимых запроса баланса, результат объединяется
	native, err := s.provider.NativeBalance(ctx, addr)
	if err != nil {
		s.failConnect(ctx, err)
		return "", err
	}
	token, err := s.provider.TokenBalance(ctx, addr)
	if err != nil {
		s.failConnect(ctx, err)
		return "", err
	}

	now := time.Now().UTC()
	s.mu.Lock()
	s.state = models.ConnStateConnected
	s.address = addr
	s.nativeBalance = chain.FromWei(native)
	s.tokenBalance = chain.FromWei(token)
	s.lastError = ""
	s.connectedAt = &now
	s.connecting = false
	s.mu.Unlock()

	metrics.WalletConnects.WithLabelValues("connected").Inc()
	s.audit(ctx, "wallet_connected", map[string]any{"address": addr})
	s.publishState(ctx)
	s.log.Info("wallet connected", zap.String("address", addr))

	return addr, nil
}

func (s *WalletService) failConnect(ctx context.Context, err error) {
	reason := chain.Reason(err)
	s.mu.Lock()
	s.state = models.ConnStateError
	s.lastError = reason
	s.connecting = false
	s.mu.Unlock()

	metrics.WalletConnects.WithLabelValues(string(chain.KindOf(err))).Inc()
	s.audit(ctx, "wallet_connect_failed", map[string]any{"kind": string(chain.KindOf(err)), "reason": reason})
	s.publishState(ctx)
	s.log.Warn("wallet connect failed", zap.Error(err))
}

// RefreshBalances re-queries both balances. Callable only while connected.
// On failure prior balances stay untouched and lastError is set; the failure
// is non-fatal.
func (s *WalletService) RefreshBalances(ctx context.Context) error {
	s.mu.Lock()
	if s.state != models.ConnStateConnected {
		s.mu.Unlock()
		return ErrNotConnected
	}
	addr := s.address
	s.mu.Unlock()

	native, err := s.provider.NativeBalance(ctx, addr)
	if err == nil {
		tokenBal, terr := s.provider.TokenBalance(ctx, addr)
		if terr == nil {
			s.mu.Lock()
			s.nativeBalance = chain.FromWei(native)
			s.tokenBalance = chain.FromWei(tokenBal)
			s.lastError = ""
			s.mu.Unlock()

			_ = s.publisher.Publish(ctx, events.StreamMarket, events.Event{
				Type: events.EventBalancesRefreshed,
				Payload: map[string]any{
					"address":        addr,
					"token_balance":  chain.FromWei(tokenBal),
					"native_balance": chain.FromWei(native),
				},
			})
			return nil
		}
		err = terr
	}

	reason := chain.Reason(err)
	s.mu.Lock()
	s.lastError = reason
	s.mu.Unlock()
	s.log.Warn("balance refresh failed, keeping previous balances", zap.Error(err))
	return err
}

// Disconnect tears the session down to disconnected with zero balances.
func (s *WalletService) Disconnect(ctx context.Context) {
	s.mu.Lock()
	prev := s.address
	s.state = models.ConnStateDisconnected
	s.address = ""
	s.tokenBalance = 0
	s.nativeBalance = 0
	s.lastError = ""
	s.connectedAt = nil
	s.mu.Unlock()

	if prev != "" {
		s.audit(ctx, "wallet_disconnected", map[string]any{"address": prev})
	}
	s.publishState(ctx)
}

// Snapshot returns a read-only copy of the session state.
func (s *WalletService) Snapshot() models.WalletSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return models.WalletSnapshot{
		ConnectionState: s.state,
		Address:         s.address,
		TokenBalance:    s.tokenBalance,
		NativeBalance:   s.nativeBalance,
		ProviderPresent: s.providerPresent,
		LastError:       s.lastError,
		ConnectedAt:     s.connectedAt,
	}
}

// handleWalletEvent applies provider events to the session:
//   - accounts changed to empty: forced disconnect, zero balances
//   - accounts changed to a new address: reconnect
//   - chain changed: hard reset, contract bindings are chain-specific
func (s *WalletService) handleWalletEvent(ev chain.WalletEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch ev.Type {
	case chain.EventAccountsChanged:
		if len(ev.Accounts) == 0 {
			s.log.Info("provider accounts emptied, disconnecting")
			s.Disconnect(ctx)
			return
		}
		s.mu.Lock()
		same := s.state == models.ConnStateConnected && s.address == ev.Accounts[0]
		s.mu.Unlock()
		if same {
			return
		}
		s.Disconnect(ctx)
		if _, err := s.Connect(ctx); err != nil {
			s.log.Warn("reconnect after account change failed", zap.Error(err))
		}
	case chain.EventChainChanged:
		s.log.Warn("chain changed, resetting session")
		s.Disconnect(ctx)
		s.CheckProviderPresence(ctx)
	}
}

func (s *WalletService) audit(ctx context.Context, action string, meta map[string]any) {
	_ = s.auditRepo.Log(ctx, models.AuditLog{
		ActorType:  "user",
		Action:     action,
		EntityType: "wallet_session",
		Meta:       meta,
	})
}

func (s *WalletService) publishState(ctx context.Context) {
	snap := s.Snapshot()
	_ = s.publisher.Publish(ctx, events.StreamMarket, events.Event{
		Type: events.EventWalletStateChanged,
		Payload: map[string]any{
			"connection_state": snap.ConnectionState,
			"address":          snap.Address,
			"last_error":       snap.LastError,
		},
	})
}
