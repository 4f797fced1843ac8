package services

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/energy-marketplace/backend/internal/chain"
	"github.com/energy-marketplace/backend/internal/events"
	"github.com/energy-marketplace/backend/internal/metrics"
	"github.com/energy-marketplace/backend/internal/models"
	"github.com/energy-marketplace/backend/internal/repositories"
)

var ErrPurchaseInProgress = errors.New("purchase already in progress for this listing")

// PurchaseService drives the two-transaction purchase flow: token approve,
// then the marketplace purchase call. One attempt per listing at a time;
// concurrent submissions for the same listing are rejected up front.
type PurchaseService struct {
	provider chain.Provider
	wallet   *WalletService

	listingRepo ListingStore
	txRepo      TransactionStore
	auditRepo   AuditStore
	modeRepo    ModeStore
	publisher   events.Publisher
	log         *zap.Logger

	gasReserve *big.Int

	mu       sync.Mutex
	attempts map[string]*models.PurchaseAttempt
}

func NewPurchaseService(
	provider chain.Provider,
	wallet *WalletService,
	listingRepo ListingStore,
	txRepo TransactionStore,
	auditRepo AuditStore,
	modeRepo ModeStore,
	publisher events.Publisher,
	gasReserve *big.Int,
	log *zap.Logger,
) *PurchaseService {
	return &PurchaseService{
		provider:    provider,
		wallet:      wallet,
		listingRepo: listingRepo,
		txRepo:      txRepo,
		auditRepo:   auditRepo,
		modeRepo:    modeRepo,
		publisher:   publisher,
		log:         log,
		gasReserve:  gasReserve,
		attempts:    make(map[string]*models.PurchaseAttempt),
	}
}

// Attempt returns the latest purchase attempt for a listing, or nil.
func (s *PurchaseService) Attempt(listingID string) *models.PurchaseAttempt {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.attempts[listingID]; ok {
		cp := *a
		return &cp
	}
	return nil
}

// Purchase runs the full flow for one listing. Preconditions are checked
// before any provider call; a failed precondition produces a terminal attempt
// that never left the idle phase and costs the user nothing.
func (s *PurchaseService) Purchase(ctx context.Context, listingID string) (*models.PurchaseAttempt, error) {
	snap := s.wallet.Snapshot()

	s.mu.Lock()
	if prev, ok := s.attempts[listingID]; ok && prev.InFlight() {
		s.mu.Unlock()
		return nil, ErrPurchaseInProgress
	}
	attempt := &models.PurchaseAttempt{
		ListingID:    listingID,
		BuyerAddress: snap.Address,
		Phase:        models.PhaseIdle,
		StartedAt:    time.Now().UTC(),
	}
	s.attempts[listingID] = attempt
	s.mu.Unlock()

	listing, err := s.preflight(ctx, attempt, snap)
	if err != nil {
		return s.Attempt(listingID), err
	}
	s.mu.Lock()
	attempt.EnergyAmount = listing.EnergyAmount
	attempt.Price = listing.Price
	s.mu.Unlock()

	if !s.modeRepo.LiveMode(ctx) {
		return s.purchaseDemo(ctx, attempt, listing)
	}
	return s.purchaseLive(ctx, attempt, listing)
}

// preflight validates the session and listing without touching the provider.
// On failure the attempt is finalized in place, still in the idle phase.
func (s *PurchaseService) preflight(ctx context.Context, attempt *models.PurchaseAttempt, snap models.WalletSnapshot) (*models.Listing, error) {
	fail := func(kind chain.Kind, reason string) error {
		err := chain.NewError(kind, reason)
		s.finalizeIdle(ctx, attempt, err)
		return err
	}

	if snap.ConnectionState != models.ConnStateConnected {
		return nil, fail(chain.KindProviderAbsent, "connect a wallet before purchasing")
	}

	listing, err := s.listingRepo.GetByID(ctx, attempt.ListingID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, fail(chain.KindListingNotFound, "listing not found")
		}
		s.finalizeIdle(ctx, attempt, err)
		return nil, err
	}
	if !listing.Available {
		return nil, fail(chain.KindListingNotFound, "listing is no longer available")
	}
	if listing.Seller == snap.Address {
		return nil, fail(chain.KindUnknown, "cannot purchase your own listing")
	}
	if chain.ToWei(snap.NativeBalance).Cmp(s.gasReserve) < 0 {
		return nil, fail(chain.KindInsufficientFunds, "not enough ETH to cover gas")
	}
	if chain.ToWei(snap.TokenBalance).Cmp(chain.ToWei(listing.Price)) < 0 {
		return nil, fail(chain.KindInsufficientFunds,
			fmt.Sprintf("token balance %.2f is below listing price %.2f", snap.TokenBalance, listing.Price))
	}
	return listing, nil
}

func (s *PurchaseService) purchaseLive(ctx context.Context, attempt *models.PurchaseAttempt, listing *models.Listing) (*models.PurchaseAttempt, error) {
	if listing.OnChainID == nil {
		err := chain.NewError(chain.KindListingNotFound, "listing has no on-chain id")
		s.finalizeIdle(ctx, attempt, err)
		return s.Attempt(attempt.ListingID), err
	}

	if err := s.transition(ctx, attempt, models.PhaseApproving, ""); err != nil {
		return s.Attempt(attempt.ListingID), err
	}
	if _, err := s.provider.Approve(ctx, chain.ToWei(listing.Price)); err != nil {
		// Отказ на approve: до submit дело не доходит
		s.fail(ctx, attempt, err)
		return s.Attempt(attempt.ListingID), err
	}

	if err := s.transition(ctx, attempt, models.PhaseSubmitting, ""); err != nil {
		return s.Attempt(attempt.ListingID), err
	}
	txRef, err := s.provider.SubmitPurchase(ctx, *listing.OnChainID)
	if err != nil {
		if chain.KindOf(err) == chain.KindReceiptTimeout && txRef != "" {
			// Транзакция отправлена, квитанции нет: дозреет в воркере
			if terr := s.transition(ctx, attempt, models.PhasePendingReceipt, txRef); terr != nil {
				return s.Attempt(attempt.ListingID), terr
			}
			s.recordTransaction(ctx, attempt, listing, models.TxStatusPending)
			metrics.PurchaseAttempts.WithLabelValues("pending_receipt").Inc()
			return s.Attempt(attempt.ListingID), nil
		}
		s.fail(ctx, attempt, err)
		return s.Attempt(attempt.ListingID), err
	}

	if err := s.finalizeConfirmed(ctx, attempt, listing, txRef); err != nil {
		return s.Attempt(attempt.ListingID), err
	}
	return s.Attempt(attempt.ListingID), nil
}

// purchaseDemo walks the same phase machine without provider calls.
func (s *PurchaseService) purchaseDemo(ctx context.Context, attempt *models.PurchaseAttempt, listing *models.Listing) (*models.PurchaseAttempt, error) {
	if err := s.transition(ctx, attempt, models.PhaseApproving, ""); err != nil {
		return s.Attempt(attempt.ListingID), err
	}
	if err := s.transition(ctx, attempt, models.PhaseSubmitting, ""); err != nil {
		return s.Attempt(attempt.ListingID), err
	}
	txRef := "demo-" + uuid.New().String()
	if err := s.finalizeConfirmed(ctx, attempt, listing, txRef); err != nil {
		return s.Attempt(attempt.ListingID), err
	}
	return s.Attempt(attempt.ListingID), nil
}

func (s *PurchaseService) finalizeConfirmed(ctx context.Context, attempt *models.PurchaseAttempt, listing *models.Listing, txRef string) error {
	if err := s.transition(ctx, attempt, models.PhaseConfirmed, txRef); err != nil {
		return err
	}
	now := time.Now().UTC()
	s.mu.Lock()
	attempt.FinishedAt = &now
	s.mu.Unlock()

	if err := s.listingRepo.MarkUnavailable(ctx, listing.ID); err != nil && !errors.Is(err, repositories.ErrNotFound) {
		s.log.Error("failed to mark listing unavailable", zap.String("listing_id", listing.ID), zap.Error(err))
	}
	s.recordTransaction(ctx, attempt, listing, models.TxStatusCompleted)

	if err := s.wallet.RefreshBalances(ctx); err != nil && !errors.Is(err, ErrNotConnected) {
		s.log.Warn("post-purchase balance refresh failed", zap.Error(err))
	}

	metrics.PurchaseAttempts.WithLabelValues("confirmed").Inc()
	_ = s.publisher.Publish(ctx, events.StreamMarket, events.Event{
		Type: events.EventListingSold,
		Payload: map[string]any{
			"listing_id": listing.ID,
			"buyer":      attempt.BuyerAddress,
			"tx_ref":     txRef,
		},
	})
	_ = s.publisher.Publish(ctx, events.StreamMarket,
		events.Notification("info", "Purchase confirmed",
			fmt.Sprintf("Bought %.1f kWh for %.2f tokens", listing.EnergyAmount, listing.Price)))
	return nil
}

// FinalizePending resolves purchases whose receipt did not arrive within the
// bounded wait. In-process attempts are driven through the phase machine;
// persisted pending transaction rows are finalized too, so a separate worker
// process can complete purchases started by the API.
func (s *PurchaseService) FinalizePending(ctx context.Context) {
	// без провайдера квитанции не проверить
	if s.provider == nil {
		return
	}
	s.finalizePendingAttempts(ctx)
	s.finalizePendingRows(ctx)
}

func (s *PurchaseService) finalizePendingAttempts(ctx context.Context) {
	s.mu.Lock()
	var pending []*models.PurchaseAttempt
	for _, a := range s.attempts {
		if a.Phase == models.PhasePendingReceipt && a.TxRef != nil {
			pending = append(pending, a)
		}
	}
	s.mu.Unlock()

	for _, attempt := range pending {
		txRef := *attempt.TxRef
		state, err := s.provider.ReceiptStatus(ctx, txRef)
		if err != nil {
			s.log.Warn("receipt poll failed", zap.String("tx_ref", txRef), zap.Error(err))
			continue
		}
		switch state {
		case chain.ReceiptPending:
			continue
		case chain.ReceiptSuccess:
			listing, err := s.listingRepo.GetByID(ctx, attempt.ListingID)
			if err != nil {
				s.log.Error("pending attempt references unknown listing",
					zap.String("listing_id", attempt.ListingID), zap.Error(err))
				continue
			}
			if err := s.finalizeConfirmed(ctx, attempt, listing, txRef); err != nil {
				s.log.Error("failed to finalize pending purchase", zap.Error(err))
			}
			if err := s.txRepo.UpdateStatus(ctx, txRef, models.TxStatusCompleted); err != nil {
				s.log.Error("failed to update transaction status", zap.Error(err))
			}
		case chain.ReceiptFailed:
			s.fail(ctx, attempt, chain.NewError(chain.KindUnknown, "transaction reverted"))
			if err := s.txRepo.UpdateStatus(ctx, txRef, models.TxStatusFailed); err != nil {
				s.log.Error("failed to update transaction status", zap.Error(err))
			}
		}
	}
}

// finalizePendingRows completes persisted pending transactions by receipt.
// The attempt path is a no-op here when the row was already finalized in
// process; status updates are idempotent.
func (s *PurchaseService) finalizePendingRows(ctx context.Context) {
	rows, err := s.txRepo.ListPending(ctx, 100)
	if err != nil {
		s.log.Error("failed to list pending transactions", zap.Error(err))
		return
	}
	for _, tx := range rows {
		state, err := s.provider.ReceiptStatus(ctx, tx.ID)
		if err != nil {
			s.log.Warn("receipt poll failed", zap.String("tx_ref", tx.ID), zap.Error(err))
			continue
		}
		switch state {
		case chain.ReceiptPending:
			continue
		case chain.ReceiptSuccess:
			if err := s.txRepo.UpdateStatus(ctx, tx.ID, models.TxStatusCompleted); err != nil {
				s.log.Error("failed to update transaction status", zap.Error(err))
				continue
			}
			if err := s.listingRepo.MarkUnavailable(ctx, tx.ListingID); err != nil && !errors.Is(err, repositories.ErrNotFound) {
				s.log.Error("failed to mark listing unavailable", zap.String("listing_id", tx.ListingID), zap.Error(err))
			}
			metrics.PurchaseAttempts.WithLabelValues("confirmed").Inc()
			_ = s.publisher.Publish(ctx, events.StreamMarket, events.Event{
				Type: events.EventListingSold,
				Payload: map[string]any{
					"listing_id": tx.ListingID,
					"buyer":      tx.Buyer,
					"tx_ref":     tx.ID,
				},
			})
		case chain.ReceiptFailed:
			if err := s.txRepo.UpdateStatus(ctx, tx.ID, models.TxStatusFailed); err != nil {
				s.log.Error("failed to update transaction status", zap.Error(err))
			}
		}
	}
}

// transition moves an attempt to the next phase, rejecting anything outside
// the allowed graph, then audits and publishes the change.
func (s *PurchaseService) transition(ctx context.Context, attempt *models.PurchaseAttempt, to string, txRef string) error {
	s.mu.Lock()
	from := attempt.Phase
	if !models.IsValidPhaseTransition(from, to) {
		s.mu.Unlock()
		return fmt.Errorf("invalid purchase phase transition: %s -> %s", from, to)
	}
	attempt.Phase = to
	if txRef != "" {
		ref := txRef
		attempt.TxRef = &ref
	}
	s.mu.Unlock()

	s.audit(ctx, "purchase_phase_changed", attempt.ListingID, map[string]any{
		"from": from, "to": to, "tx_ref": txRef,
	})
	_ = s.publisher.Publish(ctx, events.StreamMarket, events.Event{
		Type: events.EventPurchasePhaseChanged,
		Payload: map[string]any{
			"listing_id": attempt.ListingID,
			"from":       from,
			"to":         to,
		},
	})
	s.log.Info("purchase phase",
		zap.String("listing_id", attempt.ListingID),
		zap.String("from", from),
		zap.String("to", to))
	return nil
}

// fail moves an attempt to the failed phase with a normalized error.
func (s *PurchaseService) fail(ctx context.Context, attempt *models.PurchaseAttempt, cause error) {
	norm := chain.Normalize(cause)
	kind := chain.KindOf(norm)

	if err := s.transition(ctx, attempt, models.PhaseFailed, ""); err != nil {
		s.log.Error("failed to fail purchase attempt", zap.Error(err))
	}
	now := time.Now().UTC()
	kindStr, reason := string(kind), chain.Reason(norm)
	s.mu.Lock()
	attempt.FailureKind = &kindStr
	attempt.FailureText = &reason
	attempt.FinishedAt = &now
	s.mu.Unlock()

	metrics.PurchaseAttempts.WithLabelValues(string(kind)).Inc()
	_ = s.publisher.Publish(ctx, events.StreamMarket,
		events.Notification("error", "Purchase failed", chain.Reason(norm)))
}

// finalizeIdle finalizes a precondition failure: the attempt never leaves
// the idle phase and no provider call has happened.
func (s *PurchaseService) finalizeIdle(ctx context.Context, attempt *models.PurchaseAttempt, cause error) {
	norm := chain.Normalize(cause)
	kind := chain.KindOf(norm)
	now := time.Now().UTC()
	kindStr, reason := string(kind), chain.Reason(norm)

	s.mu.Lock()
	attempt.FailureKind = &kindStr
	attempt.FailureText = &reason
	attempt.FinishedAt = &now
	s.mu.Unlock()

	metrics.PurchaseAttempts.WithLabelValues("precondition_" + string(kind)).Inc()
	s.audit(ctx, "purchase_rejected", attempt.ListingID, map[string]any{
		"kind": string(kind), "reason": chain.Reason(norm),
	})
	_ = s.publisher.Publish(ctx, events.StreamMarket,
		events.Notification("error", "Purchase rejected", chain.Reason(norm)))
}

func (s *PurchaseService) recordTransaction(ctx context.Context, attempt *models.PurchaseAttempt, listing *models.Listing, status string) {
	tx := &models.Transaction{
		ListingID:    listing.ID,
		Seller:       listing.Seller,
		Buyer:        attempt.BuyerAddress,
		EnergyAmount: listing.EnergyAmount,
		Price:        listing.Price,
		Status:       status,
		CreatedAt:    time.Now().UTC(),
	}
	if attempt.TxRef != nil {
		tx.ID = *attempt.TxRef
	} else {
		tx.ID = uuid.New().String()
	}
	if err := s.txRepo.Create(ctx, tx); err != nil {
		s.log.Error("failed to record transaction", zap.String("listing_id", listing.ID), zap.Error(err))
	}
}

func (s *PurchaseService) audit(ctx context.Context, action, entityID string, meta map[string]any) {
	_ = s.auditRepo.Log(ctx, models.AuditLog{
		ActorType:  "user",
		Action:     action,
		EntityType: "purchase",
		EntityID:   &entityID,
		Meta:       meta,
	})
}
