package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/energy-marketplace/backend/internal/chain"
	"github.com/energy-marketplace/backend/internal/events"
	"github.com/energy-marketplace/backend/internal/metrics"
	"github.com/energy-marketplace/backend/internal/models"
	"github.com/energy-marketplace/backend/internal/repositories"
)

var (
	ErrInvalidListing   = errors.New("invalid listing fields")
	ErrWalletRequired   = errors.New("wallet connection required")
	ErrProviderRequired = errors.New("wallet provider required for live mode")
)

// ListingService serves the marketplace catalogue. In live mode listings come
// from the marketplace contract and are mirrored into postgres; in demo mode
// the seeded demo rows are served directly.
type ListingService struct {
	provider    chain.Provider
	wallet      *WalletService
	listingRepo ListingStore
	auditRepo   AuditStore
	modeRepo    ModeStore
	publisher   events.Publisher
	log         *zap.Logger
}

func NewListingService(
	provider chain.Provider,
	wallet *WalletService,
	listingRepo ListingStore,
	auditRepo AuditStore,
	modeRepo ModeStore,
	publisher events.Publisher,
	log *zap.Logger,
) *ListingService {
	return &ListingService{
		provider:    provider,
		wallet:      wallet,
		listingRepo: listingRepo,
		auditRepo:   auditRepo,
		modeRepo:    modeRepo,
		publisher:   publisher,
		log:         log,
	}
}

// Fetch returns available listings, newest first. In live mode it walks the
// contract's listing array and mirrors active entries locally; if the chain
// yields nothing (fresh contract, RPC trouble) the local rows are the
// fallback, so the marketplace never renders empty.
func (s *ListingService) Fetch(ctx context.Context, f repositories.ListingFilter) ([]models.Listing, error) {
	if s.modeRepo.LiveMode(ctx) {
		if n, err := s.syncFromChain(ctx); err != nil {
			s.log.Warn("chain listing sync failed, serving local rows", zap.Error(err))
		} else if n > 0 {
			s.log.Debug("synced listings from chain", zap.Int("count", n))
		}
	}
	f.AvailableOnly = true
	return s.listingRepo.List(ctx, f)
}

func (s *ListingService) Get(ctx context.Context, id string) (*models.Listing, error) {
	return s.listingRepo.GetByID(ctx, id)
}

// syncFromChain mirrors the contract's active listings into the local store.
// Returns the number of active listings seen on chain.
func (s *ListingService) syncFromChain(ctx context.Context) (int, error) {
	if s.provider == nil {
		return 0, chain.NewError(chain.KindProviderAbsent, "chain provider is not configured")
	}
	count, err := s.provider.GetListingCount(ctx)
	if err != nil {
		return 0, err
	}
	active := 0
	for id := uint64(0); id < count; id++ {
		l, err := s.provider.GetListing(ctx, id)
		if err != nil {
			return active, fmt.Errorf("get listing %d: %w", id, err)
		}
		if l == nil || !l.Available {
			continue
		}
		active++
		// листинг, созданный через API, уже лежит под своим id
		if existing, err := s.listingRepo.GetByOnChainID(ctx, id); err == nil {
			l.ID = existing.ID
		} else if !errors.Is(err, repositories.ErrNotFound) {
			s.log.Error("failed to look up chain listing", zap.Uint64("on_chain_id", id), zap.Error(err))
			continue
		}
		if err := s.listingRepo.Upsert(ctx, l); err != nil {
			s.log.Error("failed to mirror chain listing", zap.Uint64("on_chain_id", id), zap.Error(err))
		}
	}
	return active, nil
}

// Create validates and publishes a new listing. Validation happens before any
// chain submission: positive energy amount and price, a known source, and a
// non-empty location.
func (s *ListingService) Create(ctx context.Context, energyAmount, price float64, source, location string) (*models.Listing, error) {
	if energyAmount <= 0 || price <= 0 {
		return nil, fmt.Errorf("%w: energy amount and price must be positive", ErrInvalidListing)
	}
	if !models.IsValidSource(source) {
		return nil, fmt.Errorf("%w: unknown source %q", ErrInvalidListing, source)
	}
	if location == "" {
		return nil, fmt.Errorf("%w: location is required", ErrInvalidListing)
	}

	snap := s.wallet.Snapshot()
	if snap.ConnectionState != models.ConnStateConnected {
		return nil, ErrWalletRequired
	}

	now := time.Now().UTC()
	listing := &models.Listing{
		Seller:       snap.Address,
		EnergyAmount: energyAmount,
		Price:        price,
		Source:       source,
		Location:     location,
		Available:    true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	live := s.modeRepo.LiveMode(ctx)
	if live {
		txRef, err := s.provider.CreateListing(ctx,
			chain.ToWei(energyAmount), chain.ToWei(price), source, location)
		if err != nil {
			norm := chain.Normalize(err)
			_ = s.publisher.Publish(ctx, events.StreamMarket,
				events.Notification("error", "Listing failed", chain.Reason(norm)))
			return nil, norm
		}
		listing.ID = txRef
		listing.TxRef = &txRef
	} else {
		listing.ID = uuid.New().String()
	}

	if err := s.listingRepo.Create(ctx, listing); err != nil {
		return nil, err
	}

	mode := "demo"
	if live {
		mode = "live"
	}
	metrics.ListingsCreated.WithLabelValues(mode).Inc()
	s.audit(ctx, "listing_created", listing.ID, map[string]any{
		"seller": listing.Seller, "energy_amount": energyAmount, "price": price, "mode": mode,
	})
	_ = s.publisher.Publish(ctx, events.StreamMarket, events.Event{
		Type: events.EventListingCreated,
		Payload: map[string]any{
			"listing_id":    listing.ID,
			"seller":        listing.Seller,
			"energy_amount": energyAmount,
			"price":         price,
			"source":        source,
		},
	})
	s.log.Info("listing created",
		zap.String("listing_id", listing.ID),
		zap.String("source", source),
		zap.Bool("live", live))
	return listing, nil
}

// LiveMode reports whether the real chain backend is active.
func (s *ListingService) LiveMode(ctx context.Context) bool {
	return s.modeRepo.LiveMode(ctx)
}

// SetLiveMode flips between the demo dataset and the real chain backend.
// Enabling live mode requires a connected wallet and a reachable provider.
func (s *ListingService) SetLiveMode(ctx context.Context, enabled bool) error {
	if enabled {
		snap := s.wallet.Snapshot()
		if snap.ConnectionState != models.ConnStateConnected {
			return ErrWalletRequired
		}
		if s.provider == nil || !s.provider.Present(ctx) {
			return ErrProviderRequired
		}
	}
	if err := s.modeRepo.SetLiveMode(ctx, enabled); err != nil {
		return err
	}
	s.audit(ctx, "mode_changed", "", map[string]any{"live": enabled})
	s.log.Info("marketplace mode changed", zap.Bool("live", enabled))
	return nil
}

func (s *ListingService) audit(ctx context.Context, action, entityID string, meta map[string]any) {
	entry := models.AuditLog{
		ActorType:  "user",
		Action:     action,
		EntityType: "listing",
		Meta:       meta,
	}
	if entityID != "" {
		entry.EntityID = &entityID
	}
	_ = s.auditRepo.Log(ctx, entry)
}
