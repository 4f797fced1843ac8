package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/energy-marketplace/backend/internal/models"
	"github.com/energy-marketplace/backend/internal/repositories"
)

type listingFixture struct {
	provider *fakeProvider
	wallet   *WalletService
	listings *fakeListingStore
	mode     *fakeModeStore
	pub      *fakePublisher
	svc      *ListingService
}

func newListingFixture(t *testing.T, live, connected bool) *listingFixture {
	t.Helper()

	p := newFakeProvider()
	pub := &fakePublisher{}
	wallet := NewWalletService(p, &fakeAuditStore{}, pub, zap.NewNop())
	wallet.CheckProviderPresence(context.Background())
	if connected {
		if _, err := wallet.Connect(context.Background()); err != nil {
			t.Fatalf("connect failed: %v", err)
		}
	}

	listings := newFakeListingStore()
	mode := &fakeModeStore{live: live}
	svc := NewListingService(p, wallet, listings, &fakeAuditStore{}, mode, pub, zap.NewNop())

	return &listingFixture{provider: p, wallet: wallet, listings: listings, mode: mode, pub: pub, svc: svc}
}

func TestCreateListingValidation(t *testing.T) {
	f := newListingFixture(t, false, true)

	tests := []struct {
		name     string
		energy   float64
		price    float64
		source   string
		location string
	}{
		{"zero energy", 0, 50, models.SourceSolar, "California"},
		{"negative energy", -5, 50, models.SourceSolar, "California"},
		{"zero price", 10, 0, models.SourceSolar, "California"},
		{"negative price", 10, -1, models.SourceSolar, "California"},
		{"unknown source", 10, 50, "plutonium", "California"},
		{"empty location", 10, 50, models.SourceSolar, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Create(context.Background(), tt.energy, tt.price, tt.source, tt.location)
			if !errors.Is(err, ErrInvalidListing) {
				t.Errorf("err = %v, want ErrInvalidListing", err)
			}
		})
	}

	// Валидация отрабатывает до обращения к провайдеру
	if n := f.provider.countCalls("CreateListing"); n != 0 {
		t.Errorf("CreateListing called %d times on invalid input", n)
	}
}

func TestCreateListingDemoMode(t *testing.T) {
	f := newListingFixture(t, false, true)

	listing, err := f.svc.Create(context.Background(), 12, 60, models.SourceWind, "Texas")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if listing.ID == "" {
		t.Error("demo listing must get a generated id")
	}
	if listing.Seller != "0xBuyer" {
		t.Errorf("seller = %q, want session address", listing.Seller)
	}
	if !listing.Available {
		t.Error("new listing must be available")
	}
	if n := f.provider.countCalls("CreateListing"); n != 0 {
		t.Errorf("provider called %d times in demo mode", n)
	}
	if len(f.pub.byType("listing_created")) == 0 {
		t.Error("expected listing_created event")
	}
}

func TestCreateListingLiveMode(t *testing.T) {
	f := newListingFixture(t, true, true)

	listing, err := f.svc.Create(context.Background(), 12, 60, models.SourceWind, "Texas")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if listing.ID != "0xcreate" {
		t.Errorf("live listing id = %q, want the tx hash", listing.ID)
	}
	if listing.TxRef == nil || *listing.TxRef != "0xcreate" {
		t.Errorf("TxRef = %v", listing.TxRef)
	}
	if n := f.provider.countCalls("CreateListing"); n != 1 {
		t.Errorf("CreateListing called %d times, want 1", n)
	}
}

func TestCreateListingRequiresWallet(t *testing.T) {
	f := newListingFixture(t, false, false)

	_, err := f.svc.Create(context.Background(), 12, 60, models.SourceWind, "Texas")
	if !errors.Is(err, ErrWalletRequired) {
		t.Errorf("err = %v, want ErrWalletRequired", err)
	}
}

func TestFetchDemoModeSkipsChain(t *testing.T) {
	f := newListingFixture(t, false, true)
	now := time.Now().UTC()
	_ = f.listings.Create(context.Background(), &models.Listing{
		ID: "1", Seller: "0xS", EnergyAmount: 10, Price: 50,
		Source: models.SourceSolar, Location: "California",
		Available: true, CreatedAt: now, UpdatedAt: now,
	})

	out, err := f.svc.Fetch(context.Background(), repositories.ListingFilter{})
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if len(out) != 1 {
		t.Errorf("got %d listings, want 1", len(out))
	}
	if n := f.provider.countCalls("GetListingCount"); n != 0 {
		t.Errorf("chain queried %d times in demo mode", n)
	}
}

func TestFetchLiveModeMirrorsChain(t *testing.T) {
	f := newListingFixture(t, true, true)
	onChain := uint64(0)
	now := time.Now().UTC()
	f.provider.count = 2
	f.provider.listings[0] = &models.Listing{
		ID: "chain-0", Seller: "0xS", EnergyAmount: 10, Price: 50,
		Source: models.SourceSolar, Location: "California",
		Available: true, OnChainID: &onChain, CreatedAt: now, UpdatedAt: now,
	}
	// слот 1 продан
	one := uint64(1)
	f.provider.listings[1] = &models.Listing{
		ID: "chain-1", Seller: "0xS", EnergyAmount: 5, Price: 30,
		Source: models.SourceWind, Location: "Texas",
		Available: false, OnChainID: &one, CreatedAt: now, UpdatedAt: now,
	}

	out, err := f.svc.Fetch(context.Background(), repositories.ListingFilter{})
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("got %d listings, want 1 (sold slots excluded)", len(out))
	}
	if out[0].ID != "chain-0" {
		t.Errorf("listing id = %q", out[0].ID)
	}
}

func TestFetchLiveModeEmptyChainFallsBack(t *testing.T) {
	f := newListingFixture(t, true, true)
	f.provider.count = 0
	now := time.Now().UTC()
	_ = f.listings.Create(context.Background(), &models.Listing{
		ID: "1", Seller: "0xS", EnergyAmount: 10, Price: 50,
		Source: models.SourceSolar, Location: "California",
		Available: true, CreatedAt: now, UpdatedAt: now,
	})

	out, err := f.svc.Fetch(context.Background(), repositories.ListingFilter{})
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if len(out) != 1 {
		t.Errorf("empty chain must fall back to local rows, got %d", len(out))
	}
}

func TestSetLiveModeRequiresConnection(t *testing.T) {
	f := newListingFixture(t, false, false)

	if err := f.svc.SetLiveMode(context.Background(), true); !errors.Is(err, ErrWalletRequired) {
		t.Errorf("err = %v, want ErrWalletRequired", err)
	}
	if f.mode.LiveMode(context.Background()) {
		t.Error("mode must not flip without a wallet")
	}

	// Выключение работает всегда
	if err := f.svc.SetLiveMode(context.Background(), false); err != nil {
		t.Errorf("disabling live mode failed: %v", err)
	}
}

func TestSetLiveMode(t *testing.T) {
	f := newListingFixture(t, false, true)

	if err := f.svc.SetLiveMode(context.Background(), true); err != nil {
		t.Fatalf("SetLiveMode failed: %v", err)
	}
	if !f.mode.LiveMode(context.Background()) {
		t.Error("live mode should be enabled")
	}
}

func TestFetchWithoutConfiguredProvider(t *testing.T) {
	// live_mode остался включённым в redis, провайдера нет
	pub := &fakePublisher{}
	wallet := NewWalletService(nil, &fakeAuditStore{}, pub, zap.NewNop())
	wallet.CheckProviderPresence(context.Background())

	listings := newFakeListingStore()
	svc := NewListingService(nil, wallet, listings, &fakeAuditStore{}, &fakeModeStore{live: true}, pub, zap.NewNop())

	now := time.Now().UTC()
	_ = listings.Create(context.Background(), &models.Listing{
		ID: "1", Seller: "0xS", EnergyAmount: 10, Price: 50,
		Source: models.SourceSolar, Location: "California",
		Available: true, CreatedAt: now, UpdatedAt: now,
	})

	out, err := svc.Fetch(context.Background(), repositories.ListingFilter{})
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if len(out) != 1 {
		t.Errorf("got %d listings, want the local row", len(out))
	}
}

func TestSetLiveModeWithoutConfiguredProvider(t *testing.T) {
	p := newFakeProvider()
	pub := &fakePublisher{}
	wallet := NewWalletService(p, &fakeAuditStore{}, pub, zap.NewNop())
	wallet.CheckProviderPresence(context.Background())
	if _, err := wallet.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}

	mode := &fakeModeStore{}
	svc := NewListingService(nil, wallet, newFakeListingStore(), &fakeAuditStore{}, mode, pub, zap.NewNop())

	if err := svc.SetLiveMode(context.Background(), true); !errors.Is(err, ErrProviderRequired) {
		t.Errorf("err = %v, want ErrProviderRequired", err)
	}
	if mode.LiveMode(context.Background()) {
		t.Error("live mode must stay off")
	}
}
