package services

import (
	"context"
	"math/big"
	"sync"

	"github.com/energy-marketplace/backend/internal/chain"
	"github.com/energy-marketplace/backend/internal/events"
	"github.com/energy-marketplace/backend/internal/models"
	"github.com/energy-marketplace/backend/internal/repositories"
)

// fakeProvider records every call so tests can assert ordering and counts.
type fakeProvider struct {
	mu    sync.Mutex
	calls []string

	present       bool
	address       string
	native        *big.Int
	token         *big.Int
	chainID       *big.Int
	accountsErr   error
	nativeErr     error
	tokenErr      error
	approveErr    error
	submitErr     error
	createErr     error
	approveTx     string
	submitTx      string
	createTx      string
	receiptStates map[string]chain.ReceiptState

	listings map[uint64]*models.Listing
	count    uint64

	handler func(chain.WalletEvent)
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		present:       true,
		address:       "0xBuyer",
		native:        chain.ToWei(1),
		token:         chain.ToWei(1000),
		chainID:       big.NewInt(11155111),
		approveTx:     "0xapprove",
		submitTx:      "0xsubmit",
		createTx:      "0xcreate",
		receiptStates: make(map[string]chain.ReceiptState),
		listings:      make(map[uint64]*models.Listing),
	}
}

func (p *fakeProvider) record(call string) {
	p.mu.Lock()
	p.calls = append(p.calls, call)
	p.mu.Unlock()
}

func (p *fakeProvider) callLog() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.calls))
	copy(out, p.calls)
	return out
}

func (p *fakeProvider) countCalls(name string) int {
	n := 0
	for _, c := range p.callLog() {
		if c == name {
			n++
		}
	}
	return n
}

func (p *fakeProvider) Present(ctx context.Context) bool {
	p.record("Present")
	return p.present
}

func (p *fakeProvider) ChainID(ctx context.Context) (*big.Int, error) {
	p.record("ChainID")
	return p.chainID, nil
}

func (p *fakeProvider) RequestAccounts(ctx context.Context) (string, error) {
	p.record("RequestAccounts")
	if p.accountsErr != nil {
		return "", p.accountsErr
	}
	return p.address, nil
}

func (p *fakeProvider) NativeBalance(ctx context.Context, addr string) (*big.Int, error) {
	p.record("NativeBalance")
	if p.nativeErr != nil {
		return nil, p.nativeErr
	}
	return p.native, nil
}

func (p *fakeProvider) TokenBalance(ctx context.Context, addr string) (*big.Int, error) {
	p.record("TokenBalance")
	if p.tokenErr != nil {
		return nil, p.tokenErr
	}
	return p.token, nil
}

func (p *fakeProvider) Approve(ctx context.Context, amount *big.Int) (string, error) {
	p.record("Approve")
	if p.approveErr != nil {
		return "", p.approveErr
	}
	return p.approveTx, nil
}

func (p *fakeProvider) SubmitPurchase(ctx context.Context, listingID uint64) (string, error) {
	p.record("SubmitPurchase")
	if p.submitErr != nil {
		return p.submitTx, p.submitErr
	}
	return p.submitTx, nil
}

func (p *fakeProvider) CreateListing(ctx context.Context, energyAmount, price *big.Int, source, location string) (string, error) {
	p.record("CreateListing")
	if p.createErr != nil {
		return "", p.createErr
	}
	return p.createTx, nil
}

func (p *fakeProvider) GetListing(ctx context.Context, id uint64) (*models.Listing, error) {
	p.record("GetListing")
	return p.listings[id], nil
}

func (p *fakeProvider) GetListingCount(ctx context.Context) (uint64, error) {
	p.record("GetListingCount")
	return p.count, nil
}

func (p *fakeProvider) ReceiptStatus(ctx context.Context, txRef string) (chain.ReceiptState, error) {
	p.record("ReceiptStatus")
	return p.receiptStates[txRef], nil
}

func (p *fakeProvider) SubscribeWalletEvents(handler func(chain.WalletEvent)) func() {
	p.handler = handler
	return func() { p.handler = nil }
}

func (p *fakeProvider) emit(ev chain.WalletEvent) {
	if p.handler != nil {
		p.handler(ev)
	}
}

// fakeListingStore is an in-memory ListingStore.
type fakeListingStore struct {
	mu       sync.Mutex
	listings map[string]*models.Listing
}

func newFakeListingStore() *fakeListingStore {
	return &fakeListingStore{listings: make(map[string]*models.Listing)}
}

func (s *fakeListingStore) Create(ctx context.Context, l *models.Listing) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *l
	s.listings[l.ID] = &cp
	return nil
}

func (s *fakeListingStore) Upsert(ctx context.Context, l *models.Listing) error {
	return s.Create(ctx, l)
}

func (s *fakeListingStore) GetByID(ctx context.Context, id string) (*models.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.listings[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	cp := *l
	return &cp, nil
}

func (s *fakeListingStore) GetByOnChainID(ctx context.Context, onChainID uint64) (*models.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.listings {
		if l.OnChainID != nil && *l.OnChainID == onChainID {
			cp := *l
			return &cp, nil
		}
	}
	return nil, repositories.ErrNotFound
}

func (s *fakeListingStore) List(ctx context.Context, f repositories.ListingFilter) ([]models.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Listing
	for _, l := range s.listings {
		if f.AvailableOnly && !l.Available {
			continue
		}
		if f.Source != nil && l.Source != *f.Source {
			continue
		}
		out = append(out, *l)
	}
	return out, nil
}

func (s *fakeListingStore) MarkUnavailable(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.listings[id]
	if !ok || !l.Available {
		return repositories.ErrNotFound
	}
	l.Available = false
	return nil
}

func (s *fakeListingStore) CountActive(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, l := range s.listings {
		if l.Available {
			n++
		}
	}
	return n, nil
}

func (s *fakeListingStore) TotalActiveEnergy(ctx context.Context) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0.0
	for _, l := range s.listings {
		if l.Available {
			total += l.EnergyAmount
		}
	}
	return total, nil
}

// fakeTxStore is an in-memory TransactionStore.
type fakeTxStore struct {
	mu  sync.Mutex
	txs map[string]*models.Transaction
}

func newFakeTxStore() *fakeTxStore {
	return &fakeTxStore{txs: make(map[string]*models.Transaction)}
}

func (s *fakeTxStore) Create(ctx context.Context, t *models.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.txs[t.ID]; exists {
		return nil
	}
	cp := *t
	s.txs[t.ID] = &cp
	return nil
}

func (s *fakeTxStore) UpdateStatus(ctx context.Context, id, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.txs[id]; ok {
		t.Status = status
	}
	return nil
}

func (s *fakeTxStore) List(ctx context.Context, limit, offset int) ([]models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Transaction
	for _, t := range s.txs {
		out = append(out, *t)
	}
	return out, nil
}

func (s *fakeTxStore) ListPending(ctx context.Context, limit int) ([]models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Transaction
	for _, t := range s.txs {
		if t.Status == models.TxStatusPending && len(t.ID) > 2 && t.ID[:2] == "0x" {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (s *fakeTxStore) Count(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.txs), nil
}

func (s *fakeTxStore) AverageCompletedPrice(ctx context.Context) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sum, n := 0.0, 0
	for _, t := range s.txs {
		if t.Status == models.TxStatusCompleted && t.EnergyAmount > 0 {
			sum += t.Price / t.EnergyAmount
			n++
		}
	}
	if n == 0 {
		return 0, nil
	}
	return sum / float64(n), nil
}

func (s *fakeTxStore) get(id string) *models.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.txs[id]; ok {
		cp := *t
		return &cp
	}
	return nil
}

type fakeAuditStore struct {
	mu      sync.Mutex
	entries []models.AuditLog
}

func (s *fakeAuditStore) Log(ctx context.Context, entry models.AuditLog) error {
	s.mu.Lock()
	s.entries = append(s.entries, entry)
	s.mu.Unlock()
	return nil
}

type fakeModeStore struct {
	mu   sync.Mutex
	live bool
}

func (s *fakeModeStore) LiveMode(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live
}

func (s *fakeModeStore) SetLiveMode(ctx context.Context, enabled bool) error {
	s.mu.Lock()
	s.live = enabled
	s.mu.Unlock()
	return nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *fakePublisher) Publish(ctx context.Context, stream string, event events.Event) error {
	p.mu.Lock()
	p.events = append(p.events, event)
	p.mu.Unlock()
	return nil
}

func (p *fakePublisher) byType(eventType string) []events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []events.Event
	for _, e := range p.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}
