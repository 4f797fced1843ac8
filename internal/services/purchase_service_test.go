package services

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/energy-marketplace/backend/internal/chain"
	"github.com/energy-marketplace/backend/internal/models"
)

type purchaseFixture struct {
	provider *fakeProvider
	wallet   *WalletService
	listings *fakeListingStore
	txs      *fakeTxStore
	mode     *fakeModeStore
	pub      *fakePublisher
	svc      *PurchaseService
}

func newPurchaseFixture(t *testing.T, live bool) *purchaseFixture {
	t.Helper()

	p := newFakeProvider()
	pub := &fakePublisher{}
	wallet := NewWalletService(p, &fakeAuditStore{}, pub, zap.NewNop())
	wallet.CheckProviderPresence(context.Background())
	if _, err := wallet.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}

	listings := newFakeListingStore()
	txs := newFakeTxStore()
	mode := &fakeModeStore{live: live}

	svc := NewPurchaseService(p, wallet, listings, txs, &fakeAuditStore{}, mode, pub,
		chain.ToWei(0.001), zap.NewNop())

	return &purchaseFixture{
		provider: p, wallet: wallet, listings: listings,
		txs: txs, mode: mode, pub: pub, svc: svc,
	}
}

func (f *purchaseFixture) addListing(id string, price float64, onChainID uint64) *models.Listing {
	now := time.Now().UTC()
	l := &models.Listing{
		ID: id, Seller: "0xSeller", EnergyAmount: 10, Price: price,
		Source: models.SourceSolar, Location: "California",
		Available: true, OnChainID: &onChainID, CreatedAt: now, UpdatedAt: now,
	}
	_ = f.listings.Create(context.Background(), l)
	return l
}

func TestPurchaseLiveHappyPath(t *testing.T) {
	f := newPurchaseFixture(t, true)
	f.addListing("L1", 50, 7)

	attempt, err := f.svc.Purchase(context.Background(), "L1")
	if err != nil {
		t.Fatalf("Purchase failed: %v", err)
	}
	if attempt.Phase != models.PhaseConfirmed {
		t.Errorf("phase = %s, want confirmed", attempt.Phase)
	}
	if attempt.TxRef == nil || *attempt.TxRef != "0xsubmit" {
		t.Errorf("TxRef = %v, want 0xsubmit", attempt.TxRef)
	}

	// Approve идёт строго перед SubmitPurchase
	var order []string
	for _, c := range f.provider.callLog() {
		if c == "Approve" || c == "SubmitPurchase" {
			order = append(order, c)
		}
	}
	if len(order) != 2 || order[0] != "Approve" || order[1] != "SubmitPurchase" {
		t.Errorf("call order = %v, want [Approve SubmitPurchase]", order)
	}

	l, err := f.listings.GetByID(context.Background(), "L1")
	if err != nil {
		t.Fatal(err)
	}
	if l.Available {
		t.Error("purchased listing must be marked unavailable")
	}

	tx := f.txs.get("0xsubmit")
	if tx == nil {
		t.Fatal("transaction record missing")
	}
	if tx.Status != models.TxStatusCompleted {
		t.Errorf("tx status = %s, want completed", tx.Status)
	}
	if tx.Buyer != "0xBuyer" || tx.Seller != "0xSeller" {
		t.Errorf("tx parties = %s/%s", tx.Buyer, tx.Seller)
	}

	if len(f.pub.byType("listing_sold")) == 0 {
		t.Error("expected listing_sold event")
	}
}

func TestPurchaseUserRejectedDuringApprove(t *testing.T) {
	f := newPurchaseFixture(t, true)
	f.addListing("L1", 50, 7)
	f.provider.approveErr = errors.New("MetaMask Tx Signature: User denied transaction signature")

	_, err := f.svc.Purchase(context.Background(), "L1")
	if err == nil {
		t.Fatal("expected error")
	}

	attempt := f.svc.Attempt("L1")
	if attempt.Phase != models.PhaseFailed {
		t.Errorf("phase = %s, want failed", attempt.Phase)
	}
	if attempt.FailureKind == nil || *attempt.FailureKind != string(chain.KindUserRejected) {
		t.Errorf("failure kind = %v, want user-rejected", attempt.FailureKind)
	}

	// После отказа на approve покупка не отправляется
	if n := f.provider.countCalls("SubmitPurchase"); n != 0 {
		t.Errorf("SubmitPurchase called %d times after rejected approve", n)
	}

	l, _ := f.listings.GetByID(context.Background(), "L1")
	if !l.Available {
		t.Error("listing must stay available after a failed purchase")
	}
}

func TestPurchasePreconditionsRejectWithoutProviderCalls(t *testing.T) {
	tests := []struct {
		name  string
		setup func(f *purchaseFixture)
		kind  chain.Kind
	}{
		{
			"wallet not connected",
			func(f *purchaseFixture) { f.wallet.Disconnect(context.Background()) },
			chain.KindProviderAbsent,
		},
		{
			"listing missing",
			func(f *purchaseFixture) {},
			chain.KindListingNotFound,
		},
		{
			"listing unavailable",
			func(f *purchaseFixture) {
				l := f.addListing("L1", 50, 7)
				_ = f.listings.MarkUnavailable(context.Background(), l.ID)
			},
			chain.KindListingNotFound,
		},
		{
			"insufficient token balance",
			func(f *purchaseFixture) { f.addListing("L1", 5000, 7) },
			chain.KindInsufficientFunds,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newPurchaseFixture(t, true)
			tt.setup(f)
			before := len(f.provider.callLog())

			_, err := f.svc.Purchase(context.Background(), "L1")
			if err == nil {
				t.Fatal("expected precondition error")
			}
			if chain.KindOf(err) != tt.kind {
				t.Errorf("kind = %s, want %s", chain.KindOf(err), tt.kind)
			}

			attempt := f.svc.Attempt("L1")
			if attempt.Phase != models.PhaseIdle {
				t.Errorf("phase = %s, precondition failures must not leave idle", attempt.Phase)
			}
			if attempt.FinishedAt == nil {
				t.Error("rejected attempt must be finished")
			}
			if after := len(f.provider.callLog()); after != before {
				t.Errorf("provider called %d times during preflight reject", after-before)
			}
		})
	}
}

func TestPurchaseInsufficientGas(t *testing.T) {
	p := newFakeProvider()
	p.native = chain.ToWei(0.0001) // ниже резерва
	pub := &fakePublisher{}
	wallet := NewWalletService(p, &fakeAuditStore{}, pub, zap.NewNop())
	wallet.CheckProviderPresence(context.Background())
	if _, err := wallet.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}

	listings := newFakeListingStore()
	svc := NewPurchaseService(p, wallet, listings, newFakeTxStore(), &fakeAuditStore{},
		&fakeModeStore{live: true}, pub, chain.ToWei(0.001), zap.NewNop())

	now := time.Now().UTC()
	onChain := uint64(1)
	_ = listings.Create(context.Background(), &models.Listing{
		ID: "L1", Seller: "0xSeller", EnergyAmount: 10, Price: 50,
		Source: models.SourceSolar, Location: "California",
		Available: true, OnChainID: &onChain, CreatedAt: now, UpdatedAt: now,
	})

	_, err := svc.Purchase(context.Background(), "L1")
	if chain.KindOf(err) != chain.KindInsufficientFunds {
		t.Errorf("kind = %s, want insufficient-funds", chain.KindOf(err))
	}
}

func TestPurchaseOwnListingRejected(t *testing.T) {
	f := newPurchaseFixture(t, true)
	l := f.addListing("L1", 50, 7)
	l.Seller = "0xBuyer"
	_ = f.listings.Create(context.Background(), l)

	_, err := f.svc.Purchase(context.Background(), "L1")
	if err == nil {
		t.Fatal("expected error buying own listing")
	}
	if f.svc.Attempt("L1").Phase != models.PhaseIdle {
		t.Error("attempt must stay idle")
	}
}

func TestPurchaseConcurrentSameListingRejected(t *testing.T) {
	f := newPurchaseFixture(t, true)
	f.addListing("L1", 50, 7)

	blocking := &blockingApprover{fakeProvider: f.provider, release: make(chan struct{}), started: make(chan struct{})}
	svc := NewPurchaseService(blocking, f.wallet, f.listings, f.txs, &fakeAuditStore{},
		f.mode, f.pub, chain.ToWei(0.001), zap.NewNop())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = svc.Purchase(context.Background(), "L1")
	}()

	<-blocking.started
	_, err := svc.Purchase(context.Background(), "L1")
	if !errors.Is(err, ErrPurchaseInProgress) {
		t.Errorf("concurrent purchase err = %v, want ErrPurchaseInProgress", err)
	}

	close(blocking.release)
	wg.Wait()

	if svc.Attempt("L1").Phase != models.PhaseConfirmed {
		t.Errorf("first purchase should confirm, got %s", svc.Attempt("L1").Phase)
	}
}

func TestAttemptSnapshotConsistentDuringPurchase(t *testing.T) {
	f := newPurchaseFixture(t, true)
	f.addListing("L1", 50, 7)

	blocking := &blockingApprover{fakeProvider: f.provider, release: make(chan struct{}), started: make(chan struct{})}
	svc := NewPurchaseService(blocking, f.wallet, f.listings, f.txs, &fakeAuditStore{},
		f.mode, f.pub, chain.ToWei(0.001), zap.NewNop())

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = svc.Purchase(context.Background(), "L1")
	}()

	// Читатель опрашивает снапшоты, пока покупка идёт: цена
	// выставляется до первого перехода фазы
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			a := svc.Attempt("L1")
			if a == nil {
				continue
			}
			if a.Phase != models.PhaseIdle && a.Price == 0 {
				t.Error("snapshot left idle without a price")
				return
			}
		}
	}()

	<-blocking.started
	close(blocking.release)
	<-done
	close(stop)
	wg.Wait()

	attempt := svc.Attempt("L1")
	if attempt.Phase != models.PhaseConfirmed {
		t.Fatalf("phase = %s, want confirmed", attempt.Phase)
	}
	if attempt.FinishedAt == nil {
		t.Error("confirmed attempt must carry a finish timestamp")
	}
	if attempt.Price != 50 || attempt.EnergyAmount != 10 {
		t.Errorf("attempt amounts = %.1f/%.1f, want 50/10", attempt.Price, attempt.EnergyAmount)
	}
}

type blockingApprover struct {
	*fakeProvider
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (p *blockingApprover) Approve(ctx context.Context, amount *big.Int) (string, error) {
	p.once.Do(func() { close(p.started) })
	<-p.release
	return p.fakeProvider.Approve(ctx, amount)
}

func TestPurchaseReceiptTimeoutGoesPending(t *testing.T) {
	f := newPurchaseFixture(t, true)
	f.addListing("L1", 50, 7)
	f.provider.submitErr = chain.NewError(chain.KindReceiptTimeout, "no receipt within 90s")

	attempt, err := f.svc.Purchase(context.Background(), "L1")
	if err != nil {
		t.Fatalf("pending purchase should not error: %v", err)
	}
	if attempt.Phase != models.PhasePendingReceipt {
		t.Fatalf("phase = %s, want pending_receipt", attempt.Phase)
	}

	tx := f.txs.get("0xsubmit")
	if tx == nil || tx.Status != models.TxStatusPending {
		t.Fatalf("expected pending transaction record, got %+v", tx)
	}

	// Воркер дожимает по квитанции
	f.provider.receiptStates["0xsubmit"] = chain.ReceiptSuccess
	f.svc.FinalizePending(context.Background())

	attempt = f.svc.Attempt("L1")
	if attempt.Phase != models.PhaseConfirmed {
		t.Errorf("phase = %s, want confirmed after finalize", attempt.Phase)
	}
	if tx := f.txs.get("0xsubmit"); tx.Status != models.TxStatusCompleted {
		t.Errorf("tx status = %s, want completed", tx.Status)
	}
	l, _ := f.listings.GetByID(context.Background(), "L1")
	if l.Available {
		t.Error("listing must be unavailable after finalized purchase")
	}
}

func TestFinalizePendingRevertedReceipt(t *testing.T) {
	f := newPurchaseFixture(t, true)
	f.addListing("L1", 50, 7)
	f.provider.submitErr = chain.NewError(chain.KindReceiptTimeout, "no receipt within 90s")

	if _, err := f.svc.Purchase(context.Background(), "L1"); err != nil {
		t.Fatalf("pending purchase should not error: %v", err)
	}

	f.provider.receiptStates["0xsubmit"] = chain.ReceiptFailed
	f.svc.FinalizePending(context.Background())

	attempt := f.svc.Attempt("L1")
	if attempt.Phase != models.PhaseFailed {
		t.Errorf("phase = %s, want failed", attempt.Phase)
	}
	if tx := f.txs.get("0xsubmit"); tx.Status != models.TxStatusFailed {
		t.Errorf("tx status = %s, want failed", tx.Status)
	}
	l, _ := f.listings.GetByID(context.Background(), "L1")
	if !l.Available {
		t.Error("listing must stay available after reverted purchase")
	}
}

func TestFinalizePendingRowsCrossProcess(t *testing.T) {
	// Строка pending есть в БД, попытки в памяти нет (другой процесс)
	f := newPurchaseFixture(t, true)
	f.addListing("L1", 50, 7)
	_ = f.txs.Create(context.Background(), &models.Transaction{
		ID: "0xabc", ListingID: "L1", Seller: "0xSeller", Buyer: "0xBuyer",
		EnergyAmount: 10, Price: 50, Status: models.TxStatusPending,
		CreatedAt: time.Now().UTC(),
	})
	f.provider.receiptStates["0xabc"] = chain.ReceiptSuccess

	f.svc.FinalizePending(context.Background())

	if tx := f.txs.get("0xabc"); tx.Status != models.TxStatusCompleted {
		t.Errorf("tx status = %s, want completed", tx.Status)
	}
	l, _ := f.listings.GetByID(context.Background(), "L1")
	if l.Available {
		t.Error("listing must be unavailable after cross-process finalize")
	}
}

func TestPurchaseDemoMode(t *testing.T) {
	f := newPurchaseFixture(t, false)
	f.addListing("L1", 50, 7)

	attempt, err := f.svc.Purchase(context.Background(), "L1")
	if err != nil {
		t.Fatalf("demo purchase failed: %v", err)
	}
	if attempt.Phase != models.PhaseConfirmed {
		t.Errorf("phase = %s, want confirmed", attempt.Phase)
	}

	// В демо-режиме провайдер для покупки не трогается
	if n := f.provider.countCalls("Approve") + f.provider.countCalls("SubmitPurchase"); n != 0 {
		t.Errorf("provider called %d times in demo mode", n)
	}

	l, _ := f.listings.GetByID(context.Background(), "L1")
	if l.Available {
		t.Error("demo purchase must mark the listing unavailable")
	}
}

func TestFinalizePendingWithoutConfiguredProvider(t *testing.T) {
	// Строка pending из прежнего live-деплоя, провайдера больше нет
	pub := &fakePublisher{}
	wallet := NewWalletService(nil, &fakeAuditStore{}, pub, zap.NewNop())
	txs := newFakeTxStore()
	_ = txs.Create(context.Background(), &models.Transaction{
		ID: "0xold", ListingID: "L1", Seller: "0xSeller", Buyer: "0xBuyer",
		EnergyAmount: 10, Price: 50, Status: models.TxStatusPending,
		CreatedAt: time.Now().UTC(),
	})
	svc := NewPurchaseService(nil, wallet, newFakeListingStore(), txs, &fakeAuditStore{},
		&fakeModeStore{}, pub, chain.ToWei(0.001), zap.NewNop())

	svc.FinalizePending(context.Background())

	if tx := txs.get("0xold"); tx.Status != models.TxStatusPending {
		t.Errorf("tx status = %s, want untouched pending", tx.Status)
	}
}
