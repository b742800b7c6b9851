package sales

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/mpfootwear/backoffice/internal/giftcard"
	"github.com/mpfootwear/backoffice/internal/inventory"
	"github.com/mpfootwear/backoffice/internal/ledger"
	"github.com/mpfootwear/backoffice/internal/shared"
	"github.com/mpfootwear/backoffice/internal/wallet"
)

type memoryRepo struct {
	sales       map[int64]*Sale
	lines       map[int64][]Line
	payments    []Payment
	returns     []Return
	returnLines []ReturnLine
	counters    map[string]int64
	nextID      int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		sales:    make(map[int64]*Sale),
		lines:    make(map[int64][]Line),
		counters: make(map[string]int64),
	}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &memoryTx{repo: r})
}

func (r *memoryRepo) Get(ctx context.Context, tenant shared.Tenant, id int64) (Sale, error) {
	s, ok := r.sales[id]
	if !ok || s.Tenant != tenant {
		return Sale{}, ErrSaleNotFound
	}
	return *s, nil
}

func (r *memoryRepo) GetByNumber(ctx context.Context, tenant shared.Tenant, number string) (Sale, error) {
	for _, s := range r.sales {
		if s.Tenant == tenant && s.Number == number {
			return *s, nil
		}
	}
	return Sale{}, ErrSaleNotFound
}

func (r *memoryRepo) List(ctx context.Context, tenant shared.Tenant, statuses []Status, p shared.Pagination) ([]Sale, error) {
	var out []Sale
	for _, s := range r.sales {
		if s.Tenant == tenant {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (r *memoryRepo) Lines(ctx context.Context, saleID int64) ([]Line, error) {
	return r.lines[saleID], nil
}

func (r *memoryRepo) Payments(ctx context.Context, saleID int64) ([]Payment, error) {
	var out []Payment
	for _, p := range r.payments {
		if p.SaleID == saleID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *memoryRepo) Returns(ctx context.Context, saleID int64) ([]Return, error) {
	var out []Return
	for _, ret := range r.returns {
		if ret.SaleID == saleID {
			out = append(out, ret)
		}
	}
	return out, nil
}

func (r *memoryRepo) DailySummary(ctx context.Context, tenant shared.Tenant, day time.Time) (Summary, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	end := start.AddDate(0, 0, 1)
	s := Summary{Tenant: tenant, Day: start,
		Gross: decimal.Zero, CashAmount: decimal.Zero, CardAmount: decimal.Zero,
		UPIAmount: decimal.Zero, OtherAmount: decimal.Zero, ReturnsAmount: decimal.Zero}
	for _, sale := range r.sales {
		if sale.Tenant != tenant || sale.Status == StatusDraft || sale.Status == StatusCancelled {
			continue
		}
		if sale.SaleDate.Before(start) || !sale.SaleDate.Before(end) {
			continue
		}
		s.SalesCount++
		s.Gross = s.Gross.Add(sale.TotalAmount)
		for _, l := range r.lines[sale.ID] {
			s.ItemsSold += l.Quantity
		}
	}
	for _, p := range r.payments {
		if p.Tenant != tenant || p.PaidAt.Before(start) || !p.PaidAt.Before(end) {
			continue
		}
		switch p.Method {
		case MethodCash:
			s.CashAmount = s.CashAmount.Add(p.Amount)
		case MethodCard:
			s.CardAmount = s.CardAmount.Add(p.Amount)
		case MethodUPI:
			s.UPIAmount = s.UPIAmount.Add(p.Amount)
		default:
			s.OtherAmount = s.OtherAmount.Add(p.Amount)
		}
	}
	for _, ret := range r.returns {
		if ret.Tenant == tenant && !ret.ReturnedAt.Before(start) && ret.ReturnedAt.Before(end) {
			s.ReturnsCount++
			s.ReturnsAmount = s.ReturnsAmount.Add(ret.RefundAmount)
		}
	}
	return s, nil
}

type memoryTx struct {
	repo *memoryRepo
}

func (t *memoryTx) next(key string) int64 {
	t.repo.counters[key]++
	return t.repo.counters[key]
}

func (t *memoryTx) AllocateSaleNumber(ctx context.Context, tenant shared.Tenant, at time.Time) (string, error) {
	date := at.Format("20060102")
	return fmt.Sprintf("%sS%s%04d", tenant.ShortCode(), date, t.next(tenant.String()+":sale:"+date)), nil
}

func (t *memoryTx) AllocatePaymentNumber(ctx context.Context, tenant shared.Tenant, at time.Time) (string, error) {
	date := at.Format("20060102")
	return fmt.Sprintf("%sSP%s%04d", tenant.ShortCode(), date, t.next(tenant.String()+":sp:"+date)), nil
}

func (t *memoryTx) AllocateReturnNumber(ctx context.Context, tenant shared.Tenant, at time.Time) (string, error) {
	date := at.Format("20060102")
	return fmt.Sprintf("%sR%s%04d", tenant.ShortCode(), date, t.next(tenant.String()+":ret:"+date)), nil
}

func (t *memoryTx) CreateSale(ctx context.Context, s Sale) (Sale, error) {
	t.repo.nextID++
	s.ID = t.repo.nextID
	t.repo.sales[s.ID] = &s
	return s, nil
}

func (t *memoryTx) GetForUpdate(ctx context.Context, id int64) (Sale, error) {
	s, ok := t.repo.sales[id]
	if !ok {
		return Sale{}, ErrSaleNotFound
	}
	return *s, nil
}

func (t *memoryTx) SaveSale(ctx context.Context, s Sale) error {
	stored, ok := t.repo.sales[s.ID]
	if !ok {
		return ErrSaleNotFound
	}
	*stored = s
	return nil
}

func (t *memoryTx) ReplaceLines(ctx context.Context, saleID int64, lines []Line) error {
	out := make([]Line, len(lines))
	for i, l := range lines {
		t.repo.nextID++
		l.ID = t.repo.nextID
		l.SaleID = saleID
		out[i] = l
	}
	t.repo.lines[saleID] = out
	return nil
}

func (t *memoryTx) CreatePayment(ctx context.Context, p Payment) (Payment, error) {
	t.repo.nextID++
	p.ID = t.repo.nextID
	t.repo.payments = append(t.repo.payments, p)
	return p, nil
}

func (t *memoryTx) CreateReturn(ctx context.Context, r Return, lines []ReturnLine) (Return, error) {
	t.repo.nextID++
	r.ID = t.repo.nextID
	t.repo.returns = append(t.repo.returns, r)
	for _, l := range lines {
		l.ReturnID = r.ID
		t.repo.returnLines = append(t.repo.returnLines, l)
	}
	return r, nil
}

func (t *memoryTx) ReturnedQuantities(ctx context.Context, saleID int64) (map[int64]int64, error) {
	byReturn := make(map[int64]bool)
	for _, r := range t.repo.returns {
		if r.SaleID == saleID {
			byReturn[r.ID] = true
		}
	}
	out := make(map[int64]int64)
	for _, l := range t.repo.returnLines {
		if byReturn[l.ReturnID] {
			out[l.LineID] += l.Quantity
		}
	}
	return out, nil
}

type fakeWallet struct {
	spends  []wallet.SpendInput
	refunds []wallet.CreditInput
	err     error
}

func (f *fakeWallet) Spend(ctx context.Context, input wallet.SpendInput) (ledger.Entry, []wallet.Drain, error) {
	if f.err != nil {
		return ledger.Entry{}, nil, f.err
	}
	f.spends = append(f.spends, input)
	return ledger.Entry{Amount: input.Amount.Neg()}, nil, nil
}

func (f *fakeWallet) Refund(ctx context.Context, input wallet.CreditInput) (ledger.Entry, error) {
	f.refunds = append(f.refunds, input)
	return ledger.Entry{Amount: input.Amount}, nil
}

type fakeGiftCards struct {
	redeems  []giftcard.RedeemInput
	reverses []giftcard.ReverseInput
}

func (f *fakeGiftCards) Redeem(ctx context.Context, input giftcard.RedeemInput) (ledger.Entry, giftcard.GiftCard, error) {
	f.redeems = append(f.redeems, input)
	return ledger.Entry{Amount: input.Amount.Neg()}, giftcard.GiftCard{Code: input.Code}, nil
}

func (f *fakeGiftCards) Reverse(ctx context.Context, input giftcard.ReverseInput) (ledger.Entry, giftcard.GiftCard, error) {
	f.reverses = append(f.reverses, input)
	return ledger.Entry{Amount: input.Amount}, giftcard.GiftCard{Code: input.Code}, nil
}

type fakeStock struct {
	issues   []inventory.MovementInput
	receives []inventory.MovementInput
	err      error
	// failAfter, when positive, lets that many issues succeed first.
	failAfter int
}

func (f *fakeStock) Issue(ctx context.Context, input inventory.MovementInput) (ledger.Entry, error) {
	if f.err != nil && len(f.issues) >= f.failAfter {
		return ledger.Entry{}, f.err
	}
	f.issues = append(f.issues, input)
	return ledger.Entry{}, nil
}

func (f *fakeStock) Receive(ctx context.Context, input inventory.MovementInput) (ledger.Entry, error) {
	f.receives = append(f.receives, input)
	return ledger.Entry{}, nil
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func int64Ptr(n int64) *int64 { return &n }

func newTestService() (*Service, *memoryRepo, *fakeWallet, *fakeGiftCards, *fakeStock) {
	repo := newMemoryRepo()
	w := &fakeWallet{}
	g := &fakeGiftCards{}
	st := &fakeStock{}
	return NewService(repo, w, g, st), repo, w, g, st
}

func ringUp(t *testing.T, svc *Service) Sale {
	t.Helper()
	sale, err := svc.Create(context.Background(), CreateInput{
		Tenant:     shared.TenantMPShoes,
		CustomerID: int64Ptr(11),
		Lines: []LineInput{
			{ProductID: 1, ProductSKU: "MPSNE0001", ProductName: "Court Classic",
				UnitPrice: dec("2000"), CostPrice: dec("1200"), Quantity: 2, TaxRate: dec("12")},
			{ProductID: 2, ProductSKU: "MPSNE0002", ProductName: "Trail Runner",
				UnitPrice: dec("1000"), CostPrice: dec("600"), Quantity: 1,
				DiscountPercentage: dec("10"), TaxRate: dec("12")},
		},
		SalesPersonID: 3,
	})
	require.NoError(t, err)
	return sale
}

func payInFull(t *testing.T, svc *Service, sale Sale) {
	t.Helper()
	_, err := svc.RecordPayment(context.Background(), PaymentInput{
		Tenant: shared.TenantMPShoes, SaleID: sale.ID, Amount: sale.TotalAmount, Method: MethodCash,
	})
	require.NoError(t, err)
}

func TestCreateComputesTotals(t *testing.T) {
	svc, _, _, _, _ := newTestService()
	sale := ringUp(t, svc)

	// subtotal 5000, line discount 100, tax 12% of 4900 = 588.
	require.True(t, sale.Subtotal.Equal(dec("5000")))
	require.True(t, sale.DiscountAmount.Equal(dec("100")))
	require.True(t, sale.TaxAmount.Equal(dec("588")))
	require.True(t, sale.TotalAmount.Equal(dec("5488")))
	require.Equal(t, StatusConfirmed, sale.Status)
	require.Equal(t, TypePOS, sale.Type)
	require.Contains(t, sale.Number, "MPS"+time.Now().Format("20060102"))
}

func TestHeaderDiscountComesOffNetSubtotal(t *testing.T) {
	svc, _, _, _, _ := newTestService()
	sale, err := svc.Create(context.Background(), CreateInput{
		Tenant: shared.TenantMPShoes,
		Lines: []LineInput{
			{ProductID: 1, UnitPrice: dec("2000"), Quantity: 2, TaxRate: dec("12")},
			{ProductID: 2, UnitPrice: dec("1000"), Quantity: 1, DiscountPercentage: dec("10"), TaxRate: dec("12")},
		},
		DiscountPercentage: dec("10"),
	})
	require.NoError(t, err)
	// 10% off the 4900 net: 490 on top of the 100 line discount.
	require.True(t, sale.DiscountAmount.Equal(dec("590")))
	require.True(t, sale.TotalAmount.Equal(dec("4998")))
}

func TestSplitPaymentAcrossTenders(t *testing.T) {
	svc, _, _, _, _ := newTestService()
	sale := ringUp(t, svc)

	first, err := svc.RecordPayment(context.Background(), PaymentInput{
		Tenant: shared.TenantMPShoes, SaleID: sale.ID, Amount: dec("3000"), Method: MethodCash,
	})
	require.NoError(t, err)
	require.Contains(t, first.Number, "MPSP")

	stored, err := svc.Get(context.Background(), shared.TenantMPShoes, sale.ID)
	require.NoError(t, err)
	require.Equal(t, PaymentPartial, stored.PaymentStatus)

	_, err = svc.RecordPayment(context.Background(), PaymentInput{
		Tenant: shared.TenantMPShoes, SaleID: sale.ID, Amount: stored.Balance(), Method: MethodCard, CardLastFour: "4242",
	})
	require.NoError(t, err)

	stored, err = svc.Get(context.Background(), shared.TenantMPShoes, sale.ID)
	require.NoError(t, err)
	require.Equal(t, PaymentPaid, stored.PaymentStatus)
	require.True(t, stored.Balance().IsZero())
}

func TestOverpaymentRejected(t *testing.T) {
	svc, _, _, _, _ := newTestService()
	sale := ringUp(t, svc)

	_, err := svc.RecordPayment(context.Background(), PaymentInput{
		Tenant: shared.TenantMPShoes, SaleID: sale.ID, Amount: sale.TotalAmount.Add(dec("1")), Method: MethodCash,
	})
	require.ErrorIs(t, err, ErrOverpayment)
}

func TestWalletTenderDebitsWallet(t *testing.T) {
	svc, _, w, _, _ := newTestService()
	sale := ringUp(t, svc)

	_, err := svc.RecordPayment(context.Background(), PaymentInput{
		Tenant: shared.TenantMPShoes, SaleID: sale.ID, Amount: dec("500"), Method: MethodWallet,
	})
	require.NoError(t, err)
	require.Len(t, w.spends, 1)
	require.Equal(t, int64(11), w.spends[0].CustomerID)
	require.Equal(t, sale.Number, w.spends[0].Reference)
}

func TestWalletTenderNeedsCustomer(t *testing.T) {
	svc, _, _, _, _ := newTestService()
	sale, err := svc.Create(context.Background(), CreateInput{
		Tenant:       shared.TenantMPShoes,
		CustomerName: "walk-in",
		Lines:        []LineInput{{ProductID: 1, UnitPrice: dec("100"), Quantity: 1}},
	})
	require.NoError(t, err)

	_, err = svc.RecordPayment(context.Background(), PaymentInput{
		Tenant: shared.TenantMPShoes, SaleID: sale.ID, Amount: dec("100"), Method: MethodWallet,
	})
	require.ErrorIs(t, err, ErrWalletNeedsCustomer)
}

func TestGiftCardTenderPassesSubtotal(t *testing.T) {
	svc, _, _, g, _ := newTestService()
	sale := ringUp(t, svc)

	_, err := svc.RecordPayment(context.Background(), PaymentInput{
		Tenant: shared.TenantMPShoes, SaleID: sale.ID, Amount: dec("1000"),
		Method: MethodGiftCard, GiftCardCode: "ABCD1234EFGH",
	})
	require.NoError(t, err)
	require.Len(t, g.redeems, 1)
	require.NotNil(t, g.redeems[0].OrderSubtotal)
	require.True(t, g.redeems[0].OrderSubtotal.Equal(sale.Subtotal))
}

func TestCompleteIssuesStock(t *testing.T) {
	svc, _, _, _, st := newTestService()
	sale := ringUp(t, svc)

	_, err := svc.Complete(context.Background(), shared.TenantMPShoes, sale.ID, 3)
	require.ErrorIs(t, err, ErrNotCompletable)

	payInFull(t, svc, sale)
	completed, err := svc.Complete(context.Background(), shared.TenantMPShoes, sale.ID, 3)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, completed.Status)
	require.Len(t, st.issues, 2)
	require.Equal(t, int64(2), st.issues[0].Quantity)
	require.Equal(t, sale.Number, st.issues[0].Reference)
}

// staleReadRepo serves a fixed snapshot from Get while everything else goes
// through to the shared store, mimicking a read that raced another tender.
type staleReadRepo struct {
	*memoryRepo
	snapshot Sale
}

func (r *staleReadRepo) Get(ctx context.Context, tenant shared.Tenant, id int64) (Sale, error) {
	return r.snapshot, nil
}

// failingTxRepo refuses the write transaction, as a crashed or contended
// database would.
type failingTxRepo struct {
	*memoryRepo
	err error
}

func (r *failingTxRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return r.err
}

type fakeIdempotency struct {
	keys map[string]string
}

func newFakeIdempotency() *fakeIdempotency {
	return &fakeIdempotency{keys: make(map[string]string)}
}

func (f *fakeIdempotency) CheckAndInsert(ctx context.Context, key, module string) error {
	if _, ok := f.keys[key]; ok {
		return shared.ErrIdempotencyConflict
	}
	f.keys[key] = module
	return nil
}

func (f *fakeIdempotency) Delete(ctx context.Context, key string) error {
	delete(f.keys, key)
	return nil
}

func TestOverpaymentRecheckedUnderLock(t *testing.T) {
	svc, repo, _, _, _ := newTestService()
	sale := ringUp(t, svc)
	payInFull(t, svc, sale)

	// A second tender that read the sale before the first one landed passes
	// the snapshot check; the locked row must still stop it.
	stale := &staleReadRepo{memoryRepo: repo, snapshot: sale}
	racer := NewService(stale, &fakeWallet{}, &fakeGiftCards{}, &fakeStock{})
	_, err := racer.RecordPayment(context.Background(), PaymentInput{
		Tenant: shared.TenantMPShoes, SaleID: sale.ID, Amount: sale.TotalAmount, Method: MethodCash,
	})
	require.ErrorIs(t, err, ErrOverpayment)

	stored, err := svc.Get(context.Background(), shared.TenantMPShoes, sale.ID)
	require.NoError(t, err)
	require.True(t, stored.PaidAmount.Equal(sale.TotalAmount))
}

func TestFailedTenderWriteReversesWalletDebit(t *testing.T) {
	svc, repo, _, _, _ := newTestService()
	sale := ringUp(t, svc)

	w := &fakeWallet{}
	errWrite := errors.New("write failed")
	broken := NewService(&failingTxRepo{memoryRepo: repo, err: errWrite}, w, &fakeGiftCards{}, &fakeStock{})

	_, err := broken.RecordPayment(context.Background(), PaymentInput{
		Tenant: shared.TenantMPShoes, SaleID: sale.ID, Amount: dec("500"), Method: MethodWallet,
	})
	require.ErrorIs(t, err, errWrite)

	// The debit was credited back, so no money is stranded.
	require.Len(t, w.spends, 1)
	require.Len(t, w.refunds, 1)
	require.True(t, w.refunds[0].Amount.Equal(dec("500")))
	require.Equal(t, sale.Number, w.refunds[0].Reference)
}

func TestTenderIdempotencyKey(t *testing.T) {
	base, _, _, _, _ := newTestService()
	idem := newFakeIdempotency()
	svc := base.WithIdempotency(idem)
	sale := ringUp(t, svc)

	_, err := svc.RecordPayment(context.Background(), PaymentInput{
		Tenant: shared.TenantMPShoes, SaleID: sale.ID, Amount: dec("500"),
		Method: MethodCash, IdempotencyKey: "till-7-1",
	})
	require.NoError(t, err)

	// Replaying the same key is rejected before any money moves.
	_, err = svc.RecordPayment(context.Background(), PaymentInput{
		Tenant: shared.TenantMPShoes, SaleID: sale.ID, Amount: dec("500"),
		Method: MethodCash, IdempotencyKey: "till-7-1",
	})
	require.ErrorIs(t, err, shared.ErrIdempotencyConflict)

	stored, err := svc.Get(context.Background(), shared.TenantMPShoes, sale.ID)
	require.NoError(t, err)
	require.True(t, stored.PaidAmount.Equal(dec("500")))
}

func TestCompleteRestocksWhenIssueFails(t *testing.T) {
	svc, _, _, _, st := newTestService()
	sale := ringUp(t, svc)
	payInFull(t, svc, sale)

	st.err = inventory.ErrInsufficientStock
	st.failAfter = 1

	_, err := svc.Complete(context.Background(), shared.TenantMPShoes, sale.ID, 3)
	require.ErrorIs(t, err, inventory.ErrInsufficientStock)

	// The line issued before the failure went back on the shelf and the
	// sale stayed open.
	require.Len(t, st.issues, 1)
	require.Len(t, st.receives, 1)
	require.Equal(t, st.issues[0].ProductID, st.receives[0].ProductID)
	require.Equal(t, st.issues[0].Quantity, st.receives[0].Quantity)

	stored, err := svc.Get(context.Background(), shared.TenantMPShoes, sale.ID)
	require.NoError(t, err)
	require.NotEqual(t, StatusCompleted, stored.Status)
}

func TestCancelOnlyUnpaid(t *testing.T) {
	svc, _, _, _, _ := newTestService()
	sale := ringUp(t, svc)

	_, err := svc.RecordPayment(context.Background(), PaymentInput{
		Tenant: shared.TenantMPShoes, SaleID: sale.ID, Amount: dec("100"), Method: MethodCash,
	})
	require.NoError(t, err)

	_, err = svc.Cancel(context.Background(), shared.TenantMPShoes, sale.ID)
	require.ErrorIs(t, err, ErrNotCancellable)

	fresh := ringUp(t, svc)
	cancelled, err := svc.Cancel(context.Background(), shared.TenantMPShoes, fresh.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, cancelled.Status)
}

func TestReturnRefundsToWalletAndRestocks(t *testing.T) {
	svc, repo, w, _, st := newTestService()
	sale := ringUp(t, svc)
	payInFull(t, svc, sale)
	_, err := svc.Complete(context.Background(), shared.TenantMPShoes, sale.ID, 3)
	require.NoError(t, err)

	lines, err := svc.Lines(context.Background(), shared.TenantMPShoes, sale.ID)
	require.NoError(t, err)
	require.Len(t, lines, 2)

	ret, err := svc.CreateReturn(context.Background(), ReturnInput{
		Tenant: shared.TenantMPShoes, SaleID: sale.ID, Reason: ReasonWrongSize,
		Items:        []ReturnItemInput{{LineID: lines[0].ID, Quantity: 1, Condition: "GOOD", Restock: true}},
		RefundMethod: RefundWallet,
	})
	require.NoError(t, err)
	// One of two units at the effective unit price: 4480 / 2.
	require.True(t, ret.RefundAmount.Equal(dec("2240")))
	require.Contains(t, ret.Number, "MPR")

	require.Len(t, w.refunds, 1)
	require.True(t, w.refunds[0].Amount.Equal(dec("2240")))
	require.Len(t, st.receives, 1)
	require.Equal(t, int64(1), st.receives[0].Quantity)

	stored := *repo.sales[sale.ID]
	require.Equal(t, StatusCompleted, stored.Status)
	require.True(t, stored.RefundedAmount.Equal(dec("2240")))
}

func TestFullReturnMarksSaleReturned(t *testing.T) {
	svc, repo, _, _, _ := newTestService()
	sale := ringUp(t, svc)
	payInFull(t, svc, sale)
	_, err := svc.Complete(context.Background(), shared.TenantMPShoes, sale.ID, 3)
	require.NoError(t, err)

	lines, err := svc.Lines(context.Background(), shared.TenantMPShoes, sale.ID)
	require.NoError(t, err)

	_, err = svc.CreateReturn(context.Background(), ReturnInput{
		Tenant: shared.TenantMPShoes, SaleID: sale.ID, Reason: ReasonDefective,
		Items: []ReturnItemInput{
			{LineID: lines[0].ID, Quantity: 2, Condition: "DEFECTIVE"},
			{LineID: lines[1].ID, Quantity: 1, Condition: "DEFECTIVE"},
		},
	})
	require.NoError(t, err)

	stored := *repo.sales[sale.ID]
	require.Equal(t, StatusReturned, stored.Status)
	require.Equal(t, PaymentRefunded, stored.PaymentStatus)
}

func TestReturnBeyondSoldRejected(t *testing.T) {
	svc, _, _, _, _ := newTestService()
	sale := ringUp(t, svc)
	payInFull(t, svc, sale)
	_, err := svc.Complete(context.Background(), shared.TenantMPShoes, sale.ID, 3)
	require.NoError(t, err)

	lines, err := svc.Lines(context.Background(), shared.TenantMPShoes, sale.ID)
	require.NoError(t, err)

	_, err = svc.CreateReturn(context.Background(), ReturnInput{
		Tenant: shared.TenantMPShoes, SaleID: sale.ID, Reason: ReasonOther,
		Items: []ReturnItemInput{{LineID: lines[0].ID, Quantity: 1}},
	})
	require.NoError(t, err)

	// Second return of 2 would exceed the 2 sold.
	_, err = svc.CreateReturn(context.Background(), ReturnInput{
		Tenant: shared.TenantMPShoes, SaleID: sale.ID, Reason: ReasonOther,
		Items: []ReturnItemInput{{LineID: lines[0].ID, Quantity: 2}},
	})
	require.ErrorIs(t, err, ErrOverReturn)
}

func TestRestockingFeeReducesRefund(t *testing.T) {
	svc, _, _, _, _ := newTestService()
	sale := ringUp(t, svc)
	payInFull(t, svc, sale)
	_, err := svc.Complete(context.Background(), shared.TenantMPShoes, sale.ID, 3)
	require.NoError(t, err)

	lines, err := svc.Lines(context.Background(), shared.TenantMPShoes, sale.ID)
	require.NoError(t, err)

	ret, err := svc.CreateReturn(context.Background(), ReturnInput{
		Tenant: shared.TenantMPShoes, SaleID: sale.ID, Reason: ReasonChangedMind,
		Items:         []ReturnItemInput{{LineID: lines[0].ID, Quantity: 1}},
		RestockingFee: dec("240"),
	})
	require.NoError(t, err)
	require.True(t, ret.ReturnAmount.Equal(dec("2240")))
	require.True(t, ret.RefundAmount.Equal(dec("2000")))
}

func TestReturnRequiresCompletedSale(t *testing.T) {
	svc, _, _, _, _ := newTestService()
	sale := ringUp(t, svc)

	_, err := svc.CreateReturn(context.Background(), ReturnInput{
		Tenant: shared.TenantMPShoes, SaleID: sale.ID, Reason: ReasonOther,
		Items: []ReturnItemInput{{LineID: 1, Quantity: 1}},
	})
	require.ErrorIs(t, err, ErrNotReturnable)
}

func TestDailySummaryBreaksDownTenders(t *testing.T) {
	svc, _, _, _, _ := newTestService()
	sale := ringUp(t, svc)

	_, err := svc.RecordPayment(context.Background(), PaymentInput{
		Tenant: shared.TenantMPShoes, SaleID: sale.ID, Amount: dec("3000"), Method: MethodCash,
	})
	require.NoError(t, err)
	_, err = svc.RecordPayment(context.Background(), PaymentInput{
		Tenant: shared.TenantMPShoes, SaleID: sale.ID, Amount: dec("2488"), Method: MethodUPI,
	})
	require.NoError(t, err)

	summary, err := svc.DailySummary(context.Background(), shared.TenantMPShoes, time.Now())
	require.NoError(t, err)
	require.Equal(t, int64(1), summary.SalesCount)
	require.Equal(t, int64(3), summary.ItemsSold)
	require.True(t, summary.Gross.Equal(dec("5488")))
	require.True(t, summary.CashAmount.Equal(dec("3000")))
	require.True(t, summary.UPIAmount.Equal(dec("2488")))
	require.True(t, summary.CardAmount.IsZero())
}
