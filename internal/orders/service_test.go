package orders

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/mpfootwear/backoffice/internal/giftcard"
	"github.com/mpfootwear/backoffice/internal/ledger"
	"github.com/mpfootwear/backoffice/internal/loyalty"
	"github.com/mpfootwear/backoffice/internal/shared"
	"github.com/mpfootwear/backoffice/internal/wallet"
)

type memoryRepo struct {
	orders   map[int64]*Order
	lines    map[int64][]Line
	payments map[int64]*Payment
	refunds  []Refund
	history  []StatusChange
	counters map[string]int64
	nextID   int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		orders:   make(map[int64]*Order),
		lines:    make(map[int64][]Line),
		payments: make(map[int64]*Payment),
		counters: make(map[string]int64),
	}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &memoryTx{repo: r})
}

func (r *memoryRepo) Get(ctx context.Context, tenant shared.Tenant, id int64) (Order, error) {
	o, ok := r.orders[id]
	if !ok || o.Tenant != tenant {
		return Order{}, ErrOrderNotFound
	}
	return *o, nil
}

func (r *memoryRepo) GetByDisplayID(ctx context.Context, tenant shared.Tenant, displayID string) (Order, error) {
	for _, o := range r.orders {
		if o.Tenant == tenant && o.DisplayID == displayID {
			return *o, nil
		}
	}
	return Order{}, ErrOrderNotFound
}

func (r *memoryRepo) List(ctx context.Context, tenant shared.Tenant, statuses []Status, p shared.Pagination) ([]Order, error) {
	var out []Order
	for _, o := range r.orders {
		if o.Tenant == tenant {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (r *memoryRepo) Lines(ctx context.Context, orderID int64) ([]Line, error) {
	return r.lines[orderID], nil
}

func (r *memoryRepo) Payments(ctx context.Context, orderID int64) ([]Payment, error) {
	var out []Payment
	for _, p := range r.payments {
		if p.OrderID == orderID {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (r *memoryRepo) GetPayment(ctx context.Context, id int64) (Payment, error) {
	p, ok := r.payments[id]
	if !ok {
		return Payment{}, ErrOrderNotFound
	}
	return *p, nil
}

func (r *memoryRepo) Refunds(ctx context.Context, orderID int64) ([]Refund, error) {
	var out []Refund
	for _, rf := range r.refunds {
		if rf.OrderID == orderID {
			out = append(out, rf)
		}
	}
	return out, nil
}

func (r *memoryRepo) History(ctx context.Context, orderID int64) ([]StatusChange, error) {
	var out []StatusChange
	for _, h := range r.history {
		if h.OrderID == orderID {
			out = append(out, h)
		}
	}
	return out, nil
}

type memoryTx struct {
	repo *memoryRepo
}

func (t *memoryTx) next(key string) int64 {
	t.repo.counters[key]++
	return t.repo.counters[key]
}

func (t *memoryTx) AllocateOrderNumber(ctx context.Context, tenant shared.Tenant, at time.Time) (string, error) {
	date := at.Format("20060102")
	return fmt.Sprintf("%sO%s%06d", tenant.ShortCode(), date, t.next(tenant.String()+":order:"+date)), nil
}

func (t *memoryTx) AllocateDisplayID(ctx context.Context, tenant shared.Tenant) (string, error) {
	return fmt.Sprintf("%s%d", tenant.ShortCode(), 999+t.next(tenant.String()+":display")), nil
}

func (t *memoryTx) AllocatePaymentNumber(ctx context.Context, tenant shared.Tenant) (string, error) {
	return fmt.Sprintf("%sPAY%06d", tenant.ShortCode(), t.next(tenant.String()+":pay")), nil
}

func (t *memoryTx) AllocateRefundNumber(ctx context.Context, tenant shared.Tenant) (string, error) {
	return fmt.Sprintf("%sREF%06d", tenant.ShortCode(), t.next(tenant.String()+":ref")), nil
}

func (t *memoryTx) CreateOrder(ctx context.Context, o Order) (Order, error) {
	t.repo.nextID++
	o.ID = t.repo.nextID
	t.repo.orders[o.ID] = &o
	return o, nil
}

func (t *memoryTx) GetForUpdate(ctx context.Context, id int64) (Order, error) {
	o, ok := t.repo.orders[id]
	if !ok {
		return Order{}, ErrOrderNotFound
	}
	return *o, nil
}

func (t *memoryTx) SaveOrder(ctx context.Context, o Order) error {
	stored, ok := t.repo.orders[o.ID]
	if !ok {
		return ErrOrderNotFound
	}
	*stored = o
	return nil
}

func (t *memoryTx) ReplaceLines(ctx context.Context, orderID int64, lines []Line) error {
	t.repo.lines[orderID] = append([]Line(nil), lines...)
	return nil
}

func (t *memoryTx) AppendHistory(ctx context.Context, h StatusChange) error {
	t.repo.history = append(t.repo.history, h)
	return nil
}

func (t *memoryTx) CreatePayment(ctx context.Context, p Payment) (Payment, error) {
	t.repo.nextID++
	p.ID = t.repo.nextID
	t.repo.payments[p.ID] = &p
	return p, nil
}

func (t *memoryTx) CreateRefund(ctx context.Context, r Refund) (Refund, error) {
	t.repo.nextID++
	r.ID = t.repo.nextID
	t.repo.refunds = append(t.repo.refunds, r)
	return r, nil
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
	err      error
}

func (f *fakeGiftCards) Redeem(ctx context.Context, input giftcard.RedeemInput) (ledger.Entry, giftcard.GiftCard, error) {
	if f.err != nil {
		return ledger.Entry{}, giftcard.GiftCard{}, f.err
	}
	f.redeems = append(f.redeems, input)
	return ledger.Entry{Amount: input.Amount.Neg()}, giftcard.GiftCard{Code: input.Code}, nil
}

func (f *fakeGiftCards) Reverse(ctx context.Context, input giftcard.ReverseInput) (ledger.Entry, giftcard.GiftCard, error) {
	f.reverses = append(f.reverses, input)
	return ledger.Entry{Amount: input.Amount}, giftcard.GiftCard{Code: input.Code}, nil
}

type fakeLoyalty struct {
	earns []loyalty.EarnInput
	rate  int64
}

func (f *fakeLoyalty) Earn(ctx context.Context, input loyalty.EarnInput) (int64, error) {
	f.earns = append(f.earns, input)
	return f.rate, nil
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func int64Ptr(n int64) *int64 { return &n }

func newTestService() (*Service, *memoryRepo, *fakeWallet, *fakeGiftCards, *fakeLoyalty) {
	repo := newMemoryRepo()
	w := &fakeWallet{}
	g := &fakeGiftCards{}
	l := &fakeLoyalty{rate: 150}
	return NewService(repo, w, g, l), repo, w, g, l
}

func twoLineOrder(t *testing.T, svc *Service) Order {
	t.Helper()
	order, err := svc.Create(context.Background(), CreateInput{
		Tenant:     shared.TenantMPShoes,
		CustomerID: int64Ptr(7),
		Lines: []LineInput{
			{ProductID: 1, ProductSKU: "MPSNE0001", ProductName: "Court Classic", UnitPrice: dec("2000"), Quantity: 2, TaxRate: dec("12")},
			{ProductID: 2, ProductSKU: "MPSNE0002", ProductName: "Trail Runner", UnitPrice: dec("1000"), Quantity: 1, DiscountPercentage: dec("10"), TaxRate: dec("12")},
		},
		ShippingAmount: dec("99"),
	})
	require.NoError(t, err)
	return order
}

func TestCreateComputesTotalsAndNumbers(t *testing.T) {
	svc, repo, _, _, _ := newTestService()
	order := twoLineOrder(t, svc)

	// subtotal 5000, line discount 100, tax 12% of 4900 = 588, shipping 99.
	require.True(t, order.Subtotal.Equal(dec("5000")))
	require.True(t, order.DiscountAmount.Equal(dec("100")))
	require.True(t, order.TaxAmount.Equal(dec("588")))
	require.True(t, order.TotalAmount.Equal(dec("5587")))
	require.Equal(t, StatusPending, order.Status)
	require.Contains(t, order.Number, "MPO")
	require.Equal(t, "MP1000", order.DisplayID)

	history, err := repo.History(context.Background(), order.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Equal(t, StatusPending, history[0].To)
}

func TestDisplayIDsIncrement(t *testing.T) {
	svc, _, _, _, _ := newTestService()
	first := twoLineOrder(t, svc)
	second := twoLineOrder(t, svc)
	require.Equal(t, "MP1000", first.DisplayID)
	require.Equal(t, "MP1001", second.DisplayID)
}

func TestUpdateLinesRecomputesTotals(t *testing.T) {
	svc, _, _, _, _ := newTestService()
	order := twoLineOrder(t, svc)

	updated, err := svc.UpdateLines(context.Background(), shared.TenantMPShoes, order.ID, []LineInput{
		{ProductID: 1, ProductSKU: "MPSNE0001", UnitPrice: dec("2000"), Quantity: 1},
	})
	require.NoError(t, err)
	require.True(t, updated.Subtotal.Equal(dec("2000")))
	require.True(t, updated.TotalAmount.Equal(dec("2099"))) // shipping carried over
}

func TestUpdateLinesBlockedAfterProcessing(t *testing.T) {
	svc, _, _, _, _ := newTestService()
	order := twoLineOrder(t, svc)

	_, err := svc.Transition(context.Background(), shared.TenantMPShoes, order.ID, StatusConfirmed, "", 1)
	require.NoError(t, err)
	_, err = svc.Transition(context.Background(), shared.TenantMPShoes, order.ID, StatusProcessing, "", 1)
	require.NoError(t, err)

	_, err = svc.UpdateLines(context.Background(), shared.TenantMPShoes, order.ID, []LineInput{
		{ProductID: 1, UnitPrice: dec("1"), Quantity: 1},
	})
	require.ErrorIs(t, err, ErrNotModifiable)
}

func TestTransitionRejectsSkips(t *testing.T) {
	svc, _, _, _, _ := newTestService()
	order := twoLineOrder(t, svc)

	_, err := svc.Transition(context.Background(), shared.TenantMPShoes, order.ID, StatusShipped, "", 1)
	require.ErrorIs(t, err, ErrBadTransition)
}

func TestCancelOnlyEarly(t *testing.T) {
	svc, _, _, _, _ := newTestService()
	order := twoLineOrder(t, svc)

	for _, status := range []Status{StatusConfirmed, StatusProcessing, StatusPacked} {
		_, err := svc.Transition(context.Background(), shared.TenantMPShoes, order.ID, status, "", 1)
		require.NoError(t, err)
	}

	_, err := svc.Cancel(context.Background(), shared.TenantMPShoes, order.ID, "changed mind", 1)
	require.ErrorIs(t, err, ErrNotCancellable)
}

func TestFullPaymentConfirmsOrder(t *testing.T) {
	svc, _, _, _, _ := newTestService()
	order := twoLineOrder(t, svc)

	payment, err := svc.RecordPayment(context.Background(), PaymentInput{
		Tenant: shared.TenantMPShoes, OrderID: order.ID, Amount: order.TotalAmount, Method: MethodCard,
	})
	require.NoError(t, err)
	require.Equal(t, "MPPAY000001", payment.Number)

	stored, err := svc.Get(context.Background(), shared.TenantMPShoes, order.ID)
	require.NoError(t, err)
	require.Equal(t, PaymentCompleted, stored.PaymentStatus)
	require.Equal(t, StatusConfirmed, stored.Status)
}

func TestOverpaymentRejected(t *testing.T) {
	svc, _, _, _, _ := newTestService()
	order := twoLineOrder(t, svc)

	_, err := svc.RecordPayment(context.Background(), PaymentInput{
		Tenant: shared.TenantMPShoes, OrderID: order.ID, Amount: order.TotalAmount.Add(dec("1")), Method: MethodCard,
	})
	require.ErrorIs(t, err, ErrOverpayment)
}

func TestWalletPaymentDebitsWallet(t *testing.T) {
	svc, _, w, _, _ := newTestService()
	order := twoLineOrder(t, svc)

	_, err := svc.RecordPayment(context.Background(), PaymentInput{
		Tenant: shared.TenantMPShoes, OrderID: order.ID, Amount: dec("500"), Method: MethodWallet,
	})
	require.NoError(t, err)
	require.Len(t, w.spends, 1)
	require.Equal(t, int64(7), w.spends[0].CustomerID)
	require.Equal(t, order.Number, w.spends[0].Reference)

	stored, err := svc.Get(context.Background(), shared.TenantMPShoes, order.ID)
	require.NoError(t, err)
	require.Equal(t, PaymentPartiallyPaid, stored.PaymentStatus)
}

func TestWalletPaymentFailureLeavesOrderUnpaid(t *testing.T) {
	svc, _, w, _, _ := newTestService()
	order := twoLineOrder(t, svc)
	w.err = wallet.ErrInsufficientBalance

	_, err := svc.RecordPayment(context.Background(), PaymentInput{
		Tenant: shared.TenantMPShoes, OrderID: order.ID, Amount: dec("500"), Method: MethodWallet,
	})
	require.ErrorIs(t, err, wallet.ErrInsufficientBalance)

	stored, err := svc.Get(context.Background(), shared.TenantMPShoes, order.ID)
	require.NoError(t, err)
	require.True(t, stored.PaidAmount.IsZero())
}

func TestGuestOrderRejectsWallet(t *testing.T) {
	svc, _, _, _, _ := newTestService()
	order, err := svc.Create(context.Background(), CreateInput{
		Tenant:        shared.TenantMPShoes,
		CustomerEmail: "guest@example.com",
		Lines:         []LineInput{{ProductID: 1, UnitPrice: dec("100"), Quantity: 1}},
	})
	require.NoError(t, err)

	_, err = svc.RecordPayment(context.Background(), PaymentInput{
		Tenant: shared.TenantMPShoes, OrderID: order.ID, Amount: dec("100"), Method: MethodWallet,
	})
	require.ErrorIs(t, err, ErrGuestNeedsCustomer)
}

func TestGiftCardPaymentPassesSubtotal(t *testing.T) {
	svc, _, _, g, _ := newTestService()
	order := twoLineOrder(t, svc)

	_, err := svc.RecordPayment(context.Background(), PaymentInput{
		Tenant: shared.TenantMPShoes, OrderID: order.ID, Amount: dec("1000"),
		Method: MethodGiftCard, GiftCardCode: "ABCD1234EFGH",
	})
	require.NoError(t, err)
	require.Len(t, g.redeems, 1)
	require.Equal(t, "ABCD1234EFGH", g.redeems[0].Code)
	require.NotNil(t, g.redeems[0].OrderSubtotal)
	require.True(t, g.redeems[0].OrderSubtotal.Equal(order.Subtotal))
}

// staleReadRepo serves a fixed snapshot from Get while everything else goes
// through to the shared store, mimicking a read that raced another payment.
type staleReadRepo struct {
	*memoryRepo
	snapshot Order
}

func (r *staleReadRepo) Get(ctx context.Context, tenant shared.Tenant, id int64) (Order, error) {
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
	order := twoLineOrder(t, svc)

	_, err := svc.RecordPayment(context.Background(), PaymentInput{
		Tenant: shared.TenantMPShoes, OrderID: order.ID, Amount: order.TotalAmount, Method: MethodCard,
	})
	require.NoError(t, err)

	// A second submission that read the order before the first payment
	// landed passes the snapshot check; the locked row must still stop it.
	stale := &staleReadRepo{memoryRepo: repo, snapshot: order}
	racer := NewService(stale, &fakeWallet{}, &fakeGiftCards{}, &fakeLoyalty{})
	_, err = racer.RecordPayment(context.Background(), PaymentInput{
		Tenant: shared.TenantMPShoes, OrderID: order.ID, Amount: order.TotalAmount, Method: MethodCard,
	})
	require.ErrorIs(t, err, ErrOverpayment)

	stored, err := svc.Get(context.Background(), shared.TenantMPShoes, order.ID)
	require.NoError(t, err)
	require.True(t, stored.PaidAmount.Equal(order.TotalAmount))
}

func TestFailedPaymentWriteReversesWalletDebit(t *testing.T) {
	svc, repo, _, _, _ := newTestService()
	order := twoLineOrder(t, svc)

	w := &fakeWallet{}
	errWrite := errors.New("write failed")
	broken := NewService(&failingTxRepo{memoryRepo: repo, err: errWrite}, w, &fakeGiftCards{}, &fakeLoyalty{})

	_, err := broken.RecordPayment(context.Background(), PaymentInput{
		Tenant: shared.TenantMPShoes, OrderID: order.ID, Amount: dec("500"), Method: MethodWallet,
	})
	require.ErrorIs(t, err, errWrite)

	// The debit was credited back, so no money is stranded.
	require.Len(t, w.spends, 1)
	require.Len(t, w.refunds, 1)
	require.True(t, w.refunds[0].Amount.Equal(dec("500")))
	require.Equal(t, order.Number, w.refunds[0].Reference)
}

func TestFailedPaymentWriteReversesGiftCardRedemption(t *testing.T) {
	svc, repo, _, _, _ := newTestService()
	order := twoLineOrder(t, svc)

	g := &fakeGiftCards{}
	errWrite := errors.New("write failed")
	broken := NewService(&failingTxRepo{memoryRepo: repo, err: errWrite}, &fakeWallet{}, g, &fakeLoyalty{})

	_, err := broken.RecordPayment(context.Background(), PaymentInput{
		Tenant: shared.TenantMPShoes, OrderID: order.ID, Amount: dec("800"),
		Method: MethodGiftCard, GiftCardCode: "ABCD1234EFGH",
	})
	require.ErrorIs(t, err, errWrite)

	require.Len(t, g.redeems, 1)
	require.Len(t, g.reverses, 1)
	require.True(t, g.reverses[0].Amount.Equal(dec("800")))
	require.Equal(t, "ABCD1234EFGH", g.reverses[0].Code)
}

func TestPaymentIdempotencyKey(t *testing.T) {
	base, _, _, _, _ := newTestService()
	idem := newFakeIdempotency()
	svc := base.WithIdempotency(idem)
	order := twoLineOrder(t, svc)

	_, err := svc.RecordPayment(context.Background(), PaymentInput{
		Tenant: shared.TenantMPShoes, OrderID: order.ID, Amount: dec("500"),
		Method: MethodCard, IdempotencyKey: "pay-1",
	})
	require.NoError(t, err)

	// Replaying the same key is rejected before any money moves.
	_, err = svc.RecordPayment(context.Background(), PaymentInput{
		Tenant: shared.TenantMPShoes, OrderID: order.ID, Amount: dec("500"),
		Method: MethodCard, IdempotencyKey: "pay-1",
	})
	require.ErrorIs(t, err, shared.ErrIdempotencyConflict)

	stored, err := svc.Get(context.Background(), shared.TenantMPShoes, order.ID)
	require.NoError(t, err)
	require.True(t, stored.PaidAmount.Equal(dec("500")))

	// A failed attempt releases its key so the client can retry.
	_, err = svc.RecordPayment(context.Background(), PaymentInput{
		Tenant: shared.TenantMPShoes, OrderID: order.ID, Amount: order.TotalAmount,
		Method: MethodCard, IdempotencyKey: "pay-2",
	})
	require.ErrorIs(t, err, ErrOverpayment)

	_, err = svc.RecordPayment(context.Background(), PaymentInput{
		Tenant: shared.TenantMPShoes, OrderID: order.ID, Amount: order.AmountDue().Sub(dec("500")),
		Method: MethodCard, IdempotencyKey: "pay-2",
	})
	require.NoError(t, err)
}

func TestDeliveryEarnsLoyaltyPoints(t *testing.T) {
	svc, _, _, _, l := newTestService()
	order := twoLineOrder(t, svc)

	for _, status := range []Status{StatusConfirmed, StatusProcessing, StatusPacked, StatusShipped, StatusDelivered} {
		_, err := svc.Transition(context.Background(), shared.TenantMPShoes, order.ID, status, "", 1)
		require.NoError(t, err)
	}

	require.Len(t, l.earns, 1)
	require.True(t, l.earns[0].OrderAmount.Equal(order.TotalAmount))

	stored, err := svc.Get(context.Background(), shared.TenantMPShoes, order.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.DeliveredAt)
	require.Equal(t, int64(150), stored.LoyaltyPointsEarned)
}

func TestRefundFlow(t *testing.T) {
	svc, _, w, _, _ := newTestService()
	order := twoLineOrder(t, svc)

	payment, err := svc.RecordPayment(context.Background(), PaymentInput{
		Tenant: shared.TenantMPShoes, OrderID: order.ID, Amount: order.TotalAmount, Method: MethodWallet,
	})
	require.NoError(t, err)

	_, err = svc.RecordRefund(context.Background(), RefundInput{
		Tenant: shared.TenantMPShoes, OrderID: order.ID, PaymentID: payment.ID,
		Amount: dec("1000"), Reason: ReasonDefective,
	})
	require.NoError(t, err)
	require.Len(t, w.refunds, 1)
	require.True(t, w.refunds[0].Amount.Equal(dec("1000")))

	stored, err := svc.Get(context.Background(), shared.TenantMPShoes, order.ID)
	require.NoError(t, err)
	require.Equal(t, PaymentPartiallyRefunded, stored.PaymentStatus)

	_, err = svc.RecordRefund(context.Background(), RefundInput{
		Tenant: shared.TenantMPShoes, OrderID: order.ID, PaymentID: payment.ID,
		Amount: order.TotalAmount, Reason: ReasonCustomerRequest,
	})
	require.ErrorIs(t, err, ErrOverRefund)
}
