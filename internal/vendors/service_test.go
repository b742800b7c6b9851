package vendors

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/mpfootwear/backoffice/internal/shared"
)

type memoryRepo struct {
	vendors     map[int64]*Vendor
	bills       map[int64]*Bill
	payments    map[int64]*Payment
	allocations []Allocation
	counters    map[string]int64
	nextID      int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		vendors:  make(map[int64]*Vendor),
		bills:    make(map[int64]*Bill),
		payments: make(map[int64]*Payment),
		counters: make(map[string]int64),
	}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &memoryTx{repo: r})
}

func (r *memoryRepo) GetVendor(ctx context.Context, tenant shared.Tenant, id int64) (Vendor, error) {
	v, ok := r.vendors[id]
	if !ok || v.Tenant != tenant {
		return Vendor{}, ErrVendorNotFound
	}
	return *v, nil
}

func (r *memoryRepo) ListVendors(ctx context.Context, tenant shared.Tenant, query string, p shared.Pagination) ([]Vendor, error) {
	var out []Vendor
	for _, v := range r.vendors {
		if v.Tenant == tenant {
			out = append(out, *v)
		}
	}
	return out, nil
}

func (r *memoryRepo) UpdateVendor(ctx context.Context, v Vendor) (Vendor, error) {
	stored, ok := r.vendors[v.ID]
	if !ok {
		return Vendor{}, ErrVendorNotFound
	}
	*stored = v
	return v, nil
}

func (r *memoryRepo) GetBill(ctx context.Context, tenant shared.Tenant, id int64) (Bill, error) {
	b, ok := r.bills[id]
	if !ok || b.Tenant != tenant {
		return Bill{}, ErrBillNotFound
	}
	return *b, nil
}

func (r *memoryRepo) ListBills(ctx context.Context, tenant shared.Tenant, vendorID int64, statuses []BillStatus) ([]Bill, error) {
	var out []Bill
	for _, b := range r.bills {
		if b.Tenant != tenant {
			continue
		}
		if vendorID != 0 && b.VendorID != vendorID {
			continue
		}
		if len(statuses) > 0 {
			match := false
			for _, s := range statuses {
				if b.Status == s {
					match = true
				}
			}
			if !match {
				continue
			}
		}
		out = append(out, *b)
	}
	return out, nil
}

func (r *memoryRepo) ListPayments(ctx context.Context, tenant shared.Tenant, vendorID int64) ([]Payment, error) {
	var out []Payment
	for _, p := range r.payments {
		if p.Tenant == tenant && p.VendorID == vendorID {
			out = append(out, *p)
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

func (t *memoryTx) AllocateVendorCode(ctx context.Context, tenant shared.Tenant) (string, error) {
	return fmt.Sprintf("%sV%04d", tenant.ShortCode(), t.next(tenant.String()+":vendor")), nil
}

func (t *memoryTx) AllocateBillNumber(ctx context.Context, tenant shared.Tenant, billDate time.Time) (string, error) {
	year := billDate.Year()
	return fmt.Sprintf("%sB%d-%04d", tenant.ShortCode(), year, t.next(fmt.Sprintf("%s:bill:%d", tenant, year))), nil
}

func (t *memoryTx) AllocatePaymentNumber(ctx context.Context, tenant shared.Tenant, paymentDate time.Time) (string, error) {
	year := paymentDate.Year()
	return fmt.Sprintf("%sP%d-%04d", tenant.ShortCode(), year, t.next(fmt.Sprintf("%s:payment:%d", tenant, year))), nil
}

func (t *memoryTx) CreateVendor(ctx context.Context, v Vendor) (Vendor, error) {
	t.repo.nextID++
	v.ID = t.repo.nextID
	t.repo.vendors[v.ID] = &v
	return v, nil
}

func (t *memoryTx) CreateBill(ctx context.Context, b Bill) (Bill, error) {
	t.repo.nextID++
	b.ID = t.repo.nextID
	t.repo.bills[b.ID] = &b
	return b, nil
}

func (t *memoryTx) GetBillForUpdate(ctx context.Context, id int64) (Bill, error) {
	b, ok := t.repo.bills[id]
	if !ok {
		return Bill{}, ErrBillNotFound
	}
	return *b, nil
}

func (t *memoryTx) SaveBill(ctx context.Context, b Bill) error {
	stored, ok := t.repo.bills[b.ID]
	if !ok {
		return ErrBillNotFound
	}
	stored.Status = b.Status
	stored.PaidAmount = b.PaidAmount
	return nil
}

func (t *memoryTx) OutstandingBillsForUpdate(ctx context.Context, tenant shared.Tenant, vendorID int64) ([]Bill, error) {
	var out []Bill
	for _, b := range t.repo.bills {
		if b.Tenant != tenant || b.VendorID != vendorID {
			continue
		}
		switch b.Status {
		case BillPending, BillPartiallyPaid, BillOverdue:
			out = append(out, *b)
		}
	}
	return out, nil
}

func (t *memoryTx) CreatePayment(ctx context.Context, p Payment) (Payment, error) {
	t.repo.nextID++
	p.ID = t.repo.nextID
	t.repo.payments[p.ID] = &p
	return p, nil
}

func (t *memoryTx) CreateAllocation(ctx context.Context, a Allocation) error {
	t.repo.allocations = append(t.repo.allocations, a)
	return nil
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newTestVendor(t *testing.T, svc *Service) Vendor {
	t.Helper()
	v, err := svc.CreateVendor(context.Background(), Vendor{
		Tenant:      shared.TenantMPShoes,
		CompanyName: "Stride Components",
		Type:        TypeManufacturer,
	})
	require.NoError(t, err)
	return v
}

func newTestBill(t *testing.T, svc *Service, vendorID int64, total string, billDate time.Time) Bill {
	t.Helper()
	b, err := svc.CreateBill(context.Background(), Bill{
		Tenant:      shared.TenantMPShoes,
		VendorID:    vendorID,
		Subtotal:    dec(total),
		TotalAmount: dec(total),
		BillDate:    billDate,
		DueDate:     billDate.AddDate(0, 0, 30),
	})
	require.NoError(t, err)
	return b
}

func TestCreateVendorAllocatesCode(t *testing.T) {
	svc := NewService(newMemoryRepo())

	first := newTestVendor(t, svc)
	second := newTestVendor(t, svc)
	require.Equal(t, "MPV0001", first.Code)
	require.Equal(t, "MPV0002", second.Code)
	require.Equal(t, TermsNet30, first.PaymentTerms)
}

func TestBillNumbersRunPerYear(t *testing.T) {
	svc := NewService(newMemoryRepo())
	vendor := newTestVendor(t, svc)

	a := newTestBill(t, svc, vendor.ID, "1000", time.Date(2025, 12, 30, 0, 0, 0, 0, time.UTC))
	b := newTestBill(t, svc, vendor.ID, "1000", time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC))
	c := newTestBill(t, svc, vendor.ID, "1000", time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC))

	require.Equal(t, "MPB2025-0001", a.Number)
	require.Equal(t, "MPB2026-0001", b.Number)
	require.Equal(t, "MPB2026-0002", c.Number)
}

func TestPaymentSpreadsOldestFirst(t *testing.T) {
	svc := NewService(newMemoryRepo())
	vendor := newTestVendor(t, svc)

	older := newTestBill(t, svc, vendor.ID, "1000", time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC))
	newer := newTestBill(t, svc, vendor.ID, "800", time.Date(2026, 2, 5, 0, 0, 0, 0, time.UTC))

	payment, err := svc.RecordPayment(context.Background(), PaymentInput{
		Tenant:   shared.TenantMPShoes,
		VendorID: vendor.ID,
		Amount:   dec("1300"),
		Method:   MethodBankTransfer,
	})
	require.NoError(t, err)
	require.Equal(t, "MPP2026-0001", payment.Number)

	first, err := svc.GetBill(context.Background(), shared.TenantMPShoes, older.ID)
	require.NoError(t, err)
	require.Equal(t, BillPaid, first.Status)
	require.True(t, first.Outstanding().IsZero())

	second, err := svc.GetBill(context.Background(), shared.TenantMPShoes, newer.ID)
	require.NoError(t, err)
	require.Equal(t, BillPartiallyPaid, second.Status)
	require.True(t, second.Outstanding().Equal(dec("500")))
}

func TestExplicitAllocationRejectsOverpay(t *testing.T) {
	svc := NewService(newMemoryRepo())
	vendor := newTestVendor(t, svc)
	bill := newTestBill(t, svc, vendor.ID, "1000", time.Now())

	_, err := svc.RecordPayment(context.Background(), PaymentInput{
		Tenant:      shared.TenantMPShoes,
		VendorID:    vendor.ID,
		Amount:      dec("2000"),
		Method:      MethodCash,
		Allocations: []Allocation{{BillID: bill.ID, Amount: dec("1500")}},
	})
	require.ErrorIs(t, err, ErrOverAllocation)

	// The failed transaction leaves the bill untouched.
	stored, err := svc.GetBill(context.Background(), shared.TenantMPShoes, bill.ID)
	require.NoError(t, err)
	require.True(t, stored.PaidAmount.IsZero())
}

func TestCancelBillRequiresUnpaid(t *testing.T) {
	svc := NewService(newMemoryRepo())
	vendor := newTestVendor(t, svc)
	bill := newTestBill(t, svc, vendor.ID, "400", time.Now())

	_, err := svc.RecordPayment(context.Background(), PaymentInput{
		Tenant: shared.TenantMPShoes, VendorID: vendor.ID, Amount: dec("100"), Method: MethodUPI,
	})
	require.NoError(t, err)

	err = svc.CancelBill(context.Background(), shared.TenantMPShoes, bill.ID)
	require.ErrorIs(t, err, ErrBillNotPayable)
}

func TestMarkOverdue(t *testing.T) {
	svc := NewService(newMemoryRepo())
	vendor := newTestVendor(t, svc)

	// The bill starts out PENDING with its due date ahead; the sweep runs
	// on a clock past the due date.
	bill := newTestBill(t, svc, vendor.ID, "400", time.Now())
	require.Equal(t, BillPending, bill.Status)

	late := svc.WithClock(func() time.Time { return time.Now().AddDate(0, 0, 45) })
	flipped, err := late.MarkOverdue(context.Background(), shared.TenantMPShoes)
	require.NoError(t, err)
	require.Equal(t, 1, flipped)

	stored, err := svc.GetBill(context.Background(), shared.TenantMPShoes, bill.ID)
	require.NoError(t, err)
	require.Equal(t, BillOverdue, stored.Status)

	// Paying an overdue bill settles it.
	_, err = svc.RecordPayment(context.Background(), PaymentInput{
		Tenant: shared.TenantMPShoes, VendorID: vendor.ID, Amount: dec("400"), Method: MethodCash,
	})
	require.NoError(t, err)
	stored, err = svc.GetBill(context.Background(), shared.TenantMPShoes, bill.ID)
	require.NoError(t, err)
	require.Equal(t, BillPaid, stored.Status)
}
