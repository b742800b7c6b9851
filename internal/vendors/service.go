package vendors

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mpfootwear/backoffice/internal/shared"
)

// RepositoryPort abstracts persistence for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetVendor(ctx context.Context, tenant shared.Tenant, id int64) (Vendor, error)
	ListVendors(ctx context.Context, tenant shared.Tenant, query string, p shared.Pagination) ([]Vendor, error)
	UpdateVendor(ctx context.Context, v Vendor) (Vendor, error)
	GetBill(ctx context.Context, tenant shared.Tenant, id int64) (Bill, error)
	ListBills(ctx context.Context, tenant shared.Tenant, vendorID int64, statuses []BillStatus) ([]Bill, error)
	ListPayments(ctx context.Context, tenant shared.Tenant, vendorID int64) ([]Payment, error)
}

// TxRepository exposes the transactional operations the service composes.
type TxRepository interface {
	AllocateVendorCode(ctx context.Context, tenant shared.Tenant) (string, error)
	AllocateBillNumber(ctx context.Context, tenant shared.Tenant, billDate time.Time) (string, error)
	AllocatePaymentNumber(ctx context.Context, tenant shared.Tenant, paymentDate time.Time) (string, error)
	CreateVendor(ctx context.Context, v Vendor) (Vendor, error)
	CreateBill(ctx context.Context, b Bill) (Bill, error)
	GetBillForUpdate(ctx context.Context, id int64) (Bill, error)
	SaveBill(ctx context.Context, b Bill) error
	OutstandingBillsForUpdate(ctx context.Context, tenant shared.Tenant, vendorID int64) ([]Bill, error)
	CreatePayment(ctx context.Context, p Payment) (Payment, error)
	CreateAllocation(ctx context.Context, a Allocation) error
}

// Service coordinates the supplier ledger.
type Service struct {
	repo RepositoryPort
	now  func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo, now: time.Now}
}

// WithClock overrides the time source for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	return &Service{repo: s.repo, now: now}
}

// PaymentInput describes a payment to record against a vendor.
type PaymentInput struct {
	Tenant          shared.Tenant
	VendorID        int64
	Amount          decimal.Decimal
	PaymentDate     time.Time
	Method          PaymentMethod
	ReferenceNumber string
	Description     string
	// Allocations pins amounts to specific bills. When empty the payment is
	// spread across outstanding bills oldest first.
	Allocations []Allocation
}

// CreateVendor persists the vendor with a freshly allocated code.
func (s *Service) CreateVendor(ctx context.Context, v Vendor) (Vendor, error) {
	v.CompanyName = strings.TrimSpace(v.CompanyName)
	if v.CompanyName == "" {
		return Vendor{}, ErrCompanyNameRequired
	}
	if v.PaymentTerms == "" {
		v.PaymentTerms = TermsNet30
	}
	v.Active = true

	var created Vendor
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		code, err := tx.AllocateVendorCode(ctx, v.Tenant)
		if err != nil {
			return fmt.Errorf("allocate vendor code: %w", err)
		}
		v.Code = code
		created, err = tx.CreateVendor(ctx, v)
		return err
	})
	return created, err
}

// Get loads a vendor by id.
func (s *Service) Get(ctx context.Context, tenant shared.Tenant, id int64) (Vendor, error) {
	return s.repo.GetVendor(ctx, tenant, id)
}

// List searches vendors.
func (s *Service) List(ctx context.Context, tenant shared.Tenant, query string, p shared.Pagination) ([]Vendor, error) {
	return s.repo.ListVendors(ctx, tenant, query, p)
}

// Update saves mutable vendor fields. Code and tenant never change.
func (s *Service) Update(ctx context.Context, v Vendor) (Vendor, error) {
	current, err := s.repo.GetVendor(ctx, v.Tenant, v.ID)
	if err != nil {
		return Vendor{}, err
	}
	v.Code = current.Code
	return s.repo.UpdateVendor(ctx, v)
}

// CreateBill records a vendor invoice. The bill number runs in the yearly
// stream of the bill date, so back-dated bills land in their own year.
func (s *Service) CreateBill(ctx context.Context, b Bill) (Bill, error) {
	if b.TotalAmount.Sign() <= 0 {
		return Bill{}, ErrInvalidAmount
	}
	if _, err := s.repo.GetVendor(ctx, b.Tenant, b.VendorID); err != nil {
		return Bill{}, err
	}
	if b.BillDate.IsZero() {
		b.BillDate = s.now()
	}
	if b.DueDate.IsZero() {
		b.DueDate = b.BillDate.AddDate(0, 0, 30)
	}
	b.PaidAmount = decimal.Zero
	b.RecomputeStatus(s.now())

	var created Bill
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		number, err := tx.AllocateBillNumber(ctx, b.Tenant, b.BillDate)
		if err != nil {
			return fmt.Errorf("allocate bill number: %w", err)
		}
		b.Number = number
		created, err = tx.CreateBill(ctx, b)
		return err
	})
	return created, err
}

// GetBill loads a bill by id.
func (s *Service) GetBill(ctx context.Context, tenant shared.Tenant, id int64) (Bill, error) {
	return s.repo.GetBill(ctx, tenant, id)
}

// Bills lists a vendor's bills, optionally filtered by status.
func (s *Service) Bills(ctx context.Context, tenant shared.Tenant, vendorID int64, statuses []BillStatus) ([]Bill, error) {
	return s.repo.ListBills(ctx, tenant, vendorID, statuses)
}

// CancelBill voids an unpaid bill.
func (s *Service) CancelBill(ctx context.Context, tenant shared.Tenant, id int64) error {
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		bill, err := tx.GetBillForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if bill.Tenant != tenant {
			return ErrBillNotFound
		}
		if bill.PaidAmount.Sign() > 0 {
			return ErrBillNotPayable
		}
		bill.Status = BillCancelled
		return tx.SaveBill(ctx, bill)
	})
}

// RecordPayment creates a payment and settles it against the vendor's bills
// in one transaction.
func (s *Service) RecordPayment(ctx context.Context, input PaymentInput) (Payment, error) {
	if input.Amount.Sign() <= 0 {
		return Payment{}, ErrInvalidAmount
	}
	if _, err := s.repo.GetVendor(ctx, input.Tenant, input.VendorID); err != nil {
		return Payment{}, err
	}
	if input.PaymentDate.IsZero() {
		input.PaymentDate = s.now()
	}

	var created Payment
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		number, err := tx.AllocatePaymentNumber(ctx, input.Tenant, input.PaymentDate)
		if err != nil {
			return fmt.Errorf("allocate payment number: %w", err)
		}
		created, err = tx.CreatePayment(ctx, Payment{
			Tenant:          input.Tenant,
			Number:          number,
			VendorID:        input.VendorID,
			Amount:          input.Amount,
			PaymentDate:     input.PaymentDate,
			Method:          input.Method,
			ReferenceNumber: input.ReferenceNumber,
			Description:     input.Description,
		})
		if err != nil {
			return err
		}
		if len(input.Allocations) > 0 {
			return s.allocateExplicit(ctx, tx, created, input.Allocations)
		}
		return s.allocateOldestFirst(ctx, tx, created)
	})
	return created, err
}

// Payments lists a vendor's payments.
func (s *Service) Payments(ctx context.Context, tenant shared.Tenant, vendorID int64) ([]Payment, error) {
	return s.repo.ListPayments(ctx, tenant, vendorID)
}

// MarkOverdue flips pending bills past their due date to OVERDUE. Invoked
// from the background worker.
func (s *Service) MarkOverdue(ctx context.Context, tenant shared.Tenant) (int, error) {
	bills, err := s.repo.ListBills(ctx, tenant, 0, []BillStatus{BillPending})
	if err != nil {
		return 0, err
	}
	now := s.now()
	flipped := 0
	for _, bill := range bills {
		if !now.After(bill.DueDate) {
			continue
		}
		err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			locked, err := tx.GetBillForUpdate(ctx, bill.ID)
			if err != nil {
				return err
			}
			locked.RecomputeStatus(now)
			return tx.SaveBill(ctx, locked)
		})
		if err != nil {
			return flipped, err
		}
		flipped++
	}
	return flipped, nil
}

func (s *Service) allocateExplicit(ctx context.Context, tx TxRepository, payment Payment, allocations []Allocation) error {
	total := decimal.Zero
	for _, alloc := range allocations {
		total = total.Add(alloc.Amount)
	}
	if total.GreaterThan(payment.Amount) {
		return ErrOverAllocation
	}
	now := s.now()
	for _, alloc := range allocations {
		if alloc.Amount.Sign() <= 0 {
			return ErrInvalidAmount
		}
		bill, err := tx.GetBillForUpdate(ctx, alloc.BillID)
		if err != nil {
			return err
		}
		if bill.Tenant != payment.Tenant || bill.VendorID != payment.VendorID {
			return ErrBillNotFound
		}
		if err := bill.ApplyPayment(alloc.Amount, now); err != nil {
			return err
		}
		if err := tx.SaveBill(ctx, bill); err != nil {
			return err
		}
		alloc.PaymentID = payment.ID
		if err := tx.CreateAllocation(ctx, alloc); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) allocateOldestFirst(ctx context.Context, tx TxRepository, payment Payment) error {
	bills, err := tx.OutstandingBillsForUpdate(ctx, payment.Tenant, payment.VendorID)
	if err != nil {
		return err
	}
	sort.Slice(bills, func(i, j int) bool { return bills[i].BillDate.Before(bills[j].BillDate) })

	now := s.now()
	remaining := payment.Amount
	for _, bill := range bills {
		if remaining.Sign() <= 0 {
			break
		}
		portion := decimal.Min(remaining, bill.Outstanding())
		if portion.Sign() <= 0 {
			continue
		}
		if err := bill.ApplyPayment(portion, now); err != nil {
			return err
		}
		if err := tx.SaveBill(ctx, bill); err != nil {
			return err
		}
		if err := tx.CreateAllocation(ctx, Allocation{PaymentID: payment.ID, BillID: bill.ID, Amount: portion}); err != nil {
			return err
		}
		remaining = remaining.Sub(portion)
	}
	return nil
}
