// Package vendors manages suppliers, their bills, and payments against those
// bills. Bill and payment numbers run in per-tenant yearly streams.
package vendors

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mpfootwear/backoffice/internal/shared"
)

// Type classifies the supplier relationship.
type Type string

const (
	TypeManufacturer Type = "MANUFACTURER"
	TypeDistributor  Type = "DISTRIBUTOR"
	TypeWholesaler   Type = "WHOLESALER"
	TypeService      Type = "SERVICE"
)

// PaymentTerms names the agreed settlement window.
type PaymentTerms string

const (
	TermsCOD     PaymentTerms = "COD"
	TermsNet15   PaymentTerms = "NET_15"
	TermsNet30   PaymentTerms = "NET_30"
	TermsNet60   PaymentTerms = "NET_60"
	TermsAdvance PaymentTerms = "ADVANCE"
)

// Vendor is a tenant-scoped supplier record.
type Vendor struct {
	ID            int64
	Tenant        shared.Tenant
	Code          string
	CompanyName   string
	ContactPerson string
	Email         string
	Phone         string
	Type          Type
	GSTIN         string
	PAN           string
	CreditLimit   decimal.Decimal
	PaymentTerms  PaymentTerms
	Rating        *decimal.Decimal
	Notes         string
	Active        bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// BillStatus tracks how much of a bill has been settled.
type BillStatus string

const (
	BillPending       BillStatus = "PENDING"
	BillPartiallyPaid BillStatus = "PARTIALLY_PAID"
	BillPaid          BillStatus = "PAID"
	BillOverdue       BillStatus = "OVERDUE"
	BillCancelled     BillStatus = "CANCELLED"
)

// Bill is a vendor invoice awaiting settlement.
type Bill struct {
	ID     int64
	Tenant shared.Tenant
	Number string
	// VendorBillNumber is the vendor's own invoice number.
	VendorBillNumber string
	VendorID         int64
	Status           BillStatus
	BillDate         time.Time
	DueDate          time.Time

	Subtotal       decimal.Decimal
	DiscountAmount decimal.Decimal
	TaxAmount      decimal.Decimal
	TotalAmount    decimal.Decimal
	PaidAmount     decimal.Decimal

	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// PaymentMethod names how a vendor payment was made.
type PaymentMethod string

const (
	MethodCash         PaymentMethod = "CASH"
	MethodBankTransfer PaymentMethod = "BANK_TRANSFER"
	MethodCheque       PaymentMethod = "CHEQUE"
	MethodUPI          PaymentMethod = "UPI"
)

// Payment records money paid to a vendor, allocated across bills.
type Payment struct {
	ID              int64
	Tenant          shared.Tenant
	Number          string
	VendorID        int64
	Amount          decimal.Decimal
	PaymentDate     time.Time
	Method          PaymentMethod
	ReferenceNumber string
	Description     string
	CreatedAt       time.Time
}

// Allocation applies part of a payment to a bill.
type Allocation struct {
	PaymentID int64
	BillID    int64
	Amount    decimal.Decimal
}

var (
	// ErrVendorNotFound indicates a missing vendor.
	ErrVendorNotFound = errors.New("vendors: vendor not found")
	// ErrBillNotFound indicates a missing bill.
	ErrBillNotFound = errors.New("vendors: bill not found")
	// ErrInvalidAmount rejects non-positive amounts.
	ErrInvalidAmount = errors.New("vendors: amount must be positive")
	// ErrBillNotPayable rejects payments against paid or cancelled bills.
	ErrBillNotPayable = errors.New("vendors: bill not payable")
	// ErrOverAllocation rejects allocations exceeding the payment amount or
	// a bill's outstanding balance.
	ErrOverAllocation = errors.New("vendors: allocation exceeds amount due")
	// ErrCompanyNameRequired rejects vendors without a company name.
	ErrCompanyNameRequired = errors.New("vendors: company name required")
)

// Outstanding is the unsettled balance on the bill.
func (b *Bill) Outstanding() decimal.Decimal {
	return b.TotalAmount.Sub(b.PaidAmount)
}

// RecomputeStatus derives the bill status from the paid amount and due date.
// Cancelled bills keep their status.
func (b *Bill) RecomputeStatus(now time.Time) {
	if b.Status == BillCancelled {
		return
	}
	switch {
	case b.PaidAmount.GreaterThanOrEqual(b.TotalAmount):
		b.Status = BillPaid
	case b.PaidAmount.Sign() > 0:
		b.Status = BillPartiallyPaid
	case now.After(b.DueDate):
		b.Status = BillOverdue
	default:
		b.Status = BillPending
	}
}

// ApplyPayment records an allocation against the bill.
func (b *Bill) ApplyPayment(amount decimal.Decimal, now time.Time) error {
	if b.Status == BillPaid || b.Status == BillCancelled {
		return ErrBillNotPayable
	}
	if amount.GreaterThan(b.Outstanding()) {
		return ErrOverAllocation
	}
	b.PaidAmount = b.PaidAmount.Add(amount)
	b.RecomputeStatus(now)
	return nil
}
