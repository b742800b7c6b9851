// Package sales is the point-of-sale counterpart to the orders pipeline.
// A sale is captured at the till, settled by a split of payment methods,
// and optionally unwound through a return that restocks items and credits
// the refund to the customer's wallet.
package sales

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mpfootwear/backoffice/internal/shared"
)

// Type classifies where the sale was captured.
type Type string

const (
	TypePOS       Type = "POS"
	TypeOnline    Type = "ONLINE"
	TypePhone     Type = "PHONE"
	TypeWholesale Type = "WHOLESALE"
)

// Status is the sale lifecycle state.
type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusConfirmed Status = "CONFIRMED"
	StatusCompleted Status = "COMPLETED"
	StatusCancelled Status = "CANCELLED"
	StatusReturned  Status = "RETURNED"
)

// PaymentStatus tracks how much of the sale has been collected.
type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "PENDING"
	PaymentPartial  PaymentStatus = "PARTIAL"
	PaymentPaid     PaymentStatus = "PAID"
	PaymentRefunded PaymentStatus = "REFUNDED"
)

// Method is how a sale payment was tendered.
type Method string

const (
	MethodCash         Method = "CASH"
	MethodCard         Method = "CARD"
	MethodUPI          Method = "UPI"
	MethodBankTransfer Method = "BANK_TRANSFER"
	MethodCheque       Method = "CHEQUE"
	MethodWallet       Method = "WALLET"
	MethodGiftCard     Method = "GIFT_CARD"
)

// ReturnReason is why items came back.
type ReturnReason string

const (
	ReasonDefective      ReturnReason = "DEFECTIVE"
	ReasonWrongSize      ReturnReason = "WRONG_SIZE"
	ReasonWrongColor     ReturnReason = "WRONG_COLOR"
	ReasonDamaged        ReturnReason = "DAMAGED"
	ReasonNotAsDescribed ReturnReason = "NOT_AS_DESCRIBED"
	ReasonChangedMind    ReturnReason = "CHANGED_MIND"
	ReasonOther          ReturnReason = "OTHER"
)

// RefundMethod is where the return's money goes.
type RefundMethod string

const (
	RefundCash   RefundMethod = "CASH"
	RefundWallet RefundMethod = "WALLET"
)

var (
	ErrSaleNotFound        = errors.New("sales: sale not found")
	ErrNoLines             = errors.New("sales: sale has no lines")
	ErrNotOpen             = errors.New("sales: sale is not open for changes")
	ErrNotCompletable      = errors.New("sales: sale cannot be completed")
	ErrNotCancellable      = errors.New("sales: sale cannot be cancelled")
	ErrNotReturnable       = errors.New("sales: sale cannot be returned")
	ErrInvalidAmount       = errors.New("sales: amount must be positive")
	ErrOverpayment         = errors.New("sales: payment exceeds balance")
	ErrOverReturn          = errors.New("sales: return exceeds what was sold")
	ErrWalletNeedsCustomer = errors.New("sales: wallet settlement needs a registered customer")
)

// Sale is one till transaction.
type Sale struct {
	ID     int64
	Tenant shared.Tenant
	Number string
	Type   Type

	SaleDate time.Time

	CustomerID    *int64
	CustomerName  string
	CustomerPhone string

	Subtotal           decimal.Decimal
	DiscountPercentage decimal.Decimal
	DiscountAmount     decimal.Decimal
	TaxAmount          decimal.Decimal
	TotalAmount        decimal.Decimal
	PaidAmount         decimal.Decimal
	RefundedAmount     decimal.Decimal

	Status        Status
	PaymentStatus PaymentStatus

	SalesPersonID int64
	Notes         string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Line is one sold item, with the product snapshot frozen at sale time.
type Line struct {
	ID     int64
	SaleID int64

	ProductID   int64
	ProductName string
	ProductSKU  string
	Size        string
	Color       string

	Quantity           int64
	UnitPrice          decimal.Decimal
	CostPrice          decimal.Decimal
	DiscountPercentage decimal.Decimal
	DiscountAmount     decimal.Decimal
	TaxRate            decimal.Decimal
	TaxAmount          decimal.Decimal
	LineTotal          decimal.Decimal
}

// Recompute derives the line's discount, tax and total.
func (l *Line) Recompute() {
	gross := l.UnitPrice.Mul(decimal.NewFromInt(l.Quantity))
	l.DiscountAmount = gross.Mul(l.DiscountPercentage).Div(decimal.NewFromInt(100)).Round(2)
	net := gross.Sub(l.DiscountAmount)
	l.TaxAmount = net.Mul(l.TaxRate).Div(decimal.NewFromInt(100)).Round(2)
	l.LineTotal = net.Add(l.TaxAmount)
}

// Profit is the line margin over cost.
func (l Line) Profit() decimal.Decimal {
	return l.UnitPrice.Sub(l.CostPrice).Mul(decimal.NewFromInt(l.Quantity))
}

// Recompute derives the sale totals from its lines. A header-level discount
// percentage comes off the line subtotal before tax and totals.
func (s *Sale) Recompute(lines []Line) {
	subtotal := decimal.Zero
	lineDiscount := decimal.Zero
	tax := decimal.Zero
	for i := range lines {
		lines[i].Recompute()
		subtotal = subtotal.Add(lines[i].UnitPrice.Mul(decimal.NewFromInt(lines[i].Quantity)))
		lineDiscount = lineDiscount.Add(lines[i].DiscountAmount)
		tax = tax.Add(lines[i].TaxAmount)
	}
	s.Subtotal = subtotal
	headerDiscount := subtotal.Sub(lineDiscount).Mul(s.DiscountPercentage).Div(decimal.NewFromInt(100)).Round(2)
	s.DiscountAmount = lineDiscount.Add(headerDiscount)
	s.TaxAmount = tax
	s.TotalAmount = subtotal.Sub(s.DiscountAmount).Add(tax)
}

// Balance is what remains to collect.
func (s Sale) Balance() decimal.Decimal {
	return s.TotalAmount.Sub(s.PaidAmount)
}

// Profit sums the line margins.
func (s Sale) Profit(lines []Line) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.Profit())
	}
	return total.Sub(s.DiscountAmount)
}

// RecomputePaymentStatus derives the payment status from collected and
// refunded amounts.
func (s *Sale) RecomputePaymentStatus() {
	switch {
	case s.RefundedAmount.Sign() > 0 && s.RefundedAmount.GreaterThanOrEqual(s.PaidAmount):
		s.PaymentStatus = PaymentRefunded
	case s.PaidAmount.Sign() <= 0:
		s.PaymentStatus = PaymentPending
	case s.PaidAmount.GreaterThanOrEqual(s.TotalAmount):
		s.PaymentStatus = PaymentPaid
	default:
		s.PaymentStatus = PaymentPartial
	}
}

// Open reports whether the sale's lines may still change.
func (s Sale) Open() bool {
	return s.Status == StatusDraft || s.Status == StatusConfirmed
}

// Payment is one tender against a sale. A split payment is just several of
// these against the same sale.
type Payment struct {
	ID     int64
	Tenant shared.Tenant
	SaleID int64
	Number string

	Amount decimal.Decimal
	Method Method

	ReferenceNumber string
	CardLastFour    string

	PaidAt    time.Time
	CreatedAt time.Time
}

// ReturnLine is one returned item.
type ReturnLine struct {
	ID       int64
	ReturnID int64
	LineID   int64

	Quantity     int64
	Condition    string
	Restock      bool
	RefundAmount decimal.Decimal
}

// Return unwinds part or all of a completed sale.
type Return struct {
	ID     int64
	Tenant shared.Tenant
	SaleID int64
	Number string

	Reason       ReturnReason
	Description  string
	ReturnAmount decimal.Decimal
	// RestockingFee is withheld from the refund.
	RestockingFee decimal.Decimal
	RefundAmount  decimal.Decimal
	RefundMethod  RefundMethod

	ReturnedAt time.Time
	CreatedAt  time.Time
}
