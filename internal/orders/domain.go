// Package orders implements the e-commerce order pipeline: order capture
// with internal and customer-facing numbers, line-derived totals, a status
// state machine with history, payments, and refunds.
package orders

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mpfootwear/backoffice/internal/shared"
)

// Status is the order's fulfilment state.
type Status string

const (
	StatusPending        Status = "PENDING"
	StatusConfirmed      Status = "CONFIRMED"
	StatusProcessing     Status = "PROCESSING"
	StatusPacked         Status = "PACKED"
	StatusShipped        Status = "SHIPPED"
	StatusOutForDelivery Status = "OUT_FOR_DELIVERY"
	StatusDelivered      Status = "DELIVERED"
	StatusCancelled      Status = "CANCELLED"
	StatusReturned       Status = "RETURNED"
	StatusRefunded       Status = "REFUNDED"
)

// transitions is the forward edge set of the order state machine. Cancellation
// is handled separately because it is only allowed from early states.
var transitions = map[Status][]Status{
	StatusPending:        {StatusConfirmed},
	StatusConfirmed:      {StatusProcessing},
	StatusProcessing:     {StatusPacked},
	StatusPacked:         {StatusShipped},
	StatusShipped:        {StatusOutForDelivery, StatusDelivered},
	StatusOutForDelivery: {StatusDelivered},
	StatusDelivered:      {StatusReturned},
	StatusReturned:       {StatusRefunded},
}

// CanTransition reports whether from may move to to.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// PaymentStatus tracks how much of the order has been collected.
type PaymentStatus string

const (
	PaymentPending           PaymentStatus = "PENDING"
	PaymentPartiallyPaid     PaymentStatus = "PARTIALLY_PAID"
	PaymentCompleted         PaymentStatus = "COMPLETED"
	PaymentPartiallyRefunded PaymentStatus = "PARTIALLY_REFUNDED"
	PaymentRefunded          PaymentStatus = "REFUNDED"
)

// Method names how an order payment was made.
type Method string

const (
	MethodCard     Method = "CARD"
	MethodUPI      Method = "UPI"
	MethodCOD      Method = "COD"
	MethodWallet   Method = "WALLET"
	MethodGiftCard Method = "GIFT_CARD"
)

// Address is a flattened postal address snapshot on the order.
type Address struct {
	FirstName  string
	LastName   string
	Line1      string
	Line2      string
	City       string
	State      string
	PostalCode string
	Country    string
	Phone      string
}

// Order is an e-commerce order. Number is the internal identifier; DisplayID
// is the short customer-facing one.
type Order struct {
	ID        int64
	Tenant    shared.Tenant
	Number    string
	DisplayID string

	// CustomerID is nil for guest checkouts.
	CustomerID    *int64
	CustomerEmail string
	CustomerPhone string

	OrderDate     time.Time
	DeliveredAt   *time.Time
	Status        Status
	PaymentStatus PaymentStatus

	Subtotal       decimal.Decimal
	DiscountAmount decimal.Decimal
	CouponDiscount decimal.Decimal
	TaxAmount      decimal.Decimal
	ShippingAmount decimal.Decimal
	TotalAmount    decimal.Decimal
	PaidAmount     decimal.Decimal
	RefundedAmount decimal.Decimal

	LoyaltyPointsUsed   int64
	LoyaltyPointsEarned int64

	Source          string
	Notes           string
	BillingAddress  Address
	ShippingAddress Address

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Line is an order line with a price snapshot taken at order time.
type Line struct {
	ID      int64
	OrderID int64

	ProductID   int64
	ProductName string
	ProductSKU  string
	Size        string
	Color       string

	UnitPrice          decimal.Decimal
	Quantity           int64
	DiscountPercentage decimal.Decimal
	DiscountAmount     decimal.Decimal
	TaxRate            decimal.Decimal
	TaxAmount          decimal.Decimal
	LineTotal          decimal.Decimal
}

// Payment is money collected against an order.
type Payment struct {
	ID      int64
	Tenant  shared.Tenant
	OrderID int64
	// Number is the allocated payment identifier (daily PAY stream).
	Number string

	Amount         decimal.Decimal
	Method         Method
	Gateway        string
	GatewayTransID string

	CompletedAt time.Time
	CreatedAt   time.Time
}

// RefundReason explains why money went back.
type RefundReason string

const (
	ReasonCustomerRequest RefundReason = "CUSTOMER_REQUEST"
	ReasonDefective       RefundReason = "DEFECTIVE_PRODUCT"
	ReasonWrongProduct    RefundReason = "WRONG_PRODUCT"
	ReasonOrderCancelled  RefundReason = "ORDER_CANCELLED"
)

// Refund is money returned against an order payment.
type Refund struct {
	ID        int64
	Tenant    shared.Tenant
	OrderID   int64
	PaymentID int64
	// Number is the allocated refund identifier (daily REF stream).
	Number string

	Amount decimal.Decimal
	Reason RefundReason
	Notes  string

	CreatedAt time.Time
}

// StatusChange is one entry in the order's status history.
type StatusChange struct {
	ID        int64
	OrderID   int64
	From      Status
	To        Status
	Note      string
	ChangedBy int64
	ChangedAt time.Time
}

var (
	// ErrOrderNotFound indicates a missing order.
	ErrOrderNotFound = errors.New("orders: not found")
	// ErrNoLines rejects orders without lines.
	ErrNoLines = errors.New("orders: at least one line required")
	// ErrBadTransition rejects a status move the state machine forbids.
	ErrBadTransition = errors.New("orders: invalid status transition")
	// ErrNotModifiable rejects line edits after the order left early states.
	ErrNotModifiable = errors.New("orders: no longer modifiable")
	// ErrNotCancellable rejects cancellation after fulfilment started.
	ErrNotCancellable = errors.New("orders: no longer cancellable")
	// ErrInvalidAmount rejects non-positive payment/refund amounts.
	ErrInvalidAmount = errors.New("orders: amount must be positive")
	// ErrOverpayment rejects payments beyond the order total.
	ErrOverpayment = errors.New("orders: payment exceeds amount due")
	// ErrOverRefund rejects refunds beyond the collected amount.
	ErrOverRefund = errors.New("orders: refund exceeds paid amount")
	// ErrGuestNeedsCustomer rejects wallet/loyalty settlement on guest orders.
	ErrGuestNeedsCustomer = errors.New("orders: settlement method requires a customer")
)

// CanModify reports whether lines may still change.
func (o *Order) CanModify() bool {
	return o.Status == StatusPending || o.Status == StatusConfirmed
}

// CanCancel reports whether the order may still be cancelled.
func (o *Order) CanCancel() bool {
	switch o.Status {
	case StatusPending, StatusConfirmed, StatusProcessing:
		return true
	}
	return false
}

// AmountDue is the uncollected part of the total.
func (o *Order) AmountDue() decimal.Decimal {
	return o.TotalAmount.Sub(o.PaidAmount)
}

// Recompute derives the line's discount, tax and total from its inputs.
func (l *Line) Recompute() {
	gross := l.UnitPrice.Mul(decimal.NewFromInt(l.Quantity))
	if l.DiscountPercentage.Sign() > 0 {
		l.DiscountAmount = gross.Mul(l.DiscountPercentage).Div(decimal.NewFromInt(100)).Round(2)
	}
	net := gross.Sub(l.DiscountAmount)
	l.TaxAmount = net.Mul(l.TaxRate).Div(decimal.NewFromInt(100)).Round(2)
	l.LineTotal = net.Add(l.TaxAmount)
}

// Recompute derives the order totals from its lines. Called on every line
// mutation so stored totals never drift from the lines.
func (o *Order) Recompute(lines []Line) {
	subtotal, discount, tax := decimal.Zero, decimal.Zero, decimal.Zero
	for i := range lines {
		lines[i].Recompute()
		subtotal = subtotal.Add(lines[i].UnitPrice.Mul(decimal.NewFromInt(lines[i].Quantity)))
		discount = discount.Add(lines[i].DiscountAmount)
		tax = tax.Add(lines[i].TaxAmount)
	}
	o.Subtotal = subtotal
	o.DiscountAmount = discount
	o.TaxAmount = tax
	o.TotalAmount = subtotal.Sub(discount).Sub(o.CouponDiscount).Add(tax).Add(o.ShippingAmount)
}

// RecomputePaymentStatus derives the payment status from collected and
// refunded amounts.
func (o *Order) RecomputePaymentStatus() {
	switch {
	case o.RefundedAmount.Sign() > 0 && o.RefundedAmount.GreaterThanOrEqual(o.PaidAmount):
		o.PaymentStatus = PaymentRefunded
	case o.RefundedAmount.Sign() > 0:
		o.PaymentStatus = PaymentPartiallyRefunded
	case o.PaidAmount.GreaterThanOrEqual(o.TotalAmount) && o.TotalAmount.Sign() > 0:
		o.PaymentStatus = PaymentCompleted
	case o.PaidAmount.Sign() > 0:
		o.PaymentStatus = PaymentPartiallyPaid
	default:
		o.PaymentStatus = PaymentPending
	}
}
