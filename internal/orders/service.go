package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mpfootwear/backoffice/internal/giftcard"
	"github.com/mpfootwear/backoffice/internal/ledger"
	"github.com/mpfootwear/backoffice/internal/loyalty"
	"github.com/mpfootwear/backoffice/internal/shared"
	"github.com/mpfootwear/backoffice/internal/wallet"
)

// RepositoryPort abstracts persistence for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, tenant shared.Tenant, id int64) (Order, error)
	GetByDisplayID(ctx context.Context, tenant shared.Tenant, displayID string) (Order, error)
	List(ctx context.Context, tenant shared.Tenant, statuses []Status, p shared.Pagination) ([]Order, error)
	Lines(ctx context.Context, orderID int64) ([]Line, error)
	Payments(ctx context.Context, orderID int64) ([]Payment, error)
	GetPayment(ctx context.Context, id int64) (Payment, error)
	Refunds(ctx context.Context, orderID int64) ([]Refund, error)
	History(ctx context.Context, orderID int64) ([]StatusChange, error)
}

// TxRepository exposes the transactional operations the service composes.
type TxRepository interface {
	AllocateOrderNumber(ctx context.Context, tenant shared.Tenant, at time.Time) (string, error)
	AllocateDisplayID(ctx context.Context, tenant shared.Tenant) (string, error)
	AllocatePaymentNumber(ctx context.Context, tenant shared.Tenant) (string, error)
	AllocateRefundNumber(ctx context.Context, tenant shared.Tenant) (string, error)
	CreateOrder(ctx context.Context, o Order) (Order, error)
	GetForUpdate(ctx context.Context, id int64) (Order, error)
	SaveOrder(ctx context.Context, o Order) error
	ReplaceLines(ctx context.Context, orderID int64, lines []Line) error
	AppendHistory(ctx context.Context, h StatusChange) error
	CreatePayment(ctx context.Context, p Payment) (Payment, error)
	CreateRefund(ctx context.Context, r Refund) (Refund, error)
}

// WalletPort is the wallet settlement hook.
type WalletPort interface {
	Spend(ctx context.Context, input wallet.SpendInput) (ledger.Entry, []wallet.Drain, error)
	Refund(ctx context.Context, input wallet.CreditInput) (ledger.Entry, error)
}

// GiftCardPort is the gift card settlement hook. Reverse credits a
// redemption back when the payment it funded could not be recorded.
type GiftCardPort interface {
	Redeem(ctx context.Context, input giftcard.RedeemInput) (ledger.Entry, giftcard.GiftCard, error)
	Reverse(ctx context.Context, input giftcard.ReverseInput) (ledger.Entry, giftcard.GiftCard, error)
}

// IdempotencyPort guards payment submissions against replays.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// LoyaltyPort accrues points when an order completes.
type LoyaltyPort interface {
	Earn(ctx context.Context, input loyalty.EarnInput) (int64, error)
}

// Service coordinates the order pipeline.
type Service struct {
	repo      RepositoryPort
	wallets   WalletPort
	giftcards GiftCardPort
	loyalty   LoyaltyPort
	idem      IdempotencyPort
	now       func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, wallets WalletPort, giftcards GiftCardPort, points LoyaltyPort) *Service {
	return &Service{repo: repo, wallets: wallets, giftcards: giftcards, loyalty: points, now: time.Now}
}

// WithIdempotency protects RecordPayment against replayed submissions.
func (s *Service) WithIdempotency(store IdempotencyPort) *Service {
	out := *s
	out.idem = store
	return &out
}

// WithClock overrides the time source for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	out := *s
	out.now = now
	return &out
}

// LineInput describes one requested order line.
type LineInput struct {
	ProductID          int64
	ProductName        string
	ProductSKU         string
	Size               string
	Color              string
	UnitPrice          decimal.Decimal
	Quantity           int64
	DiscountPercentage decimal.Decimal
	TaxRate            decimal.Decimal
}

// CreateInput describes a new order.
type CreateInput struct {
	Tenant          shared.Tenant
	CustomerID      *int64
	CustomerEmail   string
	CustomerPhone   string
	Lines           []LineInput
	CouponDiscount  decimal.Decimal
	ShippingAmount  decimal.Decimal
	Source          string
	Notes           string
	BillingAddress  Address
	ShippingAddress Address
	ActorID         int64
}

// PaymentInput describes a payment to record against an order.
type PaymentInput struct {
	Tenant         shared.Tenant
	OrderID        int64
	Amount         decimal.Decimal
	Method         Method
	Gateway        string
	GatewayTransID string
	// GiftCardCode is required for Method GIFT_CARD.
	GiftCardCode string
	// IdempotencyKey, when set, claims the key before any money moves so a
	// replayed submission is rejected instead of double-charged.
	IdempotencyKey string
	ActorID        int64
}

// RefundInput describes a refund against a recorded payment.
type RefundInput struct {
	Tenant    shared.Tenant
	OrderID   int64
	PaymentID int64
	Amount    decimal.Decimal
	Reason    RefundReason
	Notes     string
	ActorID   int64
}

// Create captures an order: totals are derived from the lines and both the
// internal number and the customer-facing display id are allocated in the
// same transaction as the insert.
func (s *Service) Create(ctx context.Context, input CreateInput) (Order, error) {
	if len(input.Lines) == 0 {
		return Order{}, ErrNoLines
	}
	lines := make([]Line, len(input.Lines))
	for i, in := range input.Lines {
		if in.Quantity <= 0 || in.UnitPrice.Sign() < 0 {
			return Order{}, fmt.Errorf("orders: line %d: %w", i, ErrInvalidAmount)
		}
		lines[i] = Line{
			ProductID:          in.ProductID,
			ProductName:        in.ProductName,
			ProductSKU:         in.ProductSKU,
			Size:               in.Size,
			Color:              in.Color,
			UnitPrice:          in.UnitPrice,
			Quantity:           in.Quantity,
			DiscountPercentage: in.DiscountPercentage,
			TaxRate:            in.TaxRate,
		}
	}

	now := s.now()
	order := Order{
		Tenant:          input.Tenant,
		CustomerID:      input.CustomerID,
		CustomerEmail:   input.CustomerEmail,
		CustomerPhone:   input.CustomerPhone,
		OrderDate:       now,
		Status:          StatusPending,
		PaymentStatus:   PaymentPending,
		CouponDiscount:  input.CouponDiscount,
		ShippingAmount:  input.ShippingAmount,
		Source:          input.Source,
		Notes:           input.Notes,
		BillingAddress:  input.BillingAddress,
		ShippingAddress: input.ShippingAddress,
	}
	order.Recompute(lines)

	var created Order
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		number, err := tx.AllocateOrderNumber(ctx, input.Tenant, now)
		if err != nil {
			return fmt.Errorf("allocate order number: %w", err)
		}
		displayID, err := tx.AllocateDisplayID(ctx, input.Tenant)
		if err != nil {
			return fmt.Errorf("allocate display id: %w", err)
		}
		order.Number = number
		order.DisplayID = displayID
		created, err = tx.CreateOrder(ctx, order)
		if err != nil {
			return err
		}
		if err := tx.ReplaceLines(ctx, created.ID, lines); err != nil {
			return err
		}
		return tx.AppendHistory(ctx, StatusChange{
			OrderID: created.ID, To: StatusPending, ChangedBy: input.ActorID, ChangedAt: now,
		})
	})
	return created, err
}

// Get loads an order by id.
func (s *Service) Get(ctx context.Context, tenant shared.Tenant, id int64) (Order, error) {
	return s.repo.Get(ctx, tenant, id)
}

// GetByDisplayID loads an order by its customer-facing id.
func (s *Service) GetByDisplayID(ctx context.Context, tenant shared.Tenant, displayID string) (Order, error) {
	return s.repo.GetByDisplayID(ctx, tenant, displayID)
}

// List lists orders, optionally filtered by status.
func (s *Service) List(ctx context.Context, tenant shared.Tenant, statuses []Status, p shared.Pagination) ([]Order, error) {
	return s.repo.List(ctx, tenant, statuses, p)
}

// Lines returns the order's lines.
func (s *Service) Lines(ctx context.Context, tenant shared.Tenant, orderID int64) ([]Line, error) {
	if _, err := s.repo.Get(ctx, tenant, orderID); err != nil {
		return nil, err
	}
	return s.repo.Lines(ctx, orderID)
}

// History returns the order's status trail.
func (s *Service) History(ctx context.Context, tenant shared.Tenant, orderID int64) ([]StatusChange, error) {
	if _, err := s.repo.Get(ctx, tenant, orderID); err != nil {
		return nil, err
	}
	return s.repo.History(ctx, orderID)
}

// Payments returns the order's payments.
func (s *Service) Payments(ctx context.Context, tenant shared.Tenant, orderID int64) ([]Payment, error) {
	if _, err := s.repo.Get(ctx, tenant, orderID); err != nil {
		return nil, err
	}
	return s.repo.Payments(ctx, orderID)
}

// UpdateLines replaces the order's lines and recomputes totals. Only allowed
// while the order has not started fulfilment.
func (s *Service) UpdateLines(ctx context.Context, tenant shared.Tenant, orderID int64, inputs []LineInput) (Order, error) {
	if len(inputs) == 0 {
		return Order{}, ErrNoLines
	}
	lines := make([]Line, len(inputs))
	for i, in := range inputs {
		if in.Quantity <= 0 || in.UnitPrice.Sign() < 0 {
			return Order{}, fmt.Errorf("orders: line %d: %w", i, ErrInvalidAmount)
		}
		lines[i] = Line{
			ProductID: in.ProductID, ProductName: in.ProductName, ProductSKU: in.ProductSKU,
			Size: in.Size, Color: in.Color,
			UnitPrice: in.UnitPrice, Quantity: in.Quantity,
			DiscountPercentage: in.DiscountPercentage, TaxRate: in.TaxRate,
		}
	}

	var updated Order
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		order, err := tx.GetForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if order.Tenant != tenant {
			return ErrOrderNotFound
		}
		if !order.CanModify() {
			return ErrNotModifiable
		}
		order.Recompute(lines)
		order.RecomputePaymentStatus()
		if err := tx.ReplaceLines(ctx, order.ID, lines); err != nil {
			return err
		}
		if err := tx.SaveOrder(ctx, order); err != nil {
			return err
		}
		updated = order
		return nil
	})
	return updated, err
}

// Transition moves the order along the state machine, recording history.
// Delivery stamps the delivered time and accrues loyalty points.
func (s *Service) Transition(ctx context.Context, tenant shared.Tenant, orderID int64, to Status, note string, actorID int64) (Order, error) {
	var updated Order
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		order, err := tx.GetForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if order.Tenant != tenant {
			return ErrOrderNotFound
		}
		if !CanTransition(order.Status, to) {
			return fmt.Errorf("%w: %s -> %s", ErrBadTransition, order.Status, to)
		}
		from := order.Status
		order.Status = to
		now := s.now()
		if to == StatusDelivered {
			order.DeliveredAt = &now
		}
		if err := tx.SaveOrder(ctx, order); err != nil {
			return err
		}
		if err := tx.AppendHistory(ctx, StatusChange{
			OrderID: order.ID, From: from, To: to, Note: note, ChangedBy: actorID, ChangedAt: now,
		}); err != nil {
			return err
		}
		updated = order
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	if updated.Status == StatusDelivered && updated.CustomerID != nil {
		points, err := s.loyalty.Earn(ctx, loyalty.EarnInput{
			Tenant:      tenant,
			CustomerID:  *updated.CustomerID,
			OrderAmount: updated.TotalAmount,
			Reference:   updated.Number,
			Description: "order " + updated.DisplayID,
			ActorID:     actorID,
		})
		if err != nil && !errors.Is(err, loyalty.ErrAccountNotFound) && !errors.Is(err, loyalty.ErrProgramInactive) {
			return updated, fmt.Errorf("accrue points: %w", err)
		}
		if points > 0 {
			updated.LoyaltyPointsEarned = points
			err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
				order, err := tx.GetForUpdate(ctx, updated.ID)
				if err != nil {
					return err
				}
				order.LoyaltyPointsEarned = points
				return tx.SaveOrder(ctx, order)
			})
			if err != nil {
				return updated, err
			}
		}
	}
	return updated, nil
}

// Cancel voids an order that has not started fulfilment.
func (s *Service) Cancel(ctx context.Context, tenant shared.Tenant, orderID int64, note string, actorID int64) (Order, error) {
	var updated Order
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		order, err := tx.GetForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if order.Tenant != tenant {
			return ErrOrderNotFound
		}
		if !order.CanCancel() {
			return ErrNotCancellable
		}
		from := order.Status
		order.Status = StatusCancelled
		if err := tx.SaveOrder(ctx, order); err != nil {
			return err
		}
		if err := tx.AppendHistory(ctx, StatusChange{
			OrderID: order.ID, From: from, To: StatusCancelled, Note: note, ChangedBy: actorID, ChangedAt: s.now(),
		}); err != nil {
			return err
		}
		updated = order
		return nil
	})
	return updated, err
}

// RecordPayment settles part of the order. Wallet and gift card methods
// debit their backing accounts before the payment row is written; the
// allocated payment number references the debit on both sides. A failed
// attempt releases its idempotency key so the client can retry.
func (s *Service) RecordPayment(ctx context.Context, input PaymentInput) (Payment, error) {
	claimed := false
	if s.idem != nil && input.IdempotencyKey != "" {
		if err := s.idem.CheckAndInsert(ctx, input.IdempotencyKey, "orders"); err != nil {
			return Payment{}, err
		}
		claimed = true
	}
	payment, err := s.recordPayment(ctx, input)
	if err != nil && claimed {
		if relErr := s.idem.Delete(ctx, input.IdempotencyKey); relErr != nil {
			err = errors.Join(err, relErr)
		}
	}
	return payment, err
}

func (s *Service) recordPayment(ctx context.Context, input PaymentInput) (Payment, error) {
	if input.Amount.Sign() <= 0 {
		return Payment{}, ErrInvalidAmount
	}
	order, err := s.repo.Get(ctx, input.Tenant, input.OrderID)
	if err != nil {
		return Payment{}, err
	}
	if input.Amount.GreaterThan(order.AmountDue()) {
		return Payment{}, fmt.Errorf("%w: due %s, got %s", ErrOverpayment, order.AmountDue(), input.Amount)
	}

	switch input.Method {
	case MethodWallet:
		if order.CustomerID == nil {
			return Payment{}, ErrGuestNeedsCustomer
		}
		_, _, err := s.wallets.Spend(ctx, wallet.SpendInput{
			Tenant:      input.Tenant,
			CustomerID:  *order.CustomerID,
			Amount:      input.Amount,
			Reference:   order.Number,
			Description: "order " + order.DisplayID,
			ActorID:     input.ActorID,
		})
		if err != nil {
			return Payment{}, fmt.Errorf("wallet spend: %w", err)
		}
	case MethodGiftCard:
		subtotal := order.Subtotal
		_, _, err := s.giftcards.Redeem(ctx, giftcard.RedeemInput{
			Tenant:        input.Tenant,
			Code:          input.GiftCardCode,
			Amount:        input.Amount,
			OrderRef:      order.Number,
			OrderSubtotal: &subtotal,
			ActorID:       input.ActorID,
		})
		if err != nil {
			return Payment{}, fmt.Errorf("gift card redeem: %w", err)
		}
	}

	var created Payment
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		locked, err := tx.GetForUpdate(ctx, input.OrderID)
		if err != nil {
			return err
		}
		// Re-check against the locked row: another payment may have landed
		// between the snapshot read above and taking the lock.
		if input.Amount.GreaterThan(locked.AmountDue()) {
			return fmt.Errorf("%w: due %s, got %s", ErrOverpayment, locked.AmountDue(), input.Amount)
		}
		number, err := tx.AllocatePaymentNumber(ctx, input.Tenant)
		if err != nil {
			return fmt.Errorf("allocate payment number: %w", err)
		}
		created, err = tx.CreatePayment(ctx, Payment{
			Tenant:         input.Tenant,
			OrderID:        locked.ID,
			Number:         number,
			Amount:         input.Amount,
			Method:         input.Method,
			Gateway:        input.Gateway,
			GatewayTransID: input.GatewayTransID,
			CompletedAt:    s.now(),
		})
		if err != nil {
			return err
		}
		locked.PaidAmount = locked.PaidAmount.Add(input.Amount)
		locked.RecomputePaymentStatus()
		if err := tx.SaveOrder(ctx, locked); err != nil {
			return err
		}
		// Full payment confirms a pending order.
		if locked.PaymentStatus == PaymentCompleted && locked.Status == StatusPending {
			from := locked.Status
			locked.Status = StatusConfirmed
			if err := tx.SaveOrder(ctx, locked); err != nil {
				return err
			}
			if err := tx.AppendHistory(ctx, StatusChange{
				OrderID: locked.ID, From: from, To: StatusConfirmed,
				Note: "payment " + number, ChangedBy: input.ActorID, ChangedAt: s.now(),
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Payment{}, s.reverseTender(ctx, order, input, err)
	}
	return created, nil
}

// reverseTender puts a wallet or gift card debit back when the payment row
// could not be written. cause is always part of the returned error; a failed
// reversal is joined onto it.
func (s *Service) reverseTender(ctx context.Context, order Order, input PaymentInput, cause error) error {
	switch input.Method {
	case MethodWallet:
		if order.CustomerID == nil {
			return cause
		}
		_, err := s.wallets.Refund(ctx, wallet.CreditInput{
			Tenant:      input.Tenant,
			CustomerID:  *order.CustomerID,
			Amount:      input.Amount,
			Reference:   order.Number,
			Description: "payment reversal for order " + order.DisplayID,
			ActorID:     input.ActorID,
		})
		if err != nil {
			return errors.Join(cause, fmt.Errorf("reverse wallet debit: %w", err))
		}
	case MethodGiftCard:
		_, _, err := s.giftcards.Reverse(ctx, giftcard.ReverseInput{
			Tenant:   input.Tenant,
			Code:     input.GiftCardCode,
			Amount:   input.Amount,
			OrderRef: order.Number,
			ActorID:  input.ActorID,
		})
		if err != nil {
			return errors.Join(cause, fmt.Errorf("reverse gift card redemption: %w", err))
		}
	}
	return cause
}

// RecordRefund sends money back against a recorded payment. Wallet payments
// are refunded to the wallet's main bucket.
func (s *Service) RecordRefund(ctx context.Context, input RefundInput) (Refund, error) {
	if input.Amount.Sign() <= 0 {
		return Refund{}, ErrInvalidAmount
	}
	order, err := s.repo.Get(ctx, input.Tenant, input.OrderID)
	if err != nil {
		return Refund{}, err
	}
	payment, err := s.repo.GetPayment(ctx, input.PaymentID)
	if err != nil {
		return Refund{}, err
	}
	if payment.OrderID != order.ID {
		return Refund{}, ErrOrderNotFound
	}
	refundable := order.PaidAmount.Sub(order.RefundedAmount)
	if input.Amount.GreaterThan(refundable) {
		return Refund{}, fmt.Errorf("%w: refundable %s, got %s", ErrOverRefund, refundable, input.Amount)
	}

	if payment.Method == MethodWallet && order.CustomerID != nil {
		_, err := s.wallets.Refund(ctx, wallet.CreditInput{
			Tenant:      input.Tenant,
			CustomerID:  *order.CustomerID,
			Amount:      input.Amount,
			Kind:        ledger.KindRefund,
			Reference:   order.Number,
			Description: string(input.Reason),
			ActorID:     input.ActorID,
		})
		if err != nil {
			return Refund{}, fmt.Errorf("wallet refund: %w", err)
		}
	}

	var created Refund
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		locked, err := tx.GetForUpdate(ctx, input.OrderID)
		if err != nil {
			return err
		}
		number, err := tx.AllocateRefundNumber(ctx, input.Tenant)
		if err != nil {
			return fmt.Errorf("allocate refund number: %w", err)
		}
		created, err = tx.CreateRefund(ctx, Refund{
			Tenant:    input.Tenant,
			OrderID:   locked.ID,
			PaymentID: payment.ID,
			Number:    number,
			Amount:    input.Amount,
			Reason:    input.Reason,
			Notes:     input.Notes,
		})
		if err != nil {
			return err
		}
		locked.RefundedAmount = locked.RefundedAmount.Add(input.Amount)
		locked.RecomputePaymentStatus()
		if locked.Status == StatusReturned && locked.PaymentStatus == PaymentRefunded {
			from := locked.Status
			locked.Status = StatusRefunded
			if err := tx.AppendHistory(ctx, StatusChange{
				OrderID: locked.ID, From: from, To: StatusRefunded,
				Note: "refund " + number, ChangedBy: input.ActorID, ChangedAt: s.now(),
			}); err != nil {
				return err
			}
		}
		return tx.SaveOrder(ctx, locked)
	})
	return created, err
}
