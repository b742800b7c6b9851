package sales

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mpfootwear/backoffice/internal/giftcard"
	"github.com/mpfootwear/backoffice/internal/inventory"
	"github.com/mpfootwear/backoffice/internal/ledger"
	"github.com/mpfootwear/backoffice/internal/shared"
	"github.com/mpfootwear/backoffice/internal/wallet"
)

// RepositoryPort abstracts persistence for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, tenant shared.Tenant, id int64) (Sale, error)
	GetByNumber(ctx context.Context, tenant shared.Tenant, number string) (Sale, error)
	List(ctx context.Context, tenant shared.Tenant, statuses []Status, p shared.Pagination) ([]Sale, error)
	Lines(ctx context.Context, saleID int64) ([]Line, error)
	Payments(ctx context.Context, saleID int64) ([]Payment, error)
	Returns(ctx context.Context, saleID int64) ([]Return, error)
	DailySummary(ctx context.Context, tenant shared.Tenant, day time.Time) (Summary, error)
}

// TxRepository exposes the transactional operations the service composes.
type TxRepository interface {
	AllocateSaleNumber(ctx context.Context, tenant shared.Tenant, at time.Time) (string, error)
	AllocatePaymentNumber(ctx context.Context, tenant shared.Tenant, at time.Time) (string, error)
	AllocateReturnNumber(ctx context.Context, tenant shared.Tenant, at time.Time) (string, error)
	CreateSale(ctx context.Context, s Sale) (Sale, error)
	GetForUpdate(ctx context.Context, id int64) (Sale, error)
	SaveSale(ctx context.Context, s Sale) error
	ReplaceLines(ctx context.Context, saleID int64, lines []Line) error
	CreatePayment(ctx context.Context, p Payment) (Payment, error)
	CreateReturn(ctx context.Context, r Return, lines []ReturnLine) (Return, error)
	ReturnedQuantities(ctx context.Context, saleID int64) (map[int64]int64, error)
}

// WalletPort settles wallet tenders and return credits.
type WalletPort interface {
	Spend(ctx context.Context, input wallet.SpendInput) (ledger.Entry, []wallet.Drain, error)
	Refund(ctx context.Context, input wallet.CreditInput) (ledger.Entry, error)
}

// GiftCardPort settles gift card tenders. Reverse credits a redemption back
// when the tender it funded could not be recorded.
type GiftCardPort interface {
	Redeem(ctx context.Context, input giftcard.RedeemInput) (ledger.Entry, giftcard.GiftCard, error)
	Reverse(ctx context.Context, input giftcard.ReverseInput) (ledger.Entry, giftcard.GiftCard, error)
}

// IdempotencyPort guards tender submissions against replays.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// InventoryPort moves stock when a sale completes or items come back.
type InventoryPort interface {
	Issue(ctx context.Context, input inventory.MovementInput) (ledger.Entry, error)
	Receive(ctx context.Context, input inventory.MovementInput) (ledger.Entry, error)
}

// Summary is one day of till activity, broken down by tender.
type Summary struct {
	Tenant shared.Tenant
	Day    time.Time

	SalesCount int64
	ItemsSold  int64
	Gross      decimal.Decimal

	CashAmount  decimal.Decimal
	CardAmount  decimal.Decimal
	UPIAmount   decimal.Decimal
	OtherAmount decimal.Decimal

	ReturnsCount  int64
	ReturnsAmount decimal.Decimal
}

// Service coordinates the POS pipeline.
type Service struct {
	repo      RepositoryPort
	wallets   WalletPort
	giftcards GiftCardPort
	stock     InventoryPort
	idem      IdempotencyPort
	now       func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, wallets WalletPort, giftcards GiftCardPort, stock InventoryPort) *Service {
	return &Service{repo: repo, wallets: wallets, giftcards: giftcards, stock: stock, now: time.Now}
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

// LineInput describes one item rung up at the till.
type LineInput struct {
	ProductID          int64
	ProductName        string
	ProductSKU         string
	Size               string
	Color              string
	Quantity           int64
	UnitPrice          decimal.Decimal
	CostPrice          decimal.Decimal
	DiscountPercentage decimal.Decimal
	TaxRate            decimal.Decimal
}

// CreateInput describes a new sale.
type CreateInput struct {
	Tenant             shared.Tenant
	Type               Type
	CustomerID         *int64
	CustomerName       string
	CustomerPhone      string
	Lines              []LineInput
	DiscountPercentage decimal.Decimal
	SalesPersonID      int64
	Notes              string
	// Draft keeps the sale editable instead of confirming it immediately.
	Draft bool
}

// PaymentInput is one tender of a possibly split payment.
type PaymentInput struct {
	Tenant          shared.Tenant
	SaleID          int64
	Amount          decimal.Decimal
	Method          Method
	ReferenceNumber string
	CardLastFour    string
	GiftCardCode    string
	// IdempotencyKey, when set, claims the key before any money moves so a
	// replayed submission is rejected instead of double-charged.
	IdempotencyKey string
	ActorID        int64
}

// ReturnItemInput is one item coming back across the counter.
type ReturnItemInput struct {
	LineID    int64
	Quantity  int64
	Condition string
	Restock   bool
}

// ReturnInput describes a return against a completed sale.
type ReturnInput struct {
	Tenant        shared.Tenant
	SaleID        int64
	Reason        ReturnReason
	Description   string
	Items         []ReturnItemInput
	RestockingFee decimal.Decimal
	RefundMethod  RefundMethod
	ActorID       int64
}

func buildLines(inputs []LineInput) ([]Line, error) {
	if len(inputs) == 0 {
		return nil, ErrNoLines
	}
	lines := make([]Line, len(inputs))
	for i, in := range inputs {
		if in.Quantity <= 0 || in.UnitPrice.Sign() < 0 {
			return nil, fmt.Errorf("sales: line %d: %w", i, ErrInvalidAmount)
		}
		lines[i] = Line{
			ProductID: in.ProductID, ProductName: in.ProductName, ProductSKU: in.ProductSKU,
			Size: in.Size, Color: in.Color,
			Quantity: in.Quantity, UnitPrice: in.UnitPrice, CostPrice: in.CostPrice,
			DiscountPercentage: in.DiscountPercentage, TaxRate: in.TaxRate,
		}
	}
	return lines, nil
}

// Create rings up a sale. The number comes off the tenant's daily till
// stream inside the same transaction as the insert.
func (s *Service) Create(ctx context.Context, input CreateInput) (Sale, error) {
	lines, err := buildLines(input.Lines)
	if err != nil {
		return Sale{}, err
	}

	now := s.now()
	sale := Sale{
		Tenant:             input.Tenant,
		Type:               input.Type,
		SaleDate:           now,
		CustomerID:         input.CustomerID,
		CustomerName:       input.CustomerName,
		CustomerPhone:      input.CustomerPhone,
		DiscountPercentage: input.DiscountPercentage,
		Status:             StatusConfirmed,
		PaymentStatus:      PaymentPending,
		SalesPersonID:      input.SalesPersonID,
		Notes:              input.Notes,
	}
	if input.Type == "" {
		sale.Type = TypePOS
	}
	if input.Draft {
		sale.Status = StatusDraft
	}
	sale.Recompute(lines)

	var created Sale
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		number, err := tx.AllocateSaleNumber(ctx, input.Tenant, now)
		if err != nil {
			return fmt.Errorf("allocate sale number: %w", err)
		}
		sale.Number = number
		created, err = tx.CreateSale(ctx, sale)
		if err != nil {
			return err
		}
		return tx.ReplaceLines(ctx, created.ID, lines)
	})
	return created, err
}

// Get loads a sale by id.
func (s *Service) Get(ctx context.Context, tenant shared.Tenant, id int64) (Sale, error) {
	return s.repo.Get(ctx, tenant, id)
}

// GetByNumber loads a sale by its till number.
func (s *Service) GetByNumber(ctx context.Context, tenant shared.Tenant, number string) (Sale, error) {
	return s.repo.GetByNumber(ctx, tenant, number)
}

// List lists sales, optionally filtered by status.
func (s *Service) List(ctx context.Context, tenant shared.Tenant, statuses []Status, p shared.Pagination) ([]Sale, error) {
	return s.repo.List(ctx, tenant, statuses, p)
}

// Lines returns the sale's lines.
func (s *Service) Lines(ctx context.Context, tenant shared.Tenant, saleID int64) ([]Line, error) {
	if _, err := s.repo.Get(ctx, tenant, saleID); err != nil {
		return nil, err
	}
	return s.repo.Lines(ctx, saleID)
}

// Payments returns the sale's tenders.
func (s *Service) Payments(ctx context.Context, tenant shared.Tenant, saleID int64) ([]Payment, error) {
	if _, err := s.repo.Get(ctx, tenant, saleID); err != nil {
		return nil, err
	}
	return s.repo.Payments(ctx, saleID)
}

// Returns returns the sale's returns.
func (s *Service) Returns(ctx context.Context, tenant shared.Tenant, saleID int64) ([]Return, error) {
	if _, err := s.repo.Get(ctx, tenant, saleID); err != nil {
		return nil, err
	}
	return s.repo.Returns(ctx, saleID)
}

// DailySummary reports one day of till activity.
func (s *Service) DailySummary(ctx context.Context, tenant shared.Tenant, day time.Time) (Summary, error) {
	return s.repo.DailySummary(ctx, tenant, day)
}

// UpdateLines replaces the sale's lines while it is still open.
func (s *Service) UpdateLines(ctx context.Context, tenant shared.Tenant, saleID int64, inputs []LineInput) (Sale, error) {
	lines, err := buildLines(inputs)
	if err != nil {
		return Sale{}, err
	}
	var updated Sale
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		sale, err := tx.GetForUpdate(ctx, saleID)
		if err != nil {
			return err
		}
		if sale.Tenant != tenant {
			return ErrSaleNotFound
		}
		if !sale.Open() {
			return ErrNotOpen
		}
		sale.Recompute(lines)
		sale.RecomputePaymentStatus()
		if err := tx.ReplaceLines(ctx, sale.ID, lines); err != nil {
			return err
		}
		if err := tx.SaveSale(ctx, sale); err != nil {
			return err
		}
		updated = sale
		return nil
	})
	return updated, err
}

// RecordPayment records one tender. Wallet and gift card tenders debit
// their backing accounts before the payment row is written. A failed
// attempt releases its idempotency key so the till can retry.
func (s *Service) RecordPayment(ctx context.Context, input PaymentInput) (Payment, error) {
	claimed := false
	if s.idem != nil && input.IdempotencyKey != "" {
		if err := s.idem.CheckAndInsert(ctx, input.IdempotencyKey, "sales"); err != nil {
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
	sale, err := s.repo.Get(ctx, input.Tenant, input.SaleID)
	if err != nil {
		return Payment{}, err
	}
	if sale.Status == StatusCancelled || sale.Status == StatusReturned {
		return Payment{}, ErrNotOpen
	}
	if input.Amount.GreaterThan(sale.Balance()) {
		return Payment{}, fmt.Errorf("%w: balance %s, got %s", ErrOverpayment, sale.Balance(), input.Amount)
	}

	switch input.Method {
	case MethodWallet:
		if sale.CustomerID == nil {
			return Payment{}, ErrWalletNeedsCustomer
		}
		_, _, err := s.wallets.Spend(ctx, wallet.SpendInput{
			Tenant:      input.Tenant,
			CustomerID:  *sale.CustomerID,
			Amount:      input.Amount,
			Reference:   sale.Number,
			Description: "sale " + sale.Number,
			ActorID:     input.ActorID,
		})
		if err != nil {
			return Payment{}, fmt.Errorf("wallet spend: %w", err)
		}
	case MethodGiftCard:
		subtotal := sale.Subtotal
		_, _, err := s.giftcards.Redeem(ctx, giftcard.RedeemInput{
			Tenant:        input.Tenant,
			Code:          input.GiftCardCode,
			Amount:        input.Amount,
			OrderRef:      sale.Number,
			OrderSubtotal: &subtotal,
			ActorID:       input.ActorID,
		})
		if err != nil {
			return Payment{}, fmt.Errorf("gift card redeem: %w", err)
		}
	}

	now := s.now()
	var created Payment
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		locked, err := tx.GetForUpdate(ctx, input.SaleID)
		if err != nil {
			return err
		}
		// Re-check against the locked row: another tender may have landed
		// between the snapshot read above and taking the lock.
		if locked.Status == StatusCancelled || locked.Status == StatusReturned {
			return ErrNotOpen
		}
		if input.Amount.GreaterThan(locked.Balance()) {
			return fmt.Errorf("%w: balance %s, got %s", ErrOverpayment, locked.Balance(), input.Amount)
		}
		number, err := tx.AllocatePaymentNumber(ctx, input.Tenant, now)
		if err != nil {
			return fmt.Errorf("allocate payment number: %w", err)
		}
		created, err = tx.CreatePayment(ctx, Payment{
			Tenant:          input.Tenant,
			SaleID:          locked.ID,
			Number:          number,
			Amount:          input.Amount,
			Method:          input.Method,
			ReferenceNumber: input.ReferenceNumber,
			CardLastFour:    input.CardLastFour,
			PaidAt:          now,
		})
		if err != nil {
			return err
		}
		locked.PaidAmount = locked.PaidAmount.Add(input.Amount)
		locked.RecomputePaymentStatus()
		return tx.SaveSale(ctx, locked)
	})
	if err != nil {
		return Payment{}, s.reverseTender(ctx, sale, input, err)
	}
	return created, nil
}

// restock receives back lines already issued when completing the sale
// failed partway. cause is always part of the returned error; lines that
// could not be received back are joined onto it.
func (s *Service) restock(ctx context.Context, tenant shared.Tenant, saleNumber string, issued []Line, actorID int64, cause error) error {
	for _, line := range issued {
		_, err := s.stock.Receive(ctx, inventory.MovementInput{
			Tenant:    tenant,
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			UnitCost:  line.CostPrice,
			Reference: saleNumber,
			Reason:    "sale completion reversal",
			ActorID:   actorID,
		})
		if err != nil {
			cause = errors.Join(cause, fmt.Errorf("restock %s: %w", line.ProductSKU, err))
		}
	}
	return cause
}

// reverseTender puts a wallet or gift card debit back when the payment row
// could not be written. cause is always part of the returned error; a failed
// reversal is joined onto it.
func (s *Service) reverseTender(ctx context.Context, sale Sale, input PaymentInput, cause error) error {
	switch input.Method {
	case MethodWallet:
		if sale.CustomerID == nil {
			return cause
		}
		_, err := s.wallets.Refund(ctx, wallet.CreditInput{
			Tenant:      input.Tenant,
			CustomerID:  *sale.CustomerID,
			Amount:      input.Amount,
			Reference:   sale.Number,
			Description: "tender reversal for sale " + sale.Number,
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
			OrderRef: sale.Number,
			ActorID:  input.ActorID,
		})
		if err != nil {
			return errors.Join(cause, fmt.Errorf("reverse gift card redemption: %w", err))
		}
	}
	return cause
}

// Complete closes a fully paid sale and issues stock for every line.
func (s *Service) Complete(ctx context.Context, tenant shared.Tenant, saleID int64, actorID int64) (Sale, error) {
	sale, err := s.repo.Get(ctx, tenant, saleID)
	if err != nil {
		return Sale{}, err
	}
	if !sale.Open() || sale.PaymentStatus != PaymentPaid {
		return Sale{}, ErrNotCompletable
	}
	lines, err := s.repo.Lines(ctx, saleID)
	if err != nil {
		return Sale{}, err
	}

	issued := make([]Line, 0, len(lines))
	for _, line := range lines {
		_, err := s.stock.Issue(ctx, inventory.MovementInput{
			Tenant:    tenant,
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			UnitCost:  line.CostPrice,
			Reference: sale.Number,
			Reason:    "sale",
			ActorID:   actorID,
		})
		if err != nil {
			err = fmt.Errorf("issue stock for %s: %w", line.ProductSKU, err)
			return Sale{}, s.restock(ctx, tenant, sale.Number, issued, actorID, err)
		}
		issued = append(issued, line)
	}

	var updated Sale
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		locked, err := tx.GetForUpdate(ctx, saleID)
		if err != nil {
			return err
		}
		locked.Status = StatusCompleted
		if err := tx.SaveSale(ctx, locked); err != nil {
			return err
		}
		updated = locked
		return nil
	})
	if err != nil {
		return Sale{}, s.restock(ctx, tenant, sale.Number, issued, actorID, err)
	}
	return updated, nil
}

// Cancel voids an open sale with nothing collected against it.
func (s *Service) Cancel(ctx context.Context, tenant shared.Tenant, saleID int64) (Sale, error) {
	var updated Sale
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		sale, err := tx.GetForUpdate(ctx, saleID)
		if err != nil {
			return err
		}
		if sale.Tenant != tenant {
			return ErrSaleNotFound
		}
		if !sale.Open() || sale.PaidAmount.Sign() > 0 {
			return ErrNotCancellable
		}
		sale.Status = StatusCancelled
		if err := tx.SaveSale(ctx, sale); err != nil {
			return err
		}
		updated = sale
		return nil
	})
	return updated, err
}

// CreateReturn unwinds items from a completed sale. The refund is the
// returned value less any restocking fee; wallet refunds credit the
// customer's wallet, restockable items go back into stock.
func (s *Service) CreateReturn(ctx context.Context, input ReturnInput) (Return, error) {
	if len(input.Items) == 0 {
		return Return{}, ErrNoLines
	}
	sale, err := s.repo.Get(ctx, input.Tenant, input.SaleID)
	if err != nil {
		return Return{}, err
	}
	if sale.Status != StatusCompleted && sale.Status != StatusReturned {
		return Return{}, ErrNotReturnable
	}
	lines, err := s.repo.Lines(ctx, input.SaleID)
	if err != nil {
		return Return{}, err
	}
	byID := make(map[int64]Line, len(lines))
	for _, l := range lines {
		byID[l.ID] = l
	}

	now := s.now()
	ret := Return{
		Tenant:        input.Tenant,
		SaleID:        sale.ID,
		Reason:        input.Reason,
		Description:   input.Description,
		RestockingFee: input.RestockingFee,
		RefundMethod:  input.RefundMethod,
		ReturnedAt:    now,
	}
	if ret.RefundMethod == "" {
		ret.RefundMethod = RefundCash
	}
	if ret.RefundMethod == RefundWallet && sale.CustomerID == nil {
		return Return{}, ErrWalletNeedsCustomer
	}

	var created Return
	var restock []ReturnItemInput
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		locked, err := tx.GetForUpdate(ctx, input.SaleID)
		if err != nil {
			return err
		}
		returned, err := tx.ReturnedQuantities(ctx, locked.ID)
		if err != nil {
			return err
		}

		amount := decimal.Zero
		soldQty := int64(0)
		returnedQty := int64(0)
		retLines := make([]ReturnLine, 0, len(input.Items))
		for _, item := range input.Items {
			line, ok := byID[item.LineID]
			if !ok {
				return fmt.Errorf("%w: unknown line %d", ErrOverReturn, item.LineID)
			}
			if item.Quantity <= 0 || item.Quantity > line.Quantity-returned[line.ID] {
				return fmt.Errorf("%w: line %d sold %d, returned %d",
					ErrOverReturn, line.ID, line.Quantity, returned[line.ID])
			}
			// Refund at the effective per-unit price, tax and discount included.
			unit := line.LineTotal.Div(decimal.NewFromInt(line.Quantity))
			refund := unit.Mul(decimal.NewFromInt(item.Quantity)).Round(2)
			amount = amount.Add(refund)
			retLines = append(retLines, ReturnLine{
				LineID:       line.ID,
				Quantity:     item.Quantity,
				Condition:    item.Condition,
				Restock:      item.Restock,
				RefundAmount: refund,
			})
			if item.Restock {
				restock = append(restock, item)
			}
		}
		for _, l := range lines {
			soldQty += l.Quantity
			returnedQty += returned[l.ID]
		}
		for _, item := range input.Items {
			returnedQty += item.Quantity
		}

		ret.ReturnAmount = amount
		ret.RefundAmount = amount.Sub(input.RestockingFee)
		if ret.RefundAmount.Sign() < 0 {
			return ErrInvalidAmount
		}
		refundable := locked.PaidAmount.Sub(locked.RefundedAmount)
		if ret.RefundAmount.GreaterThan(refundable) {
			return fmt.Errorf("%w: refundable %s, need %s", ErrOverReturn, refundable, ret.RefundAmount)
		}

		number, err := tx.AllocateReturnNumber(ctx, input.Tenant, now)
		if err != nil {
			return fmt.Errorf("allocate return number: %w", err)
		}
		ret.Number = number
		created, err = tx.CreateReturn(ctx, ret, retLines)
		if err != nil {
			return err
		}

		locked.RefundedAmount = locked.RefundedAmount.Add(ret.RefundAmount)
		locked.RecomputePaymentStatus()
		if returnedQty >= soldQty {
			locked.Status = StatusReturned
		}
		return tx.SaveSale(ctx, locked)
	})
	if err != nil {
		return Return{}, err
	}

	if created.RefundMethod == RefundWallet && created.RefundAmount.Sign() > 0 {
		_, err := s.wallets.Refund(ctx, wallet.CreditInput{
			Tenant:      input.Tenant,
			CustomerID:  *sale.CustomerID,
			Amount:      created.RefundAmount,
			Kind:        ledger.KindRefund,
			Reference:   created.Number,
			Description: "return against " + sale.Number,
			ActorID:     input.ActorID,
		})
		if err != nil {
			return created, fmt.Errorf("wallet refund: %w", err)
		}
	}
	for _, item := range restock {
		line := byID[item.LineID]
		_, err := s.stock.Receive(ctx, inventory.MovementInput{
			Tenant:    input.Tenant,
			ProductID: line.ProductID,
			Quantity:  item.Quantity,
			UnitCost:  line.CostPrice,
			Reference: created.Number,
			Reason:    "sale return",
			ActorID:   input.ActorID,
		})
		if err != nil {
			return created, fmt.Errorf("restock %s: %w", line.ProductSKU, err)
		}
	}
	return created, nil
}
