package giftcard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mpfootwear/backoffice/internal/ledger"
	"github.com/mpfootwear/backoffice/internal/shared"
)

// RepositoryPort abstracts persistence for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetByCode(ctx context.Context, tenant shared.Tenant, code string) (GiftCard, error)
	CodeExists(ctx context.Context, code string) (bool, error)
	History(ctx context.Context, cardID int64, limit int) ([]ledger.Entry, error)
	ListExpiring(ctx context.Context, asOf time.Time, limit int) ([]GiftCard, error)
}

// TxRepository exposes the transactional operations the service composes.
type TxRepository interface {
	Create(ctx context.Context, c GiftCard) (GiftCard, error)
	GetByCodeForUpdate(ctx context.Context, tenant shared.Tenant, code string) (GiftCard, error)
	SaveUsage(ctx context.Context, c GiftCard) error
	SetStatus(ctx context.Context, id int64, status Status) error
	OpenAccount(ctx context.Context, tenant shared.Tenant, cardID int64) (ledger.Account, error)
	BindAccount(ctx context.Context, cardID, accountID int64) error
	CreditAccount(ctx context.Context, accountID int64, amount decimal.Decimal, kind ledger.Kind, reference, description string, actorID int64) (ledger.Entry, error)
	DebitAccount(ctx context.Context, accountID int64, amount decimal.Decimal, kind ledger.Kind, reference, description string, actorID int64) (ledger.Entry, error)
	SetAccountActive(ctx context.Context, accountID int64, active bool) error
}

// CodeIssuer draws collision-checked random codes; wired to
// sequence.RandomCode in production.
type CodeIssuer func(ctx context.Context, exists func(context.Context, string) (bool, error)) (string, error)

// Service coordinates gift card operations.
type Service struct {
	repo   RepositoryPort
	issuer CodeIssuer
	now    func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, issuer CodeIssuer) *Service {
	return &Service{repo: repo, issuer: issuer, now: time.Now}
}

// WithClock overrides the time source for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	return &Service{repo: s.repo, issuer: s.issuer, now: now}
}

// IssueInput describes a card purchase.
type IssueInput struct {
	Tenant             shared.Tenant
	Amount             decimal.Decimal
	ExpiryDate         time.Time
	PurchaserID        *int64
	PurchaseOrder      string
	RecipientName      string
	RecipientEmail     string
	RecipientPhone     string
	GiftMessage        string
	MinimumOrderAmount decimal.Decimal
	ActorID            int64
}

// RedeemInput describes a redemption against an order.
type RedeemInput struct {
	Tenant shared.Tenant
	Code   string
	Amount decimal.Decimal
	// OrderRef points at the triggering order; OrderSubtotal, when set, is
	// checked against the card's minimum order amount.
	OrderRef      string
	OrderSubtotal *decimal.Decimal
	ActorID       int64
}

// ReverseInput describes a redemption being credited back.
type ReverseInput struct {
	Tenant   shared.Tenant
	Code     string
	Amount   decimal.Decimal
	OrderRef string
	ActorID  int64
}

// Issue creates a card, opens its ledger account and loads the face value.
func (s *Service) Issue(ctx context.Context, input IssueInput) (GiftCard, error) {
	if input.Amount.Sign() <= 0 {
		return GiftCard{}, ledger.ErrInvalidAmount
	}
	if !input.ExpiryDate.After(s.now()) {
		return GiftCard{}, errors.New("giftcard: expiry date must be in the future")
	}

	code, err := s.issuer(ctx, s.repo.CodeExists)
	if err != nil {
		return GiftCard{}, fmt.Errorf("draw code: %w", err)
	}

	var card GiftCard
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		card, err = tx.Create(ctx, GiftCard{
			Tenant:             input.Tenant,
			Code:               code,
			InitialAmount:      input.Amount,
			CurrentBalance:     decimal.Zero,
			IssuedDate:         s.now(),
			ExpiryDate:         input.ExpiryDate,
			Status:             StatusActive,
			PurchaserID:        input.PurchaserID,
			PurchaseOrder:      input.PurchaseOrder,
			RecipientName:      input.RecipientName,
			RecipientEmail:     input.RecipientEmail,
			RecipientPhone:     input.RecipientPhone,
			GiftMessage:        input.GiftMessage,
			MinimumOrderAmount: input.MinimumOrderAmount,
		})
		if err != nil {
			return err
		}

		account, err := tx.OpenAccount(ctx, input.Tenant, card.ID)
		if err != nil {
			return err
		}
		if err := tx.BindAccount(ctx, card.ID, account.ID); err != nil {
			return err
		}
		card.AccountID = account.ID

		entry, err := tx.CreditAccount(ctx, account.ID, input.Amount, ledger.KindIssue, input.PurchaseOrder, "gift card issued", input.ActorID)
		if err != nil {
			return err
		}
		card.CurrentBalance = entry.BalanceAfter
		return tx.SaveUsage(ctx, card)
	})
	return card, err
}

// Get looks a card up by code.
func (s *Service) Get(ctx context.Context, tenant shared.Tenant, code string) (GiftCard, error) {
	return s.repo.GetByCode(ctx, tenant, code)
}

// History lists the card's ledger entries, newest first.
func (s *Service) History(ctx context.Context, tenant shared.Tenant, code string, limit int) ([]ledger.Entry, error) {
	card, err := s.repo.GetByCode(ctx, tenant, code)
	if err != nil {
		return nil, err
	}
	return s.repo.History(ctx, card.ID, limit)
}

// Redeem debits the card. When the balance reaches zero the card moves to
// REDEEMED and its ledger account is deactivated.
func (s *Service) Redeem(ctx context.Context, input RedeemInput) (ledger.Entry, GiftCard, error) {
	if input.Amount.Sign() <= 0 {
		return ledger.Entry{}, GiftCard{}, ledger.ErrInvalidAmount
	}

	var entry ledger.Entry
	var card GiftCard
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		card, err = tx.GetByCodeForUpdate(ctx, input.Tenant, input.Code)
		if err != nil {
			return err
		}
		if err := card.Usable(s.now()); err != nil {
			return err
		}
		if input.OrderSubtotal != nil && input.OrderSubtotal.LessThan(card.MinimumOrderAmount) {
			return ErrMinimumOrderNotMet
		}

		entry, err = tx.DebitAccount(ctx, card.AccountID, input.Amount, ledger.KindRedeem, input.OrderRef, "gift card redemption", input.ActorID)
		if err != nil {
			return err
		}

		now := s.now()
		card.CurrentBalance = entry.BalanceAfter
		card.TimesUsed++
		if card.FirstUsedAt == nil {
			card.FirstUsedAt = &now
		}
		card.LastUsedAt = &now
		if err := tx.SaveUsage(ctx, card); err != nil {
			return err
		}

		if card.CurrentBalance.IsZero() {
			card.Status = StatusRedeemed
			if err := tx.SetStatus(ctx, card.ID, StatusRedeemed); err != nil {
				return err
			}
			return tx.SetAccountActive(ctx, card.AccountID, false)
		}
		return nil
	})
	if err != nil {
		return ledger.Entry{}, GiftCard{}, err
	}
	return entry, card, nil
}

// Reverse credits a redemption back onto the card, reopening a card the
// redemption had closed. Used when the paying side fails after the debit.
func (s *Service) Reverse(ctx context.Context, input ReverseInput) (ledger.Entry, GiftCard, error) {
	if input.Amount.Sign() <= 0 {
		return ledger.Entry{}, GiftCard{}, ledger.ErrInvalidAmount
	}

	var entry ledger.Entry
	var card GiftCard
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		card, err = tx.GetByCodeForUpdate(ctx, input.Tenant, input.Code)
		if err != nil {
			return err
		}
		switch card.Status {
		case StatusActive:
		case StatusRedeemed:
			if err := tx.SetAccountActive(ctx, card.AccountID, true); err != nil {
				return err
			}
			if err := tx.SetStatus(ctx, card.ID, StatusActive); err != nil {
				return err
			}
			card.Status = StatusActive
		default:
			return fmt.Errorf("%w: cannot reverse a %s card", ErrBadStatusChange, card.Status)
		}

		entry, err = tx.CreditAccount(ctx, card.AccountID, input.Amount, ledger.KindRefund, input.OrderRef, "gift card redemption reversal", input.ActorID)
		if err != nil {
			return err
		}
		card.CurrentBalance = entry.BalanceAfter
		if card.TimesUsed > 0 {
			card.TimesUsed--
		}
		return tx.SaveUsage(ctx, card)
	})
	if err != nil {
		return ledger.Entry{}, GiftCard{}, err
	}
	return entry, card, nil
}

// Cancel administratively voids a card. Terminal.
func (s *Service) Cancel(ctx context.Context, tenant shared.Tenant, code string) error {
	return s.transition(ctx, tenant, code, StatusCancelled, StatusActive, StatusSuspended)
}

// Suspend temporarily blocks a card.
func (s *Service) Suspend(ctx context.Context, tenant shared.Tenant, code string) error {
	return s.transition(ctx, tenant, code, StatusSuspended, StatusActive)
}

// Reactivate lifts a suspension.
func (s *Service) Reactivate(ctx context.Context, tenant shared.Tenant, code string) error {
	return s.transition(ctx, tenant, code, StatusActive, StatusSuspended)
}

func (s *Service) transition(ctx context.Context, tenant shared.Tenant, code string, to Status, from ...Status) error {
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		card, err := tx.GetByCodeForUpdate(ctx, tenant, code)
		if err != nil {
			return err
		}
		allowed := false
		for _, f := range from {
			if card.Status == f {
				allowed = true
				break
			}
		}
		if !allowed {
			return fmt.Errorf("%w: %s -> %s", ErrBadStatusChange, card.Status, to)
		}
		if err := tx.SetStatus(ctx, card.ID, to); err != nil {
			return err
		}
		return tx.SetAccountActive(ctx, card.AccountID, to == StatusActive)
	})
}

// ExpireDue moves cards past their expiry date to EXPIRED, deactivating the
// backing accounts. Returns how many cards were expired; invoked from the
// background worker sweep.
func (s *Service) ExpireDue(ctx context.Context, limit int) (int, error) {
	due, err := s.repo.ListExpiring(ctx, s.now(), limit)
	if err != nil {
		return 0, err
	}
	expired := 0
	for _, card := range due {
		err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			locked, err := tx.GetByCodeForUpdate(ctx, card.Tenant, card.Code)
			if err != nil {
				return err
			}
			if locked.Status != StatusActive {
				return nil
			}
			if err := tx.SetStatus(ctx, locked.ID, StatusExpired); err != nil {
				return err
			}
			return tx.SetAccountActive(ctx, locked.AccountID, false)
		})
		if err != nil {
			return expired, err
		}
		expired++
	}
	return expired, nil
}
