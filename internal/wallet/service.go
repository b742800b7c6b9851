package wallet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"github.com/mpfootwear/backoffice/internal/ledger"
	"github.com/mpfootwear/backoffice/internal/shared"
)

// RepositoryPort abstracts persistence for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetByCustomer(ctx context.Context, tenant shared.Tenant, customerID int64) (Wallet, error)
	Get(ctx context.Context, id int64) (Wallet, error)
	Transactions(ctx context.Context, walletID int64, limit int) ([]ledger.Entry, error)
}

// TxRepository exposes the transactional operations the service composes.
type TxRepository interface {
	Create(ctx context.Context, w Wallet) (Wallet, error)
	GetForUpdate(ctx context.Context, id int64) (Wallet, error)
	SaveBuckets(ctx context.Context, w Wallet) error
	SetStatus(ctx context.Context, id int64, status Status, reason string) error
	SetPINHash(ctx context.Context, id int64, hash string) error
	SpentSince(ctx context.Context, accountID int64, since time.Time) (decimal.Decimal, error)
	CreditAccount(ctx context.Context, accountID int64, amount decimal.Decimal, kind ledger.Kind, reference, description string, actorID int64) (ledger.Entry, error)
	DebitAccount(ctx context.Context, accountID int64, amount decimal.Decimal, kind ledger.Kind, reference, description string, actorID int64) (ledger.Entry, error)
	OpenAccount(ctx context.Context, tenant shared.Tenant, customerID int64) (ledger.Account, error)
	AllocateTransactionID(ctx context.Context, tenant shared.Tenant) (string, error)
}

// AuditPort records administrative actions.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service coordinates wallet operations.
type Service struct {
	repo  RepositoryPort
	audit AuditPort
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort) *Service {
	return &Service{repo: repo, audit: audit}
}

// CreditInput describes a wallet credit.
type CreditInput struct {
	Tenant      shared.Tenant
	CustomerID  int64
	Amount      decimal.Decimal
	Bucket      Bucket
	Kind        ledger.Kind
	Reference   string
	Description string
	ActorID     int64
}

// SpendInput describes a wallet spend.
type SpendInput struct {
	Tenant      shared.Tenant
	CustomerID  int64
	Amount      decimal.Decimal
	Reference   string
	Description string
	ActorID     int64
}

// Provision creates a wallet and its backing ledger account for a customer.
func (s *Service) Provision(ctx context.Context, tenant shared.Tenant, customerID int64) (Wallet, error) {
	var created Wallet
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		account, err := tx.OpenAccount(ctx, tenant, customerID)
		if err != nil {
			return fmt.Errorf("open ledger account: %w", err)
		}
		created, err = tx.Create(ctx, Wallet{
			Tenant:     tenant,
			CustomerID: customerID,
			AccountID:  account.ID,
			Status:     StatusActive,
		})
		return err
	})
	return created, err
}

// Get returns the customer's wallet.
func (s *Service) Get(ctx context.Context, tenant shared.Tenant, customerID int64) (Wallet, error) {
	return s.repo.GetByCustomer(ctx, tenant, customerID)
}

// Transactions lists wallet history, newest first.
func (s *Service) Transactions(ctx context.Context, walletID int64, limit int) ([]ledger.Entry, error) {
	return s.repo.Transactions(ctx, walletID, limit)
}

// Credit adds money to a bucket: top-ups to main, cashback and promotional
// credits to their own buckets.
func (s *Service) Credit(ctx context.Context, input CreditInput) (ledger.Entry, error) {
	if input.Amount.Sign() <= 0 {
		return ledger.Entry{}, ledger.ErrInvalidAmount
	}
	if input.Bucket == "" {
		input.Bucket = BucketMain
	}
	if input.Kind == "" {
		input.Kind = ledger.KindTopUp
	}

	var entry ledger.Entry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		w, err := s.lockByCustomer(ctx, tx, input.Tenant, input.CustomerID)
		if err != nil {
			return err
		}
		if !w.CanCredit() {
			return ErrWalletNotActive
		}

		txnID, err := tx.AllocateTransactionID(ctx, input.Tenant)
		if err != nil {
			return fmt.Errorf("allocate transaction id: %w", err)
		}
		reference := joinReference(txnID, input.Reference)

		entry, err = tx.CreditAccount(ctx, w.AccountID, input.Amount, input.Kind, reference, input.Description, input.ActorID)
		if err != nil {
			return err
		}

		w.ApplyCredit(input.Bucket, input.Amount)
		now := time.Now()
		w.LastTransactionAt = &now
		return tx.SaveBuckets(ctx, w)
	})
	return entry, err
}

// Spend debits the wallet, draining promotional then cashback then main. The
// ledger records a single signed entry for the full amount; the bucket split
// is denormalised onto the wallet row.
func (s *Service) Spend(ctx context.Context, input SpendInput) (ledger.Entry, []Drain, error) {
	if input.Amount.Sign() <= 0 {
		return ledger.Entry{}, nil, ledger.ErrInvalidAmount
	}

	var entry ledger.Entry
	var drains []Drain
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		w, err := s.lockByCustomer(ctx, tx, input.Tenant, input.CustomerID)
		if err != nil {
			return err
		}
		if !w.CanSpend() {
			return ErrWalletNotActive
		}
		if input.Amount.GreaterThan(w.TotalBalance()) {
			return ErrInsufficientBalance
		}
		if err := s.checkSpendLimits(ctx, tx, w, input.Amount); err != nil {
			return err
		}

		drains, err = w.ApplyDrain(input.Amount)
		if err != nil {
			return err
		}

		txnID, err := tx.AllocateTransactionID(ctx, input.Tenant)
		if err != nil {
			return fmt.Errorf("allocate transaction id: %w", err)
		}
		reference := joinReference(txnID, input.Reference)

		entry, err = tx.DebitAccount(ctx, w.AccountID, input.Amount, ledger.KindPurchase, reference, input.Description, input.ActorID)
		if err != nil {
			return err
		}

		now := time.Now()
		w.LastTransactionAt = &now
		return tx.SaveBuckets(ctx, w)
	})
	if err != nil {
		return ledger.Entry{}, nil, err
	}
	return entry, drains, nil
}

// Refund credits a previous spend back to the main bucket.
func (s *Service) Refund(ctx context.Context, input CreditInput) (ledger.Entry, error) {
	input.Bucket = BucketMain
	input.Kind = ledger.KindRefund
	return s.Credit(ctx, input)
}

// Freeze blocks spending while keeping credits open.
func (s *Service) Freeze(ctx context.Context, tenant shared.Tenant, customerID int64, reason string, actorID int64) error {
	return s.transition(ctx, tenant, customerID, StatusFrozen, reason, actorID, StatusActive)
}

// Suspend blocks all movements.
func (s *Service) Suspend(ctx context.Context, tenant shared.Tenant, customerID int64, reason string, actorID int64) error {
	return s.transition(ctx, tenant, customerID, StatusSuspended, reason, actorID, StatusActive, StatusFrozen)
}

// Reactivate returns a frozen or suspended wallet to active. The original
// back office had no way back from SUSPENDED; the symmetric operation exists
// here so the state is not administrator-only folklore.
func (s *Service) Reactivate(ctx context.Context, tenant shared.Tenant, customerID int64, actorID int64) error {
	return s.transition(ctx, tenant, customerID, StatusActive, "", actorID, StatusFrozen, StatusSuspended)
}

// Close permanently retires the wallet.
func (s *Service) Close(ctx context.Context, tenant shared.Tenant, customerID int64, reason string, actorID int64) error {
	return s.transition(ctx, tenant, customerID, StatusClosed, reason, actorID, StatusActive, StatusFrozen, StatusSuspended)
}

// SetPIN hashes and stores the wallet PIN.
func (s *Service) SetPIN(ctx context.Context, tenant shared.Tenant, customerID int64, pin string) error {
	if len(pin) < 4 {
		return errors.New("wallet: pin too short")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		w, err := s.lockByCustomer(ctx, tx, tenant, customerID)
		if err != nil {
			return err
		}
		return tx.SetPINHash(ctx, w.ID, string(hash))
	})
}

// VerifyPIN checks the wallet PIN.
func (s *Service) VerifyPIN(ctx context.Context, tenant shared.Tenant, customerID int64, pin string) error {
	w, err := s.repo.GetByCustomer(ctx, tenant, customerID)
	if err != nil {
		return err
	}
	if w.PINHash == "" {
		return ErrPINMismatch
	}
	if bcrypt.CompareHashAndPassword([]byte(w.PINHash), []byte(pin)) != nil {
		return ErrPINMismatch
	}
	return nil
}

func (s *Service) transition(ctx context.Context, tenant shared.Tenant, customerID int64, to Status, reason string, actorID int64, from ...Status) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		w, err := s.lockByCustomer(ctx, tx, tenant, customerID)
		if err != nil {
			return err
		}
		allowed := false
		for _, f := range from {
			if w.Status == f {
				allowed = true
				break
			}
		}
		if !allowed {
			return fmt.Errorf("%w: %s -> %s", ErrBadStatusChange, w.Status, to)
		}
		return tx.SetStatus(ctx, w.ID, to, reason)
	})
	if err != nil {
		return err
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			Tenant:   tenant,
			ActorID:  actorID,
			Action:   "wallet.status." + string(to),
			Entity:   "wallet",
			EntityID: fmt.Sprintf("customer:%d", customerID),
			Meta:     map[string]any{"reason": reason},
		})
	}
	return nil
}

func (s *Service) lockByCustomer(ctx context.Context, tx TxRepository, tenant shared.Tenant, customerID int64) (Wallet, error) {
	w, err := s.repo.GetByCustomer(ctx, tenant, customerID)
	if err != nil {
		return Wallet{}, err
	}
	return tx.GetForUpdate(ctx, w.ID)
}

// checkSpendLimits enforces the daily and monthly caps. A nil or
// non-positive limit means the cap is not set.
func (s *Service) checkSpendLimits(ctx context.Context, tx TxRepository, w Wallet, amount decimal.Decimal) error {
	now := time.Now()
	if limitSet(w.DailySpendLimit) {
		dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
		spent, err := tx.SpentSince(ctx, w.AccountID, dayStart)
		if err != nil {
			return err
		}
		if spent.Add(amount).GreaterThan(*w.DailySpendLimit) {
			return ErrSpendLimitExceeded
		}
	}
	if limitSet(w.MonthlySpendLimit) {
		monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
		spent, err := tx.SpentSince(ctx, w.AccountID, monthStart)
		if err != nil {
			return err
		}
		if spent.Add(amount).GreaterThan(*w.MonthlySpendLimit) {
			return ErrSpendLimitExceeded
		}
	}
	return nil
}

func limitSet(limit *decimal.Decimal) bool {
	return limit != nil && limit.IsPositive()
}

func joinReference(txnID, reference string) string {
	if reference == "" {
		return txnID
	}
	return txnID + " " + reference
}
