package loyalty

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mpfootwear/backoffice/internal/ledger"
	"github.com/mpfootwear/backoffice/internal/shared"
)

// RepositoryPort abstracts persistence for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	CreateProgram(ctx context.Context, p Program) (Program, error)
	GetProgram(ctx context.Context, id int64) (Program, error)
	GetActiveProgram(ctx context.Context, tenant shared.Tenant) (Program, error)
	GetAccount(ctx context.Context, tenant shared.Tenant, customerID int64) (Account, error)
	History(ctx context.Context, accountID int64, limit int) ([]ledger.Entry, error)
	ListIdleAccounts(ctx context.Context, asOf time.Time, limit int) ([]Account, error)
}

// TxRepository exposes the transactional operations the service composes.
type TxRepository interface {
	CreateAccount(ctx context.Context, a Account) (Account, error)
	GetAccountForUpdate(ctx context.Context, id int64) (Account, error)
	SaveTotals(ctx context.Context, a Account) error
	OpenLedgerAccount(ctx context.Context, tenant shared.Tenant, customerID int64) (ledger.Account, error)
	CreditAccount(ctx context.Context, accountID int64, amount decimal.Decimal, kind ledger.Kind, reference, description string, actorID int64) (ledger.Entry, error)
	DebitAccount(ctx context.Context, accountID int64, amount decimal.Decimal, kind ledger.Kind, reference, description string, actorID int64) (ledger.Entry, error)
}

// Service coordinates loyalty operations.
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

// EarnInput describes point accrual from a purchase.
type EarnInput struct {
	Tenant      shared.Tenant
	CustomerID  int64
	OrderAmount decimal.Decimal
	Reference   string
	Description string
	ActorID     int64
}

// RedeemInput describes a point redemption.
type RedeemInput struct {
	Tenant      shared.Tenant
	CustomerID  int64
	Points      int64
	Reference   string
	Description string
	ActorID     int64
}

// CreateProgram registers a new program. An active program supersedes the
// tenant's previous one for future enrolments.
func (s *Service) CreateProgram(ctx context.Context, p Program) (Program, error) {
	if p.Name == "" {
		return Program{}, fmt.Errorf("loyalty: program name required")
	}
	if p.PointsPerRupee.Sign() < 0 || p.CashbackPercentage.Sign() < 0 {
		return Program{}, fmt.Errorf("loyalty: accrual rates must be non-negative")
	}
	if p.MinimumRedemption < 0 {
		return Program{}, ErrInvalidPoints
	}
	return s.repo.CreateProgram(ctx, p)
}

// ActiveProgram returns the tenant's currently active program.
func (s *Service) ActiveProgram(ctx context.Context, tenant shared.Tenant) (Program, error) {
	return s.repo.GetActiveProgram(ctx, tenant)
}

// Enroll opens a loyalty account for the customer under the tenant's active
// program.
func (s *Service) Enroll(ctx context.Context, tenant shared.Tenant, customerID int64) (Account, error) {
	program, err := s.repo.GetActiveProgram(ctx, tenant)
	if err != nil {
		return Account{}, err
	}
	if _, err := s.repo.GetAccount(ctx, tenant, customerID); err == nil {
		return Account{}, ErrAlreadyEnrolled
	}

	var account Account
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		backing, err := tx.OpenLedgerAccount(ctx, tenant, customerID)
		if err != nil {
			return fmt.Errorf("open ledger account: %w", err)
		}
		account, err = tx.CreateAccount(ctx, Account{
			Tenant:     tenant,
			CustomerID: customerID,
			ProgramID:  program.ID,
			AccountID:  backing.ID,
		})
		return err
	})
	return account, err
}

// Account returns the customer's loyalty account.
func (s *Service) Account(ctx context.Context, tenant shared.Tenant, customerID int64) (Account, error) {
	return s.repo.GetAccount(ctx, tenant, customerID)
}

// History lists the account's point movements, newest first.
func (s *Service) History(ctx context.Context, tenant shared.Tenant, customerID int64, limit int) ([]ledger.Entry, error) {
	account, err := s.repo.GetAccount(ctx, tenant, customerID)
	if err != nil {
		return nil, err
	}
	return s.repo.History(ctx, account.AccountID, limit)
}

// Earn accrues points for a purchase amount per the program rate. A purchase
// too small to earn a whole point is a no-op, not an error.
func (s *Service) Earn(ctx context.Context, input EarnInput) (int64, error) {
	account, err := s.repo.GetAccount(ctx, input.Tenant, input.CustomerID)
	if err != nil {
		return 0, err
	}
	program, err := s.repo.GetProgram(ctx, account.ProgramID)
	if err != nil {
		return 0, err
	}
	if !program.ActiveAt(s.now()) {
		return 0, ErrProgramInactive
	}

	points := program.PointsForAmount(input.OrderAmount)
	if points == 0 {
		return 0, nil
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		locked, err := tx.GetAccountForUpdate(ctx, account.ID)
		if err != nil {
			return err
		}
		if _, err := tx.CreditAccount(ctx, locked.AccountID, decimal.NewFromInt(points), ledger.KindEarn, input.Reference, input.Description, input.ActorID); err != nil {
			return err
		}
		locked.PointsBalance += points
		locked.TotalEarned += points
		now := s.now()
		locked.LastActivityAt = &now
		return tx.SaveTotals(ctx, locked)
	})
	if err != nil {
		return 0, err
	}
	return points, nil
}

// Redeem debits points, enforcing the program's minimum redemption.
func (s *Service) Redeem(ctx context.Context, input RedeemInput) error {
	if input.Points <= 0 {
		return ErrInvalidPoints
	}
	account, err := s.repo.GetAccount(ctx, input.Tenant, input.CustomerID)
	if err != nil {
		return err
	}
	program, err := s.repo.GetProgram(ctx, account.ProgramID)
	if err != nil {
		return err
	}
	if !program.ActiveAt(s.now()) {
		return ErrProgramInactive
	}
	if input.Points < program.MinimumRedemption {
		return fmt.Errorf("%w: %d < %d", ErrBelowMinimumRedemption, input.Points, program.MinimumRedemption)
	}

	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		locked, err := tx.GetAccountForUpdate(ctx, account.ID)
		if err != nil {
			return err
		}
		if input.Points > locked.PointsBalance {
			return ErrInsufficientPoints
		}
		if _, err := tx.DebitAccount(ctx, locked.AccountID, decimal.NewFromInt(input.Points), ledger.KindRedeem, input.Reference, input.Description, input.ActorID); err != nil {
			return err
		}
		locked.PointsBalance -= input.Points
		locked.TotalRedeemed += input.Points
		now := s.now()
		locked.LastActivityAt = &now
		return tx.SaveTotals(ctx, locked)
	})
}

// Adjust applies a signed manual correction.
func (s *Service) Adjust(ctx context.Context, tenant shared.Tenant, customerID, points int64, reason string, actorID int64) error {
	if points == 0 {
		return ErrInvalidPoints
	}
	account, err := s.repo.GetAccount(ctx, tenant, customerID)
	if err != nil {
		return err
	}
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		locked, err := tx.GetAccountForUpdate(ctx, account.ID)
		if err != nil {
			return err
		}
		if points > 0 {
			if _, err := tx.CreditAccount(ctx, locked.AccountID, decimal.NewFromInt(points), ledger.KindAdjust, "", reason, actorID); err != nil {
				return err
			}
			locked.PointsBalance += points
			locked.TotalEarned += points
		} else {
			debit := -points
			if debit > locked.PointsBalance {
				return ErrInsufficientPoints
			}
			if _, err := tx.DebitAccount(ctx, locked.AccountID, decimal.NewFromInt(debit), ledger.KindAdjust, "", reason, actorID); err != nil {
				return err
			}
			locked.PointsBalance -= debit
			locked.TotalRedeemed += debit
		}
		now := s.now()
		locked.LastActivityAt = &now
		return tx.SaveTotals(ctx, locked)
	})
}

// ExpireDue voids the remaining balance of accounts idle past their
// program's expiry window. Invoked from the background worker.
func (s *Service) ExpireDue(ctx context.Context, limit int) (int, error) {
	idle, err := s.repo.ListIdleAccounts(ctx, s.now(), limit)
	if err != nil {
		return 0, err
	}
	expired := 0
	for _, account := range idle {
		err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			locked, err := tx.GetAccountForUpdate(ctx, account.ID)
			if err != nil {
				return err
			}
			if locked.PointsBalance <= 0 {
				return nil
			}
			points := locked.PointsBalance
			if _, err := tx.DebitAccount(ctx, locked.AccountID, decimal.NewFromInt(points), ledger.KindExpire, "", "points expired after inactivity", 0); err != nil {
				return err
			}
			locked.PointsBalance = 0
			locked.TotalRedeemed += points
			return tx.SaveTotals(ctx, locked)
		})
		if err != nil {
			return expired, err
		}
		expired++
	}
	return expired, nil
}
