// Package wallet implements customer wallets: a ledger-backed money balance
// split into promotional, cashback and main buckets, drained in that fixed
// order on spend.
package wallet

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mpfootwear/backoffice/internal/shared"
)

// Status enumerates wallet lifecycle states.
type Status string

const (
	// StatusActive permits credits and spends.
	StatusActive Status = "ACTIVE"
	// StatusFrozen blocks spends but still accepts credits (refunds,
	// cashback settlements keep landing while a dispute is reviewed).
	StatusFrozen Status = "FROZEN"
	// StatusSuspended blocks all movements until reactivated.
	StatusSuspended Status = "SUSPENDED"
	// StatusClosed is terminal.
	StatusClosed Status = "CLOSED"
)

// Bucket names a sub-balance. Spend drains buckets in declaration order:
// promotional first, then cashback, then main. The order is business policy
// and must not change.
type Bucket string

const (
	BucketPromotional Bucket = "PROMOTIONAL"
	BucketCashback    Bucket = "CASHBACK"
	BucketMain        Bucket = "MAIN"
)

// Wallet is a customer's money store.
type Wallet struct {
	ID         int64
	Tenant     shared.Tenant
	CustomerID int64
	// AccountID references the backing ledger account; its balance always
	// equals the sum of the three buckets.
	AccountID          int64
	MainBalance        decimal.Decimal
	CashbackBalance    decimal.Decimal
	PromotionalBalance decimal.Decimal
	DailySpendLimit    *decimal.Decimal
	MonthlySpendLimit  *decimal.Decimal
	Status             Status
	StatusReason       string
	PINHash            string
	LastTransactionAt  *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

var (
	// ErrWalletNotFound indicates a missing wallet.
	ErrWalletNotFound = errors.New("wallet: not found")
	// ErrWalletNotActive rejects movements on frozen/suspended/closed wallets.
	ErrWalletNotActive = errors.New("wallet: not usable in current status")
	// ErrSpendLimitExceeded rejects spends beyond the configured limits.
	ErrSpendLimitExceeded = errors.New("wallet: spend limit exceeded")
	// ErrInsufficientBalance rejects spends beyond the total balance.
	ErrInsufficientBalance = errors.New("wallet: insufficient balance")
	// ErrPINMismatch indicates a failed PIN check.
	ErrPINMismatch = errors.New("wallet: pin mismatch")
	// ErrBadStatusChange rejects an impossible lifecycle transition.
	ErrBadStatusChange = errors.New("wallet: invalid status transition")
)

// TotalBalance is the spendable sum across all buckets.
func (w *Wallet) TotalBalance() decimal.Decimal {
	return w.MainBalance.Add(w.CashbackBalance).Add(w.PromotionalBalance)
}

// CanSpend reports whether the wallet status permits debits.
func (w *Wallet) CanSpend() bool { return w.Status == StatusActive }

// CanCredit reports whether the wallet status permits credits.
func (w *Wallet) CanCredit() bool {
	return w.Status == StatusActive || w.Status == StatusFrozen
}

// Drain is one bucket's share of a spend.
type Drain struct {
	Bucket Bucket
	Amount decimal.Decimal
}

// ApplyDrain deducts amount across buckets in priority order, mutating the
// wallet. All-or-nothing: when the total is insufficient no bucket changes.
func (w *Wallet) ApplyDrain(amount decimal.Decimal) ([]Drain, error) {
	if amount.Sign() <= 0 {
		return nil, ErrInsufficientBalance
	}
	if amount.GreaterThan(w.TotalBalance()) {
		return nil, ErrInsufficientBalance
	}

	remaining := amount
	var drains []Drain

	take := func(bucket Bucket, balance *decimal.Decimal) {
		if remaining.Sign() <= 0 || balance.Sign() <= 0 {
			return
		}
		share := decimal.Min(remaining, *balance)
		*balance = balance.Sub(share)
		remaining = remaining.Sub(share)
		drains = append(drains, Drain{Bucket: bucket, Amount: share})
	}

	take(BucketPromotional, &w.PromotionalBalance)
	take(BucketCashback, &w.CashbackBalance)
	take(BucketMain, &w.MainBalance)

	return drains, nil
}

// ApplyCredit adds amount to the bucket.
func (w *Wallet) ApplyCredit(bucket Bucket, amount decimal.Decimal) {
	switch bucket {
	case BucketPromotional:
		w.PromotionalBalance = w.PromotionalBalance.Add(amount)
	case BucketCashback:
		w.CashbackBalance = w.CashbackBalance.Add(amount)
	default:
		w.MainBalance = w.MainBalance.Add(amount)
	}
}
