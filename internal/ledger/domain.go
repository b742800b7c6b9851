// Package ledger maintains running balances with an append-only audit trail.
// Loyalty points, wallet money, gift card balances and stock quantities all
// sit on the same engine: an account row whose balance always equals the sum
// of its entries, mutated only through credit and debit.
package ledger

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mpfootwear/backoffice/internal/shared"
)

// OwnerType names the business record an account belongs to.
type OwnerType string

const (
	OwnerWallet   OwnerType = "WALLET"
	OwnerGiftCard OwnerType = "GIFT_CARD"
	OwnerLoyalty  OwnerType = "LOYALTY_ACCOUNT"
	OwnerStock    OwnerType = "STOCK_BALANCE"
)

// Kind classifies an entry.
type Kind string

const (
	KindEarn      Kind = "EARN"
	KindRedeem    Kind = "REDEEM"
	KindAdjust    Kind = "ADJUSTMENT"
	KindExpire    Kind = "EXPIRY"
	KindTopUp     Kind = "TOP_UP"
	KindPurchase  Kind = "PURCHASE"
	KindRefund    Kind = "REFUND"
	KindCashback  Kind = "CASHBACK"
	KindPromotion Kind = "PROMOTION"
	KindIssue     Kind = "ISSUE"
	KindReceive   Kind = "RECEIVE"
	KindIssueOut  Kind = "ISSUE_OUT"
)

// Account is a running balance owned by a business record.
type Account struct {
	ID          int64
	Tenant      shared.Tenant
	OwnerType   OwnerType
	OwnerID     int64
	Balance     decimal.Decimal
	LifetimeIn  decimal.Decimal
	LifetimeOut decimal.Decimal
	// AllowNegative permits overdraw. No account in the back office sets
	// it today; the flag exists so the invariant is explicit.
	AllowNegative bool
	Active        bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Entry is one immutable movement on an account. Entries are never updated
// or deleted; a mistake is reversed with a compensating entry.
type Entry struct {
	ID           int64
	AccountID    int64
	Amount       decimal.Decimal
	BalanceAfter decimal.Decimal
	Kind         Kind
	Reference    string
	Description  string
	CreatedBy    int64
	CreatedAt    time.Time
}

var (
	// ErrInvalidAmount rejects non-positive credit/debit amounts.
	ErrInvalidAmount = errors.New("ledger: amount must be positive")
	// ErrInsufficientBalance rejects debits exceeding the balance.
	ErrInsufficientBalance = errors.New("ledger: insufficient balance")
	// ErrAccountInactive rejects movements on deactivated accounts.
	ErrAccountInactive = errors.New("ledger: account inactive")
	// ErrAccountNotFound indicates a missing account row.
	ErrAccountNotFound = errors.New("ledger: account not found")
)

// ApplyCredit mutates the account by +amount and returns the matching entry.
// Pure arithmetic; persistence belongs to the Store.
func (a *Account) ApplyCredit(amount decimal.Decimal, kind Kind, reference, description string) (Entry, error) {
	if !a.Active {
		return Entry{}, ErrAccountInactive
	}
	if amount.Sign() <= 0 {
		return Entry{}, ErrInvalidAmount
	}
	a.Balance = a.Balance.Add(amount)
	a.LifetimeIn = a.LifetimeIn.Add(amount)
	return Entry{
		AccountID:    a.ID,
		Amount:       amount,
		BalanceAfter: a.Balance,
		Kind:         kind,
		Reference:    reference,
		Description:  description,
	}, nil
}

// ApplyDebit mutates the account by -amount and returns the matching entry.
// The account is left untouched when the debit would overdraw it.
func (a *Account) ApplyDebit(amount decimal.Decimal, kind Kind, reference, description string) (Entry, error) {
	if !a.Active {
		return Entry{}, ErrAccountInactive
	}
	if amount.Sign() <= 0 {
		return Entry{}, ErrInvalidAmount
	}
	if !a.AllowNegative && amount.GreaterThan(a.Balance) {
		return Entry{}, ErrInsufficientBalance
	}
	a.Balance = a.Balance.Sub(amount)
	a.LifetimeOut = a.LifetimeOut.Add(amount)
	return Entry{
		AccountID:    a.ID,
		Amount:       amount.Neg(),
		BalanceAfter: a.Balance,
		Kind:         kind,
		Reference:    reference,
		Description:  description,
	}, nil
}
