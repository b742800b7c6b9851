// Package loyalty implements per-tenant loyalty programs and customer point
// accounts. Points ride the shared ledger engine; the account row keeps the
// denormalised integer balance the POS and storefront read.
package loyalty

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mpfootwear/backoffice/internal/shared"
)

// Program configures how a tenant's loyalty scheme accrues and redeems.
type Program struct {
	ID     int64
	Tenant shared.Tenant
	Name   string
	// PointsPerRupee is the accrual rate; earned points are floored.
	PointsPerRupee decimal.Decimal
	// CashbackPercentage, when positive, credits the customer's wallet
	// cashback bucket alongside point accrual.
	CashbackPercentage decimal.Decimal
	// MinimumRedemption is the smallest point redemption accepted.
	MinimumRedemption int64
	// InactivityExpiryDays, when set, lets the expiry sweep void the
	// remaining balance of accounts idle for that many days.
	InactivityExpiryDays *int
	Active               bool
	StartDate            *time.Time
	EndDate              *time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Account is a customer's point balance within a program.
type Account struct {
	ID         int64
	Tenant     shared.Tenant
	CustomerID int64
	ProgramID  int64
	// AccountID references the backing ledger account.
	AccountID      int64
	PointsBalance  int64
	TotalEarned    int64
	TotalRedeemed  int64
	LastActivityAt *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

var (
	// ErrProgramNotFound indicates a missing program.
	ErrProgramNotFound = errors.New("loyalty: program not found")
	// ErrProgramInactive rejects accrual/redemption outside the program's active window.
	ErrProgramInactive = errors.New("loyalty: program inactive")
	// ErrAccountNotFound indicates a customer without an enrolment.
	ErrAccountNotFound = errors.New("loyalty: account not found")
	// ErrAlreadyEnrolled rejects duplicate enrolment.
	ErrAlreadyEnrolled = errors.New("loyalty: customer already enrolled")
	// ErrBelowMinimumRedemption rejects redemptions under the program floor.
	ErrBelowMinimumRedemption = errors.New("loyalty: below minimum redemption")
	// ErrInsufficientPoints rejects redemptions beyond the balance.
	ErrInsufficientPoints = errors.New("loyalty: insufficient points")
	// ErrInvalidPoints rejects non-positive point amounts.
	ErrInvalidPoints = errors.New("loyalty: points must be positive")
)

// ActiveAt reports whether the program accepts activity at the given time.
func (p *Program) ActiveAt(now time.Time) bool {
	if !p.Active {
		return false
	}
	if p.StartDate != nil && now.Before(*p.StartDate) {
		return false
	}
	if p.EndDate != nil && now.After(*p.EndDate) {
		return false
	}
	return true
}

// PointsForAmount converts a purchase amount to earned points, flooring the
// fractional part.
func (p *Program) PointsForAmount(amount decimal.Decimal) int64 {
	if amount.Sign() <= 0 {
		return 0
	}
	return amount.Mul(p.PointsPerRupee).Floor().IntPart()
}

// CashbackForAmount converts a purchase amount to wallet cashback.
func (p *Program) CashbackForAmount(amount decimal.Decimal) decimal.Decimal {
	if amount.Sign() <= 0 || p.CashbackPercentage.Sign() <= 0 {
		return decimal.Zero
	}
	return amount.Mul(p.CashbackPercentage).Div(decimal.NewFromInt(100)).Round(2)
}
