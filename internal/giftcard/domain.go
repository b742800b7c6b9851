// Package giftcard implements issued gift cards: a bounded ledger balance
// behind a random redemption code, with an explicit lifecycle.
package giftcard

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mpfootwear/backoffice/internal/shared"
)

// Status enumerates gift card lifecycle states.
//
//	ACTIVE -> REDEEMED   balance exhausted, terminal for spending
//	ACTIVE -> EXPIRED    date driven, terminal
//	ACTIVE -> CANCELLED  administrative, terminal
//	ACTIVE <-> SUSPENDED administrative, reversible
type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusRedeemed  Status = "REDEEMED"
	StatusExpired   Status = "EXPIRED"
	StatusCancelled Status = "CANCELLED"
	StatusSuspended Status = "SUSPENDED"
)

// GiftCard models one issued card.
type GiftCard struct {
	ID     int64
	Tenant shared.Tenant
	Code   string
	// AccountID references the backing ledger account.
	AccountID      int64
	InitialAmount  decimal.Decimal
	CurrentBalance decimal.Decimal
	IssuedDate     time.Time
	ExpiryDate     time.Time
	Status         Status
	PurchaserID    *int64
	PurchaseOrder  string
	RecipientName  string
	RecipientEmail string
	RecipientPhone string
	GiftMessage    string
	// MinimumOrderAmount gates redemption against the order subtotal.
	MinimumOrderAmount decimal.Decimal
	TimesUsed          int
	FirstUsedAt        *time.Time
	LastUsedAt         *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

var (
	// ErrCardNotFound indicates an unknown code.
	ErrCardNotFound = errors.New("giftcard: not found")
	// ErrCardNotActive rejects use of redeemed/cancelled/suspended cards.
	ErrCardNotActive = errors.New("giftcard: not active")
	// ErrCardExpired rejects use past the expiry date.
	ErrCardExpired = errors.New("giftcard: expired")
	// ErrMinimumOrderNotMet rejects redemption below the configured order subtotal.
	ErrMinimumOrderNotMet = errors.New("giftcard: order subtotal below card minimum")
	// ErrBadStatusChange rejects an impossible lifecycle transition.
	ErrBadStatusChange = errors.New("giftcard: invalid status transition")
)

// Usable reports whether the card can be redeemed at the given time,
// distinguishing the not-active and expired rejections.
func (c *GiftCard) Usable(now time.Time) error {
	if c.Status != StatusActive {
		return ErrCardNotActive
	}
	if now.After(c.ExpiryDate) {
		return ErrCardExpired
	}
	return nil
}
