// Package inventory manages product categories, the product master, and
// per-product stock levels. Stock movements ride the shared ledger engine so
// every receive/issue/adjustment leaves an append-only trail with the stock
// level after each movement.
package inventory

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mpfootwear/backoffice/internal/shared"
)

// Gender classifies footwear lines.
type Gender string

const (
	GenderMale   Gender = "MALE"
	GenderFemale Gender = "FEMALE"
	GenderUnisex Gender = "UNISEX"
	GenderKids   Gender = "KIDS"
)

// Category groups products; its name yields the 3-letter SKU code.
type Category struct {
	ID          int64
	Tenant      shared.Tenant
	Name        string
	Description string
	ParentID    *int64
	Active      bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// SKUCode is the category's contribution to generated SKUs: the first three
// letters of its name, upper-cased, or GEN when the name is too short.
func (c *Category) SKUCode() string {
	name := strings.ToUpper(strings.TrimSpace(c.Name))
	if len(name) < 3 {
		return "GEN"
	}
	return name[:3]
}

// Product is a tenant-scoped product record.
type Product struct {
	ID         int64
	Tenant     shared.Tenant
	SKU        string
	Barcode    string
	Name       string
	CategoryID int64
	Brand      string
	Gender     Gender
	Size       string
	Color      string

	CostPrice          decimal.Decimal
	SellingPrice       decimal.Decimal
	MRP                decimal.Decimal
	DiscountPercentage decimal.Decimal

	// AccountID references the backing stock ledger account.
	AccountID         int64
	TrackInventory    bool
	StockQuantity     int64
	ReservedQuantity  int64
	LowStockThreshold int64

	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

var (
	// ErrCategoryNotFound indicates a missing category.
	ErrCategoryNotFound = errors.New("inventory: category not found")
	// ErrProductNotFound indicates a missing product.
	ErrProductNotFound = errors.New("inventory: product not found")
	// ErrInvalidQuantity rejects non-positive movement quantities.
	ErrInvalidQuantity = errors.New("inventory: quantity must be positive")
	// ErrInsufficientStock rejects issues beyond the on-hand quantity.
	ErrInsufficientStock = errors.New("inventory: insufficient stock")
	// ErrInventoryNotTracked rejects movements on untracked products.
	ErrInventoryNotTracked = errors.New("inventory: product does not track stock")
)

// Available is the sellable quantity after reservations.
func (p *Product) Available() int64 {
	if avail := p.StockQuantity - p.ReservedQuantity; avail > 0 {
		return avail
	}
	return 0
}

// IsLowStock reports whether the product is at or below its threshold.
func (p *Product) IsLowStock() bool {
	return p.TrackInventory && p.Available() <= p.LowStockThreshold
}

// DiscountedPrice applies the product's discount to the selling price.
func (p *Product) DiscountedPrice() decimal.Decimal {
	if p.DiscountPercentage.Sign() <= 0 {
		return p.SellingPrice
	}
	discount := p.SellingPrice.Mul(p.DiscountPercentage).Div(decimal.NewFromInt(100))
	return p.SellingPrice.Sub(discount).Round(2)
}
