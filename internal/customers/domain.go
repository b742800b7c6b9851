// Package customers holds the customer master for both retail entities.
// Creating a customer allocates a customer code, provisions a wallet, and
// enrolls the customer into the tenant's loyalty program when one is active.
package customers

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/mpfootwear/backoffice/internal/shared"
)

// Type segments customers for pricing and reporting.
type Type string

const (
	TypeIndividual Type = "INDIVIDUAL"
	TypeBusiness   Type = "BUSINESS"
	TypeWholesale  Type = "WHOLESALE"
	TypeVIP        Type = "VIP"
)

// Segment buckets customers by purchase behaviour.
type Segment string

const (
	SegmentPremium    Segment = "PREMIUM"
	SegmentRegular    Segment = "REGULAR"
	SegmentOccasional Segment = "OCCASIONAL"
	SegmentFirstTime  Segment = "FIRST_TIME"
)

// Customer is a tenant-scoped customer record.
type Customer struct {
	ID          int64
	Tenant      shared.Tenant
	Code        string
	FirstName   string
	LastName    string
	CompanyName string
	Type        Type
	Email       string
	Phone       string
	// AlternatePhone is a secondary contact number.
	AlternatePhone string
	DateOfBirth    *time.Time
	// GSTIN is the GST registration for business customers.
	GSTIN       string
	CreditLimit decimal.Decimal
	Segment     Segment
	// AcquisitionSource records how the customer was acquired
	// (WALK_IN, REFERRAL, ONLINE, ...).
	AcquisitionSource string
	Notes             string
	Tags              string
	Active            bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

var (
	// ErrCustomerNotFound indicates a missing customer.
	ErrCustomerNotFound = errors.New("customers: not found")
	// ErrDuplicatePhone rejects a second customer with the same phone.
	ErrDuplicatePhone = errors.New("customers: phone already registered")
	// ErrNameRequired rejects customers without a first name.
	ErrNameRequired = errors.New("customers: first name required")
)

var titleCaser = cases.Title(language.English)

// FullName joins the first and last name.
func (c *Customer) FullName() string {
	return strings.TrimSpace(c.FirstName + " " + c.LastName)
}

// DisplayName prefers the company name for business customers.
func (c *Customer) DisplayName() string {
	if c.Type == TypeBusiness && c.CompanyName != "" {
		return c.CompanyName
	}
	return c.FullName()
}

// Normalize tidies free-form input before persistence.
func (c *Customer) Normalize() {
	c.FirstName = titleCaser.String(strings.TrimSpace(c.FirstName))
	c.LastName = titleCaser.String(strings.TrimSpace(c.LastName))
	c.CompanyName = strings.TrimSpace(c.CompanyName)
	c.Email = strings.ToLower(strings.TrimSpace(c.Email))
	c.Phone = strings.TrimSpace(c.Phone)
	c.AlternatePhone = strings.TrimSpace(c.AlternatePhone)
	if c.Type == "" {
		c.Type = TypeIndividual
	}
	if c.Segment == "" {
		c.Segment = SegmentFirstTime
	}
}
