// Package sequence issues the human-readable document numbers used across
// the back office: order numbers, SKUs, vendor codes, payment ids and the
// like. Every stream is scoped by tenant and category (plus a date bucket
// where the format embeds one) and advances through a dedicated counter row,
// so concurrent allocations can never issue the same identifier.
package sequence

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mpfootwear/backoffice/internal/shared"
)

// Category names an independent numbering stream.
type Category string

const (
	CategoryCustomer      Category = "customer"
	CategoryOrder         Category = "order"
	CategoryOrderDisplay  Category = "order_display"
	CategorySKU           Category = "sku"
	CategoryVendor        Category = "vendor"
	CategorySale          Category = "sale"
	CategorySalePayment   Category = "sale_payment"
	CategorySaleReturn    Category = "sale_return"
	CategoryPayment       Category = "payment"
	CategoryRefund        Category = "refund"
	CategoryWalletTxn     Category = "wallet_txn"
	CategoryBill          Category = "bill"
	CategoryVendorPayment Category = "vendor_payment"
)

// BucketKind tells how a category partitions its streams over time.
type BucketKind int

const (
	// BucketNone means one stream per tenant for the category's lifetime.
	BucketNone BucketKind = iota
	// BucketDaily opens a fresh stream every calendar day.
	BucketDaily
	// BucketYearly opens a fresh stream every calendar year.
	BucketYearly
)

// Format describes how identifiers in a category are composed.
type Format struct {
	// Infix sits between the tenant short code and the date bucket. Empty
	// for the SKU category, whose infix is the per-product category code
	// carried in Scope.Qualifier.
	Infix string
	// Width is the zero-padded digit width of the numeric suffix.
	Width int
	// Floor is the first value issued for a new stream.
	Floor int64
	// Bucket selects the date partitioning.
	Bucket BucketKind
	// Sep separates the bucket from the suffix (yearly streams use "-").
	Sep string
}

// formats is the canonical composition table, lifted from the document
// numbers the retail entities already have in circulation.
var formats = map[Category]Format{
	CategoryCustomer:      {Infix: "C", Width: 5, Floor: 1, Bucket: BucketNone},
	CategoryOrder:         {Infix: "O", Width: 6, Floor: 1, Bucket: BucketDaily},
	CategoryOrderDisplay:  {Infix: "", Width: 4, Floor: 1000, Bucket: BucketNone},
	CategorySKU:           {Infix: "", Width: 4, Floor: 1, Bucket: BucketNone},
	CategoryVendor:        {Infix: "V", Width: 4, Floor: 1, Bucket: BucketNone},
	CategorySale:          {Infix: "S", Width: 4, Floor: 1, Bucket: BucketDaily},
	CategorySalePayment:   {Infix: "SP", Width: 4, Floor: 1, Bucket: BucketDaily},
	CategorySaleReturn:    {Infix: "R", Width: 4, Floor: 1, Bucket: BucketDaily},
	CategoryPayment:       {Infix: "PAY", Width: 6, Floor: 1, Bucket: BucketDaily},
	CategoryRefund:        {Infix: "REF", Width: 6, Floor: 1, Bucket: BucketDaily},
	CategoryWalletTxn:     {Infix: "WT", Width: 8, Floor: 1, Bucket: BucketDaily},
	CategoryBill:          {Infix: "B", Width: 4, Floor: 1, Bucket: BucketYearly, Sep: "-"},
	CategoryVendorPayment: {Infix: "P", Width: 4, Floor: 1, Bucket: BucketYearly, Sep: "-"},
}

// FormatFor looks up the composition table.
func FormatFor(c Category) (Format, bool) {
	f, ok := formats[c]
	return f, ok
}

// Scope identifies one numbering stream.
type Scope struct {
	Tenant   shared.Tenant
	Category Category
	// Qualifier is the three-letter product category code, used only by
	// CategorySKU.
	Qualifier string
	// Date selects the bucket for daily/yearly categories. Zero means "now"
	// is substituted at allocation time.
	Date time.Time
}

var (
	// ErrUnknownCategory indicates a category missing from the format table.
	ErrUnknownCategory = errors.New("sequence: unknown category")
	// ErrCorruptSequenceState indicates a stored identifier whose numeric
	// suffix cannot be parsed. The stream is left untouched; this is a data
	// integrity problem for an operator, not something to repair silently.
	ErrCorruptSequenceState = errors.New("sequence: corrupt sequence state")
	// ErrDuplicateIdentifier indicates two allocations raced to the same
	// identifier. It surfaces when a numbered insert trips a unique
	// constraint (see MapDuplicate). With the counter-row strategy this
	// cannot happen; seeing it means an implementation bug, so callers
	// must not retry around it.
	ErrDuplicateIdentifier = errors.New("sequence: duplicate identifier issued")
	// ErrCodeSpaceExhausted indicates the random code draw kept colliding
	// even after widening the code length.
	ErrCodeSpaceExhausted = errors.New("sequence: code space exhausted")
)

// bucketString renders the date portion of the prefix.
func (f Format) bucketString(at time.Time) string {
	switch f.Bucket {
	case BucketDaily:
		return at.Format("20060102")
	case BucketYearly:
		return at.Format("2006")
	default:
		return ""
	}
}

// Prefix renders the identifier prefix for the scope at the given time.
func (s Scope) Prefix(at time.Time) (string, error) {
	f, ok := formats[s.Category]
	if !ok {
		return "", ErrUnknownCategory
	}
	infix := f.Infix
	if s.Category == CategorySKU {
		infix = strings.ToUpper(s.Qualifier)
	}
	return s.Tenant.ShortCode() + infix + f.bucketString(at) + f.Sep, nil
}

// Key renders the counter-row key. Unlike Prefix it always embeds the full
// tenant name: both retail entities shorten to "MP", and per-tenant isolation
// must not depend on the rendered prefix being distinct.
func (s Scope) Key(at time.Time) (string, error) {
	f, ok := formats[s.Category]
	if !ok {
		return "", ErrUnknownCategory
	}
	parts := []string{string(s.Tenant), string(s.Category)}
	if s.Category == CategorySKU {
		parts = append(parts, strings.ToUpper(s.Qualifier))
	}
	if b := f.bucketString(at); b != "" {
		parts = append(parts, b)
	}
	return strings.Join(parts, ":"), nil
}

// Render composes the final identifier from a prefix and counter value.
func (f Format) Render(prefix string, value int64) string {
	return fmt.Sprintf("%s%0*d", prefix, f.Width, value)
}

// ParseSuffix extracts the numeric suffix of a previously issued identifier
// by stripping the stream prefix. Stripping rather than slicing a fixed
// width keeps streams parseable after their suffix outgrows the padded
// width. Returns ErrCorruptSequenceState when the identifier does not belong
// to the prefix or the remainder is not numeric.
func ParseSuffix(prefix, identifier string) (int64, error) {
	rest, ok := strings.CutPrefix(identifier, prefix)
	if !ok || rest == "" {
		return 0, fmt.Errorf("%w: %q does not extend prefix %q", ErrCorruptSequenceState, identifier, prefix)
	}
	n, err := strconv.ParseInt(rest, 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: suffix %q of %q is not numeric", ErrCorruptSequenceState, rest, identifier)
	}
	return n, nil
}
