package shared

import (
	"errors"
	"strings"
)

// Tenant identifies one of the retail business entities. Almost every record
// and numbering stream in the back office is partitioned by tenant.
type Tenant string

const (
	// TenantMPShoes is the men's footwear entity.
	TenantMPShoes Tenant = "MPSHOES"
	// TenantMPFootwear is the ladies footwear entity.
	TenantMPFootwear Tenant = "MPFOOTWEAR"
)

// ErrUnknownTenant indicates an unrecognised entity code.
var ErrUnknownTenant = errors.New("unknown tenant")

// ParseTenant validates a tenant code supplied by a caller.
func ParseTenant(s string) (Tenant, error) {
	switch Tenant(strings.ToUpper(strings.TrimSpace(s))) {
	case TenantMPShoes:
		return TenantMPShoes, nil
	case TenantMPFootwear:
		return TenantMPFootwear, nil
	default:
		return "", ErrUnknownTenant
	}
}

// ShortCode returns the two-character prefix used in human-facing document
// numbers. Both entities share "MP", which is why numbering scopes key on the
// full tenant name rather than the rendered prefix.
func (t Tenant) ShortCode() string {
	s := string(t)
	if len(s) < 2 {
		return s
	}
	return s[:2]
}

func (t Tenant) String() string { return string(t) }
