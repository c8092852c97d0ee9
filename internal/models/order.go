package models

import (
	"errors"
	"fmt"
	"sort"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

// Metadata keys that may flow to the payment provider and persisted records.
// Anything else supplied by a client is dropped.
const (
	MetaFunctionID       = "function_id"
	MetaRegistrationID   = "registration_id"
	MetaRegistrationType = "registration_type"
	MetaLodgeName        = "lodge_name"
	MetaLodgeNumber      = "lodge_number"
	MetaGrandLodge       = "grand_lodge"
	MetaPackageID        = "package_id"
	MetaPackageName      = "package_name"
	MetaPackageCount     = "package_count"
	MetaAttendeeCount    = "attendee_count"

	// MaxMetadataEntries and MaxMetadataValueLength are provider limits.
	MaxMetadataEntries     = 10
	MaxMetadataValueLength = 255
)

var allowedMetadataKeys = map[string]bool{
	MetaFunctionID:       true,
	MetaRegistrationID:   true,
	MetaRegistrationType: true,
	MetaLodgeName:        true,
	MetaLodgeNumber:      true,
	MetaGrandLodge:       true,
	MetaPackageID:        true,
	MetaPackageName:      true,
	MetaPackageCount:     true,
	MetaAttendeeCount:    true,
}

// IsAllowedMetadataKey returns true if key may be forwarded to the provider
func IsAllowedMetadataKey(key string) bool {
	return allowedMetadataKeys[key]
}

// FilterMetadata drops unknown keys and empty values, truncates long values
// and caps the number of entries. Keys are kept in sorted order when the cap
// applies so the result is deterministic.
func FilterMetadata(in map[string]string) map[string]string {
	keys := make([]string, 0, len(in))
	for k, v := range in {
		if allowedMetadataKeys[k] && v != "" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	out := make(map[string]string, len(keys))
	for _, k := range keys {
		if len(out) == MaxMetadataEntries {
			break
		}
		out[k] = truncateUTF8(in[k], MaxMetadataValueLength)
	}
	return out
}

// truncateUTF8 cuts s to at most n bytes without splitting a rune
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// OrderLineItem is one priced, quantified entry of a provider order.
type OrderLineItem struct {
	CatalogItemID     string          `json:"catalog_item_id"`
	ProviderCatalogID string          `json:"provider_catalog_id,omitempty"`
	Name              string          `json:"name"`
	Quantity          int             `json:"quantity"`
	UnitPrice         decimal.Decimal `json:"unit_price"`
	Note              string          `json:"note,omitempty"`
}

// Total returns quantity * unit price
func (li OrderLineItem) Total() decimal.Decimal {
	return li.UnitPrice.Mul(decimal.NewFromInt(int64(li.Quantity)))
}

// Order is the normalized order submitted to the payment provider.
type Order struct {
	IdempotencyKey string            `json:"idempotency_key"`
	CustomerID     string            `json:"customer_id"`
	LocationID     string            `json:"location_id"`
	ReferenceID    string            `json:"reference_id"`
	LineItems      []OrderLineItem   `json:"line_items"`
	Fee            decimal.Decimal   `json:"fee"`
	Metadata       map[string]string `json:"metadata"`
	// Packages holds purchases per expanded package. Their included items
	// are already counted in LineItems.
	Packages       map[string]int    `json:"packages,omitempty"`
}

// Subtotal returns the sum of quantity * unit price over all line items
func (o *Order) Subtotal() decimal.Decimal {
	total := decimal.Zero
	for _, li := range o.LineItems {
		total = total.Add(li.Total())
	}
	return total
}

// Total returns the subtotal plus the booking fee charged on top of it
func (o *Order) Total() decimal.Decimal {
	return o.Subtotal().Add(o.Fee)
}

// Quantities returns the requested quantity per catalog item id.
func (o *Order) Quantities() map[string]int {
	counts := make(map[string]int)
	for _, li := range o.LineItems {
		counts[li.CatalogItemID] += li.Quantity
	}
	return counts
}

// Validate validates the order before submission
func (o *Order) Validate() error {
	if o.IdempotencyKey == "" {
		return errors.New("order idempotency key is required")
	}

	if len(o.LineItems) == 0 {
		return errors.New("order must contain at least one line item")
	}

	for i, li := range o.LineItems {
		if li.CatalogItemID == "" {
			return fmt.Errorf("line item %d is missing a catalog reference", i)
		}
		if li.Quantity <= 0 {
			return fmt.Errorf("line item %d quantity must be greater than 0", i)
		}
		if li.UnitPrice.IsNegative() {
			return fmt.Errorf("line item %d unit price cannot be negative", i)
		}
	}

	if o.Fee.IsNegative() {
		return errors.New("order fee cannot be negative")
	}

	return nil
}

// ToMinorUnits converts a currency amount to integer cents.
func ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

// FromMinorUnits converts integer cents to a currency amount.
func FromMinorUnits(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}
