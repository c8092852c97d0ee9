package models

import (
	"strings"

	"github.com/shopspring/decimal"
)

// CartSelection is one client-supplied cart entry. Price is untrusted and
// only ever used as a flagged fallback.
type CartSelection struct {
	ID            string          `json:"id"`
	AttendeeID    string          `json:"attendeeId"`
	CatalogItemID string          `json:"catalogItemId,omitempty"`
	IsPackage     bool            `json:"isPackage"`
	Price         decimal.Decimal `json:"price"`
}

// CatalogRef returns the catalog id the selection points at. Structured
// selections carry it in CatalogItemID. A legacy composite id
// "<attendeeId>-<catalogItemId>" is split only when its prefix is exactly the
// selection's own attendee id, so hyphenated UUIDs are never cut.
func (s CartSelection) CatalogRef() string {
	if s.CatalogItemID != "" {
		return s.CatalogItemID
	}
	if s.AttendeeID != "" {
		if ref, ok := strings.CutPrefix(s.ID, s.AttendeeID+"-"); ok && ref != "" {
			return ref
		}
	}
	return s.ID
}

// SelectionKey is a stable identifier for logging and error messages.
func (s CartSelection) SelectionKey() string {
	if s.ID != "" {
		return s.ID
	}
	return s.AttendeeID + "-" + s.CatalogItemID
}
