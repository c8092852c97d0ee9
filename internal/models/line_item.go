package models

import "github.com/shopspring/decimal"

// PriceSource records where a line item's price came from.
type PriceSource string

const (
	PriceFromCatalog PriceSource = "catalog"
	// PriceFromClient marks a fallback to the untrusted client price because
	// no catalog record matched.
	PriceFromClient PriceSource = "client_fallback"
)

// ResolvedLineItem is a priced cart entry produced by price resolution or
// package expansion.
type ResolvedLineItem struct {
	ID                string          `json:"id"`
	SelectionID       string          `json:"selectionId"`
	Name              string          `json:"name"`
	Price             decimal.Decimal `json:"price"`
	AttendeeID        string          `json:"attendeeId"`
	CatalogItemID     string          `json:"catalogItemId"`
	ProviderCatalogID string          `json:"providerCatalogId,omitempty"`
	IsPackage         bool            `json:"isPackage"`
	IsFromPackage     bool            `json:"isFromPackage"`
	PackageID         string          `json:"packageId,omitempty"`
	PackageName       string          `json:"packageName,omitempty"`
	PackageSize       int             `json:"packageSize,omitempty"`
	PriceSource       PriceSource     `json:"priceSource"`
}

// IsVerified returns true when the price was taken from a catalog record
func (li ResolvedLineItem) IsVerified() bool {
	return li.PriceSource == PriceFromCatalog
}

// SumPrices totals the prices of the given line items.
func SumPrices(items []ResolvedLineItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.Price)
	}
	return total
}

// GroupByAttendee buckets line items by attendee id, keeping input order
// within each bucket.
func GroupByAttendee(items []ResolvedLineItem) map[string][]ResolvedLineItem {
	grouped := make(map[string][]ResolvedLineItem)
	for _, item := range items {
		grouped[item.AttendeeID] = append(grouped[item.AttendeeID], item)
	}
	return grouped
}

// PackagePurchases counts purchases per expanded package. Each purchase
// contributes one line per included item.
func PackagePurchases(items []ResolvedLineItem) map[string]int {
	perItem := make(map[string]map[string]int)
	for _, item := range items {
		if !item.IsFromPackage || item.PackageID == "" {
			continue
		}
		if perItem[item.PackageID] == nil {
			perItem[item.PackageID] = make(map[string]int)
		}
		perItem[item.PackageID][item.CatalogItemID]++
	}

	purchases := make(map[string]int, len(perItem))
	for pkgID, lines := range perItem {
		for _, n := range lines {
			purchases[pkgID] = max(purchases[pkgID], n)
		}
	}
	return purchases
}
