package services

import (
	"function-ticketing-platform/internal/models"
)

// ResolvePrices prices every selection from the catalog, ignoring the client
// price whenever a record matches. Packages are priced as a whole and not
// expanded. Selections with no matching record keep their own price and are
// marked models.PriceFromClient.
func ResolvePrices(selections []models.CartSelection, catalogItems, packageItems models.CatalogIndex) []models.ResolvedLineItem {
	items := make([]models.ResolvedLineItem, 0, len(selections))
	for _, sel := range selections {
		items = append(items, resolveSelection(sel, catalogItems, packageItems))
	}
	return items
}

func resolveSelection(sel models.CartSelection, catalogItems, packageItems models.CatalogIndex) models.ResolvedLineItem {
	ref := sel.CatalogRef()

	source := catalogItems
	if sel.IsPackage {
		source = packageItems
	}

	record, ok := source.Lookup(ref)
	if !ok {
		return fallbackLineItem(sel, ref)
	}

	return models.ResolvedLineItem{
		ID:                sel.SelectionKey(),
		SelectionID:       sel.SelectionKey(),
		Name:              record.Name,
		Price:             record.Price,
		AttendeeID:        sel.AttendeeID,
		CatalogItemID:     record.ID,
		ProviderCatalogID: record.ProviderCatalogID,
		IsPackage:         sel.IsPackage,
		PriceSource:       models.PriceFromCatalog,
	}
}

func fallbackLineItem(sel models.CartSelection, ref string) models.ResolvedLineItem {
	return models.ResolvedLineItem{
		ID:            sel.SelectionKey(),
		SelectionID:   sel.SelectionKey(),
		Name:          ref,
		Price:         sel.Price,
		AttendeeID:    sel.AttendeeID,
		CatalogItemID: ref,
		IsPackage:     sel.IsPackage,
		PriceSource:   models.PriceFromClient,
	}
}

// UnverifiedItems returns the line items whose price did not come from the catalog
func UnverifiedItems(items []models.ResolvedLineItem) []models.ResolvedLineItem {
	var unverified []models.ResolvedLineItem
	for _, item := range items {
		if !item.IsVerified() {
			unverified = append(unverified, item)
		}
	}
	return unverified
}
