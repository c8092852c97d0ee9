package services

import (
	"github.com/shopspring/decimal"

	"function-ticketing-platform/internal/models"
)

// ExpandSelections turns selections into priced line items. A package with
// includes becomes one line per included item, each at that item's own
// catalog price, in includes order. A package without includes and any
// non-package selection become a single line. Output follows input order.
func ExpandSelections(selections []models.CartSelection, catalogItems, packageItems models.CatalogIndex) []models.ResolvedLineItem {
	items := make([]models.ResolvedLineItem, 0, len(selections))

	for _, sel := range selections {
		if !sel.IsPackage {
			items = append(items, resolveSelection(sel, catalogItems, packageItems))
			continue
		}

		pkg, ok := packageItems.Lookup(sel.CatalogRef())
		if !ok || pkg.IsAtomic() {
			// Unknown packages fall back, atomic ones are sold as themselves.
			items = append(items, resolveSelection(sel, catalogItems, packageItems))
			continue
		}

		items = append(items, expandPackage(sel, pkg, catalogItems)...)
	}

	return items
}

func expandPackage(sel models.CartSelection, pkg *models.CatalogItem, catalogItems models.CatalogIndex) []models.ResolvedLineItem {
	key := sel.SelectionKey()
	lines := make([]models.ResolvedLineItem, 0, len(pkg.Includes))

	for _, includedID := range pkg.Includes {
		line := models.ResolvedLineItem{
			ID:            key + "/" + includedID,
			SelectionID:   key,
			AttendeeID:    sel.AttendeeID,
			CatalogItemID: includedID,
			IsFromPackage: true,
			PackageID:     pkg.ID,
			PackageName:   pkg.Name,
			PackageSize:   len(pkg.Includes),
		}

		if item, ok := catalogItems.Lookup(includedID); ok {
			line.Name = item.Name
			line.Price = item.Price
			line.ProviderCatalogID = item.ProviderCatalogID
			line.PriceSource = models.PriceFromCatalog
		} else {
			// A package pointing at a missing item is a catalog defect. The
			// line is flagged and priced at zero so validation blocks it.
			line.Name = includedID
			line.Price = decimal.Zero
			line.PriceSource = models.PriceFromClient
		}

		lines = append(lines, line)
	}

	return lines
}
