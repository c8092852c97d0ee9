package services

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"function-ticketing-platform/internal/models"
)

// InventoryGuard checks requested quantities against catalog stock. The check
// is not atomic with order creation; the conditional sold increment at
// completion is what finally prevents overselling.
type InventoryGuard struct {
	catalog CatalogSource
}

// NewInventoryGuard creates an inventory guard
func NewInventoryGuard(catalog CatalogSource) *InventoryGuard {
	return &InventoryGuard{catalog: catalog}
}

// CheckInventory fails with InsufficientInventory when requested exceeds the
// available quantity, and with MissingCatalogReference when the id is empty
// or unknown.
func (g *InventoryGuard) CheckInventory(ctx context.Context, catalogItemID string, requested int) error {
	return g.check(ctx, catalogItemID, "", requested)
}

// CheckOrder checks every catalog item of an order with its summed quantity,
// then every expanded package with its purchase count.
func (g *InventoryGuard) CheckOrder(ctx context.Context, order *models.Order) error {
	names := make(map[string]string, len(order.LineItems))
	var ids []string
	for _, li := range order.LineItems {
		if li.CatalogItemID == "" {
			return models.NewMissingCatalogReferenceError(li.Name, "")
		}
		if _, ok := names[li.CatalogItemID]; !ok {
			ids = append(ids, li.CatalogItemID)
			names[li.CatalogItemID] = li.Name
		}
	}

	quantities := order.Quantities()
	for _, id := range ids {
		if err := g.check(ctx, id, names[id], quantities[id]); err != nil {
			return err
		}
	}

	packageIDs := make([]string, 0, len(order.Packages))
	for id := range order.Packages {
		packageIDs = append(packageIDs, id)
	}
	sort.Strings(packageIDs)
	for _, id := range packageIDs {
		if err := g.check(ctx, id, "", order.Packages[id]); err != nil {
			return err
		}
	}
	return nil
}

func (g *InventoryGuard) check(ctx context.Context, catalogItemID, name string, requested int) error {
	if catalogItemID == "" {
		return models.NewMissingCatalogReferenceError(name, "")
	}

	available, err := g.catalog.GetAvailableQuantity(ctx, catalogItemID)
	if err != nil {
		if errors.Is(err, models.ErrCatalogItemNotFound) {
			return models.NewMissingCatalogReferenceError(name, catalogItemID)
		}
		return models.NewInternalError("failed to read available quantity", err)
	}

	if requested > available {
		if name == "" {
			name = g.itemName(ctx, catalogItemID)
		}
		return models.NewInsufficientInventoryError(name, requested, available)
	}

	return nil
}

func (g *InventoryGuard) itemName(ctx context.Context, id string) string {
	if item, err := g.catalog.GetCatalogItem(ctx, id); err == nil {
		return item.Name
	}
	if pkg, err := g.catalog.GetPackage(ctx, id); err == nil {
		return pkg.Name
	}
	return fmt.Sprintf("item %s", id)
}
