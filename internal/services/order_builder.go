package services

import (
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"function-ticketing-platform/internal/models"
)

// OrderInput carries what BuildOrder needs. Attendees fix the line order.
type OrderInput struct {
	RegistrationID      string
	RegistrationType    models.RegistrationType
	CustomerID          string
	Attendees           []models.Attendee
	LineItemsByAttendee map[string][]models.ResolvedLineItem
	Contact             models.Contact
	Metadata            map[string]string
	Fee                 decimal.Decimal
}

// OrderBuilder turns resolved line items into a provider order
type OrderBuilder struct {
	locationID string
	newKey     func() string
}

// NewOrderBuilder creates an order builder for a provider location
func NewOrderBuilder(locationID string) *OrderBuilder {
	return &OrderBuilder{locationID: locationID, newKey: uuid.NewString}
}

// BuildOrder builds an order with a fresh idempotency key. Bulk registrations
// combine identical items into one quantified line; individual registrations
// keep one line per attendee ticket.
func (b *OrderBuilder) BuildOrder(in OrderInput) (*models.Order, error) {
	var ordered []models.ResolvedLineItem
	for _, attendee := range in.Attendees {
		ordered = append(ordered, in.LineItemsByAttendee[attendee.ID]...)
	}

	var lines []models.OrderLineItem
	if in.RegistrationType.IsBulk() {
		lines = combineLines(ordered)
	} else {
		lines = perAttendeeLines(ordered, in.Attendees)
	}

	order := &models.Order{
		IdempotencyKey: b.newKey(),
		CustomerID:     in.CustomerID,
		LocationID:     b.locationID,
		ReferenceID:    in.RegistrationID,
		LineItems:      lines,
		Fee:            in.Fee,
		Metadata:       orderMetadata(in, ordered),
		Packages:       models.PackagePurchases(ordered),
	}

	if err := order.Validate(); err != nil {
		return nil, models.NewValidationError(err.Error())
	}

	if expected := models.SumPrices(ordered); !order.Subtotal().Equal(expected) {
		return nil, models.NewInternalError(
			fmt.Sprintf("order subtotal %s does not match line item total %s", order.Subtotal(), expected), nil)
	}

	return order, nil
}

func perAttendeeLines(items []models.ResolvedLineItem, attendees []models.Attendee) []models.OrderLineItem {
	names := make(map[string]string, len(attendees))
	for _, a := range attendees {
		names[a.ID] = a.FirstName + " " + a.LastName
	}

	lines := make([]models.OrderLineItem, 0, len(items))
	for _, item := range items {
		note := "Attendee: " + names[item.AttendeeID]
		if item.IsFromPackage {
			note += " (" + item.PackageName + ")"
		}
		lines = append(lines, models.OrderLineItem{
			CatalogItemID:     item.CatalogItemID,
			ProviderCatalogID: item.ProviderCatalogID,
			Name:              item.Name,
			Quantity:          1,
			UnitPrice:         item.Price,
			Note:              note,
		})
	}
	return lines
}

type lineGroup struct {
	line        models.OrderLineItem
	packageID   string
	packageSize int
}

func combineLines(items []models.ResolvedLineItem) []models.OrderLineItem {
	groups := make(map[string]*lineGroup)
	var keys []string

	for _, item := range items {
		key := item.PackageID + "|" + item.CatalogItemID + "|" + item.Price.String()
		group, ok := groups[key]
		if !ok {
			group = &lineGroup{
				line: models.OrderLineItem{
					CatalogItemID:     item.CatalogItemID,
					ProviderCatalogID: item.ProviderCatalogID,
					Name:              item.Name,
					UnitPrice:         item.Price,
				},
				packageID:   item.PackageID,
				packageSize: item.PackageSize,
			}
			groups[key] = group
			keys = append(keys, key)
		}
		group.line.Quantity++
	}

	purchases := models.PackagePurchases(items)
	lines := make([]models.OrderLineItem, 0, len(keys))
	for _, key := range keys {
		group := groups[key]
		if group.packageID != "" {
			group.line.Note = fmt.Sprintf("%d packages × %d items each", purchases[group.packageID], group.packageSize)
		} else if group.line.Quantity > 1 {
			group.line.Note = fmt.Sprintf("%d tickets", group.line.Quantity)
		}
		lines = append(lines, group.line)
	}
	return lines
}

func orderMetadata(in OrderInput, items []models.ResolvedLineItem) map[string]string {
	metadata := make(map[string]string, len(in.Metadata)+6)
	for k, v := range in.Metadata {
		metadata[k] = v
	}

	metadata[models.MetaRegistrationID] = in.RegistrationID
	metadata[models.MetaRegistrationType] = string(in.RegistrationType)
	metadata[models.MetaAttendeeCount] = strconv.Itoa(len(in.Attendees))

	if in.RegistrationType.IsBulk() {
		purchases := models.PackagePurchases(items)
		names := make(map[string]string)
		for _, item := range items {
			switch {
			case item.IsFromPackage && item.PackageID != "":
				names[item.PackageID] = item.PackageName
			case item.IsPackage:
				purchases[item.CatalogItemID]++
				names[item.CatalogItemID] = item.Name
			}
		}
		if len(purchases) == 1 {
			for pkgID, count := range purchases {
				metadata[models.MetaPackageID] = pkgID
				metadata[models.MetaPackageName] = names[pkgID]
				metadata[models.MetaPackageCount] = strconv.Itoa(count)
			}
		}
	}

	return models.FilterMetadata(metadata)
}
