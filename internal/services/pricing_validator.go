package services

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"function-ticketing-platform/internal/models"
)

// PricingValidation is the outcome of ValidatePricing
type PricingValidation struct {
	IsValid        bool
	ZeroPriceItems []models.ResolvedLineItem
	TotalValue     decimal.Decimal
}

// ValidatePricing flags zero-priced items and totals all prices. Any zero
// price makes the set invalid: free tickets are not inferred from price.
func ValidatePricing(items []models.ResolvedLineItem) PricingValidation {
	result := PricingValidation{TotalValue: decimal.Zero}

	for _, item := range items {
		if item.Price.IsZero() {
			result.ZeroPriceItems = append(result.ZeroPriceItems, item)
		}
		result.TotalValue = result.TotalValue.Add(item.Price)
	}

	result.IsValid = len(result.ZeroPriceItems) == 0
	return result
}

// Err returns a validation error naming the zero-priced items, or nil
func (v PricingValidation) Err() error {
	if v.IsValid {
		return nil
	}

	names := make([]string, 0, len(v.ZeroPriceItems))
	for _, item := range v.ZeroPriceItems {
		names = append(names, item.Name)
	}
	return models.NewValidationError(fmt.Sprintf("items resolved to a zero price: %s", strings.Join(names, ", ")))
}
