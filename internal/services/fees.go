package services

import (
	"github.com/shopspring/decimal"

	"function-ticketing-platform/internal/config"
)

var hundred = decimal.NewFromInt(100)

// FeeBreakdown is the amount charged for a subtotal
type FeeBreakdown struct {
	Subtotal    decimal.Decimal `json:"subtotal"`
	PlatformFee decimal.Decimal `json:"platformFee"`
	ProviderFee decimal.Decimal `json:"providerFee"`
	Total       decimal.Decimal `json:"total"`
}

// FeeTotal returns the fees added on top of the subtotal
func (f FeeBreakdown) FeeTotal() decimal.Decimal {
	return f.Total.Sub(f.Subtotal)
}

// FeeCalculator computes platform and provider fees in cents precision
type FeeCalculator struct {
	platformPercent decimal.Decimal
	providerPercent decimal.Decimal
	providerFixed   decimal.Decimal
	passToAttendees bool
}

// NewFeeCalculator creates a fee calculator from configuration
func NewFeeCalculator(cfg config.FeeConfig) *FeeCalculator {
	return &FeeCalculator{
		platformPercent: decimal.NewFromFloat(cfg.PlatformFeePercent),
		providerPercent: decimal.NewFromFloat(cfg.ProviderFeePercent),
		providerFixed:   decimal.NewFromFloat(cfg.ProviderFeeFixed),
		passToAttendees: cfg.PassFeesToAttendees,
	}
}

// Calculate returns the fee breakdown for subtotal. The provider fee applies
// to the subtotal plus the platform fee. When fees are absorbed the total
// equals the subtotal.
func (c *FeeCalculator) Calculate(subtotal decimal.Decimal) FeeBreakdown {
	subtotal = subtotal.Round(2)
	if !subtotal.IsPositive() {
		return FeeBreakdown{Subtotal: subtotal, PlatformFee: decimal.Zero, ProviderFee: decimal.Zero, Total: subtotal}
	}

	platform := subtotal.Mul(c.platformPercent).Div(hundred).Round(2)
	provider := subtotal.Add(platform).Mul(c.providerPercent).Div(hundred).Add(c.providerFixed).Round(2)

	total := subtotal
	if c.passToAttendees {
		total = subtotal.Add(platform).Add(provider)
	}

	return FeeBreakdown{
		Subtotal:    subtotal,
		PlatformFee: platform,
		ProviderFee: provider,
		Total:       total,
	}
}
