package domain

import "math"

// PercentOf returns pct percent of amount rounded half away from zero to the minor unit.
func PercentOf(amount int64, pct float64) int64 {
	if amount == 0 || pct == 0 {
		return 0
	}
	return int64(math.Round(float64(amount) * pct / 100))
}

// PricingBreakdown captures the monetary results of pricing a cart snapshot.
type PricingBreakdown struct {
	Currency     string
	TotalPrice   int64
	TaxAmount    int64
	ShippingCost int64
	Items        []ItemPricingBreakdown
}

// ItemPricingBreakdown stores the per-line pricing outputs.
type ItemPricingBreakdown struct {
	ProductID int64
	Variant   string
	UnitPrice int64
	Quantity  int
	LineTotal int64
	LineTax   int64
	Image     string
}

// Payable returns the amount due before discounts.
func (b PricingBreakdown) Payable() int64 {
	return b.TotalPrice + b.TaxAmount + b.ShippingCost
}
