package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	domain "github.com/orderline/api/internal/domain"
)

// ShippingPolicy prices delivery for a validated cart.
type ShippingPolicy interface {
	ShippingCost(ctx context.Context, items []ValidatedItem, subtotal int64) (int64, error)
}

// FlatShipping charges the same amount for every order.
type FlatShipping int64

func (f FlatShipping) ShippingCost(context.Context, []ValidatedItem, int64) (int64, error) {
	if f < 0 {
		return 0, nil
	}
	return int64(f), nil
}

// PricingEngine turns validated lines into order totals. It performs no writes.
type PricingEngine struct {
	currency string
	shipping ShippingPolicy
}

// PricingEngineDeps configures a pricing engine.
type PricingEngineDeps struct {
	Currency string
	Shipping ShippingPolicy
}

func NewPricingEngine(deps PricingEngineDeps) (*PricingEngine, error) {
	currency := strings.ToUpper(strings.TrimSpace(deps.Currency))
	if currency == "" {
		return nil, errors.New("pricing engine: currency is required")
	}
	shipping := deps.Shipping
	if shipping == nil {
		shipping = FlatShipping(0)
	}
	return &PricingEngine{currency: currency, shipping: shipping}, nil
}

// Price computes per-line totals and tax, the order subtotal and shipping.
// The unit price is the product's discount price when set.
func (e *PricingEngine) Price(ctx context.Context, items []ValidatedItem) (domain.PricingBreakdown, error) {
	breakdown := domain.PricingBreakdown{
		Currency: e.currency,
		Items:    make([]domain.ItemPricingBreakdown, 0, len(items)),
	}
	for _, item := range items {
		unit := item.Product.UnitPrice()
		if unit < 0 {
			return domain.PricingBreakdown{}, fmt.Errorf("%w: product %d has a negative price", ErrOrderInvalidInput, item.ProductID)
		}
		lineTotal := unit * int64(item.Quantity)
		lineTax := domain.PercentOf(lineTotal, item.Product.TaxPercent)

		breakdown.TotalPrice += lineTotal
		breakdown.TaxAmount += lineTax
		breakdown.Items = append(breakdown.Items, domain.ItemPricingBreakdown{
			ProductID: item.ProductID,
			Variant:   item.Color,
			UnitPrice: unit,
			Quantity:  item.Quantity,
			LineTotal: lineTotal,
			LineTax:   lineTax,
			Image:     lineImage(item.Product, item.Color),
		})
	}

	shipping, err := e.shipping.ShippingCost(ctx, items, breakdown.TotalPrice)
	if err != nil {
		return domain.PricingBreakdown{}, fmt.Errorf("pricing engine: shipping: %w", err)
	}
	breakdown.ShippingCost = shipping
	return breakdown, nil
}

// lineImage prefers the chosen variant's main image, then the first variant
// main image, then the first product image.
func lineImage(product domain.Product, color string) string {
	if color != "" {
		for _, variant := range product.Variants {
			if strings.EqualFold(variant.Name, color) && variant.MainImage != "" {
				return variant.MainImage
			}
		}
	}
	if len(product.Variants) > 0 && product.Variants[0].MainImage != "" {
		return product.Variants[0].MainImage
	}
	if len(product.Images) > 0 {
		return product.Images[0]
	}
	return ""
}
