package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/orderline/api/internal/domain"
)

type shippingFunc func(context.Context, []ValidatedItem, int64) (int64, error)

func (f shippingFunc) ShippingCost(ctx context.Context, items []ValidatedItem, subtotal int64) (int64, error) {
	return f(ctx, items, subtotal)
}

func validated(product domain.Product, qty int, color string) ValidatedItem {
	return ValidatedItem{
		CartSnapshotItem: CartSnapshotItem{ProductID: product.ID, Quantity: qty, Color: color},
		Product:          product,
		StockKey:         product.Stock.Resolve(color),
	}
}

func TestPricingEngineTotals(t *testing.T) {
	engine, err := NewPricingEngine(PricingEngineDeps{Currency: "inr"})
	require.NoError(t, err)

	discounted := int64(80)
	items := []ValidatedItem{
		validated(domain.Product{ID: 1, Price: 100, TaxPercent: 5}, 3, ""),
		validated(domain.Product{ID: 2, Price: 100, DiscountPrice: &discounted, TaxPercent: 12.5}, 1, ""),
		validated(domain.Product{ID: 3, Price: 33, TaxPercent: 1.5}, 1, ""),
	}

	breakdown, err := engine.Price(context.Background(), items)
	require.NoError(t, err)
	assert.Equal(t, "INR", breakdown.Currency)
	assert.Equal(t, int64(413), breakdown.TotalPrice)
	// 15 + 10 + round(0.495)
	assert.Equal(t, int64(25), breakdown.TaxAmount)
	assert.Zero(t, breakdown.ShippingCost)
	require.Len(t, breakdown.Items, 3)
	assert.Equal(t, int64(80), breakdown.Items[1].UnitPrice)
	assert.Equal(t, int64(10), breakdown.Items[1].LineTax)
}

func TestPricingEngineShippingPolicy(t *testing.T) {
	engine, err := NewPricingEngine(PricingEngineDeps{Currency: "INR", Shipping: FlatShipping(49)})
	require.NoError(t, err)
	breakdown, err := engine.Price(context.Background(), []ValidatedItem{validated(domain.Product{ID: 1, Price: 10}, 1, "")})
	require.NoError(t, err)
	assert.Equal(t, int64(49), breakdown.ShippingCost)
	assert.Equal(t, int64(59), breakdown.Payable())

	failing, err := NewPricingEngine(PricingEngineDeps{
		Currency: "INR",
		Shipping: shippingFunc(func(context.Context, []ValidatedItem, int64) (int64, error) {
			return 0, errors.New("rate table missing")
		}),
	})
	require.NoError(t, err)
	_, err = failing.Price(context.Background(), []ValidatedItem{validated(domain.Product{ID: 1, Price: 10}, 1, "")})
	assert.Error(t, err)

	_, err = NewPricingEngine(PricingEngineDeps{})
	assert.Error(t, err)
}

func TestLineImage(t *testing.T) {
	withVariants := domain.Product{
		Variants: []domain.ProductVariant{{Name: "Red", MainImage: "red.jpg"}, {Name: "Blue"}},
		Images:   []string{"generic.jpg"},
	}
	tests := []struct {
		name    string
		product domain.Product
		color   string
		want    string
	}{
		{name: "matching variant", product: withVariants, color: "red", want: "red.jpg"},
		{name: "variant without image falls back to first variant", product: withVariants, color: "Blue", want: "red.jpg"},
		{name: "generic image", product: domain.Product{Images: []string{"a.jpg", "b.jpg"}}, color: "Red", want: "a.jpg"},
		{name: "no imagery", product: domain.Product{}, want: ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, lineImage(tc.product, tc.color))
		})
	}
}

func TestCouponDiscount(t *testing.T) {
	pricing := domain.PricingBreakdown{TotalPrice: 300, TaxAmount: 15}
	maxTwenty := int64(20)

	tests := []struct {
		name   string
		coupon domain.Coupon
		want   int64
	}{
		{name: "percentage", coupon: domain.Coupon{DiscountType: domain.DiscountTypePercentage, DiscountValue: 10}, want: 30},
		{name: "percentage capped", coupon: domain.Coupon{DiscountType: domain.DiscountTypePercentage, DiscountValue: 10, MaxDiscount: &maxTwenty}, want: 20},
		{name: "fixed", coupon: domain.Coupon{DiscountType: domain.DiscountTypeFixed, DiscountValue: 50}, want: 50},
		{name: "fixed clamped to payable", coupon: domain.Coupon{DiscountType: domain.DiscountTypeFixed, DiscountValue: 1000}, want: 315},
		{name: "negative value", coupon: domain.Coupon{DiscountType: domain.DiscountTypeFixed, DiscountValue: -5}, want: 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, CouponDiscount(tc.coupon, pricing))
		})
	}
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(domain.OrderStatusPending, domain.OrderStatusProcessing))
	assert.True(t, CanTransition(domain.OrderStatusPending, domain.OrderStatusShipped))
	assert.True(t, CanTransition(domain.OrderStatusProcessing, domain.OrderStatusCancelled))
	assert.True(t, CanTransition(domain.OrderStatusShipped, domain.OrderStatusDelivered))
	assert.False(t, CanTransition(domain.OrderStatusShipped, domain.OrderStatusCancelled))
	assert.False(t, CanTransition(domain.OrderStatusShipped, domain.OrderStatusPending))
	assert.False(t, CanTransition(domain.OrderStatusDelivered, domain.OrderStatusCancelled))
	assert.False(t, CanTransition(domain.OrderStatusCancelled, domain.OrderStatusPending))
}

func TestOrderNumberGenerator(t *testing.T) {
	gen := OrderNumberGenerator(" shop ")
	number := gen(testNow)
	assert.Regexp(t, `^SHOP-1741944600000-[0-9A-F]{6}$`, number)
	assert.NotEqual(t, number, gen(testNow))
}
