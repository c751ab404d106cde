package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/orderline/api/internal/domain"
	"github.com/orderline/api/internal/repositories/memory"
)

func TestCartServiceReplaceItems(t *testing.T) {
	store := memory.NewStore()
	discount := int64(90)
	store.PutProduct(domain.Product{ID: 1, Name: "Scarf", Price: 120, DiscountPrice: &discount, IsActive: true,
		Variants: []domain.ProductVariant{{Name: "Red", MainImage: "red.jpg"}}})
	store.PutProduct(domain.Product{ID: 2, Name: "Old", Price: 10})

	svc, err := NewCartService(CartServiceDeps{Store: store})
	require.NoError(t, err)

	cart, err := svc.ReplaceItems(context.Background(), ReplaceCartItemsCommand{
		UserID: "user-1",
		Items:  []CartItemInput{{ProductID: 1, Quantity: 2, Color: "Red"}},
	})
	require.NoError(t, err)
	require.Len(t, cart.Lines, 1)
	assert.Equal(t, int64(180), cart.TotalAmount)
	assert.Equal(t, int64(90), cart.Lines[0].Price())
	assert.Equal(t, "red.jpg", cart.Lines[0].Image())

	stored, err := svc.GetCart(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Len(t, stored.Lines, 1)

	_, err = svc.ReplaceItems(context.Background(), ReplaceCartItemsCommand{
		UserID: "user-1",
		Items:  []CartItemInput{{ProductID: 2, Quantity: 1}},
	})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "is not available", verr.Fields["items[0].productId"])

	_, err = svc.ReplaceItems(context.Background(), ReplaceCartItemsCommand{
		UserID: "user-1",
		Items:  []CartItemInput{{ProductID: 99, Quantity: 1}},
	})
	require.ErrorIs(t, err, ErrCartInvalidInput)

	_, err = svc.ReplaceItems(context.Background(), ReplaceCartItemsCommand{
		UserID: "user-1",
		Items:  []CartItemInput{{ProductID: 1, Quantity: 0}},
	})
	require.ErrorIs(t, err, ErrCartInvalidInput)

	stored, err = svc.GetCart(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Len(t, stored.Lines, 1, "failed replacements leave the cart untouched")
}

func TestCartServiceEmptyCart(t *testing.T) {
	svc, err := NewCartService(CartServiceDeps{Store: memory.NewStore()})
	require.NoError(t, err)

	cart, err := svc.GetCart(context.Background(), "user-9")
	require.NoError(t, err)
	assert.NotNil(t, cart.Lines)
	assert.Empty(t, cart.Lines)

	_, err = svc.GetCart(context.Background(), " ")
	assert.ErrorIs(t, err, ErrCartInvalidInput)
}

func TestCartServiceRejectsUnstockedColour(t *testing.T) {
	store := memory.NewStore()
	store.PutProduct(domain.Product{ID: 1, Name: "Kurta", Price: 250, IsActive: true,
		Stock: domain.StockLevels{"red": 5, "blue": 5}})
	store.PutProduct(domain.Product{ID: 2, Name: "Scarf", Price: 90, IsActive: true,
		Stock: domain.NewStockLevels(3)})

	svc, err := NewCartService(CartServiceDeps{Store: store})
	require.NoError(t, err)

	tests := []struct {
		name  string
		color string
		want  string
	}{
		{name: "missing colour", color: "", want: "is required for this product"},
		{name: "unknown colour", color: "green", want: "is not offered for this product"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.ReplaceItems(context.Background(), ReplaceCartItemsCommand{
				UserID: "user-1",
				Items: []CartItemInput{
					{ProductID: 2, Quantity: 1, Color: "green"},
					{ProductID: 1, Quantity: 2, Color: tc.color},
				},
			})
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tc.want, verr.Fields["items[1].color"])
			assert.ErrorIs(t, err, ErrCartInvalidInput)
		})
	}

	cart, err := svc.ReplaceItems(context.Background(), ReplaceCartItemsCommand{
		UserID: "user-1",
		Items:  []CartItemInput{{ProductID: 1, Quantity: 2, Color: "Blue"}},
	})
	require.NoError(t, err)
	assert.Len(t, cart.Lines, 1)
}
