package services

import (
	"context"
	"errors"
	"time"

	domain "github.com/orderline/api/internal/domain"
	"github.com/orderline/api/internal/repositories"
)

// errOrderNumberTaken means the generated order number collided and the
// placement may be retried with a fresh one.
var errOrderNumberTaken = errors.New("order: order number already taken")

// OrderDraft is everything the writer needs to persist a new order.
type OrderDraft struct {
	UserID          string
	Items           []ValidatedItem
	Pricing         domain.PricingBreakdown
	Redemption      *CouponRedemption
	ShippingAddress domain.Address
	BillingAddress  domain.Address
	PaymentMethod   domain.PaymentMethod
	Notes           string
}

// OrderWriter inserts the order row and clears the cart it came from.
type OrderWriter struct {
	now       func() time.Time
	newID     func() string
	newNumber func(time.Time) string
}

func NewOrderWriter(clock func() time.Time, newID func() string, newNumber func(time.Time) string) *OrderWriter {
	if clock == nil {
		clock = time.Now
	}
	if newID == nil {
		newID = newULID
	}
	if newNumber == nil {
		newNumber = OrderNumberGenerator("")
	}
	return &OrderWriter{now: clock, newID: newID, newNumber: newNumber}
}

// Write builds the order from draft and inserts it with pending order and
// payment status, then empties the user's cart within the same transaction.
func (w *OrderWriter) Write(ctx context.Context, tx repositories.Tx, draft OrderDraft) (domain.Order, error) {
	now := w.now().UTC()
	order := domain.Order{
		ID:              w.newID(),
		OrderNumber:     w.newNumber(now),
		UserID:          draft.UserID,
		Items:           orderItems(draft.Items, draft.Pricing),
		ShippingAddress: draft.ShippingAddress,
		BillingAddress:  draft.BillingAddress,
		PaymentMethod:   draft.PaymentMethod,
		PaymentStatus:   domain.PaymentStatusPending,
		Status:          domain.OrderStatusPending,
		Currency:        draft.Pricing.Currency,
		TotalPrice:      draft.Pricing.TotalPrice,
		ShippingCost:    draft.Pricing.ShippingCost,
		TaxAmount:       draft.Pricing.TaxAmount,
		Notes:           draft.Notes,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if draft.Redemption != nil {
		couponID := draft.Redemption.Coupon.ID
		couponCode := draft.Redemption.Coupon.Code
		order.CouponID = &couponID
		order.CouponCode = &couponCode
		order.DiscountAmount = draft.Redemption.Discount
	}
	order.RecomputeFinalAmount()
	if order.FinalAmount < 0 {
		order.FinalAmount = 0
	}

	if err := tx.InsertOrder(ctx, order); err != nil {
		if repositories.IsConflict(err) {
			return domain.Order{}, errOrderNumberTaken
		}
		return domain.Order{}, err
	}

	cleared := domain.Cart{UserID: draft.UserID, Lines: []domain.CartLine{}, UpdatedAt: now}
	if err := tx.SaveCart(ctx, cleared); err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

func orderItems(items []ValidatedItem, pricing domain.PricingBreakdown) []domain.OrderItem {
	out := make([]domain.OrderItem, 0, len(items))
	for i, item := range items {
		line := domain.ItemPricingBreakdown{UnitPrice: item.Product.UnitPrice(), Quantity: item.Quantity}
		if i < len(pricing.Items) {
			line = pricing.Items[i]
		}
		out = append(out, domain.OrderItem{
			ProductID: item.ProductID,
			Name:      item.Product.Name,
			Code:      item.Product.Code,
			Price:     line.UnitPrice,
			Quantity:  item.Quantity,
			ColorName: item.Color,
			Total:     line.LineTotal,
			Tax:       line.LineTax,
			Image:     line.Image,
		})
	}
	return out
}
