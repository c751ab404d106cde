package memory

import (
	"context"
	"fmt"
	"time"

	domain "github.com/orderline/api/internal/domain"
	"github.com/orderline/api/internal/repositories"
)

type tx struct {
	state *state
	now   func() time.Time
}

var _ repositories.Tx = (*tx)(nil)

func (t *tx) GetCart(_ context.Context, userID string) (domain.Cart, error) {
	cart, ok := t.state.carts[userID]
	if !ok {
		return domain.Cart{}, repositories.NotFound("memory.getCart", fmt.Sprintf("cart for user %s not found", userID))
	}
	return cart.Clone(), nil
}

func (t *tx) SaveCart(_ context.Context, cart domain.Cart) error {
	cart.UpdatedAt = t.now().UTC()
	t.state.carts[cart.UserID] = cart.Clone()
	return nil
}

func (t *tx) GetProduct(_ context.Context, productID int64) (domain.Product, error) {
	product, ok := t.state.products[productID]
	if !ok {
		return domain.Product{}, repositories.NotFound("memory.getProduct", fmt.Sprintf("product %d not found", productID))
	}
	return product.Clone(), nil
}

func (t *tx) UpdateProductStock(_ context.Context, productID int64, stock domain.StockLevels, availability bool) error {
	product, ok := t.state.products[productID]
	if !ok {
		return repositories.NotFound("memory.updateProductStock", fmt.Sprintf("product %d not found", productID))
	}
	product.Stock = stock.Clone()
	product.Availability = availability
	product.UpdatedAt = t.now().UTC()
	t.state.products[productID] = product
	return nil
}

func (t *tx) GetCoupon(_ context.Context, couponID string) (domain.Coupon, error) {
	coupon, ok := t.state.coupons[couponID]
	if !ok {
		return domain.Coupon{}, repositories.NotFound("memory.getCoupon", fmt.Sprintf("coupon %s not found", couponID))
	}
	return coupon.Clone(), nil
}

func (t *tx) FindCouponByCode(_ context.Context, code string) (domain.Coupon, error) {
	id, ok := t.state.couponCodes[repositories.NormalizeCouponCode(code)]
	if !ok {
		return domain.Coupon{}, repositories.NotFound("memory.findCouponByCode", "coupon not found")
	}
	return t.state.coupons[id].Clone(), nil
}

func (t *tx) InsertCoupon(_ context.Context, coupon domain.Coupon) error {
	code := repositories.NormalizeCouponCode(coupon.Code)
	if _, exists := t.state.couponCodes[code]; exists {
		return repositories.Conflict("memory.insertCoupon", fmt.Sprintf("coupon code %s already exists", code), nil)
	}
	if _, exists := t.state.coupons[coupon.ID]; exists {
		return repositories.Conflict("memory.insertCoupon", fmt.Sprintf("coupon %s already exists", coupon.ID), nil)
	}
	t.state.coupons[coupon.ID] = coupon.Clone()
	t.state.couponCodes[code] = coupon.ID
	return nil
}

func (t *tx) AdjustCouponUsage(_ context.Context, couponID string, delta int) error {
	coupon, ok := t.state.coupons[couponID]
	if !ok {
		return repositories.NotFound("memory.adjustCouponUsage", fmt.Sprintf("coupon %s not found", couponID))
	}
	next := coupon.UsedCount + delta
	if next < 0 || (coupon.UsageLimit != nil && next > *coupon.UsageLimit) {
		return repositories.NewStoreError("memory.adjustCouponUsage", repositories.ErrorUsageLimit,
			fmt.Sprintf("coupon %s usage %d out of bounds", couponID, next), nil)
	}
	coupon.UsedCount = next
	coupon.UpdatedAt = t.now().UTC()
	t.state.coupons[couponID] = coupon
	return nil
}

func (t *tx) GetUserCoupon(_ context.Context, userID, couponID string) (domain.UserCoupon, error) {
	row, ok := t.state.userCoupons[userCouponKey(userID, couponID)]
	if !ok {
		return domain.UserCoupon{}, repositories.NotFound("memory.getUserCoupon", "user coupon not found")
	}
	return row.Clone(), nil
}

func (t *tx) SaveUserCoupon(_ context.Context, row domain.UserCoupon) error {
	if _, ok := t.state.coupons[row.CouponID]; !ok {
		return repositories.NotFound("memory.saveUserCoupon", fmt.Sprintf("coupon %s not found", row.CouponID))
	}
	t.state.userCoupons[userCouponKey(row.UserID, row.CouponID)] = row.Clone()
	return nil
}

func (t *tx) InsertOrder(_ context.Context, order domain.Order) error {
	if _, exists := t.state.orders[order.ID]; exists {
		return repositories.Conflict("memory.insertOrder", fmt.Sprintf("order %s already exists", order.ID), nil)
	}
	if _, exists := t.state.orderNumbers[order.OrderNumber]; exists {
		return repositories.Conflict("memory.insertOrder", fmt.Sprintf("order number %s already exists", order.OrderNumber), nil)
	}
	if err := t.claimTrackingID(order); err != nil {
		return err
	}
	t.state.orders[order.ID] = order.Clone()
	t.state.orderNumbers[order.OrderNumber] = order.ID
	return nil
}

func (t *tx) GetOrder(_ context.Context, orderID string) (domain.Order, error) {
	order, ok := t.state.orders[orderID]
	if !ok {
		return domain.Order{}, repositories.NotFound("memory.getOrder", fmt.Sprintf("order %s not found", orderID))
	}
	return order.Clone(), nil
}

func (t *tx) UpdateOrder(_ context.Context, order domain.Order) error {
	if _, ok := t.state.orders[order.ID]; !ok {
		return repositories.NotFound("memory.updateOrder", fmt.Sprintf("order %s not found", order.ID))
	}
	if err := t.claimTrackingID(order); err != nil {
		return err
	}
	t.state.orders[order.ID] = order.Clone()
	return nil
}

func (t *tx) FindCouponOrder(_ context.Context, userID, couponID, excludeOrderID string) (domain.Order, error) {
	var found *domain.Order
	for id, order := range t.state.orders {
		if id == excludeOrderID || order.UserID != userID || order.Status == domain.OrderStatusCancelled {
			continue
		}
		if order.CouponID == nil || *order.CouponID != couponID {
			continue
		}
		if found == nil || order.CreatedAt.After(found.CreatedAt) ||
			(order.CreatedAt.Equal(found.CreatedAt) && order.ID > found.ID) {
			candidate := order
			found = &candidate
		}
	}
	if found == nil {
		return domain.Order{}, repositories.NotFound("memory.findCouponOrder", fmt.Sprintf("no active order holds coupon %s", couponID))
	}
	return found.Clone(), nil
}

func (t *tx) claimTrackingID(order domain.Order) error {
	if order.TrackingID == nil || *order.TrackingID == "" {
		return nil
	}
	if owner, exists := t.state.trackingIDs[*order.TrackingID]; exists && owner != order.ID {
		return repositories.Conflict("memory.trackingID", fmt.Sprintf("tracking id %s already assigned", *order.TrackingID), nil)
	}
	t.state.trackingIDs[*order.TrackingID] = order.ID
	return nil
}
