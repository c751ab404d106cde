package services

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	domain "github.com/orderline/api/internal/domain"
	"github.com/orderline/api/internal/repositories"
)

// CouponRedemption is a coupon accepted for an order together with its discount.
type CouponRedemption struct {
	Coupon   domain.Coupon
	Discount int64
}

// CouponRedeemer applies coupon codes inside the placement transaction and
// reverts them on cancellation.
type CouponRedeemer struct {
	now func() time.Time
}

func NewCouponRedeemer(clock func() time.Time) *CouponRedeemer {
	if clock == nil {
		clock = time.Now
	}
	return &CouponRedeemer{now: clock}
}

// Redeem resolves code for userID against the priced order. Unknown, inactive
// and out-of-window codes yield a nil redemption and no error. A coupon that
// exists but cannot be used fails with *CouponRejectedError. On success the
// coupon usage counter has been incremented through tx.
func (r *CouponRedeemer) Redeem(ctx context.Context, tx repositories.Tx, userID, code string, pricing domain.PricingBreakdown) (*CouponRedemption, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, nil
	}
	coupon, err := tx.FindCouponByCode(ctx, code)
	if err != nil {
		if repositories.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	if !coupon.ActiveAt(r.now()) {
		return nil, nil
	}

	if !coupon.AllowsUser(userID) {
		return nil, &CouponRejectedError{Code: coupon.Code, Reason: CouponReasonNotAllowed, Detail: "not available for this account"}
	}
	if coupon.UsageLimit != nil && coupon.UsedCount >= *coupon.UsageLimit {
		return nil, &CouponRejectedError{Code: coupon.Code, Reason: CouponReasonUsageLimit, Detail: "usage limit reached"}
	}
	if coupon.MinOrderAmount != nil && pricing.TotalPrice < *coupon.MinOrderAmount {
		return nil, &CouponRejectedError{
			Code:   coupon.Code,
			Reason: CouponReasonMinOrder,
			Detail: fmt.Sprintf("minimum order amount is %d", *coupon.MinOrderAmount),
		}
	}
	if coupon.IsSingleUse {
		row, err := tx.GetUserCoupon(ctx, userID, coupon.ID)
		switch {
		case err == nil && row.IsUsed:
			return nil, &CouponRejectedError{Code: coupon.Code, Reason: CouponReasonAlreadyUsed, Detail: "already used"}
		case err != nil && !repositories.IsNotFound(err):
			return nil, err
		}
	}

	if err := tx.AdjustCouponUsage(ctx, coupon.ID, 1); err != nil {
		if repositories.IsUsageLimit(err) {
			return nil, &CouponRejectedError{Code: coupon.Code, Reason: CouponReasonUsageLimit, Detail: "usage limit reached"}
		}
		return nil, err
	}
	coupon.UsedCount++

	return &CouponRedemption{Coupon: coupon, Discount: CouponDiscount(coupon, pricing)}, nil
}

// CouponDiscount computes the discount coupon grants on pricing. Percentage
// discounts are capped at MaxDiscount. Every discount is clamped to the amount
// payable so the final amount never drops below zero.
func CouponDiscount(coupon domain.Coupon, pricing domain.PricingBreakdown) int64 {
	var discount int64
	switch coupon.DiscountType {
	case domain.DiscountTypePercentage:
		discount = domain.PercentOf(pricing.TotalPrice, coupon.DiscountValue)
		if coupon.MaxDiscount != nil && discount > *coupon.MaxDiscount {
			discount = *coupon.MaxDiscount
		}
	default:
		discount = int64(math.Round(coupon.DiscountValue))
	}
	if discount < 0 {
		return 0
	}
	if payable := pricing.Payable(); discount > payable {
		return payable
	}
	return discount
}

// Record writes the redemption into the user's coupon ledger, reusing a row
// assigned earlier when one exists. The ledger keeps one row per user and
// coupon, so for reusable coupons the row points at the latest order.
func (r *CouponRedeemer) Record(ctx context.Context, tx repositories.Tx, userID, orderID string, redemption *CouponRedemption) error {
	if redemption == nil {
		return nil
	}
	now := r.now().UTC()
	row, err := tx.GetUserCoupon(ctx, userID, redemption.Coupon.ID)
	if err != nil {
		if !repositories.IsNotFound(err) {
			return err
		}
		row = domain.UserCoupon{
			UserID:     userID,
			CouponID:   redemption.Coupon.ID,
			Source:     domain.UserCouponSourceCheckout,
			AssignedAt: now,
		}
	}
	row.IsUsed = true
	row.UsedAt = &now
	row.OrderID = &orderID
	return tx.SaveUserCoupon(ctx, row)
}

// Revert undoes the redemption recorded for order and decrements the coupon
// usage counter. When the ledger row points at order it moves to the user's
// newest other live order holding the coupon, and returns to unused only when
// none is left. Missing coupons are skipped.
func (r *CouponRedeemer) Revert(ctx context.Context, tx repositories.Tx, order domain.Order) error {
	if order.CouponID == nil || *order.CouponID == "" {
		return nil
	}
	couponID := *order.CouponID

	row, err := tx.GetUserCoupon(ctx, order.UserID, couponID)
	switch {
	case err == nil:
		if row.OrderID == nil || *row.OrderID == order.ID {
			if err := r.releaseRow(ctx, tx, row, order.ID); err != nil {
				return err
			}
		}
	case !repositories.IsNotFound(err):
		return err
	}

	if err := tx.AdjustCouponUsage(ctx, couponID, -1); err != nil {
		if repositories.IsNotFound(err) || repositories.IsUsageLimit(err) {
			return nil
		}
		return err
	}
	return nil
}

func (r *CouponRedeemer) releaseRow(ctx context.Context, tx repositories.Tx, row domain.UserCoupon, orderID string) error {
	holder, err := tx.FindCouponOrder(ctx, row.UserID, row.CouponID, orderID)
	switch {
	case err == nil:
		usedAt := holder.CreatedAt
		row.IsUsed = true
		row.UsedAt = &usedAt
		row.OrderID = &holder.ID
	case repositories.IsNotFound(err):
		row.IsUsed = false
		row.UsedAt = nil
		row.OrderID = nil
	default:
		return err
	}
	if err := tx.SaveUserCoupon(ctx, row); err != nil && !repositories.IsNotFound(err) {
		return err
	}
	return nil
}
