package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	domain "github.com/orderline/api/internal/domain"
	"github.com/orderline/api/internal/repositories"
)

type tx struct {
	tx  *sql.Tx
	now func() time.Time
}

var _ repositories.Tx = (*tx)(nil)

func (t *tx) GetCart(ctx context.Context, userID string) (domain.Cart, error) {
	return scanCart(t.tx.QueryRowContext(ctx, selectCart+` WHERE user_id = $1 FOR UPDATE`, userID))
}

func (t *tx) SaveCart(ctx context.Context, cart domain.Cart) error {
	lines := cart.Lines
	if lines == nil {
		lines = []domain.CartLine{}
	}
	items, err := json.Marshal(lines)
	if err != nil {
		return fmt.Errorf("postgres: encode cart items: %w", err)
	}
	_, err = t.tx.ExecContext(ctx, `INSERT INTO carts (user_id, items, total_amount, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO UPDATE SET items = EXCLUDED.items, total_amount = EXCLUDED.total_amount, updated_at = EXCLUDED.updated_at`,
		cart.UserID, items, cart.TotalAmount, t.now().UTC())
	return mapError("postgres.saveCart", err)
}

func (t *tx) GetProduct(ctx context.Context, productID int64) (domain.Product, error) {
	return scanProduct(t.tx.QueryRowContext(ctx, selectProduct+` WHERE id = $1 FOR UPDATE`, productID))
}

func (t *tx) UpdateProductStock(ctx context.Context, productID int64, stock domain.StockLevels, availability bool) error {
	encoded, err := json.Marshal(stock)
	if err != nil {
		return fmt.Errorf("postgres: encode stock: %w", err)
	}
	res, err := t.tx.ExecContext(ctx, `UPDATE products SET stock = $2, availability = $3, updated_at = $4 WHERE id = $1`,
		productID, encoded, availability, t.now().UTC())
	if err != nil {
		return mapError("postgres.updateProductStock", err)
	}
	return requireRow(res, "postgres.updateProductStock", fmt.Sprintf("product %d not found", productID))
}

func (t *tx) GetCoupon(ctx context.Context, couponID string) (domain.Coupon, error) {
	return scanCoupon(t.tx.QueryRowContext(ctx, `SELECT `+couponColumns("")+` FROM coupons WHERE id = $1 FOR UPDATE`, couponID))
}

func (t *tx) FindCouponByCode(ctx context.Context, code string) (domain.Coupon, error) {
	return scanCoupon(t.tx.QueryRowContext(ctx, `SELECT `+couponColumns("")+` FROM coupons WHERE code = $1 FOR UPDATE`,
		repositories.NormalizeCouponCode(code)))
}

func (t *tx) InsertCoupon(ctx context.Context, coupon domain.Coupon) error {
	userIDs := coupon.UserIDs
	if userIDs == nil {
		userIDs = []string{}
	}
	_, err := t.tx.ExecContext(ctx, `INSERT INTO coupons (`+couponColumns("")+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		coupon.ID, repositories.NormalizeCouponCode(coupon.Code), coupon.Description, string(coupon.DiscountType),
		coupon.DiscountValue, int64OrNil(coupon.MinOrderAmount), int64OrNil(coupon.MaxDiscount),
		coupon.ValidFrom.UTC(), coupon.ValidUntil.UTC(), intOrNil(coupon.UsageLimit), coupon.UsedCount,
		coupon.IsSingleUse, coupon.IsActive, pq.Array(userIDs), coupon.CreatedAt.UTC(), coupon.UpdatedAt.UTC())
	return mapError("postgres.insertCoupon", err)
}

// AdjustCouponUsage moves used_count by delta only while it stays within [0, usage_limit].
func (t *tx) AdjustCouponUsage(ctx context.Context, couponID string, delta int) error {
	res, err := t.tx.ExecContext(ctx, `UPDATE coupons SET used_count = used_count + $2, updated_at = $3
		WHERE id = $1 AND used_count + $2 >= 0 AND (usage_limit IS NULL OR used_count + $2 <= usage_limit)`,
		couponID, delta, t.now().UTC())
	if err != nil {
		return mapError("postgres.adjustCouponUsage", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return mapError("postgres.adjustCouponUsage", err)
	}
	if affected > 0 {
		return nil
	}
	var exists bool
	if err := t.tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM coupons WHERE id = $1)`, couponID).Scan(&exists); err != nil {
		return mapError("postgres.adjustCouponUsage", err)
	}
	if !exists {
		return repositories.NotFound("postgres.adjustCouponUsage", fmt.Sprintf("coupon %s not found", couponID))
	}
	return repositories.NewStoreError("postgres.adjustCouponUsage", repositories.ErrorUsageLimit,
		fmt.Sprintf("coupon %s usage out of bounds", couponID), nil)
}

func (t *tx) GetUserCoupon(ctx context.Context, userID, couponID string) (domain.UserCoupon, error) {
	var row userCouponRow
	err := t.tx.QueryRowContext(ctx, `SELECT `+userCouponColumns("")+` FROM user_coupons
		WHERE user_id = $1 AND coupon_id = $2 FOR UPDATE`, userID, couponID).Scan(row.dest()...)
	if err != nil {
		return domain.UserCoupon{}, mapError("postgres.getUserCoupon", err)
	}
	return row.domain(), nil
}

func (t *tx) SaveUserCoupon(ctx context.Context, row domain.UserCoupon) error {
	assignedAt := row.AssignedAt
	if assignedAt.IsZero() {
		assignedAt = t.now()
	}
	_, err := t.tx.ExecContext(ctx, `INSERT INTO user_coupons (`+userCouponColumns("")+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id, coupon_id) DO UPDATE SET is_used = EXCLUDED.is_used, used_at = EXCLUDED.used_at,
			order_id = EXCLUDED.order_id`,
		row.UserID, row.CouponID, row.IsUsed, timeOrNil(row.UsedAt), stringOrNil(row.OrderID), row.Source, assignedAt.UTC())
	if err != nil {
		mapped := mapError("postgres.saveUserCoupon", err)
		if repositories.IsConflict(mapped) {
			// the only foreign key on user_coupons is the coupon
			return repositories.NotFound("postgres.saveUserCoupon", fmt.Sprintf("coupon %s not found", row.CouponID))
		}
		return mapped
	}
	return nil
}

func (t *tx) InsertOrder(ctx context.Context, order domain.Order) error {
	args, err := orderArgs(order)
	if err != nil {
		return err
	}
	_, err = t.tx.ExecContext(ctx, `INSERT INTO orders (`+orderColumnList+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20,
			$21, $22, $23, $24, $25)`, args...)
	return mapError("postgres.insertOrder", err)
}

func (t *tx) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	return scanOrder(t.tx.QueryRowContext(ctx, selectOrder+` WHERE id = $1 FOR UPDATE`, orderID))
}

func (t *tx) UpdateOrder(ctx context.Context, order domain.Order) error {
	res, err := t.tx.ExecContext(ctx, `UPDATE orders SET payment_status = $2, order_status = $3, tracking_id = $4,
		notes = $5, cancel_reason = $6, updated_at = $7, shipped_at = $8, delivered_at = $9, cancelled_at = $10
		WHERE id = $1`,
		order.ID, string(order.PaymentStatus), string(order.Status), stringOrNil(order.TrackingID), order.Notes,
		order.CancelReason, order.UpdatedAt.UTC(), timeOrNil(order.ShippedAt), timeOrNil(order.DeliveredAt),
		timeOrNil(order.CancelledAt))
	if err != nil {
		return mapError("postgres.updateOrder", err)
	}
	return requireRow(res, "postgres.updateOrder", fmt.Sprintf("order %s not found", order.ID))
}

func (t *tx) FindCouponOrder(ctx context.Context, userID, couponID, excludeOrderID string) (domain.Order, error) {
	return scanOrder(t.tx.QueryRowContext(ctx, selectOrder+` WHERE user_id = $1 AND coupon_id = $2 AND id <> $3
		AND order_status <> $4 ORDER BY created_at DESC, id DESC LIMIT 1 FOR UPDATE`,
		userID, couponID, excludeOrderID, string(domain.OrderStatusCancelled)))
}

func orderArgs(order domain.Order) ([]any, error) {
	items, err := encodeItems(order.Items)
	if err != nil {
		return nil, fmt.Errorf("postgres: encode order items: %w", err)
	}
	shipping, err := encodeAddress(order.ShippingAddress)
	if err != nil {
		return nil, fmt.Errorf("postgres: encode shipping address: %w", err)
	}
	billing, err := encodeAddress(order.BillingAddress)
	if err != nil {
		return nil, fmt.Errorf("postgres: encode billing address: %w", err)
	}
	return []any{
		order.ID, order.OrderNumber, order.UserID, items, shipping, billing, string(order.PaymentMethod),
		string(order.PaymentStatus), string(order.Status), order.Currency, order.TotalPrice, order.ShippingCost,
		order.TaxAmount, order.DiscountAmount, order.FinalAmount, stringOrNil(order.TrackingID),
		stringOrNil(order.CouponID), stringOrNil(order.CouponCode), order.Notes, order.CancelReason,
		order.CreatedAt.UTC(), order.UpdatedAt.UTC(), timeOrNil(order.ShippedAt), timeOrNil(order.DeliveredAt),
		timeOrNil(order.CancelledAt),
	}, nil
}

func requireRow(res sql.Result, op, message string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return mapError(op, err)
	}
	if affected == 0 {
		return repositories.NotFound(op, message)
	}
	return nil
}
