package repositories

import (
	"context"
	"time"

	domain "github.com/orderline/api/internal/domain"
)

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// TxFunc is executed inside a store transaction. Returning an error rolls back every write.
type TxFunc func(ctx context.Context, tx Tx) error

// Store is the persistence boundary of the order engine. Every mutation runs
// through RunInTx so cart cleanup, stock, coupon usage and order rows commit
// or roll back together.
type Store interface {
	RunInTx(ctx context.Context, fn TxFunc) error

	GetCart(ctx context.Context, userID string) (domain.Cart, error)
	FindOrder(ctx context.Context, orderID string) (domain.Order, error)
	FindOrderByTrackingID(ctx context.Context, trackingID string) (domain.Order, error)
	ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
	ListUserCoupons(ctx context.Context, userID string) ([]domain.UserCouponView, error)

	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// Tx exposes the reads and writes available inside a transaction. Reads of
// products, coupons and orders lock the row until the transaction ends.
type Tx interface {
	GetCart(ctx context.Context, userID string) (domain.Cart, error)
	SaveCart(ctx context.Context, cart domain.Cart) error

	GetProduct(ctx context.Context, productID int64) (domain.Product, error)
	UpdateProductStock(ctx context.Context, productID int64, stock domain.StockLevels, availability bool) error

	GetCoupon(ctx context.Context, couponID string) (domain.Coupon, error)
	FindCouponByCode(ctx context.Context, code string) (domain.Coupon, error)
	InsertCoupon(ctx context.Context, coupon domain.Coupon) error
	// AdjustCouponUsage adds delta to usedCount atomically. It fails with a
	// conflict when the result would exceed the usage limit or drop below zero.
	AdjustCouponUsage(ctx context.Context, couponID string, delta int) error

	GetUserCoupon(ctx context.Context, userID, couponID string) (domain.UserCoupon, error)
	SaveUserCoupon(ctx context.Context, userCoupon domain.UserCoupon) error

	InsertOrder(ctx context.Context, order domain.Order) error
	GetOrder(ctx context.Context, orderID string) (domain.Order, error)
	UpdateOrder(ctx context.Context, order domain.Order) error
	// FindCouponOrder returns the newest order of userID, other than
	// excludeOrderID, that applied couponID and is not cancelled.
	FindCouponOrder(ctx context.Context, userID, couponID, excludeOrderID string) (domain.Order, error)
}

// OrderListFilter narrows order listings. An empty UserID lists every order.
type OrderListFilter struct {
	UserID     string
	Status     []domain.OrderStatus
	DateRange  domain.RangeQuery[time.Time]
	Pagination domain.Pagination
}

// HealthRepository exposes dependency health data for readiness checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
