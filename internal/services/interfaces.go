package services

import (
	"context"
	"time"

	domain "github.com/orderline/api/internal/domain"
	"github.com/orderline/api/internal/repositories"
)

type (
	Order              = domain.Order
	OrderItem          = domain.OrderItem
	OrderStatus        = domain.OrderStatus
	OrderTracking      = domain.OrderTracking
	PaymentMethod      = domain.PaymentMethod
	PaymentStatus      = domain.PaymentStatus
	Address            = domain.Address
	Cart               = domain.Cart
	CartLine           = domain.CartLine
	Product            = domain.Product
	Coupon             = domain.Coupon
	DiscountType       = domain.DiscountType
	UserCoupon         = domain.UserCoupon
	UserCouponView     = domain.UserCouponView
	PricingBreakdown   = domain.PricingBreakdown
	SystemHealthReport = domain.SystemHealthReport
	OrderListFilter    = repositories.OrderListFilter
)

// OrderService places orders and drives them through their lifecycle.
type OrderService interface {
	PlaceOrder(ctx context.Context, cmd PlaceOrderCommand) (Order, error)
	TransitionStatus(ctx context.Context, cmd TransitionOrderStatusCommand) (Order, error)
	TrackOrder(ctx context.Context, trackingID string) (OrderTracking, error)
	GetOrder(ctx context.Context, cmd GetOrderCommand) (Order, error)
	ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error)
}

// PlaceOrderCommand carries checkout input for the authenticated customer.
type PlaceOrderCommand struct {
	UserID          string
	ShippingAddress Address
	BillingAddress  *Address
	PaymentMethod   PaymentMethod
	CouponCode      string
	Notes           string
}

// TransitionOrderStatusCommand requests a lifecycle change. Non-admin actors
// may only cancel their own orders.
type TransitionOrderStatusCommand struct {
	OrderID      string
	Status       OrderStatus
	ActorID      string
	ActorIsAdmin bool
	Reason       string
}

// GetOrderCommand identifies an order read on behalf of an actor.
type GetOrderCommand struct {
	OrderID      string
	ActorID      string
	ActorIsAdmin bool
}

// CartService maintains the customer's cart ahead of checkout.
type CartService interface {
	GetCart(ctx context.Context, userID string) (Cart, error)
	ReplaceItems(ctx context.Context, cmd ReplaceCartItemsCommand) (Cart, error)
}

// ReplaceCartItemsCommand overwrites the cart item list.
type ReplaceCartItemsCommand struct {
	UserID string
	Items  []CartItemInput
}

// CartItemInput is one requested cart line.
type CartItemInput struct {
	ProductID int64
	Quantity  int
	Color     string
}

// CouponService administers coupons and the per-user coupon wallet.
type CouponService interface {
	CreateCoupon(ctx context.Context, cmd CreateCouponCommand) (Coupon, error)
	AssignCoupon(ctx context.Context, cmd AssignCouponCommand) ([]UserCoupon, error)
	ListUserCoupons(ctx context.Context, userID string) ([]UserCouponView, error)
}

// CreateCouponCommand describes a new coupon.
type CreateCouponCommand struct {
	Code           string
	Description    string
	DiscountType   DiscountType
	DiscountValue  float64
	MinOrderAmount *int64
	MaxDiscount    *int64
	ValidFrom      time.Time
	ValidUntil     time.Time
	UsageLimit     *int
	IsSingleUse    bool
	IsActive       bool
	UserIDs        []string
}

// AssignCouponCommand places a coupon in the wallets of the given users.
type AssignCouponCommand struct {
	CouponID string
	UserIDs  []string
	Source   string
}

// SystemService reports service health.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// Notifier hands customer notifications to the delivery channel. Calls are
// fire-and-forget from the order's point of view.
type Notifier interface {
	NotifyShipped(ctx context.Context, phone, orderNumber, trackingID string) error
	NotifyDelivered(ctx context.Context, phone, orderNumber string) error
}

// OrderEventPublisher publishes order domain events for downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// OrderEvent captures metadata for emitted order domain events.
type OrderEvent struct {
	Type           string
	OrderID        string
	OrderNumber    string
	UserID         string
	PreviousStatus string
	CurrentStatus  string
	FinalAmount    int64
	Currency       string
	ActorID        string
	OccurredAt     time.Time
}

// TrackingCache is a read-through cache for public tracking lookups.
type TrackingCache interface {
	Get(ctx context.Context, trackingID string, load func(context.Context) (OrderTracking, error)) (OrderTracking, error)
	Invalidate(ctx context.Context, trackingID string) error
}

// TextSanitizer strips markup from free text supplied by customers.
type TextSanitizer interface {
	Sanitize(input string) string
}

// OrderMetrics records order throughput.
type OrderMetrics interface {
	OrderPlaced(ctx context.Context, order Order)
	StatusChanged(ctx context.Context, from, to OrderStatus)
	NotificationFailed(ctx context.Context, kind string)
}
