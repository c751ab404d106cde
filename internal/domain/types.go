package domain

import (
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// RangeQuery represents inclusive range filters for numeric or timestamp fields.
type RangeQuery[T comparable] struct {
	From *T
	To   *T
}

// CursorPage wraps a page of items with the token for the next page.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// OrderStatus enumerates the lifecycle states of an order.
type OrderStatus string

const (
	// OrderStatusPending is the initial state after placement.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusProcessing indicates the order is being prepared.
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusShipped indicates the parcel left the warehouse and carries a tracking id.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusDelivered is the terminal success state.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancelled is the terminal withdrawal state.
	OrderStatusCancelled OrderStatus = "cancelled"
)

// IsTerminal reports whether no further transition may leave the status.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}

// PaymentStatus tracks the settlement state recorded on an order.
type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "pending"
	PaymentStatusPaid     PaymentStatus = "paid"
	PaymentStatusFailed   PaymentStatus = "failed"
	PaymentStatusRefunded PaymentStatus = "refunded"
)

// PaymentMethod identifies how the customer intends to pay.
type PaymentMethod string

const (
	PaymentMethodCOD        PaymentMethod = "cod"
	PaymentMethodCard       PaymentMethod = "card"
	PaymentMethodUPI        PaymentMethod = "upi"
	PaymentMethodNetBanking PaymentMethod = "netbanking"
	PaymentMethodWallet     PaymentMethod = "wallet"
)

// Address captures a postal address along with the contact phone used for delivery updates.
type Address struct {
	FullName   string
	Phone      string
	Line1      string
	Line2      string
	City       string
	State      string
	PostalCode string
	Country    string
}

// IsZero reports whether no address field was provided.
func (a Address) IsZero() bool {
	return a == Address{}
}

// ProductVariant describes a colour option and its imagery.
type ProductVariant struct {
	Name      string
	MainImage string
	Images    []string
}

// Product is the catalog view consumed by the order engine. Only Stock and
// Availability are written by this service.
type Product struct {
	ID            int64
	Name          string
	Code          string
	Price         int64
	DiscountPrice *int64
	TaxPercent    float64
	Stock         StockLevels
	Availability  bool
	IsActive      bool
	Variants      []ProductVariant
	Images        []string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// UnitPrice returns the discounted price when present, otherwise the list price.
func (p Product) UnitPrice() int64 {
	if p.DiscountPrice != nil {
		return *p.DiscountPrice
	}
	return p.Price
}

// Cart is the persisted, mutable shopping cart. Lines keep the stored shape so
// malformed entries can be detected and removed before ordering.
type Cart struct {
	UserID      string
	Lines       []CartLine
	TotalAmount int64
	UpdatedAt   time.Time
}

// DiscountType enumerates coupon discount calculations.
type DiscountType string

const (
	DiscountTypePercentage DiscountType = "percentage"
	DiscountTypeFixed      DiscountType = "fixed"
)

// Coupon describes a redeemable discount code. DiscountValue holds percentage
// points for percentage coupons and an amount in minor units for fixed coupons.
type Coupon struct {
	ID             string
	Code           string
	Description    string
	DiscountType   DiscountType
	DiscountValue  float64
	MinOrderAmount *int64
	MaxDiscount    *int64
	ValidFrom      time.Time
	ValidUntil     time.Time
	UsageLimit     *int
	UsedCount      int
	IsSingleUse    bool
	IsActive       bool
	UserIDs        []string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ActiveAt reports whether the coupon is enabled and inside its validity window.
func (c Coupon) ActiveAt(now time.Time) bool {
	if !c.IsActive {
		return false
	}
	if !c.ValidFrom.IsZero() && now.Before(c.ValidFrom) {
		return false
	}
	if !c.ValidUntil.IsZero() && now.After(c.ValidUntil) {
		return false
	}
	return true
}

// AllowsUser reports whether the coupon is open to the given user.
func (c Coupon) AllowsUser(userID string) bool {
	if len(c.UserIDs) == 0 {
		return true
	}
	for _, id := range c.UserIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// UserCoupon source values.
const (
	UserCouponSourceWelcome   = "welcome"
	UserCouponSourceBirthday  = "birthday"
	UserCouponSourceBroadcast = "broadcast"
	UserCouponSourceCheckout  = "checkout"
)

// UserCoupon is the redemption ledger row linking a user, a coupon and the order that used it.
type UserCoupon struct {
	UserID     string
	CouponID   string
	IsUsed     bool
	UsedAt     *time.Time
	OrderID    *string
	Source     string
	AssignedAt time.Time
}

// UserCouponView joins a ledger row with its coupon for wallet listings.
type UserCouponView struct {
	UserCoupon
	Coupon Coupon
}

// OrderItem is a point-in-time copy of the purchased product line.
type OrderItem struct {
	ProductID int64
	Name      string
	Code      string
	Price     int64
	Quantity  int
	ColorName string
	Total     int64
	Tax       int64
	Image     string
}

// Order is the immutable financial record produced by checkout.
type Order struct {
	ID              string
	OrderNumber     string
	UserID          string
	Items           []OrderItem
	ShippingAddress Address
	BillingAddress  Address
	PaymentMethod   PaymentMethod
	PaymentStatus   PaymentStatus
	Status          OrderStatus
	Currency        string
	TotalPrice      int64
	ShippingCost    int64
	TaxAmount       int64
	DiscountAmount  int64
	FinalAmount     int64
	TrackingID      *string
	CouponID        *string
	CouponCode      *string
	Notes           string
	CancelReason    string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	ShippedAt       *time.Time
	DeliveredAt     *time.Time
	CancelledAt     *time.Time
}

// RecomputeFinalAmount derives FinalAmount from the component totals.
func (o *Order) RecomputeFinalAmount() {
	o.FinalAmount = o.TotalPrice + o.ShippingCost + o.TaxAmount - o.DiscountAmount
}

// OrderTracking is the public projection returned for tracking lookups.
type OrderTracking struct {
	TrackingID      string
	OrderNumber     string
	Status          OrderStatus
	ShippingAddress Address
	LastUpdated     time.Time
}

const (
	// HealthStatusOK indicates all dependencies are healthy.
	HealthStatusOK = "ok"
	// HealthStatusDegraded indicates at least one dependency is degraded but service remains running.
	HealthStatusDegraded = "degraded"
	// HealthStatusError indicates the service or a critical dependency is unavailable.
	HealthStatusError = "error"
)

// SystemHealthCheck describes the outcome of an individual dependency probe.
type SystemHealthCheck struct {
	Status    string
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency status for health endpoints.
type SystemHealthReport struct {
	Status      string
	Checks      map[string]SystemHealthCheck
	Version     string
	CommitSHA   string
	Environment string
	Uptime      time.Duration
	GeneratedAt time.Time
}
