package handlers

import (
	"time"

	domain "github.com/orderline/api/internal/domain"
	"github.com/orderline/api/internal/services"
)

type addressPayload struct {
	FullName   string `json:"fullName"`
	Phone      string `json:"phone"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
}

func (p addressPayload) toDomain() services.Address {
	return services.Address{
		FullName:   p.FullName,
		Phone:      p.Phone,
		Line1:      p.Line1,
		Line2:      p.Line2,
		City:       p.City,
		State:      p.State,
		PostalCode: p.PostalCode,
		Country:    p.Country,
	}
}

func newAddressPayload(a services.Address) addressPayload {
	return addressPayload{
		FullName:   a.FullName,
		Phone:      a.Phone,
		Line1:      a.Line1,
		Line2:      a.Line2,
		City:       a.City,
		State:      a.State,
		PostalCode: a.PostalCode,
		Country:    a.Country,
	}
}

type orderItemPayload struct {
	ProductID int64  `json:"productId"`
	Name      string `json:"name"`
	Code      string `json:"code,omitempty"`
	Price     int64  `json:"price"`
	Quantity  int    `json:"quantity"`
	Color     string `json:"color,omitempty"`
	Total     int64  `json:"total"`
	Tax       int64  `json:"tax"`
	Image     string `json:"image,omitempty"`
}

type orderPayload struct {
	ID              string             `json:"id"`
	OrderNumber     string             `json:"orderNumber"`
	UserID          string             `json:"userId"`
	Status          string             `json:"orderStatus"`
	PaymentMethod   string             `json:"paymentMethod"`
	PaymentStatus   string             `json:"paymentStatus"`
	Currency        string             `json:"currency"`
	Items           []orderItemPayload `json:"items"`
	ShippingAddress addressPayload     `json:"shippingAddress"`
	BillingAddress  addressPayload     `json:"billingAddress"`
	TotalPrice      int64              `json:"totalPrice"`
	ShippingCost    int64              `json:"shippingCost"`
	TaxAmount       int64              `json:"taxAmount"`
	DiscountAmount  int64              `json:"discountAmount"`
	FinalAmount     int64              `json:"finalAmount"`
	TrackingID      string             `json:"trackingId,omitempty"`
	CouponCode      string             `json:"couponCode,omitempty"`
	Notes           string             `json:"notes,omitempty"`
	CancelReason    string             `json:"cancelReason,omitempty"`
	CreatedAt       time.Time          `json:"createdAt"`
	UpdatedAt       time.Time          `json:"updatedAt"`
	ShippedAt       *time.Time         `json:"shippedAt,omitempty"`
	DeliveredAt     *time.Time         `json:"deliveredAt,omitempty"`
	CancelledAt     *time.Time         `json:"cancelledAt,omitempty"`
}

func newOrderPayload(order services.Order) orderPayload {
	items := make([]orderItemPayload, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemPayload{
			ProductID: item.ProductID,
			Name:      item.Name,
			Code:      item.Code,
			Price:     item.Price,
			Quantity:  item.Quantity,
			Color:     item.ColorName,
			Total:     item.Total,
			Tax:       item.Tax,
			Image:     item.Image,
		})
	}
	return orderPayload{
		ID:              order.ID,
		OrderNumber:     order.OrderNumber,
		UserID:          order.UserID,
		Status:          string(order.Status),
		PaymentMethod:   string(order.PaymentMethod),
		PaymentStatus:   string(order.PaymentStatus),
		Currency:        order.Currency,
		Items:           items,
		ShippingAddress: newAddressPayload(order.ShippingAddress),
		BillingAddress:  newAddressPayload(order.BillingAddress),
		TotalPrice:      order.TotalPrice,
		ShippingCost:    order.ShippingCost,
		TaxAmount:       order.TaxAmount,
		DiscountAmount:  order.DiscountAmount,
		FinalAmount:     order.FinalAmount,
		TrackingID:      deref(order.TrackingID),
		CouponCode:      deref(order.CouponCode),
		Notes:           order.Notes,
		CancelReason:    order.CancelReason,
		CreatedAt:       order.CreatedAt,
		UpdatedAt:       order.UpdatedAt,
		ShippedAt:       order.ShippedAt,
		DeliveredAt:     order.DeliveredAt,
		CancelledAt:     order.CancelledAt,
	}
}

type orderListPayload struct {
	Items         []orderPayload `json:"items"`
	NextPageToken string         `json:"nextPageToken,omitempty"`
}

func newOrderListPayload(page domain.CursorPage[services.Order]) orderListPayload {
	items := make([]orderPayload, 0, len(page.Items))
	for _, order := range page.Items {
		items = append(items, newOrderPayload(order))
	}
	return orderListPayload{Items: items, NextPageToken: page.NextPageToken}
}

type trackingPayload struct {
	TrackingID      string         `json:"trackingId"`
	OrderNumber     string         `json:"orderNumber"`
	Status          string         `json:"orderStatus"`
	ShippingAddress addressPayload `json:"shippingAddress"`
	LastUpdated     time.Time      `json:"lastUpdated"`
}

type cartLinePayload struct {
	ProductID int64  `json:"productId"`
	Quantity  int    `json:"quantity"`
	Color     string `json:"color,omitempty"`
	Price     int64  `json:"price"`
	Image     string `json:"image,omitempty"`
}

type cartPayload struct {
	Items       []cartLinePayload `json:"items"`
	TotalAmount int64             `json:"totalAmount"`
	UpdatedAt   *time.Time        `json:"updatedAt,omitempty"`
}

// newCartPayload renders readable lines only; malformed stored lines are
// cleaned up by checkout, not shown.
func newCartPayload(cart services.Cart) cartPayload {
	items := make([]cartLinePayload, 0, len(cart.Lines))
	for _, line := range cart.Lines {
		id, ok := line.ProductID()
		if !ok {
			continue
		}
		qty, _ := line.Quantity()
		items = append(items, cartLinePayload{
			ProductID: id,
			Quantity:  qty,
			Color:     line.Color(),
			Price:     line.Price(),
			Image:     line.Image(),
		})
	}
	payload := cartPayload{Items: items, TotalAmount: cart.TotalAmount}
	if !cart.UpdatedAt.IsZero() {
		updated := cart.UpdatedAt
		payload.UpdatedAt = &updated
	}
	return payload
}

type couponPayload struct {
	ID             string    `json:"id"`
	Code           string    `json:"code"`
	Description    string    `json:"description,omitempty"`
	DiscountType   string    `json:"discountType"`
	DiscountValue  float64   `json:"discountValue"`
	MinOrderAmount *int64    `json:"minOrderAmount,omitempty"`
	MaxDiscount    *int64    `json:"maxDiscount,omitempty"`
	ValidFrom      time.Time `json:"validFrom"`
	ValidUntil     time.Time `json:"validUntil"`
	UsageLimit     *int      `json:"usageLimit,omitempty"`
	UsedCount      int       `json:"usedCount"`
	IsSingleUse    bool      `json:"isSingleUse"`
	IsActive       bool      `json:"isActive"`
	UserIDs        []string  `json:"userIds,omitempty"`
}

func newCouponPayload(c services.Coupon) couponPayload {
	return couponPayload{
		ID:             c.ID,
		Code:           c.Code,
		Description:    c.Description,
		DiscountType:   string(c.DiscountType),
		DiscountValue:  c.DiscountValue,
		MinOrderAmount: c.MinOrderAmount,
		MaxDiscount:    c.MaxDiscount,
		ValidFrom:      c.ValidFrom,
		ValidUntil:     c.ValidUntil,
		UsageLimit:     c.UsageLimit,
		UsedCount:      c.UsedCount,
		IsSingleUse:    c.IsSingleUse,
		IsActive:       c.IsActive,
		UserIDs:        c.UserIDs,
	}
}

type userCouponPayload struct {
	CouponID   string         `json:"couponId"`
	IsUsed     bool           `json:"isUsed"`
	UsedAt     *time.Time     `json:"usedAt,omitempty"`
	OrderID    string         `json:"orderId,omitempty"`
	Source     string         `json:"source,omitempty"`
	AssignedAt time.Time      `json:"assignedAt"`
	Coupon     *couponPayload `json:"coupon,omitempty"`
}

func newUserCouponPayload(row services.UserCoupon, coupon *services.Coupon) userCouponPayload {
	payload := userCouponPayload{
		CouponID:   row.CouponID,
		IsUsed:     row.IsUsed,
		UsedAt:     row.UsedAt,
		OrderID:    deref(row.OrderID),
		Source:     row.Source,
		AssignedAt: row.AssignedAt,
	}
	if coupon != nil {
		c := newCouponPayload(*coupon)
		payload.Coupon = &c
	}
	return payload
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
