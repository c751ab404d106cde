package firestore

import (
	"fmt"
	"math"
	"strconv"
	"time"

	domain "github.com/orderline/api/internal/domain"
)

const (
	productsCollection     = "products"
	cartsCollection        = "carts"
	couponsCollection      = "coupons"
	couponCodesCollection  = "couponCodes"
	userCouponsCollection  = "userCoupons"
	ordersCollection       = "orders"
	orderNumbersCollection = "orderNumbers"
	trackingIDsCollection  = "trackingIds"
)

type productDocument struct {
	Name          string            `firestore:"name"`
	Code          string            `firestore:"code"`
	Price         int64             `firestore:"price"`
	DiscountPrice *int64            `firestore:"discountPrice"`
	TaxPercent    float64           `firestore:"taxPercent"`
	Stock         any               `firestore:"stock"`
	Availability  bool              `firestore:"availability"`
	IsActive      bool              `firestore:"isActive"`
	Variants      []variantDocument `firestore:"variants"`
	Images        []string          `firestore:"images"`
	CreatedAt     time.Time         `firestore:"createdAt"`
	UpdatedAt     time.Time         `firestore:"updatedAt"`
}

type variantDocument struct {
	Name      string   `firestore:"name"`
	MainImage string   `firestore:"mainImage"`
	Images    []string `firestore:"images"`
}

func productDocID(id int64) string {
	return strconv.FormatInt(id, 10)
}

func (d productDocument) toDomain(docID string) (domain.Product, error) {
	id, err := strconv.ParseInt(docID, 10, 64)
	if err != nil {
		return domain.Product{}, fmt.Errorf("product id %q is not numeric", docID)
	}
	product := domain.Product{
		ID:            id,
		Name:          d.Name,
		Code:          d.Code,
		Price:         d.Price,
		DiscountPrice: d.DiscountPrice,
		TaxPercent:    d.TaxPercent,
		Stock:         stockFromValue(d.Stock),
		Availability:  d.Availability,
		IsActive:      d.IsActive,
		Images:        d.Images,
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
	}
	for _, variant := range d.Variants {
		product.Variants = append(product.Variants, domain.ProductVariant(variant))
	}
	return product, nil
}

func newProductDocument(p domain.Product) productDocument {
	doc := productDocument{
		Name:          p.Name,
		Code:          p.Code,
		Price:         p.Price,
		DiscountPrice: p.DiscountPrice,
		TaxPercent:    p.TaxPercent,
		Stock:         stockValue(p.Stock),
		Availability:  p.Availability,
		IsActive:      p.IsActive,
		Images:        p.Images,
		CreatedAt:     p.CreatedAt.UTC(),
		UpdatedAt:     p.UpdatedAt.UTC(),
	}
	for _, variant := range p.Variants {
		doc.Variants = append(doc.Variants, variantDocument(variant))
	}
	return doc
}

// stockFromValue accepts the legacy scalar form as well as the variant map.
func stockFromValue(value any) domain.StockLevels {
	switch v := value.(type) {
	case nil:
		return domain.StockLevels{}
	case map[string]any:
		levels := make(domain.StockLevels, len(v))
		for key, qty := range v {
			levels[key] = intFromNumber(qty)
		}
		return levels
	default:
		return domain.NewStockLevels(intFromNumber(v))
	}
}

func stockValue(levels domain.StockLevels) map[string]any {
	out := make(map[string]any, len(levels))
	for key, qty := range levels {
		out[key] = int64(qty)
	}
	return out
}

func intFromNumber(value any) int {
	switch v := value.(type) {
	case int64:
		return int(v)
	case int:
		return v
	case float64:
		return int(math.Round(v))
	default:
		return 0
	}
}

type cartDocument struct {
	UserID      string    `firestore:"userId"`
	Items       any       `firestore:"items"`
	TotalAmount int64     `firestore:"totalAmount"`
	UpdatedAt   time.Time `firestore:"updatedAt"`
}

func (d cartDocument) toDomain(userID string) domain.Cart {
	lines, err := domain.DecodeCartLines(d.Items)
	if err != nil {
		lines = []domain.CartLine{{}}
	}
	return domain.Cart{UserID: userID, Lines: lines, TotalAmount: d.TotalAmount, UpdatedAt: d.UpdatedAt}
}

func newCartDocument(cart domain.Cart) cartDocument {
	items := make([]map[string]any, 0, len(cart.Lines))
	for _, line := range cart.Lines {
		items = append(items, map[string]any(line))
	}
	return cartDocument{UserID: cart.UserID, Items: items, TotalAmount: cart.TotalAmount, UpdatedAt: cart.UpdatedAt.UTC()}
}

type couponDocument struct {
	Code           string    `firestore:"code"`
	Description    string    `firestore:"description"`
	DiscountType   string    `firestore:"discountType"`
	DiscountValue  float64   `firestore:"discountValue"`
	MinOrderAmount *int64    `firestore:"minOrderAmount"`
	MaxDiscount    *int64    `firestore:"maxDiscount"`
	ValidFrom      time.Time `firestore:"validFrom"`
	ValidUntil     time.Time `firestore:"validUntil"`
	UsageLimit     *int64    `firestore:"usageLimit"`
	UsedCount      int64     `firestore:"usedCount"`
	IsSingleUse    bool      `firestore:"isSingleUse"`
	IsActive       bool      `firestore:"isActive"`
	UserIDs        []string  `firestore:"userIds"`
	CreatedAt      time.Time `firestore:"createdAt"`
	UpdatedAt      time.Time `firestore:"updatedAt"`
}

func (d couponDocument) toDomain(id string) domain.Coupon {
	coupon := domain.Coupon{
		ID:             id,
		Code:           d.Code,
		Description:    d.Description,
		DiscountType:   domain.DiscountType(d.DiscountType),
		DiscountValue:  d.DiscountValue,
		MinOrderAmount: d.MinOrderAmount,
		MaxDiscount:    d.MaxDiscount,
		ValidFrom:      d.ValidFrom,
		ValidUntil:     d.ValidUntil,
		UsedCount:      int(d.UsedCount),
		IsSingleUse:    d.IsSingleUse,
		IsActive:       d.IsActive,
		UserIDs:        d.UserIDs,
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
	}
	if d.UsageLimit != nil {
		limit := int(*d.UsageLimit)
		coupon.UsageLimit = &limit
	}
	return coupon
}

func newCouponDocument(c domain.Coupon) couponDocument {
	doc := couponDocument{
		Code:           c.Code,
		Description:    c.Description,
		DiscountType:   string(c.DiscountType),
		DiscountValue:  c.DiscountValue,
		MinOrderAmount: c.MinOrderAmount,
		MaxDiscount:    c.MaxDiscount,
		ValidFrom:      c.ValidFrom.UTC(),
		ValidUntil:     c.ValidUntil.UTC(),
		UsedCount:      int64(c.UsedCount),
		IsSingleUse:    c.IsSingleUse,
		IsActive:       c.IsActive,
		UserIDs:        c.UserIDs,
		CreatedAt:      c.CreatedAt.UTC(),
		UpdatedAt:      c.UpdatedAt.UTC(),
	}
	if c.UsageLimit != nil {
		limit := int64(*c.UsageLimit)
		doc.UsageLimit = &limit
	}
	return doc
}

// indexDocument maps a unique value (coupon code, order number, tracking id)
// to the document that owns it.
type indexDocument struct {
	Owner string `firestore:"owner"`
}

type userCouponDocument struct {
	UserID     string     `firestore:"userId"`
	CouponID   string     `firestore:"couponId"`
	IsUsed     bool       `firestore:"isUsed"`
	UsedAt     *time.Time `firestore:"usedAt"`
	OrderID    *string    `firestore:"orderId"`
	Source     string     `firestore:"source"`
	AssignedAt time.Time  `firestore:"assignedAt"`
}

func userCouponDocID(userID, couponID string) string {
	return userID + "_" + couponID
}

func (d userCouponDocument) toDomain() domain.UserCoupon {
	return domain.UserCoupon(d)
}

func newUserCouponDocument(row domain.UserCoupon) userCouponDocument {
	return userCouponDocument(row)
}

type addressDocument struct {
	FullName   string `firestore:"fullName"`
	Phone      string `firestore:"phone"`
	Line1      string `firestore:"line1"`
	Line2      string `firestore:"line2"`
	City       string `firestore:"city"`
	State      string `firestore:"state"`
	PostalCode string `firestore:"postalCode"`
	Country    string `firestore:"country"`
}

type orderItemDocument struct {
	ProductID int64  `firestore:"productId"`
	Name      string `firestore:"name"`
	Code      string `firestore:"code"`
	Price     int64  `firestore:"price"`
	Quantity  int64  `firestore:"quantity"`
	ColorName string `firestore:"colorName"`
	Total     int64  `firestore:"total"`
	Tax       int64  `firestore:"tax"`
	Image     string `firestore:"image"`
}

type orderDocument struct {
	OrderNumber     string              `firestore:"orderNumber"`
	UserID          string              `firestore:"userId"`
	Items           []orderItemDocument `firestore:"items"`
	ShippingAddress addressDocument     `firestore:"shippingAddress"`
	BillingAddress  addressDocument     `firestore:"billingAddress"`
	PaymentMethod   string              `firestore:"paymentMethod"`
	PaymentStatus   string              `firestore:"paymentStatus"`
	OrderStatus     string              `firestore:"orderStatus"`
	Currency        string              `firestore:"currency"`
	TotalPrice      int64               `firestore:"totalPrice"`
	ShippingCost    int64               `firestore:"shippingCost"`
	TaxAmount       int64               `firestore:"taxAmount"`
	DiscountAmount  int64               `firestore:"discountAmount"`
	FinalAmount     int64               `firestore:"finalAmount"`
	TrackingID      *string             `firestore:"trackingId"`
	CouponID        *string             `firestore:"couponId"`
	CouponCode      *string             `firestore:"couponCode"`
	Notes           string              `firestore:"notes"`
	CancelReason    string              `firestore:"cancelReason"`
	CreatedAt       time.Time           `firestore:"createdAt"`
	UpdatedAt       time.Time           `firestore:"updatedAt"`
	ShippedAt       *time.Time          `firestore:"shippedAt"`
	DeliveredAt     *time.Time          `firestore:"deliveredAt"`
	CancelledAt     *time.Time          `firestore:"cancelledAt"`
}

func (d orderDocument) toDomain(id string) domain.Order {
	order := domain.Order{
		ID:              id,
		OrderNumber:     d.OrderNumber,
		UserID:          d.UserID,
		Items:           make([]domain.OrderItem, 0, len(d.Items)),
		ShippingAddress: domain.Address(d.ShippingAddress),
		BillingAddress:  domain.Address(d.BillingAddress),
		PaymentMethod:   domain.PaymentMethod(d.PaymentMethod),
		PaymentStatus:   domain.PaymentStatus(d.PaymentStatus),
		Status:          domain.OrderStatus(d.OrderStatus),
		Currency:        d.Currency,
		TotalPrice:      d.TotalPrice,
		ShippingCost:    d.ShippingCost,
		TaxAmount:       d.TaxAmount,
		DiscountAmount:  d.DiscountAmount,
		FinalAmount:     d.FinalAmount,
		TrackingID:      d.TrackingID,
		CouponID:        d.CouponID,
		CouponCode:      d.CouponCode,
		Notes:           d.Notes,
		CancelReason:    d.CancelReason,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
		ShippedAt:       d.ShippedAt,
		DeliveredAt:     d.DeliveredAt,
		CancelledAt:     d.CancelledAt,
	}
	for _, item := range d.Items {
		order.Items = append(order.Items, domain.OrderItem{
			ProductID: item.ProductID,
			Name:      item.Name,
			Code:      item.Code,
			Price:     item.Price,
			Quantity:  int(item.Quantity),
			ColorName: item.ColorName,
			Total:     item.Total,
			Tax:       item.Tax,
			Image:     item.Image,
		})
	}
	return order
}

func newOrderDocument(o domain.Order) orderDocument {
	doc := orderDocument{
		OrderNumber:     o.OrderNumber,
		UserID:          o.UserID,
		Items:           make([]orderItemDocument, 0, len(o.Items)),
		ShippingAddress: addressDocument(o.ShippingAddress),
		BillingAddress:  addressDocument(o.BillingAddress),
		PaymentMethod:   string(o.PaymentMethod),
		PaymentStatus:   string(o.PaymentStatus),
		OrderStatus:     string(o.Status),
		Currency:        o.Currency,
		TotalPrice:      o.TotalPrice,
		ShippingCost:    o.ShippingCost,
		TaxAmount:       o.TaxAmount,
		DiscountAmount:  o.DiscountAmount,
		FinalAmount:     o.FinalAmount,
		TrackingID:      o.TrackingID,
		CouponID:        o.CouponID,
		CouponCode:      o.CouponCode,
		Notes:           o.Notes,
		CancelReason:    o.CancelReason,
		CreatedAt:       o.CreatedAt.UTC(),
		UpdatedAt:       o.UpdatedAt.UTC(),
		ShippedAt:       o.ShippedAt,
		DeliveredAt:     o.DeliveredAt,
		CancelledAt:     o.CancelledAt,
	}
	for _, item := range o.Items {
		doc.Items = append(doc.Items, orderItemDocument{
			ProductID: item.ProductID,
			Name:      item.Name,
			Code:      item.Code,
			Price:     item.Price,
			Quantity:  int64(item.Quantity),
			ColorName: item.ColorName,
			Total:     item.Total,
			Tax:       item.Tax,
			Image:     item.Image,
		})
	}
	return doc
}
