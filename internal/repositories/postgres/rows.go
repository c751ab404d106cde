package postgres

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	domain "github.com/orderline/api/internal/domain"
)

type scanner interface {
	Scan(dest ...any) error
}

const selectCart = `SELECT user_id, items, total_amount, updated_at FROM carts`

func scanCart(row scanner) (domain.Cart, error) {
	var (
		cart  domain.Cart
		items []byte
	)
	if err := row.Scan(&cart.UserID, &items, &cart.TotalAmount, &cart.UpdatedAt); err != nil {
		return domain.Cart{}, mapError("postgres.scanCart", err)
	}
	lines, err := domain.DecodeCartLines(json.RawMessage(items))
	if err != nil {
		// unreadable documents are treated as an empty list and rewritten by the loader
		lines = []domain.CartLine{{}}
	}
	cart.Lines = lines
	cart.UpdatedAt = cart.UpdatedAt.UTC()
	return cart, nil
}

const selectProduct = `SELECT id, name, code, price, discount_price, tax_percent, stock, availability,
	is_active, variants, images, created_at, updated_at FROM products`

type variantRecord struct {
	Name      string   `json:"name"`
	MainImage string   `json:"mainImage,omitempty"`
	Images    []string `json:"images,omitempty"`
}

func scanProduct(row scanner) (domain.Product, error) {
	var (
		product  domain.Product
		discount sql.NullInt64
		stock    []byte
		variants []byte
		images   []byte
	)
	if err := row.Scan(&product.ID, &product.Name, &product.Code, &product.Price, &discount, &product.TaxPercent,
		&stock, &product.Availability, &product.IsActive, &variants, &images, &product.CreatedAt, &product.UpdatedAt); err != nil {
		return domain.Product{}, mapError("postgres.scanProduct", err)
	}
	if discount.Valid {
		value := discount.Int64
		product.DiscountPrice = &value
	}
	if err := json.Unmarshal(stock, &product.Stock); err != nil {
		return domain.Product{}, fmt.Errorf("postgres: decode stock for product %d: %w", product.ID, err)
	}
	var records []variantRecord
	if len(variants) > 0 {
		if err := json.Unmarshal(variants, &records); err != nil {
			return domain.Product{}, fmt.Errorf("postgres: decode variants for product %d: %w", product.ID, err)
		}
	}
	for _, record := range records {
		product.Variants = append(product.Variants, domain.ProductVariant{
			Name:      record.Name,
			MainImage: record.MainImage,
			Images:    record.Images,
		})
	}
	if len(images) > 0 {
		if err := json.Unmarshal(images, &product.Images); err != nil {
			return domain.Product{}, fmt.Errorf("postgres: decode images for product %d: %w", product.ID, err)
		}
	}
	return product, nil
}

func couponColumns(alias string) string {
	cols := []string{"id", "code", "description", "discount_type", "discount_value", "min_order_amount", "max_discount",
		"valid_from", "valid_until", "usage_limit", "used_count", "is_single_use", "is_active", "user_ids", "created_at", "updated_at"}
	return qualify(alias, cols)
}

type couponRow struct {
	coupon       domain.Coupon
	discountType string
	minOrder     sql.NullInt64
	maxDiscount  sql.NullInt64
	usageLimit   sql.NullInt32
	userIDs      []string
}

func (r *couponRow) dest() []any {
	return []any{&r.coupon.ID, &r.coupon.Code, &r.coupon.Description, &r.discountType, &r.coupon.DiscountValue,
		&r.minOrder, &r.maxDiscount, &r.coupon.ValidFrom, &r.coupon.ValidUntil, &r.usageLimit, &r.coupon.UsedCount,
		&r.coupon.IsSingleUse, &r.coupon.IsActive, pq.Array(&r.userIDs), &r.coupon.CreatedAt, &r.coupon.UpdatedAt}
}

func (r *couponRow) domain() domain.Coupon {
	coupon := r.coupon
	coupon.DiscountType = domain.DiscountType(r.discountType)
	if r.minOrder.Valid {
		value := r.minOrder.Int64
		coupon.MinOrderAmount = &value
	}
	if r.maxDiscount.Valid {
		value := r.maxDiscount.Int64
		coupon.MaxDiscount = &value
	}
	if r.usageLimit.Valid {
		value := int(r.usageLimit.Int32)
		coupon.UsageLimit = &value
	}
	coupon.UserIDs = r.userIDs
	coupon.ValidFrom = coupon.ValidFrom.UTC()
	coupon.ValidUntil = coupon.ValidUntil.UTC()
	return coupon
}

func scanCoupon(row scanner) (domain.Coupon, error) {
	var record couponRow
	if err := row.Scan(record.dest()...); err != nil {
		return domain.Coupon{}, mapError("postgres.scanCoupon", err)
	}
	return record.domain(), nil
}

func userCouponColumns(alias string) string {
	return qualify(alias, []string{"user_id", "coupon_id", "is_used", "used_at", "order_id", "source", "assigned_at"})
}

type userCouponRow struct {
	row     domain.UserCoupon
	usedAt  sql.NullTime
	orderID sql.NullString
}

func (r *userCouponRow) dest() []any {
	return []any{&r.row.UserID, &r.row.CouponID, &r.row.IsUsed, &r.usedAt, &r.orderID, &r.row.Source, &r.row.AssignedAt}
}

func (r *userCouponRow) domain() domain.UserCoupon {
	out := r.row
	if r.usedAt.Valid {
		ts := r.usedAt.Time.UTC()
		out.UsedAt = &ts
	}
	if r.orderID.Valid {
		id := r.orderID.String
		out.OrderID = &id
	}
	return out
}

const orderColumnList = `id, order_number, user_id, items, shipping_address, billing_address, payment_method,
	payment_status, order_status, currency, total_price, shipping_cost, tax_amount, discount_amount, final_amount,
	tracking_id, coupon_id, coupon_code, notes, cancel_reason, created_at, updated_at, shipped_at, delivered_at, cancelled_at`

const selectOrder = `SELECT ` + orderColumnList + ` FROM orders`

type addressRecord struct {
	FullName   string `json:"fullName,omitempty"`
	Phone      string `json:"phone,omitempty"`
	Line1      string `json:"line1,omitempty"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city,omitempty"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postalCode,omitempty"`
	Country    string `json:"country,omitempty"`
}

type orderItemRecord struct {
	ProductID int64  `json:"productId"`
	Name      string `json:"name"`
	Code      string `json:"code,omitempty"`
	Price     int64  `json:"price"`
	Quantity  int    `json:"quantity"`
	ColorName string `json:"colorName,omitempty"`
	Total     int64  `json:"total"`
	Tax       int64  `json:"tax"`
	Image     string `json:"image,omitempty"`
}

func encodeAddress(a domain.Address) ([]byte, error) {
	return json.Marshal(addressRecord(a))
}

func decodeAddress(data []byte) (domain.Address, error) {
	var record addressRecord
	if len(data) == 0 {
		return domain.Address{}, nil
	}
	if err := json.Unmarshal(data, &record); err != nil {
		return domain.Address{}, err
	}
	return domain.Address(record), nil
}

func encodeItems(items []domain.OrderItem) ([]byte, error) {
	records := make([]orderItemRecord, 0, len(items))
	for _, item := range items {
		records = append(records, orderItemRecord(item))
	}
	return json.Marshal(records)
}

func scanOrder(row scanner) (domain.Order, error) {
	var (
		order                               domain.Order
		items, shipping, billing            []byte
		method, payment, status             string
		trackingID, couponID, couponCode    sql.NullString
		shippedAt, deliveredAt, cancelledAt sql.NullTime
	)
	err := row.Scan(&order.ID, &order.OrderNumber, &order.UserID, &items, &shipping, &billing, &method,
		&payment, &status, &order.Currency, &order.TotalPrice, &order.ShippingCost, &order.TaxAmount,
		&order.DiscountAmount, &order.FinalAmount, &trackingID, &couponID, &couponCode, &order.Notes,
		&order.CancelReason, &order.CreatedAt, &order.UpdatedAt, &shippedAt, &deliveredAt, &cancelledAt)
	if err != nil {
		return domain.Order{}, mapError("postgres.scanOrder", err)
	}
	order.PaymentMethod = domain.PaymentMethod(method)
	order.PaymentStatus = domain.PaymentStatus(payment)
	order.Status = domain.OrderStatus(status)

	var records []orderItemRecord
	if err := json.Unmarshal(items, &records); err != nil {
		return domain.Order{}, fmt.Errorf("postgres: decode items for order %s: %w", order.ID, err)
	}
	order.Items = make([]domain.OrderItem, 0, len(records))
	for _, record := range records {
		order.Items = append(order.Items, domain.OrderItem(record))
	}
	if order.ShippingAddress, err = decodeAddress(shipping); err != nil {
		return domain.Order{}, fmt.Errorf("postgres: decode shipping address for order %s: %w", order.ID, err)
	}
	if order.BillingAddress, err = decodeAddress(billing); err != nil {
		return domain.Order{}, fmt.Errorf("postgres: decode billing address for order %s: %w", order.ID, err)
	}
	order.TrackingID = nullString(trackingID)
	order.CouponID = nullString(couponID)
	order.CouponCode = nullString(couponCode)
	order.CreatedAt = order.CreatedAt.UTC()
	order.UpdatedAt = order.UpdatedAt.UTC()
	order.ShippedAt = nullTime(shippedAt)
	order.DeliveredAt = nullTime(deliveredAt)
	order.CancelledAt = nullTime(cancelledAt)
	return order, nil
}

func nullString(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	v := value.String
	return &v
}

func nullTime(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}
	v := value.Time.UTC()
	return &v
}

func stringOrNil(value *string) any {
	if value == nil || *value == "" {
		return nil
	}
	return *value
}

func timeOrNil(value *time.Time) any {
	if value == nil {
		return nil
	}
	return value.UTC()
}

func int64OrNil(value *int64) any {
	if value == nil {
		return nil
	}
	return *value
}

func intOrNil(value *int) any {
	if value == nil {
		return nil
	}
	return *value
}

func qualify(alias string, cols []string) string {
	if alias == "" {
		return strings.Join(cols, ", ")
	}
	out := make([]string, len(cols))
	for i, col := range cols {
		out[i] = alias + "." + col
	}
	return strings.Join(out, ", ")
}
