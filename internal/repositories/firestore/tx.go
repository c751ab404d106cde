package firestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/orderline/api/internal/domain"
	pfirestore "github.com/orderline/api/internal/platform/firestore"
	"github.com/orderline/api/internal/repositories"
)

// tx adapts a Firestore transaction to repositories.Tx. Firestore rejects
// reads issued after a write, so writes are staged in an overlay that later
// reads observe and are applied to the transaction only in flush.
type tx struct {
	store *Store
	ftx   *firestore.Transaction
	now   func() time.Time

	carts       map[string]*domain.Cart
	products    map[int64]*domain.Product
	coupons     map[string]*domain.Coupon
	userCoupons map[string]*domain.UserCoupon
	orders      map[string]*domain.Order

	writes []func() error
}

var _ repositories.Tx = (*tx)(nil)

func newTx(store *Store, ftx *firestore.Transaction) *tx {
	return &tx{
		store:       store,
		ftx:         ftx,
		now:         store.now,
		carts:       map[string]*domain.Cart{},
		products:    map[int64]*domain.Product{},
		coupons:     map[string]*domain.Coupon{},
		userCoupons: map[string]*domain.UserCoupon{},
		orders:      map[string]*domain.Order{},
	}
}

func (t *tx) stage(write func() error) {
	t.writes = append(t.writes, write)
}

func (t *tx) flush() error {
	for _, write := range t.writes {
		if err := write(); err != nil {
			return err
		}
	}
	t.writes = nil
	return nil
}

func (t *tx) GetCart(ctx context.Context, userID string) (domain.Cart, error) {
	if cached, ok := t.carts[userID]; ok {
		if cached == nil {
			return domain.Cart{}, repositories.NotFound("firestore.getCart", fmt.Sprintf("cart for user %s not found", userID))
		}
		return cached.Clone(), nil
	}
	ref, err := t.store.carts.Ref(ctx, userID)
	if err != nil {
		return domain.Cart{}, err
	}
	doc, err := t.store.carts.GetInTx(t.ftx, ref)
	if err != nil {
		if repositories.IsNotFound(err) {
			t.carts[userID] = nil
		}
		return domain.Cart{}, err
	}
	cart := doc.Data.toDomain(userID)
	t.carts[userID] = &cart
	return cart.Clone(), nil
}

func (t *tx) SaveCart(ctx context.Context, cart domain.Cart) error {
	ref, err := t.store.carts.Ref(ctx, cart.UserID)
	if err != nil {
		return err
	}
	cart.UpdatedAt = t.now().UTC()
	saved := cart.Clone()
	t.carts[cart.UserID] = &saved
	payload := newCartDocument(saved)
	t.stage(func() error { return t.ftx.Set(ref, payload) })
	return nil
}

func (t *tx) GetProduct(ctx context.Context, productID int64) (domain.Product, error) {
	if cached, ok := t.products[productID]; ok {
		return cached.Clone(), nil
	}
	ref, err := t.store.products.Ref(ctx, productDocID(productID))
	if err != nil {
		return domain.Product{}, err
	}
	doc, err := t.store.products.GetInTx(t.ftx, ref)
	if err != nil {
		return domain.Product{}, err
	}
	product, err := doc.Data.toDomain(doc.ID)
	if err != nil {
		return domain.Product{}, err
	}
	t.products[productID] = &product
	return product.Clone(), nil
}

func (t *tx) UpdateProductStock(ctx context.Context, productID int64, stock domain.StockLevels, availability bool) error {
	product, err := t.GetProduct(ctx, productID)
	if err != nil {
		return err
	}
	ref, err := t.store.products.Ref(ctx, productDocID(productID))
	if err != nil {
		return err
	}
	product.Stock = stock.Clone()
	product.Availability = availability
	product.UpdatedAt = t.now().UTC()
	t.products[productID] = &product

	updates := []firestore.Update{
		{Path: "stock", Value: stockValue(product.Stock)},
		{Path: "availability", Value: availability},
		{Path: "updatedAt", Value: product.UpdatedAt},
	}
	t.stage(func() error { return t.ftx.Update(ref, updates) })
	return nil
}

func (t *tx) GetCoupon(ctx context.Context, couponID string) (domain.Coupon, error) {
	if cached, ok := t.coupons[couponID]; ok {
		return cached.Clone(), nil
	}
	ref, err := t.store.coupons.Ref(ctx, couponID)
	if err != nil {
		return domain.Coupon{}, err
	}
	doc, err := t.store.coupons.GetInTx(t.ftx, ref)
	if err != nil {
		return domain.Coupon{}, err
	}
	coupon := doc.Data.toDomain(doc.ID)
	t.coupons[couponID] = &coupon
	return coupon.Clone(), nil
}

func (t *tx) FindCouponByCode(ctx context.Context, code string) (domain.Coupon, error) {
	code = repositories.NormalizeCouponCode(code)
	for _, cached := range t.coupons {
		if repositories.NormalizeCouponCode(cached.Code) == code {
			return cached.Clone(), nil
		}
	}
	ref, err := t.store.couponCodes.Ref(ctx, code)
	if err != nil {
		return domain.Coupon{}, err
	}
	index, err := t.store.couponCodes.GetInTx(t.ftx, ref)
	if err != nil {
		return domain.Coupon{}, err
	}
	return t.GetCoupon(ctx, index.Data.Owner)
}

func (t *tx) InsertCoupon(ctx context.Context, coupon domain.Coupon) error {
	code := repositories.NormalizeCouponCode(coupon.Code)
	ref, err := t.store.coupons.Ref(ctx, coupon.ID)
	if err != nil {
		return err
	}
	codeRef, err := t.store.couponCodes.Ref(ctx, code)
	if err != nil {
		return err
	}
	coupon.Code = code
	saved := coupon.Clone()
	t.coupons[coupon.ID] = &saved
	payload := newCouponDocument(saved)
	t.stage(func() error { return t.ftx.Create(ref, payload) })
	t.stage(func() error { return t.ftx.Create(codeRef, indexDocument{Owner: coupon.ID}) })
	return nil
}

func (t *tx) AdjustCouponUsage(ctx context.Context, couponID string, delta int) error {
	coupon, err := t.GetCoupon(ctx, couponID)
	if err != nil {
		return err
	}
	next := coupon.UsedCount + delta
	if next < 0 || (coupon.UsageLimit != nil && next > *coupon.UsageLimit) {
		return repositories.NewStoreError("firestore.adjustCouponUsage", repositories.ErrorUsageLimit,
			fmt.Sprintf("coupon %s usage %d out of bounds", couponID, next), nil)
	}
	ref, err := t.store.coupons.Ref(ctx, couponID)
	if err != nil {
		return err
	}
	coupon.UsedCount = next
	coupon.UpdatedAt = t.now().UTC()
	t.coupons[couponID] = &coupon

	updates := []firestore.Update{
		{Path: "usedCount", Value: int64(next)},
		{Path: "updatedAt", Value: coupon.UpdatedAt},
	}
	t.stage(func() error { return t.ftx.Update(ref, updates) })
	return nil
}

func (t *tx) GetUserCoupon(ctx context.Context, userID, couponID string) (domain.UserCoupon, error) {
	key := userCouponDocID(userID, couponID)
	if cached, ok := t.userCoupons[key]; ok {
		if cached == nil {
			return domain.UserCoupon{}, repositories.NotFound("firestore.getUserCoupon", "user coupon not found")
		}
		return cached.Clone(), nil
	}
	ref, err := t.store.userCoupons.Ref(ctx, key)
	if err != nil {
		return domain.UserCoupon{}, err
	}
	doc, err := t.store.userCoupons.GetInTx(t.ftx, ref)
	if err != nil {
		if repositories.IsNotFound(err) {
			t.userCoupons[key] = nil
		}
		return domain.UserCoupon{}, err
	}
	row := doc.Data.toDomain()
	t.userCoupons[key] = &row
	return row.Clone(), nil
}

func (t *tx) SaveUserCoupon(ctx context.Context, row domain.UserCoupon) error {
	if _, err := t.GetCoupon(ctx, row.CouponID); err != nil {
		return err
	}
	key := userCouponDocID(row.UserID, row.CouponID)
	ref, err := t.store.userCoupons.Ref(ctx, key)
	if err != nil {
		return err
	}
	if row.AssignedAt.IsZero() {
		row.AssignedAt = t.now().UTC()
	}
	saved := row.Clone()
	t.userCoupons[key] = &saved
	payload := newUserCouponDocument(saved)
	t.stage(func() error { return t.ftx.Set(ref, payload) })
	return nil
}

func (t *tx) InsertOrder(ctx context.Context, order domain.Order) error {
	ref, err := t.store.orders.Ref(ctx, order.ID)
	if err != nil {
		return err
	}
	numberRef, err := t.store.orderNumbers.Ref(ctx, order.OrderNumber)
	if err != nil {
		return err
	}
	switch _, err := t.store.orderNumbers.GetInTx(t.ftx, numberRef); {
	case err == nil:
		return repositories.Conflict("firestore.insertOrder", fmt.Sprintf("order number %s already exists", order.OrderNumber), nil)
	case !repositories.IsNotFound(err):
		return err
	}
	if err := t.claimTrackingID(ctx, order); err != nil {
		return err
	}
	saved := order.Clone()
	t.orders[order.ID] = &saved
	payload := newOrderDocument(saved)
	t.stage(func() error { return t.ftx.Create(ref, payload) })
	t.stage(func() error { return t.ftx.Create(numberRef, indexDocument{Owner: order.ID}) })
	return nil
}

func (t *tx) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	if cached, ok := t.orders[orderID]; ok {
		return cached.Clone(), nil
	}
	ref, err := t.store.orders.Ref(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	doc, err := t.store.orders.GetInTx(t.ftx, ref)
	if err != nil {
		return domain.Order{}, err
	}
	order := doc.Data.toDomain(doc.ID)
	t.orders[orderID] = &order
	return order.Clone(), nil
}

func (t *tx) UpdateOrder(ctx context.Context, order domain.Order) error {
	if _, err := t.GetOrder(ctx, order.ID); err != nil {
		return err
	}
	ref, err := t.store.orders.Ref(ctx, order.ID)
	if err != nil {
		return err
	}
	if err := t.claimTrackingID(ctx, order); err != nil {
		return err
	}
	saved := order.Clone()
	t.orders[order.ID] = &saved
	payload := newOrderDocument(saved)
	t.stage(func() error { return t.ftx.Set(ref, payload) })
	return nil
}

func (t *tx) FindCouponOrder(ctx context.Context, userID, couponID, excludeOrderID string) (domain.Order, error) {
	docs, err := t.store.orders.QueryInTx(ctx, t.ftx, func(q firestore.Query) firestore.Query {
		return q.Where("userId", "==", userID).Where("couponId", "==", couponID)
	})
	if err != nil {
		return domain.Order{}, err
	}
	var found *domain.Order
	for _, doc := range docs {
		order := doc.Data.toDomain(doc.ID)
		if cached, ok := t.orders[doc.ID]; ok {
			order = cached.Clone()
		}
		if order.ID == excludeOrderID || order.Status == domain.OrderStatusCancelled {
			continue
		}
		if found == nil || order.CreatedAt.After(found.CreatedAt) {
			candidate := order
			found = &candidate
		}
	}
	if found == nil {
		return domain.Order{}, repositories.NotFound("firestore.findCouponOrder", fmt.Sprintf("no active order holds coupon %s", couponID))
	}
	return *found, nil
}

// claimTrackingID reserves the order's tracking id in the index collection,
// failing when another order already holds it.
func (t *tx) claimTrackingID(ctx context.Context, order domain.Order) error {
	if order.TrackingID == nil || *order.TrackingID == "" {
		return nil
	}
	ref, err := t.store.trackingIDs.Ref(ctx, *order.TrackingID)
	if err != nil {
		return err
	}
	index, err := t.store.trackingIDs.GetInTx(t.ftx, ref)
	switch {
	case err == nil:
		if index.Data.Owner != order.ID {
			return repositories.Conflict("firestore.trackingID", fmt.Sprintf("tracking id %s already assigned", *order.TrackingID), nil)
		}
		return nil
	case repositories.IsNotFound(err):
		owner := indexDocument{Owner: order.ID}
		t.stage(func() error { return t.ftx.Create(ref, owner) })
		return nil
	default:
		return err
	}
}

// translate converts Firestore commit failures into store errors.
func translate(op string, err error) error {
	if err == nil {
		return nil
	}
	wrapped := pfirestore.WrapError(op, err)
	var ferr *pfirestore.Error
	if errors.As(wrapped, &ferr) {
		switch ferr.Kind {
		case pfirestore.KindNotFound:
			return repositories.NewStoreError(op, repositories.ErrorNotFound, "", ferr.Err)
		case pfirestore.KindConflict:
			return repositories.Conflict(op, "", ferr.Err)
		case pfirestore.KindUnavailable:
			return repositories.Unavailable(op, ferr.Err)
		default:
			return repositories.NewStoreError(op, repositories.ErrorUnknown, "", ferr.Err)
		}
	}
	return wrapped
}
