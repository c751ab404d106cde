// Package firestore implements the order store on Cloud Firestore.
package firestore

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/orderline/api/internal/domain"
	pfirestore "github.com/orderline/api/internal/platform/firestore"
	"github.com/orderline/api/internal/repositories"
)

// Store keeps carts, products, coupons and orders in Firestore collections.
// Unique order numbers, tracking ids and coupon codes are enforced with index
// documents created in the same transaction as their owner.
type Store struct {
	provider *pfirestore.Provider
	now      func() time.Time

	products     *pfirestore.Collection[productDocument]
	carts        *pfirestore.Collection[cartDocument]
	coupons      *pfirestore.Collection[couponDocument]
	couponCodes  *pfirestore.Collection[indexDocument]
	userCoupons  *pfirestore.Collection[userCouponDocument]
	orders       *pfirestore.Collection[orderDocument]
	orderNumbers *pfirestore.Collection[indexDocument]
	trackingIDs  *pfirestore.Collection[indexDocument]
}

var _ repositories.Store = (*Store)(nil)

// NewStore binds the store to a provider.
func NewStore(provider *pfirestore.Provider) (*Store, error) {
	if provider == nil {
		return nil, errors.New("firestore store requires firestore provider")
	}
	return &Store{
		provider:     provider,
		now:          time.Now,
		products:     pfirestore.NewCollection[productDocument](provider, productsCollection, nil),
		carts:        pfirestore.NewCollection[cartDocument](provider, cartsCollection, nil),
		coupons:      pfirestore.NewCollection[couponDocument](provider, couponsCollection, nil),
		couponCodes:  pfirestore.NewCollection[indexDocument](provider, couponCodesCollection, nil),
		userCoupons:  pfirestore.NewCollection[userCouponDocument](provider, userCouponsCollection, nil),
		orders:       pfirestore.NewCollection[orderDocument](provider, ordersCollection, nil),
		orderNumbers: pfirestore.NewCollection[indexDocument](provider, orderNumbersCollection, nil),
		trackingIDs:  pfirestore.NewCollection[indexDocument](provider, trackingIDsCollection, nil),
	}, nil
}

// RunInTx runs fn in a Firestore transaction. Firestore may call fn again on
// contention; every attempt starts from a fresh overlay.
func (s *Store) RunInTx(ctx context.Context, fn repositories.TxFunc) error {
	if fn == nil {
		return errors.New("firestore store: transaction function is required")
	}
	err := s.provider.RunTransaction(ctx, func(ctx context.Context, ftx *firestore.Transaction) error {
		t := newTx(s, ftx)
		if err := fn(ctx, t); err != nil {
			return err
		}
		return t.flush()
	})
	return translate("firestore.transaction", err)
}

func (s *Store) GetCart(ctx context.Context, userID string) (domain.Cart, error) {
	doc, err := s.carts.Get(ctx, userID)
	if err != nil {
		if repositories.IsNotFound(err) {
			return domain.Cart{UserID: userID}, nil
		}
		return domain.Cart{}, translate("firestore.getCart", err)
	}
	return doc.Data.toDomain(userID), nil
}

func (s *Store) FindOrder(ctx context.Context, orderID string) (domain.Order, error) {
	doc, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, translate("firestore.findOrder", err)
	}
	return doc.Data.toDomain(doc.ID), nil
}

func (s *Store) FindOrderByTrackingID(ctx context.Context, trackingID string) (domain.Order, error) {
	index, err := s.trackingIDs.Get(ctx, trackingID)
	if err != nil {
		return domain.Order{}, translate("firestore.findOrderByTrackingID", err)
	}
	return s.FindOrder(ctx, index.Data.Owner)
}

// ListOrders pages orders newest first. Filtering by user together with status
// or date needs the composite indexes declared in deploy/firestore.indexes.json.
func (s *Store) ListOrders(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	cursor, hasCursor, err := repositories.DecodeOrderCursor(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}
	size := repositories.PageSize(filter.Pagination.PageSize)

	docs, err := s.orders.Query(ctx, func(q firestore.Query) firestore.Query {
		if filter.UserID != "" {
			q = q.Where("userId", "==", filter.UserID)
		}
		if len(filter.Status) > 0 {
			statuses := make([]string, 0, len(filter.Status))
			for _, status := range filter.Status {
				statuses = append(statuses, string(status))
			}
			q = q.Where("orderStatus", "in", statuses)
		}
		if from := filter.DateRange.From; from != nil {
			q = q.Where("createdAt", ">=", from.UTC())
		}
		if to := filter.DateRange.To; to != nil {
			q = q.Where("createdAt", "<=", to.UTC())
		}
		q = q.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
		if hasCursor {
			q = q.StartAfter(cursor.CreatedAt, cursor.ID)
		}
		return q.Limit(size + 1)
	})
	if err != nil {
		return domain.CursorPage[domain.Order]{}, translate("firestore.listOrders", err)
	}

	orders := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		orders = append(orders, doc.Data.toDomain(doc.ID))
	}
	page := domain.CursorPage[domain.Order]{Items: orders}
	if len(orders) > size {
		page.Items = orders[:size]
		token, err := repositories.EncodeOrderCursor(page.Items[size-1])
		if err != nil {
			return domain.CursorPage[domain.Order]{}, err
		}
		page.NextPageToken = token
	}
	return page, nil
}

func (s *Store) ListUserCoupons(ctx context.Context, userID string) ([]domain.UserCouponView, error) {
	rows, err := s.userCoupons.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("userId", "==", userID).OrderBy("assignedAt", firestore.Desc)
	})
	if err != nil {
		return nil, translate("firestore.listUserCoupons", err)
	}
	views := make([]domain.UserCouponView, 0, len(rows))
	for _, row := range rows {
		coupon, err := s.coupons.Get(ctx, row.Data.CouponID)
		if err != nil {
			if repositories.IsNotFound(err) {
				continue
			}
			return nil, translate("firestore.listUserCoupons", err)
		}
		views = append(views, domain.UserCouponView{
			UserCoupon: row.Data.toDomain(),
			Coupon:     coupon.Data.toDomain(coupon.ID),
		})
	}
	return views, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.provider.Ping(ctx)
}

func (s *Store) Close(ctx context.Context) error {
	return s.provider.Close(ctx)
}

// PutProduct writes a catalog product. The catalog is owned elsewhere; this is
// used by seeding tools and tests.
func (s *Store) PutProduct(ctx context.Context, product domain.Product) error {
	return translate("firestore.putProduct", s.products.Set(ctx, productDocID(product.ID), newProductDocument(product)))
}
