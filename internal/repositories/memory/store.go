// Package memory provides an in-process Store used by tests and local runs.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	domain "github.com/orderline/api/internal/domain"
	"github.com/orderline/api/internal/repositories"
)

// Store keeps every entity in maps guarded by one mutex. A transaction holds
// the mutex for its whole duration and works on a copy that replaces the live
// state only when the callback succeeds.
type Store struct {
	mu    sync.Mutex
	state *state
	now   func() time.Time
}

type state struct {
	carts        map[string]domain.Cart
	products     map[int64]domain.Product
	coupons      map[string]domain.Coupon
	couponCodes  map[string]string
	userCoupons  map[string]domain.UserCoupon
	orders       map[string]domain.Order
	orderNumbers map[string]string
	trackingIDs  map[string]string
}

var _ repositories.Store = (*Store)(nil)

// Option customises the store.
type Option func(*Store)

// WithClock overrides the time source used for updatedAt stamps.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) {
		if clock != nil {
			s.now = clock
		}
	}
}

// NewStore returns an empty store.
func NewStore(opts ...Option) *Store {
	s := &Store{state: newState(), now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func newState() *state {
	return &state{
		carts:        map[string]domain.Cart{},
		products:     map[int64]domain.Product{},
		coupons:      map[string]domain.Coupon{},
		couponCodes:  map[string]string{},
		userCoupons:  map[string]domain.UserCoupon{},
		orders:       map[string]domain.Order{},
		orderNumbers: map[string]string{},
		trackingIDs:  map[string]string{},
	}
}

func (st *state) clone() *state {
	out := newState()
	for key, cart := range st.carts {
		out.carts[key] = cart.Clone()
	}
	for key, product := range st.products {
		out.products[key] = product.Clone()
	}
	for key, coupon := range st.coupons {
		out.coupons[key] = coupon.Clone()
	}
	for key, id := range st.couponCodes {
		out.couponCodes[key] = id
	}
	for key, row := range st.userCoupons {
		out.userCoupons[key] = row.Clone()
	}
	for key, order := range st.orders {
		out.orders[key] = order.Clone()
	}
	for key, id := range st.orderNumbers {
		out.orderNumbers[key] = id
	}
	for key, id := range st.trackingIDs {
		out.trackingIDs[key] = id
	}
	return out
}

// RunInTx executes fn against a private copy of the state and publishes it on success.
func (s *Store) RunInTx(ctx context.Context, fn repositories.TxFunc) error {
	if fn == nil {
		return fmt.Errorf("memory store: transaction function is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	working := s.state.clone()
	if err := fn(ctx, &tx{state: working, now: s.now}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return repositories.Unavailable("memory.commit", err)
	}
	s.state = working
	return nil
}

func (s *Store) GetCart(_ context.Context, userID string) (domain.Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cart, ok := s.state.carts[userID]
	if !ok {
		return domain.Cart{UserID: userID}, nil
	}
	return cart.Clone(), nil
}

func (s *Store) FindOrder(_ context.Context, orderID string) (domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.state.orders[orderID]
	if !ok {
		return domain.Order{}, repositories.NotFound("memory.findOrder", fmt.Sprintf("order %s not found", orderID))
	}
	return order.Clone(), nil
}

func (s *Store) FindOrderByTrackingID(_ context.Context, trackingID string) (domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	orderID, ok := s.state.trackingIDs[trackingID]
	if !ok {
		return domain.Order{}, repositories.NotFound("memory.findOrderByTrackingID", fmt.Sprintf("tracking id %s not found", trackingID))
	}
	return s.state.orders[orderID].Clone(), nil
}

func (s *Store) ListOrders(_ context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	cursor, hasCursor, err := repositories.DecodeOrderCursor(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	s.mu.Lock()
	matched := make([]domain.Order, 0, len(s.state.orders))
	for _, order := range s.state.orders {
		if matchesFilter(order, filter) && (!hasCursor || cursor.After(order)) {
			matched = append(matched, order.Clone())
		}
	}
	s.mu.Unlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	size := repositories.PageSize(filter.Pagination.PageSize)
	page := domain.CursorPage[domain.Order]{Items: matched}
	if len(matched) > size {
		page.Items = matched[:size]
		token, err := repositories.EncodeOrderCursor(page.Items[size-1])
		if err != nil {
			return domain.CursorPage[domain.Order]{}, err
		}
		page.NextPageToken = token
	}
	return page, nil
}

func matchesFilter(order domain.Order, filter repositories.OrderListFilter) bool {
	if filter.UserID != "" && order.UserID != filter.UserID {
		return false
	}
	if len(filter.Status) > 0 {
		found := false
		for _, status := range filter.Status {
			if order.Status == status {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if from := filter.DateRange.From; from != nil && order.CreatedAt.Before(*from) {
		return false
	}
	if to := filter.DateRange.To; to != nil && order.CreatedAt.After(*to) {
		return false
	}
	return true
}

func (s *Store) ListUserCoupons(_ context.Context, userID string) ([]domain.UserCouponView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	views := make([]domain.UserCouponView, 0)
	for _, row := range s.state.userCoupons {
		if row.UserID != userID {
			continue
		}
		coupon, ok := s.state.coupons[row.CouponID]
		if !ok {
			continue
		}
		views = append(views, domain.UserCouponView{UserCoupon: row.Clone(), Coupon: coupon.Clone()})
	}
	sort.Slice(views, func(i, j int) bool {
		return views[i].AssignedAt.After(views[j].AssignedAt)
	})
	return views, nil
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Close(context.Context) error { return nil }

// PutProduct seeds or replaces a product.
func (s *Store) PutProduct(product domain.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.products[product.ID] = product.Clone()
}

// Product returns a copy of a stored product.
func (s *Store) Product(productID int64) (domain.Product, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	product, ok := s.state.products[productID]
	return product.Clone(), ok
}

// PutCart seeds or replaces a cart.
func (s *Store) PutCart(cart domain.Cart) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.carts[cart.UserID] = cart.Clone()
}

// PutCoupon seeds or replaces a coupon.
func (s *Store) PutCoupon(coupon domain.Coupon) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.coupons[coupon.ID] = coupon.Clone()
	s.state.couponCodes[repositories.NormalizeCouponCode(coupon.Code)] = coupon.ID
}

// Coupon returns a copy of a stored coupon.
func (s *Store) Coupon(couponID string) (domain.Coupon, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	coupon, ok := s.state.coupons[couponID]
	return coupon.Clone(), ok
}

// PutUserCoupon seeds or replaces a redemption ledger row.
func (s *Store) PutUserCoupon(row domain.UserCoupon) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.userCoupons[userCouponKey(row.UserID, row.CouponID)] = row.Clone()
}

// UserCoupon returns a copy of a ledger row.
func (s *Store) UserCoupon(userID, couponID string) (domain.UserCoupon, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.state.userCoupons[userCouponKey(userID, couponID)]
	return row.Clone(), ok
}

// OrderCount reports how many orders are stored.
func (s *Store) OrderCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.state.orders)
}

func userCouponKey(userID, couponID string) string {
	return userID + "\x00" + couponID
}
