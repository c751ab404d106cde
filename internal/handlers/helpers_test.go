package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	firebaseauth "firebase.google.com/go/v4/auth"
	"github.com/go-chi/chi/v5"

	domain "github.com/orderline/api/internal/domain"
	"github.com/orderline/api/internal/platform/auth"
	"github.com/orderline/api/internal/services"
)

const (
	customerToken = "customer-token"
	adminToken    = "admin-token"
)

type tokenTable map[string]*firebaseauth.Token

func (t tokenTable) VerifyIDToken(_ context.Context, raw string) (*firebaseauth.Token, error) {
	if token, ok := t[raw]; ok {
		return token, nil
	}
	return nil, errors.New("unknown token")
}

func testAuthenticator() *auth.Authenticator {
	return auth.NewAuthenticator(tokenTable{
		customerToken: {UID: "user-1", Claims: map[string]any{}},
		adminToken:    {UID: "admin-1", Claims: map[string]any{"role": "admin"}},
	})
}

type stubOrderService struct {
	placeFn      func(context.Context, services.PlaceOrderCommand) (services.Order, error)
	transitionFn func(context.Context, services.TransitionOrderStatusCommand) (services.Order, error)
	trackFn      func(context.Context, string) (services.OrderTracking, error)
	getFn        func(context.Context, services.GetOrderCommand) (services.Order, error)
	listFn       func(context.Context, services.OrderListFilter) (domain.CursorPage[services.Order], error)
}

func (s *stubOrderService) PlaceOrder(ctx context.Context, cmd services.PlaceOrderCommand) (services.Order, error) {
	if s.placeFn != nil {
		return s.placeFn(ctx, cmd)
	}
	return services.Order{}, errors.New("not implemented")
}

func (s *stubOrderService) TransitionStatus(ctx context.Context, cmd services.TransitionOrderStatusCommand) (services.Order, error) {
	if s.transitionFn != nil {
		return s.transitionFn(ctx, cmd)
	}
	return services.Order{}, errors.New("not implemented")
}

func (s *stubOrderService) TrackOrder(ctx context.Context, trackingID string) (services.OrderTracking, error) {
	if s.trackFn != nil {
		return s.trackFn(ctx, trackingID)
	}
	return services.OrderTracking{}, errors.New("not implemented")
}

func (s *stubOrderService) GetOrder(ctx context.Context, cmd services.GetOrderCommand) (services.Order, error) {
	if s.getFn != nil {
		return s.getFn(ctx, cmd)
	}
	return services.Order{}, errors.New("not implemented")
}

func (s *stubOrderService) ListOrders(ctx context.Context, filter services.OrderListFilter) (domain.CursorPage[services.Order], error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return domain.CursorPage[services.Order]{}, nil
}

type stubCartService struct {
	getFn     func(context.Context, string) (services.Cart, error)
	replaceFn func(context.Context, services.ReplaceCartItemsCommand) (services.Cart, error)
}

func (s *stubCartService) GetCart(ctx context.Context, userID string) (services.Cart, error) {
	return s.getFn(ctx, userID)
}

func (s *stubCartService) ReplaceItems(ctx context.Context, cmd services.ReplaceCartItemsCommand) (services.Cart, error) {
	return s.replaceFn(ctx, cmd)
}

type stubCouponService struct {
	createFn func(context.Context, services.CreateCouponCommand) (services.Coupon, error)
	assignFn func(context.Context, services.AssignCouponCommand) ([]services.UserCoupon, error)
	listFn   func(context.Context, string) ([]services.UserCouponView, error)
}

func (s *stubCouponService) CreateCoupon(ctx context.Context, cmd services.CreateCouponCommand) (services.Coupon, error) {
	return s.createFn(ctx, cmd)
}

func (s *stubCouponService) AssignCoupon(ctx context.Context, cmd services.AssignCouponCommand) ([]services.UserCoupon, error) {
	return s.assignFn(ctx, cmd)
}

func (s *stubCouponService) ListUserCoupons(ctx context.Context, userID string) ([]services.UserCouponView, error) {
	return s.listFn(ctx, userID)
}

// mount serves a single group the way NewRouter mounts it.
func mount(path string, reg RouteRegistrar) http.Handler {
	r := chi.NewRouter()
	r.Route(path, reg)
	return r
}

func do(t *testing.T, h http.Handler, method, target, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body %q: %v", rr.Body.String(), err)
	}
	return body
}
