package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/orderline/api/internal/domain"
	"github.com/orderline/api/internal/platform/auth"
	"github.com/orderline/api/internal/platform/httpx"
	"github.com/orderline/api/internal/platform/pagination"
	"github.com/orderline/api/internal/services"
)

const (
	maxPlaceOrderBodySize = 16 * 1024
	maxCancelBodySize     = 4 * 1024
	maxOrderPageSize      = 100
)

type placeOrderRequest struct {
	ShippingAddress addressPayload  `json:"shippingAddress"`
	BillingAddress  *addressPayload `json:"billingAddress"`
	PaymentMethod   string          `json:"paymentMethod"`
	CouponCode      string          `json:"couponCode"`
	Notes           string          `json:"notes"`
}

type cancelOrderRequest struct {
	Reason string `json:"reason"`
}

// OrderHandlers serves the customer's own orders.
type OrderHandlers struct {
	authn       *auth.Authenticator
	orders      services.OrderService
	idempotency func(http.Handler) http.Handler
	expose      bool
}

// OrderHandlersOption customises OrderHandlers.
type OrderHandlersOption func(*OrderHandlers)

// WithPlaceOrderMiddleware wraps only order placement, typically with the
// Idempotency-Key middleware.
func WithPlaceOrderMiddleware(mw func(http.Handler) http.Handler) OrderHandlersOption {
	return func(h *OrderHandlers) { h.idempotency = mw }
}

// WithExposedErrors includes internal error causes in 500 responses.
func WithExposedErrors(expose bool) OrderHandlersOption {
	return func(h *OrderHandlers) { h.expose = expose }
}

// NewOrderHandlers constructs the customer order endpoints.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService, opts ...OrderHandlersOption) *OrderHandlers {
	h := &OrderHandlers{authn: authn, orders: orders}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	r.Use(h.authn.RequireAuth())
	place := http.Handler(http.HandlerFunc(h.placeOrder))
	if h.idempotency != nil {
		place = h.idempotency(place)
	}
	r.Method(http.MethodPost, "/", place)
	r.Get("/", h.listOrders)
	r.Get("/{orderID}", h.getOrder)
	r.Post("/{orderID}:cancel", h.cancelOrder)
}

func (h *OrderHandlers) placeOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok {
		writeUnauthenticated(ctx, w)
		return
	}
	var req placeOrderRequest
	if err := httpx.DecodeJSON(r, maxPlaceOrderBodySize, &req); err != nil {
		writeBadRequest(ctx, w, err)
		return
	}

	cmd := services.PlaceOrderCommand{
		UserID:          identity.UID,
		ShippingAddress: req.ShippingAddress.toDomain(),
		PaymentMethod:   services.PaymentMethod(req.PaymentMethod),
		CouponCode:      req.CouponCode,
		Notes:           req.Notes,
	}
	if req.BillingAddress != nil {
		billing := req.BillingAddress.toDomain()
		cmd.BillingAddress = &billing
	}

	order, err := h.orders.PlaceOrder(ctx, cmd)
	if err != nil {
		writeServiceError(ctx, w, err, h.expose)
		return
	}
	w.Header().Set("Location", "/api/v1/orders/"+order.ID)
	httpx.WriteJSON(w, http.StatusCreated, newOrderPayload(order))
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok {
		writeUnauthenticated(ctx, w)
		return
	}
	filter, err := parseOrderListFilter(r)
	if err != nil {
		writeBadRequest(ctx, w, err)
		return
	}
	filter.UserID = identity.UID

	page, err := h.orders.ListOrders(ctx, filter)
	if err != nil {
		writeServiceError(ctx, w, err, h.expose)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, newOrderListPayload(page))
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok {
		writeUnauthenticated(ctx, w)
		return
	}
	order, err := h.orders.GetOrder(ctx, services.GetOrderCommand{
		OrderID:      chi.URLParam(r, "orderID"),
		ActorID:      identity.UID,
		ActorIsAdmin: identity.IsAdmin(),
	})
	if err != nil {
		writeServiceError(ctx, w, err, h.expose)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, newOrderPayload(order))
}

// cancelOrder is the customer's only lifecycle action. The body is optional.
func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok {
		writeUnauthenticated(ctx, w)
		return
	}
	var req cancelOrderRequest
	if r.ContentLength != 0 {
		if err := httpx.DecodeJSON(r, maxCancelBodySize, &req); err != nil {
			writeBadRequest(ctx, w, err)
			return
		}
	}

	order, err := h.orders.TransitionStatus(ctx, services.TransitionOrderStatusCommand{
		OrderID:      chi.URLParam(r, "orderID"),
		Status:       domain.OrderStatusCancelled,
		ActorID:      identity.UID,
		ActorIsAdmin: false,
		Reason:       req.Reason,
	})
	if err != nil {
		writeServiceError(ctx, w, err, h.expose)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, newOrderPayload(order))
}

// parseOrderListFilter reads status, createdAfter, createdBefore, pageSize and
// pageToken query parameters. status may repeat or be comma separated.
func parseOrderListFilter(r *http.Request) (services.OrderListFilter, error) {
	query := r.URL.Query()
	var filter services.OrderListFilter

	for _, raw := range query["status"] {
		for _, part := range strings.Split(raw, ",") {
			if part = strings.ToLower(strings.TrimSpace(part)); part != "" {
				filter.Status = append(filter.Status, domain.OrderStatus(part))
			}
		}
	}
	for key, target := range map[string]**time.Time{
		"createdAfter":  &filter.DateRange.From,
		"createdBefore": &filter.DateRange.To,
	} {
		raw := strings.TrimSpace(query.Get(key))
		if raw == "" {
			continue
		}
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, &queryError{param: key, reason: "must be an RFC3339 timestamp"}
		}
		ts = ts.UTC()
		*target = &ts
	}
	size, err := pagination.ClampPageSize(query.Get("pageSize"), pagination.Options{MaxPageSize: maxOrderPageSize})
	if err != nil {
		return filter, &queryError{param: "pageSize", reason: "must be an integer"}
	}
	filter.Pagination.PageSize = size
	filter.Pagination.PageToken = strings.TrimSpace(query.Get("pageToken"))
	return filter, nil
}

type queryError struct {
	param  string
	reason string
}

func (e *queryError) Error() string {
	return e.param + " " + e.reason
}
