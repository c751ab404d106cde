package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/orderline/api/internal/platform/auth"
	"github.com/orderline/api/internal/platform/httpx"
	"github.com/orderline/api/internal/services"
)

const maxAdminBodySize = 32 * 1024

type transitionRequest struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

type createCouponRequest struct {
	Code           string    `json:"code"`
	Description    string    `json:"description"`
	DiscountType   string    `json:"discountType"`
	DiscountValue  float64   `json:"discountValue"`
	MinOrderAmount *int64    `json:"minOrderAmount"`
	MaxDiscount    *int64    `json:"maxDiscount"`
	ValidFrom      time.Time `json:"validFrom"`
	ValidUntil     time.Time `json:"validUntil"`
	UsageLimit     *int      `json:"usageLimit"`
	IsSingleUse    bool      `json:"isSingleUse"`
	IsActive       *bool     `json:"isActive"`
	UserIDs        []string  `json:"userIds"`
}

type assignCouponRequest struct {
	UserIDs []string `json:"userIds"`
	Source  string   `json:"source"`
}

// AdminHandlers exposes order operations and coupon administration to staff
// holding the admin role.
type AdminHandlers struct {
	authn   *auth.Authenticator
	orders  services.OrderService
	coupons services.CouponService
	expose  bool
}

// NewAdminHandlers constructs the admin endpoints. A nil coupon service
// leaves the coupon routes unregistered.
func NewAdminHandlers(authn *auth.Authenticator, orders services.OrderService, coupons services.CouponService, expose bool) *AdminHandlers {
	return &AdminHandlers{authn: authn, orders: orders, coupons: coupons, expose: expose}
}

// Routes registers the /admin endpoints.
func (h *AdminHandlers) Routes(r chi.Router) {
	r.Use(h.authn.RequireAdmin())
	r.Get("/orders", h.listOrders)
	r.Get("/orders/{orderID}", h.getOrder)
	r.Put("/orders/{orderID}/status", h.transitionOrder)
	if h.coupons != nil {
		r.Post("/coupons", h.createCoupon)
		r.Post("/coupons/{couponID}:assign", h.assignCoupon)
	}
}

func (h *AdminHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	filter, err := parseOrderListFilter(r)
	if err != nil {
		writeBadRequest(ctx, w, err)
		return
	}
	filter.UserID = r.URL.Query().Get("userId")

	page, err := h.orders.ListOrders(ctx, filter)
	if err != nil {
		writeServiceError(ctx, w, err, h.expose)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, newOrderListPayload(page))
}

func (h *AdminHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, _ := auth.IdentityFromContext(ctx)
	order, err := h.orders.GetOrder(ctx, services.GetOrderCommand{
		OrderID:      chi.URLParam(r, "orderID"),
		ActorID:      identity.UID,
		ActorIsAdmin: true,
	})
	if err != nil {
		writeServiceError(ctx, w, err, h.expose)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, newOrderPayload(order))
}

func (h *AdminHandlers) transitionOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, _ := auth.IdentityFromContext(ctx)
	var req transitionRequest
	if err := httpx.DecodeJSON(r, maxAdminBodySize, &req); err != nil {
		writeBadRequest(ctx, w, err)
		return
	}
	order, err := h.orders.TransitionStatus(ctx, services.TransitionOrderStatusCommand{
		OrderID:      chi.URLParam(r, "orderID"),
		Status:       services.OrderStatus(req.Status),
		ActorID:      identity.UID,
		ActorIsAdmin: true,
		Reason:       req.Reason,
	})
	if err != nil {
		writeServiceError(ctx, w, err, h.expose)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, newOrderPayload(order))
}

func (h *AdminHandlers) createCoupon(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req createCouponRequest
	if err := httpx.DecodeJSON(r, maxAdminBodySize, &req); err != nil {
		writeBadRequest(ctx, w, err)
		return
	}
	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}
	coupon, err := h.coupons.CreateCoupon(ctx, services.CreateCouponCommand{
		Code:           req.Code,
		Description:    req.Description,
		DiscountType:   services.DiscountType(req.DiscountType),
		DiscountValue:  req.DiscountValue,
		MinOrderAmount: req.MinOrderAmount,
		MaxDiscount:    req.MaxDiscount,
		ValidFrom:      req.ValidFrom,
		ValidUntil:     req.ValidUntil,
		UsageLimit:     req.UsageLimit,
		IsSingleUse:    req.IsSingleUse,
		IsActive:       active,
		UserIDs:        req.UserIDs,
	})
	if err != nil {
		writeServiceError(ctx, w, err, h.expose)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, newCouponPayload(coupon))
}

func (h *AdminHandlers) assignCoupon(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req assignCouponRequest
	if err := httpx.DecodeJSON(r, maxAdminBodySize, &req); err != nil {
		writeBadRequest(ctx, w, err)
		return
	}
	rows, err := h.coupons.AssignCoupon(ctx, services.AssignCouponCommand{
		CouponID: chi.URLParam(r, "couponID"),
		UserIDs:  req.UserIDs,
		Source:   req.Source,
	})
	if err != nil {
		writeServiceError(ctx, w, err, h.expose)
		return
	}
	items := make([]userCouponPayload, 0, len(rows))
	for _, row := range rows {
		items = append(items, newUserCouponPayload(row, nil))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"items": items})
}
