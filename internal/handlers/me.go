package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/orderline/api/internal/platform/auth"
	"github.com/orderline/api/internal/platform/httpx"
	"github.com/orderline/api/internal/services"
)

// MeHandlers serves data scoped to the signed in customer.
type MeHandlers struct {
	authn   *auth.Authenticator
	coupons services.CouponService
	expose  bool
}

// NewMeHandlers constructs the /me endpoints.
func NewMeHandlers(authn *auth.Authenticator, coupons services.CouponService, expose bool) *MeHandlers {
	return &MeHandlers{authn: authn, coupons: coupons, expose: expose}
}

// Routes registers the /me endpoints.
func (h *MeHandlers) Routes(r chi.Router) {
	r.Use(h.authn.RequireAuth())
	r.Get("/coupons", h.listCoupons)
}

func (h *MeHandlers) listCoupons(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok {
		writeUnauthenticated(ctx, w)
		return
	}
	views, err := h.coupons.ListUserCoupons(ctx, identity.UID)
	if err != nil {
		writeServiceError(ctx, w, err, h.expose)
		return
	}
	items := make([]userCouponPayload, 0, len(views))
	for _, view := range views {
		coupon := view.Coupon
		items = append(items, newUserCouponPayload(view.UserCoupon, &coupon))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"items": items})
}
