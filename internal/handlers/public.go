package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/orderline/api/internal/platform/httpx"
	"github.com/orderline/api/internal/services"
)

// PublicHandlers serves unauthenticated endpoints.
type PublicHandlers struct {
	orders services.OrderService
	expose bool
}

// NewPublicHandlers constructs the public endpoints.
func NewPublicHandlers(orders services.OrderService, expose bool) *PublicHandlers {
	return &PublicHandlers{orders: orders, expose: expose}
}

// Routes registers the /public endpoints.
func (h *PublicHandlers) Routes(r chi.Router) {
	r.Get("/track/{trackingID}", h.trackOrder)
}

// trackOrder answers with the public projection only; the tracking id is the
// sole credential.
func (h *PublicHandlers) trackOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	view, err := h.orders.TrackOrder(ctx, chi.URLParam(r, "trackingID"))
	if err != nil {
		writeServiceError(ctx, w, err, h.expose)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	httpx.WriteJSON(w, http.StatusOK, trackingPayload{
		TrackingID:      view.TrackingID,
		OrderNumber:     view.OrderNumber,
		Status:          string(view.Status),
		ShippingAddress: newAddressPayload(view.ShippingAddress),
		LastUpdated:     view.LastUpdated,
	})
}
