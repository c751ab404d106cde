package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/orderline/api/internal/platform/auth"
	"github.com/orderline/api/internal/platform/httpx"
	"github.com/orderline/api/internal/services"
)

const maxCartBodySize = 16 * 1024

type replaceCartRequest struct {
	Items []struct {
		ProductID int64  `json:"productId"`
		Quantity  int    `json:"quantity"`
		Color     string `json:"color"`
	} `json:"items"`
}

// CartHandlers lets the signed in customer read and fill their cart.
type CartHandlers struct {
	authn  *auth.Authenticator
	carts  services.CartService
	expose bool
}

// NewCartHandlers constructs the cart endpoints.
func NewCartHandlers(authn *auth.Authenticator, carts services.CartService, expose bool) *CartHandlers {
	return &CartHandlers{authn: authn, carts: carts, expose: expose}
}

// Routes registers the /cart endpoints.
func (h *CartHandlers) Routes(r chi.Router) {
	r.Use(h.authn.RequireAuth())
	r.Get("/", h.getCart)
	r.Put("/items", h.replaceItems)
}

func (h *CartHandlers) getCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok {
		writeUnauthenticated(ctx, w)
		return
	}
	cart, err := h.carts.GetCart(ctx, identity.UID)
	if err != nil {
		writeServiceError(ctx, w, err, h.expose)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, newCartPayload(cart))
}

func (h *CartHandlers) replaceItems(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok {
		writeUnauthenticated(ctx, w)
		return
	}
	var req replaceCartRequest
	if err := httpx.DecodeJSON(r, maxCartBodySize, &req); err != nil {
		writeBadRequest(ctx, w, err)
		return
	}
	items := make([]services.CartItemInput, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, services.CartItemInput{ProductID: item.ProductID, Quantity: item.Quantity, Color: item.Color})
	}
	cart, err := h.carts.ReplaceItems(ctx, services.ReplaceCartItemsCommand{UserID: identity.UID, Items: items})
	if err != nil {
		writeServiceError(ctx, w, err, h.expose)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, newCartPayload(cart))
}
