package handlers

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/orderline/api/internal/platform/httpx"
	"github.com/orderline/api/internal/platform/requestctx"
	"github.com/orderline/api/internal/services"
)

// writeServiceError maps service failures onto the HTTP error envelope.
// Unmapped errors are logged and reported as a generic 500 unless expose is set.
func writeServiceError(ctx context.Context, w http.ResponseWriter, err error, expose bool) {
	var (
		verr     *services.ValidationError
		stock    *services.StockConflictError
		coupon   *services.CouponRejectedError
		transit  *services.TransitionError
		notFound *services.NotFoundError
	)
	switch {
	case errors.As(err, &verr):
		details := make(map[string]any, len(verr.Fields))
		for field, msg := range verr.Fields {
			details[field] = msg
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", verr.Error(), http.StatusBadRequest).
			WithDetails(map[string]any{"fields": details}))
	case errors.Is(err, services.ErrCartEmpty):
		httpx.WriteError(ctx, w, httpx.NewError("cart_empty", "cart is empty", http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderInvalidInput),
		errors.Is(err, services.ErrCartInvalidInput),
		errors.Is(err, services.ErrCouponInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.As(err, &notFound):
		httpx.WriteError(ctx, w, httpx.NewError("not_found", notFound.Error(), http.StatusNotFound).
			WithDetails(map[string]any{"entity": notFound.Entity, "id": notFound.ID}))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCouponNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("coupon_not_found", "coupon not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderForbidden):
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", "not allowed to change this order", http.StatusForbidden))
	case errors.As(err, &stock):
		httpx.WriteError(ctx, w, httpx.NewError(stock.Reason, stock.Error(), http.StatusConflict).
			WithDetails(map[string]any{
				"productId":   stock.ProductID,
				"productName": stock.ProductName,
				"color":       stock.Color,
				"available":   stock.Available,
				"requested":   stock.Requested,
			}))
	case errors.As(err, &coupon):
		httpx.WriteError(ctx, w, httpx.NewError(coupon.Reason, coupon.Error(), http.StatusConflict).
			WithDetails(map[string]any{"code": coupon.Code}))
	case errors.As(err, &transit):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_transition", transit.Error(), http.StatusConflict).
			WithDetails(map[string]any{"currentStatus": transit.Current, "requestedStatus": transit.Requested}))
	case errors.Is(err, services.ErrOrderConflict), errors.Is(err, services.ErrCouponConflict):
		httpx.WriteError(ctx, w, httpx.NewError("conflict", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderUnavailable):
		requestctx.Logger(ctx).Warn("store unavailable", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "service temporarily unavailable", http.StatusServiceUnavailable))
	default:
		requestctx.Logger(ctx).Error("request failed", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.Internal(err, expose))
	}
}

func writeUnauthenticated(ctx context.Context, w http.ResponseWriter) {
	httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
}

func writeBadRequest(ctx context.Context, w http.ResponseWriter, err error) {
	if errors.Is(err, httpx.ErrBodyTooLarge) {
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		return
	}
	httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
}
