package observability

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	domain "github.com/orderline/api/internal/domain"
)

const meterName = "github.com/orderline/api/orders"

// OrderMetrics records order throughput with OpenTelemetry instruments.
type OrderMetrics struct {
	placed        metric.Int64Counter
	revenue       metric.Int64Counter
	transitions   metric.Int64Counter
	notifyFailure metric.Int64Counter
}

// NewOrderMetrics registers the order instruments on meter, or on the global
// meter provider when meter is nil.
func NewOrderMetrics(meter metric.Meter) (*OrderMetrics, error) {
	if meter == nil {
		meter = otel.Meter(meterName)
	}
	placed, err1 := meter.Int64Counter("orders.placed",
		metric.WithDescription("Orders committed by checkout."))
	revenue, err2 := meter.Int64Counter("orders.revenue",
		metric.WithDescription("Final amount of placed orders in minor units."),
		metric.WithUnit("{minor_unit}"))
	transitions, err3 := meter.Int64Counter("orders.status_transitions",
		metric.WithDescription("Committed order status changes."))
	notify, err4 := meter.Int64Counter("orders.notifications_failed",
		metric.WithDescription("Customer notifications that could not be handed off."))
	if err := errors.Join(err1, err2, err3, err4); err != nil {
		return nil, err
	}
	return &OrderMetrics{
		placed:        placed,
		revenue:       revenue,
		transitions:   transitions,
		notifyFailure: notify,
	}, nil
}

func (m *OrderMetrics) OrderPlaced(ctx context.Context, order domain.Order) {
	attrs := metric.WithAttributes(
		attribute.String("currency", order.Currency),
		attribute.String("payment_method", string(order.PaymentMethod)),
		attribute.Bool("coupon", order.CouponID != nil),
	)
	m.placed.Add(ctx, 1, attrs)
	m.revenue.Add(ctx, order.FinalAmount, attrs)
}

func (m *OrderMetrics) StatusChanged(ctx context.Context, from, to domain.OrderStatus) {
	m.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", string(from)),
		attribute.String("to", string(to)),
	))
}

func (m *OrderMetrics) NotificationFailed(ctx context.Context, kind string) {
	m.notifyFailure.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}
