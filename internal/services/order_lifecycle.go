package services

import (
	"context"
	"slices"
	"time"

	domain "github.com/orderline/api/internal/domain"
	"github.com/orderline/api/internal/repositories"
)

var orderStateTransitions = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderStatusPending: {
		domain.OrderStatusProcessing,
		domain.OrderStatusShipped,
		domain.OrderStatusDelivered,
		domain.OrderStatusCancelled,
	},
	domain.OrderStatusProcessing: {
		domain.OrderStatusPending,
		domain.OrderStatusShipped,
		domain.OrderStatusDelivered,
		domain.OrderStatusCancelled,
	},
	domain.OrderStatusShipped: {domain.OrderStatusDelivered},
}

var customerCancellableStatuses = []domain.OrderStatus{
	domain.OrderStatusPending,
	domain.OrderStatusProcessing,
}

// ValidOrderStatus reports whether status is a known lifecycle state.
func ValidOrderStatus(status domain.OrderStatus) bool {
	switch status {
	case domain.OrderStatusPending, domain.OrderStatusProcessing, domain.OrderStatusShipped,
		domain.OrderStatusDelivered, domain.OrderStatusCancelled:
		return true
	}
	return false
}

// CanTransition reports whether the lifecycle allows moving from one status to another.
func CanTransition(from, to domain.OrderStatus) bool {
	return slices.Contains(orderStateTransitions[from], to)
}

// TransitionOutcome describes what Apply changed.
type TransitionOutcome struct {
	Previous       domain.OrderStatus
	Changed        bool
	RestockSkipped []int64
}

// OrderLifecycle applies status changes and their side effects inside a transaction.
type OrderLifecycle struct {
	now           func() time.Time
	newTrackingID func() string
	ledger        StockLedger
	coupons       *CouponRedeemer
}

func NewOrderLifecycle(clock func() time.Time, newTrackingID func() string, coupons *CouponRedeemer) *OrderLifecycle {
	if clock == nil {
		clock = time.Now
	}
	if newTrackingID == nil {
		newTrackingID = TrackingIDGenerator("")
	}
	if coupons == nil {
		coupons = NewCouponRedeemer(clock)
	}
	return &OrderLifecycle{now: clock, newTrackingID: newTrackingID, coupons: coupons}
}

// Apply moves order to status. Requesting the current status of a
// non-terminal order is a no-op. Terminal orders reject every request with
// *TransitionError and nothing is written.
func (l *OrderLifecycle) Apply(ctx context.Context, tx repositories.Tx, order *domain.Order, status domain.OrderStatus, reason string) (TransitionOutcome, error) {
	outcome := TransitionOutcome{Previous: order.Status}
	if order.Status.IsTerminal() {
		return outcome, &TransitionError{Current: order.Status, Requested: status}
	}
	if order.Status == status {
		return outcome, nil
	}
	if !CanTransition(order.Status, status) {
		return outcome, &TransitionError{Current: order.Status, Requested: status}
	}

	now := l.now().UTC()
	switch status {
	case domain.OrderStatusShipped:
		if order.TrackingID == nil || *order.TrackingID == "" {
			trackingID := l.newTrackingID()
			order.TrackingID = &trackingID
		}
		order.ShippedAt = &now
	case domain.OrderStatusDelivered:
		if order.PaymentMethod == domain.PaymentMethodCOD && order.PaymentStatus == domain.PaymentStatusPending {
			order.PaymentStatus = domain.PaymentStatusPaid
		}
		order.DeliveredAt = &now
	case domain.OrderStatusCancelled:
		skipped, err := l.ledger.Restore(ctx, tx, order.Items)
		if err != nil {
			return outcome, err
		}
		outcome.RestockSkipped = skipped
		if err := l.coupons.Revert(ctx, tx, *order); err != nil {
			return outcome, err
		}
		if order.PaymentStatus == domain.PaymentStatusPaid {
			order.PaymentStatus = domain.PaymentStatusRefunded
		} else {
			order.PaymentStatus = domain.PaymentStatusFailed
		}
		order.CancelledAt = &now
		order.CancelReason = reason
	}

	order.Status = status
	order.UpdatedAt = now
	if err := tx.UpdateOrder(ctx, *order); err != nil {
		return outcome, err
	}
	outcome.Changed = true
	return outcome, nil
}
