package services

import (
	"errors"
	"fmt"

	domain "github.com/orderline/api/internal/domain"
	"github.com/orderline/api/internal/repositories"
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order or an entity it references could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderInvalidState indicates an invalid status transition was attempted.
	ErrOrderInvalidState = errors.New("order: invalid status transition")
	// ErrOrderConflict indicates stock, coupon or uniqueness conflicts.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrOrderForbidden indicates the actor may not act on the order.
	ErrOrderForbidden = errors.New("order: forbidden")
	// ErrOrderUnavailable indicates the backing store could not be reached.
	ErrOrderUnavailable = errors.New("order: unavailable")
	// ErrCartEmpty is returned when the cart holds no orderable items. Any
	// cleanup of malformed items has still been committed.
	ErrCartEmpty = errors.New("order: cart empty or cleared")

	// ErrCartInvalidInput signals bad cart maintenance input.
	ErrCartInvalidInput = errors.New("cart: invalid input")

	// ErrCouponInvalidInput signals bad coupon administration input.
	ErrCouponInvalidInput = errors.New("coupon: invalid input")
	// ErrCouponNotFound indicates the coupon does not exist.
	ErrCouponNotFound = errors.New("coupon: not found")
	// ErrCouponConflict indicates a duplicate coupon code.
	ErrCouponConflict = errors.New("coupon: conflict")
)

// NotFoundError names a missing entity referenced while processing an order.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrOrderNotFound }

// Stock conflict reasons.
const (
	StockReasonOutOfStock = "out_of_stock"
	StockReasonInactive   = "product_inactive"
)

// StockConflictError reports a cart line that cannot be fulfilled.
type StockConflictError struct {
	ProductID   int64
	ProductName string
	Color       string
	Available   int
	Requested   int
	Reason      string
}

func (e *StockConflictError) Error() string {
	if e.Reason == StockReasonInactive {
		return fmt.Sprintf("product %s is no longer available", e.describe())
	}
	return fmt.Sprintf("insufficient stock for %s: %d available, %d requested", e.describe(), e.Available, e.Requested)
}

func (e *StockConflictError) describe() string {
	name := e.ProductName
	if name == "" {
		name = fmt.Sprintf("#%d", e.ProductID)
	}
	if e.Color != "" {
		return fmt.Sprintf("%s (%s)", name, e.Color)
	}
	return name
}

func (e *StockConflictError) Unwrap() error { return ErrOrderConflict }

// Coupon rejection reasons.
const (
	CouponReasonUsageLimit  = "coupon_usage_limit"
	CouponReasonMinOrder    = "coupon_min_order"
	CouponReasonAlreadyUsed = "coupon_already_used"
	CouponReasonNotAllowed  = "coupon_not_allowed"
)

// CouponRejectedError reports a coupon that exists but cannot be applied.
type CouponRejectedError struct {
	Code   string
	Reason string
	Detail string
}

func (e *CouponRejectedError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("coupon %s cannot be used: %s", e.Code, e.Detail)
	}
	return fmt.Sprintf("coupon %s cannot be used", e.Code)
}

func (e *CouponRejectedError) Unwrap() error { return ErrOrderConflict }

// TransitionError reports a status change the lifecycle does not allow.
type TransitionError struct {
	Current   domain.OrderStatus
	Requested domain.OrderStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot move order from %s to %s", e.Current, e.Requested)
}

func (e *TransitionError) Unwrap() error { return ErrOrderInvalidState }

// ValidationError carries field level problems with a request.
type ValidationError struct {
	Base   error
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 1 {
		for field, msg := range e.Fields {
			return fmt.Sprintf("%v: %s %s", e.Base, field, msg)
		}
	}
	return fmt.Sprintf("%v: %d invalid fields", e.Base, len(e.Fields))
}

func (e *ValidationError) Unwrap() error { return e.Base }

func (e *ValidationError) add(field, msg string) {
	if e.Fields == nil {
		e.Fields = map[string]string{}
	}
	if _, exists := e.Fields[field]; !exists {
		e.Fields[field] = msg
	}
}

func (e *ValidationError) errOrNil() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}

// mapRepositoryError converts store failures into order sentinels. Errors that
// do not originate in the store are returned unchanged.
func mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if !errors.As(err, &repoErr) {
		return err
	}
	switch {
	case repoErr.IsNotFound():
		return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
	case repoErr.IsConflict():
		return fmt.Errorf("%w: %v", ErrOrderConflict, err)
	case repoErr.IsUnavailable():
		return fmt.Errorf("%w: %v", ErrOrderUnavailable, err)
	default:
		return fmt.Errorf("order: repository error: %w", err)
	}
}
