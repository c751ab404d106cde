package repositories

import (
	"fmt"
	"strings"
	"time"

	domain "github.com/orderline/api/internal/domain"
	"github.com/orderline/api/internal/platform/pagination"
)

// OrderCursor is the keyset position of an order listing ordered by
// createdAt descending then id descending.
type OrderCursor struct {
	CreatedAt time.Time
	ID        string
}

// EncodeOrderCursor builds the page token resuming after order.
func EncodeOrderCursor(order domain.Order) (string, error) {
	return pagination.EncodeToken(pagination.Cursor{
		StartAfter: []any{order.CreatedAt.UTC().Format(time.RFC3339Nano), order.ID},
	})
}

// DecodeOrderCursor parses a page token. ok is false for an empty token.
func DecodeOrderCursor(token string) (cursor OrderCursor, ok bool, err error) {
	if strings.TrimSpace(token) == "" {
		return OrderCursor{}, false, nil
	}
	decoded, err := pagination.DecodeToken(token)
	if err != nil {
		return OrderCursor{}, false, err
	}
	if len(decoded.StartAfter) != 2 {
		return OrderCursor{}, false, fmt.Errorf("%w: unexpected cursor shape", pagination.ErrInvalidPageToken)
	}
	rawTime, okTime := decoded.StartAfter[0].(string)
	id, okID := decoded.StartAfter[1].(string)
	if !okTime || !okID || id == "" {
		return OrderCursor{}, false, fmt.Errorf("%w: unexpected cursor values", pagination.ErrInvalidPageToken)
	}
	createdAt, err := time.Parse(time.RFC3339Nano, rawTime)
	if err != nil {
		return OrderCursor{}, false, fmt.Errorf("%w: %v", pagination.ErrInvalidPageToken, err)
	}
	return OrderCursor{CreatedAt: createdAt.UTC(), ID: id}, true, nil
}

// After reports whether order sorts strictly after the cursor position.
func (c OrderCursor) After(order domain.Order) bool {
	if order.CreatedAt.Equal(c.CreatedAt) {
		return order.ID < c.ID
	}
	return order.CreatedAt.Before(c.CreatedAt)
}

// PageSize bounds the requested size for order listings.
func PageSize(requested int) int {
	return pagination.Normalize(requested, pagination.Options{})
}

// NormalizeCouponCode is the canonical form used for coupon lookups.
func NormalizeCouponCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
