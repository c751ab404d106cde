package services

import (
	"context"
	"strconv"
	"strings"
	"time"

	domain "github.com/orderline/api/internal/domain"
	"github.com/orderline/api/internal/repositories"
)

// CartSnapshotItem is a sanitized cart line taken for one placement attempt.
type CartSnapshotItem struct {
	ProductID int64
	Quantity  int
	Color     string
}

// CartSnapshot is the outcome of loading a cart.
type CartSnapshot struct {
	Items     []CartSnapshotItem
	Discarded int
}

// CartSnapshotLoader reads the cart inside the placement transaction and heals
// it by dropping lines that do not reference a product.
type CartSnapshotLoader struct {
	now func() time.Time
}

// NewCartSnapshotLoader builds a loader using clock for cart update stamps.
func NewCartSnapshotLoader(clock func() time.Time) *CartSnapshotLoader {
	if clock == nil {
		clock = time.Now
	}
	return &CartSnapshotLoader{now: clock}
}

// Load returns the cart snapshot for userID. When any line was dropped the
// cleaned cart is written back through tx. ErrCartEmpty is returned when no
// line survives; the write has been staged by then, so callers that want the
// cleanup to persist must still commit the transaction.
func (l *CartSnapshotLoader) Load(ctx context.Context, tx repositories.Tx, userID string) (CartSnapshot, error) {
	cart, err := tx.GetCart(ctx, userID)
	if err != nil {
		if repositories.IsNotFound(err) {
			return CartSnapshot{}, ErrCartEmpty
		}
		return CartSnapshot{}, err
	}

	kept := make([]domain.CartLine, 0, len(cart.Lines))
	snapshot := CartSnapshot{}
	positions := map[string]int{}
	for _, line := range cart.Lines {
		productID, ok := line.ProductID()
		if !ok {
			snapshot.Discarded++
			continue
		}
		qty, ok := line.Quantity()
		if !ok {
			snapshot.Discarded++
			continue
		}
		kept = append(kept, line)

		// repeated lines for one product colour are ordered as a single line
		color := line.Color()
		key := snapshotKey(productID, color)
		if idx, exists := positions[key]; exists {
			snapshot.Items[idx].Quantity += qty
			continue
		}
		positions[key] = len(snapshot.Items)
		snapshot.Items = append(snapshot.Items, CartSnapshotItem{ProductID: productID, Quantity: qty, Color: color})
	}

	if snapshot.Discarded > 0 {
		cart.Lines = kept
		cart.TotalAmount = cartTotal(kept)
		cart.UpdatedAt = l.now().UTC()
		if err := tx.SaveCart(ctx, cart); err != nil {
			return CartSnapshot{}, err
		}
	}
	if len(snapshot.Items) == 0 {
		return snapshot, ErrCartEmpty
	}
	return snapshot, nil
}

func snapshotKey(productID int64, color string) string {
	return strconv.FormatInt(productID, 10) + "/" + strings.ToLower(color)
}

func cartTotal(lines []domain.CartLine) int64 {
	var total int64
	for _, line := range lines {
		qty, ok := line.Quantity()
		if !ok {
			continue
		}
		total += line.Price() * int64(qty)
	}
	return total
}
