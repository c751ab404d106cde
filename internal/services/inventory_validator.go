package services

import (
	"context"
	"strconv"

	domain "github.com/orderline/api/internal/domain"
	"github.com/orderline/api/internal/repositories"
)

// ValidatedItem is a snapshot line bound to the product row it was checked against.
type ValidatedItem struct {
	CartSnapshotItem
	Product  domain.Product
	StockKey string
}

// InventoryValidator checks every snapshot line against current product rows.
// Reads go through the transaction so the rows stay locked until commit.
type InventoryValidator struct{}

// Validate fails on the first line whose product is missing, inactive, not
// stocked in the requested colour or short of stock. Lines sharing a stock key
// are checked against their combined quantity.
func (InventoryValidator) Validate(ctx context.Context, tx repositories.Tx, items []CartSnapshotItem) ([]ValidatedItem, error) {
	products := make(map[int64]domain.Product, len(items))
	claimed := map[int64]map[string]int{}
	validated := make([]ValidatedItem, 0, len(items))

	for _, item := range items {
		product, ok := products[item.ProductID]
		if !ok {
			var err error
			product, err = tx.GetProduct(ctx, item.ProductID)
			if err != nil {
				if repositories.IsNotFound(err) {
					return nil, &NotFoundError{Entity: "product", ID: strconv.FormatInt(item.ProductID, 10)}
				}
				return nil, err
			}
			products[item.ProductID] = product
		}

		if !product.IsActive {
			return nil, &StockConflictError{
				ProductID:   product.ID,
				ProductName: product.Name,
				Color:       item.Color,
				Requested:   item.Quantity,
				Reason:      StockReasonInactive,
			}
		}

		key, ok := product.Stock.Lookup(item.Color)
		if !ok {
			return nil, &NotFoundError{Entity: "product colour", ID: variantID(product.ID, item.Color)}
		}
		if claimed[product.ID] == nil {
			claimed[product.ID] = map[string]int{}
		}
		available := product.Stock.Available(key) - claimed[product.ID][key]
		if available < item.Quantity {
			if available < 0 {
				available = 0
			}
			return nil, &StockConflictError{
				ProductID:   product.ID,
				ProductName: product.Name,
				Color:       item.Color,
				Available:   available,
				Requested:   item.Quantity,
				Reason:      StockReasonOutOfStock,
			}
		}
		claimed[product.ID][key] += item.Quantity

		validated = append(validated, ValidatedItem{CartSnapshotItem: item, Product: product, StockKey: key})
	}
	return validated, nil
}

func variantID(productID int64, color string) string {
	if color == "" {
		color = "(none)"
	}
	return strconv.FormatInt(productID, 10) + "/" + color
}
