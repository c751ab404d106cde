package services

import (
	"context"

	domain "github.com/orderline/api/internal/domain"
	"github.com/orderline/api/internal/repositories"
)

// StockLedger moves product stock for placed and cancelled orders.
type StockLedger struct{}

// Decrement removes the validated quantities from stock. Each product is
// re-read under the transaction lock and the quantity re-checked, so a
// concurrent placement that committed first surfaces as *StockConflictError.
func (StockLedger) Decrement(ctx context.Context, tx repositories.Tx, items []ValidatedItem) error {
	for _, item := range items {
		product, err := tx.GetProduct(ctx, item.ProductID)
		if err != nil {
			return err
		}
		stock := product.Stock.Clone()
		available := stock.Available(item.StockKey)
		if available < item.Quantity {
			return &StockConflictError{
				ProductID:   product.ID,
				ProductName: product.Name,
				Color:       item.Color,
				Available:   available,
				Requested:   item.Quantity,
				Reason:      StockReasonOutOfStock,
			}
		}
		stock[item.StockKey] = available - item.Quantity
		if err := tx.UpdateProductStock(ctx, product.ID, stock, stock.Total() > 0); err != nil {
			return err
		}
	}
	return nil
}

// Restore returns ordered quantities to stock. Products that no longer exist
// are skipped and reported.
func (StockLedger) Restore(ctx context.Context, tx repositories.Tx, items []domain.OrderItem) ([]int64, error) {
	var skipped []int64
	for _, item := range items {
		if item.Quantity <= 0 {
			continue
		}
		product, err := tx.GetProduct(ctx, item.ProductID)
		if err != nil {
			if repositories.IsNotFound(err) {
				skipped = append(skipped, item.ProductID)
				continue
			}
			return nil, err
		}
		stock := product.Stock.Clone()
		key := stock.Resolve(item.ColorName)
		stock[key] = stock.Available(key) + item.Quantity
		if err := tx.UpdateProductStock(ctx, product.ID, stock, stock.Total() > 0); err != nil {
			return nil, err
		}
	}
	return skipped, nil
}
