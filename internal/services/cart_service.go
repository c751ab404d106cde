package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/orderline/api/internal/domain"
	"github.com/orderline/api/internal/repositories"
)

const (
	maxCartLines        = 50
	maxCartLineQuantity = 99
)

// CartServiceDeps wires the store for cart operations.
type CartServiceDeps struct {
	Store  repositories.Store
	Clock  func() time.Time
	Logger func(ctx context.Context, event string, fields map[string]any)
}

type cartService struct {
	store  repositories.Store
	now    func() time.Time
	logger func(context.Context, string, map[string]any)
}

// NewCartService constructs the cart maintenance service.
func NewCartService(deps CartServiceDeps) (CartService, error) {
	if deps.Store == nil {
		return nil, errors.New("cart service: store is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &cartService{
		store:  deps.Store,
		now:    func() time.Time { return clock().UTC() },
		logger: logger,
	}, nil
}

func (s *cartService) GetCart(ctx context.Context, userID string) (Cart, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Cart{}, fmt.Errorf("%w: user id is required", ErrCartInvalidInput)
	}
	cart, err := s.store.GetCart(ctx, userID)
	if err != nil {
		return Cart{}, mapRepositoryError(err)
	}
	if cart.Lines == nil {
		cart.Lines = []CartLine{}
	}
	return cart, nil
}

// ReplaceItems overwrites the cart with the given lines. Each line captures the
// product's current unit price and image; both are re-read when ordering.
func (s *cartService) ReplaceItems(ctx context.Context, cmd ReplaceCartItemsCommand) (Cart, error) {
	userID := strings.TrimSpace(cmd.UserID)
	verr := &ValidationError{Base: ErrCartInvalidInput}
	if userID == "" {
		verr.add("userId", "is required")
	}
	if len(cmd.Items) > maxCartLines {
		verr.add("items", fmt.Sprintf("must hold at most %d lines", maxCartLines))
	}
	for i, item := range cmd.Items {
		if item.ProductID <= 0 {
			verr.add(fmt.Sprintf("items[%d].productId", i), "must be positive")
		}
		if item.Quantity <= 0 || item.Quantity > maxCartLineQuantity {
			verr.add(fmt.Sprintf("items[%d].quantity", i), fmt.Sprintf("must be between 1 and %d", maxCartLineQuantity))
		}
	}
	if err := verr.errOrNil(); err != nil {
		return Cart{}, err
	}

	var cart Cart
	var failure error
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx repositories.Tx) error {
		lines := make([]CartLine, 0, len(cmd.Items))
		var total int64
		for i, item := range cmd.Items {
			product, err := tx.GetProduct(ctx, item.ProductID)
			if err != nil {
				if repositories.IsNotFound(err) {
					failure = &ValidationError{Base: ErrCartInvalidInput, Fields: map[string]string{
						fmt.Sprintf("items[%d].productId", i): "does not exist",
					}}
					return failure
				}
				return err
			}
			if !product.IsActive {
				failure = &ValidationError{Base: ErrCartInvalidInput, Fields: map[string]string{
					fmt.Sprintf("items[%d].productId", i): "is not available",
				}}
				return failure
			}
			if _, ok := product.Stock.Lookup(item.Color); !ok {
				msg := "is not offered for this product"
				if strings.TrimSpace(item.Color) == "" {
					msg = "is required for this product"
				}
				failure = &ValidationError{Base: ErrCartInvalidInput, Fields: map[string]string{
					fmt.Sprintf("items[%d].color", i): msg,
				}}
				return failure
			}
			price := product.UnitPrice()
			total += price * int64(item.Quantity)
			lines = append(lines, domain.NewCartLine(product.ID, item.Quantity, item.Color, price, lineImage(product, item.Color)))
		}
		cart = Cart{UserID: userID, Lines: lines, TotalAmount: total, UpdatedAt: s.now()}
		return tx.SaveCart(ctx, cart)
	})
	if err != nil {
		if failure != nil {
			return Cart{}, failure
		}
		s.logger(ctx, "cart.replace.failed", map[string]any{"userId": userID, "error": err.Error()})
		return Cart{}, mapRepositoryError(err)
	}
	return cart, nil
}
