package postgres

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	domain "github.com/orderline/api/internal/domain"
	"github.com/orderline/api/internal/repositories"
)

func setupStore(t *testing.T) *Store {
	t.Helper()
	if testing.Short() {
		t.Skip("postgres container tests skipped in -short mode")
	}
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("orders"),
		tcpostgres.WithUsername("orders"),
		tcpostgres.WithPassword("orders"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %s", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	store, err := Open(ctx, Config{DSN: dsn, MaxOpenConns: 8})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close(ctx) })

	require.NoError(t, store.Migrate())
	// a second run must be a no-op
	require.NoError(t, store.Migrate())
	return store
}

func seedProduct(t *testing.T, store *Store, product domain.Product) {
	t.Helper()
	stock := `{"default": 0}`
	if product.Stock != nil {
		encoded, err := json.Marshal(product.Stock)
		require.NoError(t, err)
		stock = string(encoded)
	}
	_, err := store.DB().Exec(`INSERT INTO products (id, name, code, price, discount_price, tax_percent, stock, availability, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, TRUE)`,
		product.ID, product.Name, product.Code, product.Price, int64OrNil(product.DiscountPrice), product.TaxPercent,
		stock, product.Availability)
	require.NoError(t, err)
}

func newOrder(id, userID string, createdAt time.Time) domain.Order {
	order := domain.Order{
		ID:            id,
		OrderNumber:   "ORD-" + id,
		UserID:        userID,
		Items:         []domain.OrderItem{{ProductID: 1, Name: "Kurta", Price: 1000, Quantity: 2, Total: 2000, Tax: 100}},
		PaymentMethod: domain.PaymentMethodCOD,
		PaymentStatus: domain.PaymentStatusPending,
		Status:        domain.OrderStatusPending,
		Currency:      "INR",
		TotalPrice:    2000,
		TaxAmount:     100,
		ShippingAddress: domain.Address{
			FullName: "Asha", Phone: "+911234567890", Line1: "1 Main St", City: "Pune", PostalCode: "411001", Country: "IN",
		},
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
	order.BillingAddress = order.ShippingAddress
	order.RecomputeFinalAmount()
	return order
}

func TestStoreCartAndStockRoundTrip(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	seedProduct(t, store, domain.Product{ID: 1, Name: "Kurta", Price: 1000, Stock: domain.StockLevels{"red": 3}, Availability: true})

	cart, err := store.GetCart(ctx, "user-1")
	require.NoError(t, err)
	assert.Empty(t, cart.Lines)

	err = store.RunInTx(ctx, func(ctx context.Context, tx repositories.Tx) error {
		_, err := tx.GetCart(ctx, "user-1")
		assert.True(t, repositories.IsNotFound(err))

		if err := tx.SaveCart(ctx, domain.Cart{
			UserID:      "user-1",
			Lines:       []domain.CartLine{domain.NewCartLine(1, 2, "red", 1000, "")},
			TotalAmount: 2000,
		}); err != nil {
			return err
		}
		product, err := tx.GetProduct(ctx, 1)
		if err != nil {
			return err
		}
		product.Stock["red"] = 1
		return tx.UpdateProductStock(ctx, 1, product.Stock, true)
	})
	require.NoError(t, err)

	cart, err = store.GetCart(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, cart.Lines, 1)
	id, ok := cart.Lines[0].ProductID()
	assert.True(t, ok)
	assert.Equal(t, int64(1), id)

	err = store.RunInTx(ctx, func(ctx context.Context, tx repositories.Tx) error {
		product, err := tx.GetProduct(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, 1, product.Stock.Available("red"))
		return nil
	})
	require.NoError(t, err)

	err = store.RunInTx(ctx, func(ctx context.Context, tx repositories.Tx) error {
		return tx.UpdateProductStock(ctx, 99, domain.StockLevels{"default": 1}, true)
	})
	assert.True(t, repositories.IsNotFound(err))
}

func TestStoreCouponUsageBounds(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	limit := 1
	now := time.Now().UTC()
	coupon := domain.Coupon{
		ID: "cpn-1", Code: "save10", DiscountType: domain.DiscountTypePercentage, DiscountValue: 10,
		ValidFrom: now.Add(-time.Hour), ValidUntil: now.Add(time.Hour), UsageLimit: &limit, IsActive: true,
		CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, store.RunInTx(ctx, func(ctx context.Context, tx repositories.Tx) error {
		return tx.InsertCoupon(ctx, coupon)
	}))

	err := store.RunInTx(ctx, func(ctx context.Context, tx repositories.Tx) error {
		return tx.InsertCoupon(ctx, coupon)
	})
	assert.True(t, repositories.IsConflict(err))

	require.NoError(t, store.RunInTx(ctx, func(ctx context.Context, tx repositories.Tx) error {
		found, err := tx.FindCouponByCode(ctx, " SAVE10 ")
		if err != nil {
			return err
		}
		assert.Equal(t, "cpn-1", found.ID)
		return tx.AdjustCouponUsage(ctx, found.ID, 1)
	}))

	err = store.RunInTx(ctx, func(ctx context.Context, tx repositories.Tx) error {
		return tx.AdjustCouponUsage(ctx, "cpn-1", 1)
	})
	assert.True(t, repositories.IsUsageLimit(err))

	err = store.RunInTx(ctx, func(ctx context.Context, tx repositories.Tx) error {
		return tx.AdjustCouponUsage(ctx, "missing", 1)
	})
	assert.True(t, repositories.IsNotFound(err))

	require.NoError(t, store.RunInTx(ctx, func(ctx context.Context, tx repositories.Tx) error {
		return tx.AdjustCouponUsage(ctx, "cpn-1", -1)
	}))
	err = store.RunInTx(ctx, func(ctx context.Context, tx repositories.Tx) error {
		return tx.AdjustCouponUsage(ctx, "cpn-1", -1)
	})
	assert.True(t, repositories.IsUsageLimit(err))
}

func TestStoreUserCouponLedger(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	require.NoError(t, store.RunInTx(ctx, func(ctx context.Context, tx repositories.Tx) error {
		return tx.InsertCoupon(ctx, domain.Coupon{
			ID: "cpn-2", Code: "FLAT50", DiscountType: domain.DiscountTypeFixed, DiscountValue: 50,
			ValidFrom: now.Add(-time.Hour), ValidUntil: now.Add(time.Hour), IsActive: true, IsSingleUse: true,
			CreatedAt: now, UpdatedAt: now,
		})
	}))

	orderID := "order-1"
	usedAt := now
	require.NoError(t, store.RunInTx(ctx, func(ctx context.Context, tx repositories.Tx) error {
		return tx.SaveUserCoupon(ctx, domain.UserCoupon{
			UserID: "user-1", CouponID: "cpn-2", IsUsed: true, UsedAt: &usedAt, OrderID: &orderID,
			Source: domain.UserCouponSourceCheckout,
		})
	}))

	views, err := store.ListUserCoupons(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.True(t, views[0].IsUsed)
	require.NotNil(t, views[0].OrderID)
	assert.Equal(t, orderID, *views[0].OrderID)
	assert.Equal(t, "FLAT50", views[0].Coupon.Code)

	require.NoError(t, store.RunInTx(ctx, func(ctx context.Context, tx repositories.Tx) error {
		row, err := tx.GetUserCoupon(ctx, "user-1", "cpn-2")
		if err != nil {
			return err
		}
		row.IsUsed = false
		row.UsedAt = nil
		row.OrderID = nil
		return tx.SaveUserCoupon(ctx, row)
	}))
	views, err = store.ListUserCoupons(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.False(t, views[0].IsUsed)
	assert.Nil(t, views[0].OrderID)

	err = store.RunInTx(ctx, func(ctx context.Context, tx repositories.Tx) error {
		return tx.SaveUserCoupon(ctx, domain.UserCoupon{UserID: "user-1", CouponID: "nope"})
	})
	assert.True(t, repositories.IsNotFound(err))
}

func TestStoreOrdersInsertUpdateAndList(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, store.RunInTx(ctx, func(ctx context.Context, tx repositories.Tx) error {
		for i, id := range []string{"o-1", "o-2", "o-3"} {
			if err := tx.InsertOrder(ctx, newOrder(id, "user-1", base.Add(time.Duration(i)*time.Minute))); err != nil {
				return err
			}
		}
		return tx.InsertOrder(ctx, newOrder("o-4", "user-2", base))
	}))

	err := store.RunInTx(ctx, func(ctx context.Context, tx repositories.Tx) error {
		return tx.InsertOrder(ctx, newOrder("o-1", "user-1", base))
	})
	assert.True(t, repositories.IsConflict(err))

	trackingID := "TRK-1"
	require.NoError(t, store.RunInTx(ctx, func(ctx context.Context, tx repositories.Tx) error {
		order, err := tx.GetOrder(ctx, "o-2")
		if err != nil {
			return err
		}
		shippedAt := base.Add(time.Hour)
		order.Status = domain.OrderStatusShipped
		order.TrackingID = &trackingID
		order.ShippedAt = &shippedAt
		order.UpdatedAt = shippedAt
		return tx.UpdateOrder(ctx, order)
	}))

	tracked, err := store.FindOrderByTrackingID(ctx, trackingID)
	require.NoError(t, err)
	assert.Equal(t, "o-2", tracked.ID)
	assert.Equal(t, domain.OrderStatusShipped, tracked.Status)
	assert.Equal(t, "Pune", tracked.ShippingAddress.City)
	require.NotNil(t, tracked.ShippedAt)

	err = store.RunInTx(ctx, func(ctx context.Context, tx repositories.Tx) error {
		order, err := tx.GetOrder(ctx, "o-3")
		if err != nil {
			return err
		}
		order.TrackingID = &trackingID
		return tx.UpdateOrder(ctx, order)
	})
	assert.True(t, repositories.IsConflict(err))

	page, err := store.ListOrders(ctx, repositories.OrderListFilter{
		UserID:     "user-1",
		Pagination: domain.Pagination{PageSize: 2},
	})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "o-3", page.Items[0].ID)
	assert.Equal(t, "o-2", page.Items[1].ID)
	require.NotEmpty(t, page.NextPageToken)

	page, err = store.ListOrders(ctx, repositories.OrderListFilter{
		UserID:     "user-1",
		Pagination: domain.Pagination{PageSize: 2, PageToken: page.NextPageToken},
	})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "o-1", page.Items[0].ID)
	assert.Empty(t, page.NextPageToken)

	page, err = store.ListOrders(ctx, repositories.OrderListFilter{Status: []domain.OrderStatus{domain.OrderStatusShipped}})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "o-2", page.Items[0].ID)

	_, err = store.FindOrder(ctx, "missing")
	assert.True(t, repositories.IsNotFound(err))
}

func TestStoreFindCouponOrder(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	couponID := "cpn-multi"

	require.NoError(t, store.RunInTx(ctx, func(ctx context.Context, tx repositories.Tx) error {
		if err := tx.InsertCoupon(ctx, domain.Coupon{ID: couponID, Code: "MULTI", DiscountType: domain.DiscountTypeFixed,
			DiscountValue: 10, ValidFrom: base, ValidUntil: base.Add(24 * time.Hour), IsActive: true}); err != nil {
			return err
		}
		for i, id := range []string{"o-1", "o-2", "o-3"} {
			order := newOrder(id, "user-1", base.Add(time.Duration(i)*time.Minute))
			order.CouponID = &couponID
			if id == "o-2" {
				order.Status = domain.OrderStatusCancelled
			}
			if err := tx.InsertOrder(ctx, order); err != nil {
				return err
			}
		}
		return nil
	}))

	require.NoError(t, store.RunInTx(ctx, func(ctx context.Context, tx repositories.Tx) error {
		found, err := tx.FindCouponOrder(ctx, "user-1", couponID, "o-3")
		require.NoError(t, err)
		assert.Equal(t, "o-1", found.ID)

		found, err = tx.FindCouponOrder(ctx, "user-1", couponID, "")
		require.NoError(t, err)
		assert.Equal(t, "o-3", found.ID)

		_, err = tx.FindCouponOrder(ctx, "user-2", couponID, "")
		assert.True(t, repositories.IsNotFound(err))
		return nil
	}))
}

func TestStoreRowLockSerialisesStockDecrements(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	seedProduct(t, store, domain.Product{ID: 7, Name: "Scarf", Price: 500, Stock: domain.StockLevels{"default": 5}, Availability: true})

	const workers = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := store.RunInTx(ctx, func(ctx context.Context, tx repositories.Tx) error {
				product, err := tx.GetProduct(ctx, 7)
				if err != nil {
					return err
				}
				if product.Stock.Available("default") < 1 {
					return repositories.Conflict("test.decrement", "out of stock", nil)
				}
				product.Stock["default"]--
				return tx.UpdateProductStock(ctx, 7, product.Stock, product.Stock.Total() > 0)
			})
			if err == nil {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, accepted)
	require.NoError(t, store.RunInTx(ctx, func(ctx context.Context, tx repositories.Tx) error {
		product, err := tx.GetProduct(ctx, 7)
		require.NoError(t, err)
		assert.Equal(t, 0, product.Stock.Total())
		assert.False(t, product.Availability)
		return nil
	}))
}

func TestStoreRollsBackOnCallbackError(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	seedProduct(t, store, domain.Product{ID: 3, Name: "Dupatta", Price: 700, Stock: domain.StockLevels{"default": 2}, Availability: true})

	err := store.RunInTx(ctx, func(ctx context.Context, tx repositories.Tx) error {
		if err := tx.UpdateProductStock(ctx, 3, domain.StockLevels{"default": 0}, false); err != nil {
			return err
		}
		return repositories.Conflict("test.rollback", "abort", nil)
	})
	require.Error(t, err)

	require.NoError(t, store.RunInTx(ctx, func(ctx context.Context, tx repositories.Tx) error {
		product, err := tx.GetProduct(ctx, 3)
		require.NoError(t, err)
		assert.Equal(t, 2, product.Stock.Available("default"))
		return nil
	}))
}
