package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/orderline/api/internal/domain"
	"github.com/orderline/api/internal/repositories"
	"github.com/orderline/api/internal/repositories/memory"
)

var testNow = time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)

type captureNotifier struct {
	mu        sync.Mutex
	shipped   []string
	delivered []string
	err       error
}

func (c *captureNotifier) NotifyShipped(_ context.Context, phone, orderNumber, trackingID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.shipped = append(c.shipped, phone+"|"+orderNumber+"|"+trackingID)
	return c.err
}

func (c *captureNotifier) NotifyDelivered(_ context.Context, phone, orderNumber string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.delivered = append(c.delivered, phone+"|"+orderNumber)
	return c.err
}

type captureOrderEvents struct {
	events []OrderEvent
}

func (c *captureOrderEvents) PublishOrderEvent(_ context.Context, event OrderEvent) error {
	c.events = append(c.events, event)
	return nil
}

type orderFixture struct {
	store    *memory.Store
	svc      OrderService
	notifier *captureNotifier
	events   *captureOrderEvents
	logs     []string
}

func newOrderFixture(t *testing.T) *orderFixture {
	t.Helper()
	fx := &orderFixture{
		store:    memory.NewStore(memory.WithClock(func() time.Time { return testNow })),
		notifier: &captureNotifier{},
		events:   &captureOrderEvents{},
	}
	svc, err := NewOrderService(OrderServiceDeps{
		Store:    fx.store,
		Currency: "INR",
		Clock:    func() time.Time { return testNow },
		Notifier: fx.notifier,
		Events:   fx.events,
		Logger: func(_ context.Context, event string, _ map[string]any) {
			fx.logs = append(fx.logs, event)
		},
	})
	require.NoError(t, err)
	fx.svc = svc
	return fx
}

func (fx *orderFixture) seedProduct(id int64, price int64, tax float64, stock domain.StockLevels) {
	fx.store.PutProduct(domain.Product{
		ID:           id,
		Name:         fmt.Sprintf("Product %d", id),
		Code:         fmt.Sprintf("P-%d", id),
		Price:        price,
		TaxPercent:   tax,
		Stock:        stock,
		Availability: stock.Total() > 0,
		IsActive:     true,
		Images:       []string{fmt.Sprintf("https://img.example/%d.jpg", id)},
	})
}

func (fx *orderFixture) seedCart(userID string, lines ...domain.CartLine) {
	fx.store.PutCart(domain.Cart{UserID: userID, Lines: lines})
}

func (fx *orderFixture) stock(t *testing.T, id int64) domain.StockLevels {
	t.Helper()
	product, ok := fx.store.Product(id)
	require.True(t, ok)
	return product.Stock
}

func placeCommand(userID string) PlaceOrderCommand {
	return PlaceOrderCommand{
		UserID: userID,
		ShippingAddress: Address{
			FullName:   "Asha Rao",
			Phone:      "+919800000001",
			Line1:      "12 MG Road",
			City:       "Bengaluru",
			State:      "KA",
			PostalCode: "560001",
			Country:    "in",
		},
		PaymentMethod: domain.PaymentMethodCOD,
	}
}

func int64Ptr(v int64) *int64 { return &v }

func intPtr(v int) *int { return &v }

func TestPlaceOrderWithoutCoupon(t *testing.T) {
	fx := newOrderFixture(t)
	fx.seedProduct(1, 100, 5, domain.NewStockLevels(10))
	fx.seedCart("user-1", domain.NewCartLine(1, 3, "", 100, ""))

	order, err := fx.svc.PlaceOrder(context.Background(), placeCommand("user-1"))
	require.NoError(t, err)

	assert.Equal(t, int64(300), order.TotalPrice)
	assert.Equal(t, int64(15), order.TaxAmount)
	assert.Equal(t, int64(0), order.DiscountAmount)
	assert.Equal(t, int64(0), order.ShippingCost)
	assert.Equal(t, int64(315), order.FinalAmount)
	assert.Equal(t, domain.OrderStatusPending, order.Status)
	assert.Equal(t, domain.PaymentStatusPending, order.PaymentStatus)
	assert.Equal(t, "INR", order.Currency)
	assert.Regexp(t, `^ORD-\d+-[0-9A-F]{6}$`, order.OrderNumber)
	assert.Equal(t, order.ShippingAddress, order.BillingAddress)
	require.Len(t, order.Items, 1)
	assert.Equal(t, "Product 1", order.Items[0].Name)
	assert.Equal(t, "https://img.example/1.jpg", order.Items[0].Image)

	assert.Equal(t, 7, fx.stock(t, 1)[domain.DefaultVariant])

	cart, err := fx.store.GetCart(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Empty(t, cart.Lines)
	assert.Zero(t, cart.TotalAmount)

	require.Len(t, fx.events.events, 1)
	assert.Equal(t, orderEventCreated, fx.events.events[0].Type)
}

func TestPlaceOrderPercentageCouponIsCapped(t *testing.T) {
	fx := newOrderFixture(t)
	fx.seedProduct(1, 100, 5, domain.NewStockLevels(10))
	fx.seedCart("user-1", domain.NewCartLine(1, 3, "", 100, ""))
	fx.store.PutCoupon(domain.Coupon{
		ID:            "c-10",
		Code:          "SAVE10",
		DiscountType:  domain.DiscountTypePercentage,
		DiscountValue: 10,
		MaxDiscount:   int64Ptr(20),
		ValidFrom:     testNow.Add(-time.Hour),
		ValidUntil:    testNow.Add(time.Hour),
		IsActive:      true,
	})

	cmd := placeCommand("user-1")
	cmd.CouponCode = " save10 "
	order, err := fx.svc.PlaceOrder(context.Background(), cmd)
	require.NoError(t, err)

	assert.Equal(t, int64(20), order.DiscountAmount)
	assert.Equal(t, int64(295), order.FinalAmount)
	require.NotNil(t, order.CouponID)
	assert.Equal(t, "c-10", *order.CouponID)

	coupon, _ := fx.store.Coupon("c-10")
	assert.Equal(t, 1, coupon.UsedCount)
	row, ok := fx.store.UserCoupon("user-1", "c-10")
	require.True(t, ok)
	assert.True(t, row.IsUsed)
	require.NotNil(t, row.OrderID)
	assert.Equal(t, order.ID, *row.OrderID)
}

func TestPlaceOrderOutOfStockRollsBack(t *testing.T) {
	fx := newOrderFixture(t)
	fx.seedProduct(1, 100, 5, domain.NewStockLevels(3))
	fx.seedCart("user-1", domain.NewCartLine(1, 5, "Red", 100, ""))

	_, err := fx.svc.PlaceOrder(context.Background(), placeCommand("user-1"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrOrderConflict)

	var stockErr *StockConflictError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, 3, stockErr.Available)
	assert.Equal(t, 5, stockErr.Requested)
	assert.Equal(t, "Product 1", stockErr.ProductName)
	assert.Equal(t, "Red", stockErr.Color)

	assert.Equal(t, 3, fx.stock(t, 1)[domain.DefaultVariant])
	assert.Zero(t, fx.store.OrderCount())
	cart, _ := fx.store.GetCart(context.Background(), "user-1")
	assert.Len(t, cart.Lines, 1)
}

func TestPlaceOrderExpiredCouponIsIgnored(t *testing.T) {
	fx := newOrderFixture(t)
	fx.seedProduct(1, 100, 5, domain.NewStockLevels(10))
	fx.seedCart("user-1", domain.NewCartLine(1, 3, "", 100, ""))
	fx.store.PutCoupon(domain.Coupon{
		ID:            "c-old",
		Code:          "OLD",
		DiscountType:  domain.DiscountTypeFixed,
		DiscountValue: 50,
		ValidFrom:     testNow.Add(-48 * time.Hour),
		ValidUntil:    testNow.Add(-24 * time.Hour),
		IsActive:      true,
	})

	cmd := placeCommand("user-1")
	cmd.CouponCode = "OLD"
	order, err := fx.svc.PlaceOrder(context.Background(), cmd)
	require.NoError(t, err)
	assert.Zero(t, order.DiscountAmount)
	assert.Nil(t, order.CouponID)
	assert.Equal(t, int64(315), order.FinalAmount)

	coupon, _ := fx.store.Coupon("c-old")
	assert.Zero(t, coupon.UsedCount)
}

func TestPlaceOrderUnknownCouponIsIgnored(t *testing.T) {
	fx := newOrderFixture(t)
	fx.seedProduct(1, 100, 0, domain.NewStockLevels(1))
	fx.seedCart("user-1", domain.NewCartLine(1, 1, "", 100, ""))

	cmd := placeCommand("user-1")
	cmd.CouponCode = "NOPE"
	order, err := fx.svc.PlaceOrder(context.Background(), cmd)
	require.NoError(t, err)
	assert.Equal(t, int64(100), order.FinalAmount)
}

func TestPlaceOrderCouponHardFailures(t *testing.T) {
	base := domain.Coupon{
		ID:            "c-1",
		Code:          "HARD",
		DiscountType:  domain.DiscountTypeFixed,
		DiscountValue: 10,
		ValidFrom:     testNow.Add(-time.Hour),
		ValidUntil:    testNow.Add(time.Hour),
		IsActive:      true,
	}
	tests := []struct {
		name   string
		mutate func(*domain.Coupon)
		used   bool
		reason string
	}{
		{name: "usage limit reached", mutate: func(c *domain.Coupon) { c.UsageLimit = intPtr(2); c.UsedCount = 2 }, reason: CouponReasonUsageLimit},
		{name: "below minimum order", mutate: func(c *domain.Coupon) { c.MinOrderAmount = int64Ptr(1000) }, reason: CouponReasonMinOrder},
		{name: "single use already used", mutate: func(c *domain.Coupon) { c.IsSingleUse = true }, used: true, reason: CouponReasonAlreadyUsed},
		{name: "restricted to other users", mutate: func(c *domain.Coupon) { c.UserIDs = []string{"someone-else"} }, reason: CouponReasonNotAllowed},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			fx := newOrderFixture(t)
			fx.seedProduct(1, 100, 5, domain.NewStockLevels(10))
			fx.seedCart("user-1", domain.NewCartLine(1, 3, "", 100, ""))
			coupon := base.Clone()
			tc.mutate(&coupon)
			fx.store.PutCoupon(coupon)
			if tc.used {
				fx.store.PutUserCoupon(domain.UserCoupon{UserID: "user-1", CouponID: coupon.ID, IsUsed: true})
			}

			cmd := placeCommand("user-1")
			cmd.CouponCode = "HARD"
			_, err := fx.svc.PlaceOrder(context.Background(), cmd)
			require.Error(t, err)

			var rejected *CouponRejectedError
			require.ErrorAs(t, err, &rejected)
			assert.Equal(t, tc.reason, rejected.Reason)
			assert.ErrorIs(t, err, ErrOrderConflict)
			assert.Equal(t, 10, fx.stock(t, 1)[domain.DefaultVariant])
			assert.Zero(t, fx.store.OrderCount())
		})
	}
}

func TestPlaceOrderFixedDiscountClampsFinalAmount(t *testing.T) {
	fx := newOrderFixture(t)
	fx.seedProduct(1, 100, 5, domain.NewStockLevels(10))
	fx.seedCart("user-1", domain.NewCartLine(1, 1, "", 100, ""))
	fx.store.PutCoupon(domain.Coupon{
		ID:            "c-big",
		Code:          "BIG",
		DiscountType:  domain.DiscountTypeFixed,
		DiscountValue: 500,
		ValidFrom:     testNow.Add(-time.Hour),
		ValidUntil:    testNow.Add(time.Hour),
		IsActive:      true,
	})

	cmd := placeCommand("user-1")
	cmd.CouponCode = "BIG"
	order, err := fx.svc.PlaceOrder(context.Background(), cmd)
	require.NoError(t, err)
	assert.Equal(t, int64(105), order.DiscountAmount)
	assert.Zero(t, order.FinalAmount)
	assert.Equal(t, order.TotalPrice+order.ShippingCost+order.TaxAmount-order.DiscountAmount, order.FinalAmount)
}

func TestPlaceOrderHealsCart(t *testing.T) {
	t.Run("malformed lines are dropped and the rest ordered", func(t *testing.T) {
		fx := newOrderFixture(t)
		fx.seedProduct(1, 100, 0, domain.NewStockLevels(5))
		fx.seedCart("user-1",
			domain.CartLine{domain.CartLineProductID: "null", domain.CartLineQuantity: 1},
			domain.NewCartLine(1, 2, "", 100, ""),
			domain.CartLine{domain.CartLineProductID: "abc", domain.CartLineQuantity: 1},
		)

		order, err := fx.svc.PlaceOrder(context.Background(), placeCommand("user-1"))
		require.NoError(t, err)
		require.Len(t, order.Items, 1)
		assert.Equal(t, 3, fx.stock(t, 1)[domain.DefaultVariant])
	})

	t.Run("cleanup persists when nothing is left", func(t *testing.T) {
		fx := newOrderFixture(t)
		fx.seedCart("user-1",
			domain.CartLine{domain.CartLineProductID: nil, domain.CartLineQuantity: 1},
			domain.CartLine{domain.CartLineProductID: "undefined"},
		)

		_, err := fx.svc.PlaceOrder(context.Background(), placeCommand("user-1"))
		require.ErrorIs(t, err, ErrCartEmpty)

		cart, err := fx.store.GetCart(context.Background(), "user-1")
		require.NoError(t, err)
		assert.Empty(t, cart.Lines)
		assert.Zero(t, fx.store.OrderCount())
	})

	t.Run("missing cart", func(t *testing.T) {
		fx := newOrderFixture(t)
		_, err := fx.svc.PlaceOrder(context.Background(), placeCommand("nobody"))
		require.ErrorIs(t, err, ErrCartEmpty)
	})
}

func TestPlaceOrderProductFailures(t *testing.T) {
	t.Run("missing product", func(t *testing.T) {
		fx := newOrderFixture(t)
		fx.seedCart("user-1", domain.NewCartLine(42, 1, "", 100, ""))

		_, err := fx.svc.PlaceOrder(context.Background(), placeCommand("user-1"))
		var notFound *NotFoundError
		require.ErrorAs(t, err, &notFound)
		assert.Equal(t, "product", notFound.Entity)
		assert.Equal(t, "42", notFound.ID)
		assert.ErrorIs(t, err, ErrOrderNotFound)
	})

	t.Run("inactive product", func(t *testing.T) {
		fx := newOrderFixture(t)
		fx.store.PutProduct(domain.Product{ID: 2, Name: "Retired", Price: 10, Stock: domain.NewStockLevels(5)})
		fx.seedCart("user-1", domain.NewCartLine(2, 1, "", 10, ""))

		_, err := fx.svc.PlaceOrder(context.Background(), placeCommand("user-1"))
		var stockErr *StockConflictError
		require.ErrorAs(t, err, &stockErr)
		assert.Equal(t, StockReasonInactive, stockErr.Reason)
	})
}

func TestPlaceOrderVariantStock(t *testing.T) {
	fx := newOrderFixture(t)
	fx.store.PutProduct(domain.Product{
		ID:       5,
		Name:     "Kurta",
		Price:    250,
		Stock:    domain.StockLevels{"Red": 2, "Blue": 4},
		IsActive: true,
		Variants: []domain.ProductVariant{
			{Name: "Red", MainImage: "red.jpg"},
			{Name: "Blue", MainImage: "blue.jpg"},
		},
	})
	fx.seedCart("user-1",
		domain.NewCartLine(5, 1, "blue", 250, ""),
		domain.NewCartLine(5, 2, "Blue", 250, ""),
		domain.NewCartLine(5, 2, "Red", 250, ""),
	)

	order, err := fx.svc.PlaceOrder(context.Background(), placeCommand("user-1"))
	require.NoError(t, err)
	require.Len(t, order.Items, 2)
	assert.Equal(t, 3, order.Items[0].Quantity)
	assert.Equal(t, "blue.jpg", order.Items[0].Image)
	assert.Equal(t, "red.jpg", order.Items[1].Image)

	stock := fx.stock(t, 5)
	assert.Equal(t, 1, stock["Blue"])
	assert.Equal(t, 0, stock["Red"])
	product, _ := fx.store.Product(5)
	assert.True(t, product.Availability)
}

func TestPlaceOrderUnstockedColour(t *testing.T) {
	tests := []struct {
		name  string
		color string
		id    string
	}{
		{name: "missing colour", color: "", id: "1/(none)"},
		{name: "unknown colour", color: "green", id: "1/green"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			fx := newOrderFixture(t)
			fx.seedProduct(1, 100, 0, domain.StockLevels{"red": 5, "blue": 5})
			fx.seedCart("user-1", domain.NewCartLine(1, 2, tc.color, 100, ""))

			_, err := fx.svc.PlaceOrder(context.Background(), placeCommand("user-1"))
			var notFound *NotFoundError
			require.ErrorAs(t, err, &notFound)
			assert.Equal(t, "product colour", notFound.Entity)
			assert.Equal(t, tc.id, notFound.ID)
			var stockErr *StockConflictError
			assert.False(t, errors.As(err, &stockErr), "stocked products must not report zero availability")

			stock := fx.stock(t, 1)
			assert.Equal(t, 5, stock["red"])
			assert.Equal(t, 5, stock["blue"])
		})
	}
}

func TestPlaceOrderValidation(t *testing.T) {
	fx := newOrderFixture(t)
	cmd := placeCommand("user-1")
	cmd.ShippingAddress = Address{}
	cmd.PaymentMethod = "barter"

	_, err := fx.svc.PlaceOrder(context.Background(), cmd)
	require.ErrorIs(t, err, ErrOrderInvalidInput)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "shippingAddress")
	assert.Contains(t, verr.Fields, "paymentMethod")
}

func TestPlaceOrderStockNeverOversold(t *testing.T) {
	fx := newOrderFixture(t)
	fx.seedProduct(1, 100, 0, domain.NewStockLevels(5))
	const buyers = 8
	for i := 0; i < buyers; i++ {
		fx.seedCart(fmt.Sprintf("user-%d", i), domain.NewCartLine(1, 1, "", 100, ""))
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		placed    int
		conflicts int
	)
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := fx.svc.PlaceOrder(context.Background(), placeCommand(fmt.Sprintf("user-%d", i)))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				placed++
			case errors.Is(err, ErrOrderConflict):
				conflicts++
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 5, placed)
	assert.Equal(t, buyers-5, conflicts)
	assert.Equal(t, 0, fx.stock(t, 1)[domain.DefaultVariant])
	product, _ := fx.store.Product(1)
	assert.False(t, product.Availability)
}

func TestTransitionShippedThenDelivered(t *testing.T) {
	fx := newOrderFixture(t)
	fx.seedProduct(1, 100, 5, domain.NewStockLevels(10))
	fx.seedCart("user-1", domain.NewCartLine(1, 1, "", 100, ""))
	order, err := fx.svc.PlaceOrder(context.Background(), placeCommand("user-1"))
	require.NoError(t, err)

	shipped, err := fx.svc.TransitionStatus(context.Background(), TransitionOrderStatusCommand{
		OrderID: order.ID, Status: domain.OrderStatusShipped, ActorID: "admin", ActorIsAdmin: true,
	})
	require.NoError(t, err)
	require.NotNil(t, shipped.TrackingID)
	assert.Regexp(t, `^TRK[0-9A-F]{12}$`, *shipped.TrackingID)
	assert.NotNil(t, shipped.ShippedAt)
	require.Len(t, fx.notifier.shipped, 1)
	assert.Equal(t, "+919800000001|"+order.OrderNumber+"|"+*shipped.TrackingID, fx.notifier.shipped[0])

	delivered, err := fx.svc.TransitionStatus(context.Background(), TransitionOrderStatusCommand{
		OrderID: order.ID, Status: domain.OrderStatusDelivered, ActorID: "admin", ActorIsAdmin: true,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusPaid, delivered.PaymentStatus)
	assert.Equal(t, *shipped.TrackingID, *delivered.TrackingID)
	assert.Len(t, fx.notifier.delivered, 1)

	tracking, err := fx.svc.TrackOrder(context.Background(), *shipped.TrackingID)
	require.NoError(t, err)
	assert.Equal(t, order.OrderNumber, tracking.OrderNumber)
	assert.Equal(t, domain.OrderStatusDelivered, tracking.Status)
	assert.Equal(t, order.ShippingAddress, tracking.ShippingAddress)

	_, err = fx.svc.TransitionStatus(context.Background(), TransitionOrderStatusCommand{
		OrderID: order.ID, Status: domain.OrderStatusCancelled, ActorIsAdmin: true,
	})
	var transitionErr *TransitionError
	require.ErrorAs(t, err, &transitionErr)
	assert.Equal(t, domain.OrderStatusDelivered, transitionErr.Current)
	assert.Equal(t, domain.OrderStatusCancelled, transitionErr.Requested)
}

func TestTransitionNotificationFailureDoesNotRollBack(t *testing.T) {
	fx := newOrderFixture(t)
	fx.notifier.err = errors.New("sms gateway down")
	fx.seedProduct(1, 100, 0, domain.NewStockLevels(10))
	fx.seedCart("user-1", domain.NewCartLine(1, 1, "", 100, ""))
	order, err := fx.svc.PlaceOrder(context.Background(), placeCommand("user-1"))
	require.NoError(t, err)

	shipped, err := fx.svc.TransitionStatus(context.Background(), TransitionOrderStatusCommand{
		OrderID: order.ID, Status: domain.OrderStatusShipped, ActorIsAdmin: true,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusShipped, shipped.Status)
	assert.Contains(t, fx.logs, "order.notification.failed")

	stored, err := fx.store.FindOrder(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusShipped, stored.Status)
}

func TestCancelRestoresStockAndCoupon(t *testing.T) {
	fx := newOrderFixture(t)
	fx.seedProduct(1, 100, 5, domain.NewStockLevels(10))
	fx.seedProduct(2, 40, 0, domain.StockLevels{"Green": 3})
	fx.seedCart("user-1", domain.NewCartLine(1, 3, "", 100, ""), domain.NewCartLine(2, 2, "green", 40, ""))
	fx.store.PutCoupon(domain.Coupon{
		ID:            "c-once",
		Code:          "ONCE",
		DiscountType:  domain.DiscountTypeFixed,
		DiscountValue: 25,
		ValidFrom:     testNow.Add(-time.Hour),
		ValidUntil:    testNow.Add(time.Hour),
		IsSingleUse:   true,
		IsActive:      true,
	})

	cmd := placeCommand("user-1")
	cmd.CouponCode = "ONCE"
	order, err := fx.svc.PlaceOrder(context.Background(), cmd)
	require.NoError(t, err)
	coupon, _ := fx.store.Coupon("c-once")
	require.Equal(t, 1, coupon.UsedCount)

	cancelled, err := fx.svc.TransitionStatus(context.Background(), TransitionOrderStatusCommand{
		OrderID: order.ID, Status: domain.OrderStatusCancelled, ActorID: "user-1", Reason: "changed my mind",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, cancelled.Status)
	assert.Equal(t, domain.PaymentStatusFailed, cancelled.PaymentStatus)
	assert.Equal(t, "changed my mind", cancelled.CancelReason)
	assert.NotNil(t, cancelled.CancelledAt)

	assert.Equal(t, 10, fx.stock(t, 1)[domain.DefaultVariant])
	assert.Equal(t, 3, fx.stock(t, 2)["Green"])
	coupon, _ = fx.store.Coupon("c-once")
	assert.Zero(t, coupon.UsedCount)
	row, ok := fx.store.UserCoupon("user-1", "c-once")
	require.True(t, ok)
	assert.False(t, row.IsUsed)
	assert.Nil(t, row.OrderID)
	assert.Nil(t, row.UsedAt)

	// the coupon can be used again after the cancellation
	fx.seedCart("user-1", domain.NewCartLine(1, 1, "", 100, ""))
	again, err := fx.svc.PlaceOrder(context.Background(), cmd)
	require.NoError(t, err)
	assert.Equal(t, int64(25), again.DiscountAmount)
}

func TestCancelKeepsReusableCouponOnLiveOrder(t *testing.T) {
	fx := newOrderFixture(t)
	fx.seedProduct(1, 100, 0, domain.NewStockLevels(10))
	fx.store.PutCoupon(domain.Coupon{
		ID:            "c-multi",
		Code:          "MULTI",
		DiscountType:  domain.DiscountTypeFixed,
		DiscountValue: 10,
		ValidFrom:     testNow.Add(-time.Hour),
		ValidUntil:    testNow.Add(time.Hour),
		IsActive:      true,
	})
	cmd := placeCommand("user-1")
	cmd.CouponCode = "MULTI"

	fx.seedCart("user-1", domain.NewCartLine(1, 1, "", 100, ""))
	first, err := fx.svc.PlaceOrder(context.Background(), cmd)
	require.NoError(t, err)
	fx.seedCart("user-1", domain.NewCartLine(1, 1, "", 100, ""))
	second, err := fx.svc.PlaceOrder(context.Background(), cmd)
	require.NoError(t, err)

	row, ok := fx.store.UserCoupon("user-1", "c-multi")
	require.True(t, ok)
	require.Equal(t, second.ID, *row.OrderID)

	_, err = fx.svc.TransitionStatus(context.Background(), TransitionOrderStatusCommand{
		OrderID: second.ID, Status: domain.OrderStatusCancelled, ActorID: "user-1",
	})
	require.NoError(t, err)

	row, _ = fx.store.UserCoupon("user-1", "c-multi")
	assert.True(t, row.IsUsed, "the first order still holds the coupon")
	require.NotNil(t, row.OrderID)
	assert.Equal(t, first.ID, *row.OrderID)
	coupon, _ := fx.store.Coupon("c-multi")
	assert.Equal(t, 1, coupon.UsedCount)

	_, err = fx.svc.TransitionStatus(context.Background(), TransitionOrderStatusCommand{
		OrderID: first.ID, Status: domain.OrderStatusCancelled, ActorID: "user-1",
	})
	require.NoError(t, err)

	row, _ = fx.store.UserCoupon("user-1", "c-multi")
	assert.False(t, row.IsUsed)
	assert.Nil(t, row.OrderID)
	coupon, _ = fx.store.Coupon("c-multi")
	assert.Zero(t, coupon.UsedCount)
}

func TestCancelTerminalOrderHasNoSideEffects(t *testing.T) {
	for _, terminal := range []domain.OrderStatus{domain.OrderStatusCancelled, domain.OrderStatusDelivered} {
		t.Run(string(terminal), func(t *testing.T) {
			fx := newOrderFixture(t)
			fx.seedProduct(1, 100, 0, domain.NewStockLevels(10))
			fx.seedCart("user-1", domain.NewCartLine(1, 2, "", 100, ""))
			order, err := fx.svc.PlaceOrder(context.Background(), placeCommand("user-1"))
			require.NoError(t, err)
			_, err = fx.svc.TransitionStatus(context.Background(), TransitionOrderStatusCommand{
				OrderID: order.ID, Status: terminal, ActorIsAdmin: true,
			})
			require.NoError(t, err)

			before := fx.stock(t, 1)
			eventsBefore := len(fx.events.events)
			for i := 0; i < 2; i++ {
				_, err = fx.svc.TransitionStatus(context.Background(), TransitionOrderStatusCommand{
					OrderID: order.ID, Status: domain.OrderStatusCancelled, ActorID: "user-1",
				})
				require.ErrorIs(t, err, ErrOrderInvalidState)
			}
			assert.Equal(t, before, fx.stock(t, 1))
			assert.Len(t, fx.events.events, eventsBefore)
		})
	}
}

func TestCancelPaidOrderIsRefunded(t *testing.T) {
	fx := newOrderFixture(t)
	fx.store.PutProduct(domain.Product{ID: 1, Name: "Mug", Price: 50, Stock: domain.NewStockLevels(2), IsActive: true})
	order := domain.Order{
		ID:            "ord-paid",
		OrderNumber:   "ORD-1-PAID",
		UserID:        "user-1",
		Items:         []domain.OrderItem{{ProductID: 1, Quantity: 2, Price: 50, Total: 100}},
		PaymentMethod: domain.PaymentMethodCard,
		PaymentStatus: domain.PaymentStatusPaid,
		Status:        domain.OrderStatusProcessing,
		CreatedAt:     testNow,
		UpdatedAt:     testNow,
	}
	require.NoError(t, fx.store.RunInTx(context.Background(), func(ctx context.Context, tx repositories.Tx) error {
		return tx.InsertOrder(ctx, order)
	}))

	cancelled, err := fx.svc.TransitionStatus(context.Background(), TransitionOrderStatusCommand{
		OrderID: order.ID, Status: domain.OrderStatusCancelled, ActorIsAdmin: true,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusRefunded, cancelled.PaymentStatus)
	assert.Equal(t, 4, fx.stock(t, 1)[domain.DefaultVariant])
}

func TestTransitionPermissions(t *testing.T) {
	fx := newOrderFixture(t)
	fx.seedProduct(1, 100, 0, domain.NewStockLevels(10))
	fx.seedCart("user-1", domain.NewCartLine(1, 1, "", 100, ""))
	order, err := fx.svc.PlaceOrder(context.Background(), placeCommand("user-1"))
	require.NoError(t, err)

	_, err = fx.svc.TransitionStatus(context.Background(), TransitionOrderStatusCommand{
		OrderID: order.ID, Status: domain.OrderStatusShipped, ActorID: "user-1",
	})
	assert.ErrorIs(t, err, ErrOrderForbidden)

	_, err = fx.svc.TransitionStatus(context.Background(), TransitionOrderStatusCommand{
		OrderID: order.ID, Status: domain.OrderStatusCancelled, ActorID: "user-2",
	})
	assert.ErrorIs(t, err, ErrOrderForbidden)

	_, err = fx.svc.TransitionStatus(context.Background(), TransitionOrderStatusCommand{
		OrderID: "missing", Status: domain.OrderStatusCancelled, ActorIsAdmin: true,
	})
	assert.ErrorIs(t, err, ErrOrderNotFound)

	_, err = fx.svc.TransitionStatus(context.Background(), TransitionOrderStatusCommand{
		OrderID: order.ID, Status: "teleported", ActorIsAdmin: true,
	})
	assert.ErrorIs(t, err, ErrOrderInvalidInput)

	_, err = fx.svc.TransitionStatus(context.Background(), TransitionOrderStatusCommand{
		OrderID: order.ID, Status: domain.OrderStatusShipped, ActorIsAdmin: true,
	})
	require.NoError(t, err)
	_, err = fx.svc.TransitionStatus(context.Background(), TransitionOrderStatusCommand{
		OrderID: order.ID, Status: domain.OrderStatusCancelled, ActorID: "user-1",
	})
	assert.ErrorIs(t, err, ErrOrderInvalidState)
}

func TestTransitionSameStatusIsNoop(t *testing.T) {
	fx := newOrderFixture(t)
	fx.seedProduct(1, 100, 0, domain.NewStockLevels(10))
	fx.seedCart("user-1", domain.NewCartLine(1, 1, "", 100, ""))
	order, err := fx.svc.PlaceOrder(context.Background(), placeCommand("user-1"))
	require.NoError(t, err)

	same, err := fx.svc.TransitionStatus(context.Background(), TransitionOrderStatusCommand{
		OrderID: order.ID, Status: domain.OrderStatusPending, ActorIsAdmin: true,
	})
	require.NoError(t, err)
	assert.Equal(t, order.UpdatedAt, same.UpdatedAt)
	assert.Len(t, fx.events.events, 1)
}

func TestTrackOrderErrors(t *testing.T) {
	fx := newOrderFixture(t)
	_, err := fx.svc.TrackOrder(context.Background(), "  ")
	assert.ErrorIs(t, err, ErrOrderInvalidInput)

	_, err = fx.svc.TrackOrder(context.Background(), "TRKUNKNOWN")
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestGetAndListOrders(t *testing.T) {
	fx := newOrderFixture(t)
	fx.seedProduct(1, 100, 0, domain.NewStockLevels(10))
	fx.seedCart("user-1", domain.NewCartLine(1, 1, "", 100, ""))
	order, err := fx.svc.PlaceOrder(context.Background(), placeCommand("user-1"))
	require.NoError(t, err)

	got, err := fx.svc.GetOrder(context.Background(), GetOrderCommand{OrderID: order.ID, ActorID: "user-1"})
	require.NoError(t, err)
	assert.Equal(t, order.OrderNumber, got.OrderNumber)

	_, err = fx.svc.GetOrder(context.Background(), GetOrderCommand{OrderID: order.ID, ActorID: "user-2"})
	assert.ErrorIs(t, err, ErrOrderNotFound)

	_, err = fx.svc.GetOrder(context.Background(), GetOrderCommand{OrderID: order.ID, ActorIsAdmin: true})
	assert.NoError(t, err)

	page, err := fx.svc.ListOrders(context.Background(), OrderListFilter{UserID: "user-1"})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)

	page, err = fx.svc.ListOrders(context.Background(), OrderListFilter{UserID: "user-2"})
	require.NoError(t, err)
	assert.Empty(t, page.Items)
	assert.NotNil(t, page.Items)

	_, err = fx.svc.ListOrders(context.Background(), OrderListFilter{Status: []domain.OrderStatus{"lost"}})
	assert.ErrorIs(t, err, ErrOrderInvalidInput)

	_, err = fx.svc.ListOrders(context.Background(), OrderListFilter{Pagination: domain.Pagination{PageToken: "%%%"}})
	assert.ErrorIs(t, err, ErrOrderInvalidInput)
}

type sanitizerFunc func(string) string

func (f sanitizerFunc) Sanitize(input string) string { return f(input) }

func TestPlaceOrderSanitizesNotes(t *testing.T) {
	store := memory.NewStore()
	store.PutProduct(domain.Product{ID: 1, Name: "Pen", Price: 10, Stock: domain.NewStockLevels(1), IsActive: true})
	store.PutCart(domain.Cart{UserID: "user-1", Lines: []domain.CartLine{domain.NewCartLine(1, 1, "", 10, "")}})

	svc, err := NewOrderService(OrderServiceDeps{
		Store:    store,
		Currency: "INR",
		Notes:    sanitizerFunc(func(s string) string { return "[" + s + "]" }),
	})
	require.NoError(t, err)

	cmd := placeCommand("user-1")
	cmd.Notes = "leave at door"
	order, err := svc.PlaceOrder(context.Background(), cmd)
	require.NoError(t, err)
	assert.Equal(t, "[leave at door]", order.Notes)
}

func TestNewOrderServiceRequiresStoreAndCurrency(t *testing.T) {
	_, err := NewOrderService(OrderServiceDeps{Currency: "INR"})
	assert.Error(t, err)
	_, err = NewOrderService(OrderServiceDeps{Store: memory.NewStore()})
	assert.Error(t, err)
}
