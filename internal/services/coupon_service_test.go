package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/orderline/api/internal/domain"
	"github.com/orderline/api/internal/repositories/memory"
)

func newCouponFixture(t *testing.T) (*memory.Store, CouponService) {
	t.Helper()
	store := memory.NewStore()
	ids := []string{"c-1", "c-2", "c-3"}
	svc, err := NewCouponService(CouponServiceDeps{
		Store: store,
		Clock: func() time.Time { return testNow },
		IDGenerator: func() string {
			id := ids[0]
			ids = ids[1:]
			return id
		},
	})
	require.NoError(t, err)
	return store, svc
}

func validCouponCommand() CreateCouponCommand {
	return CreateCouponCommand{
		Code:          " welcome10 ",
		DiscountType:  domain.DiscountTypePercentage,
		DiscountValue: 10,
		ValidFrom:     testNow,
		ValidUntil:    testNow.Add(30 * 24 * time.Hour),
		IsActive:      true,
		UserIDs:       []string{"u1", " u1 ", ""},
	}
}

func TestCouponServiceCreate(t *testing.T) {
	store, svc := newCouponFixture(t)

	coupon, err := svc.CreateCoupon(context.Background(), validCouponCommand())
	require.NoError(t, err)
	assert.Equal(t, "c-1", coupon.ID)
	assert.Equal(t, "WELCOME10", coupon.Code)
	assert.Equal(t, []string{"u1"}, coupon.UserIDs)
	_, ok := store.Coupon("c-1")
	assert.True(t, ok)

	_, err = svc.CreateCoupon(context.Background(), validCouponCommand())
	assert.ErrorIs(t, err, ErrCouponConflict)
}

func TestCouponServiceCreateValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*CreateCouponCommand)
		field  string
	}{
		{name: "missing code", mutate: func(c *CreateCouponCommand) { c.Code = "" }, field: "code"},
		{name: "percentage over 100", mutate: func(c *CreateCouponCommand) { c.DiscountValue = 120 }, field: "discountValue"},
		{name: "fractional fixed", mutate: func(c *CreateCouponCommand) {
			c.DiscountType = domain.DiscountTypeFixed
			c.DiscountValue = 9.5
		}, field: "discountValue"},
		{name: "unknown type", mutate: func(c *CreateCouponCommand) { c.DiscountType = "bogo" }, field: "discountType"},
		{name: "window inverted", mutate: func(c *CreateCouponCommand) { c.ValidUntil = c.ValidFrom.Add(-time.Hour) }, field: "validUntil"},
		{name: "negative minimum", mutate: func(c *CreateCouponCommand) { v := int64(-1); c.MinOrderAmount = &v }, field: "minOrderAmount"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, svc := newCouponFixture(t)
			cmd := validCouponCommand()
			tc.mutate(&cmd)
			_, err := svc.CreateCoupon(context.Background(), cmd)
			require.ErrorIs(t, err, ErrCouponInvalidInput)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Contains(t, verr.Fields, tc.field)
		})
	}
}

func TestCouponServiceAssignIsIdempotent(t *testing.T) {
	store, svc := newCouponFixture(t)
	coupon, err := svc.CreateCoupon(context.Background(), validCouponCommand())
	require.NoError(t, err)

	rows, err := svc.AssignCoupon(context.Background(), AssignCouponCommand{
		CouponID: coupon.ID,
		UserIDs:  []string{"u1", "u2", "u1"},
		Source:   "Welcome",
	})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, domain.UserCouponSourceWelcome, rows[0].Source)
	assert.False(t, rows[0].IsUsed)

	store.PutUserCoupon(domain.UserCoupon{UserID: "u2", CouponID: coupon.ID, IsUsed: true, Source: domain.UserCouponSourceWelcome})
	rows, err = svc.AssignCoupon(context.Background(), AssignCouponCommand{CouponID: coupon.ID, UserIDs: []string{"u2"}})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].IsUsed, "existing wallet rows are kept")

	views, err := svc.ListUserCoupons(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, "WELCOME10", views[0].Coupon.Code)
}

func TestCouponServiceAssignErrors(t *testing.T) {
	_, svc := newCouponFixture(t)

	_, err := svc.AssignCoupon(context.Background(), AssignCouponCommand{CouponID: "missing", UserIDs: []string{"u1"}})
	assert.ErrorIs(t, err, ErrCouponNotFound)

	_, err = svc.AssignCoupon(context.Background(), AssignCouponCommand{CouponID: "c-1", Source: "checkout", UserIDs: []string{"u1"}})
	assert.ErrorIs(t, err, ErrCouponInvalidInput)

	_, err = svc.AssignCoupon(context.Background(), AssignCouponCommand{CouponID: "c-1"})
	assert.ErrorIs(t, err, ErrCouponInvalidInput)
}
