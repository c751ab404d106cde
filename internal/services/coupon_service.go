package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	domain "github.com/orderline/api/internal/domain"
	"github.com/orderline/api/internal/repositories"
)

const maxCouponCodeLength = 32

// CouponServiceDeps wires collaborators for coupon administration.
type CouponServiceDeps struct {
	Store       repositories.Store
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type couponService struct {
	store  repositories.Store
	now    func() time.Time
	newID  func() string
	logger func(context.Context, string, map[string]any)
}

// NewCouponService constructs the coupon administration service.
func NewCouponService(deps CouponServiceDeps) (CouponService, error) {
	if deps.Store == nil {
		return nil, errors.New("coupon service: store is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	newID := deps.IDGenerator
	if newID == nil {
		newID = newULID
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &couponService{
		store:  deps.Store,
		now:    func() time.Time { return clock().UTC() },
		newID:  newID,
		logger: logger,
	}, nil
}

func (s *couponService) CreateCoupon(ctx context.Context, cmd CreateCouponCommand) (Coupon, error) {
	coupon, err := s.buildCoupon(cmd)
	if err != nil {
		return Coupon{}, err
	}
	err = s.store.RunInTx(ctx, func(ctx context.Context, tx repositories.Tx) error {
		return tx.InsertCoupon(ctx, coupon)
	})
	if err != nil {
		if repositories.IsConflict(err) {
			return Coupon{}, fmt.Errorf("%w: code %s already exists", ErrCouponConflict, coupon.Code)
		}
		return Coupon{}, mapRepositoryError(err)
	}
	s.logger(ctx, "coupon.created", map[string]any{"couponId": coupon.ID, "code": coupon.Code})
	return coupon, nil
}

func (s *couponService) buildCoupon(cmd CreateCouponCommand) (Coupon, error) {
	verr := &ValidationError{Base: ErrCouponInvalidInput}

	code := repositories.NormalizeCouponCode(cmd.Code)
	switch {
	case code == "":
		verr.add("code", "is required")
	case len(code) > maxCouponCodeLength || strings.ContainsAny(code, " \t/"):
		verr.add("code", fmt.Sprintf("must be at most %d characters without spaces or slashes", maxCouponCodeLength))
	}

	switch cmd.DiscountType {
	case domain.DiscountTypePercentage:
		if cmd.DiscountValue <= 0 || cmd.DiscountValue > 100 {
			verr.add("discountValue", "must be within (0, 100] for percentage coupons")
		}
	case domain.DiscountTypeFixed:
		if cmd.DiscountValue <= 0 || cmd.DiscountValue != math.Trunc(cmd.DiscountValue) {
			verr.add("discountValue", "must be a positive whole amount for fixed coupons")
		}
	default:
		verr.add("discountType", "must be percentage or fixed")
	}

	if cmd.MinOrderAmount != nil && *cmd.MinOrderAmount < 0 {
		verr.add("minOrderAmount", "must not be negative")
	}
	if cmd.MaxDiscount != nil && *cmd.MaxDiscount < 0 {
		verr.add("maxDiscount", "must not be negative")
	}
	if cmd.UsageLimit != nil && *cmd.UsageLimit < 0 {
		verr.add("usageLimit", "must not be negative")
	}
	if cmd.ValidFrom.IsZero() {
		verr.add("validFrom", "is required")
	}
	if cmd.ValidUntil.IsZero() {
		verr.add("validUntil", "is required")
	} else if !cmd.ValidUntil.After(cmd.ValidFrom) {
		verr.add("validUntil", "must be after validFrom")
	}

	userIDs := uniqueIDs(cmd.UserIDs)

	if err := verr.errOrNil(); err != nil {
		return Coupon{}, err
	}

	now := s.now()
	return Coupon{
		ID:             s.newID(),
		Code:           code,
		Description:    strings.TrimSpace(cmd.Description),
		DiscountType:   cmd.DiscountType,
		DiscountValue:  cmd.DiscountValue,
		MinOrderAmount: cmd.MinOrderAmount,
		MaxDiscount:    cmd.MaxDiscount,
		ValidFrom:      cmd.ValidFrom.UTC(),
		ValidUntil:     cmd.ValidUntil.UTC(),
		UsageLimit:     cmd.UsageLimit,
		IsSingleUse:    cmd.IsSingleUse,
		IsActive:       cmd.IsActive,
		UserIDs:        userIDs,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// AssignCoupon adds the coupon to each user's wallet. Users who already hold
// the coupon keep their existing row.
func (s *couponService) AssignCoupon(ctx context.Context, cmd AssignCouponCommand) ([]UserCoupon, error) {
	couponID := strings.TrimSpace(cmd.CouponID)
	source := strings.ToLower(strings.TrimSpace(cmd.Source))
	if source == "" {
		source = domain.UserCouponSourceBroadcast
	}

	verr := &ValidationError{Base: ErrCouponInvalidInput}
	if couponID == "" {
		verr.add("couponId", "is required")
	}
	switch source {
	case domain.UserCouponSourceWelcome, domain.UserCouponSourceBirthday, domain.UserCouponSourceBroadcast:
	default:
		verr.add("source", "must be welcome, birthday or broadcast")
	}
	userIDs := uniqueIDs(cmd.UserIDs)
	if len(userIDs) == 0 {
		verr.add("userIds", "at least one user is required")
	}
	if err := verr.errOrNil(); err != nil {
		return nil, err
	}

	var rows []UserCoupon
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx repositories.Tx) error {
		rows = rows[:0]
		if _, err := tx.GetCoupon(ctx, couponID); err != nil {
			return err
		}
		now := s.now()
		for _, userID := range userIDs {
			existing, err := tx.GetUserCoupon(ctx, userID, couponID)
			if err == nil {
				rows = append(rows, existing)
				continue
			}
			if !repositories.IsNotFound(err) {
				return err
			}
			row := UserCoupon{UserID: userID, CouponID: couponID, Source: source, AssignedAt: now}
			if err := tx.SaveUserCoupon(ctx, row); err != nil {
				return err
			}
			rows = append(rows, row)
		}
		return nil
	})
	if err != nil {
		if repositories.IsNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrCouponNotFound, couponID)
		}
		return nil, mapRepositoryError(err)
	}
	s.logger(ctx, "coupon.assigned", map[string]any{"couponId": couponID, "users": len(rows), "source": source})
	return rows, nil
}

func (s *couponService) ListUserCoupons(ctx context.Context, userID string) ([]UserCouponView, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrCouponInvalidInput)
	}
	views, err := s.store.ListUserCoupons(ctx, userID)
	if err != nil {
		return nil, mapRepositoryError(err)
	}
	if views == nil {
		views = []UserCouponView{}
	}
	return views, nil
}

func uniqueIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
