package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	domain "github.com/orderline/api/internal/domain"
	"github.com/orderline/api/internal/repositories"
)

const (
	orderEventCreated       = "order.created"
	orderEventStatusChanged = "order.status_changed"

	maxPlacementAttempts = 3
	maxNotesLength       = 1000
)

var tracer = otel.Tracer("github.com/orderline/api/internal/services")

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Store        repositories.Store
	Currency     string
	Shipping     ShippingPolicy
	Clock        func() time.Time
	IDGenerator  func() string
	OrderNumbers func(time.Time) string
	TrackingIDs  func() string
	Notifier     Notifier
	Events       OrderEventPublisher
	Tracking     TrackingCache
	Notes        TextSanitizer
	Metrics      OrderMetrics
	Logger       func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	store     repositories.Store
	loader    *CartSnapshotLoader
	validator InventoryValidator
	pricing   *PricingEngine
	coupons   *CouponRedeemer
	ledger    StockLedger
	writer    *OrderWriter
	lifecycle *OrderLifecycle
	notifier  Notifier
	events    OrderEventPublisher
	tracking  TrackingCache
	notes     TextSanitizer
	metrics   OrderMetrics
	logger    func(context.Context, string, map[string]any)
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Store == nil {
		return nil, errors.New("order service: store is required")
	}
	pricing, err := NewPricingEngine(PricingEngineDeps{Currency: deps.Currency, Shipping: deps.Shipping})
	if err != nil {
		return nil, fmt.Errorf("order service: %w", err)
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	utc := func() time.Time { return clock().UTC() }

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = noopOrderMetrics{}
	}

	coupons := NewCouponRedeemer(utc)
	return &orderService{
		store:     deps.Store,
		loader:    NewCartSnapshotLoader(utc),
		pricing:   pricing,
		coupons:   coupons,
		writer:    NewOrderWriter(utc, deps.IDGenerator, deps.OrderNumbers),
		lifecycle: NewOrderLifecycle(utc, deps.TrackingIDs, coupons),
		notifier:  deps.Notifier,
		events:    deps.Events,
		tracking:  deps.Tracking,
		notes:     deps.Notes,
		metrics:   metrics,
		logger:    logger,
	}, nil
}

func (s *orderService) PlaceOrder(ctx context.Context, cmd PlaceOrderCommand) (Order, error) {
	ctx, span := tracer.Start(ctx, "OrderService.PlaceOrder")
	defer span.End()

	cmd, err := s.normalizePlaceOrder(cmd)
	if err != nil {
		return Order{}, spanError(span, err)
	}

	var order Order
	for attempt := 1; attempt <= maxPlacementAttempts; attempt++ {
		order, err = s.placeOnce(ctx, cmd)
		if !errors.Is(err, errOrderNumberTaken) {
			break
		}
		s.logger(ctx, "order.place.number_collision", map[string]any{"userId": cmd.UserID, "attempt": attempt})
	}
	if errors.Is(err, errOrderNumberTaken) {
		err = fmt.Errorf("%w: could not allocate an order number", ErrOrderConflict)
	}
	if err != nil {
		if errors.Is(err, ErrCartEmpty) {
			s.logger(ctx, "order.place.cart_empty", map[string]any{"userId": cmd.UserID})
		}
		return Order{}, spanError(span, err)
	}

	span.SetAttributes(
		attribute.String("order.id", order.ID),
		attribute.String("order.number", order.OrderNumber),
		attribute.Int64("order.final_amount", order.FinalAmount),
	)
	s.metrics.OrderPlaced(ctx, order)
	s.logger(ctx, "order.placed", map[string]any{
		"orderId":     order.ID,
		"orderNumber": order.OrderNumber,
		"userId":      order.UserID,
		"finalAmount": order.FinalAmount,
		"items":       len(order.Items),
	})
	s.publishEvent(ctx, OrderEvent{
		Type:          orderEventCreated,
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		UserID:        order.UserID,
		CurrentStatus: string(order.Status),
		FinalAmount:   order.FinalAmount,
		Currency:      order.Currency,
		ActorID:       order.UserID,
		OccurredAt:    order.CreatedAt,
	})
	return order, nil
}

func (s *orderService) placeOnce(ctx context.Context, cmd PlaceOrderCommand) (Order, error) {
	var (
		order     Order
		cartEmpty bool
	)
	err := s.runInTx(ctx, func(ctx context.Context, tx repositories.Tx) error {
		cartEmpty = false
		snapshot, err := s.loader.Load(ctx, tx, cmd.UserID)
		if errors.Is(err, ErrCartEmpty) {
			// commit so the cart cleanup persists
			cartEmpty = true
			return nil
		}
		if err != nil {
			return err
		}

		items, err := s.validator.Validate(ctx, tx, snapshot.Items)
		if err != nil {
			return err
		}
		pricing, err := s.pricing.Price(ctx, items)
		if err != nil {
			return err
		}
		redemption, err := s.coupons.Redeem(ctx, tx, cmd.UserID, cmd.CouponCode, pricing)
		if err != nil {
			return err
		}
		if err := s.ledger.Decrement(ctx, tx, items); err != nil {
			return err
		}

		billing := cmd.ShippingAddress
		if cmd.BillingAddress != nil {
			billing = *cmd.BillingAddress
		}
		order, err = s.writer.Write(ctx, tx, OrderDraft{
			UserID:          cmd.UserID,
			Items:           items,
			Pricing:         pricing,
			Redemption:      redemption,
			ShippingAddress: cmd.ShippingAddress,
			BillingAddress:  billing,
			PaymentMethod:   cmd.PaymentMethod,
			Notes:           cmd.Notes,
		})
		if err != nil {
			return err
		}
		return s.coupons.Record(ctx, tx, cmd.UserID, order.ID, redemption)
	})
	if err != nil {
		return Order{}, err
	}
	if cartEmpty {
		return Order{}, ErrCartEmpty
	}
	return order, nil
}

func (s *orderService) normalizePlaceOrder(cmd PlaceOrderCommand) (PlaceOrderCommand, error) {
	verr := &ValidationError{Base: ErrOrderInvalidInput}

	cmd.UserID = strings.TrimSpace(cmd.UserID)
	if cmd.UserID == "" {
		verr.add("userId", "is required")
	}
	cmd.ShippingAddress = trimAddress(cmd.ShippingAddress)
	validateAddress(verr, "shippingAddress", cmd.ShippingAddress)
	if cmd.BillingAddress != nil {
		billing := trimAddress(*cmd.BillingAddress)
		if billing.IsZero() {
			cmd.BillingAddress = nil
		} else {
			validateAddress(verr, "billingAddress", billing)
			cmd.BillingAddress = &billing
		}
	}

	cmd.PaymentMethod = domain.PaymentMethod(strings.ToLower(strings.TrimSpace(string(cmd.PaymentMethod))))
	if !validPaymentMethod(cmd.PaymentMethod) {
		verr.add("paymentMethod", "is not supported")
	}

	cmd.CouponCode = strings.TrimSpace(cmd.CouponCode)
	if s.notes != nil {
		cmd.Notes = s.notes.Sanitize(cmd.Notes)
	}
	cmd.Notes = strings.TrimSpace(cmd.Notes)
	if utf8.RuneCountInString(cmd.Notes) > maxNotesLength {
		verr.add("notes", fmt.Sprintf("must be at most %d characters", maxNotesLength))
	}

	return cmd, verr.errOrNil()
}

func (s *orderService) TransitionStatus(ctx context.Context, cmd TransitionOrderStatusCommand) (Order, error) {
	ctx, span := tracer.Start(ctx, "OrderService.TransitionStatus", trace.WithAttributes(
		attribute.String("order.id", cmd.OrderID),
		attribute.String("order.requested_status", string(cmd.Status)),
	))
	defer span.End()

	cmd.OrderID = strings.TrimSpace(cmd.OrderID)
	cmd.ActorID = strings.TrimSpace(cmd.ActorID)
	cmd.Status = domain.OrderStatus(strings.ToLower(strings.TrimSpace(string(cmd.Status))))
	cmd.Reason = strings.TrimSpace(cmd.Reason)
	if s.notes != nil {
		cmd.Reason = s.notes.Sanitize(cmd.Reason)
	}

	verr := &ValidationError{Base: ErrOrderInvalidInput}
	if cmd.OrderID == "" {
		verr.add("orderId", "is required")
	}
	if !ValidOrderStatus(cmd.Status) {
		verr.add("status", "is not a known order status")
	}
	if !cmd.ActorIsAdmin && cmd.ActorID == "" {
		verr.add("actorId", "is required")
	}
	if err := verr.errOrNil(); err != nil {
		return Order{}, spanError(span, err)
	}
	if !cmd.ActorIsAdmin && cmd.Status != domain.OrderStatusCancelled {
		return Order{}, spanError(span, fmt.Errorf("%w: customers may only cancel orders", ErrOrderForbidden))
	}

	var (
		order   Order
		outcome TransitionOutcome
	)
	err := s.runInTx(ctx, func(ctx context.Context, tx repositories.Tx) error {
		current, err := tx.GetOrder(ctx, cmd.OrderID)
		if err != nil {
			if repositories.IsNotFound(err) {
				return &NotFoundError{Entity: "order", ID: cmd.OrderID}
			}
			return err
		}
		if !cmd.ActorIsAdmin {
			if current.UserID != cmd.ActorID {
				return fmt.Errorf("%w: order belongs to another user", ErrOrderForbidden)
			}
			if !current.Status.IsTerminal() && !slices.Contains(customerCancellableStatuses, current.Status) {
				return &TransitionError{Current: current.Status, Requested: cmd.Status}
			}
		}
		outcome, err = s.lifecycle.Apply(ctx, tx, &current, cmd.Status, cmd.Reason)
		if err != nil {
			return err
		}
		order = current
		return nil
	})
	if err != nil {
		return Order{}, spanError(span, err)
	}
	if !outcome.Changed {
		return order, nil
	}

	s.metrics.StatusChanged(ctx, outcome.Previous, order.Status)
	fields := map[string]any{
		"orderId": order.ID,
		"from":    string(outcome.Previous),
		"to":      string(order.Status),
		"actorId": cmd.ActorID,
		"admin":   cmd.ActorIsAdmin,
	}
	if len(outcome.RestockSkipped) > 0 {
		fields["restockSkipped"] = outcome.RestockSkipped
	}
	s.logger(ctx, "order.status.changed", fields)

	s.afterTransition(ctx, order)
	s.publishEvent(ctx, OrderEvent{
		Type:           orderEventStatusChanged,
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		UserID:         order.UserID,
		PreviousStatus: string(outcome.Previous),
		CurrentStatus:  string(order.Status),
		FinalAmount:    order.FinalAmount,
		Currency:       order.Currency,
		ActorID:        cmd.ActorID,
		OccurredAt:     order.UpdatedAt,
	})
	return order, nil
}

// afterTransition runs post-commit side effects. Failures are logged and
// never undo the committed transition.
func (s *orderService) afterTransition(ctx context.Context, order Order) {
	if s.tracking != nil && order.TrackingID != nil {
		if err := s.tracking.Invalidate(ctx, *order.TrackingID); err != nil {
			s.logger(ctx, "order.tracking.invalidate.failed", map[string]any{"orderId": order.ID, "error": err.Error()})
		}
	}
	if s.notifier == nil {
		return
	}
	phone := order.ShippingAddress.Phone
	var (
		kind string
		err  error
	)
	switch order.Status {
	case domain.OrderStatusShipped:
		kind = "shipped"
		trackingID := ""
		if order.TrackingID != nil {
			trackingID = *order.TrackingID
		}
		err = s.notifier.NotifyShipped(ctx, phone, order.OrderNumber, trackingID)
	case domain.OrderStatusDelivered:
		kind = "delivered"
		err = s.notifier.NotifyDelivered(ctx, phone, order.OrderNumber)
	default:
		return
	}
	if err != nil {
		s.metrics.NotificationFailed(ctx, kind)
		s.logger(ctx, "order.notification.failed", map[string]any{
			"orderId": order.ID,
			"kind":    kind,
			"error":   err.Error(),
		})
	}
}

func (s *orderService) TrackOrder(ctx context.Context, trackingID string) (OrderTracking, error) {
	ctx, span := tracer.Start(ctx, "OrderService.TrackOrder")
	defer span.End()

	trackingID = strings.TrimSpace(trackingID)
	if trackingID == "" {
		return OrderTracking{}, spanError(span, fmt.Errorf("%w: tracking id is required", ErrOrderInvalidInput))
	}

	load := func(ctx context.Context) (OrderTracking, error) {
		order, err := s.store.FindOrderByTrackingID(ctx, trackingID)
		if err != nil {
			if repositories.IsNotFound(err) {
				return OrderTracking{}, &NotFoundError{Entity: "tracking id", ID: trackingID}
			}
			return OrderTracking{}, mapRepositoryError(err)
		}
		return trackingView(trackingID, order), nil
	}

	var (
		view OrderTracking
		err  error
	)
	if s.tracking != nil {
		view, err = s.tracking.Get(ctx, trackingID, load)
	} else {
		view, err = load(ctx)
	}
	if err != nil {
		if !errors.Is(err, ErrOrderNotFound) {
			s.logger(ctx, "order.track.failed", map[string]any{"trackingId": trackingID, "error": err.Error()})
		}
		return OrderTracking{}, spanError(span, err)
	}
	return view, nil
}

func trackingView(trackingID string, order Order) OrderTracking {
	return OrderTracking{
		TrackingID:      trackingID,
		OrderNumber:     order.OrderNumber,
		Status:          order.Status,
		ShippingAddress: order.ShippingAddress,
		LastUpdated:     order.UpdatedAt,
	}
}

func (s *orderService) GetOrder(ctx context.Context, cmd GetOrderCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.store.FindOrder(ctx, orderID)
	if err != nil {
		if repositories.IsNotFound(err) {
			return Order{}, &NotFoundError{Entity: "order", ID: orderID}
		}
		return Order{}, mapRepositoryError(err)
	}
	if !cmd.ActorIsAdmin && order.UserID != strings.TrimSpace(cmd.ActorID) {
		return Order{}, &NotFoundError{Entity: "order", ID: orderID}
	}
	return order, nil
}

// ListOrders pages orders newest first. Store outages yield an empty page and
// a log entry; a malformed page token is reported to the caller.
func (s *orderService) ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error) {
	filter.UserID = strings.TrimSpace(filter.UserID)
	for _, status := range filter.Status {
		if !ValidOrderStatus(status) {
			return domain.CursorPage[Order]{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, status)
		}
	}
	if from, to := filter.DateRange.From, filter.DateRange.To; from != nil && to != nil && to.Before(*from) {
		return domain.CursorPage[Order]{}, fmt.Errorf("%w: date range end precedes start", ErrOrderInvalidInput)
	}

	page, err := s.store.ListOrders(ctx, filter)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) {
			s.logger(ctx, "order.list.failed", map[string]any{"userId": filter.UserID, "error": err.Error()})
			return domain.CursorPage[Order]{Items: []Order{}}, nil
		}
		return domain.CursorPage[Order]{}, fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
	}
	if page.Items == nil {
		page.Items = []Order{}
	}
	return page, nil
}

// runInTx executes fn in a store transaction. Errors raised by fn are returned
// as raised even when the store wraps them; store failures are mapped.
func (s *orderService) runInTx(ctx context.Context, fn repositories.TxFunc) error {
	var failure error
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx repositories.Tx) error {
		failure = fn(ctx, tx)
		return failure
	})
	if err == nil {
		return nil
	}
	if failure != nil && errors.Is(err, failure) {
		err = failure
	}
	return mapRepositoryError(err)
}

func (s *orderService) publishEvent(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event.publish.failed", map[string]any{
			"type":   event.Type,
			"order":  event.OrderID,
			"error":  err.Error(),
			"status": event.CurrentStatus,
		})
	}
}

func spanError(span trace.Span, err error) error {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func trimAddress(addr Address) Address {
	return Address{
		FullName:   strings.TrimSpace(addr.FullName),
		Phone:      strings.TrimSpace(addr.Phone),
		Line1:      strings.TrimSpace(addr.Line1),
		Line2:      strings.TrimSpace(addr.Line2),
		City:       strings.TrimSpace(addr.City),
		State:      strings.TrimSpace(addr.State),
		PostalCode: strings.TrimSpace(addr.PostalCode),
		Country:    strings.ToUpper(strings.TrimSpace(addr.Country)),
	}
}

func validateAddress(verr *ValidationError, field string, addr Address) {
	if addr.IsZero() {
		verr.add(field, "is required")
		return
	}
	required := map[string]string{
		"fullName":   addr.FullName,
		"phone":      addr.Phone,
		"line1":      addr.Line1,
		"city":       addr.City,
		"postalCode": addr.PostalCode,
	}
	for name, value := range required {
		if value == "" {
			verr.add(field+"."+name, "is required")
		}
	}
}

func validPaymentMethod(method PaymentMethod) bool {
	switch method {
	case domain.PaymentMethodCOD, domain.PaymentMethodCard, domain.PaymentMethodUPI,
		domain.PaymentMethodNetBanking, domain.PaymentMethodWallet:
		return true
	}
	return false
}

type noopOrderMetrics struct{}

func (noopOrderMetrics) OrderPlaced(context.Context, Order) {}

func (noopOrderMetrics) StatusChanged(context.Context, OrderStatus, OrderStatus) {}

func (noopOrderMetrics) NotificationFailed(context.Context, string) {}
