package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rookgm/flyem/internal/events"
	"github.com/rookgm/flyem/internal/lock"
	"github.com/rookgm/flyem/internal/logger"
	"github.com/rookgm/flyem/internal/models"
	"github.com/rookgm/flyem/internal/notify"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	// reconcileBatchSize limits orders re-synced by one ReconcilePending call
	reconcileBatchSize = 50
	// staleSyncAfter is how long a claimed sync may run before the order can be claimed again
	staleSyncAfter = 5 * time.Minute
	// saveResultTimeout bounds writing a partner response after the request is gone
	saveResultTimeout = 10 * time.Second
)

// OrderRepository is interface for interacting with order-related data
type OrderRepository interface {
	// CreateOrder inserts new order with generated id
	CreateOrder(ctx context.Context, order *models.Order) (*models.Order, error)
	// GetOrderByID returns order by id
	GetOrderByID(ctx context.Context, id string) (*models.Order, error)
	// GetOrderByIdempotencyKey returns order placed with key
	GetOrderByIdempotencyKey(ctx context.Context, key string) (*models.Order, error)
	// GetOrdersByUserID gets user orders, newest first
	GetOrdersByUserID(ctx context.Context, userID string) ([]models.Order, error)
	// GetOrders returns all orders, newest first
	GetOrders(ctx context.Context) ([]models.Order, error)
	// GetOrdersPendingFulfillment returns skipped orders and paid or claimed orders not updated since staleBefore
	GetOrdersPendingFulfillment(ctx context.Context, staleBefore time.Time, limit int) ([]models.Order, error)
	// UpdateOrder writes mutable fields if stored version equals expectedVersion
	UpdateOrder(ctx context.Context, order *models.Order, expectedVersion int64) (*models.Order, error)
}

// PaymentGateway verifies payment proofs
type PaymentGateway interface {
	VerifySignature(orderRef, paymentRef, signature string) bool
	GetPaymentIntent(ctx context.Context, id string) (*models.PaymentIntent, error)
}

// CouponEvaluator validates and redeems coupons
type CouponEvaluator interface {
	Validate(ctx context.Context, code string, subtotal decimal.Decimal) (*models.Coupon, error)
	Redeem(ctx context.Context, code string) error
}

// Fulfiller submits orders to print-on-demand partner, nil result means sync failed
type Fulfiller interface {
	SyncOrder(ctx context.Context, order models.Order, customer models.Customer) *models.FulfillmentResult
}

// Notifier sends customer notifications
type Notifier interface {
	SendOrderConfirmation(ctx context.Context, order models.Order, customer models.Customer) error
}

// EventPublisher publishes order lifecycle events
type EventPublisher interface {
	Publish(ctx context.Context, eventType string, order models.Order) error
}

// Locker serializes placements sharing an idempotency key
type Locker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

// CustomerDirectory looks up order owners
type CustomerDirectory interface {
	GetUserByID(ctx context.Context, id string) (*models.User, error)
}

// Pricing holds charges added on top of items price
type Pricing struct {
	TaxRate       decimal.Decimal
	ShippingPrice decimal.Decimal
}

// OrderOption configures OrderService
type OrderOption func(*OrderService)

// WithFulfiller enables fulfillment sync
func WithFulfiller(f Fulfiller) OrderOption {
	return func(os *OrderService) { os.fulfiller = f }
}

// WithNotifier sets confirmation sender
func WithNotifier(n Notifier) OrderOption {
	return func(os *OrderService) { os.notifier = n }
}

// WithEvents sets order event publisher
func WithEvents(p EventPublisher) OrderOption {
	return func(os *OrderService) { os.events = p }
}

// WithLocker sets idempotency key locker
func WithLocker(l Locker) OrderOption {
	return func(os *OrderService) { os.locker = l }
}

// WithCustomers sets owner lookup used when the actor is not the owner
func WithCustomers(c CustomerDirectory) OrderOption {
	return func(os *OrderService) { os.customers = c }
}

// WithPricing sets tax rate and shipping price
func WithPricing(p Pricing) OrderOption {
	return func(os *OrderService) { os.pricing = p }
}

// OrderService places orders and drives their lifecycle
type OrderService struct {
	repo      OrderRepository
	gateway   PaymentGateway
	coupons   CouponEvaluator
	fulfiller Fulfiller
	notifier  Notifier
	events    EventPublisher
	locker    Locker
	customers CustomerDirectory
	pricing   Pricing
	now       func() time.Time
}

// NewOrderService creates new OrderService instance
func NewOrderService(repo OrderRepository, gateway PaymentGateway, coupons CouponEvaluator, opts ...OrderOption) *OrderService {
	os := &OrderService{
		repo:     repo,
		gateway:  gateway,
		coupons:  coupons,
		notifier: notify.Nop{},
		events:   events.Nop{},
		locker:   lock.NewLocalLocker(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(os)
	}
	return os
}

// PlaceOrder validates checkout and persists the order. The returned flag is false when an order
// with the same idempotency key already existed and was returned instead.
func (os *OrderService) PlaceOrder(ctx context.Context, customer models.Customer, req models.PlaceOrderRequest) (*models.Order, bool, error) {
	if err := validatePlaceOrder(req); err != nil {
		return nil, false, err
	}

	key := req.IdempotencyKey
	if key == "" && req.Payment != nil {
		key = req.Payment.IntentID
	}

	if key != "" {
		unlock, err := os.locker.Lock(ctx, key)
		if err != nil {
			return nil, false, err
		}
		defer unlock()

		existing, err := os.existingOrder(ctx, customer, key)
		if err != nil || existing != nil {
			return existing, false, err
		}
	}

	now := os.now()

	draft, err := os.draftOrder(ctx, customer, req, key)
	if err != nil {
		return nil, false, err
	}

	ev := models.Event{Kind: models.EventPaymentRejected, At: now}
	if req.Payment != nil {
		ev.Payment = &models.PaymentResult{
			ID:         req.Payment.PaymentRef,
			IntentID:   req.Payment.IntentID,
			Status:     req.Payment.Status,
			UpdateTime: now.UTC().Format(time.RFC3339),
		}
	}

	paid, err := os.paymentCaptured(ctx, req, draft.TotalPrice)
	if err != nil {
		logger.Log.Warn("payment not accepted",
			zap.String("user_id", customer.ID),
			zap.String("intent_id", req.Payment.IntentID),
			zap.String("payment_ref", req.Payment.PaymentRef),
			zap.Error(err))
		return nil, false, err
	}
	if paid {
		ev.Kind = models.EventPaymentCaptured
	}

	order, err := models.Apply(draft, ev)
	if err != nil {
		return nil, false, err
	}

	created, err := os.repo.CreateOrder(ctx, &order)
	if err != nil {
		if errors.Is(err, models.ErrConflictData) && key != "" {
			// another instance won the race on the idempotency key
			existing, lookupErr := os.existingOrder(ctx, customer, key)
			if lookupErr != nil || existing != nil {
				return existing, false, lookupErr
			}
		}
		return nil, false, fmt.Errorf("save order: %w", err)
	}

	logger.Log.Info("order placed",
		zap.String("order_id", created.ID),
		zap.String("user_id", created.UserID),
		zap.Bool("is_paid", created.IsPaid),
		zap.String("total", created.TotalPrice.StringFixed(2)))

	os.publish(ctx, events.OrderCreated, *created)

	if created.IsPaid {
		created = os.afterPayment(ctx, created, customer)
	}

	return created, true, nil
}

// ConfirmPayment applies a payment callback to an order that was saved unpaid
func (os *OrderService) ConfirmPayment(ctx context.Context, actor *models.TokenPayload, orderID string, cb models.PaymentCallback) (*models.Order, error) {
	order, err := os.GetOrder(ctx, actor, orderID)
	if err != nil {
		return nil, err
	}

	// repeated callbacks are answered with the current order
	if order.IsPaid {
		return order, nil
	}

	if order.PaymentMethod != models.PaymentMethodRazorpay {
		return nil, &models.ValidationError{Field: "paymentMethod", Reason: "order is not paid online"}
	}
	if order.PaymentResult != nil && order.PaymentResult.IntentID != "" && order.PaymentResult.IntentID != cb.IntentID {
		return nil, &models.ValidationError{Field: "intentId", Reason: "payment belongs to another order"}
	}
	if !os.gateway.VerifySignature(cb.IntentID, cb.PaymentRef, cb.Signature) {
		logger.Log.Warn("payment signature mismatch",
			zap.String("order_id", order.ID),
			zap.String("intent_id", cb.IntentID),
			zap.String("payment_ref", cb.PaymentRef))
		return nil, models.ErrSignatureMismatch
	}
	if err := os.checkPaidAmount(ctx, cb.IntentID, order.TotalPrice); err != nil {
		logger.Log.Warn("payment not accepted", zap.String("order_id", order.ID), zap.Error(err))
		return nil, err
	}

	now := os.now()
	next, err := models.Apply(*order, models.Event{
		Kind: models.EventPaymentCaptured,
		At:   now,
		Payment: &models.PaymentResult{
			ID:         cb.PaymentRef,
			IntentID:   cb.IntentID,
			Status:     models.PaymentStatusCompleted,
			UpdateTime: now.UTC().Format(time.RFC3339),
		},
	})
	if err != nil {
		return nil, err
	}

	saved, err := os.repo.UpdateOrder(ctx, &next, order.Version)
	if err != nil {
		return nil, err
	}

	os.publish(ctx, events.OrderStatusChanged, *saved)

	customer := os.customerFor(ctx, actor, *saved)
	return os.afterPayment(ctx, saved, customer), nil
}

// UpdateStatus sets order status on behalf of an admin. Empty status means delivered.
func (os *OrderService) UpdateStatus(ctx context.Context, actor *models.TokenPayload, orderID, status string) (*models.Order, error) {
	if !actor.HasRole(models.RoleOrders) {
		return nil, models.ErrForbidden
	}

	if status == "" {
		status = models.OrderStatusDelivered
	}
	kind, ok := models.EventForStatus(status)
	if !ok {
		return nil, &models.ValidationError{Field: "status", Reason: fmt.Sprintf("unsupported status %q", status)}
	}

	order, err := os.repo.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	return os.transition(ctx, order, models.Event{Kind: kind, At: os.now()})
}

// Cancel cancels order of the actor. Shipped, delivered and cancelled orders can not be cancelled.
func (os *OrderService) Cancel(ctx context.Context, actor *models.TokenPayload, orderID string) (*models.Order, error) {
	order, err := os.GetOrder(ctx, actor, orderID)
	if err != nil {
		return nil, err
	}

	return os.transition(ctx, order, models.Event{Kind: models.EventCancelled, At: os.now()})
}

// GetOrder returns order visible to the actor
func (os *OrderService) GetOrder(ctx context.Context, actor *models.TokenPayload, orderID string) (*models.Order, error) {
	order, err := os.repo.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if order.UserID != actor.UserID && !actor.HasRole(models.RoleOrders) {
		return nil, models.ErrForbidden
	}

	return order, nil
}

// ListUserOrders returns list of user orders
func (os *OrderService) ListUserOrders(ctx context.Context, userID string) ([]models.Order, error) {
	return os.repo.GetOrdersByUserID(ctx, userID)
}

// ListOrders returns all orders
func (os *OrderService) ListOrders(ctx context.Context) ([]models.Order, error) {
	return os.repo.GetOrders(ctx)
}

// SyncFulfillment retries fulfillment of a paid order whose sync was skipped or never finished
func (os *OrderService) SyncFulfillment(ctx context.Context, actor *models.TokenPayload, orderID string) (*models.Order, error) {
	if !actor.HasRole(models.RoleOrders) {
		return nil, models.ErrForbidden
	}
	if os.fulfiller == nil {
		return nil, models.ErrFulfillmentOff
	}

	order, err := os.repo.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.FulfillmentID != nil {
		return order, nil
	}
	if order.State == models.StateFulfillmentPending {
		if !os.syncIsStale(order) {
			return nil, models.ErrFulfillmentBusy
		}
	} else if !models.CanTransition(order.State, models.StateFulfillmentPending) {
		return nil, &models.TransitionError{From: order.State, To: models.StateFulfillmentPending}
	}

	return os.syncFulfillment(ctx, order, os.customerFor(ctx, actor, *order)), nil
}

// ReconcilePending re-attempts fulfillment of skipped orders and of paid orders whose sync was
// interrupted
func (os *OrderService) ReconcilePending(ctx context.Context) error {
	if os.fulfiller == nil {
		return nil
	}

	orders, err := os.repo.GetOrdersPendingFulfillment(ctx, os.now().Add(-staleSyncAfter), reconcileBatchSize)
	if err != nil {
		return err
	}

	for i := range orders {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		order := orders[i]
		os.syncFulfillment(ctx, &order, os.customerFor(ctx, nil, order))
	}

	return nil
}

func (os *OrderService) existingOrder(ctx context.Context, customer models.Customer, key string) (*models.Order, error) {
	existing, err := os.repo.GetOrderByIdempotencyKey(ctx, key)
	if err != nil {
		if errors.Is(err, models.ErrDataNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if existing.UserID != customer.ID {
		return nil, models.ErrConflictData
	}
	return existing, nil
}

func (os *OrderService) draftOrder(ctx context.Context, customer models.Customer, req models.PlaceOrderRequest, key string) (models.Order, error) {
	items := make([]models.OrderItem, len(req.Items))
	copy(items, req.Items)

	subtotal := decimal.Zero
	for _, it := range items {
		subtotal = subtotal.Add(it.Price.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}

	discount := decimal.Zero
	code := NormalizeCode(req.CouponCode)
	if code != "" {
		coupon, err := os.coupons.Validate(ctx, code, subtotal)
		if err != nil {
			return models.Order{}, err
		}
		discount = Discount(coupon, subtotal)
	}

	tax := subtotal.Sub(discount).Mul(os.pricing.TaxRate).Round(2)
	shipping := os.pricing.ShippingPrice.Round(2)
	if tax.IsNegative() {
		tax = decimal.Zero
	}
	if shipping.IsNegative() {
		shipping = decimal.Zero
	}

	address := req.Shipping
	if strings.TrimSpace(address.State) == "" {
		address.State = models.DefaultProvince
	}

	return models.Order{
		UserID:         customer.ID,
		IdempotencyKey: key,
		Items:          items,
		Shipping:       address,
		PaymentMethod:  req.PaymentMethod,
		ItemsPrice:     subtotal,
		TaxPrice:       tax,
		ShippingPrice:  shipping,
		DiscountAmount: discount,
		TotalPrice:     subtotal.Sub(discount).Add(tax).Add(shipping),
		CouponCode:     code,
		State:          models.StateDraft,
	}, nil
}

// paymentCaptured reports whether the checkout carries a verified completed payment of total
func (os *OrderService) paymentCaptured(ctx context.Context, req models.PlaceOrderRequest, total decimal.Decimal) (bool, error) {
	if req.PaymentMethod != models.PaymentMethodRazorpay || req.Payment == nil {
		return false, nil
	}
	if req.Payment.Status != models.PaymentStatusCompleted {
		return false, nil
	}
	if !os.gateway.VerifySignature(req.Payment.IntentID, req.Payment.PaymentRef, req.Payment.Signature) {
		return false, models.ErrSignatureMismatch
	}
	if err := os.checkPaidAmount(ctx, req.Payment.IntentID, total); err != nil {
		return false, err
	}
	return true, nil
}

// checkPaidAmount compares amount of the gateway order with order total
func (os *OrderService) checkPaidAmount(ctx context.Context, intentID string, total decimal.Decimal) error {
	intent, err := os.gateway.GetPaymentIntent(ctx, intentID)
	if err != nil {
		return err
	}
	if !intent.AmountMajor().Equal(total) {
		return fmt.Errorf("%w: paid %s, total %s", models.ErrAmountMismatch,
			intent.AmountMajor().StringFixed(2), total.StringFixed(2))
	}
	return nil
}

// afterPayment runs best-effort steps of a paid order and returns its latest snapshot.
// They outlive the request, every outbound call has its own timeout.
func (os *OrderService) afterPayment(ctx context.Context, order *models.Order, customer models.Customer) *models.Order {
	ctx = context.WithoutCancel(ctx)
	log := logger.Log.With(zap.String("order_id", order.ID))

	if order.CouponCode != "" {
		if err := os.coupons.Redeem(ctx, order.CouponCode); err != nil {
			log.Warn("coupon redemption failed", zap.String("coupon", order.CouponCode), zap.Error(err))
		}
	}

	if err := os.notifier.SendOrderConfirmation(ctx, *order, customer); err != nil {
		log.Warn("order confirmation was not sent", zap.Error(err))
	}

	if os.fulfiller == nil {
		return order
	}

	return os.syncFulfillment(ctx, order, customer)
}

// syncFulfillment never fails, the order stays without external id when sync does not succeed
func (os *OrderService) syncFulfillment(ctx context.Context, order *models.Order, customer models.Customer) *models.Order {
	log := logger.Log.With(zap.String("order_id", order.ID))

	if order.FulfillmentID != nil {
		return order
	}

	// an interrupted sync is claimed again as is
	pending := order.Clone()
	if order.State != models.StateFulfillmentPending {
		var err error
		pending, err = models.Apply(*order, models.Event{Kind: models.EventFulfillmentRequested, At: os.now()})
		if err != nil {
			log.Warn("fulfillment not started", zap.Error(err))
			return order
		}
	}

	// claiming the order first keeps concurrent syncs from submitting it twice
	claimed, err := os.repo.UpdateOrder(ctx, &pending, order.Version)
	if err != nil {
		log.Warn("fulfillment not started", zap.Error(err))
		return order
	}

	res := os.fulfiller.SyncOrder(ctx, *claimed, customer)

	ev := models.Event{Kind: models.EventFulfillmentFailed, At: os.now()}
	if res != nil {
		ev = models.Event{Kind: models.EventFulfillmentSucceeded, At: os.now(), Fulfillment: res}
	}

	next, err := models.Apply(*claimed, ev)
	if err != nil {
		log.Error("fulfillment result not applied", zap.Error(err))
		return claimed
	}

	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), saveResultTimeout)
	defer cancel()

	saved, err := os.repo.UpdateOrder(saveCtx, &next, claimed.Version)
	if err != nil {
		fields := []zap.Field{zap.Error(err)}
		if res != nil {
			fields = append(fields, zap.String("external_id", res.ExternalOrderID))
		}
		log.Error("fulfillment result not saved, sync is retried once stale", fields...)

		if latest, getErr := os.repo.GetOrderByID(saveCtx, order.ID); getErr == nil {
			return latest
		}
		return claimed
	}

	os.publish(saveCtx, events.OrderStatusChanged, *saved)

	return saved
}

// syncIsStale reports whether a claimed sync stopped without writing its result
func (os *OrderService) syncIsStale(order *models.Order) bool {
	return order.UpdatedAt.Before(os.now().Add(-staleSyncAfter))
}

func (os *OrderService) transition(ctx context.Context, order *models.Order, ev models.Event) (*models.Order, error) {
	next, err := models.Apply(*order, ev)
	if err != nil {
		return nil, err
	}

	saved, err := os.repo.UpdateOrder(ctx, &next, order.Version)
	if err != nil {
		return nil, err
	}

	logger.Log.Info("order status changed",
		zap.String("order_id", saved.ID),
		zap.String("from", string(order.State)),
		zap.String("to", string(saved.State)))

	os.publish(ctx, events.OrderStatusChanged, *saved)

	return saved, nil
}

func (os *OrderService) publish(ctx context.Context, eventType string, order models.Order) {
	if err := os.events.Publish(ctx, eventType, order); err != nil {
		logger.Log.Warn("order event not published",
			zap.String("order_id", order.ID),
			zap.String("event", eventType),
			zap.Error(err))
	}
}

// customerFor returns owner of order, the actor is used when it owns the order
func (os *OrderService) customerFor(ctx context.Context, actor *models.TokenPayload, order models.Order) models.Customer {
	if actor != nil && actor.UserID == order.UserID {
		return actor.Customer()
	}
	if os.customers != nil {
		user, err := os.customers.GetUserByID(ctx, order.UserID)
		if err == nil {
			return models.Customer{ID: user.ID, Name: user.Name, Email: user.Email}
		}
		logger.Log.Warn("order owner lookup failed", zap.String("order_id", order.ID), zap.Error(err))
	}
	return models.Customer{ID: order.UserID}
}

func validatePlaceOrder(req models.PlaceOrderRequest) error {
	if len(req.Items) == 0 {
		return &models.ValidationError{Field: "orderItems", Reason: "no order items"}
	}

	for i, it := range req.Items {
		field := fmt.Sprintf("orderItems[%d]", i)
		switch {
		case strings.TrimSpace(it.ProductID) == "":
			return &models.ValidationError{Field: field + ".product", Reason: "is required"}
		case strings.TrimSpace(it.Name) == "":
			return &models.ValidationError{Field: field + ".name", Reason: "is required"}
		case it.Quantity <= 0:
			return &models.ValidationError{Field: field + ".quantity", Reason: "must be positive"}
		case it.Price.IsNegative():
			return &models.ValidationError{Field: field + ".price", Reason: "must not be negative"}
		case !it.Price.Equal(it.Price.Round(2)):
			return &models.ValidationError{Field: field + ".price", Reason: "must have at most 2 decimal places"}
		}
	}

	addr := req.Shipping
	required := []struct{ field, value string }{
		{"shippingAddress.address", addr.Address},
		{"shippingAddress.city", addr.City},
		{"shippingAddress.zip", addr.Zip},
		{"shippingAddress.country", addr.Country},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return &models.ValidationError{Field: r.field, Reason: "is required"}
		}
	}

	if strings.TrimSpace(req.PaymentMethod) == "" {
		return &models.ValidationError{Field: "paymentMethod", Reason: "is required"}
	}

	return nil
}
