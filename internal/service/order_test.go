package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path"
	"sync"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/rookgm/flyem/internal/events"
	"github.com/rookgm/flyem/internal/models"
	"github.com/rookgm/flyem/internal/payment"
	"github.com/rookgm/flyem/internal/service/mocks"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	gatewaySecret = "rzp_secret"
	// cartPaisa is the total of cart() in paisa
	cartPaisa = 100000
)

// memOrderRepo is in-memory OrderRepository with the same version semantics as postgres
type memOrderRepo struct {
	mu     sync.Mutex
	seq    int
	orders map[string]models.Order
}

func newMemOrderRepo() *memOrderRepo {
	return &memOrderRepo{orders: make(map[string]models.Order)}
}

func (r *memOrderRepo) CreateOrder(_ context.Context, order *models.Order) (*models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if order.IdempotencyKey != "" {
		for _, o := range r.orders {
			if o.IdempotencyKey == order.IdempotencyKey {
				return nil, models.ErrConflictData
			}
		}
	}

	r.seq++
	o := order.Clone()
	o.ID = fmt.Sprintf("0b6f3c1e-8d7a-4c1b-9a55-%012d", r.seq)
	o.Version = 1
	o.CreatedAt = time.Now()
	o.UpdatedAt = o.CreatedAt
	r.orders[o.ID] = o

	out := o.Clone()
	return &out, nil
}

func (r *memOrderRepo) GetOrderByID(_ context.Context, id string) (*models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.orders[id]
	if !ok {
		return nil, models.ErrDataNotFound
	}
	out := o.Clone()
	return &out, nil
}

func (r *memOrderRepo) GetOrderByIdempotencyKey(_ context.Context, key string) (*models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, o := range r.orders {
		if o.IdempotencyKey == key {
			out := o.Clone()
			return &out, nil
		}
	}
	return nil, models.ErrDataNotFound
}

func (r *memOrderRepo) GetOrdersByUserID(_ context.Context, userID string) ([]models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := []models.Order{}
	for _, o := range r.orders {
		if o.UserID == userID {
			out = append(out, o.Clone())
		}
	}
	return out, nil
}

func (r *memOrderRepo) GetOrders(_ context.Context) ([]models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := []models.Order{}
	for _, o := range r.orders {
		out = append(out, o.Clone())
	}
	return out, nil
}

func (r *memOrderRepo) GetOrdersPendingFulfillment(_ context.Context, staleBefore time.Time, limit int) ([]models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := []models.Order{}
	for _, o := range r.orders {
		if o.FulfillmentID != nil || len(out) == limit {
			continue
		}
		stale := o.UpdatedAt.Before(staleBefore)
		if o.State == models.StateFulfillmentSkipped ||
			stale && (o.State == models.StatePaid || o.State == models.StateFulfillmentPending) {
			out = append(out, o.Clone())
		}
	}
	return out, nil
}

func (r *memOrderRepo) UpdateOrder(ctx context.Context, order *models.Order, expectedVersion int64) (*models.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.orders[order.ID]
	if !ok {
		return nil, models.ErrDataNotFound
	}
	if cur.Version != expectedVersion {
		return nil, models.ErrVersionConflict
	}

	upd := order.Clone()
	cur.PaymentResult = upd.PaymentResult
	cur.IsPaid = upd.IsPaid
	cur.PaidAt = upd.PaidAt
	cur.IsDelivered = upd.IsDelivered
	cur.DeliveredAt = upd.DeliveredAt
	cur.State = upd.State
	cur.Status = upd.Status
	cur.FulfillmentID = upd.FulfillmentID
	cur.FulfillmentStatus = upd.FulfillmentStatus
	cur.Version++
	cur.UpdatedAt = time.Now()
	r.orders[cur.ID] = cur

	out := cur.Clone()
	return &out, nil
}

// failingSaveRepo fails listed UpdateOrder calls, counted from 1
type failingSaveRepo struct {
	*memOrderRepo
	failAt map[int]bool
	calls  int
}

func (r *failingSaveRepo) UpdateOrder(ctx context.Context, order *models.Order, expectedVersion int64) (*models.Order, error) {
	r.calls++
	if r.failAt[r.calls] {
		return nil, errors.New("connection reset by peer")
	}
	return r.memOrderRepo.UpdateOrder(ctx, order, expectedVersion)
}

// fakeRazorpay serves gateway orders, unknown ids are orders of cart() total
type fakeRazorpay struct {
	mu      sync.Mutex
	amounts map[string]int64
}

func (f *fakeRazorpay) setAmount(id string, paisa int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.amounts[id] = paisa
}

func newFakeRazorpay(t *testing.T) (*payment.Razorpay, *fakeRazorpay) {
	f := &fakeRazorpay{amounts: make(map[string]int64)}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := path.Base(r.URL.Path)

		f.mu.Lock()
		amount, ok := f.amounts[id]
		f.mu.Unlock()
		if !ok {
			amount = cartPaisa
		}

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"id":%q,"entity":"order","amount":%d,"currency":"INR","status":"paid"}`, id, amount)
	}))
	t.Cleanup(srv.Close)

	return payment.NewRazorpay(srv.URL, "rzp_key", gatewaySecret, time.Second), f
}

var (
	customer = models.Customer{ID: "u-1", Name: "Asha Rao", Email: "asha@example.com"}
	owner    = &models.TokenPayload{UserID: "u-1", Name: "Asha Rao", Email: "asha@example.com", Role: models.RoleCustomer}
	stranger = &models.TokenPayload{UserID: "u-2", Role: models.RoleCustomer}
	admin    = &models.TokenPayload{UserID: "u-9", Role: models.RoleOrders}
)

func cart() []models.OrderItem {
	return []models.OrderItem{
		{ProductID: "p-1", Name: "Oversized Tee", Price: decimal.NewFromInt(500), Quantity: 2, Size: "L", SKU: "MRnHs-Wh-L"},
	}
}

func address() models.ShippingAddress {
	return models.ShippingAddress{Address: "12 MG Road", City: "Pune", Zip: "411001", Country: "India", Phone: "9999999999"}
}

func paidRequest(intentID string) models.PlaceOrderRequest {
	return models.PlaceOrderRequest{
		Items:         cart(),
		Shipping:      address(),
		PaymentMethod: models.PaymentMethodRazorpay,
		Payment: &models.PaymentCallback{
			IntentID:   intentID,
			PaymentRef: "pay_" + intentID,
			Signature:  payment.Sign(gatewaySecret, intentID, "pay_"+intentID),
			Status:     models.PaymentStatusCompleted,
		},
	}
}

type testDeps struct {
	repo      *memOrderRepo
	gateway   *fakeRazorpay
	coupons   *mocks.MockCouponRepository
	fulfiller *mocks.MockFulfiller
	notifier  *mocks.MockNotifier
	users     *mocks.MockUserRepository
}

func newTestService(t *testing.T, opts ...OrderOption) (*OrderService, *testDeps) {
	ctrl := gomock.NewController(t)

	d := &testDeps{
		repo:      newMemOrderRepo(),
		coupons:   mocks.NewMockCouponRepository(ctrl),
		fulfiller: mocks.NewMockFulfiller(ctrl),
		notifier:  mocks.NewMockNotifier(ctrl),
		users:     mocks.NewMockUserRepository(ctrl),
	}

	gateway, fake := newFakeRazorpay(t)
	d.gateway = fake

	all := append([]OrderOption{
		WithFulfiller(d.fulfiller),
		WithNotifier(d.notifier),
		WithCustomers(d.users),
	}, opts...)

	return NewOrderService(d.repo, gateway, NewCouponService(d.coupons), all...), d
}

func extResult(id string) *models.FulfillmentResult {
	return &models.FulfillmentResult{ExternalOrderID: id, ExternalStatus: "Placed"}
}

func TestOrderService_PlaceOrder(t *testing.T) {
	tests := []struct {
		name          string
		req           func() models.PlaceOrderRequest
		setup         func(d *testDeps)
		wantErr       error
		wantPaid      bool
		wantStatus    string
		wantState     models.OrderState
		wantTotal     string
		wantDiscount  string
		wantExternal  string
		wantNoPersist bool
	}{
		{
			name: "paid_order_is_synced",
			req:  func() models.PlaceOrderRequest { return paidRequest("order_1") },
			setup: func(d *testDeps) {
				d.notifier.EXPECT().SendOrderConfirmation(gomock.Any(), gomock.Any(), customer).Return(nil)
				d.fulfiller.EXPECT().SyncOrder(gomock.Any(), gomock.Any(), customer).Return(extResult("4711"))
			},
			wantPaid:     true,
			wantStatus:   models.OrderStatusProcessing,
			wantState:    models.StateFulfillmentSynced,
			wantTotal:    "1000",
			wantDiscount: "0",
			wantExternal: "4711",
		},
		{
			name: "failed_payment",
			req: func() models.PlaceOrderRequest {
				req := paidRequest("order_2")
				req.Payment.Status = "failed"
				return req
			},
			setup: func(d *testDeps) {
				d.notifier.EXPECT().SendOrderConfirmation(gomock.Any(), gomock.Any(), gomock.Any()).Times(0)
				d.fulfiller.EXPECT().SyncOrder(gomock.Any(), gomock.Any(), gomock.Any()).Times(0)
			},
			wantStatus:   models.OrderStatusPaymentFailed,
			wantState:    models.StatePaymentFailed,
			wantTotal:    "1000",
			wantDiscount: "0",
		},
		{
			name: "cash_on_delivery_is_unpaid",
			req: func() models.PlaceOrderRequest {
				return models.PlaceOrderRequest{Items: cart(), Shipping: address(), PaymentMethod: models.PaymentMethodCOD}
			},
			setup: func(d *testDeps) {
				d.fulfiller.EXPECT().SyncOrder(gomock.Any(), gomock.Any(), gomock.Any()).Times(0)
			},
			wantStatus:   models.OrderStatusPaymentFailed,
			wantState:    models.StatePaymentFailed,
			wantTotal:    "1000",
			wantDiscount: "0",
		},
		{
			name: "fulfillment_failure_does_not_fail_order",
			req:  func() models.PlaceOrderRequest { return paidRequest("order_3") },
			setup: func(d *testDeps) {
				d.notifier.EXPECT().SendOrderConfirmation(gomock.Any(), gomock.Any(), gomock.Any()).Return(errors.New("smtp down"))
				d.fulfiller.EXPECT().SyncOrder(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)
			},
			wantPaid:     true,
			wantStatus:   models.OrderStatusProcessing,
			wantState:    models.StateFulfillmentSkipped,
			wantTotal:    "1000",
			wantDiscount: "0",
		},
		{
			name: "coupon_applied",
			req: func() models.PlaceOrderRequest {
				req := paidRequest("order_4")
				req.CouponCode = " welcome10 "
				return req
			},
			setup: func(d *testDeps) {
				d.gateway.setAmount("order_4", 90000)
				d.coupons.EXPECT().GetCouponByCode(gomock.Any(), "WELCOME10").Return(&models.Coupon{
					Code:           "WELCOME10",
					DiscountType:   models.DiscountPercentage,
					DiscountValue:  decimal.NewFromInt(10),
					MinOrderAmount: decimal.Zero,
					ExpirationDate: time.Now().Add(time.Hour),
					IsActive:       true,
					UsageLimit:     100,
				}, nil)
				d.coupons.EXPECT().IncrementUsage(gomock.Any(), "WELCOME10").Return(nil)
				d.notifier.EXPECT().SendOrderConfirmation(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)
				d.fulfiller.EXPECT().SyncOrder(gomock.Any(), gomock.Any(), gomock.Any()).Return(extResult("4712"))
			},
			wantPaid:     true,
			wantStatus:   models.OrderStatusProcessing,
			wantState:    models.StateFulfillmentSynced,
			wantTotal:    "900",
			wantDiscount: "100",
			wantExternal: "4712",
		},
		{
			name: "coupon_rejected",
			req: func() models.PlaceOrderRequest {
				req := paidRequest("order_5")
				req.CouponCode = "OLD"
				return req
			},
			setup: func(d *testDeps) {
				d.coupons.EXPECT().GetCouponByCode(gomock.Any(), "OLD").Return(&models.Coupon{
					Code:           "OLD",
					DiscountType:   models.DiscountFixed,
					DiscountValue:  decimal.NewFromInt(50),
					ExpirationDate: time.Now().Add(-time.Hour),
					IsActive:       true,
					UsageLimit:     100,
				}, nil)
			},
			wantErr:       models.ErrCouponExpired,
			wantNoPersist: true,
		},
		{
			name: "forged_signature",
			req: func() models.PlaceOrderRequest {
				req := paidRequest("order_6")
				req.Payment.Signature = payment.Sign("guessed", "order_6", "pay_order_6")
				return req
			},
			setup: func(d *testDeps) {
				d.fulfiller.EXPECT().SyncOrder(gomock.Any(), gomock.Any(), gomock.Any()).Times(0)
			},
			wantErr:       models.ErrSignatureMismatch,
			wantNoPersist: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, d := newTestService(t)
			tt.setup(d)

			order, created, err := svc.PlaceOrder(context.Background(), customer, tt.req())
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, order)
				if tt.wantNoPersist {
					assert.Empty(t, d.repo.orders)
				}
				return
			}
			require.NoError(t, err)
			assert.True(t, created)

			assert.Equal(t, tt.wantPaid, order.IsPaid)
			assert.Equal(t, tt.wantPaid, order.PaidAt != nil)
			assert.Equal(t, tt.wantStatus, order.Status)
			assert.Equal(t, tt.wantState, order.State)
			assert.Equal(t, "1000", order.ItemsPrice.String())
			assert.Equal(t, tt.wantTotal, order.TotalPrice.String())
			assert.Equal(t, tt.wantDiscount, order.DiscountAmount.String())
			assert.Equal(t, models.DefaultProvince, order.Shipping.State)

			if tt.wantExternal == "" {
				assert.Nil(t, order.FulfillmentID)
			} else {
				require.NotNil(t, order.FulfillmentID)
				assert.Equal(t, tt.wantExternal, *order.FulfillmentID)
			}

			stored, err := d.repo.GetOrderByID(context.Background(), order.ID)
			require.NoError(t, err)
			assert.Equal(t, order.State, stored.State)
			assert.Equal(t, order.Version, stored.Version)
		})
	}
}

func TestOrderService_PlaceOrder_Validation(t *testing.T) {
	tests := []struct {
		name  string
		req   models.PlaceOrderRequest
		field string
	}{
		{name: "empty_cart", req: models.PlaceOrderRequest{Shipping: address(), PaymentMethod: "COD"}, field: "orderItems"},
		{
			name: "zero_quantity",
			req: models.PlaceOrderRequest{
				Items:         []models.OrderItem{{ProductID: "p", Name: "n", Price: decimal.NewFromInt(1)}},
				Shipping:      address(),
				PaymentMethod: "COD",
			},
			field: "orderItems[0].quantity",
		},
		{
			name:  "missing_city",
			req:   models.PlaceOrderRequest{Items: cart(), Shipping: models.ShippingAddress{Address: "a", Zip: "1", Country: "IN"}, PaymentMethod: "COD"},
			field: "shippingAddress.city",
		},
		{
			name: "sub_paisa_price",
			req: models.PlaceOrderRequest{
				Items:         []models.OrderItem{{ProductID: "p", Name: "n", Price: decimal.RequireFromString("499.999"), Quantity: 1}},
				Shipping:      address(),
				PaymentMethod: "COD",
			},
			field: "orderItems[0].price",
		},
		{name: "missing_payment_method", req: models.PlaceOrderRequest{Items: cart(), Shipping: address()}, field: "paymentMethod"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, d := newTestService(t)

			_, _, err := svc.PlaceOrder(context.Background(), customer, tt.req)

			var vErr *models.ValidationError
			require.True(t, errors.As(err, &vErr), "got %v", err)
			assert.Equal(t, tt.field, vErr.Field)
			assert.Empty(t, d.repo.orders)
		})
	}
}

func TestOrderService_PlaceOrder_PaidIffProofCompleted(t *testing.T) {
	methods := []string{models.PaymentMethodRazorpay, models.PaymentMethodCOD, "UPI"}
	statuses := []string{models.PaymentStatusCompleted, "failed", "created", ""}

	for _, method := range methods {
		for _, status := range statuses {
			t.Run(method+"_"+status, func(t *testing.T) {
				svc, d := newTestService(t)
				d.notifier.EXPECT().SendOrderConfirmation(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
				d.fulfiller.EXPECT().SyncOrder(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).AnyTimes()

				req := paidRequest("order_" + method + status)
				req.PaymentMethod = method
				req.Payment.Status = status

				order, _, err := svc.PlaceOrder(context.Background(), customer, req)
				require.NoError(t, err)

				wantPaid := method == models.PaymentMethodRazorpay && status == models.PaymentStatusCompleted
				assert.Equal(t, wantPaid, order.IsPaid)
				if !wantPaid {
					assert.Equal(t, models.OrderStatusPaymentFailed, order.Status)
				}
			})
		}
	}
}

func TestOrderService_PlaceOrder_MoneyConservation(t *testing.T) {
	coupons := []*models.Coupon{
		nil,
		{Code: "TEN", DiscountType: models.DiscountPercentage, DiscountValue: decimal.NewFromInt(10)},
		{Code: "FLAT200", DiscountType: models.DiscountFixed, DiscountValue: decimal.NewFromInt(200)},
		{Code: "HUGE", DiscountType: models.DiscountFixed, DiscountValue: decimal.NewFromInt(100000)},
		{Code: "ALL", DiscountType: models.DiscountPercentage, DiscountValue: decimal.NewFromInt(150)},
	}
	carts := [][]models.OrderItem{
		cart(),
		{
			{ProductID: "p-1", Name: "Tee", Price: decimal.RequireFromString("499.99"), Quantity: 3},
			{ProductID: "p-2", Name: "Cap", Price: decimal.RequireFromString("149.50"), Quantity: 1},
		},
		{{ProductID: "p-3", Name: "Sticker", Price: decimal.Zero, Quantity: 5}},
	}

	for ci, items := range carts {
		for _, c := range coupons {
			name := fmt.Sprintf("cart%d_nocoupon", ci)
			if c != nil {
				name = fmt.Sprintf("cart%d_%s", ci, c.Code)
			}
			t.Run(name, func(t *testing.T) {
				svc, d := newTestService(t, WithPricing(Pricing{
					TaxRate:       decimal.RequireFromString("0.18"),
					ShippingPrice: decimal.NewFromInt(49),
				}))

				req := models.PlaceOrderRequest{Items: items, Shipping: address(), PaymentMethod: models.PaymentMethodCOD}
				if c != nil {
					cp := *c
					cp.IsActive = true
					cp.UsageLimit = 10
					cp.ExpirationDate = time.Now().Add(time.Hour)
					req.CouponCode = cp.Code
					d.coupons.EXPECT().GetCouponByCode(gomock.Any(), cp.Code).Return(&cp, nil)
				}

				order, _, err := svc.PlaceOrder(context.Background(), customer, req)
				require.NoError(t, err)

				want := order.ItemsPrice.Sub(order.DiscountAmount).Add(order.TaxPrice).Add(order.ShippingPrice)
				assert.True(t, order.TotalPrice.Equal(want), "total %s != %s", order.TotalPrice, want)
				assert.True(t, order.DiscountAmount.LessThanOrEqual(order.ItemsPrice))
				assert.False(t, order.TotalPrice.IsNegative())
				assert.False(t, order.DiscountAmount.IsNegative())
				assert.False(t, order.TaxPrice.IsNegative())
			})
		}
	}
}

func TestOrderService_PlaceOrder_Idempotent(t *testing.T) {
	svc, d := newTestService(t)
	d.notifier.EXPECT().SendOrderConfirmation(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).Times(1)
	d.fulfiller.EXPECT().SyncOrder(gomock.Any(), gomock.Any(), gomock.Any()).Return(extResult("4711")).Times(1)

	first, created, err := svc.PlaceOrder(context.Background(), customer, paidRequest("order_same"))
	require.NoError(t, err)
	assert.True(t, created)

	second, created, err := svc.PlaceOrder(context.Background(), customer, paidRequest("order_same"))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, d.repo.orders, 1)

	// the key belongs to another customer
	_, _, err = svc.PlaceOrder(context.Background(), models.Customer{ID: "u-2"}, paidRequest("order_same"))
	assert.ErrorIs(t, err, models.ErrConflictData)
}

func TestOrderService_PlaceOrder_WithoutFulfillment(t *testing.T) {
	ctrl := gomock.NewController(t)
	coupons := mocks.NewMockCouponRepository(ctrl)
	publisher := mocks.NewMockEventPublisher(ctrl)
	repo := newMemOrderRepo()

	publisher.EXPECT().Publish(gomock.Any(), events.OrderCreated, gomock.Any()).Return(errors.New("broker down"))

	gateway, _ := newFakeRazorpay(t)
	svc := NewOrderService(repo, gateway, NewCouponService(coupons), WithEvents(publisher))

	order, created, err := svc.PlaceOrder(context.Background(), customer, paidRequest("order_7"))
	require.NoError(t, err)
	assert.True(t, created)
	assert.True(t, order.IsPaid)
	assert.Equal(t, models.StatePaid, order.State)
	assert.Equal(t, models.OrderStatusProcessing, order.Status)
	assert.Nil(t, order.FulfillmentID)
}

// placeCOD stores unpaid cash on delivery order
func placeCOD(t *testing.T, svc *OrderService) *models.Order {
	t.Helper()
	order, _, err := svc.PlaceOrder(context.Background(), customer,
		models.PlaceOrderRequest{Items: cart(), Shipping: address(), PaymentMethod: models.PaymentMethodCOD})
	require.NoError(t, err)
	return order
}

func TestOrderService_UpdateStatus(t *testing.T) {
	ctx := context.Background()

	t.Run("delivered_implies_paid", func(t *testing.T) {
		svc, _ := newTestService(t)
		order := placeCOD(t, svc)
		require.False(t, order.IsPaid)

		shipped, err := svc.UpdateStatus(ctx, admin, order.ID, models.OrderStatusShipped)
		require.NoError(t, err)
		assert.Equal(t, models.OrderStatusShipped, shipped.Status)

		delivered, err := svc.UpdateStatus(ctx, admin, order.ID, "")
		require.NoError(t, err)
		assert.Equal(t, models.OrderStatusDelivered, delivered.Status)
		assert.True(t, delivered.IsDelivered)
		assert.NotNil(t, delivered.DeliveredAt)
		assert.True(t, delivered.IsPaid)
		assert.NotNil(t, delivered.PaidAt)
	})

	t.Run("cancelled_is_terminal", func(t *testing.T) {
		svc, _ := newTestService(t)
		order := placeCOD(t, svc)

		_, err := svc.UpdateStatus(ctx, admin, order.ID, models.OrderStatusCancelled)
		require.NoError(t, err)

		_, err = svc.UpdateStatus(ctx, admin, order.ID, models.OrderStatusDelivered)
		assert.ErrorIs(t, err, models.ErrInvalidTransition)
	})

	t.Run("unknown_status", func(t *testing.T) {
		svc, _ := newTestService(t)
		order := placeCOD(t, svc)

		_, err := svc.UpdateStatus(ctx, admin, order.ID, "Lost")
		var vErr *models.ValidationError
		assert.True(t, errors.As(err, &vErr))
	})

	t.Run("customer_is_forbidden", func(t *testing.T) {
		svc, _ := newTestService(t)
		order := placeCOD(t, svc)

		_, err := svc.UpdateStatus(ctx, owner, order.ID, models.OrderStatusShipped)
		assert.ErrorIs(t, err, models.ErrForbidden)
	})

	t.Run("not_found", func(t *testing.T) {
		svc, _ := newTestService(t)

		_, err := svc.UpdateStatus(ctx, admin, "missing", models.OrderStatusShipped)
		assert.ErrorIs(t, err, models.ErrDataNotFound)
	})
}

func TestOrderService_Cancel(t *testing.T) {
	ctx := context.Background()

	svc, _ := newTestService(t)
	order := placeCOD(t, svc)

	_, err := svc.Cancel(ctx, stranger, order.ID)
	assert.ErrorIs(t, err, models.ErrForbidden)

	cancelled, err := svc.Cancel(ctx, owner, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCancelled, cancelled.Status)

	_, err = svc.Cancel(ctx, owner, order.ID)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)

	shipped := placeCOD(t, svc)
	_, err = svc.UpdateStatus(ctx, admin, shipped.ID, models.OrderStatusShipped)
	require.NoError(t, err)

	_, err = svc.Cancel(ctx, owner, shipped.ID)
	var tErr *models.TransitionError
	require.True(t, errors.As(err, &tErr))
	assert.Equal(t, models.StateShipped, tErr.From)
}

func TestOrderService_ConfirmPayment(t *testing.T) {
	ctx := context.Background()

	svc, d := newTestService(t)

	req := paidRequest("order_cb")
	req.Payment.Status = "failed"
	order, _, err := svc.PlaceOrder(ctx, customer, req)
	require.NoError(t, err)
	require.False(t, order.IsPaid)

	_, err = svc.ConfirmPayment(ctx, owner, order.ID, models.PaymentCallback{
		IntentID:   "order_cb",
		PaymentRef: "pay_2",
		Signature:  "deadbeef",
	})
	assert.ErrorIs(t, err, models.ErrSignatureMismatch)

	_, err = svc.ConfirmPayment(ctx, owner, order.ID, models.PaymentCallback{
		IntentID:   "order_other",
		PaymentRef: "pay_2",
		Signature:  payment.Sign(gatewaySecret, "order_other", "pay_2"),
	})
	var vErr *models.ValidationError
	assert.True(t, errors.As(err, &vErr))

	d.notifier.EXPECT().SendOrderConfirmation(gomock.Any(), gomock.Any(), customer).Return(nil)
	d.fulfiller.EXPECT().SyncOrder(gomock.Any(), gomock.Any(), customer).Return(extResult("4713"))

	cb := models.PaymentCallback{
		IntentID:   "order_cb",
		PaymentRef: "pay_2",
		Signature:  payment.Sign(gatewaySecret, "order_cb", "pay_2"),
	}
	paid, err := svc.ConfirmPayment(ctx, owner, order.ID, cb)
	require.NoError(t, err)
	assert.True(t, paid.IsPaid)
	assert.Equal(t, "pay_2", paid.PaymentResult.ID)
	assert.Equal(t, models.StateFulfillmentSynced, paid.State)
	require.NotNil(t, paid.FulfillmentID)
	assert.Equal(t, "4713", *paid.FulfillmentID)

	// repeated callback does not sync again
	again, err := svc.ConfirmPayment(ctx, owner, order.ID, cb)
	require.NoError(t, err)
	assert.Equal(t, paid.Version, again.Version)
}

func TestOrderService_ConfirmPayment_GatewayMock(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := newMemOrderRepo()
	gateway := mocks.NewMockPaymentGateway(ctrl)
	coupons := mocks.NewMockCouponRepository(ctrl)

	svc := NewOrderService(repo, gateway, NewCouponService(coupons))

	order := placeCOD(t, svc)
	_, err := svc.ConfirmPayment(context.Background(), owner, order.ID, models.PaymentCallback{IntentID: "x"})
	var vErr *models.ValidationError
	assert.True(t, errors.As(err, &vErr), "cash on delivery orders are not paid online")

	_, err = svc.ConfirmPayment(context.Background(), stranger, order.ID, models.PaymentCallback{IntentID: "x"})
	assert.ErrorIs(t, err, models.ErrForbidden)
}

func TestOrderService_FulfillmentDoesNotClobberConcurrentChange(t *testing.T) {
	ctx := context.Background()
	svc, d := newTestService(t)

	d.notifier.EXPECT().SendOrderConfirmation(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)
	d.fulfiller.EXPECT().SyncOrder(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, order models.Order, _ models.Customer) *models.FulfillmentResult {
			// admin cancels while partner call is in flight
			_, err := svc.UpdateStatus(ctx, admin, order.ID, models.OrderStatusCancelled)
			require.NoError(t, err)
			return extResult("4714")
		})

	order, created, err := svc.PlaceOrder(ctx, customer, paidRequest("order_race"))
	require.NoError(t, err)
	assert.True(t, created)

	assert.Equal(t, models.StateCancelled, order.State)
	assert.Nil(t, order.FulfillmentID)
	assert.True(t, order.IsPaid)
}

func TestOrderService_SyncFulfillment(t *testing.T) {
	ctx := context.Background()
	svc, d := newTestService(t)

	d.notifier.EXPECT().SendOrderConfirmation(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)
	gomock.InOrder(
		d.fulfiller.EXPECT().SyncOrder(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil),
		d.fulfiller.EXPECT().SyncOrder(gomock.Any(), gomock.Any(), customer).Return(extResult("4715")),
	)
	d.users.EXPECT().GetUserByID(gomock.Any(), customer.ID).Return(&models.User{
		ID: customer.ID, Name: customer.Name, Email: customer.Email,
	}, nil)

	order, _, err := svc.PlaceOrder(ctx, customer, paidRequest("order_retry"))
	require.NoError(t, err)
	require.Equal(t, models.StateFulfillmentSkipped, order.State)

	_, err = svc.SyncFulfillment(ctx, owner, order.ID)
	assert.ErrorIs(t, err, models.ErrForbidden)

	synced, err := svc.SyncFulfillment(ctx, admin, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateFulfillmentSynced, synced.State)

	// already synced orders are returned as is
	again, err := svc.SyncFulfillment(ctx, admin, order.ID)
	require.NoError(t, err)
	assert.Equal(t, synced.Version, again.Version)

	unpaid := placeCOD(t, svc)
	_, err = svc.SyncFulfillment(ctx, admin, unpaid.ID)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)
}

func TestOrderService_ReconcilePending(t *testing.T) {
	ctx := context.Background()
	svc, d := newTestService(t)

	d.notifier.EXPECT().SendOrderConfirmation(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).Times(2)
	d.fulfiller.EXPECT().SyncOrder(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).Times(2)

	first, _, err := svc.PlaceOrder(ctx, customer, paidRequest("order_r1"))
	require.NoError(t, err)
	second, _, err := svc.PlaceOrder(ctx, customer, paidRequest("order_r2"))
	require.NoError(t, err)

	d.users.EXPECT().GetUserByID(gomock.Any(), customer.ID).Return(nil, models.ErrDataNotFound).Times(2)
	d.fulfiller.EXPECT().SyncOrder(gomock.Any(), gomock.Any(), models.Customer{ID: customer.ID}).
		DoAndReturn(func(_ context.Context, o models.Order, _ models.Customer) *models.FulfillmentResult {
			return extResult("ext-" + o.ID)
		}).Times(2)

	require.NoError(t, svc.ReconcilePending(ctx))

	for _, id := range []string{first.ID, second.ID} {
		o, err := d.repo.GetOrderByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.StateFulfillmentSynced, o.State)
		require.NotNil(t, o.FulfillmentID)
		assert.Equal(t, "ext-"+id, *o.FulfillmentID)
	}
}

func TestOrderService_GetOrder(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	order := placeCOD(t, svc)

	got, err := svc.GetOrder(ctx, owner, order.ID)
	require.NoError(t, err)
	assert.Equal(t, order.ID, got.ID)

	_, err = svc.GetOrder(ctx, admin, order.ID)
	require.NoError(t, err)

	_, err = svc.GetOrder(ctx, stranger, order.ID)
	assert.ErrorIs(t, err, models.ErrForbidden)

	mine, err := svc.ListUserOrders(ctx, customer.ID)
	require.NoError(t, err)
	assert.Len(t, mine, 1)
}

func TestOrderService_PlaceOrder_PaidAmountMismatch(t *testing.T) {
	svc, d := newTestService(t)
	d.gateway.setAmount("order_1rupee", 100)
	d.fulfiller.EXPECT().SyncOrder(gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

	req := paidRequest("order_1rupee")
	req.Items[0].Quantity = 100

	order, _, err := svc.PlaceOrder(context.Background(), customer, req)
	assert.ErrorIs(t, err, models.ErrAmountMismatch)
	assert.Nil(t, order)
	assert.Empty(t, d.repo.orders)
}

func TestOrderService_PlaceOrder_GatewayUnavailable(t *testing.T) {
	ctrl := gomock.NewController(t)
	gateway := mocks.NewMockPaymentGateway(ctrl)
	repo := newMemOrderRepo()

	gateway.EXPECT().VerifySignature("order_1", "pay_order_1", gomock.Any()).Return(true)
	gateway.EXPECT().GetPaymentIntent(gomock.Any(), "order_1").
		Return(nil, &models.GatewayError{Op: "fetch order", Err: errors.New("status 503")})

	svc := NewOrderService(repo, gateway, NewCouponService(mocks.NewMockCouponRepository(ctrl)))

	_, _, err := svc.PlaceOrder(context.Background(), customer, paidRequest("order_1"))
	assert.ErrorIs(t, err, models.ErrGateway)
	assert.Empty(t, repo.orders)
}

func TestOrderService_ConfirmPayment_PaidAmountMismatch(t *testing.T) {
	ctx := context.Background()
	svc, d := newTestService(t)

	req := paidRequest("order_short")
	req.Payment.Status = "failed"
	order, _, err := svc.PlaceOrder(ctx, customer, req)
	require.NoError(t, err)

	d.gateway.setAmount("order_short", 50000)
	_, err = svc.ConfirmPayment(ctx, owner, order.ID, models.PaymentCallback{
		IntentID:   "order_short",
		PaymentRef: "pay_3",
		Signature:  payment.Sign(gatewaySecret, "order_short", "pay_3"),
	})
	assert.ErrorIs(t, err, models.ErrAmountMismatch)

	stored, err := d.repo.GetOrderByID(ctx, order.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsPaid)
	assert.Equal(t, models.StatePaymentFailed, stored.State)
}

func TestOrderService_PlaceOrder_ClientGoneDuringSync(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc, d := newTestService(t)
	d.notifier.EXPECT().SendOrderConfirmation(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)
	d.fulfiller.EXPECT().SyncOrder(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
		func(context.Context, models.Order, models.Customer) *models.FulfillmentResult {
			// client disconnects while partner call is in flight
			cancel()
			return nil
		})

	order, _, err := svc.PlaceOrder(ctx, customer, paidRequest("order_gone"))
	require.NoError(t, err)
	assert.Equal(t, models.StateFulfillmentSkipped, order.State)

	stored, err := d.repo.GetOrderByID(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateFulfillmentSkipped, stored.State)

	d.users.EXPECT().GetUserByID(gomock.Any(), customer.ID).Return(nil, models.ErrDataNotFound)
	d.fulfiller.EXPECT().SyncOrder(gomock.Any(), gomock.Any(), gomock.Any()).Return(extResult("4717"))

	require.NoError(t, svc.ReconcilePending(context.Background()))

	stored, err = d.repo.GetOrderByID(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateFulfillmentSynced, stored.State)
}

func TestOrderService_InterruptedSyncIsReclaimed(t *testing.T) {
	ctx := context.Background()
	svc, d := newTestService(t)

	// results of both first syncs are lost, claims went through
	svc.repo = &failingSaveRepo{memOrderRepo: d.repo, failAt: map[int]bool{2: true, 4: true}}

	d.notifier.EXPECT().SendOrderConfirmation(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).Times(2)
	d.users.EXPECT().GetUserByID(gomock.Any(), customer.ID).Return(&models.User{
		ID: customer.ID, Name: customer.Name, Email: customer.Email,
	}, nil).AnyTimes()
	d.fulfiller.EXPECT().SyncOrder(gomock.Any(), gomock.Any(), customer).DoAndReturn(
		func(_ context.Context, o models.Order, _ models.Customer) *models.FulfillmentResult {
			return extResult("ext-" + o.ID)
		}).Times(4)

	first, _, err := svc.PlaceOrder(ctx, customer, paidRequest("order_lost1"))
	require.NoError(t, err)
	second, _, err := svc.PlaceOrder(ctx, customer, paidRequest("order_lost2"))
	require.NoError(t, err)

	for _, o := range []*models.Order{first, second} {
		assert.Equal(t, models.StateFulfillmentPending, o.State)
		assert.Nil(t, o.FulfillmentID)
	}

	// a sync may still be running
	_, err = svc.SyncFulfillment(ctx, admin, first.ID)
	assert.ErrorIs(t, err, models.ErrFulfillmentBusy)

	require.NoError(t, svc.ReconcilePending(ctx))
	stored, err := d.repo.GetOrderByID(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateFulfillmentPending, stored.State)

	svc.now = func() time.Time { return time.Now().Add(time.Hour) }

	synced, err := svc.SyncFulfillment(ctx, admin, first.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateFulfillmentSynced, synced.State)
	require.NotNil(t, synced.FulfillmentID)
	assert.Equal(t, "ext-"+first.ID, *synced.FulfillmentID)

	require.NoError(t, svc.ReconcilePending(ctx))
	stored, err = d.repo.GetOrderByID(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateFulfillmentSynced, stored.State)
	require.NotNil(t, stored.FulfillmentID)
	assert.Equal(t, "ext-"+second.ID, *stored.FulfillmentID)
}
