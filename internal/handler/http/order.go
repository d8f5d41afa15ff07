package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rookgm/flyem/internal/middleware"
	"github.com/rookgm/flyem/internal/models"
	"github.com/shopspring/decimal"
)

// IdempotencyKeyHeader lets clients retry order placement safely
const IdempotencyKeyHeader = "Idempotency-Key"

type OrderService interface {
	// PlaceOrder creates order, created is false when the idempotency key was already used
	PlaceOrder(ctx context.Context, customer models.Customer, req models.PlaceOrderRequest) (*models.Order, bool, error)
	// ConfirmPayment marks unpaid order paid
	ConfirmPayment(ctx context.Context, actor *models.TokenPayload, orderID string, cb models.PaymentCallback) (*models.Order, error)
	// UpdateStatus sets shipped, delivered or cancelled status
	UpdateStatus(ctx context.Context, actor *models.TokenPayload, orderID, status string) (*models.Order, error)
	// Cancel cancels order
	Cancel(ctx context.Context, actor *models.TokenPayload, orderID string) (*models.Order, error)
	// GetOrder returns order visible to actor
	GetOrder(ctx context.Context, actor *models.TokenPayload, orderID string) (*models.Order, error)
	// ListUserOrders returns user orders
	ListUserOrders(ctx context.Context, userID string) ([]models.Order, error)
	// ListOrders returns all orders
	ListOrders(ctx context.Context) ([]models.Order, error)
	// SyncFulfillment retries fulfillment sync
	SyncFulfillment(ctx context.Context, actor *models.TokenPayload, orderID string) (*models.Order, error)
}

// OrderHandler represents HTTP handler for order-related requests
type OrderHandler struct {
	svc OrderService
}

// NewOrderHandler creates new OrderHandler instance
func NewOrderHandler(svc OrderService) *OrderHandler {
	return &OrderHandler{svc: svc}
}

type paymentProof struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	IntentID  string `json:"razorpay_order_id"`
	PaymentID string `json:"razorpay_payment_id"`
	Signature string `json:"razorpay_signature"`
}

func (p paymentProof) callback() models.PaymentCallback {
	ref := p.PaymentID
	if ref == "" {
		ref = p.ID
	}
	return models.PaymentCallback{
		IntentID:   p.IntentID,
		PaymentRef: ref,
		Signature:  p.Signature,
		Status:     p.Status,
	}
}

// placeOrderRequest carries checkout. Client computed prices are not trusted and ignored.
type placeOrderRequest struct {
	OrderItems      []models.OrderItem     `json:"orderItems"`
	ShippingAddress models.ShippingAddress `json:"shippingAddress"`
	PaymentMethod   string                 `json:"paymentMethod"`
	CouponCode      string                 `json:"couponCode"`
	CustomerName    string                 `json:"customerName"`
	CustomerEmail   string                 `json:"customerEmail"`
	PaymentResult   *paymentProof          `json:"paymentResult"`
}

type orderItemResponse struct {
	Product  string  `json:"product"`
	Name     string  `json:"name"`
	Image    string  `json:"image"`
	Price    float64 `json:"price"`
	Quantity int     `json:"quantity"`
	Size     string  `json:"size"`
	SKU      string  `json:"sku,omitempty"`
}

type orderResponse struct {
	ID              string                 `json:"_id"`
	User            string                 `json:"user"`
	OrderNumber     string                 `json:"orderNumber"`
	OrderItems      []orderItemResponse    `json:"orderItems"`
	ShippingAddress models.ShippingAddress `json:"shippingAddress"`
	PaymentMethod   string                 `json:"paymentMethod"`
	PaymentResult   *models.PaymentResult  `json:"paymentResult,omitempty"`
	ItemsPrice      float64                `json:"itemsPrice"`
	TaxPrice        float64                `json:"taxPrice"`
	ShippingPrice   float64                `json:"shippingPrice"`
	DiscountAmount  float64                `json:"discountAmount"`
	TotalPrice      float64                `json:"totalPrice"`
	CouponCode      string                 `json:"couponCode,omitempty"`
	IsPaid          bool                   `json:"isPaid"`
	PaidAt          *string                `json:"paidAt"`
	IsDelivered     bool                   `json:"isDelivered"`
	DeliveredAt     *string                `json:"deliveredAt"`
	Status          string                 `json:"status"`
	State           string                 `json:"state"`
	QikinkOrderID   *string                `json:"qikink_order_id"`
	QikinkStatus    *string                `json:"qikink_status"`
	Version         int64                  `json:"version"`
	CreatedAt       string                 `json:"createdAt"`
	UpdatedAt       string                 `json:"updatedAt"`
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}

func money(d decimal.Decimal) float64 {
	return d.Round(2).InexactFloat64()
}

func newOrderResponse(o *models.Order) orderResponse {
	items := make([]orderItemResponse, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, orderItemResponse{
			Product:  it.ProductID,
			Name:     it.Name,
			Image:    it.Image,
			Price:    money(it.Price),
			Quantity: it.Quantity,
			Size:     it.Size,
			SKU:      it.SKU,
		})
	}

	return orderResponse{
		ID:              o.ID,
		User:            o.UserID,
		OrderNumber:     o.Number(),
		OrderItems:      items,
		ShippingAddress: o.Shipping,
		PaymentMethod:   o.PaymentMethod,
		PaymentResult:   o.PaymentResult,
		ItemsPrice:      money(o.ItemsPrice),
		TaxPrice:        money(o.TaxPrice),
		ShippingPrice:   money(o.ShippingPrice),
		DiscountAmount:  money(o.DiscountAmount),
		TotalPrice:      money(o.TotalPrice),
		CouponCode:      o.CouponCode,
		IsPaid:          o.IsPaid,
		PaidAt:          formatTime(o.PaidAt),
		IsDelivered:     o.IsDelivered,
		DeliveredAt:     formatTime(o.DeliveredAt),
		Status:          o.Status,
		State:           string(o.State),
		QikinkOrderID:   o.FulfillmentID,
		QikinkStatus:    o.FulfillmentStatus,
		Version:         o.Version,
		CreatedAt:       o.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:       o.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func newOrdersResponse(orders []models.Order) []orderResponse {
	resp := make([]orderResponse, 0, len(orders))
	for i := range orders {
		resp = append(resp, newOrderResponse(&orders[i]))
	}
	return resp
}

// PlaceOrder places order of the current user
// 200 - order with the same idempotency key was already placed;
// 201 - order created;
// 400 - invalid request, rejected coupon or payment signature;
// 401 - user is not authenticated;
// 409 - idempotency key belongs to another user or is locked;
// 500 - internal server error.
func (oh *OrderHandler) PlaceOrder() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payload, ok := middleware.AuthPayload(r.Context())
		if !ok {
			writeMessage(w, http.StatusUnauthorized, "not authorized")
			return
		}

		var req placeOrderRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeMessage(w, http.StatusBadRequest, "bad request")
			return
		}
		defer r.Body.Close()

		customer := payload.Customer()
		if req.CustomerName != "" {
			customer.Name = req.CustomerName
		}
		if req.CustomerEmail != "" {
			customer.Email = req.CustomerEmail
		}

		placement := models.PlaceOrderRequest{
			Items:          req.OrderItems,
			Shipping:       req.ShippingAddress,
			PaymentMethod:  req.PaymentMethod,
			CouponCode:     req.CouponCode,
			IdempotencyKey: r.Header.Get(IdempotencyKeyHeader),
		}
		if req.PaymentResult != nil {
			cb := req.PaymentResult.callback()
			placement.Payment = &cb
		}

		order, created, err := oh.svc.PlaceOrder(r.Context(), customer, placement)
		if err != nil {
			writeError(w, r, err)
			return
		}

		code := http.StatusCreated
		if !created {
			code = http.StatusOK
		}
		writeJSON(w, code, newOrderResponse(order))
	}
}

// GetMyOrders returns orders of the current user, newest first
// 200 - success;
// 401 - user is not authenticated;
// 500 - internal server error.
func (oh *OrderHandler) GetMyOrders() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payload, ok := middleware.AuthPayload(r.Context())
		if !ok {
			writeMessage(w, http.StatusUnauthorized, "not authorized")
			return
		}

		orders, err := oh.svc.ListUserOrders(r.Context(), payload.UserID)
		if err != nil {
			writeError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, newOrdersResponse(orders))
	}
}

// GetOrder returns order by id
// 200 - success;
// 401 - user is not authenticated;
// 403 - order belongs to another user;
// 404 - order not found;
// 500 - internal server error.
func (oh *OrderHandler) GetOrder() http.HandlerFunc {
	return oh.withOrder(oh.svc.GetOrder)
}

// CancelOrder cancels order by id
// 200 - order cancelled;
// 401 - user is not authenticated;
// 403 - order belongs to another user;
// 404 - order not found;
// 409 - order was shipped, delivered or already cancelled;
// 500 - internal server error.
func (oh *OrderHandler) CancelOrder() http.HandlerFunc {
	return oh.withOrder(oh.svc.Cancel)
}

// SyncFulfillment resubmits paid order to fulfillment partner
// 200 - current order, qikink_order_id is null if the partner refused it again;
// 403 - user is not an orders admin;
// 404 - order not found;
// 409 - order is not paid or can not be fulfilled anymore;
// 503 - fulfillment is not configured;
// 500 - internal server error.
func (oh *OrderHandler) SyncFulfillment() http.HandlerFunc {
	return oh.withOrder(oh.svc.SyncFulfillment)
}

type statusRequest struct {
	Status string `json:"status"`
}

// UpdateStatus sets order status, empty body means delivered
// 200 - status updated;
// 400 - unsupported status;
// 403 - user is not an orders admin;
// 404 - order not found;
// 409 - transition is not allowed;
// 500 - internal server error.
func (oh *OrderHandler) UpdateStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payload, ok := middleware.AuthPayload(r.Context())
		if !ok {
			writeMessage(w, http.StatusUnauthorized, "not authorized")
			return
		}

		var req statusRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeMessage(w, http.StatusBadRequest, "bad request")
			return
		}
		defer r.Body.Close()

		order, err := oh.svc.UpdateStatus(r.Context(), payload, chi.URLParam(r, "id"), req.Status)
		if err != nil {
			writeError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, newOrderResponse(order))
	}
}

// PayOrder applies checkout callback to unpaid order
// 200 - order is paid;
// 400 - invalid request or payment signature;
// 401 - user is not authenticated;
// 403 - order belongs to another user;
// 404 - order not found;
// 500 - internal server error.
func (oh *OrderHandler) PayOrder() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payload, ok := middleware.AuthPayload(r.Context())
		if !ok {
			writeMessage(w, http.StatusUnauthorized, "not authorized")
			return
		}

		var proof paymentProof
		if err := json.NewDecoder(r.Body).Decode(&proof); err != nil {
			writeMessage(w, http.StatusBadRequest, "bad request")
			return
		}
		defer r.Body.Close()

		order, err := oh.svc.ConfirmPayment(r.Context(), payload, chi.URLParam(r, "id"), proof.callback())
		if err != nil {
			writeError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, newOrderResponse(order))
	}
}

// GetOrders returns all orders
// 200 - success;
// 403 - user is not an orders admin;
// 500 - internal server error.
func (oh *OrderHandler) GetOrders() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orders, err := oh.svc.ListOrders(r.Context())
		if err != nil {
			writeError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, newOrdersResponse(orders))
	}
}

type orderAction func(ctx context.Context, actor *models.TokenPayload, orderID string) (*models.Order, error)

// withOrder runs action for order id from URL and writes the resulting order
func (oh *OrderHandler) withOrder(action orderAction) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payload, ok := middleware.AuthPayload(r.Context())
		if !ok {
			writeMessage(w, http.StatusUnauthorized, "not authorized")
			return
		}

		order, err := action(r.Context(), payload, chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, newOrderResponse(order))
	}
}
