package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// payment methods
const (
	PaymentMethodRazorpay = "Razorpay"
	PaymentMethodCOD      = "COD"
)

// PaymentStatusCompleted is the only payment proof status treated as a capture
const PaymentStatusCompleted = "completed"

// DefaultProvince is used when the shipping address has no state
const DefaultProvince = "Maharashtra"

// order display statuses
const (
	OrderStatusProcessing    = "Processing"
	OrderStatusPaymentFailed = "Payment Failed"
	OrderStatusShipped       = "Shipped"
	OrderStatusDelivered     = "Delivered"
	OrderStatusCancelled     = "Cancelled"
)

// OrderItem is a line item snapshot taken at checkout
type OrderItem struct {
	ProductID string          `json:"product"`
	Name      string          `json:"name"`
	Image     string          `json:"image"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
	Size      string          `json:"size"`
	SKU       string          `json:"sku,omitempty"`
}

// ShippingAddress is where the order is delivered
type ShippingAddress struct {
	Address string `json:"address"`
	City    string `json:"city"`
	State   string `json:"state"`
	Zip     string `json:"zip"`
	Country string `json:"country"`
	Phone   string `json:"phone,omitempty"`
}

// PaymentResult is the payment proof stored with the order
type PaymentResult struct {
	ID         string `json:"id,omitempty"`
	IntentID   string `json:"intentId,omitempty"`
	Status     string `json:"status,omitempty"`
	UpdateTime string `json:"update_time,omitempty"`
}

// Order is order entity
type Order struct {
	ID             string
	UserID         string
	IdempotencyKey string
	Items          []OrderItem
	Shipping       ShippingAddress
	PaymentMethod  string
	PaymentResult  *PaymentResult
	ItemsPrice     decimal.Decimal
	TaxPrice       decimal.Decimal
	ShippingPrice  decimal.Decimal
	DiscountAmount decimal.Decimal
	TotalPrice     decimal.Decimal
	CouponCode     string
	IsPaid         bool
	PaidAt         *time.Time
	IsDelivered    bool
	DeliveredAt    *time.Time
	State          OrderState
	Status         string
	// nil until fulfillment sync succeeds
	FulfillmentID     *string
	FulfillmentStatus *string
	Version           int64
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Clone returns a deep copy of the order
func (o Order) Clone() Order {
	c := o
	c.Items = append([]OrderItem(nil), o.Items...)
	if o.PaymentResult != nil {
		pr := *o.PaymentResult
		c.PaymentResult = &pr
	}
	c.PaidAt = cloneTime(o.PaidAt)
	c.DeliveredAt = cloneTime(o.DeliveredAt)
	c.FulfillmentID = cloneString(o.FulfillmentID)
	c.FulfillmentStatus = cloneString(o.FulfillmentStatus)
	return c
}

// Number is the short human readable order reference
func (o Order) Number() string {
	id := o.ID
	clean := make([]byte, 0, len(id))
	for i := 0; i < len(id); i++ {
		if id[i] != '-' {
			clean = append(clean, id[i])
		}
	}
	if len(clean) > 6 {
		clean = clean[len(clean)-6:]
	}
	return "ORD" + string(clean)
}

// Customer is the buyer placing or owning an order
type Customer struct {
	ID    string
	Name  string
	Email string
}

// PlaceOrderRequest is a checkout submitted by the client
type PlaceOrderRequest struct {
	Items          []OrderItem
	Shipping       ShippingAddress
	PaymentMethod  string
	Payment        *PaymentCallback
	CouponCode     string
	IdempotencyKey string
}

// FulfillmentResult is what the fulfillment partner returned for a synced order
type FulfillmentResult struct {
	ExternalOrderID string
	ExternalStatus  string
	Raw             []byte
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
