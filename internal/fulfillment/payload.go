package fulfillment

import (
	"strings"

	"github.com/rookgm/flyem/internal/models"
)

// gateway tags
const (
	GatewayCOD     = "COD"
	GatewayPrepaid = "Prepaid"
)

// OrderPayload is body of the partner order create request
type OrderPayload struct {
	OrderNumber     string          `json:"order_number"`
	QikinkShipping  int             `json:"qikink_shipping"`
	Gateway         string          `json:"gateway"`
	TotalOrderValue float64         `json:"total_order_value"`
	ShippingAddress ShippingAddress `json:"shipping_address"`
	LineItems       []LineItem      `json:"line_items"`
}

type ShippingAddress struct {
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	Address1    string `json:"address1"`
	City        string `json:"city"`
	Zip         string `json:"zip"`
	Province    string `json:"province"`
	CountryCode string `json:"country_code"`
	Phone       string `json:"phone"`
	Email       string `json:"email"`
}

type LineItem struct {
	SearchFromMyProducts string  `json:"search_from_my_products"`
	SKU                  string  `json:"sku"`
	Quantity             int     `json:"quantity"`
	Price                float64 `json:"price"`
	PrintTypeID          int     `json:"print_type_id"`
}

// NewOrderPayload maps order to the partner schema
func NewOrderPayload(order models.Order, customer models.Customer) OrderPayload {
	gateway := GatewayPrepaid
	if order.PaymentMethod == models.PaymentMethodCOD {
		gateway = GatewayCOD
	}

	province := order.Shipping.State
	if province == "" {
		province = models.DefaultProvince
	}

	firstName, lastName := "Customer", "."
	if parts := strings.Fields(customer.Name); len(parts) > 0 {
		firstName = parts[0]
		if len(parts) > 1 {
			lastName = parts[1]
		}
	}

	email := customer.Email
	if email == "" {
		email = defaultEmail
	}

	items := make([]LineItem, 0, len(order.Items))
	for _, it := range order.Items {
		items = append(items, LineItem{
			SearchFromMyProducts: "0",
			SKU:                  it.SKU,
			Quantity:             it.Quantity,
			Price:                it.Price.InexactFloat64(),
			PrintTypeID:          printTypeID,
		})
	}

	return OrderPayload{
		OrderNumber:     order.Number(),
		QikinkShipping:  1,
		Gateway:         gateway,
		TotalOrderValue: order.TotalPrice.InexactFloat64(),
		ShippingAddress: ShippingAddress{
			FirstName:   firstName,
			LastName:    lastName,
			Address1:    order.Shipping.Address,
			City:        order.Shipping.City,
			Zip:         order.Shipping.Zip,
			Province:    province,
			CountryCode: defaultCountryCode,
			Phone:       order.Shipping.Phone,
			Email:       email,
		},
		LineItems: items,
	}
}
