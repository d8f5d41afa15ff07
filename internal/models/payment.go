package models

import "github.com/shopspring/decimal"

// PaymentIntent is an order created on the payment processor side
type PaymentIntent struct {
	ID       string
	Amount   int64
	Currency string
	Receipt  string
	Status   string
}

// AmountMajor returns amount in major currency units
func (pi PaymentIntent) AmountMajor() decimal.Decimal {
	return decimal.New(pi.Amount, -2)
}

// PaymentCallback is the payload returned by the gateway checkout SDK
type PaymentCallback struct {
	IntentID   string
	PaymentRef string
	Signature  string
	Status     string
}
