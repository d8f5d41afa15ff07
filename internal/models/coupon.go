package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// discount types
const (
	DiscountPercentage = "percentage"
	DiscountFixed      = "fixed"
)

// Coupon is a named discount rule
type Coupon struct {
	ID             uint64
	Code           string
	DiscountType   string
	DiscountValue  decimal.Decimal
	MinOrderAmount decimal.Decimal
	ExpirationDate time.Time
	IsActive       bool
	UsageLimit     int
	UsedCount      int
	CreatedAt      time.Time
}
