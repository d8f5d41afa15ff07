package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rookgm/flyem/internal/models"
	"github.com/shopspring/decimal"
)

// CouponRepository is interface for interacting with coupon-related data
type CouponRepository interface {
	// GetCouponByCode returns coupon by its upper case code
	GetCouponByCode(ctx context.Context, code string) (*models.Coupon, error)
	// IncrementUsage increments used count unless usage limit is reached
	IncrementUsage(ctx context.Context, code string) error
}

// CouponService implements CouponEvaluator interface
type CouponService struct {
	repo CouponRepository
	now  func() time.Time
}

// NewCouponService creates new CouponService instance
func NewCouponService(repo CouponRepository) *CouponService {
	return &CouponService{repo: repo, now: time.Now}
}

// NormalizeCode returns coupon code the way it is stored
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Validate checks coupon can be applied to cart with subtotal
func (cs *CouponService) Validate(ctx context.Context, code string, subtotal decimal.Decimal) (*models.Coupon, error) {
	code = NormalizeCode(code)
	if code == "" {
		return nil, &models.CouponRejectedError{Code: code, Reason: models.ErrCouponNotFound}
	}

	coupon, err := cs.repo.GetCouponByCode(ctx, code)
	if err != nil {
		if errors.Is(err, models.ErrDataNotFound) {
			return nil, &models.CouponRejectedError{Code: code, Reason: models.ErrCouponNotFound}
		}
		return nil, err
	}

	var reason error
	switch {
	case !coupon.IsActive:
		reason = models.ErrCouponDisabled
	case cs.now().After(coupon.ExpirationDate):
		reason = models.ErrCouponExpired
	case coupon.UsedCount >= coupon.UsageLimit:
		reason = models.ErrCouponUsageExceeded
	case subtotal.LessThan(coupon.MinOrderAmount):
		reason = models.ErrCouponMinOrder
	}
	if reason != nil {
		return nil, &models.CouponRejectedError{Code: code, Reason: reason}
	}

	return coupon, nil
}

// Redeem counts one use of coupon
func (cs *CouponService) Redeem(ctx context.Context, code string) error {
	return cs.repo.IncrementUsage(ctx, NormalizeCode(code))
}

// Discount returns discount of coupon for subtotal. It never exceeds subtotal.
func Discount(coupon *models.Coupon, subtotal decimal.Decimal) decimal.Decimal {
	if coupon == nil || !subtotal.IsPositive() {
		return decimal.Zero
	}

	var d decimal.Decimal
	switch coupon.DiscountType {
	case models.DiscountPercentage:
		d = subtotal.Mul(coupon.DiscountValue).Div(decimal.NewFromInt(100))
	case models.DiscountFixed:
		d = coupon.DiscountValue
	}

	d = d.Round(2)
	if d.IsNegative() {
		return decimal.Zero
	}
	if d.GreaterThan(subtotal) {
		return subtotal
	}

	return d
}
