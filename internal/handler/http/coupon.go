package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rookgm/flyem/internal/models"
	"github.com/rookgm/flyem/internal/service"
	"github.com/shopspring/decimal"
)

type CouponService interface {
	// Validate checks coupon can be applied to cart total
	Validate(ctx context.Context, code string, subtotal decimal.Decimal) (*models.Coupon, error)
}

// CouponHandler represents HTTP handler for coupon-related requests
type CouponHandler struct {
	svc CouponService
}

// NewCouponHandler creates new CouponHandler instance
func NewCouponHandler(svc CouponService) *CouponHandler {
	return &CouponHandler{svc: svc}
}

type validateCouponRequest struct {
	Code      string          `json:"code"`
	CartTotal decimal.Decimal `json:"cartTotal"`
}

type couponResponse struct {
	Code           string  `json:"code"`
	DiscountType   string  `json:"discountType"`
	DiscountValue  float64 `json:"discountValue"`
	MinOrderAmount float64 `json:"minOrderAmount"`
	ExpirationDate string  `json:"expirationDate"`
	DiscountAmount float64 `json:"discountAmount"`
}

// ValidateCoupon checks coupon for checkout and returns discount for cart total
// 200 - coupon applies;
// 400 - coupon is disabled, expired, used up or cart total is too low;
// 404 - no such coupon;
// 500 - internal server error.
func (ch *CouponHandler) ValidateCoupon() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req validateCouponRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeMessage(w, http.StatusBadRequest, "bad request")
			return
		}
		defer r.Body.Close()

		coupon, err := ch.svc.Validate(r.Context(), req.Code, req.CartTotal)
		if err != nil {
			if errors.Is(err, models.ErrCouponNotFound) {
				writeMessage(w, http.StatusNotFound, "Invalid Code")
				return
			}
			writeError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, couponResponse{
			Code:           coupon.Code,
			DiscountType:   coupon.DiscountType,
			DiscountValue:  money(coupon.DiscountValue),
			MinOrderAmount: money(coupon.MinOrderAmount),
			ExpirationDate: coupon.ExpirationDate.UTC().Format(time.RFC3339),
			DiscountAmount: money(service.Discount(coupon, req.CartTotal)),
		})
	}
}
