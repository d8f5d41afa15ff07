package models

import (
	"errors"
	"fmt"
)

var (
	ErrConflictData       = errors.New("data conflicts with existing data")
	ErrDataNotFound       = errors.New("data not found")
	ErrInvalidCredentials = errors.New("invalid login or password")
	ErrForbidden          = errors.New("access denied")
	ErrInvalidTransition  = errors.New("invalid order status transition")
	ErrVersionConflict    = errors.New("order was modified concurrently")
	ErrSignatureMismatch  = errors.New("invalid payment signature")
	ErrAmountMismatch     = errors.New("paid amount does not match order total")
	ErrGateway            = errors.New("payment gateway error")
	ErrLockNotAcquired    = errors.New("order is being placed by another request")
	ErrFulfillmentOff     = errors.New("fulfillment integration is not configured")
	ErrFulfillmentBusy    = errors.New("fulfillment sync of the order is in progress")
)

// coupon rejections
var (
	ErrCouponNotFound      = errors.New("invalid code")
	ErrCouponDisabled      = errors.New("this coupon is disabled")
	ErrCouponExpired       = errors.New("this coupon has expired")
	ErrCouponUsageExceeded = errors.New("usage limit reached")
	ErrCouponMinOrder      = errors.New("minimum order amount not reached")
)

// ValidationError describes malformed input
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// TransitionError is returned when an order can not move from one state to another
type TransitionError struct {
	From OrderState
	To   OrderState
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("order can not move from %s to %s", e.From, e.To)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// CouponRejectedError wraps one of the coupon rejection reasons
type CouponRejectedError struct {
	Code   string
	Reason error
}

func (e *CouponRejectedError) Error() string {
	return fmt.Sprintf("coupon %q rejected: %v", e.Code, e.Reason)
}

func (e *CouponRejectedError) Unwrap() error {
	return e.Reason
}

// GatewayError is returned when the payment processor call fails
type GatewayError struct {
	Op  string
	Err error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("payment gateway %s: %v", e.Op, e.Err)
}

func (e *GatewayError) Is(target error) bool {
	return target == ErrGateway
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}
