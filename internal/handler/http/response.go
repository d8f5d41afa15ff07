package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rookgm/flyem/internal/logger"
	"github.com/rookgm/flyem/internal/models"
	"go.uber.org/zap"
)

type messageResponse struct {
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Log.Debug("write response", zap.Error(err))
	}
}

func writeMessage(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, messageResponse{Message: msg})
}

// statusCode maps service error to HTTP status
// 400 - malformed input, rejected coupon, invalid payment signature;
// 403 - actor may not access the order;
// 404 - no such order;
// 409 - transition not allowed or concurrent modification;
// 502 - payment gateway failed;
// 500 - anything else.
func statusCode(err error) int {
	var (
		vErr *models.ValidationError
		cErr *models.CouponRejectedError
	)

	switch {
	case errors.As(err, &vErr), errors.As(err, &cErr), errors.Is(err, models.ErrSignatureMismatch),
		errors.Is(err, models.ErrAmountMismatch):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, models.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, models.ErrDataNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrInvalidTransition), errors.Is(err, models.ErrVersionConflict),
		errors.Is(err, models.ErrConflictData), errors.Is(err, models.ErrLockNotAcquired),
		errors.Is(err, models.ErrFulfillmentBusy):
		return http.StatusConflict
	case errors.Is(err, models.ErrGateway):
		return http.StatusBadGateway
	case errors.Is(err, models.ErrFulfillmentOff):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError writes error as {"message": ...}, internal errors are logged and hidden
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusCode(err)

	msg := err.Error()
	if code == http.StatusInternalServerError {
		logger.Log.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		msg = "internal error"
	}

	writeMessage(w, code, msg)
}
