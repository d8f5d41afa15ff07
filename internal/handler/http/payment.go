package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/rookgm/flyem/internal/models"
	"github.com/shopspring/decimal"
)

type PaymentService interface {
	// KeyID returns public key id used by checkout SDK
	KeyID() string
	// CreatePaymentIntent creates processor side order for amount in rupees
	CreatePaymentIntent(ctx context.Context, amount decimal.Decimal) (*models.PaymentIntent, error)
	// VerifySignature checks checkout signature
	VerifySignature(orderRef, paymentRef, signature string) bool
}

// PaymentHandler represents HTTP handler for payment gateway requests
type PaymentHandler struct {
	svc PaymentService
}

// NewPaymentHandler creates new PaymentHandler instance
func NewPaymentHandler(svc PaymentService) *PaymentHandler {
	return &PaymentHandler{svc: svc}
}

type keyResponse struct {
	KeyID string `json:"keyId"`
}

// GetKey returns public key id
// 200 - success.
func (ph *PaymentHandler) GetKey() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, keyResponse{KeyID: ph.svc.KeyID()})
	}
}

type createIntentRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type intentResponse struct {
	ID       string `json:"id"`
	Entity   string `json:"entity"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
	Status   string `json:"status"`
}

// CreateOrder creates payment intent for checkout
// 200 - intent created;
// 400 - invalid amount;
// 401 - user is not authenticated;
// 502 - payment gateway failed;
// 500 - internal server error.
func (ph *PaymentHandler) CreateOrder() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createIntentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeMessage(w, http.StatusBadRequest, "bad request")
			return
		}
		defer r.Body.Close()

		intent, err := ph.svc.CreatePaymentIntent(r.Context(), req.Amount)
		if err != nil {
			writeError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, intentResponse{
			ID:       intent.ID,
			Entity:   "order",
			Amount:   intent.Amount,
			Currency: intent.Currency,
			Receipt:  intent.Receipt,
			Status:   intent.Status,
		})
	}
}

type verifyRequest struct {
	OrderID   string `json:"razorpay_order_id"`
	PaymentID string `json:"razorpay_payment_id"`
	Signature string `json:"razorpay_signature"`
}

type verifyResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// VerifyPayment checks checkout signature
// 200 - signature is valid;
// 400 - invalid request or signature;
// 401 - user is not authenticated.
func (ph *PaymentHandler) VerifyPayment() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req verifyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeMessage(w, http.StatusBadRequest, "bad request")
			return
		}
		defer r.Body.Close()

		if !ph.svc.VerifySignature(req.OrderID, req.PaymentID, req.Signature) {
			writeError(w, r, models.ErrSignatureMismatch)
			return
		}

		writeJSON(w, http.StatusOK, verifyResponse{Status: "success", Message: "Payment Verified"})
	}
}
