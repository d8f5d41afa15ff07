package payment

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rookgm/flyem/internal/models"
	"github.com/shopspring/decimal"
)

const currencyINR = "INR"

var hundred = decimal.NewFromInt(100)

// Razorpay is payment gateway client
type Razorpay struct {
	client    *http.Client
	baseURL   string
	keyID     string
	keySecret string
	now       func() time.Time
}

// NewRazorpay creates new Razorpay instance
func NewRazorpay(baseURL, keyID, keySecret string, timeout time.Duration) *Razorpay {
	return &Razorpay{
		client: &http.Client{
			Timeout: timeout,
		},
		baseURL:   baseURL,
		keyID:     keyID,
		keySecret: keySecret,
		now:       time.Now,
	}
}

// KeyID returns public key id used by checkout SDK
func (r *Razorpay) KeyID() string {
	return r.keyID
}

type createOrderRequest struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
}

type orderResponse struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
	Status   string `json:"status"`
}

// CreatePaymentIntent creates order on gateway side for amount given in rupees
func (r *Razorpay) CreatePaymentIntent(ctx context.Context, amount decimal.Decimal) (*models.PaymentIntent, error) {
	paisa := amount.Mul(hundred).Round(0).IntPart()
	if paisa <= 0 {
		return nil, &models.ValidationError{Field: "amount", Reason: "must be positive"}
	}

	// POST /v1/orders
	u, err := url.JoinPath(r.baseURL, "v1", "orders")
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(createOrderRequest{
		Amount:   paisa,
		Currency: currencyINR,
		Receipt:  fmt.Sprintf("receipt_%d", r.now().UnixMilli()),
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(r.keyID, r.keySecret)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, &models.GatewayError{Op: "create order", Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &models.GatewayError{Op: "create order", Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &models.GatewayError{
			Op:  "create order",
			Err: fmt.Errorf("status %d: %s", resp.StatusCode, respBody),
		}
	}

	var or orderResponse
	if err := json.Unmarshal(respBody, &or); err != nil {
		return nil, &models.GatewayError{Op: "create order", Err: err}
	}

	return &models.PaymentIntent{
		ID:       or.ID,
		Amount:   or.Amount,
		Currency: or.Currency,
		Receipt:  or.Receipt,
		Status:   or.Status,
	}, nil
}

// GetPaymentIntent fetches order created on gateway side
func (r *Razorpay) GetPaymentIntent(ctx context.Context, id string) (*models.PaymentIntent, error) {
	// GET /v1/orders/{id}
	u, err := url.JoinPath(r.baseURL, "v1", "orders", url.PathEscape(id))
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(r.keyID, r.keySecret)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, &models.GatewayError{Op: "fetch order", Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &models.GatewayError{Op: "fetch order", Err: err}
	}

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusBadRequest, http.StatusNotFound:
		return nil, &models.ValidationError{Field: "razorpay_order_id", Reason: "unknown payment order"}
	default:
		return nil, &models.GatewayError{
			Op:  "fetch order",
			Err: fmt.Errorf("status %d: %s", resp.StatusCode, respBody),
		}
	}

	var or orderResponse
	if err := json.Unmarshal(respBody, &or); err != nil {
		return nil, &models.GatewayError{Op: "fetch order", Err: err}
	}

	return &models.PaymentIntent{
		ID:       or.ID,
		Amount:   or.Amount,
		Currency: or.Currency,
		Receipt:  or.Receipt,
		Status:   or.Status,
	}, nil
}

// VerifySignature checks that signature was produced by the gateway for orderRef and paymentRef
func (r *Razorpay) VerifySignature(orderRef, paymentRef, signature string) bool {
	expected := Sign(r.keySecret, orderRef, paymentRef)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// Sign returns hex HMAC-SHA256 of "orderRef|paymentRef"
func Sign(secret, orderRef, paymentRef string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(orderRef + "|" + paymentRef))
	return hex.EncodeToString(mac.Sum(nil))
}
