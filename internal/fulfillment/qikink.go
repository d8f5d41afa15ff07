package fulfillment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rookgm/flyem/internal/logger"
	"github.com/rookgm/flyem/internal/models"
	"go.uber.org/zap"
)

// StatusPlaced is stored as external status once the partner accepted the order
const StatusPlaced = "Placed"

const (
	defaultCountryCode = "IN"
	defaultEmail       = "no-email@flyem.com"
	printTypeID        = 1
)

var (
	errNoAccessToken = errors.New("no access token returned")
	errNoOrderID     = errors.New("no order id returned")
)

// SyncState is the progress of a single sync attempt
type SyncState int

const (
	SyncNotStarted SyncState = iota
	SyncTokenRequested
	SyncTokenAcquired
	SyncOrderSubmitted
	SyncSucceeded
	SyncFailed
)

func (s SyncState) String() string {
	switch s {
	case SyncNotStarted:
		return "not_started"
	case SyncTokenRequested:
		return "token_requested"
	case SyncTokenAcquired:
		return "token_acquired"
	case SyncOrderSubmitted:
		return "order_submitted"
	case SyncSucceeded:
		return "succeeded"
	case SyncFailed:
		return "failed"
	}
	return "unknown"
}

// Client represents HTTP client of print-on-demand partner API
type Client struct {
	client       *http.Client
	baseURL      string
	clientID     string
	clientSecret string
}

// NewClient creates new Client instance
func NewClient(baseURL, clientID, clientSecret string, timeout time.Duration) *Client {
	return &Client{
		client: &http.Client{
			Timeout: timeout,
		},
		baseURL:      baseURL,
		clientID:     clientID,
		clientSecret: clientSecret,
	}
}

type tokenResponse struct {
	ClientID    string `json:"ClientId"`
	AccessToken string `json:"Accesstoken"`
}

// GetAccessToken exchanges client credentials for access token
func (c *Client) GetAccessToken(ctx context.Context) (string, error) {
	// POST /api/token
	u, err := url.JoinPath(c.baseURL, "api", "token")
	if err != nil {
		return "", err
	}

	form := url.Values{}
	form.Set("ClientId", c.clientID)
	form.Set("client_secret", c.clientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request token: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token endpoint returned status %d: %s", resp.StatusCode, body)
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return "", fmt.Errorf("unmarshal token response: %w", err)
	}
	if tr.AccessToken == "" {
		return "", errNoAccessToken
	}

	return tr.AccessToken, nil
}

// SubmitOrder creates order on partner side
func (c *Client) SubmitOrder(ctx context.Context, token string, payload OrderPayload) (*models.FulfillmentResult, error) {
	// POST /api/order/create
	u, err := url.JoinPath(c.baseURL, "api", "order", "create")
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal order payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("ClientId", c.clientID)
	req.Header.Set("Accesstoken", token)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("order endpoint returned status %d: %s", resp.StatusCode, body)
	}

	// order_id comes back either as number or as string
	var created struct {
		OrderID any `json:"order_id"`
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&created); err != nil {
		return nil, fmt.Errorf("unmarshal order response: %w", err)
	}
	if created.OrderID == nil || fmt.Sprint(created.OrderID) == "" {
		return nil, errNoOrderID
	}

	return &models.FulfillmentResult{
		ExternalOrderID: fmt.Sprint(created.OrderID),
		ExternalStatus:  StatusPlaced,
		Raw:             body,
	}, nil
}

// SyncOrder submits order to the partner. It returns nil when sync fails, failures are logged.
func (c *Client) SyncOrder(ctx context.Context, order models.Order, customer models.Customer) *models.FulfillmentResult {
	state := SyncNotStarted
	log := logger.Log.With(zap.String("order_id", order.ID), zap.String("order_number", order.Number()))

	fail := func(err error) *models.FulfillmentResult {
		log.Error("fulfillment sync failed", zap.Stringer("stage", state), zap.Error(err))
		state = SyncFailed
		return nil
	}

	state = SyncTokenRequested
	token, err := c.GetAccessToken(ctx)
	if err != nil {
		return fail(err)
	}
	state = SyncTokenAcquired

	payload := NewOrderPayload(order, customer)
	log.Debug("submitting order to fulfillment partner", zap.Int("line_items", len(payload.LineItems)))

	state = SyncOrderSubmitted
	res, err := c.SubmitOrder(ctx, token, payload)
	if err != nil {
		return fail(err)
	}
	state = SyncSucceeded

	log.Info("fulfillment order created",
		zap.String("external_id", res.ExternalOrderID),
		zap.ByteString("response", res.Raw))

	return res
}
