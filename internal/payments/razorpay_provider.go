package payments

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	// ProviderRazorpay is the registration key of the Razorpay provider.
	ProviderRazorpay = "razorpay"

	defaultRazorpayBaseURL = "https://api.razorpay.com/v1"
	defaultRazorpayTimeout = 10 * time.Second
)

// HTTPDoer is satisfied by *http.Client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// RazorpayProviderConfig configures the RazorpayProvider.
type RazorpayProviderConfig struct {
	KeyID     string
	KeySecret string
	BaseURL   string
	Client    HTTPDoer
	Logger    func(ctx context.Context, event string, fields map[string]any)
}

// RazorpayProvider opens Razorpay orders and checks checkout signatures.
type RazorpayProvider struct {
	keyID     string
	keySecret []byte
	baseURL   string
	client    HTTPDoer
	logger    func(context.Context, string, map[string]any)
}

// NewRazorpayProvider validates credentials and builds the provider.
func NewRazorpayProvider(cfg RazorpayProviderConfig) (*RazorpayProvider, error) {
	keyID := strings.TrimSpace(cfg.KeyID)
	secret := strings.TrimSpace(cfg.KeySecret)
	if keyID == "" || secret == "" {
		return nil, errors.New("razorpay: key id and key secret are required")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultRazorpayBaseURL
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: defaultRazorpayTimeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &RazorpayProvider{
		keyID:     keyID,
		keySecret: []byte(secret),
		baseURL:   baseURL,
		client:    client,
		logger:    logger,
	}, nil
}

type razorpayOrderRequest struct {
	Amount         int64             `json:"amount"`
	Currency       string            `json:"currency"`
	Receipt        string            `json:"receipt"`
	PaymentCapture int               `json:"payment_capture"`
	Notes          map[string]string `json:"notes,omitempty"`
}

type razorpayOrderResponse struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Status   string `json:"status"`
}

type razorpayErrorResponse struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
}

// CreateIntent creates a Razorpay order with automatic capture.
func (p *RazorpayProvider) CreateIntent(ctx context.Context, req IntentRequest) (Intent, error) {
	if req.Amount <= 0 {
		return Intent{}, errors.New("razorpay: amount must be positive")
	}
	body, err := json.Marshal(razorpayOrderRequest{
		Amount:         req.Amount,
		Currency:       strings.ToUpper(req.Currency),
		Receipt:        req.OrderID,
		PaymentCapture: 1,
		Notes:          map[string]string{"order_id": req.OrderID, "customer_id": req.CustomerID},
	})
	if err != nil {
		return Intent{}, fmt.Errorf("razorpay: encode order: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/orders", bytes.NewReader(body))
	if err != nil {
		return Intent{}, fmt.Errorf("razorpay: build request: %w", err)
	}
	httpReq.SetBasicAuth(p.keyID, string(p.keySecret))
	httpReq.Header.Set("Content-Type", "application/json")
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		httpReq.Header.Set("X-Idempotency-Key", key)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return Intent{}, fmt.Errorf("%w: razorpay: %v", ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Intent{}, fmt.Errorf("%w: razorpay: read response: %v", ErrGatewayUnavailable, err)
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		return Intent{}, fmt.Errorf("%w: razorpay: status %d", ErrGatewayUnavailable, resp.StatusCode)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr razorpayErrorResponse
		_ = json.Unmarshal(payload, &apiErr)
		return Intent{}, fmt.Errorf("razorpay: create order rejected (%d): %s", resp.StatusCode, apiErr.Error.Description)
	}

	var order razorpayOrderResponse
	if err := json.Unmarshal(payload, &order); err != nil {
		return Intent{}, fmt.Errorf("razorpay: decode order: %w", err)
	}
	if order.ID == "" {
		return Intent{}, errors.New("razorpay: response missing order id")
	}

	p.logger(ctx, "payments.razorpay.order.created", map[string]any{
		"orderId":         req.OrderID,
		"razorpayOrderId": order.ID,
		"amount":          order.Amount,
	})

	return Intent{
		GatewayOrderID: order.ID,
		Amount:         order.Amount,
		Currency:       order.Currency,
	}, nil
}

// Verify recomputes the checkout signature, hex(HMAC-SHA256(gatewayOrderId|paymentId)).
func (p *RazorpayProvider) Verify(_ context.Context, conf Confirmation) (Verification, error) {
	gatewayOrderID := strings.TrimSpace(conf.GatewayOrderID)
	paymentID := strings.TrimSpace(conf.PaymentID)
	signature := strings.ToLower(strings.TrimSpace(conf.Signature))
	if gatewayOrderID == "" || paymentID == "" || signature == "" {
		return Verification{}, fmt.Errorf("%w: razorpay confirmation is incomplete", ErrVerificationFailed)
	}

	expected := p.Sign(gatewayOrderID, paymentID)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return Verification{}, fmt.Errorf("%w: razorpay signature mismatch", ErrVerificationFailed)
	}
	return Verification{
		GatewayOrderID: gatewayOrderID,
		PaymentID:      paymentID,
		Status:         StatusSucceeded,
	}, nil
}

// Sign returns the signature Razorpay attaches to a successful checkout.
func (p *RazorpayProvider) Sign(gatewayOrderID, paymentID string) string {
	mac := hmac.New(sha256.New, p.keySecret)
	mac.Write([]byte(gatewayOrderID + "|" + paymentID))
	return hex.EncodeToString(mac.Sum(nil))
}
