package payments

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
)

// ProviderStripe is the registration key of the Stripe provider.
const ProviderStripe = "stripe"

// StripeLogger defines the logging contract for Stripe provider operations.
type StripeLogger func(ctx context.Context, event string, fields map[string]any)

type stripePaymentIntentAPI interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

// StripeProviderConfig configures the StripeProvider.
type StripeProviderConfig struct {
	APIKey    string
	AccountID string
	Backends  *stripe.Backends
	Logger    StripeLogger
	Intents   stripePaymentIntentAPI
}

// StripeProvider implements the Provider interface using Stripe Payment Intents.
type StripeProvider struct {
	intents stripePaymentIntentAPI
	account string
	logger  StripeLogger
}

// NewStripeProvider constructs a Stripe Provider using the given configuration.
func NewStripeProvider(cfg StripeProviderConfig) (*StripeProvider, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" && cfg.Intents == nil {
		return nil, errors.New("stripe: api key is required")
	}

	intents := cfg.Intents
	if intents == nil {
		intents = client.New(apiKey, cfg.Backends).PaymentIntents
	}

	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &StripeProvider{
		intents: intents,
		account: strings.TrimSpace(cfg.AccountID),
		logger:  logger,
	}, nil
}

// CreateIntent creates a Payment Intent tagged with the order id.
func (p *StripeProvider) CreateIntent(ctx context.Context, req IntentRequest) (Intent, error) {
	if req.Amount <= 0 {
		return Intent{}, errors.New("stripe: amount must be positive")
	}

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.Amount),
		Currency: stripe.String(strings.ToLower(req.Currency)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	params.AddMetadata("order_id", req.OrderID)
	if req.CustomerID != "" {
		params.AddMetadata("customer_id", req.CustomerID)
	}
	if email := strings.TrimSpace(req.ReceiptEmail); email != "" {
		params.ReceiptEmail = stripe.String(email)
	}
	if len(req.Items) > 0 {
		names := make([]string, 0, len(req.Items))
		for _, item := range req.Items {
			names = append(names, fmt.Sprintf("%dx %s", item.Quantity, item.Name))
		}
		params.Description = stripe.String(truncate(strings.Join(names, ", "), 1000))
	}
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}

	intent, err := p.intents.New(params)
	if err != nil {
		return Intent{}, mapStripeError("create payment intent", err)
	}

	p.logger(ctx, "payments.stripe.intent.created", map[string]any{
		"orderId":       req.OrderID,
		"paymentIntent": intent.ID,
		"amount":        intent.Amount,
	})

	return Intent{
		GatewayOrderID: intent.ID,
		ClientSecret:   intent.ClientSecret,
		Amount:         intent.Amount,
		Currency:       strings.ToUpper(string(intent.Currency)),
	}, nil
}

// Verify looks the Payment Intent up and checks it belongs to the order.
func (p *StripeProvider) Verify(ctx context.Context, conf Confirmation) (Verification, error) {
	intentID := strings.TrimSpace(conf.GatewayOrderID)
	if intentID == "" {
		return Verification{}, fmt.Errorf("%w: stripe payment intent id is required", ErrVerificationFailed)
	}

	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}
	intent, err := p.intents.Get(intentID, params)
	if err != nil {
		return Verification{}, mapStripeError("lookup payment intent", err)
	}
	if intent.Metadata["order_id"] != conf.OrderID {
		return Verification{}, fmt.Errorf("%w: payment intent %s does not belong to order %s", ErrVerificationFailed, intent.ID, conf.OrderID)
	}

	paymentID := intent.ID
	if intent.LatestCharge != nil && intent.LatestCharge.ID != "" {
		paymentID = intent.LatestCharge.ID
	}

	p.logger(ctx, "payments.stripe.intent.verified", map[string]any{
		"orderId":       conf.OrderID,
		"paymentIntent": intent.ID,
		"status":        intent.Status,
	})

	return Verification{
		GatewayOrderID: intent.ID,
		PaymentID:      paymentID,
		Status:         stripeStatus(intent.Status),
		Amount:         intent.Amount,
	}, nil
}

func stripeStatus(status stripe.PaymentIntentStatus) Status {
	switch status {
	case stripe.PaymentIntentStatusSucceeded:
		return StatusSucceeded
	case stripe.PaymentIntentStatusCanceled:
		return StatusFailed
	default:
		return StatusPending
	}
}

func mapStripeError(op string, err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		switch {
		case stripeErr.HTTPStatusCode >= http.StatusInternalServerError,
			stripeErr.HTTPStatusCode == http.StatusTooManyRequests,
			stripeErr.Type == stripe.ErrorTypeAPI:
			return fmt.Errorf("%w: stripe: %s: %v", ErrGatewayUnavailable, op, err)
		case stripeErr.HTTPStatusCode == http.StatusNotFound:
			return fmt.Errorf("%w: stripe: %s: %v", ErrVerificationFailed, op, err)
		}
		return fmt.Errorf("stripe: %s: %w", op, err)
	}
	return fmt.Errorf("%w: stripe: %s: %v", ErrGatewayUnavailable, op, err)
}

func truncate(value string, limit int) string {
	if len(value) <= limit {
		return value
	}
	return value[:limit]
}
