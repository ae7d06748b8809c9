package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Status enumerates the normalised payment states shared across providers.
type Status string

const (
	// StatusPending indicates the payment is awaiting customer action or PSP confirmation.
	StatusPending Status = "pending"
	// StatusSucceeded indicates the PSP reports the payment as captured.
	StatusSucceeded Status = "succeeded"
	// StatusFailed indicates the PSP reports a failure and no further action is possible.
	StatusFailed Status = "failed"
)

var (
	// ErrUnsupportedProvider is returned when the manager cannot locate a provider.
	ErrUnsupportedProvider = errors.New("payments: unsupported provider")
	// ErrVerificationFailed is returned when a confirmation cannot be authenticated.
	ErrVerificationFailed = errors.New("payments: confirmation could not be verified")
	// ErrGatewayUnavailable is returned when the PSP could not be reached.
	ErrGatewayUnavailable = errors.New("payments: gateway unavailable")
)

// LineItem describes one order line forwarded to the PSP for display.
type LineItem struct {
	Name       string
	Quantity   int64
	UnitAmount int64
}

// IntentRequest opens a gateway payment for an order. Amounts are in the currency's minor unit.
type IntentRequest struct {
	OrderID        string
	CustomerID     string
	Amount         int64
	Currency       string
	ReceiptEmail   string
	IdempotencyKey string
	Items          []LineItem
}

// Intent is the gateway handle returned to the storefront.
type Intent struct {
	Provider       string
	GatewayOrderID string
	ClientSecret   string
	RedirectURL    string
	Amount         int64
	Currency       string
}

// Confirmation is the payload the storefront receives from the gateway widget.
type Confirmation struct {
	OrderID        string
	GatewayOrderID string
	PaymentID      string
	Signature      string
}

// Verification is the PSP's view of a confirmed payment.
type Verification struct {
	Provider       string
	GatewayOrderID string
	PaymentID      string
	Status         Status
	Amount         int64
}

// Provider defines the contract for PSP adapters to implement. Verify must return an error
// for anything it cannot authenticate.
type Provider interface {
	CreateIntent(ctx context.Context, req IntentRequest) (Intent, error)
	Verify(ctx context.Context, conf Confirmation) (Verification, error)
}

// Manager coordinates provider selection and exposes the aggregated interface.
type Manager struct {
	providers       map[string]Provider
	defaultProvider string
	currencyRoutes  map[string]string
}

// ManagerOption configures optional behaviour when building a Manager.
type ManagerOption func(*Manager)

// WithDefaultProvider overrides the default provider for currencies without explicit routing.
func WithDefaultProvider(provider string) ManagerOption {
	return func(m *Manager) {
		m.defaultProvider = normaliseKey(provider)
	}
}

// WithCurrencyRoutes configures static currency to provider mappings.
func WithCurrencyRoutes(routes map[string]string) ManagerOption {
	return func(m *Manager) {
		for currency, provider := range routes {
			if m.currencyRoutes == nil {
				m.currencyRoutes = make(map[string]string, len(routes))
			}
			m.currencyRoutes[strings.ToUpper(strings.TrimSpace(currency))] = normaliseKey(provider)
		}
	}
}

// NewManager constructs a Manager over the supplied providers.
func NewManager(providers map[string]Provider, opts ...ManagerOption) (*Manager, error) {
	if len(providers) == 0 {
		return nil, errors.New("payments: at least one provider is required")
	}
	registered := make(map[string]Provider, len(providers))
	for key, provider := range providers {
		name := normaliseKey(key)
		if name == "" || provider == nil {
			return nil, fmt.Errorf("payments: invalid provider registration for key %q", key)
		}
		registered[name] = provider
	}
	m := &Manager{providers: registered}
	if _, ok := registered[ProviderRazorpay]; ok {
		m.defaultProvider = ProviderRazorpay
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// PaymentContext defines the hints available when selecting a provider.
type PaymentContext struct {
	PreferredProvider string
	Currency          string
}

func (m *Manager) resolve(ctx PaymentContext) (string, Provider, error) {
	if preferred := normaliseKey(ctx.PreferredProvider); preferred != "" {
		if p, ok := m.providers[preferred]; ok {
			return preferred, p, nil
		}
		return "", nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, preferred)
	}
	if route, ok := m.currencyRoutes[strings.ToUpper(strings.TrimSpace(ctx.Currency))]; ok {
		if p, ok := m.providers[route]; ok {
			return route, p, nil
		}
	}
	if p, ok := m.providers[m.defaultProvider]; ok {
		return m.defaultProvider, p, nil
	}
	if len(m.providers) == 1 {
		for key, p := range m.providers {
			return key, p, nil
		}
	}
	return "", nil, ErrUnsupportedProvider
}

// CreateIntent opens a payment with the resolved provider.
func (m *Manager) CreateIntent(ctx context.Context, paymentCtx PaymentContext, req IntentRequest) (Intent, error) {
	key, provider, err := m.resolve(paymentCtx)
	if err != nil {
		return Intent{}, err
	}
	intent, err := provider.CreateIntent(ctx, req)
	if err != nil {
		return Intent{}, err
	}
	intent.Provider = key
	return intent, nil
}

// Verify authenticates a confirmation with the provider that opened the payment.
func (m *Manager) Verify(ctx context.Context, provider string, conf Confirmation) (Verification, error) {
	key := normaliseKey(provider)
	p, ok := m.providers[key]
	if !ok {
		return Verification{}, fmt.Errorf("%w: %q", ErrUnsupportedProvider, provider)
	}
	verification, err := p.Verify(ctx, conf)
	if err != nil {
		return Verification{}, err
	}
	if verification.Status != StatusSucceeded {
		return Verification{}, fmt.Errorf("%w: payment status %s", ErrVerificationFailed, verification.Status)
	}
	verification.Provider = key
	return verification, nil
}

func normaliseKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}
