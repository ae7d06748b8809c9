package payments

import (
	"context"
	"errors"
	"testing"
)

type fakeProvider struct {
	lastOp       string
	intent       Intent
	verification Verification
	err          error
}

func (f *fakeProvider) CreateIntent(ctx context.Context, req IntentRequest) (Intent, error) {
	f.lastOp = "create"
	return f.intent, f.err
}

func (f *fakeProvider) Verify(ctx context.Context, conf Confirmation) (Verification, error) {
	f.lastOp = "verify"
	return f.verification, f.err
}

func TestManagerCreateIntentUsesPreferredProvider(t *testing.T) {
	ctx := context.Background()
	razorpay := &fakeProvider{intent: Intent{GatewayOrderID: "order_rzp"}}
	stripe := &fakeProvider{intent: Intent{GatewayOrderID: "pi_123"}}

	mgr, err := NewManager(map[string]Provider{
		ProviderRazorpay: razorpay,
		ProviderStripe:   stripe,
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	intent, err := mgr.CreateIntent(ctx, PaymentContext{PreferredProvider: "Stripe"}, IntentRequest{Amount: 100, Currency: "INR"})
	if err != nil {
		t.Fatalf("create intent: %v", err)
	}
	if intent.Provider != ProviderStripe {
		t.Fatalf("expected provider stripe, got %q", intent.Provider)
	}
	if stripe.lastOp != "create" {
		t.Fatalf("expected stripe provider to handle call")
	}
	if razorpay.lastOp != "" {
		t.Fatalf("expected razorpay provider to remain unused")
	}
}

func TestManagerDefaultsToRazorpay(t *testing.T) {
	razorpay := &fakeProvider{intent: Intent{GatewayOrderID: "order_rzp"}}
	stripe := &fakeProvider{}
	mgr, err := NewManager(map[string]Provider{ProviderRazorpay: razorpay, ProviderStripe: stripe})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	intent, err := mgr.CreateIntent(context.Background(), PaymentContext{Currency: "INR"}, IntentRequest{Amount: 100})
	if err != nil {
		t.Fatalf("create intent: %v", err)
	}
	if intent.Provider != ProviderRazorpay || intent.GatewayOrderID != "order_rzp" {
		t.Fatalf("unexpected intent %+v", intent)
	}
}

func TestManagerRoutesByCurrency(t *testing.T) {
	razorpay := &fakeProvider{}
	stripe := &fakeProvider{intent: Intent{GatewayOrderID: "pi_usd"}}
	mgr, err := NewManager(
		map[string]Provider{ProviderRazorpay: razorpay, ProviderStripe: stripe},
		WithCurrencyRoutes(map[string]string{"usd": "STRIPE"}),
	)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	intent, err := mgr.CreateIntent(context.Background(), PaymentContext{Currency: "USD"}, IntentRequest{Amount: 100})
	if err != nil {
		t.Fatalf("create intent: %v", err)
	}
	if intent.Provider != ProviderStripe {
		t.Fatalf("expected stripe for USD, got %q", intent.Provider)
	}
}

func TestManagerUnknownPreferredProvider(t *testing.T) {
	mgr, err := NewManager(map[string]Provider{ProviderRazorpay: &fakeProvider{}})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	_, err = mgr.CreateIntent(context.Background(), PaymentContext{PreferredProvider: "paypal"}, IntentRequest{Amount: 1})
	if !errors.Is(err, ErrUnsupportedProvider) {
		t.Fatalf("expected ErrUnsupportedProvider, got %v", err)
	}
}

func TestManagerVerifyRequiresSucceededStatus(t *testing.T) {
	provider := &fakeProvider{verification: Verification{Status: StatusPending}}
	mgr, err := NewManager(map[string]Provider{ProviderStripe: provider})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	_, err = mgr.Verify(context.Background(), ProviderStripe, Confirmation{OrderID: "ord_1", GatewayOrderID: "pi_1"})
	if !errors.Is(err, ErrVerificationFailed) {
		t.Fatalf("expected ErrVerificationFailed, got %v", err)
	}

	provider.verification = Verification{Status: StatusSucceeded, PaymentID: "ch_1"}
	verification, err := mgr.Verify(context.Background(), ProviderStripe, Confirmation{OrderID: "ord_1", GatewayOrderID: "pi_1"})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if verification.Provider != ProviderStripe || verification.PaymentID != "ch_1" {
		t.Fatalf("unexpected verification %+v", verification)
	}
}

func TestManagerVerifyUnknownProvider(t *testing.T) {
	mgr, err := NewManager(map[string]Provider{ProviderRazorpay: &fakeProvider{}})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if _, err := mgr.Verify(context.Background(), "", Confirmation{}); !errors.Is(err, ErrUnsupportedProvider) {
		t.Fatalf("expected ErrUnsupportedProvider, got %v", err)
	}
}

func TestNewManagerRejectsEmptyRegistration(t *testing.T) {
	if _, err := NewManager(nil); err == nil {
		t.Fatalf("expected error for empty provider map")
	}
	if _, err := NewManager(map[string]Provider{" ": &fakeProvider{}}); err == nil {
		t.Fatalf("expected error for blank provider key")
	}
}
