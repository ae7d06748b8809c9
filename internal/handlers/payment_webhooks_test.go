package handlers

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	domain "github.com/tomato-food/api/internal/domain"
	"github.com/tomato-food/api/internal/platform/auth"
	"github.com/tomato-food/api/internal/services"
)

const testWebhookSecret = "rzp-whsec"

func capturedEvent(orderID string, amount int64) []byte {
	return []byte(fmt.Sprintf(`{
		"entity": "event", "account_id": "acc_1", "contains": ["payment"], "created_at": 1714560000,
		"event": "payment.captured",
		"payload": {"payment": {"entity": {
			"entity": "payment", "method": "upi", "captured": true,
			"id": "pay_hook_1", "order_id": "order_gw_1", "amount": %d, "currency": "INR",
			"status": "captured", "notes": {"order_id": %q, "customer_id": "user_1"}
		}}}
	}`, amount, orderID))
}

func signedWebhookRequest(t *testing.T, body []byte, deliveryID string) *http.Request {
	t.Helper()
	mac := hmac.New(sha256.New, []byte(testWebhookSecret))
	mac.Write(body)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/payments", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(auth.RazorpaySignatureHeader, hex.EncodeToString(mac.Sum(nil)))
	req.Header.Set(auth.RazorpayEventIDHeader, deliveryID)
	return req
}

func newWebhookRouter(payments services.PaymentService) chi.Router {
	validator := auth.NewHMACValidator(testWebhookSecret, auth.NewInMemoryNonceStore())
	return NewRouter(
		WithWebhookRoutes(NewPaymentWebhookHandlers(payments).Routes),
		WithWebhookMiddlewares(validator.RequireHMAC("razorpay")),
	)
}

func TestPaymentWebhookConfirmsAsSystemActor(t *testing.T) {
	var got []services.ConfirmPaymentCommand
	payments := &stubPaymentService{confirmFn: func(_ context.Context, cmd services.ConfirmPaymentCommand) (services.Order, error) {
		got = append(got, cmd)
		return services.Order{ID: cmd.OrderID, PaymentStatus: domain.PaymentCompleted}, nil
	}}
	router := newWebhookRouter(payments)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, signedWebhookRequest(t, capturedEvent("ord_1", 50000), "evt_1"))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var ack map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &ack); err != nil {
		t.Fatalf("decode ack: %v", err)
	}
	if ack["status"] != "confirmed" || ack["orderId"] != "ord_1" {
		t.Fatalf("unexpected ack %v", ack)
	}

	if len(got) != 1 {
		t.Fatalf("expected one confirmation, got %d", len(got))
	}
	cmd := got[0]
	if cmd.OrderID != "ord_1" || cmd.GatewayOrderID != "order_gw_1" || cmd.GatewayRef != "pay_hook_1" {
		t.Fatalf("unexpected command %+v", cmd)
	}
	if !cmd.Actor.System || cmd.Actor.ID != webhookActorID || cmd.Actor.Admin {
		t.Fatalf("expected system actor, got %+v", cmd.Actor)
	}
	if cmd.Captured == nil || cmd.Captured.Amount != 50000 || cmd.Captured.Currency != "INR" {
		t.Fatalf("unexpected capture %+v", cmd.Captured)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, signedWebhookRequest(t, capturedEvent("ord_1", 50000), "evt_1"))
	if rr.Code != http.StatusOK || len(got) != 1 {
		t.Fatalf("expected redelivery to be acknowledged without confirming again, got %d after %d calls", rr.Code, len(got))
	}
}

func TestPaymentWebhookRejectsUnsignedDelivery(t *testing.T) {
	called := false
	router := newWebhookRouter(&stubPaymentService{confirmFn: func(context.Context, services.ConfirmPaymentCommand) (services.Order, error) {
		called = true
		return services.Order{}, nil
	}})

	req := signedWebhookRequest(t, capturedEvent("ord_1", 50000), "evt_1")
	req.Header.Set(auth.RazorpaySignatureHeader, hex.EncodeToString([]byte("forged")))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized || called {
		t.Fatalf("expected 401 without confirming, got %d (called=%v)", rr.Code, called)
	}
}

func TestPaymentWebhookOutcomes(t *testing.T) {
	tests := []struct {
		name       string
		body       []byte
		err        error
		wantStatus int
		wantAck    string
	}{
		{name: "already paid", body: capturedEvent("ord_1", 50000), err: fmt.Errorf("%w: paid", services.ErrOrderConflict), wantStatus: http.StatusOK, wantAck: "already_processed"},
		{name: "cancelled order", body: capturedEvent("ord_1", 50000), err: services.ErrOrderNotFound, wantStatus: http.StatusOK, wantAck: "unmatched"},
		{name: "amount mismatch", body: capturedEvent("ord_1", 1), err: services.ErrOrderVerification, wantStatus: http.StatusBadRequest},
		{name: "store down", body: capturedEvent("ord_1", 50000), err: services.ErrOrderUnavailable, wantStatus: http.StatusServiceUnavailable},
		{name: "other event", body: []byte(`{"event":"refund.created","payload":{}}`), wantStatus: http.StatusOK, wantAck: "ignored"},
		{name: "no order reference", body: capturedEvent("", 50000), wantStatus: http.StatusBadRequest},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			router := newWebhookRouter(&stubPaymentService{confirmFn: func(_ context.Context, cmd services.ConfirmPaymentCommand) (services.Order, error) {
				if tc.err != nil {
					return services.Order{}, tc.err
				}
				return services.Order{ID: cmd.OrderID}, nil
			}})
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, signedWebhookRequest(t, tc.body, "evt_"+tc.name))
			if rr.Code != tc.wantStatus {
				t.Fatalf("expected %d, got %d: %s", tc.wantStatus, rr.Code, rr.Body.String())
			}
			if tc.wantAck != "" {
				var ack map[string]any
				if err := json.Unmarshal(rr.Body.Bytes(), &ack); err != nil || ack["status"] != tc.wantAck {
					t.Fatalf("expected ack %s, got %s", tc.wantAck, rr.Body.String())
				}
			}
		})
	}
}

func TestPaymentWebhookFallsBackToOrderEntity(t *testing.T) {
	body := []byte(`{
		"event": "order.paid",
		"payload": {
			"payment": {"entity": {"id": "pay_9", "order_id": "", "amount": 2600, "currency": "INR", "notes": []}},
			"order": {"entity": {"id": "order_gw_9", "receipt": "ord_9", "notes": []}}
		}
	}`)
	var got services.ConfirmPaymentCommand
	router := newWebhookRouter(&stubPaymentService{confirmFn: func(_ context.Context, cmd services.ConfirmPaymentCommand) (services.Order, error) {
		got = cmd
		return services.Order{ID: cmd.OrderID}, nil
	}})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, signedWebhookRequest(t, body, "evt_order_paid"))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if got.OrderID != "ord_9" || got.GatewayOrderID != "order_gw_9" {
		t.Fatalf("expected order entity to fill the gaps, got %+v", got)
	}
}

func TestPaymentWebhookWithoutPayments(t *testing.T) {
	router := newWebhookRouter(nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, signedWebhookRequest(t, capturedEvent("ord_1", 50000), "evt_1"))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}
