package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/tomato-food/api/internal/platform/auth"
	"github.com/tomato-food/api/internal/platform/httpx"
	"github.com/tomato-food/api/internal/platform/observability"
	"github.com/tomato-food/api/internal/services"
)

const (
	razorpayEventPaymentCaptured = "payment.captured"
	razorpayEventOrderPaid       = "order.paid"

	webhookActorID = "system:webhook"
)

// PaymentWebhookHandlers settles orders from gateway callbacks. Signature and replay checks
// run in the /webhooks middleware before these handlers.
type PaymentWebhookHandlers struct {
	payments services.PaymentService
}

// NewPaymentWebhookHandlers builds the handlers. A nil payment service answers 503.
func NewPaymentWebhookHandlers(payments services.PaymentService) *PaymentWebhookHandlers {
	return &PaymentWebhookHandlers{payments: payments}
}

// Routes registers the /webhooks endpoints.
func (h *PaymentWebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/payments", h.handlePayment)
}

type razorpayWebhook struct {
	Event   string `json:"event"`
	Payload struct {
		Payment *struct {
			Entity razorpayPaymentEntity `json:"entity"`
		} `json:"payment"`
		Order *struct {
			Entity razorpayOrderEntity `json:"entity"`
		} `json:"order"`
	} `json:"payload"`
}

type razorpayPaymentEntity struct {
	ID       string          `json:"id"`
	OrderID  string          `json:"order_id"`
	Amount   int64           `json:"amount"`
	Currency string          `json:"currency"`
	Status   string          `json:"status"`
	Notes    json.RawMessage `json:"notes"`
}

type razorpayOrderEntity struct {
	ID      string          `json:"id"`
	Receipt string          `json:"receipt"`
	Notes   json.RawMessage `json:"notes"`
}

type webhookAck struct {
	Status  string `json:"status"`
	OrderID string `json:"orderId,omitempty"`
}

func (h *PaymentWebhookHandlers) handlePayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		writeServiceUnavailable(ctx, w, "payments_unavailable", "online payments are not configured")
		return
	}

	// Gateways add fields freely, so unknown fields are tolerated here.
	var event razorpayWebhook
	body, err := io.ReadAll(io.LimitReader(r.Body, httpx.MaxBodyBytes+1))
	switch {
	case err != nil:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_body", "unable to read webhook body", http.StatusBadRequest))
		return
	case int64(len(body)) > httpx.MaxBodyBytes:
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body too large", http.StatusRequestEntityTooLarge))
		return
	}
	if err := json.Unmarshal(body, &event); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_json", "invalid webhook payload", http.StatusBadRequest))
		return
	}
	if event.Event != razorpayEventPaymentCaptured && event.Event != razorpayEventOrderPaid {
		httpx.WriteJSON(w, http.StatusOK, webhookAck{Status: "ignored"})
		return
	}
	if event.Payload.Payment == nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_webhook", "webhook carries no payment", http.StatusBadRequest))
		return
	}
	payment := event.Payload.Payment.Entity

	orderID := noteValue(payment.Notes, "order_id")
	gatewayOrderID := payment.OrderID
	if order := event.Payload.Order; order != nil {
		orderID = firstNonEmpty(orderID, noteValue(order.Entity.Notes, "order_id"), order.Entity.Receipt)
		gatewayOrderID = firstNonEmpty(gatewayOrderID, order.Entity.ID)
	}
	if strings.TrimSpace(orderID) == "" || strings.TrimSpace(payment.ID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_webhook", "webhook does not identify an order payment", http.StatusBadRequest))
		return
	}

	logger := observability.FromContext(ctx).With(
		zap.String("orderId", orderID),
		zap.String("gatewayOrderId", gatewayOrderID),
		zap.String("event", event.Event),
	)
	if meta, ok := auth.HMACMetadataFromContext(ctx); ok {
		logger = logger.With(zap.String("deliveryId", meta.Nonce))
	}

	order, err := h.payments.ConfirmPayment(ctx, services.ConfirmPaymentCommand{
		OrderID:        orderID,
		GatewayOrderID: gatewayOrderID,
		GatewayRef:     payment.ID,
		Actor:          services.Actor{ID: webhookActorID, System: true},
		Captured:       &services.CapturedPayment{Amount: payment.Amount, Currency: payment.Currency},
	})
	switch {
	case err == nil:
		logger.Info("payment confirmed by webhook")
		httpx.WriteJSON(w, http.StatusOK, webhookAck{Status: "confirmed", OrderID: order.ID})
	case errors.Is(err, services.ErrOrderConflict):
		// The checkout confirmation usually wins; nothing is left to do.
		logger.Info("webhook for settled order", zap.Error(err))
		httpx.WriteJSON(w, http.StatusOK, webhookAck{Status: "already_processed", OrderID: orderID})
	case errors.Is(err, services.ErrOrderNotFound):
		// A capture for an order the customer already cancelled needs a manual refund.
		logger.Error("captured payment for unknown order", zap.String("paymentId", payment.ID), zap.Error(err))
		httpx.WriteJSON(w, http.StatusOK, webhookAck{Status: "unmatched", OrderID: orderID})
	default:
		logger.Warn("webhook payment rejected", zap.Error(err))
		writeOrderError(ctx, w, err)
	}
}

// noteValue reads a string note. Razorpay sends an empty array when an entity has no notes.
func noteValue(raw json.RawMessage, key string) string {
	var notes map[string]any
	if len(raw) == 0 || json.Unmarshal(raw, &notes) != nil {
		return ""
	}
	value, _ := notes[key].(string)
	return strings.TrimSpace(value)
}
