package domain

import "strings"

var fulfillmentAliases = map[string]FulfillmentStatus{
	"processing":       FulfillmentProcessing,
	"food processing":  FulfillmentProcessing,
	"out_for_delivery": FulfillmentOutForDelivery,
	"out for delivery": FulfillmentOutForDelivery,
	"outfordelivery":   FulfillmentOutForDelivery,
	"delivered":        FulfillmentDelivered,
}

// ParseFulfillmentStatus normalises canonical values and the storefront's display labels.
func ParseFulfillmentStatus(raw string) (FulfillmentStatus, bool) {
	status, ok := fulfillmentAliases[strings.ToLower(strings.TrimSpace(raw))]
	return status, ok
}

// ParsePaymentStatus accepts the payment states case-insensitively.
func ParsePaymentStatus(raw string) (PaymentStatus, bool) {
	switch PaymentStatus(strings.ToLower(strings.TrimSpace(raw))) {
	case PaymentPending:
		return PaymentPending, true
	case PaymentCompleted:
		return PaymentCompleted, true
	case PaymentFailed:
		return PaymentFailed, true
	default:
		return "", false
	}
}

// Label returns the human readable text shown on order boards.
func (s FulfillmentStatus) Label() string {
	switch s {
	case FulfillmentProcessing:
		return "Food Processing"
	case FulfillmentOutForDelivery:
		return "Out for delivery"
	case FulfillmentDelivered:
		return "Delivered"
	default:
		return string(s)
	}
}

// Provisional reports whether the order only exists to await a gateway payment.
func (o Order) Provisional() bool {
	return o.Phase == PhaseAwaitingPayment
}
