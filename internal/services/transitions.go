package services

import (
	domain "github.com/tomato-food/api/internal/domain"
)

// TransitionPolicy decides which status changes an order accepts.
type TransitionPolicy struct {
	fulfillment map[domain.FulfillmentStatus][]domain.FulfillmentStatus
	payment     map[domain.PaymentStatus][]domain.PaymentStatus
}

var (
	allFulfillmentStatuses = []domain.FulfillmentStatus{
		domain.FulfillmentProcessing,
		domain.FulfillmentOutForDelivery,
		domain.FulfillmentDelivered,
	}
	allPaymentStatuses = []domain.PaymentStatus{
		domain.PaymentPending,
		domain.PaymentCompleted,
		domain.PaymentFailed,
	}
)

// PermissivePolicy lets every status move to every other status.
func PermissivePolicy() TransitionPolicy {
	fulfillment := make(map[domain.FulfillmentStatus][]domain.FulfillmentStatus, len(allFulfillmentStatuses))
	for _, status := range allFulfillmentStatuses {
		fulfillment[status] = allFulfillmentStatuses
	}
	payment := make(map[domain.PaymentStatus][]domain.PaymentStatus, len(allPaymentStatuses))
	for _, status := range allPaymentStatuses {
		payment[status] = allPaymentStatuses
	}
	return TransitionPolicy{fulfillment: fulfillment, payment: payment}
}

// StrictPolicy only advances fulfillment and never moves a completed payment.
func StrictPolicy() TransitionPolicy {
	return TransitionPolicy{
		fulfillment: map[domain.FulfillmentStatus][]domain.FulfillmentStatus{
			domain.FulfillmentProcessing:     {domain.FulfillmentProcessing, domain.FulfillmentOutForDelivery, domain.FulfillmentDelivered},
			domain.FulfillmentOutForDelivery: {domain.FulfillmentOutForDelivery, domain.FulfillmentDelivered},
			domain.FulfillmentDelivered:      {domain.FulfillmentDelivered},
		},
		payment: map[domain.PaymentStatus][]domain.PaymentStatus{
			domain.PaymentPending:   {domain.PaymentPending, domain.PaymentCompleted, domain.PaymentFailed},
			domain.PaymentFailed:    {domain.PaymentFailed, domain.PaymentPending, domain.PaymentCompleted},
			domain.PaymentCompleted: {domain.PaymentCompleted},
		},
	}
}

// AllowsFulfillment reports whether from may change to to.
func (p TransitionPolicy) AllowsFulfillment(from, to domain.FulfillmentStatus) bool {
	// Records written before statuses were normalised carry unknown values; let them move.
	allowed, known := p.fulfillment[from]
	if !known {
		return true
	}
	for _, candidate := range allowed {
		if candidate == to {
			return true
		}
	}
	return false
}

// AllowsPayment reports whether from may change to to.
func (p TransitionPolicy) AllowsPayment(from, to domain.PaymentStatus) bool {
	allowed, known := p.payment[from]
	if !known {
		return true
	}
	for _, candidate := range allowed {
		if candidate == to {
			return true
		}
	}
	return false
}
