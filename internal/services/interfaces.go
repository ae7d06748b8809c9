package services

import (
	"context"
	"time"

	domain "github.com/tomato-food/api/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Order             = domain.Order
	OrderLineItem     = domain.OrderLineItem
	Address           = domain.Address
	MenuItem          = domain.MenuItem
	FulfillmentStatus = domain.FulfillmentStatus
	PaymentStatus     = domain.PaymentStatus
	OrderOrigin       = domain.OrderOrigin
)

// Logger receives structured service events. The zero value discards them.
type Logger func(ctx context.Context, event string, fields map[string]any)

// Actor identifies who is calling a service operation.
type Actor struct {
	ID    string
	Admin bool
	// System marks callers authenticated out of band, such as signed gateway webhooks.
	System bool
}

// OrderService creates orders and applies the two status mutations.
type OrderService interface {
	CreateOrder(ctx context.Context, cmd CreateOrderCommand) (CreateOrderResult, error)
	UpdateFulfillmentStatus(ctx context.Context, cmd UpdateFulfillmentCommand) (Order, error)
	UpdatePaymentStatus(ctx context.Context, cmd UpdatePaymentCommand) (Order, error)
}

// OrderQueryService lists orders for the admin board and customer history.
type OrderQueryService interface {
	ListOrders(ctx context.Context, scope ListScope) ([]Order, error)
}

// PaymentService reconciles gateway payments with provisional orders.
type PaymentService interface {
	StartCheckout(ctx context.Context, cmd StartCheckoutCommand) (CheckoutResult, error)
	ConfirmPayment(ctx context.Context, cmd ConfirmPaymentCommand) (Order, error)
	CancelPayment(ctx context.Context, cmd CancelPaymentCommand) error
}

// CartClearer empties a customer's cart after checkout without failing the order.
type CartClearer interface {
	Clear(ctx context.Context, customerID string) error
}

// CreateOrderCommand is the input for both order entry points; Origin selects validation.
type CreateOrderCommand struct {
	Origin        OrderOrigin
	Actor         Actor
	CustomerID    string
	Items         []OrderItemInput
	Amount        int64
	Address       Address
	ContactEmail  string
	ContactPhone  string
	PaymentStatus string
	PaymentMethod string
}

// OrderItemInput references a menu item by FoodID. Name and Price are only used for
// admin entries without a menu reference or when no menu is configured.
type OrderItemInput struct {
	FoodID      string
	Name        string
	Price       int64
	Quantity    int
	Category    string
	ImageURL    string
	Description string
}

// CreateOrderResult reports the persisted order and any best-effort side effect that did not finish.
type CreateOrderResult struct {
	Order    Order
	Warnings []string
}

// UpdateFulfillmentCommand changes an order's fulfillment status.
type UpdateFulfillmentCommand struct {
	OrderID string
	Status  string
	Actor   Actor
}

// UpdatePaymentCommand changes an order's payment status.
type UpdatePaymentCommand struct {
	OrderID string
	Status  string
	Actor   Actor
}

// ListScope selects every order (All) or a single customer's orders.
type ListScope struct {
	All        bool
	CustomerID string
	Actor      Actor
}

// StartCheckoutCommand opens a gateway payment for a new provisional order.
type StartCheckoutCommand struct {
	Order             CreateOrderCommand
	PreferredProvider string
	IdempotencyKey    string
}

// CheckoutResult is returned to the storefront to launch the gateway widget.
type CheckoutResult struct {
	Order          Order
	Provider       string
	GatewayOrderID string
	ClientSecret   string
	RedirectURL    string
}

// ConfirmPaymentCommand carries the gateway's confirmation for an order.
type ConfirmPaymentCommand struct {
	OrderID        string
	GatewayOrderID string
	GatewayRef     string
	Signature      string
	Actor          Actor
	// Captured replaces the checkout signature check with a capture reported by a signed
	// webhook. Only system actors may supply it.
	Captured *CapturedPayment
}

// CapturedPayment is the gateway's own report of a settled payment.
type CapturedPayment struct {
	Amount   int64
	Currency string
}

// CancelPaymentCommand retracts a provisional order after the customer dismissed the gateway.
type CancelPaymentCommand struct {
	OrderID string
	Actor   Actor
}

// OrderEventPublisher publishes order domain events for downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// OrderEvent captures metadata for emitted order domain events.
type OrderEvent struct {
	Type           string
	OrderID        string
	CustomerID     string
	PreviousStatus string
	CurrentStatus  string
	ActorID        string
	OccurredAt     time.Time
	Metadata       map[string]any
}
