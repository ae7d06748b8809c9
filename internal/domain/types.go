package domain

import (
	"time"
)

// GuestCustomerID is recorded on orders that were entered without an authenticated customer.
const GuestCustomerID = "guest"

// DefaultDeliveryFee is the flat delivery charge added to every order total.
const DefaultDeliveryFee int64 = 26

// DefaultCurrency is the ISO currency code menu prices are expressed in.
const DefaultCurrency = "INR"

// SortOrder indicates ascending or descending ordering for list queries.
type SortOrder string

const (
	// SortAsc sorts results in ascending order.
	SortAsc SortOrder = "asc"
	// SortDesc sorts results in descending order.
	SortDesc SortOrder = "desc"
)

// FulfillmentStatus enumerates the delivery stages an order moves through.
type FulfillmentStatus string

const (
	// FulfillmentProcessing indicates the kitchen is preparing the order.
	FulfillmentProcessing FulfillmentStatus = "processing"
	// FulfillmentOutForDelivery indicates a rider has picked the order up.
	FulfillmentOutForDelivery FulfillmentStatus = "out_for_delivery"
	// FulfillmentDelivered indicates the order reached the customer.
	FulfillmentDelivered FulfillmentStatus = "delivered"
)

// PaymentStatus enumerates the states of the money movement tied to an order.
type PaymentStatus string

const (
	// PaymentPending indicates no settled transaction exists yet.
	PaymentPending PaymentStatus = "pending"
	// PaymentCompleted indicates the payment was collected.
	PaymentCompleted PaymentStatus = "completed"
	// PaymentFailed indicates the payment attempt was declined or abandoned.
	PaymentFailed PaymentStatus = "failed"
)

// OrderPhase separates provisional gateway orders from orders that are part of the order book.
type OrderPhase string

const (
	// PhaseAwaitingPayment marks an order created only to obtain a gateway handle.
	PhaseAwaitingPayment OrderPhase = "awaiting_payment"
	// PhasePlaced marks an order that belongs to the customer's order history.
	PhasePlaced OrderPhase = "placed"
)

// OrderOrigin records which entry point created an order.
type OrderOrigin string

const (
	// OriginCustomerCheckout is an order placed by a signed-in customer from the storefront.
	OriginCustomerCheckout OrderOrigin = "customer_checkout"
	// OriginAdminManual is an order keyed in by staff from the admin panel.
	OriginAdminManual OrderOrigin = "admin_manual"
	// OriginGatewayCheckout is a provisional order opened against a payment gateway.
	OriginGatewayCheckout OrderOrigin = "gateway_checkout"
)

// Payment method labels stored on orders.
const (
	PaymentMethodCashOnDelivery = "Cash on Delivery"
	PaymentMethodManualEntry    = "Manual Entry"
	PaymentMethodOnline         = "Online"
)

// Order is the persisted order record.
type Order struct {
	ID                       string
	CustomerID               string
	Items                    []OrderLineItem
	Amount                   int64
	DeliveryFee              int64
	Currency                 string
	Address                  Address
	ContactEmail             string
	ContactPhone             string
	FulfillmentStatus        FulfillmentStatus
	PaymentStatus            PaymentStatus
	Phase                    OrderPhase
	Origin                   OrderOrigin
	PaymentMethod            string
	PaymentProvider          string
	GatewayOrderID           string
	ExternalPaymentReference string
	CreatedAt                time.Time
	UpdatedAt                time.Time
	PaidAt                   *time.Time
}

// OrderLineItem is a point-in-time copy of a menu item taken when the order was created.
type OrderLineItem struct {
	FoodID      string
	Name        string
	Price       int64
	Quantity    int
	Category    string
	ImageURL    string
	Description string
}

// Address holds the delivery destination of an order.
type Address struct {
	FirstName string
	LastName  string
	Street    string
	City      string
	State     string
	Zipcode   string
	Country   string
	Phone     string
}

// MenuItem is a catalog entry that orders snapshot at creation time.
type MenuItem struct {
	ID          string
	Name        string
	Price       int64
	Category    string
	ImageURL    string
	Description string
	Available   bool
}
