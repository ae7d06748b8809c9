package repositories

import (
	"context"
	"time"

	domain "github.com/tomato-food/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error
	Ping(ctx context.Context) error

	Orders() OrderRepository
	Carts() CartRepository
	Menu() MenuRepository
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// OrderRepository persists order records. Every write touches a single document.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) ([]domain.Order, error)
	UpdateFulfillment(ctx context.Context, orderID string, status domain.FulfillmentStatus, at time.Time) (domain.Order, error)
	UpdatePayment(ctx context.Context, orderID string, update PaymentUpdate) (domain.Order, error)
	// DeleteProvisional removes the order only while it still awaits payment. The
	// check and the delete are atomic; a placed or paid order yields a conflict.
	DeleteProvisional(ctx context.Context, orderID string) (domain.Order, error)
}

// OrderListFilter narrows order listings. Zero values mean no restriction.
type OrderListFilter struct {
	CustomerID string
	Phase      domain.OrderPhase
}

// PaymentUpdate carries the payment fields overwritten on an order. Nil pointers leave
// the stored value untouched.
type PaymentUpdate struct {
	Status                   domain.PaymentStatus
	Phase                    *domain.OrderPhase
	PaymentProvider          *string
	GatewayOrderID           *string
	ExternalPaymentReference *string
	PaidAt                   *time.Time
	UpdatedAt                time.Time
}

// CartRepository is the slice of the cart store the order flow depends on.
type CartRepository interface {
	ClearCart(ctx context.Context, customerID string) error
}

// MenuRepository resolves menu entries for line item snapshots.
type MenuRepository interface {
	FindByIDs(ctx context.Context, ids []string) (map[string]domain.MenuItem, error)
}
