// Package memory keeps orders, carts and the menu in process memory. It backs local
// development and the service tests.
package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	domain "github.com/tomato-food/api/internal/domain"
	"github.com/tomato-food/api/internal/repositories"
)

// Error implements repositories.RepositoryError.
type Error struct {
	Op       string
	Message  string
	notFound bool
	conflict bool
}

func (e *Error) Error() string       { return e.Op + ": " + e.Message }
func (e *Error) IsNotFound() bool    { return e.notFound }
func (e *Error) IsConflict() bool    { return e.conflict }
func (e *Error) IsUnavailable() bool { return false }

func notFound(op, id string) error {
	return &Error{Op: op, Message: fmt.Sprintf("%s not found", id), notFound: true}
}

// Store is a mutex guarded registry implementation.
type Store struct {
	mu     sync.RWMutex
	orders map[string]domain.Order
	carts  map[string]map[string]int
	menu   map[string]domain.MenuItem
}

var (
	_ repositories.Registry        = (*Store)(nil)
	_ repositories.OrderRepository = (*orderRepository)(nil)
	_ repositories.CartRepository  = (*cartRepository)(nil)
	_ repositories.MenuRepository  = (*menuRepository)(nil)
)

// NewStore returns an empty store seeded with the given menu.
func NewStore(menu ...domain.MenuItem) *Store {
	s := &Store{
		orders: make(map[string]domain.Order),
		carts:  make(map[string]map[string]int),
		menu:   make(map[string]domain.MenuItem, len(menu)),
	}
	for _, item := range menu {
		s.menu[item.ID] = item
	}
	return s
}

func (s *Store) Orders() repositories.OrderRepository { return (*orderRepository)(s) }
func (s *Store) Carts() repositories.CartRepository   { return (*cartRepository)(s) }
func (s *Store) Menu() repositories.MenuRepository    { return (*menuRepository)(s) }

func (s *Store) Ping(context.Context) error  { return nil }
func (s *Store) Close(context.Context) error { return nil }

// PutMenuItem adds or replaces a menu entry.
func (s *Store) PutMenuItem(item domain.MenuItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.menu[item.ID] = item
}

// SetCart replaces the customer's cart contents.
func (s *Store) SetCart(customerID string, items map[string]int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.carts[customerID] = cloneCart(items)
}

// Cart returns a copy of the customer's cart contents.
func (s *Store) Cart(customerID string) map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneCart(s.carts[customerID])
}

type orderRepository Store

func (r *orderRepository) Insert(_ context.Context, order domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.orders[order.ID]; exists {
		return &Error{Op: "orders.insert", Message: fmt.Sprintf("%s already exists", order.ID), conflict: true}
	}
	r.orders[order.ID] = cloneOrder(order)
	return nil
}

func (r *orderRepository) FindByID(_ context.Context, orderID string) (domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	order, ok := r.orders[strings.TrimSpace(orderID)]
	if !ok {
		return domain.Order{}, notFound("orders.get", orderID)
	}
	return cloneOrder(order), nil
}

func (r *orderRepository) List(_ context.Context, filter repositories.OrderListFilter) ([]domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	orders := make([]domain.Order, 0, len(r.orders))
	for _, order := range r.orders {
		if filter.CustomerID != "" && order.CustomerID != filter.CustomerID {
			continue
		}
		if filter.Phase != "" && order.Phase != filter.Phase {
			continue
		}
		orders = append(orders, cloneOrder(order))
	}
	slices.SortFunc(orders, func(a, b domain.Order) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return orders, nil
}

func (r *orderRepository) UpdateFulfillment(_ context.Context, orderID string, status domain.FulfillmentStatus, at time.Time) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	order, ok := r.orders[orderID]
	if !ok {
		return domain.Order{}, notFound("orders.update", orderID)
	}
	order.FulfillmentStatus = status
	order.UpdatedAt = at
	r.orders[orderID] = order
	return cloneOrder(order), nil
}

func (r *orderRepository) UpdatePayment(_ context.Context, orderID string, update repositories.PaymentUpdate) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	order, ok := r.orders[orderID]
	if !ok {
		return domain.Order{}, notFound("orders.update", orderID)
	}
	order.PaymentStatus = update.Status
	order.UpdatedAt = update.UpdatedAt
	if update.Phase != nil {
		order.Phase = *update.Phase
	}
	if update.PaymentProvider != nil {
		order.PaymentProvider = *update.PaymentProvider
	}
	if update.GatewayOrderID != nil {
		order.GatewayOrderID = *update.GatewayOrderID
	}
	if update.ExternalPaymentReference != nil {
		order.ExternalPaymentReference = *update.ExternalPaymentReference
	}
	if update.PaidAt != nil {
		paidAt := *update.PaidAt
		order.PaidAt = &paidAt
	}
	r.orders[orderID] = order
	return cloneOrder(order), nil
}

func (r *orderRepository) DeleteProvisional(_ context.Context, orderID string) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	orderID = strings.TrimSpace(orderID)
	order, ok := r.orders[orderID]
	if !ok {
		return domain.Order{}, notFound("orders.delete", orderID)
	}
	if !order.Provisional() || order.PaymentStatus == domain.PaymentCompleted {
		return domain.Order{}, &Error{Op: "orders.delete", Message: fmt.Sprintf("%s is no longer awaiting payment", orderID), conflict: true}
	}
	delete(r.orders, orderID)
	return cloneOrder(order), nil
}

type cartRepository Store

func (r *cartRepository) ClearCart(_ context.Context, customerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.carts[customerID]; ok {
		r.carts[customerID] = map[string]int{}
	}
	return nil
}

type menuRepository Store

func (r *menuRepository) FindByIDs(_ context.Context, ids []string) (map[string]domain.MenuItem, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	items := make(map[string]domain.MenuItem, len(ids))
	for _, id := range ids {
		if item, ok := r.menu[id]; ok {
			items[id] = item
		}
	}
	return items, nil
}

func cloneOrder(order domain.Order) domain.Order {
	order.Items = slices.Clone(order.Items)
	if order.PaidAt != nil {
		paidAt := *order.PaidAt
		order.PaidAt = &paidAt
	}
	return order
}

func cloneCart(src map[string]int) map[string]int {
	dst := make(map[string]int, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
