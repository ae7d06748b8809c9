package firestore

import (
	"context"
	"errors"
	"fmt"

	pfirestore "github.com/tomato-food/api/internal/platform/firestore"
	"github.com/tomato-food/api/internal/repositories"
)

// Registry exposes the Firestore repositories sharing one provider.
type Registry struct {
	provider *pfirestore.Provider
	orders   *OrderRepository
	carts    *CartRepository
	menu     *MenuRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry builds every Firestore repository over provider.
func NewRegistry(provider *pfirestore.Provider) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("firestore registry requires provider")
	}
	orders, err := NewOrderRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("build order repository: %w", err)
	}
	carts, err := NewCartRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("build cart repository: %w", err)
	}
	menu, err := NewMenuRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("build menu repository: %w", err)
	}
	return &Registry{provider: provider, orders: orders, carts: carts, menu: menu}, nil
}

func (r *Registry) Orders() repositories.OrderRepository { return r.orders }
func (r *Registry) Carts() repositories.CartRepository   { return r.carts }
func (r *Registry) Menu() repositories.MenuRepository    { return r.menu }

// Ping checks that Firestore answers.
func (r *Registry) Ping(ctx context.Context) error {
	return r.provider.Ping(ctx)
}

// Close releases the Firestore client.
func (r *Registry) Close(ctx context.Context) error {
	return r.provider.Close(ctx)
}
