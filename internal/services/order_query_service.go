package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"golang.org/x/text/cases"

	domain "github.com/tomato-food/api/internal/domain"
	"github.com/tomato-food/api/internal/repositories"
)

// FilterAll disables a status criterion.
const FilterAll = "all"

// FilterCriteria narrows an already fetched order list. Criteria combine with AND.
type FilterCriteria struct {
	PaymentStatus     string
	FulfillmentStatus string
	SearchTerm        string
}

// OrderQueryServiceDeps bundles collaborators required to construct the query service.
type OrderQueryServiceDeps struct {
	Orders repositories.OrderRepository
	Logger Logger
}

type orderQueryService struct {
	orders repositories.OrderRepository
	logger Logger
}

// NewOrderQueryService constructs the order listing service.
func NewOrderQueryService(deps OrderQueryServiceDeps) (OrderQueryService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order query service: order repository is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &orderQueryService{orders: deps.Orders, logger: logger}, nil
}

func (s *orderQueryService) ListOrders(ctx context.Context, scope ListScope) ([]Order, error) {
	var filter repositories.OrderListFilter
	if scope.All {
		if !scope.Actor.Admin {
			return nil, fmt.Errorf("%w: listing every order requires the admin role", ErrOrderForbidden)
		}
	} else {
		customerID := strings.TrimSpace(scope.CustomerID)
		if customerID == "" {
			return nil, fmt.Errorf("%w: customerId is required", ErrOrderInvalidInput)
		}
		if !scope.Actor.Admin && scope.Actor.ID != customerID {
			return nil, fmt.Errorf("%w: orders belong to another customer", ErrOrderForbidden)
		}
		filter.CustomerID = customerID
		// Orders still waiting on a gateway are not part of a customer's history.
		filter.Phase = domain.PhasePlaced
	}

	orders, err := s.orders.List(ctx, filter)
	if err != nil {
		s.logger(ctx, "order.list.failed", map[string]any{
			"customerId": filter.CustomerID,
			"error":      err.Error(),
		})
		return nil, mapRepositoryError(err)
	}
	sortNewestFirst(orders)
	return orders, nil
}

// sortNewestFirst orders by createdAt descending with the id as a tiebreak so equal
// timestamps still list deterministically.
func sortNewestFirst(orders []Order) {
	slices.SortStableFunc(orders, func(a, b Order) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(b.ID, a.ID)
	})
}

// ParseFilterCriteria validates raw filter values. Empty status values mean "all".
func ParseFilterCriteria(paymentStatus, fulfillmentStatus, search string) (FilterCriteria, error) {
	criteria := FilterCriteria{
		PaymentStatus:     FilterAll,
		FulfillmentStatus: FilterAll,
		SearchTerm:        strings.TrimSpace(search),
	}
	if raw := strings.TrimSpace(paymentStatus); raw != "" && !strings.EqualFold(raw, FilterAll) {
		status, ok := domain.ParsePaymentStatus(raw)
		if !ok {
			return FilterCriteria{}, fmt.Errorf("%w: paymentStatus %q is not supported", ErrOrderInvalidInput, raw)
		}
		criteria.PaymentStatus = string(status)
	}
	if raw := strings.TrimSpace(fulfillmentStatus); raw != "" && !strings.EqualFold(raw, FilterAll) {
		status, ok := domain.ParseFulfillmentStatus(raw)
		if !ok {
			return FilterCriteria{}, fmt.Errorf("%w: status %q is not supported", ErrOrderInvalidInput, raw)
		}
		criteria.FulfillmentStatus = string(status)
	}
	return criteria, nil
}

// FilterOrders returns the orders matching criteria in their original order. The input
// slice is never modified.
func FilterOrders(orders []Order, criteria FilterCriteria) []Order {
	paymentFilter, paymentActive := statusCriterion(criteria.PaymentStatus, func(raw string) (string, bool) {
		status, ok := domain.ParsePaymentStatus(raw)
		return string(status), ok
	})
	fulfillmentFilter, fulfillmentActive := statusCriterion(criteria.FulfillmentStatus, func(raw string) (string, bool) {
		status, ok := domain.ParseFulfillmentStatus(raw)
		return string(status), ok
	})

	folder := cases.Fold()
	term := folder.String(strings.TrimSpace(criteria.SearchTerm))

	result := make([]Order, 0, len(orders))
	for _, order := range orders {
		if paymentActive && string(order.PaymentStatus) != paymentFilter {
			continue
		}
		if fulfillmentActive && string(order.FulfillmentStatus) != fulfillmentFilter {
			continue
		}
		if term != "" && !matchesSearch(folder, order, term) {
			continue
		}
		result = append(result, order)
	}
	return result
}

// statusCriterion resolves a criterion value. Unknown values stay active and match nothing.
func statusCriterion(raw string, parse func(string) (string, bool)) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.EqualFold(raw, FilterAll) {
		return "", false
	}
	if status, ok := parse(raw); ok {
		return status, true
	}
	return "\x00" + raw, true
}

func matchesSearch(folder cases.Caser, order Order, term string) bool {
	for _, field := range []string{
		order.ID,
		order.Address.FirstName,
		order.Address.LastName,
		order.ContactEmail,
		order.ContactPhone,
	} {
		if field != "" && strings.Contains(folder.String(field), term) {
			return true
		}
	}
	return false
}
