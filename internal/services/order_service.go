package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/tomato-food/api/internal/domain"
	"github.com/tomato-food/api/internal/repositories"
)

const (
	orderEventCreated            = "order.created"
	orderEventFulfillmentUpdated = "order.fulfillment.updated"
	orderEventPaymentUpdated     = "order.payment.updated"
	orderEventPaymentConfirmed   = "order.payment.confirmed"
	orderEventRetracted          = "order.retracted"

	orderIDPrefix = "ord_"
)

// Warnings attached to a CreateOrderResult when the cart could not be cleared inline.
const (
	WarningCartClearDeferred = "cart_clear_deferred"
	WarningCartClearFailed   = "cart_clear_failed"
)

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders      repositories.OrderRepository
	Menu        repositories.MenuRepository
	Carts       CartClearer
	Policy      TransitionPolicy
	DeliveryFee int64
	Currency    string
	Clock       func() time.Time
	IDGenerator func() string
	Events      OrderEventPublisher
	Logger      Logger
}

type orderService struct {
	orders  repositories.OrderRepository
	carts   CartClearer
	policy  TransitionPolicy
	builder *orderBuilder
	clock   func() time.Time
	events  OrderEventPublisher
	logger  Logger
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	return newOrderService(deps)
}

func newOrderService(deps OrderServiceDeps) (*orderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.DeliveryFee < 0 {
		return nil, errors.New("order service: delivery fee cannot be negative")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	utc := func() time.Time { return clock().UTC() }

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return orderIDPrefix + ulid.Make().String()
		}
	}

	policy := deps.Policy
	if policy.fulfillment == nil || policy.payment == nil {
		policy = PermissivePolicy()
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &orderService{
		orders:  deps.Orders,
		carts:   deps.Carts,
		policy:  policy,
		builder: newOrderBuilder(deps.Menu, deps.DeliveryFee, deps.Currency, utc, idGen),
		clock:   utc,
		events:  deps.Events,
		logger:  logger,
	}, nil
}

func (s *orderService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (CreateOrderResult, error) {
	if cmd.Origin == domain.OriginGatewayCheckout {
		return CreateOrderResult{}, fmt.Errorf("%w: gateway orders are opened through checkout", ErrOrderInvalidInput)
	}

	order, err := s.builder.build(ctx, cmd)
	if err != nil {
		return CreateOrderResult{}, err
	}

	if err := s.orders.Insert(ctx, order); err != nil {
		s.logger(ctx, "order.create.failed", map[string]any{
			"orderId": order.ID,
			"origin":  string(order.Origin),
			"error":   err.Error(),
		})
		return CreateOrderResult{}, mapRepositoryError(err)
	}

	s.publishEvent(ctx, OrderEvent{
		Type:          orderEventCreated,
		OrderID:       order.ID,
		CustomerID:    order.CustomerID,
		CurrentStatus: string(order.FulfillmentStatus),
		ActorID:       cmd.Actor.ID,
		OccurredAt:    order.CreatedAt,
		Metadata: map[string]any{
			"origin":        string(order.Origin),
			"amount":        order.Amount,
			"paymentStatus": string(order.PaymentStatus),
		},
	})

	result := CreateOrderResult{Order: order}
	if order.Origin == domain.OriginCustomerCheckout {
		if warning := s.clearCart(ctx, order); warning != "" {
			result.Warnings = append(result.Warnings, warning)
		}
	}
	return result, nil
}

func (s *orderService) UpdateFulfillmentStatus(ctx context.Context, cmd UpdateFulfillmentCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: orderId is required", ErrOrderInvalidInput)
	}
	next, ok := domain.ParseFulfillmentStatus(cmd.Status)
	if !ok {
		return Order{}, fmt.Errorf("%w: status %q is not supported", ErrOrderInvalidInput, cmd.Status)
	}

	current, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, mapRepositoryError(err)
	}
	if current.Provisional() {
		return Order{}, fmt.Errorf("%w: order %s is awaiting payment", ErrOrderConflict, orderID)
	}
	if !s.policy.AllowsFulfillment(current.FulfillmentStatus, next) {
		return Order{}, fmt.Errorf("%w: cannot move fulfillment from %s to %s", ErrOrderConflict, current.FulfillmentStatus, next)
	}

	updated, err := s.orders.UpdateFulfillment(ctx, orderID, next, s.clock())
	if err != nil {
		return Order{}, mapRepositoryError(err)
	}

	s.publishEvent(ctx, OrderEvent{
		Type:           orderEventFulfillmentUpdated,
		OrderID:        orderID,
		CustomerID:     updated.CustomerID,
		PreviousStatus: string(current.FulfillmentStatus),
		CurrentStatus:  string(updated.FulfillmentStatus),
		ActorID:        cmd.Actor.ID,
		OccurredAt:     updated.UpdatedAt,
	})
	return updated, nil
}

func (s *orderService) UpdatePaymentStatus(ctx context.Context, cmd UpdatePaymentCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: orderId is required", ErrOrderInvalidInput)
	}
	next, ok := domain.ParsePaymentStatus(cmd.Status)
	if !ok {
		return Order{}, fmt.Errorf("%w: paymentStatus %q is not supported", ErrOrderInvalidInput, cmd.Status)
	}

	current, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, mapRepositoryError(err)
	}
	if !s.policy.AllowsPayment(current.PaymentStatus, next) {
		return Order{}, fmt.Errorf("%w: cannot move payment from %s to %s", ErrOrderConflict, current.PaymentStatus, next)
	}

	now := s.clock()
	update := repositories.PaymentUpdate{Status: next, UpdatedAt: now}
	if next == domain.PaymentCompleted {
		if current.PaidAt == nil {
			update.PaidAt = &now
		}
		if current.Provisional() {
			placed := domain.PhasePlaced
			update.Phase = &placed
		}
	}

	updated, err := s.orders.UpdatePayment(ctx, orderID, update)
	if err != nil {
		return Order{}, mapRepositoryError(err)
	}

	s.publishEvent(ctx, OrderEvent{
		Type:           orderEventPaymentUpdated,
		OrderID:        orderID,
		CustomerID:     updated.CustomerID,
		PreviousStatus: string(current.PaymentStatus),
		CurrentStatus:  string(updated.PaymentStatus),
		ActorID:        cmd.Actor.ID,
		OccurredAt:     now,
	})
	return updated, nil
}

// clearCart returns a warning code when the cart was not emptied inline.
func (s *orderService) clearCart(ctx context.Context, order Order) string {
	if s.carts == nil || order.CustomerID == domain.GuestCustomerID {
		return ""
	}
	err := s.carts.Clear(ctx, order.CustomerID)
	if err == nil {
		return ""
	}
	s.logger(ctx, "order.cart_clear.incomplete", map[string]any{
		"orderId":    order.ID,
		"customerId": order.CustomerID,
		"error":      err.Error(),
	})
	if errors.Is(err, ErrCartClearDeferred) {
		return WarningCartClearDeferred
	}
	return WarningCartClearFailed
}

func (s *orderService) publishEvent(ctx context.Context, event OrderEvent) {
	publishOrderEvent(ctx, s.events, s.logger, event)
}

func publishOrderEvent(ctx context.Context, events OrderEventPublisher, logger Logger, event OrderEvent) {
	if events == nil {
		return
	}
	if err := events.PublishOrderEvent(ctx, event); err != nil {
		logger(ctx, "order.event.publish.failed", map[string]any{
			"type":    event.Type,
			"orderId": event.OrderID,
			"error":   err.Error(),
		})
	}
}
