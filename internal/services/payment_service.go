package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/tomato-food/api/internal/domain"
	"github.com/tomato-food/api/internal/payments"
	"github.com/tomato-food/api/internal/repositories"
)

const defaultMinorUnitScale int64 = 100

// PaymentGateway is the slice of payments.Manager the payment service depends on.
type PaymentGateway interface {
	CreateIntent(ctx context.Context, paymentCtx payments.PaymentContext, req payments.IntentRequest) (payments.Intent, error)
	Verify(ctx context.Context, provider string, conf payments.Confirmation) (payments.Verification, error)
}

// PaymentServiceDeps bundles collaborators required to construct the payment service.
type PaymentServiceDeps struct {
	Orders         repositories.OrderRepository
	Menu           repositories.MenuRepository
	Carts          CartClearer
	Gateway        PaymentGateway
	DeliveryFee    int64
	Currency       string
	MinorUnitScale int64
	Clock          func() time.Time
	IDGenerator    func() string
	Events         OrderEventPublisher
	Logger         Logger
}

type paymentService struct {
	orders  repositories.OrderRepository
	carts   CartClearer
	gateway PaymentGateway
	builder *orderBuilder
	scale   int64
	clock   func() time.Time
	events  OrderEventPublisher
	logger  Logger
}

// NewPaymentService wires dependencies into a concrete PaymentService implementation.
func NewPaymentService(deps PaymentServiceDeps) (PaymentService, error) {
	if deps.Orders == nil {
		return nil, errors.New("payment service: order repository is required")
	}
	if deps.Gateway == nil {
		return nil, errors.New("payment service: payment gateway is required")
	}
	if deps.DeliveryFee < 0 {
		return nil, errors.New("payment service: delivery fee cannot be negative")
	}
	scale := deps.MinorUnitScale
	if scale == 0 {
		scale = defaultMinorUnitScale
	}
	if scale < 0 {
		return nil, errors.New("payment service: minor unit scale must be positive")
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

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &paymentService{
		orders:  deps.Orders,
		carts:   deps.Carts,
		gateway: deps.Gateway,
		builder: newOrderBuilder(deps.Menu, deps.DeliveryFee, deps.Currency, utc, idGen),
		scale:   scale,
		clock:   utc,
		events:  deps.Events,
		logger:  logger,
	}, nil
}

func (s *paymentService) StartCheckout(ctx context.Context, cmd StartCheckoutCommand) (CheckoutResult, error) {
	orderCmd := cmd.Order
	orderCmd.Origin = domain.OriginGatewayCheckout
	orderCmd.PaymentStatus = ""

	order, err := s.builder.build(ctx, orderCmd)
	if err != nil {
		return CheckoutResult{}, err
	}
	gatewayAmount, err := domain.ScaleAmount(order.Amount, s.scale)
	if err != nil {
		return CheckoutResult{}, fmt.Errorf("%w: amount %d cannot be charged: %v", ErrOrderInvalidInput, order.Amount, err)
	}
	items, err := s.intentItems(order.Items)
	if err != nil {
		return CheckoutResult{}, err
	}
	if err := s.orders.Insert(ctx, order); err != nil {
		return CheckoutResult{}, mapRepositoryError(err)
	}

	intent, err := s.gateway.CreateIntent(ctx,
		payments.PaymentContext{PreferredProvider: cmd.PreferredProvider, Currency: order.Currency},
		payments.IntentRequest{
			OrderID:        order.ID,
			CustomerID:     order.CustomerID,
			Amount:         gatewayAmount,
			Currency:       order.Currency,
			ReceiptEmail:   order.ContactEmail,
			IdempotencyKey: cmd.IdempotencyKey,
			Items:          items,
		})
	if err != nil {
		s.logger(ctx, "payment.checkout.intent_failed", map[string]any{
			"orderId": order.ID,
			"error":   err.Error(),
		})
		s.discardProvisional(ctx, order.ID)
		return CheckoutResult{}, mapGatewayError(err)
	}

	provider := intent.Provider
	gatewayOrderID := intent.GatewayOrderID
	updated, err := s.orders.UpdatePayment(ctx, order.ID, repositories.PaymentUpdate{
		Status:          domain.PaymentPending,
		PaymentProvider: &provider,
		GatewayOrderID:  &gatewayOrderID,
		UpdatedAt:       s.clock(),
	})
	if err != nil {
		s.discardProvisional(ctx, order.ID)
		return CheckoutResult{}, mapRepositoryError(err)
	}

	s.logger(ctx, "payment.checkout.started", map[string]any{
		"orderId":        updated.ID,
		"provider":       provider,
		"gatewayOrderId": gatewayOrderID,
		"amount":         updated.Amount,
	})

	return CheckoutResult{
		Order:          updated,
		Provider:       provider,
		GatewayOrderID: gatewayOrderID,
		ClientSecret:   intent.ClientSecret,
		RedirectURL:    intent.RedirectURL,
	}, nil
}

func (s *paymentService) ConfirmPayment(ctx context.Context, cmd ConfirmPaymentCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	gatewayRef := strings.TrimSpace(cmd.GatewayRef)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: orderId is required", ErrOrderInvalidInput)
	}
	if gatewayRef == "" {
		return Order{}, fmt.Errorf("%w: gatewayRef is required", ErrOrderInvalidInput)
	}

	current, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, mapRepositoryError(err)
	}
	if !owns(cmd.Actor, current) {
		return Order{}, fmt.Errorf("%w: order %s belongs to another customer", ErrOrderForbidden, orderID)
	}
	if current.PaymentStatus == domain.PaymentCompleted {
		return Order{}, fmt.Errorf("%w: order %s is already paid", ErrOrderConflict, orderID)
	}
	if current.GatewayOrderID == "" {
		return Order{}, fmt.Errorf("%w: order %s has no gateway payment", ErrOrderConflict, orderID)
	}
	if claimed := strings.TrimSpace(cmd.GatewayOrderID); claimed != "" && claimed != current.GatewayOrderID {
		return Order{}, fmt.Errorf("%w: gateway order does not match order %s", ErrOrderVerification, orderID)
	}

	verification, err := s.verify(ctx, cmd, current, gatewayRef)
	if err != nil {
		return Order{}, err
	}
	if verification.Amount != 0 {
		expected, err := domain.ScaleAmount(current.Amount, s.scale)
		if err != nil || verification.Amount != expected {
			return Order{}, fmt.Errorf("%w: gateway amount %d does not match order amount", ErrOrderVerification, verification.Amount)
		}
	}

	reference := verification.PaymentID
	if reference == "" {
		reference = gatewayRef
	}
	now := s.clock()
	placed := domain.PhasePlaced
	update := repositories.PaymentUpdate{
		Status:                   domain.PaymentCompleted,
		Phase:                    &placed,
		ExternalPaymentReference: &reference,
		PaidAt:                   &now,
		UpdatedAt:                now,
	}
	updated, err := s.orders.UpdatePayment(ctx, orderID, update)
	if err != nil {
		return Order{}, mapRepositoryError(err)
	}

	publishOrderEvent(ctx, s.events, s.logger, OrderEvent{
		Type:           orderEventPaymentConfirmed,
		OrderID:        orderID,
		CustomerID:     updated.CustomerID,
		PreviousStatus: string(current.PaymentStatus),
		CurrentStatus:  string(updated.PaymentStatus),
		ActorID:        cmd.Actor.ID,
		OccurredAt:     now,
		Metadata: map[string]any{
			"provider":         updated.PaymentProvider,
			"paymentReference": reference,
		},
	})

	if s.carts != nil && updated.CustomerID != domain.GuestCustomerID {
		if err := s.carts.Clear(ctx, updated.CustomerID); err != nil {
			s.logger(ctx, "order.cart_clear.incomplete", map[string]any{
				"orderId":    orderID,
				"customerId": updated.CustomerID,
				"error":      err.Error(),
			})
		}
	}
	return updated, nil
}

func (s *paymentService) CancelPayment(ctx context.Context, cmd CancelPaymentCommand) error {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return fmt.Errorf("%w: orderId is required", ErrOrderInvalidInput)
	}

	current, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return mapRepositoryError(err)
	}
	if !owns(cmd.Actor, current) {
		return fmt.Errorf("%w: order %s belongs to another customer", ErrOrderForbidden, orderID)
	}
	if current.PaymentStatus == domain.PaymentCompleted {
		return fmt.Errorf("%w: order %s is already paid", ErrOrderConflict, orderID)
	}
	if !current.Provisional() {
		return fmt.Errorf("%w: order %s is not awaiting payment", ErrOrderConflict, orderID)
	}

	// A confirmation may land after the read above; the store re-checks the phase
	// atomically and refuses to delete a paid order.
	removed, err := s.orders.DeleteProvisional(ctx, orderID)
	if err != nil {
		return mapRepositoryError(err)
	}

	publishOrderEvent(ctx, s.events, s.logger, OrderEvent{
		Type:           orderEventRetracted,
		OrderID:        orderID,
		CustomerID:     removed.CustomerID,
		PreviousStatus: string(removed.PaymentStatus),
		ActorID:        cmd.Actor.ID,
		OccurredAt:     s.clock(),
		Metadata: map[string]any{
			"gatewayOrderId": removed.GatewayOrderID,
		},
	})
	return nil
}

func (s *paymentService) discardProvisional(ctx context.Context, orderID string) {
	if _, err := s.orders.DeleteProvisional(context.WithoutCancel(ctx), orderID); err != nil {
		s.logger(ctx, "payment.checkout.discard_failed", map[string]any{
			"orderId": orderID,
			"error":   err.Error(),
		})
	}
}

func (s *paymentService) intentItems(items []OrderLineItem) ([]payments.LineItem, error) {
	out := make([]payments.LineItem, 0, len(items))
	for _, item := range items {
		unit, err := domain.ScaleAmount(item.Price, s.scale)
		if err != nil {
			return nil, fmt.Errorf("%w: price of %s cannot be charged: %v", ErrOrderInvalidInput, item.Name, err)
		}
		out = append(out, payments.LineItem{
			Name:       item.Name,
			Quantity:   int64(item.Quantity),
			UnitAmount: unit,
		})
	}
	return out, nil
}

// verify authenticates the confirmation, either through the gateway's checkout signature or
// through a capture a system actor already authenticated.
func (s *paymentService) verify(ctx context.Context, cmd ConfirmPaymentCommand, current Order, gatewayRef string) (payments.Verification, error) {
	if captured := cmd.Captured; captured != nil {
		if !cmd.Actor.System {
			return payments.Verification{}, fmt.Errorf("%w: captured payments are only accepted from signed callbacks", ErrOrderVerification)
		}
		if strings.TrimSpace(cmd.GatewayOrderID) == "" || captured.Amount <= 0 {
			return payments.Verification{}, fmt.Errorf("%w: captured payment is incomplete", ErrOrderVerification)
		}
		if currency := strings.TrimSpace(captured.Currency); currency != "" && current.Currency != "" && !strings.EqualFold(currency, current.Currency) {
			return payments.Verification{}, fmt.Errorf("%w: captured currency %s does not match order", ErrOrderVerification, currency)
		}
		return payments.Verification{
			Provider:       current.PaymentProvider,
			GatewayOrderID: current.GatewayOrderID,
			PaymentID:      gatewayRef,
			Status:         payments.StatusSucceeded,
			Amount:         captured.Amount,
		}, nil
	}

	verification, err := s.gateway.Verify(ctx, current.PaymentProvider, payments.Confirmation{
		OrderID:        current.ID,
		GatewayOrderID: current.GatewayOrderID,
		PaymentID:      gatewayRef,
		Signature:      strings.TrimSpace(cmd.Signature),
	})
	if err != nil {
		s.logger(ctx, "payment.confirm.rejected", map[string]any{
			"orderId":  current.ID,
			"provider": current.PaymentProvider,
			"error":    err.Error(),
		})
		if errors.Is(err, payments.ErrGatewayUnavailable) {
			return payments.Verification{}, fmt.Errorf("%w: %v", ErrOrderUnavailable, err)
		}
		return payments.Verification{}, fmt.Errorf("%w: %v", ErrOrderVerification, err)
	}
	return verification, nil
}

func owns(actor Actor, order Order) bool {
	return actor.Admin || actor.System || (actor.ID != "" && actor.ID == order.CustomerID)
}

func mapGatewayError(err error) error {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, payments.ErrUnsupportedProvider):
		return fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
	default:
		return fmt.Errorf("%w: %v", ErrOrderUnavailable, err)
	}
}
