package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	domain "github.com/tomato-food/api/internal/domain"
	"github.com/tomato-food/api/internal/payments"
	"github.com/tomato-food/api/internal/repositories"
	"github.com/tomato-food/api/internal/repositories/memory"
)

type stubPaymentGateway struct {
	createFn func(context.Context, payments.PaymentContext, payments.IntentRequest) (payments.Intent, error)
	verifyFn func(context.Context, string, payments.Confirmation) (payments.Verification, error)
	requests []payments.IntentRequest
}

func (s *stubPaymentGateway) CreateIntent(ctx context.Context, paymentCtx payments.PaymentContext, req payments.IntentRequest) (payments.Intent, error) {
	s.requests = append(s.requests, req)
	if s.createFn != nil {
		return s.createFn(ctx, paymentCtx, req)
	}
	return payments.Intent{Provider: payments.ProviderRazorpay, GatewayOrderID: "order_gw_1", Amount: req.Amount, Currency: req.Currency}, nil
}

func (s *stubPaymentGateway) Verify(ctx context.Context, provider string, conf payments.Confirmation) (payments.Verification, error) {
	if s.verifyFn != nil {
		return s.verifyFn(ctx, provider, conf)
	}
	return payments.Verification{Provider: provider, GatewayOrderID: conf.GatewayOrderID, PaymentID: conf.PaymentID, Status: payments.StatusSucceeded}, nil
}

type paymentFixture struct {
	store   *memory.Store
	gateway *stubPaymentGateway
	carts   *stubCartClearer
	events  *captureOrderEvents
	svc     PaymentService
}

func newPaymentFixture(t *testing.T) *paymentFixture {
	t.Helper()
	f := &paymentFixture{
		store:   memory.NewStore(testMenu...),
		gateway: &stubPaymentGateway{},
		carts:   &stubCartClearer{},
		events:  &captureOrderEvents{},
	}
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	seq := 0
	svc, err := NewPaymentService(PaymentServiceDeps{
		Orders:  f.store.Orders(),
		Menu:    f.store.Menu(),
		Carts:   f.carts,
		Gateway: f.gateway,
		Clock:   func() time.Time { return now },
		IDGenerator: func() string {
			seq++
			return fmt.Sprintf("ord_%d", seq)
		},
		Events: f.events,
	})
	require.NoError(t, err)
	f.svc = svc
	return f
}

func (f *paymentFixture) checkout(t *testing.T, customerID string) CheckoutResult {
	t.Helper()
	result, err := f.svc.StartCheckout(context.Background(), StartCheckoutCommand{Order: customerCheckout(customerID)})
	require.NoError(t, err)
	return result
}

func TestPaymentServiceStartCheckout(t *testing.T) {
	f := newPaymentFixture(t)

	result := f.checkout(t, "user_1")

	require.Equal(t, payments.ProviderRazorpay, result.Provider)
	require.Equal(t, "order_gw_1", result.GatewayOrderID)
	require.Equal(t, domain.PhaseAwaitingPayment, result.Order.Phase)
	require.Equal(t, domain.OriginGatewayCheckout, result.Order.Origin)
	require.Equal(t, domain.PaymentMethodOnline, result.Order.PaymentMethod)
	require.Equal(t, "order_gw_1", result.Order.GatewayOrderID)

	require.Len(t, f.gateway.requests, 1)
	require.Equal(t, result.Order.Amount*100, f.gateway.requests[0].Amount)
	require.Equal(t, result.Order.ID, f.gateway.requests[0].OrderID)

	stored, err := f.store.Orders().FindByID(context.Background(), result.Order.ID)
	require.NoError(t, err)
	require.Equal(t, payments.ProviderRazorpay, stored.PaymentProvider)
	require.Empty(t, f.carts.calls, "cart must not be cleared before payment")
}

func TestPaymentServiceStartCheckoutGatewayFailureRemovesOrder(t *testing.T) {
	f := newPaymentFixture(t)
	f.gateway.createFn = func(context.Context, payments.PaymentContext, payments.IntentRequest) (payments.Intent, error) {
		return payments.Intent{}, fmt.Errorf("%w: timeout", payments.ErrGatewayUnavailable)
	}

	_, err := f.svc.StartCheckout(context.Background(), StartCheckoutCommand{Order: customerCheckout("user_1")})
	require.ErrorIs(t, err, ErrOrderUnavailable)

	_, err = f.store.Orders().FindByID(context.Background(), "ord_1")
	require.Error(t, err, "provisional order must be discarded")
}

func TestPaymentServiceStartCheckoutValidation(t *testing.T) {
	f := newPaymentFixture(t)
	cmd := customerCheckout("user_1")
	cmd.Items = nil

	_, err := f.svc.StartCheckout(context.Background(), StartCheckoutCommand{Order: cmd})
	require.ErrorIs(t, err, ErrOrderInvalidInput)
	require.Empty(t, f.gateway.requests)
}

func TestPaymentServiceStartCheckoutRejectsUnchargeableAmount(t *testing.T) {
	f := newPaymentFixture(t)
	f.store.PutMenuItem(domain.MenuItem{ID: "food_gold", Name: "Gold leaf cake", Price: math.MaxInt64 / 1000, Available: true})
	cmd := customerCheckout("user_1")
	cmd.Items = []OrderItemInput{{FoodID: "food_gold", Quantity: 1}}

	_, err := f.svc.StartCheckout(context.Background(), StartCheckoutCommand{Order: cmd})
	require.ErrorIs(t, err, ErrOrderInvalidInput)
	require.Empty(t, f.gateway.requests, "gateway must not see a wrapped amount")

	orders, err := f.store.Orders().List(context.Background(), repositories.OrderListFilter{})
	require.NoError(t, err)
	require.Empty(t, orders)
}

func TestPaymentServiceConfirmPayment(t *testing.T) {
	f := newPaymentFixture(t)
	checkout := f.checkout(t, "user_1")

	order, err := f.svc.ConfirmPayment(context.Background(), ConfirmPaymentCommand{
		OrderID:    checkout.Order.ID,
		GatewayRef: "pay_123",
		Signature:  "sig",
		Actor:      Actor{ID: "user_1"},
	})
	require.NoError(t, err)
	require.Equal(t, domain.PaymentCompleted, order.PaymentStatus)
	require.Equal(t, domain.PhasePlaced, order.Phase)
	require.Equal(t, "pay_123", order.ExternalPaymentReference)
	require.NotNil(t, order.PaidAt)
	require.Equal(t, []string{"user_1"}, f.carts.calls)

	last := f.events.events[len(f.events.events)-1]
	require.Equal(t, orderEventPaymentConfirmed, last.Type)

	_, err = f.svc.ConfirmPayment(context.Background(), ConfirmPaymentCommand{
		OrderID:    checkout.Order.ID,
		GatewayRef: "pay_123",
		Signature:  "sig",
		Actor:      Actor{ID: "user_1"},
	})
	require.ErrorIs(t, err, ErrOrderConflict)
}

func TestPaymentServiceConfirmPaymentFailsClosed(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{name: "bad signature", err: payments.ErrVerificationFailed, want: ErrOrderVerification},
		{name: "unexpected error", err: errors.New("decode failure"), want: ErrOrderVerification},
		{name: "gateway down", err: payments.ErrGatewayUnavailable, want: ErrOrderUnavailable},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newPaymentFixture(t)
			checkout := f.checkout(t, "user_1")
			f.gateway.verifyFn = func(context.Context, string, payments.Confirmation) (payments.Verification, error) {
				return payments.Verification{}, tc.err
			}

			_, err := f.svc.ConfirmPayment(context.Background(), ConfirmPaymentCommand{
				OrderID:    checkout.Order.ID,
				GatewayRef: "pay_123",
				Signature:  "forged",
				Actor:      Actor{ID: "user_1"},
			})
			require.ErrorIs(t, err, tc.want)

			stored, err := f.store.Orders().FindByID(context.Background(), checkout.Order.ID)
			require.NoError(t, err)
			require.Equal(t, domain.PaymentPending, stored.PaymentStatus)
			require.Equal(t, domain.PhaseAwaitingPayment, stored.Phase)
			require.Empty(t, stored.ExternalPaymentReference)
		})
	}
}

func TestPaymentServiceConfirmPaymentChecks(t *testing.T) {
	f := newPaymentFixture(t)
	checkout := f.checkout(t, "user_1")

	_, err := f.svc.ConfirmPayment(context.Background(), ConfirmPaymentCommand{OrderID: checkout.Order.ID, GatewayRef: "pay_1", Actor: Actor{ID: "user_2"}})
	require.ErrorIs(t, err, ErrOrderForbidden)

	_, err = f.svc.ConfirmPayment(context.Background(), ConfirmPaymentCommand{OrderID: "ord_missing", GatewayRef: "pay_1", Actor: Actor{ID: "user_1"}})
	require.ErrorIs(t, err, ErrOrderNotFound)

	_, err = f.svc.ConfirmPayment(context.Background(), ConfirmPaymentCommand{OrderID: checkout.Order.ID, Actor: Actor{ID: "user_1"}})
	require.ErrorIs(t, err, ErrOrderInvalidInput)

	_, err = f.svc.ConfirmPayment(context.Background(), ConfirmPaymentCommand{
		OrderID:        checkout.Order.ID,
		GatewayOrderID: "order_other",
		GatewayRef:     "pay_1",
		Actor:          Actor{ID: "user_1"},
	})
	require.ErrorIs(t, err, ErrOrderVerification)

	f.gateway.verifyFn = func(_ context.Context, _ string, conf payments.Confirmation) (payments.Verification, error) {
		return payments.Verification{PaymentID: conf.PaymentID, Status: payments.StatusSucceeded, Amount: 1}, nil
	}
	_, err = f.svc.ConfirmPayment(context.Background(), ConfirmPaymentCommand{OrderID: checkout.Order.ID, GatewayRef: "pay_1", Actor: Actor{ID: "user_1"}})
	require.ErrorIs(t, err, ErrOrderVerification)
}

func TestPaymentServiceConfirmPaymentFromSignedCapture(t *testing.T) {
	f := newPaymentFixture(t)
	checkout := f.checkout(t, "user_1")
	f.gateway.verifyFn = func(context.Context, string, payments.Confirmation) (payments.Verification, error) {
		return payments.Verification{}, errors.New("checkout signature must not be consulted")
	}
	system := Actor{ID: "system:webhook", System: true}
	charged := checkout.Order.Amount * 100
	confirm := func(actor Actor, gatewayOrderID string, captured *CapturedPayment) (Order, error) {
		return f.svc.ConfirmPayment(context.Background(), ConfirmPaymentCommand{
			OrderID:        checkout.Order.ID,
			GatewayOrderID: gatewayOrderID,
			GatewayRef:     "pay_hook",
			Actor:          actor,
			Captured:       captured,
		})
	}

	_, err := confirm(Actor{ID: "user_1"}, "order_gw_1", &CapturedPayment{Amount: charged})
	require.ErrorIs(t, err, ErrOrderVerification, "customers cannot vouch for their own capture")
	_, err = confirm(system, "", &CapturedPayment{Amount: charged})
	require.ErrorIs(t, err, ErrOrderVerification)
	_, err = confirm(system, "order_gw_1", &CapturedPayment{Amount: charged - 1})
	require.ErrorIs(t, err, ErrOrderVerification)
	_, err = confirm(system, "order_gw_1", &CapturedPayment{Amount: charged, Currency: "USD"})
	require.ErrorIs(t, err, ErrOrderVerification)

	order, err := confirm(system, "order_gw_1", &CapturedPayment{Amount: charged, Currency: "inr"})
	require.NoError(t, err)
	require.Equal(t, domain.PaymentCompleted, order.PaymentStatus)
	require.Equal(t, domain.PhasePlaced, order.Phase)
	require.Equal(t, "pay_hook", order.ExternalPaymentReference)
	require.Equal(t, []string{"user_1"}, f.carts.calls)
	last := f.events.events[len(f.events.events)-1]
	require.Equal(t, "system:webhook", last.ActorID)

	_, err = confirm(system, "order_gw_1", &CapturedPayment{Amount: charged})
	require.ErrorIs(t, err, ErrOrderConflict)
}

func TestPaymentServiceCancelPayment(t *testing.T) {
	f := newPaymentFixture(t)
	checkout := f.checkout(t, "user_1")

	err := f.svc.CancelPayment(context.Background(), CancelPaymentCommand{OrderID: checkout.Order.ID, Actor: Actor{ID: "user_2"}})
	require.ErrorIs(t, err, ErrOrderForbidden)

	require.NoError(t, f.svc.CancelPayment(context.Background(), CancelPaymentCommand{OrderID: checkout.Order.ID, Actor: Actor{ID: "user_1"}}))

	last := f.events.events[len(f.events.events)-1]
	require.Equal(t, orderEventRetracted, last.Type)

	orders, err := f.store.Orders().List(context.Background(), repositories.OrderListFilter{})
	require.NoError(t, err)
	require.Empty(t, orders)

	err = f.svc.CancelPayment(context.Background(), CancelPaymentCommand{OrderID: checkout.Order.ID, Actor: Actor{ID: "user_1"}})
	require.ErrorIs(t, err, ErrOrderNotFound)
}

func TestPaymentServiceCancelPaymentConflicts(t *testing.T) {
	f := newPaymentFixture(t)
	checkout := f.checkout(t, "user_1")
	_, err := f.svc.ConfirmPayment(context.Background(), ConfirmPaymentCommand{OrderID: checkout.Order.ID, GatewayRef: "pay_1", Actor: Actor{ID: "user_1"}})
	require.NoError(t, err)

	err = f.svc.CancelPayment(context.Background(), CancelPaymentCommand{OrderID: checkout.Order.ID, Actor: Actor{ID: "user_1"}})
	require.ErrorIs(t, err, ErrOrderConflict)

	placed := domain.Order{ID: "ord_placed", CustomerID: "user_1", Phase: domain.PhasePlaced, PaymentStatus: domain.PaymentPending}
	require.NoError(t, f.store.Orders().Insert(context.Background(), placed))
	err = f.svc.CancelPayment(context.Background(), CancelPaymentCommand{OrderID: "ord_placed", Actor: Actor{ID: "user_1"}})
	require.ErrorIs(t, err, ErrOrderConflict)

	_, err = f.store.Orders().FindByID(context.Background(), "ord_placed")
	require.NoError(t, err)
}

// confirmAfterRead lets a payment confirmation commit right after the first read of
// an order, the window between a cancel's ownership check and its delete.
type confirmAfterRead struct {
	repositories.OrderRepository
	confirm func()
	fired   bool
}

func (r *confirmAfterRead) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	order, err := r.OrderRepository.FindByID(ctx, orderID)
	if err == nil && !r.fired && r.confirm != nil {
		r.fired = true
		r.confirm()
	}
	return order, err
}

func TestPaymentServiceCancelPaymentLosesToConcurrentConfirm(t *testing.T) {
	f := newPaymentFixture(t)
	checkout := f.checkout(t, "user_1")

	racing := &confirmAfterRead{OrderRepository: f.store.Orders()}
	cancelSvc, err := NewPaymentService(PaymentServiceDeps{
		Orders:  racing,
		Menu:    f.store.Menu(),
		Gateway: f.gateway,
		Events:  f.events,
	})
	require.NoError(t, err)

	racing.confirm = func() {
		_, err := f.svc.ConfirmPayment(context.Background(), ConfirmPaymentCommand{
			OrderID:    checkout.Order.ID,
			GatewayRef: "pay_race",
			Signature:  "sig",
			Actor:      Actor{ID: "user_1"},
		})
		require.NoError(t, err)
	}

	err = cancelSvc.CancelPayment(context.Background(), CancelPaymentCommand{OrderID: checkout.Order.ID, Actor: Actor{ID: "user_1"}})
	require.ErrorIs(t, err, ErrOrderConflict)
	require.True(t, racing.fired)

	stored, err := f.store.Orders().FindByID(context.Background(), checkout.Order.ID)
	require.NoError(t, err, "paid order must not be deleted")
	require.Equal(t, domain.PaymentCompleted, stored.PaymentStatus)
	require.Equal(t, domain.PhasePlaced, stored.Phase)
	require.Equal(t, "pay_race", stored.ExternalPaymentReference)

	last := f.events.events[len(f.events.events)-1]
	require.Equal(t, orderEventPaymentConfirmed, last.Type, "no retraction event for a paid order")
}
