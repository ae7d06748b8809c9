package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/tomato-food/api/internal/domain"
	"github.com/tomato-food/api/internal/repositories"
)

func TestStoreOrdersLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	repo := store.Orders()
	base := time.Date(2024, time.June, 1, 10, 0, 0, 0, time.UTC)

	for i, id := range []string{"ord_b", "ord_a", "ord_c"} {
		order := domain.Order{ID: id, CustomerID: "user_1", CreatedAt: base.Add(time.Duration(i) * time.Minute), Phase: domain.PhasePlaced}
		if err := repo.Insert(ctx, order); err != nil {
			t.Fatalf("insert %s: %v", id, err)
		}
	}

	err := repo.Insert(ctx, domain.Order{ID: "ord_a"})
	var repoErr repositories.RepositoryError
	if !errors.As(err, &repoErr) || !repoErr.IsConflict() {
		t.Fatalf("expected conflict, got %v", err)
	}

	orders, err := repo.List(ctx, repositories.OrderListFilter{CustomerID: "user_1"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(orders) != 3 || orders[0].ID != "ord_c" || orders[2].ID != "ord_b" {
		t.Fatalf("unexpected order %v", ids(orders))
	}

	if _, err := repo.UpdateFulfillment(ctx, "missing", domain.FulfillmentDelivered, base); !errors.As(err, &repoErr) || !repoErr.IsNotFound() {
		t.Fatalf("expected not found, got %v", err)
	}

	if _, err := repo.FindByID(ctx, " ord_a "); err != nil {
		t.Fatalf("find trims id: %v", err)
	}
}

func TestStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	order := domain.Order{ID: "ord_1", Items: []domain.OrderLineItem{{Name: "Soup", Price: 10, Quantity: 1}}}
	if err := store.Orders().Insert(ctx, order); err != nil {
		t.Fatalf("insert: %v", err)
	}
	order.Items[0].Name = "changed"

	got, err := store.Orders().FindByID(ctx, "ord_1")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got.Items[0].Name != "Soup" {
		t.Fatalf("stored order aliased caller slice: %+v", got.Items)
	}
}

func TestStoreClearCart(t *testing.T) {
	store := NewStore()
	store.SetCart("user_1", map[string]int{"food_1": 2})
	if err := store.Carts().ClearCart(context.Background(), "user_1"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if len(store.Cart("user_1")) != 0 {
		t.Fatalf("expected empty cart")
	}
}

func ids(orders []domain.Order) []string {
	out := make([]string, 0, len(orders))
	for _, order := range orders {
		out = append(out, order.ID)
	}
	return out
}

func TestStoreDeleteProvisional(t *testing.T) {
	ctx := context.Background()
	repo := NewStore().Orders()
	orders := []domain.Order{
		{ID: "ord_wait", Phase: domain.PhaseAwaitingPayment, PaymentStatus: domain.PaymentPending},
		{ID: "ord_paid", Phase: domain.PhaseAwaitingPayment, PaymentStatus: domain.PaymentCompleted},
		{ID: "ord_placed", Phase: domain.PhasePlaced, PaymentStatus: domain.PaymentPending},
	}
	for _, order := range orders {
		if err := repo.Insert(ctx, order); err != nil {
			t.Fatalf("insert %s: %v", order.ID, err)
		}
	}

	deleted, err := repo.DeleteProvisional(ctx, "ord_wait")
	if err != nil {
		t.Fatalf("delete provisional: %v", err)
	}
	if deleted.ID != "ord_wait" {
		t.Fatalf("expected deleted order to be returned, got %q", deleted.ID)
	}

	var repoErr repositories.RepositoryError
	for _, id := range []string{"ord_paid", "ord_placed"} {
		if _, err := repo.DeleteProvisional(ctx, id); !errors.As(err, &repoErr) || !repoErr.IsConflict() {
			t.Fatalf("%s: expected conflict, got %v", id, err)
		}
		if _, err := repo.FindByID(ctx, id); err != nil {
			t.Fatalf("%s must survive a refused delete: %v", id, err)
		}
	}
	if _, err := repo.DeleteProvisional(ctx, "ord_wait"); !errors.As(err, &repoErr) || !repoErr.IsNotFound() {
		t.Fatalf("expected not found, got %v", err)
	}
}
