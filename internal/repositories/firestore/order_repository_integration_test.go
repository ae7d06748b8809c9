//go:build integration

package firestore

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strings"
	"sync"
	"testing"
	"time"

	domain "github.com/tomato-food/api/internal/domain"
	pconfig "github.com/tomato-food/api/internal/platform/config"
	pfirestore "github.com/tomato-food/api/internal/platform/firestore"
	"github.com/tomato-food/api/internal/repositories"
)

const firestoreEmulatorImage = "gcr.io/google.com/cloudsdktool/cloud-sdk:emulators"

func TestOrderRepositoryIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test skipped in short mode")
	}

	provider := pfirestore.NewProvider(pconfig.FirestoreConfig{
		ProjectID:    "orders-test",
		EmulatorHost: emulatorEndpoint(t),
	})
	t.Cleanup(func() { _ = provider.Close(context.Background()) })

	registry, err := NewRegistry(provider)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	repo := registry.Orders()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	base := time.Date(2024, time.May, 1, 9, 0, 0, 0, time.UTC)
	const workers = 12
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = repo.Insert(ctx, sampleOrder(fmt.Sprintf("ord_%02d", i), "user_1", base.Add(time.Duration(i)*time.Minute)))
		}(i)
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}

	err = repo.Insert(ctx, sampleOrder("ord_00", "user_1", base))
	var repoErr repositories.RepositoryError
	if !errors.As(err, &repoErr) || !repoErr.IsConflict() {
		t.Fatalf("expected conflict on duplicate id, got %v", err)
	}

	orders, err := repo.List(ctx, repositories.OrderListFilter{CustomerID: "user_1"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(orders) != workers {
		t.Fatalf("expected %d orders, got %d", workers, len(orders))
	}
	for i := 1; i < len(orders); i++ {
		if orders[i].CreatedAt.After(orders[i-1].CreatedAt) {
			t.Fatalf("orders not sorted newest first at %d", i)
		}
	}

	updated, err := repo.UpdateFulfillment(ctx, "ord_03", domain.FulfillmentOutForDelivery, base.Add(time.Hour))
	if err != nil {
		t.Fatalf("update fulfillment: %v", err)
	}
	if updated.FulfillmentStatus != domain.FulfillmentOutForDelivery {
		t.Fatalf("unexpected fulfillment %s", updated.FulfillmentStatus)
	}

	ref := "pay_123"
	paid, err := repo.UpdatePayment(ctx, "ord_03", repositories.PaymentUpdate{
		Status:                   domain.PaymentCompleted,
		ExternalPaymentReference: &ref,
		UpdatedAt:                base.Add(2 * time.Hour),
	})
	if err != nil {
		t.Fatalf("update payment: %v", err)
	}
	if paid.PaymentStatus != domain.PaymentCompleted || paid.ExternalPaymentReference != ref {
		t.Fatalf("unexpected payment fields %+v", paid)
	}

	if _, err := repo.UpdateFulfillment(ctx, "missing", domain.FulfillmentDelivered, base); !isNotFound(err) {
		t.Fatalf("expected not found for missing order, got %v", err)
	}

	provisional := sampleOrder("ord_wait", "user_2", base)
	provisional.Phase = domain.PhaseAwaitingPayment
	if err := repo.Insert(ctx, provisional); err != nil {
		t.Fatalf("insert provisional: %v", err)
	}
	if _, err := repo.DeleteProvisional(ctx, "ord_03"); !isConflict(err) {
		t.Fatalf("expected conflict deleting a placed order, got %v", err)
	}
	if _, err := repo.FindByID(ctx, "ord_03"); err != nil {
		t.Fatalf("placed order must survive: %v", err)
	}
	deleted, err := repo.DeleteProvisional(ctx, "ord_wait")
	if err != nil || deleted.ID != "ord_wait" {
		t.Fatalf("delete provisional: %v (%q)", err, deleted.ID)
	}
	if _, err := repo.DeleteProvisional(ctx, "ord_wait"); !isNotFound(err) {
		t.Fatalf("expected not found after delete, got %v", err)
	}

	if err := registry.Carts().ClearCart(ctx, "user_without_cart"); err != nil {
		t.Fatalf("clear missing cart: %v", err)
	}
}

func sampleOrder(id, customerID string, createdAt time.Time) domain.Order {
	return domain.Order{
		ID:         id,
		CustomerID: customerID,
		Items: []domain.OrderLineItem{
			{FoodID: "food_1", Name: "Greek salad", Price: 100, Quantity: 2},
		},
		Amount:            226,
		DeliveryFee:       26,
		Currency:          "INR",
		Address:           domain.Address{FirstName: "Ada", LastName: "Smith", Street: "1 Main", City: "Pune", State: "MH", Zipcode: "411001", Country: "IN", Phone: "99999"},
		FulfillmentStatus: domain.FulfillmentProcessing,
		PaymentStatus:     domain.PaymentPending,
		Phase:             domain.PhasePlaced,
		Origin:            domain.OriginCustomerCheckout,
		PaymentMethod:     domain.PaymentMethodCashOnDelivery,
		CreatedAt:         createdAt,
		UpdatedAt:         createdAt,
	}
}

func isConflict(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsConflict()
}

func isNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

// emulatorEndpoint reuses FIRESTORE_EMULATOR_HOST when exported and otherwise starts a
// throwaway emulator container.
func emulatorEndpoint(t *testing.T) string {
	t.Helper()
	if host := strings.TrimSpace(os.Getenv("FIRESTORE_EMULATOR_HOST")); host != "" {
		return host
	}
	if _, err := exec.LookPath("docker"); err != nil {
		t.Skip("docker not available: " + err.Error())
	}
	infoCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := exec.CommandContext(infoCtx, "docker", "info").Run(); err != nil {
		t.Skip("docker daemon unavailable: " + err.Error())
	}

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("allocate port: %v", err)
	}
	port := listener.Addr().(*net.TCPAddr).Port
	_ = listener.Close()

	out, err := exec.Command("docker", "run", "-d", "--rm",
		"-p", fmt.Sprintf("%d:8080", port),
		firestoreEmulatorImage,
		"gcloud", "beta", "emulators", "firestore", "start", "--host-port=0.0.0.0:8080", "--quiet",
	).CombinedOutput()
	if err != nil {
		t.Fatalf("start firestore emulator: %v - %s", err, out)
	}
	containerID := strings.TrimSpace(string(out))
	t.Cleanup(func() { _ = exec.Command("docker", "stop", containerID).Run() })

	endpoint := fmt.Sprintf("127.0.0.1:%d", port)
	deadline := time.Now().Add(30 * time.Second)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", endpoint, 500*time.Millisecond)
		if err == nil {
			_ = conn.Close()
			return endpoint
		}
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("firestore emulator at %s did not become ready", endpoint)
	return ""
}
