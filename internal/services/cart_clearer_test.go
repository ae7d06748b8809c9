package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/googleapis/gax-go/v2"
	"github.com/stretchr/testify/require"
)

type flakyCartRepo struct {
	mu       sync.Mutex
	failures int
	calls    int
	cleared  []string
}

func (r *flakyCartRepo) ClearCart(_ context.Context, customerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.failures > 0 {
		r.failures--
		return errors.New("cart store unavailable")
	}
	r.cleared = append(r.cleared, customerID)
	return nil
}

func (r *flakyCartRepo) snapshot() (int, []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls, append([]string(nil), r.cleared...)
}

func fastBackoff() gax.Backoff {
	return gax.Backoff{Initial: time.Millisecond, Max: 2 * time.Millisecond, Multiplier: 1.5}
}

func TestDeferredCartClearerInlineSuccess(t *testing.T) {
	repo := &flakyCartRepo{}
	clearer, err := NewDeferredCartClearer(DeferredCartClearerDeps{Carts: repo, Backoff: fastBackoff()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = clearer.Close(context.Background()) })

	require.NoError(t, clearer.Clear(context.Background(), "user_1"))
	calls, cleared := repo.snapshot()
	require.Equal(t, 1, calls)
	require.Equal(t, []string{"user_1"}, cleared)
}

func TestDeferredCartClearerRetriesInBackground(t *testing.T) {
	repo := &flakyCartRepo{failures: 2}
	clearer, err := NewDeferredCartClearer(DeferredCartClearerDeps{Carts: repo, Backoff: fastBackoff(), MaxAttempts: 5})
	require.NoError(t, err)

	err = clearer.Clear(context.Background(), "user_1")
	require.ErrorIs(t, err, ErrCartClearDeferred)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, clearer.Close(ctx))

	calls, cleared := repo.snapshot()
	require.Equal(t, 3, calls)
	require.Equal(t, []string{"user_1"}, cleared)
}

func TestDeferredCartClearerGivesUp(t *testing.T) {
	repo := &flakyCartRepo{failures: 100}
	var abandoned []string
	var mu sync.Mutex
	clearer, err := NewDeferredCartClearer(DeferredCartClearerDeps{
		Carts:       repo,
		Backoff:     fastBackoff(),
		MaxAttempts: 2,
		Logger: func(_ context.Context, event string, fields map[string]any) {
			mu.Lock()
			defer mu.Unlock()
			if event == "cart.clear.abandoned" {
				abandoned = append(abandoned, fields["customerId"].(string))
			}
		},
	})
	require.NoError(t, err)

	require.ErrorIs(t, clearer.Clear(context.Background(), "user_1"), ErrCartClearDeferred)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, clearer.Close(ctx))

	calls, cleared := repo.snapshot()
	require.Equal(t, 3, calls)
	require.Empty(t, cleared)
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"user_1"}, abandoned)
}

func TestDeferredCartClearerAfterClose(t *testing.T) {
	repo := &flakyCartRepo{failures: 1}
	clearer, err := NewDeferredCartClearer(DeferredCartClearerDeps{Carts: repo, Backoff: fastBackoff()})
	require.NoError(t, err)
	require.NoError(t, clearer.Close(context.Background()))
	require.NoError(t, clearer.Close(context.Background()))

	require.ErrorIs(t, clearer.Clear(context.Background(), "user_1"), ErrCartClearDropped)
}

func TestDeferredCartClearerIgnoresBlankCustomer(t *testing.T) {
	repo := &flakyCartRepo{}
	clearer, err := NewDeferredCartClearer(DeferredCartClearerDeps{Carts: repo})
	require.NoError(t, err)
	t.Cleanup(func() { _ = clearer.Close(context.Background()) })

	require.NoError(t, clearer.Clear(context.Background(), "  "))
	calls, _ := repo.snapshot()
	require.Zero(t, calls)
}

// stallingCartRepo blocks its first call until the caller gives up, like a cart store
// that stopped answering.
type stallingCartRepo struct {
	mu      sync.Mutex
	calls   int
	cleared []string
}

func (r *stallingCartRepo) ClearCart(ctx context.Context, customerID string) error {
	r.mu.Lock()
	r.calls++
	first := r.calls == 1
	r.mu.Unlock()
	if first {
		<-ctx.Done()
		return ctx.Err()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cleared = append(r.cleared, customerID)
	return nil
}

func TestDeferredCartClearerInlineBudgetIsShort(t *testing.T) {
	repo := &stallingCartRepo{}
	clearer, err := NewDeferredCartClearer(DeferredCartClearerDeps{
		Carts:          repo,
		InlineTimeout:  10 * time.Second,
		AttemptTimeout: time.Second,
		Backoff:        fastBackoff(),
	})
	require.NoError(t, err)

	start := time.Now()
	err = clearer.Clear(context.Background(), "user_1")
	elapsed := time.Since(start)
	require.ErrorIs(t, err, ErrCartClearDeferred)
	require.Less(t, elapsed, time.Second, "inline clear must not hold the order response")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, clearer.Close(ctx))

	repo.mu.Lock()
	defer repo.mu.Unlock()
	require.Equal(t, []string{"user_1"}, repo.cleared)
}
