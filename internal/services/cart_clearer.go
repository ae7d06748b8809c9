package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/googleapis/gax-go/v2"

	"github.com/tomato-food/api/internal/repositories"
)

const (
	defaultCartClearInline   = 150 * time.Millisecond
	maxCartClearInline       = 500 * time.Millisecond
	defaultCartClearTimeout  = 2 * time.Second
	defaultCartClearQueue    = 256
	defaultCartClearAttempts = 5
)

// ErrCartClearDeferred reports that the cart was not cleared inline and a retry was queued.
var ErrCartClearDeferred = errors.New("cart: clear deferred")

// ErrCartClearDropped reports that the retry queue was full or closed.
var ErrCartClearDropped = errors.New("cart: clear dropped")

// DeferredCartClearerDeps configures DeferredCartClearer.
type DeferredCartClearerDeps struct {
	Carts repositories.CartRepository
	// InlineTimeout bounds the attempt made on the request path. Capped at 500ms.
	InlineTimeout time.Duration
	// AttemptTimeout bounds each background retry.
	AttemptTimeout time.Duration
	QueueSize      int
	MaxAttempts   int
	Backoff       gax.Backoff
	Logger        Logger
}

// DeferredCartClearer clears carts inline with a short deadline and hands failures to a
// background worker that retries with exponential backoff.
type DeferredCartClearer struct {
	carts       repositories.CartRepository
	inline      time.Duration
	timeout     time.Duration
	maxAttempts int
	backoff     gax.Backoff
	logger      Logger

	queue    chan string
	stop     chan struct{}
	done     chan struct{}
	mu       sync.RWMutex
	closed   bool
	stopOnce sync.Once
	killOnce sync.Once
}

// NewDeferredCartClearer starts the retry worker. Call Close to stop it.
func NewDeferredCartClearer(deps DeferredCartClearerDeps) (*DeferredCartClearer, error) {
	if deps.Carts == nil {
		return nil, errors.New("cart clearer: cart repository is required")
	}
	inline := deps.InlineTimeout
	if inline <= 0 {
		inline = defaultCartClearInline
	}
	inline = min(inline, maxCartClearInline)
	timeout := deps.AttemptTimeout
	if timeout <= 0 {
		timeout = defaultCartClearTimeout
	}
	size := deps.QueueSize
	if size <= 0 {
		size = defaultCartClearQueue
	}
	attempts := deps.MaxAttempts
	if attempts <= 0 {
		attempts = defaultCartClearAttempts
	}
	backoff := deps.Backoff
	if backoff.Initial <= 0 {
		backoff = gax.Backoff{Initial: 250 * time.Millisecond, Max: 30 * time.Second, Multiplier: 2}
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	c := &DeferredCartClearer{
		carts:       deps.Carts,
		inline:      inline,
		timeout:     timeout,
		maxAttempts: attempts,
		backoff:     backoff,
		logger:      logger,
		queue:       make(chan string, size),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
	go c.run()
	return c, nil
}

// Clear empties the cart or queues a retry. A queued retry returns ErrCartClearDeferred.
func (c *DeferredCartClearer) Clear(ctx context.Context, customerID string) error {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return nil
	}

	inlineCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.inline)
	err := c.carts.ClearCart(inlineCtx, customerID)
	cancel()
	if err == nil {
		return nil
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.Join(ErrCartClearDropped, err)
	}
	select {
	case c.queue <- customerID:
		return errors.Join(ErrCartClearDeferred, err)
	default:
		return errors.Join(ErrCartClearDropped, err)
	}
}

// Close stops accepting retries and waits for queued ones to finish or for ctx to expire.
func (c *DeferredCartClearer) Close(ctx context.Context) error {
	c.stopOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		close(c.queue)
		c.mu.Unlock()
	})
	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		c.killOnce.Do(func() { close(c.stop) })
		return ctx.Err()
	}
}

func (c *DeferredCartClearer) run() {
	defer close(c.done)
	for customerID := range c.queue {
		c.retry(customerID)
	}
}

func (c *DeferredCartClearer) retry(customerID string) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-c.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	backoff := c.backoff
	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if err := gax.Sleep(ctx, backoff.Pause()); err != nil {
			return
		}
		attemptCtx, attemptCancel := context.WithTimeout(ctx, c.timeout)
		lastErr = c.carts.ClearCart(attemptCtx, customerID)
		attemptCancel()
		if lastErr == nil {
			c.logger(ctx, "cart.clear.retried", map[string]any{
				"customerId": customerID,
				"attempt":    attempt,
			})
			return
		}
	}
	c.logger(ctx, "cart.clear.abandoned", map[string]any{
		"customerId": customerID,
		"attempts":   c.maxAttempts,
		"error":      lastErr.Error(),
	})
}
