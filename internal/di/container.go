package di

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/go-chi/chi/v5"
	"github.com/googleapis/gax-go/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/tomato-food/api/internal/handlers"
	"github.com/tomato-food/api/internal/payments"
	"github.com/tomato-food/api/internal/platform/auth"
	"github.com/tomato-food/api/internal/platform/config"
	pfirestore "github.com/tomato-food/api/internal/platform/firestore"
	"github.com/tomato-food/api/internal/platform/idempotency"
	"github.com/tomato-food/api/internal/platform/jobs"
	"github.com/tomato-food/api/internal/platform/observability"
	"github.com/tomato-food/api/internal/repositories"
	firestorerepo "github.com/tomato-food/api/internal/repositories/firestore"
	"github.com/tomato-food/api/internal/repositories/memory"
	mongorepo "github.com/tomato-food/api/internal/repositories/mongo"
	"github.com/tomato-food/api/internal/services"
)

const (
	cartClearQueueSize = 256
	closeStepTimeout   = 5 * time.Second
)

// Services bundles the service-layer contracts that handlers rely upon.
type Services struct {
	Orders   services.OrderService
	Queries  services.OrderQueryService
	Payments services.PaymentService
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
	Idempotency  idempotency.Store
	Health       *repositories.HealthChecker
	Router       chi.Router

	logger    *zap.Logger
	closers   []namedCloser
	firestore *pfirestore.Provider
	redis     *redis.Client
}

type namedCloser struct {
	name  string
	close func(context.Context) error
}

// Option overrides a dependency NewContainer would otherwise build from config.
type Option func(*containerOptions)

type containerOptions struct {
	registry    repositories.Registry
	events      services.OrderEventPublisher
	gateway     services.PaymentGateway
	idempotency idempotency.Store
	build       handlers.BuildInfo
	clock       func() time.Time
}

// WithRegistry supplies a prebuilt repository registry, typically the in-memory store.
func WithRegistry(reg repositories.Registry) Option {
	return func(o *containerOptions) { o.registry = reg }
}

// WithEventPublisher replaces the configured event sink.
func WithEventPublisher(pub services.OrderEventPublisher) Option {
	return func(o *containerOptions) { o.events = pub }
}

// WithPaymentGateway replaces the gateway assembled from payment credentials.
func WithPaymentGateway(gw services.PaymentGateway) Option {
	return func(o *containerOptions) { o.gateway = gw }
}

// WithIdempotencyStore replaces the configured idempotency store.
func WithIdempotencyStore(store idempotency.Store) Option {
	return func(o *containerOptions) { o.idempotency = store }
}

// WithBuildInfo sets the metadata reported by /healthz.
func WithBuildInfo(info handlers.BuildInfo) Option {
	return func(o *containerOptions) { o.build = info }
}

// WithClock overrides the wall clock used by services.
func WithClock(clock func() time.Time) Option {
	return func(o *containerOptions) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// NewContainer constructs the runtime dependencies. On error every resource opened so far
// is released before returning.
func NewContainer(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (_ *Container, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	options := containerOptions{clock: time.Now}
	for _, opt := range opts {
		opt(&options)
	}

	c := &Container{Config: cfg, logger: logger}
	defer func() {
		if err != nil {
			closeCtx, cancel := context.WithTimeout(context.Background(), closeStepTimeout)
			defer cancel()
			_ = c.Close(closeCtx)
		}
	}()

	reg := options.registry
	if reg == nil {
		if reg, err = c.openRegistry(ctx, cfg); err != nil {
			return nil, err
		}
	}
	c.Repositories = reg
	c.onClose("repositories", reg.Close)

	events := options.events
	if events == nil {
		if events, err = c.openEvents(ctx, cfg.Events); err != nil {
			return nil, err
		}
	}

	checks := []repositories.DependencyCheck{{Name: "orderStore", Check: reg.Ping}}

	store := options.idempotency
	if store == nil {
		var check *repositories.DependencyCheck
		if store, check, err = c.openIdempotency(cfg); err != nil {
			return nil, err
		}
		if check != nil {
			checks = append(checks, *check)
		}
	}
	c.Idempotency = store

	gateway := options.gateway
	if gateway == nil {
		if gateway, err = buildPaymentGateway(cfg.Payments, logger.Named("payments")); err != nil {
			return nil, err
		}
	}

	if c.Health, err = repositories.NewHealthChecker(checks, options.clock); err != nil {
		return nil, fmt.Errorf("build health checker: %w", err)
	}

	if c.Services, err = c.buildServices(cfg, reg, events, gateway, options.clock); err != nil {
		return nil, err
	}

	if c.Router, err = c.buildRouter(cfg, options.build); err != nil {
		return nil, err
	}
	return c, nil
}

// Close releases resources in reverse order of acquisition.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		closer := c.closers[i]
		if err := closer.close(ctx); err != nil {
			c.logger.Warn("close failed", zap.String("resource", closer.name), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", closer.name, err))
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}

func (c *Container) onClose(name string, fn func(context.Context) error) {
	c.closers = append(c.closers, namedCloser{name: name, close: fn})
}

func (c *Container) openRegistry(ctx context.Context, cfg config.Config) (repositories.Registry, error) {
	switch cfg.Store.Driver {
	case config.StoreMemory:
		c.logger.Warn("using in-memory order store; data is lost on restart")
		return memory.NewStore(), nil
	case config.StoreMongo:
		reg, err := mongorepo.Connect(ctx, cfg.Mongo)
		if err != nil {
			return nil, fmt.Errorf("connect mongo: %w", err)
		}
		return reg, nil
	case config.StoreFirestore, "":
		provider := pfirestore.NewProvider(cfg.Firestore)
		reg, err := firestorerepo.NewRegistry(provider)
		if err != nil {
			_ = provider.Close(ctx)
			return nil, fmt.Errorf("build firestore registry: %w", err)
		}
		c.firestore = provider
		return reg, nil
	default:
		return nil, fmt.Errorf("unsupported store driver %q", cfg.Store.Driver)
	}
}

func (c *Container) openEvents(ctx context.Context, cfg config.EventsConfig) (services.OrderEventPublisher, error) {
	switch cfg.Driver {
	case config.EventsNone, "":
		return nil, nil
	case config.EventsPubSub:
		client, err := pubsub.NewClient(ctx, cfg.PubSubProjectID)
		if err != nil {
			return nil, fmt.Errorf("pubsub client: %w", err)
		}
		c.onClose("pubsub", func(context.Context) error { return client.Close() })
		topic := client.Topic(cfg.PubSubTopic)
		topic.EnableMessageOrdering = true
		publisher, err := jobs.NewPubSubOrderEventPublisher(topic)
		if err != nil {
			return nil, fmt.Errorf("pubsub publisher: %w", err)
		}
		c.onClose("pubsub.topic", func(context.Context) error { return publisher.Close() })
		return publisher, nil
	case config.EventsKafka:
		publisher, err := jobs.NewKafkaOrderEventPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			return nil, fmt.Errorf("kafka publisher: %w", err)
		}
		c.onClose("kafka", func(context.Context) error { return publisher.Close() })
		return publisher, nil
	default:
		return nil, fmt.Errorf("unsupported events driver %q", cfg.Driver)
	}
}

func (c *Container) openIdempotency(cfg config.Config) (idempotency.Store, *repositories.DependencyCheck, error) {
	switch cfg.Idempotency.Driver {
	case config.IdempotencyMemory, "":
		return idempotency.NewMemoryStore(), nil, nil
	case config.IdempotencyRedis:
		addr := strings.TrimSpace(cfg.Idempotency.RedisAddr)
		if addr == "" {
			return nil, nil, errors.New("idempotency: redis address is required")
		}
		client := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: cfg.Idempotency.RedisPassword,
			DB:       cfg.Idempotency.RedisDB,
		})
		c.onClose("redis", func(context.Context) error { return client.Close() })
		c.redis = client
		store, err := idempotency.NewRedisStore(client)
		if err != nil {
			return nil, nil, err
		}
		check := &repositories.DependencyCheck{
			Name:  "idempotencyStore",
			Check: func(ctx context.Context) error { return client.Ping(ctx).Err() },
		}
		return store, check, nil
	case config.IdempotencyFirestore:
		// Reuse the order store's client when orders live in Firestore too.
		provider := c.firestore
		if provider == nil {
			if strings.TrimSpace(cfg.Firestore.ProjectID) == "" {
				return nil, nil, errors.New("idempotency: firestore project id is required")
			}
			provider = pfirestore.NewProvider(cfg.Firestore)
			c.onClose("idempotency.firestore", provider.Close)
		}
		store, err := idempotency.NewFirestoreStore(provider)
		if err != nil {
			return nil, nil, err
		}
		check := &repositories.DependencyCheck{Name: "idempotencyStore", Check: provider.Ping}
		return store, check, nil
	default:
		return nil, nil, fmt.Errorf("unsupported idempotency driver %q", cfg.Idempotency.Driver)
	}
}

// buildPaymentGateway registers every provider with credentials. It returns nil when none
// are configured, which disables the checkout endpoints.
func buildPaymentGateway(cfg config.PaymentsConfig, logger *zap.Logger) (services.PaymentGateway, error) {
	providers := make(map[string]payments.Provider, 2)
	eventLogger := observability.EventLogger(logger)

	if cfg.RazorpayKeyID != "" && cfg.RazorpayKeySecret != "" {
		rzp, err := payments.NewRazorpayProvider(payments.RazorpayProviderConfig{
			KeyID:     cfg.RazorpayKeyID,
			KeySecret: cfg.RazorpayKeySecret,
			Logger:    eventLogger,
		})
		if err != nil {
			return nil, fmt.Errorf("razorpay provider: %w", err)
		}
		providers[payments.ProviderRazorpay] = rzp
	}
	if cfg.StripeAPIKey != "" {
		stripeProvider, err := payments.NewStripeProvider(payments.StripeProviderConfig{
			APIKey:    cfg.StripeAPIKey,
			AccountID: cfg.StripeAccountID,
			Logger:    eventLogger,
		})
		if err != nil {
			return nil, fmt.Errorf("stripe provider: %w", err)
		}
		providers[payments.ProviderStripe] = stripeProvider
	}
	if len(providers) == 0 {
		logger.Warn("no payment provider configured; online checkout disabled")
		return nil, nil
	}

	var opts []payments.ManagerOption
	if _, ok := providers[cfg.DefaultProvider]; ok {
		opts = append(opts, payments.WithDefaultProvider(cfg.DefaultProvider))
	}
	if len(cfg.CurrencyRoutes) > 0 {
		opts = append(opts, payments.WithCurrencyRoutes(cfg.CurrencyRoutes))
	}
	manager, err := payments.NewManager(providers, opts...)
	if err != nil {
		return nil, fmt.Errorf("payment manager: %w", err)
	}
	return manager, nil
}

func (c *Container) buildServices(cfg config.Config, reg repositories.Registry, events services.OrderEventPublisher, gateway services.PaymentGateway, clock func() time.Time) (Services, error) {
	clearer, err := services.NewDeferredCartClearer(services.DeferredCartClearerDeps{
		Carts:          reg.Carts(),
		InlineTimeout:  cfg.Orders.CartClearInline,
		AttemptTimeout: cfg.Orders.CartClearTimeout,
		QueueSize:      cartClearQueueSize,
		MaxAttempts:    cfg.Orders.CartClearAttempts,
		Backoff:        gax.Backoff{Initial: 200 * time.Millisecond, Max: 10 * time.Second, Multiplier: 2},
		Logger:         observability.EventLogger(c.logger.Named("cart")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build cart clearer: %w", err)
	}
	c.onClose("cartClearer", clearer.Close)

	policy := services.PermissivePolicy()
	if cfg.Orders.StrictTransitions {
		policy = services.StrictPolicy()
	}

	orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:      reg.Orders(),
		Menu:        reg.Menu(),
		Carts:       clearer,
		Policy:      policy,
		DeliveryFee: cfg.Orders.DeliveryFee,
		Currency:    cfg.Orders.Currency,
		Clock:       clock,
		Events:      events,
		Logger:      observability.EventLogger(c.logger.Named("orders")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}

	querySvc, err := services.NewOrderQueryService(services.OrderQueryServiceDeps{
		Orders: reg.Orders(),
		Logger: observability.EventLogger(c.logger.Named("orders")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order query service: %w", err)
	}

	svc := Services{Orders: orderSvc, Queries: querySvc}
	if gateway == nil {
		return svc, nil
	}

	paymentSvc, err := services.NewPaymentService(services.PaymentServiceDeps{
		Orders:         reg.Orders(),
		Menu:           reg.Menu(),
		Carts:          clearer,
		Gateway:        gateway,
		DeliveryFee:    cfg.Orders.DeliveryFee,
		Currency:       cfg.Orders.Currency,
		MinorUnitScale: cfg.Payments.MinorUnitScale,
		Clock:          clock,
		Events:         events,
		Logger:         observability.EventLogger(c.logger.Named("payments")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build payment service: %w", err)
	}
	svc.Payments = paymentSvc
	return svc, nil
}

func (c *Container) buildRouter(cfg config.Config, build handlers.BuildInfo) (chi.Router, error) {
	if strings.TrimSpace(cfg.Auth.JWTSecret) == "" {
		return nil, errors.New("auth: jwt secret is required")
	}
	authn := auth.NewAuthenticator(cfg.Auth.JWTSecret,
		auth.WithIssuer(cfg.Auth.Issuer),
		auth.WithAudience(cfg.Auth.Audience),
	)

	metrics, err := observability.NewHTTPMetrics(nil)
	if err != nil {
		return nil, fmt.Errorf("build http metrics: %w", err)
	}

	httpLogger := c.logger.Named("http")
	idempotencyMiddleware := idempotency.Middleware(c.Idempotency,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithLogger(observability.NewPrintfAdapter(c.logger.Named("idempotency"))),
	)

	orderHandlers := handlers.NewOrderHandlers(authn,
		c.Services.Orders,
		c.Services.Queries,
		c.Services.Payments,
		handlers.WithOrderRateLimit(cfg.RateLimits.WritesPerMinute, cfg.RateLimits.Burst),
		handlers.WithOrderWriteMiddleware(idempotencyMiddleware),
	)

	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthChecker(c.Health),
		handlers.WithHealthBuildInfo(build),
	)

	middlewares := []func(http.Handler) http.Handler{
		handlers.CORSMiddleware(cfg.Server.AllowedOrigins),
		observability.InjectLoggerMiddleware(httpLogger),
		observability.TraceMiddleware(observability.DefaultPropagator),
		observability.RecoveryMiddleware(httpLogger),
		observability.RequestLoggerMiddleware(metrics),
	}

	opts := []handlers.Option{
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithOrderRoutes(orderHandlers.Routes),
	}
	if cfg.Payments.RazorpayWebhookSecret != "" {
		webhookMiddlewares, err := c.webhookMiddlewares(cfg.Payments)
		if err != nil {
			return nil, err
		}
		opts = append(opts,
			handlers.WithWebhookRoutes(handlers.NewPaymentWebhookHandlers(c.Services.Payments).Routes),
			handlers.WithWebhookMiddlewares(webhookMiddlewares...),
		)
	}
	return handlers.NewRouter(opts...), nil
}

// webhookMiddlewares verifies gateway signatures. Delivery ids are shared through redis when
// idempotency keys live there, so every instance sees the same replays.
func (c *Container) webhookMiddlewares(cfg config.PaymentsConfig) ([]func(http.Handler) http.Handler, error) {
	var nonces auth.NonceStore = auth.NewInMemoryNonceStore()
	if c.redis != nil {
		store, err := auth.NewRedisNonceStore(c.redis)
		if err != nil {
			return nil, fmt.Errorf("webhook nonce store: %w", err)
		}
		nonces = store
	}
	validator := auth.NewHMACValidator(cfg.RazorpayWebhookSecret, nonces,
		auth.WithHMACNonceTTL(cfg.WebhookReplayTTL),
		auth.WithHMACLogger(observability.NewPrintfAdapter(c.logger.Named("webhooks"))),
	)
	return []func(http.Handler) http.Handler{validator.RequireHMAC(payments.ProviderRazorpay)}, nil
}
