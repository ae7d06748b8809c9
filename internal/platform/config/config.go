package config

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultEnvFile            = ".env"
	defaultPort               = "8080"
	defaultReadTimeout        = 15 * time.Second
	defaultWriteTimeout       = 30 * time.Second
	defaultIdleTimeout        = 120 * time.Second
	defaultShutdownTimeout    = 15 * time.Second
	defaultStoreDriver        = StoreFirestore
	defaultMongoDatabase      = "food-del"
	defaultDeliveryFee        = 26
	defaultCurrency           = "INR"
	defaultCartClearInline    = 150 * time.Millisecond
	defaultCartClearTimeout   = 2 * time.Second
	defaultCartClearAttempts  = 5
	defaultMinorUnitScale     = 100
	defaultPaymentProvider    = "razorpay"
	defaultEventsDriver       = EventsNone
	defaultIdempotencyHeader  = "Idempotency-Key"
	defaultIdempotencyTTL     = 24 * time.Hour
	defaultIdempotencyDriver  = IdempotencyMemory
	defaultIdempotencyCleanup = time.Hour
	defaultWebhookReplayTTL   = 24 * time.Hour
	defaultRateLimitPerMinute = 60
	defaultRateLimitBurst     = 20
	defaultLogLevel           = "info"
)

// Store drivers accepted by API_STORE_DRIVER.
const (
	StoreFirestore = "firestore"
	StoreMongo     = "mongo"
	StoreMemory    = "memory"
)

// Idempotency drivers accepted by API_IDEMPOTENCY_DRIVER. Unset, it follows a Firestore
// store and falls back to memory otherwise.
const (
	IdempotencyMemory    = "memory"
	IdempotencyRedis     = "redis"
	IdempotencyFirestore = "firestore"
)

// Event drivers accepted by API_EVENTS_DRIVER.
const (
	EventsNone   = "none"
	EventsPubSub = "pubsub"
	EventsKafka  = "kafka"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server      ServerConfig
	Store       StoreConfig
	Firestore   FirestoreConfig
	Mongo       MongoConfig
	Orders      OrdersConfig
	Payments    PaymentsConfig
	Auth        AuthConfig
	Events      EventsConfig
	Idempotency IdempotencyConfig
	RateLimits  RateLimitConfig
	Secrets     SecretsConfig
	LogLevel    string
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
}

// StoreConfig selects the order store backend.
type StoreConfig struct {
	Driver string
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// MongoConfig points at the MongoDB deployment.
type MongoConfig struct {
	URI      string
	Database string
}

// OrdersConfig tunes the order lifecycle.
type OrdersConfig struct {
	DeliveryFee       int64
	Currency          string
	StrictTransitions bool
	// CartClearInline bounds the clear attempted before an order response is sent.
	CartClearInline   time.Duration
	CartClearTimeout  time.Duration
	CartClearAttempts int
}

// PaymentsConfig collects payment gateway credentials.
type PaymentsConfig struct {
	DefaultProvider   string
	MinorUnitScale    int64
	RazorpayKeyID     string
	RazorpayKeySecret string
	StripeAPIKey      string
	StripeAccountID   string
	CurrencyRoutes    map[string]string

	// RazorpayWebhookSecret signs gateway callbacks. Empty leaves /webhooks unmounted.
	RazorpayWebhookSecret string
	WebhookReplayTTL      time.Duration
}

// AuthConfig configures bearer token verification.
type AuthConfig struct {
	JWTSecret string
	Issuer    string
	Audience  string
}

// EventsConfig selects where order events are published.
type EventsConfig struct {
	Driver          string
	PubSubProjectID string
	PubSubTopic     string
	KafkaBrokers    []string
	KafkaTopic      string
}

// IdempotencyConfig controls idempotency middleware behaviour.
type IdempotencyConfig struct {
	Header          string
	TTL             time.Duration
	Driver          string
	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	CleanupInterval time.Duration
}

// RateLimitConfig controls per client throttling of write routes.
type RateLimitConfig struct {
	WritesPerMinute int
	Burst           int
}

// SecretsConfig points the secret fetcher at a project.
type SecretsConfig struct {
	ProjectID    string
	FallbackFile string
}

// SecretResolver resolves references to external secrets (e.g. Secret Manager URIs).
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts ordinary functions to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret resolves the secret using the wrapped function.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// SecretError describes failures while resolving a secret reference.
type SecretError struct {
	Ref string
	Err error
}

// Error implements the error interface.
func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

// Unwrap exposes the underlying error.
func (e *SecretError) Unwrap() error { return e.Err }

// MissingSecretsError indicates that one or more required secrets resolved to empty values.
type MissingSecretsError struct {
	names []string
}

// Error implements the error interface.
func (e *MissingSecretsError) Error() string {
	redacted := make([]string, 0, len(e.names))
	for _, name := range e.names {
		redacted = append(redacted, redactSecretName(name))
	}
	sort.Strings(redacted)
	return fmt.Sprintf("missing required secrets [%s]", strings.Join(redacted, ", "))
}

// Names returns the underlying secret identifiers.
func (e *MissingSecretsError) Names() []string {
	out := make([]string, len(e.names))
	copy(out, e.names)
	sort.Strings(out)
	return out
}

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile         string
	envMap          map[string]string
	useSystemEnv    bool
	secret          SecretResolver
	requiredSecrets []string
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects an explicit key/value map for environment lookups. Values in the map
// take precedence over system environment variables.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from os.Getenv, relying only on provided maps and .env files.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// WithSecretResolver sets the resolver used for secret:// and sm:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		o.secret = resolver
	}
}

// WithRequiredSecrets marks secret fields (e.g. "Auth.JWTSecret") that must resolve to a value.
func WithRequiredSecrets(names ...string) Option {
	return func(o *loaderOptions) {
		o.requiredSecrets = append(o.requiredSecrets, names...)
	}
}

// Lookup returns a single value using the same precedence as Load. main uses it to configure
// the secret fetcher before Load runs.
func Lookup(key string, opts ...Option) (string, error) {
	options := defaultOptions()
	for _, opt := range opts {
		opt(&options)
	}
	lookup, err := options.lookup()
	if err != nil {
		return "", err
	}
	value, _ := lookup(key)
	return value, nil
}

func defaultOptions() loaderOptions {
	return loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
	}
}

func (o loaderOptions) lookup() (func(string) (string, bool), error) {
	dotEnvValues, err := loadDotEnv(o.envFile)
	if err != nil {
		return nil, err
	}
	return func(key string) (string, bool) {
		if o.envMap != nil {
			if value, ok := o.envMap[key]; ok {
				return value, true
			}
		}
		if o.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		if value, ok := dotEnvValues[key]; ok {
			return value, true
		}
		return "", false
	}, nil
}

// Load assembles the application configuration by combining defaults, .env overrides,
// environment variables, and optional secret manager lookups.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := defaultOptions()
	options.secret = SecretResolverFunc(func(ctx context.Context, ref string) (string, error) {
		return "", errSecretResolverNotConfigured
	})
	for _, opt := range opts {
		opt(&options)
	}

	lookup, err := options.lookup()
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Server: ServerConfig{
			Port:            stringWithDefault(lookup, "API_SERVER_PORT", defaultPort),
			ReadTimeout:     durationWithDefault(lookup, "API_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout:    durationWithDefault(lookup, "API_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:     durationWithDefault(lookup, "API_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
			ShutdownTimeout: durationWithDefault(lookup, "API_SERVER_SHUTDOWN_TIMEOUT", defaultShutdownTimeout),
			AllowedOrigins:  csvWithDefault(lookup, "API_SERVER_ALLOWED_ORIGINS"),
		},
		Store: StoreConfig{
			Driver: strings.ToLower(stringWithDefault(lookup, "API_STORE_DRIVER", defaultStoreDriver)),
		},
		Firestore: FirestoreConfig{
			ProjectID:    stringWithDefault(lookup, "API_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: stringWithDefault(lookup, "API_FIRESTORE_EMULATOR_HOST", ""),
		},
		Mongo: MongoConfig{
			URI:      stringWithDefault(lookup, "API_MONGO_URI", ""),
			Database: stringWithDefault(lookup, "API_MONGO_DATABASE", defaultMongoDatabase),
		},
		Orders: OrdersConfig{
			DeliveryFee:       int64(intWithDefault(lookup, "API_ORDERS_DELIVERY_FEE", defaultDeliveryFee)),
			Currency:          strings.ToUpper(stringWithDefault(lookup, "API_ORDERS_CURRENCY", defaultCurrency)),
			StrictTransitions: boolWithDefault(lookup, "API_ORDERS_STRICT_TRANSITIONS", false),
			CartClearInline:   durationWithDefault(lookup, "API_CART_CLEAR_INLINE_TIMEOUT", defaultCartClearInline),
			CartClearTimeout:  durationWithDefault(lookup, "API_CART_CLEAR_TIMEOUT", defaultCartClearTimeout),
			CartClearAttempts: intWithDefault(lookup, "API_CART_CLEAR_ATTEMPTS", defaultCartClearAttempts),
		},
		Payments: PaymentsConfig{
			DefaultProvider:       strings.ToLower(stringWithDefault(lookup, "API_PAYMENTS_DEFAULT_PROVIDER", defaultPaymentProvider)),
			MinorUnitScale:        int64(intWithDefault(lookup, "API_PAYMENTS_MINOR_UNIT_SCALE", defaultMinorUnitScale)),
			RazorpayKeyID:         stringWithDefault(lookup, "API_PAYMENTS_RAZORPAY_KEY_ID", ""),
			RazorpayKeySecret:     stringWithDefault(lookup, "API_PAYMENTS_RAZORPAY_KEY_SECRET", ""),
			StripeAPIKey:          stringWithDefault(lookup, "API_PAYMENTS_STRIPE_API_KEY", ""),
			StripeAccountID:       stringWithDefault(lookup, "API_PAYMENTS_STRIPE_ACCOUNT_ID", ""),
			CurrencyRoutes:        mapWithDefault(lookup, "API_PAYMENTS_CURRENCY_ROUTES"),
			RazorpayWebhookSecret: stringWithDefault(lookup, "API_PAYMENTS_RAZORPAY_WEBHOOK_SECRET", ""),
			WebhookReplayTTL:      durationWithDefault(lookup, "API_PAYMENTS_WEBHOOK_REPLAY_TTL", defaultWebhookReplayTTL),
		},
		Auth: AuthConfig{
			JWTSecret: stringWithDefault(lookup, "API_AUTH_JWT_SECRET", ""),
			Issuer:    stringWithDefault(lookup, "API_AUTH_ISSUER", ""),
			Audience:  stringWithDefault(lookup, "API_AUTH_AUDIENCE", ""),
		},
		Events: EventsConfig{
			Driver:          strings.ToLower(stringWithDefault(lookup, "API_EVENTS_DRIVER", defaultEventsDriver)),
			PubSubProjectID: stringWithDefault(lookup, "API_EVENTS_PUBSUB_PROJECT_ID", ""),
			PubSubTopic:     stringWithDefault(lookup, "API_EVENTS_PUBSUB_TOPIC", ""),
			KafkaBrokers:    csvWithDefault(lookup, "API_EVENTS_KAFKA_BROKERS"),
			KafkaTopic:      stringWithDefault(lookup, "API_EVENTS_KAFKA_TOPIC", ""),
		},
		Idempotency: IdempotencyConfig{
			Header:          stringWithDefault(lookup, "API_IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:             durationWithDefault(lookup, "API_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
			Driver:          strings.ToLower(stringWithDefault(lookup, "API_IDEMPOTENCY_DRIVER", "")),
			RedisAddr:       stringWithDefault(lookup, "API_IDEMPOTENCY_REDIS_ADDR", ""),
			RedisPassword:   stringWithDefault(lookup, "API_IDEMPOTENCY_REDIS_PASSWORD", ""),
			RedisDB:         intWithDefault(lookup, "API_IDEMPOTENCY_REDIS_DB", 0),
			CleanupInterval: durationWithDefault(lookup, "API_IDEMPOTENCY_CLEANUP_INTERVAL", defaultIdempotencyCleanup),
		},
		RateLimits: RateLimitConfig{
			WritesPerMinute: intWithDefault(lookup, "API_RATELIMIT_WRITES_PER_MIN", defaultRateLimitPerMinute),
			Burst:           intWithDefault(lookup, "API_RATELIMIT_BURST", defaultRateLimitBurst),
		},
		Secrets: SecretsConfig{
			ProjectID:    stringWithDefault(lookup, "API_SECRETS_PROJECT_ID", ""),
			FallbackFile: stringWithDefault(lookup, "API_SECRETS_FALLBACK_FILE", ""),
		},
		LogLevel: strings.ToLower(stringWithDefault(lookup, "LOG_LEVEL", defaultLogLevel)),
	}

	// Pub/Sub and Secret Manager default to the Firestore project.
	if cfg.Events.PubSubProjectID == "" {
		cfg.Events.PubSubProjectID = cfg.Firestore.ProjectID
	}
	if cfg.Secrets.ProjectID == "" {
		cfg.Secrets.ProjectID = cfg.Firestore.ProjectID
	}
	if cfg.Idempotency.Driver == "" {
		cfg.Idempotency.Driver = defaultIdempotencyDriver
		if cfg.Store.Driver == StoreFirestore {
			cfg.Idempotency.Driver = IdempotencyFirestore
		}
	}

	resolved := make(map[string]string)
	secretFields := []struct {
		name  string
		field *string
	}{
		{"Payments.RazorpayKeySecret", &cfg.Payments.RazorpayKeySecret},
		{"Payments.StripeAPIKey", &cfg.Payments.StripeAPIKey},
		{"Payments.RazorpayWebhookSecret", &cfg.Payments.RazorpayWebhookSecret},
		{"Auth.JWTSecret", &cfg.Auth.JWTSecret},
		{"Mongo.URI", &cfg.Mongo.URI},
		{"Idempotency.RedisPassword", &cfg.Idempotency.RedisPassword},
	}
	for _, target := range secretFields {
		value, err := resolveSecret(ctx, *target.field, options.secret)
		if err != nil {
			return Config{}, err
		}
		*target.field = value
		resolved[target.name] = strings.TrimSpace(value)
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	if missing := findMissingSecrets(options.requiredSecrets, resolved); missing != nil {
		return Config{}, missing
	}
	return cfg, nil
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	if !isSecretReference(value) {
		return value, nil
	}
	normalized := normalizeSecretReference(value)
	if resolver == nil {
		return "", &SecretError{Ref: normalized, Err: errSecretResolverNotConfigured}
	}
	secret, err := resolver.ResolveSecret(ctx, normalized)
	if err != nil {
		return "", &SecretError{Ref: normalized, Err: err}
	}
	return secret, nil
}

func validateConfig(cfg Config) error {
	var invalid []string

	if cfg.Server.Port == "" {
		invalid = append(invalid, "Server.Port")
	}
	switch cfg.Store.Driver {
	case StoreFirestore:
		if cfg.Firestore.ProjectID == "" {
			invalid = append(invalid, "Firestore.ProjectID")
		}
	case StoreMongo:
		if cfg.Mongo.URI == "" {
			invalid = append(invalid, "Mongo.URI")
		}
		if cfg.Mongo.Database == "" {
			invalid = append(invalid, "Mongo.Database")
		}
	case StoreMemory:
	default:
		invalid = append(invalid, "Store.Driver")
	}
	if cfg.Orders.DeliveryFee < 0 {
		invalid = append(invalid, "Orders.DeliveryFee")
	}
	if len(cfg.Orders.Currency) != 3 {
		invalid = append(invalid, "Orders.Currency")
	}
	if cfg.Orders.CartClearTimeout <= 0 {
		invalid = append(invalid, "Orders.CartClearTimeout")
	}
	if cfg.Orders.CartClearInline <= 0 || cfg.Orders.CartClearInline > cfg.Orders.CartClearTimeout {
		invalid = append(invalid, "Orders.CartClearInline")
	}
	if cfg.Payments.MinorUnitScale <= 0 {
		invalid = append(invalid, "Payments.MinorUnitScale")
	}
	if (cfg.Payments.RazorpayKeyID == "") != (cfg.Payments.RazorpayKeySecret == "") {
		invalid = append(invalid, "Payments.Razorpay")
	}
	if cfg.Payments.RazorpayWebhookSecret != "" && cfg.Payments.WebhookReplayTTL <= 0 {
		invalid = append(invalid, "Payments.WebhookReplayTTL")
	}
	switch cfg.Events.Driver {
	case EventsNone:
	case EventsPubSub:
		if cfg.Events.PubSubProjectID == "" || cfg.Events.PubSubTopic == "" {
			invalid = append(invalid, "Events.PubSub")
		}
	case EventsKafka:
		if len(cfg.Events.KafkaBrokers) == 0 || cfg.Events.KafkaTopic == "" {
			invalid = append(invalid, "Events.Kafka")
		}
	default:
		invalid = append(invalid, "Events.Driver")
	}
	if strings.TrimSpace(cfg.Idempotency.Header) == "" {
		invalid = append(invalid, "Idempotency.Header")
	}
	if cfg.Idempotency.TTL <= 0 {
		invalid = append(invalid, "Idempotency.TTL")
	}
	switch cfg.Idempotency.Driver {
	case IdempotencyMemory:
	case IdempotencyRedis:
		if cfg.Idempotency.RedisAddr == "" {
			invalid = append(invalid, "Idempotency.RedisAddr")
		}
	case IdempotencyFirestore:
		if cfg.Firestore.ProjectID == "" {
			invalid = append(invalid, "Idempotency.Firestore")
		}
	default:
		invalid = append(invalid, "Idempotency.Driver")
	}
	if cfg.RateLimits.WritesPerMinute < 0 || cfg.RateLimits.Burst < 0 {
		invalid = append(invalid, "RateLimits")
	}

	if len(invalid) > 0 {
		return &ValidationError{fields: invalid}
	}
	return nil
}

func findMissingSecrets(required []string, resolved map[string]string) *MissingSecretsError {
	var missing []string
	seen := make(map[string]struct{})
	for _, name := range required {
		trimmed := strings.TrimSpace(name)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		if resolved[trimmed] == "" {
			missing = append(missing, trimmed)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return &MissingSecretsError{names: missing}
}

func isSecretReference(value string) bool {
	trimmed := strings.TrimSpace(value)
	return strings.HasPrefix(trimmed, "secret://") || strings.HasPrefix(trimmed, "sm://")
}

func normalizeSecretReference(value string) string {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "sm://") {
		return "secret://" + strings.TrimPrefix(trimmed, "sm://")
	}
	return trimmed
}

func redactSecretName(name string) string {
	sum := sha256.Sum256([]byte(name))
	return hex.EncodeToString(sum[:8])
}

func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	values, err := godotenv.Read(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", path, err)
	}
	return values, nil
}

func stringWithDefault(lookup func(string) (string, bool), key, fallback string) string {
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func durationWithDefault(lookup func(string) (string, bool), key string, fallback time.Duration) time.Duration {
	if value, ok := lookup(key); ok && value != "" {
		d, err := time.ParseDuration(value)
		if err == nil {
			return d
		}
	}
	return fallback
}

func intWithDefault(lookup func(string) (string, bool), key string, fallback int) int {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return parsed
		}
	}
	return fallback
}

func boolWithDefault(lookup func(string) (string, bool), key string, fallback bool) bool {
	if value, ok := lookup(key); ok && value != "" {
		switch strings.ToLower(value) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		}
	}
	return fallback
}

func csvWithDefault(lookup func(string) (string, bool), key string) []string {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return []string{}
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func mapWithDefault(lookup func(string) (string, bool), key string) map[string]string {
	values := make(map[string]string)
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return values
	}
	for _, entry := range strings.Split(raw, ",") {
		parts := strings.SplitN(strings.TrimSpace(entry), "=", 2)
		if len(parts) != 2 {
			continue
		}
		name := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		if name == "" || value == "" {
			continue
		}
		values[name] = value
	}
	return values
}
