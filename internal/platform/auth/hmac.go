package auth

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tomato-food/api/internal/platform/httpx"
)

const (
	// Razorpay signs the raw webhook body and numbers every delivery.
	RazorpaySignatureHeader = "X-Razorpay-Signature"
	RazorpayEventIDHeader   = "X-Razorpay-Event-Id"

	defaultNonceTTL    = 24 * time.Hour
	redisNonceKeyspace = "webhook:nonce:"
)

// Logger receives verification failures worth an operator's attention.
type Logger interface {
	Printf(format string, args ...any)
}

// NonceStore tracks delivery ids for replay prevention.
type NonceStore interface {
	// UseNonce records the nonce if it has not been seen within the scope. It reports
	// false when the nonce was already recorded.
	UseNonce(ctx context.Context, scope, nonce string, expiry time.Time) (bool, error)
	// ReleaseNonce forgets a nonce so the sender's retry of a failed delivery is processed.
	ReleaseNonce(ctx context.Context, scope, nonce string) error
}

// InMemoryNonceStore suits a single instance and tests.
type InMemoryNonceStore struct {
	mu     sync.Mutex
	nonces map[string]time.Time
	now    func() time.Time
}

func NewInMemoryNonceStore() *InMemoryNonceStore {
	return &InMemoryNonceStore{nonces: make(map[string]time.Time), now: time.Now}
}

// UseNonce records the nonce until expiry, rejecting replays until then.
func (s *InMemoryNonceStore) UseNonce(_ context.Context, scope, nonce string, expiry time.Time) (bool, error) {
	if scope == "" || nonce == "" {
		return false, errors.New("auth: scope and nonce are required")
	}
	key := scope + "::" + nonce

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for k, exp := range s.nonces {
		if exp.Before(now) {
			delete(s.nonces, k)
		}
	}
	if expiry.Before(now) {
		return false, errors.New("auth: nonce expiry is in the past")
	}
	if existing, ok := s.nonces[key]; ok && existing.After(now) {
		return false, nil
	}
	s.nonces[key] = expiry
	return true, nil
}

func (s *InMemoryNonceStore) ReleaseNonce(_ context.Context, scope, nonce string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.nonces, scope+"::"+nonce)
	return nil
}

type redisNonceClient interface {
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisNonceStore shares delivery ids between instances.
type RedisNonceStore struct {
	client redisNonceClient
	now    func() time.Time
}

func NewRedisNonceStore(client redisNonceClient) (*RedisNonceStore, error) {
	if client == nil {
		return nil, errors.New("auth: redis client is required")
	}
	return &RedisNonceStore{client: client, now: time.Now}, nil
}

func (s *RedisNonceStore) UseNonce(ctx context.Context, scope, nonce string, expiry time.Time) (bool, error) {
	if scope == "" || nonce == "" {
		return false, errors.New("auth: scope and nonce are required")
	}
	ttl := expiry.Sub(s.now())
	if ttl <= 0 {
		return false, errors.New("auth: nonce expiry is in the past")
	}
	return s.client.SetNX(ctx, redisNonceKey(scope, nonce), 1, ttl).Result()
}

func (s *RedisNonceStore) ReleaseNonce(ctx context.Context, scope, nonce string) error {
	return s.client.Del(ctx, redisNonceKey(scope, nonce)).Err()
}

func redisNonceKey(scope, nonce string) string {
	return redisNonceKeyspace + scope + ":" + nonce
}

// HMACValidator verifies gateway webhooks signed with a shared secret over the raw body.
type HMACValidator struct {
	secret []byte
	nonces NonceStore
	logger Logger
	now    func() time.Time

	signatureHeader string
	nonceHeader     string
	nonceTTL        time.Duration
}

// HMACOption customises the validator.
type HMACOption func(*HMACValidator)

// NewHMACValidator builds a validator for Razorpay-style webhooks.
func NewHMACValidator(secret string, nonces NonceStore, opts ...HMACOption) *HMACValidator {
	validator := &HMACValidator{
		secret:          []byte(strings.TrimSpace(secret)),
		nonces:          nonces,
		now:             time.Now,
		signatureHeader: RazorpaySignatureHeader,
		nonceHeader:     RazorpayEventIDHeader,
		nonceTTL:        defaultNonceTTL,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(validator)
		}
	}
	return validator
}

func WithHMACLogger(logger Logger) HMACOption {
	return func(v *HMACValidator) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// WithHMACHeaders renames the signature and delivery id headers.
func WithHMACHeaders(signature, nonce string) HMACOption {
	return func(v *HMACValidator) {
		if signature != "" {
			v.signatureHeader = signature
		}
		if nonce != "" {
			v.nonceHeader = nonce
		}
	}
}

// WithHMACNonceTTL sets how long a delivery id is remembered.
func WithHMACNonceTTL(d time.Duration) HMACOption {
	return func(v *HMACValidator) {
		if d > 0 {
			v.nonceTTL = d
		}
	}
}

// HMACMetadata describes the verified delivery for downstream handlers.
type HMACMetadata struct {
	Scope      string
	Nonce      string
	Signature  []byte
	VerifiedAt time.Time
}

type hmacContextKey struct{}

func WithHMACMetadata(ctx context.Context, meta *HMACMetadata) context.Context {
	if meta == nil {
		return ctx
	}
	return context.WithValue(ctx, hmacContextKey{}, meta)
}

// HMACMetadataFromContext returns the metadata installed by RequireHMAC.
func HMACMetadataFromContext(ctx context.Context) (*HMACMetadata, bool) {
	meta, ok := ctx.Value(hmacContextKey{}).(*HMACMetadata)
	if !ok || meta == nil {
		return nil, false
	}
	return meta, true
}

// RequireHMAC rejects requests whose signature does not match the body. A delivery already
// accepted within the nonce window is acknowledged without reaching next, and a delivery next
// fails with a 5xx is forgotten so the sender's retry goes through. scope separates the nonces
// of different senders.
func (v *HMACValidator) RequireHMAC(scope string) func(http.Handler) http.Handler {
	scope = strings.TrimSpace(scope)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if v == nil || len(v.secret) == 0 || scope == "" {
				respondHMACError(w, r, http.StatusServiceUnavailable, "verification_unavailable", "webhook secret not configured")
				return
			}

			signatureValue := strings.TrimSpace(r.Header.Get(v.signatureHeader))
			if signatureValue == "" {
				respondHMACError(w, r, http.StatusUnauthorized, "signature_missing", "signature header missing")
				return
			}
			nonce := strings.TrimSpace(r.Header.Get(v.nonceHeader))
			if nonce == "" {
				respondHMACError(w, r, http.StatusUnauthorized, "nonce_missing", "webhook delivery id missing")
				return
			}

			body, err := readAndRestoreBody(r)
			switch {
			case errors.Is(err, httpx.ErrBodyTooLarge):
				respondHMACError(w, r, http.StatusRequestEntityTooLarge, "payload_too_large", "request body too large")
				return
			case err != nil:
				respondHMACError(w, r, http.StatusBadRequest, "invalid_body", "unable to read body for signature verification")
				return
			}

			signature, err := decodeSignature(signatureValue)
			if err != nil {
				respondHMACError(w, r, http.StatusUnauthorized, "signature_invalid", "signature encoding invalid")
				return
			}
			if !hmac.Equal(signature, computeHMAC(v.secret, body)) {
				v.logf("auth: webhook signature mismatch for %s delivery %s", scope, nonce)
				respondHMACError(w, r, http.StatusUnauthorized, "signature_mismatch", "signature verification failed")
				return
			}

			if v.nonces == nil {
				respondHMACError(w, r, http.StatusServiceUnavailable, "verification_unavailable", "nonce store unavailable")
				return
			}
			now := v.now()
			stored, err := v.nonces.UseNonce(ctx, scope, nonce, now.Add(v.nonceTTL))
			if err != nil {
				v.logf("auth: nonce store error: %v", err)
				respondHMACError(w, r, http.StatusServiceUnavailable, "verification_unavailable", "nonce storage error")
				return
			}
			if !stored {
				httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "duplicate"})
				return
			}

			meta := &HMACMetadata{Scope: scope, Nonce: nonce, Signature: signature, VerifiedAt: now}
			recorder := &statusRecorder{ResponseWriter: w}
			next.ServeHTTP(recorder, r.WithContext(WithHMACMetadata(ctx, meta)))
			if recorder.status >= http.StatusInternalServerError {
				if err := v.nonces.ReleaseNonce(context.WithoutCancel(ctx), scope, nonce); err != nil {
					v.logf("auth: failed to release nonce %s after status %d: %v", nonce, recorder.status, err)
				}
			}
		})
	}
}

func (v *HMACValidator) logf(format string, args ...any) {
	if v.logger != nil {
		v.logger.Printf(format, args...)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	if s.status == 0 {
		s.status = status
	}
	s.ResponseWriter.WriteHeader(status)
}

func (s *statusRecorder) Write(data []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	return s.ResponseWriter.Write(data)
}

func respondHMACError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	httpx.WriteError(r.Context(), w, httpx.NewError(code, message, status))
}

func readAndRestoreBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	defer r.Body.Close()

	buf, err := io.ReadAll(io.LimitReader(r.Body, httpx.MaxBodyBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(buf)) > httpx.MaxBodyBytes {
		return nil, httpx.ErrBodyTooLarge
	}
	r.Body = io.NopCloser(bytes.NewReader(buf))
	return buf, nil
}

// decodeSignature accepts hex, which Razorpay sends, and base64.
func decodeSignature(value string) ([]byte, error) {
	if value == "" {
		return nil, errors.New("auth: empty signature")
	}
	if decoded, err := hex.DecodeString(value); err == nil {
		return decoded, nil
	}
	if decoded, err := base64.StdEncoding.DecodeString(value); err == nil {
		return decoded, nil
	}
	return nil, errors.New("auth: signature must be hex or base64 encoded")
}

func computeHMAC(secret []byte, message []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write(message)
	return mac.Sum(nil)
}
