package idempotency

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"maps"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/tomato-food/api/internal/platform/auth"
	"github.com/tomato-food/api/internal/platform/httpx"
)

const (
	defaultHeaderName = "Idempotency-Key"
	replayHeaderName  = "X-Idempotent-Replay"
	anonymousCaller   = "anonymous"
)

// Logger is satisfied by observability.PrintfAdapter.
type Logger interface {
	Printf(format string, args ...any)
}

type clockFunc func() time.Time

type middlewareConfig struct {
	headerName string
	ttl        time.Duration
	methods    []string
	clock      clockFunc
	logger     Logger
	requireKey bool
}

type MiddlewareOption func(*middlewareConfig)

// WithHeader names the request header carrying the client key.
func WithHeader(name string) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if name = strings.TrimSpace(name); name != "" {
			cfg.headerName = name
		}
	}
}

// WithTTL sets how long a finished response stays replayable.
func WithTTL(ttl time.Duration) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if ttl > 0 {
			cfg.ttl = ttl
		}
	}
}

// WithMethods limits which HTTP methods are guarded. Defaults to POST, PUT and DELETE.
func WithMethods(methods ...string) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		var normalised []string
		for _, method := range methods {
			if method = strings.ToUpper(strings.TrimSpace(method)); method != "" {
				normalised = append(normalised, method)
			}
		}
		if len(normalised) > 0 {
			cfg.methods = normalised
		}
	}
}

func WithLogger(logger Logger) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		cfg.logger = logger
	}
}

// WithRequiredKey makes a missing key a 400. Without it, keyless writes run unguarded.
func WithRequiredKey() MiddlewareOption {
	return func(cfg *middlewareConfig) {
		cfg.requireKey = true
	}
}

func WithClock(clock clockFunc) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if clock != nil {
			cfg.clock = clock
		}
	}
}

// guard replays the stored response when a client retries an order write with
// the same key, and rejects the key when it is reused for a different request.
type guard struct {
	store Store
	cfg   middlewareConfig
}

// Middleware wraps order write routes with idempotency-key handling. A nil store disables it.
func Middleware(store Store, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	if store == nil {
		return func(next http.Handler) http.Handler { return next }
	}

	cfg := middlewareConfig{
		headerName: defaultHeaderName,
		ttl:        DefaultTTL,
		methods:    []string{http.MethodPost, http.MethodPut, http.MethodDelete},
		clock:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	g := &guard{store: store, cfg: cfg}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			g.serve(w, r, next)
		})
	}
}

func (g *guard) serve(w http.ResponseWriter, r *http.Request, next http.Handler) {
	if !slices.Contains(g.cfg.methods, r.Method) {
		next.ServeHTTP(w, r)
		return
	}

	key := keyFor(r, g.cfg.headerName)
	if key.raw == "" {
		if g.cfg.requireKey {
			respondError(w, r, http.StatusBadRequest, "idempotency_key_required", "missing idempotency key header")
			return
		}
		next.ServeHTTP(w, r)
		return
	}

	body, err := bufferBody(r)
	switch {
	case errors.Is(err, httpx.ErrBodyTooLarge):
		respondError(w, r, http.StatusRequestEntityTooLarge, "payload_too_large", "request body too large")
		return
	case err != nil:
		respondError(w, r, http.StatusInternalServerError, "idempotency_read_body_failed", "unable to read request body")
		return
	}

	ctx := r.Context()
	scoped, fingerprint := key.scoped(), key.fingerprint(r, body)
	reservation, err := g.store.Reserve(ctx, scoped, fingerprint, g.cfg.clock().UTC(), g.cfg.ttl)
	if err != nil {
		g.storeFailure(w, r, err)
		return
	}

	switch reservation.State {
	case ReservationStateCompleted:
		replay(w, reservation.Record)
		return
	case ReservationStatePending:
		respondError(w, r, http.StatusConflict, "idempotency_in_progress", "another request is processing this idempotency key")
		return
	case ReservationStateNew:
	default:
		respondError(w, r, http.StatusInternalServerError, "idempotency_unknown_state", "unexpected idempotency state")
		return
	}

	buffered := newBufferedResponse()
	next.ServeHTTP(buffered, r)

	// 5xx responses are not remembered so the client can retry with the same key.
	if buffered.status() >= http.StatusInternalServerError {
		g.release(ctx, key, scoped, fingerprint, "server error")
		g.flush(w, buffered, key)
		return
	}

	resp := Response{Status: buffered.status(), Headers: buffered.header.Clone(), Body: buffered.body.Bytes()}
	if err := g.store.SaveResponse(ctx, scoped, fingerprint, resp, g.cfg.clock().UTC(), g.cfg.ttl); err != nil {
		g.logf("idempotency: failed to persist response for key %s (caller %s): %v", key.raw, key.requester, err)
		g.release(ctx, key, scoped, fingerprint, "save failure")
		respondError(w, r, http.StatusInternalServerError, "idempotency_store_error", "unable to persist idempotency state")
		return
	}
	g.flush(w, buffered, key)
}

func (g *guard) release(ctx context.Context, key requestKey, scoped, fingerprint, reason string) {
	if err := g.store.Release(ctx, scoped, fingerprint); err != nil {
		g.logf("idempotency: failed to release key %s after %s: %v", key.raw, reason, err)
	}
}

func (g *guard) flush(w http.ResponseWriter, buffered *bufferedResponse, key requestKey) {
	if err := buffered.writeTo(w); err != nil {
		g.logf("idempotency: failed to flush response for key %s: %v", key.raw, err)
	}
}

func (g *guard) storeFailure(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, ErrFingerprintMismatch) {
		respondError(w, r, http.StatusConflict, "idempotency_key_conflict", "idempotency key already used for a different request")
		return
	}
	g.logf("idempotency: store error: %v", err)
	respondError(w, r, http.StatusInternalServerError, "idempotency_store_error", "unable to process idempotency key")
}

func (g *guard) logf(format string, args ...any) {
	if g.cfg.logger != nil {
		g.cfg.logger.Printf(format, args...)
	}
}

// requestKey is a client key bound to the caller that sent it. Two customers
// reusing the same key never collide.
type requestKey struct {
	raw       string
	requester string
}

func keyFor(r *http.Request, header string) requestKey {
	requester := anonymousCaller
	if identity, ok := auth.IdentityFromContext(r.Context()); ok && identity.CustomerID() != "" {
		requester = identity.CustomerID()
	}
	return requestKey{raw: strings.TrimSpace(r.Header.Get(header)), requester: requester}
}

func (k requestKey) scoped() string {
	return k.raw + "|" + k.requester
}

// fingerprint hashes everything that makes two requests "the same" order write.
func (k requestKey) fingerprint(r *http.Request, body []byte) string {
	h := sha256.New()
	for _, part := range []string{
		strings.ToUpper(r.Method),
		r.URL.Path,
		r.URL.RawQuery,
		r.Host,
		r.Header.Get("Content-Type"),
		k.requester,
	} {
		h.Write([]byte(part))
		h.Write([]byte{'|'})
	}
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

// bufferBody reads the body once so it can be fingerprinted and still reach the handler.
func bufferBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, httpx.MaxBodyBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > httpx.MaxBodyBytes {
		return nil, httpx.ErrBodyTooLarge
	}
	if err := r.Body.Close(); err != nil {
		return nil, err
	}
	r.Body = io.NopCloser(bytes.NewReader(data))
	return data, nil
}

func replay(w http.ResponseWriter, record Record) {
	dst := w.Header()
	clear(dst)
	maps.Copy(dst, headersFromRecord(record.ResponseHeaders))
	dst.Set(replayHeaderName, "true")

	status := record.ResponseStatus
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if len(record.ResponseBody) > 0 {
		_, _ = w.Write(record.ResponseBody)
	}
}

func respondError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	httpx.WriteError(r.Context(), w, httpx.NewError(code, message, status))
}

// bufferedResponse holds the handler's response until the outcome has been stored.
type bufferedResponse struct {
	header http.Header
	code   int
	body   bytes.Buffer
}

func newBufferedResponse() *bufferedResponse {
	return &bufferedResponse{header: make(http.Header)}
}

func (b *bufferedResponse) Header() http.Header { return b.header }

func (b *bufferedResponse) WriteHeader(status int) {
	if b.code == 0 && status > 0 {
		b.code = status
	}
}

func (b *bufferedResponse) Write(data []byte) (int, error) {
	if b.code == 0 {
		b.code = http.StatusOK
	}
	return b.body.Write(data)
}

func (b *bufferedResponse) status() int {
	if b.code == 0 {
		return http.StatusOK
	}
	return b.code
}

func (b *bufferedResponse) writeTo(w http.ResponseWriter) error {
	dst := w.Header()
	clear(dst)
	maps.Copy(dst, b.header)
	w.WriteHeader(b.status())
	if b.body.Len() == 0 {
		return nil
	}
	_, err := w.Write(b.body.Bytes())
	return err
}
