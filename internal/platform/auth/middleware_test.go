package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v4"
)

const testSecret = "test-signing-secret"

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func newTestAuthenticator(opts ...Option) *Authenticator {
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	return NewAuthenticator(testSecret, opts...)
}

func TestRequireAuth_AllowsValidToken(t *testing.T) {
	authn := newTestAuthenticator(WithIssuer("food-api"), WithAudience("storefront"))
	token := signToken(t, testSecret, jwt.MapClaims{
		"sub":   "user-123",
		"email": "user@example.com",
		"role":  []any{"Admin", "customer", "admin"},
		"iss":   "food-api",
		"aud":   "storefront",
		"exp":   fixedNow.Add(time.Hour).Unix(),
	})

	handlerCalled := false
	handler := authn.RequireAuth(RoleAdmin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerCalled = true
		identity, ok := IdentityFromContext(r.Context())
		if !ok {
			t.Fatalf("expected identity in context")
		}
		if identity.UID != "user-123" {
			t.Fatalf("unexpected uid: %s", identity.UID)
		}
		if identity.Email != "user@example.com" {
			t.Fatalf("unexpected email: %s", identity.Email)
		}
		if len(identity.Roles) != 2 || !identity.IsAdmin() {
			t.Fatalf("expected deduplicated roles with admin, got %v", identity.Roles)
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if !handlerCalled {
		t.Fatalf("expected handler to be called")
	}
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
}

func TestRequireAuth_LegacyHeaderAndFallbackRole(t *testing.T) {
	authn := newTestAuthenticator()
	token := signToken(t, testSecret, jwt.MapClaims{"id": "legacy-user"})

	var identity *Identity
	handler := authn.RequireAuth()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, _ = IdentityFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("token", token)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if identity == nil || identity.UID != "legacy-user" {
		t.Fatalf("expected legacy identity, got %#v", identity)
	}
	if !identity.HasRole(RoleCustomer) || identity.IsAdmin() {
		t.Fatalf("expected fallback customer role, got %v", identity.Roles)
	}
}

func TestRequireAuth_Rejections(t *testing.T) {
	valid := jwt.MapClaims{"sub": "user-1", "exp": fixedNow.Add(time.Hour).Unix()}

	cases := []struct {
		name       string
		header     string
		roles      []string
		opts       []Option
		wantStatus int
		wantCode   string
	}{
		{name: "missing header", wantStatus: http.StatusUnauthorized, wantCode: "unauthenticated"},
		{name: "wrong scheme", header: "Basic abc", wantStatus: http.StatusUnauthorized, wantCode: "unauthenticated"},
		{
			name:       "bad signature",
			header:     "Bearer " + signToken(t, "other-secret", valid),
			wantStatus: http.StatusUnauthorized,
			wantCode:   "invalid_token",
		},
		{
			name:       "expired",
			header:     "Bearer " + signToken(t, testSecret, jwt.MapClaims{"sub": "user-1", "exp": fixedNow.Add(-time.Minute).Unix()}),
			wantStatus: http.StatusUnauthorized,
			wantCode:   "token_expired",
		},
		{
			name:       "issuer mismatch",
			header:     "Bearer " + signToken(t, testSecret, jwt.MapClaims{"sub": "user-1", "iss": "someone-else"}),
			opts:       []Option{WithIssuer("food-api")},
			wantStatus: http.StatusUnauthorized,
			wantCode:   "invalid_token",
		},
		{
			name:       "missing subject",
			header:     "Bearer " + signToken(t, testSecret, jwt.MapClaims{"email": "x@example.com"}),
			wantStatus: http.StatusUnauthorized,
			wantCode:   "invalid_token",
		},
		{
			name:       "insufficient role",
			header:     "Bearer " + signToken(t, testSecret, valid),
			roles:      []string{RoleAdmin},
			wantStatus: http.StatusForbidden,
			wantCode:   "insufficient_role",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			authn := newTestAuthenticator(tc.opts...)
			handler := authn.RequireAuth(tc.roles...)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
				t.Fatalf("handler should not be called")
			}))

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tc.wantStatus {
				t.Fatalf("expected %d, got %d", tc.wantStatus, rec.Code)
			}
			var body map[string]any
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode body: %v", err)
			}
			if body["code"] != tc.wantCode || body["success"] != false {
				t.Fatalf("unexpected body %#v", body)
			}
		})
	}
}

func TestRequireAuth_RejectsNoneAlgorithm(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "user-1"})
	signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := newTestAuthenticator().Verify(signed); err != ErrTokenInvalid {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}
}

func TestIdentityCanActFor(t *testing.T) {
	customer := &Identity{UID: " cust-1 ", Roles: []string{RoleCustomer}}
	admin := &Identity{UID: "ops-1", Roles: []string{"ADMIN"}}
	var missing *Identity

	cases := []struct {
		name     string
		identity *Identity
		owner    string
		want     bool
	}{
		{"own orders", customer, "cust-1", true},
		{"other customer", customer, "cust-2", false},
		{"guest orders", customer, "guest", false},
		{"admin any customer", admin, "cust-2", true},
		{"nil identity", missing, "cust-1", false},
	}
	for _, tc := range cases {
		if got := tc.identity.CanActFor(tc.owner); got != tc.want {
			t.Errorf("%s: CanActFor(%q) = %v, want %v", tc.name, tc.owner, got, tc.want)
		}
	}
	if customer.CustomerID() != "cust-1" {
		t.Fatalf("expected trimmed customer id, got %q", customer.CustomerID())
	}
}
