package auth

import (
	"context"
	"slices"
	"strings"
)

const (
	RoleCustomer = "customer"
	RoleAdmin    = "admin"
)

// Identity is the caller recovered from a verified token. UID doubles as the
// customer id stamped on orders the caller places.
type Identity struct {
	UID   string
	Email string
	Roles []string
}

// HasRole matches role case-insensitively.
func (i *Identity) HasRole(role string) bool {
	if i == nil {
		return false
	}
	role = normaliseRole(role)
	if role == "" {
		return false
	}
	return slices.ContainsFunc(i.Roles, func(r string) bool { return strings.EqualFold(r, role) })
}

func (i *Identity) IsAdmin() bool {
	return i.HasRole(RoleAdmin)
}

// CustomerID is the trimmed UID, or "" for a nil identity.
func (i *Identity) CustomerID() string {
	if i == nil {
		return ""
	}
	return strings.TrimSpace(i.UID)
}

// CanActFor reports whether the caller may read or mutate orders owned by customerID.
// Admins act for everyone; customers only for themselves.
func (i *Identity) CanActFor(customerID string) bool {
	if i == nil {
		return false
	}
	if i.IsAdmin() {
		return true
	}
	uid := i.CustomerID()
	return uid != "" && uid == strings.TrimSpace(customerID)
}

type identityContextKey struct{}

func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, identity)
}

// IdentityFromContext returns the identity installed by RequireAuth.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	if ctx == nil {
		return nil, false
	}
	identity, ok := ctx.Value(identityContextKey{}).(*Identity)
	if !ok || identity == nil {
		return nil, false
	}
	return identity, true
}
