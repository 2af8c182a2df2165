package auth

import (
	"context"

	domain "github.com/fixparts/api/internal/domain"
)

// Identity is the caller asserted by the upstream identity layer. A nil *Identity is an
// anonymous guest.
type Identity struct {
	CustomerID string
	Role       domain.Role
	Email      string
}

// IsAdmin reports whether the caller may run back-office operations.
func (i *Identity) IsAdmin() bool {
	return i != nil && i.Role == domain.RoleAdmin
}

// CanView reports whether the caller may read a record owned by ownerID. Admins see everything;
// customers see only their own records and never guest ones.
func (i *Identity) CanView(ownerID string) bool {
	if i == nil {
		return false
	}
	return i.IsAdmin() || (ownerID != "" && ownerID == i.CustomerID)
}

// Subject is the stable caller id used to scope per-caller state such as idempotency keys.
func (i *Identity) Subject() string {
	if i == nil || i.CustomerID == "" {
		return "anonymous"
	}
	return i.CustomerID
}

// HasAnyRole reports whether the identity carries one of roles.
func (i *Identity) HasAnyRole(roles ...domain.Role) bool {
	if i == nil {
		return false
	}
	for _, role := range roles {
		if i.Role == role {
			return true
		}
	}
	return false
}

type identityKey struct{}

// WithIdentity returns ctx carrying identity.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

// IdentityFromContext returns the identity stored by WithIdentity, if any.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(identityKey{}).(*Identity)
	if !ok || identity == nil {
		return nil, false
	}
	return identity, true
}
