package auth

import (
	"context"

	"github.com/google/uuid"

	"github.com/fableden/fableden/internal/models"
)

type contextKey string

const principalContextKey contextKey = "principal"

// Principal is the authenticated identity attached to request contexts by
// the auth middleware, whether the request authenticated with a bearer
// JWT or a session cookie.
type Principal struct {
	UserID    uuid.UUID
	FamilyID  uuid.UUID
	SessionID uuid.UUID // uuid.Nil for pure JWT auth
	Role      models.Role
	Email     string
}

// IsParent reports whether the principal holds the parent role.
func (p *Principal) IsParent() bool {
	return p.Role == models.RoleParent
}

// WithPrincipal returns a context carrying the principal.
func WithPrincipal(ctx context.Context, principal *Principal) context.Context {
	return context.WithValue(ctx, principalContextKey, principal)
}

// PrincipalFromContext extracts the principal from a request context.
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	principal, ok := ctx.Value(principalContextKey).(*Principal)
	return principal, ok
}
