package lifecycle

import (
	"context"
	"slices"

	"github.com/roach88/wallet/internal/resource"
)

// ScopeAdmin lets a caller act on any owner. Required by RepairAll.
const ScopeAdmin = "wallet:admin"

// SecurityContext identifies the authenticated caller.
type SecurityContext struct {
	OwnerID string
	Scopes  []string
}

// HasScope reports whether the caller was granted scope.
func (s SecurityContext) HasScope(scope string) bool {
	return slices.Contains(s.Scopes, scope)
}

type securityContextKey struct{}

// WithSecurityContext returns a copy of ctx carrying sc.
func WithSecurityContext(ctx context.Context, sc SecurityContext) context.Context {
	return context.WithValue(ctx, securityContextKey{}, sc)
}

// SecurityContextFrom extracts the caller, if any.
func SecurityContextFrom(ctx context.Context) (SecurityContext, bool) {
	sc, ok := ctx.Value(securityContextKey{}).(SecurityContext)
	return sc, ok
}

// authorize checks that the caller may act on ownerID's partitions.
func authorize(ctx context.Context, ownerID string) error {
	sc, ok := SecurityContextFrom(ctx)
	if !ok || ownerID == "" {
		return resource.NewUnauthenticatedError(ownerID)
	}
	if sc.HasScope(ScopeAdmin) {
		return nil
	}
	if sc.OwnerID == "" || sc.OwnerID != ownerID {
		return resource.NewUnauthenticatedError(ownerID)
	}
	return nil
}
