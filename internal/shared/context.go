package shared

import "context"

// Principal is the authenticated actor. A nil *Principal is anonymous.
type Principal struct {
	UserID int64
}

// ActorID returns the user id or 0 for anonymous principals.
func (p *Principal) ActorID() int64 {
	if p == nil {
		return 0
	}
	return p.UserID
}

type principalContextKey struct{}

// ContextWithPrincipal stores the principal in context.
func ContextWithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

// PrincipalFromContext extracts the principal from context, nil when anonymous.
func PrincipalFromContext(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalContextKey{}).(*Principal)
	return p
}
