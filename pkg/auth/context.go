// Package auth validates bearer tokens and carries the caller identity
// through request contexts.
package auth

import (
	"context"

	"loci/domain/core/valueobjects"
)

type contextKey struct{}

// WithPrincipal stores the caller identity in ctx.
func WithPrincipal(ctx context.Context, p valueobjects.Principal) context.Context {
	return context.WithValue(ctx, contextKey{}, p)
}

// PrincipalFrom returns the caller identity, or the anonymous principal
// when none was stored.
func PrincipalFrom(ctx context.Context) valueobjects.Principal {
	p, _ := ctx.Value(contextKey{}).(valueobjects.Principal)
	return p
}
