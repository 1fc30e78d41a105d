package auth

import (
	"context"
)

// Identity is the authenticated caller. Internal callers present the shared
// communication key and do not bind to a named identity.
type Identity struct {
	Subject  string
	Email    string
	Internal bool
}

type ctxKeyIdentity struct{}

func ContextWithIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, ctxKeyIdentity{}, identity)
}

func IdentityFromContext(ctx context.Context) (Identity, bool) {
	v, ok := ctx.Value(ctxKeyIdentity{}).(Identity)
	return v, ok
}
