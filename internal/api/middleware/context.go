package middleware

import (
	"context"
	"net/http"

	"github.com/haakonsb/carcounter/internal/auth"
)

type contextKey string

const identityKey contextKey = "identity"

// SetIdentity stores the verified caller identity in the request context.
func SetIdentity(ctx context.Context, identity auth.Identity) context.Context {
	return context.WithValue(ctx, identityKey, identity)
}

// GetIdentity returns the caller identity set by the auth middleware.
func GetIdentity(r *http.Request) (auth.Identity, bool) {
	identity, ok := r.Context().Value(identityKey).(auth.Identity)
	return identity, ok
}
