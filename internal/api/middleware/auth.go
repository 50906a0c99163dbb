package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/haakonsb/carcounter/internal/api/response"
	"github.com/haakonsb/carcounter/internal/auth"
)

// Auth provides authentication middleware.
type Auth struct {
	verifier auth.Verifier
}

// NewAuth creates a new Auth middleware around a token verifier.
func NewAuth(v auth.Verifier) *Auth {
	return &Auth{verifier: v}
}

// Authenticate validates the Bearer token and sets the caller identity in
// the request context. All ownership decisions downstream read from there.
func (a *Auth) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractBearerToken(r)
		if token == "" {
			response.Error(w, http.StatusUnauthorized,
				"INVALID_TOKEN", "Missing or invalid Authorization header", nil)
			return
		}

		identity, err := a.verifier.VerifyToken(r.Context(), token)
		if err != nil {
			if errors.Is(err, auth.ErrInvalidToken) {
				response.Error(w, http.StatusUnauthorized,
					"INVALID_TOKEN", "Invalid token", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError,
				"INTERNAL_ERROR", "Failed to verify token", nil)
			return
		}

		next.ServeHTTP(w, r.WithContext(SetIdentity(r.Context(), identity)))
	})
}

// RequireAdmin returns middleware that rejects non-admin callers.
func (a *Auth) RequireAdmin() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := GetIdentity(r)
			if !ok || !identity.Admin {
				response.Error(w, http.StatusForbidden,
					"FORBIDDEN", "Insufficient permissions", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func extractBearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
