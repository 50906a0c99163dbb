package auth

import (
	"context"
	"errors"

	"github.com/haakonsb/carcounter/internal/config"
	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidToken is returned when a presented token matches no known identity.
var ErrInvalidToken = errors.New("invalid token")

// Verifier resolves a bearer token into an Identity. The production deployment
// would back this with the real identity provider; StaticVerifier is the
// configuration-driven stand-in.
type Verifier interface {
	VerifyToken(ctx context.Context, token string) (Identity, error)
}

// StaticVerifier checks presented tokens against configured bcrypt hashes.
type StaticVerifier struct {
	keys []config.KeyEntry
}

// NewStaticVerifier creates a verifier from the configured key entries.
func NewStaticVerifier(keys []config.KeyEntry) *StaticVerifier {
	return &StaticVerifier{keys: keys}
}

func (v *StaticVerifier) VerifyToken(_ context.Context, token string) (Identity, error) {
	for _, key := range v.keys {
		if bcrypt.CompareHashAndPassword([]byte(key.Hash), []byte(token)) == nil {
			id := Identity{ID: key.Name, Admin: key.Admin}
			if key.Admin {
				id.Groups = []string{"admin"}
			}
			return id, nil
		}
	}
	return Identity{}, ErrInvalidToken
}
